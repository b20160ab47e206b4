package shared

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func protectedHandler(t *testing.T, hash string) http.Handler {
	t.Helper()
	return NewAdminAuth(hash).Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
}

func TestAdminAuthAcceptsMatchingToken(t *testing.T) {
	hash, err := HashAdminToken("s3cret")
	require.NoError(t, err)
	handler := protectedHandler(t, hash)

	req := httptest.NewRequest(http.MethodPost, "/v1/roles/grant", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusNoContent, rr.Code)
}

func TestAdminAuthRejectsBadOrMissingToken(t *testing.T) {
	hash, err := HashAdminToken("s3cret")
	require.NoError(t, err)
	handler := protectedHandler(t, hash)

	cases := map[string]string{
		"wrong token":  "Bearer nope",
		"empty bearer": "Bearer ",
		"basic scheme": "Basic s3cret",
		"no header":    "",
	}
	for name, header := range cases {
		req := httptest.NewRequest(http.MethodPost, "/v1/roles/grant", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		assert.Equal(t, http.StatusUnauthorized, rr.Code, name)
	}
}

func TestAdminAuthWithoutHashDisablesRoutes(t *testing.T) {
	handler := protectedHandler(t, "")

	req := httptest.NewRequest(http.MethodPost, "/v1/roles/grant", nil)
	req.Header.Set("Authorization", "Bearer anything")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestAdminAuthHandlesLongTokens(t *testing.T) {
	long := make([]byte, 128)
	for i := range long {
		long[i] = 'a'
	}
	hash, err := HashAdminToken(string(long))
	require.NoError(t, err)
	handler := protectedHandler(t, hash)

	req := httptest.NewRequest(http.MethodPost, "/v1/roles/grant", nil)
	req.Header.Set("Authorization", "Bearer "+string(long))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusNoContent, rr.Code)
}
