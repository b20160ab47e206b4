package entitlement

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newHandlerFixture(t *testing.T) (*chi.Mux, *engineFixture) {
	t.Helper()
	f := newEngineFixture(t)
	handler := NewHandler(slog.Default(), f.engine, f.cache)
	router := chi.NewRouter()
	router.Route("/v1", func(r chi.Router) {
		handler.MountRoutes(r)
		handler.MountAdminRoutes(r)
	})
	return router, f
}

func postJSON(t *testing.T, router http.Handler, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	res := httptest.NewRecorder()
	router.ServeHTTP(res, req)
	return res
}

func TestHandlerHasEntitlement(t *testing.T) {
	router, f := newHandlerFixture(t)
	f.roles.assignments = []RoleAssignment{{UserID: 1, Kind: RoleMember, Context: ClubContext(1)}}

	res := postJSON(t, router, "/v1/entitlements/has", `{"user_id":1,"context":{"kind":"club","id":1},"entitlement_id":"post_discussion"}`)
	require.Equal(t, http.StatusOK, res.Code)

	var body decisionResponse
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &body))
	assert.True(t, body.Allowed)
	assert.Equal(t, ReasonAllowed, body.ReasonCode)

	res = postJSON(t, router, "/v1/entitlements/has", `{"user_id":1,"context":{"kind":"club","id":2},"entitlement_id":"post_discussion"}`)
	require.Equal(t, http.StatusOK, res.Code)
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &body))
	assert.False(t, body.Allowed)
	assert.Equal(t, ReasonInsufficientEntitlement, body.ReasonCode)
}

func TestHandlerCheckAction(t *testing.T) {
	router, f := newHandlerFixture(t)
	f.roles.assignments = []RoleAssignment{{UserID: 2, Kind: RoleReader, Context: PlatformContext()}}
	f.counts.memberships[2] = 3

	res := postJSON(t, router, "/v1/entitlements/check", `{"user_id":2,"context":{"kind":"club","id":4},"action_id":"join_club"}`)
	require.Equal(t, http.StatusOK, res.Code)

	var body decisionResponse
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &body))
	assert.False(t, body.Allowed)
	assert.Equal(t, ReasonQuotaExceeded, body.ReasonCode)
}

func TestHandlerCheckUnknownAction(t *testing.T) {
	router, _ := newHandlerFixture(t)

	res := postJSON(t, router, "/v1/entitlements/check", `{"user_id":1,"context":{"kind":"platform"},"action_id":"nope"}`)
	assert.Equal(t, http.StatusBadRequest, res.Code)
}

func TestHandlerRejectsMalformedPayload(t *testing.T) {
	router, _ := newHandlerFixture(t)

	res := postJSON(t, router, "/v1/entitlements/has", `{"user_id":0,"context":{"kind":"club","id":1},"entitlement_id":"x"}`)
	assert.Equal(t, http.StatusBadRequest, res.Code)

	res = postJSON(t, router, "/v1/entitlements/check", `not json`)
	assert.Equal(t, http.StatusBadRequest, res.Code)
}

func TestHandlerInvalidation(t *testing.T) {
	router, f := newHandlerFixture(t)
	f.roles.assignments = []RoleAssignment{{UserID: 3, Kind: RoleClubModerator, Context: ClubContext(1)}}

	_, err := f.cache.Get(context.Background(), 3, ClubContext(1))
	require.NoError(t, err)

	f.roles.assignments = nil
	res := postJSON(t, router, "/v1/invalidate/context", `{"user_id":3,"context":{"kind":"club","id":1}}`)
	require.Equal(t, http.StatusNoContent, res.Code)

	resolved, err := f.cache.Get(context.Background(), 3, ClubContext(1))
	require.NoError(t, err)
	assert.False(t, resolved.Has(EntModerateContent))

	res = postJSON(t, router, "/v1/invalidate/user", `{"user_id":3}`)
	assert.Equal(t, http.StatusNoContent, res.Code)

	res = postJSON(t, router, "/v1/invalidate/context", `{"user_id":3,"context":{"kind":"club"}}`)
	assert.Equal(t, http.StatusBadRequest, res.Code)
}
