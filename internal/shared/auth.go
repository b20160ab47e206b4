package shared

import (
	"crypto/sha256"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/readerly/readerly/internal/platform/httpx"
)

// AdminAuth guards the administrative mutation routes with a static
// bearer token. The configuration carries only the bcrypt hash of the
// token, never the token itself.
type AdminAuth struct {
	tokenHash []byte
}

// NewAdminAuth builds the middleware from a bcrypt hash. An empty hash
// disables the routes entirely rather than leaving them open.
func NewAdminAuth(tokenHash string) *AdminAuth {
	return &AdminAuth{tokenHash: []byte(tokenHash)}
}

// Middleware rejects requests whose Authorization header does not carry
// the admin token.
func (a *AdminAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(a.tokenHash) == 0 {
			httpx.Problem(w, http.StatusServiceUnavailable, "Admin API Disabled", "no admin token configured")
			return
		}
		token, ok := bearerToken(r)
		if !ok {
			httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", ErrUnauthorized.Error())
			return
		}
		// bcrypt caps input at 72 bytes; hash the token first so
		// arbitrary token lengths compare safely.
		digest := sha256.Sum256([]byte(token))
		if err := bcrypt.CompareHashAndPassword(a.tokenHash, digest[:]); err != nil {
			httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", ErrUnauthorized.Error())
			return
		}
		next.ServeHTTP(w, r)
	})
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, prefix))
	return token, token != ""
}

// HashAdminToken produces the bcrypt hash stored in configuration.
func HashAdminToken(token string) (string, error) {
	digest := sha256.Sum256([]byte(token))
	hash, err := bcrypt.GenerateFromPassword(digest[:], bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
