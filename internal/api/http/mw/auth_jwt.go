package mw

import (
	"context"
	"errors"
	"net/http"

	"tlcharts/internal/security"
	"tlcharts/pkg/httputil"
)

// Key for claims in ctx
type claimsCtxKey struct{}

type JWTMiddleware struct {
	verifier *security.RS256Verifier
}

func NewJWTMiddleware(v *security.RS256Verifier) (*JWTMiddleware, error) {
	if v == nil {
		return nil, errors.New("jwt verifier cannot be nil")
	}
	return &JWTMiddleware{verifier: v}, nil
}

func (m *JWTMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, err := m.verifier.VerifyBearer(r.Header.Get("Authorization"))
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, "unauthorized", err.Error())
			return
		}

		ctx := context.WithValue(r.Context(), claimsCtxKey{}, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireScope rejects tokens that were not granted scope. Requests that went
// through no jwt middleware (auth disabled) pass.
func RequireScope(scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if cl, ok := ClaimsFromContext(r.Context()); ok && !cl.HasScope(scope) {
				writeError(w, r, http.StatusForbidden, "forbidden", "token lacks scope "+scope)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func ClaimsFromContext(ctx context.Context) (*security.Claims, bool) {
	cl, ok := ctx.Value(claimsCtxKey{}).(*security.Claims)
	return cl, ok && cl != nil
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, msg string) {
	_ = httputil.Error(w, r, status, code, msg, nil)
}
