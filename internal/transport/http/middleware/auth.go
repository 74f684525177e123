package middleware

import (
	"context"
	"net/http"
	"strings"

	"lifecycle/internal/auth"
	"lifecycle/internal/transport/http/api"
)

type ctxKey string

const ctxKeyOperator ctxKey = "operator"

// RequireOperator rejects any request without a valid operator bearer
// token. Every admin route sits behind it; there is no anonymous
// surface besides health checks, metrics and the token endpoint.
func RequireOperator(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			scheme, token, found := strings.Cut(header, " ")
			if !found || !strings.EqualFold(scheme, "bearer") {
				api.Fail(w, http.StatusUnauthorized, "unauthorized", "operator token required", GetRequestID(r.Context()))
				return
			}
			claims, err := auth.ParseToken(secret, token)
			if err != nil {
				api.Fail(w, http.StatusUnauthorized, "unauthorized", "invalid or expired token", GetRequestID(r.Context()))
				return
			}
			ctx := context.WithValue(r.Context(), ctxKeyOperator, claims.Operator)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func GetOperator(ctx context.Context) (string, bool) {
	operator, ok := ctx.Value(ctxKeyOperator).(string)
	return operator, ok && operator != ""
}
