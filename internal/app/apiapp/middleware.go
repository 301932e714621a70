package apiapp

import (
	"crypto/subtle"
	"net/http"
	"time"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	httperrors "github.com/hsdarestani/HamAan/internal/transport/http/errors"
)

func ApplyMiddlewares(r chiRouter, log *zap.Logger) {
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(60 * time.Second))
	r.Use(requestLogger(log))
}

// GatewayTokenMiddleware guards the payment callback route with the shared
// secret issued to the gateway. An unset secret closes the route.
func GatewayTokenMiddleware(token string) func(http.Handler) http.Handler {
	return headerTokenMiddleware("X-Gateway-Token", token, "GATEWAY_UNAUTHORIZED", "invalid gateway token")
}

// AdminTokenMiddleware guards the support tooling routes.
func AdminTokenMiddleware(token string) func(http.Handler) http.Handler {
	return headerTokenMiddleware("X-Admin-Token", token, "ADMIN_UNAUTHORIZED", "invalid admin token")
}

func headerTokenMiddleware(header, token, code, message string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token == "" {
				httperrors.Write(w, http.StatusServiceUnavailable, httperrors.APIError{
					Code:    "TOKEN_NOT_CONFIGURED",
					Message: "route is disabled until its token is configured",
				})
				return
			}

			presented := r.Header.Get(header)
			if subtle.ConstantTimeCompare([]byte(presented), []byte(token)) != 1 {
				httperrors.Write(w, http.StatusUnauthorized, httperrors.APIError{
					Code:    code,
					Message: message,
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func requestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			next.ServeHTTP(w, r)
			if log != nil {
				log.Info("http_request",
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.Duration("duration", time.Since(start)),
				)
			}
		})
	}
}

type chiRouter interface {
	Use(middlewares ...func(http.Handler) http.Handler)
}
