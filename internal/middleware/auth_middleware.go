package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/qcom/portal/internal/service"
	"github.com/qcom/portal/internal/session"
	"github.com/sirupsen/logrus"
)

type contextKey string

const (
	claimsKey  contextKey = "claims"
	sessionKey contextKey = "session"
)

// SessionLookup resolves the portal session a token was issued for.
type SessionLookup interface {
	Lookup(ctx context.Context, id, phone string) (*session.Session, error)
}

type AuthMiddleware struct {
	jwtService *service.JWTService
	sessions   SessionLookup
	loginRoute string
	logger     *logrus.Logger
}

func NewAuthMiddleware(jwtService *service.JWTService, sessions SessionLookup, loginRoute string, logger *logrus.Logger) *AuthMiddleware {
	return &AuthMiddleware{
		jwtService: jwtService,
		sessions:   sessions,
		loginRoute: loginRoute,
		logger:     logger,
	}
}

func (m *AuthMiddleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			m.respondUnauthorized(w, "UNAUTHORIZED", "Missing authorization header", "")
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			m.respondUnauthorized(w, "UNAUTHORIZED", "Invalid authorization header format", "")
			return
		}

		claims, err := m.jwtService.VerifyToken(parts[1])
		if err != nil {
			m.logger.WithError(err).Debug("Token verification failed")
			m.respondUnauthorized(w, "UNAUTHORIZED", "Invalid or expired token", "")
			return
		}

		if claims.Type != service.TokenTypeAccess {
			m.respondUnauthorized(w, "UNAUTHORIZED", "Invalid token type", "")
			return
		}

		s, err := m.sessions.Lookup(r.Context(), claims.SessionID, claims.Phone)
		switch {
		case errors.Is(err, session.ErrSessionExpired):
			m.respondUnauthorized(w, "SESSION_EXPIRED", "Your session has expired. Please sign in again.", m.loginRoute)
			return
		case errors.Is(err, session.ErrSessionClosed):
			m.respondUnauthorized(w, "UNAUTHORIZED", "Session has been closed", m.loginRoute)
			return
		case err != nil:
			m.logger.WithError(err).Error("Failed to resolve session")
			writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to resolve session", "")
			return
		}

		ctx := context.WithValue(r.Context(), claimsKey, claims)
		ctx = context.WithValue(ctx, sessionKey, s)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func ClaimsFromContext(ctx context.Context) (*service.Claims, bool) {
	claims, ok := ctx.Value(claimsKey).(*service.Claims)
	return claims, ok
}

func SessionFromContext(ctx context.Context) (*session.Session, bool) {
	s, ok := ctx.Value(sessionKey).(*session.Session)
	return s, ok
}

// WithSession is used by tests that call protected handlers directly.
func WithSession(ctx context.Context, claims *service.Claims, s *session.Session) context.Context {
	ctx = context.WithValue(ctx, claimsKey, claims)
	return context.WithValue(ctx, sessionKey, s)
}

func (m *AuthMiddleware) respondUnauthorized(w http.ResponseWriter, code, message, redirect string) {
	writeError(w, http.StatusUnauthorized, code, message, redirect)
}

type errorBody struct {
	Error struct {
		Code     string `json:"code"`
		Message  string `json:"message"`
		Redirect string `json:"redirect,omitempty"`
	} `json:"error"`
}

func writeError(w http.ResponseWriter, status int, code, message, redirect string) {
	var body errorBody
	body.Error.Code = code
	body.Error.Message = message
	body.Error.Redirect = redirect

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
