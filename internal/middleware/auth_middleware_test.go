package middleware

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/qcom/portal/internal/config"
	"github.com/qcom/portal/internal/service"
	"github.com/qcom/portal/internal/session"
	"github.com/sirupsen/logrus"
)

type stubSessions struct {
	err error
}

func (s stubSessions) Lookup(_ context.Context, id, phone string) (*session.Session, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &session.Session{ID: id, Phone: phone}, nil
}

func newJWT(t *testing.T) *service.JWTService {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	svc, err := service.NewJWTService(&config.JWTConfig{
		SecretKey:     "0123456789abcdef0123456789abcdef",
		AccessExpiry:  time.Minute,
		RefreshExpiry: time.Hour,
	}, logger)
	if err != nil {
		t.Fatalf("NewJWTService() error = %v", err)
	}
	return svc
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var body errorBody
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	return body
}

func TestRequireAuth(t *testing.T) {
	jwtSvc := newJWT(t)
	pair, _, _, err := jwtSvc.GenerateTokens("+212600000001", "sid-1", "")
	if err != nil {
		t.Fatalf("GenerateTokens() error = %v", err)
	}

	tests := []struct {
		name       string
		header     string
		sessions   stubSessions
		wantStatus int
		wantCode   string
		wantRedir  string
	}{
		{"missing header", "", stubSessions{}, http.StatusUnauthorized, "UNAUTHORIZED", ""},
		{"not bearer", "Token abc", stubSessions{}, http.StatusUnauthorized, "UNAUTHORIZED", ""},
		{"refresh token", "Bearer " + pair.RefreshToken, stubSessions{}, http.StatusUnauthorized, "UNAUTHORIZED", ""},
		{"expired session", "Bearer " + pair.AccessToken, stubSessions{err: session.ErrSessionExpired}, http.StatusUnauthorized, "SESSION_EXPIRED", "/login"},
		{"closed session", "Bearer " + pair.AccessToken, stubSessions{err: session.ErrSessionClosed}, http.StatusUnauthorized, "UNAUTHORIZED", "/login"},
		{"valid", "Bearer " + pair.AccessToken, stubSessions{}, http.StatusOK, "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := logrus.New()
			logger.SetOutput(io.Discard)
			m := NewAuthMiddleware(jwtSvc, tt.sessions, "/login", logger)

			var gotSession *session.Session
			h := m.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				gotSession, _ = SessionFromContext(r.Context())
				w.WriteHeader(http.StatusOK)
			}))

			req := httptest.NewRequest(http.MethodGet, "/api/v1/me", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if tt.wantStatus == http.StatusOK {
				if gotSession == nil || gotSession.ID != "sid-1" {
					t.Errorf("session = %+v, want sid-1", gotSession)
				}
				return
			}
			body := decodeError(t, rec)
			if body.Error.Code != tt.wantCode {
				t.Errorf("code = %q, want %q", body.Error.Code, tt.wantCode)
			}
			if body.Error.Redirect != tt.wantRedir {
				t.Errorf("redirect = %q, want %q", body.Error.Redirect, tt.wantRedir)
			}
		})
	}
}

func TestCORS_Preflight(t *testing.T) {
	h := CORS([]string{"https://portal.example"})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/bills", nil)
	req.Header.Set("Origin", "https://portal.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://portal.example" {
		t.Errorf("Allow-Origin = %q, want https://portal.example", got)
	}
}
