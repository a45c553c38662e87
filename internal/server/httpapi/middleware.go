package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/uohspeech/collector/internal/common"
	"github.com/uohspeech/collector/internal/models"
	"github.com/uohspeech/collector/internal/server/auth"
)

type ctxKey string

const sessionKey ctxKey = "session"

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Info(r.Context(), "request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start).String(),
		)
	})
}

// loadSession resolves the session cookie. A missing, invalid or expired
// token yields a fresh unsaved session; a session store outage is a 503.
func (s *Server) loadSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		sess, err := s.resolveSession(ctx, r)
		if err != nil {
			s.logger.Error(ctx, "session lookup", "error", err)
			writeError(w, http.StatusServiceUnavailable, "session store unavailable")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(ctx, sessionKey, sess)))
	})
}

func (s *Server) resolveSession(ctx context.Context, r *http.Request) (*models.Session, error) {
	c, err := r.Cookie(SessionCookie)
	if err != nil || c.Value == "" {
		return s.freshSession(), nil
	}
	id, err := auth.GetSessionIDFromToken(c.Value, s.jwtSecret)
	if err != nil {
		s.logger.Debug(ctx, "discarding session token", "error", err)
		return s.freshSession(), nil
	}
	sess, err := s.sessions.Get(ctx, id)
	if errors.Is(err, common.ErrNotFound) {
		return s.freshSession(), nil
	}
	if err != nil {
		return nil, err
	}
	return sess, nil
}

func (s *Server) freshSession() *models.Session {
	return models.NewSession(uuid.NewString(), s.now())
}

func sessionFrom(ctx context.Context) *models.Session {
	sess, _ := ctx.Value(sessionKey).(*models.Session)
	return sess
}

// persist saves sess and refreshes the cookie.
func (s *Server) persist(w http.ResponseWriter, r *http.Request, sess *models.Session) error {
	if err := s.sessions.Save(r.Context(), sess); err != nil {
		return err
	}
	token, err := auth.GenerateToken(sess.ID, s.jwtSecret, s.sessionTTL)
	if err != nil {
		return err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    token,
		Path:     "/",
		MaxAge:   int(s.sessionTTL / time.Second),
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}
