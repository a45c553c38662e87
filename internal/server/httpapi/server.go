// Package httpapi is the browser-facing HTTP surface of the collector.
package httpapi

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/uohspeech/collector/internal/allocator"
	"github.com/uohspeech/collector/internal/batcher"
	"github.com/uohspeech/collector/internal/logging"
	"github.com/uohspeech/collector/internal/models"
	"github.com/uohspeech/collector/internal/sessions"
)

// SessionCookie carries the signed session token.
const SessionCookie = "collector_session"

// maxUploadMemory bounds the in-memory part of a multipart submission.
const maxUploadMemory = 32 << 20

// Collector is the session workflow the handlers drive.
type Collector interface {
	Start(sess *models.Session, d models.Demographics) error
	NextPrompt(ctx context.Context, sess *models.Session) (allocator.Next, error)
	Submit(ctx context.Context, sess *models.Session, in allocator.Submission) (*models.PendingUpload, error)
	Finalize(ctx context.Context, sess *models.Session) batcher.Report
	Reset(ctx context.Context, sess *models.Session)
	Stats(ctx context.Context) ([]allocator.PoolStats, error)
}

// Recordings reports on committed recordings.
type Recordings interface {
	Count(ctx context.Context) (int64, error)
	List(ctx context.Context, limit int) ([]*models.Recording, error)
}

type Server struct {
	address     string
	collector   Collector
	sessions    sessions.Store
	recordings  Recordings
	reportToken string
	logger      logging.Logger
	jwtSecret   []byte
	sessionTTL  time.Duration
	now         func() time.Time
}

func NewServer(addr string, l logging.Logger, c Collector, store sessions.Store, secretKey string, sessionTTL time.Duration) *Server {
	if l == nil {
		l = logging.NewNop()
	}
	if sessionTTL <= 0 {
		sessionTTL = sessions.DefaultTTL
	}
	return &Server{
		address:    addr,
		collector:  c,
		sessions:   store,
		logger:     l.With("module", "http_server"),
		jwtSecret:  []byte(secretKey),
		sessionTTL: sessionTTL,
		now:        time.Now,
	}
}

// WithRecordings adds the recording total to /api/stats. A non-empty token
// also serves GET /api/recordings to requests bearing it.
func (s *Server) WithRecordings(r Recordings, token string) *Server {
	s.recordings = r
	s.reportToken = token
	return s
}

// Router builds the route table.
func (s *Server) Router() *mux.Router {
	router := mux.NewRouter().StrictSlash(true)
	router.Use(s.logRequests)

	router.Methods("GET").Path("/healthz").HandlerFunc(s.health)
	router.Methods("GET").Path("/api/stats").HandlerFunc(s.stats)
	if s.recordings != nil && s.reportToken != "" {
		router.Methods("GET").Path("/api/recordings").HandlerFunc(s.requireReportToken(s.listRecordings))
	}

	api := router.NewRoute().Subrouter()
	api.Use(s.loadSession)
	api.Methods("POST").Path("/new_session").HandlerFunc(s.newSession)
	api.Methods("POST").Path("/submit_user_info").HandlerFunc(s.submitUserInfo)
	api.Methods("GET").Path("/api/prompt").HandlerFunc(s.prompt)
	api.Methods("POST").Path("/submit").HandlerFunc(s.submit)
	api.Methods("POST").Path("/finalize_session").HandlerFunc(s.finalize)
	return router
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	listen, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       180 * time.Second,
		WriteTimeout:      180 * time.Second,
	}

	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping HTTP server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Error(ctx, "http shutdown", "error", err)
		}
	}()

	s.logger.Info(ctx, "Starting HTTP server", "address", listen.Addr().String())

	if err := srv.Serve(listen); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
