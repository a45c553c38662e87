// Package server wires the collector together: it opens the prompt pools and
// the recordings ledger, selects the object store, alert channel and session
// store, then runs the HTTP API and the lease reclaimer until shutdown.
package server

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/uohspeech/collector/internal/alert"
	"github.com/uohspeech/collector/internal/allocator"
	"github.com/uohspeech/collector/internal/batcher"
	"github.com/uohspeech/collector/internal/common"
	"github.com/uohspeech/collector/internal/filex"
	"github.com/uohspeech/collector/internal/lease"
	"github.com/uohspeech/collector/internal/ledger"
	"github.com/uohspeech/collector/internal/logging"
	"github.com/uohspeech/collector/internal/models"
	"github.com/uohspeech/collector/internal/objectstore"
	"github.com/uohspeech/collector/internal/repositories/repomanager"
	"github.com/uohspeech/collector/internal/sampler"
	"github.com/uohspeech/collector/internal/server/config"
	"github.com/uohspeech/collector/internal/server/httpapi"
	"github.com/uohspeech/collector/internal/sessions"
)

type database struct {
	db      *sql.DB
	manager repomanager.RepositoryManager
}

type App struct {
	config    *config.Config
	logger    logging.Logger
	syncLog   func() error
	dbs       map[string]database
	leases    *lease.Store
	allocator *allocator.Allocator
	sessions  sessions.Store
	server    *httpapi.Server
}

// NewLogger builds the configured logging backend. The returned func flushes
// buffered output.
func NewLogger(backend string) (logging.Logger, func() error, error) {
	switch backend {
	case "zap":
		z, err := logging.NewZapProduction()
		if err != nil {
			return nil, nil, err
		}
		return z, z.Sync, nil
	default:
		l := slog.New(slog.NewJSONHandler(os.Stdout, nil))
		return logging.NewSlogLogger(l), func() error { return nil }, nil
	}
}

func NewApp(ctx context.Context, c *config.Config) (*App, error) {
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("config error: %w", err)
	}
	logger, syncLog, err := NewLogger(c.LogBackend)
	if err != nil {
		return nil, fmt.Errorf("logger init error: %w", err)
	}

	app := &App{config: c, logger: logger, syncLog: syncLog, dbs: map[string]database{}}
	if err := app.init(ctx); err != nil {
		app.Close()
		return nil, err
	}
	return app, nil
}

func (app *App) init(ctx context.Context) error {
	c := app.config

	standard, err := app.open(ctx, c.StandardDB)
	if err != nil {
		return fmt.Errorf("standard db init error: %w", err)
	}
	tribal, err := app.open(ctx, c.TribalDB)
	if err != nil {
		return fmt.Errorf("tribal db init error: %w", err)
	}
	recs, err := app.open(ctx, c.Recordings())
	if err != nil {
		return fmt.Errorf("recordings db init error: %w", err)
	}

	app.leases = lease.NewStore(map[models.Variant]lease.Pool{
		models.VariantStandard: {DB: standard.db, Manager: standard.manager},
		models.VariantTribal:   {DB: tribal.db, Manager: tribal.manager},
	}, c.LeaseExpiry, app.logger)

	var replicas []ledger.Target
	if tribal.db != recs.db {
		replicas = append(replicas, ledger.Target{Name: "tribal", Repo: tribal.manager.Recordings(tribal.db)})
	}
	ldg := ledger.New(ledger.Target{Name: "recordings", Repo: recs.manager.Recordings(recs.db)}, replicas, app.logger)

	objects, err := objectstore.Open(ctx, c.ObjectStore())
	if err != nil {
		return fmt.Errorf("object store init error: %w", err)
	}
	smp := sampler.New(objects, c.SamplerAttempts, app.logger)

	sender, err := app.alertSender()
	if err != nil {
		return fmt.Errorf("alert init error: %w", err)
	}
	notifier := alert.NewNotifier(sender, c.AlertCooldown, app.logger)

	policy, err := batcher.ParseRetainPolicy(c.RetainPolicy)
	if err != nil {
		return err
	}
	root, err := filex.EnsureDir(c.UploadDir)
	if err != nil {
		return fmt.Errorf("upload dir error: %w", err)
	}
	b := batcher.New(batcher.Config{
		Root:        root,
		Workers:     c.FinalizeWorkers,
		Policy:      policy,
		MaxAttempts: c.MaxAttempts,
	}, objects, smp, app.leases, ldg, app.logger)

	source, err := allocator.ParseSource(c.PromptSource)
	if err != nil {
		return err
	}
	app.allocator = allocator.New(allocator.Config{CompletionCap: c.CompletionCap, Source: source},
		smp, app.leases, notifier, b, app.logger)

	app.sessions, err = app.sessionStore(ctx)
	if err != nil {
		return fmt.Errorf("session store init error: %w", err)
	}

	secret := c.SecretKey
	if secret == "" {
		secret, err = common.MakeRandHexString(32)
		if err != nil {
			return err
		}
		app.logger.Warn(ctx, "no secret key configured, sessions will not survive a restart")
	}
	app.server = httpapi.NewServer(c.HTTPAddr, app.logger, app.allocator, app.sessions, secret, c.SessionTTL).
		WithRecordings(ldg, c.ReportToken)
	return nil
}

// open returns the database for dbc, sharing one handle per DSN.
func (app *App) open(ctx context.Context, dbc config.DBConfig) (database, error) {
	if d, ok := app.dbs[dbc.DSN]; ok {
		return d, nil
	}
	if dir := sqliteDir(dbc); dir != "" {
		if _, err := filex.EnsureDir(dir); err != nil {
			return database{}, err
		}
	}
	db, m, err := repomanager.Open(ctx, dbc.Driver, dbc.DSN)
	if err != nil {
		return database{}, err
	}
	d := database{db: db, manager: m}
	app.dbs[dbc.DSN] = d
	return d, nil
}

// sqliteDir is the parent directory of a file-backed sqlite DSN.
func sqliteDir(dbc config.DBConfig) string {
	m, err := repomanager.New(dbc.Driver)
	if err != nil || m.Driver() != repomanager.DriverSQLite {
		return ""
	}
	path := strings.TrimPrefix(dbc.DSN, "file:")
	path, _, _ = strings.Cut(path, "?")
	if path == "" || path == ":memory:" {
		return ""
	}
	return filepath.Dir(path)
}

func (app *App) alertSender() (alert.Sender, error) {
	c := app.config
	if c.SMTPHost == "" {
		app.logger.Warn(context.Background(), "smtp not configured, alerts go to the log")
		return alert.LogSender{Log: app.logger}, nil
	}
	return alert.NewSMTPSender(alert.SMTPConfig{
		Host:     c.SMTPHost,
		Port:     c.SMTPPort,
		Username: c.SMTPUser,
		Password: c.SMTPPassword,
		From:     c.SMTPFrom,
		To:       c.AlertTo,
	})
}

func (app *App) sessionStore(ctx context.Context) (sessions.Store, error) {
	c := app.config
	if c.RedisAddr == "" {
		return sessions.NewMemoryStore(c.SessionTTL), nil
	}
	rs := sessions.NewRedisStore(c.RedisAddr, c.RedisPassword, c.SessionTTL)
	if err := rs.Ping(ctx); err != nil {
		_ = rs.Close()
		return nil, err
	}
	return rs, nil
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	// Channel to catch OS signals.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) startHTTPServer(ctx context.Context, cancelFunc context.CancelFunc) {
	if err := app.server.Run(ctx); err != nil {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
	}
}

// reclaimOnce returns expired leases of every pool to unused.
func (app *App) reclaimOnce(ctx context.Context) {
	for _, v := range app.leases.Variants() {
		if _, err := app.leases.ReclaimExpired(ctx, v); err != nil {
			app.logger.Warn(ctx, "reclaim failed", "variant", v.String(), "error", err)
		}
	}
}

func (app *App) startReclaimer(ctx context.Context) {
	interval := app.config.ReclaimInterval
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			app.reclaimOnce(ctx)
		}
	}
}

// Run serves until ctx is cancelled or a signal arrives, then releases
// every resource.
func (app *App) Run(ctx context.Context) {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...")

	app.initSignalHandler(cancelFunc)
	app.reclaimOnce(ctx)

	var wg sync.WaitGroup

	wg.Add(2)
	go func() {
		defer wg.Done()
		app.startHTTPServer(ctx, cancelFunc)
	}()
	go func() {
		defer wg.Done()
		app.startReclaimer(ctx)
	}()

	wg.Wait()

	app.Close()
	app.logger.Info(context.Background(), "App stopped")
}

// Close releases databases and the session store.
func (app *App) Close() {
	ctx := context.Background()
	if rs, ok := app.sessions.(*sessions.RedisStore); ok {
		if err := rs.Close(); err != nil {
			app.logger.Warn(ctx, "close session store", "error", err)
		}
	}
	app.sessions = nil
	for dsn, d := range app.dbs {
		if err := d.db.Close(); err != nil {
			app.logger.Warn(ctx, "close db", "error", err)
		}
		delete(app.dbs, dsn)
	}
	if app.syncLog != nil {
		_ = app.syncLog()
	}
}
