// Package config handles configuration for the collector server,
// including defaults, JSON overlay, and command-line flags.
package config

import (
	"fmt"
	"time"

	"github.com/uohspeech/collector/internal/allocator"
	"github.com/uohspeech/collector/internal/batcher"
	"github.com/uohspeech/collector/internal/objectstore"
	"github.com/uohspeech/collector/internal/repositories/repomanager"
)

// DBConfig selects a database driver ("sqlite" or "pgx") and its DSN.
type DBConfig struct {
	Driver string
	DSN    string
}

// Config holds runtime settings for the collector server.
//
// Fields:
//   - HTTPAddr: bind address for the HTTP API.
//   - SecretKey: HMAC secret for signing session cookies (HS256). Do not use test defaults in prod.
//     Empty makes the server generate a per-process secret.
//   - StandardDB / TribalDB: prompt pools per variant.
//   - RecordingsDB: system of record for recordings; empty DSN reuses StandardDB.
//   - ObjectBackend: "s3", "minio" or "memory", with the S3* settings.
//   - RedisAddr: session store; empty keeps sessions in memory.
//   - SMTP*: alert relay; empty SMTPHost logs alerts instead of mailing them.
//   - ReportToken: bearer token for the recordings listing; empty disables it.
type Config struct {
	HTTPAddr        string
	SecretKey       string
	SessionTTL      time.Duration
	StandardDB      DBConfig
	TribalDB        DBConfig
	RecordingsDB    DBConfig
	ObjectBackend   string
	S3AccessKey     string
	S3SecretKey     string
	S3Bucket        string
	S3Region        string
	S3BaseEndpoint  string
	S3UseSSL        bool
	RedisAddr       string
	RedisPassword   string
	SMTPHost        string
	SMTPPort        int
	SMTPUser        string
	SMTPPassword    string
	SMTPFrom        string
	AlertTo         []string
	AlertCooldown   time.Duration
	UploadDir       string
	LeaseExpiry     time.Duration
	CompletionCap   int
	SamplerAttempts int
	PromptSource    string
	FinalizeWorkers int
	RetainPolicy    string
	MaxAttempts     int
	ReclaimInterval time.Duration
	LogBackend      string
	ReportToken     string
}

// LoadDefaults populates Config with development defaults.
// NOTE: These values are insecure for production and should be overridden.
func (c *Config) LoadDefaults() {
	c.HTTPAddr = ":8080"
	c.SecretKey = "secretKey"
	c.SessionTTL = 24 * time.Hour
	c.StandardDB = DBConfig{Driver: repomanager.DriverSQLite, DSN: "file:data/standard.db"}
	c.TribalDB = DBConfig{Driver: repomanager.DriverSQLite, DSN: "file:data/tribal.db"}
	c.RecordingsDB = DBConfig{}
	c.ObjectBackend = objectstore.BackendS3
	c.S3AccessKey = "admin"
	c.S3SecretKey = "secretpassword"
	c.S3Bucket = "speech-collector"
	c.S3Region = "us-east-1"
	c.S3BaseEndpoint = "http://127.0.0.1:9000/"
	c.SMTPPort = 587
	c.AlertCooldown = time.Hour
	c.UploadDir = "uploads"
	c.LeaseExpiry = 30 * time.Minute
	c.CompletionCap = allocator.DefaultCompletionCap
	c.SamplerAttempts = 20
	c.PromptSource = string(allocator.SourceObjectStore)
	c.FinalizeWorkers = batcher.DefaultWorkers
	c.RetainPolicy = string(batcher.RetainFailed)
	c.MaxAttempts = batcher.DefaultMaxAttempts
	c.ReclaimInterval = 5 * time.Minute
	c.LogBackend = "slog"
}

// Validate checks the enumerated settings.
func (c *Config) Validate() error {
	if _, err := allocator.ParseSource(c.PromptSource); err != nil {
		return err
	}
	if _, err := batcher.ParseRetainPolicy(c.RetainPolicy); err != nil {
		return err
	}
	for name, db := range map[string]DBConfig{"standard": c.StandardDB, "tribal": c.TribalDB} {
		if db.DSN == "" {
			return fmt.Errorf("%s database dsn is empty", name)
		}
		if _, err := repomanager.New(db.Driver); err != nil {
			return fmt.Errorf("%s database: %w", name, err)
		}
	}
	if c.StandardDB.DSN == c.TribalDB.DSN {
		return fmt.Errorf("standard and tribal pools share dsn %q", c.StandardDB.DSN)
	}
	switch c.ObjectBackend {
	case objectstore.BackendS3, objectstore.BackendMinio, objectstore.BackendMemory:
	default:
		return fmt.Errorf("unknown object backend %q", c.ObjectBackend)
	}
	switch c.LogBackend {
	case "slog", "zap":
	default:
		return fmt.Errorf("unknown log backend %q", c.LogBackend)
	}
	return nil
}

// Recordings returns the recordings database, falling back to StandardDB.
func (c *Config) Recordings() DBConfig {
	if c.RecordingsDB.DSN == "" {
		return c.StandardDB
	}
	if c.RecordingsDB.Driver == "" {
		return DBConfig{Driver: c.StandardDB.Driver, DSN: c.RecordingsDB.DSN}
	}
	return c.RecordingsDB
}

// ObjectStore returns the object store options.
func (c *Config) ObjectStore() objectstore.Options {
	return objectstore.Options{
		Backend:   c.ObjectBackend,
		Bucket:    c.S3Bucket,
		Region:    c.S3Region,
		Endpoint:  c.S3BaseEndpoint,
		AccessKey: c.S3AccessKey,
		SecretKey: c.S3SecretKey,
		UseSSL:    c.S3UseSSL,
	}
}

// LoadConfig builds a Config by applying defaults, then overlaying values
// from an optional JSON file and finally from command-line flags.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseJson(cfg)
	parseFlags(cfg)
	return cfg
}
