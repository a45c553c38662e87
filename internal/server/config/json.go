package config

import (
	"encoding/json"
	"os"

	"github.com/uohspeech/collector/internal/flagx"
	"github.com/uohspeech/collector/internal/timex"
)

type jsonDB struct {
	Driver string `json:"driver"`
	DSN    string `json:"dsn"`
}

// JsonConfig defines a configuration structure tailored for JSON unmarshalling.
// It uses timex.Duration for interval fields, which allows parsing both
// string values such as "30m" and integer nanoseconds.
type JsonConfig struct {
	HTTPAddr        string         `json:"http_addr"`
	SecretKey       string         `json:"secret_key"`
	SessionTTL      timex.Duration `json:"session_ttl"`
	StandardDB      jsonDB         `json:"standard_db"`
	TribalDB        jsonDB         `json:"tribal_db"`
	RecordingsDB    jsonDB         `json:"recordings_db"`
	ObjectBackend   string         `json:"object_backend"`
	S3AccessKey     string         `json:"s3_access_key"`
	S3SecretKey     string         `json:"s3_secret_key"`
	S3Bucket        string         `json:"s3_bucket"`
	S3Region        string         `json:"s3_region"`
	S3BaseEndpoint  string         `json:"s3_base_endpoint"`
	S3UseSSL        bool           `json:"s3_use_ssl"`
	RedisAddr       string         `json:"redis_addr"`
	RedisPassword   string         `json:"redis_password"`
	SMTPHost        string         `json:"smtp_host"`
	SMTPPort        int            `json:"smtp_port"`
	SMTPUser        string         `json:"smtp_user"`
	SMTPPassword    string         `json:"smtp_password"`
	SMTPFrom        string         `json:"smtp_from"`
	AlertTo         []string       `json:"alert_to"`
	AlertCooldown   timex.Duration `json:"alert_cooldown"`
	UploadDir       string         `json:"upload_dir"`
	LeaseExpiry     timex.Duration `json:"lease_expiry"`
	CompletionCap   int            `json:"completion_cap"`
	SamplerAttempts int            `json:"sampler_attempts"`
	PromptSource    string         `json:"prompt_source"`
	FinalizeWorkers int            `json:"finalize_workers"`
	RetainPolicy    string         `json:"retain_policy"`
	MaxAttempts     int            `json:"max_attempts"`
	ReclaimInterval timex.Duration `json:"reclaim_interval"`
	LogBackend      string         `json:"log_backend"`
	ReportToken     string         `json:"report_token"`
}

func toJSON(c *Config) *JsonConfig {
	return &JsonConfig{
		HTTPAddr:        c.HTTPAddr,
		SecretKey:       c.SecretKey,
		SessionTTL:      timex.Duration{Duration: c.SessionTTL},
		StandardDB:      jsonDB(c.StandardDB),
		TribalDB:        jsonDB(c.TribalDB),
		RecordingsDB:    jsonDB(c.RecordingsDB),
		ObjectBackend:   c.ObjectBackend,
		S3AccessKey:     c.S3AccessKey,
		S3SecretKey:     c.S3SecretKey,
		S3Bucket:        c.S3Bucket,
		S3Region:        c.S3Region,
		S3BaseEndpoint:  c.S3BaseEndpoint,
		S3UseSSL:        c.S3UseSSL,
		RedisAddr:       c.RedisAddr,
		RedisPassword:   c.RedisPassword,
		SMTPHost:        c.SMTPHost,
		SMTPPort:        c.SMTPPort,
		SMTPUser:        c.SMTPUser,
		SMTPPassword:    c.SMTPPassword,
		SMTPFrom:        c.SMTPFrom,
		AlertTo:         c.AlertTo,
		AlertCooldown:   timex.Duration{Duration: c.AlertCooldown},
		UploadDir:       c.UploadDir,
		LeaseExpiry:     timex.Duration{Duration: c.LeaseExpiry},
		CompletionCap:   c.CompletionCap,
		SamplerAttempts: c.SamplerAttempts,
		PromptSource:    c.PromptSource,
		FinalizeWorkers: c.FinalizeWorkers,
		RetainPolicy:    c.RetainPolicy,
		MaxAttempts:     c.MaxAttempts,
		ReclaimInterval: timex.Duration{Duration: c.ReclaimInterval},
		LogBackend:      c.LogBackend,
		ReportToken:     c.ReportToken,
	}
}

func (j *JsonConfig) apply(c *Config) {
	c.HTTPAddr = j.HTTPAddr
	c.SecretKey = j.SecretKey
	c.SessionTTL = j.SessionTTL.Duration
	c.StandardDB = DBConfig(j.StandardDB)
	c.TribalDB = DBConfig(j.TribalDB)
	c.RecordingsDB = DBConfig(j.RecordingsDB)
	c.ObjectBackend = j.ObjectBackend
	c.S3AccessKey = j.S3AccessKey
	c.S3SecretKey = j.S3SecretKey
	c.S3Bucket = j.S3Bucket
	c.S3Region = j.S3Region
	c.S3BaseEndpoint = j.S3BaseEndpoint
	c.S3UseSSL = j.S3UseSSL
	c.RedisAddr = j.RedisAddr
	c.RedisPassword = j.RedisPassword
	c.SMTPHost = j.SMTPHost
	c.SMTPPort = j.SMTPPort
	c.SMTPUser = j.SMTPUser
	c.SMTPPassword = j.SMTPPassword
	c.SMTPFrom = j.SMTPFrom
	c.AlertTo = j.AlertTo
	c.AlertCooldown = j.AlertCooldown.Duration
	c.UploadDir = j.UploadDir
	c.LeaseExpiry = j.LeaseExpiry.Duration
	c.CompletionCap = j.CompletionCap
	c.SamplerAttempts = j.SamplerAttempts
	c.PromptSource = j.PromptSource
	c.FinalizeWorkers = j.FinalizeWorkers
	c.RetainPolicy = j.RetainPolicy
	c.MaxAttempts = j.MaxAttempts
	c.ReclaimInterval = j.ReclaimInterval.Duration
	c.LogBackend = j.LogBackend
	c.ReportToken = j.ReportToken
}

// parseJson loads configuration values from a JSON file into the provided
// Config instance.
//
// The file path comes from the -c/-config flags or $COLLECTOR_CONFIG; if none
// is set, nothing is loaded. Keys missing from the file keep their current
// values. An unreadable file or invalid JSON panics.
func parseJson(config *Config) {
	jsonConfigFile := flagx.ConfigFile()
	if jsonConfigFile == "" {
		return
	}

	file, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}

	c := toJSON(config)
	if err := json.Unmarshal(file, c); err != nil {
		panic(err)
	}
	c.apply(config)
}
