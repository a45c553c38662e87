package config

import (
	"flag"
	"os"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFlags(t *testing.T) {
	origArgs := os.Args
	t.Cleanup(func() { os.Args = origArgs })

	tests := []struct {
		expected    *Config
		name        string
		args        []string
		expectPanic bool
	}{
		{name: "all flags", args: []string{"cmd",
			"-a", "127.0.0.1:9090", "-s", "secret", "-d", "file:std.db", "-t", "file:tri.db", "-k", "sqlite",
			"-o", "minio", "-u", "user", "-p", "password", "-b", "bucket", "-g", "us-west-1", "-e", "play.min.io",
			"-r", "127.0.0.1:6379", "-f", "/var/spool/uoh", "-m", "lease", "-l", "zap",
		}, expected: &Config{
			HTTPAddr:       "127.0.0.1:9090",
			SecretKey:      "secret",
			StandardDB:     DBConfig{Driver: "sqlite", DSN: "file:std.db"},
			TribalDB:       DBConfig{Driver: "sqlite", DSN: "file:tri.db"},
			ObjectBackend:  "minio",
			S3AccessKey:    "user",
			S3SecretKey:    "password",
			S3Bucket:       "bucket",
			S3Region:       "us-west-1",
			S3BaseEndpoint: "play.min.io",
			RedisAddr:      "127.0.0.1:6379",
			UploadDir:      "/var/spool/uoh",
			PromptSource:   "lease",
			LogBackend:     "zap",
		}},
		{name: "unrelated flags are ignored", args: []string{"cmd", "-c", "cfg.json", "-a", ":1"},
			expected: &Config{HTTPAddr: ":1"}},
		{name: "missing value", args: []string{"cmd", "-a"}, expectPanic: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			flag.CommandLine = flag.NewFlagSet(os.Args[0], flag.PanicOnError)
			os.Args = tt.args

			config := &Config{}

			if !tt.expectPanic {
				require.NotPanics(t, func() { parseFlags(config) })
				assert.Empty(t, cmp.Diff(config, tt.expected))
			} else {
				require.Panics(t, func() { parseFlags(config) })
			}
		})
	}
}
