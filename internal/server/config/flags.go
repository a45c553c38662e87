package config

import (
	"flag"
	"os"

	"github.com/uohspeech/collector/internal/flagx"
)

// parseFlags populates selected server Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-a string   HTTP bind address (e.g., ":8080")
//	-s string   session cookie secret key
//	-d string   standard prompt pool DSN
//	-t string   tribal prompt pool DSN
//	-k string   database driver for both pools ("sqlite" or "pgx")
//	-o string   object store backend (s3, minio, memory)
//	-u string   S3 access key
//	-p string   S3 secret key
//	-b string   S3 bucket name
//	-g string   S3 region
//	-e string   S3 base endpoint (e.g., "http://127.0.0.1:9000/")
//	-r string   Redis address for sessions
//	-f string   local upload spool directory
//	-m string   prompt source (objectstore, lease)
//	-l string   log backend (slog, zap)
//
// The function first filters os.Args to only the flags it recognizes using
// flagx.FilterArgs, avoiding collisions with the -c config flag.
func parseFlags(config *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{
		"-a", "-s", "-d", "-t", "-k", "-o", "-u", "-p", "-b", "-g", "-e", "-r", "-f", "-m", "-l",
	})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.HTTPAddr, "a", config.HTTPAddr, "address and port to run server")
	fs.StringVar(&config.SecretKey, "s", config.SecretKey, "secret key")
	fs.StringVar(&config.StandardDB.DSN, "d", config.StandardDB.DSN, "standard prompt pool DSN")
	fs.StringVar(&config.TribalDB.DSN, "t", config.TribalDB.DSN, "tribal prompt pool DSN")
	driver := fs.String("k", "", "database driver for both pools")

	fs.StringVar(&config.ObjectBackend, "o", config.ObjectBackend, "object store backend")
	fs.StringVar(&config.S3AccessKey, "u", config.S3AccessKey, "S3 access key")
	fs.StringVar(&config.S3SecretKey, "p", config.S3SecretKey, "S3 secret key")
	fs.StringVar(&config.S3Bucket, "b", config.S3Bucket, "S3 bucket")
	fs.StringVar(&config.S3Region, "g", config.S3Region, "S3 region")
	fs.StringVar(&config.S3BaseEndpoint, "e", config.S3BaseEndpoint, "S3 base endpoint")

	fs.StringVar(&config.RedisAddr, "r", config.RedisAddr, "redis address")
	fs.StringVar(&config.UploadDir, "f", config.UploadDir, "upload spool directory")
	fs.StringVar(&config.PromptSource, "m", config.PromptSource, "prompt source")
	fs.StringVar(&config.LogBackend, "l", config.LogBackend, "log backend")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	if *driver != "" {
		config.StandardDB.Driver = *driver
		config.TribalDB.Driver = *driver
	}
}
