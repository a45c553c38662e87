// Command seed loads a plain-text file, one prompt per line, into a prompt
// pool. It reads the same configuration as the server.
//
//	seed -in prompts.txt -variant tribal -to both -lang te
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/uohspeech/collector/internal/flagx"
	"github.com/uohspeech/collector/internal/lease"
	"github.com/uohspeech/collector/internal/models"
	"github.com/uohspeech/collector/internal/objectstore"
	"github.com/uohspeech/collector/internal/repositories/repomanager"
	"github.com/uohspeech/collector/internal/seed"
	"github.com/uohspeech/collector/internal/server"
	"github.com/uohspeech/collector/internal/server/config"
)

func main() {
	if err := run(context.Background()); err != nil {
		log.Fatal(err)
	}
}

// run returns instead of exiting so deferred closes happen before the
// process reports failure.
func run(ctx context.Context) error {
	args := flagx.FilterArgs(os.Args[1:], []string{"-in", "-variant", "-to", "-lang"})
	fs := flag.NewFlagSet("seed", flag.ContinueOnError)
	in := fs.String("in", "", "prompt file, one prompt per line")
	variantName := fs.String("variant", "standard", "standard or tribal")
	to := fs.String("to", "objectstore", "lease, objectstore or both")
	lang := fs.String("lang", "te", "prompt language")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *in == "" {
		return errors.New("-in is required")
	}
	v, err := models.ParseVariant(*variantName)
	if err != nil {
		return err
	}
	target, err := seed.ParseTarget(*to)
	if err != nil {
		return err
	}

	cfg := config.LoadConfig()
	logger, syncLog, err := server.NewLogger(cfg.LogBackend)
	if err != nil {
		return err
	}
	defer func() { _ = syncLog() }()

	var leases seed.PromptAdder
	if target != seed.TargetObjectStore {
		dbc := cfg.StandardDB
		if v == models.VariantTribal {
			dbc = cfg.TribalDB
		}
		db, m, err := repomanager.Open(ctx, dbc.Driver, dbc.DSN)
		if err != nil {
			return fmt.Errorf("open %s pool: %w", v, err)
		}
		defer db.Close()
		leases = lease.NewStore(map[models.Variant]lease.Pool{v: {DB: db, Manager: m}}, cfg.LeaseExpiry, logger)
	}

	var objects objectstore.Store
	if target != seed.TargetLease {
		objects, err = objectstore.Open(ctx, cfg.ObjectStore())
		if err != nil {
			return fmt.Errorf("open object store: %w", err)
		}
	}

	f, err := os.Open(*in)
	if err != nil {
		return err
	}
	defer f.Close()

	res, err := seed.New(leases, objects, logger).Load(ctx, f, v, *lang, target)
	if err != nil {
		return fmt.Errorf("seed stopped after %d lines: %w", res.Lines, err)
	}
	log.Printf("loaded %d prompts (%d duplicates) into %s", res.Lines-res.Duplicates, res.Duplicates, v)
	return nil
}
