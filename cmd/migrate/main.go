package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/commons-dev-open/reactive/internal/infra/persistence/migrations"
)

const (
	defaultMigrationsPath = "db/migrations"
	defaultTimeout        = 30 * time.Second
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	var (
		dsn      = flag.String("database", "", "PostgreSQL DSN (defaults to REACTIVE_DB_DSN)")
		dir      = flag.String("path", defaultMigrationsPath, "Directory containing SQL migrations")
		embedded = flag.Bool("embedded", false, "Apply the migrations bundled into the binary instead of reading -path")
		timeout  = flag.Duration("timeout", defaultTimeout, "Maximum time to wait for database connectivity")
		quiet    = flag.Bool("quiet", false, "Suppress informational logs")
	)
	flag.Parse()

	target := strings.TrimSpace(*dsn)
	if target == "" {
		target = strings.TrimSpace(os.Getenv("REACTIVE_DB_DSN"))
	}
	if target == "" {
		return errors.New("-database flag or REACTIVE_DB_DSN is required")
	}
	if !*embedded && strings.TrimSpace(*dir) == "" {
		return errors.New("-path flag is required")
	}

	args := flag.Args()
	if len(args) == 0 {
		return errors.New("command required (up|down)")
	}

	var logger *log.Logger
	if !*quiet {
		logger = log.New(os.Stdout, "reactive-migrate ", log.LstdFlags)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	switch args[0] {
	case "up":
		if *embedded {
			return migrations.ApplyEmbedded(ctx, target, logger)
		}
		return migrations.Apply(ctx, target, *dir, logger)
	case "down":
		if *embedded {
			return errors.New("down requires -path; the embedded bundle only applies forward")
		}
		steps := 1
		if len(args) > 1 {
			n, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("invalid down steps %q: %w", args[1], err)
			}
			steps = n
		}
		return migrations.Rollback(ctx, target, *dir, steps, logger)
	default:
		return fmt.Errorf("unknown command %q (expected up or down)", args[0])
	}
}
