// Command migrate applies the price sync schema.
package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/erp/pricesync/internal/infrastructure/config"
	"github.com/erp/pricesync/internal/infrastructure/logger"
	"github.com/erp/pricesync/internal/infrastructure/migration"
)

// command is one subcommand. needsArg commands take a single integer.
type command struct {
	usage    string
	needsArg bool
	run      func(m *migration.Migrator, arg int) error
}

var commands = map[string]command{
	"up":   {usage: "up                Apply all pending migrations", run: func(m *migration.Migrator, _ int) error { return m.Up() }},
	"down": {usage: "down              Roll back all migrations", run: func(m *migration.Migrator, _ int) error { return m.Down() }},
	"step": {usage: "step <n>          Apply n migrations, negative rolls back", needsArg: true,
		run: func(m *migration.Migrator, n int) error { return m.Steps(n) }},
	"goto": {usage: "goto <version>    Migrate up or down to version", needsArg: true,
		run: func(m *migration.Migrator, v int) error {
			if v < 0 {
				return errors.New("version must not be negative")
			}
			return m.GoTo(uint(v))
		}},
	"force": {usage: "force <version>   Record version without running it, clears dirty", needsArg: true,
		run: func(m *migration.Migrator, v int) error { return m.Force(v) }},
	"version": {usage: "version           Show the applied version", run: printVersion},
}

var log *zap.Logger

func main() {
	path := flag.String("path", "", "Read migrations from this directory instead of the embedded schema")
	level := flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	flag.Usage = usage
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(2)
	}
	log = logger.New(logger.Config{Level: *level, Format: "console", Output: "stdout"})
	defer func() { _ = log.Sync() }()

	src := migration.Source{}
	if *path != "" {
		abs, err := filepath.Abs(*path)
		if err != nil {
			log.Fatal("Failed to resolve migrations path", zap.Error(err))
		}
		src.Path = abs
	}

	name := args[0]
	if name == "list" {
		names, err := migration.List(src.FS())
		if err != nil {
			log.Fatal("Failed to list migrations", zap.Error(err))
		}
		for _, n := range names {
			fmt.Println(n)
		}
		return
	}

	cmd, ok := commands[name]
	if !ok {
		log.Error("Unknown command", zap.String("command", name))
		usage()
		os.Exit(2)
	}
	arg := 0
	if cmd.needsArg {
		if len(args) < 2 {
			log.Fatal("Missing argument", zap.String("usage", cmd.usage))
		}
		n, err := strconv.Atoi(args[1])
		if err != nil {
			log.Fatal("Argument must be an integer", zap.String("value", args[1]))
		}
		arg = n
	}

	m := open(src)
	defer func() { _ = m.Close() }()

	log.Info("Running migrate", zap.String("command", name), zap.Stringer("source", src))
	if err := cmd.run(m, arg); err != nil {
		log.Fatal("Migration failed", zap.String("command", name), zap.Error(err))
	}
}

func open(src migration.Source) *migration.Migrator {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load configuration", zap.Error(err))
	}
	db, err := sql.Open("postgres", cfg.Database.DSN())
	if err != nil {
		log.Fatal("Failed to open database", zap.Error(err))
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		log.Fatal("Database unreachable", zap.String("host", cfg.Database.Host), zap.Error(err))
	}
	m, err := migration.New(db, src, log)
	if err != nil {
		log.Fatal("Failed to create migrator", zap.Error(err))
	}
	return m
}

func printVersion(m *migration.Migrator, _ int) error {
	st, err := m.Status()
	if err != nil {
		return err
	}
	if st.Version == 0 {
		log.Info("No migrations applied")
		return nil
	}
	log.Info("Schema version", zap.Uint("version", st.Version), zap.Bool("dirty", st.Dirty))
	return nil
}

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: migrate [flags] <command> [arg]\n\nCommands:\n")
	for _, name := range []string{"up", "down", "step", "goto", "version", "force"} {
		fmt.Fprintf(os.Stderr, "  %s\n", commands[name].usage)
	}
	fmt.Fprintf(os.Stderr, "  list              List available migrations\n\nFlags:\n")
	flag.PrintDefaults()
	fmt.Fprintf(os.Stderr, "\nDatabase settings come from ERP_DATABASE_* environment variables.\n")
}
