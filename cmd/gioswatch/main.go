// Package main provides the gioswatch command: a client for the GIOŚ air
// quality API that lists stations, prints reports and charts, and can serve
// the same data as a JSON API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	_ "time/tzdata" // measurement timestamps are Polish local time on every platform

	"github.com/gioswatch/gioswatch/internal/config"
)

// Version and BuildTime are set at compile time via ldflags.
var (
	Version   = "dev"
	BuildTime = "unknown"
)

const serviceName = "gioswatch"

const usage = `usage: gioswatch <command> [flags] [args]

commands:
  stations [-q filter] [-offline]   list monitoring stations
  sensors <stationId>               list the sensors of a station
  report <stationId> [-historical]  print measurements of every sensor
  chart <stationId> [-json]         print chart series of a station
  serve                             run the HTTP API
  version                           print the build version
`

// errUsage is returned for a malformed command line.
var errUsage = errors.New("invalid usage")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprint(stderr, usage)
		return 2
	}
	name, args := args[0], args[1:]

	if name == "version" {
		fmt.Fprintf(stdout, "gioswatch %s (built %s)\n", Version, BuildTime)
		return 0
	}
	if name == "help" || name == "-h" || name == "--help" {
		fmt.Fprint(stdout, usage)
		return 0
	}

	cmd, ok := commands[name]
	if !ok {
		fmt.Fprintf(stderr, "unknown command %q\n\n%s", name, usage)
		return 2
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(stderr, "gioswatch: %v\n", err)
		return 1
	}

	log := newLogger(cfg, name == "serve", stdout, stderr)

	if err := cmd(ctx, cfg, log, args, stdout); err != nil {
		if errors.Is(err, errUsage) || errors.Is(err, flag.ErrHelp) {
			fmt.Fprint(stderr, usage)
			return 2
		}
		log.Error().Err(err).Str("command", name).Msg("command failed")
		return 1
	}
	return 0
}

// newLogger builds the root logger: JSON lines on stdout for the server,
// human readable output on stderr for everything else so stdout stays clean.
func newLogger(cfg config.Config, server bool, stdout, stderr io.Writer) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}

	if server {
		return zerolog.New(stdout).
			Level(level).
			With().
			Timestamp().
			Str("service", serviceName).
			Str("version", Version).
			Logger()
	}

	console := zerolog.ConsoleWriter{Out: stderr, TimeFormat: time.TimeOnly, NoColor: !isTerminal(stderr)}
	return zerolog.New(console).
		Level(level).
		With().
		Timestamp().
		Logger()
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	info, err := f.Stat()
	return err == nil && info.Mode()&os.ModeCharDevice != 0
}
