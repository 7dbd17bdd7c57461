package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/gioswatch/gioswatch/internal/airquality"
	"github.com/gioswatch/gioswatch/internal/api"
	"github.com/gioswatch/gioswatch/internal/api/middleware"
	"github.com/gioswatch/gioswatch/internal/config"
	"github.com/gioswatch/gioswatch/internal/session"
)

type command func(ctx context.Context, cfg config.Config, log zerolog.Logger, args []string, stdout io.Writer) error

var commands = map[string]command{
	"stations": runStations,
	"sensors":  runSensors,
	"report":   runReport,
	"chart":    runChart,
	"serve":    runServe,
}

func newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}

// stationArg parses the single positional station ID of fs.
func stationArg(fs *flag.FlagSet) (int, error) {
	if fs.NArg() != 1 {
		return 0, errUsage
	}
	id, err := strconv.Atoi(fs.Arg(0))
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("station id %q: %w", fs.Arg(0), errUsage)
	}
	return id, nil
}

// loadStations fills the session station list from the API or, when offline
// is set, from the stations snapshot.
func loadStations(ctx context.Context, s *session.Session, offline bool) error {
	load := s.LoadStations
	if offline {
		load = s.LoadSnapshot
	}
	job, err := load(ctx)
	if err != nil {
		return err
	}
	_, err = job.Wait(ctx)
	return err
}

// withStation wires the app, loads the station list and runs action for it.
func withStation(
	ctx context.Context,
	cfg config.Config,
	log zerolog.Logger,
	offline bool,
	action func(ctx context.Context, s *session.Session) (*session.Job, error),
) (session.Event, error) {
	a, err := newApp(ctx, cfg, log)
	if err != nil {
		return session.Event{}, err
	}
	defer a.close()
	a.followStatus(ctx)

	if err := loadStations(ctx, a.session, offline); err != nil {
		return session.Event{}, err
	}
	job, err := action(ctx, a.session)
	if err != nil {
		return session.Event{}, err
	}
	return job.Wait(ctx)
}

func runStations(ctx context.Context, cfg config.Config, log zerolog.Logger, args []string, stdout io.Writer) error {
	fs := newFlagSet("stations")
	filter := fs.String("q", "", "case-insensitive filter on name or province")
	offline := fs.Bool("offline", false, "read the saved station list instead of calling the API")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 0 {
		return errUsage
	}

	a, err := newApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.close()
	a.followStatus(ctx)

	if err := loadStations(ctx, a.session, *offline); err != nil {
		return err
	}
	if err := a.session.SetFilter(ctx, *filter); err != nil {
		return err
	}
	st, err := a.session.State(ctx)
	if err != nil {
		return err
	}

	renderStations(stdout, st.Visible)
	log.Info().Msg(st.Status)
	return nil
}

func runSensors(ctx context.Context, cfg config.Config, log zerolog.Logger, args []string, stdout io.Writer) error {
	fs := newFlagSet("sensors")
	offline := fs.Bool("offline", false, "resolve the station from the saved station list")
	if err := fs.Parse(args); err != nil {
		return err
	}
	id, err := stationArg(fs)
	if err != nil {
		return err
	}

	ev, err := withStation(ctx, cfg, log, *offline, func(ctx context.Context, s *session.Session) (*session.Job, error) {
		return s.Sensors(ctx, id)
	})
	if err != nil {
		return err
	}
	renderSensors(stdout, *ev.Station)
	return nil
}

func runReport(ctx context.Context, cfg config.Config, log zerolog.Logger, args []string, stdout io.Writer) error {
	fs := newFlagSet("report")
	historical := fs.Bool("historical", false, "use archival data instead of current readings")
	offline := fs.Bool("offline", false, "resolve the station from the saved station list")
	if err := fs.Parse(args); err != nil {
		return err
	}
	id, err := stationArg(fs)
	if err != nil {
		return err
	}

	kind := airquality.ReportCurrent
	if *historical {
		kind = airquality.ReportHistorical
	}

	ev, err := withStation(ctx, cfg, log, *offline, func(ctx context.Context, s *session.Session) (*session.Job, error) {
		return s.Report(ctx, id, kind)
	})
	if err != nil {
		return err
	}
	renderReport(stdout, *ev.Report)
	return nil
}

func runChart(ctx context.Context, cfg config.Config, log zerolog.Logger, args []string, stdout io.Writer) error {
	fs := newFlagSet("chart")
	asJSON := fs.Bool("json", false, "print the chart series as JSON")
	offline := fs.Bool("offline", false, "resolve the station from the saved station list")
	if err := fs.Parse(args); err != nil {
		return err
	}
	id, err := stationArg(fs)
	if err != nil {
		return err
	}

	ev, err := withStation(ctx, cfg, log, *offline, func(ctx context.Context, s *session.Session) (*session.Job, error) {
		return s.Chart(ctx, id)
	})
	if err != nil {
		return err
	}

	if *asJSON {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(ev.Chart)
	}
	renderChart(stdout, *ev.Chart)
	return nil
}

func runServe(ctx context.Context, cfg config.Config, log zerolog.Logger, args []string, _ io.Writer) error {
	fs := newFlagSet("serve")
	if err := fs.Parse(args); err != nil {
		return err
	}

	a, err := newApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.close()
	a.followStatus(ctx)

	httpMetrics, err := middleware.NewMetrics(a.telemetry.Meter)
	if err != nil {
		return fmt.Errorf("init http metrics: %w", err)
	}

	router := api.NewRouter(api.RouterConfig{
		Version:   Version,
		BuildTime: BuildTime,
		Logger:    log,
		Metrics:   httpMetrics,
		Session:   a.session,
		Registry:  a.registry,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Warm the station list so the first request does not pay for it.
	if job, err := a.session.LoadStations(ctx); err == nil {
		go func() {
			if _, err := job.Wait(ctx); err != nil {
				log.Warn().Err(err).Msg("initial station load failed")
			}
		}()
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info().Int("port", cfg.Port).Str("env", cfg.Env).Msg("starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	// ctx is cancelled on SIGINT or SIGTERM.
	select {
	case err, ok := <-serveErr:
		if ok {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	log.Info().Msg("server stopped")
	return nil
}
