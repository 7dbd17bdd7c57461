package main

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/gioswatch/gioswatch/internal/airquality"
	"github.com/gioswatch/gioswatch/internal/airquality/gios"
	"github.com/gioswatch/gioswatch/internal/config"
	"github.com/gioswatch/gioswatch/internal/database"
	"github.com/gioswatch/gioswatch/internal/provider/resilience"
	"github.com/gioswatch/gioswatch/internal/session"
	"github.com/gioswatch/gioswatch/internal/snapshot"
	"github.com/gioswatch/gioswatch/internal/telemetry"
)

// app holds the wired components shared by every command.
type app struct {
	cfg       config.Config
	log       zerolog.Logger
	telemetry *telemetry.Provider
	pool      *pgxpool.Pool
	registry  *resilience.Registry
	session   *session.Session

	stopSession context.CancelFunc
	sessionDone chan struct{}
}

// newApp wires telemetry, the snapshot store, the GIOŚ client, the service
// and a running session. Call close when done.
func newApp(ctx context.Context, cfg config.Config, log zerolog.Logger) (*app, error) {
	a := &app{cfg: cfg, log: log, registry: resilience.NewRegistry()}

	tp, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:    serviceName,
		ServiceVersion: Version,
		Environment:    cfg.Env,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
		Enabled:        cfg.Telemetry.Enabled,
		SampleRatio:    cfg.Telemetry.SampleRatio,
		Logger:         log,
	})
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}
	a.telemetry = tp
	if tp.Enabled() {
		log.Info().Str("otlp_endpoint", cfg.Telemetry.OTLPEndpoint).Msg("OpenTelemetry initialized")
	}

	fetchMetrics, err := telemetry.NewFetchMetrics(tp.Meter)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("init fetch metrics: %w", err)
	}

	store, err := a.openStore(ctx)
	if err != nil {
		a.close()
		return nil, err
	}

	loc, err := cfg.Location()
	if err != nil {
		a.close()
		return nil, err
	}

	client := gios.NewClient(gios.ClientConfig{
		BaseURL:  cfg.GIOS.BaseURL,
		Timeout:  cfg.GIOS.Timeout,
		Store:    store,
		Logger:   log,
		Registry: a.registry,
		Metrics:  fetchMetrics,
	})

	service := airquality.NewService(airquality.ServiceConfig{
		Provider:       client,
		Store:          store,
		Logger:         log,
		Location:       loc,
		ChartDays:      cfg.Windows.ChartDays,
		CurrentDays:    cfg.Windows.CurrentDays,
		HistoricalDays: cfg.Windows.HistoricalDays,
	})

	a.session = session.New(session.Config{Pipeline: service, Logger: log})
	sessionCtx, stop := context.WithCancel(context.Background())
	a.stopSession = stop
	a.sessionDone = make(chan struct{})
	go func() {
		defer close(a.sessionDone)
		_ = a.session.Run(sessionCtx) //nolint:errcheck // returns the cancellation cause only
	}()

	return a, nil
}

func (a *app) openStore(ctx context.Context) (snapshot.Store, error) {
	if a.cfg.Snapshot.Backend != config.BackendPostgres {
		a.log.Debug().Str("dir", a.cfg.Snapshot.Dir).Msg("using file snapshots")
		return snapshot.NewFileStore(snapshot.FileStoreConfig{Root: a.cfg.Snapshot.Dir, Logger: a.log}), nil
	}

	pool, err := database.Connect(ctx, a.cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	a.pool = pool
	a.log.Info().
		Str("host", a.cfg.Database.Host).
		Int("port", a.cfg.Database.Port).
		Str("database", a.cfg.Database.Database).
		Msg("database connected")

	store := snapshot.NewPostgresStore(pool, a.log)
	if err := store.EnsureSchema(ctx); err != nil {
		return nil, fmt.Errorf("prepare snapshot table: %w", err)
	}
	return store, nil
}

func (a *app) close() {
	if a.stopSession != nil {
		a.stopSession()
		<-a.sessionDone
	}
	if a.pool != nil {
		a.pool.Close()
	}
	if a.telemetry != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.telemetry.Shutdown(ctx); err != nil {
			a.log.Error().Err(err).Msg("failed to shutdown telemetry")
		}
	}
}

// followStatus logs session status changes until ctx is done or the session stops.
func (a *app) followStatus(ctx context.Context) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-a.sessionDone:
				return
			case ev := <-a.session.Events():
				if ev.Type == session.EventFailed {
					a.log.Warn().Str("job_id", ev.JobID).Msg(ev.Status)
					continue
				}
				a.log.Debug().Str("job_id", ev.JobID).Str("event", string(ev.Type)).Msg(ev.Status)
			}
		}
	}()
}
