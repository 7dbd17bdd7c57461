// Package session owns the interactive state of a gioswatch client: the
// station list, the active filter and the status line. A single goroutine
// (Run) holds that state; actions are sent to it as commands, long-running
// work happens on worker goroutines that report back with result messages.
package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/gioswatch/gioswatch/internal/airquality"
)

// ErrClosed is returned when the session loop is not running anymore.
var ErrClosed = errors.New("session closed")

// Pipeline is the work a session delegates to worker goroutines.
// *airquality.Service implements it.
type Pipeline interface {
	LoadStations(ctx context.Context) ([]airquality.Station, error)
	LoadStationsFromSnapshot(ctx context.Context) ([]airquality.Station, error)
	Sensors(ctx context.Context, station airquality.Station) (airquality.Station, error)
	Report(ctx context.Context, station airquality.Station, kind airquality.ReportKind) (airquality.Report, error)
	Chart(ctx context.Context, station airquality.Station) (airquality.Chart, error)
}

var _ Pipeline = (*airquality.Service)(nil)

// EventType identifies what an Event carries.
type EventType string

// Event types.
const (
	EventStatus   EventType = "status"
	EventStations EventType = "stations"
	EventSensors  EventType = "sensors"
	EventReport   EventType = "report"
	EventChart    EventType = "chart"
	EventFailed   EventType = "failed"
)

// Event is published for every status change and every finished action.
type Event struct {
	JobID  string
	Type   EventType
	Status string

	Stations []airquality.Station
	Station  *airquality.Station
	Report   *airquality.Report
	Chart    *airquality.Chart
	Err      error
}

// State is a snapshot of the session state.
type State struct {
	Stations []airquality.Station
	// Visible holds the stations matching Filter.
	Visible []airquality.Station
	Filter  string
	Status  string
	// Pending counts actions whose workers have not reported back.
	Pending int
}

// Config holds configuration for a Session.
type Config struct {
	// Pipeline performs the actual work.
	Pipeline Pipeline

	// Logger for session operations.
	Logger zerolog.Logger

	// EventBuffer sizes the Events channel (default: 64). Events that do not
	// fit are dropped, so a session nobody listens to never blocks.
	EventBuffer int
}

// Session is the single owner of the client state.
type Session struct {
	pipeline Pipeline
	logger   zerolog.Logger

	commands chan command
	results  chan result
	events   chan Event
	done     chan struct{}
}

// Job is a submitted action. Its final event is delivered once on Done.
type Job struct {
	ID   string
	done chan Event
}

// Done returns the channel the final event of the job is sent on.
func (j *Job) Done() <-chan Event {
	return j.done
}

// Wait blocks until the job finishes. The returned error is the job's error, if any.
func (j *Job) Wait(ctx context.Context) (Event, error) {
	select {
	case ev := <-j.done:
		return ev, ev.Err
	case <-ctx.Done():
		return Event{}, ctx.Err()
	}
}

// state is only touched by the Run goroutine.
type state struct {
	stations []airquality.Station
	filter   string
	status   string
	pending  int
}

// command is executed on the Run goroutine.
type command func(ctx context.Context, st *state)

// result is produced by a worker and applied on the Run goroutine.
type result struct {
	job   *Job
	apply func(st *state) Event
}

// New creates a session. Call Run to start it.
func New(cfg Config) *Session {
	buffer := cfg.EventBuffer
	if buffer <= 0 {
		buffer = 64
	}
	return &Session{
		pipeline: cfg.Pipeline,
		logger:   cfg.Logger,
		commands: make(chan command),
		results:  make(chan result),
		events:   make(chan Event, buffer),
		done:     make(chan struct{}),
	}
}

// Events returns the channel status updates and finished actions are published on.
func (s *Session) Events() <-chan Event {
	return s.events
}

// Run processes commands and worker results until ctx is cancelled.
func (s *Session) Run(ctx context.Context) error {
	defer close(s.done)

	st := &state{status: "ready"}
	s.logger.Debug().Msg("session started")

	for {
		select {
		case <-ctx.Done():
			s.logger.Debug().Int("pending", st.pending).Msg("session stopped")
			return ctx.Err()

		case cmd := <-s.commands:
			cmd(ctx, st)

		case res := <-s.results:
			st.pending--
			ev := res.apply(st)
			ev.JobID = res.job.ID
			st.status = ev.Status
			s.publish(ev)
			res.job.done <- ev
		}
	}
}

// submit hands cmd to the Run goroutine.
func (s *Session) submit(ctx context.Context, cmd command) error {
	select {
	case s.commands <- cmd:
		return nil
	case <-s.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) publish(ev Event) {
	select {
	case s.events <- ev:
	default:
		s.logger.Debug().Str("job_id", ev.JobID).Str("type", string(ev.Type)).Msg("event dropped")
	}
}

func (s *Session) setStatus(st *state, jobID, status string) {
	st.status = status
	s.publish(Event{JobID: jobID, Type: EventStatus, Status: status})
}

// start registers a new job on the Run goroutine and runs work on a worker
// goroutine. The function returned by work is executed back on Run.
func (s *Session) start(
	ctx context.Context,
	action, status string,
	prepare func(st *state) (func(context.Context) func(*state) Event, error),
) (*Job, error) {
	job := &Job{ID: uuid.NewString(), done: make(chan Event, 1)}
	errc := make(chan error, 1)

	err := s.submit(ctx, func(runCtx context.Context, st *state) {
		work, err := prepare(st)
		if err != nil {
			s.setStatus(st, job.ID, err.Error())
			errc <- err
			return
		}

		st.pending++
		s.setStatus(st, job.ID, status)
		logger := s.logger.With().Str("job_id", job.ID).Str("action", action).Logger()
		logger.Debug().Msg("worker started")

		go func() {
			apply := work(runCtx)
			select {
			case s.results <- result{job: job, apply: apply}:
				logger.Debug().Msg("worker finished")
			case <-runCtx.Done():
			}
		}()
		errc <- nil
	})
	if err != nil {
		return nil, err
	}
	if err := <-errc; err != nil {
		return nil, err
	}
	return job, nil
}

// findStation is run on the Run goroutine.
func findStation(st *state, id int) (airquality.Station, error) {
	station, ok := airquality.FindStation(st.stations, id)
	if !ok {
		return airquality.Station{}, fmt.Errorf("station %d: %w", id, airquality.ErrStationNotFound)
	}
	return station.Clone(), nil
}

// failed builds the final event of an action that returned err.
func failed(what string, err error) Event {
	return Event{
		Type:   EventFailed,
		Status: fmt.Sprintf("%s failed: %v", what, err),
		Err:    err,
	}
}
