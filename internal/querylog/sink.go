package querylog

import (
	"context"
	"errors"

	"tlcharts/internal/domain"

	"gitlab.com/nevasik7/alerting/logger"
)

// Sink persists or forwards chart request telemetry
type Sink interface {
	Name() string
	Append(ctx context.Context, rec domain.QueryLogRecord) error
	Close(ctx context.Context) error
}

// Healther is implemented by sinks backed by a remote dependency
type Healther interface {
	Health(ctx context.Context) error
}

// Multi fans a record out to every sink. Failures are logged and never returned,
// a broken sink must not fail the chart request.
type Multi struct {
	sinks []Sink
	log   logger.Logger
}

func NewMulti(log logger.Logger, sinks ...Sink) *Multi {
	out := make([]Sink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return &Multi{sinks: out, log: log}
}

func (m *Multi) Name() string { return "multi" }

func (m *Multi) Append(ctx context.Context, rec domain.QueryLogRecord) error {
	for _, s := range m.sinks {
		if err := s.Append(ctx, rec); err != nil {
			m.log.Warnf("query log sink %s failed for id=%s: %v", s.Name(), rec.ID, err)
		}
	}
	return nil
}

// Health joins the errors of every unhealthy sink
func (m *Multi) Health(ctx context.Context) error {
	var errs []error
	for _, s := range m.sinks {
		h, ok := s.(Healther)
		if !ok {
			continue
		}
		if err := h.Health(ctx); err != nil {
			errs = append(errs, errors.New(s.Name()+": "+err.Error()))
		}
	}
	return errors.Join(errs...)
}

func (m *Multi) Close(ctx context.Context) error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
