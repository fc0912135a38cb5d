package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/opsdash/authgate/internal/core/domain"
	"github.com/opsdash/authgate/internal/core/ports"
	"github.com/opsdash/authgate/internal/pkg/metrics"
)

type auditService struct {
	sinks []ports.AuditSink
	log   zerolog.Logger
}

// NewAuditService returns an AuditService that fans each event out to sinks.
func NewAuditService(log zerolog.Logger, sinks ...ports.AuditSink) ports.AuditService {
	return &auditService{sinks: sinks, log: log}
}

// Process delivers the event to every sink. A failing sink does not stop the
// others; all failures are returned joined.
func (s *auditService) Process(ctx context.Context, ev domain.AuthEvent) error {
	var errs []error
	for i, sink := range s.sinks {
		if err := sink.Record(ctx, ev); err != nil {
			s.log.Warn().Err(err).
				Str("event_id", ev.ID).
				Str("type", string(ev.Type)).
				Int("sink", i).
				Msg("audit sink failed")
			errs = append(errs, fmt.Errorf("sink %d: %w", i, err))
		}
	}

	if len(errs) > 0 {
		metrics.AuditEventsTotal.WithLabelValues(string(ev.Type), "failed").Inc()
		return errors.Join(errs...)
	}
	metrics.AuditEventsTotal.WithLabelValues(string(ev.Type), "delivered").Inc()
	return nil
}

// LogSink writes audit events to the structured log.
type LogSink struct {
	log zerolog.Logger
}

func NewLogSink(log zerolog.Logger) *LogSink {
	return &LogSink{log: log}
}

func (s *LogSink) Record(_ context.Context, ev domain.AuthEvent) error {
	entry := s.log.Info().
		Str("event_id", ev.ID).
		Str("type", string(ev.Type)).
		Time("at", ev.At)
	if ev.UserID != 0 {
		entry = entry.Int64("user_id", ev.UserID)
	}
	if ev.Email != "" {
		entry = entry.Str("email", ev.Email)
	}
	if ev.ClientAddr != "" {
		entry = entry.Str("client_addr", ev.ClientAddr)
	}
	if ev.Reason != "" {
		entry = entry.Str("reason", ev.Reason)
	}
	entry.Msg("audit")
	return nil
}
