// Package audit records who did what to which transfer. Sinks are fire and
// forget: a failing sink never fails the operation being audited.
package audit

import (
	"context"
	"log/slog"
)

// Level classifies an audit event.
type Level string

const (
	LevelSuccess Level = "success"
	LevelFailure Level = "failure"
	LevelWarning Level = "warning"
)

// Event is one audit record. Request and Response are snapshots and must be
// JSON-serialisable.
type Event struct {
	ActorID     string `json:"actor_id"`
	Action      string `json:"action"`
	ResourceID  string `json:"resource_id"`
	Description string `json:"description"`
	Request     any    `json:"request,omitempty"`
	Response    any    `json:"response,omitempty"`
}

// Sink receives audit events.
type Sink interface {
	LogSuccess(ctx context.Context, event Event)
	LogFailure(ctx context.Context, event Event)
	LogWarning(ctx context.Context, event Event)
}

// LoggerSink writes audit events to the structured logger.
type LoggerSink struct {
	logger *slog.Logger
}

// NewLoggerSink builds a sink writing to logger.
func NewLoggerSink(logger *slog.Logger) *LoggerSink {
	return &LoggerSink{logger: logger.With("component", "audit")}
}

func (s *LoggerSink) LogSuccess(ctx context.Context, event Event) {
	s.log(ctx, slog.LevelInfo, LevelSuccess, event)
}

func (s *LoggerSink) LogFailure(ctx context.Context, event Event) {
	s.log(ctx, slog.LevelWarn, LevelFailure, event)
}

func (s *LoggerSink) LogWarning(ctx context.Context, event Event) {
	s.log(ctx, slog.LevelWarn, LevelWarning, event)
}

func (s *LoggerSink) log(ctx context.Context, lvl slog.Level, level Level, event Event) {
	s.logger.Log(ctx, lvl, "audit",
		slog.String("outcome", string(level)),
		slog.String("actor_id", event.ActorID),
		slog.String("action", event.Action),
		slog.String("resource_id", event.ResourceID),
		slog.String("description", event.Description),
		slog.Any("request", event.Request),
		slog.Any("response", event.Response))
}

// Fanout forwards every event to each sink.
type Fanout []Sink

func (f Fanout) LogSuccess(ctx context.Context, event Event) {
	for _, s := range f {
		s.LogSuccess(ctx, event)
	}
}

func (f Fanout) LogFailure(ctx context.Context, event Event) {
	for _, s := range f {
		s.LogFailure(ctx, event)
	}
}

func (f Fanout) LogWarning(ctx context.Context, event Event) {
	for _, s := range f {
		s.LogWarning(ctx, event)
	}
}

// Discard drops every event.
type Discard struct{}

func (Discard) LogSuccess(context.Context, Event) {}
func (Discard) LogFailure(context.Context, Event) {}
func (Discard) LogWarning(context.Context, Event) {}
