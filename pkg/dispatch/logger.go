package dispatch

import (
	"context"
	"log/slog"
)

// LoggerHook writes every event to a structured logger. Profile and
// identity traffic logs at Info; rate limiting at Warn, since it needs
// operator attention.
type LoggerHook struct {
	log *slog.Logger
}

// NewLoggerHook creates a logging hook. logger may be nil.
func NewLoggerHook(logger *slog.Logger) *LoggerHook {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggerHook{log: logger}
}

// EventTypes returns nil: the logger sees everything.
func (h *LoggerHook) EventTypes() []EventType { return nil }

// OnEvent implements Hook.
func (h *LoggerHook) OnEvent(_ context.Context, event Event) error {
	switch e := event.(type) {
	case *ProfileEvent:
		h.log.Info("profile extracted",
			slog.String("username", e.Profile.Username),
			slog.String("source", e.Source),
			slog.Bool("idOnly", e.Profile.IDOnly))
	case *RateLimitEvent:
		h.log.Warn("rate limited by host service",
			slog.String("url", e.URL),
			slog.String("targetId", e.TargetID))
	case *IdentitiesEvent:
		h.log.Info("identities discovered",
			slog.Int("count", len(e.Pairs)))
	default:
		h.log.Debug("event", slog.String("type", string(event.EventType())))
	}
	return nil
}
