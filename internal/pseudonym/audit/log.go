package audit

import (
	"context"
	"log/slog"

	"pseudonym/internal/pseudonym/ports"
)

// LogPublisher writes events to a structured logger.
type LogPublisher struct {
	logger *slog.Logger
}

func NewLogPublisher(logger *slog.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Emit(ctx context.Context, event ports.AssignmentEvent) error {
	p.logger.InfoContext(ctx, "pseudonym assigned",
		"digest", event.Digest.Short(),
		"assigned_at", event.AssignedAt,
		"request_id", event.RequestID,
	)
	return nil
}
