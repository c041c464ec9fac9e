package logging

import (
	"log/slog"
	"os"
	"strings"
)

// Init configures the global slog logger.
// In production (ENVIRONMENT=production) it uses JSON output for log aggregation.
// Otherwise it uses the human-readable text handler.
func Init() {
	env := strings.ToLower(os.Getenv("ENVIRONMENT"))

	var handler slog.Handler
	if env == "production" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		})
	}

	slog.SetDefault(slog.New(handler))
}

// WithRequest returns a logger with fan-out request context fields attached.
// Use this for all logging within the dispatch/join path of one query.
func WithRequest(correlationID, userID string) *slog.Logger {
	return slog.With(
		"correlation_id", correlationID,
		"user_id", userID,
	)
}

// WithSource returns a logger scoped to one data source within a request.
func WithSource(logger *slog.Logger, source string) *slog.Logger {
	return logger.With("source", source)
}
