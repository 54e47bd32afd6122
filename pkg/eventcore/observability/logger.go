package observability

import (
	"log/slog"
)

// EnrichLogger adds dispatch context to a logger.
// Returns a new logger with group, partition, and event fields.
func EnrichLogger(logger *slog.Logger, group string, partition int) *slog.Logger {
	if logger == nil {
		return nil
	}
	return logger.With(
		slog.String("group", group),
		slog.Int("partition", partition),
	)
}

// LogPublished logs a successful publish.
func LogPublished(logger *slog.Logger, eventID, eventType, subjectID string) {
	if logger == nil {
		return
	}
	logger.Debug("event published",
		slog.String("event_id", eventID),
		slog.String("event_type", eventType),
		slog.String("subject_id", subjectID),
	)
}

// LogPublishError logs a failed publish.
func LogPublishError(logger *slog.Logger, eventType, subjectID string, retryable bool, err error) {
	if logger == nil {
		return
	}
	logger.Error("publish failed",
		slog.String("event_type", eventType),
		slog.String("subject_id", subjectID),
		slog.Bool("retryable", retryable),
		slog.String("error", err.Error()),
	)
}

// LogDelivered logs a successful delivery to one handler.
func LogDelivered(logger *slog.Logger, eventID, handler string, attempt int) {
	if logger == nil {
		return
	}
	logger.Debug("event delivered",
		slog.String("event_id", eventID),
		slog.String("handler", handler),
		slog.Int("attempt", attempt),
	)
}

// LogRetryScheduled logs a retry with its backoff delay.
func LogRetryScheduled(logger *slog.Logger, eventID, handler string, attempt int, delayMs float64) {
	if logger == nil {
		return
	}
	logger.Warn("retry scheduled",
		slog.String("event_id", eventID),
		slog.String("handler", handler),
		slog.Int("attempt", attempt),
		slog.Float64("delay_ms", delayMs),
	)
}

// LogDeadLettered logs an event reaching the dead-letter sink. This record,
// with the event id, attempt count and last failure, is what makes replay
// possible; dead-lettering is never silent.
func LogDeadLettered(logger *slog.Logger, eventID, eventType, reason string, attempts int) {
	if logger == nil {
		return
	}
	logger.Error("event dead-lettered",
		slog.String("event_id", eventID),
		slog.String("event_type", eventType),
		slog.String("reason", reason),
		slog.Int("attempts", attempts),
	)
}

// LogDuplicateSuppressed logs a suppressed duplicate delivery.
func LogDuplicateSuppressed(logger *slog.Logger, eventID string) {
	if logger == nil {
		return
	}
	logger.Debug("duplicate suppressed",
		slog.String("event_id", eventID),
	)
}

// LogWorkerPaused logs a partition worker pausing after broker connection loss.
func LogWorkerPaused(logger *slog.Logger, partition int, delayMs float64, err error) {
	if logger == nil {
		return
	}
	logger.Warn("partition worker paused",
		slog.Int("partition", partition),
		slog.Float64("retry_delay_ms", delayMs),
		slog.String("error", err.Error()),
	)
}

// LogSubscriptionActive logs one resolved entry of the dispatch table at
// startup.
func LogSubscriptionActive(logger *slog.Logger, handlerID string, eventTypes []string) {
	if logger == nil {
		return
	}
	logger.Info("subscription active",
		slog.String("handler", handlerID),
		slog.Any("event_types", eventTypes),
	)
}

// LogShutdown logs dispatcher shutdown progress.
func LogShutdown(logger *slog.Logger, pendingRetries int) {
	if logger == nil {
		return
	}
	logger.Info("dispatcher shutting down",
		slog.Int("pending_retries_dead_lettered", pendingRetries),
	)
}
