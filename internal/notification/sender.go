package notification

import (
	"context"
	"log/slog"
)

// LogSender writes notifications to the log instead of a mail relay; the
// development and test default.
type LogSender struct {
	logger *slog.Logger
}

func NewLogSender(logger *slog.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(_ context.Context, recipient, templateType string, fields map[string]string) error {
	s.logger.Info("notification delivered",
		"recipient", recipient,
		"template", templateType,
		"fields", fields)
	return nil
}
