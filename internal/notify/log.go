package notify

import (
	"context"

	"go.uber.org/zap"
)

// LogNotifier records outbound notifications instead of delivering them.
// Used where no push transport is wired in.
type LogNotifier struct {
	Logger *zap.SugaredLogger
}

func (n *LogNotifier) Notify(_ context.Context, userUUID string, eventType string, payload any) error {
	n.Logger.Infow("notify", "user", userUUID, "event", eventType, "payload", payload)
	return nil
}
