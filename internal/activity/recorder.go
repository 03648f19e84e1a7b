package activity

import (
	"context"

	"go.uber.org/zap"
)

// Recorder is the fire-and-forget write surface handed to services. Feed
// failures are logged, never propagated; an activity outage must not fail
// the operation being recorded.
type Recorder struct {
	feed   Feed
	logger *zap.Logger
}

func NewRecorder(feed Feed, logger *zap.Logger) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{feed: feed, logger: logger}
}

func (r *Recorder) Record(ctx context.Context, subject, action, actor string, payload any) {
	if _, err := r.feed.Append(ctx, subject, action, actor, payload); err != nil {
		r.logger.Warn("activity append failed",
			zap.String("action", action),
			zap.String("subject", subject),
			zap.Error(err))
	}
}
