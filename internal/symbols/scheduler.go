package symbols

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// MidnightLoader runs Load once at startup, again at the next UTC midnight
// and every 24 hours after that.
type MidnightLoader struct {
	Load   func(ctx context.Context) error
	Logger *zap.Logger

	// now is swapped in tests.
	now func() time.Time
}

func NewMidnightLoader(load func(ctx context.Context) error, logger *zap.Logger) *MidnightLoader {
	return &MidnightLoader{Load: load, Logger: logger, now: time.Now}
}

// Run blocks until ctx is done. Load errors are logged and never stop the loop.
func (m *MidnightLoader) Run(ctx context.Context) error {
	m.runOnce(ctx)

	timer := time.NewTimer(untilNextMidnight(m.now()))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
			m.runOnce(ctx)
			timer.Reset(untilNextMidnight(m.now()))
		}
	}
}

func (m *MidnightLoader) runOnce(ctx context.Context) {
	start := m.now()
	if err := m.Load(ctx); err != nil {
		m.Logger.Error("scheduled symbol load failed", zap.Error(err))
		return
	}
	m.Logger.Debug("scheduled symbol load done", zap.Duration("took", m.now().Sub(start)))
}

func untilNextMidnight(now time.Time) time.Duration {
	now = now.UTC()
	next := now.Truncate(24 * time.Hour).Add(24 * time.Hour)
	return next.Sub(now)
}
