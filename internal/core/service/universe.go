package service

import (
	"context"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Refresher rebuilds a cached token list.
type Refresher interface {
	Refresh(ctx context.Context) (int, error)
}

// UniverseScheduler refreshes the token universe on a cron schedule.
type UniverseScheduler struct {
	refresher Refresher
	schedule  string
	timeout   time.Duration
	logger    *zap.Logger

	mu     sync.Mutex
	cron   *cron.Cron
	ctx    context.Context
	cancel context.CancelFunc
}

func NewUniverseScheduler(r Refresher, schedule string, logger *zap.Logger) *UniverseScheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &UniverseScheduler{
		refresher: r,
		schedule:  schedule,
		timeout:   30 * time.Minute,
		logger:    logger.Named("universe"),
	}
}

// Start registers the job and starts the scheduler. When refreshNow is set
// the first refresh runs immediately in the background.
func (u *UniverseScheduler) Start(ctx context.Context, refreshNow bool) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.cron != nil {
		return errors.New("universe scheduler already started")
	}

	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	u.ctx, u.cancel = context.WithCancel(ctx)
	if _, err := c.AddFunc(u.schedule, u.run); err != nil {
		u.cancel()
		return errors.Wrapf(err, "invalid universe schedule %q", u.schedule)
	}
	c.Start()
	u.cron = c
	u.logger.Info("universe refresh scheduled", zap.String("schedule", u.schedule))

	if refreshNow {
		go u.run()
	}
	return nil
}

func (u *UniverseScheduler) run() {
	ctx, cancel := context.WithTimeout(u.ctx, u.timeout)
	defer cancel()

	start := time.Now()
	n, err := u.refresher.Refresh(ctx)
	if err != nil {
		u.logger.Error("universe refresh failed", zap.Error(err))
		return
	}
	u.logger.Info("universe refreshed", zap.Int("tokens", n), zap.Duration("took", time.Since(start)))
}

// Stop cancels a running refresh and waits for the scheduler to finish.
func (u *UniverseScheduler) Stop() {
	u.mu.Lock()
	c := u.cron
	u.cron = nil
	u.mu.Unlock()
	if c == nil {
		return
	}
	u.cancel()
	<-c.Stop().Done()
}
