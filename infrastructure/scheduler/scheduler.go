package scheduler

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"curetrack/infrastructure/cache"
	"curetrack/infrastructure/session"
	"curetrack/infrastructure/sqlite"
)

// Scheduler runs housekeeping jobs on cron schedules.
type Scheduler struct {
	cron     *cron.Cron
	db       *sqlite.DB
	sessions *cache.UserSessionCache
	logger   *zap.Logger
	now      func() time.Time
}

func New(db *sqlite.DB, sessions *cache.UserSessionCache, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		cron:     cron.New(),
		db:       db,
		sessions: sessions,
		logger:   logger,
		now:      time.Now,
	}
}

// Start registers the session purge job on schedule and starts the cron loop.
func (s *Scheduler) Start(schedule string) error {
	if _, err := s.cron.AddFunc(schedule, s.PurgeSessions); err != nil {
		return err
	}
	s.logger.Info("starting scheduler", zap.String("session_purge", schedule))
	s.cron.Start()
	return nil
}

// Stop waits for running jobs to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info("scheduler stopped")
}

// PurgeSessions removes expired sessions from the database and the cache.
func (s *Scheduler) PurgeSessions() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	now := s.now()
	n, err := session.PurgeExpired(ctx, s.db, now)
	if err != nil {
		s.logger.Error("session purge failed", zap.Error(err))
		return
	}
	cached := 0
	if s.sessions != nil {
		cached = s.sessions.PurgeExpired(now)
	}
	s.logger.Info("expired sessions purged", zap.Int64("db", n), zap.Int("cache", cached))
}
