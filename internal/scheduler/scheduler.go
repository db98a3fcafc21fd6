package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron"

	"github.com/skybon/weatherchecker/internal/weather"
)

// DefaultInterval is used when the configured interval is not positive.
const DefaultInterval = 15 * time.Minute

// Refresher runs one refresh sweep for a category.
type Refresher interface {
	Refresh(ctx context.Context, category weather.Category) (weather.HistoryEntry, error)
}

// Scheduler periodically refreshes every configured category.
type Scheduler struct {
	scheduler  *gocron.Scheduler
	service    Refresher
	categories []weather.Category
	interval   time.Duration
	timeout    time.Duration
	logger     *slog.Logger
}

// New creates a new Scheduler. timeout bounds a single sweep; 0 means none.
func New(categories []weather.Category, interval, timeout time.Duration, service Refresher, logger *slog.Logger) *Scheduler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Scheduler{
		scheduler:  gocron.NewScheduler(time.UTC),
		service:    service,
		categories: categories,
		interval:   interval,
		timeout:    timeout,
		logger:     logger.With("component", "scheduler"),
	}
}

// Start schedules one job per category and starts the underlying scheduler.
// Jobs run immediately and then every interval; a job never overlaps with
// its own previous run.
func (s *Scheduler) Start() error {
	if len(s.categories) == 0 {
		s.logger.Info("no categories configured; nothing to schedule")
		return nil
	}

	for _, category := range s.categories {
		_, err := s.scheduler.Every(s.interval).SingletonMode().Tag(string(category)).Do(s.run, category)
		if err != nil {
			return err
		}
	}

	s.scheduler.StartAsync()
	s.logger.Info("scheduler started", "categories", len(s.categories), "interval", s.interval)
	return nil
}

func (s *Scheduler) run(category weather.Category) {
	s.logger.Debug("running refresh job", "category", category)

	ctx := context.Background()
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	entry, err := s.service.Refresh(ctx, category)
	if err != nil {
		s.logger.Warn("refresh job finished with errors", "category", category, "error", err)
	}
	s.logger.Debug("completed refresh job", "category", category, "entries", len(entry.Data))
}

// Stop stops the scheduler and cancels any future jobs.
func (s *Scheduler) Stop() {
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
}
