package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	stderrors "errors"

	"github.com/honeynil/EquipmentLendingService/internal/models"
	pkgerrors "github.com/honeynil/EquipmentLendingService/pkg/errors"
	"github.com/robfig/cron/v3"
)

const runTimeout = 5 * time.Minute

type Promoter interface {
	PromoteGrades(ctx context.Context, year int) (*models.PromotionResult, error)
}

// Scheduler fires the annual grade promotion on a cron schedule evaluated in
// a fixed time zone.
type Scheduler struct {
	cron     *cron.Cron
	schedule cron.Schedule
	location *time.Location
	promoter Promoter
	now      func() time.Time
}

func New(expr, timezone string, promoter Promoter) (*Scheduler, error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid promotion timezone %q: %w", timezone, err)
	}
	schedule, err := cron.ParseStandard(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid promotion schedule %q: %w", expr, err)
	}

	s := &Scheduler{
		cron:     cron.New(cron.WithLocation(loc)),
		schedule: schedule,
		location: loc,
		promoter: promoter,
		now:      time.Now,
	}
	s.cron.Schedule(schedule, cron.FuncJob(s.run))
	return s, nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
	slog.Info("promotion scheduler started", "next_run", s.Next(time.Now()))
}

// Stop halts the scheduler and waits for a running promotion, at most until ctx ends.
func (s *Scheduler) Stop(ctx context.Context) {
	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
		slog.Warn("promotion still running at shutdown")
	}
}

// Next returns the first run after t.
func (s *Scheduler) Next(t time.Time) time.Time {
	return s.schedule.Next(t.In(s.location))
}

func (s *Scheduler) run() {
	ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
	defer cancel()

	// Год берём в зоне расписания: все реплики получают один и тот же ключ
	year := s.now().In(s.location).Year()
	result, err := s.promoter.PromoteGrades(ctx, year)
	if stderrors.Is(err, pkgerrors.ErrPromotionClaimed) {
		slog.Info("grade promotion skipped, another instance claimed it", "year", year)
		return
	}
	if err != nil {
		slog.Error("scheduled grade promotion failed", "error", err)
		return
	}
	slog.Info("scheduled grade promotion finished", "promoted", result.Promoted, "deactivated", result.Deactivated)
}
