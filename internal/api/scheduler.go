package api

import (
	"database/sql"
	"fmt"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/Avidan87/KAI-sub000/internal/service"
)

// Scheduler runs the periodic ledger repair: every user's ledger is rebuilt from frozen meal totals.
type Scheduler struct {
	db   *sql.DB
	log  *zap.Logger
	cron *cron.Cron
}

func NewScheduler(db *sql.DB, spec string, log *zap.Logger) (*Scheduler, error) {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Scheduler{db: db, log: log.Named("scheduler"), cron: cron.New()}
	if _, err := s.cron.AddFunc(spec, s.RepairLedgers); err != nil {
		return nil, fmt.Errorf("invalid repair schedule %q: %w", spec, err)
	}
	return s, nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop waits for a running repair to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

func (s *Scheduler) RepairLedgers() {
	s.log.Info("ledger repair started")
	reports, err := service.RebuildAllLedgers(s.db)
	if err != nil {
		s.log.Error("ledger repair failed", zap.Int("users_done", len(reports)), zap.Error(err))
		return
	}
	meals := 0
	for _, r := range reports {
		meals += r.Meals
	}
	s.log.Info("ledger repair finished", zap.Int("users", len(reports)), zap.Int("meals", meals))
}
