/*
scheduler.go - Overdue contract scheduler

PURPOSE:
  Periodically looks for open contracts whose planned checkout has passed
  and logs them so the operator can close them out. Nothing is closed
  automatically: a closeout needs the operator's decision.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Checks once immediately on start
  - Keeps the result of the last check (Last)

USAGE:
  scheduler := NewOverdueScheduler(store, logger)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: ListOverdueContracts (same rule, on demand)
  - rental/types.go: Contract.IsOverdue
*/
package api

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/warp/stay-engine/generic"
	"github.com/warp/stay-engine/rental"
)

// OverdueScheduler reports open contracts past their planned end.
type OverdueScheduler struct {
	Store         rental.ContractStore
	Logger        *slog.Logger
	CheckInterval time.Duration
	Enabled       bool
	Now           func() time.Time

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex

	lastMu  sync.Mutex
	last    []rental.Contract
	lastRun time.Time
}

// NewOverdueScheduler creates a scheduler with an hourly check.
func NewOverdueScheduler(store rental.ContractStore, logger *slog.Logger) *OverdueScheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &OverdueScheduler{
		Store:         store,
		Logger:        logger.With("component", "overdue-scheduler"),
		CheckInterval: time.Hour,
		Enabled:       true,
		Now:           time.Now,
	}
}

// Start begins the scheduler.
func (s *OverdueScheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.Enabled {
		s.Logger.Info("disabled, not starting")
		return
	}
	if s.ticker != nil {
		return
	}

	s.ticker = time.NewTicker(s.CheckInterval)
	s.stop = make(chan struct{})
	s.wg.Add(1)

	go s.run(s.ticker, s.stop)

	s.Logger.Info("started", "interval", s.CheckInterval)
}

// Stop stops the scheduler and waits for an in-flight check.
func (s *OverdueScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ticker != nil {
		s.ticker.Stop()
		close(s.stop)
		s.wg.Wait()
		s.ticker = nil
		s.Logger.Info("stopped")
	}
}

func (s *OverdueScheduler) run(ticker *time.Ticker, stop <-chan struct{}) {
	defer s.wg.Done()

	s.Check(context.Background())

	for {
		select {
		case <-ticker.C:
			s.Check(context.Background())
		case <-stop:
			return
		}
	}
}

// Check runs one pass and returns the overdue contracts found.
func (s *OverdueScheduler) Check(ctx context.Context) ([]rental.Contract, error) {
	now := s.Now()

	contracts, err := s.Store.ListContracts(ctx)
	if err != nil {
		s.Logger.Error("list contracts", "error", err)
		return nil, err
	}

	overdue := OverdueContracts(contracts, generic.DateOf(now))
	for _, c := range overdue {
		s.Logger.Warn("contract overdue",
			"code", c.Code,
			"unit", c.UnitID,
			"planned_end", c.PlannedEndDate.String(),
			"days_over", generic.DaysBetween(c.PlannedEndDate, generic.DateOf(now)),
		)
	}
	s.Logger.Info("overdue check complete", "open_past_end", len(overdue))

	s.lastMu.Lock()
	s.last, s.lastRun = overdue, now
	s.lastMu.Unlock()

	return overdue, nil
}

// Last returns the result of the most recent check.
func (s *OverdueScheduler) Last() ([]rental.Contract, time.Time) {
	s.lastMu.Lock()
	defer s.lastMu.Unlock()
	return append([]rental.Contract(nil), s.last...), s.lastRun
}

// OverdueContracts filters open contracts whose planned end is before today,
// longest overdue first.
func OverdueContracts(contracts []rental.Contract, today generic.Date) []rental.Contract {
	var out []rental.Contract
	for _, c := range contracts {
		if c.IsOverdue(today) {
			out = append(out, c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].PlannedEndDate.Before(out[j].PlannedEndDate)
	})
	return out
}
