// Package readiness blocks collector start-up until every host subsystem it
// depends on reports ready, running each condition's one-time setup action
// exactly once per session.
package readiness

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"arenatracker/collector/internal/logging"
)

// Condition names a precondition over host state plus the setup action that
// runs once when the predicate first holds. Ready must be side-effect free.
type Condition struct {
	Name  string
	Ready func() bool
	Init  func() error
}

// Gate evaluates conditions in full passes with a constant pause between
// unsatisfied passes. Satisfied conditions persist across Await calls until
// Reset, so an identity change can demand a full re-run.
type Gate struct {
	interval time.Duration
	log      *zap.Logger

	mu        sync.Mutex
	satisfied map[string]bool
}

// NewGate builds a gate pausing the given interval between passes.
func NewGate(interval time.Duration, logger *zap.Logger) *Gate {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Gate{
		interval:  interval,
		log:       logging.OrNop(logger),
		satisfied: make(map[string]bool),
	}
}

// Reset forgets every satisfied condition. Called on identity change so the
// next Await re-runs all setup actions.
func (g *Gate) Reset() {
	g.mu.Lock()
	g.satisfied = make(map[string]bool)
	g.mu.Unlock()
}

// Await blocks until every condition is satisfied or the context is
// cancelled. There is no timeout: the host may take arbitrarily long.
func (g *Gate) Await(ctx context.Context, conditions []Condition) error {
	if g == nil {
		return fmt.Errorf("gate not initialised")
	}

	pass := 0
	operation := func() error {
		pass++
		pending := g.pendingNames(conditions)
		if len(pending) > 0 {
			g.log.Info("waiting for host readiness",
				zap.Int("pass", pass), zap.Strings("pending", pending))
		}

		remaining := g.evaluatePass(conditions)
		if remaining == 0 {
			g.log.Info("host readiness complete", zap.Int("passes", pass))
			return nil
		}
		return fmt.Errorf("%d of %d conditions unsatisfied", remaining, len(conditions))
	}

	policy := backoff.WithContext(backoff.NewConstantBackOff(g.interval), ctx)
	return backoff.Retry(operation, policy)
}

func (g *Gate) pendingNames(conditions []Condition) []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	var pending []string
	for _, cond := range conditions {
		if !g.satisfied[cond.Name] {
			pending = append(pending, cond.Name)
		}
	}
	return pending
}

// evaluatePass runs one sweep over the conditions and reports how many are
// still unsatisfied. Already-satisfied conditions are skipped so their setup
// actions never run twice within a session.
func (g *Gate) evaluatePass(conditions []Condition) int {
	remaining := 0
	for _, cond := range conditions {
		g.mu.Lock()
		done := g.satisfied[cond.Name]
		g.mu.Unlock()
		if done {
			continue
		}

		if cond.Ready == nil || !cond.Ready() {
			remaining++
			continue
		}

		//1.- A failing setup action is swallowed so the other conditions in
		// this pass still get evaluated; the condition stays unsatisfied and
		// the action is retried on a later pass.
		if err := g.runInit(cond); err != nil {
			g.log.Warn("readiness action failed",
				zap.String("condition", cond.Name), zap.Error(err))
			remaining++
			continue
		}

		g.mu.Lock()
		g.satisfied[cond.Name] = true
		g.mu.Unlock()
	}
	return remaining
}

func (g *Gate) runInit(cond Condition) (err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("readiness action panicked: %v", recovered)
		}
	}()
	if cond.Init == nil {
		return nil
	}
	return cond.Init()
}
