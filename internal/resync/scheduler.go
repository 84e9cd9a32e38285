// Package resync drives the periodic full-state snapshot loop that runs
// alongside event-driven updates. The journal's content dedup reconciles the
// two paths, so the loop can re-emit unchanged state without duplicating
// records.
package resync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"arenatracker/collector/internal/events"
	"arenatracker/collector/internal/logging"
)

// ErrNotReady signals that the host backing state is not available yet; the
// scheduler skips the tick silently and tries again on the next one.
var ErrNotReady = errors.New("host state not ready")

// Snapshot pairs a journal label with the envelope to emit.
type Snapshot struct {
	Category events.Category
	Envelope events.Envelope
}

// Producer builds the current full-state snapshot set on each tick.
type Producer func() ([]Snapshot, error)

// Emitter accepts snapshots; satisfied by the journal dedup sink.
type Emitter interface {
	Emit(event events.Event) (bool, error)
}

// Scheduler ticks at a fixed interval until its context is cancelled.
type Scheduler struct {
	interval time.Duration
	producer Producer
	sink     Emitter
	log      *zap.Logger
}

// NewScheduler configures the loop; a non-positive interval falls back to
// thirty minutes.
func NewScheduler(interval time.Duration, producer Producer, sink Emitter, logger *zap.Logger) *Scheduler {
	if interval <= 0 {
		interval = 30 * time.Minute
	}
	return &Scheduler{
		interval: interval,
		producer: producer,
		sink:     sink,
		log:      logging.OrNop(logger),
	}
}

// Run blocks, resyncing once per interval, until the context is cancelled.
// No producer failure terminates the loop.
func (s *Scheduler) Run(ctx context.Context) {
	if s == nil || s.producer == nil || s.sink == nil {
		return
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("resync loop stopped")
			return
		case <-ticker.C:
			s.tick()
		}
	}
}

func (s *Scheduler) tick() {
	snapshots, err := s.produce()
	if errors.Is(err, ErrNotReady) {
		s.log.Debug("resync skipped, host not ready")
		return
	}
	if err != nil {
		s.log.Warn("resync snapshot build failed", zap.Error(err))
		return
	}

	var fresh int
	for _, snapshot := range snapshots {
		accepted, err := s.sink.Emit(events.Event{Category: snapshot.Category, Envelope: snapshot.Envelope})
		if err != nil {
			s.log.Warn("resync emit failed",
				zap.String("label", string(snapshot.Category)), zap.Error(err))
			continue
		}
		if accepted {
			fresh++
		}
	}
	s.log.Debug("resync complete",
		zap.Int("snapshots", len(snapshots)), zap.Int("fresh", fresh))
}

// produce shields the loop from a panicking producer.
func (s *Scheduler) produce() (snapshots []Snapshot, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("snapshot producer panicked: %v", recovered)
		}
	}()
	return s.producer()
}
