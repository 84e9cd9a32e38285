// Package collector orchestrates the observer lifecycle: wait for the host
// subsystems, subscribe to change channels, keep the periodic resync running,
// and start over whenever the login identity changes.
package collector

import (
	"context"
	"fmt"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/looplab/fsm"
	"go.uber.org/zap"

	"arenatracker/collector/internal/events"
	"arenatracker/collector/internal/host"
	"arenatracker/collector/internal/logging"
	"arenatracker/collector/internal/model"
	"arenatracker/collector/internal/readiness"
	"arenatracker/collector/internal/resync"
	"arenatracker/collector/internal/subscription"
)

// Controller states.
const (
	StateUninitialized     = "uninitialized"
	StateAwaitingReadiness = "awaiting_readiness"
	StateActive            = "active"
	StateReinitializing    = "reinitializing"
)

// Machine events.
const (
	eventStart           = "start"
	eventReady           = "ready"
	eventIdentityChanged = "identity_changed"
	eventReacquire       = "reacquire"
)

// Emitter accepts canonical events; satisfied by the journal dedup sink.
type Emitter interface {
	Emit(event events.Event) (bool, error)
}

// Config wires the controller's collaborators. Identity, Inventory and Sink
// are injected so nothing in here reaches for ambient host state.
type Config struct {
	Identity          host.IdentityProvider
	Inventory         host.InventorySource
	Sink              Emitter
	Channels          []string
	ResyncInterval    time.Duration
	ReadinessInterval time.Duration
	Clock             func() time.Time
	Logger            *zap.Logger
}

// Controller runs the readiness → subscribe → resync sequence off the host's
// primary goroutine and reacts to identity changes.
type Controller struct {
	identity  host.IdentityProvider
	inventory host.InventorySource
	sink      Emitter
	channels  []string
	norm      *events.Normalizer
	gate      *readiness.Gate
	registry  *subscription.Registry
	resyncInt time.Duration
	log       *zap.Logger

	machine *fsm.FSM

	identityCh chan struct{}
	detachMu   sync.Mutex
	detach     func()

	resyncOnce sync.Once
	wg         sync.WaitGroup
}

// New validates the collaborator set and builds the controller state machine.
func New(cfg Config) (*Controller, error) {
	if cfg.Identity == nil {
		return nil, fmt.Errorf("identity provider must be provided")
	}
	if cfg.Inventory == nil {
		return nil, fmt.Errorf("inventory source must be provided")
	}
	if cfg.Sink == nil {
		return nil, fmt.Errorf("sink must be provided")
	}
	if len(cfg.Channels) == 0 {
		return nil, fmt.Errorf("at least one change channel must be configured")
	}

	logger := logging.OrNop(cfg.Logger)
	controller := &Controller{
		identity:   cfg.Identity,
		inventory:  cfg.Inventory,
		sink:       cfg.Sink,
		channels:   append([]string(nil), cfg.Channels...),
		norm:       events.NewNormalizer(cfg.Clock),
		gate:       readiness.NewGate(cfg.ReadinessInterval, logger),
		registry:   subscription.NewRegistry(cfg.Inventory, logger),
		resyncInt:  cfg.ResyncInterval,
		log:        logger,
		identityCh: make(chan struct{}, 1),
	}

	controller.machine = fsm.NewFSM(
		StateUninitialized,
		fsm.Events{
			{Name: eventStart, Src: []string{StateUninitialized}, Dst: StateAwaitingReadiness},
			{Name: eventReady, Src: []string{StateAwaitingReadiness}, Dst: StateActive},
			{Name: eventIdentityChanged, Src: []string{StateActive}, Dst: StateReinitializing},
			{Name: eventReacquire, Src: []string{StateReinitializing}, Dst: StateAwaitingReadiness},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				logger.Info("collector state change",
					zap.String("from", e.Src), zap.String("to", e.Dst))
			},
		},
	)

	return controller, nil
}

// State reports the current lifecycle state.
func (c *Controller) State() string {
	return c.machine.Current()
}

// OnStart is the host start hook: it kicks off the readiness sequence on a
// dedicated goroutine so the host's primary thread never blocks.
func (c *Controller) OnStart(ctx context.Context) error {
	if err := c.machine.Event(ctx, eventStart); err != nil {
		return fmt.Errorf("collector already started: %w", err)
	}
	c.wg.Add(1)
	go c.run(ctx)
	return nil
}

// OnDisable is the host disable hook; observed only, nothing is torn down.
func (c *Controller) OnDisable() {
	c.log.Info("collector disabled by host")
}

// OnDestroy is the host destroy hook; observed only.
func (c *Controller) OnDestroy() {
	c.log.Info("collector destroyed by host")
}

// OnQuit is the host shutdown hook; observed only.
func (c *Controller) OnQuit() {
	c.log.Info("host application quitting")
}

// Wait blocks until the controller goroutines have drained after their
// context was cancelled.
func (c *Controller) Wait() {
	c.wg.Wait()
}

func (c *Controller) run(ctx context.Context) {
	defer c.wg.Done()

	for {
		//1.- Listen for login-state changes for the whole session, including
		// the readiness phase; the buffered channel keeps a change that fires
		// mid-await until the controller is active.
		c.attachIdentityListener()

		if err := c.gate.Await(ctx, c.conditions()); err != nil {
			c.detachIdentityListener()
			return
		}
		c.transition(ctx, eventReady)
		c.startResync(ctx)

		select {
		case <-ctx.Done():
			c.detachIdentityListener()
			return
		case <-c.identityCh:
			//2.- Identity changed: forget this session's readiness and start
			// the acquisition sequence over.
			c.transition(ctx, eventIdentityChanged)
			c.detachIdentityListener()
			c.gate.Reset()
			c.transition(ctx, eventReacquire)
		}
	}
}

func (c *Controller) transition(ctx context.Context, event string) {
	if err := c.machine.Event(ctx, event); err != nil {
		c.log.Warn("state transition rejected",
			zap.String("event", event), zap.Error(err))
	}
}

func (c *Controller) attachIdentityListener() {
	c.detachMu.Lock()
	defer c.detachMu.Unlock()
	if c.detach != nil {
		return
	}
	c.detach = c.identity.OnChanged(func() {
		select {
		case c.identityCh <- struct{}{}:
		default:
		}
	})
}

func (c *Controller) detachIdentityListener() {
	c.detachMu.Lock()
	defer c.detachMu.Unlock()
	if c.detach != nil {
		c.detach()
		c.detach = nil
	}
}

// conditions builds the per-session readiness set. Each setup action runs at
// most once per session; the gate retries a failing action on later passes.
func (c *Controller) conditions() []readiness.Condition {
	return []readiness.Condition{
		{
			Name:  "account-info",
			Ready: c.identity.Ready,
			Init:  c.publishAccountInfo,
		},
		{
			Name:  "inventory",
			Ready: c.inventory.Ready,
			Init:  c.subscribeAndPublishInventory,
		},
	}
}

func (c *Controller) publishAccountInfo() error {
	account, err := c.identity.Current()
	if err != nil {
		return err
	}
	if _, err := c.sink.Emit(c.norm.Snapshot(events.CategoryAccountInfo, account)); err != nil {
		return err
	}
	c.log.Info("account identified", zap.String("screen_name", account.ScreenName))
	return nil
}

func (c *Controller) subscribeAndPublishInventory() error {
	//1.- Unsubscribe-then-subscribe keeps this idempotent across sessions.
	c.registry.ResubscribeAll(c.channels, c.handleChange)

	//2.- Dump the initial snapshots; the dedup sink absorbs re-runs.
	snapshots, err := c.buildSnapshots()
	if err != nil {
		return err
	}
	for _, snapshot := range snapshots {
		if _, err := c.sink.Emit(events.Event{Category: snapshot.Category, Envelope: snapshot.Envelope}); err != nil {
			return err
		}
	}
	return nil
}

// handleChange normalizes one change notification and journals it. Sink
// errors are already logged there; a change callback must never fail the
// host's delivery thread.
func (c *Controller) handleChange(channel string, payload json.RawMessage) {
	_, _ = c.sink.Emit(c.norm.Update(channel, payload))
}

// buildSnapshots produces the full-state snapshot set for both the initial
// dump and every resync tick. Collection entries are sorted by card
// identifier so serialized output is stable across resyncs.
func (c *Controller) buildSnapshots() ([]resync.Snapshot, error) {
	if !c.inventory.Ready() {
		return nil, resync.ErrNotReady
	}
	counts, err := c.inventory.CurrentCounts()
	if err != nil {
		return nil, err
	}
	wallet, err := c.inventory.CurrentWallet()
	if err != nil {
		return nil, err
	}
	collection := c.norm.Snapshot(events.CategoryCollection, model.SortedCollection(counts))
	inventory := c.norm.Snapshot(events.CategoryInventory, wallet)
	return []resync.Snapshot{
		{Category: collection.Category, Envelope: collection.Envelope},
		{Category: inventory.Category, Envelope: inventory.Envelope},
	}, nil
}

// startResync launches the periodic loop once per process; it keeps running
// across identity changes and simply finds no ready state mid-transition.
func (c *Controller) startResync(ctx context.Context) {
	c.resyncOnce.Do(func() {
		scheduler := resync.NewScheduler(c.resyncInt, c.buildSnapshots, c.sink, c.log)
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			scheduler.Run(ctx)
		}()
	})
}
