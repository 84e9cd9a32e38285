package collector

import (
	"context"
	"sync"
	"testing"
	"time"

	json "github.com/goccy/go-json"

	"arenatracker/collector/internal/events"
	"arenatracker/collector/internal/host"
	"arenatracker/collector/internal/model"
)

type fakeIdentity struct {
	mu           sync.Mutex
	ready        bool
	account      model.AccountInfo
	currentCalls int
	callback     func()
}

func (f *fakeIdentity) Ready() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ready
}

func (f *fakeIdentity) Current() (model.AccountInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.currentCalls++
	return f.account, nil
}

func (f *fakeIdentity) OnChanged(callback func()) func() {
	f.mu.Lock()
	f.callback = callback
	f.mu.Unlock()
	return func() {
		f.mu.Lock()
		f.callback = nil
		f.mu.Unlock()
	}
}

func (f *fakeIdentity) setReady(ready bool) {
	f.mu.Lock()
	f.ready = ready
	f.mu.Unlock()
}

func (f *fakeIdentity) reads() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.currentCalls
}

func (f *fakeIdentity) fireChange(t *testing.T) {
	f.mu.Lock()
	callback := f.callback
	f.mu.Unlock()
	if callback == nil {
		t.Fatal("no identity callback attached")
	}
	callback()
}

type fakeInventory struct {
	mu             sync.Mutex
	ready          bool
	counts         map[uint32]uint32
	wallet         model.PlayerInventory
	handlers       map[string]host.ChannelHandler
	subscribeCalls int
}

func newFakeInventory() *fakeInventory {
	return &fakeInventory{
		counts:   map[uint32]uint32{101: 4, 55: 1},
		wallet:   model.PlayerInventory{Gold: 1200, Gems: 340},
		handlers: make(map[string]host.ChannelHandler),
	}
}

func (f *fakeInventory) Ready() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ready
}

func (f *fakeInventory) CurrentCounts() (map[uint32]uint32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	counts := make(map[uint32]uint32, len(f.counts))
	for grpID, count := range f.counts {
		counts[grpID] = count
	}
	return counts, nil
}

func (f *fakeInventory) CurrentWallet() (model.PlayerInventory, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.wallet, nil
}

func (f *fakeInventory) Subscribe(channel string, handler host.ChannelHandler) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribeCalls++
	f.handlers[channel] = handler
	return nil
}

func (f *fakeInventory) Unsubscribe(channel string, _ host.ChannelHandler) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.handlers, channel)
	return nil
}

func (f *fakeInventory) setReady(ready bool) {
	f.mu.Lock()
	f.ready = ready
	f.mu.Unlock()
}

func (f *fakeInventory) subscriptions() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subscribeCalls
}

func (f *fakeInventory) deliver(t *testing.T, channel string, payload string) {
	f.mu.Lock()
	handler := f.handlers[channel]
	f.mu.Unlock()
	if handler == nil {
		t.Fatalf("no handler attached for %s", channel)
	}
	handler(channel, json.RawMessage(payload))
}

type captureSink struct {
	mu     sync.Mutex
	events []events.Event
}

func (s *captureSink) Emit(event events.Event) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return true, nil
}

func (s *captureSink) count(category events.Category) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for _, event := range s.events {
		if event.Category == category {
			total++
		}
	}
	return total
}

func (s *captureSink) last(category events.Category) (events.Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.events) - 1; i >= 0; i-- {
		if s.events[i].Category == category {
			return s.events[i], true
		}
	}
	return events.Event{}, false
}

func waitFor(t *testing.T, timeout time.Duration, check func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if check() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not reached before timeout")
}

func testController(t *testing.T, identity *fakeIdentity, inventory *fakeInventory, sink *captureSink) *Controller {
	t.Helper()
	controller, err := New(Config{
		Identity:          identity,
		Inventory:         inventory,
		Sink:              sink,
		Channels:          []string{"inventory.delta", "wallet.changed"},
		ResyncInterval:    time.Hour,
		ReadinessInterval: 2 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return controller
}

func TestControllerActivatesAndPublishesInitialState(t *testing.T) {
	identity := &fakeIdentity{account: model.AccountInfo{UserID: "u-1", ScreenName: "Planeswalker#12345"}}
	inventory := newFakeInventory()
	sink := &captureSink{}
	controller := testController(t, identity, inventory, sink)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := controller.OnStart(ctx); err != nil {
		t.Fatalf("OnStart: %v", err)
	}
	if state := controller.State(); state != StateAwaitingReadiness {
		t.Fatalf("expected awaiting_readiness after start, got %s", state)
	}

	//1.- The gate must hold while neither subsystem is ready.
	time.Sleep(10 * time.Millisecond)
	if sink.count(events.CategoryAccountInfo) != 0 {
		t.Fatal("nothing may be published before readiness")
	}

	//2.- Flip both subsystems ready and wait for activation.
	identity.setReady(true)
	inventory.setReady(true)
	waitFor(t, time.Second, func() bool { return controller.State() == StateActive })

	if got := sink.count(events.CategoryAccountInfo); got != 1 {
		t.Fatalf("expected 1 account-info record, got %d", got)
	}
	if got := sink.count(events.CategoryCollection); got != 1 {
		t.Fatalf("expected 1 collection record, got %d", got)
	}
	if got := sink.count(events.CategoryInventory); got != 1 {
		t.Fatalf("expected 1 inventory record, got %d", got)
	}
	if got := inventory.subscriptions(); got != 2 {
		t.Fatalf("expected both channels subscribed once, got %d subscribe calls", got)
	}

	//3.- Collection snapshots are sorted by card identifier.
	collection, ok := sink.last(events.CategoryCollection)
	if !ok {
		t.Fatal("collection record missing")
	}
	cards, ok := collection.Envelope.Attachment.([]model.CollectedCard)
	if !ok {
		t.Fatalf("unexpected collection attachment %T", collection.Envelope.Attachment)
	}
	if len(cards) != 2 || cards[0].GrpID != 55 || cards[1].GrpID != 101 {
		t.Fatalf("collection not sorted by grpId: %v", cards)
	}

	cancel()
	controller.Wait()
}

func TestControllerJournalsChangeNotifications(t *testing.T) {
	identity := &fakeIdentity{ready: true}
	inventory := newFakeInventory()
	inventory.setReady(true)
	sink := &captureSink{}
	controller := testController(t, identity, inventory, sink)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := controller.OnStart(ctx); err != nil {
		t.Fatalf("OnStart: %v", err)
	}
	waitFor(t, time.Second, func() bool { return controller.State() == StateActive })

	inventory.deliver(t, "inventory.delta", `{"goldDelta":25}`)

	waitFor(t, time.Second, func() bool { return sink.count(events.CategoryInventoryUpdate) == 1 })
	update, _ := sink.last(events.CategoryInventoryUpdate)
	if update.Envelope.Source != "inventory.delta" {
		t.Fatalf("update must carry the originating channel, got %q", update.Envelope.Source)
	}
	payload, ok := update.Envelope.Attachment.(json.RawMessage)
	if !ok || string(payload) != `{"goldDelta":25}` {
		t.Fatalf("unexpected update payload %v", update.Envelope.Attachment)
	}

	cancel()
	controller.Wait()
}

func TestControllerReinitializesOnIdentityChange(t *testing.T) {
	identity := &fakeIdentity{ready: true, account: model.AccountInfo{UserID: "u-1"}}
	inventory := newFakeInventory()
	inventory.setReady(true)
	sink := &captureSink{}
	controller := testController(t, identity, inventory, sink)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := controller.OnStart(ctx); err != nil {
		t.Fatalf("OnStart: %v", err)
	}
	waitFor(t, time.Second, func() bool { return controller.State() == StateActive })

	baselineReads := identity.reads()
	baselineSubs := inventory.subscriptions()
	if baselineReads != 1 {
		t.Fatalf("expected exactly 1 account read in the first session, got %d", baselineReads)
	}

	//1.- A new account signs in: the controller must run the whole
	// acquisition sequence again, each action exactly once.
	identity.fireChange(t)
	waitFor(t, time.Second, func() bool { return identity.reads() == baselineReads+1 })
	waitFor(t, time.Second, func() bool { return controller.State() == StateActive })

	if got := identity.reads(); got != baselineReads+1 {
		t.Fatalf("expected exactly one more account read, got %d", got-baselineReads)
	}
	if got := inventory.subscriptions(); got != baselineSubs+2 {
		t.Fatalf("expected both channels re-subscribed once, got %d new subscribe calls", got-baselineSubs)
	}
	if got := sink.count(events.CategoryAccountInfo); got != 2 {
		t.Fatalf("expected a second account-info record, got %d", got)
	}

	cancel()
	controller.Wait()
}

func TestControllerRejectsIncompleteConfig(t *testing.T) {
	identity := &fakeIdentity{}
	inventory := newFakeInventory()
	sink := &captureSink{}

	cases := []struct {
		name string
		cfg  Config
	}{
		{"missing identity", Config{Inventory: inventory, Sink: sink, Channels: []string{"c"}}},
		{"missing inventory", Config{Identity: identity, Sink: sink, Channels: []string{"c"}}},
		{"missing sink", Config{Identity: identity, Inventory: inventory, Channels: []string{"c"}}},
		{"missing channels", Config{Identity: identity, Inventory: inventory, Sink: sink}},
	}
	for _, tc := range cases {
		if _, err := New(tc.cfg); err == nil {
			t.Fatalf("%s: expected an error", tc.name)
		}
	}
}

func TestControllerStartIsOneShot(t *testing.T) {
	identity := &fakeIdentity{}
	inventory := newFakeInventory()
	sink := &captureSink{}
	controller := testController(t, identity, inventory, sink)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := controller.OnStart(ctx); err != nil {
		t.Fatalf("first OnStart: %v", err)
	}
	if err := controller.OnStart(ctx); err == nil {
		t.Fatal("second OnStart must be rejected")
	}

	cancel()
	controller.Wait()
}
