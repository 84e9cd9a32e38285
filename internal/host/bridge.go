package host

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"arenatracker/collector/internal/logging"
	"arenatracker/collector/internal/model"
)

// Reserved channel names the helper uses for state frames. Everything else
// is treated as a change-notification channel and fanned out to subscribers.
const (
	ChannelAccountInfo = "account-info"
	ChannelInventory   = "inventory"
	ChannelCollection  = "collection"
	ChannelLoginState  = "login-state"
)

// frame is the wire shape of one message from the in-process helper.
type frame struct {
	Channel string          `json:"channel"`
	Payload json.RawMessage `json:"payload"`
}

// Bridge implements IdentityProvider and InventorySource over a local
// WebSocket connection to the helper embedded in the game client. The helper
// pushes full state frames on connect and change frames afterwards; the
// bridge caches the former and fans out the latter.
type Bridge struct {
	url    string
	log    *zap.Logger
	dialer *websocket.Dialer

	mu           sync.Mutex
	account      *model.AccountInfo
	wallet       *model.PlayerInventory
	counts       map[uint32]uint32
	handlers     map[string]ChannelHandler
	identityCbs  map[int]func()
	nextCallback int
}

// NewBridge prepares a bridge for the given ws:// URL; Start must be called
// before any state is available.
func NewBridge(url string, logger *zap.Logger) *Bridge {
	return &Bridge{
		url:         url,
		log:         logging.OrNop(logger),
		dialer:      websocket.DefaultDialer,
		handlers:    make(map[string]ChannelHandler),
		identityCbs: make(map[int]func()),
	}
}

// Start runs the connect-and-read loop until the context is cancelled,
// reconnecting with exponential backoff. Readiness simply stays false until
// the helper has pushed its state frames, so the collector's readiness gate
// absorbs connection churn.
func (b *Bridge) Start(ctx context.Context) {
	go b.run(ctx)
}

func (b *Bridge) run(ctx context.Context) {
	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = 0

	for {
		if ctx.Err() != nil {
			return
		}
		conn, err := b.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			wait := policy.NextBackOff()
			b.log.Warn("bridge dial failed",
				zap.String("url", b.url), zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
				continue
			}
		}
		policy.Reset()

		b.readLoop(ctx, conn)
		conn.Close()
	}
}

func (b *Bridge) dial(ctx context.Context) (*websocket.Conn, error) {
	conn, resp, err := b.dialer.DialContext(ctx, b.url, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	return conn, err
}

func (b *Bridge) readLoop(ctx context.Context, conn *websocket.Conn) {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				b.log.Warn("bridge read failed", zap.Error(err))
			}
			return
		}
		var msg frame
		if err := json.Unmarshal(data, &msg); err != nil {
			b.log.Warn("bridge frame malformed", zap.Error(err))
			continue
		}
		b.dispatch(msg)
	}
}

func (b *Bridge) dispatch(msg frame) {
	switch msg.Channel {
	case ChannelAccountInfo:
		var account model.AccountInfo
		if err := json.Unmarshal(msg.Payload, &account); err != nil {
			b.log.Warn("account frame malformed", zap.Error(err))
			return
		}
		b.mu.Lock()
		b.account = &account
		b.mu.Unlock()
	case ChannelInventory:
		var wallet model.PlayerInventory
		if err := json.Unmarshal(msg.Payload, &wallet); err != nil {
			b.log.Warn("inventory frame malformed", zap.Error(err))
			return
		}
		b.mu.Lock()
		b.wallet = &wallet
		b.mu.Unlock()
	case ChannelCollection:
		var cards []model.CollectedCard
		if err := json.Unmarshal(msg.Payload, &cards); err != nil {
			b.log.Warn("collection frame malformed", zap.Error(err))
			return
		}
		counts := make(map[uint32]uint32, len(cards))
		for _, card := range cards {
			counts[card.GrpID] = card.Count
		}
		b.mu.Lock()
		b.counts = counts
		b.mu.Unlock()
	case ChannelLoginState:
		//1.- A login-state change invalidates the cached identity before the
		// callbacks run, so readiness re-acquires from scratch.
		b.mu.Lock()
		b.account = nil
		callbacks := make([]func(), 0, len(b.identityCbs))
		for _, callback := range b.identityCbs {
			callbacks = append(callbacks, callback)
		}
		b.mu.Unlock()
		for _, callback := range callbacks {
			callback()
		}
	default:
		b.mu.Lock()
		handler := b.handlers[msg.Channel]
		b.mu.Unlock()
		if handler == nil {
			b.log.Debug("frame on unsubscribed channel",
				zap.String("channel", msg.Channel))
			return
		}
		handler(msg.Channel, msg.Payload)
	}
}

// Ready reports whether the helper has published account information.
func (b *Bridge) Ready() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.account != nil
}

// Current returns the cached account information.
func (b *Bridge) Current() (model.AccountInfo, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.account == nil {
		return model.AccountInfo{}, errors.New("account information not available")
	}
	return *b.account, nil
}

// OnChanged registers a login-state callback and returns its detach func.
func (b *Bridge) OnChanged(callback func()) func() {
	if callback == nil {
		return func() {}
	}
	b.mu.Lock()
	id := b.nextCallback
	b.nextCallback++
	b.identityCbs[id] = callback
	b.mu.Unlock()
	return func() {
		b.mu.Lock()
		delete(b.identityCbs, id)
		b.mu.Unlock()
	}
}

// InventoryReady reports whether both wallet and collection frames arrived.
func (b *Bridge) InventoryReady() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.wallet != nil && b.counts != nil
}

// CurrentCounts returns a copy of the cached card counts.
func (b *Bridge) CurrentCounts() (map[uint32]uint32, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.counts == nil {
		return nil, errors.New("collection not available")
	}
	counts := make(map[uint32]uint32, len(b.counts))
	for grpID, count := range b.counts {
		counts[grpID] = count
	}
	return counts, nil
}

// CurrentWallet returns the cached wallet state.
func (b *Bridge) CurrentWallet() (model.PlayerInventory, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.wallet == nil {
		return model.PlayerInventory{}, errors.New("inventory not available")
	}
	return *b.wallet, nil
}

// Subscribe attaches the handler to a change channel, replacing any prior
// handler on that channel.
func (b *Bridge) Subscribe(channel string, handler ChannelHandler) error {
	if channel == "" {
		return errors.New("channel name must be provided")
	}
	if handler == nil {
		return errors.New("handler must be provided")
	}
	b.mu.Lock()
	b.handlers[channel] = handler
	b.mu.Unlock()
	return nil
}

// Unsubscribe detaches whichever handler holds the channel; detaching an
// absent handler is a no-op.
func (b *Bridge) Unsubscribe(channel string, _ ChannelHandler) error {
	b.mu.Lock()
	delete(b.handlers, channel)
	b.mu.Unlock()
	return nil
}

// Identity exposes the bridge as the account collaborator.
func (b *Bridge) Identity() IdentityProvider { return identityView{b} }

// Inventory exposes the bridge as the inventory collaborator, with its own
// readiness covering both wallet and collection state.
func (b *Bridge) Inventory() InventorySource { return inventoryView{b} }

type identityView struct{ *Bridge }

type inventoryView struct{ *Bridge }

func (v inventoryView) Ready() bool { return v.InventoryReady() }

var (
	_ IdentityProvider = identityView{}
	_ InventorySource  = inventoryView{}
)
