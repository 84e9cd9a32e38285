// Package host declares the narrow surface the collector consumes from the
// running game client, and a WebSocket-backed adapter for it. The collector
// never reaches into the host process directly; everything arrives through
// these capabilities.
package host

import (
	json "github.com/goccy/go-json"

	"arenatracker/collector/internal/model"
)

// ChannelHandler receives the raw payload of one change notification from a
// named host channel. The payload is opaque to the transport.
type ChannelHandler func(channel string, payload json.RawMessage)

// IdentityProvider exposes the logged-in account and login-state changes.
type IdentityProvider interface {
	// Ready reports whether account information has been published yet.
	Ready() bool
	// Current returns the most recent account information.
	Current() (model.AccountInfo, error)
	// OnChanged registers a callback fired on every login-state change. The
	// returned detach function unregisters exactly that callback.
	OnChanged(callback func()) (detach func())
}

// InventorySource exposes the card inventory and its change channels.
type InventorySource interface {
	// Ready reports whether inventory state has been published yet.
	Ready() bool
	// CurrentCounts returns owned copy counts keyed by card identifier.
	CurrentCounts() (map[uint32]uint32, error)
	// CurrentWallet returns the non-card inventory state.
	CurrentWallet() (model.PlayerInventory, error)
	// Subscribe attaches a handler to a named change channel.
	Subscribe(channel string, handler ChannelHandler) error
	// Unsubscribe detaches from a channel; detaching an absent handler is a
	// no-op, never an error.
	Unsubscribe(channel string, handler ChannelHandler) error
}
