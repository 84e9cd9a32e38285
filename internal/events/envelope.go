// Package events defines the canonical envelope every collector record is
// wrapped in before it reaches the journal, plus the normalizer that maps
// host change notifications onto that envelope.
package events

import (
	"time"
)

// Category labels a journal record. The values double as the journal line
// labels so downstream log parsers can route records by prefix.
type Category string

const (
	CategoryAccountInfo     Category = "account-info"
	CategoryCollection      Category = "collection"
	CategoryInventory       Category = "inventory"
	CategoryInventoryUpdate Category = "inventory-update"
)

// Envelope is the canonical record shape written to the journal. Field names
// stay PascalCase in JSON to match the established collector output format.
type Envelope struct {
	Timestamp  string `json:"Timestamp"`
	Source     string `json:"Source,omitempty"`
	Attachment any    `json:"Attachment"`
}

// Event pairs an envelope with the label it is journaled under.
type Event struct {
	Category Category
	Envelope Envelope
}

// Normalizer stamps host notifications into canonical events. The clock is
// injectable so tests can pin timestamps.
type Normalizer struct {
	now func() time.Time
}

// NewNormalizer builds a normalizer using the supplied time source.
func NewNormalizer(clock func() time.Time) *Normalizer {
	if clock == nil {
		clock = time.Now
	}
	return &Normalizer{now: clock}
}

func (n *Normalizer) stamp() string {
	return n.now().UTC().Format(time.RFC3339Nano)
}

// Update wraps an incremental change notification. The source tag records
// which host channel produced the payload; the payload itself is opaque.
func (n *Normalizer) Update(source string, payload any) Event {
	return Event{
		Category: CategoryInventoryUpdate,
		Envelope: Envelope{Timestamp: n.stamp(), Source: source, Attachment: payload},
	}
}

// Snapshot wraps a full-state payload under the given category with no
// source tag. Categories other than the update category are snapshot-like.
func (n *Normalizer) Snapshot(category Category, payload any) Event {
	return Event{
		Category: category,
		Envelope: Envelope{Timestamp: n.stamp(), Attachment: payload},
	}
}
