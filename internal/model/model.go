// Package model declares the payload shapes the collector reads from the
// game client and writes to the journal. Field names mirror the JSON the
// host runtime produces, so every struct keeps camelCase keys.
package model

import "sort"

// AccountInfo identifies the logged-in player account.
type AccountInfo struct {
	UserID     string `json:"userId"`
	ScreenName string `json:"screenName"`
}

// CollectedCard pairs an arena card identifier with the owned copy count.
type CollectedCard struct {
	GrpID uint32 `json:"grpId"`
	Count uint32 `json:"count"`
}

// BoosterStack describes a stack of unopened boosters for one set.
type BoosterStack struct {
	CollationID uint32 `json:"collationId"`
	SetCode     string `json:"setCode"`
	Count       uint32 `json:"count"`
}

// TicketStack describes event ticket holdings.
type TicketStack struct {
	TicketID string `json:"ticketId"`
	Count    uint32 `json:"count"`
}

// PlayerInventory captures the wallet portion of the player profile.
type PlayerInventory struct {
	WcCommon        uint32         `json:"wcCommon"`
	WcUncommon      uint32         `json:"wcUncommon"`
	WcRare          uint32         `json:"wcRare"`
	WcMythic        uint32         `json:"wcMythic"`
	Gold            uint32         `json:"gold"`
	Gems            uint32         `json:"gems"`
	WcTrackPosition int32          `json:"wcTrackPosition"`
	VaultProgress   float64        `json:"vaultProgress"`
	Boosters        []BoosterStack `json:"boosters"`
	Tickets         []TicketStack  `json:"tickets,omitempty"`
	BasicLandSet    string         `json:"basicLandSet,omitempty"`
}

// InventoryDelta lists the wallet and card changes reported by one host
// inventory event.
type InventoryDelta struct {
	GemsDelta          int32          `json:"gemsDelta"`
	GoldDelta          int32          `json:"goldDelta"`
	WcCommonDelta      int32          `json:"wcCommonDelta"`
	WcUncommonDelta    int32          `json:"wcUncommonDelta"`
	WcRareDelta        int32          `json:"wcRareDelta"`
	WcMythicDelta      int32          `json:"wcMythicDelta"`
	VaultProgressDelta float64        `json:"vaultProgressDelta"`
	CardsAdded         []uint32       `json:"cardsAdded"`
	BoosterDelta       []BoosterStack `json:"boosterDelta"`
}

// InventoryUpdateContext names the host-side action that produced an update.
type InventoryUpdateContext struct {
	Source   string `json:"source"`
	SourceID string `json:"sourceId,omitempty"`
}

// InventoryUpdate is the payload of one incremental inventory change.
type InventoryUpdate struct {
	Delta           InventoryDelta         `json:"delta"`
	AetherizedCards []uint32               `json:"aetherizedCards,omitempty"`
	XpGained        int32                  `json:"xpGained"`
	Context         InventoryUpdateContext `json:"context"`
}

// SortedCollection flattens a card-count mapping into a slice ordered by
// ascending card identifier so serialized snapshots are stable across runs.
func SortedCollection(counts map[uint32]uint32) []CollectedCard {
	cards := make([]CollectedCard, 0, len(counts))
	for grpID, count := range counts {
		cards = append(cards, CollectedCard{GrpID: grpID, Count: count})
	}
	sort.Slice(cards, func(i, j int) bool { return cards[i].GrpID < cards[j].GrpID })
	return cards
}
