package journal

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"sync"

	json "github.com/goccy/go-json"
	lru "github.com/hashicorp/golang-lru"
	"github.com/zeebo/xxh3"
	"go.uber.org/zap"

	"arenatracker/collector/internal/events"
	"arenatracker/collector/internal/logging"
)

// Appender abstracts the journal writer so the sink can be tested against an
// in-memory log.
type Appender interface {
	Append(label events.Category, envelope []byte) error
}

// AcceptFunc is notified after a record survives deduplication and reaches
// the journal.
type AcceptFunc func(label events.Category, envelope events.Envelope)

// Sink writes canonical events to the journal exactly once per distinct
// payload. The digest covers the attachment only, so the same business state
// reported by the event path and a later resync is journaled once.
type Sink struct {
	mu       sync.Mutex
	appender Appender
	seen     *lru.ARCCache
	log      *zap.Logger
	accepted []AcceptFunc
}

// NewSink builds a dedup sink over the given appender. Capacity bounds the
// seen-set; entries evicted under memory pressure may be re-journaled, which
// downstream consumers already tolerate.
func NewSink(appender Appender, capacity int, logger *zap.Logger, accepted ...AcceptFunc) (*Sink, error) {
	if appender == nil {
		return nil, fmt.Errorf("journal appender must be provided")
	}
	if capacity <= 0 {
		return nil, fmt.Errorf("dedup capacity must be positive")
	}
	cache, err := lru.NewARC(capacity)
	if err != nil {
		return nil, err
	}
	return &Sink{
		appender: appender,
		seen:     cache,
		log:      logging.OrNop(logger),
		accepted: accepted,
	}, nil
}

// Digest renders the 16-byte content hash of a serialized payload as
// lowercase hex.
func Digest(payload []byte) string {
	sum := xxh3.Hash128(payload)
	var buf [16]byte
	binary.BigEndian.PutUint64(buf[:8], sum.Hi)
	binary.BigEndian.PutUint64(buf[8:], sum.Lo)
	return hex.EncodeToString(buf[:])
}

// Emit journals the event unless an identical payload was already seen.
// The returned flag reports whether the record was appended.
func (s *Sink) Emit(event events.Event) (bool, error) {
	if s == nil {
		return false, fmt.Errorf("sink not initialised")
	}

	payload, err := json.Marshal(event.Envelope.Attachment)
	if err != nil {
		s.log.Warn("payload serialization failed",
			zap.String("label", string(event.Category)), zap.Error(err))
		return false, err
	}
	digest := Digest(payload)

	//1.- Check-and-append must be atomic per digest so concurrent duplicates
	// from the event path and a resync cannot both land in the journal.
	s.mu.Lock()
	if _, dup := s.seen.Get(digest); dup {
		s.mu.Unlock()
		return false, nil
	}

	envelope, err := json.Marshal(event.Envelope)
	if err != nil {
		s.mu.Unlock()
		s.log.Warn("envelope serialization failed",
			zap.String("label", string(event.Category)), zap.Error(err))
		return false, err
	}
	if err := s.appender.Append(event.Category, envelope); err != nil {
		//2.- Leave the digest unrecorded so a later identical payload retries.
		s.mu.Unlock()
		s.log.Warn("journal append failed",
			zap.String("label", string(event.Category)), zap.Error(err))
		return false, err
	}
	s.seen.Add(digest, struct{}{})
	s.mu.Unlock()

	//3.- Notify observers outside the lock; they may emit again.
	for _, accept := range s.accepted {
		if accept != nil {
			accept(event.Category, event.Envelope)
		}
	}
	return true, nil
}
