// Package export mirrors the most recent accepted snapshots to flat JSON
// files so external tooling can read current state without replaying the
// journal.
package export

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	json "github.com/goccy/go-json"
	"go.uber.org/zap"

	"arenatracker/collector/internal/events"
	"arenatracker/collector/internal/logging"
)

// Exporter rewrites one file per snapshot label. Incremental updates are not
// exported; they only ever matter as journal history.
type Exporter struct {
	mu  sync.Mutex
	dir string
	log *zap.Logger
}

// NewExporter prepares the export directory.
func NewExporter(dir string, logger *zap.Logger) (*Exporter, error) {
	if dir == "" {
		return nil, fmt.Errorf("export directory must be provided")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &Exporter{dir: dir, log: logging.OrNop(logger)}, nil
}

// Accept is registered on the journal sink and fires only for records that
// survived deduplication, so files are rewritten only on real state changes.
func (e *Exporter) Accept(label events.Category, envelope events.Envelope) {
	if e == nil {
		return
	}
	if label == events.CategoryInventoryUpdate {
		return
	}
	if err := e.write(label, envelope); err != nil {
		e.log.Warn("snapshot export failed",
			zap.String("label", string(label)), zap.Error(err))
	}
}

// write replaces the label's file atomically via rename so readers never see
// a torn snapshot.
func (e *Exporter) write(label events.Category, envelope events.Envelope) error {
	data, err := json.MarshalIndent(envelope, "", "  ")
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	target := filepath.Join(e.dir, string(label)+".json")
	tmp, err := os.CreateTemp(e.dir, string(label)+"-*.tmp")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), target)
}
