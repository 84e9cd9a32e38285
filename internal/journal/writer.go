// Package journal persists collector records to an append-style log. Live
// segments are snappy-compressed JSONL so every record survives a crash;
// rotated segments are re-encoded to zstd for dense archival.
package journal

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/golang/snappy"
	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"

	"arenatracker/collector/internal/events"
	"arenatracker/collector/internal/logging"
)

// ManifestSchemaVersion tracks the journal bundle layout.
const ManifestSchemaVersion = 1

// Manifest describes one collector run so tooling can locate its segments.
type Manifest struct {
	Version   int    `json:"version"`
	RunID     string `json:"run_id"`
	CreatedAt string `json:"created_at"`
	Segments  string `json:"segments"`
}

// Record is the shape of a single journal line.
type Record struct {
	Label    events.Category `json:"label"`
	Envelope json.RawMessage `json:"envelope"`
}

type writerOption func(*Writer)

// WithClock overrides the writer time source; primarily used in tests.
func WithClock(clock func() time.Time) writerOption {
	return func(w *Writer) {
		if clock != nil {
			w.now = clock
		}
	}
}

// Writer appends labelled envelopes to size-rotated compressed segments.
type Writer struct {
	mu       sync.Mutex
	dir      string
	runID    string
	maxBytes int64
	now      func() time.Time
	log      *zap.Logger

	seq     int
	file    *os.File
	stream  *snappy.Writer
	written int64
}

// NewWriter prepares the journal directory, writes the run manifest, and
// opens the first live segment.
func NewWriter(dir string, maxSegmentBytes int64, logger *zap.Logger, opts ...writerOption) (*Writer, Manifest, error) {
	if dir == "" {
		return nil, Manifest{}, fmt.Errorf("journal directory must be provided")
	}
	if maxSegmentBytes <= 0 {
		return nil, Manifest{}, fmt.Errorf("segment size cap must be positive")
	}

	writer := &Writer{
		dir:      dir,
		runID:    uuid.NewString(),
		maxBytes: maxSegmentBytes,
		now:      time.Now,
		log:      logging.OrNop(logger),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(writer)
		}
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, Manifest{}, err
	}

	manifest := Manifest{
		Version:   ManifestSchemaVersion,
		RunID:     writer.runID,
		CreatedAt: writer.now().UTC().Format(time.RFC3339Nano),
		Segments:  "journal-*.jsonl.sz",
	}
	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return nil, Manifest{}, err
	}
	if err := os.WriteFile(filepath.Join(dir, "manifest.json"), data, 0o644); err != nil {
		return nil, Manifest{}, err
	}

	if err := writer.openSegmentLocked(); err != nil {
		return nil, Manifest{}, err
	}
	return writer, manifest, nil
}

// RunID exposes the identifier assigned to this collector run.
func (w *Writer) RunID() string {
	if w == nil {
		return ""
	}
	return w.runID
}

func (w *Writer) segmentPath(seq int) string {
	return filepath.Join(w.dir, fmt.Sprintf("journal-%06d.jsonl.sz", seq))
}

func (w *Writer) openSegmentLocked() error {
	w.seq++
	file, err := os.Create(w.segmentPath(w.seq))
	if err != nil {
		return err
	}
	w.file = file
	w.stream = snappy.NewBufferedWriter(file)
	w.written = 0
	return nil
}

// Append writes a single labelled envelope line and flushes it to disk.
func (w *Writer) Append(label events.Category, envelope []byte) error {
	if w == nil {
		return fmt.Errorf("journal writer not initialised")
	}

	line, err := json.Marshal(Record{Label: label, Envelope: envelope})
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stream == nil {
		return fmt.Errorf("journal writer closed")
	}

	//1.- Persist the record before accounting so a failed write never rotates.
	if _, err := w.stream.Write(line); err != nil {
		return err
	}
	if _, err := w.stream.Write([]byte("\n")); err != nil {
		return err
	}
	if err := w.stream.Flush(); err != nil {
		return err
	}
	w.written += int64(len(line)) + 1

	//2.- Rotate once the uncompressed payload crosses the segment cap.
	if w.written >= w.maxBytes {
		if err := w.rotateLocked(); err != nil {
			return err
		}
	}
	return nil
}

func (w *Writer) rotateLocked() error {
	sealed := w.segmentPath(w.seq)
	if err := w.closeSegmentLocked(); err != nil {
		return err
	}
	if err := w.openSegmentLocked(); err != nil {
		return err
	}
	//3.- Archive the sealed segment after the fresh one accepts writes, so a
	// failed recompression never blocks the journal.
	if err := archiveSegment(sealed); err != nil {
		w.log.Warn("journal segment archival failed",
			zap.String("segment", sealed), zap.Error(err))
	}
	return nil
}

func (w *Writer) closeSegmentLocked() error {
	if w.stream == nil {
		return nil
	}
	var firstErr error
	if err := w.stream.Close(); err != nil {
		firstErr = err
	}
	if err := w.file.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	w.stream = nil
	w.file = nil
	return firstErr
}

// Close seals the live segment and releases file handles.
func (w *Writer) Close() error {
	if w == nil {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closeSegmentLocked()
}

// archiveSegment re-encodes a sealed snappy segment as zstd and removes the
// original on success.
func archiveSegment(path string) error {
	in, err := os.Open(path)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(archivePath(path))
	if err != nil {
		return err
	}
	encoder, err := zstd.NewWriter(out)
	if err != nil {
		out.Close()
		return err
	}
	if _, err := io.Copy(encoder, snappy.NewReader(in)); err != nil {
		encoder.Close()
		out.Close()
		return err
	}
	if err := encoder.Close(); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Remove(path)
}

func archivePath(segment string) string {
	base := segment[:len(segment)-len(".jsonl.sz")]
	return base + ".jsonl.zst"
}

// ReadSegment decodes every record from a live (snappy) segment. Intended
// for tooling and tests, not the hot path.
func ReadSegment(path string) ([]Record, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var records []Record
	scanner := bufio.NewScanner(snappy.NewReader(file))
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		var record Record
		if err := json.Unmarshal(scanner.Bytes(), &record); err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return records, nil
}
