// internal/history/history.go
package history

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/solaudit/feeledger/internal/ledger"
)

// csvHeader is the column layout of a history file.
var csvHeader = []string{
	"sequence", "event_type", "vault_type", "vault_address",
	"amount", "balance_before", "balance_after", "slot", "timestamp",
	"source_signature", "hash",
}

// EventHistory appends every ledger entry to a per-run CSV file, buffered
// with a periodic flush. It is a side collaborator of the watcher: the
// ledger file stays the source of truth, the CSV exists for spreadsheets
// and quick greps.
type EventHistory struct {
	mu       sync.Mutex
	writer   *csv.Writer
	file     *os.File
	ticker   *time.Ticker
	done     chan struct{}
	logger   *zap.Logger
	filePath string

	writtenRecords uint64
	flushCount     uint64
}

// New creates a history writer under dir. Each run gets its own file named
// by run ID so restarts never interleave rows.
func New(dir string, runID uuid.UUID, flushInterval time.Duration, logger *zap.Logger) (*EventHistory, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create history directory: %w", err)
	}

	filePath := filepath.Join(dir, fmt.Sprintf("events_%s_%s.csv",
		time.Now().Format("20060102_150405"), runID.String()[:8]))

	file, err := os.OpenFile(filePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open history file: %w", err)
	}

	eh := &EventHistory{
		writer:   csv.NewWriter(file),
		file:     file,
		ticker:   time.NewTicker(flushInterval),
		done:     make(chan struct{}),
		logger:   logger.Named("history"),
		filePath: filePath,
	}

	if err := eh.writer.Write(csvHeader); err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to write history header: %w", err)
	}
	eh.writer.Flush()
	if err := eh.writer.Error(); err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to flush history header: %w", err)
	}

	go eh.periodicFlush()

	eh.logger.Info("Event history initialized", zap.String("file", filePath))
	return eh, nil
}

// Path returns the history file location.
func (eh *EventHistory) Path() string {
	return eh.filePath
}

// Record appends one ledger entry.
func (eh *EventHistory) Record(entry ledger.FeeEvent) error {
	eh.mu.Lock()
	defer eh.mu.Unlock()

	row := []string{
		strconv.FormatUint(entry.Sequence, 10),
		string(entry.EventType),
		string(entry.VaultType),
		entry.VaultAddress,
		strconv.FormatUint(entry.Amount, 10),
		strconv.FormatUint(entry.BalanceBefore, 10),
		strconv.FormatUint(entry.BalanceAfter, 10),
		strconv.FormatUint(entry.Slot, 10),
		strconv.FormatInt(entry.Timestamp, 10),
		entry.SourceSignature,
		entry.Hash,
	}
	if err := eh.writer.Write(row); err != nil {
		return fmt.Errorf("failed to write history record: %w", err)
	}
	eh.writtenRecords++
	return nil
}

// Flush forces buffered rows to disk.
func (eh *EventHistory) Flush() error {
	eh.mu.Lock()
	defer eh.mu.Unlock()

	eh.writer.Flush()
	if err := eh.writer.Error(); err != nil {
		return fmt.Errorf("failed to flush history: %w", err)
	}
	if err := eh.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync history file: %w", err)
	}
	eh.flushCount++
	return nil
}

func (eh *EventHistory) periodicFlush() {
	for {
		select {
		case <-eh.ticker.C:
			if err := eh.Flush(); err != nil {
				eh.logger.Error("Periodic history flush failed",
					zap.String("file", eh.filePath),
					zap.Error(err))
			}
		case <-eh.done:
			return
		}
	}
}

// Close stops the flush loop and closes the file.
func (eh *EventHistory) Close() error {
	close(eh.done)
	eh.ticker.Stop()

	eh.mu.Lock()
	defer eh.mu.Unlock()

	eh.writer.Flush()
	if err := eh.writer.Error(); err != nil {
		return fmt.Errorf("failed to flush on close: %w", err)
	}
	if err := eh.file.Close(); err != nil {
		return fmt.Errorf("failed to close history file: %w", err)
	}

	eh.logger.Info("Event history closed",
		zap.String("file", eh.filePath),
		zap.Uint64("records", eh.writtenRecords),
		zap.Uint64("flushes", eh.flushCount))
	return nil
}
