// internal/ledger/ledger.go
package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// GenesisHash is the prev-hash of the first entry in every chain.
const GenesisHash = "GENESIS"

// EventType tags what a ledger entry records.
type EventType string

const (
	EventFee     EventType = "FEE"     // positive balance delta, fee accrual
	EventClaim   EventType = "CLAIM"   // negative balance delta, creator withdrawal
	EventMigrate EventType = "MIGRATE" // instrument moved to the post-launch venue
)

// VaultType tags which venue's vault an entry belongs to.
type VaultType string

const (
	VaultBondingCurve VaultType = "BC"
	VaultAMM          VaultType = "AMM"
)

// FeeEvent is one immutable ledger entry. Hash commits to every other field
// plus the previous entry's hash, forming a tamper-evident chain.
//
// Amount is always an unsigned magnitude; EventType carries the direction
// (FEE inflow, CLAIM outflow). Timestamp and amounts are plain integers so
// the persisted form round-trips without encoding ambiguity.
type FeeEvent struct {
	Sequence        uint64    `json:"sequence"`
	PrevHash        string    `json:"prev_hash"`
	EventType       EventType `json:"event_type"`
	VaultType       VaultType `json:"vault_type"`
	VaultAddress    string    `json:"vault_address"`
	Amount          uint64    `json:"amount"`
	BalanceBefore   uint64    `json:"balance_before"`
	BalanceAfter    uint64    `json:"balance_after"`
	Slot            uint64    `json:"slot"`
	Timestamp       int64     `json:"timestamp"`
	SourceSignature string    `json:"source_signature,omitempty"`
	Hash            string    `json:"hash"`
}

// preimage returns the canonical string the entry hash commits to: every
// field except Hash itself, pipe-joined in fixed order. Absent values are
// the empty string, never omitted, so verification stays unambiguous.
func (e *FeeEvent) preimage() string {
	fields := []string{
		strconv.FormatUint(e.Sequence, 10),
		e.PrevHash,
		string(e.EventType),
		string(e.VaultType),
		e.VaultAddress,
		strconv.FormatUint(e.Amount, 10),
		strconv.FormatUint(e.BalanceBefore, 10),
		strconv.FormatUint(e.BalanceAfter, 10),
		strconv.FormatUint(e.Slot, 10),
		strconv.FormatInt(e.Timestamp, 10),
		e.SourceSignature,
	}
	return strings.Join(fields, "|")
}

// ComputeHash returns the SHA-256 commitment over the entry's preimage.
func (e *FeeEvent) ComputeHash() string {
	sum := sha256.Sum256([]byte(e.preimage()))
	return hex.EncodeToString(sum[:])
}

// Ledger is the append-only event chain for one instrument plus derived
// summary fields. Entries are the single source of truth; the summary is
// recomputed from them on every load.
//
// Not safe for concurrent use: the watcher serializes all mutation.
type Ledger struct {
	Mint         string     `json:"mint"`
	BondingCurve string     `json:"bonding_curve"`
	Creator      string     `json:"creator"`
	Migrated     bool       `json:"migrated"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	TotalFees    uint64     `json:"total_fees"`
	TotalClaimed uint64     `json:"total_claimed"`
	EntryCount   int        `json:"entry_count"`
	LatestHash   string     `json:"latest_hash"`
	Entries      []FeeEvent `json:"entries"`
}

// New creates an empty ledger for the given instrument identity.
func New(mint, bondingCurve, creator string) *Ledger {
	now := time.Now().UTC()
	return &Ledger{
		Mint:         mint,
		BondingCurve: bondingCurve,
		Creator:      creator,
		CreatedAt:    now,
		UpdatedAt:    now,
		LatestHash:   GenesisHash,
	}
}

// Append sequences, links, and hashes a candidate event, then stores it.
// The candidate's Sequence, PrevHash, and Hash fields are overwritten; all
// other fields must already be populated. Returns the stored entry.
func (l *Ledger) Append(candidate FeeEvent) FeeEvent {
	candidate.Sequence = uint64(len(l.Entries)) + 1
	candidate.PrevHash = l.LatestHash
	candidate.Hash = candidate.ComputeHash()

	l.Entries = append(l.Entries, candidate)
	l.LatestHash = candidate.Hash
	l.EntryCount = len(l.Entries)
	l.UpdatedAt = time.Now().UTC()

	switch candidate.EventType {
	case EventFee:
		l.TotalFees += candidate.Amount
	case EventClaim:
		l.TotalClaimed += candidate.Amount
	}

	return candidate
}

// recomputeSummary rebuilds the derived fields from the entries, which are
// the only source of truth after a reload.
func (l *Ledger) recomputeSummary() {
	l.EntryCount = len(l.Entries)
	l.TotalFees = 0
	l.TotalClaimed = 0
	l.LatestHash = GenesisHash

	for i := range l.Entries {
		entry := &l.Entries[i]
		switch entry.EventType {
		case EventFee:
			l.TotalFees += entry.Amount
		case EventClaim:
			l.TotalClaimed += entry.Amount
		}
		l.LatestHash = entry.Hash
	}
}

// Save writes the ledger to path atomically: a temp file in the same
// directory is renamed over the target, so a crash mid-write never leaves
// a torn file behind.
func (l *Ledger) Save(path string) error {
	data, err := json.MarshalIndent(l, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal ledger: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create ledger directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".ledger-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp ledger file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write ledger: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to sync ledger: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close ledger: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to replace ledger file: %w", err)
	}
	return nil
}

// Load reads a persisted ledger and recomputes its summary fields. The
// persisted file is ground truth; whatever summary it carried is discarded.
func Load(path string) (*Ledger, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read ledger file: %w", err)
	}

	var l Ledger
	if err := json.Unmarshal(data, &l); err != nil {
		return nil, fmt.Errorf("failed to parse ledger file: %w", err)
	}

	l.recomputeSummary()
	return &l, nil
}
