// internal/ledger/verify.go
package ledger

import "fmt"

// Failure reasons reported by Verify.
const (
	ReasonSequence   = "sequence gap or reorder"
	ReasonLinkage    = "broken chain linkage"
	ReasonCommitment = "content does not match commitment - possible tampering"
)

// Result is the outcome of a verification pass. When Valid is false,
// FailedIndex is the 0-based position of the first inconsistent entry.
type Result struct {
	Valid       bool   `json:"valid"`
	FailedIndex int    `json:"failed_index"`
	Reason      string `json:"reason,omitempty"`
}

func (r Result) String() string {
	if r.Valid {
		return "valid"
	}
	return fmt.Sprintf("invalid at entry %d: %s", r.FailedIndex, r.Reason)
}

// Verify replays the chain end to end and reports the first inconsistency.
// It is pure: no mutation, no network, runnable offline against a loaded
// file. An empty ledger is trivially valid.
//
// Three checks run per entry, in order, short-circuiting on first failure:
// sequence continuity, prev-hash linkage, and the content commitment.
func Verify(l *Ledger) Result {
	prevHash := GenesisHash

	for i := range l.Entries {
		entry := &l.Entries[i]

		if entry.Sequence != uint64(i)+1 {
			return Result{FailedIndex: i, Reason: ReasonSequence}
		}
		if entry.PrevHash != prevHash {
			return Result{FailedIndex: i, Reason: ReasonLinkage}
		}
		if entry.ComputeHash() != entry.Hash {
			return Result{FailedIndex: i, Reason: ReasonCommitment}
		}

		prevHash = entry.Hash
	}

	return Result{Valid: true, FailedIndex: -1}
}

// VerifyFile loads a persisted ledger and verifies it, returning the loaded
// ledger alongside the result so callers can display its metadata. This is
// the standalone audit entry point: it never contacts the data source.
func VerifyFile(path string) (*Ledger, Result, error) {
	l, err := Load(path)
	if err != nil {
		return nil, Result{}, err
	}
	return l, Verify(l), nil
}
