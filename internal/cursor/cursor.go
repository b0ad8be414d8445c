// internal/cursor/cursor.go
package cursor

import (
	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"

	"github.com/solaudit/feeledger/internal/chain"
)

// SignatureCursor turns repeated newest-first signature listings for one
// account into a stream of strictly-new signatures in chronological order.
//
// The first observation records the newest signature and yields nothing, so
// startup does not replay the account's entire history. Every signature it
// yields is remembered in a processed set, making downstream event creation
// exactly-once even if the upstream listing repeats entries across polls.
//
// Not safe for concurrent use; the watcher drives it from a single tick.
type SignatureCursor struct {
	lastSeen  solana.Signature
	primed    bool
	processed map[solana.Signature]struct{}
	logger    *zap.Logger
}

// New creates an uninitialized cursor. account tags log lines only.
func New(account string, logger *zap.Logger) *SignatureCursor {
	return &SignatureCursor{
		processed: make(map[solana.Signature]struct{}),
		logger:    logger.Named("cursor").With(zap.String("account", account)),
	}
}

// Primed reports whether the cursor has observed the account at least once.
func (sc *SignatureCursor) Primed() bool {
	return sc.primed
}

// LastSeen returns the current cursor position. Zero value until primed.
func (sc *SignatureCursor) LastSeen() solana.Signature {
	return sc.lastSeen
}

// Seed positions the cursor without yielding anything, used when restoring
// a prior run from a persisted ledger.
func (sc *SignatureCursor) Seed(sig solana.Signature) {
	sc.lastSeen = sig
	sc.primed = true
}

// MarkProcessed records a signature as already turned into an event, used
// when replaying a persisted ledger on restart.
func (sc *SignatureCursor) MarkProcessed(sig solana.Signature) {
	sc.processed[sig] = struct{}{}
}

// Observe consumes one newest-first listing and returns the strictly-new
// signatures oldest first. It advances the cursor to the newest observed
// signature and adds every returned entry to the processed set, so each
// call mutates the cursor; the returned slice is safe for the caller to
// keep.
//
// An empty listing yields nothing and does not move the cursor. A listing
// that never reaches the last-seen signature (upstream pruning) yields only
// the entries actually present, bounded by the listing size.
func (sc *SignatureCursor) Observe(newestFirst []chain.SignatureInfo) []chain.SignatureInfo {
	if len(newestFirst) == 0 {
		return nil
	}

	newest := newestFirst[0].Signature

	if !sc.primed {
		sc.lastSeen = newest
		sc.primed = true
		sc.logger.Debug("Cursor primed, skipping historical backlog",
			zap.String("signature", newest.String()),
			zap.Int("backlog", len(newestFirst)))
		return nil
	}

	var fresh []chain.SignatureInfo
	for _, info := range newestFirst {
		// The source listing is suffix-stable: once we hit the cursor
		// position everything after it has been seen before.
		if info.Signature == sc.lastSeen {
			break
		}
		if _, done := sc.processed[info.Signature]; done {
			continue
		}
		fresh = append(fresh, info)
	}

	// Reverse to chronological order so ledger sequencing is monotonic.
	for i, j := 0, len(fresh)-1; i < j; i, j = i+1, j-1 {
		fresh[i], fresh[j] = fresh[j], fresh[i]
	}

	for _, info := range fresh {
		sc.processed[info.Signature] = struct{}{}
	}
	sc.lastSeen = newest

	if len(fresh) > 0 {
		sc.logger.Debug("New signatures observed",
			zap.Int("count", len(fresh)),
			zap.String("newest", newest.String()))
	}
	return fresh
}
