// internal/watcher/tick.go
package watcher

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/solaudit/feeledger/internal/config"
	"github.com/solaudit/feeledger/internal/cursor"
	"github.com/solaudit/feeledger/internal/curve"
	"github.com/solaudit/feeledger/internal/extract"
	"github.com/solaudit/feeledger/internal/ledger"
)

// tick runs one poll cycle: migration check, then the native vault
// pipeline, then the fungible vault pipeline once migration has been
// observed. Transient errors abandon the tick; the next timer fire retries
// from the last durable cursor and ledger state.
func (w *Watcher) tick(ctx context.Context) {
	if err := w.checkMigration(ctx); err != nil {
		w.logger.Warn("Tick abandoned during migration check", zap.Error(err))
		return
	}

	if err := w.runPipeline(ctx, w.nativeVault); err != nil {
		w.logger.Warn("Tick abandoned during native vault pipeline", zap.Error(err))
		return
	}

	// The AMM vault does not exist meaningfully before migration.
	if !w.isMigrated() {
		return
	}
	if err := w.runPipeline(ctx, w.ammVault); err != nil {
		w.logger.Warn("Tick abandoned during AMM vault pipeline", zap.Error(err))
	}
}

func (w *Watcher) isMigrated() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.migrated
}

// checkMigration re-reads the instrument state until completion is first
// observed, then flips the one-way latch, appends a MIGRATE entry, and
// notifies the caller. Stale snapshots reading complete=false afterwards
// never revert the latch because the check is skipped once it is set.
func (w *Watcher) checkMigration(ctx context.Context) error {
	if w.isMigrated() {
		return nil
	}

	data, err := w.source.GetAccountData(ctx, w.bondingCurve)
	if err != nil {
		return err
	}
	state, err := curve.DecodeState(data)
	if err != nil {
		return err
	}
	if !state.Complete {
		return nil
	}

	w.logger.Info("Migration detected",
		zap.String("amm_vault", w.ammVault.Address.String()))

	if _, err := w.appendEvent(ledger.FeeEvent{
		EventType:    ledger.EventMigrate,
		VaultType:    ledger.VaultAMM,
		VaultAddress: w.ammVault.Address.String(),
		Timestamp:    time.Now().UTC().Unix(),
	}, func() {
		w.migrated = true
		w.book.Migrated = true
	}); err != nil {
		return err
	}

	if w.callbacks.OnMigration != nil {
		w.callbacks.OnMigration(w.ammVault.Address)
	}
	return nil
}

// runPipeline processes one watched vault according to the configured mode.
func (w *Watcher) runPipeline(ctx context.Context, vault extract.WatchedAccount) error {
	if w.cfg.Mode == config.ModePolling {
		return w.pollBalance(ctx, vault)
	}
	return w.processTransactions(ctx, vault)
}

// processTransactions drives cursor -> fetch -> extract -> append for one
// vault. Per-transaction failures are logged and skipped; only the listing
// call aborts the pipeline, since without it the cursor cannot advance.
func (w *Watcher) processTransactions(ctx context.Context, vault extract.WatchedAccount) error {
	listing, err := w.source.ListSignatures(ctx, vault.Address, w.cfg.SignatureLimit)
	if err != nil {
		return err
	}

	fresh := w.cursorFor(vault).Observe(listing)
	for _, info := range fresh {
		if info.Failed {
			// Failed transactions cannot move vault balances.
			continue
		}

		tx, err := w.source.GetTransaction(ctx, info.Signature)
		if err != nil {
			w.logger.Warn("Skipping unfetchable transaction",
				zap.String("signature", info.Signature.String()),
				zap.Error(err))
			continue
		}

		candidate := w.extractor.Extract(tx, vault)
		if candidate == nil {
			continue
		}

		entry, err := w.appendEvent(*candidate, nil)
		if err != nil {
			return err
		}
		w.logger.Info("Fee recorded",
			zap.Uint64("sequence", entry.Sequence),
			zap.String("vault", string(entry.VaultType)),
			zap.Uint64("amount", entry.Amount),
			zap.String("signature", entry.SourceSignature))
	}
	return nil
}

// pollBalance diffs the vault's raw balance against the previous tick.
// Unlike the transaction path this detects claims: a negative delta is a
// creator withdrawal and is recorded as a CLAIM entry.
func (w *Watcher) pollBalance(ctx context.Context, vault extract.WatchedAccount) error {
	var value, slot uint64
	var err error
	switch vault.Kind {
	case extract.Native:
		value, slot, err = w.source.GetLamportBalance(ctx, vault.Address)
	case extract.Fungible:
		value, slot, err = w.source.GetTokenBalance(ctx, vault.Address)
	}
	if err != nil {
		return err
	}

	base := w.baselineFor(vault)
	if !base.set {
		// First observation establishes the baseline and yields nothing,
		// mirroring the cursor's backlog-skip on first listing.
		w.setBaseline(vault, value)
		return nil
	}
	if value == base.value {
		return nil
	}

	candidate := ledger.FeeEvent{
		VaultType:    vault.Vault,
		VaultAddress: vault.Address.String(),
		Slot:         slot,
		Timestamp:    time.Now().UTC().Unix(),
	}
	if value > base.value {
		candidate.EventType = ledger.EventFee
		candidate.Amount = value - base.value
	} else {
		candidate.EventType = ledger.EventClaim
		candidate.Amount = base.value - value
	}
	candidate.BalanceBefore = base.value
	candidate.BalanceAfter = value

	entry, err := w.appendEvent(candidate, nil)
	if err != nil {
		return err
	}
	w.setBaseline(vault, value)

	w.logger.Info("Balance delta recorded",
		zap.Uint64("sequence", entry.Sequence),
		zap.String("event", string(entry.EventType)),
		zap.String("vault", string(entry.VaultType)),
		zap.Uint64("amount", entry.Amount))
	return nil
}

func (w *Watcher) cursorFor(vault extract.WatchedAccount) *cursor.SignatureCursor {
	if vault.Vault == ledger.VaultBondingCurve {
		return w.nativeCursor
	}
	return w.ammCursor
}

func (w *Watcher) baselineFor(vault extract.WatchedAccount) baseline {
	w.mu.Lock()
	defer w.mu.Unlock()
	if vault.Vault == ledger.VaultBondingCurve {
		return w.nativeBaseline
	}
	return w.ammBaseline
}

func (w *Watcher) setBaseline(vault extract.WatchedAccount, value uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if vault.Vault == ledger.VaultBondingCurve {
		w.nativeBaseline = baseline{value: value, set: true}
	} else {
		w.ammBaseline = baseline{value: value, set: true}
	}
}

// appendEvent is the single mutation path for the ledger: it sequences and
// hashes the candidate, applies any extra state change under the same lock,
// persists write-through, and fires callbacks outside the lock.
//
// A failed persist aborts the tick but keeps the in-memory chain intact;
// the whole ledger is rewritten on the next successful save, so disk can
// only ever lag, never diverge.
func (w *Watcher) appendEvent(candidate ledger.FeeEvent, applyLocked func()) (ledger.FeeEvent, error) {
	w.mu.Lock()
	if applyLocked != nil {
		applyLocked()
	}
	entry := w.book.Append(candidate)
	if entry.EventType == ledger.EventFee {
		if entry.VaultType == ledger.VaultBondingCurve {
			w.nativeFees += entry.Amount
		} else {
			w.fungibleFees += entry.Amount
		}
	}
	err := w.book.Save(w.cfg.LedgerFile)
	w.mu.Unlock()

	if err != nil {
		w.logger.Error("Write-through persist failed", zap.Error(err))
		return entry, err
	}

	if w.recorder != nil {
		if recErr := w.recorder.Record(entry); recErr != nil {
			w.logger.Warn("History record failed", zap.Error(recErr))
		}
	}
	if w.callbacks.OnEntry != nil {
		w.callbacks.OnEntry(entry)
	}
	if entry.EventType == ledger.EventFee && w.callbacks.OnFee != nil {
		w.callbacks.OnFee(entry.Amount, entry.VaultType, entry.BalanceAfter)
	}
	return entry, nil
}
