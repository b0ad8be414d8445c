// internal/extract/extract.go
package extract

import (
	"time"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"

	"github.com/solaudit/feeledger/internal/chain"
	"github.com/solaudit/feeledger/internal/ledger"
)

// BalanceKind selects which balance table a watched account is tracked in.
type BalanceKind string

const (
	// Native tracks the account's lamport balance by position in the
	// transaction's flat account list.
	Native BalanceKind = "NATIVE"

	// Fungible tracks a token balance, located by owner in the pre/post
	// token balance tables.
	Fungible BalanceKind = "FUNGIBLE"
)

// WatchedAccount is one fee vault under observation. Address identifies the
// account whose history is polled and is recorded on ledger entries.
// TokenOwner is the owning authority used to locate the account in token
// balance tables; it is only consulted for Fungible accounts.
type WatchedAccount struct {
	Address    solana.PublicKey
	TokenOwner solana.PublicKey
	Kind       BalanceKind
	Vault      ledger.VaultType
}

// Instrument carries the identities whose presence marks a transaction as
// relevant to the tracked token.
type Instrument struct {
	Mint         solana.PublicKey
	BondingCurve solana.PublicKey
}

// Extractor turns raw transaction records into unsequenced fee event
// candidates. It is stateless apart from its logger; malformed records are
// logged and skipped, never fatal.
type Extractor struct {
	instrument Instrument
	logger     *zap.Logger
}

// New creates an extractor for one instrument.
func New(instrument Instrument, logger *zap.Logger) *Extractor {
	return &Extractor{
		instrument: instrument,
		logger:     logger.Named("extract"),
	}
}

// Extract computes the watched account's balance delta in tx and returns a
// FEE candidate for a strictly positive delta, or nil when the transaction
// is irrelevant, malformed, or moved the balance down or not at all.
//
// The candidate's Sequence, PrevHash, and Hash are left for the ledger to
// assign on append.
func (x *Extractor) Extract(tx *chain.TxRecord, watched WatchedAccount) *ledger.FeeEvent {
	if tx == nil {
		return nil
	}

	if !tx.References(x.instrument.Mint) && !tx.References(x.instrument.BondingCurve) {
		return nil
	}

	var before, after uint64
	var located bool

	switch watched.Kind {
	case Native:
		before, after, located = x.nativeBalances(tx, watched.Address)
	case Fungible:
		before, after, located = x.tokenBalances(tx, watched.TokenOwner)
	default:
		x.logger.Warn("Unknown balance kind, skipping transaction",
			zap.String("kind", string(watched.Kind)),
			zap.String("signature", tx.Signature.String()))
		return nil
	}

	if !located {
		return nil
	}
	if after <= before {
		// Withdrawals are not derivable from the transaction path; claim
		// detection lives in the balance-polling mode.
		return nil
	}

	ts := tx.BlockTime
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	return &ledger.FeeEvent{
		EventType:       ledger.EventFee,
		VaultType:       watched.Vault,
		VaultAddress:    watched.Address.String(),
		Amount:          after - before,
		BalanceBefore:   before,
		BalanceAfter:    after,
		Slot:            tx.Slot,
		Timestamp:       ts.Unix(),
		SourceSignature: tx.Signature.String(),
	}
}

// nativeBalances reads the matched pre/post lamport tables at the watched
// account's position in the flat account list.
func (x *Extractor) nativeBalances(tx *chain.TxRecord, addr solana.PublicKey) (before, after uint64, ok bool) {
	idx := tx.AccountIndex(addr)
	if idx < 0 {
		return 0, 0, false
	}
	if idx >= len(tx.PreBalances) || idx >= len(tx.PostBalances) {
		x.logger.Warn("Balance tables shorter than account list, skipping transaction",
			zap.String("signature", tx.Signature.String()),
			zap.Int("account_index", idx),
			zap.Int("pre_len", len(tx.PreBalances)),
			zap.Int("post_len", len(tx.PostBalances)))
		return 0, 0, false
	}
	return tx.PreBalances[idx], tx.PostBalances[idx], true
}

// tokenBalances scans the token balance tables for the watched owner. A
// side missing the owner reads as zero, which covers token account creation
// and closure within the transaction.
func (x *Extractor) tokenBalances(tx *chain.TxRecord, owner solana.PublicKey) (before, after uint64, ok bool) {
	var foundPre, foundPost bool

	for _, row := range tx.PreTokenBalances {
		if row.Owner.Equals(owner) {
			before = row.Amount
			foundPre = true
			break
		}
	}
	for _, row := range tx.PostTokenBalances {
		if row.Owner.Equals(owner) {
			after = row.Amount
			foundPost = true
			break
		}
	}

	return before, after, foundPre || foundPost
}
