// internal/chain/types.go
package chain

import (
	"context"
	"time"

	"github.com/gagliardetto/solana-go"
)

// SignatureInfo is one row of an account's transaction history.
type SignatureInfo struct {
	Signature solana.Signature
	Slot      uint64
	BlockTime time.Time
	Failed    bool
}

// TokenBalance is a flattened pre/post token balance table row.
// Amount is the raw integer amount in base units.
type TokenBalance struct {
	Owner  solana.PublicKey
	Mint   solana.PublicKey
	Amount uint64
}

// TxRecord is a confirmed transaction flattened to the parts the extractor
// needs: the full referenced account list (static keys plus addresses loaded
// through lookup tables) and the matched pre/post balance tables.
type TxRecord struct {
	Signature         solana.Signature
	Slot              uint64
	BlockTime         time.Time
	AccountKeys       []solana.PublicKey
	PreBalances       []uint64
	PostBalances      []uint64
	PreTokenBalances  []TokenBalance
	PostTokenBalances []TokenBalance
}

// References reports whether the transaction touches the given account,
// directly or through a loaded address.
func (tx *TxRecord) References(addr solana.PublicKey) bool {
	for _, key := range tx.AccountKeys {
		if key.Equals(addr) {
			return true
		}
	}
	return false
}

// AccountIndex returns the position of addr in the flat account list,
// or -1 when the transaction does not reference it.
func (tx *TxRecord) AccountIndex(addr solana.PublicKey) int {
	for i, key := range tx.AccountKeys {
		if key.Equals(addr) {
			return i
		}
	}
	return -1
}

// Source is the read-only view of the ledger-of-record consumed by the
// watcher. Implementations supply bounded per-call timeouts.
type Source interface {
	// GetAccountData returns the raw account data, or ErrAccountNotFound.
	GetAccountData(ctx context.Context, addr solana.PublicKey) ([]byte, error)

	// ListSignatures returns up to limit signatures for addr, newest first.
	ListSignatures(ctx context.Context, addr solana.PublicKey, limit int) ([]SignatureInfo, error)

	// GetTransaction fetches a confirmed transaction as a flattened record.
	GetTransaction(ctx context.Context, sig solana.Signature) (*TxRecord, error)

	// GetLamportBalance returns the native balance of an account and the
	// slot the value was read at.
	GetLamportBalance(ctx context.Context, addr solana.PublicKey) (balance, slot uint64, err error)

	// GetTokenBalance returns the raw token balance of a token account and
	// the slot the value was read at. A missing token account reads as zero.
	GetTokenBalance(ctx context.Context, addr solana.PublicKey) (balance, slot uint64, err error)
}
