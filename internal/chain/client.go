// internal/chain/client.go
package chain

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"go.uber.org/zap"
)

var (
	// ErrAccountNotFound is returned when the account does not exist at the
	// queried commitment level.
	ErrAccountNotFound = errors.New("account not found")

	// ErrTransactionNotFound is returned when a signature has no confirmed
	// transaction, typically because it is still in flight or was pruned.
	ErrTransactionNotFound = errors.New("transaction not found")
)

const (
	defaultMaxTries   = 3
	defaultRetryDelay = 500 * time.Millisecond
)

// isNotFoundErr matches the node's "could not find account" style JSON-RPC
// errors, which arrive as plain error strings rather than typed sentinels.
func isNotFoundErr(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "not found") || strings.Contains(msg, "could not find")
}

// Client is a thin adapter over the solana-go RPC client implementing Source.
// All reads use confirmed commitment; transient failures are retried with
// exponential backoff before being surfaced to the caller.
type Client struct {
	rpc        *rpc.Client
	logger     *zap.Logger
	commitment rpc.CommitmentType
	maxTries   uint
	retryDelay time.Duration
}

// NewClient creates a client for the given RPC endpoint.
func NewClient(rpcURL string, logger *zap.Logger) *Client {
	return &Client{
		rpc:        rpc.New(rpcURL),
		logger:     logger.Named("chain"),
		commitment: rpc.CommitmentConfirmed,
		maxTries:   defaultMaxTries,
		retryDelay: defaultRetryDelay,
	}
}

// retryRPC runs fn with exponential backoff. Permanent errors (wrapped via
// backoff.Permanent) short-circuit the retry loop.
func retryRPC[T any](ctx context.Context, c *Client, method string, fn func() (T, error)) (T, error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.retryDelay
	policy.MaxInterval = c.retryDelay * 10

	notify := func(err error, d time.Duration) {
		c.logger.Debug("Retrying RPC call",
			zap.String("method", method),
			zap.Duration("backoff", d),
			zap.Error(err))
	}

	return backoff.Retry(ctx, fn,
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(c.maxTries),
		backoff.WithNotify(notify))
}

// GetAccountData implements Source.
func (c *Client) GetAccountData(ctx context.Context, addr solana.PublicKey) ([]byte, error) {
	return retryRPC(ctx, c, "getAccountInfo", func() ([]byte, error) {
		result, err := c.rpc.GetAccountInfoWithOpts(ctx, addr, &rpc.GetAccountInfoOpts{
			Commitment: c.commitment,
			Encoding:   solana.EncodingBase64,
		})
		if err != nil {
			if errors.Is(err, rpc.ErrNotFound) {
				return nil, backoff.Permanent(ErrAccountNotFound)
			}
			return nil, fmt.Errorf("failed to get account %s: %w", addr, err)
		}
		if result == nil || result.Value == nil {
			return nil, backoff.Permanent(ErrAccountNotFound)
		}
		return result.Value.Data.GetBinary(), nil
	})
}

// ListSignatures implements Source. Results are newest first, as returned
// by the node.
func (c *Client) ListSignatures(ctx context.Context, addr solana.PublicKey, limit int) ([]SignatureInfo, error) {
	return retryRPC(ctx, c, "getSignaturesForAddress", func() ([]SignatureInfo, error) {
		rows, err := c.rpc.GetSignaturesForAddressWithOpts(ctx, addr, &rpc.GetSignaturesForAddressOpts{
			Limit:      &limit,
			Commitment: c.commitment,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to list signatures for %s: %w", addr, err)
		}

		infos := make([]SignatureInfo, 0, len(rows))
		for _, row := range rows {
			info := SignatureInfo{
				Signature: row.Signature,
				Slot:      row.Slot,
				Failed:    row.Err != nil,
			}
			if row.BlockTime != nil {
				info.BlockTime = row.BlockTime.Time()
			}
			infos = append(infos, info)
		}
		return infos, nil
	})
}

// GetTransaction implements Source, flattening the RPC response into a
// TxRecord with the loaded lookup-table addresses appended to the static
// account keys so balance indices stay aligned.
func (c *Client) GetTransaction(ctx context.Context, sig solana.Signature) (*TxRecord, error) {
	maxVersion := uint64(0)
	return retryRPC(ctx, c, "getTransaction", func() (*TxRecord, error) {
		result, err := c.rpc.GetTransaction(ctx, sig, &rpc.GetTransactionOpts{
			Encoding:                       solana.EncodingBase64,
			Commitment:                     c.commitment,
			MaxSupportedTransactionVersion: &maxVersion,
		})
		if err != nil {
			if errors.Is(err, rpc.ErrNotFound) {
				return nil, backoff.Permanent(ErrTransactionNotFound)
			}
			return nil, fmt.Errorf("failed to get transaction %s: %w", sig, err)
		}
		if result == nil || result.Meta == nil {
			return nil, backoff.Permanent(fmt.Errorf("transaction %s: missing metadata", sig))
		}

		decoded, err := result.Transaction.GetTransaction()
		if err != nil {
			return nil, backoff.Permanent(fmt.Errorf("failed to decode transaction %s: %w", sig, err))
		}

		keys := make([]solana.PublicKey, 0,
			len(decoded.Message.AccountKeys)+
				len(result.Meta.LoadedAddresses.Writable)+
				len(result.Meta.LoadedAddresses.ReadOnly))
		keys = append(keys, decoded.Message.AccountKeys...)
		keys = append(keys, result.Meta.LoadedAddresses.Writable...)
		keys = append(keys, result.Meta.LoadedAddresses.ReadOnly...)

		record := &TxRecord{
			Signature:    sig,
			Slot:         result.Slot,
			AccountKeys:  keys,
			PreBalances:  result.Meta.PreBalances,
			PostBalances: result.Meta.PostBalances,
		}
		if result.BlockTime != nil {
			record.BlockTime = result.BlockTime.Time()
		}

		record.PreTokenBalances, err = flattenTokenBalances(result.Meta.PreTokenBalances)
		if err != nil {
			return nil, backoff.Permanent(fmt.Errorf("transaction %s: %w", sig, err))
		}
		record.PostTokenBalances, err = flattenTokenBalances(result.Meta.PostTokenBalances)
		if err != nil {
			return nil, backoff.Permanent(fmt.Errorf("transaction %s: %w", sig, err))
		}

		return record, nil
	})
}

// balanceAt pairs a balance with the slot it was read at.
type balanceAt struct {
	value uint64
	slot  uint64
}

// GetLamportBalance implements Source.
func (c *Client) GetLamportBalance(ctx context.Context, addr solana.PublicKey) (uint64, uint64, error) {
	read, err := retryRPC(ctx, c, "getBalance", func() (balanceAt, error) {
		result, err := c.rpc.GetBalance(ctx, addr, c.commitment)
		if err != nil {
			return balanceAt{}, fmt.Errorf("failed to get balance of %s: %w", addr, err)
		}
		return balanceAt{value: result.Value, slot: result.Context.Slot}, nil
	})
	return read.value, read.slot, err
}

// GetTokenBalance implements Source. A token account that does not exist
// yet reads as zero, which covers the pre-migration window where the AMM
// vault has not been created.
func (c *Client) GetTokenBalance(ctx context.Context, addr solana.PublicKey) (uint64, uint64, error) {
	read, err := retryRPC(ctx, c, "getTokenAccountBalance", func() (balanceAt, error) {
		result, err := c.rpc.GetTokenAccountBalance(ctx, addr, c.commitment)
		if err != nil {
			if errors.Is(err, rpc.ErrNotFound) || isNotFoundErr(err) {
				return balanceAt{}, nil
			}
			return balanceAt{}, fmt.Errorf("failed to get token balance of %s: %w", addr, err)
		}
		if result == nil {
			return balanceAt{}, nil
		}
		if result.Value == nil || result.Value.Amount == "" {
			return balanceAt{slot: result.Context.Slot}, nil
		}
		amount, err := strconv.ParseUint(result.Value.Amount, 10, 64)
		if err != nil {
			return balanceAt{}, backoff.Permanent(fmt.Errorf("failed to parse token balance of %s: %w", addr, err))
		}
		return balanceAt{value: amount, slot: result.Context.Slot}, nil
	})
	return read.value, read.slot, err
}

func flattenTokenBalances(rows []rpc.TokenBalance) ([]TokenBalance, error) {
	out := make([]TokenBalance, 0, len(rows))
	for _, row := range rows {
		if row.UiTokenAmount == nil {
			return nil, errors.New("token balance row missing amount")
		}
		amount, err := strconv.ParseUint(row.UiTokenAmount.Amount, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("failed to parse token balance amount: %w", err)
		}
		balance := TokenBalance{
			Mint:   row.Mint,
			Amount: amount,
		}
		if row.Owner != nil {
			balance.Owner = *row.Owner
		}
		out = append(out, balance)
	}
	return out, nil
}
