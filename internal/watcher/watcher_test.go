package watcher

import (
	"context"
	"encoding/binary"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/solaudit/feeledger/internal/chain"
	"github.com/solaudit/feeledger/internal/config"
	"github.com/solaudit/feeledger/internal/curve"
	"github.com/solaudit/feeledger/internal/ledger"
)

// fakeSource is an in-memory chain.Source the tests mutate between ticks.
type fakeSource struct {
	mu       sync.Mutex
	accounts map[solana.PublicKey][]byte
	listings map[solana.PublicKey][]chain.SignatureInfo
	txs      map[solana.Signature]*chain.TxRecord
	lamports map[solana.PublicKey]uint64
	tokens   map[solana.PublicKey]uint64
	slot     uint64
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		accounts: make(map[solana.PublicKey][]byte),
		listings: make(map[solana.PublicKey][]chain.SignatureInfo),
		txs:      make(map[solana.Signature]*chain.TxRecord),
		lamports: make(map[solana.PublicKey]uint64),
		tokens:   make(map[solana.PublicKey]uint64),
		slot:     1000,
	}
}

func (f *fakeSource) GetAccountData(_ context.Context, addr solana.PublicKey) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.accounts[addr]
	if !ok {
		return nil, chain.ErrAccountNotFound
	}
	return data, nil
}

func (f *fakeSource) ListSignatures(_ context.Context, addr solana.PublicKey, limit int) ([]chain.SignatureInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	listing := f.listings[addr]
	if len(listing) > limit {
		listing = listing[:limit]
	}
	out := make([]chain.SignatureInfo, len(listing))
	copy(out, listing)
	return out, nil
}

func (f *fakeSource) GetTransaction(_ context.Context, sig solana.Signature) (*chain.TxRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	tx, ok := f.txs[sig]
	if !ok {
		return nil, chain.ErrTransactionNotFound
	}
	return tx, nil
}

func (f *fakeSource) GetLamportBalance(_ context.Context, addr solana.PublicKey) (uint64, uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lamports[addr], f.slot, nil
}

func (f *fakeSource) GetTokenBalance(_ context.Context, addr solana.PublicKey) (uint64, uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tokens[addr], f.slot, nil
}

// prependSignature pushes a new newest-first listing entry for addr.
func (f *fakeSource) prependSignature(addr solana.PublicKey, sig solana.Signature, slot uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listings[addr] = append([]chain.SignatureInfo{{Signature: sig, Slot: slot}}, f.listings[addr]...)
}

func curveAccountData(creator solana.PublicKey, complete bool) []byte {
	data := make([]byte, curve.MinAccountDataLen)
	binary.LittleEndian.PutUint64(data[8:16], 1_000_000)
	binary.LittleEndian.PutUint64(data[16:24], 30_000_000_000)
	if complete {
		data[48] = 1
	}
	copy(data[49:81], creator.Bytes())
	return data
}

type fixture struct {
	watcher *Watcher
	source  *fakeSource
	cfg     *config.Config
	mint    solana.PublicKey
	creator solana.PublicKey
	native  solana.PublicKey
	ammATA  solana.PublicKey
	curvePK solana.PublicKey
}

func newFixture(t *testing.T, mode string) *fixture {
	t.Helper()

	mint := solana.NewWallet().PublicKey()
	creator := solana.NewWallet().PublicKey()

	curvePK, err := curve.DeriveBondingCurve(mint)
	require.NoError(t, err)
	native, err := curve.DeriveCreatorVault(creator)
	require.NoError(t, err)
	ammATA, err := curve.DeriveAMMCreatorVaultATA(creator)
	require.NoError(t, err)

	source := newFakeSource()
	source.accounts[curvePK] = curveAccountData(creator, false)

	cfg := &config.Config{
		RPCURL:          "http://localhost:8899",
		Mint:            mint.String(),
		Mode:            mode,
		PollIntervalMs:  10,
		StatsIntervalMs: 10,
		SignatureLimit:  50,
		LedgerFile:      filepath.Join(t.TempDir(), "ledger.json"),
	}

	w, err := New(cfg, source, Callbacks{}, nil, zap.NewNop())
	require.NoError(t, err)

	return &fixture{
		watcher: w,
		source:  source,
		cfg:     cfg,
		mint:    mint,
		creator: creator,
		native:  native,
		ammATA:  ammATA,
		curvePK: curvePK,
	}
}

// feeTx registers a transaction that raises the native vault balance.
func (fx *fixture) feeTx(sig solana.Signature, slot, pre, post uint64) {
	fx.source.mu.Lock()
	fx.source.txs[sig] = &chain.TxRecord{
		Signature:    sig,
		Slot:         slot,
		BlockTime:    time.Unix(1_750_000_000, 0),
		AccountKeys:  []solana.PublicKey{solana.NewWallet().PublicKey(), fx.native, fx.mint},
		PreBalances:  []uint64{5_000_000, pre, 0},
		PostBalances: []uint64{4_000_000, post, 0},
	}
	fx.source.mu.Unlock()
	fx.source.prependSignature(fx.native, sig, slot)
}

func TestStartFailsWhenInstrumentMissing(t *testing.T) {
	fx := newFixture(t, config.ModeTransactions)
	delete(fx.source.accounts, fx.curvePK)

	err := fx.watcher.Start(context.Background())
	require.Error(t, err)
	assert.Equal(t, StateStopped, fx.watcher.State())
}

func TestTickRecordsFeesExactlyOnce(t *testing.T) {
	fx := newFixture(t, config.ModeTransactions)
	w := fx.watcher
	ctx := context.Background()

	var fees []uint64
	w.callbacks.OnFee = func(amount uint64, vault ledger.VaultType, _ uint64) {
		fees = append(fees, amount)
	}

	require.NoError(t, w.initialize(ctx))

	// First tick primes the cursor on the pre-existing history.
	fx.feeTx(solana.Signature{1}, 1001, 0, 100_000)
	w.tick(ctx)
	assert.Equal(t, 0, w.book.EntryCount)

	// A new fee transaction lands.
	fx.feeTx(solana.Signature{2}, 1002, 100_000, 450_000)
	w.tick(ctx)

	require.Equal(t, 1, w.book.EntryCount)
	entry := w.book.Entries[0]
	assert.Equal(t, ledger.EventFee, entry.EventType)
	assert.Equal(t, ledger.VaultBondingCurve, entry.VaultType)
	assert.Equal(t, uint64(350_000), entry.Amount)
	assert.Equal(t, []uint64{350_000}, fees)

	// The same listing observed again must not produce a second entry.
	w.tick(ctx)
	w.tick(ctx)
	assert.Equal(t, 1, w.book.EntryCount)

	// Write-through: the persisted copy already matches and verifies.
	loaded, result, err := ledger.VerifyFile(fx.cfg.LedgerFile)
	require.NoError(t, err)
	assert.True(t, result.Valid)
	assert.Equal(t, 1, loaded.EntryCount)
}

func TestMigrationLatchIsMonotonic(t *testing.T) {
	fx := newFixture(t, config.ModeTransactions)
	w := fx.watcher
	ctx := context.Background()

	var migratedTo solana.PublicKey
	w.callbacks.OnMigration = func(vault solana.PublicKey) { migratedTo = vault }

	require.NoError(t, w.initialize(ctx))
	w.tick(ctx)
	assert.False(t, w.Stats().Migrated)

	// Completion observed.
	fx.source.mu.Lock()
	fx.source.accounts[fx.curvePK] = curveAccountData(fx.creator, true)
	fx.source.mu.Unlock()
	w.tick(ctx)

	require.True(t, w.Stats().Migrated)
	assert.Equal(t, fx.ammATA, migratedTo)
	require.Equal(t, 1, w.book.EntryCount)
	assert.Equal(t, ledger.EventMigrate, w.book.Entries[0].EventType)

	// A stale snapshot reading complete=false must not revert the latch
	// or append a second MIGRATE entry.
	fx.source.mu.Lock()
	fx.source.accounts[fx.curvePK] = curveAccountData(fx.creator, false)
	fx.source.mu.Unlock()
	w.tick(ctx)

	assert.True(t, w.Stats().Migrated)
	assert.Equal(t, 1, w.book.EntryCount)
}

func TestFungiblePipelineOnlyAfterMigration(t *testing.T) {
	fx := newFixture(t, config.ModeTransactions)
	w := fx.watcher
	ctx := context.Background()

	require.NoError(t, w.initialize(ctx))
	w.tick(ctx) // primes native cursor; AMM listing untouched

	// AMM history exists before migration but must be ignored.
	fx.source.prependSignature(fx.ammATA, solana.Signature{9}, 1100)
	w.tick(ctx)
	assert.False(t, w.ammCursor.Primed())

	fx.source.mu.Lock()
	fx.source.accounts[fx.curvePK] = curveAccountData(fx.creator, true)
	fx.source.mu.Unlock()
	w.tick(ctx)

	assert.True(t, w.ammCursor.Primed())
}

func TestPollingModeRecordsFeesAndClaims(t *testing.T) {
	fx := newFixture(t, config.ModePolling)
	w := fx.watcher
	ctx := context.Background()

	require.NoError(t, w.initialize(ctx))

	fx.source.mu.Lock()
	fx.source.lamports[fx.native] = 1_000_000
	fx.source.mu.Unlock()

	// Baseline tick yields nothing.
	w.tick(ctx)
	assert.Equal(t, 0, w.book.EntryCount)

	// Fee accrual.
	fx.source.mu.Lock()
	fx.source.lamports[fx.native] = 1_600_000
	fx.source.mu.Unlock()
	w.tick(ctx)

	require.Equal(t, 1, w.book.EntryCount)
	fee := w.book.Entries[0]
	assert.Equal(t, ledger.EventFee, fee.EventType)
	assert.Equal(t, uint64(600_000), fee.Amount)
	assert.Equal(t, uint64(1_000_000), fee.BalanceBefore)
	assert.Equal(t, uint64(1_600_000), fee.BalanceAfter)
	assert.Empty(t, fee.SourceSignature)

	// Creator claims: balance drops, recorded as CLAIM.
	fx.source.mu.Lock()
	fx.source.lamports[fx.native] = 200_000
	fx.source.mu.Unlock()
	w.tick(ctx)

	require.Equal(t, 2, w.book.EntryCount)
	claim := w.book.Entries[1]
	assert.Equal(t, ledger.EventClaim, claim.EventType)
	assert.Equal(t, uint64(1_400_000), claim.Amount)

	stats := w.Stats()
	assert.Equal(t, uint64(600_000), stats.TotalFees)
	assert.Equal(t, uint64(1_400_000), stats.TotalClaimed)
}

func TestRestartReplaysLedgerIntoCursors(t *testing.T) {
	fx := newFixture(t, config.ModeTransactions)
	ctx := context.Background()

	w := fx.watcher
	require.NoError(t, w.initialize(ctx))
	w.tick(ctx) // prime

	fx.feeTx(solana.Signature{7}, 1010, 0, 500_000)
	w.tick(ctx)
	require.Equal(t, 1, w.book.EntryCount)

	// New watcher over the same ledger file, same upstream listing.
	w2, err := New(fx.cfg, fx.source, Callbacks{}, nil, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, w2.initialize(ctx))

	assert.Equal(t, 1, w2.book.EntryCount)
	assert.Equal(t, uint64(500_000), w2.Stats().NativeFees)

	// The restarted cursor primes on the existing listing; the processed
	// set keeps the already-recorded signature from producing a new entry.
	w2.tick(ctx)
	w2.tick(ctx)
	assert.Equal(t, 1, w2.book.EntryCount)
}

func TestInitializeRefusesForeignLedger(t *testing.T) {
	fx := newFixture(t, config.ModeTransactions)

	other := ledger.New(solana.NewWallet().PublicKey().String(), "bc", "cr")
	require.NoError(t, other.Save(fx.cfg.LedgerFile))

	err := fx.watcher.initialize(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tracks mint")
}

func TestInitializeRefusesTamperedLedger(t *testing.T) {
	fx := newFixture(t, config.ModeTransactions)
	ctx := context.Background()

	w := fx.watcher
	require.NoError(t, w.initialize(ctx))
	w.tick(ctx)
	fx.feeTx(solana.Signature{3}, 1003, 0, 100_000)
	w.tick(ctx)
	require.Equal(t, 1, w.book.EntryCount)

	// Tamper with the persisted entry.
	tampered, err := ledger.Load(fx.cfg.LedgerFile)
	require.NoError(t, err)
	tampered.Entries[0].Amount += 1
	require.NoError(t, tampered.Save(fx.cfg.LedgerFile))

	w2, err := New(fx.cfg, fx.source, Callbacks{}, nil, zap.NewNop())
	require.NoError(t, err)
	err = w2.initialize(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "refusing to extend ledger")
}

func TestStartStopLifecycle(t *testing.T) {
	fx := newFixture(t, config.ModeTransactions)
	w := fx.watcher

	require.NoError(t, w.Start(context.Background()))
	assert.Equal(t, StateRunning, w.State())

	// Second start while running is rejected.
	assert.Error(t, w.Start(context.Background()))

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, w.Stop())
	assert.Equal(t, StateStopped, w.State())
}
