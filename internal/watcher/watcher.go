// internal/watcher/watcher.go
package watcher

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/solaudit/feeledger/internal/chain"
	"github.com/solaudit/feeledger/internal/config"
	"github.com/solaudit/feeledger/internal/cursor"
	"github.com/solaudit/feeledger/internal/curve"
	"github.com/solaudit/feeledger/internal/extract"
	"github.com/solaudit/feeledger/internal/ledger"
)

// State is the watcher lifecycle phase.
type State string

const (
	StateStopped      State = "STOPPED"
	StateInitializing State = "INITIALIZING"
	StateRunning      State = "RUNNING"
)

// Stats is a point-in-time snapshot of cumulative totals, passed to the
// periodic stats callback by value so external code never touches watcher
// state directly.
type Stats struct {
	TotalFees    uint64
	NativeFees   uint64
	FungibleFees uint64
	TotalClaimed uint64
	EntryCount   int
	Migrated     bool
}

// Callbacks are the watcher's outward notifications. Any field may be nil.
// Callbacks run on the tick goroutine and must not block.
type Callbacks struct {
	OnFee       func(amount uint64, vault ledger.VaultType, balanceAfter uint64)
	OnEntry     func(entry ledger.FeeEvent)
	OnMigration func(ammVault solana.PublicKey)
	OnStats     func(stats Stats)
}

// Recorder receives every appended entry, e.g. the CSV history writer.
type Recorder interface {
	Record(entry ledger.FeeEvent) error
}

type baseline struct {
	value uint64
	set   bool
}

// Watcher drives the poll pipeline for one instrument: instrument state ->
// signature cursors -> delta extraction -> ledger append -> persistence.
// All chain interaction and ledger mutation is serialized on the tick
// goroutine; the mutex covers the ledger and totals shared with the stats
// loop and accessors.
type Watcher struct {
	cfg       *config.Config
	source    chain.Source
	callbacks Callbacks
	recorder  Recorder
	logger    *zap.Logger
	runID     uuid.UUID

	mu    sync.Mutex
	state State

	mint         solana.PublicKey
	bondingCurve solana.PublicKey
	creator      solana.PublicKey
	nativeVault  extract.WatchedAccount
	ammVault     extract.WatchedAccount

	book      *ledger.Ledger
	extractor *extract.Extractor

	nativeCursor *cursor.SignatureCursor
	ammCursor    *cursor.SignatureCursor

	// One-way migration latch: set on first observed completion, never
	// reverted by stale reads.
	migrated bool

	nativeFees   uint64
	fungibleFees uint64

	nativeBaseline baseline
	ammBaseline    baseline

	cancel context.CancelFunc
	group  *errgroup.Group
}

// New creates a watcher. recorder may be nil.
func New(cfg *config.Config, source chain.Source, callbacks Callbacks, recorder Recorder, logger *zap.Logger) (*Watcher, error) {
	mint, err := solana.PublicKeyFromBase58(cfg.Mint)
	if err != nil {
		return nil, fmt.Errorf("invalid mint address: %w", err)
	}

	runID := uuid.New()
	return &Watcher{
		cfg:       cfg,
		source:    source,
		callbacks: callbacks,
		recorder:  recorder,
		logger: logger.Named("watcher").With(
			zap.String("run_id", runID.String()),
			zap.String("mint", mint.String())),
		runID: runID,
		mint:  mint,
		state: StateStopped,
	}, nil
}

// State returns the current lifecycle phase.
func (w *Watcher) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// RunID returns this session's identifier.
func (w *Watcher) RunID() uuid.UUID {
	return w.runID
}

// SetRecorder attaches the entry recorder. Must be called before Start.
func (w *Watcher) SetRecorder(recorder Recorder) {
	w.recorder = recorder
}

// Stats returns a snapshot of cumulative totals.
func (w *Watcher) Stats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.statsLocked()
}

func (w *Watcher) statsLocked() Stats {
	if w.book == nil {
		return Stats{}
	}
	return Stats{
		TotalFees:    w.book.TotalFees,
		NativeFees:   w.nativeFees,
		FungibleFees: w.fungibleFees,
		TotalClaimed: w.book.TotalClaimed,
		EntryCount:   w.book.EntryCount,
		Migrated:     w.migrated,
	}
}

// Start resolves the instrument, loads or creates the ledger, and launches
// the poll and stats loops. Startup failures (unknown or undecodable
// instrument, incompatible or tampered ledger file) are fatal.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.state != StateStopped {
		w.mu.Unlock()
		return fmt.Errorf("watcher already started (state %s)", w.state)
	}
	w.state = StateInitializing
	w.mu.Unlock()

	if err := w.initialize(ctx); err != nil {
		w.mu.Lock()
		w.state = StateStopped
		w.mu.Unlock()
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	group, groupCtx := errgroup.WithContext(runCtx)
	group.Go(func() error { return w.pollLoop(groupCtx) })
	group.Go(func() error { return w.statsLoop(groupCtx) })

	w.mu.Lock()
	w.cancel = cancel
	w.group = group
	w.state = StateRunning
	w.mu.Unlock()

	w.logger.Info("Watcher running",
		zap.String("mode", w.cfg.Mode),
		zap.Duration("poll_interval", w.cfg.PollInterval()),
		zap.Duration("stats_interval", w.cfg.StatsInterval()))
	return nil
}

// Stop cancels the loops, waits for any in-flight tick to finish, and
// performs a final persist. Safe to call once after a successful Start.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if w.state != StateRunning {
		w.mu.Unlock()
		return nil
	}
	cancel, group := w.cancel, w.group
	w.mu.Unlock()

	cancel()
	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		w.logger.Warn("Watch loop exited with error", zap.Error(err))
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.book.Save(w.cfg.LedgerFile); err != nil {
		w.state = StateStopped
		return fmt.Errorf("final ledger persist failed: %w", err)
	}
	w.state = StateStopped
	w.logger.Info("Watcher stopped",
		zap.Int("entries", w.book.EntryCount),
		zap.Uint64("total_fees", w.book.TotalFees))
	return nil
}

// initialize resolves derived addresses, decodes the current instrument
// state, and loads a compatible persisted ledger or creates a fresh one.
func (w *Watcher) initialize(ctx context.Context) error {
	bondingCurve, err := curve.DeriveBondingCurve(w.mint)
	if err != nil {
		return err
	}
	w.bondingCurve = bondingCurve

	data, err := w.source.GetAccountData(ctx, bondingCurve)
	if err != nil {
		return fmt.Errorf("bonding curve account %s unavailable: %w", bondingCurve, err)
	}
	state, err := curve.DecodeState(data)
	if err != nil {
		return fmt.Errorf("cannot decode bonding curve %s: %w", bondingCurve, err)
	}
	w.creator = state.Creator

	nativeVault, err := curve.DeriveCreatorVault(state.Creator)
	if err != nil {
		return err
	}
	ammAuthority, err := curve.DeriveAMMCreatorVaultAuthority(state.Creator)
	if err != nil {
		return err
	}
	ammATA, err := curve.DeriveAMMCreatorVaultATA(state.Creator)
	if err != nil {
		return err
	}

	w.nativeVault = extract.WatchedAccount{
		Address: nativeVault,
		Kind:    extract.Native,
		Vault:   ledger.VaultBondingCurve,
	}
	w.ammVault = extract.WatchedAccount{
		Address:    ammATA,
		TokenOwner: ammAuthority,
		Kind:       extract.Fungible,
		Vault:      ledger.VaultAMM,
	}

	w.extractor = extract.New(extract.Instrument{
		Mint:         w.mint,
		BondingCurve: bondingCurve,
	}, w.logger)
	w.nativeCursor = cursor.New(nativeVault.String(), w.logger)
	w.ammCursor = cursor.New(ammATA.String(), w.logger)

	if err := w.openLedger(); err != nil {
		return err
	}

	w.logger.Info("Watcher initialized",
		zap.String("bonding_curve", bondingCurve.String()),
		zap.String("creator", state.Creator.String()),
		zap.String("native_vault", nativeVault.String()),
		zap.String("amm_vault", ammATA.String()),
		zap.Bool("instrument_complete", state.Complete),
		zap.Bool("ledger_migrated", w.migrated),
		zap.Int("existing_entries", w.book.EntryCount))
	return nil
}

// openLedger loads the persisted ledger when present, refusing files that
// belong to a different instrument or fail verification, and replays its
// entries into the cursors' processed sets so restarts stay exactly-once.
func (w *Watcher) openLedger() error {
	if _, err := os.Stat(w.cfg.LedgerFile); errors.Is(err, os.ErrNotExist) {
		w.book = ledger.New(w.mint.String(), w.bondingCurve.String(), w.creator.String())
		if err := w.book.Save(w.cfg.LedgerFile); err != nil {
			return fmt.Errorf("cannot create ledger file: %w", err)
		}
		w.logger.Info("Created fresh ledger", zap.String("file", w.cfg.LedgerFile))
		return nil
	}

	book, err := ledger.Load(w.cfg.LedgerFile)
	if err != nil {
		return err
	}
	if book.Mint != w.mint.String() {
		return fmt.Errorf("ledger file %s tracks mint %s, not %s",
			w.cfg.LedgerFile, book.Mint, w.mint)
	}
	if result := ledger.Verify(book); !result.Valid {
		return fmt.Errorf("refusing to extend ledger %s: %s", w.cfg.LedgerFile, result)
	}

	w.book = book
	w.migrated = book.Migrated
	for _, entry := range book.Entries {
		switch entry.EventType {
		case ledger.EventFee:
			if entry.VaultType == ledger.VaultBondingCurve {
				w.nativeFees += entry.Amount
			} else {
				w.fungibleFees += entry.Amount
			}
		}
		if entry.SourceSignature == "" {
			continue
		}
		sig, err := solana.SignatureFromBase58(entry.SourceSignature)
		if err != nil {
			w.logger.Warn("Unparseable source signature in persisted ledger",
				zap.Uint64("sequence", entry.Sequence),
				zap.Error(err))
			continue
		}
		if entry.VaultType == ledger.VaultBondingCurve {
			w.nativeCursor.MarkProcessed(sig)
		} else {
			w.ammCursor.MarkProcessed(sig)
		}
	}

	w.logger.Info("Loaded persisted ledger",
		zap.String("file", w.cfg.LedgerFile),
		zap.Int("entries", book.EntryCount),
		zap.Uint64("total_fees", book.TotalFees))
	return nil
}

func (w *Watcher) pollLoop(ctx context.Context) error {
	ticker := time.NewTicker(w.cfg.PollInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			w.tick(ctx)
		}
	}
}

func (w *Watcher) statsLoop(ctx context.Context) error {
	ticker := time.NewTicker(w.cfg.StatsInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			w.emitStats()
		}
	}
}

func (w *Watcher) emitStats() {
	w.mu.Lock()
	stats := w.statsLocked()
	w.mu.Unlock()

	w.logger.Info("Cumulative totals",
		zap.Uint64("total_fees", stats.TotalFees),
		zap.Uint64("native_fees", stats.NativeFees),
		zap.Uint64("fungible_fees", stats.FungibleFees),
		zap.Uint64("total_claimed", stats.TotalClaimed),
		zap.Int("entries", stats.EntryCount),
		zap.Bool("migrated", stats.Migrated))

	if w.callbacks.OnStats != nil {
		w.callbacks.OnStats(stats)
	}
}
