// Package sync reconciles the wallet state with an Electrum server. A round
// discovers the used addresses of the account, fetches the facts that
// changed since the previous round and rebuilds the utxo set, committing
// either a fully consistent new state or nothing at all.
package sync

import (
	"context"
	stdsync "sync"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
	"github.com/vulpemventures/go-elements/transaction"
	"go.uber.org/ratelimit"
	"golang.org/x/sync/errgroup"

	"github.com/liquidtools/walletd/internal/domain"
	"github.com/liquidtools/walletd/pkg/bufferutil"
	"github.com/liquidtools/walletd/pkg/circuitbreaker"
	"github.com/liquidtools/walletd/pkg/electrum"
	"github.com/liquidtools/walletd/pkg/keyring"
	"github.com/liquidtools/walletd/pkg/transactionutil"
)

// Status is the externally observable phase of the engine.
type Status int

const (
	// StatusIdle means no round is running.
	StatusIdle Status = iota
	// StatusDiscovering means the engine is probing addresses for usage.
	StatusDiscovering
	// StatusFetching means the engine is downloading histories, raw
	// transactions and block hashes.
	StatusFetching
	// StatusReconciling means the engine is rebuilding the utxo set.
	StatusReconciling
	// StatusFailed means the last round gave up and left the previous
	// state untouched.
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusDiscovering:
		return "discovering"
	case StatusFetching:
		return "fetching"
	case StatusReconciling:
		return "reconciling"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Options tunes a sync engine. The zero value picks sane defaults.
type Options struct {
	// MaxParallel bounds the number of concurrent server calls of the
	// fetching phase.
	MaxParallel int
	// CallTimeout bounds every single server call.
	CallTimeout time.Duration
	// MaxRetries is the number of extra attempts granted to a retryable
	// call failure.
	MaxRetries int
	// RetryDelay is the base delay between attempts, doubled at each one.
	RetryDelay time.Duration
	// MaxStatusRounds bounds how many times a scripthash status is allowed
	// to move before the server is deemed inconsistent.
	MaxStatusRounds int
	// RequestsPerSecond caps the request rate towards the server.
	RequestsPerSecond int
}

func (o Options) withDefaults() Options {
	if o.MaxParallel <= 0 {
		o.MaxParallel = 8
	}
	if o.CallTimeout <= 0 {
		o.CallTimeout = 10 * time.Second
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = 500 * time.Millisecond
	}
	if o.MaxStatusRounds <= 0 {
		o.MaxStatusRounds = 10
	}
	if o.RequestsPerSecond <= 0 {
		o.RequestsPerSecond = 50
	}
	return o
}

// Engine drives sync rounds against a single Electrum server.
type Engine struct {
	client  electrum.Client
	ring    *keyring.KeyRing
	book    *keyring.AddressBook
	opts    Options
	limiter ratelimit.Limiter
	breaker *gobreaker.CircuitBreaker

	mtx     stdsync.Mutex
	status  Status
	running bool
}

// NewEngine returns an engine syncing the account of the given keyring
// through the given client.
func NewEngine(
	client electrum.Client,
	ring *keyring.KeyRing,
	book *keyring.AddressBook,
	opts Options,
) *Engine {
	opts = opts.withDefaults()
	return &Engine{
		client:  client,
		ring:    ring,
		book:    book,
		opts:    opts,
		limiter: ratelimit.New(opts.RequestsPerSecond),
		breaker: circuitbreaker.NewCircuitBreaker("electrum"),
		status:  StatusIdle,
	}
}

// Status returns the current phase of the engine.
func (e *Engine) Status() Status {
	e.mtx.Lock()
	defer e.mtx.Unlock()
	return e.status
}

// Round runs one full sync round on top of prev and returns the new state.
// The input state is never mutated: on any error the caller keeps prev and
// nothing is lost. Running a round twice against an unchanged server is a
// no-op producing an equivalent state. The caller must hand over a state no
// other goroutine writes to, typically a clone taken under its own lock.
func (e *Engine) Round(
	ctx context.Context, prev *domain.ChainState,
) (*domain.ChainState, error) {
	e.mtx.Lock()
	if e.running {
		e.mtx.Unlock()
		return nil, ErrSyncInProgress
	}
	e.running = true
	e.mtx.Unlock()

	defer func() {
		e.mtx.Lock()
		e.running = false
		e.mtx.Unlock()
	}()

	next, err := e.round(ctx, prev)
	if err != nil {
		e.setStatus(StatusFailed)
		return nil, err
	}
	e.setStatus(StatusIdle)
	return next, nil
}

func (e *Engine) round(
	ctx context.Context, prev *domain.ChainState,
) (*domain.ChainState, error) {
	next := prev.Clone()

	// A detected reorganization invalidates part of the state and grants
	// one extra discovery pass to refetch it within the same round.
	for pass := 0; ; pass++ {
		e.setStatus(StatusDiscovering)
		changed, err := e.discover(ctx, next)
		if err != nil {
			return nil, err
		}
		log.WithField("changed", len(changed)).Debug("discovery completed")

		e.setStatus(StatusFetching)
		if err := e.fetchHistories(ctx, next, changed); err != nil {
			return nil, err
		}
		if err := e.fetchTransactions(ctx, next); err != nil {
			return nil, err
		}
		forkHeight, reorged, err := e.fetchBlockHashes(ctx, next)
		if err != nil {
			return nil, err
		}
		if !reorged {
			break
		}
		if pass > 0 {
			return nil, ErrServerInconsistent
		}
		log.WithField("fork_height", forkHeight).Warn(
			"chain reorganization detected",
		)
		next, _ = domain.ApplyReorg(next, forkHeight)
	}

	e.setStatus(StatusReconciling)
	if err := e.reconcile(next); err != nil {
		return nil, err
	}
	return next, nil
}

// discover probes the addresses of both chains until the gap limit of
// consecutive unused ones is reached past the last used index, and returns
// the scripthashes whose server status differs from the stored one.
func (e *Engine) discover(
	ctx context.Context, state *domain.ChainState,
) (map[string]string, error) {
	changed := map[string]string{}

	for _, chain := range []uint32{keyring.ExternalChain, keyring.InternalChain} {
		unused := uint32(0)
		for index := uint32(0); unused < e.book.GapLimit(); index++ {
			info, err := e.book.AddressAt(chain, index)
			if err != nil {
				return nil, err
			}
			scripthash := electrum.ScriptHash(info.Script)

			var status string
			if err := e.call(ctx, func(callCtx context.Context) error {
				var err error
				status, err = e.client.SubscribeScripthash(callCtx, scripthash)
				return err
			}); err != nil {
				return nil, err
			}

			if status != "" {
				e.book.MarkUsed(chain, index)
				unused = 0
			} else {
				unused++
			}

			if stored := state.Statuses[scripthash]; status != stored {
				changed[scripthash] = status
			}
		}
	}
	return changed, nil
}

// fetchHistories downloads the history of every changed scripthash and
// verifies it against the server status, re-subscribing while the status
// keeps moving, up to a bound.
func (e *Engine) fetchHistories(
	ctx context.Context, state *domain.ChainState, changed map[string]string,
) error {
	var mtx stdsync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	sem := make(chan struct{}, e.opts.MaxParallel)

	for scripthash, status := range changed {
		scripthash, status := scripthash, status
		g.Go(func() error {
			sem <- struct{}{}
			defer func() { <-sem }()

			var history []electrum.HistoryItem
			for round := 0; ; round++ {
				if err := e.call(gctx, func(callCtx context.Context) error {
					var err error
					history, err = e.client.GetHistory(callCtx, scripthash)
					return err
				}); err != nil {
					return err
				}
				if electrum.StatusHash(history) == status {
					break
				}
				if round >= e.opts.MaxStatusRounds {
					return ErrServerInconsistent
				}
				// the status moved underneath us, restabilize on the
				// latest one before retrying
				if err := e.call(gctx, func(callCtx context.Context) error {
					var err error
					status, err = e.client.SubscribeScripthash(callCtx, scripthash)
					return err
				}); err != nil {
					return err
				}
			}

			mtx.Lock()
			defer mtx.Unlock()
			if status == "" {
				delete(state.Statuses, scripthash)
				delete(state.Histories, scripthash)
				return nil
			}
			state.Statuses[scripthash] = status
			state.Histories[scripthash] = history
			return nil
		})
	}
	return g.Wait()
}

// fetchTransactions downloads every transaction referenced by the histories
// and not yet cached, verifying that the raw bytes hash to the requested id.
func (e *Engine) fetchTransactions(
	ctx context.Context, state *domain.ChainState,
) error {
	missing := map[string]struct{}{}
	for _, history := range state.Histories {
		for _, item := range history {
			if _, ok := state.Txs[item.TxID]; !ok {
				missing[item.TxID] = struct{}{}
			}
		}
	}
	if len(missing) <= 0 {
		return nil
	}

	var mtx stdsync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	sem := make(chan struct{}, e.opts.MaxParallel)

	for txid := range missing {
		txid := txid
		g.Go(func() error {
			sem <- struct{}{}
			defer func() { <-sem }()

			var txHex string
			if err := e.call(gctx, func(callCtx context.Context) error {
				var err error
				txHex, err = e.client.GetTransaction(callCtx, txid)
				return err
			}); err != nil {
				return err
			}

			tx, err := transaction.NewTxFromHex(txHex)
			if err != nil {
				return ErrServerInconsistent
			}
			if tx.TxHash().String() != txid {
				return ErrServerInconsistent
			}

			mtx.Lock()
			state.Txs[txid] = txHex
			mtx.Unlock()
			return nil
		})
	}
	return g.Wait()
}

// fetchBlockHashes refreshes the tip and the hash of every block referenced
// by the histories. A hash differing from the stored one means the chain
// reorganized at that height.
func (e *Engine) fetchBlockHashes(
	ctx context.Context, state *domain.ChainState,
) (uint32, bool, error) {
	var tip *electrum.Tip
	if err := e.call(ctx, func(callCtx context.Context) error {
		var err error
		tip, err = e.client.GetTip(callCtx)
		return err
	}); err != nil {
		return 0, false, err
	}

	heights := map[uint32]struct{}{}
	for _, history := range state.Histories {
		for _, item := range history {
			if item.Confirmed() {
				heights[uint32(item.Height)] = struct{}{}
			}
		}
	}

	var mtx stdsync.Mutex
	fetched := map[uint32]string{}
	g, gctx := errgroup.WithContext(ctx)
	sem := make(chan struct{}, e.opts.MaxParallel)

	for height := range heights {
		height := height
		g.Go(func() error {
			sem <- struct{}{}
			defer func() { <-sem }()

			var hash string
			if err := e.call(gctx, func(callCtx context.Context) error {
				var err error
				hash, err = e.client.GetBlockHash(callCtx, height)
				return err
			}); err != nil {
				return err
			}
			mtx.Lock()
			fetched[height] = hash
			mtx.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, false, err
	}

	forkHeight := uint32(0)
	reorged := false
	for height, hash := range fetched {
		if stored, ok := state.BlockHashes[height]; ok && stored != hash {
			if !reorged || height < forkHeight {
				forkHeight = height
			}
			reorged = true
		}
	}
	if reorged {
		return forkHeight, true, nil
	}

	for height, hash := range fetched {
		state.BlockHashes[height] = hash
	}
	state.Tip = *tip
	return 0, false, nil
}

// reconcile rebuilds the utxo set from the cached transactions: every
// output paying a wallet script and not spent by a wallet transaction is
// unblinded with the owning address' blinding key and stored with its
// revealed secrets. Reservation flags are not rebuilt here, the owner of
// the state reapplies them when committing the round.
func (e *Engine) reconcile(next *domain.ChainState) error {
	txHeights := map[string]int32{}
	walletTxs := map[string]*transaction.Transaction{}
	for _, history := range next.Histories {
		for _, item := range history {
			if height, ok := txHeights[item.TxID]; !ok || item.Height > height {
				txHeights[item.TxID] = item.Height
			}
			if _, ok := walletTxs[item.TxID]; ok {
				continue
			}
			txHex, ok := next.Txs[item.TxID]
			if !ok {
				return ErrServerInconsistent
			}
			tx, err := transaction.NewTxFromHex(txHex)
			if err != nil {
				return err
			}
			walletTxs[item.TxID] = tx
		}
	}

	spent := map[string]struct{}{}
	for _, tx := range walletTxs {
		for _, input := range tx.Inputs {
			op := domain.Outpoint{
				TxID: bufferutil.TxIDFromBytes(input.Hash),
				VOut: input.Index,
			}
			spent[op.String()] = struct{}{}
		}
	}

	utxos := map[string]*domain.Utxo{}
	for txid, tx := range walletTxs {
		for vout, output := range tx.Outputs {
			if len(output.Script) <= 0 {
				continue
			}
			info, ok := e.book.InfoForScript(output.Script)
			if !ok {
				continue
			}
			op := domain.Outpoint{TxID: txid, VOut: uint32(vout)}
			if _, ok := spent[op.String()]; ok {
				continue
			}

			blindingPrvKey, _, err := e.ring.BlindingKeyPair(output.Script)
			if err != nil {
				return err
			}
			revealed, ok := transactionutil.UnblindOutput(
				output, blindingPrvKey.Serialize(),
			)
			if !ok {
				log.WithField("outpoint", op.String()).Warn(
					"failed to unblind wallet output, skipping it",
				)
				continue
			}

			confirmedHeight := uint32(0)
			if height := txHeights[txid]; height > 0 {
				confirmedHeight = uint32(height)
			}

			utxo := &domain.Utxo{
				Outpoint:        op,
				Chain:           info.Chain,
				Index:           info.Index,
				Script:          output.Script,
				AssetCommitment: output.Asset,
				ValueCommitment: output.Value,
				Nonce:           output.Nonce,
				RangeProof:      output.RangeProof,
				SurjectionProof: output.SurjectionProof,
				Asset:           revealed.AssetHash,
				Value:           revealed.Value,
				AssetBlinder:    revealed.AssetBlinder,
				ValueBlinder:    revealed.ValueBlinder,
				ConfirmedHeight: confirmedHeight,
			}
			utxos[op.String()] = utxo
		}
	}
	next.Utxos = utxos
	return nil
}

// call runs a single server call through the rate limiter and the circuit
// breaker, bounded by the call timeout and retried with doubling delays
// while the failure is retryable.
func (e *Engine) call(
	ctx context.Context, fn func(ctx context.Context) error,
) error {
	var lastErr error
	delay := e.opts.RetryDelay
	for attempt := 0; attempt <= e.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
			delay *= 2
		}

		e.limiter.Take()
		_, err := e.breaker.Execute(func() (interface{}, error) {
			callCtx, cancel := context.WithTimeout(ctx, e.opts.CallTimeout)
			defer cancel()
			return nil, fn(callCtx)
		})
		if err == nil {
			return nil
		}
		lastErr = err
		if !electrum.IsRetryable(err) {
			return err
		}
	}
	return lastErr
}

func (e *Engine) setStatus(status Status) {
	e.mtx.Lock()
	e.status = status
	e.mtx.Unlock()
}
