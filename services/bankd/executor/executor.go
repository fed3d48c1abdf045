package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"stablebank/core/events"
	"stablebank/core/genesis"
	"stablebank/core/types"
	"stablebank/native/bank"
	"stablebank/native/token"
	"stablebank/observability"
	telemetry "stablebank/observability/otel"
	"stablebank/services/bankd/storage"
)

var (
	// ErrWrongChain is returned for transactions signed for another chain.
	ErrWrongChain = errors.New("executor: chain id mismatch")
	// ErrNonceMismatch is returned when the nonce is not the sender's next one.
	ErrNonceMismatch = errors.New("executor: nonce mismatch")
	// ErrUnknownTarget is returned when To names neither the bank nor a token.
	ErrUnknownTarget = errors.New("executor: unknown target")
	// ErrUnknownMethod is returned for unsupported token methods.
	ErrUnknownMethod = errors.New("executor: unknown method")
	// ErrReadOnly is returned when View is asked to run a mutating method.
	ErrReadOnly = errors.New("executor: method mutates state")
	// ErrInvariant is returned when a transaction would leave the ledger
	// inconsistent.
	ErrInvariant = errors.New("executor: ledger invariant violated")
)

// Token methods accepted when To names a registered asset.
const (
	MethodTransfer = "transfer"
	MethodApprove  = "approve"
)

var viewMethods = map[string]bool{
	bank.MethodPreviewWithdraw: true,
	bank.MethodBalanceOf:       true,
	bank.MethodTotalDeposited:  true,
	bank.MethodCap:             true,
	bank.MethodIsAssetAllowed:  true,
}

// Journal persists processed transactions.
type Journal interface {
	Record(ctx context.Context, tx *storage.TxRecord) error
}

// Options tune an Executor.
type Options struct {
	Journal         Journal
	Metrics         *observability.BankMetrics
	Logger          *slog.Logger
	CheckInvariants bool
	Now             func() time.Time
}

// Receipt describes the outcome of a submitted transaction.
type Receipt struct {
	Hash    string        `json:"hash"`
	Sender  string        `json:"sender"`
	Nonce   uint64        `json:"nonce"`
	Status  string        `json:"status"`
	Code    string        `json:"code,omitempty"`
	Error   string        `json:"error,omitempty"`
	Amount  string        `json:"amount,omitempty"`
	Allowed bool          `json:"allowed,omitempty"`
	Events  []types.Event `json:"events"`

	err error
}

// Err returns the execution error of a rejected transaction.
func (r *Receipt) Err() error {
	if r == nil {
		return nil
	}
	return r.err
}

// Executor applies signed transactions to the world one at a time.
type Executor struct {
	mu      sync.Mutex
	world   *genesis.World
	buffer  *events.Recorder
	journal Journal
	metrics *observability.BankMetrics
	logger  *slog.Logger
	tracer  trace.Tracer
	check   bool
	now     func() time.Time
}

// New wires an executor over world. Every component's events are redirected
// into a per-transaction buffer that is only published on success.
func New(world *genesis.World, opts Options) (*Executor, error) {
	if world == nil || world.State == nil || world.Bank == nil || world.Tokens == nil {
		return nil, fmt.Errorf("executor: world not initialised")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	exec := &Executor{
		world:   world,
		buffer:  &events.Recorder{},
		journal: opts.Journal,
		metrics: opts.Metrics,
		logger:  logger,
		tracer:  telemetry.Tracer("stablebank/bankd/executor"),
		check:   opts.CheckInvariants,
		now:     now,
	}
	world.Tokens.SetEmitter(exec.buffer)
	if world.Router != nil {
		world.Router.SetEmitter(exec.buffer)
	}
	world.Bank.SetEmitter(exec.buffer)
	exec.publishTotals()
	return exec, nil
}

// Submit verifies and executes tx. Admission failures (signature, chain,
// nonce) return an error and leave state untouched. Execution failures
// revert every effect of the call, consume the nonce and are reported in the
// receipt.
func (e *Executor) Submit(ctx context.Context, tx *types.Transaction) (*Receipt, error) {
	if tx == nil {
		return nil, fmt.Errorf("executor: nil transaction")
	}
	ctx, span := e.tracer.Start(ctx, "bankd.submit")
	defer span.End()

	sender, err := tx.From()
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	hashBytes, err := tx.Hash()
	if err != nil {
		return nil, fmt.Errorf("executor: hash transaction: %w", err)
	}
	hash := hexutil.Encode(hashBytes)
	method := strings.TrimSpace(tx.Method)
	span.SetAttributes(
		attribute.String("tx.hash", hash),
		attribute.String("tx.sender", strings.ToLower(sender.Hex())),
		attribute.String("tx.method", method),
	)
	if strings.TrimSpace(tx.ChainID) != strconv.FormatUint(e.world.ChainID, 10) {
		span.SetStatus(codes.Error, ErrWrongChain.Error())
		return nil, fmt.Errorf("%w: got %q", ErrWrongChain, tx.ChainID)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	st := e.world.State
	expected, err := st.Nonce(sender)
	if err != nil {
		return nil, fmt.Errorf("executor: load nonce: %w", err)
	}
	if tx.Nonce != expected {
		span.SetStatus(codes.Error, ErrNonceMismatch.Error())
		return nil, fmt.Errorf("%w: expected %d, got %d", ErrNonceMismatch, expected, tx.Nonce)
	}

	started := e.now()
	e.buffer.Reset()
	snapshot := st.Snapshot()
	result, execErr := e.dispatch(ctx, sender, tx)
	if execErr == nil && e.check {
		if err := e.world.Bank.CheckInvariants(); err != nil {
			execErr = fmt.Errorf("%w: %v", ErrInvariant, err)
		}
	}
	if execErr != nil {
		st.RevertToSnapshot(snapshot)
		e.buffer.Reset()
	}
	if err := st.SetNonce(sender, expected+1); err != nil {
		st.Discard()
		return nil, fmt.Errorf("executor: bump nonce: %w", err)
	}
	if err := st.Commit(); err != nil {
		st.Discard()
		return nil, fmt.Errorf("executor: commit: %w", err)
	}
	emitted := e.buffer.Events()
	e.buffer.Reset()

	receipt := &Receipt{
		Hash:   hash,
		Sender: strings.ToLower(sender.Hex()),
		Nonce:  tx.Nonce,
		Status: storage.StatusApplied,
		Events: make([]types.Event, 0, len(emitted)),
	}
	for _, evt := range emitted {
		rendered := evt.Event()
		if rendered == nil {
			continue
		}
		receipt.Events = append(receipt.Events, *rendered)
		e.metrics.RecordEvent(rendered.Type)
	}
	if execErr != nil {
		receipt.Status = storage.StatusRejected
		receipt.Code = Code(execErr)
		receipt.Error = execErr.Error()
		receipt.err = execErr
		span.RecordError(execErr)
		span.SetStatus(codes.Error, receipt.Code)
	} else if result != nil {
		if result.Amount != nil {
			receipt.Amount = result.Amount.String()
		}
		receipt.Allowed = result.Allowed
	}
	span.SetAttributes(attribute.String("tx.status", receipt.Status))

	label := metricLabel(tx, e.world.Bank.Address())
	e.metrics.ObserveOperation(label, receipt.Code, e.now().Sub(started))
	e.publishTotals()
	e.record(ctx, tx, receipt)

	if execErr != nil {
		e.logger.Info("transaction rejected",
			slog.String("tx", hash),
			slog.String("method", label),
			slog.String("account", receipt.Sender),
			slog.String("outcome", receipt.Code),
		)
	} else {
		e.logger.Info("transaction applied",
			slog.String("tx", hash),
			slog.String("method", label),
			slog.String("account", receipt.Sender),
			slog.Int("events", len(receipt.Events)),
		)
	}
	return receipt, nil
}

func (e *Executor) dispatch(ctx context.Context, sender common.Address, tx *types.Transaction) (*bank.Result, error) {
	method := strings.TrimSpace(tx.Method)
	hasValue := tx.Value != nil && tx.Value.Sign() != 0
	switch {
	case tx.To == e.world.Bank.Address():
		return e.world.Bank.Call(ctx, sender, bank.Message{
			Method:  method,
			Asset:   tx.Asset,
			Account: tx.Account,
			Amount:  tx.Amount,
			MinOut:  tx.MinOut,
			Value:   tx.Value,
			Allowed: tx.Allowed,
		})
	case method == "":
		if !hasValue {
			return nil, ErrUnknownMethod
		}
		if err := e.world.Tokens.Transfer(ctx, token.NativeAsset, sender, tx.To, tx.Value); err != nil {
			return nil, err
		}
		return &bank.Result{Amount: new(big.Int).Set(tx.Value)}, nil
	case e.world.State.TokenExists(tx.To):
		if hasValue {
			return nil, bank.ErrNonPayable
		}
		switch method {
		case MethodTransfer:
			if err := e.world.Tokens.Transfer(ctx, tx.To, sender, tx.Account, tx.Amount); err != nil {
				return nil, err
			}
		case MethodApprove:
			if err := e.world.Tokens.Approve(tx.To, sender, tx.Account, tx.Amount); err != nil {
				return nil, err
			}
		default:
			return nil, fmt.Errorf("%w: %q", ErrUnknownMethod, method)
		}
		return &bank.Result{Amount: new(big.Int).Set(tx.Amount)}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownTarget, tx.To.Hex())
	}
}

// View runs a read-only bank method on behalf of caller.
func (e *Executor) View(ctx context.Context, caller common.Address, msg bank.Message) (*bank.Result, error) {
	if !viewMethods[msg.Method] {
		return nil, fmt.Errorf("%w: %q", ErrReadOnly, msg.Method)
	}
	var result *bank.Result
	err := e.Read(func(world *genesis.World) error {
		var err error
		result, err = world.Bank.Call(ctx, caller, msg)
		return err
	})
	return result, err
}

// Read runs fn with exclusive access to the world. Any state fn writes is
// discarded.
func (e *Executor) Read(fn func(world *genesis.World) error) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	snapshot := e.world.State.Snapshot()
	defer e.world.State.RevertToSnapshot(snapshot)
	return fn(e.world)
}

// Nonce returns the next nonce expected from account.
func (e *Executor) Nonce(account common.Address) (uint64, error) {
	var nonce uint64
	err := e.Read(func(world *genesis.World) error {
		var err error
		nonce, err = world.State.Nonce(account)
		return err
	})
	return nonce, err
}

// ChainID returns the chain transactions must be signed for.
func (e *Executor) ChainID() uint64 { return e.world.ChainID }

func (e *Executor) publishTotals() {
	if e.metrics == nil {
		return
	}
	total, err := e.world.Bank.TotalDeposited()
	if err != nil {
		return
	}
	limit, err := e.world.Bank.Cap()
	if err != nil {
		return
	}
	e.metrics.SetLedgerTotals(total, limit)
}

func (e *Executor) record(ctx context.Context, tx *types.Transaction, receipt *Receipt) {
	if e.journal == nil {
		return
	}
	rec := &storage.TxRecord{
		Hash:   receipt.Hash,
		Sender: receipt.Sender,
		Nonce:  receipt.Nonce,
		Target: strings.ToLower(tx.To.Hex()),
		Method: strings.TrimSpace(tx.Method),
		Status: receipt.Status,
		Code:   receipt.Code,
		Error:  receipt.Error,
		Result: receipt.Amount,
	}
	for _, evt := range receipt.Events {
		rec.Events = append(rec.Events, storage.EventRecord{Type: evt.Type, Attributes: evt.Attributes})
	}
	if err := e.journal.Record(ctx, rec); err != nil {
		e.logger.Error("journal write failed", slog.String("tx", receipt.Hash), slog.Any("error", err))
	}
}

var bankMethods = map[string]bool{
	bank.MethodDepositSettlement:    true,
	bank.MethodDepositNativeConvert: true,
	bank.MethodDepositAssetConvert:  true,
	bank.MethodWithdraw:             true,
	bank.MethodPreviewWithdraw:      true,
	bank.MethodSetAssetAllowed:      true,
	bank.MethodSetCap:               true,
	bank.MethodBalanceOf:            true,
	bank.MethodTotalDeposited:       true,
	bank.MethodCap:                  true,
	bank.MethodIsAssetAllowed:       true,
}

// metricLabel keeps label cardinality bounded regardless of caller input.
func metricLabel(tx *types.Transaction, bankAddr common.Address) string {
	method := strings.TrimSpace(tx.Method)
	switch {
	case tx.To == bankAddr && method == "":
		return "bank.direct"
	case tx.To == bankAddr && bankMethods[method]:
		return method
	case tx.To == bankAddr:
		return "bank.unknown"
	case method == "":
		return "native.transfer"
	case method == MethodTransfer || method == MethodApprove:
		return "token." + method
	default:
		return "token.unknown"
	}
}
