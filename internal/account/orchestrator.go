package account

import (
	"context"
	"crypto/ecdsa"
	"log/slog"
	"math/big"
	"time"

	"AAFuel/internal/chain"
	xerrors "AAFuel/internal/errors"
	"AAFuel/internal/funding"
	"AAFuel/internal/journal"
	"AAFuel/pkg/logger"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/params"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DefaultOperationTimeout bounds the receipt wait of ordinary operations.
const DefaultOperationTimeout = 30 * time.Second

// Fallback per-call limits used when the transport cannot estimate an
// operation, in the protocol's native gas units.
const (
	fallbackExecutionLimit       = 100000
	fallbackVerificationLimit    = 100000
	fallbackPreVerificationLimit = 21000
)

// Assurer is the slice of the funding layer the orchestrator depends on.
type Assurer interface {
	EnsureMinimum(ctx context.Context, target common.Address, minBalance *big.Int) (*funding.Decision, error)
}

// Config holds the explicit settings of one orchestrator. There is no
// environment-derived state: everything the orchestrator needs arrives here.
type Config struct {
	// OwnerKey is the key that owns the paying account. Held exclusively
	// by the orchestrator.
	OwnerKey *ecdsa.PrivateKey
	// Deriver selects the derivation strategy; nil means counterfactual.
	Deriver Deriver
	// Derivation parameterises the deriver.
	Derivation DeriveParams
	// MinBalance is the funding threshold checked before every
	// submission; nil means 0.01 ether.
	MinBalance *big.Int
	// OperationTimeout bounds operation receipt waits; zero means the
	// default.
	OperationTimeout time.Duration
}

// AddressBalance pairs a raw wei balance with its decimal rendering.
type AddressBalance struct {
	Address common.Address
	Wei     *big.Int
	Ether   string
}

// BalanceSnapshot is a point-in-time reading of the owner and account
// balances. It is recomputed on every call, never persisted, and carries no
// cross-snapshot guarantee: balances may have changed by the time a caller
// acts on it.
type BalanceSnapshot struct {
	Owner   AddressBalance
	Account AddressBalance
}

// Submission reports a completed operation submission.
type Submission struct {
	Operation *chain.Operation
	Funding   *funding.Decision
	Handle    common.Hash
	Receipt   *chain.OperationReceipt
}

// Orchestrator owns the lifecycle of one paying account: balance
// inspection, funding assurance and operation submission. It starts
// Uninitialized and becomes Ready after Initialize derives the account
// address; every other method fails with PRECONDITION_REQUIRED until then.
type Orchestrator struct {
	owner     *ecdsa.PrivateKey
	ownerAddr common.Address
	deriver   Deriver
	params    DeriveParams

	balances    chain.BalanceReader
	assurer     Assurer
	opEstimator chain.OperationEstimator
	opSubmitter chain.OperationSubmitter
	recorder    *journal.Recorder

	minBalance *big.Int
	opTimeout  time.Duration

	account common.Address
	ready   bool
	log     *slog.Logger
}

// New wires an orchestrator. The recorder may be nil to disable journaling.
func New(cfg Config, balances chain.BalanceReader, assurer Assurer, opEstimator chain.OperationEstimator, opSubmitter chain.OperationSubmitter, recorder *journal.Recorder) (*Orchestrator, error) {
	if cfg.OwnerKey == nil {
		return nil, xerrors.New(xerrors.CodeValidation, "owner key is required")
	}
	deriver := cfg.Deriver
	if deriver == nil {
		deriver = CounterfactualDeriver{}
	}
	minBalance := cfg.MinBalance
	if minBalance == nil {
		minBalance = new(big.Int).Div(big.NewInt(params.Ether), big.NewInt(100))
	}
	if minBalance.Sign() < 0 {
		return nil, xerrors.New(xerrors.CodeValidation, "minimum balance must not be negative")
	}
	opTimeout := cfg.OperationTimeout
	if opTimeout <= 0 {
		opTimeout = DefaultOperationTimeout
	}

	return &Orchestrator{
		owner:       cfg.OwnerKey,
		ownerAddr:   crypto.PubkeyToAddress(cfg.OwnerKey.PublicKey),
		deriver:     deriver,
		params:      cfg.Derivation,
		balances:    balances,
		assurer:     assurer,
		opEstimator: opEstimator,
		opSubmitter: opSubmitter,
		recorder:    recorder,
		minBalance:  new(big.Int).Set(minBalance),
		opTimeout:   opTimeout,
		log:         logger.Named("account"),
	}, nil
}

// Initialize derives the account address and moves the orchestrator to
// Ready. It runs exactly once; the derived address is immutable afterwards.
func (o *Orchestrator) Initialize(ctx context.Context) error {
	if o.ready {
		return xerrors.New(xerrors.CodeValidation, "orchestrator already initialized")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	address, err := o.deriver.Derive(o.ownerAddr, o.params)
	if err != nil {
		return err
	}
	o.account = address
	o.ready = true
	o.log.Info("account initialized",
		slog.String("owner", o.ownerAddr.Hex()),
		slog.String("account", address.Hex()))
	return nil
}

func (o *Orchestrator) requireReady() error {
	if !o.ready {
		return xerrors.New(xerrors.CodePrecondition, "call Initialize before using the account")
	}
	return nil
}

// Address returns the derived account address.
func (o *Orchestrator) Address() (common.Address, error) {
	if err := o.requireReady(); err != nil {
		return common.Address{}, err
	}
	return o.account, nil
}

// OwnerAddress returns the owning key's address.
func (o *Orchestrator) OwnerAddress() common.Address {
	return o.ownerAddr
}

func renderEther(wei *big.Int) string {
	return decimal.NewFromBigInt(new(big.Int).Set(wei), -18).String()
}

// Balances returns a snapshot of the owner and account balances.
func (o *Orchestrator) Balances(ctx context.Context) (*BalanceSnapshot, error) {
	if err := o.requireReady(); err != nil {
		return nil, err
	}

	ownerBalance, err := o.balances.BalanceAt(ctx, o.ownerAddr)
	if err != nil {
		return nil, err
	}
	accountBalance, err := o.balances.BalanceAt(ctx, o.account)
	if err != nil {
		return nil, err
	}

	return &BalanceSnapshot{
		Owner: AddressBalance{
			Address: o.ownerAddr,
			Wei:     ownerBalance,
			Ether:   renderEther(ownerBalance),
		},
		Account: AddressBalance{
			Address: o.account,
			Wei:     accountBalance,
			Ether:   renderEther(accountBalance),
		},
	}, nil
}

// SubmitOperation funds the account if needed, then submits calls as one
// atomic operation and blocks for its receipt. The funding check runs
// unconditionally before every submission so an operation is never sent
// against a known-insufficient balance.
//
// Concurrent calls against the same account are not serialized here; they
// race on funding and sequencing and are the caller's responsibility to
// avoid.
func (o *Orchestrator) SubmitOperation(ctx context.Context, calls []chain.Call) (*Submission, error) {
	if err := o.requireReady(); err != nil {
		return nil, err
	}
	if len(calls) == 0 {
		return nil, xerrors.New(xerrors.CodeValidation, "operation requires at least one call")
	}

	decision, err := o.assurer.EnsureMinimum(ctx, o.account, o.minBalance)
	if err != nil {
		return nil, err
	}
	if decision.Outcome == funding.OutcomeTransferred {
		fundingID := o.recorder.FundingSubmitted(ctx, o.account, decision.Transferred, decision.TxHash)
		if decision.Receipt != nil {
			o.recorder.Confirmed(ctx, fundingID, decision.Receipt.BlockNumber, decision.Receipt.GasUsed)
		}
	}

	// A fresh operation per submission: limits and sequencing may differ
	// between attempts, so operations are never reused.
	op := &chain.Operation{
		ID:        uuid.NewString(),
		Sender:    o.account,
		Calls:     calls,
		CreatedAt: time.Now(),
	}

	limits, err := o.opEstimator.EstimateOperation(ctx, o.account, calls)
	if err != nil {
		o.log.Warn("operation limit estimation failed, using fallback limits",
			slog.String("operation_id", op.ID),
			slog.Any("error", err))
		limits = chain.CallLimits{
			Execution:       fallbackExecutionLimit,
			Verification:    fallbackVerificationLimit,
			PreVerification: fallbackPreVerificationLimit,
		}
	}
	op.Limits = limits

	handle, err := o.opSubmitter.SubmitOperation(ctx, op)
	if err != nil {
		return nil, err
	}
	entryID := o.recorder.OperationSubmitted(ctx, op, handle)

	receipt, err := o.opSubmitter.WaitForOperationReceipt(ctx, handle, o.opTimeout)
	if err != nil {
		// The submission is not retracted: it may still land after the
		// local wait expires, which the journal poller will observe.
		return nil, err
	}
	if receipt.Success {
		o.recorder.Confirmed(ctx, entryID, receipt.BlockNumber, receipt.GasUsed)
	} else {
		o.recorder.Failed(ctx, entryID, xerrors.New(xerrors.CodeTransport, "operation reverted on chain"))
	}

	return &Submission{
		Operation: op,
		Funding:   decision,
		Handle:    handle,
		Receipt:   receipt,
	}, nil
}

// SendTo submits a single-call operation transferring amount to dest.
func (o *Orchestrator) SendTo(ctx context.Context, dest common.Address, amount *big.Int) (*Submission, error) {
	if amount == nil || amount.Sign() < 0 {
		return nil, xerrors.New(xerrors.CodeValidation, "amount must be a non-negative amount")
	}
	return o.SubmitOperation(ctx, []chain.Call{{To: dest, Value: new(big.Int).Set(amount)}})
}

// SendToSelf submits a self-transfer, the cheapest end-to-end liveness
// check.
func (o *Orchestrator) SendToSelf(ctx context.Context, amount *big.Int) (*Submission, error) {
	if err := o.requireReady(); err != nil {
		return nil, err
	}
	return o.SendTo(ctx, o.account, amount)
}
