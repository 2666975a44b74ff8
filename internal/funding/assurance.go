package funding

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"AAFuel/internal/chain"
	xerrors "AAFuel/internal/errors"
	"AAFuel/internal/fees"
	"AAFuel/pkg/logger"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/params"
)

// DefaultTimeout is the confirmation timeout for funding transfers. They are
// allowed more time than ordinary operations because everything downstream
// blocks on them.
const DefaultTimeout = 60 * time.Second

// DefaultBuffer is added on top of the computed shortfall so the target can
// pay its own fees after the top-up: one thousandth of an ether.
var DefaultBuffer = new(big.Int).Div(big.NewInt(params.Ether), big.NewInt(1000))

// Outcome is the tri-state result of an assurance check.
type Outcome string

const (
	// OutcomeSufficient means the target already held the minimum; no
	// write was performed.
	OutcomeSufficient Outcome = "sufficient"
	// OutcomeTransferred means a top-up transfer confirmed.
	OutcomeTransferred Outcome = "transferred"
)

// Decision reports what an EnsureMinimum call did. It is returned, never
// stored.
type Decision struct {
	Outcome     Outcome
	Transferred *big.Int
	TxHash      common.Hash
	Receipt     *chain.Receipt
}

// TransferExecutor is the slice of the fee estimator the assurance layer
// uses to move funds.
type TransferExecutor interface {
	ExecuteTransfer(ctx context.Context, req chain.TransferRequest, opts fees.Options) (common.Hash, *chain.Receipt, error)
}

// Assurance guarantees a target address holds at least a minimum balance
// before dependent work proceeds, topping it up from the funding source when
// it does not.
type Assurance struct {
	balances chain.BalanceReader
	executor TransferExecutor
	source   common.Address
	buffer   *big.Int
	timeout  time.Duration
	log      *slog.Logger
}

// Option customises an Assurance.
type Option func(*Assurance)

// WithBuffer overrides the fee buffer added to every shortfall.
func WithBuffer(buffer *big.Int) Option {
	return func(a *Assurance) {
		if buffer != nil && buffer.Sign() >= 0 {
			a.buffer = new(big.Int).Set(buffer)
		}
	}
}

// WithTimeout overrides the funding confirmation timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(a *Assurance) {
		if timeout > 0 {
			a.timeout = timeout
		}
	}
}

// New constructs an Assurance funded from source.
func New(balances chain.BalanceReader, executor TransferExecutor, source common.Address, opts ...Option) *Assurance {
	a := &Assurance{
		balances: balances,
		executor: executor,
		source:   source,
		buffer:   new(big.Int).Set(DefaultBuffer),
		timeout:  DefaultTimeout,
		log:      logger.Named("funding"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a
}

// CheckBalance reads the current balance of any address. Transport errors
// propagate without interpretation.
func (a *Assurance) CheckBalance(ctx context.Context, address common.Address) (*big.Int, error) {
	return a.balances.BalanceAt(ctx, address)
}

// EnsureMinimum guarantees target holds at least minBalance. When the target
// is already funded it performs zero writes. Otherwise it transfers the
// shortfall plus the fee buffer, or fails with INSUFFICIENT_FUNDING naming
// the shortfall when the source cannot cover it; partial transfers are never
// attempted.
//
// The guarantee is point-in-time: balances may change again once the call
// returns.
func (a *Assurance) EnsureMinimum(ctx context.Context, target common.Address, minBalance *big.Int) (*Decision, error) {
	if minBalance == nil || minBalance.Sign() < 0 {
		return nil, xerrors.New(xerrors.CodeValidation, "minimum balance must be a non-negative amount")
	}

	sourceBalance, err := a.balances.BalanceAt(ctx, a.source)
	if err != nil {
		return nil, err
	}
	targetBalance, err := a.balances.BalanceAt(ctx, target)
	if err != nil {
		return nil, err
	}

	if targetBalance.Cmp(minBalance) >= 0 {
		a.log.Debug("target already funded",
			slog.String("target", target.Hex()),
			slog.String("balance_wei", targetBalance.String()))
		return &Decision{Outcome: OutcomeSufficient}, nil
	}

	// required = (min - target) + buffer; the buffer covers the target's
	// own future fees. The source additionally needs one more buffer for
	// the fee of the funding transfer itself.
	required := new(big.Int).Sub(minBalance, targetBalance)
	required.Add(required, a.buffer)

	needed := new(big.Int).Add(required, a.buffer)
	if sourceBalance.Cmp(needed) < 0 {
		shortfall := new(big.Int).Sub(needed, sourceBalance)
		return nil, xerrors.New(xerrors.CodeInsufficientFunding,
			fmt.Sprintf("funding source %s holds %s wei but needs %s wei (shortfall %s wei)",
				a.source.Hex(), sourceBalance, needed, shortfall),
			xerrors.WithMetadata("shortfall_wei", shortfall.String()))
	}

	a.log.Info("topping up target",
		slog.String("target", target.Hex()),
		slog.String("amount_wei", required.String()))

	txHash, receipt, err := a.executor.ExecuteTransfer(ctx, chain.TransferRequest{
		To:    target,
		Value: required,
	}, fees.Options{Timeout: a.timeout})
	if err != nil {
		return nil, err
	}

	return &Decision{
		Outcome:     OutcomeTransferred,
		Transferred: required,
		TxHash:      txHash,
		Receipt:     receipt,
	}, nil
}
