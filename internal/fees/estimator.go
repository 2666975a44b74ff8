package fees

import (
	"context"
	"log/slog"
	"math/big"
	"time"

	"AAFuel/internal/chain"
	xerrors "AAFuel/internal/errors"
	"AAFuel/pkg/logger"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/params"
)

// Defaults for the estimation knobs. The bump values are deliberate
// over-payment: a few gwei of margin buys prompt inclusion.
const (
	DefaultFeeBumpGwei         = 3
	DefaultPriorityBumpPercent = 20
	DefaultTimeout             = 30 * time.Second

	// baselinePriorityGwei substitutes for nodes that report a zero
	// priority fee (dev chains), keeping the percentage bump meaningful.
	baselinePriorityGwei = 1

	// Fallback values used whenever live estimation fails: the minimum
	// viable limit for a plain transfer and generous flat fees.
	fallbackComputeLimit = 21000
	fallbackMaxFeeGwei   = 10
	fallbackPriorityGwei = 2
)

// Options tunes one estimation. Zero values select the defaults.
type Options struct {
	// FeeBumpGwei is an additive margin, in gwei, on top of the computed
	// max fee.
	FeeBumpGwei uint64
	// PriorityBumpPercent increases the baseline priority fee by a
	// percentage.
	PriorityBumpPercent int64
	// Timeout bounds the confirmation wait of transfers executed with the
	// resulting schedule.
	Timeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.FeeBumpGwei == 0 {
		o.FeeBumpGwei = DefaultFeeBumpGwei
	}
	if o.PriorityBumpPercent == 0 {
		o.PriorityBumpPercent = DefaultPriorityBumpPercent
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	return o
}

// merge fills zero-value fields from base, so per-call options override the
// estimator's configured defaults field by field.
func (o Options) merge(base Options) Options {
	if o.FeeBumpGwei == 0 {
		o.FeeBumpGwei = base.FeeBumpGwei
	}
	if o.PriorityBumpPercent == 0 {
		o.PriorityBumpPercent = base.PriorityBumpPercent
	}
	if o.Timeout <= 0 {
		o.Timeout = base.Timeout
	}
	return o
}

func gwei(n uint64) *big.Int {
	return new(big.Int).Mul(new(big.Int).SetUint64(n), big.NewInt(params.GWei))
}

// FallbackSchedule is the fixed schedule used when live estimation is
// unavailable. It is a pure function of the timeout so the always-fallback
// guarantee can be tested in isolation.
func FallbackSchedule(timeout time.Duration) chain.FeeSchedule {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return chain.FeeSchedule{
		ComputeLimit:         fallbackComputeLimit,
		MaxFeePerGas:         gwei(fallbackMaxFeeGwei),
		MaxPriorityFeePerGas: gwei(fallbackPriorityGwei),
		Timeout:              timeout,
	}
}

// Estimator derives fee schedules from live network observations and
// executes transfers with them. Estimation failures never surface to the
// caller: availability wins over precision, and a fallback schedule with a
// logged warning is returned instead.
type Estimator struct {
	fees      chain.FeeReader
	limits    chain.LimitEstimator
	transfers chain.TransferSubmitter
	from      common.Address
	defaults  Options
	log       *slog.Logger
}

// EstimatorOption customises an Estimator.
type EstimatorOption func(*Estimator)

// WithDefaultOptions sets the configured baseline for every estimate. Zero
// fields of per-call Options fall back to these values before the package
// defaults apply.
func WithDefaultOptions(defaults Options) EstimatorOption {
	return func(e *Estimator) {
		e.defaults = defaults
	}
}

// New constructs an Estimator whose transfers originate from the given
// address.
func New(fees chain.FeeReader, limits chain.LimitEstimator, transfers chain.TransferSubmitter, from common.Address, opts ...EstimatorOption) *Estimator {
	e := &Estimator{
		fees:      fees,
		limits:    limits,
		transfers: transfers,
		from:      from,
		log:       logger.Named("fees"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

func (e *Estimator) validate(req chain.TransferRequest) error {
	if req.Value == nil {
		return xerrors.New(xerrors.CodeValidation, "transfer request requires a value")
	}
	if req.Value.Sign() < 0 {
		return xerrors.New(xerrors.CodeValidation, "transfer value must not be negative")
	}
	return nil
}

// EstimateSchedule returns the fee schedule for req. The only possible error
// is a malformed request; any estimation failure yields the fallback
// schedule with the requested timeout preserved.
func (e *Estimator) EstimateSchedule(ctx context.Context, req chain.TransferRequest, opts Options) (chain.FeeSchedule, error) {
	if err := e.validate(req); err != nil {
		return chain.FeeSchedule{}, err
	}
	opts = opts.merge(e.defaults).withDefaults()

	schedule, err := e.estimate(ctx, req, opts)
	if err != nil {
		e.log.Warn("fee estimation failed, using fallback schedule",
			slog.String("to", req.To.Hex()),
			slog.Any("error", err))
		return FallbackSchedule(opts.Timeout), nil
	}
	return schedule, nil
}

// estimate is the fallible live path: base fee and priority fee reads, bump
// arithmetic, then a limit estimate for the exact request.
func (e *Estimator) estimate(ctx context.Context, req chain.TransferRequest, opts Options) (chain.FeeSchedule, error) {
	baseFee, err := e.fees.BaseFee(ctx)
	if err != nil {
		return chain.FeeSchedule{}, xerrors.Wrap(xerrors.CodeEstimation, err, "read base fee")
	}

	priority, err := e.fees.SuggestPriorityFee(ctx)
	if err != nil {
		return chain.FeeSchedule{}, xerrors.Wrap(xerrors.CodeEstimation, err, "read priority fee")
	}
	if priority == nil || priority.Sign() <= 0 {
		priority = gwei(baselinePriorityGwei)
	}

	// bumped = priority + priority * percent / 100
	bump := new(big.Int).Mul(priority, big.NewInt(opts.PriorityBumpPercent))
	bump.Div(bump, big.NewInt(100))
	bumped := new(big.Int).Add(priority, bump)

	maxFee := new(big.Int).Add(baseFee, bumped)
	maxFee.Add(maxFee, gwei(opts.FeeBumpGwei))

	schedule := chain.FeeSchedule{
		MaxFeePerGas:         maxFee,
		MaxPriorityFeePerGas: bumped,
		Timeout:              opts.Timeout,
	}

	limit, err := e.limits.EstimateLimit(ctx, e.from, req, schedule)
	if err != nil {
		return chain.FeeSchedule{}, xerrors.Wrap(xerrors.CodeEstimation, err, "estimate compute limit")
	}
	schedule.ComputeLimit = limit
	return schedule, nil
}

// ExecuteTransfer estimates a schedule, submits the transfer with it and
// blocks until confirmation or the schedule timeout. Transport failures
// propagate unchanged; retry policy belongs to the caller.
func (e *Estimator) ExecuteTransfer(ctx context.Context, req chain.TransferRequest, opts Options) (common.Hash, *chain.Receipt, error) {
	schedule, err := e.EstimateSchedule(ctx, req, opts)
	if err != nil {
		return common.Hash{}, nil, err
	}

	txHash, err := e.transfers.Submit(ctx, req, schedule)
	if err != nil {
		return common.Hash{}, nil, err
	}

	receipt, err := e.transfers.WaitForConfirmation(ctx, txHash, schedule.Timeout)
	if err != nil {
		return txHash, nil, err
	}
	return txHash, receipt, nil
}
