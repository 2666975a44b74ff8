package fees

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"AAFuel/internal/chain"
	xerrors "AAFuel/internal/errors"

	"github.com/ethereum/go-ethereum/common"
)

type fakeFeeReader struct {
	baseFee     *big.Int
	priority    *big.Int
	baseFeeErr  error
	priorityErr error
}

func (f *fakeFeeReader) BaseFee(context.Context) (*big.Int, error) {
	return f.baseFee, f.baseFeeErr
}

func (f *fakeFeeReader) SuggestPriorityFee(context.Context) (*big.Int, error) {
	return f.priority, f.priorityErr
}

type fakeLimitEstimator struct {
	limit uint64
	err   error

	gotFees chain.FeeSchedule
}

func (f *fakeLimitEstimator) EstimateLimit(_ context.Context, _ common.Address, _ chain.TransferRequest, fees chain.FeeSchedule) (uint64, error) {
	f.gotFees = fees
	return f.limit, f.err
}

type fakeSubmitter struct {
	txHash    common.Hash
	submitErr error
	receipt   *chain.Receipt
	waitErr   error

	submitted []chain.FeeSchedule
}

func (f *fakeSubmitter) Submit(_ context.Context, _ chain.TransferRequest, fees chain.FeeSchedule) (common.Hash, error) {
	f.submitted = append(f.submitted, fees)
	return f.txHash, f.submitErr
}

func (f *fakeSubmitter) WaitForConfirmation(context.Context, common.Hash, time.Duration) (*chain.Receipt, error) {
	return f.receipt, f.waitErr
}

func request() chain.TransferRequest {
	return chain.TransferRequest{
		To:    common.HexToAddress("0x1111111111111111111111111111111111111111"),
		Value: big.NewInt(1000),
	}
}

func TestEstimateScheduleBumpsFees(t *testing.T) {
	t.Parallel()

	reader := &fakeFeeReader{baseFee: gwei(100), priority: gwei(10)}
	limits := &fakeLimitEstimator{limit: 21000}
	est := New(reader, limits, &fakeSubmitter{}, common.Address{})

	schedule, err := est.EstimateSchedule(context.Background(), request(), Options{})
	if err != nil {
		t.Fatalf("estimate schedule: %v", err)
	}

	// priority 10 gwei bumped by 20% -> 12 gwei.
	if got, want := schedule.MaxPriorityFeePerGas, gwei(12); got.Cmp(want) != 0 {
		t.Fatalf("priority fee = %s, want %s", got, want)
	}
	// max fee = base 100 + bumped 12 + flat bump 3 -> 115 gwei.
	if got, want := schedule.MaxFeePerGas, gwei(115); got.Cmp(want) != 0 {
		t.Fatalf("max fee = %s, want %s", got, want)
	}
	if schedule.ComputeLimit != 21000 {
		t.Fatalf("compute limit = %d, want 21000", schedule.ComputeLimit)
	}
	if schedule.Timeout != DefaultTimeout {
		t.Fatalf("timeout = %s, want %s", schedule.Timeout, DefaultTimeout)
	}
	// The limit estimate must see the fee fields the transfer will carry.
	if limits.gotFees.MaxFeePerGas.Cmp(schedule.MaxFeePerGas) != 0 {
		t.Fatalf("limit estimate saw max fee %s, want %s", limits.gotFees.MaxFeePerGas, schedule.MaxFeePerGas)
	}
}

func TestEstimateScheduleZeroPriorityUsesBaseline(t *testing.T) {
	t.Parallel()

	reader := &fakeFeeReader{baseFee: gwei(50), priority: big.NewInt(0)}
	est := New(reader, &fakeLimitEstimator{limit: 21000}, &fakeSubmitter{}, common.Address{})

	schedule, err := est.EstimateSchedule(context.Background(), request(), Options{})
	if err != nil {
		t.Fatalf("estimate schedule: %v", err)
	}

	// Zero reported priority is replaced by the 1 gwei baseline before the
	// 20% bump: 1.2 gwei.
	want := new(big.Int).Div(gwei(12), big.NewInt(10))
	if schedule.MaxPriorityFeePerGas.Cmp(want) != 0 {
		t.Fatalf("priority fee = %s, want %s", schedule.MaxPriorityFeePerGas, want)
	}
}

func TestEstimateScheduleCustomBumps(t *testing.T) {
	t.Parallel()

	reader := &fakeFeeReader{baseFee: gwei(100), priority: gwei(10)}
	est := New(reader, &fakeLimitEstimator{limit: 30000}, &fakeSubmitter{}, common.Address{})

	schedule, err := est.EstimateSchedule(context.Background(), request(), Options{
		FeeBumpGwei:         7,
		PriorityBumpPercent: 50,
		Timeout:             5 * time.Second,
	})
	if err != nil {
		t.Fatalf("estimate schedule: %v", err)
	}

	if got, want := schedule.MaxPriorityFeePerGas, gwei(15); got.Cmp(want) != 0 {
		t.Fatalf("priority fee = %s, want %s", got, want)
	}
	if got, want := schedule.MaxFeePerGas, gwei(122); got.Cmp(want) != 0 {
		t.Fatalf("max fee = %s, want %s", got, want)
	}
	if schedule.Timeout != 5*time.Second {
		t.Fatalf("timeout = %s, want 5s", schedule.Timeout)
	}
}

func TestEstimateScheduleUsesConfiguredDefaults(t *testing.T) {
	t.Parallel()

	reader := &fakeFeeReader{baseFee: gwei(100), priority: gwei(10)}
	est := New(reader, &fakeLimitEstimator{limit: 21000}, &fakeSubmitter{}, common.Address{},
		WithDefaultOptions(Options{
			FeeBumpGwei:         7,
			PriorityBumpPercent: 50,
			Timeout:             45 * time.Second,
		}))

	// Empty per-call options pick up the configured baseline, not the
	// package defaults.
	schedule, err := est.EstimateSchedule(context.Background(), request(), Options{})
	if err != nil {
		t.Fatalf("estimate schedule: %v", err)
	}
	if got, want := schedule.MaxPriorityFeePerGas, gwei(15); got.Cmp(want) != 0 {
		t.Fatalf("priority fee = %s, want %s", got, want)
	}
	if got, want := schedule.MaxFeePerGas, gwei(122); got.Cmp(want) != 0 {
		t.Fatalf("max fee = %s, want %s", got, want)
	}
	if schedule.Timeout != 45*time.Second {
		t.Fatalf("timeout = %s, want 45s", schedule.Timeout)
	}

	// Per-call options still win over the configured baseline.
	schedule, err = est.EstimateSchedule(context.Background(), request(), Options{
		FeeBumpGwei:         1,
		PriorityBumpPercent: 10,
		Timeout:             5 * time.Second,
	})
	if err != nil {
		t.Fatalf("estimate schedule: %v", err)
	}
	if got, want := schedule.MaxPriorityFeePerGas, gwei(11); got.Cmp(want) != 0 {
		t.Fatalf("priority fee = %s, want %s", got, want)
	}
	if got, want := schedule.MaxFeePerGas, gwei(112); got.Cmp(want) != 0 {
		t.Fatalf("max fee = %s, want %s", got, want)
	}
	if schedule.Timeout != 5*time.Second {
		t.Fatalf("timeout = %s, want 5s", schedule.Timeout)
	}
}

func TestEstimateScheduleMonotonicInBumps(t *testing.T) {
	t.Parallel()

	reader := &fakeFeeReader{baseFee: gwei(80), priority: gwei(4)}
	est := New(reader, &fakeLimitEstimator{limit: 21000}, &fakeSubmitter{}, common.Address{})

	schedule := func(bumpGwei uint64, bumpPercent int64) chain.FeeSchedule {
		s, err := est.EstimateSchedule(context.Background(), request(), Options{
			FeeBumpGwei:         bumpGwei,
			PriorityBumpPercent: bumpPercent,
		})
		if err != nil {
			t.Fatalf("estimate schedule: %v", err)
		}
		return s
	}

	// A larger flat bump never lowers the max fee.
	prev := schedule(1, 20)
	for _, bump := range []uint64{2, 5, 13, 40} {
		next := schedule(bump, 20)
		if next.MaxFeePerGas.Cmp(prev.MaxFeePerGas) < 0 {
			t.Fatalf("max fee dropped from %s to %s when fee bump rose to %d gwei",
				prev.MaxFeePerGas, next.MaxFeePerGas, bump)
		}
		prev = next
	}

	// A larger percentage bump never lowers the priority fee, and the max
	// fee rises with it.
	prev = schedule(3, 10)
	for _, pct := range []int64{25, 50, 100, 300} {
		next := schedule(3, pct)
		if next.MaxPriorityFeePerGas.Cmp(prev.MaxPriorityFeePerGas) < 0 {
			t.Fatalf("priority fee dropped from %s to %s when bump rose to %d%%",
				prev.MaxPriorityFeePerGas, next.MaxPriorityFeePerGas, pct)
		}
		if next.MaxFeePerGas.Cmp(prev.MaxFeePerGas) < 0 {
			t.Fatalf("max fee dropped from %s to %s when bump rose to %d%%",
				prev.MaxFeePerGas, next.MaxFeePerGas, pct)
		}
		prev = next
	}
}

func TestEstimateScheduleFallbackOnFeeReadFailure(t *testing.T) {
	t.Parallel()

	reader := &fakeFeeReader{baseFeeErr: errors.New("node unreachable")}
	est := New(reader, &fakeLimitEstimator{}, &fakeSubmitter{}, common.Address{})

	schedule, err := est.EstimateSchedule(context.Background(), request(), Options{Timeout: 9 * time.Second})
	if err != nil {
		t.Fatalf("fallback must not surface an error, got %v", err)
	}

	want := FallbackSchedule(9 * time.Second)
	if schedule.ComputeLimit != want.ComputeLimit {
		t.Fatalf("compute limit = %d, want %d", schedule.ComputeLimit, want.ComputeLimit)
	}
	if schedule.MaxFeePerGas.Cmp(want.MaxFeePerGas) != 0 {
		t.Fatalf("max fee = %s, want %s", schedule.MaxFeePerGas, want.MaxFeePerGas)
	}
	if schedule.MaxPriorityFeePerGas.Cmp(want.MaxPriorityFeePerGas) != 0 {
		t.Fatalf("priority fee = %s, want %s", schedule.MaxPriorityFeePerGas, want.MaxPriorityFeePerGas)
	}
	if schedule.Timeout != 9*time.Second {
		t.Fatalf("timeout = %s, want 9s", schedule.Timeout)
	}
}

func TestEstimateScheduleFallbackOnLimitFailure(t *testing.T) {
	t.Parallel()

	reader := &fakeFeeReader{baseFee: gwei(100), priority: gwei(10)}
	limits := &fakeLimitEstimator{err: errors.New("execution reverted")}
	est := New(reader, limits, &fakeSubmitter{}, common.Address{})

	schedule, err := est.EstimateSchedule(context.Background(), request(), Options{})
	if err != nil {
		t.Fatalf("fallback must not surface an error, got %v", err)
	}
	if schedule.ComputeLimit != fallbackComputeLimit {
		t.Fatalf("compute limit = %d, want fallback %d", schedule.ComputeLimit, fallbackComputeLimit)
	}
	if schedule.Timeout != DefaultTimeout {
		t.Fatalf("timeout = %s, want default", schedule.Timeout)
	}
}

func TestEstimateScheduleRejectsInvalidRequests(t *testing.T) {
	t.Parallel()

	est := New(&fakeFeeReader{}, &fakeLimitEstimator{}, &fakeSubmitter{}, common.Address{})

	_, err := est.EstimateSchedule(context.Background(), chain.TransferRequest{}, Options{})
	if !xerrors.IsCode(err, xerrors.CodeValidation) {
		t.Fatalf("nil value: got %v, want VALIDATION_FAILED", err)
	}

	_, err = est.EstimateSchedule(context.Background(), chain.TransferRequest{Value: big.NewInt(-1)}, Options{})
	if !xerrors.IsCode(err, xerrors.CodeValidation) {
		t.Fatalf("negative value: got %v, want VALIDATION_FAILED", err)
	}
}

func TestExecuteTransferConfirms(t *testing.T) {
	t.Parallel()

	txHash := common.HexToHash("0xabc1")
	submitter := &fakeSubmitter{
		txHash:  txHash,
		receipt: &chain.Receipt{TxHash: txHash, BlockNumber: 7, GasUsed: 21000, Success: true},
	}
	reader := &fakeFeeReader{baseFee: gwei(100), priority: gwei(10)}
	est := New(reader, &fakeLimitEstimator{limit: 21000}, submitter, common.Address{})

	gotHash, receipt, err := est.ExecuteTransfer(context.Background(), request(), Options{})
	if err != nil {
		t.Fatalf("execute transfer: %v", err)
	}
	if gotHash != txHash {
		t.Fatalf("tx hash = %s, want %s", gotHash.Hex(), txHash.Hex())
	}
	if receipt == nil || !receipt.Success {
		t.Fatalf("expected a successful receipt, got %+v", receipt)
	}
	if len(submitter.submitted) != 1 {
		t.Fatalf("submit called %d times, want 1", len(submitter.submitted))
	}
}

func TestExecuteTransferPropagatesSubmitError(t *testing.T) {
	t.Parallel()

	submitter := &fakeSubmitter{submitErr: xerrors.New(xerrors.CodeTransport, "broadcast failed")}
	reader := &fakeFeeReader{baseFee: gwei(100), priority: gwei(10)}
	est := New(reader, &fakeLimitEstimator{limit: 21000}, submitter, common.Address{})

	_, _, err := est.ExecuteTransfer(context.Background(), request(), Options{})
	if !xerrors.IsCode(err, xerrors.CodeTransport) {
		t.Fatalf("got %v, want TRANSPORT_FAILURE", err)
	}
}
