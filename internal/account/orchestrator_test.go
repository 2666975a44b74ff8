package account

import (
	"context"
	"math/big"
	"testing"
	"time"

	"AAFuel/internal/chain"
	xerrors "AAFuel/internal/errors"
	"AAFuel/internal/funding"
	"AAFuel/internal/journal"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

type fakeBalances struct {
	balances map[common.Address]*big.Int
	reads    int
}

func (f *fakeBalances) BalanceAt(_ context.Context, address common.Address) (*big.Int, error) {
	f.reads++
	if balance, ok := f.balances[address]; ok {
		return new(big.Int).Set(balance), nil
	}
	return new(big.Int), nil
}

type fakeAssurer struct {
	decision *funding.Decision
	err      error
	calls    []common.Address
	trace    *[]string
}

func (f *fakeAssurer) EnsureMinimum(_ context.Context, target common.Address, _ *big.Int) (*funding.Decision, error) {
	f.calls = append(f.calls, target)
	if f.trace != nil {
		*f.trace = append(*f.trace, "ensure")
	}
	if f.err != nil {
		return nil, f.err
	}
	if f.decision != nil {
		return f.decision, nil
	}
	return &funding.Decision{Outcome: funding.OutcomeSufficient}, nil
}

type fakeOpEstimator struct {
	limits chain.CallLimits
	err    error
	trace  *[]string
}

func (f *fakeOpEstimator) EstimateOperation(context.Context, common.Address, []chain.Call) (chain.CallLimits, error) {
	if f.trace != nil {
		*f.trace = append(*f.trace, "estimate")
	}
	return f.limits, f.err
}

type fakeOpSubmitter struct {
	handle    common.Hash
	submitErr error
	receipt   *chain.OperationReceipt
	waitErr   error

	submitted []*chain.Operation
	trace     *[]string
}

func (f *fakeOpSubmitter) SubmitOperation(_ context.Context, op *chain.Operation) (common.Hash, error) {
	f.submitted = append(f.submitted, op)
	if f.trace != nil {
		*f.trace = append(*f.trace, "submit")
	}
	return f.handle, f.submitErr
}

func (f *fakeOpSubmitter) WaitForOperationReceipt(context.Context, common.Hash, time.Duration) (*chain.OperationReceipt, error) {
	return f.receipt, f.waitErr
}

func newTestOrchestrator(t *testing.T, balances chain.BalanceReader, assurer Assurer, estimator chain.OperationEstimator, submitter chain.OperationSubmitter) *Orchestrator {
	t.Helper()

	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	o, err := New(Config{
		OwnerKey: key,
		Deriver:  DevDeriver{},
	}, balances, assurer, estimator, submitter, nil)
	if err != nil {
		t.Fatalf("new orchestrator: %v", err)
	}
	return o
}

func TestMethodsFailBeforeInitialize(t *testing.T) {
	t.Parallel()

	balances := &fakeBalances{}
	assurer := &fakeAssurer{}
	submitter := &fakeOpSubmitter{}
	o := newTestOrchestrator(t, balances, assurer, &fakeOpEstimator{}, submitter)

	if _, err := o.Address(); !xerrors.IsCode(err, xerrors.CodePrecondition) {
		t.Fatalf("Address: got %v, want PRECONDITION_REQUIRED", err)
	}
	if _, err := o.Balances(context.Background()); !xerrors.IsCode(err, xerrors.CodePrecondition) {
		t.Fatalf("Balances: got %v, want PRECONDITION_REQUIRED", err)
	}
	if _, err := o.SubmitOperation(context.Background(), []chain.Call{{}}); !xerrors.IsCode(err, xerrors.CodePrecondition) {
		t.Fatalf("SubmitOperation: got %v, want PRECONDITION_REQUIRED", err)
	}
	if _, err := o.SendToSelf(context.Background(), big.NewInt(1)); !xerrors.IsCode(err, xerrors.CodePrecondition) {
		t.Fatalf("SendToSelf: got %v, want PRECONDITION_REQUIRED", err)
	}

	// The state gate must reject before touching any collaborator.
	if balances.reads != 0 {
		t.Fatalf("expected zero balance reads, got %d", balances.reads)
	}
	if len(assurer.calls) != 0 {
		t.Fatalf("expected zero funding checks, got %d", len(assurer.calls))
	}
	if len(submitter.submitted) != 0 {
		t.Fatalf("expected zero submissions, got %d", len(submitter.submitted))
	}
}

func TestInitializeRunsOnce(t *testing.T) {
	t.Parallel()

	o := newTestOrchestrator(t, &fakeBalances{}, &fakeAssurer{}, &fakeOpEstimator{}, &fakeOpSubmitter{})

	if err := o.Initialize(context.Background()); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if err := o.Initialize(context.Background()); !xerrors.IsCode(err, xerrors.CodeValidation) {
		t.Fatalf("second initialize: got %v, want VALIDATION_FAILED", err)
	}

	address, err := o.Address()
	if err != nil {
		t.Fatalf("address: %v", err)
	}
	if address != o.OwnerAddress() {
		t.Fatalf("dev derivation: account %s, want owner %s", address.Hex(), o.OwnerAddress().Hex())
	}
}

func TestCounterfactualDerivationIsDeterministic(t *testing.T) {
	t.Parallel()

	owner := common.HexToAddress("0x1111111111111111111111111111111111111111")
	params := DeriveParams{
		Factory:  common.HexToAddress("0x2222222222222222222222222222222222222222"),
		Salt:     big.NewInt(7),
		InitCode: []byte{0x60, 0x80},
	}

	first, err := CounterfactualDeriver{}.Derive(owner, params)
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	second, err := CounterfactualDeriver{}.Derive(owner, params)
	if err != nil {
		t.Fatalf("derive again: %v", err)
	}
	if first != second {
		t.Fatalf("derivation not deterministic: %s vs %s", first.Hex(), second.Hex())
	}
	if first == owner {
		t.Fatal("counterfactual address must differ from the owner")
	}

	params.Salt = big.NewInt(8)
	other, err := CounterfactualDeriver{}.Derive(owner, params)
	if err != nil {
		t.Fatalf("derive with new salt: %v", err)
	}
	if other == first {
		t.Fatal("different salts must derive different addresses")
	}

	if _, err := (CounterfactualDeriver{}).Derive(owner, DeriveParams{}); !xerrors.IsCode(err, xerrors.CodeValidation) {
		t.Fatalf("missing factory: got %v, want VALIDATION_FAILED", err)
	}
}

func TestBalancesSnapshot(t *testing.T) {
	t.Parallel()

	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	owner := crypto.PubkeyToAddress(key.PublicKey)
	balances := &fakeBalances{balances: map[common.Address]*big.Int{
		owner: big.NewInt(1500000000000000000),
	}}

	o, err := New(Config{OwnerKey: key, Deriver: DevDeriver{}}, balances, &fakeAssurer{}, &fakeOpEstimator{}, &fakeOpSubmitter{}, nil)
	if err != nil {
		t.Fatalf("new orchestrator: %v", err)
	}
	if err := o.Initialize(context.Background()); err != nil {
		t.Fatalf("initialize: %v", err)
	}

	snapshot, err := o.Balances(context.Background())
	if err != nil {
		t.Fatalf("balances: %v", err)
	}
	if snapshot.Owner.Ether != "1.5" {
		t.Fatalf("owner ether = %s, want 1.5", snapshot.Owner.Ether)
	}
	if snapshot.Account.Address != owner {
		t.Fatalf("account address = %s, want owner under dev derivation", snapshot.Account.Address.Hex())
	}

	// Snapshots are point-in-time reads; with unchanged balances a second
	// call reports the same values.
	again, err := o.Balances(context.Background())
	if err != nil {
		t.Fatalf("balances again: %v", err)
	}
	if again.Owner.Wei.Cmp(snapshot.Owner.Wei) != 0 || again.Owner.Ether != snapshot.Owner.Ether {
		t.Fatalf("snapshot changed without balance changes: %+v vs %+v", again.Owner, snapshot.Owner)
	}
}

func TestSubmitOperationEnsuresFundingFirst(t *testing.T) {
	t.Parallel()

	var trace []string
	assurer := &fakeAssurer{trace: &trace}
	estimator := &fakeOpEstimator{limits: chain.CallLimits{Execution: 50000, Verification: 60000, PreVerification: 21000}, trace: &trace}
	submitter := &fakeOpSubmitter{
		handle:  common.HexToHash("0xbeef"),
		receipt: &chain.OperationReceipt{BlockNumber: 12, GasUsed: 40000, Success: true},
		trace:   &trace,
	}
	o := newTestOrchestrator(t, &fakeBalances{}, assurer, estimator, submitter)
	if err := o.Initialize(context.Background()); err != nil {
		t.Fatalf("initialize: %v", err)
	}

	dest := common.HexToAddress("0x3333333333333333333333333333333333333333")
	submission, err := o.SendTo(context.Background(), dest, big.NewInt(100))
	if err != nil {
		t.Fatalf("send to: %v", err)
	}

	want := []string{"ensure", "estimate", "submit"}
	if len(trace) != len(want) {
		t.Fatalf("trace = %v, want %v", trace, want)
	}
	for i := range want {
		if trace[i] != want[i] {
			t.Fatalf("trace = %v, want %v", trace, want)
		}
	}

	if submission.Operation.Limits.Execution != 50000 {
		t.Fatalf("execution limit = %d, want estimate 50000", submission.Operation.Limits.Execution)
	}
	if submission.Receipt == nil || !submission.Receipt.Success {
		t.Fatalf("expected confirmed receipt, got %+v", submission.Receipt)
	}
}

func TestSubmitOperationFundingFailureAborts(t *testing.T) {
	t.Parallel()

	assurer := &fakeAssurer{err: xerrors.New(xerrors.CodeInsufficientFunding, "")}
	submitter := &fakeOpSubmitter{}
	o := newTestOrchestrator(t, &fakeBalances{}, assurer, &fakeOpEstimator{}, submitter)
	if err := o.Initialize(context.Background()); err != nil {
		t.Fatalf("initialize: %v", err)
	}

	_, err := o.SendToSelf(context.Background(), big.NewInt(1))
	if !xerrors.IsCode(err, xerrors.CodeInsufficientFunding) {
		t.Fatalf("got %v, want INSUFFICIENT_FUNDING", err)
	}
	if len(submitter.submitted) != 0 {
		t.Fatalf("operation must not be submitted after a funding failure, got %d", len(submitter.submitted))
	}
}

func TestSubmitOperationFallsBackOnEstimateFailure(t *testing.T) {
	t.Parallel()

	estimator := &fakeOpEstimator{err: xerrors.New(xerrors.CodeEstimation, "")}
	submitter := &fakeOpSubmitter{
		handle:  common.HexToHash("0xbeef"),
		receipt: &chain.OperationReceipt{Success: true},
	}
	o := newTestOrchestrator(t, &fakeBalances{}, &fakeAssurer{}, estimator, submitter)
	if err := o.Initialize(context.Background()); err != nil {
		t.Fatalf("initialize: %v", err)
	}

	submission, err := o.SendToSelf(context.Background(), big.NewInt(1))
	if err != nil {
		t.Fatalf("send to self: %v", err)
	}

	limits := submission.Operation.Limits
	if limits.Execution != fallbackExecutionLimit || limits.Verification != fallbackVerificationLimit || limits.PreVerification != fallbackPreVerificationLimit {
		t.Fatalf("limits = %+v, want fallback values", limits)
	}
}

func TestSubmitOperationRecordsRevertedReceipt(t *testing.T) {
	t.Parallel()

	store := journal.NewMemoryStore()
	recorder := journal.NewRecorder(store, nil, "testnet")
	submitter := &fakeOpSubmitter{
		handle:  common.HexToHash("0xbeef"),
		receipt: &chain.OperationReceipt{BlockNumber: 9, GasUsed: 30000, Success: false},
	}

	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	o, err := New(Config{OwnerKey: key, Deriver: DevDeriver{}}, &fakeBalances{}, &fakeAssurer{}, &fakeOpEstimator{}, submitter, recorder)
	if err != nil {
		t.Fatalf("new orchestrator: %v", err)
	}
	if err := o.Initialize(context.Background()); err != nil {
		t.Fatalf("initialize: %v", err)
	}

	submission, err := o.SendToSelf(context.Background(), big.NewInt(1))
	if err != nil {
		t.Fatalf("send to self: %v", err)
	}
	if submission.Receipt.Success {
		t.Fatal("expected a reverted receipt")
	}

	entry, err := store.Get(context.Background(), submission.Operation.ID)
	if err != nil {
		t.Fatalf("journal entry: %v", err)
	}
	if entry.Status != journal.StatusFailed {
		t.Fatalf("entry status = %s, want %s", entry.Status, journal.StatusFailed)
	}
	if entry.ErrorCode != string(xerrors.CodeTransport) {
		t.Fatalf("entry error code = %s, want %s", entry.ErrorCode, xerrors.CodeTransport)
	}
	if entry.LastError != "operation reverted on chain" {
		t.Fatalf("entry last error = %q", entry.LastError)
	}
}

func TestSubmitOperationUsesFreshOperations(t *testing.T) {
	t.Parallel()

	submitter := &fakeOpSubmitter{
		handle:  common.HexToHash("0xbeef"),
		receipt: &chain.OperationReceipt{Success: true},
	}
	o := newTestOrchestrator(t, &fakeBalances{}, &fakeAssurer{}, &fakeOpEstimator{}, submitter)
	if err := o.Initialize(context.Background()); err != nil {
		t.Fatalf("initialize: %v", err)
	}

	if _, err := o.SendToSelf(context.Background(), big.NewInt(1)); err != nil {
		t.Fatalf("first submission: %v", err)
	}
	if _, err := o.SendToSelf(context.Background(), big.NewInt(1)); err != nil {
		t.Fatalf("second submission: %v", err)
	}

	if len(submitter.submitted) != 2 {
		t.Fatalf("expected 2 submissions, got %d", len(submitter.submitted))
	}
	if submitter.submitted[0].ID == submitter.submitted[1].ID {
		t.Fatalf("operations must not be reused: both carry ID %s", submitter.submitted[0].ID)
	}
}

func TestSubmitOperationValidation(t *testing.T) {
	t.Parallel()

	o := newTestOrchestrator(t, &fakeBalances{}, &fakeAssurer{}, &fakeOpEstimator{}, &fakeOpSubmitter{})
	if err := o.Initialize(context.Background()); err != nil {
		t.Fatalf("initialize: %v", err)
	}

	if _, err := o.SubmitOperation(context.Background(), nil); !xerrors.IsCode(err, xerrors.CodeValidation) {
		t.Fatalf("empty calls: got %v, want VALIDATION_FAILED", err)
	}
	if _, err := o.SendTo(context.Background(), common.Address{}, nil); !xerrors.IsCode(err, xerrors.CodeValidation) {
		t.Fatalf("nil amount: got %v, want VALIDATION_FAILED", err)
	}
	if _, err := o.SendTo(context.Background(), common.Address{}, big.NewInt(-5)); !xerrors.IsCode(err, xerrors.CodeValidation) {
		t.Fatalf("negative amount: got %v, want VALIDATION_FAILED", err)
	}
}
