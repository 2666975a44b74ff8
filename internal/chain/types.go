package chain

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// TransferRequest describes a plain value transfer from the bound signer to a
// destination, with an optional calldata payload.
type TransferRequest struct {
	To    common.Address
	Value *big.Int
	Data  []byte
}

// FeeSchedule is the price and resource envelope attached to one submission.
// It is built fresh per operation and never mutated afterwards.
type FeeSchedule struct {
	ComputeLimit         uint64
	MaxFeePerGas         *big.Int
	MaxPriorityFeePerGas *big.Int
	Timeout              time.Duration
}

// Receipt summarises a confirmed transfer.
type Receipt struct {
	TxHash      common.Hash
	BlockNumber uint64
	GasUsed     uint64
	Success     bool
}

// Call is one {destination, value, data} element of an atomic operation
// executed by the paying account.
type Call struct {
	To    common.Address
	Value *big.Int
	Data  []byte
}

// CallLimits holds the three independent resource limits of an operation.
type CallLimits struct {
	Execution       uint64
	Verification    uint64
	PreVerification uint64
}

// Operation is an atomic batch of calls submitted on behalf of the paying
// account. Each submission builds a new Operation; they are never reused,
// because limits and sequencing differ between attempts.
type Operation struct {
	ID        string
	Sender    common.Address
	Calls     []Call
	Limits    CallLimits
	CreatedAt time.Time
}

// OperationReceipt reports the inclusion of an Operation.
type OperationReceipt struct {
	OperationHash common.Hash
	TxHash        common.Hash
	BlockNumber   uint64
	GasUsed       uint64
	Success       bool
}

// BalanceReader reads the current balance of any address.
type BalanceReader interface {
	BalanceAt(ctx context.Context, address common.Address) (*big.Int, error)
}

// FeeReader exposes the network price observations fee schedules are derived
// from.
type FeeReader interface {
	// BaseFee returns the base fee of the latest block, zero on chains
	// without one.
	BaseFee(ctx context.Context) (*big.Int, error)
	// SuggestPriorityFee returns the node's priority fee estimate.
	SuggestPriorityFee(ctx context.Context) (*big.Int, error)
}

// LimitEstimator produces a compute limit for one concrete transfer using the
// fee fields it will be submitted with.
type LimitEstimator interface {
	EstimateLimit(ctx context.Context, from common.Address, req TransferRequest, fees FeeSchedule) (uint64, error)
}

// TransferSubmitter submits a signed transfer and waits for its inclusion.
type TransferSubmitter interface {
	Submit(ctx context.Context, req TransferRequest, fees FeeSchedule) (common.Hash, error)
	// WaitForConfirmation polls until the transfer is included or the
	// timeout elapses. A timeout is a failure of the wait, not a
	// cancellation: the transaction may still land later.
	WaitForConfirmation(ctx context.Context, txHash common.Hash, timeout time.Duration) (*Receipt, error)
}

// OperationEstimator asks the account-abstraction transport for the three
// per-call limits of a prospective operation.
type OperationEstimator interface {
	EstimateOperation(ctx context.Context, sender common.Address, calls []Call) (CallLimits, error)
}

// OperationSubmitter hands a prepared operation to the relay and polls for
// its receipt. The wire encoding of the submission protocol lives entirely
// behind this interface.
type OperationSubmitter interface {
	SubmitOperation(ctx context.Context, op *Operation) (common.Hash, error)
	WaitForOperationReceipt(ctx context.Context, handle common.Hash, timeout time.Duration) (*OperationReceipt, error)
}
