package ethereum

import (
	"context"
	"strings"
	"time"

	"AAFuel/internal/chain"
	xerrors "AAFuel/internal/errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	gethrpc "github.com/ethereum/go-ethereum/rpc"
)

// Bundler is the thin adapter in front of the account-abstraction relay. It
// forwards prepared operations and polls for their receipts; assembling and
// encoding the submission payload itself is the relay protocol's concern.
type Bundler struct {
	rpcClient  *gethrpc.Client
	entryPoint common.Address
	poll       time.Duration
}

// NewBundler dials the relay endpoint.
func NewBundler(ctx context.Context, url string, entryPoint common.Address) (*Bundler, error) {
	if strings.TrimSpace(url) == "" {
		return nil, xerrors.New(xerrors.CodeValidation, "relay url is required")
	}
	rpcClient, err := gethrpc.DialContext(ctx, url)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeTransport, err, "dial relay")
	}
	return &Bundler{rpcClient: rpcClient, entryPoint: entryPoint, poll: defaultPollInterval}, nil
}

// Close releases the relay connection.
func (b *Bundler) Close() {
	if b.rpcClient != nil {
		b.rpcClient.Close()
		b.rpcClient = nil
	}
}

type callPayload struct {
	To    common.Address `json:"to"`
	Value *hexutil.Big   `json:"value"`
	Data  hexutil.Bytes  `json:"data"`
}

type operationPayload struct {
	Sender               common.Address `json:"sender"`
	Calls                []callPayload  `json:"calls"`
	CallGasLimit         hexutil.Uint64 `json:"callGasLimit"`
	VerificationGasLimit hexutil.Uint64 `json:"verificationGasLimit"`
	PreVerificationGas   hexutil.Uint64 `json:"preVerificationGas"`
}

type limitsPayload struct {
	CallGasLimit         hexutil.Uint64 `json:"callGasLimit"`
	VerificationGasLimit hexutil.Uint64 `json:"verificationGasLimit"`
	PreVerificationGas   hexutil.Uint64 `json:"preVerificationGas"`
}

type operationReceiptPayload struct {
	UserOpHash common.Hash `json:"userOpHash"`
	Success    bool        `json:"success"`
	Receipt    struct {
		TransactionHash common.Hash    `json:"transactionHash"`
		BlockNumber     hexutil.Uint64 `json:"blockNumber"`
		GasUsed         hexutil.Uint64 `json:"gasUsed"`
	} `json:"receipt"`
}

func buildPayload(op *chain.Operation) operationPayload {
	payload := operationPayload{
		Sender:               op.Sender,
		Calls:                make([]callPayload, 0, len(op.Calls)),
		CallGasLimit:         hexutil.Uint64(op.Limits.Execution),
		VerificationGasLimit: hexutil.Uint64(op.Limits.Verification),
		PreVerificationGas:   hexutil.Uint64(op.Limits.PreVerification),
	}
	for _, call := range op.Calls {
		payload.Calls = append(payload.Calls, callPayload{
			To:    call.To,
			Value: (*hexutil.Big)(call.Value),
			Data:  call.Data,
		})
	}
	return payload
}

// EstimateOperation implements chain.OperationEstimator via the relay's gas
// estimation endpoint.
func (b *Bundler) EstimateOperation(ctx context.Context, sender common.Address, calls []chain.Call) (chain.CallLimits, error) {
	payload := buildPayload(&chain.Operation{Sender: sender, Calls: calls})
	var limits limitsPayload
	if err := b.rpcClient.CallContext(ctx, &limits, "eth_estimateUserOperationGas", payload, b.entryPoint); err != nil {
		return chain.CallLimits{}, xerrors.Wrap(xerrors.CodeEstimation, err, "estimate operation limits")
	}
	return chain.CallLimits{
		Execution:       uint64(limits.CallGasLimit),
		Verification:    uint64(limits.VerificationGasLimit),
		PreVerification: uint64(limits.PreVerificationGas),
	}, nil
}

// SubmitOperation implements chain.OperationSubmitter.
func (b *Bundler) SubmitOperation(ctx context.Context, op *chain.Operation) (common.Hash, error) {
	if op == nil || len(op.Calls) == 0 {
		return common.Hash{}, xerrors.New(xerrors.CodeValidation, "operation must contain at least one call")
	}
	var handle common.Hash
	if err := b.rpcClient.CallContext(ctx, &handle, "eth_sendUserOperation", buildPayload(op), b.entryPoint); err != nil {
		return common.Hash{}, xerrors.Wrap(xerrors.CodeTransport, err, "submit operation")
	}
	return handle, nil
}

// WaitForOperationReceipt polls the relay until the operation is included or
// the timeout elapses.
func (b *Bundler) WaitForOperationReceipt(ctx context.Context, handle common.Hash, timeout time.Duration) (*chain.OperationReceipt, error) {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(b.poll)
	defer ticker.Stop()

	for {
		var payload *operationReceiptPayload
		err := b.rpcClient.CallContext(waitCtx, &payload, "eth_getUserOperationReceipt", handle)
		if err != nil {
			if waitCtx.Err() != nil {
				return nil, xerrors.Wrap(xerrors.CodeTimeout, waitCtx.Err(), "operation receipt wait expired for "+handle.Hex())
			}
			return nil, xerrors.Wrap(xerrors.CodeTransport, err, "poll operation receipt")
		}
		if payload != nil {
			return &chain.OperationReceipt{
				OperationHash: payload.UserOpHash,
				TxHash:        payload.Receipt.TransactionHash,
				BlockNumber:   uint64(payload.Receipt.BlockNumber),
				GasUsed:       uint64(payload.Receipt.GasUsed),
				Success:       payload.Success,
			}, nil
		}

		select {
		case <-waitCtx.Done():
			return nil, xerrors.Wrap(xerrors.CodeTimeout, waitCtx.Err(), "operation receipt wait expired for "+handle.Hex())
		case <-ticker.C:
		}
	}
}

var (
	_ chain.OperationEstimator = (*Bundler)(nil)
	_ chain.OperationSubmitter = (*Bundler)(nil)
)
