package ethereum

import (
	"context"
	"errors"

	xerrors "AAFuel/internal/errors"
	"AAFuel/internal/journal"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
)

// ConfirmationChecker answers the journal poller's receipt lookups. Funding
// transfers are resolved against the node, operations against the relay;
// both lookups are single-shot, the poller owns the retry cadence.
type ConfirmationChecker struct {
	client  *Client
	bundler *Bundler
}

// NewConfirmationChecker builds a checker over one network's endpoints.
func NewConfirmationChecker(client *Client, bundler *Bundler) *ConfirmationChecker {
	return &ConfirmationChecker{client: client, bundler: bundler}
}

// Check implements journal.ReceiptChecker.
func (c *ConfirmationChecker) Check(ctx context.Context, kind journal.Kind, hash string) (*journal.Confirmation, error) {
	switch kind {
	case journal.KindFunding:
		return c.checkTransfer(ctx, common.HexToHash(hash))
	case journal.KindOperation:
		return c.checkOperation(ctx, common.HexToHash(hash))
	default:
		return nil, xerrors.New(xerrors.CodeValidation, "unknown journal entry kind: "+string(kind))
	}
}

func (c *ConfirmationChecker) checkTransfer(ctx context.Context, txHash common.Hash) (*journal.Confirmation, error) {
	receipt, err := c.client.backend.TransactionReceipt(ctx, txHash)
	if err != nil {
		if errors.Is(err, gethcore.NotFound) {
			return nil, nil
		}
		return nil, xerrors.Wrap(xerrors.CodeTransport, err, "look up transfer receipt")
	}
	if receipt == nil {
		return nil, nil
	}
	return &journal.Confirmation{
		BlockNumber: receipt.BlockNumber.Uint64(),
		GasUsed:     receipt.GasUsed,
		Success:     receipt.Status == coretypes.ReceiptStatusSuccessful,
	}, nil
}

func (c *ConfirmationChecker) checkOperation(ctx context.Context, handle common.Hash) (*journal.Confirmation, error) {
	var payload *operationReceiptPayload
	if err := c.bundler.rpcClient.CallContext(ctx, &payload, "eth_getUserOperationReceipt", handle); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeTransport, err, "look up operation receipt")
	}
	if payload == nil {
		return nil, nil
	}
	confirmation := &journal.Confirmation{
		BlockNumber: uint64(payload.Receipt.BlockNumber),
		GasUsed:     uint64(payload.Receipt.GasUsed),
		Success:     payload.Success,
	}
	if !payload.Success {
		confirmation.FailureReason = "operation reverted on chain"
	}
	return confirmation, nil
}

var _ journal.ReceiptChecker = (*ConfirmationChecker)(nil)
