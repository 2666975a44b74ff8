package ethereum

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"math/big"
	"strings"
	"time"

	"AAFuel/internal/chain"
	xerrors "AAFuel/internal/errors"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind/backends"
	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	gethrpc "github.com/ethereum/go-ethereum/rpc"
)

const defaultPollInterval = 500 * time.Millisecond

// Config describes how to construct a client for one EVM network.
type Config struct {
	Name      string
	RPCURL    string
	SignerKey *ecdsa.PrivateKey
}

// backend is the subset of node functionality the client needs. Both
// *ethclient.Client and the simulated backend satisfy it.
type backend interface {
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*coretypes.Header, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, call gethcore.CallMsg) (uint64, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SendTransaction(ctx context.Context, tx *coretypes.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*coretypes.Receipt, error)
}

// Client implements the balance, fee, limit and transfer interfaces on top of
// a go-ethereum backend. The signer key, when present, is the address all
// transfers are sent from.
type Client struct {
	name      string
	rpcClient *gethrpc.Client
	backend   backend
	signer    *ecdsa.PrivateKey
	from      common.Address
	chainID   *big.Int
	commit    func()
	poll      time.Duration
}

// NewClient dials the configured RPC endpoint and returns a ready client.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	rpcURL := strings.TrimSpace(cfg.RPCURL)
	if rpcURL == "" {
		return nil, xerrors.New(xerrors.CodeValidation, "rpc url is required")
	}

	rpcClient, err := gethrpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeTransport, err, "dial node")
	}
	eth := ethclient.NewClient(rpcClient)

	chainID, err := eth.ChainID(ctx)
	if err != nil {
		rpcClient.Close()
		return nil, xerrors.Wrap(xerrors.CodeTransport, err, "read chain id")
	}

	c := &Client{
		name:      cfg.Name,
		rpcClient: rpcClient,
		backend:   eth,
		chainID:   chainID,
		poll:      defaultPollInterval,
	}
	c.bindSigner(cfg.SignerKey)
	return c, nil
}

// NewSimulatedClient wraps a go-ethereum simulated backend for testing.
func NewSimulatedClient(name string, chainID *big.Int, sim *backends.SimulatedBackend, signer *ecdsa.PrivateKey) *Client {
	c := &Client{
		name:    name,
		backend: sim,
		chainID: new(big.Int).Set(chainID),
		commit:  func() { sim.Commit() },
		poll:    10 * time.Millisecond,
	}
	c.bindSigner(signer)
	return c
}

func (c *Client) bindSigner(key *ecdsa.PrivateKey) {
	c.signer = key
	if key != nil {
		c.from = crypto.PubkeyToAddress(key.PublicKey)
	}
}

// Name returns the configured network name.
func (c *Client) Name() string {
	return c.name
}

// ChainID returns the chain identifier read at construction time.
func (c *Client) ChainID() *big.Int {
	return new(big.Int).Set(c.chainID)
}

// SignerAddress returns the address transfers are sent from.
func (c *Client) SignerAddress() common.Address {
	return c.from
}

// Close releases the underlying RPC connection.
func (c *Client) Close() {
	if c.rpcClient != nil {
		c.rpcClient.Close()
		c.rpcClient = nil
	}
}

// BalanceAt implements chain.BalanceReader against the latest block.
func (c *Client) BalanceAt(ctx context.Context, address common.Address) (*big.Int, error) {
	balance, err := c.backend.BalanceAt(ctx, address, nil)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeTransport, err, "read balance")
	}
	return balance, nil
}

// BaseFee implements chain.FeeReader. Chains without EIP-1559 report zero.
func (c *Client) BaseFee(ctx context.Context) (*big.Int, error) {
	header, err := c.backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeTransport, err, "read latest header")
	}
	if header.BaseFee == nil {
		return new(big.Int), nil
	}
	return new(big.Int).Set(header.BaseFee), nil
}

// SuggestPriorityFee implements chain.FeeReader.
func (c *Client) SuggestPriorityFee(ctx context.Context) (*big.Int, error) {
	tip, err := c.backend.SuggestGasTipCap(ctx)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeTransport, err, "read priority fee")
	}
	return tip, nil
}

// EstimateLimit implements chain.LimitEstimator for the exact transfer that
// will be submitted, including its fee fields.
func (c *Client) EstimateLimit(ctx context.Context, from common.Address, req chain.TransferRequest, fees chain.FeeSchedule) (uint64, error) {
	msg := gethcore.CallMsg{
		From:      from,
		To:        &req.To,
		Value:     req.Value,
		Data:      req.Data,
		GasFeeCap: fees.MaxFeePerGas,
		GasTipCap: fees.MaxPriorityFeePerGas,
	}
	limit, err := c.backend.EstimateGas(ctx, msg)
	if err != nil {
		return 0, xerrors.Wrap(xerrors.CodeEstimation, err, "estimate gas")
	}
	return limit, nil
}

// Submit implements chain.TransferSubmitter: it signs a dynamic-fee transfer
// with the bound key and broadcasts it.
func (c *Client) Submit(ctx context.Context, req chain.TransferRequest, fees chain.FeeSchedule) (common.Hash, error) {
	if c.signer == nil {
		return common.Hash{}, xerrors.New(xerrors.CodeValidation, "client has no signer key")
	}
	if req.Value == nil || req.Value.Sign() < 0 {
		return common.Hash{}, xerrors.New(xerrors.CodeValidation, "transfer value must be a non-negative amount")
	}

	nonce, err := c.backend.PendingNonceAt(ctx, c.from)
	if err != nil {
		return common.Hash{}, xerrors.Wrap(xerrors.CodeTransport, err, "read nonce")
	}

	to := req.To
	tx, err := coretypes.SignNewTx(c.signer, coretypes.LatestSignerForChainID(c.chainID), &coretypes.DynamicFeeTx{
		ChainID:   c.chainID,
		Nonce:     nonce,
		GasTipCap: fees.MaxPriorityFeePerGas,
		GasFeeCap: fees.MaxFeePerGas,
		Gas:       fees.ComputeLimit,
		To:        &to,
		Value:     req.Value,
		Data:      req.Data,
	})
	if err != nil {
		return common.Hash{}, xerrors.Wrap(xerrors.CodeTransport, err, "sign transfer")
	}

	if err := c.backend.SendTransaction(ctx, tx); err != nil {
		return common.Hash{}, xerrors.Wrap(xerrors.CodeTransport, err, "broadcast transfer")
	}
	if c.commit != nil {
		c.commit()
	}
	return tx.Hash(), nil
}

// WaitForConfirmation polls for the receipt of txHash until the timeout
// elapses. Expiry is reported as a failure; the transaction is not retracted
// and may still be included afterwards.
func (c *Client) WaitForConfirmation(ctx context.Context, txHash common.Hash, timeout time.Duration) (*chain.Receipt, error) {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(c.poll)
	defer ticker.Stop()

	for {
		receipt, err := c.backend.TransactionReceipt(waitCtx, txHash)
		if err == nil && receipt != nil {
			return &chain.Receipt{
				TxHash:      txHash,
				BlockNumber: receipt.BlockNumber.Uint64(),
				GasUsed:     receipt.GasUsed,
				Success:     receipt.Status == coretypes.ReceiptStatusSuccessful,
			}, nil
		}
		if err != nil && !errors.Is(err, gethcore.NotFound) {
			if waitCtx.Err() != nil {
				return nil, xerrors.Wrap(xerrors.CodeTimeout, waitCtx.Err(), "confirmation wait expired for "+txHash.Hex())
			}
			return nil, xerrors.Wrap(xerrors.CodeTransport, err, "poll receipt")
		}

		select {
		case <-waitCtx.Done():
			return nil, xerrors.Wrap(xerrors.CodeTimeout, waitCtx.Err(), "confirmation wait expired for "+txHash.Hex())
		case <-ticker.C:
		}
	}
}

var (
	_ chain.BalanceReader     = (*Client)(nil)
	_ chain.FeeReader         = (*Client)(nil)
	_ chain.LimitEstimator    = (*Client)(nil)
	_ chain.TransferSubmitter = (*Client)(nil)
)
