package journal

import (
	"context"
	"log/slog"
	"math/big"

	"AAFuel/internal/chain"
	xerrors "AAFuel/internal/errors"
	"AAFuel/pkg/logger"

	"github.com/ethereum/go-ethereum/common"
)

// Recorder is the write side of the journal used by the submission path. It
// is advisory by contract: recording failures are logged and swallowed so a
// journal outage can never fail a live submission. A nil Recorder is valid
// and records nothing.
type Recorder struct {
	store    Store
	producer Producer
	network  string
	log      *slog.Logger
}

// NewRecorder builds a Recorder for one network. The producer may be nil
// when no confirmation poller runs.
func NewRecorder(store Store, producer Producer, network string) *Recorder {
	return &Recorder{
		store:    store,
		producer: producer,
		network:  network,
		log:      logger.Named("journal"),
	}
}

func (r *Recorder) record(ctx context.Context, entry *Entry) string {
	if r == nil || r.store == nil {
		return ""
	}
	if err := r.store.Create(ctx, entry); err != nil {
		r.log.Warn("journal record failed", slog.String("entry_id", entry.ID), slog.Any("error", err))
		return ""
	}
	if r.producer != nil {
		if err := r.producer.Publish(ctx, entry.ID); err != nil {
			r.log.Warn("journal enqueue failed", slog.String("entry_id", entry.ID), slog.Any("error", err))
		}
	}
	return entry.ID
}

// OperationSubmitted records a submitted operation under the operation's own
// ID and returns the entry ID.
func (r *Recorder) OperationSubmitted(ctx context.Context, op *chain.Operation, handle common.Hash) string {
	if r == nil || op == nil {
		return ""
	}
	entry := NewEntry(KindOperation, r.network, op.Sender.Hex(), handle.Hex())
	entry.ID = op.ID
	entry.ComputeLimit = op.Limits.Execution
	if len(op.Calls) == 1 {
		entry.Recipient = op.Calls[0].To.Hex()
		if op.Calls[0].Value != nil {
			entry.ValueWei = op.Calls[0].Value.String()
		}
	}
	return r.record(ctx, entry)
}

// FundingSubmitted records a funding top-up transfer into target.
func (r *Recorder) FundingSubmitted(ctx context.Context, target common.Address, amount *big.Int, txHash common.Hash) string {
	if r == nil {
		return ""
	}
	entry := NewEntry(KindFunding, r.network, target.Hex(), txHash.Hex())
	entry.Recipient = target.Hex()
	if amount != nil {
		entry.ValueWei = amount.String()
	}
	return r.record(ctx, entry)
}

// Confirmed marks a previously recorded entry confirmed.
func (r *Recorder) Confirmed(ctx context.Context, entryID string, blockNumber, gasUsed uint64) {
	if r == nil || r.store == nil || entryID == "" {
		return
	}
	if err := r.store.MarkConfirmed(ctx, entryID, blockNumber, gasUsed); err != nil {
		r.log.Warn("journal confirm failed", slog.String("entry_id", entryID), slog.Any("error", err))
	}
}

// Failed marks a previously recorded entry failed with the error's code.
func (r *Recorder) Failed(ctx context.Context, entryID string, cause error) {
	if r == nil || r.store == nil || entryID == "" || cause == nil {
		return
	}
	if err := r.store.MarkFailed(ctx, entryID, string(xerrors.CodeOf(cause)), cause.Error()); err != nil {
		r.log.Warn("journal fail-mark failed", slog.String("entry_id", entryID), slog.Any("error", err))
	}
}
