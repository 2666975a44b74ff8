package journal

import (
	"context"
	stdErrors "errors"
	"log/slog"
	"time"

	xerrors "AAFuel/internal/errors"
	"AAFuel/pkg/logger"
)

// Confirmation is the outcome a ReceiptChecker found for an entry.
type Confirmation struct {
	BlockNumber   uint64
	GasUsed       uint64
	Success       bool
	FailureReason string
}

// ReceiptChecker looks up the inclusion status of a recorded submission.
// Returning (nil, nil) means the submission is still pending.
type ReceiptChecker interface {
	Check(ctx context.Context, kind Kind, hash string) (*Confirmation, error)
}

// errStillPending requeues an entry whose receipt has not appeared yet.
var errStillPending = stdErrors.New("submission still pending")

// Poller drains the confirmation queue: it claims each entry, asks the
// checker for a receipt and settles the entry's final status. Entries whose
// attempt budget runs out are marked failed and dropped.
type Poller struct {
	store   Store
	queue   Queue
	checker ReceiptChecker
	workers int
	recheck time.Duration
	log     *slog.Logger
}

// PollerOption customises a Poller.
type PollerOption func(*Poller)

// WithWorkers sets the consumer worker count.
func WithWorkers(workers int) PollerOption {
	return func(p *Poller) {
		if workers > 0 {
			p.workers = workers
		}
	}
}

// WithRecheckDelay sets the pause before a still-pending entry is requeued.
func WithRecheckDelay(delay time.Duration) PollerOption {
	return func(p *Poller) {
		if delay > 0 {
			p.recheck = delay
		}
	}
}

// NewPoller constructs a Poller over the given store and queue.
func NewPoller(store Store, queue Queue, checker ReceiptChecker, opts ...PollerOption) *Poller {
	p := &Poller{
		store:   store,
		queue:   queue,
		checker: checker,
		workers: 1,
		recheck: 2 * time.Second,
		log:     logger.Named("journal.poller"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

// Start consumes the queue until ctx is cancelled.
func (p *Poller) Start(ctx context.Context) error {
	if p.queue == nil || p.store == nil || p.checker == nil {
		return xerrors.New(xerrors.CodeValidation, "poller missing store, queue or checker")
	}
	return p.queue.Consume(ctx, p.workers, p.handle)
}

func (p *Poller) handle(ctx context.Context, entryID string) error {
	entry, err := p.store.Claim(ctx, entryID)
	if err != nil {
		if stdErrors.Is(err, ErrEntryNotFound) || stdErrors.Is(err, ErrEntryFinal) || stdErrors.Is(err, ErrAttemptsExhausted) {
			p.log.Debug("dropping journal entry", slog.String("entry_id", entryID), slog.String("reason", err.Error()))
			return nil
		}
		p.log.Warn("claim journal entry failed", slog.String("entry_id", entryID), slog.Any("error", err))
		return err
	}

	confirmation, err := p.checker.Check(ctx, entry.Kind, entry.Hash)
	if err != nil {
		p.log.Warn("receipt check failed",
			slog.String("entry_id", entryID),
			slog.String("hash", entry.Hash),
			slog.Any("error", err))
		p.pause(ctx)
		return err
	}
	if confirmation == nil {
		p.pause(ctx)
		return errStillPending
	}

	if confirmation.Success {
		if err := p.store.MarkConfirmed(ctx, entryID, confirmation.BlockNumber, confirmation.GasUsed); err != nil {
			return err
		}
		p.log.Info("submission confirmed",
			slog.String("entry_id", entryID),
			slog.Uint64("block", confirmation.BlockNumber))
		return nil
	}

	reason := confirmation.FailureReason
	if reason == "" {
		reason = "submission reverted"
	}
	if err := p.store.MarkFailed(ctx, entryID, string(xerrors.CodeTransport), reason); err != nil {
		return err
	}
	p.log.Warn("submission failed on chain",
		slog.String("entry_id", entryID),
		slog.String("reason", reason))
	return nil
}

// pause rate-limits requeues so a pending entry does not spin hot.
func (p *Poller) pause(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(p.recheck):
	}
}
