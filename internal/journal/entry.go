package journal

import (
	xerrors "AAFuel/internal/errors"

	"github.com/google/uuid"
)

// Status tracks an entry through its confirmation lifecycle.
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusFailed    Status = "failed"
)

// Kind distinguishes account operations from funding top-ups.
type Kind string

const (
	KindOperation Kind = "operation"
	KindFunding   Kind = "funding"
)

// DefaultMaxAttempts bounds how often the poller rechecks one entry before
// giving up on it.
const DefaultMaxAttempts = 20

// Entry records one submission. The journal is write-behind and advisory:
// entries describe what was sent, they never gate a submission.
type Entry struct {
	ID           string `json:"id"`
	Kind         Kind   `json:"kind"`
	Network      string `json:"network"`
	Sender       string `json:"sender"`
	Hash         string `json:"hash"`
	Recipient    string `json:"recipient,omitempty"`
	ValueWei     string `json:"value_wei,omitempty"`
	ComputeLimit uint64 `json:"compute_limit,omitempty"`
	Status       Status `json:"status"`
	Attempts     int    `json:"attempts"`
	MaxAttempts  int    `json:"max_attempts"`
	LastError    string `json:"last_error,omitempty"`
	ErrorCode    string `json:"error_code,omitempty"`
	BlockNumber  uint64 `json:"block_number,omitempty"`
	GasUsed      uint64 `json:"gas_used,omitempty"`
	CreatedAt    int64  `json:"created_at"`
	UpdatedAt    int64  `json:"updated_at"`
}

// NewEntry builds a pending entry with a fresh identifier.
func NewEntry(kind Kind, network, sender, hash string) *Entry {
	return &Entry{
		ID:          uuid.NewString(),
		Kind:        kind,
		Network:     network,
		Sender:      sender,
		Hash:        hash,
		Status:      StatusPending,
		MaxAttempts: DefaultMaxAttempts,
	}
}

var (
	// ErrEntryNotFound means the entry does not exist.
	ErrEntryNotFound = xerrors.New(CodeEntryNotFound, "journal entry not found")
	// ErrEntryConflict means the entry already exists or cannot take the
	// requested transition.
	ErrEntryConflict = xerrors.New(CodeEntryConflict, "journal entry conflict", xerrors.WithSeverity(xerrors.SeverityWarning))
	// ErrEntryFinal means the entry already reached a terminal status.
	ErrEntryFinal = xerrors.New(CodeEntryFinal, "journal entry already final", xerrors.WithSeverity(xerrors.SeverityInfo))
	// ErrAttemptsExhausted means the poller gave up rechecking the entry.
	ErrAttemptsExhausted = xerrors.New(CodeEntryExhausted, "journal entry attempts exhausted", xerrors.WithSeverity(xerrors.SeverityWarning))
)

const (
	CodeEntryNotFound  xerrors.Code = "JOURNAL_ENTRY_NOT_FOUND"
	CodeEntryConflict  xerrors.Code = "JOURNAL_ENTRY_CONFLICT"
	CodeEntryFinal     xerrors.Code = "JOURNAL_ENTRY_FINAL"
	CodeEntryExhausted xerrors.Code = "JOURNAL_ENTRY_EXHAUSTED"
)

func init() {
	xerrors.Register(CodeEntryNotFound, xerrors.Attributes{
		Message: "journal entry not found", Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeEntryConflict, xerrors.Attributes{
		Message: "journal entry conflict", Severity: xerrors.SeverityWarning,
	})
	xerrors.Register(CodeEntryFinal, xerrors.Attributes{
		Message: "journal entry already final", Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeEntryExhausted, xerrors.Attributes{
		Message: "journal entry attempts exhausted", Severity: xerrors.SeverityWarning, Alert: true,
	})
}

// IsValidStatus reports whether status is a known enum value.
func IsValidStatus(status Status) bool {
	switch status {
	case StatusPending, StatusConfirmed, StatusFailed:
		return true
	default:
		return false
	}
}

func cloneEntry(entry *Entry) *Entry {
	clone := *entry
	return &clone
}
