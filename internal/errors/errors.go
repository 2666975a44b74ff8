package errors

import (
	stdErrors "errors"
	"fmt"
	"sync"
)

// Code is the stable identifier of an error class. Callers branch on codes,
// never on message text.
type Code string

// Severity classifies how loudly an error should be reported.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

const (
	CodeUnknown Code = "UNKNOWN"

	// CodePrecondition marks calls made before the orchestrator finished
	// Initialize. Never retryable: the caller must initialize first.
	CodePrecondition Code = "PRECONDITION_REQUIRED"

	// CodeInsufficientFunding marks a funding source that cannot cover the
	// required top-up transfer. The caller must supply funds externally.
	CodeInsufficientFunding Code = "INSUFFICIENT_FUNDING"

	// CodeEstimation marks a failed fee or limit estimate. It is absorbed
	// internally and converted to fallback values; it never crosses the
	// public API boundary.
	CodeEstimation Code = "ESTIMATION_FAILED"

	// CodeTransport marks a network or node failure during submission or
	// confirmation. Propagated unchanged; transient-vs-permanent triage is
	// the caller's job.
	CodeTransport Code = "TRANSPORT_FAILURE"

	// CodeValidation marks malformed input: nil required arguments, bad
	// addresses, negative amounts. Fails fast, no fallback.
	CodeValidation Code = "VALIDATION_FAILED"

	CodeTimeout Code = "TIMEOUT"
	CodeStorage Code = "STORAGE_FAILURE"
	CodeQueue   Code = "QUEUE_FAILURE"
)

// Attributes carries the default behaviour associated with a code.
type Attributes struct {
	Message   string
	Severity  Severity
	Retryable bool
	Alert     bool
}

var (
	registryMu sync.RWMutex
	registry   = map[Code]Attributes{
		CodeUnknown:             {Message: "unknown error", Severity: SeverityCritical, Retryable: false, Alert: true},
		CodePrecondition:        {Message: "account not initialized", Severity: SeverityInfo, Retryable: false, Alert: false},
		CodeInsufficientFunding: {Message: "funding source balance too low", Severity: SeverityWarning, Retryable: false, Alert: true},
		CodeEstimation:          {Message: "fee estimation failed", Severity: SeverityWarning, Retryable: true, Alert: false},
		CodeTransport:           {Message: "transport failure", Severity: SeverityWarning, Retryable: true, Alert: true},
		CodeValidation:          {Message: "invalid argument", Severity: SeverityInfo, Retryable: false, Alert: false},
		CodeTimeout:             {Message: "operation timed out", Severity: SeverityWarning, Retryable: true, Alert: true},
		CodeStorage:             {Message: "storage failure", Severity: SeverityCritical, Retryable: true, Alert: true},
		CodeQueue:               {Message: "queue failure", Severity: SeverityCritical, Retryable: true, Alert: true},
	}
)

// Register lets packages add their own codes during init.
func Register(code Code, attr Attributes) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[code] = attr
}

// AttributesOf returns the attributes registered for code, falling back to
// the UNKNOWN entry for unregistered codes.
func AttributesOf(code Code) Attributes {
	registryMu.RLock()
	defer registryMu.RUnlock()
	if attr, ok := registry[code]; ok {
		return attr
	}
	return registry[CodeUnknown]
}

// Error is the unified error type used across the module. Two Errors compare
// equal under errors.Is when their codes match.
type Error struct {
	code     Code
	message  string
	cause    error
	metadata map[string]string
	severity *Severity
}

// Option customises a new Error.
type Option func(*Error)

// WithMetadata attaches a key/value pair, e.g. the shortfall of a failed
// funding check.
func WithMetadata(key, value string) Option {
	return func(e *Error) {
		if e.metadata == nil {
			e.metadata = make(map[string]string)
		}
		e.metadata[key] = value
	}
}

// WithSeverity overrides the severity registered for the code.
func WithSeverity(sev Severity) Option {
	return func(e *Error) {
		e.severity = &sev
	}
}

// New builds an Error. An empty message falls back to the registered default.
func New(code Code, message string, opts ...Option) *Error {
	if message == "" {
		message = AttributesOf(code).Message
	}
	e := &Error{code: code, message: message}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// Wrap attaches a cause to a new Error so the original error stays reachable
// through errors.Unwrap.
func Wrap(code Code, cause error, message string, opts ...Option) *Error {
	e := New(code, message, opts...)
	e.cause = cause
	return e
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.code, e.message, e.cause)
	}
	return fmt.Sprintf("[%s] %s", e.code, e.message)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// Is matches on code so sentinel errors work with errors.Is.
func (e *Error) Is(target error) bool {
	if e == nil || target == nil {
		return false
	}
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.code == t.code
}

// Code returns the error code.
func (e *Error) Code() Code {
	if e == nil {
		return CodeUnknown
	}
	return e.code
}

// Message returns the message without code prefix or cause.
func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}

// Metadata returns a copy of the attached metadata.
func (e *Error) Metadata() map[string]string {
	if e == nil || len(e.metadata) == 0 {
		return nil
	}
	clone := make(map[string]string, len(e.metadata))
	for k, v := range e.metadata {
		clone[k] = v
	}
	return clone
}

// Severity returns the effective severity.
func (e *Error) Severity() Severity {
	if e == nil {
		return SeverityInfo
	}
	if e.severity != nil {
		return *e.severity
	}
	return AttributesOf(e.code).Severity
}

// Retryable reports whether the code is registered as retryable.
func (e *Error) Retryable() bool {
	if e == nil {
		return false
	}
	return AttributesOf(e.code).Retryable
}

// From extracts an *Error from any error chain.
func From(err error) (*Error, bool) {
	if err == nil {
		return nil, false
	}
	var target *Error
	if stdErrors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// CodeOf returns the code of err, or UNKNOWN for foreign errors.
func CodeOf(err error) Code {
	if e, ok := From(err); ok {
		return e.Code()
	}
	return CodeUnknown
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code Code) bool {
	return CodeOf(err) == code
}

// Retryable reports whether any error is retryable per its registered code.
func Retryable(err error) bool {
	if e, ok := From(err); ok {
		return e.Retryable()
	}
	return false
}
