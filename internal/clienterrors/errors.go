// Package clienterrors defines the structured error taxonomy shared by
// the MCP client core and the checking-point engine.
package clienterrors

import (
	"errors"
	"fmt"
	"time"
)

// Kind tags the category of failure. Retryability is a function of Kind
// alone except for ToolExecution and Transport, which carry their own
// override — see Retryable.
type Kind string

const (
	KindConnection     Kind = "connection"
	KindTimeout        Kind = "timeout"
	KindAuthentication Kind = "authentication"
	KindServer         Kind = "server"
	KindToolNotFound   Kind = "tool_not_found"
	KindToolExecution  Kind = "tool_execution"
	KindConfiguration  Kind = "configuration"
	KindValidation     Kind = "validation"
	KindTransport      Kind = "transport"
	KindExhausted      Kind = "exhausted"
	KindDuplicate      Kind = "duplicate"
	KindNotFound       Kind = "not_found"
)

// Transport-kind sub-reasons that are never retryable regardless of the
// generic Transport default.
const (
	TransportInvalidConfig    = "invalid_transport_config"
	TransportUnsupportedKind  = "unsupported_transport"
)

// ClientError is the structured error type for this module, carrying
// enough context to log, retry, and serialize per the error record
// format collaborators expect.
type ClientError struct {
	Kind       Kind
	Message    string
	Operation  string
	ServerURL  string
	RetryCount int
	Timestamp  time.Time
	Cause      error
	Context    map[string]interface{}

	// TransportReason narrows KindTransport into a non-retryable
	// sub-case (invalid config / unsupported transport) without adding
	// new top-level kinds.
	TransportReason string
	// ExecutionTransient marks a ToolExecution error as retryable; by
	// default tool execution failures are not.
	ExecutionTransient bool
}

// New constructs a ClientError with the current time stamped.
func New(kind Kind, operation, message string) *ClientError {
	return &ClientError{
		Kind:      kind,
		Message:   message,
		Operation: operation,
		Timestamp: time.Now().UTC(),
		Context:   make(map[string]interface{}),
	}
}

// Wrap constructs a ClientError from an underlying cause.
func Wrap(kind Kind, operation string, cause error) *ClientError {
	e := New(kind, operation, cause.Error())
	e.Cause = cause
	return e
}

func (e *ClientError) Error() string {
	if e.ServerURL != "" {
		return fmt.Sprintf("%s: %s (op=%s server=%s)", e.Kind, e.Message, e.Operation, e.ServerURL)
	}
	return fmt.Sprintf("%s: %s (op=%s)", e.Kind, e.Message, e.Operation)
}

func (e *ClientError) Unwrap() error { return e.Cause }

// WithServer sets the originating server URL and returns the receiver
// for chaining at construction sites.
func (e *ClientError) WithServer(url string) *ClientError {
	e.ServerURL = url
	return e
}

func (e *ClientError) WithRetryCount(n int) *ClientError {
	e.RetryCount = n
	return e
}

func (e *ClientError) WithContext(key string, value interface{}) *ClientError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// Retryable reports whether this error's kind is eligible for the MCP
// client's retry loop, per the table in the error taxonomy.
func (e *ClientError) Retryable() bool {
	switch e.Kind {
	case KindConnection, KindTimeout, KindServer:
		return true
	case KindAuthentication, KindToolNotFound, KindConfiguration, KindValidation:
		return false
	case KindToolExecution:
		return e.ExecutionTransient
	case KindTransport:
		switch e.TransportReason {
		case TransportInvalidConfig, TransportUnsupportedKind:
			return false
		default:
			return true
		}
	default:
		return false
	}
}

// Record is the serializable form of a ClientError for logging/metrics.
type Record struct {
	ErrorType   string                 `json:"error_type"`
	Message     string                 `json:"message"`
	Operation   string                 `json:"operation"`
	ServerURL   string                 `json:"server_url,omitempty"`
	RetryCount  int                    `json:"retry_count"`
	Timestamp   time.Time              `json:"timestamp"`
	IsRetryable bool                   `json:"is_retryable"`
	Context     map[string]interface{} `json:"context,omitempty"`
}

// ToRecord serializes the error for structured logging/metrics sinks.
func (e *ClientError) ToRecord() Record {
	return Record{
		ErrorType:   string(e.Kind),
		Message:     e.Message,
		Operation:   e.Operation,
		ServerURL:   e.ServerURL,
		RetryCount:  e.RetryCount,
		Timestamp:   e.Timestamp,
		IsRetryable: e.Retryable(),
		Context:     e.Context,
	}
}

// Sentinel errors for simple comparison via errors.Is where a full
// ClientError is unnecessary overhead (registry lookups etc).
var (
	ErrDuplicate = errors.New("clienterrors: duplicate")
	ErrNotFound  = errors.New("clienterrors: not found")
	ErrExhausted = errors.New("clienterrors: pool exhausted")
	ErrClosed    = errors.New("clienterrors: closed")
)

// As is a thin wrapper over errors.As for the common case of extracting
// a *ClientError from a wrapped error chain.
func As(err error) (*ClientError, bool) {
	var ce *ClientError
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}

// IsRetryable reports whether err is a *ClientError marked retryable.
// Any other error is treated conservatively as non-retryable.
func IsRetryable(err error) bool {
	if ce, ok := As(err); ok {
		return ce.Retryable()
	}
	return false
}
