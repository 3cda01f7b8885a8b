package mauzr

import (
	"errors"
	"fmt"
)

// Sentinel errors - check with errors.Is().
var (
	// ErrOffline is returned when an operation needs a live broker connection.
	ErrOffline = errors.New("offline")

	// ErrProtocolError is returned when the broker sends a malformed or unexpected packet.
	ErrProtocolError = errors.New("protocol error")

	// ErrSerialization is returned when a payload does not match the expected format.
	ErrSerialization = errors.New("serialization error")

	// ErrConnectRefused is returned when the broker answers CONNECT with a non-zero return code.
	ErrConnectRefused = errors.New("connection refused")

	// ErrSubscriptionRefused is returned for a SUBACK carrying the failure code.
	ErrSubscriptionRefused = errors.New("subscription refused")

	// ErrKeepAliveTimeout is emitted when nothing arrived within the keepalive interval.
	ErrKeepAliveTimeout = errors.New("keep-alive timeout")
)

// Sentinel errors for the handle layer and configuration.
var (
	// ErrHandleConflict is returned when a topic is requested again with different settings.
	ErrHandleConflict = errors.New("conflicting handle settings")

	// ErrWildcardMeta is returned when meta data is published for a topic containing '#'.
	ErrWildcardMeta = errors.New("cannot publish meta data to topics containing '#'")

	// ErrInvalidTopic is returned when a topic is invalid.
	ErrInvalidTopic = errors.New("invalid topic")

	// ErrLedgerClosed is returned when the ledger is used outside Open and Close.
	ErrLedgerClosed = errors.New("ledger closed")

	// ErrNoEndpoints is returned when the endpoint source yields nothing to dial.
	ErrNoEndpoints = errors.New("no endpoints available")

	// ErrInvalidConfig is returned by Config.Validate.
	ErrInvalidConfig = errors.New("invalid config")
)

// OfflineError reports a publish that could not be transmitted.
// For QoS > 0 the message stays in the ledger under PacketID and is replayed
// after the next successful connect.
// Extract with errors.As().
type OfflineError struct {
	err      error
	Topic    string
	PacketID uint16
}

func (e *OfflineError) Error() string {
	if e.PacketID != 0 {
		return fmt.Sprintf("offline: publish to %s kept as packet %d", e.Topic, e.PacketID)
	}
	return "offline: publish to " + e.Topic + " dropped"
}

func (e *OfflineError) Unwrap() error { return e.err }

// NewOfflineError creates a new OfflineError.
func NewOfflineError(topic string, packetID uint16) *OfflineError {
	return &OfflineError{
		err:      ErrOffline,
		Topic:    topic,
		PacketID: packetID,
	}
}

// ProtocolError contains details about a protocol violation by the broker.
// Extract with errors.As().
type ProtocolError struct {
	PacketType PacketType
	Reason     error
}

func (e *ProtocolError) Error() string {
	if e.Reason == nil {
		return "protocol error: unexpected " + e.PacketType.String()
	}
	return "protocol error: " + e.PacketType.String() + ": " + e.Reason.Error()
}

// Unwrap returns both the sentinel and the underlying reason.
func (e *ProtocolError) Unwrap() []error {
	if e.Reason == nil {
		return []error{ErrProtocolError}
	}
	return []error{ErrProtocolError, e.Reason}
}

// NewProtocolError creates a new ProtocolError.
func NewProtocolError(packetType PacketType, reason error) *ProtocolError {
	return &ProtocolError{
		PacketType: packetType,
		Reason:     reason,
	}
}

// SerializationError contains details about a failed pack or unpack.
// Extract with errors.As().
type SerializationError struct {
	Format string
	Err    error
}

func (e *SerializationError) Error() string {
	return "serialization error (" + e.Format + "): " + e.Err.Error()
}

// Unwrap returns both the sentinel and the underlying error.
func (e *SerializationError) Unwrap() []error {
	return []error{ErrSerialization, e.Err}
}

// NewSerializationError creates a new SerializationError.
func NewSerializationError(format string, err error) *SerializationError {
	return &SerializationError{
		Format: format,
		Err:    err,
	}
}

// ConnectRefusedError carries the CONNACK return code of a refused connect.
// Extract with errors.As().
type ConnectRefusedError struct {
	err        error
	ReturnCode ConnectReturnCode
}

func (e *ConnectRefusedError) Error() string {
	return "connection refused: " + e.ReturnCode.String()
}

func (e *ConnectRefusedError) Unwrap() error { return e.err }

// NewConnectRefusedError creates a new ConnectRefusedError.
func NewConnectRefusedError(code ConnectReturnCode) *ConnectRefusedError {
	return &ConnectRefusedError{
		err:        ErrConnectRefused,
		ReturnCode: code,
	}
}
