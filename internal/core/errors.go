// Package core defines sentinel errors.
package core

import (
	"errors"
	"fmt"
)

// ErrorKind classifies how a session ended.
type ErrorKind int

const (
	KindClosed              ErrorKind = iota // clean end of stream at a message boundary
	KindHandshakeIncomplete                  // stream ended inside the handshake
	KindCatalogIncomplete                    // stream ended inside the metadata catalog
	KindTruncatedEvent                       // stream ended inside an event record
	KindProtocolViolation                    // unknown tag or malformed field
	KindIO                                   // transport fault
)

// String returns the kind name used in logs and metric labels.
func (k ErrorKind) String() string {
	switch k {
	case KindClosed:
		return "closed"
	case KindHandshakeIncomplete:
		return "handshake_incomplete"
	case KindCatalogIncomplete:
		return "catalog_incomplete"
	case KindTruncatedEvent:
		return "truncated_event"
	case KindProtocolViolation:
		return "protocol_violation"
	case KindIO:
		return "io_error"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Sentinel errors, one per ErrorKind, matched with errors.Is.
var (
	ErrClosed              = errors.New("otrace: connection closed")
	ErrHandshakeIncomplete = errors.New("otrace: handshake incomplete")
	ErrCatalogIncomplete   = errors.New("otrace: catalog incomplete")
	ErrTruncatedEvent      = errors.New("otrace: truncated event")
	ErrProtocolViolation   = errors.New("otrace: protocol violation")
	ErrIO                  = errors.New("otrace: transport error")
)

// Sentinel errors outside the decoder taxonomy.
var (
	ErrSessionNotFound   = errors.New("otrace: session not found")
	ErrServerStopped     = errors.New("otrace: server stopped")
	ErrReporterNotFound  = errors.New("otrace: reporter not found")
	ErrConfigInvalid     = errors.New("otrace: invalid configuration")
	ErrDaemonNotRunning  = errors.New("otrace: daemon not running")
	ErrUnmatchedSpanEnd  = errors.New("otrace: span end without open span")
	ErrSpanDepthExceeded = errors.New("otrace: span nesting too deep")
	ErrUnknownCompressor = errors.New("otrace: unknown compression")
)

var kindSentinels = map[ErrorKind]error{
	KindClosed:              ErrClosed,
	KindHandshakeIncomplete: ErrHandshakeIncomplete,
	KindCatalogIncomplete:   ErrCatalogIncomplete,
	KindTruncatedEvent:      ErrTruncatedEvent,
	KindProtocolViolation:   ErrProtocolViolation,
	KindIO:                  ErrIO,
}

// DecodeError is the discriminated failure returned by the decoder.
type DecodeError struct {
	Kind   ErrorKind
	Tag    Tag   // Set for event errors
	HasTag bool  // Tag is meaningful
	Offset int64 // Stream offset where the failing read started
	Err    error // Underlying cause, may be nil
}

func (e *DecodeError) Error() string {
	msg := kindSentinels[e.Kind].Error()
	if e.HasTag {
		msg = fmt.Sprintf("%s (tag %s)", msg, e.Tag)
	}
	msg = fmt.Sprintf("%s at offset %d", msg, e.Offset)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *DecodeError) Unwrap() error { return e.Err }

// Is matches the sentinel of the error's kind.
func (e *DecodeError) Is(target error) bool {
	return kindSentinels[e.Kind] == target
}

// KindOf returns the ErrorKind carried by err. Errors outside the decoder taxonomy map to KindIO.
func KindOf(err error) ErrorKind {
	var de *DecodeError
	if errors.As(err, &de) {
		return de.Kind
	}
	for kind, sentinel := range kindSentinels {
		if errors.Is(err, sentinel) {
			return kind
		}
	}
	return KindIO
}
