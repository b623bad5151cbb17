// Package rpcerr is the error taxonomy shared by both sides of the bridge.
//
// Every failure surfaced to a caller is an *Error carrying a Kind. Kinds also
// travel on the wire inside responses, so a host-side UnknownCommand becomes
// the same client-side error:
//
//	if errors.Is(err, rpcerr.ErrUnknownCommand) { ... }
//
//	var re *rpcerr.Error
//	if errors.As(err, &re) { log(re.Detail) }
package rpcerr

import (
	"errors"
	"fmt"

	"mini-bridge/value"
)

// Kind classifies an error. KindNone marks a successful response on the wire.
type Kind uint8

const (
	KindNone Kind = iota
	KindEncoding
	KindDecoding
	KindNotInitialized
	KindDuplicateCommand
	KindUnknownCommand
	KindRemote
	KindTimeout
	KindCancelled
	KindTransport
	KindRateLimited
)

var (
	ErrEncoding         = errors.New("encoding error")
	ErrDecoding         = errors.New("decoding error")
	ErrNotInitialized   = errors.New("bridge not initialized")
	ErrDuplicateCommand = errors.New("duplicate command")
	ErrUnknownCommand   = errors.New("unknown command")
	ErrRemoteInvocation = errors.New("remote invocation error")
	ErrTimeout          = errors.New("timeout")
	ErrCancelled        = errors.New("cancelled")
	ErrTransport        = errors.New("transport error")
	ErrRateLimited      = errors.New("rate limit exceeded")
)

var kindNames = map[Kind]string{
	KindNone:             "none",
	KindEncoding:         "encoding",
	KindDecoding:         "decoding",
	KindNotInitialized:   "not_initialized",
	KindDuplicateCommand: "duplicate_command",
	KindUnknownCommand:   "unknown_command",
	KindRemote:           "remote",
	KindTimeout:          "timeout",
	KindCancelled:        "cancelled",
	KindTransport:        "transport",
	KindRateLimited:      "rate_limited",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// ParseKind is the inverse of Kind.String. Unknown names map to KindRemote so
// a newer host never produces a successful-looking response.
func ParseKind(name string) Kind {
	for k, n := range kindNames {
		if n == name {
			return k
		}
	}
	return KindRemote
}

// Sentinel returns the errors.Is target for k.
func (k Kind) Sentinel() error {
	switch k {
	case KindEncoding:
		return ErrEncoding
	case KindDecoding:
		return ErrDecoding
	case KindNotInitialized:
		return ErrNotInitialized
	case KindDuplicateCommand:
		return ErrDuplicateCommand
	case KindUnknownCommand:
		return ErrUnknownCommand
	case KindTimeout:
		return ErrTimeout
	case KindCancelled:
		return ErrCancelled
	case KindTransport:
		return ErrTransport
	case KindRateLimited:
		return ErrRateLimited
	case KindNone:
		return nil
	}
	return ErrRemoteInvocation
}

// Error is the concrete error type of the bridge.
type Error struct {
	Kind    Kind
	Command string      // command involved, if any
	Detail  value.Value // decoded error detail sent by the host
	Err     error       // local cause, if any
}

// New builds an *Error of the given kind.
func New(kind Kind, command string, err error) *Error {
	return &Error{Kind: kind, Command: command, Err: err}
}

// Remote builds the error a client reports when a host handler faulted.
func Remote(kind Kind, command string, detail value.Value) *Error {
	return &Error{Kind: kind, Command: command, Detail: detail}
}

func (e *Error) Error() string {
	msg := "bridge: " + e.Kind.String()
	if sentinel := e.Kind.Sentinel(); sentinel != nil {
		msg = "bridge: " + sentinel.Error()
	}
	if e.Command != "" {
		msg += " [" + e.Command + "]"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	} else if !e.Detail.IsNull() {
		msg += ": " + DetailMessage(e.Detail)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	return target == e.Kind.Sentinel()
}

// KindOf extracts the Kind of err; errors that are not *Error map to KindRemote.
func KindOf(err error) Kind {
	if err == nil {
		return KindNone
	}
	var re *Error
	if errors.As(err, &re) {
		return re.Kind
	}
	return KindRemote
}

// DetailOf returns the wire detail for err: the Detail of an *Error if set,
// otherwise a mapping holding the error message.
func DetailOf(err error) value.Value {
	var re *Error
	if errors.As(err, &re) && !re.Detail.IsNull() {
		return re.Detail
	}
	return value.Mapping(map[string]value.Value{
		"message": value.String(err.Error()),
	})
}

// DetailMessage renders a detail for humans, preferring its "message" entry.
func DetailMessage(detail value.Value) string {
	if msg, ok := detail.Get("message"); ok && msg.Kind() == value.KindString {
		return msg.Str()
	}
	if detail.Kind() == value.KindString {
		return detail.Str()
	}
	return detail.String()
}
