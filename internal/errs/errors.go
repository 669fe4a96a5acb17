// Package errs classifies overlay errors by subsystem.
//
// Packages keep their own sentinel errors (errors.New("pkg: ...")) and wrap
// them with E when they cross a component boundary, so callers can branch on
// Kind without string matching.
package errs

import (
	"errors"
	"fmt"
)

type Kind uint8

const (
	KindUnknown Kind = iota
	KindNetwork
	KindDHT
	KindDiscovery
	KindTransport
	KindCrypto
	KindSerialization
	KindStorage
)

func (k Kind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindDHT:
		return "dht"
	case KindDiscovery:
		return "discovery"
	case KindTransport:
		return "transport"
	case KindCrypto:
		return "crypto"
	case KindSerialization:
		return "serialization"
	case KindStorage:
		return "storage"
	default:
		return "unknown"
	}
}

// Error is a classified error. Op names the failing operation ("send_to",
// "listen tcp", ...).
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// E wraps err with a kind. A nil err stays nil.
func E(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// Ef is E with a formatted cause.
func Ef(kind Kind, op string, format string, args ...any) error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the outermost Kind attached to err, or KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Is reports whether err carries kind k anywhere in its chain.
func Is(err error, k Kind) bool {
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			return false
		}
		if e.Kind == k {
			return true
		}
		err = e.Err
	}
	return false
}
