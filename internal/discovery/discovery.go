// Package discovery finds candidate peers for the overlay. Mechanisms only
// report PeerInfo; the node decides whom to register and contact.
package discovery

import (
	"context"
	"errors"

	"p2p-overlay/internal/proto"
)

var (
	ErrNotStarted = errors.New("discovery: not started")
	ErrBadEntry   = errors.New("discovery: malformed peer entry")
)

type Discovery interface {
	Name() string
	Start() error
	Stop() error
	Discover(ctx context.Context) ([]proto.PeerInfo, error)
}

// Logger matches telemetry.Logger; *log.Logger satisfies it.
type Logger interface {
	Printf(format string, v ...any)
}

type nopLogger struct{}

func (nopLogger) Printf(string, ...any) {}

func orNop(l Logger) Logger {
	if l == nil {
		return nopLogger{}
	}
	return l
}
