package dht

import "errors"

var (
	ErrValueNotFound = errors.New("dht: value not found")
	ErrNoNetwork     = errors.New("dht: no network sender configured")
	ErrNoAddress     = errors.New("dht: peer has no address")
	ErrRPCFailed     = errors.New("dht: remote rejected request")
	ErrRPCTimeout    = errors.New("dht: rpc timed out")
	ErrEmptyKey      = errors.New("dht: empty key")
	ErrBadReply      = errors.New("dht: unexpected reply")
	ErrCorruptValue  = errors.New("dht: corrupt stored value")
)
