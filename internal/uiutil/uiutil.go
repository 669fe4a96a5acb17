// Package uiutil formats node ids and names for terminal output.
package uiutil

import (
	"regexp"

	"p2p-overlay/internal/proto"
)

const (
	AnsiReset = "\033[0m"
	AnsiDim   = "\033[2m"
)

var nameColors = []string{
	"\033[31m", // red
	"\033[32m", // green
	"\033[33m", // yellow
	"\033[34m", // blue
	"\033[35m", // magenta
	"\033[36m", // cyan
}

// Short is the 8-hex-digit prefix of id.
func Short(id proto.NodeID) string { return id.String() }

// PickColor maps the id to a stable color, so a peer keeps its color
// whatever name it claims.
func PickColor(id proto.NodeID) string {
	return nameColors[int(id[0])%len(nameColors)]
}

// FormatName colors name, or the short id when name is empty.
func FormatName(name string, id proto.NodeID) string {
	display := name
	if display == "" {
		display = Short(id)
	}
	return PickColor(id) + display + AnsiReset
}

var ansiSeq = regexp.MustCompile(`\x1b\[[0-9;]*m`)

// StripANSI removes color escapes, for output that is not a terminal.
func StripANSI(s string) string { return ansiSeq.ReplaceAllString(s, "") }
