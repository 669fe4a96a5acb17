package overlaynode

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"strings"
	"time"

	"p2p-overlay/internal/crypto"
	"p2p-overlay/internal/dht"
	"p2p-overlay/internal/proto"
)

const commandTimeout = 10 * time.Second

func (a *App) readStdin(ctx context.Context, quit context.CancelFunc) {
	sc := bufio.NewScanner(os.Stdin)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if a.handleCommand(ctx, line) {
			quit()
			return
		}
	}
}

// handleCommand runs one command line. It reports whether the user asked
// to quit.
func (a *App) handleCommand(ctx context.Context, line string) bool {
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	cmd, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)

	switch cmd {
	case "/quit", "/exit":
		a.ui.Println("quitting...")
		return true

	case "/me":
		info := a.Node.LocalInfo()
		a.ui.Println()
		a.ui.Println("== You ==")
		a.ui.Printf("  Name:       %s\n", a.name)
		a.ui.Printf("  ID:         %s\n", info.ID.Hex())
		a.ui.Printf("  ID (b58):   %s\n", info.ID.Base58())
		a.ui.Printf("  Listen on:  %s %v\n", info.Address, info.Protocols)
		a.ui.Printf("  Peers:      %d\n", a.Node.PeerCount())
		a.ui.Println()

	case "/peers":
		a.printPeers()

	case "/say":
		if rest == "" {
			a.ui.Println("usage: /say <message>")
			return false
		}
		a.say(rest)

	case "/send":
		prefix, text, _ := strings.Cut(rest, " ")
		if prefix == "" || strings.TrimSpace(text) == "" {
			a.ui.Println("usage: /send <id> <message>")
			return false
		}
		id, err := a.resolvePeer(prefix)
		if err != nil {
			a.ui.Printf("send: %v\n", err)
			return false
		}
		p, err := signChat(a.Keys, a.name, strings.TrimSpace(text), time.Now().Unix())
		if err != nil {
			a.ui.Printf("send: %v\n", err)
			return false
		}
		body, _ := json.Marshal(p)
		if err := a.Node.SendTo(ctx, id, body); err != nil {
			a.ui.Printf("send: %v\n", err)
		}

	case "/discover":
		found, err := a.Node.DiscoverPeers(ctx)
		if err != nil {
			a.ui.Printf("discover: %v\n", err)
			return false
		}
		a.ui.Printf("[NET] discovery returned %d entries, %d peers known\n", len(found), a.Node.PeerCount())

	case "/announce":
		if err := a.Node.Announce(ctx); err != nil {
			a.ui.Printf("announce: %v\n", err)
		}

	case "/put":
		key, value, _ := strings.Cut(rest, " ")
		if key == "" || value == "" {
			a.ui.Println("usage: /put <key> <value>")
			return false
		}
		d := a.Node.DHT()
		if d == nil {
			a.ui.Println("dht disabled")
			return false
		}
		acks, err := d.Publish(ctx, []byte(key), []byte(value))
		if err != nil {
			a.ui.Printf("put: %v\n", err)
			return false
		}
		a.ui.Printf("[DHT] stored %q locally and on %d peers\n", key, acks)

	case "/get":
		if rest == "" {
			a.ui.Println("usage: /get <key>")
			return false
		}
		d := a.Node.DHT()
		if d == nil {
			a.ui.Println("dht disabled")
			return false
		}
		v, err := d.LookupValue(ctx, []byte(rest))
		switch {
		case errors.Is(err, dht.ErrValueNotFound):
			a.ui.Printf("[DHT] %q not found\n", rest)
		case err != nil:
			a.ui.Printf("get: %v\n", err)
		default:
			a.ui.Printf("[DHT] %s = %s\n", rest, v)
		}

	case "/mkchan":
		if rest == "" {
			a.ui.Println("usage: /mkchan <name>")
			return false
		}
		k, err := crypto.NewSealKey()
		if err != nil {
			a.ui.Printf("mkchan: %v\n", err)
			return false
		}
		a.joinChannel(rest, k)
		a.ui.Printf("[CHAN] created channel %q\n", rest)
		a.ui.Printf("[CHAN] share this key with others:\n  %s\n", k.Hex())

	case "/joinchan":
		parts := strings.Fields(rest)
		if len(parts) != 2 {
			a.ui.Println("usage: /joinchan <name> <hexkey>")
			return false
		}
		k, err := crypto.ParseSealKeyHex(parts[1])
		if err != nil {
			a.ui.Printf("joinchan: %v\n", err)
			return false
		}
		a.joinChannel(parts[0], k)
		a.ui.Printf("[CHAN] joined channel %q\n", parts[0])

	case "/encsay":
		ch, text, _ := strings.Cut(rest, " ")
		if ch == "" || strings.TrimSpace(text) == "" {
			a.ui.Println("usage: /encsay <channel> <message>")
			return false
		}
		if err := a.sendEncrypted(ctx, ch, strings.TrimSpace(text)); err != nil {
			a.ui.Printf("encsay: %v\n", err)
		}

	default:
		a.ui.Println("unknown command")
		PrintCommands(a.ui)
	}
	return false
}

func (a *App) say(text string) {
	p, err := signChat(a.Keys, a.name, text, time.Now().Unix())
	if err != nil {
		a.logf("sign chat: %v", err)
		return
	}
	body, _ := json.Marshal(p)
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()
	_ = a.Node.Broadcast(ctx, body)
}

func (a *App) joinChannel(name string, k crypto.SealKey) {
	a.encMu.Lock()
	a.encChannels[name] = k
	a.encMu.Unlock()
}

func (a *App) sendEncrypted(ctx context.Context, ch, text string) error {
	a.encMu.RLock()
	key, ok := a.encChannels[ch]
	a.encMu.RUnlock()
	if !ok {
		return errors.New("not joined to channel " + ch)
	}
	chat, err := signChat(a.Keys, a.name, text, time.Now().Unix())
	if err != nil {
		return err
	}
	p, err := sealChat(key, ch, chat)
	if err != nil {
		return err
	}
	body, _ := json.Marshal(p)
	return a.Node.Broadcast(ctx, body)
}

// resolvePeer accepts a full hex id or a unique prefix of a known peer.
func (a *App) resolvePeer(prefix string) (proto.NodeID, error) {
	if id, err := proto.ParseNodeIDHex(prefix); err == nil {
		return id, nil
	}
	var match []proto.NodeID
	for _, p := range a.Node.Peers() {
		if strings.HasPrefix(p.ID.Hex(), strings.ToLower(prefix)) {
			match = append(match, p.ID)
		}
	}
	switch len(match) {
	case 0:
		return proto.NodeID{}, errors.New("no peer matches " + prefix)
	case 1:
		return match[0], nil
	default:
		return proto.NodeID{}, errors.New("ambiguous peer prefix " + prefix)
	}
}

func (a *App) printPeers() {
	peers := a.Node.Peers()
	if len(peers) == 0 {
		a.ui.Println("no peers known")
		return
	}

	a.ui.Println()
	a.ui.Println("Known peers:")
	a.ui.Printf("%-10s  %-13s  %-6s  %-10s  %s\n", "ID", "STATUS", "FAILS", "PROTOCOLS", "ADDR")
	a.ui.Printf("%-10s  %-13s  %-6s  %-10s  %s\n", "--", "------", "-----", "---------", "----")
	for _, info := range peers {
		snap, ok := a.Node.Peer(info.ID)
		if !ok {
			continue
		}
		a.ui.Printf("%-10s  %-13s  %-6d  %-10s  %s\n",
			shortID(info.ID), snap.Status, snap.FailedAttempts, strings.Join(info.Protocols, ","), info.Address)
	}
	a.ui.Println()
}
