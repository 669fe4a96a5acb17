package overlaynode

import (
	"encoding/json"
	"errors"
	"strconv"

	"p2p-overlay/internal/crypto"
	"p2p-overlay/internal/proto"
)

const (
	kindChat      = "chat"
	kindEncrypted = "enc"
)

var ErrBadSignature = errors.New("overlaynode: bad signature")

// payload is the application body carried in Data messages.
type payload struct {
	Kind string `json:"kind"`

	// chat
	Name string `json:"name,omitempty"`
	Text string `json:"text,omitempty"`
	TS   int64  `json:"ts,omitempty"`
	Pub  []byte `json:"pub,omitempty"`
	Sig  []byte `json:"sig,omitempty"`

	// enc: Sealed holds a sealed chat payload.
	Channel string `json:"channel,omitempty"`
	Sealed  []byte `json:"sealed,omitempty"`
}

func (p payload) signingBytes() []byte {
	return []byte(p.Kind + "\x00" + p.Name + "\x00" + p.Text + "\x00" + strconv.FormatInt(p.TS, 10))
}

func signChat(k *crypto.KeyPair, name, text string, ts int64) (payload, error) {
	p := payload{Kind: kindChat, Name: name, Text: text, TS: ts, Pub: k.PublicKey()}
	sig, err := k.Sign(p.signingBytes())
	if err != nil {
		return payload{}, err
	}
	p.Sig = sig
	return p, nil
}

// verifyChat checks the signature and that the key belongs to from.
func verifyChat(p payload, from proto.NodeID) error {
	kp, err := crypto.KeyPairFromPublicKey(p.Pub)
	if err != nil {
		return err
	}
	if kp.NodeID() != from {
		return ErrBadSignature
	}
	ok, err := kp.Verify(p.signingBytes(), p.Sig)
	if err != nil {
		return err
	}
	if !ok {
		return ErrBadSignature
	}
	return nil
}

// sealChat wraps a chat payload for channel ch. The channel name is bound
// as associated data.
func sealChat(key crypto.SealKey, ch string, chat payload) (payload, error) {
	raw, err := json.Marshal(chat)
	if err != nil {
		return payload{}, err
	}
	sealed, err := crypto.Seal(key, raw, []byte(ch))
	if err != nil {
		return payload{}, err
	}
	return payload{Kind: kindEncrypted, Channel: ch, Sealed: sealed}, nil
}

func openChat(key crypto.SealKey, p payload) (payload, error) {
	raw, err := crypto.Open(key, p.Sealed, []byte(p.Channel))
	if err != nil {
		return payload{}, err
	}
	var chat payload
	if err := json.Unmarshal(raw, &chat); err != nil {
		return payload{}, err
	}
	return chat, nil
}
