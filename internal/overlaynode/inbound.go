package overlaynode

import (
	"encoding/json"
	"time"

	"p2p-overlay/internal/proto"
)

func (a *App) handleMessage(msg proto.Message) {
	if msg.IsDHT() {
		return
	}

	var p payload
	if err := json.Unmarshal(msg.Data, &p); err != nil || p.Kind == "" {
		a.printRaw(msg)
		return
	}

	switch p.Kind {
	case kindChat:
		a.handleChat(msg, p, "")
	case kindEncrypted:
		a.handleEncrypted(msg, p)
	default:
		a.printRaw(msg)
	}
}

func (a *App) handleChat(msg proto.Message, p payload, channel string) {
	tag := "CHAT"
	if channel != "" {
		tag = "ENC " + channel
	}
	if err := verifyChat(p, msg.From); err != nil {
		a.ui.Printf("[%s] dropped message from %s: %v\n", tag, shortID(msg.From), err)
		return
	}

	ts := time.Unix(p.TS, 0).Format("15:04:05")
	colored := formatName(p.Name, msg.From)
	direct := ""
	if !msg.IsBroadcast() {
		direct = " (direct)"
	}
	a.ui.Printf("%s[%s]%s [%s] %s%s: %s\n", ansiDim, ts, ansiReset, tag, colored, direct, p.Text)
}

func (a *App) handleEncrypted(msg proto.Message, p payload) {
	a.encMu.RLock()
	key, ok := a.encChannels[p.Channel]
	a.encMu.RUnlock()
	if !ok {
		return
	}
	chat, err := openChat(key, p)
	if err != nil {
		a.ui.Printf("[ENC %s] cannot open message from %s: %v\n", p.Channel, shortID(msg.From), err)
		return
	}
	a.handleChat(msg, chat, p.Channel)
}

func (a *App) printRaw(msg proto.Message) {
	a.ui.Printf("%s[%s]%s [RAW] %s: %q\n", ansiDim, msg.Time().Format("15:04:05"), ansiReset, shortID(msg.From), msg.Data)
}
