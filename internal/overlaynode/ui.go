package overlaynode

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"p2p-overlay/internal/discovery"
	"p2p-overlay/internal/proto"
	"p2p-overlay/internal/uiutil"
)

func shortID(id proto.NodeID) string { return uiutil.Short(id) }

func formatName(name string, id proto.NodeID) string { return uiutil.FormatName(name, id) }

const (
	ansiDim   = uiutil.AnsiDim
	ansiReset = uiutil.AnsiReset
)

// Printer receives chat and status lines for the user. Diagnostics go to the
// logger instead.
type Printer interface {
	Printf(format string, args ...any)
	Println(args ...any)
}

// StdPrinter serializes writes to w. A plain printer strips peer colors,
// for pipes, log files and tests.
type StdPrinter struct {
	mu    sync.Mutex
	w     io.Writer
	plain bool
}

func NewStdPrinter(w io.Writer) *StdPrinter { return &StdPrinter{w: w} }

func NewPlainPrinter(w io.Writer) *StdPrinter { return &StdPrinter{w: w, plain: true} }

func (p *StdPrinter) Printf(format string, args ...any) {
	p.write(fmt.Sprintf(format, args...))
}

func (p *StdPrinter) Println(args ...any) {
	p.write(fmt.Sprintln(args...))
}

func (p *StdPrinter) write(s string) {
	if p.plain {
		s = uiutil.StripANSI(s)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	_, _ = io.WriteString(p.w, s)
}

func (a *App) PrintBanner() {
	info := a.Node.LocalInfo()
	a.ui.Println()
	a.ui.Println("Node started.")
	a.ui.Printf("Name:           %s\n", a.name)
	a.ui.Printf("ID:             %s\n", info.ID.Hex())
	a.ui.Printf("Addr:           %s (%s)\n", info.Address, strings.Join(info.Protocols, ","))
	a.ui.Printf("Seed URL:       %s\n", discovery.PeerURL(info))
	a.ui.Println()
	PrintCommands(a.ui)
	a.ui.Println()
}

func PrintCommands(p Printer) {
	p.Println("Commands:")
	p.Println("    /say <message>               - broadcast a signed chat message")
	p.Println("    /send <id> <message>         - send to one peer (id prefix is enough)")
	p.Println("    /me                          - prints your info")
	p.Println("    /peers                       - show known peers")
	p.Println("    /discover                    - run one discovery round")
	p.Println("    /announce                    - tell peers where you are")
	p.Println("    /put <key> <value>           - publish a value in the DHT")
	p.Println("    /get <key>                   - look a value up in the DHT")
	p.Println("    /mkchan <name>               - make an encrypted channel")
	p.Println("    /joinchan <name> <hexkey>    - join an encrypted channel")
	p.Println("    /encsay <chan> <message>     - encrypted broadcast to channel")
	p.Println("    /quit                        - exit")
}
