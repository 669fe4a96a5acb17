package discovery

import (
	"net"
	"strings"
)

// listenPortOnly reduces a wildcard or loopback listen address to ":port"
// so the receiver can join it with the packet's source IP.
func listenPortOnly(listenAddr string) string {
	host, port, err := net.SplitHostPort(listenAddr)
	if err != nil || port == "" {
		return listenAddr
	}
	if ip := net.ParseIP(host); host == "" || (ip != nil && (ip.IsUnspecified() || ip.IsLoopback())) {
		return ":" + port
	}
	return listenAddr
}

// normalizeListen joins ":port" with the sender's IP.
func normalizeListen(sender *net.UDPAddr, listen string) string {
	if strings.HasPrefix(listen, ":") && sender != nil && sender.IP != nil {
		return net.JoinHostPort(sender.IP.String(), strings.TrimPrefix(listen, ":"))
	}
	return listen
}
