package render

import (
	"crypto/tls"
	"log/slog"

	"github.com/gobwas/ws"
)

// ConfigureDialer sets TLS options for the websocket dialer chromedp uses.
// insecure accepts self-signed certificates on remote wss:// CDP endpoints.
// Call it before Connect.
func ConfigureDialer(insecure bool) {
	if !insecure {
		ws.DefaultDialer.TLSConfig = nil
		return
	}
	slog.Warn("TLS verification disabled for CDP websocket")
	ws.DefaultDialer.TLSConfig = &tls.Config{InsecureSkipVerify: true}
}
