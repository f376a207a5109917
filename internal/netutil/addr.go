package netutil

import (
	"fmt"
	"net"
	"net/http"
	"strings"
)

// IsAddrAvailable returns true when an address can be listened on.
func IsAddrAvailable(addr string) (bool, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return false, nil
	}
	if closeErr := ln.Close(); closeErr != nil {
		return false, closeErr
	}
	return true, nil
}

// RequireAddrAvailable fails fast when the HTTP bind address is taken, before
// anything expensive such as a browser launch happens.
func RequireAddrAvailable(addr string) error {
	ok, err := IsAddrAvailable(addr)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("bind address in use: %s", addr)
	}
	return nil
}

// ClientIP returns the caller's address without the port. Forwarding headers
// are only honoured when trustProxy is set: the first X-Forwarded-For hop
// wins, then X-Real-IP. Otherwise the socket peer is used.
func ClientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if ip := forwardedIP(r); ip != "" {
			return ip
		}
	}
	return RemoteIP(r)
}

// RemoteIP returns the socket peer address without the port.
func RemoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func forwardedIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	return strings.TrimSpace(r.Header.Get("X-Real-IP"))
}
