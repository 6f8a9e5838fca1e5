// Package fingerprint derives the client-fingerprint prefix used to bind
// sealed session credentials to the request origin that obtained them.
package fingerprint

import (
	"net"
	"net/http"
	"strings"
)

// Config selects which request-origin attributes contribute to the
// fingerprint. Each is independently gated, mirroring
// IpUserAgentConfig.{use_ip, use_xforward_ip, use_forward_ip, use_real_ip,
// use_user_agent} in the design this package generalizes.
type Config struct {
	UseIP           bool
	UseXForwardedIP bool
	UseForwardedIP  bool
	UseRealIP       bool
	UseUserAgent    bool
	// RealIPHeader is the header consulted when UseRealIP is set. Defaults
	// to "X-Real-IP" when empty.
	RealIPHeader string
}

// Derive returns the fingerprint byte sequence for r according to cfg. An
// empty Config (zero value) yields an empty fingerprint, i.e. binding is a
// no-op unless explicitly enabled.
func Derive(cfg Config, r *http.Request) []byte {
	var b strings.Builder
	if cfg.UseIP {
		b.WriteString(remoteIP(r))
		b.WriteByte('|')
	}
	if cfg.UseXForwardedIP {
		b.WriteString(r.Header.Get("X-Forwarded-For"))
		b.WriteByte('|')
	}
	if cfg.UseForwardedIP {
		b.WriteString(r.Header.Get("Forwarded"))
		b.WriteByte('|')
	}
	if cfg.UseRealIP {
		name := cfg.RealIPHeader
		if name == "" {
			name = "X-Real-IP"
		}
		b.WriteString(r.Header.Get(name))
		b.WriteByte('|')
	}
	if cfg.UseUserAgent {
		b.WriteString(r.UserAgent())
		b.WriteByte('|')
	}
	return []byte(b.String())
}

func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
