package httpserver

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
)

// IPResolver extracts the client IP. Forwarding headers are honoured only
// when the direct peer is a trusted proxy.
type IPResolver struct {
	trusted []*net.IPNet
}

// NewIPResolver creates a resolver trusting the given IPs and CIDRs.
func NewIPResolver(trustedProxies []string) (*IPResolver, error) {
	nets, err := parseNetworks(trustedProxies)
	if err != nil {
		return nil, err
	}
	return &IPResolver{trusted: nets}, nil
}

// ClientIP returns the first X-Forwarded-For entry, then X-Real-IP, then
// the peer address.
func (p *IPResolver) ClientIP(r *http.Request) string {
	peer := r.RemoteAddr
	if host, _, err := net.SplitHostPort(peer); err == nil {
		peer = host
	}
	ip := net.ParseIP(peer)
	if ip == nil || !containsIP(p.trusted, ip) {
		return peer
	}

	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first := strings.TrimSpace(strings.Split(xff, ",")[0])
		if net.ParseIP(first) != nil {
			return first
		}
	}
	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); net.ParseIP(xri) != nil {
		return xri
	}
	return peer
}

// parseNetworks parses IPs and CIDRs. Valid entries are returned even when
// others fail.
func parseNetworks(entries []string) ([]*net.IPNet, error) {
	var (
		nets []*net.IPNet
		errs []error
	)
	for _, e := range entries {
		e = strings.TrimSpace(e)
		if !strings.Contains(e, "/") {
			ip := net.ParseIP(e)
			if ip == nil {
				errs = append(errs, fmt.Errorf("invalid IP %q", e))
				continue
			}
			bits := 128
			if ip.To4() != nil {
				ip, bits = ip.To4(), 32
			}
			nets = append(nets, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
			continue
		}
		_, n, err := net.ParseCIDR(e)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		nets = append(nets, n)
	}
	return nets, errors.Join(errs...)
}

func containsIP(nets []*net.IPNet, ip net.IP) bool {
	for _, n := range nets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}
