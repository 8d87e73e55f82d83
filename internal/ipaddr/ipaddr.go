// Package ipaddr resolves and validates client addresses.
package ipaddr

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"strings"
)

var ErrInvalidAddress = errors.New("not a valid IPv4 or IPv6 address")

type ctxKey struct{}

// Parse accepts a bare IPv4 or IPv6 literal and returns its canonical form.
// Zoned addresses are rejected since they cannot identify a remote client.
func Parse(raw string) (string, error) {
	addr, err := netip.ParseAddr(strings.TrimSpace(raw))
	if err != nil || addr.Zone() != "" {
		return "", fmt.Errorf("%q: %w", raw, ErrInvalidAddress)
	}
	return addr.Unmap().String(), nil
}

// Normalize returns the canonical form of raw, or raw unchanged when it does
// not parse.
func Normalize(raw string) string {
	if addr, err := netip.ParseAddr(raw); err == nil {
		return addr.Unmap().String()
	}
	return raw
}

// IsLocal reports loopback and private-range addresses.
func IsLocal(raw string) bool {
	addr, err := netip.ParseAddr(raw)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	return addr.IsLoopback() || addr.IsPrivate()
}

// Resolver picks the client address for a request. With no trusted proxies
// the first X-Forwarded-For token is always believed; otherwise the header is
// only read when the direct peer is a trusted hop.
type Resolver struct {
	trusted []netip.Prefix
}

func NewResolver(trustedProxies []string) (*Resolver, error) {
	r := &Resolver{}
	for _, raw := range trustedProxies {
		if strings.Contains(raw, "/") {
			prefix, err := netip.ParsePrefix(raw)
			if err != nil {
				return nil, fmt.Errorf("trusted proxy %q: %w", raw, err)
			}
			r.trusted = append(r.trusted, prefix.Masked())
			continue
		}
		addr, err := netip.ParseAddr(raw)
		if err != nil {
			return nil, fmt.Errorf("trusted proxy %q: %w", raw, err)
		}
		addr = addr.Unmap()
		r.trusted = append(r.trusted, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return r, nil
}

func (r *Resolver) ClientIP(req *http.Request) string {
	peer := peerAddr(req)
	if xff := req.Header.Get("X-Forwarded-For"); xff != "" && r.trusts(peer) {
		first, _, _ := strings.Cut(xff, ",")
		if ip, err := Parse(first); err == nil {
			return ip
		}
	}
	return Normalize(peer)
}

func (r *Resolver) trusts(peer string) bool {
	if len(r.trusted) == 0 {
		return true
	}
	addr, err := netip.ParseAddr(peer)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, p := range r.trusted {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

func peerAddr(req *http.Request) string {
	host, _, err := net.SplitHostPort(req.RemoteAddr)
	if err != nil {
		return req.RemoteAddr
	}
	return host
}

func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, ctxKey{}, ip)
}

// FromContext returns the address stored by the gate, if any.
func FromContext(ctx context.Context) (string, bool) {
	ip, ok := ctx.Value(ctxKey{}).(string)
	return ip, ok && ip != ""
}
