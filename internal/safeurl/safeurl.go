// Package safeurl validates user-supplied site URLs before anything is
// fetched from them. A URL passes only when it is HTTPS and its host
// resolves exclusively to public addresses.
package safeurl

import (
	"context"
	"net"
	"net/url"
	"strings"

	"github.com/rotisserie/eris"
)

var (
	// ErrEmptyURL is returned for blank input.
	ErrEmptyURL = eris.New("safeurl: url is required")
	// ErrUnsafeScheme is returned for anything other than https.
	ErrUnsafeScheme = eris.New("safeurl: only https urls are allowed")
	// ErrPrivateHost is returned when the host is or resolves to a private,
	// loopback or link-local address.
	ErrPrivateHost = eris.New("safeurl: url targets a private or loopback address")
	// ErrUnresolvable is returned when the host has no DNS records.
	ErrUnresolvable = eris.New("safeurl: host does not resolve")
)

// Resolver turns raw user input into a fetchable URL or rejects it.
type Resolver interface {
	Resolve(ctx context.Context, raw string) (*url.URL, error)
}

// LookupFunc resolves a hostname to IP address strings.
type LookupFunc func(ctx context.Context, host string) ([]string, error)

// Guard is the default Resolver.
type Guard struct {
	allowPrivate bool
	lookup       LookupFunc
}

// Option configures a Guard.
type Option func(*Guard)

// WithAllowPrivate permits http and private hosts. Only for local development.
func WithAllowPrivate(allow bool) Option {
	return func(g *Guard) { g.allowPrivate = allow }
}

// WithLookup replaces DNS resolution, mainly for tests.
func WithLookup(fn LookupFunc) Option {
	return func(g *Guard) { g.lookup = fn }
}

// New creates a Guard that resolves hosts with the system resolver.
func New(opts ...Option) *Guard {
	g := &Guard{lookup: net.DefaultResolver.LookupHost}
	for _, o := range opts {
		o(g)
	}
	return g
}

// Resolve validates raw and returns the normalized URL. Input without a
// scheme is treated as https. Fragments and credentials are not allowed
// through.
func (g *Guard) Resolve(ctx context.Context, raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ErrEmptyURL
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}

	u, err := url.Parse(raw)
	if err != nil {
		return nil, eris.Wrap(err, "safeurl: invalid url")
	}

	scheme := strings.ToLower(u.Scheme)
	switch {
	case scheme == "https":
	case scheme == "http" && g.allowPrivate:
	default:
		return nil, ErrUnsafeScheme
	}
	if u.User != nil {
		return nil, eris.New("safeurl: credentials in url are not allowed")
	}

	host := strings.ToLower(u.Hostname())
	if host == "" {
		return nil, eris.New("safeurl: url has no host")
	}

	if !g.allowPrivate {
		if err := g.checkHost(ctx, host); err != nil {
			return nil, err
		}
	}

	out := &url.URL{
		Scheme:   scheme,
		Host:     strings.ToLower(u.Host),
		Path:     u.Path,
		RawQuery: u.RawQuery,
	}
	if out.Path == "" {
		out.Path = "/"
	}
	return out, nil
}

func (g *Guard) checkHost(ctx context.Context, host string) error {
	if host == "localhost" || strings.HasSuffix(host, ".localhost") || strings.HasSuffix(host, ".internal") {
		return ErrPrivateHost
	}
	if ip := net.ParseIP(host); ip != nil {
		if IsPrivateIP(ip) {
			return ErrPrivateHost
		}
		return nil
	}

	addrs, err := g.lookup(ctx, host)
	if err != nil || len(addrs) == 0 {
		return ErrUnresolvable
	}
	for _, a := range addrs {
		ip := net.ParseIP(a)
		if ip == nil || IsPrivateIP(ip) {
			return ErrPrivateHost
		}
	}
	return nil
}

var carrierGradeNAT = &net.IPNet{IP: net.IPv4(100, 64, 0, 0), Mask: net.CIDRMask(10, 32)}

// IsPrivateIP reports whether ip is loopback, link-local, unspecified,
// multicast, RFC 1918, RFC 4193 or carrier-grade NAT space.
func IsPrivateIP(ip net.IP) bool {
	return ip.IsLoopback() ||
		ip.IsPrivate() ||
		ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() ||
		ip.IsUnspecified() ||
		ip.IsMulticast() ||
		carrierGradeNAT.Contains(ip)
}

// Domain returns the cache key for u: the lowercased host without port or a
// leading "www.".
func Domain(u *url.URL) string {
	host := strings.ToLower(u.Hostname())
	return strings.TrimPrefix(host, "www.")
}

// Origin returns scheme://host for u.
func Origin(u *url.URL) string {
	return u.Scheme + "://" + u.Host
}
