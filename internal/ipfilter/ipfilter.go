/*
Package ipfilter validates, normalizes, and classifies client addresses
found in the xray access log.

Loopback, private, and link-local addresses, as well as well-known public
DNS resolvers, are infrastructure noise rather than end users and are
never counted. Both normalization and admissibility decisions are
memoized per raw string so that per-line cost stays O(1) amortized; the
memos are bounded and cleared once they reach their high-water mark.
*/
package ipfilter

import (
	"fmt"
	"net/netip"
	"strings"
	"sync"
)

// DefaultMemoSize is the memo high-water mark used when Options.MemoSize is zero.
const DefaultMemoSize = 10000

// privateNetworks are never counted: RFC 1918 ranges, IPv6 unique-local
// and link-local.
var privateNetworks = []netip.Prefix{
	netip.MustParsePrefix("10.0.0.0/8"),
	netip.MustParsePrefix("172.16.0.0/12"),
	netip.MustParsePrefix("192.168.0.0/16"),
	netip.MustParsePrefix("fc00::/7"),
	netip.MustParsePrefix("fe80::/10"),
}

// Options configures a Classifier.
type Options struct {
	// MemoSize bounds each memo. Zero uses DefaultMemoSize.
	MemoSize int
	// Exclude holds operator-supplied addresses and networks that are
	// filtered in addition to the built-in set.
	Exclude List
}

type normResult struct {
	addr  string
	valid bool
}

// Classifier normalizes and classifies addresses. It is safe for
// concurrent use.
type Classifier struct {
	memoSize int
	addrs    map[netip.Addr]struct{}
	networks []netip.Prefix

	mu        sync.Mutex
	normMemo  map[string]normResult
	admitMemo map[string]bool
}

// New creates a Classifier with the built-in filter set plus opts.Exclude.
func New(opts Options) *Classifier {
	size := opts.MemoSize
	if size <= 0 {
		size = DefaultMemoSize
	}

	addrs := make(map[netip.Addr]struct{}, len(resolvers)+len(opts.Exclude.Addrs))
	for _, a := range resolvers {
		addrs[a] = struct{}{}
	}
	for _, a := range opts.Exclude.Addrs {
		addrs[canonical(a)] = struct{}{}
	}

	networks := make([]netip.Prefix, 0, len(privateNetworks)+len(opts.Exclude.Networks))
	networks = append(networks, privateNetworks...)
	networks = append(networks, opts.Exclude.Networks...)

	return &Classifier{
		memoSize:  size,
		addrs:     addrs,
		networks:  networks,
		normMemo:  make(map[string]normResult),
		admitMemo: make(map[string]bool),
	}
}

// Normalize returns the canonical textual form of raw, which may be a bare
// IPv4 or IPv6 address or a bracketed IPv6 address. The second return value
// is false when raw is not a valid address.
func (c *Classifier) Normalize(raw string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if r, ok := c.normMemo[raw]; ok {
		return r.addr, r.valid
	}

	var r normResult
	if addr, err := parse(raw); err == nil {
		r = normResult{addr: addr.String(), valid: true}
	}

	if len(c.normMemo) >= c.memoSize {
		clear(c.normMemo)
	}
	c.normMemo[raw] = r
	return r.addr, r.valid
}

// Admissible reports whether addr should be counted as a client. Loopback,
// "localhost", private networks, known resolvers, operator exclusions, and
// anything that does not parse are not admissible.
func (c *Classifier) Admissible(addr string) bool {
	if addr == "localhost" {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if ok, hit := c.admitMemo[addr]; hit {
		return ok
	}

	ok := c.admissible(addr)
	if len(c.admitMemo) >= c.memoSize {
		clear(c.admitMemo)
	}
	c.admitMemo[addr] = ok
	return ok
}

func (c *Classifier) admissible(raw string) bool {
	addr, err := parse(raw)
	if err != nil {
		return false
	}
	if addr.IsLoopback() || addr.IsUnspecified() {
		return false
	}
	if _, listed := c.addrs[addr]; listed {
		return false
	}
	for _, n := range c.networks {
		if n.Contains(addr) {
			return false
		}
	}
	return true
}

// MemoLen returns the current sizes of the normalization and admissibility memos.
func (c *Classifier) MemoLen() (norm, admit int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.normMemo), len(c.admitMemo)
}

// parse strips brackets and parses s into its canonical netip.Addr.
func parse(s string) (netip.Addr, error) {
	addr, err := netip.ParseAddr(strings.Trim(s, "[]"))
	if err != nil {
		return netip.Addr{}, fmt.Errorf("parse address %q: %w", s, err)
	}
	return canonical(addr), nil
}

// canonical drops any zone and unmaps IPv4-mapped IPv6 so that every
// spelling of an address compares equal.
func canonical(a netip.Addr) netip.Addr {
	return a.WithZone("").Unmap()
}
