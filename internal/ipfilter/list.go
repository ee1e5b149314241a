package ipfilter

import (
	"bufio"
	"fmt"
	"io"
	"net/netip"
	"os"
	"strings"
)

// List is a set of addresses and networks to exclude from counting.
type List struct {
	Addrs    []netip.Addr
	Networks []netip.Prefix
}

// Len returns the number of entries in the list.
func (l List) Len() int {
	return len(l.Addrs) + len(l.Networks)
}

// Merge returns a list holding the entries of both l and o.
func (l List) Merge(o List) List {
	return List{
		Addrs:    append(append([]netip.Addr(nil), l.Addrs...), o.Addrs...),
		Networks: append(append([]netip.Prefix(nil), l.Networks...), o.Networks...),
	}
}

// ParseEntries parses addresses ("203.0.113.7", "[2001:db8::1]") and CIDR
// networks ("198.51.100.0/24") from config. Unlike ParseList it is strict:
// the first invalid entry is an error.
func ParseEntries(entries []string) (List, error) {
	var l List
	for i, e := range entries {
		if err := l.add(e); err != nil {
			return List{}, fmt.Errorf("entry %d: %w", i, err)
		}
	}
	return l, nil
}

// ParseList reads an exclusion list with one address or CIDR network per
// line. Blank lines, "#" and ";" comments, and trailing inline comments are
// skipped, as are lines that do not parse.
func ParseList(r io.Reader) (List, error) {
	var l List

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if idx := strings.IndexAny(line, "#;"); idx >= 0 {
			line = line[:idx]
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		_ = l.add(line) //nolint:errcheck // lenient: malformed lines are skipped
	}
	if err := scanner.Err(); err != nil {
		return List{}, fmt.Errorf("read exclude list: %w", err)
	}

	return l, nil
}

// LoadListFile reads an exclusion list from path.
func LoadListFile(path string) (List, error) {
	f, err := os.Open(path) //nolint:gosec // operator-supplied path
	if err != nil {
		return List{}, fmt.Errorf("open exclude list %s: %w", path, err)
	}
	defer f.Close() //nolint:errcheck // read-only

	return ParseList(f)
}

func (l *List) add(entry string) error {
	entry = strings.TrimSpace(entry)
	if strings.Contains(entry, "/") {
		p, err := netip.ParsePrefix(entry)
		if err != nil {
			return fmt.Errorf("invalid network %q: %w", entry, err)
		}
		l.Networks = append(l.Networks, p.Masked())
		return nil
	}

	addr, err := parse(entry)
	if err != nil {
		return err
	}
	l.Addrs = append(l.Addrs, addr)
	return nil
}
