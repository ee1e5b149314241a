package ipfilter_test

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/compassvpn/user-metrics/internal/ipfilter"
)

func TestNormalize_Equivalence(t *testing.T) {
	c := ipfilter.New(ipfilter.Options{})

	tests := []struct {
		name string
		a, b string
	}{
		{name: "brackets", a: "[2a09:dc43::1]", b: "2a09:dc43::1"},
		{name: "leading zeros ipv6", a: "2a09:dc43:0000::0001", b: "2a09:dc43::1"},
		{name: "case", a: "2A09:DC43::ABCD", b: "2a09:dc43::abcd"},
		{name: "expanded ipv6", a: "2001:0db8:0000:0000:0000:0000:0000:0001", b: "2001:db8::1"},
		{name: "ipv4-mapped", a: "::ffff:5.123.36.145", b: "5.123.36.145"},
		{name: "bracketed ipv4-mapped", a: "[::ffff:5.123.36.145]", b: "5.123.36.145"},
		{name: "zone", a: "fe80::1%eth0", b: "fe80::1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			na, ok := c.Normalize(tt.a)
			require.True(t, ok, "should parse %q", tt.a)
			nb, ok := c.Normalize(tt.b)
			require.True(t, ok, "should parse %q", tt.b)
			assert.Equal(t, nb, na)
		})
	}
}

func TestNormalize_Invalid(t *testing.T) {
	c := ipfilter.New(ipfilter.Options{})

	for _, raw := range []string{"", "localhost", "999.1.1.1", "1.2.3", "not-an-ip", "[::g]", "010.1.1.1", "example.com"} {
		_, ok := c.Normalize(raw)
		assert.False(t, ok, "%q should be invalid", raw)
	}
}

func TestNormalize_Canonical(t *testing.T) {
	c := ipfilter.New(ipfilter.Options{})

	got, ok := c.Normalize("[2A09:DC43:0:0::0010]")
	require.True(t, ok)
	assert.Equal(t, "2a09:dc43::10", got)

	got, ok = c.Normalize("5.123.36.145")
	require.True(t, ok)
	assert.Equal(t, "5.123.36.145", got)
}

func TestAdmissible_Filtered(t *testing.T) {
	c := ipfilter.New(ipfilter.Options{})

	filtered := []string{
		"localhost",
		"127.0.0.1", "127.8.9.10", "::1",
		"10.0.0.1", "10.255.255.255",
		"172.16.0.1", "172.31.255.254",
		"192.168.1.1",
		"fc00::1", "fd12:3456::1",
		"fe80::1", "febf::1",
		"1.1.1.1", "1.0.0.1", "8.8.8.8", "8.8.4.4", "9.9.9.9",
		"208.67.222.222", "94.140.14.14", "77.88.8.8",
		"2606:4700:4700::1111", "2001:4860:4860::8888", "2620:fe::fe",
		"2a02:6b8::feed:0ff",
		"garbage", "",
	}
	for _, addr := range filtered {
		assert.False(t, c.Admissible(addr), "%q should not be admissible", addr)
	}
}

func TestAdmissible_Public(t *testing.T) {
	c := ipfilter.New(ipfilter.Options{})

	for _, addr := range []string{"5.123.36.145", "172.32.0.1", "11.0.0.1", "2a09:dc43::1", "8.8.8.9", "1.1.1.4"} {
		assert.True(t, c.Admissible(addr), "%q should be admissible", addr)
	}
}

func TestAdmissible_GeneratedPublic(t *testing.T) {
	c := ipfilter.New(ipfilter.Options{})

	// 45.0.0.0/8 holds no private ranges and no listed resolvers.
	for i := 0; i < 200; i++ {
		addr := fmt.Sprintf("45.%d.%d.%d", i%256, (i*7)%256, (i*13)%254+1)
		assert.True(t, c.Admissible(addr), "%q should be admissible", addr)
	}
}

func TestAdmissible_Exclude(t *testing.T) {
	list, err := ipfilter.ParseEntries([]string{"203.0.113.7", "198.51.100.0/24", "[2001:db8::5]"})
	require.NoError(t, err)

	c := ipfilter.New(ipfilter.Options{Exclude: list})

	assert.False(t, c.Admissible("203.0.113.7"))
	assert.False(t, c.Admissible("198.51.100.200"))
	assert.False(t, c.Admissible("2001:db8::5"))
	assert.True(t, c.Admissible("203.0.113.8"))
}

func TestMemo_Bounded(t *testing.T) {
	c := ipfilter.New(ipfilter.Options{MemoSize: 50})

	for i := 0; i < 500; i++ {
		addr := fmt.Sprintf("45.1.%d.%d", i/256, i%256)
		c.Normalize(addr)
		c.Admissible(addr)

		norm, admit := c.MemoLen()
		require.LessOrEqual(t, norm, 50)
		require.LessOrEqual(t, admit, 50)
	}
}

func TestMemo_ConsistentAfterClear(t *testing.T) {
	c := ipfilter.New(ipfilter.Options{MemoSize: 2})

	first, ok := c.Normalize("[2a09:dc43::1]")
	require.True(t, ok)
	c.Normalize("1.2.3.4")
	c.Normalize("5.6.7.8")

	again, ok := c.Normalize("[2a09:dc43::1]")
	require.True(t, ok)
	assert.Equal(t, first, again)
}

func TestParseList(t *testing.T) {
	input := `# infrastructure
203.0.113.7
198.51.100.0/24   # monitoring subnet
; legacy comment
not-an-address

2001:db8::/32
[2001:db8:ffff::1]
`
	list, err := ipfilter.ParseList(strings.NewReader(input))
	require.NoError(t, err)

	assert.Len(t, list.Addrs, 2)
	assert.Len(t, list.Networks, 2)
	assert.Equal(t, "198.51.100.0/24", list.Networks[0].String())
}

func TestParseEntries_Invalid(t *testing.T) {
	_, err := ipfilter.ParseEntries([]string{"1.2.3.4", "1.2.3.0/99"})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "entry 1")
}

func TestLoadListFile_Missing(t *testing.T) {
	_, err := ipfilter.LoadListFile("/nonexistent/exclude.txt")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "open exclude list")
}
