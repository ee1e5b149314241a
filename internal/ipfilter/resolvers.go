package ipfilter

import "net/netip"

// resolvers holds well-known public DNS resolver addresses. Clients of the
// proxy look these up constantly, so they show up as connection sources
// without being users.
var resolvers = mustParseAll(
	// Cloudflare
	"1.1.1.1", "1.0.0.1", "2606:4700:4700::1111", "2606:4700:4700::1001",
	"1.1.1.2", "1.0.0.2", "2606:4700:4700::1112", "2606:4700:4700::1002",
	"1.1.1.3", "1.0.0.3", "2606:4700:4700::1113", "2606:4700:4700::1003",

	// Google
	"8.8.8.8", "8.8.4.4", "2001:4860:4860::8888", "2001:4860:4860::8844",

	// Quad9
	"9.9.9.9", "149.112.112.112", "2620:fe::fe", "2620:fe::9",
	"9.9.9.10", "149.112.112.10", "2620:fe::10", "2620:fe::fe:10",
	"9.9.9.11", "149.112.112.11", "2620:fe::11", "2620:fe::fe:11",

	// Level3
	"209.244.0.3", "209.244.0.4", "4.2.2.4", "4.2.2.2",

	// AdGuard
	"94.140.14.14", "94.140.15.15", "2a10:50c0::ad1:ff", "2a10:50c0::ad2:ff",
	"94.140.14.140", "94.140.14.141", "2a10:50c0::1:ff", "2a10:50c0::2:ff",
	"94.140.14.15", "94.140.15.16", "2a10:50c0::bad1:ff", "2a10:50c0::bad2:ff",

	// DNS0.eu
	"193.110.81.0", "185.253.5.0", "2a0f:fc80::", "2a0f:fc81::",

	// ControlD
	"76.76.2.2", "76.76.10.10", "2606:1a40::2", "2606:1a40::10",
	"76.76.2.0", "76.76.10.0", "2606:1a40::", "2606:1a40:1::",
	"76.76.2.1", "76.76.10.1", "2606:1a40::1", "2606:1a40:1::1",
	"76.76.2.3", "76.76.10.3", "2606:1a40::3", "2606:1a40:1::3",
	"76.76.2.4", "76.76.10.4", "2606:1a40::4", "2606:1a40:1::4",
	"76.76.2.5", "76.76.10.5", "2606:1a40::5", "2606:1a40:1::5",

	// AliDNS
	"223.5.5.5", "223.6.6.6", "2400:3200::1", "2400:3200:baba::1",

	// GcoreDNS
	"95.85.95.85", "95.85.95.86", "2a03:90c0:999d::1", "2a03:90c0:999d::2",

	// CleanBrowsing
	"185.228.168.9", "185.228.169.9", "2a0d:2a00:1::2", "2a0d:2a00:2::2",

	// OpenDNS
	"208.67.222.222", "208.67.220.220", "208.67.222.123", "208.67.220.123",
	"2620:119:35::35", "2620:119:53::53", "2620:0:ccc::2", "2620:0:ccd::2",

	// Yandex
	"77.88.8.8", "77.88.8.88", "77.88.8.7", "77.88.8.77",
	"2a02:6b8::feed:ff", "2a02:6b8::feed:bad", "2a02:6b8::feed:fe",

	// UltraDNS
	"64.6.64.6", "156.154.70.2", "64.6.65.6", "156.154.71.2",
	"2620:74:1b::1:1", "2610:a1:1018::2", "2620:74:1b::1:2", "2610:a1:1018::3",
)

func mustParseAll(ss ...string) []netip.Addr {
	out := make([]netip.Addr, 0, len(ss))
	for _, s := range ss {
		out = append(out, netip.MustParseAddr(s))
	}
	return out
}
