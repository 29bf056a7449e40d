package netutil

import (
	"net"
)

// IsPrivateIP returns true if the IP is in a private, link-local or otherwise
// reserved range. Loopback is excluded here and reported separately via
// IsLoopback so callers can decide whether to allow local targets.
func IsPrivateIP(ip net.IP) bool {
	if ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() || ip.IsUnspecified() {
		return true
	}
	privateCIDRs := []string{
		"10.0.0.0/8",
		"172.16.0.0/12",
		"192.168.0.0/16",
		"169.254.0.0/16",
		"100.64.0.0/10",
		"192.0.0.0/24",
		"fc00::/7",
		"fe80::/10",
	}
	for _, cidr := range privateCIDRs {
		_, network, err := net.ParseCIDR(cidr)
		if err == nil && network.Contains(ip) {
			return true
		}
	}
	return false
}

// IsLoopback reports whether the IP is a loopback address (127.0.0.0/8, ::1).
func IsLoopback(ip net.IP) bool {
	return ip.IsLoopback()
}
