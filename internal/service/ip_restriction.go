package service

import (
	"net/netip"
	"strings"
)

// ipAllowed checks ip against a comma separated list of addresses and CIDR prefixes.
// An empty list allows everything; an unparsable client address is never allowed.
func ipAllowed(ip, restriction string) bool {
	restriction = strings.TrimSpace(restriction)
	if restriction == "" {
		return true
	}
	addr, err := netip.ParseAddr(strings.TrimSpace(ip))
	if err != nil {
		return false
	}
	addr = addr.Unmap()

	for _, entry := range strings.Split(restriction, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if strings.Contains(entry, "/") {
			prefix, err := netip.ParsePrefix(entry)
			if err == nil && prefix.Contains(addr) {
				return true
			}
			continue
		}
		allowed, err := netip.ParseAddr(entry)
		if err == nil && allowed.Unmap() == addr {
			return true
		}
	}
	return false
}
