// Package netutil validates the address literals spec.md §6 requires
// the daemon's configuration layer to accept or reject.
package netutil

import (
	"net"
	"strconv"
	"strings"
)

// ValidateIPv4 reports whether s is a dotted-quad IPv4 literal:
// 0.0.0.0 through 255.255.255.255, exactly four octets, no leading/
// trailing garbage, and not an IPv6 literal.
func ValidateIPv4(s string) bool {
	parts := strings.Split(s, ".")
	if len(parts) != 4 {
		return false
	}
	for _, p := range parts {
		if p == "" || len(p) > 3 {
			return false
		}
		if len(p) > 1 && p[0] == '0' {
			return false
		}
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 || n > 255 {
			return false
		}
	}
	ip := net.ParseIP(s)
	return ip != nil && ip.To4() != nil
}

// ValidateIPv6 reports whether s is a standard or "::ffff:IPv4-mapped"
// IPv6 literal, rejecting garbage and addresses with more than one "::"
// elision.
func ValidateIPv6(s string) bool {
	if strings.Count(s, "::") > 1 {
		return false
	}
	ip := net.ParseIP(s)
	if ip == nil {
		return false
	}
	return strings.Contains(s, ":")
}

// ValidatePort reports whether port is in the valid TCP port range,
// spec.md §6's 1-65535.
func ValidatePort(port int) bool {
	return port >= 1 && port <= 65535
}
