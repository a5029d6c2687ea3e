package api

import (
	"net"
	"strings"

	"github.com/labstack/echo/v4"
)

// trustedProxyCIDRs are the only sources allowed to set X-Forwarded-For:
// private networks, loopback, and IPv6 local ranges.
var trustedProxyCIDRs = []string{
	"10.0.0.0/8",
	"172.16.0.0/12",
	"192.168.0.0/16",
	"127.0.0.0/8",
	"::1/128",
	"fc00::/7",
	"fe80::/10",
}

var trustedProxyNets []*net.IPNet

func init() {
	for _, cidr := range trustedProxyCIDRs {
		_, ipNet, err := net.ParseCIDR(cidr)
		if err != nil {
			panic("invalid trusted proxy CIDR " + cidr + ": " + err.Error())
		}
		trustedProxyNets = append(trustedProxyNets, ipNet)
	}
}

func isTrustedProxy(ipStr string) bool {
	ip := net.ParseIP(ipStr)
	if ip == nil {
		return false
	}
	for _, ipNet := range trustedProxyNets {
		if ipNet.Contains(ip) {
			return true
		}
	}
	return false
}

// parseIP returns the validated IP part of an address that may carry a port,
// or "" when nothing parses.
func parseIP(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}
	ip := net.ParseIP(strings.TrimSpace(host))
	if ip == nil {
		return ""
	}
	return ip.String()
}

// getClientIP resolves the client IP used for per-IP rate limiting.
// X-Forwarded-For is honored only when RemoteAddr is one of our own proxies,
// and the chain is walked right to left: proxies append, so the rightmost
// IP not in our trusted ranges is the nearest hop we did not add ourselves.
// Anything left of it is attacker-controllable.
func getClientIP(c echo.Context) string {
	remoteIP := parseIP(c.Request().RemoteAddr)

	if !isTrustedProxy(remoteIP) {
		return remoteIP
	}

	xff := c.Request().Header.Get("X-Forwarded-For")
	if xff == "" {
		return remoteIP
	}

	ips := strings.Split(xff, ",")
	for i := len(ips) - 1; i >= 0; i-- {
		parsedIP := parseIP(strings.TrimSpace(ips[i]))
		if parsedIP == "" {
			continue
		}
		if !isTrustedProxy(parsedIP) {
			return parsedIP
		}
	}

	// Every hop was internal; the leftmost entry is the originating client.
	for i := 0; i < len(ips); i++ {
		if parsedIP := parseIP(strings.TrimSpace(ips[i])); parsedIP != "" {
			return parsedIP
		}
	}

	return remoteIP
}
