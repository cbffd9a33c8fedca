package api

import (
	"net"
	"net/http"
	"strings"
)

// clientIP is the peer address of the request. Forwarding headers are not
// trusted; the HTTP surface is meant to be reached directly.
func clientIP(req *http.Request) string {
	return ipString(parseRemoteIP(req.RemoteAddr))
}

func parseRemoteIP(remoteAddr string) net.IP {
	if remoteAddr == "" {
		return nil
	}
	host, _, err := net.SplitHostPort(remoteAddr)
	if err == nil {
		return parseIP(host)
	}
	return parseIP(remoteAddr)
}

func parseIP(value string) net.IP {
	clean := strings.TrimSpace(value)
	if clean == "" {
		return nil
	}
	if strings.HasPrefix(clean, "[") && strings.Contains(clean, "]") {
		clean = strings.TrimPrefix(clean, "[")
		clean = strings.TrimSuffix(clean, "]")
	}
	return net.ParseIP(clean)
}

func ipString(ip net.IP) string {
	if ip == nil {
		return "unknown"
	}
	return ip.String()
}
