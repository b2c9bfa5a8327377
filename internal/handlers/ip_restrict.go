package handlers

import (
	"fmt"
	"log"
	"net"
	"net/http"
	"strings"

	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/gluk-w/termgate/internal/logutil"
)

// ParseAllowedIPs parses a comma-separated list of IPs and CIDR ranges.
// Single IPs become /32 (IPv4) or /128 (IPv6) networks. Empty input
// returns nil, which allows everything.
func ParseAllowedIPs(allowList string) ([]*net.IPNet, error) {
	allowList = strings.TrimSpace(allowList)
	if allowList == "" {
		return nil, nil
	}

	var networks []*net.IPNet
	for _, part := range strings.Split(allowList, ",") {
		entry := strings.TrimSpace(part)
		if entry == "" {
			continue
		}

		if strings.Contains(entry, "/") {
			_, network, err := net.ParseCIDR(entry)
			if err != nil {
				return nil, fmt.Errorf("invalid CIDR %q: %w", entry, err)
			}
			networks = append(networks, network)
			continue
		}

		ip := net.ParseIP(entry)
		if ip == nil {
			return nil, fmt.Errorf("invalid IP address %q", entry)
		}
		var mask net.IPMask
		if ip.To4() != nil {
			mask = net.CIDRMask(32, 32)
		} else {
			mask = net.CIDRMask(128, 128)
		}
		networks = append(networks, &net.IPNet{IP: ip.Mask(mask), Mask: mask})
	}
	return networks, nil
}

// clientIP extracts the IP from a RemoteAddr, which RealIPFrom may have
// replaced with a bare address.
func clientIP(remoteAddr string) net.IP {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	return net.ParseIP(strings.TrimSpace(host))
}

func inNetworks(ip net.IP, networks []*net.IPNet) bool {
	if ip == nil {
		return false
	}
	for _, n := range networks {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// RealIPFrom applies chi's RealIP only to requests whose peer address is
// one of the trusted proxies. Forwarded headers from other peers are
// ignored.
func RealIPFrom(proxies []*net.IPNet) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if len(proxies) == 0 {
			return next
		}
		forwarded := chimw.RealIP(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if inNetworks(clientIP(r.RemoteAddr), proxies) {
				forwarded.ServeHTTP(w, r)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RestrictClients rejects requests whose client address is outside
// networks. No networks means no restriction.
func RestrictClients(networks []*net.IPNet) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if len(networks) == 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if inNetworks(clientIP(r.RemoteAddr), networks) {
				next.ServeHTTP(w, r)
				return
			}
			log.Printf("[handlers] blocked request from %s to %s",
				logutil.SanitizeForLog(r.RemoteAddr), logutil.SanitizeForLog(r.URL.Path))
			writeError(w, http.StatusForbidden, "Client address not allowed")
		})
	}
}
