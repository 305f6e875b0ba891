package discovery

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"

	"github.com/MrSnakeDoc/discoveryd/internal/domain"
)

// bootstrapPrefixes are legacy scheme-like prefixes found in seed lists in
// front of a bootstrap host:port. Longest first.
var bootstrapPrefixes = []string{
	"gnutella2:host:",
	"gnutella1:host:",
	"ukhl:",
	"uhc:",
}

// Normalize validates raw for service type t and returns the canonical form
// used as the duplicate key. Errors wrap ErrInvalidURL.
// Requires lock: no
func Normalize(raw string, t domain.ServiceType) (string, error) {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidURL)
	}
	if len(s) > maxURLLen {
		return "", fmt.Errorf("%w: longer than %d bytes", ErrInvalidURL, maxURLLen)
	}

	var (
		out string
		err error
	)
	switch t {
	case domain.ServiceTypeGWC:
		out, err = normalizeGWC(s)
	case domain.ServiceTypeBootstrap:
		out, err = normalizeBootstrap(s)
	case domain.ServiceTypeNull:
		out = normalizeNull(s)
	default:
		return "", fmt.Errorf("%w: unknown service type %v", ErrInvalidURL, t)
	}
	if err != nil {
		return "", err
	}
	if len(out) > maxURLLen {
		return "", fmt.Errorf("%w: longer than %d bytes", ErrInvalidURL, maxURLLen)
	}
	return out, nil
}

// normalizeNull gives a banned entry the canonical form of the service it
// blocks, so the block matches later adds of that service.
func normalizeNull(s string) string {
	if strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://") {
		if out, err := normalizeGWC(s); err == nil {
			return out
		}
		return s
	}
	if out, err := normalizeBootstrap(s); err == nil {
		return out
	}
	return s
}

func normalizeGWC(s string) (string, error) {
	u, err := url.Parse(s)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("%w: scheme %q", ErrInvalidURL, u.Scheme)
	}
	if u.Hostname() == "" {
		return "", fmt.Errorf("%w: missing host", ErrInvalidURL)
	}
	if u.User != nil {
		return "", fmt.Errorf("%w: credentials not allowed", ErrInvalidURL)
	}

	if port := u.Port(); port != "" {
		if _, err := parsePort(port); err != nil {
			return "", err
		}
		if (u.Scheme == "http" && port == "80") || (u.Scheme == "https" && port == "443") {
			u.Host = u.Hostname()
			if strings.Contains(u.Host, ":") {
				u.Host = "[" + u.Host + "]"
			}
		}
	}

	u.Fragment = ""
	u.RawFragment = ""
	if u.Path == "/" && u.RawQuery == "" {
		u.Path = ""
	}
	return u.String(), nil
}

func normalizeBootstrap(s string) (string, error) {
	for _, p := range bootstrapPrefixes {
		if strings.HasPrefix(s, p) {
			s = s[len(p):]
			break
		}
	}

	host, port, err := net.SplitHostPort(s)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if host == "" || strings.ContainsAny(host, "/?# ") {
		return "", fmt.Errorf("%w: bad host %q", ErrInvalidURL, host)
	}
	if _, err := parsePort(port); err != nil {
		return "", err
	}
	return net.JoinHostPort(host, port), nil
}

func parsePort(p string) (uint16, error) {
	n, err := strconv.Atoi(p)
	if err != nil || n < 1 || n > 65535 {
		return 0, fmt.Errorf("%w: bad port %q", ErrInvalidURL, p)
	}
	return uint16(n), nil
}
