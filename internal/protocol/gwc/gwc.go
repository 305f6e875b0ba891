// Package gwc speaks the GWebCache v2 protocol: a plain-text HTTP exchange
// where caches return peer addresses (H lines) and other caches (U lines).
package gwc

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/MrSnakeDoc/discoveryd/internal/discovery"
	"github.com/MrSnakeDoc/discoveryd/internal/domain"
	"github.com/MrSnakeDoc/discoveryd/internal/version"
)

const (
	// maxBody bounds what we read from a cache reply.
	maxBody = 64 << 10

	// maxHosts and maxURLs bound what one reply may contribute.
	maxHosts = 100
	maxURLs  = 20
)

// Driver implements discovery.Driver for web caches.
type Driver struct {
	clock clock.Clock
}

func New(clk clock.Clock) *Driver {
	if clk == nil {
		clk = clock.New()
	}
	return &Driver{clock: clk}
}

var _ discovery.Driver = (*Driver)(nil)

// Query asks the cache for hosts and caches of req.Network.
func (d *Driver) Query(ctx context.Context, req discovery.Request) (discovery.Result, error) {
	network, err := netParam(req.Network)
	if err != nil {
		return discovery.Result{}, err
	}
	params := url.Values{}
	params.Set("get", "1")
	params.Set("net", network)

	lines, err := d.fetch(ctx, req, params)
	if err != nil {
		return discovery.Result{}, err
	}
	return d.parseQuery(lines)
}

// Update pushes our address to the cache.
func (d *Driver) Update(ctx context.Context, req discovery.Request) (discovery.Result, error) {
	if req.AdvertiseAddr == "" {
		return discovery.Result{}, fmt.Errorf("%w: no advertise address", discovery.ErrUnsupported)
	}
	network, err := netParam(req.Network)
	if err != nil {
		return discovery.Result{}, err
	}
	params := url.Values{}
	params.Set("update", "1")
	params.Set("net", network)
	params.Set("ip", req.AdvertiseAddr)

	lines, err := d.fetch(ctx, req, params)
	if err != nil {
		return discovery.Result{}, err
	}
	return discovery.Result{}, parseUpdate(lines)
}

func netParam(n domain.NetworkType) (string, error) {
	switch n {
	case domain.NetworkG2:
		return "gnutella2", nil
	case domain.NetworkG1:
		return "gnutella", nil
	default:
		return "", fmt.Errorf("%w: network %v", discovery.ErrUnsupported, n)
	}
}

func (d *Driver) fetch(ctx context.Context, req discovery.Request, params url.Values) ([]string, error) {
	u, err := url.Parse(req.Service.URL)
	if err != nil {
		return nil, fmt.Errorf("parse cache url: %w", err)
	}
	q := u.Query()
	for k, v := range params {
		q[k] = v
	}
	q.Set("client", clientID(req.ClientID))
	q.Set("version", clientVersion(req.ClientVersion))
	u.RawQuery = q.Encode()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("User-Agent", "discoveryd/"+version.Version)

	client := req.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("cache request: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	switch {
	case resp.StatusCode == http.StatusGone || resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("%w: http %d", discovery.ErrBanned, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("cache replied http %d", resp.StatusCode)
	}

	var lines []string
	sc := bufio.NewScanner(io.LimitReader(resp.Body, maxBody))
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			lines = append(lines, line)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read cache reply: %w", err)
	}
	return lines, nil
}

func (d *Driver) parseQuery(lines []string) (discovery.Result, error) {
	var res discovery.Result
	now := d.clock.Now()

	for _, line := range lines {
		fields := strings.Split(line, "|")
		switch strings.ToLower(fields[0]) {
		case "h":
			if len(fields) < 2 || len(res.Hosts) >= maxHosts {
				continue
			}
			addr, ok := hostAddr(fields[1])
			if !ok {
				continue
			}
			seen := now
			if len(fields) > 2 {
				if age, err := strconv.Atoi(fields[2]); err == nil && age >= 0 {
					seen = now.Add(-time.Duration(age) * time.Second)
				}
			}
			res.Hosts = append(res.Hosts, domain.Host{Addr: addr, LastSeen: domain.TruncateSeconds(seen)})
		case "u":
			if len(fields) < 2 || len(res.Services) >= maxURLs {
				continue
			}
			res.Services = append(res.Services, fields[1])
		case "i":
			if len(fields) > 1 && strings.EqualFold(fields[1], "nonet") {
				return res, fmt.Errorf("%w: cache does not serve this network", discovery.ErrUnsupported)
			}
		default:
			if isError(line) {
				return res, fmt.Errorf("cache error: %s", line)
			}
		}
	}

	if len(res.Hosts) == 0 && len(res.Services) == 0 {
		return res, errors.New("empty cache reply")
	}
	return res, nil
}

func parseUpdate(lines []string) error {
	for _, line := range lines {
		fields := strings.Split(line, "|")
		if len(fields) >= 3 && strings.EqualFold(fields[0], "i") && strings.EqualFold(fields[1], "update") {
			switch strings.ToUpper(fields[2]) {
			case "OK":
				return nil
			case "WARNING":
				return fmt.Errorf("cache warning: %s", strings.Join(fields[3:], "|"))
			}
		}
		if isError(line) {
			return fmt.Errorf("cache error: %s", line)
		}
	}
	return errors.New("no update acknowledgement")
}

func isError(line string) bool {
	return strings.HasPrefix(strings.ToUpper(line), "ERROR")
}

// hostAddr accepts ip:port with a routable port.
func hostAddr(s string) (string, bool) {
	host, port, err := net.SplitHostPort(strings.TrimSpace(s))
	if err != nil {
		return "", false
	}
	ip := net.ParseIP(host)
	if ip == nil || ip.IsUnspecified() || ip.IsLoopback() {
		return "", false
	}
	p, err := strconv.Atoi(port)
	if err != nil || p < 1 || p > 65535 {
		return "", false
	}
	return net.JoinHostPort(ip.String(), port), true
}

func clientID(s string) string {
	if s == "" {
		return "DSCD"
	}
	return s
}

func clientVersion(s string) string {
	if s == "" {
		return version.Version
	}
	return s
}
