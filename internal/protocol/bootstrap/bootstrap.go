// Package bootstrap resolves plain host:port bootstrap endpoints into peer
// addresses.
package bootstrap

import (
	"context"
	"fmt"
	"net"
	"net/netip"

	"github.com/benbjohnson/clock"

	"github.com/MrSnakeDoc/discoveryd/internal/discovery"
	"github.com/MrSnakeDoc/discoveryd/internal/domain"
)

// Resolver is the subset of *net.Resolver used by the driver.
type Resolver interface {
	LookupHost(ctx context.Context, host string) ([]string, error)
}

// Driver implements discovery.Driver for bootstrap endpoints. Queries
// resolve the endpoint name; updates are not part of the protocol.
type Driver struct {
	resolver Resolver
	clock    clock.Clock
}

func New(r Resolver, clk clock.Clock) *Driver {
	if r == nil {
		r = net.DefaultResolver
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Driver{resolver: r, clock: clk}
}

var _ discovery.Driver = (*Driver)(nil)

func (d *Driver) Query(ctx context.Context, req discovery.Request) (discovery.Result, error) {
	host, port, err := net.SplitHostPort(req.Service.URL)
	if err != nil {
		return discovery.Result{}, fmt.Errorf("bad bootstrap address %q: %w", req.Service.URL, err)
	}

	now := domain.TruncateSeconds(d.clock.Now())
	if addr, err := netip.ParseAddr(host); err == nil {
		return discovery.Result{Hosts: []domain.Host{{Addr: net.JoinHostPort(addr.String(), port), LastSeen: now}}}, nil
	}

	addrs, err := d.resolver.LookupHost(ctx, host)
	if err != nil {
		return discovery.Result{}, fmt.Errorf("resolve %s: %w", host, err)
	}

	var res discovery.Result
	for _, a := range addrs {
		ip, err := netip.ParseAddr(a)
		if err != nil || ip.IsUnspecified() || ip.IsLoopback() {
			continue
		}
		res.Hosts = append(res.Hosts, domain.Host{Addr: net.JoinHostPort(ip.String(), port), LastSeen: now})
	}
	if len(res.Hosts) == 0 {
		return res, fmt.Errorf("resolve %s: no usable address", host)
	}
	return res, nil
}

func (d *Driver) Update(context.Context, discovery.Request) (discovery.Result, error) {
	return discovery.Result{}, discovery.ErrUnsupported
}
