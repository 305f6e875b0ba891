package discovery

import (
	"context"
	"net/http"

	"github.com/MrSnakeDoc/discoveryd/internal/domain"
)

// Op is the kind of request sent to a service.
type Op uint8

const (
	OpQuery Op = iota
	OpUpdate
)

func (o Op) String() string {
	if o == OpUpdate {
		return "update"
	}
	return "query"
}

// Request is what a driver receives for one query or update.
type Request struct {
	// Service is a snapshot taken when the request was launched.
	Service domain.Service

	// Network is the network the request is made for. It is always a
	// single network supported by the service.
	Network domain.NetworkType

	// Client is borrowed from the shared NetAccess for the duration of the call.
	Client *http.Client

	// AdvertiseAddr is our own reachable address, used by updates.
	AdvertiseAddr string

	ClientID      string
	ClientVersion string
}

// Result is what a successful request produced.
type Result struct {
	Hosts []domain.Host

	// Services are further service URLs announced by the remote end. They are
	// added with the same type and network as the queried service.
	Services []string
}

// Driver implements the wire protocol of one service type.
//
// Drivers must honor ctx cancellation: the manager cancels it when the
// service is removed or the manager stops.
type Driver interface {
	Query(ctx context.Context, req Request) (Result, error)
	Update(ctx context.Context, req Request) (Result, error)
}

// Drivers is the dispatch table keyed by service type.
type Drivers map[domain.ServiceType]Driver

func (d Drivers) lookup(t domain.ServiceType) Driver {
	if drv, ok := d[t]; ok && drv != nil {
		return drv
	}
	return nullDriver{}
}

// nullDriver backs ServiceTypeNull and any type without a registered driver.
type nullDriver struct{}

func (nullDriver) Query(context.Context, Request) (Result, error)  { return Result{}, ErrUnsupported }
func (nullDriver) Update(context.Context, Request) (Result, error) { return Result{}, ErrUnsupported }

// HostSink receives hosts learned from discovery services.
type HostSink interface {
	AddHosts(ctx context.Context, network domain.NetworkType, hosts []domain.Host) error
}
