package deps

import (
	"time"

	"github.com/benbjohnson/clock"

	"github.com/MrSnakeDoc/discoveryd/internal/domain"
	"github.com/MrSnakeDoc/discoveryd/internal/logger"
	"github.com/MrSnakeDoc/discoveryd/internal/metrics"
)

// Registry is the part of the discovery manager the admin API drives.
type Registry interface {
	IsReady() bool
	Services() []domain.Service
	Get(id domain.ServiceID) (domain.Service, bool)
	Add(url string, t domain.ServiceType, n domain.NetworkType, rating uint8) domain.ServiceID
	Remove(id domain.ServiceID) bool
	Count(filter domain.NetworkType) int
	Save(force bool) bool

	QueryService(id domain.ServiceID) error
	UpdateService(id domain.ServiceID) error
	QueryNetwork(n domain.NetworkType) error
	UpdateNetwork(n domain.NetworkType) error
}

// HostLister reads the host cache.
type HostLister interface {
	Hosts(n domain.NetworkType, limit int) ([]domain.Host, error)
	Count(n domain.NetworkType) (int, error)
}

type Deps struct {
	Logger    logger.Logger
	StartTime time.Time
	Clock     clock.Clock // defaults to the wall clock
	Metrics   *metrics.Metrics

	Registry  Registry
	Hosts     HostLister // nil disables /api/hosts
	MaxRating uint8      // rating used when an added service does not give one

	AllowedCIDRS   []string // restricts /api and /metrics, empty allows everyone
	TrustProxy     bool     // true if running behind a trusted reverse proxy
	RateLimitBurst int      // per-IP burst on mutating routes
	RateLimitPerMn int      // per-IP refill per minute on mutating routes
}

// Now returns the current time from the configured clock.
func (d Deps) Now() time.Time {
	if d.Clock == nil {
		return time.Now()
	}
	return d.Clock.Now()
}
