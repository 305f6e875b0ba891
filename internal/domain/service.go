package domain

import (
	"fmt"
	"strings"
	"time"
)

// ServiceID identifies a service inside the registry. 0 means "unassigned".
type ServiceID uint32

// ServiceType is the closed set of discovery service variants.
type ServiceType uint8

const (
	// ServiceTypeNull is a placeholder for permanently banned services of unknown type.
	ServiceTypeNull ServiceType = iota
	// ServiceTypeGWC is a GWebCache style HTTP service.
	ServiceTypeGWC
	// ServiceTypeBootstrap is a plain host:port bootstrap endpoint.
	ServiceTypeBootstrap
)

func (t ServiceType) String() string {
	switch t {
	case ServiceTypeNull:
		return "null"
	case ServiceTypeGWC:
		return "gwc"
	case ServiceTypeBootstrap:
		return "bootstrap"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(t))
	}
}

// Valid reports whether t is one of the known variants.
func (t ServiceType) Valid() bool { return t <= ServiceTypeBootstrap }

// ParseServiceType parses the textual form produced by String.
func ParseServiceType(s string) (ServiceType, error) {
	switch strings.TrimSpace(strings.ToLower(s)) {
	case "null", "banned":
		return ServiceTypeNull, nil
	case "gwc", "webcache":
		return ServiceTypeGWC, nil
	case "bootstrap", "uhc":
		return ServiceTypeBootstrap, nil
	default:
		return ServiceTypeNull, fmt.Errorf("unknown service type %q", s)
	}
}

func (t ServiceType) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

func (t *ServiceType) UnmarshalText(b []byte) error {
	v, err := ParseServiceType(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// Service is one remote discovery endpoint.
//
// Values of this type handed out by the registry are snapshots: mutating them
// never affects the registry. The registry is the only owner of the live record.
type Service struct {
	// ─────────────────────────────
	// Identity
	// ─────────────────────────────

	ID ServiceID `json:"id"`

	// URL is the normalized address, also used as the duplicate key.
	URL string `json:"url"`

	Type ServiceType `json:"type"`

	// ─────────────────────────────
	// Selection policy
	// ─────────────────────────────

	Network NetworkType `json:"network"`

	// Rating is a weight in [0, max rating]. 0 means inactive until revived.
	Rating uint8 `json:"rating"`

	// Banned services are never selected nor counted as working.
	Banned bool `json:"banned"`

	// Running is true while a query or update is in flight. Not persisted.
	Running bool `json:"running"`

	// LastQueried drives throttling and revival. Second precision.
	LastQueried time.Time `json:"last_queried"`

	ZeroRevivals uint32 `json:"zero_revivals"`

	// ─────────────────────────────
	// Statistics
	// ─────────────────────────────

	LastSuccess time.Time `json:"last_success"`

	// LastUpdated is the last successful update push (gwc only).
	LastUpdated time.Time `json:"last_updated"`

	// Failures counts consecutive failed requests.
	Failures uint32 `json:"failures"`

	// Hosts is the total number of hosts learned from this service.
	Hosts uint32 `json:"hosts"`
}

// NewService builds an unassigned service. Ratings above maxRating are clamped
// and null services are always created banned with rating 0.
func NewService(url string, t ServiceType, n NetworkType, rating, maxRating uint8) Service {
	if rating > maxRating {
		rating = maxRating
	}
	s := Service{
		URL:     url,
		Type:    t,
		Network: n,
		Rating:  rating,
	}
	if t == ServiceTypeNull {
		s.Banned = true
		s.Rating = 0
	}
	return s
}

// Equal reports whether s and o describe the same registered service: same id,
// type and URL. Mutable policy fields (rating, timestamps) are ignored.
func (s Service) Equal(o Service) bool {
	return s.ID == o.ID && s.Type == o.Type && s.URL == o.URL
}

// Working reports whether the service counts as usable for network n.
func (s Service) Working(n NetworkType) bool {
	return !s.Banned && s.Rating > 0 && s.Network.IsNetwork(n)
}

// Seed is a service definition coming from a seed list or catalog.
type Seed struct {
	URL     string
	Type    ServiceType
	Network NetworkType
	Rating  uint8
}

// Host is a peer address learned from a discovery service.
type Host struct {
	Addr     string    `json:"addr"`
	LastSeen time.Time `json:"last_seen"`
}

// TruncateSeconds drops sub-second precision, matching the on-disk format.
func TruncateSeconds(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	return time.Unix(t.Unix(), 0)
}
