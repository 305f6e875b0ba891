package discovery

import (
	"strings"

	"github.com/MrSnakeDoc/discoveryd/internal/domain"
	"github.com/MrSnakeDoc/discoveryd/internal/logger"
)

// rejectDuplicate scans the registry for svc.URL. A banned match blocks svc.
// A match of the same type absorbs svc's networks and svc is rejected. A match of another type is an
// integrity violation; the existing service is kept and svc is rejected.
// URL prefix containment is only reported.
// Requires lock: yes
func (m *Manager) rejectDuplicate(svc domain.Service) bool {
	dup := false
	m.store.each(func(e *entry) bool {
		existing := &e.svc
		if existing.URL == svc.URL {
			dup = true
			if existing.Banned && existing.Type != svc.Type {
				m.log.Debug("service blocked by banned entry",
					logger.Uint32("banned_id", uint32(existing.ID)),
					logger.String("url", svc.URL),
					logger.Stringer("type", svc.Type))
				return false
			}
			if existing.Type != svc.Type {
				integrityViolation(m.log, "same url registered with another service type",
					logger.String("url", svc.URL),
					logger.Uint32("existing_id", uint32(existing.ID)),
					logger.Stringer("existing_type", existing.Type),
					logger.Stringer("new_type", svc.Type))
				return false
			}

			merged := existing.Network.Set(svc.Network)
			if merged != existing.Network {
				existing.Network = merged
				m.markDirty()
				m.events.emit(Event{Kind: EventServiceInfo, ID: existing.ID, Service: *existing})
			}
			m.log.Debug("duplicate service merged",
				logger.Uint32("id", uint32(existing.ID)),
				logger.String("url", svc.URL),
				logger.Stringer("network", existing.Network))
			return false
		}

		if existing.Type == svc.Type &&
			(strings.HasPrefix(existing.URL, svc.URL) || strings.HasPrefix(svc.URL, existing.URL)) {
			m.log.Debug("service url overlaps an existing one",
				logger.Uint32("existing_id", uint32(existing.ID)),
				logger.String("existing_url", existing.URL),
				logger.String("url", svc.URL))
		}
		return true
	})
	return dup
}
