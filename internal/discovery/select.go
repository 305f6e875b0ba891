package discovery

import (
	"github.com/MrSnakeDoc/discoveryd/internal/domain"
	"github.com/MrSnakeDoc/discoveryd/internal/logger"
)

// selectForNetwork picks a service for network n with probability
// proportional to its rating. Banned and running services are skipped, as
// are services used within the access throttle. Zero-rated services whose
// revival interval elapsed are revived first, whatever their network.
// Returns nil when nothing is eligible.
// Requires lock: yes
func (m *Manager) selectForNetwork(n domain.NetworkType) *entry {
	now := m.clock.Now()

	var (
		candidates []*entry
		total      int
	)
	m.store.each(func(e *entry) bool {
		s := &e.svc
		if s.Banned {
			return true
		}

		if s.Rating == 0 && !s.LastQueried.Add(m.opts.RevivalInterval).After(now) {
			s.Rating = m.opts.MaxRating
			s.ZeroRevivals++
			m.markDirty()
			m.metrics.Revival()
			m.log.Debug("service revived",
				logger.Uint32("id", uint32(s.ID)),
				logger.String("url", s.URL),
				logger.Uint32("zero_revivals", s.ZeroRevivals))
		}

		if !s.Network.IsNetwork(n) || s.Rating == 0 || s.Running {
			return true
		}
		if s.LastQueried.Add(m.opts.AccessThrottle).After(now) {
			return true
		}

		candidates = append(candidates, e)
		total += int(s.Rating)
		return true
	})

	if len(candidates) == 0 {
		return nil
	}

	draw := m.rng.IntN(total) + 1
	for _, e := range candidates {
		r := int(e.svc.Rating)
		if draw <= r {
			return e
		}
		draw -= r
	}
	return candidates[len(candidates)-1]
}
