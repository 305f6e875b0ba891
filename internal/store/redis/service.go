// Package redis mirrors the registry and the learned hosts into Redis so
// other processes can read them without touching the data files.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/MrSnakeDoc/discoveryd/internal/domain"
)

const (
	// DefaultServiceTTL bounds how long a mirrored service outlives the
	// process that wrote it.
	DefaultServiceTTL = 48 * time.Hour
	// DefaultMaxHosts caps each per-network host set.
	DefaultMaxHosts = 1000
)

// Store handles Redis operations for services and hosts
type Store struct {
	client   *redis.Client
	maxHosts int64
}

// NewStore creates a new Redis store
func NewStore(client *redis.Client) *Store {
	return &Store{
		client:   client,
		maxHosts: DefaultMaxHosts,
	}
}

// SaveService stores a service snapshot in Redis
func (s *Store) SaveService(ctx context.Context, service domain.Service) error {
	data, err := json.Marshal(service)
	if err != nil {
		return fmt.Errorf("failed to marshal service: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, ServiceKey(service.ID), data, DefaultServiceTTL)
	pipe.SAdd(ctx, AllServicesKey(), uint32(service.ID))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save service %d: %w", service.ID, err)
	}
	return nil
}

// GetService retrieves a service from Redis by ID
func (s *Store) GetService(ctx context.Context, id domain.ServiceID) (domain.Service, error) {
	data, err := s.client.Get(ctx, ServiceKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.Service{}, fmt.Errorf("service not found: %d", id)
		}
		return domain.Service{}, fmt.Errorf("failed to get service: %w", err)
	}
	return decodeService(data)
}

// GetAllServices retrieves all mirrored services. Entries whose blob expired
// are skipped.
func (s *Store) GetAllServices(ctx context.Context) ([]domain.Service, error) {
	ids, err := s.client.SMembers(ctx, AllServicesKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get service IDs: %w", err)
	}
	if len(ids) == 0 {
		return []domain.Service{}, nil
	}

	keys := make([]string, 0, len(ids))
	for _, raw := range ids {
		id, err := strconv.ParseUint(raw, 10, 32)
		if err != nil {
			continue
		}
		keys = append(keys, ServiceKey(domain.ServiceID(id)))
	}

	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get services: %w", err)
	}

	services := make([]domain.Service, 0, len(vals))
	for _, v := range vals {
		str, ok := v.(string)
		if !ok {
			continue
		}
		svc, err := decodeService([]byte(str))
		if err != nil {
			continue
		}
		services = append(services, svc)
	}
	return services, nil
}

// DeleteService removes a service from Redis
func (s *Store) DeleteService(ctx context.Context, id domain.ServiceID) error {
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, ServiceKey(id))
	pipe.SRem(ctx, AllServicesKey(), uint32(id))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to delete service %d: %w", id, err)
	}
	return nil
}

// SaveServicesMany replaces the mirror with services (bulk operation)
func (s *Store) SaveServicesMany(ctx context.Context, services []domain.Service) error {
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, AllServicesKey())

	for _, service := range services {
		data, err := json.Marshal(service)
		if err != nil {
			return fmt.Errorf("failed to marshal service %d: %w", service.ID, err)
		}
		pipe.Set(ctx, ServiceKey(service.ID), data, DefaultServiceTTL)
		pipe.SAdd(ctx, AllServicesKey(), uint32(service.ID))
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save services: %w", err)
	}
	return nil
}

// AddHosts records hosts in the network's sorted set, scored by last sighting,
// then trims the set to the newest entries. It implements discovery.HostSink.
func (s *Store) AddHosts(ctx context.Context, n domain.NetworkType, hosts []domain.Host) error {
	members := hostMembers(hosts)
	if len(members) == 0 {
		return nil
	}

	key := HostsKey(n)
	pipe := s.client.TxPipeline()
	pipe.ZAddArgs(ctx, key, redis.ZAddArgs{GT: true, Members: members})
	if s.maxHosts > 0 {
		pipe.ZRemRangeByRank(ctx, key, 0, -s.maxHosts-1)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to add hosts for %s: %w", n, err)
	}
	return nil
}

// Hosts returns up to limit hosts of network n, newest first.
func (s *Store) Hosts(ctx context.Context, n domain.NetworkType, limit int) ([]domain.Host, error) {
	if limit <= 0 {
		limit = 100
	}
	zs, err := s.client.ZRevRangeWithScores(ctx, HostsKey(n), 0, int64(limit)-1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get hosts for %s: %w", n, err)
	}
	out := make([]domain.Host, 0, len(zs))
	for _, z := range zs {
		addr, ok := z.Member.(string)
		if !ok {
			continue
		}
		out = append(out, domain.Host{Addr: addr, LastSeen: time.Unix(int64(z.Score), 0)})
	}
	return out, nil
}

func hostMembers(hosts []domain.Host) []redis.Z {
	members := make([]redis.Z, 0, len(hosts))
	for _, h := range hosts {
		if h.Addr == "" {
			continue
		}
		seen := h.LastSeen
		if seen.IsZero() {
			seen = time.Now()
		}
		members = append(members, redis.Z{Score: float64(seen.Unix()), Member: h.Addr})
	}
	return members
}

func decodeService(data []byte) (domain.Service, error) {
	var service domain.Service
	if err := json.Unmarshal(data, &service); err != nil {
		return domain.Service{}, fmt.Errorf("failed to unmarshal service: %w", err)
	}
	return service, nil
}
