package redis

import (
	"fmt"
	"strconv"

	"github.com/MrSnakeDoc/discoveryd/internal/domain"
)

const (
	// KeyPrefixService is the prefix for per-service hashes of JSON blobs
	KeyPrefixService = "discovery:service:"
	// KeyPrefixHosts is the prefix for per-network host sorted sets
	KeyPrefixHosts = "discovery:hosts:"
	// KeyAllServices is the set of all mirrored service IDs
	KeyAllServices = "discovery:services:all"
)

// ServiceKey returns the Redis key for a service by ID
func ServiceKey(id domain.ServiceID) string {
	return KeyPrefixService + strconv.FormatUint(uint64(id), 10)
}

// HostsKey returns the sorted set holding the hosts of a single network
func HostsKey(n domain.NetworkType) string {
	return KeyPrefixHosts + n.String()
}

// AllServicesKey returns the key for the set of all service IDs
func AllServicesKey() string {
	return KeyAllServices
}

// ExtractServiceID extracts the service ID from a Redis key
func ExtractServiceID(key string) (domain.ServiceID, error) {
	if len(key) <= len(KeyPrefixService) || key[:len(KeyPrefixService)] != KeyPrefixService {
		return 0, fmt.Errorf("invalid service key: %s", key)
	}
	id, err := strconv.ParseUint(key[len(KeyPrefixService):], 10, 32)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid service key: %s", key)
	}
	return domain.ServiceID(id), nil
}
