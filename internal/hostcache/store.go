// Package hostcache keeps the peer addresses learned from discovery services
// in a bbolt database, one pair of buckets per network.
package hostcache

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/MrSnakeDoc/discoveryd/internal/domain"
)

const (
	bByAddr = "hosts_by_addr:"
	bByTS   = "hosts_by_ts:"

	defaultTO = 2 * time.Second
)

// Store is a bbolt-backed host cache. It implements discovery.HostSink.
type Store struct {
	db *bolt.DB

	// MaxPerNetwork caps the hosts kept per network, oldest evicted first.
	// 0 disables the cap.
	MaxPerNetwork int
}

type record struct {
	Addr     string `json:"addr"`
	LastSeen int64  `json:"last_seen"`
}

// Open opens (or creates) the database at path.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: defaultTO})
	if err != nil {
		return nil, err
	}
	return &Store{db: db, MaxPerNetwork: 1000}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func buckets(n domain.NetworkType) (byAddr, byTS []byte) {
	name := n.String()
	return []byte(bByAddr + name), []byte(bByTS + name)
}

// AddHosts records hosts for network n. A host already known keeps the most
// recent LastSeen.
func (s *Store) AddHosts(_ context.Context, n domain.NetworkType, hosts []domain.Host) error {
	if len(hosts) == 0 {
		return nil
	}
	addrName, tsName := buckets(n)

	return s.db.Update(func(tx *bolt.Tx) error {
		byAddr, err := tx.CreateBucketIfNotExists(addrName)
		if err != nil {
			return err
		}
		byTS, err := tx.CreateBucketIfNotExists(tsName)
		if err != nil {
			return err
		}

		for _, h := range hosts {
			if h.Addr == "" {
				continue
			}
			seen := h.LastSeen.Unix()
			if h.LastSeen.IsZero() {
				seen = time.Now().Unix()
			}

			if raw := byAddr.Get([]byte(h.Addr)); raw != nil {
				var old record
				if err := json.Unmarshal(raw, &old); err == nil {
					if old.LastSeen >= seen {
						continue
					}
					if err := byTS.Delete(tsKey(old.LastSeen, old.Addr)); err != nil {
						return err
					}
				}
			}

			val, err := json.Marshal(record{Addr: h.Addr, LastSeen: seen})
			if err != nil {
				return err
			}
			if err := byAddr.Put([]byte(h.Addr), val); err != nil {
				return err
			}
			if err := byTS.Put(tsKey(seen, h.Addr), nil); err != nil {
				return err
			}
		}

		if s.MaxPerNetwork > 0 {
			return evictOldest(byAddr, byTS, keyCount(byAddr)-s.MaxPerNetwork)
		}
		return nil
	})
}

func evictOldest(byAddr, byTS *bolt.Bucket, n int) error {
	if n <= 0 {
		return nil
	}
	var victims [][]byte
	c := byTS.Cursor()
	for k, _ := c.First(); k != nil && len(victims) < n; k, _ = c.Next() {
		victims = append(victims, append([]byte(nil), k...))
	}
	for _, k := range victims {
		_, addr := splitTSKey(k)
		if err := byTS.Delete(k); err != nil {
			return err
		}
		if err := byAddr.Delete([]byte(addr)); err != nil {
			return err
		}
	}
	return nil
}

// Hosts returns up to limit hosts of network n, most recently seen first.
func (s *Store) Hosts(n domain.NetworkType, limit int) ([]domain.Host, error) {
	if limit <= 0 {
		limit = 100
	}
	addrName, tsName := buckets(n)
	out := make([]domain.Host, 0, min(limit, 256))

	err := s.db.View(func(tx *bolt.Tx) error {
		byAddr, byTS := tx.Bucket(addrName), tx.Bucket(tsName)
		if byAddr == nil || byTS == nil {
			return nil
		}
		c := byTS.Cursor()
		for k, _ := c.Last(); k != nil && len(out) < limit; k, _ = c.Prev() {
			ts, addr := splitTSKey(k)
			if addr == "" || byAddr.Get([]byte(addr)) == nil {
				continue
			}
			out = append(out, domain.Host{Addr: addr, LastSeen: time.Unix(ts, 0)})
		}
		return nil
	})
	return out, err
}

// Count returns the number of hosts known for network n.
func (s *Store) Count(n domain.NetworkType) (int, error) {
	addrName, _ := buckets(n)
	count := 0
	err := s.db.View(func(tx *bolt.Tx) error {
		if b := tx.Bucket(addrName); b != nil {
			count = keyCount(b)
		}
		return nil
	})
	return count, err
}

// Prune deletes hosts of every network last seen before cutoff and returns
// how many were removed.
func (s *Store) Prune(cutoff time.Time) (int, error) {
	removed := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		for _, n := range domain.NetworkAll.Networks() {
			addrName, tsName := buckets(n)
			byAddr, byTS := tx.Bucket(addrName), tx.Bucket(tsName)
			if byAddr == nil || byTS == nil {
				continue
			}

			var stale [][]byte
			c := byTS.Cursor()
			for k, _ := c.First(); k != nil; k, _ = c.Next() {
				ts, _ := splitTSKey(k)
				if ts >= cutoff.Unix() {
					break
				}
				stale = append(stale, append([]byte(nil), k...))
			}
			for _, k := range stale {
				_, addr := splitTSKey(k)
				if err := byTS.Delete(k); err != nil {
					return err
				}
				if err := byAddr.Delete([]byte(addr)); err != nil {
					return err
				}
				removed++
			}
		}
		return nil
	})
	return removed, err
}

// keyCount walks b; Stats does not see writes pending in the current tx.
func keyCount(b *bolt.Bucket) int {
	n := 0
	c := b.Cursor()
	for k, _ := c.First(); k != nil; k, _ = c.Next() {
		n++
	}
	return n
}

func tsKey(ts int64, addr string) []byte {
	// big-endian timestamp for ordering; 0x00 separator before the address.
	b := make([]byte, 8+1+len(addr))
	binary.BigEndian.PutUint64(b[:8], uint64(ts))
	b[8] = 0
	copy(b[9:], addr)
	return b
}

func splitTSKey(k []byte) (int64, string) {
	if len(k) < 9 {
		return 0, ""
	}
	return int64(binary.BigEndian.Uint64(k[:8])), string(k[9:])
}
