package domain

import (
	"fmt"
	"strings"
)

// NetworkType is a bit-set of the peer networks a discovery service supports.
// The zero value (NetworkNull) means "no network" and is also used as the
// "no filter" value by counting operations.
type NetworkType uint16

const NetworkNull NetworkType = 0

const (
	NetworkG2 NetworkType = 1 << iota
	NetworkG1
	NetworkED2K
)

// NetworkAll is the union of every network known to this build.
const NetworkAll = NetworkG2 | NetworkG1 | NetworkED2K

var networkNames = []struct {
	bit  NetworkType
	name string
}{
	{NetworkG2, "g2"},
	{NetworkG1, "g1"},
	{NetworkED2K, "ed2k"},
}

// IsNull reports whether no network bit is set.
func (n NetworkType) IsNull() bool { return n == NetworkNull }

// IsNetwork reports whether n and other share at least one network.
func (n NetworkType) IsNetwork(other NetworkType) bool { return n&other != 0 }

// Set returns the union of n and other.
func (n NetworkType) Set(other NetworkType) NetworkType { return n | other }

// Networks splits n into its single-bit members, in declaration order.
func (n NetworkType) Networks() []NetworkType {
	out := make([]NetworkType, 0, len(networkNames))
	for _, nn := range networkNames {
		if n&nn.bit != 0 {
			out = append(out, nn.bit)
		}
	}
	return out
}

func (n NetworkType) String() string {
	if n.IsNull() {
		return "null"
	}
	parts := make([]string, 0, len(networkNames))
	for _, nn := range networkNames {
		if n&nn.bit != 0 {
			parts = append(parts, nn.name)
		}
	}
	if unknown := n &^ NetworkAll; unknown != 0 {
		parts = append(parts, fmt.Sprintf("0x%x", uint16(unknown)))
	}
	return strings.Join(parts, "|")
}

// ParseNetworkType parses a list of network names separated by ',' or '|'.
// "gnutella2" and "gnutella" are accepted as aliases of g2 and g1.
func ParseNetworkType(s string) (NetworkType, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" || s == "null" {
		return NetworkNull, nil
	}

	var out NetworkType
	for _, raw := range strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == '|' }) {
		switch strings.TrimSpace(raw) {
		case "g2", "gnutella2":
			out |= NetworkG2
		case "g1", "gnutella", "gnutella1":
			out |= NetworkG1
		case "ed2k", "edonkey":
			out |= NetworkED2K
		case "":
		default:
			return NetworkNull, fmt.Errorf("unknown network %q", raw)
		}
	}
	return out, nil
}

func (n NetworkType) MarshalText() ([]byte, error) { return []byte(n.String()), nil }

func (n *NetworkType) UnmarshalText(b []byte) error {
	v, err := ParseNetworkType(string(b))
	if err != nil {
		return err
	}
	*n = v
	return nil
}
