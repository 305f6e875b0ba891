package discovery

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrSnakeDoc/discoveryd/internal/domain"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		typ     domain.ServiceType
		want    string
		wantErr bool
	}{
		{name: "gwc lowercased and trimmed", raw: "  HTTP://Cache.Example.COM/gwc.php ", typ: domain.ServiceTypeGWC, want: "http://cache.example.com/gwc.php"},
		{name: "gwc default port dropped", raw: "http://cache.example.com:80/gwc", typ: domain.ServiceTypeGWC, want: "http://cache.example.com/gwc"},
		{name: "gwc https default port dropped", raw: "https://cache.example.com:443/", typ: domain.ServiceTypeGWC, want: "https://cache.example.com"},
		{name: "gwc custom port kept", raw: "http://cache.example.com:8080/", typ: domain.ServiceTypeGWC, want: "http://cache.example.com:8080"},
		{name: "gwc fragment dropped", raw: "http://cache.example.com/gwc#top", typ: domain.ServiceTypeGWC, want: "http://cache.example.com/gwc"},
		{name: "gwc query kept", raw: "http://cache.example.com/?net=gnutella2", typ: domain.ServiceTypeGWC, want: "http://cache.example.com/?net=gnutella2"},
		{name: "gwc missing scheme", raw: "cache.example.com/gwc", typ: domain.ServiceTypeGWC, wantErr: true},
		{name: "gwc ftp scheme", raw: "ftp://cache.example.com/", typ: domain.ServiceTypeGWC, wantErr: true},
		{name: "gwc bad port", raw: "http://cache.example.com:99999/", typ: domain.ServiceTypeGWC, wantErr: true},
		{name: "gwc credentials", raw: "http://user:pw@cache.example.com/", typ: domain.ServiceTypeGWC, wantErr: true},
		{name: "bootstrap plain", raw: "Boot.Example.com:6346", typ: domain.ServiceTypeBootstrap, want: "boot.example.com:6346"},
		{name: "bootstrap uhc prefix", raw: "uhc:boot.example.com:6346", typ: domain.ServiceTypeBootstrap, want: "boot.example.com:6346"},
		{name: "bootstrap ukhl prefix", raw: "ukhl:10.0.0.1:6346", typ: domain.ServiceTypeBootstrap, want: "10.0.0.1:6346"},
		{name: "bootstrap gnutella2 prefix", raw: "gnutella2:host:boot.example.com:6346", typ: domain.ServiceTypeBootstrap, want: "boot.example.com:6346"},
		{name: "bootstrap ipv6", raw: "[::1]:6346", typ: domain.ServiceTypeBootstrap, want: "[::1]:6346"},
		{name: "bootstrap missing port", raw: "boot.example.com", typ: domain.ServiceTypeBootstrap, wantErr: true},
		{name: "bootstrap port zero", raw: "boot.example.com:0", typ: domain.ServiceTypeBootstrap, wantErr: true},
		{name: "bootstrap path", raw: "boot.example.com/x:6346", typ: domain.ServiceTypeBootstrap, wantErr: true},
		{name: "gwc too long", raw: "http://b.example.com/" + strings.Repeat("x", maxURLLen), typ: domain.ServiceTypeGWC, wantErr: true},
		{name: "bootstrap too long", raw: strings.Repeat("b", maxURLLen) + ".example.com:6346", typ: domain.ServiceTypeBootstrap, wantErr: true},
		{name: "null accepts anything", raw: " Whatever ", typ: domain.ServiceTypeNull, want: "whatever"},
		{name: "null gwc url takes gwc form", raw: "HTTP://Blocked.Example.com:80/", typ: domain.ServiceTypeNull, want: "http://blocked.example.com"},
		{name: "null bootstrap takes bootstrap form", raw: "uhc:Boot.Example.com:6346", typ: domain.ServiceTypeNull, want: "boot.example.com:6346"},
		{name: "null bad http url kept raw", raw: "http://user:pw@spam.example.com/", typ: domain.ServiceTypeNull, want: "http://user:pw@spam.example.com/"},
		{name: "null too long", raw: strings.Repeat("n", maxURLLen+1), typ: domain.ServiceTypeNull, wantErr: true},
		{name: "empty", raw: "   ", typ: domain.ServiceTypeNull, wantErr: true},
		{name: "unknown type", raw: "http://a.example.com", typ: domain.ServiceType(9), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Normalize(tt.raw, tt.typ)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidURL)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
