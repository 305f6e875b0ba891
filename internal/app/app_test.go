package app

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/MrSnakeDoc/discoveryd/internal/discovery"
	"github.com/MrSnakeDoc/discoveryd/internal/domain"
)

func TestLoadSummaryCountsWorkingOnPolledNetworks(t *testing.T) {
	m, err := discovery.New(discovery.Options{DataDir: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { m.Stop() })
	require.NoError(t, m.Start())
	require.NoError(t, m.Barrier(t.Context()))

	m.Add("http://g2.example.com", domain.ServiceTypeGWC, domain.NetworkG2, 3)
	m.Add("http://dead.example.com", domain.ServiceTypeGWC, domain.NetworkG2, 0)
	m.Add("http://g1.example.com", domain.ServiceTypeGWC, domain.NetworkG1, 3)
	m.Add("http://spam.example.com", domain.ServiceTypeNull, domain.NetworkNull, 0)

	enc := zapcore.NewMapObjectEncoder()
	for _, f := range loadSummary(m, domain.NetworkG2) {
		f.AddTo(enc)
	}

	assert.EqualValues(t, 4, enc.Fields["services"])
	assert.EqualValues(t, 1, enc.Fields["working"])
}
