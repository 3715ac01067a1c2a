package collector_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/cirocosta/solr-exporter/pkg/collector"
)

func TestSummary(t *testing.T) {
	s := collector.NewSummary()

	for v := 1; v <= 100; v++ {
		s.Insert(float64(v))
	}

	assert.Equal(t, uint64(100), s.Count())
	assert.Equal(t, float64(5050), s.Sum())

	quantiles := s.Quantiles()
	assert.InDelta(t, 50, quantiles[0.5], 5)
	assert.InDelta(t, 99, quantiles[0.99], 1)
	assert.InDelta(t, 100, quantiles[1.0], 1)

	for i := 0; i < 200; i++ {
		s.Insert(1000)
	}

	assert.Equal(t, float64(1000), s.Quantiles()[0.5],
		"inserting must invalidate computed quantiles")
}

func TestSummary_Empty(t *testing.T) {
	s := collector.NewSummary(
		collector.WithObjectives(map[float64]float64{0.5: 0.05}),
	)

	assert.Zero(t, s.Count())
	assert.Equal(t, map[float64]float64{0.5: 0}, s.Quantiles())
}
