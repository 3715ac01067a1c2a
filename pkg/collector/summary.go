package collector

import "github.com/beorn7/perks/quantile"

// defaultObjectives maps each quantile we report to its allowed error.
//
// a Summary created without `WithObjectives` reports these.
//
var defaultObjectives = map[float64]float64{
	0.50: 0.05,
	0.90: 0.01,
	0.99: 0.001,
	1.00: 0.001,
}

// Summary accumulates observations of a single round into a targeted
// quantile stream so that they can be exposed as a const summary.
//
// Not safe for concurrent use.
//
type Summary struct {
	count      uint64
	sum        float64
	objectives map[float64]float64
	quantiles  map[float64]float64

	stream   *quantile.Stream
	computed bool
}

type SummaryOption func(s *Summary)

func WithObjectives(v map[float64]float64) SummaryOption {
	return func(s *Summary) {
		s.objectives = v
	}
}

func NewSummary(opts ...SummaryOption) *Summary {
	summary := &Summary{
		objectives: defaultObjectives,
	}

	for _, opt := range opts {
		opt(summary)
	}

	summary.quantiles = make(map[float64]float64, len(summary.objectives))
	summary.stream = quantile.NewTargeted(summary.objectives)

	return summary
}

func (s *Summary) Insert(v float64) {
	s.sum += v
	s.count++
	s.stream.Insert(v)
	s.computed = false
}

func (s *Summary) Count() uint64 {
	return s.count
}

func (s *Summary) Sum() float64 {
	return s.sum
}

// Quantiles queries the stream for every objective. Before any observation
// every quantile is zero.
//
func (s *Summary) Quantiles() map[float64]float64 {
	if s.computed {
		return s.quantiles
	}

	for phi := range s.objectives {
		if s.count == 0 {
			s.quantiles[phi] = 0
			continue
		}

		s.quantiles[phi] = s.stream.Query(phi)
	}

	s.computed = true

	return s.quantiles
}
