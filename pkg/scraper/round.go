package scraper

import (
	"time"

	dto "github.com/prometheus/client_model/go"

	"github.com/cirocosta/solr-exporter/pkg/resolver"
)

// Status summarizes how a round went across all of its targets.
//
type Status string

const (
	// StatusComplete means that every target was scraped successfully.
	//
	StatusComplete Status = "COMPLETE"

	// StatusPartial means that some, but not all, targets failed.
	//
	StatusPartial Status = "PARTIAL"

	// StatusFailed means that no target could be scraped (which includes
	// having no targets at all).
	//
	StatusFailed Status = "FAILED"
)

// Statuses lists every status a round can end up with.
//
var Statuses = []Status{StatusComplete, StatusPartial, StatusFailed}

// NodeInfo carries the string-valued facts a node reports about itself.
//
type NodeInfo struct {
	Mode          string
	Node          string
	SolrVersion   string
	LuceneVersion string
	JVMVersion    string
}

// TargetResult is the outcome of scraping a single target during a round.
//
// Either Err is set, or Families (keyed by metric name) and Info are.
//
type TargetResult struct {
	Target   resolver.Target
	Families map[string]*dto.MetricFamily
	Info     NodeInfo
	Duration time.Duration
	Err      *TargetError
}

// OK tells whether the target was scraped successfully.
//
func (r *TargetResult) OK() bool {
	return r.Err == nil
}

// Round is the result of one collection across every resolved target.
//
// A Round is never modified after NewRound returns; consumers may share it
// freely across goroutines.
//
type Round struct {
	ID        uint64
	StartedAt time.Time
	EndedAt   time.Time
	Status    Status

	// Results is keyed by target address.
	//
	Results map[string]*TargetResult
}

// NewRound builds a round out of per-target results, deriving its status.
//
func NewRound(
	id uint64, startedAt, endedAt time.Time, results []*TargetResult,
) *Round {
	byAddress := make(map[string]*TargetResult, len(results))
	for _, res := range results {
		byAddress[res.Target.Address] = res
	}

	round := &Round{
		ID:        id,
		StartedAt: startedAt,
		EndedAt:   endedAt,
		Results:   byAddress,
	}
	round.Status = DeriveStatus(round.Succeeded(), len(byAddress))

	return round
}

// DeriveStatus maps the number of successful targets out of `total` to the
// status of a round.
//
func DeriveStatus(succeeded, total int) Status {
	switch {
	case succeeded == 0:
		return StatusFailed
	case succeeded == total:
		return StatusComplete
	default:
		return StatusPartial
	}
}

// Duration is how long the round took from start to finish.
//
func (r *Round) Duration() time.Duration {
	return r.EndedAt.Sub(r.StartedAt)
}

// Succeeded counts the targets that were scraped successfully.
//
func (r *Round) Succeeded() int {
	n := 0
	for _, res := range r.Results {
		if res.OK() {
			n++
		}
	}

	return n
}

// Failed counts the targets that could not be scraped.
//
func (r *Round) Failed() int {
	return len(r.Results) - r.Succeeded()
}
