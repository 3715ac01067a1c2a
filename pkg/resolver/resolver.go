package resolver

import (
	"context"
	"fmt"
	"net/url"
	"strings"
)

// Role identifies how a target takes part in the topology it was resolved
// from.
//
type Role string

const (
	RoleStandalone  Role = "standalone"
	RoleClusterNode Role = "cluster-node"
)

// Mode is the topology mode a resolver was configured for.
//
type Mode string

const (
	ModeStandalone Mode = "standalone"
	ModeCluster    Mode = "cluster"
)

// Target is the identity of one Solr node to be scraped.
//
// Address is the node's base url (e.g., `http://10.0.0.1:8983/solr`) and is
// what every other component keys results by.
//
type Target struct {
	Address string
	Role    Role
}

func (t Target) String() string {
	return t.Address
}

// Resolver knows how to come up with the current set of targets.
//
// Implementations must be safe to be called from a single goroutine at a
// time; the scheduler never resolves concurrently.
//
type Resolver interface {
	Resolve(ctx context.Context) ([]Target, error)
}

// ResolutionError indicates that the authoritative source of the topology
// could not be reached (after whatever retry budget it has).
//
type ResolutionError struct {
	Mode Mode
	Err  error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("resolve %s targets: %v", e.Mode, e.Err)
}

func (e *ResolutionError) Unwrap() error {
	return e.Err
}

// Static resolves to a single, fixed Solr node.
//
type Static struct {
	target Target
}

var _ Resolver = (*Static)(nil)

// NewStatic validates `baseURL` and returns a resolver that always yields it
// as the only target.
//
func NewStatic(baseURL string) (*Static, error) {
	addr, err := NormalizeBaseURL(baseURL)
	if err != nil {
		return nil, fmt.Errorf("normalize base url: %w", err)
	}

	return &Static{
		target: Target{Address: addr, Role: RoleStandalone},
	}, nil
}

// Resolve implements Resolver.
//
func (s *Static) Resolve(_ context.Context) ([]Target, error) {
	return []Target{s.target}, nil
}

// NormalizeBaseURL makes sure `raw` is an absolute http(s) url and strips
// any trailing slash so that paths can be appended to it.
//
func NormalizeBaseURL(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("parse '%s': %w", raw, err)
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("'%s': scheme must be http or https", raw)
	}

	if u.Host == "" {
		return "", fmt.Errorf("'%s': missing host", raw)
	}

	u.Path = strings.TrimRight(u.Path, "/")
	u.RawQuery = ""
	u.Fragment = ""

	return u.String(), nil
}
