package resolver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-logr/logr"
)

const (
	// LiveNodesPath is the znode under which every live Solr node keeps an
	// ephemeral child named after itself.
	//
	LiveNodesPath = "/live_nodes"

	// ClusterPropsPath holds cluster-wide properties such as `urlScheme`.
	//
	ClusterPropsPath = "/clusterprops.json"

	DefaultMaxAttempts = 10
	DefaultRetryDelay  = 1 * time.Second
)

var (
	// ErrSessionExpired classifies transient coordination failures (session
	// expiry, connection loss) that are worth retrying.
	//
	ErrSessionExpired = errors.New("coordination session expired")

	// ErrNoNode is a definitive "does not exist" answer. It is never
	// retried.
	//
	ErrNoNode = errors.New("node does not exist")
)

// Coordinator is the subset of a coordination service client (ZooKeeper)
// that cluster resolution needs.
//
// Implementations are expected to classify their errors by wrapping
// ErrSessionExpired or ErrNoNode so that retries can be decided upon.
//
type Coordinator interface {
	Children(ctx context.Context, path string) ([]string, error)
	Data(ctx context.Context, path string) ([]byte, error)
}

// Cluster resolves the live nodes of a SolrCloud cluster.
//
type Cluster struct {
	coordinator Coordinator

	// maxAttempts is the total number of times a fetch is tried when the
	// coordinator keeps reporting an expired session.
	//
	maxAttempts int

	// retryDelay is the fixed amount of time waited between attempts.
	//
	retryDelay time.Duration

	log logr.Logger
}

var _ Resolver = (*Cluster)(nil)

// ClusterOption mutates the cluster resolver to override default behavior.
//
type ClusterOption func(c *Cluster)

// WithRetryPolicy overrides the default attempt budget (10) and the delay
// between attempts (1s).
//
func WithRetryPolicy(attempts int, delay time.Duration) ClusterOption {
	return func(c *Cluster) {
		c.maxAttempts = attempts
		c.retryDelay = delay
	}
}

// WithClusterLogger sets the logger used to report retries.
//
func WithClusterLogger(v logr.Logger) ClusterOption {
	return func(c *Cluster) {
		c.log = v
	}
}

func NewCluster(coordinator Coordinator, opts ...ClusterOption) *Cluster {
	c := &Cluster{
		coordinator: coordinator,
		maxAttempts: DefaultMaxAttempts,
		retryDelay:  DefaultRetryDelay,
		log:         logr.Discard(),
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.maxAttempts < 1 {
		c.maxAttempts = 1
	}

	return c
}

// Resolve implements Resolver by listing the cluster's live nodes.
//
func (c *Cluster) Resolve(ctx context.Context) ([]Target, error) {
	scheme, err := c.urlScheme(ctx)
	if err != nil {
		return nil, &ResolutionError{Mode: ModeCluster, Err: err}
	}

	var nodes []string
	err = c.fetch(ctx, LiveNodesPath, func(ctx context.Context) error {
		var err error

		nodes, err = c.coordinator.Children(ctx, LiveNodesPath)
		return err
	})
	if err != nil {
		return nil, &ResolutionError{
			Mode: ModeCluster,
			Err:  fmt.Errorf("live nodes: %w", err),
		}
	}

	seen := make(map[string]struct{}, len(nodes))
	targets := make([]Target, 0, len(nodes))

	for _, node := range nodes {
		addr, err := NodeNameToBaseURL(node, scheme)
		if err != nil {
			c.log.Error(err, "skipping live node", "node", node)
			continue
		}

		if _, found := seen[addr]; found {
			continue
		}
		seen[addr] = struct{}{}

		targets = append(targets, Target{
			Address: addr,
			Role:    RoleClusterNode,
		})
	}

	sort.Slice(targets, func(i, j int) bool {
		return targets[i].Address < targets[j].Address
	})

	return targets, nil
}

// urlScheme figures out whether nodes should be reached through http or
// https. A cluster without properties is plain http.
//
func (c *Cluster) urlScheme(ctx context.Context) (string, error) {
	var data []byte

	err := c.fetch(ctx, ClusterPropsPath, func(ctx context.Context) error {
		var err error

		data, err = c.coordinator.Data(ctx, ClusterPropsPath)
		return err
	})
	if err != nil {
		if errors.Is(err, ErrNoNode) {
			return "http", nil
		}

		return "", fmt.Errorf("cluster props: %w", err)
	}

	props := struct {
		URLScheme string `json:"urlScheme"`
	}{}

	if len(data) > 0 {
		if err := json.Unmarshal(data, &props); err != nil {
			return "", fmt.Errorf("unmarshal cluster props: %w", err)
		}
	}

	switch strings.ToLower(props.URLScheme) {
	case "https":
		return "https", nil
	default:
		return "http", nil
	}
}

// fetch runs `op` against the coordinator, retrying on expired sessions with
// a constant delay until the attempt budget runs out.
//
// A missing node is returned right away, and so is a cancelled context:
// being interrupted aborts the whole resolution attempt.
//
func (c *Cluster) fetch(
	ctx context.Context, path string, op func(ctx context.Context) error,
) error {
	attempt := 0

	policy := backoff.WithContext(
		backoff.WithMaxRetries(
			backoff.NewConstantBackOff(c.retryDelay),
			uint64(c.maxAttempts-1),
		),
		ctx,
	)

	err := backoff.RetryNotify(func() error {
		attempt++

		if err := ctx.Err(); err != nil {
			return backoff.Permanent(fmt.Errorf("interrupted: %w", err))
		}

		err := op(ctx)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, ErrSessionExpired):
			return err
		default:
			return backoff.Permanent(err)
		}
	}, policy, func(err error, wait time.Duration) {
		c.log.V(1).Info("retrying coordination fetch",
			"path", path,
			"attempt", attempt,
			"wait", wait,
			"err", err.Error(),
		)
	})
	if err != nil {
		if errors.Is(err, ErrSessionExpired) {
			return fmt.Errorf("giving up on '%s' after %d attempts: %w",
				path, attempt, err)
		}

		return fmt.Errorf("fetch '%s': %w", path, err)
	}

	return nil
}

// NodeNameToBaseURL converts a live node name (`host:port_context`, with the
// context url-encoded) into the node's base url.
//
//	10.0.0.1:8983_solr -> http://10.0.0.1:8983/solr
//
func NodeNameToBaseURL(node, scheme string) (string, error) {
	hostPort, hostContext := node, ""

	if idx := strings.Index(node, "_"); idx >= 0 {
		hostPort = node[:idx]

		var err error
		hostContext, err = url.QueryUnescape(node[idx+1:])
		if err != nil {
			return "", fmt.Errorf("unescape context of '%s': %w", node, err)
		}
	}

	if hostPort == "" {
		return "", fmt.Errorf("node name '%s': missing host", node)
	}

	raw := scheme + "://" + hostPort
	if hostContext = strings.Trim(hostContext, "/"); hostContext != "" {
		raw += "/" + hostContext
	}

	return NormalizeBaseURL(raw)
}
