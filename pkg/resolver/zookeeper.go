package resolver

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"github.com/go-zookeeper/zk"
)

const DefaultSessionTimeout = 15 * time.Second

// ZooKeeper implements Coordinator on top of a ZooKeeper ensemble.
//
type ZooKeeper struct {
	conn *zk.Conn

	// chroot is prefixed to every path we look up, allowing connection
	// strings like `zk1:2181,zk2:2181/solr`.
	//
	chroot string
}

var _ Coordinator = (*ZooKeeper)(nil)

// DialZooKeeper establishes a session with the ensemble described by
// `zkHost`.
//
// The connection is established in the background, so a failure to reach
// the ensemble shows up as ErrSessionExpired on the first lookups rather
// than here.
//
func DialZooKeeper(
	zkHost string, sessionTimeout time.Duration, log logr.Logger,
) (*ZooKeeper, error) {
	servers, chroot, err := ParseZkHost(zkHost)
	if err != nil {
		return nil, fmt.Errorf("parse zk host: %w", err)
	}

	conn, _, err := zk.Connect(servers, sessionTimeout,
		zk.WithLogger(zkLogger{log: log}),
	)
	if err != nil {
		return nil, fmt.Errorf("zk connect %v: %w", servers, err)
	}

	return &ZooKeeper{conn: conn, chroot: chroot}, nil
}

// ParseZkHost splits a ZooKeeper connection string into its servers and
// optional chroot.
//
//	zk1:2181,zk2:2181/solr -> [zk1:2181 zk2:2181], /solr
//
func ParseZkHost(zkHost string) ([]string, string, error) {
	zkHost = strings.TrimSpace(zkHost)

	hosts, chroot := zkHost, ""
	if idx := strings.Index(zkHost, "/"); idx >= 0 {
		hosts, chroot = zkHost[:idx], path.Clean(zkHost[idx:])
		if chroot == "/" {
			chroot = ""
		}
	}

	var servers []string
	for _, server := range strings.Split(hosts, ",") {
		if server = strings.TrimSpace(server); server != "" {
			servers = append(servers, server)
		}
	}

	if len(servers) == 0 {
		return nil, "", fmt.Errorf("'%s': no servers", zkHost)
	}

	return servers, chroot, nil
}

// Children implements Coordinator.
//
func (z *ZooKeeper) Children(ctx context.Context, p string) ([]string, error) {
	type result struct {
		children []string
		err      error
	}

	resC := make(chan result, 1)
	go func() {
		children, _, err := z.conn.Children(z.path(p))
		resC <- result{children, err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-resC:
		if res.err != nil {
			return nil, classify(p, res.err)
		}

		return res.children, nil
	}
}

// Data implements Coordinator.
//
func (z *ZooKeeper) Data(ctx context.Context, p string) ([]byte, error) {
	type result struct {
		data []byte
		err  error
	}

	resC := make(chan result, 1)
	go func() {
		data, _, err := z.conn.Get(z.path(p))
		resC <- result{data, err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-resC:
		if res.err != nil {
			return nil, classify(p, res.err)
		}

		return res.data, nil
	}
}

// Close terminates the session.
//
func (z *ZooKeeper) Close() error {
	z.conn.Close()
	return nil
}

func (z *ZooKeeper) path(p string) string {
	return z.chroot + p
}

func classify(p string, err error) error {
	switch {
	case errors.Is(err, zk.ErrNoNode):
		return fmt.Errorf("%s: %w: %w", p, err, ErrNoNode)
	case errors.Is(err, zk.ErrSessionExpired),
		errors.Is(err, zk.ErrConnectionClosed),
		errors.Is(err, zk.ErrNoServer):
		return fmt.Errorf("%s: %w: %w", p, err, ErrSessionExpired)
	default:
		return fmt.Errorf("%s: %w", p, err)
	}
}

// zkLogger forwards the client's chatter to logr at debug verbosity.
//
type zkLogger struct {
	log logr.Logger
}

func (l zkLogger) Printf(format string, args ...interface{}) {
	l.log.V(1).Info(fmt.Sprintf(format, args...))
}
