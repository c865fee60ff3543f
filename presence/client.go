package presence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/zero-day-ai/gami/config"
)

// ErrClosed is returned by every method after Close.
var ErrClosed = errors.New("presence client is closed")

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// Client announces agents and watches for their departure.
//
// Thread-safety: All methods are safe for concurrent use.
type Client struct {
	client    *clientv3.Client
	namespace string
	ttl       int
	logger    *slog.Logger

	mu         sync.RWMutex
	leases     map[string]clientv3.LeaseID // key: agent ID
	cancelFns  map[string]context.CancelFunc
	wg         sync.WaitGroup
	closed     bool
	closedChan chan struct{}
}

// NewClient connects to the etcd cluster in cfg and verifies connectivity.
// The client must be closed with Close to stop keepalive and watch
// goroutines.
func NewClient(cfg *config.PresenceConfig, opts ...Option) (*Client, error) {
	if !cfg.Enabled() {
		return nil, fmt.Errorf("presence endpoints cannot be empty")
	}

	clientCfg := clientv3.Config{
		Endpoints:   cfg.Endpoints,
		DialTimeout: 5 * time.Second,
	}

	tlsConfig, err := clientTLS(cfg.TLS)
	if err != nil {
		return nil, fmt.Errorf("failed to configure TLS: %w", err)
	}
	clientCfg.TLS = tlsConfig

	cli, err := clientv3.New(clientCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create etcd client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if _, err := cli.Get(ctx, "health-check"); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		_ = cli.Close()
		return nil, fmt.Errorf("etcd health check failed: %w", err)
	}

	c := &Client{
		client:     cli,
		namespace:  cfg.GetNamespace(),
		ttl:        cfg.GetTTL(),
		leases:     make(map[string]clientv3.LeaseID),
		cancelFns:  make(map[string]context.CancelFunc),
		closedChan: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	return c, nil
}

// Announce writes info under a lease and keeps the lease alive until
// Withdraw or Close. Announcing the same agent again replaces its lease.
func (c *Client) Announce(ctx context.Context, info Info) error {
	if info.AgentID == "" {
		return fmt.Errorf("agent ID cannot be empty")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}

	if cancelFn, exists := c.cancelFns[info.AgentID]; exists {
		cancelFn()
		delete(c.cancelFns, info.AgentID)
	}

	leaseResp, err := c.client.Grant(ctx, int64(c.ttl))
	if err != nil {
		return fmt.Errorf("failed to create lease: %w", err)
	}

	if info.StartedAt.IsZero() {
		info.StartedAt = time.Now().UTC()
	}
	data, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("failed to marshal agent info: %w", err)
	}

	key := agentKey(c.namespace, info.AgentID)
	if _, err := c.client.Put(ctx, key, string(data), clientv3.WithLease(leaseResp.ID)); err != nil {
		return fmt.Errorf("failed to announce agent: %w", err)
	}

	c.leases[info.AgentID] = leaseResp.ID

	keepaliveCtx, cancel := context.WithCancel(context.Background())
	c.cancelFns[info.AgentID] = cancel

	c.wg.Add(1)
	go c.keepalive(keepaliveCtx, leaseResp.ID, info.AgentID)

	c.logger.Info("announced agent", "agent_id", info.AgentID, "key", key, "ttl", c.ttl)
	return nil
}

// Withdraw revokes the agent's lease, which deletes its key. Withdrawing an
// agent that was never announced is a no-op.
func (c *Client) Withdraw(ctx context.Context, agentID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}

	if cancelFn, exists := c.cancelFns[agentID]; exists {
		cancelFn()
		delete(c.cancelFns, agentID)
	}

	leaseID, exists := c.leases[agentID]
	if !exists {
		return nil
	}

	if _, err := c.client.Revoke(ctx, leaseID); err != nil {
		return fmt.Errorf("failed to revoke lease: %w", err)
	}
	delete(c.leases, agentID)

	c.logger.Info("withdrew agent", "agent_id", agentID)
	return nil
}

// Agents returns the agents currently announced, in key order.
func (c *Client) Agents(ctx context.Context) ([]Info, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return nil, ErrClosed
	}

	agents, _, err := c.list(ctx)
	return agents, err
}

func (c *Client) list(ctx context.Context) ([]Info, int64, error) {
	resp, err := c.client.Get(ctx, agentsPrefix(c.namespace), clientv3.WithPrefix(), clientv3.WithSort(clientv3.SortByKey, clientv3.SortAscend))
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list agents: %w", err)
	}

	agents := make([]Info, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var info Info
		if err := json.Unmarshal(kv.Value, &info); err != nil {
			c.logger.Debug("skipping malformed agent entry", "key", string(kv.Key), "error", err)
			continue
		}
		agents = append(agents, info)
	}
	return agents, resp.Header.Revision, nil
}

// Watch calls handler with EventJoined for every agent present now, then
// with every later arrival and departure until ctx is cancelled or the
// client is closed. Watch returns once the initial state is delivered.
func (c *Client) Watch(ctx context.Context, handler Handler) error {
	c.mu.RLock()
	if c.closed {
		c.mu.RUnlock()
		return ErrClosed
	}

	agents, rev, err := c.list(ctx)
	if err != nil {
		c.mu.RUnlock()
		return err
	}

	prefix := agentsPrefix(c.namespace)
	watchChan := c.client.Watch(ctx, prefix, clientv3.WithPrefix(), clientv3.WithRev(rev+1))
	c.wg.Add(1)
	c.mu.RUnlock()

	// handlers may call back into the client, so they run without the lock
	for _, info := range agents {
		handler(Event{Type: EventJoined, AgentID: info.AgentID})
	}

	go func() {
		defer c.wg.Done()

		for {
			select {
			case <-ctx.Done():
				return
			case <-c.closedChan:
				return
			case watchResp, ok := <-watchChan:
				if !ok {
					return
				}
				if err := watchResp.Err(); err != nil {
					c.logger.Warn("presence watch failed", "prefix", prefix, "error", err)
					return
				}
				for _, ev := range handleEvents(prefix, watchResp.Events) {
					c.logger.Debug("agent presence changed", "agent_id", ev.AgentID, "event", ev.Type.String())
					handler(ev)
				}
			}
		}
	}()

	return nil
}

// Close stops every keepalive and watch goroutine and closes the etcd
// connection. Leases are not revoked; they expire after their TTL.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true

	for _, cancel := range c.cancelFns {
		cancel()
	}
	c.cancelFns = make(map[string]context.CancelFunc)

	close(c.closedChan)
	c.mu.Unlock()

	c.wg.Wait()

	return c.client.Close()
}

// keepalive renews the lease every TTL/3 until cancelled or the lease is
// lost.
func (c *Client) keepalive(ctx context.Context, leaseID clientv3.LeaseID, agentID string) {
	defer c.wg.Done()

	interval := time.Duration(c.ttl) * time.Second / 3
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.closedChan:
			return
		case <-ticker.C:
			if _, err := c.client.KeepAliveOnce(context.Background(), leaseID); err != nil {
				c.logger.Warn("agent lease lost", "agent_id", agentID, "error", err)
				c.mu.Lock()
				if c.leases[agentID] == leaseID {
					delete(c.leases, agentID)
					delete(c.cancelFns, agentID)
				}
				c.mu.Unlock()
				return
			}
		}
	}
}

// Ping checks that the etcd cluster answers a read.
func (c *Client) Ping(ctx context.Context) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return ErrClosed
	}
	if _, err := c.client.Get(ctx, "health-check"); err != nil {
		return fmt.Errorf("etcd health check failed: %w", err)
	}
	return nil
}
