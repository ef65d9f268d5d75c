package seeds

import (
	"context"
	"fmt"
	"path"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
)

// Etcd resolves peers registered under a shared key prefix and lets the
// node register itself under a lease so stale registrations expire on
// their own.
type Etcd struct {
	Endpoints   []string
	Prefix      string
	DialTimeout time.Duration
	LeaseTTL    int64
}

func (*Etcd) Name() string { return "etcd" }

func (e *Etcd) dial() (*clientv3.Client, error) {
	timeout := e.DialTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return clientv3.New(clientv3.Config{
		Endpoints:   e.Endpoints,
		DialTimeout: timeout,
	})
}

func (e *Etcd) Fetch(ctx context.Context) ([]string, error) {
	cli, err := e.dial()
	if err != nil {
		return nil, fmt.Errorf("etcd dial: %w", err)
	}
	defer cli.Close()

	resp, err := cli.Get(ctx, e.Prefix, clientv3.WithPrefix())
	if err != nil {
		return nil, fmt.Errorf("etcd get %s: %w", e.Prefix, err)
	}
	addrs := make([]string, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		addrs = append(addrs, string(kv.Value))
	}
	return addrs, nil
}

// Announce registers this node's gossip address under the prefix. The
// keepalive runs until ctx is cancelled; the lease then lapses and the
// registration disappears.
func (e *Etcd) Announce(ctx context.Context, name, addr string) error {
	cli, err := e.dial()
	if err != nil {
		return fmt.Errorf("etcd dial: %w", err)
	}

	ttl := e.LeaseTTL
	if ttl <= 0 {
		ttl = 30
	}
	lease, err := cli.Grant(ctx, ttl)
	if err != nil {
		cli.Close()
		return fmt.Errorf("etcd lease grant: %w", err)
	}
	key := path.Join(e.Prefix, name)
	if _, err := cli.Put(ctx, key, addr, clientv3.WithLease(lease.ID)); err != nil {
		cli.Close()
		return fmt.Errorf("etcd put %s: %w", key, err)
	}
	ch, err := cli.KeepAlive(ctx, lease.ID)
	if err != nil {
		cli.Close()
		return fmt.Errorf("etcd keepalive: %w", err)
	}

	go func() {
		defer cli.Close()
		for range ch {
		}
	}()
	return nil
}
