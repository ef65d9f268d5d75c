package gossip

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"reflect"
	"testing"
	"time"

	"dnspd/internal/cluster"
	"dnspd/internal/transport"
)

func testEngine(t *testing.T, ch *transport.Channel, name string, seeds []string) *Engine {
	t.Helper()
	_, key, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	addr := name + ":gossip"
	store := cluster.NewStore(cluster.NodeID{Name: name, Incarnation: 1, GossipAddr: addr})
	e, err := NewEngine(Config{
		ClusterID:      "test-cluster",
		GossipInterval: 10 * time.Millisecond,
		Fanout:         3,
		SuspectTimeout: time.Hour,
		DeadTimeout:    time.Hour,
		Seeds:          seeds,
	}, store, ch, key, addr)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	return e
}

func startEngines(t *testing.T, engines ...*Engine) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	for _, e := range engines {
		e := e
		go func() { _ = e.Run(ctx) }()
	}
	return cancel
}

func waitConverged(t *testing.T, timeout time.Duration, engines ...*Engine) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		want := engines[0].Store().Snapshot()
		same := true
		for _, e := range engines[1:] {
			if !reflect.DeepEqual(want, e.Store().Snapshot()) {
				same = false
				break
			}
		}
		if same && len(want) == len(engines) {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	for i, e := range engines {
		t.Logf("engine %d snapshot: %+v", i, e.Store().Snapshot())
	}
	t.Fatal("stores did not converge")
}

func TestEngine_TwoNodeConvergence(t *testing.T) {
	ch := transport.NewChannel()
	a := testEngine(t, ch, "a", nil)
	b := testEngine(t, ch, "b", []string{"a:gossip"})

	a.Store().SetLocal("pubkey", "aaa")
	b.Store().SetLocal("pubkey", "bbb")

	cancel := startEngines(t, a, b)
	defer cancel()

	waitConverged(t, 5*time.Second, a, b)

	snap, ok := a.Store().Snapshot().Find("b")
	if !ok || snap.Entries["pubkey"].Value != "bbb" {
		t.Fatalf("a did not learn b's state: %+v", snap)
	}
}

func TestEngine_FiveNodeConvergenceThroughSingleSeed(t *testing.T) {
	ch := transport.NewChannel()
	seed := testEngine(t, ch, "seed", nil)
	engines := []*Engine{seed}
	for i := 0; i < 4; i++ {
		e := testEngine(t, ch, fmt.Sprintf("n%d", i), []string{"seed:gossip"})
		e.Store().SetLocal("pubkey", fmt.Sprintf("pk-%d", i))
		engines = append(engines, e)
	}
	seed.Store().SetLocal("pubkey", "pk-seed")

	cancel := startEngines(t, engines...)
	defer cancel()

	// Membership spreads transitively: nodes only ever dialed the seed but
	// must still learn about each other.
	waitConverged(t, 10*time.Second, engines...)
}

func TestEngine_ConvergesOnLossyTransport(t *testing.T) {
	ch := transport.NewChannel()
	ch.DropRate = 0.3
	a := testEngine(t, ch, "a", nil)
	b := testEngine(t, ch, "b", []string{"a:gossip"})
	a.Store().SetLocal("k", "va")
	b.Store().SetLocal("k", "vb")

	cancel := startEngines(t, a, b)
	defer cancel()

	waitConverged(t, 15*time.Second, a, b)
}

func TestEngine_LateWriteStillPropagates(t *testing.T) {
	ch := transport.NewChannel()
	a := testEngine(t, ch, "a", nil)
	b := testEngine(t, ch, "b", []string{"a:gossip"})
	a.Store().SetLocal("k", "initial")
	b.Store().SetLocal("k", "b-initial")

	cancel := startEngines(t, a, b)
	defer cancel()
	waitConverged(t, 5*time.Second, a, b)

	a.Store().SetLocal("k", "updated")
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if snap, ok := b.Store().Snapshot().Find("a"); ok && snap.Entries["k"].Value == "updated" {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("late local write never reached peer")
}

func TestEngine_LargeStateConvergesAcrossDatagrams(t *testing.T) {
	ch := transport.NewChannel()
	a := testEngine(t, ch, "a", nil)
	b := testEngine(t, ch, "b", []string{"a:gossip"})

	// Well past a single datagram once encoded; the delta has to be cut
	// and shipped across several rounds.
	value := make([]byte, 1024)
	for i := range value {
		value[i] = 'x'
	}
	for i := 0; i < 100; i++ {
		a.Store().SetLocal(fmt.Sprintf("key-%03d", i), string(value))
	}
	b.Store().SetLocal("pubkey", "bbb")

	cancel := startEngines(t, a, b)
	defer cancel()

	waitConverged(t, 15*time.Second, a, b)

	snap, ok := b.Store().Snapshot().Find("a")
	if !ok || len(snap.Entries) != 100 {
		t.Fatalf("b holds %d of a's entries", len(snap.Entries))
	}
}

func TestEngine_IgnoresForeignCluster(t *testing.T) {
	ch := transport.NewChannel()
	a := testEngine(t, ch, "a", nil)

	_, key, _ := ed25519.GenerateKey(rand.Reader)
	foreignStore := cluster.NewStore(cluster.NodeID{Name: "x", Incarnation: 1, GossipAddr: "x:gossip"})
	foreign, err := NewEngine(Config{
		ClusterID:      "other-cluster",
		GossipInterval: 10 * time.Millisecond,
		Seeds:          []string{"a:gossip"},
	}, foreignStore, ch, key, "x:gossip")
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	foreign.Store().SetLocal("k", "poison")

	cancel := startEngines(t, a, foreign)
	defer cancel()

	time.Sleep(300 * time.Millisecond)
	if _, ok := a.Store().Snapshot().Find("x"); ok {
		t.Fatal("state leaked across cluster ids")
	}
	if got := len(a.Membership().Records()); got != 0 {
		t.Fatalf("membership leaked across cluster ids: %d records", got)
	}
}

func TestEngine_ChangeNotification(t *testing.T) {
	ch := transport.NewChannel()
	a := testEngine(t, ch, "a", nil)
	b := testEngine(t, ch, "b", []string{"a:gossip"})
	b.Store().SetLocal("k", "v")

	cancel := startEngines(t, a, b)
	defer cancel()

	select {
	case <-a.Changes():
	case <-time.After(5 * time.Second):
		t.Fatal("no change notification after remote merge")
	}
}
