package daemon

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap/zaptest"

	"github.com/mschirtzinger/graphsync/internal/errors"
	"github.com/mschirtzinger/graphsync/internal/graph/db"
	"github.com/mschirtzinger/graphsync/internal/graph/notify"
	"github.com/mschirtzinger/graphsync/internal/graph/schema"
	"github.com/mschirtzinger/graphsync/internal/graph/store"
	"github.com/mschirtzinger/graphsync/internal/graph/tracker"
	"github.com/mschirtzinger/graphsync/internal/metrics"
)

type harness struct {
	root    string
	cache   *db.DB
	tracker *tracker.Tracker
	store   *store.Store
	watcher *Watcher
	events  <-chan notify.Event
	metrics *metrics.Metrics
}

func setupWatcher(t *testing.T) *harness {
	t.Helper()
	root, nodesDir, linksDir := setupDirs(t)

	cache, err := db.Open(db.MemoryPath)
	if err != nil {
		t.Fatalf("db.Open() failed: %v", err)
	}
	t.Cleanup(func() { cache.Close() })

	tr := tracker.NewWithConfig(tracker.Config{Grace: time.Second, Expiry: 2 * time.Second})
	bus := notify.NewBus()
	events, cancel := bus.Subscribe(64)
	t.Cleanup(cancel)
	m := metrics.New(prometheus.NewRegistry())

	w, err := New(Options{
		Cache:   cache,
		Tracker: tr,
		Bus:     bus,
		Logger:  zaptest.NewLogger(t),
		Metrics: m,
		Config:  Config{StabilityThreshold: 50 * time.Millisecond, PollInterval: 10 * time.Millisecond},
	})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	if err := w.Start(nodesDir, linksDir); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	t.Cleanup(func() { w.Stop() })

	return &harness{
		root:    root,
		cache:   cache,
		tracker: tr,
		store:   store.New(root, store.WithMarker(tr)),
		watcher: w,
		events:  events,
		metrics: m,
	}
}

func (h *harness) writeFile(t *testing.T, kind schema.Kind, name string, e schema.Entity) string {
	t.Helper()
	data, err := schema.Marshal(e)
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(h.root, kind.Dir(), name)
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("Failed to write %s: %v", name, err)
	}
	return path
}

func (h *harness) indexed(path string) bool {
	h.watcher.mu.Lock()
	defer h.watcher.mu.Unlock()
	_, ok := h.watcher.index[path]
	return ok
}

func waitEvent(t *testing.T, events <-chan notify.Event) notify.Event {
	t.Helper()
	select {
	case e := <-events:
		return e
	case <-time.After(3 * time.Second):
		t.Fatal("Timeout waiting for notification")
	}
	return notify.Event{}
}

func expectNoEvent(t *testing.T, events <-chan notify.Event, wait time.Duration) {
	t.Helper()
	select {
	case e := <-events:
		t.Fatalf("unexpected notification: %+v", e)
	case <-time.After(wait):
	}
}

func newNode(id, label string) *schema.Node {
	return &schema.Node{ID: id, Label: label, CreatedAt: time.Now().UTC()}
}

func TestNew_RequiresCache(t *testing.T) {
	if _, err := New(Options{}); err == nil {
		t.Error("New() without a cache should fail")
	}
}

func TestWatcher_ExternalCreateAndUpdate(t *testing.T) {
	h := setupWatcher(t)
	ctx := context.Background()

	n := newNode("node_ext", "Typed by hand")
	h.writeFile(t, schema.KindNode, "node_ext.json", n)

	e := waitEvent(t, h.events)
	if e.Action != notify.ActionAdded || e.ID != "node_ext" || e.Origin != notify.OriginExternal {
		t.Fatalf("unexpected event: %+v", e)
	}
	if _, err := h.cache.GetNode(ctx, "node_ext"); err != nil {
		t.Fatalf("node not cached: %v", err)
	}

	n.Label = "Edited by hand"
	h.writeFile(t, schema.KindNode, "node_ext.json", n)

	e = waitEvent(t, h.events)
	if e.Action != notify.ActionUpdated {
		t.Errorf("expected updated, got %s", e.Action)
	}
	got, err := h.cache.GetNode(ctx, "node_ext")
	if err != nil {
		t.Fatal(err)
	}
	if got.Label != "Edited by hand" {
		t.Errorf("cached label = %q", got.Label)
	}
}

func TestWatcher_OwnWriteIsIgnored(t *testing.T) {
	h := setupWatcher(t)

	if err := h.store.SaveNode(newNode("node_own", "Mine")); err != nil {
		t.Fatalf("SaveNode() failed: %v", err)
	}
	expectNoEvent(t, h.events, 400*time.Millisecond)

	if _, err := h.cache.GetNode(context.Background(), "node_own"); !errors.IsKind(err, errors.KindNotFound) {
		t.Errorf("own write must not reach the cache through the watcher, got %v", err)
	}
}

func TestWatcher_OwnDeleteIsIgnored(t *testing.T) {
	h := setupWatcher(t)
	n := newNode("node_gone", "Gone")
	h.writeFile(t, schema.KindNode, "node_gone.json", n)
	waitEvent(t, h.events)

	if err := h.store.Delete(schema.KindNode, "node_gone"); err != nil {
		t.Fatalf("Delete() failed: %v", err)
	}
	expectNoEvent(t, h.events, 400*time.Millisecond)
}

func TestWatcher_ExternalDeleteCascades(t *testing.T) {
	h := setupWatcher(t)
	ctx := context.Background()

	nodes := []*schema.Node{newNode("node_a", "A"), newNode("node_b", "B")}
	links := []*schema.Link{{ID: "link_ab", SourceID: "node_a", TargetID: "node_b", CreatedAt: time.Now()}}
	if _, err := h.cache.PopulateBulk(ctx, nodes, links); err != nil {
		t.Fatal(err)
	}
	for _, n := range nodes {
		if err := h.store.SaveNode(n); err != nil {
			t.Fatal(err)
		}
	}
	// Let the own-write marks expire before deleting by hand.
	time.Sleep(1100 * time.Millisecond)
	drain(h.events)

	if err := os.Remove(filepath.Join(h.root, "nodes", "node_a.json")); err != nil {
		t.Fatal(err)
	}

	got := map[string]notify.Event{}
	for i := 0; i < 2; i++ {
		e := waitEvent(t, h.events)
		got[e.ID] = e
	}
	if e := got["node_a"]; e.Action != notify.ActionDeleted || e.Kind != schema.KindNode {
		t.Errorf("missing node delete, got %+v", got)
	}
	if e := got["link_ab"]; e.Action != notify.ActionDeleted || e.Kind != schema.KindLink {
		t.Errorf("missing cascaded link delete, got %+v", got)
	}

	counts, err := h.cache.Counts(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if counts.Nodes != 1 || counts.Links != 0 {
		t.Errorf("Counts() = %+v, want 1 node, 0 links", counts)
	}
}

func TestWatcher_MisnamedFileIsSkipped(t *testing.T) {
	h := setupWatcher(t)

	// The filename does not match the id inside.
	h.writeFile(t, schema.KindNode, "node_handmade.json", newNode("node_real", "Real"))
	expectNoEvent(t, h.events, 300*time.Millisecond)

	if _, err := h.cache.GetNode(context.Background(), "node_real"); !errors.IsKind(err, errors.KindNotFound) {
		t.Errorf("misnamed file reached the cache: %v", err)
	}
}

func TestWatcher_OwnDeleteForgetsIndexEntry(t *testing.T) {
	h := setupWatcher(t)

	path := h.writeFile(t, schema.KindNode, "node_tracked.json", newNode("node_tracked", "Tracked"))
	waitEvent(t, h.events)
	if !h.indexed(path) {
		t.Fatalf("%s not indexed after an external create", path)
	}

	if err := h.store.Delete(schema.KindNode, "node_tracked"); err != nil {
		t.Fatalf("Delete() failed: %v", err)
	}
	expectNoEvent(t, h.events, 400*time.Millisecond)
	if h.indexed(path) {
		t.Error("index still holds a file this process deleted")
	}
}

func TestWatcher_SeedIndex(t *testing.T) {
	h := setupWatcher(t)
	ctx := context.Background()

	if err := h.cache.PutNode(ctx, newNode("node_seeded", "Seeded")); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(h.root, "nodes", "custom_name.json")
	if err := os.WriteFile(path, []byte("{}"), 0644); err != nil {
		t.Fatal(err)
	}
	// The bad file produces no event; wait for it to be processed.
	expectNoEvent(t, h.events, 200*time.Millisecond)

	h.watcher.SeedIndex(map[string]string{path: "node_seeded"})
	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}

	e := waitEvent(t, h.events)
	if e.ID != "node_seeded" || e.Action != notify.ActionDeleted {
		t.Errorf("expected delete of node_seeded, got %+v", e)
	}
}

func TestWatcher_InvalidFileIsSkipped(t *testing.T) {
	h := setupWatcher(t)

	path := filepath.Join(h.root, "nodes", "node_bad.json")
	if err := os.WriteFile(path, []byte(`{"id": "node_bad", "label": ""}`), 0644); err != nil {
		t.Fatal(err)
	}
	expectNoEvent(t, h.events, 300*time.Millisecond)

	counts, err := h.cache.Counts(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if counts.Nodes != 0 {
		t.Errorf("invalid file reached the cache")
	}
}

func TestWatcher_DanglingLinkIsSkipped(t *testing.T) {
	h := setupWatcher(t)

	l := &schema.Link{ID: "link_x", SourceID: "node_nope", TargetID: "node_nada", CreatedAt: time.Now()}
	h.writeFile(t, schema.KindLink, "link_x.json", l)
	expectNoEvent(t, h.events, 300*time.Millisecond)
}

func TestWatcher_StopAndRestart(t *testing.T) {
	h := setupWatcher(t)
	_, otherNodes, otherLinks := setupDirs(t)

	if err := h.watcher.Stop(); err != nil {
		t.Fatalf("Stop() failed: %v", err)
	}
	if h.watcher.IsRunning() {
		t.Error("watcher should be stopped")
	}

	// Changes while stopped are not seen.
	h.writeFile(t, schema.KindNode, "node_quiet.json", newNode("node_quiet", "Quiet"))
	expectNoEvent(t, h.events, 200*time.Millisecond)

	if err := h.watcher.Start(otherNodes, otherLinks); err != nil {
		t.Fatalf("Start() on new source failed: %v", err)
	}
	if got, _ := h.watcher.Dirs(); got != otherNodes {
		t.Errorf("Dirs() = %s, want %s", got, otherNodes)
	}

	data, err := schema.Marshal(newNode("node_new", "New source"))
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(otherNodes, "node_new.json"), data, 0644); err != nil {
		t.Fatal(err)
	}
	if e := waitEvent(t, h.events); e.ID != "node_new" {
		t.Errorf("expected node_new from the new source, got %+v", e)
	}
}

func drain(events <-chan notify.Event) {
	for {
		select {
		case <-events:
		default:
			return
		}
	}
}
