package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap/zaptest"

	"github.com/mschirtzinger/graphsync/internal/errors"
	"github.com/mschirtzinger/graphsync/internal/graph/cache"
	"github.com/mschirtzinger/graphsync/internal/graph/daemon"
	"github.com/mschirtzinger/graphsync/internal/graph/db"
	"github.com/mschirtzinger/graphsync/internal/graph/notify"
	"github.com/mschirtzinger/graphsync/internal/graph/schema"
	"github.com/mschirtzinger/graphsync/internal/graph/source"
	"github.com/mschirtzinger/graphsync/internal/graph/store"
	"github.com/mschirtzinger/graphsync/internal/graph/tracker"
	"github.com/mschirtzinger/graphsync/internal/metrics"
)

// flakyCache fails ClearAll while failClear is set.
type flakyCache struct {
	cache.Cache
	failClear atomic.Bool
}

func (c *flakyCache) ClearAll(ctx context.Context) error {
	if c.failClear.Load() {
		return errors.New("cache unavailable")
	}
	return c.Cache.ClearAll(ctx)
}

type fixture struct {
	dir     string
	cfgPath string
	dataDir string
	reg     *source.Registry
	cache   *flakyCache
	engine  *Engine
	events  <-chan notify.Event
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	f := &fixture{
		dir:     dir,
		cfgPath: filepath.Join(dir, "state", "sources.json"),
		dataDir: filepath.Join(dir, "data"),
	}
	f.open(t)
	return f
}

// open builds a fresh engine over the fixture's config and data directories.
func (f *fixture) open(t *testing.T) {
	t.Helper()
	logger := zaptest.NewLogger(t)

	reg, err := source.Open(f.cfgPath, f.dataDir, logger)
	if err != nil {
		t.Fatalf("source.Open() failed: %v", err)
	}
	sqlite, err := db.Open(db.MemoryPath)
	if err != nil {
		t.Fatalf("db.Open() failed: %v", err)
	}
	t.Cleanup(func() { sqlite.Close() })

	var seq atomic.Int64
	e, err := New(Options{
		Registry: reg,
		Cache:    &flakyCache{Cache: sqlite},
		Tracker:  tracker.NewWithConfig(tracker.Config{Grace: time.Second, Expiry: 2 * time.Second}),
		Logger:   logger,
		Metrics:  metrics.New(prometheus.NewRegistry()),
		Watch:    daemon.Config{StabilityThreshold: 50 * time.Millisecond, PollInterval: 10 * time.Millisecond},
		NewID: func(kind schema.Kind) string {
			return fmt.Sprintf("%s%d", kind.Prefix(), seq.Add(1))
		},
	})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	f.reg = reg
	f.cache = e.cache.(*flakyCache)
	f.engine = e
	t.Cleanup(func() { e.Close() })

	if _, err := e.Start(context.Background()); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	events, cancel := e.Subscribe(64)
	t.Cleanup(cancel)
	f.events = events
}

func (f *fixture) flush(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := f.engine.Flush(ctx); err != nil {
		t.Fatalf("Flush() failed: %v", err)
	}
}

func (f *fixture) mustNode(t *testing.T, id, label string) *schema.Node {
	t.Helper()
	n, err := f.engine.CreateNode(context.Background(), &schema.Node{ID: id, Label: label})
	if err != nil {
		t.Fatalf("CreateNode(%s) failed: %v", id, err)
	}
	return n
}

func (f *fixture) mustLink(t *testing.T, id, src, dst string) *schema.Link {
	t.Helper()
	l, err := f.engine.CreateLink(context.Background(), &schema.Link{ID: id, SourceID: src, TargetID: dst})
	if err != nil {
		t.Fatalf("CreateLink(%s) failed: %v", id, err)
	}
	return l
}

// nextEvent returns the next event matching keep, failing after a timeout.
func nextEvent(t *testing.T, events <-chan notify.Event, keep func(notify.Event) bool) notify.Event {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case ev := <-events:
			if keep(ev) {
				return ev
			}
		case <-deadline:
			t.Fatal("timed out waiting for event")
			return notify.Event{}
		}
	}
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func TestNew_RequiresRegistryAndCache(t *testing.T) {
	if _, err := New(Options{}); err == nil {
		t.Error("New() without registry should fail")
	}
	reg, err := source.Open(filepath.Join(t.TempDir(), "sources.json"), t.TempDir(), nil)
	if err != nil {
		t.Fatalf("source.Open() failed: %v", err)
	}
	if _, err := New(Options{Registry: reg}); err == nil {
		t.Error("New() without cache should fail")
	}
}

func TestCreateNode_RoundTripAcrossRestart(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	n := f.mustNode(t, "", "A")
	if n.ID != "node_1" {
		t.Errorf("generated ID = %q, want node_1", n.ID)
	}
	if n.CreatedAt.IsZero() {
		t.Error("CreatedAt not set")
	}
	f.flush(t)

	path := filepath.Join(f.dataDir, "nodes", "node_1.json")
	if !fileExists(path) {
		t.Fatalf("expected %s to exist", path)
	}
	if err := f.engine.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}

	f.open(t)
	got, err := f.engine.GetNode(ctx, n.ID)
	if err != nil {
		t.Fatalf("GetNode() after restart failed: %v", err)
	}
	if got.Label != "A" {
		t.Errorf("Label = %q, want A", got.Label)
	}
}

func TestCreateNode_ValidationBeforeIO(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.CreateNode(context.Background(), &schema.Node{ID: "node_blank", Label: "   "})
	if !errors.IsKind(err, errors.KindValidation) {
		t.Fatalf("CreateNode() error = %v, want validation", err)
	}
	f.flush(t)

	if fileExists(filepath.Join(f.dataDir, "nodes", "node_blank.json")) {
		t.Error("invalid node was written")
	}
	if _, err := f.engine.GetNode(context.Background(), "node_blank"); !errors.IsKind(err, errors.KindNotFound) {
		t.Errorf("GetNode() error = %v, want not found", err)
	}
}

func TestCreateNode_Conflict(t *testing.T) {
	f := newFixture(t)
	f.mustNode(t, "node_a", "A")

	_, err := f.engine.CreateNode(context.Background(), &schema.Node{ID: "node_a", Label: "again"})
	if !errors.IsKind(err, errors.KindConflict) {
		t.Errorf("CreateNode() error = %v, want conflict", err)
	}
}

func TestCreateNode_BareIDSharesTheCanonicalID(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	n := f.mustNode(t, "abc", "A")
	if n.ID != "node_abc" {
		t.Fatalf("ID = %q, want node_abc", n.ID)
	}
	if _, err := f.engine.CreateNode(ctx, &schema.Node{ID: "node_abc", Label: "B"}); !errors.IsKind(err, errors.KindConflict) {
		t.Fatalf("second CreateNode() error = %v, want conflict", err)
	}
	f.mustNode(t, "def", "D")
	if _, err := f.engine.CreateLink(ctx, &schema.Link{ID: "ad", SourceID: "abc", TargetID: "node_def"}); err != nil {
		t.Fatalf("CreateLink() with bare ids failed: %v", err)
	}
	f.flush(t)

	entries, err := os.ReadDir(filepath.Join(f.dataDir, "nodes"))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Errorf("nodes dir has %d files, want 2", len(entries))
	}
	if err := f.engine.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}

	f.open(t)
	counts, err := f.engine.Counts(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if counts.Nodes != 2 || counts.Links != 1 {
		t.Errorf("after restart Counts() = %+v, want 2 nodes, 1 link", counts)
	}
	got, err := f.engine.GetNode(ctx, "abc")
	if err != nil {
		t.Fatalf("GetNode(abc) failed: %v", err)
	}
	if got.ID != "node_abc" || got.Label != "A" {
		t.Errorf("GetNode(abc) = %+v", got)
	}
	l, err := f.engine.GetLink(ctx, "link_ad")
	if err != nil {
		t.Fatalf("GetLink(link_ad) failed: %v", err)
	}
	if l.SourceID != "node_abc" || l.TargetID != "node_def" {
		t.Errorf("link endpoints = %s -> %s", l.SourceID, l.TargetID)
	}
}

func TestCreateNode_RejectsUnusableID(t *testing.T) {
	f := newFixture(t)
	for _, id := range []string{"node_", "../escape", "a/b"} {
		if _, err := f.engine.CreateNode(context.Background(), &schema.Node{ID: id, Label: "X"}); !errors.IsKind(err, errors.KindValidation) {
			t.Errorf("CreateNode(%q) error = %v, want validation", id, err)
		}
	}
}

func TestFileWork_SameEntityRunsInOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i := range 200 {
		n := f.mustNode(t, "node_churn", fmt.Sprintf("round %d", i))
		if _, err := f.engine.DeleteNode(ctx, n.ID); err != nil {
			t.Fatalf("DeleteNode() round %d failed: %v", i, err)
		}
	}
	for i := range 50 {
		n := f.mustNode(t, "", "short-lived")
		if _, err := f.engine.UpdateNode(ctx, &schema.Node{ID: n.ID, Label: fmt.Sprintf("v%d", i)}); err != nil {
			t.Fatal(err)
		}
		if _, err := f.engine.DeleteNode(ctx, n.ID); err != nil {
			t.Fatal(err)
		}
	}
	last := f.mustNode(t, "node_last", "v0")
	for i := 1; i <= 50; i++ {
		if _, err := f.engine.UpdateNode(ctx, &schema.Node{ID: last.ID, Label: fmt.Sprintf("v%d", i)}); err != nil {
			t.Fatal(err)
		}
	}
	f.flush(t)

	entries, err := os.ReadDir(filepath.Join(f.dataDir, "nodes"))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Name() != "node_last.json" {
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Fatalf("files left after create/delete churn: %v", names)
	}
	got, err := schema.ReadFile(schema.KindNode, filepath.Join(f.dataDir, "nodes", "node_last.json"))
	if err != nil {
		t.Fatal(err)
	}
	if label := got.(*schema.Node).Label; label != "v50" {
		t.Errorf("file label = %q, want the last update v50", label)
	}

	if err := f.engine.Close(); err != nil {
		t.Fatal(err)
	}
	f.open(t)
	counts, err := f.engine.Counts(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if counts.Nodes != 1 {
		t.Errorf("after restart %d nodes cached, want 1", counts.Nodes)
	}
}

func TestUpdateNode_KeepsCreatedAt(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	n := f.mustNode(t, "node_a", "A")

	n.Label = "renamed"
	n.CreatedAt = time.Time{}
	updated, err := f.engine.UpdateNode(ctx, n)
	if err != nil {
		t.Fatalf("UpdateNode() failed: %v", err)
	}
	if updated.UpdatedAt == nil {
		t.Error("UpdatedAt not set")
	}

	got, err := f.engine.GetNode(ctx, "node_a")
	if err != nil {
		t.Fatalf("GetNode() failed: %v", err)
	}
	if got.Label != "renamed" {
		t.Errorf("Label = %q, want renamed", got.Label)
	}
	if got.CreatedAt.IsZero() {
		t.Error("CreatedAt was cleared")
	}

	if _, err := f.engine.UpdateNode(ctx, &schema.Node{ID: "node_missing", Label: "x"}); !errors.IsKind(err, errors.KindNotFound) {
		t.Errorf("UpdateNode(missing) error = %v, want not found", err)
	}
}

func TestSetNodePosition(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.mustNode(t, "node_a", "A")

	if _, err := f.engine.SetNodePosition(ctx, "node_a", 10.5, -3); err != nil {
		t.Fatalf("SetNodePosition() failed: %v", err)
	}
	f.flush(t)

	st := store.New(f.dataDir)
	loaded, err := st.LoadNodes()
	if err != nil {
		t.Fatalf("LoadNodes() failed: %v", err)
	}
	if len(loaded.Entities) != 1 {
		t.Fatalf("loaded %d nodes, want 1", len(loaded.Entities))
	}
	n := loaded.Entities[0]
	if n.X == nil || *n.X != 10.5 || n.Y == nil || *n.Y != -3 {
		t.Errorf("position on disk = (%v, %v)", n.X, n.Y)
	}
}

func TestCreateLink_ReferentialError(t *testing.T) {
	f := newFixture(t)
	f.mustNode(t, "node_a", "A")

	_, err := f.engine.CreateLink(context.Background(), &schema.Link{ID: "link_x", SourceID: "node_a", TargetID: "node_missing"})
	if !errors.IsKind(err, errors.KindReferential) {
		t.Fatalf("CreateLink() error = %v, want referential", err)
	}
	f.flush(t)
	if fileExists(filepath.Join(f.dataDir, "links", "link_x.json")) {
		t.Error("dangling link was written")
	}
}

func TestUpdateAndDeleteLink(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.mustNode(t, "node_a", "A")
	f.mustNode(t, "node_b", "B")
	f.mustNode(t, "node_c", "C")
	l := f.mustLink(t, "link_ab", "node_a", "node_b")

	l.TargetID = "node_c"
	if _, err := f.engine.UpdateLink(ctx, l); err != nil {
		t.Fatalf("UpdateLink() failed: %v", err)
	}
	got, err := f.engine.GetLink(ctx, "link_ab")
	if err != nil {
		t.Fatalf("GetLink() failed: %v", err)
	}
	if got.TargetID != "node_c" {
		t.Errorf("TargetID = %q, want node_c", got.TargetID)
	}

	l.TargetID = "node_gone"
	if _, err := f.engine.UpdateLink(ctx, l); !errors.IsKind(err, errors.KindReferential) {
		t.Errorf("UpdateLink(dangling) error = %v, want referential", err)
	}

	if err := f.engine.DeleteLink(ctx, "link_ab"); err != nil {
		t.Fatalf("DeleteLink() failed: %v", err)
	}
	f.flush(t)
	if fileExists(filepath.Join(f.dataDir, "links", "link_ab.json")) {
		t.Error("link file still exists")
	}
	if err := f.engine.DeleteLink(ctx, "link_ab"); !errors.IsKind(err, errors.KindNotFound) {
		t.Errorf("second DeleteLink() error = %v, want not found", err)
	}
}

func TestDeleteNode_Cascade(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.mustNode(t, "node_n", "N")
	f.mustNode(t, "node_m", "M")
	f.mustNode(t, "node_o", "O")
	f.mustLink(t, "link_1", "node_n", "node_m")
	f.mustLink(t, "link_2", "node_o", "node_n")
	f.mustLink(t, "link_3", "node_m", "node_o")
	f.flush(t)

	result, err := f.engine.DeleteNode(ctx, "node_n")
	if err != nil {
		t.Fatalf("DeleteNode() failed: %v", err)
	}
	if result.DeletedLinks != 2 {
		t.Errorf("DeletedLinks = %d, want 2", result.DeletedLinks)
	}
	f.flush(t)

	for _, name := range []string{"nodes/node_n.json", "links/link_1.json", "links/link_2.json"} {
		if fileExists(filepath.Join(f.dataDir, name)) {
			t.Errorf("%s still exists", name)
		}
	}
	if !fileExists(filepath.Join(f.dataDir, "links", "link_3.json")) {
		t.Error("unrelated link file was removed")
	}

	links, err := f.engine.ListLinks(ctx)
	if err != nil {
		t.Fatalf("ListLinks() failed: %v", err)
	}
	if len(links) != 1 || links[0].ID != "link_3" {
		t.Errorf("remaining links = %v", links)
	}

	if _, err := f.engine.DeleteNode(ctx, "node_n"); !errors.IsKind(err, errors.KindNotFound) {
		t.Errorf("second DeleteNode() error = %v, want not found", err)
	}
}

func TestMutations_PublishLocalEvents(t *testing.T) {
	f := newFixture(t)
	f.mustNode(t, "node_a", "A")

	ev := nextEvent(t, f.events, func(notify.Event) bool { return true })
	if ev.Action != notify.ActionAdded || ev.ID != "node_a" || ev.Origin != notify.OriginLocal || ev.Kind != schema.KindNode {
		t.Errorf("event = %+v", ev)
	}

	// The watcher sees the engine's own write but must not echo it.
	f.flush(t)
	select {
	case ev := <-f.events:
		t.Errorf("unexpected event after own write: %+v", ev)
	case <-time.After(300 * time.Millisecond):
	}
}

func TestExternalEdit_ReachesCache(t *testing.T) {
	f := newFixture(t)

	ext := store.New(f.dataDir)
	if err := ext.SaveNode(&schema.Node{ID: "node_ext", Label: "outside", CreatedAt: time.Now()}); err != nil {
		t.Fatalf("SaveNode() failed: %v", err)
	}

	ev := nextEvent(t, f.events, func(ev notify.Event) bool { return ev.ID == "node_ext" })
	if ev.Origin != notify.OriginExternal || ev.Action != notify.ActionAdded {
		t.Errorf("event = %+v", ev)
	}
	if _, err := f.engine.GetNode(context.Background(), "node_ext"); err != nil {
		t.Errorf("GetNode() failed: %v", err)
	}
}

func TestGraph(t *testing.T) {
	f := newFixture(t)
	f.mustNode(t, "node_a", "A")
	f.mustNode(t, "node_b", "B")
	f.mustLink(t, "link_ab", "node_a", "node_b")

	g, err := f.engine.Graph(context.Background())
	if err != nil {
		t.Fatalf("Graph() failed: %v", err)
	}
	if len(g.Nodes) != 2 || len(g.Links) != 1 {
		t.Errorf("Graph() = %d nodes, %d links", len(g.Nodes), len(g.Links))
	}

	counts, err := f.engine.Counts(context.Background())
	if err != nil {
		t.Fatalf("Counts() failed: %v", err)
	}
	if counts.Nodes != 2 || counts.Links != 1 {
		t.Errorf("Counts() = %+v", counts)
	}
}

func TestSwitchSource(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.mustNode(t, "node_old", "old")
	f.flush(t)

	otherDir := filepath.Join(f.dir, "other")
	if err := store.New(otherDir).SaveNode(&schema.Node{ID: "node_new", Label: "new", CreatedAt: time.Now()}); err != nil {
		t.Fatalf("SaveNode() failed: %v", err)
	}
	ds, err := f.engine.AddSource("other", source.DataSource{Name: "Other", Path: otherDir})
	if err != nil {
		t.Fatalf("AddSource() failed: %v", err)
	}

	if _, err := f.engine.SwitchSource(ctx, ds.ID); err != nil {
		t.Fatalf("SwitchSource() failed: %v", err)
	}

	ev := nextEvent(t, f.events, func(ev notify.Event) bool { return ev.Action == notify.ActionReload })
	if ev.Source != "other" {
		t.Errorf("reload event source = %q, want other", ev.Source)
	}
	if f.engine.State() != source.StateActive {
		t.Errorf("State() = %s, want active", f.engine.State())
	}

	nodesDir, _ := f.engine.WatchedDirs()
	if nodesDir != filepath.Join(otherDir, "nodes") {
		t.Errorf("watched nodes dir = %q", nodesDir)
	}
	if f.engine.Root() != otherDir {
		t.Errorf("Root() = %q, want %q", f.engine.Root(), otherDir)
	}

	if _, err := f.engine.GetNode(ctx, "node_old"); !errors.IsKind(err, errors.KindNotFound) {
		t.Errorf("old node still cached: %v", err)
	}
	if _, err := f.engine.GetNode(ctx, "node_new"); err != nil {
		t.Errorf("new node not cached: %v", err)
	}

	reopened, err := source.Open(f.cfgPath, f.dataDir, nil)
	if err != nil {
		t.Fatalf("source.Open() failed: %v", err)
	}
	if reopened.Current().ID != "other" {
		t.Errorf("persisted current = %q, want other", reopened.Current().ID)
	}

	// New writes land in the new source.
	f.mustNode(t, "node_after", "after")
	f.flush(t)
	if !fileExists(filepath.Join(otherDir, "nodes", "node_after.json")) {
		t.Error("write after switch did not reach the new source")
	}
	if fileExists(filepath.Join(f.dataDir, "nodes", "node_after.json")) {
		t.Error("write after switch reached the old source")
	}
}

func TestSwitchSource_ValidationFailureChangesNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.mustNode(t, "node_a", "A")

	bad := filepath.Join(f.dir, "not-a-dir")
	if err := os.WriteFile(bad, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	ds, err := f.engine.AddSource("bad", source.DataSource{Name: "Bad", Path: bad})
	if err != nil {
		t.Fatalf("AddSource() failed: %v", err)
	}

	beforeNodes, beforeLinks := f.engine.WatchedDirs()
	if _, err := f.engine.SwitchSource(ctx, ds.ID); err == nil {
		t.Fatal("SwitchSource() to a file should fail")
	}

	if f.engine.CurrentSource().ID != source.DefaultID {
		t.Errorf("current = %q, want default", f.engine.CurrentSource().ID)
	}
	afterNodes, afterLinks := f.engine.WatchedDirs()
	if afterNodes != beforeNodes || afterLinks != beforeLinks {
		t.Errorf("watcher moved to %q, %q", afterNodes, afterLinks)
	}
	if f.engine.State() != source.StateActive {
		t.Errorf("State() = %s, want active", f.engine.State())
	}
	if _, err := f.engine.GetNode(ctx, "node_a"); err != nil {
		t.Errorf("cache was touched: %v", err)
	}
}

func TestSwitchSource_DegradedRejectsMutations(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	otherDir := filepath.Join(f.dir, "other")
	ds, err := f.engine.AddSource("other", source.DataSource{Name: "Other", Path: otherDir})
	if err != nil {
		t.Fatalf("AddSource() failed: %v", err)
	}

	f.cache.failClear.Store(true)
	_, err = f.engine.SwitchSource(ctx, ds.ID)
	if !errors.IsKind(err, errors.KindDegraded) {
		t.Fatalf("SwitchSource() error = %v, want degraded", err)
	}
	if f.engine.State() != source.StateDegraded {
		t.Fatalf("State() = %s, want degraded", f.engine.State())
	}

	_, err = f.engine.CreateNode(ctx, &schema.Node{Label: "x"})
	if !errors.IsKind(err, errors.KindDegraded) {
		t.Errorf("CreateNode() while degraded error = %v, want degraded", err)
	}

	// A later successful switch leaves the degraded state.
	f.cache.failClear.Store(false)
	if _, err := f.engine.SwitchSource(ctx, ds.ID); err != nil {
		t.Fatalf("SwitchSource() after recovery failed: %v", err)
	}
	if f.engine.State() != source.StateActive {
		t.Errorf("State() = %s, want active", f.engine.State())
	}
	f.mustNode(t, "", "back")
}

func TestStart_UnusableSourceIsFatal(t *testing.T) {
	dir := t.TempDir()
	dataDir := filepath.Join(dir, "data")
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		t.Fatal(err)
	}
	// nodes/ cannot be created when a file has taken its name.
	if err := os.WriteFile(filepath.Join(dataDir, "nodes"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	reg, err := source.Open(filepath.Join(dir, "sources.json"), dataDir, nil)
	if err != nil {
		t.Fatalf("source.Open() failed: %v", err)
	}
	sqlite, err := db.Open(db.MemoryPath)
	if err != nil {
		t.Fatalf("db.Open() failed: %v", err)
	}
	defer sqlite.Close()

	e, err := New(Options{Registry: reg, Cache: sqlite, Logger: zaptest.NewLogger(t)})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	defer e.Close()

	if _, err := e.Start(context.Background()); err == nil {
		t.Fatal("Start() should fail")
	}
	if _, err := e.CreateNode(context.Background(), &schema.Node{Label: "x"}); err == nil {
		t.Error("CreateNode() on an unstarted engine should fail")
	}
}

func TestClose_RejectsMutations(t *testing.T) {
	f := newFixture(t)
	if err := f.engine.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}
	if err := f.engine.Close(); err != nil {
		t.Errorf("second Close() failed: %v", err)
	}
	if _, err := f.engine.CreateNode(context.Background(), &schema.Node{Label: "x"}); err == nil {
		t.Error("CreateNode() after Close should fail")
	}
}
