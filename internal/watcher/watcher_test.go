package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/sojourn/internal/registry"
)

func TestEventTypeString(t *testing.T) {
	testCases := []struct {
		eventType EventType
		expected  string
	}{
		{EventTypeCreated, "created"},
		{EventTypeModified, "modified"},
		{EventTypeDeleted, "deleted"},
		{EventTypeRenamed, "renamed"},
		{EventType(99), "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.expected, func(t *testing.T) {
			assert.Equal(t, tc.expected, tc.eventType.String())
		})
	}
}

func TestNewFileWatcher(t *testing.T) {
	watcher, err := NewFileWatcher(100*time.Millisecond, nil)
	require.NoError(t, err)
	defer watcher.Stop()

	assert.NotNil(t, watcher.watcher)
	assert.NotNil(t, watcher.debouncer)
	assert.Empty(t, watcher.filters)
	assert.Empty(t, watcher.handlers)
}

func TestFilters(t *testing.T) {
	tests := []struct {
		path   string
		bundle bool
		hidden bool
		git    bool
	}{
		{"templates/page.yaml", true, true, true},
		{"templates/page.YML", true, true, true},
		{"templates/.page.yaml.swp", false, false, true},
		{"templates/.page.yaml", true, false, true},
		{"repo/.git/config.yaml", true, true, false},
		{".git/HEAD", false, true, false},
		{"main.go", false, true, true},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.bundle, BundleFilter(tt.path), "bundle")
			assert.Equal(t, tt.hidden, NoHiddenFilter(tt.path), "hidden")
			assert.Equal(t, tt.git, NoGitFilter(tt.path), "git")
		})
	}
}

func TestFileWatcherAcceptsNeedsEveryFilter(t *testing.T) {
	watcher, err := NewFileWatcher(100*time.Millisecond, nil)
	require.NoError(t, err)
	defer watcher.Stop()

	assert.True(t, watcher.accepts("anything"))

	watcher.AddFilter(BundleFilter)
	watcher.AddFilter(NoHiddenFilter)
	assert.Len(t, watcher.filters, 2)

	assert.True(t, watcher.accepts("a/b.yaml"))
	assert.False(t, watcher.accepts("a/.b.yaml"))
	assert.False(t, watcher.accepts("a/b.txt"))
}

func TestFileWatcherAddPath(t *testing.T) {
	watcher, err := NewFileWatcher(100*time.Millisecond, nil)
	require.NoError(t, err)
	defer watcher.Stop()

	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "nested", "deeper"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, ".hidden"), 0o755))

	assert.NoError(t, watcher.AddPath(dir))
	assert.Error(t, watcher.AddPath(filepath.Join(dir, "missing")))

	require.NoError(t, watcher.AddRecursive(dir))
	watched := watcher.watcher.WatchList()
	assert.Contains(t, watched, filepath.Join(dir, "nested", "deeper"))
	assert.NotContains(t, watched, filepath.Join(dir, ".hidden"))
}

func TestDebouncer(t *testing.T) {
	debouncer := newDebouncer(50 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go debouncer.start(ctx)

	now := time.Now()
	debouncer.events <- ChangeEvent{Type: EventTypeCreated, Path: "b.yaml", Time: now}
	debouncer.events <- ChangeEvent{Type: EventTypeModified, Path: "a.yaml", Time: now}
	debouncer.events <- ChangeEvent{Type: EventTypeModified, Path: "b.yaml", Time: now}

	select {
	case events := <-debouncer.output:
		require.Len(t, events, 2)
		assert.Equal(t, "a.yaml", events[0].Path)
		assert.Equal(t, "b.yaml", events[1].Path)
		assert.Equal(t, EventTypeModified, events[1].Type, "last event per path wins")
	case <-time.After(time.Second):
		t.Fatal("debouncer never flushed")
	}

	select {
	case events := <-debouncer.output:
		t.Fatalf("unexpected second batch: %v", events)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestFileWatcherDeliversBundleChanges(t *testing.T) {
	dir := t.TempDir()

	watcher, err := NewFileWatcher(30*time.Millisecond, nil)
	require.NoError(t, err)
	defer watcher.Stop()
	watcher.AddFilter(BundleFilter)
	watcher.AddFilter(NoHiddenFilter)

	var (
		mu     sync.Mutex
		events []ChangeEvent
	)
	watcher.AddHandler(func(batch []ChangeEvent) error {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, batch...)
		return nil
	})

	require.NoError(t, watcher.AddRecursive(dir))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, watcher.Start(ctx))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "page.yaml"), []byte("templates: []"), 0o644))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(events) > 0
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	for _, ev := range events {
		assert.Equal(t, filepath.Join(dir, "page.yaml"), ev.Path)
	}
}

const pageV1 = `
templates:
  - name: page
    body: ["v1"]
`

const pageV2 = `
templates:
  - name: page
    body: ["v2"]
  - name: extra
    body: ["x"]
`

func TestReloaderSwapsRegistry(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "page.yaml")
	require.NoError(t, os.WriteFile(file, []byte(pageV1), 0o644))

	holder := registry.NewHolder(nil)
	reloader := NewReloader(holder, registry.Options{}, dir)
	require.NoError(t, reloader.Reload())
	require.NotNil(t, holder.Load())
	assert.Equal(t, []string{"page"}, holder.Load().Names())

	events := holder.Watch()
	defer holder.UnWatch(events)

	require.NoError(t, os.WriteFile(file, []byte(pageV2), 0o644))
	require.NoError(t, reloader.Handle([]ChangeEvent{{Type: EventTypeModified, Path: file}}))
	assert.Equal(t, []string{"extra", "page"}, holder.Load().Names())
	assert.NoError(t, reloader.Err())

	got := map[string]registry.EventType{}
	for len(got) < 2 {
		select {
		case ev := <-events:
			got[ev.Name] = ev.Type
		case <-time.After(time.Second):
			t.Fatalf("missing events, got %v", got)
		}
	}
	assert.Equal(t, registry.EventTypeAdded, got["extra"])
	assert.Equal(t, registry.EventTypeUpdated, got["page"])
}

func TestReloaderKeepsRegistryOnFailure(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "page.yaml")
	require.NoError(t, os.WriteFile(file, []byte(pageV1), 0o644))

	holder := registry.NewHolder(nil)
	reloader := NewReloader(holder, registry.Options{}, dir)
	require.NoError(t, reloader.Reload())
	before := holder.Load()

	require.NoError(t, os.WriteFile(file, []byte("templates: ["), 0o644))
	err := reloader.Handle([]ChangeEvent{{Type: EventTypeModified, Path: file}})
	require.Error(t, err)
	assert.Same(t, before, holder.Load())
	assert.Equal(t, err, reloader.Err())

	assert.NoError(t, reloader.Handle(nil), "empty batches are ignored")
}
