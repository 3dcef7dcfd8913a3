package watcher

import (
	"context"
	"sync"

	"github.com/conneroisu/sojourn/internal/bundle"
	"github.com/conneroisu/sojourn/internal/logging"
	"github.com/conneroisu/sojourn/internal/registry"
)

// Reloader rebuilds the registry from bundle paths and publishes it to a
// Holder. A failed rebuild leaves the published registry in place.
type Reloader struct {
	paths  []string
	holder *registry.Holder
	opts   registry.Options
	logger logging.Logger

	mutex   sync.Mutex
	lastErr error
}

// NewReloader creates a reloader for the given bundle files and
// directories.
func NewReloader(holder *registry.Holder, opts registry.Options, paths ...string) *Reloader {
	logger := opts.Logger
	if logger == nil {
		logger = logging.NopLogger{}
	}
	return &Reloader{
		paths:  paths,
		holder: holder,
		opts:   opts,
		logger: logger.WithComponent("reloader"),
	}
}

// Reload loads and compiles every bundle, then swaps the result in.
func (r *Reloader) Reload() error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	ctx := context.Background()
	perf := logging.StartOperation(r.logger, "reload")

	templates, err := bundle.LoadFiles(r.paths...)
	if err == nil {
		var reg *registry.Registry
		if reg, err = registry.Build(templates, r.opts); err == nil {
			r.holder.Swap(reg)
			r.lastErr = nil
			perf.End(ctx, "templates", len(reg.Names()))
			return nil
		}
	}
	r.lastErr = err
	perf.EndWithError(ctx, err)
	r.logger.Warn(ctx, err, "keeping previous registry")
	return err
}

// Err returns the error of the last reload, or nil when it succeeded.
func (r *Reloader) Err() error {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return r.lastErr
}

// Handle is a ChangeHandler that reloads once per batch.
func (r *Reloader) Handle(events []ChangeEvent) error {
	if len(events) == 0 {
		return nil
	}
	r.logger.Info(context.Background(), "bundles changed", "files", len(events), "first", events[0].Path)
	return r.Reload()
}
