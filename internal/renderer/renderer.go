// Package renderer drives compiled templates to completion.
//
// Invoke is the low-level entry point: it runs a render until it finishes,
// detaches or hits the sink's soft limit, and hands back the state to
// resume with. Drive loops over Invoke's object form for callers that can
// block, waiting on pending values and flushing the sink between steps.
// Renderer ties both to a registry Holder so renders follow hot reloads.
package renderer

import (
	"bytes"
	"context"
	"io"
	"time"

	"github.com/a-h/templ"

	"github.com/conneroisu/sojourn/internal/compiler"
	serrors "github.com/conneroisu/sojourn/internal/errors"
	"github.com/conneroisu/sojourn/internal/logging"
	"github.com/conneroisu/sojourn/internal/output"
	"github.com/conneroisu/sojourn/internal/registry"
	"github.com/conneroisu/sojourn/internal/render"
	"github.com/conneroisu/sojourn/internal/value"
)

// Invoke starts or resumes a render. With a nil state the template called
// name is bound to params and injected; otherwise the state is resumed and
// the binding arguments are ignored. The returned state is the one to pass
// back after a Limited or Detach result.
func Invoke(state *compiler.Renderer, reg *registry.Registry, name string, params, injected map[string]any, sink output.Sink, rc *render.Context) (*compiler.Renderer, render.Result, error) {
	if state == nil {
		var err error
		if state, err = reg.NewRenderer(name, params, injected, sink, rc); err != nil {
			return nil, render.Result{}, err
		}
	}
	res, err := state.Render()
	return state, res, err
}

// Drive renders r to completion, blocking on pending values and flushing
// sink whenever the render stops on its soft limit. When ctx ends first the
// render is abandoned and ctx's error returned.
func Drive(ctx context.Context, r *compiler.Renderer, sink output.Sink) error {
	for {
		res, err := r.Render()
		if err != nil {
			return err
		}
		switch res.Kind() {
		case render.KindDone:
			return output.FlushIfPossible(sink)
		case render.KindLimited:
			if err := output.FlushIfPossible(sink); err != nil {
				r.Abandon()
				return serrors.ErrSink(err)
			}
			if sink.SoftLimitReached() {
				r.Abandon()
				return serrors.NewIOError(serrors.ErrCodeSinkFailed,
					"sink still over its soft limit after flushing", nil)
			}
		case render.KindDetach:
			w, ok := res.Pending().(value.Waiter)
			if !ok {
				r.Abandon()
				return serrors.NewDataError(serrors.ErrCodeInvalidArgument,
					"render detached on a value that cannot be waited on")
			}
			if err := w.Wait(ctx); err != nil {
				r.Abandon()
				return err
			}
		}
		if err := ctx.Err(); err != nil {
			r.Abandon()
			return err
		}
	}
}

// Delayed returns a future that completes with v after d.
func Delayed(v value.Value, d time.Duration) *value.Future {
	f := value.NewFuture()
	time.AfterFunc(d, func() { f.Complete(v) })
	return f
}

// Options configures a Renderer.
type Options struct {
	// SoftLimit is the number of buffered bytes after which renders
	// yield so the output can be flushed. Zero never yields.
	SoftLimit int
	Logger    logging.Logger
	// Context is copied into every render.
	Context render.Context
}

// Renderer renders templates from the registry currently published by a
// Holder.
type Renderer struct {
	holder *registry.Holder
	opts   Options
	logger logging.Logger
}

// New creates a renderer over holder.
func New(holder *registry.Holder, opts Options) *Renderer {
	logger := opts.Logger
	if logger == nil {
		logger = logging.NopLogger{}
	}
	return &Renderer{holder: holder, opts: opts, logger: logger.WithComponent("renderer")}
}

func (r *Renderer) context(ctx context.Context) *render.Context {
	rc := r.opts.Context
	rc.Ctx = ctx
	if rc.Logger == nil {
		rc.Logger = r.logger
	}
	return &rc
}

// Render writes the template called name to w, flushing every SoftLimit
// bytes.
func (r *Renderer) Render(ctx context.Context, w io.Writer, name string, params, injected map[string]any) error {
	reg := r.holder.Load()
	if reg == nil {
		return serrors.ErrTemplateNotFound(name)
	}
	perf := logging.StartOperation(r.logger, "render "+name)
	sink := output.NewWriterSink(w, r.opts.SoftLimit)
	state, err := reg.NewRenderer(name, params, injected, sink, r.context(ctx))
	if err != nil {
		perf.EndWithError(ctx, err)
		return err
	}
	if err := Drive(ctx, state, sink); err != nil {
		perf.EndWithError(ctx, err)
		return err
	}
	perf.End(ctx, "template", name)
	return nil
}

// RenderString renders the template called name into a string.
func (r *Renderer) RenderString(ctx context.Context, name string, params, injected map[string]any) (string, error) {
	var buf bytes.Buffer
	if err := r.Render(ctx, &buf, name, params, injected); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// Component exposes a template as a templ component, so it can be embedded
// in templ pages or served with templ.Handler.
func (r *Renderer) Component(name string, params map[string]any) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		return r.Render(ctx, w, name, params, nil)
	})
}
