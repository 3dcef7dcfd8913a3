package render

import (
	"context"
	"strings"

	"github.com/conneroisu/sojourn/internal/logging"
)

// Context is the caller-supplied, read-only environment of a render.
type Context struct {
	// CSSRenaming maps class names for the css() builtin.
	CSSRenaming map[string]string
	// XIDRenaming maps identifiers for the xid() builtin.
	XIDRenaming map[string]string
	// ActiveDelegatePackage reports whether a delegate package is active.
	// Nil means only the default package is active.
	ActiveDelegatePackage func(pkg string) bool
	// Logger receives {log} output and debug traces.
	Logger logging.Logger
	// DebugInfo enables detach and resume traces.
	DebugInfo bool
	// Ctx is passed to the logger.
	Ctx context.Context
}

// IsActive reports whether delegate package pkg is active. The default
// package is always active.
func (c *Context) IsActive(pkg string) bool {
	if pkg == "" {
		return true
	}
	if c == nil || c.ActiveDelegatePackage == nil {
		return false
	}
	return c.ActiveDelegatePackage(pkg)
}

// Log returns the context logger, or a no-op logger.
func (c *Context) Log() logging.Logger {
	if c == nil || c.Logger == nil {
		return logging.NopLogger{}
	}
	return c.Logger
}

// Context returns the context for logging calls.
func (c *Context) Context() context.Context {
	if c == nil || c.Ctx == nil {
		return context.Background()
	}
	return c.Ctx
}

// RenameCSS applies the CSS renaming map. A dashed name with no mapping of
// its own is renamed part by part; unmapped parts pass through.
func (c *Context) RenameCSS(name string) string {
	if c == nil || c.CSSRenaming == nil {
		return name
	}
	if r, ok := c.CSSRenaming[name]; ok {
		return r
	}
	if !strings.Contains(name, "-") {
		return name
	}
	parts := strings.Split(name, "-")
	for i, p := range parts {
		if r, ok := c.CSSRenaming[p]; ok {
			parts[i] = r
		}
	}
	return strings.Join(parts, "-")
}

// RenameXID applies the XID renaming map.
func (c *Context) RenameXID(name string) string {
	if c == nil || c.XIDRenaming == nil {
		return name
	}
	if r, ok := c.XIDRenaming[name]; ok {
		return r
	}
	return name
}

// ActivePackages builds an ActiveDelegatePackage predicate from a list.
func ActivePackages(pkgs ...string) func(string) bool {
	set := make(map[string]bool, len(pkgs))
	for _, p := range pkgs {
		set[p] = true
	}
	return func(pkg string) bool { return set[pkg] }
}
