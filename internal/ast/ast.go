// Package ast holds the type-annotated template tree the compiler consumes.
// Trees arrive already parsed and type checked; the bundle package builds
// them from YAML, tests build them directly.
package ast

import (
	"github.com/conneroisu/sojourn/internal/types"
	"github.com/conneroisu/sojourn/internal/value"
)

// Template is one template definition.
type Template struct {
	// Name is the fully qualified template name, e.g. "ns.page".
	Name string
	// Kind is the content kind the template produces.
	Kind value.ContentKind
	// Params lists parameter declarations in declaration order.
	Params []Param
	// Body is the template body.
	Body []Node
	// Delegate is set for delegate implementations.
	Delegate *Delegate
	// Source names where the template came from, for error messages.
	Source string
}

// Delegate marks a template as one implementation of a delegate name.
type Delegate struct {
	// Package is the delegate package governing the implementation.
	// The empty package is the default implementation.
	Package string
	// Variant selects between implementations at the call site.
	Variant string
	// Priority orders active implementations; highest wins.
	Priority int
}

// Param is a parameter declaration.
type Param struct {
	Name     string
	Type     types.Type
	Required bool
	// Injected params come from the injected data record rather than the
	// caller's params.
	Injected bool
	// Default is evaluated when an optional param is absent.
	Default Expr
}

// Node is a statement in a template body.
type Node interface {
	node()
}

// RawText emits literal text.
type RawText struct {
	Text string
}

// Print emits an expression through a directive chain. Directives apply
// left to right.
type Print struct {
	Expr       Expr
	Directives []Directive
}

// Directive is a print directive reference with argument expressions.
type Directive struct {
	Name string
	Args []Expr
}

// IfBranch is one if or elseif arm.
type IfBranch struct {
	Cond Expr
	Body []Node
}

// If is an if/elseif/else chain.
type If struct {
	Branches []IfBranch
	Else     []Node
}

// SwitchCase matches when the switch value equals any of Values.
type SwitchCase struct {
	Values []Expr
	Body   []Node
}

// Switch tests cases in order; the first match wins.
type Switch struct {
	Expr       Expr
	Cases      []SwitchCase
	Default    []Node
	HasDefault bool
}

// ForRange iterates an int variable from Start (default 0) up to Stop
// exclusive by Step (default 1).
type ForRange struct {
	Var   string
	Start Expr
	Stop  Expr
	Step  Expr
	Body  []Node
}

// ForEach iterates the items of a list. IfEmpty renders when the list is
// empty.
type ForEach struct {
	Var     string
	List    Expr
	Body    []Node
	IfEmpty []Node
}

// LetValue binds a name to an expression for the rest of the block.
type LetValue struct {
	Name  string
	Value Expr
}

// LetContent binds a name to rendered content of the given kind.
type LetContent struct {
	Name string
	Kind value.ContentKind
	Body []Node
}

// DataMode selects how a call passes data to the callee.
type DataMode uint8

const (
	// DataNone passes only explicit params.
	DataNone DataMode = iota
	// DataAll forwards the caller's full param record.
	DataAll
	// DataExpr uses a record expression as the base params.
	DataExpr
)

// CallParam is an explicit call parameter, either a value or content.
type CallParam struct {
	Name      string
	Value     Expr
	IsContent bool
	Kind      value.ContentKind
	Body      []Node
}

// Call calls a basic template, or a delegate when Delegate is set.
type Call struct {
	Callee            string
	Delegate          bool
	Variant           Expr
	AllowEmptyDefault bool
	Data              DataMode
	DataExpr          Expr
	Params            []CallParam
	Directives        []Directive
}

// Log renders its body to the render context logger instead of the output.
type Log struct {
	Body []Node
}

func (*RawText) node()    {}
func (*Print) node()      {}
func (*If) node()         {}
func (*Switch) node()     {}
func (*ForRange) node()   {}
func (*ForEach) node()    {}
func (*LetValue) node()   {}
func (*LetContent) node() {}
func (*Call) node()       {}
func (*Log) node()        {}
