package compiler

import (
	"github.com/conneroisu/sojourn/internal/ast"
	"github.com/conneroisu/sojourn/internal/directives"
	"github.com/conneroisu/sojourn/internal/expr"
	"github.com/conneroisu/sojourn/internal/frame"
	"github.com/conneroisu/sojourn/internal/value"
)

type opcode uint8

const (
	opText opcode = iota
	opPrint
	opCheckLimit
	opJump
	opJumpIfFalse
	opCaseMatch
	opStore
	opStoreThunk
	opRangeInit
	opRangeNext
	opRangeStep
	opEachInit
	opEachNext
	opEachStep
	opBeginBuffer
	opEndBuffer
	opCall
	opLog
	opBeginWrap
	opEndWrap
)

var opNames = [...]string{
	opText:        "text",
	opPrint:       "print",
	opCheckLimit:  "checklimit",
	opJump:        "jump",
	opJumpIfFalse: "jumpiffalse",
	opCaseMatch:   "casematch",
	opStore:       "store",
	opStoreThunk:  "storethunk",
	opRangeInit:   "rangeinit",
	opRangeNext:   "rangenext",
	opRangeStep:   "rangestep",
	opEachInit:    "eachinit",
	opEachNext:    "eachnext",
	opEachStep:    "eachstep",
	opBeginBuffer: "beginbuffer",
	opEndBuffer:   "endbuffer",
	opCall:        "call",
	opLog:         "log",
	opBeginWrap:   "beginwrap",
	opEndWrap:     "endwrap",
}

func (o opcode) String() string {
	if int(o) < len(opNames) {
		return opNames[o]
	}
	return "unknown"
}

// rootOut marks an instruction writing to the renderer's sink rather than
// a buffer cell.
const rootOut = -1

// saveSite describes what survives a suspension at one instruction.
type saveSite struct {
	slots  []int
	layout *frame.Layout
}

// instr is one step of a compiled body. Its index is the state number
// recorded when it suspends; resuming re-executes it.
type instr struct {
	op  opcode
	out int

	text   string
	expr   *expr.Compiled
	args   []*expr.Compiled
	target int

	// slot is the primary cell: the let target, the loop block base, the
	// buffer, the wrapped sink or the call state.
	slot  int
	slot2 int
	kind  frame.SlotKind
	ckind value.ContentKind

	dirs    []directives.Directive
	dirArgs [][]*expr.Compiled

	thunk *expr.ThunkCode
	call  *callSite

	// memo is the cell range the instruction's expressions checkpoint
	// into; it is cleared once the instruction completes. scratchLo starts
	// the instruction's own scope, state cell included.
	scratchLo      int
	memoLo, memoHi int
	site           *saveSite
}

// callSite is the static part of a call instruction.
type callSite struct {
	callee     string
	delegate   bool
	variant    *expr.Compiled
	allowEmpty bool
	data       ast.DataMode
	dataExpr   *expr.Compiled
	params     []callParam
	// streaming reports whether every directive can wrap the sink, so the
	// callee streams instead of rendering into a buffer.
	streaming bool
}

type callParam struct {
	name string
	expr *expr.Compiled
	// slot holds rendered content for content params; -1 otherwise.
	slot int
	// forward names a caller param passed through unresolved.
	forward string
}

// clearScratch resets every cell the instruction owns. Sibling statements
// reuse those indices, so an instruction entered fresh must not see what
// an earlier one left behind.
func (in *instr) clearScratch(cells []frame.Cell) {
	if in.memoHi > in.scratchLo {
		clear(cells[in.scratchLo:in.memoHi])
	}
}

func (in *instr) clearMemo(cells []frame.Cell) {
	if in.memoHi > in.memoLo {
		clear(cells[in.memoLo:in.memoHi])
	}
}
