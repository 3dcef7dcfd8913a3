package directives

import (
	"net/url"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	serrors "github.com/conneroisu/sojourn/internal/errors"
	"github.com/conneroisu/sojourn/internal/output"
	"github.com/conneroisu/sojourn/internal/value"
)

// chunkSink applies fn to every chunk. It withholds nothing, so Close only
// marks it closed.
type chunkSink struct {
	out    output.Sink
	fn     func(string) string
	closed bool
}

func (s *chunkSink) Append(str string) error {
	if s.closed {
		return serrors.NewInternalError(serrors.ErrCodeInternalError, "append to closed directive sink", nil)
	}
	return s.out.Append(s.fn(str))
}

func (s *chunkSink) SoftLimitReached() bool { return s.out.SoftLimitReached() }

func (s *chunkSink) Flush() error { return output.FlushIfPossible(s.out) }

func (s *chunkSink) Close() error {
	s.closed = true
	return nil
}

func isHTML(v value.Value) bool {
	s, ok := v.(value.Sanitized)
	return ok && s.ContentKind == value.ContentHTML
}

// EscapeHTML escapes text for an HTML body. Sanitized HTML passes through.
type EscapeHTML struct{}

func (EscapeHTML) Name() string      { return "escapeHtml" }
func (EscapeHTML) Arity() (int, int) { return 0, 0 }

func (EscapeHTML) Apply(v value.Value, _ []value.Value) (value.Value, error) {
	if isHTML(v) {
		return v, nil
	}
	return value.Sanitized{ContentKind: value.ContentHTML, Content: html.EscapeString(value.ToString(v))}, nil
}

func (EscapeHTML) Wrap(out output.Sink, kind value.ContentKind, _ []value.Value) (output.ClosingSink, error) {
	if kind == value.ContentHTML {
		return &chunkSink{out: out, fn: passThrough}, nil
	}
	return &chunkSink{out: out, fn: html.EscapeString}, nil
}

var (
	cleanPolicyOnce sync.Once
	cleanPolicy     *bluemonday.Policy
)

func cleanSanitizer() *bluemonday.Policy {
	cleanPolicyOnce.Do(func() {
		cleanPolicy = bluemonday.UGCPolicy()
	})
	return cleanPolicy
}

// CleanHTML strips markup outside a safe subset. Tags can span chunks, so
// it has no streaming form.
type CleanHTML struct{}

func (CleanHTML) Name() string      { return "cleanHtml" }
func (CleanHTML) Arity() (int, int) { return 0, 0 }

func (CleanHTML) Apply(v value.Value, _ []value.Value) (value.Value, error) {
	return value.Sanitized{
		ContentKind: value.ContentHTML,
		Content:     cleanSanitizer().Sanitize(value.ToString(v)),
	}, nil
}

var newlines = strings.NewReplacer("\r\n", "<br>", "\r", "<br>", "\n", "<br>")

// ChangeNewlineToBr turns line breaks into <br>.
type ChangeNewlineToBr struct{}

func (ChangeNewlineToBr) Name() string      { return "changeNewlineToBr" }
func (ChangeNewlineToBr) Arity() (int, int) { return 0, 0 }

func (ChangeNewlineToBr) Apply(v value.Value, _ []value.Value) (value.Value, error) {
	out := newlines.Replace(value.ToString(v))
	if s, ok := v.(value.Sanitized); ok {
		return value.Sanitized{ContentKind: s.ContentKind, Content: out}, nil
	}
	return value.String(out), nil
}

func (ChangeNewlineToBr) Wrap(out output.Sink, _ value.ContentKind, _ []value.Value) (output.ClosingSink, error) {
	return &newlineSink{out: out}, nil
}

// newlineSink withholds a trailing \r until it knows whether \n follows.
type newlineSink struct {
	out       output.Sink
	pendingCR bool
}

func (s *newlineSink) Append(str string) error {
	if str == "" {
		return nil
	}
	if s.pendingCR {
		s.pendingCR = false
		str = "\r" + str
	}
	if strings.HasSuffix(str, "\r") {
		s.pendingCR = true
		str = str[:len(str)-1]
	}
	return s.out.Append(newlines.Replace(str))
}

func (s *newlineSink) SoftLimitReached() bool { return s.out.SoftLimitReached() }

func (s *newlineSink) Flush() error { return output.FlushIfPossible(s.out) }

func (s *newlineSink) Close() error {
	if !s.pendingCR {
		return nil
	}
	s.pendingCR = false
	return s.out.Append("<br>")
}

// Truncate shortens text to at most maxLen runes, ending in "..." unless
// the second argument is false.
type Truncate struct{}

func (Truncate) Name() string      { return "truncate" }
func (Truncate) Arity() (int, int) { return 1, 2 }

func (Truncate) Apply(v value.Value, args []value.Value) (value.Value, error) {
	maxLen, err := value.UnboxInt(args[0])
	if err != nil {
		return nil, err
	}
	if maxLen < 0 {
		return nil, serrors.NewArgumentError(serrors.ErrCodeInvalidArgument,
			"truncate length must not be negative").WithContext("length", maxLen)
	}
	ellipsis := true
	if len(args) > 1 {
		ellipsis = value.Truthy(args[1])
	}
	s := value.ToString(v)
	if int64(utf8.RuneCountInString(s)) <= maxLen {
		return value.String(s), nil
	}
	runes := []rune(s)
	if ellipsis && maxLen > 3 {
		return value.String(string(runes[:maxLen-3]) + "..."), nil
	}
	return value.String(string(runes[:maxLen])), nil
}

func caseDirective(v value.Value, c cases.Caser) value.Value {
	out := c.String(value.ToString(v))
	if s, ok := v.(value.Sanitized); ok {
		return value.Sanitized{ContentKind: s.ContentKind, Content: out}
	}
	return value.String(out)
}

// Upper upper-cases text.
type Upper struct{}

func (Upper) Name() string      { return "upper" }
func (Upper) Arity() (int, int) { return 0, 0 }

func (Upper) Apply(v value.Value, _ []value.Value) (value.Value, error) {
	return caseDirective(v, cases.Upper(language.Und)), nil
}

func (Upper) Wrap(out output.Sink, _ value.ContentKind, _ []value.Value) (output.ClosingSink, error) {
	c := cases.Upper(language.Und)
	return &chunkSink{out: out, fn: c.String}, nil
}

// Lower lower-cases text.
type Lower struct{}

func (Lower) Name() string      { return "lower" }
func (Lower) Arity() (int, int) { return 0, 0 }

func (Lower) Apply(v value.Value, _ []value.Value) (value.Value, error) {
	return caseDirective(v, cases.Lower(language.Und)), nil
}

func (Lower) Wrap(out output.Sink, _ value.ContentKind, _ []value.Value) (output.ClosingSink, error) {
	c := cases.Lower(language.Und)
	return &chunkSink{out: out, fn: c.String}, nil
}

// Title capitalizes words. Word boundaries can span chunks, so it is pure
// only.
type Title struct{}

func (Title) Name() string      { return "title" }
func (Title) Arity() (int, int) { return 0, 0 }

func (Title) Apply(v value.Value, _ []value.Value) (value.Value, error) {
	return caseDirective(v, cases.Title(language.English)), nil
}

// EscapeURI percent-encodes everything outside the unreserved set.
type EscapeURI struct{}

func (EscapeURI) Name() string      { return "escapeUri" }
func (EscapeURI) Arity() (int, int) { return 0, 0 }

func escapeURI(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}

func (EscapeURI) Apply(v value.Value, _ []value.Value) (value.Value, error) {
	return value.Sanitized{ContentKind: value.ContentURI, Content: escapeURI(value.ToString(v))}, nil
}

func (EscapeURI) Wrap(out output.Sink, _ value.ContentKind, _ []value.Value) (output.ClosingSink, error) {
	return &chunkSink{out: out, fn: escapeURI}, nil
}

// Identity passes values through unchanged.
type Identity struct {
	DirectiveName string
}

func (d Identity) Name() string    { return d.DirectiveName }
func (Identity) Arity() (int, int) { return 0, 0 }

func (Identity) Apply(v value.Value, _ []value.Value) (value.Value, error) {
	return v, nil
}

func (Identity) Wrap(out output.Sink, _ value.ContentKind, _ []value.Value) (output.ClosingSink, error) {
	return &chunkSink{out: out, fn: passThrough}, nil
}

func passThrough(s string) string { return s }
