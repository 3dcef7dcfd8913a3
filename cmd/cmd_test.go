package cmd

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	sbundle "github.com/conneroisu/sojourn/internal/bundle"
	"github.com/conneroisu/sojourn/internal/registry"
	"github.com/conneroisu/sojourn/internal/renderer"
	"github.com/conneroisu/sojourn/internal/value"
	"github.com/conneroisu/sojourn/internal/version"
)

const testBundle = `
templates:
  - name: greet
    params:
      - {name: name, type: string}
      - {name: user, type: "?string", injected: true, optional: true}
    body:
      - "Hello, "
      - print: {param: name}
      - if: {op: "!=", args: [{ij: user}, null]}
        then: [" from ", {print: {ij: user}}]
  - name: rows
    params: [{name: items}]
    body:
      - for: item
        in: {param: items}
        body: [{print: {var: item}}, ";"]
`

func writeBundle(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "site.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testBundle), 0o644))
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestRenderCommand(t *testing.T) {
	bundle := writeBundle(t)

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"param", []string{"-p", "name=Ann"}, "Hello, Ann"},
		{"injected param", []string{"-p", "name=Ann", "--ij", "user=Bo"}, "Hello, Ann from Bo"},
		{"empty value is a string", []string{"-p", "name="}, "Hello, "},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := run(t, append([]string{"render", "greet", "-b", bundle, "-l", "error"}, tt.args...)...)
			require.NoError(t, err)
			assert.Equal(t, tt.want, out)
		})
	}
}

func TestRenderCommandDeferredParam(t *testing.T) {
	bundle := writeBundle(t)

	out, err := run(t, "render", "rows", "-b", bundle, "-l", "error",
		"-p", "items=[1, two, 3.5]", "--defer", "items=20ms")
	require.NoError(t, err)
	assert.Equal(t, "1;two;3.5;", out)
}

func TestRenderCommandToFile(t *testing.T) {
	bundle := writeBundle(t)
	output := filepath.Join(t.TempDir(), "out.html")

	_, err := run(t, "render", "greet", "-b", bundle, "-l", "error", "-p", "name=Ann", "-o", output)
	require.NoError(t, err)
	data, err := os.ReadFile(output)
	require.NoError(t, err)
	assert.Equal(t, "Hello, Ann", string(data))
}

func TestRenderCommandErrors(t *testing.T) {
	bundle := writeBundle(t)

	_, err := run(t, "render", "nope", "-b", bundle, "-l", "error")
	assert.Error(t, err)

	_, err = run(t, "render", "greet", "-b", bundle, "-l", "error")
	assert.Error(t, err, "a required param is missing")

	_, err = run(t, "render", "greet", "-b", bundle, "-l", "error", "-p", "name=Ann", "--defer", "other=1s")
	assert.ErrorContains(t, err, "no such param")
}

func TestListCommand(t *testing.T) {
	bundle := writeBundle(t)

	out, err := run(t, "list", "-b", bundle, "-l", "error", "-f", "json")
	require.NoError(t, err)
	var infos []registry.TemplateInfo
	require.NoError(t, json.Unmarshal([]byte(out), &infos))
	require.Len(t, infos, 2)
	assert.Equal(t, "greet", infos[0].Name)
	assert.Equal(t, "rows", infos[1].Name)

	out, err = run(t, "list", "-b", bundle, "-l", "error", "-f", "yaml")
	require.NoError(t, err)
	var fromYAML []registry.TemplateInfo
	require.NoError(t, yaml.Unmarshal([]byte(out), &fromYAML))
	assert.Equal(t, infos, fromYAML)

	out, err = run(t, "list", "-b", bundle, "-l", "error")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "NAME"))
	assert.Contains(t, lines[1], "ij.user:?string?")
}

func TestFormatValidation(t *testing.T) {
	_, err := run(t, "version", "-f", "js")
	assert.ErrorContains(t, err, `did you mean "json"`)

	_, err = run(t, "version", "-f", "xml")
	assert.ErrorContains(t, err, "supported: text, json, yaml")
}

func TestVersionCommand(t *testing.T) {
	out, err := run(t, "version", "--short")
	require.NoError(t, err)
	assert.Equal(t, version.Get().Short()+"\n", out)

	out, err = run(t, "version", "-f", "json")
	require.NoError(t, err)
	var info version.BuildInfo
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.Equal(t, version.Get().GoVersion, info.GoVersion)
}

func TestDataFlags(t *testing.T) {
	dir := t.TempDir()
	paramsFile := filepath.Join(dir, "params.yaml")
	require.NoError(t, os.WriteFile(paramsFile, []byte("title: Shop\ncount: 2\n"), 0o644))

	flags := &DataFlags{
		ParamsFile: paramsFile,
		Params:     []string{"count=3", "tags=[a, b]"},
		Injected:   []string{"user=ann"},
		Deferred:   []string{"title=1ms"},
	}
	params, injected, err := flags.Data()
	require.NoError(t, err)
	assert.Equal(t, 3, params["count"])
	assert.Equal(t, []any{"a", "b"}, params["tags"])
	assert.Equal(t, map[string]any{"user": "ann"}, injected)

	future, ok := params["title"].(*value.Future)
	require.True(t, ok, "deferred params become futures")
	select {
	case <-future.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("deferred param never completed")
	}
}

func TestParseAssignmentsRejectsMalformed(t *testing.T) {
	for _, in := range []string{"novalue", "=x", "a=[unclosed"} {
		assert.Error(t, parseAssignments([]string{in}, map[string]any{}), in)
	}
}

func TestRenderToFileKeepsOldOutputOnError(t *testing.T) {
	bundle := writeBundle(t)
	output := filepath.Join(t.TempDir(), "page.html")
	require.NoError(t, os.WriteFile(output, []byte("old"), 0o644))

	ts, err := sbundle.LoadFiles(bundle)
	require.NoError(t, err)
	reg, err := registry.Build(ts, registry.Options{})
	require.NoError(t, err)
	r := renderer.New(registry.NewHolder(reg), renderer.Options{})

	err = renderToFile(t.Context(), r, output, "greet", map[string]any{}, nil)
	require.Error(t, err)
	data, err := os.ReadFile(output)
	require.NoError(t, err)
	assert.Equal(t, "old", string(data))

	require.NoError(t, renderToFile(t.Context(), r, output, "greet", map[string]any{"name": "Ann"}, nil))
	data, err = os.ReadFile(output)
	require.NoError(t, err)
	assert.Equal(t, "Hello, Ann", string(data))

	entries, err := os.ReadDir(filepath.Dir(output))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temporary files are cleaned up")
}
