// Package bundle reads template bundles: YAML documents encoding the
// template AST that a parser and type checker would otherwise produce.
//
// A bundle looks like
//
//	namespace: shop
//	templates:
//	  - name: .greeting
//	    params:
//	      - {name: who, type: string}
//	    body:
//	      - text: "Hello, "
//	      - print: {param: who}
//	        directives: [escapeHtml]
//
// Names starting with a dot are prefixed with the namespace. Expression
// types are inferred from literals, parameter declarations and enclosing
// lets and loops; a "type" key on any expression overrides the inference.
package bundle

import (
	"bytes"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/conneroisu/sojourn/internal/ast"
	serrors "github.com/conneroisu/sojourn/internal/errors"
)

// Extensions lists the file extensions Load treats as bundles.
var Extensions = []string{".yaml", ".yml"}

// Decode reads every YAML document in r. source names the input in errors
// and in ast.Template.Source.
func Decode(r io.Reader, source string) ([]*ast.Template, error) {
	dec := yaml.NewDecoder(r)
	var out []*ast.Template
	for {
		var doc yaml.Node
		err := dec.Decode(&doc)
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return nil, serrors.NewCompileError(serrors.ErrCodeInvalidTemplate,
				source+": "+err.Error()).WithContext("source", source)
		}
		ts, err := decodeDocument(&doc, source)
		if err != nil {
			return nil, err
		}
		out = append(out, ts...)
	}
}

// Parse decodes a bundle held in memory.
func Parse(data []byte, source string) ([]*ast.Template, error) {
	return Decode(bytes.NewReader(data), source)
}

// Load reads a bundle file, or every bundle file under a directory in
// lexical order.
func Load(path string) ([]*ast.Template, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, serrors.NewIOError(serrors.ErrCodeFileNotFound, "cannot open bundle "+path, err).
			WithContext("path", path)
	}
	if !info.IsDir() {
		return loadFile(path)
	}

	var files []string
	err = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && IsBundleFile(p) {
			files = append(files, p)
		}
		return nil
	})
	if err != nil {
		return nil, serrors.NewIOError(serrors.ErrCodeFileNotFound, "cannot walk "+path, err).
			WithContext("path", path)
	}
	sort.Strings(files)
	return LoadFiles(files...)
}

// LoadFiles loads each path with Load and concatenates the templates.
// Decode errors from every path are reported together.
func LoadFiles(paths ...string) ([]*ast.Template, error) {
	collector := serrors.NewErrorCollector()
	var out []*ast.Template
	for _, p := range paths {
		ts, err := Load(p)
		if err != nil {
			collector.AddError(p, err)
			continue
		}
		out = append(out, ts...)
	}
	if err := collector.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// IsBundleFile reports whether path has a bundle extension.
func IsBundleFile(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range Extensions {
		if ext == e {
			return true
		}
	}
	return false
}

func loadFile(path string) ([]*ast.Template, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, serrors.NewIOError(serrors.ErrCodeFileNotFound, "cannot read bundle "+path, err).
			WithContext("path", path)
	}
	return Parse(data, path)
}
