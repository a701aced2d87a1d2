package buildctx

import (
	"bytes"
	"context"
	"fmt"
	"go/ast"
	"go/parser"
	"go/printer"
	"go/token"
	"reflect"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"

	"github.com/platinummonkey/modhub/pkg/artifacts"
	"github.com/platinummonkey/modhub/pkg/plugins"
)

// CompileSource interprets the source files of rec against the reference table.
// Each call uses a fresh interpreter that sees only the references the files import.
func (c *Context) CompileSource(ctx context.Context, rec *plugins.Record, files []artifacts.File) (*Module, error) {
	if c.isClosed() {
		return nil, ErrClosed
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("plugin %s has no source files", rec.ID)
	}

	imports, err := scanImports(files)
	if err != nil {
		return nil, fmt.Errorf("plugin %s: %w", rec.ID, err)
	}

	exports := interp.Exports{}
	if mapTypes, ok := stdlib.Symbols["."]; ok {
		exports["."] = mapTypes
	}
	for _, name := range imports {
		ref, err := c.resolve(ctx, rec, name)
		if err != nil {
			return nil, err
		}
		if ref.info.Kind != ModuleGo {
			return nil, &LinkError{ID: rec.ID, Reference: name, Err: fmt.Errorf("not a Go package")}
		}
		for key, symbols := range ref.exports {
			exports[key] = symbols
		}
	}

	src, pkgName, err := mergeSources(files)
	if err != nil {
		return nil, fmt.Errorf("plugin %s: %w", rec.ID, err)
	}

	out := &logWriter{entry: c.logger.WithField("plugin", rec.ID)}
	i := interp.New(interp.Options{Stdout: out, Stderr: out})
	if err := i.Use(exports); err != nil {
		return nil, fmt.Errorf("plugin %s: %w", rec.ID, err)
	}
	if _, err := i.EvalWithContext(ctx, src); err != nil {
		return nil, fmt.Errorf("plugin %s: %w", rec.ID, err)
	}

	mod := &Module{
		Name:    c.freshName(rec.ID),
		ID:      rec.ID,
		Kind:    plugins.KindSource,
		interp:  i,
		pkgName: pkgName,
	}
	if v, err := mod.Symbol("Version"); err == nil && v.IsValid() && v.Kind() == reflect.String {
		mod.Version = v.String()
	}
	return mod, nil
}

// resolve returns the reference for an import, loading it on demand
func (c *Context) resolve(ctx context.Context, rec *plugins.Record, name string) (*reference, error) {
	if c.denied(name) {
		if !rec.Trusted {
			return nil, &PolicyError{ID: rec.ID, Reference: name}
		}
		return nil, &LinkError{ID: rec.ID, Reference: name, Err: fmt.Errorf("denied reference")}
	}
	if matchesAny(name, selfReferences) {
		return nil, &LinkError{ID: rec.ID, Reference: name, Err: fmt.Errorf("build tooling is not linkable")}
	}

	if ref, ok := c.lookup(name); ok {
		return ref, nil
	}
	loadErr := c.LoadReference(ctx, name)
	if loadErr != nil {
		c.logger.WithFields(logrus.Fields{
			"plugin":    rec.ID,
			"reference": name,
		}).WithError(loadErr).Debug("Reference not loadable")
	}
	if ref, ok := c.lookup(name); ok {
		return ref, nil
	}
	return nil, &LinkError{ID: rec.ID, Reference: name, Err: loadErr}
}

// scanImports lists the distinct import paths of files, in first-seen order
func scanImports(files []artifacts.File) ([]string, error) {
	fset := token.NewFileSet()
	seen := make(map[string]bool)
	var imports []string
	for _, f := range files {
		parsed, err := parser.ParseFile(fset, f.Name, f.Data, parser.ImportsOnly)
		if err != nil {
			return nil, err
		}
		for _, spec := range parsed.Imports {
			p, err := strconv.Unquote(spec.Path.Value)
			if err != nil {
				return nil, fmt.Errorf("%s: bad import %s", f.Name, spec.Path.Value)
			}
			if !seen[p] {
				seen[p] = true
				imports = append(imports, p)
			}
		}
	}
	return imports, nil
}

// mergeSources joins the files of one package into a single source text
func mergeSources(files []artifacts.File) (string, string, error) {
	fset := token.NewFileSet()
	parsed := make([]*ast.File, 0, len(files))
	for _, f := range files {
		file, err := parser.ParseFile(fset, f.Name, f.Data, parser.SkipObjectResolution)
		if err != nil {
			return "", "", err
		}
		parsed = append(parsed, file)
	}

	pkgName := parsed[0].Name.Name
	for i, file := range parsed[1:] {
		if file.Name.Name != pkgName {
			return "", "", fmt.Errorf("%s declares package %s, expected %s", files[i+1].Name, file.Name.Name, pkgName)
		}
	}
	if len(files) == 1 {
		return string(files[0].Data), pkgName, nil
	}

	imports := &ast.GenDecl{Tok: token.IMPORT, Lparen: 1, Rparen: 1}
	seen := make(map[string]bool)
	var decls []ast.Decl
	for _, file := range parsed {
		for _, decl := range file.Decls {
			gen, ok := decl.(*ast.GenDecl)
			if !ok || gen.Tok != token.IMPORT {
				decls = append(decls, decl)
				continue
			}
			for _, spec := range gen.Specs {
				is := spec.(*ast.ImportSpec)
				key := is.Path.Value
				if is.Name != nil {
					key = is.Name.Name + " " + key
				}
				if !seen[key] {
					seen[key] = true
					imports.Specs = append(imports.Specs, is)
				}
			}
		}
	}

	merged := &ast.File{Name: ast.NewIdent(pkgName)}
	if len(imports.Specs) > 0 {
		merged.Decls = append(merged.Decls, imports)
	}
	merged.Decls = append(merged.Decls, decls...)

	var buf bytes.Buffer
	if err := printer.Fprint(&buf, fset, merged); err != nil {
		return "", "", err
	}
	return buf.String(), pkgName, nil
}

// logWriter forwards interpreter output to the logger, one entry per write
type logWriter struct {
	entry *logrus.Entry
}

func (w *logWriter) Write(p []byte) (int, error) {
	if msg := strings.TrimRight(string(p), "\n"); msg != "" {
		w.entry.Info(msg)
	}
	return len(p), nil
}
