package buildctx

import (
	"context"
	"fmt"
	"reflect"

	"github.com/tetratelabs/wazero/api"
	"github.com/traefik/yaegi/interp"

	"github.com/platinummonkey/modhub/pkg/plugins"
)

// Module is a built plugin handed to the host
type Module struct {
	// Name is the fresh name the module was built under
	Name    string
	ID      string
	Kind    plugins.Kind
	Version string

	interp  *interp.Interpreter
	pkgName string
	wasm    api.Module
}

// Symbol returns an exported package-level symbol of a source module
func (m *Module) Symbol(name string) (reflect.Value, error) {
	if m.interp == nil {
		return reflect.Value{}, fmt.Errorf("module %s has no Go symbols", m.Name)
	}
	expr := name
	if m.pkgName != "main" {
		expr = m.pkgName + "." + name
	}
	return m.interp.Eval(expr)
}

// Call invokes an exported function of a wasm module
func (m *Module) Call(ctx context.Context, name string, params ...uint64) ([]uint64, error) {
	if m.wasm == nil {
		return nil, fmt.Errorf("module %s is not a wasm module", m.Name)
	}
	fn := m.wasm.ExportedFunction(name)
	if fn == nil {
		return nil, fmt.Errorf("module %s exports no function %s", m.Name, name)
	}
	return fn.Call(ctx, params...)
}

// Close releases a wasm module instance. Source modules hold nothing to release.
func (m *Module) Close(ctx context.Context) error {
	if m.wasm != nil {
		return m.wasm.Close(ctx)
	}
	return nil
}
