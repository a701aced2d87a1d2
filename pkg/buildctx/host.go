package buildctx

import (
	"context"
	"fmt"
	"path"
	"reflect"
	"sort"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"

	"github.com/platinummonkey/modhub/pkg/observability"
)

// ModuleKind says how a module's members are consumed
type ModuleKind int

const (
	// ModuleGo is a Go package exposed to interpreted source through its symbols
	ModuleGo ModuleKind = iota + 1
	// ModuleWasm is a wasm module instantiated on the shared wazero runtime
	ModuleWasm
)

func (k ModuleKind) String() string {
	switch k {
	case ModuleGo:
		return "go"
	case ModuleWasm:
		return "wasm"
	default:
		return fmt.Sprintf("module-kind(%d)", int(k))
	}
}

// ModuleInfo describes one module loaded into the host
type ModuleInfo struct {
	// Name is the Go import path or the wasm module name
	Name string
	Kind ModuleKind
	// Location says where the module comes from. Modules without one are not referenceable.
	Location string
	// Dynamic modules were created at runtime, e.g. plugins instantiated by an earlier run
	Dynamic bool
}

// Host is the runtime a build context mirrors
type Host interface {
	Loaded() []ModuleInfo
	IsLoaded(name string) bool
	ForceLoad(ctx context.Context, name string) (ModuleInfo, error)
	// Symbols returns the interpreter exports of a Go module
	Symbols(name string) (interp.Exports, bool)
	// Wasm returns the runtime wasm modules are instantiated on
	Wasm() wazero.Runtime
}

// WasmInstantiator instantiates a host module on r
type WasmInstantiator func(ctx context.Context, r wazero.Runtime) error

// DefaultPreload lists the Go packages a Runtime reports as loaded from the start
var DefaultPreload = []string{
	"bytes", "context", "encoding/json", "errors", "fmt", "math", "sort",
	"strconv", "strings", "sync", "time", "unicode", "unicode/utf8",
}

// RuntimeOptions configures a Runtime
type RuntimeOptions struct {
	// Preload are the Go packages loaded at start; nil means DefaultPreload
	Preload []string
	Logger  *logrus.Logger
}

type goPackage struct {
	key     string
	exports interp.Exports
	info    ModuleInfo
}

// Runtime is the reference Host: the Go standard library as exported by yaegi,
// host SDK packages and wasm host modules on one shared wazero runtime
type Runtime struct {
	mu     sync.RWMutex
	logger *logrus.Logger

	packages map[string]*goPackage
	wasmMods map[string]WasmInstantiator
	loaded   map[string]ModuleInfo
	wasm     wazero.Runtime
}

// NewRuntime creates a runtime with the standard library, the host SDK and
// the wasi host module registered
func NewRuntime(ctx context.Context, opts RuntimeOptions) (*Runtime, error) {
	logger := observability.OrDefault(opts.Logger)
	r := &Runtime{
		logger:   logger,
		packages: make(map[string]*goPackage),
		wasmMods: make(map[string]WasmInstantiator),
		loaded:   make(map[string]ModuleInfo),
		wasm:     wazero.NewRuntimeWithConfig(ctx, wazero.NewRuntimeConfig().WithCustomSections(true)),
	}

	for key, symbols := range stdlib.Symbols {
		if key == "." {
			continue
		}
		r.addPackage(key, symbols, "stdlib")
	}

	preload := opts.Preload
	if preload == nil {
		preload = DefaultPreload
	}
	for _, name := range preload {
		if pkg, ok := r.packages[name]; ok {
			r.loaded[name] = pkg.info
		}
	}

	if err := r.RegisterPackage(HostPackage, hostSymbols(logger)); err != nil {
		return nil, err
	}
	r.RegisterWasmModule(wasi_snapshot_preview1.ModuleName, func(ctx context.Context, rt wazero.Runtime) error {
		_, err := wasi_snapshot_preview1.Instantiate(ctx, rt)
		return err
	})
	r.RegisterWasmModule(HostWasmModule, hostWasmModule(logger))

	return r, nil
}

func (r *Runtime) addPackage(key string, symbols map[string]reflect.Value, location string) {
	name := path.Dir(key)
	r.packages[name] = &goPackage{
		key:     key,
		exports: interp.Exports{key: symbols},
		info:    ModuleInfo{Name: name, Kind: ModuleGo, Location: location + ":" + name},
	}
}

// RegisterPackage makes a Go package available under importPath. It is loaded on
// first ForceLoad.
func (r *Runtime) RegisterPackage(importPath string, symbols map[string]reflect.Value) error {
	if importPath == "" || strings.HasSuffix(importPath, "/") {
		return fmt.Errorf("invalid package path %q", importPath)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.addPackage(importPath+"/"+path.Base(importPath), symbols, "host")
	return nil
}

// RegisterWasmModule makes a wasm host module available under name. It is
// instantiated on the shared runtime on first ForceLoad.
func (r *Runtime) RegisterWasmModule(name string, instantiate WasmInstantiator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.wasmMods[name] = instantiate
}

// Loaded returns every loaded module sorted by name
func (r *Runtime) Loaded() []ModuleInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]ModuleInfo, 0, len(r.loaded))
	for _, info := range r.loaded {
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// IsLoaded reports whether name is loaded
func (r *Runtime) IsLoaded(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.loaded[name]
	return ok
}

// ForceLoad loads a registered module
func (r *Runtime) ForceLoad(ctx context.Context, name string) (ModuleInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if info, ok := r.loaded[name]; ok {
		return info, nil
	}

	if pkg, ok := r.packages[name]; ok {
		r.loaded[name] = pkg.info
		r.logger.WithField("module", name).Debug("Loaded Go package")
		return pkg.info, nil
	}

	if instantiate, ok := r.wasmMods[name]; ok {
		if r.wasm.Module(name) == nil {
			if err := instantiate(ctx, r.wasm); err != nil {
				return ModuleInfo{}, fmt.Errorf("failed to instantiate wasm module %s: %w", name, err)
			}
		}
		info := ModuleInfo{Name: name, Kind: ModuleWasm, Location: "wasm:" + name}
		r.loaded[name] = info
		r.logger.WithField("module", name).Debug("Instantiated wasm host module")
		return info, nil
	}

	return ModuleInfo{}, fmt.Errorf("%w: %s", ErrUnknownModule, name)
}

// Symbols returns the interpreter exports of a registered Go package
func (r *Runtime) Symbols(name string) (interp.Exports, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	pkg, ok := r.packages[name]
	if !ok {
		return nil, false
	}
	return pkg.exports, true
}

// Wasm returns the shared wazero runtime
func (r *Runtime) Wasm() wazero.Runtime {
	return r.wasm
}

// RecordDynamic marks a module instantiated by a plugin load as loaded and dynamic
func (r *Runtime) RecordDynamic(info ModuleInfo) {
	info.Dynamic = true
	r.mu.Lock()
	defer r.mu.Unlock()
	r.loaded[info.Name] = info
}

// Close releases the wazero runtime and every module instantiated on it
func (r *Runtime) Close(ctx context.Context) error {
	return r.wasm.Close(ctx)
}
