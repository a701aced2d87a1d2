package buildctx

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/tetratelabs/wazero"

	"github.com/platinummonkey/modhub/pkg/plugins"
)

// VersionSection is the custom section a wasm plugin declares its version in
const VersionSection = "modhub_version"

type dynamicRecorder interface {
	RecordDynamic(info ModuleInfo)
}

// LoadModule compiles bin, checks its imports against the reference table and
// instantiates it under a fresh name on the host runtime
func (c *Context) LoadModule(ctx context.Context, rec *plugins.Record, bin []byte) (*Module, error) {
	if c.isClosed() {
		return nil, ErrClosed
	}
	rt := c.host.Wasm()
	if rt == nil {
		return nil, fmt.Errorf("plugin %s: host has no wasm runtime", rec.ID)
	}

	compiled, err := c.compile(ctx, rt, bin)
	if err != nil {
		return nil, fmt.Errorf("plugin %s: %w", rec.ID, err)
	}

	for _, def := range compiled.ImportedFunctions() {
		modName, member, _ := def.Import()
		ref, err := c.resolve(ctx, rec, modName)
		if err != nil {
			return nil, err
		}
		if ref.info.Kind != ModuleWasm {
			return nil, &LinkError{ID: rec.ID, Reference: modName, Err: fmt.Errorf("not a wasm module")}
		}
		host := rt.Module(modName)
		if host == nil {
			return nil, &LinkError{ID: rec.ID, Reference: modName, Err: fmt.Errorf("not instantiated")}
		}
		if host.ExportedFunction(member) == nil {
			return nil, &LinkError{ID: rec.ID, Reference: modName, Member: member}
		}
	}

	name := c.freshName(rec.ID)
	cfg := wazero.NewModuleConfig().WithName(name).WithStartFunctions("_initialize")
	inst, err := rt.InstantiateModule(ctx, compiled, cfg)
	if err != nil {
		return nil, fmt.Errorf("plugin %s: failed to instantiate: %w", rec.ID, err)
	}

	if recorder, ok := c.host.(dynamicRecorder); ok {
		recorder.RecordDynamic(ModuleInfo{Name: name, Kind: ModuleWasm, Location: "plugin:" + rec.ID})
	}

	mod := &Module{
		Name: name,
		ID:   rec.ID,
		Kind: plugins.KindPrebuilt,
		wasm: inst,
	}
	for _, section := range compiled.CustomSections() {
		if section.Name() == VersionSection {
			mod.Version = strings.TrimSpace(string(section.Data()))
		}
	}
	return mod, nil
}

// compile returns the compiled form of bin, reusing it within this context
func (c *Context) compile(ctx context.Context, rt wazero.Runtime, bin []byte) (wazero.CompiledModule, error) {
	sum := sha256.Sum256(bin)
	key := hex.EncodeToString(sum[:])

	c.mu.RLock()
	compiled, ok := c.compiled[key]
	c.mu.RUnlock()
	if ok {
		return compiled, nil
	}

	compiled, err := rt.CompileModule(ctx, bin)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		_ = compiled.Close(ctx)
		return nil, ErrClosed
	}
	if existing, ok := c.compiled[key]; ok {
		_ = compiled.Close(ctx)
		return existing, nil
	}
	c.compiled[key] = compiled
	return compiled, nil
}
