package buildctx

import (
	"context"
	"errors"
	"testing"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tetratelabs/wazero"

	"github.com/platinummonkey/modhub/pkg/artifacts"
	"github.com/platinummonkey/modhub/pkg/plugins"
)

type fakeHost struct {
	*Runtime
	extra []ModuleInfo
}

func (h *fakeHost) Loaded() []ModuleInfo {
	return append(h.Runtime.Loaded(), h.extra...)
}

func newRuntime(t *testing.T) *Runtime {
	t.Helper()
	logger, _ := test.NewNullLogger()
	rt, err := NewRuntime(context.Background(), RuntimeOptions{Logger: logger})
	require.NoError(t, err)
	rt.RegisterWasmModule("test_env", func(ctx context.Context, r wazero.Runtime) error {
		_, err := r.NewHostModuleBuilder("test_env").
			NewFunctionBuilder().WithFunc(func(ctx context.Context) {}).Export("ping").
			Instantiate(ctx)
		return err
	})
	t.Cleanup(func() { _ = rt.Close(context.Background()) })
	return rt
}

func newContext(t *testing.T, host Host) *Context {
	t.Helper()
	logger, _ := test.NewNullLogger()
	c, err := New(context.Background(), host, Options{RunID: "run1", Logger: logger})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close(context.Background()) })
	return c
}

func appendName(b []byte, s string) []byte {
	b = append(b, byte(len(s)))
	return append(b, s...)
}

func appendSection(b []byte, id byte, content []byte) []byte {
	b = append(b, id, byte(len(content)))
	return append(b, content...)
}

// wasmModule assembles a module importing the given func() members
func wasmModule(imports [][2]string, version string) []byte {
	b := []byte("\x00asm\x01\x00\x00\x00")
	b = appendSection(b, 1, []byte{0x01, 0x60, 0x00, 0x00})
	if len(imports) > 0 {
		sec := []byte{byte(len(imports))}
		for _, imp := range imports {
			sec = appendName(sec, imp[0])
			sec = appendName(sec, imp[1])
			sec = append(sec, 0x00, 0x00)
		}
		b = appendSection(b, 2, sec)
	}
	if version != "" {
		sec := appendName(nil, VersionSection)
		b = appendSection(b, 0, append(sec, version...))
	}
	return b
}

func src(name, text string) artifacts.File {
	return artifacts.File{Name: name, Data: []byte(text)}
}

func TestRuntime_ForceLoad(t *testing.T) {
	rt := newRuntime(t)
	ctx := context.Background()

	assert.True(t, rt.IsLoaded("fmt"))
	assert.False(t, rt.IsLoaded("encoding/hex"))

	info, err := rt.ForceLoad(ctx, "encoding/hex")
	require.NoError(t, err)
	assert.Equal(t, ModuleGo, info.Kind)
	assert.True(t, rt.IsLoaded("encoding/hex"))

	info, err = rt.ForceLoad(ctx, "wasi_snapshot_preview1")
	require.NoError(t, err)
	assert.Equal(t, ModuleWasm, info.Kind)
	assert.NotNil(t, rt.Wasm().Module("wasi_snapshot_preview1"))

	_, err = rt.ForceLoad(ctx, "example.com/none")
	assert.ErrorIs(t, err, ErrUnknownModule)

	_, ok := rt.Symbols(HostPackage)
	assert.True(t, ok)
}

func TestNew_ReferenceTable(t *testing.T) {
	host := &fakeHost{Runtime: newRuntime(t), extra: []ModuleInfo{
		{Name: "old-plugin-run0", Kind: ModuleWasm, Location: "plugin:old", Dynamic: true},
		{Name: "ghost", Kind: ModuleWasm},
		{Name: "runtime/debug", Kind: ModuleGo, Location: "stdlib:runtime/debug"},
		{Name: "github.com/traefik/yaegi/stdlib", Kind: ModuleGo, Location: "stdlib:self"},
		{Name: "fmt", Kind: ModuleGo, Location: "elsewhere"},
	}}
	c := newContext(t, host)

	refs := c.References()
	for _, want := range []string{"fmt", "strings", HostPackage, "reflect", "wasi_snapshot_preview1"} {
		assert.Contains(t, refs, want)
	}
	for _, unwanted := range []string{"old-plugin-run0", "ghost", "runtime/debug", "github.com/traefik/yaegi/stdlib", "encoding/hex"} {
		assert.NotContains(t, refs, unwanted)
	}

	ref, ok := c.lookup("fmt")
	require.True(t, ok)
	assert.Equal(t, "stdlib:fmt", ref.info.Location, "first writer wins")
}

func TestLoadReference(t *testing.T) {
	c := newContext(t, newRuntime(t))
	ctx := context.Background()

	require.NoError(t, c.LoadReference(ctx, "encoding/base64"))
	assert.True(t, c.Has("encoding/base64"))
	require.NoError(t, c.LoadReference(ctx, "encoding/base64"))

	assert.Error(t, c.LoadReference(ctx, "runtime/debug"))
	assert.ErrorIs(t, c.LoadReference(ctx, "example.com/none"), ErrUnknownModule)
}

const helloSource = `package hello

import (
	"strings"

	"modhub/host"
)

var Version = "1.0.0"

func Greet(name string) string {
	host.Log("greeting " + name)
	return "hello " + strings.ToUpper(name)
}
`

func TestCompileSource(t *testing.T) {
	c := newContext(t, newRuntime(t))
	rec := &plugins.Record{ID: "hello", Kind: plugins.KindSource}

	mod, err := c.CompileSource(context.Background(), rec, []artifacts.File{src("hello.go", helloSource)})
	require.NoError(t, err)
	assert.Equal(t, "hello-run1", mod.Name)
	assert.Equal(t, "1.0.0", mod.Version)

	v, err := mod.Symbol("Greet")
	require.NoError(t, err)
	greet, ok := v.Interface().(func(string) string)
	require.True(t, ok)
	assert.Equal(t, "hello WORLD", greet("world"))
}

func TestCompileSource_MultipleFiles(t *testing.T) {
	c := newContext(t, newRuntime(t))
	rec := &plugins.Record{ID: "multi", Kind: plugins.KindSource}

	mod, err := c.CompileSource(context.Background(), rec, []artifacts.File{
		src("a.go", "package multi\n\nimport \"strings\"\n\nfunc Shout(s string) string { return strings.ToUpper(suffix(s)) }\n"),
		src("b.go", "package multi\n\nimport \"fmt\"\n\nfunc suffix(s string) string { return fmt.Sprintf(\"%s!\", s) }\n"),
	})
	require.NoError(t, err)
	assert.Empty(t, mod.Version)

	v, err := mod.Symbol("Shout")
	require.NoError(t, err)
	assert.Equal(t, "HI!", v.Interface().(func(string) string)("hi"))
}

func TestCompileSource_MixedPackages(t *testing.T) {
	c := newContext(t, newRuntime(t))
	_, err := c.CompileSource(context.Background(), &plugins.Record{ID: "mixed"}, []artifacts.File{
		src("a.go", "package a\n"),
		src("b.go", "package b\n"),
	})
	assert.ErrorContains(t, err, "expected a")
}

func TestCompileSource_LoadsReferenceOnDemand(t *testing.T) {
	c := newContext(t, newRuntime(t))
	require.False(t, c.Has("encoding/hex"))

	mod, err := c.CompileSource(context.Background(), &plugins.Record{ID: "hexer"}, []artifacts.File{
		src("hexer.go", "package hexer\n\nimport \"encoding/hex\"\n\nfunc Encode(b []byte) string { return hex.EncodeToString(b) }\n"),
	})
	require.NoError(t, err)
	assert.True(t, c.Has("encoding/hex"))

	v, err := mod.Symbol("Encode")
	require.NoError(t, err)
	assert.Equal(t, "ff", v.Interface().(func([]byte) string)([]byte{0xff}))
}

func TestCompileSource_LinkAndPolicyErrors(t *testing.T) {
	c := newContext(t, newRuntime(t))
	ctx := context.Background()

	_, err := c.CompileSource(ctx, &plugins.Record{ID: "missing"}, []artifacts.File{
		src("m.go", "package m\n\nimport \"example.com/nowhere\"\n\nvar _ = nowhere.X\n"),
	})
	var linkErr *LinkError
	require.ErrorAs(t, err, &linkErr)
	assert.Equal(t, "example.com/nowhere", linkErr.Reference)
	assert.ErrorIs(t, err, ErrUnknownModule)

	unsafeSrc := []artifacts.File{src("u.go", "package u\n\nimport \"unsafe\"\n\nvar Size = unsafe.Sizeof(0)\n")}

	_, err = c.CompileSource(ctx, &plugins.Record{ID: "untrusted"}, unsafeSrc)
	var policyErr *PolicyError
	require.ErrorAs(t, err, &policyErr)
	assert.Equal(t, "unsafe", policyErr.Reference)

	_, err = c.CompileSource(ctx, &plugins.Record{ID: "trusted", Trusted: true}, unsafeSrc)
	require.ErrorAs(t, err, &linkErr)
	assert.False(t, errors.As(err, &policyErr))

	_, err = c.CompileSource(ctx, &plugins.Record{ID: "wasi"}, []artifacts.File{
		src("w.go", "package w\n\nimport \"wasi_snapshot_preview1\"\n"),
	})
	require.ErrorAs(t, err, &linkErr)
}

func TestCompileSource_SyntaxError(t *testing.T) {
	c := newContext(t, newRuntime(t))
	_, err := c.CompileSource(context.Background(), &plugins.Record{ID: "broken"}, []artifacts.File{
		src("broken.go", "package broken\n\nfunc {"),
	})
	require.Error(t, err)
	var linkErr *LinkError
	assert.False(t, errors.As(err, &linkErr))
}

func TestCompileSource_MainPackageSymbols(t *testing.T) {
	c := newContext(t, newRuntime(t))
	mod, err := c.CompileSource(context.Background(), &plugins.Record{ID: "script"}, []artifacts.File{
		src("script.go", "package main\n\nfunc Init() int { return 42 }\n"),
	})
	require.NoError(t, err)
	v, err := mod.Symbol("Init")
	require.NoError(t, err)
	assert.Equal(t, 42, v.Interface().(func() int)())
}

func TestLoadModule(t *testing.T) {
	rt := newRuntime(t)
	c := newContext(t, rt)
	ctx := context.Background()
	bin := wasmModule([][2]string{{"test_env", "ping"}}, "1.2.3")

	mod, err := c.LoadModule(ctx, &plugins.Record{ID: "radar", Kind: plugins.KindPrebuilt}, bin)
	require.NoError(t, err)
	assert.Equal(t, "radar-run1", mod.Name)
	assert.Equal(t, "1.2.3", mod.Version)
	assert.True(t, c.Has("test_env"), "host module loaded on demand")
	assert.NotNil(t, rt.Wasm().Module("radar-run1"))

	// same bytes under another id reuse the compiled module
	other, err := c.LoadModule(ctx, &plugins.Record{ID: "radar2", Kind: plugins.KindPrebuilt}, bin)
	require.NoError(t, err)
	assert.Equal(t, "radar2-run1", other.Name)

	var dynamic bool
	for _, info := range rt.Loaded() {
		if info.Name == "radar-run1" {
			dynamic = info.Dynamic
		}
	}
	assert.True(t, dynamic)

	next := newContext(t, rt)
	assert.False(t, next.Has("radar-run1"), "plugins from earlier runs are not referenceable")
}

func TestLoadModule_LinkErrors(t *testing.T) {
	c := newContext(t, newRuntime(t))
	ctx := context.Background()

	_, err := c.LoadModule(ctx, &plugins.Record{ID: "a"}, wasmModule([][2]string{{"test_env", "pong"}}, ""))
	var linkErr *LinkError
	require.ErrorAs(t, err, &linkErr)
	assert.Equal(t, "pong", linkErr.Member)

	_, err = c.LoadModule(ctx, &plugins.Record{ID: "b"}, wasmModule([][2]string{{"env", "abort"}}, ""))
	require.ErrorAs(t, err, &linkErr)
	assert.Equal(t, "env", linkErr.Reference)

	_, err = c.LoadModule(ctx, &plugins.Record{ID: "c"}, wasmModule([][2]string{{"fmt", "Println"}}, ""))
	require.ErrorAs(t, err, &linkErr)

	_, err = c.LoadModule(ctx, &plugins.Record{ID: "d"}, []byte("not wasm"))
	require.Error(t, err)
	assert.False(t, errors.As(err, &linkErr))
}

func TestClose(t *testing.T) {
	c := newContext(t, newRuntime(t))
	ctx := context.Background()
	_, err := c.LoadModule(ctx, &plugins.Record{ID: "x"}, wasmModule(nil, ""))
	require.NoError(t, err)

	require.NoError(t, c.Close(ctx))
	require.NoError(t, c.Close(ctx))
	assert.Zero(t, c.Len())

	_, err = c.CompileSource(ctx, &plugins.Record{ID: "y"}, []artifacts.File{src("y.go", "package y\n")})
	assert.ErrorIs(t, err, ErrClosed)
	_, err = c.LoadModule(ctx, &plugins.Record{ID: "z"}, wasmModule(nil, ""))
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, c.LoadReference(ctx, "fmt"), ErrClosed)
}
