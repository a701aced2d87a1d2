// Package buildctx builds plugin modules against an isolated reference table.
//
// A Context is created per load run from the modules its Host reports as
// loaded. Dynamic modules, modules without a location, the build tooling's own
// packages and the deny list are left out; the extras are force-loaded and
// added. The first module registered under a name wins.
//
// Source plugins are interpreted with yaegi. Each plugin gets a fresh
// interpreter that can import only what the table holds; an import missing
// from the table is loaded on demand and fails with a *LinkError when the host
// cannot provide it. A denied import from an untrusted plugin fails with a
// *PolicyError.
//
// Prebuilt plugins are wasm modules. Their imports are checked against the
// table and the instantiated host modules before they are instantiated on the
// host's wazero runtime under a name unique to the run:
//
//	rt, _ := buildctx.NewRuntime(ctx, buildctx.RuntimeOptions{})
//	bc, _ := buildctx.New(ctx, rt, buildctx.Options{})
//	defer bc.Close(ctx)
//	mod, err := bc.LoadModule(ctx, rec, bin)
package buildctx
