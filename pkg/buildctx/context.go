package buildctx

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"github.com/traefik/yaegi/interp"

	"github.com/platinummonkey/modhub/pkg/observability"
)

// selfReferences are the build tooling's own packages. Plugins never link against them.
var selfReferences = []string{
	"github.com/traefik/yaegi/stdlib",
	"github.com/traefik/yaegi/interp",
	"github.com/platinummonkey/modhub/pkg/buildctx",
	"github.com/platinummonkey/modhub/pkg/loader",
}

// DefaultDenyList returns the references withheld from every build context
func DefaultDenyList() []string {
	return []string{"unsafe", "syscall", "plugin", "runtime/debug"}
}

// DefaultExtras returns the references force-loaded into every build context
func DefaultExtras() []string {
	return []string{HostPackage, "reflect", wasi_snapshot_preview1.ModuleName}
}

// Options configures a Context
type Options struct {
	// DenyList references are excluded; nil means DefaultDenyList
	DenyList []string
	// Extras are force-loaded and added; nil means DefaultExtras
	Extras []string
	// RunID suffixes fresh module names; empty means a new uuid
	RunID   string
	Logger  *logrus.Logger
	Metrics *observability.Metrics
}

type reference struct {
	info    ModuleInfo
	exports interp.Exports
}

// Context is an isolated reference table mirroring the host's loaded modules,
// plus the compile functions that link against it
type Context struct {
	host    Host
	runID   string
	deny    []string
	logger  *logrus.Logger
	metrics *observability.Metrics

	mu       sync.RWMutex
	refs     map[string]*reference
	compiled map[string]wazero.CompiledModule
	closed   bool
}

// New builds a context from the host's loaded modules and the forced extras
func New(ctx context.Context, host Host, opts Options) (*Context, error) {
	if host == nil {
		return nil, fmt.Errorf("build context requires a host")
	}
	if opts.DenyList == nil {
		opts.DenyList = DefaultDenyList()
	}
	if opts.Extras == nil {
		opts.Extras = DefaultExtras()
	}
	if opts.RunID == "" {
		opts.RunID = uuid.NewString()
	}

	c := &Context{
		host:     host,
		runID:    opts.RunID,
		deny:     opts.DenyList,
		logger:   observability.OrDefault(opts.Logger),
		metrics:  opts.Metrics,
		refs:     make(map[string]*reference),
		compiled: make(map[string]wazero.CompiledModule),
	}

	skipped := 0
	for _, info := range host.Loaded() {
		if info.Dynamic || info.Location == "" || c.excluded(info.Name) {
			skipped++
			continue
		}
		c.add(info)
	}

	for _, name := range opts.Extras {
		if err := c.LoadReference(ctx, name); err != nil {
			c.logger.WithField("reference", name).WithError(err).Warn("Failed to load extra reference")
		}
	}

	c.metrics.SetBuildReferences(c.Len())
	c.logger.WithFields(logrus.Fields{
		"run_id":     c.runID,
		"references": c.Len(),
		"skipped":    skipped,
	}).Debug("Build context created")
	return c, nil
}

// RunID returns the id fresh module names are suffixed with
func (c *Context) RunID() string {
	return c.runID
}

// add inserts info unless a reference of that name exists. The first writer wins.
func (c *Context) add(info ModuleInfo) bool {
	var exports interp.Exports
	if info.Kind == ModuleGo {
		var ok bool
		if exports, ok = c.host.Symbols(info.Name); !ok {
			return false
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	if _, exists := c.refs[info.Name]; exists {
		return false
	}
	c.refs[info.Name] = &reference{info: info, exports: exports}
	return true
}

func (c *Context) excluded(name string) bool {
	return matchesAny(name, selfReferences) || c.denied(name)
}

func (c *Context) denied(name string) bool {
	return matchesAny(name, c.deny)
}

func matchesAny(name string, list []string) bool {
	for _, item := range list {
		if name == item || strings.HasPrefix(name, item+"/") {
			return true
		}
	}
	return false
}

// Has reports whether name is in the reference table
func (c *Context) Has(name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.refs[name]
	return ok
}

// Len returns the size of the reference table
func (c *Context) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.refs)
}

// References returns the names in the reference table, sorted
func (c *Context) References() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.refs))
	for name := range c.refs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// LoadReference force-loads one more named reference into the table
func (c *Context) LoadReference(ctx context.Context, name string) error {
	if c.isClosed() {
		return ErrClosed
	}
	if c.excluded(name) {
		return fmt.Errorf("reference %s is excluded from build contexts", name)
	}
	if c.Has(name) {
		return nil
	}

	info, err := c.host.ForceLoad(ctx, name)
	if err != nil {
		return err
	}
	if info.Location == "" {
		return fmt.Errorf("reference %s has no location", name)
	}
	if c.add(info) {
		c.metrics.SetBuildReferences(c.Len())
		c.logger.WithField("reference", name).Debug("Loaded reference")
	}
	return nil
}

func (c *Context) lookup(name string) (*reference, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ref, ok := c.refs[name]
	return ref, ok
}

func (c *Context) isClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}

// freshName returns a module name unique to this run
func (c *Context) freshName(id string) string {
	return id + "-" + c.runID
}

// Close discards the reference table and compiled modules. Instantiated modules
// stay resident in the host.
func (c *Context) Close(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true

	var errs []error
	for key, compiled := range c.compiled {
		if err := compiled.Close(ctx); err != nil {
			errs = append(errs, err)
		}
		delete(c.compiled, key)
	}
	c.refs = nil
	if len(errs) > 0 {
		return fmt.Errorf("failed to release compiled modules: %w", errs[0])
	}
	return nil
}
