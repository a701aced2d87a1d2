package catalog

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/modhub/pkg/observability"
	"github.com/platinummonkey/modhub/pkg/plugins"
	"github.com/platinummonkey/modhub/pkg/sources"
)

// ErrUnknownRecord is returned when an id is not in the catalog
var ErrUnknownRecord = errors.New("unknown record")

// Precedence lists source kinds from highest to lowest. The first record seen for an id wins.
var Precedence = []sources.Kind{
	sources.KindExternalRef,
	sources.KindRemotePlugin,
	sources.KindLocalPlugin,
	sources.KindLocalHub,
	sources.KindRemoteHub,
}

type sourceSet struct {
	kind    sources.Kind
	records []*plugins.Record
}

// Catalog merges per-source record sets into one identity-deduplicated view
type Catalog struct {
	mu      sync.RWMutex
	logger  *logrus.Logger
	metrics *observability.Metrics

	order   []string
	sets    map[string]*sourceSet
	records []*plugins.Record
	byID    map[string]*plugins.Record
	enabled map[string]bool
	graph   *Graph
}

// New creates an empty catalog. metrics may be nil.
func New(logger *logrus.Logger, metrics *observability.Metrics) *Catalog {
	return &Catalog{
		logger:  observability.OrDefault(logger),
		metrics: metrics,
		sets:    make(map[string]*sourceSet),
		byID:    make(map[string]*plugins.Record),
		enabled: make(map[string]bool),
		graph:   NewGraph(),
	}
}

// SetOrder fixes the descriptor order used within a precedence bucket. Keys
// already set but missing from keys keep their relative order after the listed ones.
func (c *Catalog) SetOrder(keys []string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	seen := make(map[string]bool, len(keys))
	order := make([]string, 0, len(keys)+len(c.order))
	for _, key := range keys {
		if !seen[key] {
			seen[key] = true
			order = append(order, key)
		}
	}
	for _, key := range c.order {
		if !seen[key] {
			seen[key] = true
			order = append(order, key)
		}
	}
	c.order = order
}

// Set replaces the record set contributed by one source. The catalog takes
// ownership of the records; call Rebuild to merge.
func (c *Catalog) Set(key string, kind sources.Kind, records []*plugins.Record) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.sets[key]; !ok && !contains(c.order, key) {
		c.order = append(c.order, key)
	}
	c.sets[key] = &sourceSet{kind: kind, records: records}
}

// Retract removes the record set of one source. It reports whether the source was present.
func (c *Catalog) Retract(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.sets[key]; !ok {
		return false
	}
	delete(c.sets, key)
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	return true
}

// Keys returns the keys of every source that contributed a set, in descriptor order
func (c *Catalog) Keys() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	keys := make([]string, 0, len(c.sets))
	for _, key := range c.order {
		if _, ok := c.sets[key]; ok {
			keys = append(keys, key)
		}
	}
	return keys
}

// Rebuild merges every source set by precedence, then wires groups and dependencies
func (c *Catalog) Rebuild() {
	c.mu.Lock()
	defer c.mu.Unlock()

	records := make([]*plugins.Record, 0, len(c.records))
	byID := make(map[string]*plugins.Record, len(c.byID))
	shadowed := 0

	for _, kind := range Precedence {
		for _, key := range c.order {
			set, ok := c.sets[key]
			if !ok || set.kind != kind {
				continue
			}

			sorted := append([]*plugins.Record(nil), set.records...)
			sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

			for _, rec := range sorted {
				if rec.Kind == plugins.KindObsolete {
					continue
				}
				if winner, exists := byID[rec.ID]; exists {
					shadowed++
					c.logger.WithFields(logrus.Fields{
						"id":     rec.ID,
						"source": key,
						"winner": winner.SourceKey,
					}).Debug("Record shadowed by higher precedence source")
					continue
				}
				rec.Group = nil
				rec.ResolvedDependencies = nil
				byID[rec.ID] = rec
				records = append(records, rec)
			}
		}
	}

	c.records = records
	c.byID = byID
	c.wireGroups()
	c.resolveDependencies()
	c.metrics.SetCatalogRecords(len(records))

	c.logger.WithFields(logrus.Fields{
		"records":  len(records),
		"sources":  len(c.sets),
		"shadowed": shadowed,
	}).Debug("Catalog rebuilt")
}

func (c *Catalog) wireGroups() {
	groups := make(map[string][]*plugins.Record)
	for _, rec := range c.records {
		if rec.GroupID != "" {
			groups[rec.GroupID] = append(groups[rec.GroupID], rec)
		}
	}
	for _, members := range groups {
		for _, rec := range members {
			for _, other := range members {
				if other != rec {
					rec.Group = append(rec.Group, other)
				}
			}
		}
	}
}

type edge struct {
	from, to string
}

// resolveDependencies walks each external record's dependencies with an explicit
// worklist. Unresolvable ids are skipped and each record is visited once.
func (c *Catalog) resolveDependencies() {
	c.graph = NewGraph()

	for _, root := range c.records {
		if root.Kind != plugins.KindExternal || len(root.Dependencies) == 0 {
			continue
		}

		visited := map[string]bool{root.ID: true}
		var resolved []string
		var stack []edge
		push := func(from string, deps []string) {
			for i := len(deps) - 1; i >= 0; i-- {
				stack = append(stack, edge{from: from, to: deps[i]})
			}
		}
		push(root.ID, root.Dependencies)

		for len(stack) > 0 {
			e := stack[len(stack)-1]
			stack = stack[:len(stack)-1]

			target, ok := c.byID[e.to]
			if !ok || target.Kind != plugins.KindExternal {
				if e.from == root.ID {
					c.logger.WithFields(logrus.Fields{
						"id":         root.ID,
						"dependency": e.to,
					}).Debug("Dependency not in catalog")
				}
				continue
			}
			c.graph.AddEdge(e.from, e.to)
			if visited[e.to] {
				continue
			}
			visited[e.to] = true
			resolved = append(resolved, e.to)
			push(e.to, target.Dependencies)
		}

		sort.Strings(resolved)
		root.ResolvedDependencies = resolved
	}

	for _, rec := range c.records {
		if cycle := c.graph.Cycle(rec.ID); cycle != nil && cycle[0] == rec.ID {
			c.logger.WithField("cycle", cycle).Debug("Dependency cycle")
		}
	}
}

// Records returns the merged records in catalog order
func (c *Catalog) Records() []*plugins.Record {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]*plugins.Record(nil), c.records...)
}

// Get returns the record for id
func (c *Catalog) Get(id string) (*plugins.Record, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	rec, ok := c.byID[id]
	return rec, ok
}

// Len returns the number of merged records
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.records)
}

// Graph returns the dependency graph built by the last Rebuild
func (c *Catalog) Graph() *Graph {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.graph
}

// SetEnabled replaces the enabled id set. Ids need not be in the catalog yet.
func (c *Catalog) SetEnabled(ids []string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.enabled = make(map[string]bool, len(ids))
	for _, id := range ids {
		c.enabled[id] = true
	}
}

// EnabledIDs returns the enabled id set, sorted, including ids absent from the catalog
func (c *Catalog) EnabledIDs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	ids := make([]string, 0, len(c.enabled))
	for id := range c.enabled {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// IsEnabled reports whether id is enabled
func (c *Catalog) IsEnabled(id string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.enabled[id]
}

// Enable enables id and disables every other member of its group.
// It returns the ids it disabled.
func (c *Catalog) Enable(id string) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec, ok := c.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownRecord, id)
	}

	c.enabled[id] = true
	var disabled []string
	for _, other := range rec.Group {
		if c.enabled[other.ID] {
			delete(c.enabled, other.ID)
			disabled = append(disabled, other.ID)
		}
	}
	if len(disabled) > 0 {
		c.logger.WithFields(logrus.Fields{
			"id":       id,
			"group":    rec.GroupID,
			"disabled": disabled,
		}).Info("Disabled other group members")
	}
	return disabled, nil
}

// Disable removes id from the enabled set
func (c *Catalog) Disable(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.enabled[id] {
		if _, ok := c.byID[id]; !ok {
			return fmt.Errorf("%w: %s", ErrUnknownRecord, id)
		}
	}
	delete(c.enabled, id)
	return nil
}

// Enabled returns the enabled records in catalog order
func (c *Catalog) Enabled() []*plugins.Record {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var out []*plugins.Record
	for _, rec := range c.records {
		if c.enabled[rec.ID] {
			out = append(out, rec)
		}
	}
	return out
}

// MarkPendingUpdate flags every non-failed record contributed by key as
// PendingUpdate and returns how many changed
func (c *Catalog) MarkPendingUpdate(key string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for _, rec := range c.records {
		if rec.SourceKey != key || rec.Status.Terminal() || rec.Status == plugins.StatusPendingUpdate {
			continue
		}
		rec.SetStatus(plugins.StatusPendingUpdate, nil)
		n++
	}
	return n
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
