// Package catalog merges the record sets of every source into one view keyed
// by record id.
//
// Sources are grouped by kind and merged in Precedence order, highest first.
// Within a kind, sources are taken in descriptor order and records in id
// order. The first record seen for an id wins and the rest are shadowed.
//
// After merging, records that share a GroupID reference each other through
// Group, and Enable keeps at most one member of a group enabled. External
// records have their dependency ids resolved with a worklist walk that skips
// unknown ids and tolerates cycles; the edges are kept in a Graph.
package catalog
