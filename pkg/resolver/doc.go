// Package resolver turns a source descriptor into the record set it currently
// publishes.
//
// Remote sources are checked at most once per MaxSourceAge. A check asks the
// fetcher for the branch head commit; the bundle is downloaded only when that
// hash differs from the one recorded on the descriptor or the cache entry is
// unusable. Every failure falls back to the cached entry, and a source whose
// cache is also unusable yields an empty set with Result.Err set.
//
// Local hubs use a content hash of their manifests in place of the commit hash.
// Local plugins are re-read on every sync. External references are resolved
// through a Workshop.
package resolver
