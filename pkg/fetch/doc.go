// Package fetch retrieves manifest bytes, bundles and repository hashes.
//
// A Fetcher talks HTTP(S) through an otelhttp-instrumented transport and
// reads file:// URLs and bare paths from disk. Every request is bounded by
// Options.Timeout. With Options.IPv4Only set, dials are pinned to tcp4 and
// IPv6 literals are rejected before any connection attempt.
//
// Failures are returned as plain errors, or *StatusError for non-2xx
// responses. Retrying is left to the caller.
package fetch
