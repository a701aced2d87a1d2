// Package plugins defines plugin records and the manifest documents they are parsed from.
//
// # Overview
//
// A Record is one catalog entry. Its Kind is a closed set of variants:
//
//	KindSource    compiled from tracked Go source text
//	KindPrebuilt  loaded from a prebuilt WebAssembly module
//	KindExternal  synthesized from an external workshop reference
//	KindObsolete  tombstone, counted and dropped by the resolver
//
// Status follows a small state machine driven by the loader:
//
//	None / PendingUpdate -> Updated | Error | Blocked
//
// Error and Blocked are sticky for the remainder of a load run.
//
// # Manifests
//
// Manifests are YAML documents. Single-plugin sources hold one manifest file,
// hub sources hold many, either in a folder or bundled in a zip archive:
//
//	id: better-chat
//	name: Better Chat
//	author: acme
//	kind: source
//	group: chat
//	files:
//	  - chat.go
//
// Unknown fields are ignored so that manifests written for newer hosts still load.
//
// # Related Packages
//
//   - pkg/resolver: fetches and parses manifests per source
//   - pkg/catalog: merges records across sources
//   - pkg/loader: drives the status state machine
package plugins
