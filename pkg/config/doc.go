// Package config provides process configuration from environment variables and
// the persisted YAML store of sources, settings and enabled records.
//
// # Environment
//
// Paths:
//
//	MODHUB_CONFIG_DIR="$XDG_CONFIG_HOME/modhub"
//	MODHUB_CACHE_DIR="$XDG_CACHE_HOME/modhub"
//	MODHUB_WORKSHOP_DIR="$MODHUB_CONFIG_DIR/workshop"
//
// Fetching:
//
//	MODHUB_FETCH_TIMEOUT="30s"
//	MODHUB_IPV4_ONLY="false"
//	MODHUB_API_BASE="https://api.github.com"
//	MODHUB_RAW_BASE="https://raw.githubusercontent.com"
//	MODHUB_ARCHIVE_BASE="https://github.com"
//	MODHUB_HASH_ATTEMPTS="3"
//
// Building:
//
//	MODHUB_BUILD_DENY="unsafe,syscall"
//	MODHUB_BUILD_EXTRAS="modhub/host,reflect"
//	MODHUB_BUILD_TIMEOUT="2m"
//
// Observability:
//
//	MODHUB_LOG_LEVEL="info"  # debug, info, warn, error
//	MODHUB_LOG_FORMAT="text" # text, json
//	MODHUB_METRICS_ADDR=":9090"
//
// # Store
//
// The store is a YAML document at <config dir>/modhub.yaml:
//
//	sources:
//	  - kind: remote-hub
//	    name: community
//	    enabled: true
//	    repo: acme/modhub-community
//	    branch: main
//	settings:
//	  max_source_age_hours: 24
//	  sync_concurrency: 4
//	  load_concurrency: 1
//	enabled: [better-chat]
//
// Writes are atomic and guarded by a file lock, so the CLI and a running
// scheduler can share one store.
package config
