// Package cli implements the modhub command line with cobra.
//
// # Commands
//
// Sources:
//
//	modhub sources add remote-hub acme/plugins --trusted
//	modhub sources add local-plugin ./my-plugin --name dev
//	modhub sources list
//	modhub sources disable remote-hub:acme/plugins
//	modhub sources remove remote-hub:acme/plugins
//
// Catalog:
//
//	modhub refresh [--force]
//	modhub list [--enabled]
//	modhub enable <id>
//	modhub disable <id>
//
// Building:
//
//	modhub load [--safe-mode] [--diagnostic]
//
// Background mode, with a cron-scheduled refresh, local folder watching and
// Prometheus metrics on /metrics:
//
//	modhub serve --schedule "@every 30m" --metrics-addr :9090
//
// # Configuration
//
// Paths and fetcher settings come from MODHUB_* environment variables, see
// pkg/config. --config-dir, --cache-dir and --log-level override them.
package cli
