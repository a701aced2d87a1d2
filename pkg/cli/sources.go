package cli

import (
	"fmt"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/platinummonkey/modhub/pkg/sources"
)

func newSourcesCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sources",
		Short: "Manage plugin sources",
		Example: `  # Add a remote hub
  modhub sources add remote-hub acme/plugins --trusted

  # Add a local plugin folder under development
  modhub sources add local-plugin ./my-plugin --name dev

  # Disable a source without removing it
  modhub sources disable remote-hub:acme/plugins`,
	}
	cmd.AddCommand(
		newSourcesListCommand(a),
		newSourcesAddCommand(a),
		newSourcesRemoveCommand(a),
		newSourcesToggleCommand(a, "enable", "Enable a source", true),
		newSourcesToggleCommand(a, "disable", "Disable a source; its records are retracted on the next refresh", false),
	)
	return cmd
}

func newSourcesListCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List configured sources",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.store()
			if err != nil {
				return err
			}
			state, err := store.Load()
			if err != nil {
				return err
			}
			if len(state.Sources) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No sources configured")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "KEY\tNAME\tENABLED\tTRUSTED\tLAST CHECK")
			for _, src := range state.Sources {
				lastCheck := "-"
				if src.LastCheck != nil {
					lastCheck = src.LastCheck.Format(time.RFC3339)
				}
				fmt.Fprintf(w, "%s\t%s\t%t\t%t\t%s\n", src.Key(), src.Name, src.Enabled, src.Trusted, lastCheck)
			}
			return w.Flush()
		},
	}
}

func newSourcesAddCommand(a *app) *cobra.Command {
	var (
		name     string
		branch   string
		manifest string
		trusted  bool
		disabled bool
	)

	cmd := &cobra.Command{
		Use:   "add <kind> <repo|folder|external-id>",
		Short: "Add a source or replace the one with the same key",
		Long: `Add a source. Kinds are remote-hub and remote-plugin (owner/name repositories),
local-hub and local-plugin (folders), and external (an external reference id).`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := sources.ParseKind(args[0])
			if err != nil {
				return err
			}
			src := &sources.Source{
				Kind:         kind,
				Name:         name,
				Enabled:      !disabled,
				Trusted:      trusted,
				Branch:       branch,
				ManifestFile: manifest,
			}
			switch kind {
			case sources.KindRemoteHub, sources.KindRemotePlugin:
				src.Repo = args[1]
			case sources.KindLocalHub, sources.KindLocalPlugin:
				folder, err := filepath.Abs(args[1])
				if err != nil {
					return err
				}
				src.Folder = folder
			case sources.KindExternalRef:
				src.ExternalID = args[1]
			default:
				return fmt.Errorf("unsupported source kind %s", kind)
			}

			store, err := a.store()
			if err != nil {
				return err
			}
			if err := store.UpsertSource(src); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Added source %s\n", src.Key())
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "Display name (defaults to the locator)")
	cmd.Flags().StringVar(&branch, "branch", "", "Branch of a remote source (default main)")
	cmd.Flags().StringVar(&manifest, "manifest", "", "Manifest file of a single-plugin source (default plugin.yaml)")
	cmd.Flags().BoolVar(&trusted, "trusted", false, "Build plugins from this source without asking")
	cmd.Flags().BoolVar(&disabled, "disabled", false, "Add the source disabled")
	return cmd
}

func newSourcesRemoveCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <key>",
		Short: "Remove a source and its cache",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			if err := p.RemoveSource(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed source %s\n", args[0])
			return nil
		},
	}
}

func newSourcesToggleCommand(a *app, verb, short string, enabled bool) *cobra.Command {
	return &cobra.Command{
		Use:   verb + " <key>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.store()
			if err != nil {
				return err
			}
			if err := store.SetSourceEnabled(args[0], enabled); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Source %s %sd\n", args[0], verb)
			return nil
		},
	}
}
