package cli

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newRefreshCommand(a *app) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "refresh",
		Short: "Synchronize every enabled source",
		Long: `Synchronize every enabled source. Sources checked within the maximum source age
are served from the cache unless --force is given.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			res, err := p.Refresh(cmd.Context(), force)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "SOURCE\tORIGIN\tRECORDS\tTOMBSTONES\tERROR")
			for _, src := range res.Sources {
				errText := ""
				if src.Err != nil {
					errText = src.Err.Error()
				}
				fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\n", src.Key, src.Origin, len(src.Records), src.Tombstones, errText)
			}
			if err := w.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "\n%d records in catalog", res.Records)
			if res.Stale > 0 {
				fmt.Fprintf(cmd.OutOrStdout(), ", %d pending update", res.Stale)
			}
			fmt.Fprintln(cmd.OutOrStdout())
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Query every remote source regardless of its last check")
	return cmd
}

func newListCommand(a *app) *cobra.Command {
	var enabledOnly bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List catalog records",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			if _, err := p.Refresh(cmd.Context(), false); err != nil {
				return err
			}

			cat := p.Catalog()
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ENABLED\tID\tNAME\tKIND\tSOURCE\tSTATUS\tDEPENDENCIES")
			for _, rec := range cat.Records() {
				enabled := cat.IsEnabled(rec.ID)
				if enabledOnly && !enabled {
					continue
				}
				mark := " "
				if enabled {
					mark = "*"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
					mark, rec.ID, rec.FriendlyName, rec.Kind, rec.SourceLabel, rec.Status,
					strings.Join(rec.ResolvedDependencies, ","))
			}
			return w.Flush()
		},
	}
	cmd.Flags().BoolVar(&enabledOnly, "enabled", false, "Only list enabled records")
	return cmd
}

func newEnableCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "enable <id>",
		Short: "Enable a record, disabling the other members of its group",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			if _, err := p.Refresh(cmd.Context(), false); err != nil {
				return err
			}
			disabled, err := p.Enable(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Enabled %s\n", args[0])
			for _, id := range disabled {
				fmt.Fprintf(cmd.OutOrStdout(), "Disabled %s (same group)\n", id)
			}
			if rec, ok := p.Catalog().Get(args[0]); ok && len(rec.ResolvedDependencies) > 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "Depends on: %s\n", strings.Join(rec.ResolvedDependencies, ", "))
			}
			return nil
		},
	}
}

func newDisableCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "disable <id>",
		Short: "Disable a record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			if _, err := p.Refresh(cmd.Context(), false); err != nil {
				return err
			}
			if err := p.Disable(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Disabled %s\n", args[0])
			return nil
		},
	}
}
