package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/platinummonkey/modhub/pkg/pipeline"
)

func newLoadCommand(a *app) *cobra.Command {
	var opts pipeline.LoadOptions

	cmd := &cobra.Command{
		Use:   "load",
		Short: "Build every enabled plugin",
		Long: `Refresh the catalog and build every enabled plugin in an isolated build context.
A failing plugin never stops the others.

--safe-mode skips every plugin. --diagnostic attempts every plugin without asking
anything and writes a report under <cache dir>/reports.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			if _, err := p.Refresh(cmd.Context(), false); err != nil {
				return err
			}
			res, err := p.Load(cmd.Context(), opts)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, l := range res.Loaded {
				fmt.Fprintf(out, "loaded   %s %s as %s\n", l.Record.ID, l.Record.Version, l.Module.Name)
			}
			for _, rec := range res.Failed {
				fmt.Fprintf(out, "%-8s %s: %s\n", rec.Status, rec.ID, rec.Message)
			}
			for _, rec := range res.Skipped {
				fmt.Fprintf(out, "skipped  %s\n", rec.ID)
			}
			fmt.Fprintf(out, "\nrun %s: %d loaded, %d failed, %d skipped\n",
				res.RunID, len(res.Loaded), len(res.Failed), len(res.Skipped))
			if len(res.Invalidations) > 0 {
				fmt.Fprintf(out, "%d source caches will be refetched on the next refresh\n", len(res.Invalidations))
			}
			if res.Report != nil && res.Report.Path != "" {
				fmt.Fprintf(out, "report written to %s\n", res.Report.Path)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&opts.SafeMode, "safe-mode", false, "Skip every plugin")
	cmd.Flags().BoolVar(&opts.Diagnostic, "diagnostic", false, "Attempt every plugin without prompts and write a report")
	return cmd
}
