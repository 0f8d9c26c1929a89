package cmd

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/weihaoqu/pa-bootcamp-web-sub001/internal/observability"
	"github.com/weihaoqu/pa-bootcamp-web-sub001/pkg/explorer"
)

func newCompareCmd(c *cli) *cobra.Command {
	var (
		domains []string
		src     sourceFlags
		engine  engineFlags
		traces  bool
	)
	compareCmd := &cobra.Command{
		Use:   "compare [file]",
		Short: "Traces one program through several domains and compares the final states",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			source, err := src.read(cmd, args)
			if err != nil {
				return err
			}
			if len(domains) == 0 {
				return fmt.Errorf("at least one domain is required")
			}
			exp, err := c.newExplorer(cmd, &engine)
			if err != nil {
				return err
			}
			ctx, cancel := c.buildContext(cmd.Context())
			defer cancel()

			// Builds are independent, so each domain runs in its own goroutine.
			results := make([]*explorer.Trace, len(domains))
			g, gctx := errgroup.WithContext(ctx)
			for i, id := range domains {
				g.Go(func() error {
					t, err := exp.BuildTrace(gctx, source, explorer.DomainID(id))
					if err != nil {
						return fmt.Errorf("%s: %w", id, err)
					}
					results[i] = t
					return nil
				})
			}
			if err := g.Wait(); err != nil {
				return err
			}
			observability.GetLogger().Debug("Comparison finished.", zap.Strings("domains", domains))

			if traces {
				out := outputFlags{format: "text"}
				if err := out.render(cmd, results...); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout())
			}
			return writeComparison(cmd, domains, results)
		},
	}
	compareCmd.Flags().StringSliceVar(&domains, "domains", []string{"sign", "constant", "interval"}, "domains to compare")
	compareCmd.Flags().BoolVar(&traces, "traces", false, "print every trace before the comparison")
	src.register(compareCmd)
	engine.register(compareCmd, false)
	return compareCmd
}

// writeComparison prints one row per variable with its final value in every domain.
func writeComparison(cmd *cobra.Command, domains []string, results []*explorer.Trace) error {
	finals := make([]map[string]string, len(results))
	vars := map[string]string{}
	for i, t := range results {
		finals[i] = t.Final().Strings()
		for name := range finals[i] {
			vars[name] = ""
		}
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "VARIABLE\t%s\n", strings.ToUpper(strings.Join(domains, "\t")))
	for _, name := range sortedKeys(vars) {
		row := make([]string, len(finals))
		for i, f := range finals {
			row[i] = f[name]
		}
		fmt.Fprintf(tw, "%s\t%s\n", name, strings.Join(row, "\t"))
	}
	steps := make([]string, len(results))
	for i, t := range results {
		steps[i] = fmt.Sprint(len(t.Steps))
	}
	fmt.Fprintf(tw, "(steps)\t%s\n", strings.Join(steps, "\t"))
	return tw.Flush()
}
