package cmd

import (
	"github.com/spf13/cobra"

	"github.com/weihaoqu/pa-bootcamp-web-sub001/pkg/explorer"
)

func newTraceCmd(c *cli) *cobra.Command {
	var (
		domainID string
		src      sourceFlags
		out      outputFlags
		engine   engineFlags
	)
	traceCmd := &cobra.Command{
		Use:   "trace [file]",
		Short: "Traces a program through an abstract domain",
		Example: `  pa-explorer trace -d interval -e 'i := 0; while (i < 10) { i := i + 1; }'
  pa-explorer trace -d sign --format json program.txt`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			source, err := src.read(cmd, args)
			if err != nil {
				return err
			}
			exp, err := c.newExplorer(cmd, &engine)
			if err != nil {
				return err
			}
			ctx, cancel := c.buildContext(cmd.Context())
			defer cancel()

			t, err := exp.BuildTrace(ctx, source, explorer.DomainID(domainID))
			if err != nil {
				return err
			}
			return out.render(cmd, t)
		},
	}
	traceCmd.Flags().StringVarP(&domainID, "domain", "d", "interval", "abstract domain (sign, constant, interval, taint)")
	src.register(traceCmd)
	out.register(traceCmd)
	engine.register(traceCmd, false)
	return traceCmd
}
