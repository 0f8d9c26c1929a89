package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

// errFindings makes the exit status fail when --fail-on-findings is set.
var errFindings = errors.New("vulnerability findings reported")

func newTaintCmd(c *cli) *cobra.Command {
	var (
		src            sourceFlags
		out            outputFlags
		engine         engineFlags
		failOnFindings bool
		showRules      bool
	)
	taintCmd := &cobra.Command{
		Use:   "taint [file]",
		Short: "Tracks untrusted data from sources to sinks",
		Long: `taint traces a program over the Taint domain. Calls are classified by the taint
rules: sources produce tainted data, sanitizers clean it for some vulnerability types,
and sinks report a finding when tainted data reaches them.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			exp, err := c.newExplorer(cmd, &engine)
			if err != nil {
				return err
			}
			if showRules {
				_, err := fmt.Fprintln(cmd.OutOrStdout(), exp.Rules().Describe())
				return err
			}

			source, err := src.read(cmd, args)
			if err != nil {
				return err
			}
			ctx, cancel := c.buildContext(cmd.Context())
			defer cancel()

			t, err := exp.BuildTaintTrace(ctx, source, nil, nil, nil)
			if err != nil {
				return err
			}
			if err := out.render(cmd, t); err != nil {
				return err
			}
			if n := len(t.Findings()); failOnFindings && n > 0 {
				return fmt.Errorf("%w: %d", errFindings, n)
			}
			return nil
		},
	}
	src.register(taintCmd)
	out.register(taintCmd)
	engine.register(taintCmd, true)
	taintCmd.Flags().BoolVar(&failOnFindings, "fail-on-findings", false, "exit with an error when any finding is reported")
	taintCmd.Flags().BoolVar(&showRules, "show-rules", false, "print the effective rules and exit")
	return taintCmd
}
