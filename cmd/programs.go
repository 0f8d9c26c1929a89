package cmd

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/weihaoqu/pa-bootcamp-web-sub001/internal/catalog"
	"github.com/weihaoqu/pa-bootcamp-web-sub001/pkg/explorer"
)

func newProgramsCmd(c *cli) *cobra.Command {
	programsCmd := &cobra.Command{
		Use:   "programs",
		Short: "Lists and traces the built-in example programs",
	}
	programsCmd.AddCommand(newProgramsListCmd(), newProgramsShowCmd(), newProgramsTraceCmd(c))
	return programsCmd
}

func newProgramsListCmd() *cobra.Command {
	var category string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "Lists the example programs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			programs := catalog.Default().All()
			if category != "" {
				programs = catalog.Default().ByCategory(catalog.Category(category))
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tCATEGORY\tDOMAIN\tNAME")
			for _, p := range programs {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", p.ID, p.Category, p.Domain, p.Name)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&category, "category", "", "only list one category (abstract, security)")
	return cmd
}

func newProgramsShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Prints the code and note of an example program",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := catalog.Default().Get(args[0])
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "%s (%s, %s)\n\n", p.Name, p.Category, p.Domain)
			fmt.Fprintln(w, strings.TrimRight(p.Code, "\n"))
			if p.Note != "" {
				fmt.Fprintf(w, "\n%s\n", p.Note)
			}
			return nil
		},
	}
}

func newProgramsTraceCmd(c *cli) *cobra.Command {
	var (
		domainID string
		out      outputFlags
		engine   engineFlags
	)
	cmd := &cobra.Command{
		Use:   "trace <id>",
		Short: "Traces an example program",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			exp, err := c.newExplorer(cmd, &engine)
			if err != nil {
				return err
			}
			ctx, cancel := c.buildContext(cmd.Context())
			defer cancel()

			t, err := exp.TraceProgram(ctx, args[0], explorer.DomainID(domainID))
			if err != nil {
				return err
			}
			return out.render(cmd, t)
		},
	}
	cmd.Flags().StringVarP(&domainID, "domain", "d", "", "domain to trace in (default: the program's own)")
	out.register(cmd)
	engine.register(cmd, true)
	return cmd
}
