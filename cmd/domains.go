package cmd

import (
	"fmt"
	"sort"
	"strings"
	"text/tabwriter"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"

	"github.com/weihaoqu/pa-bootcamp-web-sub001/pkg/explorer"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

func newDomainsCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "domains",
		Short: "Lists the abstract domains and their properties",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ids := append(explorer.ListDomains(), explorer.ListTaintDomain()...)
			props := make([]explorer.Properties, 0, len(ids))
			for _, id := range ids {
				p, err := explorer.GetDomainProperties(id)
				if err != nil {
					return err
				}
				props = append(props, p)
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(props)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tHEIGHT\tWIDTH\tWIDENING")
			for _, p := range props {
				widening := "no"
				if p.NeedsWidening {
					widening = "yes"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", p.ID, p.Name, p.Height, p.Width, widening)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func newLatticeCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "lattice <domain>",
		Short: "Prints the Hasse diagram and join/meet tables of a finite domain",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			view, err := explorer.Lattice(explorer.DomainID(args[0]))
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(view)
			}

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "%s lattice (height %d)\n\n", view.Domain, view.Height)
			fmt.Fprintln(w, "Hasse diagram:")
			for _, e := range view.Edges {
				fmt.Fprintf(w, "  %s ⊑ %s\n", e.From, e.To)
			}
			fmt.Fprintln(w)
			if err := writeTable(cmd, "⊔", view.Elements, view.Join); err != nil {
				return err
			}
			fmt.Fprintln(w)
			return writeTable(cmd, "⊓", view.Elements, view.Meet)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func writeTable(cmd *cobra.Command, op string, elements []string, table map[string]map[string]string) error {
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "%s\t%s\n", op, strings.Join(elements, "\t"))
	for _, a := range elements {
		row := make([]string, len(elements))
		for i, b := range elements {
			row[i] = table[a][b]
		}
		fmt.Fprintf(tw, "%s\t%s\n", a, strings.Join(row, "\t"))
	}
	return tw.Flush()
}

// sortedKeys returns the keys of m in order.
func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
