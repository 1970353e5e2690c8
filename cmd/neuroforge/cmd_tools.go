package main

import (
	"fmt"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

// errFromGoal wraps a goal failure text as an error.
func errFromGoal(errText string) error {
	return fmt.Errorf("%s", errText)
}

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "List registered tools and their performance",
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := buildEngine(cfg)
		if err != nil {
			return err
		}
		defer eng.Close()

		defs := eng.registry.List()
		sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 2, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tSTATUS\tCALLS\tSUCCESS\tDESCRIPTION")
		for _, def := range defs {
			status, calls, rate := "-", 0, 0.0
			if p := eng.perf.Get(def.Name); p != nil {
				status = string(p.Status)
				calls = p.TotalCalls
				rate = p.SuccessRate()
			}
			fmt.Fprintf(w, "%s\t%s\t%d\t%.0f%%\t%s\n",
				def.Name, status, calls, rate*100, def.Description)
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(toolsCmd)
}
