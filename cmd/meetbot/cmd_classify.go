package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/user/meetbot/internal/join"
	"github.com/user/meetbot/internal/platform"
)

func init() {
	rootCmd.AddCommand(classifyCmd)
	classifyCmd.Flags().Bool("steps", false, "also print the join sequence")
}

var classifyCmd = &cobra.Command{
	Use:   "classify <meeting url>",
	Short: "Show which platform a meeting link belongs to",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		link := platform.Normalize(args[0])
		variant, err := platform.Classify(link)
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "%s: %s\n", link, variant)

		if show, _ := cmd.Flags().GetBool("steps"); !show {
			return nil
		}
		steps := join.NewExecutor(join.DefaultTable(cfg.Browser.DisplayName)).Steps(variant)
		rows := make([][]string, 0, len(steps))
		for i, s := range steps {
			candidates := make([]string, 0, len(s.Candidates))
			for _, c := range s.Candidates {
				candidates = append(candidates, c.String())
			}
			required := "no"
			if s.Required {
				required = "yes"
			}
			rows = append(rows, []string{
				strconv.Itoa(i + 1), s.Name, required, s.Timeout.String(), strings.Join(candidates, "\n"),
			})
		}
		fmt.Fprintln(os.Stdout, renderTable(
			[]string{"#", "Step", "Required", "Timeout", "Candidates"},
			rows,
			[]columnAlignment{alignRight},
		))
		return nil
	},
}
