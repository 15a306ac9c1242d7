package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "query [text]",
		Short: "Retrieve relevant knowledge",
		Long:  "Rank knowledge snippets by keyword and semantic relevance, importance, recency and access history.",
		Args:  cobra.MinimumNArgs(1),
		Run:   runQuery,
	}

	cmd.Flags().StringP("category", "C", "", "Filter by category")
	cmd.Flags().IntP("limit", "l", 0, "Max results (default from config)")

	RootCmd.AddCommand(cmd)
}

func runQuery(cmd *cobra.Command, args []string) {
	categoryStr, _ := cmd.Flags().GetString("category")
	limit, _ := cmd.Flags().GetInt("limit")
	query := strings.Join(args, " ")

	category, err := parseCategory(categoryStr)
	if err != nil {
		exitErr("query", err)
	}

	m, done := openMemory()
	defer done()

	results, err := m.QueryKnowledge(cmd.Context(), query, category, limit)
	if err != nil {
		exitErr("query", err)
	}

	output(cmd, results, func(w io.Writer) {
		for _, r := range results {
			fmt.Fprintf(w, "#%d [%s] %.3f %s\n", r.Knowledge.ID, r.MatchType, r.Score, r.Knowledge.Content)
		}
	})
}
