package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List knowledge snippets, newest first",
		Run:   runList,
	}

	cmd.Flags().StringP("category", "C", "", "Filter by category")
	cmd.Flags().IntP("limit", "l", 20, "Max results (0 for all)")

	RootCmd.AddCommand(cmd)
}

func runList(cmd *cobra.Command, args []string) {
	categoryStr, _ := cmd.Flags().GetString("category")
	limit, _ := cmd.Flags().GetInt("limit")

	category, err := parseCategory(categoryStr)
	if err != nil {
		exitErr("list", err)
	}

	m, done := openMemory()
	defer done()

	items, err := m.ListKnowledge(cmd.Context(), category, limit)
	if err != nil {
		exitErr("list", err)
	}

	output(cmd, items, func(w io.Writer) {
		for _, k := range items {
			tags := ""
			if len(k.Tags) > 0 {
				tags = " {" + strings.Join(k.Tags, ", ") + "}"
			}
			fmt.Fprintf(w, "#%d [%s/%s] %s%s\n", k.ID, k.Category, k.Source, k.Content, tags)
		}
	})
}
