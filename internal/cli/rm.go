package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "rm",
		Short: "Delete knowledge snippets",
		Long:  "Delete one snippet by --id, or every snippet matching all words of --match.",
		Run:   runRm,
	}

	cmd.Flags().Int64("id", 0, "Snippet ID")
	cmd.Flags().String("match", "", "Delete every snippet matching this text")

	cmd.MarkFlagsMutuallyExclusive("id", "match")
	cmd.MarkFlagsOneRequired("id", "match")

	RootCmd.AddCommand(cmd)
}

func runRm(cmd *cobra.Command, args []string) {
	id, _ := cmd.Flags().GetInt64("id")
	match, _ := cmd.Flags().GetString("match")

	m, done := openMemory()
	defer done()

	if match != "" {
		n, err := m.DeleteKnowledgeMatching(cmd.Context(), match)
		if err != nil {
			exitErr("rm", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), `{"ok":true,"deleted":%d}`+"\n", n)
		return
	}

	ok, err := m.DeleteKnowledgeByID(cmd.Context(), id)
	if err != nil {
		exitErr("rm", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), `{"ok":%t,"id":%d}`+"\n", ok, id)
}
