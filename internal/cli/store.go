package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/rcliao/tiermem/internal/memory"
	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "store [content]",
		Short: "Store a knowledge snippet",
		Long: "Store a knowledge snippet, or a core fact with --core. " +
			"Content can be a positional arg or piped via stdin.",
		Run: runStore,
	}

	cmd.Flags().StringP("category", "C", "fact", "Category: identity, instruction, preference, project, personal, fact, technical")
	cmd.Flags().Float64P("importance", "i", memory.DefaultImportance, "Importance in [0, 1]")
	cmd.Flags().StringP("tags", "t", "", "Comma-separated tags")
	cmd.Flags().String("session", "", "Originating session ID")
	cmd.Flags().Bool("core", false, "Store as an always-loaded core fact")

	RootCmd.AddCommand(cmd)
}

func runStore(cmd *cobra.Command, args []string) {
	categoryStr, _ := cmd.Flags().GetString("category")
	tagsStr, _ := cmd.Flags().GetString("tags")
	session, _ := cmd.Flags().GetString("session")
	core, _ := cmd.Flags().GetBool("core")

	content := strings.TrimSpace(readContent(cmd, args))
	if content == "" {
		exitErr("store", fmt.Errorf("content is required (positional arg or stdin)"))
	}
	category, err := parseCategory(categoryStr)
	if err != nil {
		exitErr("store", err)
	}

	m, done := openMemory()
	defer done()

	stored, err := m.StoreKnowledge(cmd.Context(), memory.StoreRequest{
		Content:    content,
		Category:   category,
		Importance: importanceFlag(cmd),
		Tags:       parseTags(tagsStr),
		SessionID:  session,
		IsCoreFact: core,
	})
	if err != nil {
		exitErr("store", err)
	}

	output(cmd, stored, func(w io.Writer) {
		kind := "knowledge"
		if stored.CoreFact {
			kind = "core fact"
		}
		fmt.Fprintf(w, "stored %s #%d\n", kind, stored.ID)
	})
}
