package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rcliao/tiermem/internal/memory"
	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "ingest [file]",
		Short: "Split a markdown document into knowledge snippets",
		Long:  "Split a markdown document (file or stdin) on headings and paragraphs and store each section as extracted knowledge.",
		Args:  cobra.MaximumNArgs(1),
		Run:   runIngest,
	}

	cmd.Flags().StringP("category", "C", "fact", "Category for every section")
	cmd.Flags().Float64P("importance", "i", memory.DefaultImportance, "Importance in [0, 1]")
	cmd.Flags().StringP("tags", "t", "", "Comma-separated tags added to every section")
	cmd.Flags().String("session", "", "Originating session ID")

	RootCmd.AddCommand(cmd)
}

func runIngest(cmd *cobra.Command, args []string) {
	categoryStr, _ := cmd.Flags().GetString("category")
	tagsStr, _ := cmd.Flags().GetString("tags")
	session, _ := cmd.Flags().GetString("session")

	var text string
	if len(args) == 1 {
		b, err := os.ReadFile(args[0])
		if err != nil {
			exitErr("read document", err)
		}
		text = string(b)
	} else {
		text = readContent(cmd, nil)
	}
	if strings.TrimSpace(text) == "" {
		exitErr("ingest", fmt.Errorf("document is empty"))
	}
	category, err := parseCategory(categoryStr)
	if err != nil {
		exitErr("ingest", err)
	}

	m, done := openMemory()
	defer done()

	ids, err := m.IngestDocument(cmd.Context(), memory.IngestRequest{
		Text:       text,
		Category:   category,
		Importance: importanceFlag(cmd),
		Tags:       parseTags(tagsStr),
		SessionID:  session,
	})
	if err != nil {
		exitErr("ingest", err)
	}

	output(cmd, map[string]interface{}{"ok": true, "ids": ids}, func(w io.Writer) {
		fmt.Fprintf(w, "ingested %d sections\n", len(ids))
	})
}
