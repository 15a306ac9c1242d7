package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/rcliao/tiermem/internal/model"
	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "reflect",
		Short: "Summarize a finished conversation into an episode",
		Long: "Read a conversation as a JSON array of {role, content, timestamp} turns " +
			"(stdin or --file), ask the configured model to summarize it, and store the " +
			"episode plus any facts it extracted.",
		Run: runReflect,
	}

	cmd.Flags().StringP("session", "s", "", "Session ID (generated when empty)")
	cmd.Flags().String("file", "", "Read turns from this file instead of stdin")

	RootCmd.AddCommand(cmd)
}

func runReflect(cmd *cobra.Command, args []string) {
	session, _ := cmd.Flags().GetString("session")
	file, _ := cmd.Flags().GetString("file")

	var (
		data []byte
		err  error
	)
	if file != "" {
		data, err = os.ReadFile(file)
	} else {
		data, err = io.ReadAll(cmd.InOrStdin())
	}
	if err != nil {
		exitErr("read turns", err)
	}

	var turns []model.Turn
	if err := json.Unmarshal(data, &turns); err != nil {
		exitErr("parse turns", err)
	}

	m, done := openMemory()
	defer done()

	summary, err := m.ReflectAndSummarize(cmd.Context(), session, turns)
	if err != nil {
		exitErr("reflect", err)
	}
	if summary == nil {
		fmt.Fprintln(cmd.OutOrStdout(), `{"ok":false,"reason":"nothing to summarize"}`)
		return
	}
	output(cmd, summary, func(w io.Writer) {
		fmt.Fprintf(w, "episode %s: %s\n", summary.EpisodeID, summary.Summary)
		fmt.Fprintf(w, "core facts added: %d, knowledge added: %d\n", summary.CoreFactsAdded, summary.KnowledgeAdded)
	})
}
