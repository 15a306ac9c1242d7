package cli

import (
	"fmt"
	"io"

	"github.com/rcliao/tiermem/internal/model"
	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show memory statistics",
		Run:   runStats,
	}

	RootCmd.AddCommand(cmd)
}

func runStats(cmd *cobra.Command, args []string) {
	m, done := openMemory()
	defer done()

	stats, err := m.GetStats(cmd.Context())
	if err != nil {
		exitErr("stats", err)
	}

	output(cmd, stats, func(w io.Writer) {
		fmt.Fprintf(w, "db:          %s (%d bytes)\n", stats.DBPath, stats.DBSizeBytes)
		fmt.Fprintf(w, "core facts:  %d (%d active, ~%d tokens)\n", stats.CoreFacts, stats.ActiveCoreFacts, stats.CoreSectionTokens)
		fmt.Fprintf(w, "knowledge:   %d (%d embedded)\n", stats.Knowledge, stats.EmbeddedKnowledge)
		for _, c := range model.CategoryOrder {
			if n := stats.ByCategory[string(c)]; n > 0 {
				fmt.Fprintf(w, "  %-11s %d\n", c, n)
			}
		}
		fmt.Fprintf(w, "episodes:    %d\n", stats.Episodes)
		fmt.Fprintf(w, "backups:     %d\n", stats.Backups)
		fmt.Fprintf(w, "embeddings:  %t\n", stats.EmbeddingsEnabled)
		fmt.Fprintf(w, "reflection:  %t\n", stats.ReflectionEnabled)
	})
}
