package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
)

func init() {
	episodesCmd := &cobra.Command{
		Use:   "episodes",
		Short: "Conversation summaries",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List episodes, newest first",
		Run:   runEpisodesList,
	}
	listCmd.Flags().IntP("limit", "l", 20, "Max results (0 for all)")

	recallCmd := &cobra.Command{
		Use:   "recall [query]",
		Short: "Find episodes similar to a query",
		Args:  cobra.MinimumNArgs(1),
		Run:   runEpisodesRecall,
	}
	recallCmd.Flags().IntP("limit", "l", 5, "Max results")

	episodesCmd.AddCommand(listCmd, recallCmd)
	RootCmd.AddCommand(episodesCmd)
}

func runEpisodesList(cmd *cobra.Command, args []string) {
	limit, _ := cmd.Flags().GetInt("limit")

	m, done := openMemory()
	defer done()

	eps, err := m.ListEpisodes(cmd.Context(), limit)
	if err != nil {
		exitErr("list episodes", err)
	}
	output(cmd, eps, func(w io.Writer) {
		for _, ep := range eps {
			fmt.Fprintf(w, "%s %s %s\n", ep.EndedAt.Format("2006-01-02"), ep.SessionID, ep.Summary)
		}
	})
}

func runEpisodesRecall(cmd *cobra.Command, args []string) {
	limit, _ := cmd.Flags().GetInt("limit")
	query := strings.Join(args, " ")

	m, done := openMemory()
	defer done()

	hits, err := m.RecallEpisodes(cmd.Context(), query, limit)
	if err != nil {
		exitErr("recall episodes", err)
	}
	output(cmd, hits, func(w io.Writer) {
		for _, h := range hits {
			fmt.Fprintf(w, "%.3f %s %s\n", h.Similarity, h.Episode.SessionID, h.Episode.Summary)
		}
	})
}
