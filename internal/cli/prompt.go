package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "prompt [base prompt]",
		Short: "Prepend the core memory section to a system prompt",
		Long: "Render the active core facts as a markdown section and prepend it to the base " +
			"prompt (positional arg or stdin). Always prints plain text.",
		Run: runPrompt,
	}

	RootCmd.AddCommand(cmd)
}

func runPrompt(cmd *cobra.Command, args []string) {
	base := readContent(cmd, args)

	m, done := openMemory()
	defer done()

	prompt, err := m.BuildAugmentedPrompt(cmd.Context(), base)
	if err != nil {
		exitErr("prompt", err)
	}
	fmt.Fprint(cmd.OutOrStdout(), prompt)
}
