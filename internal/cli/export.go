package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export all tiers as JSON",
		Long:  "Export core facts, knowledge and episodes as one JSON document. Vectors are not exported.",
		Run:   runExport,
	}

	cmd.Flags().StringP("output", "o", "", "Write to this file instead of stdout")

	RootCmd.AddCommand(cmd)
}

func runExport(cmd *cobra.Command, args []string) {
	out, _ := cmd.Flags().GetString("output")

	m, done := openMemory()
	defer done()

	ex, err := m.Export(cmd.Context())
	if err != nil {
		exitErr("export", err)
	}

	b, _ := json.MarshalIndent(ex, "", "  ")
	if out != "" {
		if err := os.WriteFile(out, append(b, '\n'), 0o600); err != nil {
			exitErr("write export", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), `{"ok":true,"file":%q}`+"\n", out)
		return
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(b))
}
