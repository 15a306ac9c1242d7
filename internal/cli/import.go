package cli

import (
	"encoding/json"
	"io"
	"os"

	"github.com/rcliao/tiermem/internal/store"
	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "import [file]",
		Short: "Import all tiers from JSON",
		Long: "Import from JSON (file or stdin). Expects the format produced by export. " +
			"Vectors are recomputed; episodes whose session already exists are skipped.",
		Args: cobra.MaximumNArgs(1),
		Run:  runImport,
	}

	RootCmd.AddCommand(cmd)
}

func runImport(cmd *cobra.Command, args []string) {
	var (
		data []byte
		err  error
	)
	if len(args) == 1 {
		data, err = os.ReadFile(args[0])
	} else {
		data, err = io.ReadAll(cmd.InOrStdin())
	}
	if err != nil {
		exitErr("read input", err)
	}

	var ex store.Export
	if err := json.Unmarshal(data, &ex); err != nil {
		exitErr("parse json", err)
	}

	m, done := openMemory()
	defer done()

	counts, err := m.Import(cmd.Context(), &ex)
	if err != nil {
		exitErr("import", err)
	}

	output(cmd, counts, nil)
}
