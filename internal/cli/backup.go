package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

func init() {
	backupCmd := &cobra.Command{
		Use:   "backup",
		Short: "Store snapshots",
	}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Snapshot the store now",
		Run:   runBackupCreate,
	}
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List snapshots, newest first",
		Run:   runBackupList,
	}
	restoreCmd := &cobra.Command{
		Use:   "restore <filename>",
		Short: "Replace the store with a snapshot",
		Long:  "Replace the store with a snapshot. The current store is saved as a pre_restore snapshot first.",
		Args:  cobra.ExactArgs(1),
		Run:   runBackupRestore,
	}
	checkCmd := &cobra.Command{
		Use:   "check",
		Short: "Snapshot the store if the newest backup is older than the interval",
		Run:   runBackupCheck,
	}

	backupCmd.AddCommand(createCmd, listCmd, restoreCmd, checkCmd)
	RootCmd.AddCommand(backupCmd)
}

func runBackupCreate(cmd *cobra.Command, args []string) {
	m, done := openMemory()
	defer done()

	rec, err := m.CreateBackup(cmd.Context())
	if err != nil {
		exitErr("backup", err)
	}
	if rec == nil {
		fmt.Fprintln(cmd.OutOrStdout(), `{"ok":false,"reason":"no store file"}`)
		return
	}
	output(cmd, rec, func(w io.Writer) {
		fmt.Fprintf(w, "created %s (%d bytes)\n", rec.Filename, rec.Size)
	})
}

func runBackupList(cmd *cobra.Command, args []string) {
	m, done := openMemory()
	defer done()

	records, err := m.ListBackups()
	if err != nil {
		exitErr("list backups", err)
	}
	output(cmd, records, func(w io.Writer) {
		for _, r := range records {
			fmt.Fprintf(w, "%s %s %d\n", r.Timestamp.Format("2006-01-02 15:04:05"), r.Filename, r.Size)
		}
	})
}

func runBackupRestore(cmd *cobra.Command, args []string) {
	m, done := openMemory()
	defer done()

	ok, err := m.RestoreFromBackup(cmd.Context(), args[0])
	if err != nil {
		exitErr("restore", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), `{"ok":%t,"filename":%q}`+"\n", ok, args[0])
}

func runBackupCheck(cmd *cobra.Command, args []string) {
	m, done := openMemory()
	defer done()

	rec, err := m.Backups().CheckAndBackup(cmd.Context())
	if err != nil {
		exitErr("backup check", err)
	}
	if rec == nil {
		fmt.Fprintln(cmd.OutOrStdout(), `{"ok":true,"created":false}`)
		return
	}
	output(cmd, rec, func(w io.Writer) {
		fmt.Fprintf(w, "created %s (%d bytes)\n", rec.Filename, rec.Size)
	})
}
