package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/rcliao/tiermem/internal/store"
	"github.com/spf13/cobra"
)

func init() {
	factCmd := &cobra.Command{
		Use:   "fact",
		Short: "Core fact management",
	}

	addCmd := &cobra.Command{
		Use:   "add [content]",
		Short: "Add an always-loaded core fact",
		Run:   runFactAdd,
	}
	addCmd.Flags().StringP("category", "C", "fact", "Category")
	addCmd.Flags().Float64P("importance", "i", 0.5, "Importance in [0, 1]")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List core facts",
		Run:   runFactList,
	}
	listCmd.Flags().BoolP("all", "a", false, "Include inactive facts")

	updateCmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Change a core fact's content, category or importance",
		Args:  cobra.ExactArgs(1),
		Run:   runFactUpdate,
	}
	updateCmd.Flags().String("content", "", "New content")
	updateCmd.Flags().StringP("category", "C", "", "New category")
	updateCmd.Flags().Float64P("importance", "i", 0, "New importance")

	deactivateCmd := &cobra.Command{
		Use:   "deactivate <id>",
		Short: "Keep a core fact but leave it out of the prompt",
		Args:  cobra.ExactArgs(1),
		Run:   runFactToggle,
	}
	activateCmd := &cobra.Command{
		Use:   "activate <id>",
		Short: "Put a deactivated core fact back into the prompt",
		Args:  cobra.ExactArgs(1),
		Run:   runFactToggle,
	}
	deleteCmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a core fact",
		Args:  cobra.ExactArgs(1),
		Run:   runFactDelete,
	}

	factCmd.AddCommand(addCmd, listCmd, updateCmd, deactivateCmd, activateCmd, deleteCmd)
	RootCmd.AddCommand(factCmd)
}

func runFactAdd(cmd *cobra.Command, args []string) {
	categoryStr, _ := cmd.Flags().GetString("category")

	content := strings.TrimSpace(readContent(cmd, args))
	if content == "" {
		exitErr("fact add", fmt.Errorf("content is required (positional arg or stdin)"))
	}
	category, err := parseCategory(categoryStr)
	if err != nil {
		exitErr("fact add", err)
	}

	m, done := openMemory()
	defer done()

	fact, err := m.AddCoreFact(cmd.Context(), content, category, importanceFlag(cmd))
	if err != nil {
		exitErr("fact add", err)
	}
	output(cmd, fact, func(w io.Writer) {
		fmt.Fprintf(w, "added core fact #%d\n", fact.ID)
	})
}

func runFactList(cmd *cobra.Command, args []string) {
	all, _ := cmd.Flags().GetBool("all")

	m, done := openMemory()
	defer done()

	facts, err := m.ListCoreFacts(cmd.Context(), all)
	if err != nil {
		exitErr("fact list", err)
	}
	output(cmd, facts, func(w io.Writer) {
		for _, f := range facts {
			state := ""
			if !f.Active {
				state = " (inactive)"
			}
			fmt.Fprintf(w, "#%d [%s] %.2f %s%s\n", f.ID, f.Category, f.Importance, f.Content, state)
		}
	})
}

func runFactUpdate(cmd *cobra.Command, args []string) {
	id := parseID(args[0])

	var u store.CoreFactUpdate
	if cmd.Flags().Changed("content") {
		content, _ := cmd.Flags().GetString("content")
		content = strings.TrimSpace(content)
		if content == "" {
			exitErr("fact update", fmt.Errorf("content must not be empty"))
		}
		u.Content = &content
	}
	if cmd.Flags().Changed("category") {
		categoryStr, _ := cmd.Flags().GetString("category")
		category, err := parseCategory(categoryStr)
		if err != nil || category == "" {
			exitErr("fact update", fmt.Errorf("unknown category %q", categoryStr))
		}
		u.Category = &category
	}
	u.Importance = importanceFlag(cmd)
	if u.Empty() {
		exitErr("fact update", fmt.Errorf("nothing to update (use --content, --category or --importance)"))
	}

	m, done := openMemory()
	defer done()

	ok, err := m.UpdateCoreFact(cmd.Context(), id, u)
	if err != nil {
		exitErr("fact update", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), `{"ok":%t,"id":%d}`+"\n", ok, id)
}

func runFactToggle(cmd *cobra.Command, args []string) {
	id := parseID(args[0])

	m, done := openMemory()
	defer done()

	var (
		ok  bool
		err error
	)
	if cmd.Name() == "activate" {
		ok, err = m.ReactivateCoreFact(cmd.Context(), id)
	} else {
		ok, err = m.DeactivateCoreFact(cmd.Context(), id)
	}
	if err != nil {
		exitErr("fact "+cmd.Name(), err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), `{"ok":%t,"id":%d}`+"\n", ok, id)
}

func runFactDelete(cmd *cobra.Command, args []string) {
	id := parseID(args[0])

	m, done := openMemory()
	defer done()

	ok, err := m.DeleteCoreFact(cmd.Context(), id)
	if err != nil {
		exitErr("fact delete", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), `{"ok":%t,"id":%d}`+"\n", ok, id)
}
