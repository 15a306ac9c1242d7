// Package cli implements the tiermem CLI commands.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/rcliao/tiermem/internal/config"
	"github.com/rcliao/tiermem/internal/memory"
	"github.com/rcliao/tiermem/internal/model"
	"github.com/spf13/cobra"
)

var (
	configPath string
	dbPath     string
	formatFlag string
	logLevel   string
)

// RootCmd is the top-level command.
var RootCmd = &cobra.Command{
	Use:   "tiermem",
	Short: "Three-tier memory for conversational agents",
	Long: "Core facts always in the prompt, knowledge retrieved on demand, and episode " +
		"summaries of finished conversations. SQLite-backed, single binary.",
}

func init() {
	RootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default: ~/.tiermem/config.yaml)")
	RootCmd.PersistentFlags().StringVarP(&dbPath, "db", "d", "", "Database path (overrides store.path)")
	RootCmd.PersistentFlags().StringVarP(&formatFlag, "format", "f", "json", "Output format: json or text")
	RootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")
}

func loadConfig() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if configPath != "" {
		cfg, err = config.LoadFromPath(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}
	if dbPath != "" {
		cfg.Store.Path = config.ExpandPath(dbPath)
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	return cfg, nil
}

// openMemory loads configuration and opens the memory. The returned func
// closes both the memory and the log file.
func openMemory() (*memory.Memory, func()) {
	cfg, err := loadConfig()
	if err != nil {
		exitErr("load config", err)
	}
	logger, closeLog := config.SetupLogger(cfg.Logging.File, cfg.LogLevel())

	m, err := memory.Open(cfg, logger)
	if err != nil {
		closeLog()
		exitErr("open memory", err)
	}
	return m, func() {
		if err := m.Close(); err != nil {
			logger.Warn("close memory", "error", err)
		}
		closeLog()
	}
}

func exitErr(msg string, err error) {
	fmt.Fprintf(os.Stderr, "error: %s: %v\n", msg, err)
	os.Exit(1)
}

// output writes v as indented JSON, or through text when --format=text
// and the command has a text rendering.
func output(cmd *cobra.Command, v interface{}, text func(w io.Writer)) {
	w := cmd.OutOrStdout()
	if formatFlag == "text" && text != nil {
		text(w)
		return
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Fprintln(w, string(b))
}

// readContent returns the positional args joined by spaces, or piped
// stdin when there are none.
func readContent(cmd *cobra.Command, args []string) string {
	if len(args) > 0 {
		return strings.Join(args, " ")
	}
	in := cmd.InOrStdin()
	if f, ok := in.(*os.File); ok {
		stat, err := f.Stat()
		if err != nil || stat.Mode()&os.ModeCharDevice != 0 {
			return ""
		}
	}
	b, err := io.ReadAll(in)
	if err != nil {
		exitErr("read stdin", err)
	}
	return string(b)
}

func parseTags(s string) []string {
	var tags []string
	for _, t := range strings.Split(s, ",") {
		t = strings.TrimSpace(t)
		if t != "" {
			tags = append(tags, t)
		}
	}
	return tags
}

// parseCategory accepts an empty string (meaning "any" or "default").
func parseCategory(s string) (model.Category, error) {
	c := model.Category(strings.ToLower(strings.TrimSpace(s)))
	if c == "" || model.ValidCategories[c] {
		return c, nil
	}
	return "", fmt.Errorf("unknown category %q", s)
}

// importanceFlag returns nil when the flag was not given.
func importanceFlag(cmd *cobra.Command) *float64 {
	if !cmd.Flags().Changed("importance") {
		return nil
	}
	v, _ := cmd.Flags().GetFloat64("importance")
	return &v
}

func parseID(s string) int64 {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		exitErr("parse id", fmt.Errorf("invalid id %q", s))
	}
	return id
}
