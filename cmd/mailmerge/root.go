package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/Lllllllleong/docmergeflow/internal/config"
)

var (
	verbose    bool
	fieldsPath string
)

var rootCmd = &cobra.Command{
	Use:   "mailmerge",
	Short: "Generate personalized documents from a roster and a template",
	Long: `mailmerge fills a .docx template once per roster row (.csv or .xlsx) and
bundles the results, optionally with PDF copies, into a single ZIP archive.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, _ []string) {
		level := slog.LevelInfo
		if verbose {
			level = slog.LevelDebug
		}
		slog.SetDefault(slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level})))
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&fieldsPath, "fields", "", "field configuration YAML (default: Student Name + College Name)")
}

func loadFields() (config.FieldSet, error) {
	return config.LoadFieldSet(fieldsPath)
}
