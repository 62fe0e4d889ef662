package main

import (
	"errors"
	"slices"

	"github.com/spf13/cobra"

	"github.com/Lllllllleong/docmergeflow/internal/config"
	"github.com/Lllllllleong/docmergeflow/internal/docx"
)

var placeholdersPrintConfig bool

var placeholdersCmd = &cobra.Command{
	Use:   "placeholders [template]",
	Short: "List the placeholder tokens found in a template",
	Long: `Lists every <...> token that sits inside a single text run of the template and
whether the field configuration supplies it. Tokens split across runs by the
editor are not listed because they cannot be replaced.`,
	Args: cobra.RangeArgs(0, 1),
	RunE: runPlaceholders,
}

func init() {
	placeholdersCmd.Flags().BoolVar(&placeholdersPrintConfig, "print-config", false, "print a starter field configuration and exit")
	rootCmd.AddCommand(placeholdersCmd)
}

func runPlaceholders(cmd *cobra.Command, args []string) error {
	if placeholdersPrintConfig {
		cmd.Print(config.DefaultFieldsYAML())
		return nil
	}
	if len(args) == 0 {
		return errors.New("requires a template argument")
	}

	fields, err := loadFields()
	if err != nil {
		return err
	}
	file, err := readUpload(args[0])
	if err != nil {
		return err
	}
	tmpl, err := docx.NewTemplate(file.Name, file.Data)
	if err != nil {
		return err
	}
	doc, err := tmpl.Open()
	if err != nil {
		return err
	}

	tokens := doc.Placeholders()
	if len(tokens) == 0 {
		cmd.Println("No placeholders found.")
		return nil
	}
	known := fields.Tokens()
	for _, tok := range tokens {
		status := "mapped"
		if !slices.Contains(known, tok) {
			status = "unmapped"
		}
		cmd.Printf("  %-30s %s\n", tok, status)
	}
	return nil
}
