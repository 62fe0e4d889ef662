package main

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/Lllllllleong/docmergeflow/internal/merge"
	"github.com/Lllllllleong/docmergeflow/internal/roster"
)

var (
	inspectSheet  string
	inspectStrict bool
)

var inspectCmd = &cobra.Command{
	Use:   "inspect [roster]",
	Short: "Show the columns, records and output names of a roster",
	Args:  cobra.ExactArgs(1),
	RunE:  runInspect,
}

func init() {
	inspectCmd.Flags().StringVar(&inspectSheet, "sheet", "", "workbook sheet to read (default: first sheet)")
	inspectCmd.Flags().BoolVar(&inspectStrict, "strict", false, "fail when a row has an empty key")
	rootCmd.AddCommand(inspectCmd)
}

func runInspect(cmd *cobra.Command, args []string) error {
	fields, err := loadFields()
	if err != nil {
		return err
	}
	file, err := readUpload(args[0])
	if err != nil {
		return err
	}

	records, err := roster.Load(file.Name, file.Data, roster.Options{
		KeyField:           fields.KeyField,
		DropInvalidRecords: !inspectStrict,
		Sheet:              inspectSheet,
	})
	if err != nil {
		return err
	}

	if len(records) == 0 {
		cmd.Println("No records found.")
		return nil
	}
	cmd.Printf("Columns: %s\n", strings.Join(records[0].Columns, ", "))
	cmd.Printf("Records: %d\n", len(records))
	cmd.Println()

	seen := make(map[string]int)
	for _, rec := range records {
		base := merge.BaseName(rec.Get(fields.KeyField))
		seen[base]++
		note := ""
		if seen[base] > 1 {
			note = "  (duplicate name)"
		}
		cmd.Printf("  row %d: %s%s\n", rec.Row, base, note)
	}
	return nil
}
