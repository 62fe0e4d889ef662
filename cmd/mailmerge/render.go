package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/Lllllllleong/docmergeflow/internal/models"
	"github.com/Lllllllleong/docmergeflow/internal/render"
	"github.com/Lllllllleong/docmergeflow/internal/services"
)

var (
	renderRoster     string
	renderTemplate   string
	renderOutput     string
	renderRenderer   string
	renderSoffice    string
	renderTimeout    time.Duration
	renderNest       bool
	renderCollisions string
	renderCombine    bool
	renderStrict     bool
	renderSheet      string
)

var renderCmd = &cobra.Command{
	Use:   "render",
	Short: "Merge a roster into a template and write the ZIP archive",
	Long: `Substitutes every roster row into a fresh copy of the template. Rows with an
empty key are skipped unless --strict is set. With a renderer, each document is
also converted to PDF; a failed conversion is reported and the .docx is kept.`,
	Args: cobra.NoArgs,
	RunE: runRender,
}

func init() {
	f := renderCmd.Flags()
	f.StringVarP(&renderRoster, "roster", "r", "", "roster file (.csv or .xlsx)")
	f.StringVarP(&renderTemplate, "template", "t", "", "template file (.docx)")
	f.StringVarP(&renderOutput, "output", "o", services.ArchiveName, "archive to write")
	f.StringVar(&renderRenderer, "renderer", render.KindNone, "PDF renderer: none, command, inprocess or auto")
	f.StringVar(&renderSoffice, "soffice", render.DefaultBinary, "converter binary for the command renderer")
	f.DurationVar(&renderTimeout, "timeout", render.DefaultTimeout, "per-document conversion timeout")
	f.BoolVar(&renderNest, "nest", false, "place each record's files in their own folder")
	f.StringVar(&renderCollisions, "collisions", "overwrite", "duplicate name policy: overwrite, suffix or fail")
	f.BoolVar(&renderCombine, "combine", false, "also add one PDF joining every record")
	f.BoolVar(&renderStrict, "strict", false, "fail when a row has an empty key instead of skipping it")
	f.StringVar(&renderSheet, "sheet", "", "workbook sheet to read (default: first sheet)")
	_ = renderCmd.MarkFlagRequired("roster")
	_ = renderCmd.MarkFlagRequired("template")
	rootCmd.AddCommand(renderCmd)
}

func runRender(cmd *cobra.Command, _ []string) error {
	fields, err := loadFields()
	if err != nil {
		return err
	}
	rosterFile, err := readUpload(renderRoster)
	if err != nil {
		return err
	}
	templateFile, err := readUpload(renderTemplate)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	merger := services.NewLocalMerger(services.MergeConfig{
		Renderer:       renderRenderer,
		SofficePath:    renderSoffice,
		ConvertTimeout: renderTimeout,
	}, fields)
	req := &models.MergeRequest{
		Renderer:   renderRenderer,
		Nest:       renderNest,
		Collisions: renderCollisions,
		Combine:    renderCombine,
		Strict:     renderStrict,
		Sheet:      renderSheet,
	}

	artifact, report, err := merger.MergeUpload(ctx, req, rosterFile, templateFile)
	if err != nil {
		return err
	}
	if err := os.WriteFile(renderOutput, artifact.Data, 0o644); err != nil {
		return fmt.Errorf("failed to write archive: %w", err)
	}

	cmd.Printf("Merged %d record(s) into %s (%d entries)\n", report.Records, renderOutput, len(report.Entries))
	for _, f := range report.Failures {
		cmd.Printf("  conversion failed: %s: %v\n", f.Record, f.Err)
	}
	for _, name := range report.Collisions {
		cmd.Printf("  overwritten: %s\n", name)
	}
	for _, tok := range report.UnmappedTokens {
		cmd.Printf("  unmapped placeholder left as-is: %s\n", tok)
	}
	return nil
}

func readUpload(path string) (services.Upload, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return services.Upload{}, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return services.Upload{Name: filepath.Base(path), Data: data}, nil
}
