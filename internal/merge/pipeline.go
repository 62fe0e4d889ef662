// Package merge runs the per-record render loop: substitute each record
// into a fresh copy of the template, optionally convert it, and collect the
// outputs into one archive.
package merge

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"slices"
	"strings"

	"github.com/Lllllllleong/docmergeflow/internal/archive"
	"github.com/Lllllllleong/docmergeflow/internal/config"
	"github.com/Lllllllleong/docmergeflow/internal/docx"
	"github.com/Lllllllleong/docmergeflow/internal/models"
	"github.com/Lllllllleong/docmergeflow/internal/render"
	"github.com/Lllllllleong/docmergeflow/internal/roster"
)

// CollisionPolicy decides what happens when two records map to the same
// archive base name.
type CollisionPolicy string

const (
	// CollisionOverwrite lets the later record replace the earlier one.
	CollisionOverwrite CollisionPolicy = "overwrite"
	// CollisionSuffix appends _2, _3, ... to later records.
	CollisionSuffix CollisionPolicy = "suffix"
	// CollisionFail aborts the batch with a DuplicateKeyError.
	CollisionFail CollisionPolicy = "fail"
)

// ParseCollisionPolicy accepts the policy names case-insensitively. An empty
// string selects CollisionOverwrite.
func ParseCollisionPolicy(s string) (CollisionPolicy, error) {
	switch p := CollisionPolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return CollisionOverwrite, nil
	case CollisionOverwrite, CollisionSuffix, CollisionFail:
		return p, nil
	default:
		return "", fmt.Errorf("unknown collision policy %q (want overwrite, suffix or fail)", s)
	}
}

// Options configures a Run.
type Options struct {
	// TemplateName is the uploaded template's file name. It is used for
	// error messages and to pick the primary output extension.
	TemplateName string
	Fields       config.FieldSet
	// Renderer produces the secondary format. Nil means primary output only.
	Renderer     render.Renderer
	NestByRecord bool
	Collisions   CollisionPolicy
	// CombinedPDF, when set, is the archive name of a single PDF joining every
	// secondary output in record order.
	CombinedPDF string
	Progress    func(done, total int)
	Logger      *slog.Logger
}

// Result is the finalized archive and its report.
type Result struct {
	Archive []byte
	Report  Report
}

type secondaryOut struct {
	name string
	data []byte
}

// Run merges every record into template. Conversion failures are isolated
// to their record; template, serialization and cancellation errors abort the
// batch and no archive is produced.
func Run(ctx context.Context, records []roster.Record, template []byte, opts Options) (*Result, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	policy := opts.Collisions
	if policy == "" {
		policy = CollisionOverwrite
	}
	fields := opts.Fields
	if len(fields.Fields) == 0 {
		fields = config.DefaultFieldSet()
	}

	tmpl, err := docx.NewTemplate(opts.TemplateName, template)
	if err != nil {
		return nil, err
	}

	report := Report{Records: len(records)}
	if sample, err := tmpl.Open(); err == nil {
		report.UnmappedTokens = unmappedTokens(sample.Placeholders(), fields.Tokens())
		if len(report.UnmappedTokens) > 0 {
			logger.Warn("Template contains placeholders with no configured field; they will be left as-is.",
				"tokens", report.UnmappedTokens)
		}
	}

	names := newNamer(policy)
	arc := archive.New()
	var secondaries []secondaryOut
	primaryExt := tmpl.OutputExtension()

	for i, rec := range records {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		key := rec.Get(fields.KeyField)
		logCtx := logger.With("record", key, "row", rec.Row)

		doc, err := tmpl.Open()
		if err != nil {
			return nil, err
		}
		replaced := doc.Substitute(BuildPlaceholders(fields, rec))
		primary, err := doc.Bytes()
		if err != nil {
			return nil, &models.SerializationError{Record: key, Err: err}
		}

		base, collided, err := names.allocate(BaseName(key))
		if err != nil {
			return nil, err
		}
		if collided {
			report.Collisions = append(report.Collisions, base)
			logCtx.Warn("Output name already used by an earlier record; overwriting.", "name", base)
		}

		var secondary []byte
		if opts.Renderer != nil {
			secondary, err = opts.Renderer.Render(ctx, base, primary)
			if err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return nil, ctxErr
				}
				report.Failures = append(report.Failures, &models.ConversionError{
					Record:   key,
					Renderer: opts.Renderer.Name(),
					Err:      err,
				})
				logCtx.Warn("Conversion failed; keeping the primary document only.", "renderer", opts.Renderer.Name(), "error", err)
				secondary = nil
			}
		}

		primaryName := entryName(base, primaryExt, opts.NestByRecord && opts.Renderer != nil)
		if _, err := arc.Add(primaryName, primary); err != nil {
			return nil, fmt.Errorf("failed to add %s to archive: %w", primaryName, err)
		}
		if opts.Renderer != nil {
			secondaryName := entryName(base, opts.Renderer.Extension(), opts.NestByRecord)
			if secondary != nil {
				if _, err := arc.Add(secondaryName, secondary); err != nil {
					return nil, fmt.Errorf("failed to add %s to archive: %w", secondaryName, err)
				}
				secondaries = setSecondary(secondaries, secondaryName, secondary)
			} else {
				// An overwritten record must not leave an earlier record's
				// secondary output behind under its name.
				if _, err := arc.Remove(secondaryName); err != nil {
					return nil, fmt.Errorf("failed to remove %s from archive: %w", secondaryName, err)
				}
				secondaries = dropSecondary(secondaries, secondaryName)
			}
		}

		logCtx.Debug("Record merged.", "entry", primaryName, "replacedNodes", replaced, "secondary", secondary != nil)
		if opts.Progress != nil {
			opts.Progress(i+1, len(records))
		}
	}

	if opts.CombinedPDF != "" && len(secondaries) > 0 {
		docs := make([][]byte, len(secondaries))
		for i, s := range secondaries {
			docs[i] = s.data
		}
		combined, err := render.MergePDFs(docs)
		if err != nil {
			logger.Warn("Failed to build combined PDF; continuing without it.", "error", err)
		} else {
			name := freeName(arc, opts.CombinedPDF)
			if name != opts.CombinedPDF {
				logger.Warn("Combined PDF name is taken by a record output; renaming.", "requested", opts.CombinedPDF, "name", name)
			}
			if _, err := arc.Add(name, combined); err != nil {
				return nil, fmt.Errorf("failed to add %s to archive: %w", name, err)
			}
			report.Combined = name
			if pages, err := render.PageCount(combined); err == nil {
				logger.Info("Combined PDF built.", "name", name, "documents", len(docs), "pages", pages)
			}
		}
	}

	report.Entries = arc.Names()
	report.Primary, report.Secondary = countEntries(report.Entries, primaryExt, report.Combined, opts.Renderer)
	if arc.Len() == 0 {
		logger.Warn("Merge produced an empty archive.", "records", report.Records)
	}

	data, err := arc.Finalize()
	if err != nil {
		return nil, err
	}

	logger.Info("Merge batch complete.",
		"records", report.Records,
		"entries", arc.Len(),
		"conversionFailures", len(report.Failures),
		"collisions", len(report.Collisions))
	return &Result{Archive: data, Report: report}, nil
}

func entryName(base, ext string, nested bool) string {
	if nested {
		return path.Join(base, base+ext)
	}
	return base + ext
}

// countEntries tallies primary and secondary outputs. combined, the archive
// name of the combined PDF, is excluded; an empty combined excludes nothing.
func countEntries(entries []string, primaryExt, combined string, renderer render.Renderer) (primary, secondary int) {
	for _, name := range entries {
		switch {
		case combined != "" && name == combined:
		case strings.HasSuffix(name, primaryExt):
			primary++
		case renderer != nil && strings.HasSuffix(name, renderer.Extension()):
			secondary++
		}
	}
	return primary, secondary
}

// freeName returns name, or the first of stem_2.ext, stem_3.ext, ... that
// the archive does not already hold.
func freeName(arc *archive.Archive, name string) string {
	if !arc.Has(name) {
		return name
	}
	ext := path.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	for i := 2; ; i++ {
		candidate := fmt.Sprintf("%s_%d%s", stem, i, ext)
		if !arc.Has(candidate) {
			return candidate
		}
	}
}

func setSecondary(outs []secondaryOut, name string, data []byte) []secondaryOut {
	for i := range outs {
		if outs[i].name == name {
			outs[i].data = data
			return outs
		}
	}
	return append(outs, secondaryOut{name: name, data: data})
}

func dropSecondary(outs []secondaryOut, name string) []secondaryOut {
	return slices.DeleteFunc(outs, func(s secondaryOut) bool { return s.name == name })
}

// unmappedTokens returns the template tokens not in known, in template order.
func unmappedTokens(found, known []string) []string {
	var out []string
	for _, tok := range found {
		if !slices.Contains(known, tok) {
			out = append(out, tok)
		}
	}
	return out
}

// namer hands out archive base names under a collision policy.
type namer struct {
	policy CollisionPolicy
	used   map[string]int
}

func newNamer(policy CollisionPolicy) *namer {
	return &namer{policy: policy, used: make(map[string]int)}
}

// allocate returns the base name to write under. collided is true only under
// CollisionOverwrite, when the name replaces an earlier record's output.
func (n *namer) allocate(base string) (name string, collided bool, err error) {
	count := n.used[base]
	n.used[base] = count + 1
	if count == 0 {
		return base, false, nil
	}

	switch n.policy {
	case CollisionFail:
		return "", false, &models.DuplicateKeyError{Name: base}
	case CollisionSuffix:
		for i := count + 1; ; i++ {
			candidate := fmt.Sprintf("%s_%d", base, i)
			if n.used[candidate] == 0 {
				n.used[candidate] = 1
				return candidate, false, nil
			}
		}
	default:
		return base, true, nil
	}
}
