// -- cmd/export.go --
package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/printforge/gcode-triage/api/schemas"
	"github.com/printforge/gcode-triage/internal/delta"
	"github.com/printforge/gcode-triage/internal/observability"
)

var (
	exportOutput   string
	exportStrict   bool
	exportNoHeader bool
)

var exportCmd = &cobra.Command{
	Use:   "export <original.gcode> <deltas.json>",
	Short: "Apply a delta set to a G-code file and write the merged output.",
	Long: `export streams the original file through the delta merge engine. The delta
file is either a JSON array of line deltas or a full export request object.
The original is never modified.`,
	Args: cobra.ExactArgs(2),
	RunE: runExport,
}

func init() {
	exportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "output file (default <original>_patched.gcode)")
	exportCmd.Flags().BoolVar(&exportStrict, "strict", false, "fail the whole export on any content mismatch")
	exportCmd.Flags().BoolVar(&exportNoHeader, "no-header", false, "omit the modification-history header comment")
	rootCmd.AddCommand(exportCmd)
}

func runExport(cmd *cobra.Command, args []string) error {
	logger := observability.GetLogger()
	originalPath, deltaPath := args[0], args[1]

	req, err := loadExportRequest(deltaPath)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("strict") {
		req.Strict = exportStrict
	} else if !req.Strict {
		req.Strict = appConfig.Export().Strict
	}
	includeHeader := appConfig.Export().IncludeHeaderComment || req.IncludeHeaderComment
	if exportNoHeader {
		includeHeader = false
	}

	outPath := exportOutput
	if outPath == "" {
		outPath = defaultExportPath(originalPath)
	}

	in, err := os.Open(originalPath)
	if err != nil {
		return fmt.Errorf("opening %s: %w", originalPath, err)
	}
	defer in.Close()

	out, err := os.Create(outPath)
	if err != nil {
		return fmt.Errorf("creating %s: %w", outPath, err)
	}
	defer out.Close()

	if includeHeader {
		if err := delta.WriteHeader(out, req.Deltas, originalPath, time.Now()); err != nil {
			return fmt.Errorf("writing header: %w", err)
		}
	}

	merger := delta.NewMerger(logger)
	stats, err := merger.Apply(in, out, req.Deltas, delta.Options{Strict: req.Strict})
	if err != nil {
		// Partial output is worse than no output.
		out.Close()
		os.Remove(outPath)
		return fmt.Errorf("applying deltas: %w", err)
	}

	logger.Info("Export complete.",
		zap.String("output", outPath),
		zap.Int("total_lines", stats.TotalLines),
		zap.Int("applied", stats.AppliedDeltas),
		zap.Int("skipped", stats.SkippedDeltas))
	for _, w := range stats.Warnings {
		logger.Warn("Export warning.", zap.String("warning", w))
	}
	return nil
}

// loadExportRequest accepts either a bare delta array or a full request
// object.
func loadExportRequest(path string) (schemas.ExportRequest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return schemas.ExportRequest{}, fmt.Errorf("reading %s: %w", path, err)
	}

	var req schemas.ExportRequest
	if err := schemas.UnmarshalJSON(data, &req); err == nil && len(req.Deltas) > 0 {
		return req, nil
	}

	var deltas []schemas.LineDelta
	if err := schemas.UnmarshalJSON(data, &deltas); err != nil {
		return schemas.ExportRequest{}, fmt.Errorf("parsing %s: %w", path, err)
	}
	return schemas.ExportRequest{Deltas: deltas}, nil
}

func defaultExportPath(originalPath string) string {
	ext := ""
	base := originalPath
	for i := len(originalPath) - 1; i >= 0 && originalPath[i] != '/'; i-- {
		if originalPath[i] == '.' {
			base, ext = originalPath[:i], originalPath[i:]
			break
		}
	}
	return base + "_patched" + ext
}
