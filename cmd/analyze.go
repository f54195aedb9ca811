// -- cmd/analyze.go --
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/printforge/gcode-triage/api/schemas"
	"github.com/printforge/gcode-triage/internal/jobs"
	"github.com/printforge/gcode-triage/internal/observability"
	"github.com/printforge/gcode-triage/internal/pipeline"
	"github.com/printforge/gcode-triage/internal/snippet"
	"github.com/printforge/gcode-triage/internal/store"
)

var (
	analyzeOutput   string
	analyzePersist  bool
	analyzeSnippets bool
	analyzeWatch    bool
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze <file.gcode>",
	Short: "Run the full analysis pipeline over a G-code file.",
	Args:  cobra.ExactArgs(1),
	RunE:  runAnalyze,
}

func init() {
	analyzeCmd.Flags().StringVarP(&analyzeOutput, "output", "o", "", "write the result JSON to a file instead of stdout")
	analyzeCmd.Flags().BoolVar(&analyzePersist, "persist", false, "persist the result to the configured database")
	analyzeCmd.Flags().BoolVar(&analyzeSnippets, "snippets", false, "print a context snippet for each finding")
	analyzeCmd.Flags().BoolVar(&analyzeWatch, "watch", false, "print progress while the job runs")
	rootCmd.AddCommand(analyzeCmd)
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	logger := observability.GetLogger()
	filePath := args[0]

	raw, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("reading %s: %w", filePath, err)
	}

	analyzer := pipeline.NewAnalyzer(appConfig, logger)
	manager := jobs.NewManager(appConfig.Engine(), analyzer, logger)

	id, err := manager.Submit(ctx, jobs.SubmitRequest{
		Raw:      string(raw),
		FilePath: filePath,
	})
	if err != nil {
		return fmt.Errorf("submitting analysis: %w", err)
	}

	snap, err := waitForJob(ctx, manager, id)
	if err != nil {
		manager.CancelAll()
		manager.Wait()
		return err
	}
	manager.Wait()

	switch snap.Status {
	case schemas.JobCompleted:
	case schemas.JobCancelled:
		return context.Canceled
	default:
		return fmt.Errorf("analysis failed: %s", snap.Error)
	}

	if err := renderResult(snap, string(raw), analyzer); err != nil {
		return err
	}

	if analyzePersist {
		if err := persistResult(ctx, logger, id, filePath, snap.Result); err != nil {
			return err
		}
	}
	return nil
}

// waitForJob polls the manager until the job reaches a terminal state.
func waitForJob(ctx context.Context, manager *jobs.Manager, id string) (schemas.JobSnapshot, error) {
	logger := observability.GetLogger()
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	lastProgress := -1
	for {
		select {
		case <-ctx.Done():
			_ = manager.Cancel(id)
			// Cancellation lands asynchronously; wait for the worker to
			// reach a terminal state so the report is accurate instead of
			// surfacing a still-running snapshot with an empty error.
			deadline := time.Now().Add(500 * time.Millisecond)
			for time.Now().Before(deadline) {
				snap, err := manager.Snapshot(id)
				if err == nil && snap.Status.Terminal() {
					return snap, nil
				}
				time.Sleep(10 * time.Millisecond)
			}
			return schemas.JobSnapshot{}, ctx.Err()
		case <-ticker.C:
			snap, err := manager.Snapshot(id)
			if err != nil {
				return schemas.JobSnapshot{}, err
			}
			if analyzeWatch && snap.Progress != lastProgress {
				lastProgress = snap.Progress
				logger.Info("Analysis progress.",
					zap.String("analysis_id", id),
					zap.String("status", string(snap.Status)),
					zap.Int("progress", snap.Progress))
			}
			if snap.Status.Terminal() {
				return snap, nil
			}
		}
	}
}

func renderResult(snap schemas.JobSnapshot, raw string, analyzer *pipeline.Analyzer) error {
	out, err := schemas.MarshalIndentJSON(snap.Result)
	if err != nil {
		return fmt.Errorf("encoding result: %w", err)
	}
	out = append(out, '\n')

	if analyzeSnippets && snap.Result != nil {
		lines := analyzer.Parse(raw)
		extractor := snippet.NewExtractor()
		for _, f := range snap.Result.Findings {
			header := fmt.Sprintf("\n; --- %s %s (line %d) ---\n", f.ID, f.Type, f.LineIndex)
			out = append(out, header...)
			out = append(out, extractor.ForFinding(lines, f)...)
			out = append(out, '\n')
		}
	}

	if analyzeOutput != "" {
		return os.WriteFile(analyzeOutput, out, 0o644)
	}
	_, err = os.Stdout.Write(out)
	return err
}

func persistResult(ctx context.Context, logger *zap.Logger, analysisID, filePath string, result *schemas.AnalysisResult) error {
	dbCfg := appConfig.Database()
	if !dbCfg.Enabled || dbCfg.URL == "" {
		return errors.New("persistence requested but database is not configured")
	}
	pool, err := pgxpool.New(ctx, dbCfg.URL)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer pool.Close()

	st, err := store.New(ctx, pool, logger)
	if err != nil {
		return err
	}
	if err := st.PersistResult(ctx, analysisID, filePath, result); err != nil {
		return fmt.Errorf("persisting result: %w", err)
	}
	logger.Info("Result persisted.", zap.String("analysis_id", analysisID))
	return nil
}
