// Package store persists completed analysis results to PostgreSQL. The sink
// is optional; the pipeline itself never depends on it.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/printforge/gcode-triage/api/schemas"
)

// DBPool is an interface that abstracts the pgxpool.Pool to allow for
// mocking in tests.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
}

// Store provides the PostgreSQL persistence implementation.
type Store struct {
	pool DBPool
	log  *zap.Logger
}

// New creates a new store instance and verifies the connection.
func New(ctx context.Context, pool DBPool, logger *zap.Logger) (*Store, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &Store{
		pool: pool,
		log:  logger.Named("store"),
	}, nil
}

// PersistResult writes one completed analysis in a single transaction: the
// analysis row, the finding set via CopyFrom and the patch plan via a batch.
func (s *Store) PersistResult(ctx context.Context, analysisID, filePath string, result *schemas.AnalysisResult) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			s.log.Error("Failed to rollback transaction", zap.Error(rollbackErr))
		}
	}()

	if err := s.persistAnalysis(ctx, tx, analysisID, filePath, result); err != nil {
		return err
	}
	if len(result.Findings) > 0 {
		if err := s.persistFindings(ctx, tx, analysisID, result.Findings); err != nil {
			return err
		}
	}
	if result.PatchPlan != nil && len(result.PatchPlan.Patches) > 0 {
		if err := s.persistPatches(ctx, tx, analysisID, result.PatchPlan); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *Store) persistAnalysis(ctx context.Context, tx pgx.Tx, analysisID, filePath string, result *schemas.AnalysisResult) error {
	b := result.Segments.Boundaries
	sql := `
        INSERT INTO analyses (id, file_path, total_lines, start_end, body_end, low_confidence, finding_count, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
        ON CONFLICT (id) DO UPDATE SET
            total_lines = EXCLUDED.total_lines,
            start_end = EXCLUDED.start_end,
            body_end = EXCLUDED.body_end,
            low_confidence = EXCLUDED.low_confidence,
            finding_count = EXCLUDED.finding_count;
    `
	_, err := tx.Exec(ctx, sql,
		analysisID, filePath, b.TotalLines, b.StartEnd, b.BodyEnd,
		b.LowConfidence, len(result.Findings), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to insert analysis: %w", err)
	}
	return nil
}

func (s *Store) persistFindings(ctx context.Context, tx pgx.Tx, analysisID string, findings []schemas.Finding) error {
	now := time.Now().UTC()
	rows := make([][]interface{}, len(findings))
	for i, f := range findings {
		// seq preserves emission order; the string ids sort lexicographically
		// past nine findings.
		rows[i] = []interface{}{
			analysisID, f.ID, i + 1, string(f.Type), string(f.Severity),
			f.LineIndex, f.Title, f.Description, f.FixProposal, now,
		}
	}

	copyCount, err := tx.CopyFrom(
		ctx,
		pgx.Identifier{"findings"},
		[]string{"analysis_id", "id", "seq", "type", "severity", "line_index", "title", "description", "fix_proposal", "observed_at"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return fmt.Errorf("failed to copy findings: %w", err)
	}
	if int(copyCount) != len(findings) {
		return fmt.Errorf("mismatch in copied findings count: expected %d, got %d", len(findings), copyCount)
	}
	return nil
}

func (s *Store) persistPatches(ctx context.Context, tx pgx.Tx, analysisID string, plan *schemas.PatchPlan) error {
	batch := &pgx.Batch{}
	sql := `
        INSERT INTO patches (analysis_id, id, issue_id, line_index, layer, original, modified, action, position, reason, issue_type, autofix_allowed)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
        ON CONFLICT (analysis_id, id) DO UPDATE SET
            modified = EXCLUDED.modified,
            action = EXCLUDED.action,
            position = EXCLUDED.position,
            reason = EXCLUDED.reason,
            autofix_allowed = EXCLUDED.autofix_allowed;
    `
	for _, p := range plan.Patches {
		batch.Queue(sql,
			analysisID, p.ID, p.IssueID, p.LineIndex, p.Layer,
			p.Original, p.Modified, string(p.Action), string(p.Position),
			p.Reason, string(p.IssueType), p.AutofixAllowed)
	}

	results := tx.SendBatch(ctx, batch)
	defer func() {
		if err := results.Close(); err != nil {
			s.log.Error("Failed to close patch batch results", zap.Error(err))
		}
	}()

	for range plan.Patches {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("failed to insert patch: %w", err)
		}
	}
	return nil
}

// GetFindings returns the stored finding set for one analysis in emission
// order.
func (s *Store) GetFindings(ctx context.Context, analysisID string) ([]schemas.Finding, error) {
	query := `
        SELECT id, type, severity, line_index, title, description, fix_proposal
        FROM findings
        WHERE analysis_id = $1
        ORDER BY seq ASC;
    `
	rows, err := s.pool.Query(ctx, query, analysisID)
	if err != nil {
		return nil, fmt.Errorf("failed to query findings: %w", err)
	}
	defer rows.Close()

	var findings []schemas.Finding
	for rows.Next() {
		var f schemas.Finding
		var typeStr, severityStr string

		if err := rows.Scan(&f.ID, &typeStr, &severityStr, &f.LineIndex, &f.Title, &f.Description, &f.FixProposal); err != nil {
			return nil, fmt.Errorf("failed to scan finding row: %w", err)
		}
		f.Type = schemas.FindingType(typeStr)
		f.Severity = schemas.Severity(severityStr)
		findings = append(findings, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return findings, nil
}

// ApplyOverride updates the stored severity/description of one finding. The
// detection result itself is never recomputed here; this records the
// correction an external explanation stage handed back.
func (s *Store) ApplyOverride(ctx context.Context, analysisID string, o schemas.FindingOverride) error {
	sql := `
        UPDATE findings
        SET severity = COALESCE(NULLIF($3, ''), severity),
            description = COALESCE(NULLIF($4, ''), description)
        WHERE analysis_id = $1 AND id = $2;
    `
	tag, err := s.pool.Exec(ctx, sql, analysisID, o.FindingID, string(o.Severity), o.Description)
	if err != nil {
		return fmt.Errorf("failed to apply finding override: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("finding %s not found for analysis %s", o.FindingID, analysisID)
	}
	return nil
}
