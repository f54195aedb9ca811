// Package pipeline composes the analysis stages: parse, section/event
// extraction, rule evaluation and patch generation. The segment stage and
// the rule stage are separate entry points because jobs publish segment data
// as soon as it exists, before the slower rule stage runs.
package pipeline

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/printforge/gcode-triage/api/schemas"
	"github.com/printforge/gcode-triage/internal/config"
	"github.com/printforge/gcode-triage/internal/events"
	"github.com/printforge/gcode-triage/internal/gcode"
	"github.com/printforge/gcode-triage/internal/patch"
	"github.com/printforge/gcode-triage/internal/rules"
	"github.com/printforge/gcode-triage/internal/sections"
)

// Analyzer runs the CPU-bound analysis pipeline over one file.
type Analyzer struct {
	cfg     config.Interface
	logger  *zap.Logger
	catalog *sections.MacroCatalog
	engine  *rules.Engine
	gen     *patch.Generator
}

// NewAnalyzer wires the pipeline stages from configuration.
func NewAnalyzer(cfg config.Interface, logger *zap.Logger) *Analyzer {
	logger = logger.Named("pipeline")
	return &Analyzer{
		cfg:     cfg,
		logger:  logger,
		catalog: sections.NewMacroCatalog(),
		engine:  rules.NewEngine(rulesConfig(cfg.Analyzer()), logger),
		gen:     patch.NewGenerator(logger),
	}
}

// Segments holds the structural stage's output plus the layer map the rule
// and patch stages reuse.
type Segments struct {
	Data   schemas.SegmentData
	Layers *sections.LayerMap
}

// Parse tokenizes raw text into the immutable line buffer.
func (a *Analyzer) Parse(raw string) []schemas.Line {
	return gcode.Parse(raw)
}

// ExtractSegments runs boundary detection and event tracking. The two walks
// are independent single passes over the same read-only buffer, so they run
// concurrently.
func (a *Analyzer) ExtractSegments(ctx context.Context, lines []schemas.Line) (Segments, error) {
	var (
		boundaries schemas.SectionBoundaries
		layers     *sections.LayerMap
		temps      []schemas.TemperatureEvent
		motion     schemas.MotionSummary
	)
	printerCtx := sections.DetectContext(lines, a.catalog)

	g, _ := errgroup.WithContext(ctx)
	g.Go(func() error {
		boundaries, layers = sections.Detect(lines, a.catalog, sectionsConfig(a.cfg.Analyzer()))
		return nil
	})
	g.Go(func() error {
		temps = events.Temperatures(lines)
		motion = events.Motion(lines)
		return nil
	})
	if err := g.Wait(); err != nil {
		return Segments{}, err
	}
	if err := ctx.Err(); err != nil {
		return Segments{}, err
	}

	a.logger.Debug("Segments extracted.",
		zap.Int("total_lines", len(lines)),
		zap.Int("start_end", boundaries.StartEnd),
		zap.Int("body_end", boundaries.BodyEnd),
		zap.Int("temp_events", len(temps)),
		zap.Bool("low_confidence", boundaries.LowConfidence))

	return Segments{
		Data: schemas.SegmentData{
			Boundaries: boundaries,
			Events:     temps,
			Motion:     motion,
			Context:    printerCtx,
			TotalLines: len(lines),
		},
		Layers: layers,
	}, nil
}

// RunRules evaluates the rule registry over extracted segments and builds
// the patch plan.
func (a *Analyzer) RunRules(ctx context.Context, lines []schemas.Line, seg Segments, filePath string) ([]schemas.Finding, schemas.PatchPlan, error) {
	if err := ctx.Err(); err != nil {
		return nil, schemas.PatchPlan{}, err
	}
	findings, err := a.engine.Evaluate(rules.Input{
		Lines:      lines,
		Events:     seg.Data.Events,
		Boundaries: seg.Data.Boundaries,
		Motion:     seg.Data.Motion,
		Context:    seg.Data.Context,
		Catalog:    a.catalog,
	})
	if err != nil {
		return nil, schemas.PatchPlan{}, err
	}
	plan := a.gen.Generate(findings, lines, seg.Layers, filePath)
	return findings, plan, nil
}

// Analyze runs the full pipeline in one call. Jobs drive the stages
// separately; this is the synchronous path the CLI uses.
func (a *Analyzer) Analyze(ctx context.Context, raw, filePath string) (schemas.AnalysisResult, error) {
	lines := a.Parse(raw)
	seg, err := a.ExtractSegments(ctx, lines)
	if err != nil {
		return schemas.AnalysisResult{}, err
	}
	findings, plan, err := a.RunRules(ctx, lines, seg, filePath)
	if err != nil {
		return schemas.AnalysisResult{}, err
	}
	return schemas.AnalysisResult{
		Segments:  seg.Data,
		Findings:  findings,
		PatchPlan: &plan,
	}, nil
}

func rulesConfig(c config.AnalyzerConfig) rules.Config {
	return rules.Config{
		MinBodyTemp:         c.MinBodyTemp,
		RapidDropDelta:      c.RapidDropDelta,
		BodyTempChangeLimit: c.BodyTempChangeLimit,
		MacroLookahead:      c.MacroLookahead,
		BedOffRemainingMin:  c.BedOffRemainingMin,
		PrintSpeedLimit: map[schemas.SpeedClass]float64{
			schemas.SpeedClassStandard:  c.StandardPrintLimit,
			schemas.SpeedClassHighSpeed: c.HighSpeedPrintLimit,
		},
		TravelSpeedLimit: map[schemas.SpeedClass]float64{
			schemas.SpeedClassStandard:  c.StandardTravelLimit,
			schemas.SpeedClassHighSpeed: c.HighSpeedTravelLimit,
		},
	}
}

func sectionsConfig(c config.AnalyzerConfig) sections.Config {
	return sections.Config{
		MacroLookahead: c.MacroLookahead,
		EndScanWindow:  c.EndScanWindow,
	}
}
