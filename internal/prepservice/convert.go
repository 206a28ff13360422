package prepservice

import (
	"context"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/starford/yoloprep/internal/catalog"
	"github.com/starford/yoloprep/internal/checksum"
	"github.com/starford/yoloprep/internal/converter"
	"github.com/starford/yoloprep/internal/sse"
)

// ConvertRequest is one conversion call. Config starts from the service
// defaults (see ConvertConfig).
type ConvertRequest struct {
	converter.Config
	converter.RunOptions

	// RecordSession appends a training session listing the converted images
	// when the run completes without cancellation.
	RecordSession bool   `json:"record_session"`
	SessionName   string `json:"session_name"`
}

// ConvertResult is the outcome of a conversion.
type ConvertResult struct {
	RunID     string            `json:"run_id"`
	SessionID string            `json:"session_id,omitempty"`
	Report    *converter.Report `json:"report"`
}

// ConvertConfig returns the default conversion config with source and
// target filled in.
func (s *Service) ConvertConfig(source, target string) converter.Config {
	cfg := s.defaults
	cfg.SourceDir = source
	cfg.TargetDir = target
	return cfg
}

// Convert runs a conversion while holding the service lock. Progress is
// forwarded to the publisher, the run is recorded in the catalog when one is
// configured, and a training session is appended on request.
func (s *Service) Convert(ctx context.Context, req ConvertRequest) (*ConvertResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	runID := uuid.NewString()
	started := time.Now()
	s.publisher.Publish(sse.Event{Type: sse.EventConvertStarted, Data: map[string]any{
		"run_id":       runID,
		"source_dir":   req.SourceDir,
		"dataset_name": req.DatasetName,
	}})

	fail := func(err error) (*ConvertResult, error) {
		s.publisher.Publish(sse.Event{Type: sse.EventConvertFailed, Data: map[string]any{
			"run_id": runID,
			"error":  err.Error(),
		}})
		return nil, err
	}

	opts := []converter.Option{
		converter.WithLogger(s.logger),
		converter.WithHistory(s.history),
	}
	if req.UseClassConfig {
		opts = append(opts, converter.WithRegistry(s.registry))
	}
	conv, err := converter.New(req.Config, opts...)
	if err != nil {
		return fail(err)
	}

	run := req.RunOptions
	userProgress := run.Progress
	run.Progress = func(current, total int, msg string) {
		s.publisher.PublishProgress(runID, current, total, msg)
		if userProgress != nil {
			userProgress(current, total, msg)
		}
	}

	classesBefore := s.registry.Classes()
	rep, err := conv.Convert(ctx, run)
	if req.UseClassConfig && !slices.Equal(classesBefore, s.registry.Classes()) {
		s.registryUpdated("convert")
	}
	if err != nil {
		return fail(err)
	}

	res := &ConvertResult{RunID: runID, Report: rep}
	s.recordRun(runID, started, req.Config, rep)

	if req.RecordSession && !rep.Cancelled {
		name := req.SessionName
		if name == "" {
			name = "conversion " + runID[:8]
		}
		id, err := s.recordSession(SessionInput{
			Name:        name,
			DatasetPath: rep.DatasetDir,
			ImageFiles:  rep.Images(),
			TrainingConfig: map[string]any{
				"run_id":       runID,
				"dataset_name": req.DatasetName,
				"train_ratio":  req.TrainRatio,
				"seed":         req.Seed,
			},
		})
		if err != nil {
			return fail(err)
		}
		res.SessionID = id
	}

	s.publisher.Publish(sse.Event{Type: sse.EventConvertCompleted, Data: map[string]any{
		"run_id":          runID,
		"pairs_converted": rep.PairsConverted,
		"train_count":     rep.TrainCount,
		"val_count":       rep.ValCount,
		"cancelled":       rep.Cancelled,
	}})
	return res, nil
}

// recordRun stores the run in the catalog. The catalog is informational, so
// failures are logged and do not fail the conversion.
func (s *Service) recordRun(runID string, started time.Time, cfg converter.Config, rep *converter.Report) {
	if s.catalog == nil {
		return
	}
	items := make([]catalog.Item, 0, len(rep.Items))
	for _, it := range rep.Items {
		sum, err := checksum.File(it.LabelFile)
		if err != nil {
			s.logger.Warn("prepservice: label checksum failed",
				slog.String("label", it.LabelFile),
				slog.String("error", err.Error()))
		}
		items = append(items, catalog.Item{
			Stem:          it.Stem,
			Split:         it.Split,
			ImagePath:     it.Image,
			LabelChecksum: sum,
			Boxes:         it.Boxes,
		})
	}
	_, err := s.catalog.RecordRun(catalog.Run{
		ID:             runID,
		DatasetName:    cfg.DatasetName,
		SourceDir:      cfg.SourceDir,
		TargetDir:      cfg.TargetDir,
		Seed:           cfg.Seed,
		TrainRatio:     cfg.TrainRatio,
		StartedAt:      started,
		DurationMS:     rep.Duration.Milliseconds(),
		PairsFound:     rep.PairsFound,
		PairsConverted: rep.PairsConverted,
		TrainCount:     rep.TrainCount,
		ValCount:       rep.ValCount,
		BoxesWritten:   rep.BoxesWritten,
		BoxesDropped:   rep.BoxesDroppedDegenerate,
		Cancelled:      rep.Cancelled,
	}, items)
	if err != nil {
		s.logger.Warn("prepservice: run not recorded in catalog",
			slog.String("run_id", runID),
			slog.String("error", err.Error()))
	}
}
