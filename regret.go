package tasm

import (
	"context"
	"time"

	"github.com/hupe1980/tasm/internal/regret"
)

// RetileReport describes the outcome of RetileBasedOnRegret.
type RetileReport = regret.Report

// ActivateRegretBasedTiling starts accumulating the regret of queries against
// video with metadataID. Queries before activation are not tracked.
func (t *TASM) ActivateRegretBasedTiling(video, metadataID string) error {
	if err := t.checkOpen(); err != nil {
		return err
	}
	if !t.store.Has(video) {
		return ErrUnknownVideo
	}
	t.tracker.Activate(video, metadataID)
	t.logger.WithVideo(video).Debug("regret tracking activated", "metadata_id", metadataID)
	return nil
}

// DeactivateRegretBasedTiling stops tracking video and discards its regret.
func (t *TASM) DeactivateRegretBasedTiling(video string) {
	t.tracker.Deactivate(video)
}

// Regret returns the regret accumulated for (video, label) since the last retile.
func (t *TASM) Regret(video, label string) int64 {
	return t.tracker.Regret(video, label)
}

// RetileBasedOnRegret re-tiles video around the detections of every label whose
// regret exceeds the threshold, and resets those labels. The layout is left
// unchanged when no label qualifies.
func (t *TASM) RetileBasedOnRegret(ctx context.Context, video string) (*RetileReport, error) {
	if err := t.checkOpen(); err != nil {
		return nil, err
	}
	start := time.Now()
	report, err := t.controller.RetileBasedOnRegret(ctx, video)
	err = translateError(err)
	t.metrics.RecordRetile(report != nil && report.Changed(), time.Since(start), err)
	if err != nil {
		t.logger.LogRetile(ctx, video, 0, 0, err)
		return nil, err
	}
	if report.Changed() {
		t.logger.LogRetile(ctx, video, report.FromVersion, report.ToVersion, nil)
	}
	return report, nil
}
