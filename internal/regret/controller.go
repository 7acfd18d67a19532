package regret

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hupe1980/tasm/internal/manifest"
	"github.com/hupe1980/tasm/internal/store"
	"github.com/hupe1980/tasm/layout"
	"github.com/hupe1980/tasm/metadata"
	"github.com/hupe1980/tasm/model"
)

// DefaultCostFactor scales the frame area over all frames into the re-encode
// cost a video's regret has to exceed.
const DefaultCostFactor = 0.65

// ErrNotActive is returned when retiling a video that is not tracked.
var ErrNotActive = errors.New("regret tracking not active")

// Report describes one retileBasedOnRegret decision.
type Report struct {
	Video     string
	Threshold int64
	// Regret holds the accumulated regret per label before the decision.
	Regret map[string]int64
	// Retiled lists the labels the new layout was built from; empty if unchanged.
	Retiled     []string
	FromVersion uint64
	ToVersion   uint64
}

// Changed reports whether a new layout was published.
func (r *Report) Changed() bool { return r.ToVersion != r.FromVersion }

// Controller applies non-uniform layouts to videos with excess regret.
type Controller struct {
	tracker    *Tracker
	store      *store.Store
	catalog    metadata.Catalog
	strategy   layout.Strategy
	costFactor float64
	logger     *slog.Logger
}

// NewController creates a Controller. A nil strategy uses layout.NonUniform
// defaults; costFactor <= 0 uses DefaultCostFactor.
func NewController(t *Tracker, st *store.Store, catalog metadata.Catalog, strategy layout.Strategy, costFactor float64, logger *slog.Logger) *Controller {
	if strategy == nil {
		strategy = layout.NonUniform{}
	}
	if costFactor <= 0 {
		costFactor = DefaultCostFactor
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Controller{
		tracker:    t,
		store:      st,
		catalog:    catalog,
		strategy:   strategy,
		costFactor: costFactor,
		logger:     logger,
	}
}

// Threshold returns the regret a label of a video must exceed to trigger a retile.
func (c *Controller) Threshold(l *model.Layout) int64 {
	return int64(c.costFactor * float64(l.Size.Area()*int64(l.FrameCount)))
}

// RetileBasedOnRegret builds one layout from the detections of every label
// whose regret exceeds the threshold, applies it, and resets those labels.
// Labels below the threshold keep their regret and the video keeps its layout
// when none qualifies.
func (c *Controller) RetileBasedOnRegret(ctx context.Context, video string) (*Report, error) {
	info, err := c.store.Info(video)
	if err != nil {
		return nil, err
	}
	metadataID, ok := c.tracker.Active(video)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotActive, video)
	}

	report := &Report{
		Video:       video,
		Threshold:   c.Threshold(info.Layout),
		Regret:      c.tracker.Snapshot(video),
		FromVersion: info.Version,
		ToVersion:   info.Version,
	}
	labels := above(report.Regret, report.Threshold)
	if len(labels) == 0 {
		c.logger.Debug("regret below threshold", "video", video, "threshold", report.Threshold)
		return report, nil
	}

	all := model.Frames(0, info.Layout.FrameCount)
	var dets []model.Detection
	for _, label := range labels {
		got, err := metadata.Collect(c.catalog.Query(ctx, metadataID, label, &all))
		if err != nil {
			return nil, fmt.Errorf("query %q: %w", label, err)
		}
		dets = append(dets, got...)
	}

	l, err := c.strategy.Layout(dets, info.Layout.Size, info.Layout.FrameCount)
	if err != nil {
		return nil, err
	}
	next, err := c.store.Retile(ctx, video, l, store.Meta{Kind: manifest.KindNonUniform, Labels: labels})
	if err != nil {
		return nil, err
	}
	c.tracker.Reset(video, labels, next.Version)

	report.Retiled = labels
	report.ToVersion = next.Version
	c.logger.Info("retiled on regret", "video", video, "labels", labels, "threshold", report.Threshold,
		"from", report.FromVersion, "to", report.ToVersion, "tiles", l.NumTiles())
	return report, nil
}
