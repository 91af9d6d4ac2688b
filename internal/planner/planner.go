// Package planner maps detected archive gaps to extraction task
// specifications, selecting which data layers each task requests.
package planner

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/mesonet-io/satsync/internal/extract"
	"github.com/mesonet-io/satsync/internal/gaps"
	"github.com/mesonet-io/satsync/internal/task"
)

// DefaultDenylist excludes auxiliary statistical layers (standard deviation
// and per-functional-type variants) that are not meant for ingestion.
var DefaultDenylist = []string{"_pft", "_std_", "StdDev"}

// Catalog exposes the per-product layer catalog of the extraction service.
type Catalog interface {
	ProductLayers(ctx context.Context, product string) (map[string]extract.Layer, error)
}

// Option configures a Planner.
type Option func(*Planner)

// WithDenylist replaces the default layer-name denylist.
func WithDenylist(substrings []string) Option {
	return func(p *Planner) {
		p.denylist = substrings
	}
}

// WithZeroDaySubmit makes the planner emit tasks even when a gap starts
// today (the default is to skip them — a zero-day range extracts nothing).
func WithZeroDaySubmit() Option {
	return func(p *Planner) {
		p.skipZeroDay = false
	}
}

// WithGeometry sets the geometry reference attached to every task spec.
func WithGeometry(geometry string) Option {
	return func(p *Planner) {
		p.geometry = geometry
	}
}

// Planner builds task specifications from gaps and the layer catalog.
type Planner struct {
	catalog     Catalog
	denylist    []string
	geometry    string
	skipZeroDay bool
}

// New creates a Planner with the default denylist and zero-day-skip policy.
func New(catalog Catalog, opts ...Option) *Planner {
	p := &Planner{
		catalog:     catalog,
		denylist:    DefaultDenylist,
		skipZeroDay: true,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Plan builds one task spec per gapped platform covering [gap start, today]
// inclusive. Layers are selected by case-insensitive substring match against
// the gap's elements, excluding QA layers and denylisted names.
func (p *Planner) Plan(ctx context.Context, detected []gaps.Gap, today time.Time) ([]task.Spec, error) {
	today = today.UTC().Truncate(24 * time.Hour)

	specs := make([]task.Spec, 0, len(detected))
	for _, gap := range detected {
		if p.skipZeroDay && !gap.StartDate.Before(today) {
			slog.Info("Skipping zero-day gap", "platform", gap.Platform, "start", gap.StartDate.Format(time.DateOnly))
			continue
		}

		layers, err := p.catalog.ProductLayers(ctx, gap.Platform)
		if err != nil {
			return nil, fmt.Errorf("failed to plan %s: %w", gap.Platform, err)
		}

		selected := p.selectLayers(layers, gap.Elements)
		if len(selected) == 0 {
			return nil, fmt.Errorf("no ingestible layers for %s match elements %v", gap.Platform, gap.Elements)
		}

		specs = append(specs, task.Spec{
			Name:      task.SpecName(gap.Platform, gap.StartDate, today),
			Product:   gap.Platform,
			Layers:    selected,
			Geometry:  p.geometry,
			StartDate: gap.StartDate,
			EndDate:   today,
		})
	}

	slog.Info("Planned extraction tasks", "tasks", len(specs))
	return specs, nil
}

// selectLayers filters the catalog down to the ingestible layers matching
// any of the target elements, deduplicated and sorted.
func (p *Planner) selectLayers(layers map[string]extract.Layer, elements []string) []string {
	seen := make(map[string]struct{})
	var selected []string
	for _, element := range elements {
		needle := strings.ToLower(element)
		for name, layer := range layers {
			if layer.IsQA {
				continue
			}
			if !strings.Contains(strings.ToLower(name), needle) {
				continue
			}
			if p.denied(name) {
				continue
			}
			if _, dup := seen[name]; dup {
				continue
			}
			seen[name] = struct{}{}
			selected = append(selected, name)
		}
	}
	sort.Strings(selected)
	return selected
}

func (p *Planner) denied(name string) bool {
	for _, substr := range p.denylist {
		if strings.Contains(name, substr) {
			return true
		}
	}
	return false
}
