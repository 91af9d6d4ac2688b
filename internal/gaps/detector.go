// Package gaps computes, per product, the earliest date missing from the
// observation archive, as the resumption point for backfill tasks.
package gaps

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/mesonet-io/satsync/internal/store"
)

// ErrAmbiguousGap reports that one platform carries more than one distinct
// latest date across its elements. That indicates corrupt or inconsistent
// archive state and is never resolved silently.
var ErrAmbiguousGap = errors.New("multiple distinct last dates for platform")

// Gap is the backfill resumption point for one platform: the day after its
// latest stored observation, plus the elements that platform carries.
type Gap struct {
	Platform  string
	Elements  []string
	StartDate time.Time
}

// FindMissing queries the latest stored timestamp per product and returns
// one gap per platform starting the following calendar day. Platforms with
// no stored observations do not appear; bootstrapping them is the caller's
// concern, not gap detection's.
func FindMissing(ctx context.Context, st store.Store) ([]Gap, error) {
	latest, err := st.LatestPerProduct(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to query latest observations: %w", err)
	}

	type entry struct {
		dates    map[time.Time]struct{}
		elements []string
	}
	byPlatform := make(map[string]*entry)
	for _, row := range latest {
		e := byPlatform[row.Platform]
		if e == nil {
			e = &entry{dates: make(map[time.Time]struct{})}
			byPlatform[row.Platform] = e
		}
		day := time.Unix(row.Timestamp, 0).UTC().Truncate(24 * time.Hour)
		e.dates[day] = struct{}{}
		e.elements = append(e.elements, row.Element)
	}

	gaps := make([]Gap, 0, len(byPlatform))
	for platform, e := range byPlatform {
		if len(e.dates) != 1 {
			return nil, fmt.Errorf("%w %s: %d distinct dates", ErrAmbiguousGap, platform, len(e.dates))
		}
		var last time.Time
		for day := range e.dates {
			last = day
		}
		sort.Strings(e.elements)
		gaps = append(gaps, Gap{
			Platform:  platform,
			Elements:  e.elements,
			StartDate: last.AddDate(0, 0, 1),
		})
	}

	// Stable output order for planning and logs.
	sort.Slice(gaps, func(i, j int) bool { return gaps[i].Platform < gaps[j].Platform })

	slog.Info("Detected archive gaps", "platforms", len(gaps))
	return gaps, nil
}
