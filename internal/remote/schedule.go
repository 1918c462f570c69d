package remote

import (
	"context"
	"slices"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ibeckermayer/post4me/internal/types"
)

// ScheduleStatuses are the statuses shown on the schedule board.
var ScheduleStatuses = []types.Status{
	types.StatusPosting,
	types.StatusScheduling,
	types.StatusScheduled,
	types.StatusScheduledOnX,
}

// ListSchedule fetches every schedule status concurrently and merges the
// results with SortSchedule.
func (c *Client) ListSchedule(ctx context.Context) ([]types.Post, error) {
	results := make([][]types.Post, len(ScheduleStatuses))

	g, gctx := errgroup.WithContext(ctx)
	for i, status := range ScheduleStatuses {
		g.Go(func() error {
			posts, err := c.List(gctx, status)
			if err != nil {
				return err
			}
			results[i] = posts
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var merged []types.Post
	for _, posts := range results {
		merged = append(merged, posts...)
	}
	SortSchedule(merged)
	return merged, nil
}

func schedulePriority(s types.Status) int {
	switch s {
	case types.StatusPosting:
		return 0
	case types.StatusScheduling:
		return 1
	default:
		return 2
	}
}

// SortSchedule orders posts in place: posting first, then scheduling, then
// the rest. Within a group posts go by ascending scheduled_at, undated last.
func SortSchedule(posts []types.Post) {
	slices.SortStableFunc(posts, func(a, b types.Post) int {
		if pa, pb := schedulePriority(a.Status), schedulePriority(b.Status); pa != pb {
			return pa - pb
		}
		az, bz := a.ScheduledAt.IsZero(), b.ScheduledAt.IsZero()
		switch {
		case az && bz:
			return 0
		case az:
			return 1
		case bz:
			return -1
		}
		return a.ScheduledAt.Compare(b.ScheduledAt.Time)
	})
}

// DayGroup is the set of posts scheduled on one calendar day.
type DayGroup struct {
	// Day is local midnight, zero for the "no date" bucket.
	Day   time.Time
	Posts []types.Post
}

// NoDate reports whether this is the bucket of undated posts.
func (g DayGroup) NoDate() bool {
	return g.Day.IsZero()
}

// GroupByDay buckets posts by local calendar day in ascending order with
// undated posts in a trailing bucket. Post order within a day is kept.
func GroupByDay(posts []types.Post) []DayGroup {
	var (
		groups []DayGroup
		index  = make(map[time.Time]int)
		noDate []types.Post
	)
	for _, p := range posts {
		if p.ScheduledAt.IsZero() {
			noDate = append(noDate, p)
			continue
		}
		local := p.ScheduledAt.In(time.Local)
		day := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.Local)
		i, ok := index[day]
		if !ok {
			i = len(groups)
			index[day] = i
			groups = append(groups, DayGroup{Day: day})
		}
		groups[i].Posts = append(groups[i].Posts, p)
	}
	slices.SortFunc(groups, func(a, b DayGroup) int {
		return a.Day.Compare(b.Day)
	})
	if len(noDate) > 0 {
		groups = append(groups, DayGroup{Posts: noDate})
	}
	return groups
}
