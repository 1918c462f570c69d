package scheduler

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Job names registered by the application.
const (
	JobProfileRefresh = "profile-refresh"
	JobDigest         = "digest"
)

// jobTimeout bounds a single run; backend calls carry no timeout of their own.
const jobTimeout = 10 * time.Minute

// Job represents a scheduled task
type Job func(ctx context.Context) error

// Scheduler manages the daily background tasks
type Scheduler struct {
	mu       sync.Mutex
	cron     *cron.Cron
	jobs     map[string]cron.EntryID
	timezone *time.Location
}

// New creates a new scheduler with the given timezone
func New(timezone string) (*Scheduler, error) {
	if timezone == "" {
		timezone = "Local"
	}
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %s: %w", timezone, err)
	}

	c := cron.New(cron.WithLocation(loc))

	return &Scheduler{
		cron:     c,
		jobs:     make(map[string]cron.EntryID),
		timezone: loc,
	}, nil
}

// Location is the timezone schedules are evaluated in.
func (s *Scheduler) Location() *time.Location {
	return s.timezone
}

// AddJob adds a job with a cron schedule, replacing any job of the same name.
// schedule format: "0 7 * * *" (at 7:00 AM daily)
func (s *Scheduler) AddJob(name, schedule string, job Job) error {
	entryID, err := s.cron.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
		defer cancel()

		log.Printf("[scheduler] Starting job: %s", name)
		start := time.Now()

		if err := job(ctx); err != nil {
			log.Printf("[scheduler] Job %s failed: %v", name, err)
		} else {
			log.Printf("[scheduler] Job %s completed in %v", name, time.Since(start))
		}
	})

	if err != nil {
		return fmt.Errorf("failed to schedule job %s: %w", name, err)
	}

	s.mu.Lock()
	if old, ok := s.jobs[name]; ok {
		s.cron.Remove(old)
	}
	s.jobs[name] = entryID
	s.mu.Unlock()
	log.Printf("[scheduler] Added job: %s (schedule: %s)", name, schedule)

	return nil
}

// DailySpec converts "HH:MM" into a cron spec.
func DailySpec(timeStr string) (string, error) {
	t, err := time.Parse("15:04", timeStr)
	if err != nil {
		return "", fmt.Errorf("invalid time format %s: %w", timeStr, err)
	}
	return fmt.Sprintf("%d %d * * *", t.Minute(), t.Hour()), nil
}

// AddDailyJob adds a job run once a day at a specific time
// timeStr format: "07:00" or "18:00"
func (s *Scheduler) AddDailyJob(name, timeStr string, job Job) error {
	spec, err := DailySpec(timeStr)
	if err != nil {
		return err
	}
	return s.AddJob(name, spec, job)
}

// AddProfileRefreshJob re-reads the X profile daily, which also records a
// follower snapshot on the backend.
func (s *Scheduler) AddProfileRefreshJob(timeStr string, job Job) error {
	return s.AddDailyJob(JobProfileRefresh, timeStr, job)
}

// AddDigestJob sends the activity digest daily.
func (s *Scheduler) AddDigestJob(timeStr string, job Job) error {
	return s.AddDailyJob(JobDigest, timeStr, job)
}

// RemoveJob removes a scheduled job
func (s *Scheduler) RemoveJob(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entryID, ok := s.jobs[name]; ok {
		s.cron.Remove(entryID)
		delete(s.jobs, name)
		log.Printf("[scheduler] Removed job: %s", name)
	}
}

// Start begins running scheduled jobs
func (s *Scheduler) Start() {
	log.Println("[scheduler] Starting scheduler")
	s.cron.Start()
}

// Stop halts the scheduler. The returned context is done once running jobs
// have finished.
func (s *Scheduler) Stop() context.Context {
	log.Println("[scheduler] Stopping scheduler")
	return s.cron.Stop()
}

// RunNow immediately executes a job, for the CLI and tray "run now" items
func (s *Scheduler) RunNow(ctx context.Context, name string, job Job) error {
	ctx, cancel := context.WithTimeout(ctx, jobTimeout)
	defer cancel()

	log.Printf("[scheduler] Running job now: %s", name)
	return job(ctx)
}

// ListJobs returns info about scheduled jobs, by name
func (s *Scheduler) ListJobs() []JobInfo {
	entries := s.cron.Entries()
	s.mu.Lock()
	defer s.mu.Unlock()
	infos := make([]JobInfo, 0, len(s.jobs))

	for name, entryID := range s.jobs {
		for _, entry := range entries {
			if entry.ID == entryID {
				infos = append(infos, JobInfo{
					Name:    name,
					NextRun: entry.Next,
					LastRun: entry.Prev,
				})
				break
			}
		}
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })

	return infos
}

// JobInfo contains information about a scheduled job
type JobInfo struct {
	Name    string
	NextRun time.Time
	LastRun time.Time
}
