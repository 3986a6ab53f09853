package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryProgress is an in-process ProgressRepository for tests and for
// running without Postgres. It is a distinct type from Memory (rather than
// an embedded extension of it) because ProgressRepository.GetJob takes a
// uuid.UUID while Store.GetJob takes a string id, and a single type cannot
// declare both signatures under the same method name.
type MemoryProgress struct {
	mu    sync.Mutex
	runs  map[uuid.UUID]*JobRun
	sites map[uuid.UUID]map[string]*SiteStats
}

// NewMemoryProgress constructs an empty in-memory progress repository.
func NewMemoryProgress() *MemoryProgress {
	return &MemoryProgress{
		runs:  make(map[uuid.UUID]*JobRun),
		sites: make(map[uuid.UUID]map[string]*SiteStats),
	}
}

func (m *MemoryProgress) UpsertJobStart(_ context.Context, jobID uuid.UUID, startedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if run, ok := m.runs[jobID]; ok {
		run.StartedAt = startedAt
		return nil
	}
	m.runs[jobID] = &JobRun{
		ID:        jobID,
		JobID:     jobID,
		StartedAt: startedAt,
		Status:    RunRunning,
	}
	return nil
}

func (m *MemoryProgress) CompleteJob(_ context.Context, jobID uuid.UUID, finishedAt time.Time, status JobRunStatus, errMsg *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[jobID]
	if !ok {
		run = &JobRun{ID: jobID, JobID: jobID, StartedAt: finishedAt}
		m.runs[jobID] = run
	}
	finished := finishedAt
	run.FinishedAt = &finished
	run.Status = status
	run.ErrorMessage = errMsg
	return nil
}

func (m *MemoryProgress) UpsertSiteStats(_ context.Context, jobID uuid.UUID, site string, deltaVisits, deltaBytes int64, statusClass string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	bySite, ok := m.sites[jobID]
	if !ok {
		bySite = make(map[string]*SiteStats)
		m.sites[jobID] = bySite
	}
	stat, ok := bySite[site]
	if !ok {
		stat = &SiteStats{JobID: jobID, Site: site}
		bySite[site] = stat
	}
	stat.Visits += deltaVisits
	stat.BytesTotal += deltaBytes
	stat.LastUpdate = at
	switch statusClass {
	case "2xx":
		stat.Fetch2xx += deltaVisits
	case "3xx":
		stat.Fetch3xx += deltaVisits
	case "4xx":
		stat.Fetch4xx += deltaVisits
	case "5xx":
		stat.Fetch5xx += deltaVisits
	}
	return nil
}

func (m *MemoryProgress) GetJob(_ context.Context, jobID uuid.UUID) (JobRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[jobID]
	if !ok {
		return JobRun{}, ErrNotFound
	}
	return *run, nil
}

func (m *MemoryProgress) ListJobs(_ context.Context, status *JobRunStatus, limit, offset int) ([]JobRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]JobRun, 0, len(m.runs))
	for _, run := range m.runs {
		if status != nil && run.Status != *status {
			continue
		}
		out = append(out, *run)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return paginateJobRuns(out, limit, offset), nil
}

func (m *MemoryProgress) ListJobSites(_ context.Context, jobID uuid.UUID, limit, offset int) ([]SiteStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	bySite := m.sites[jobID]
	out := make([]SiteStats, 0, len(bySite))
	for _, stat := range bySite {
		out = append(out, *stat)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Site < out[j].Site })
	return paginateSiteStats(out, limit, offset), nil
}

func paginateJobRuns(in []JobRun, limit, offset int) []JobRun {
	if offset >= len(in) {
		return []JobRun{}
	}
	in = in[offset:]
	if limit > 0 && limit < len(in) {
		in = in[:limit]
	}
	return in
}

func paginateSiteStats(in []SiteStats, limit, offset int) []SiteStats {
	if offset >= len(in) {
		return []SiteStats{}
	}
	in = in[offset:]
	if limit > 0 && limit < len(in) {
		in = in[:limit]
	}
	return in
}
