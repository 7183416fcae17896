package services

import (
	"context"
	"fmt"
	"sort"

	"jobharvest/models"
)

// JobFinder is the snapshot read side of the persistence collaborator used
// during resolution. The orchestrator serializes persistence per source so
// the snapshot stays valid until the batch is written.
type JobFinder interface {
	GetJobBySourceURL(ctx context.Context, source, sourceURL string) (*models.Job, error)
	GetActiveJobByMergeKey(ctx context.Context, mergeKey string) (*models.Job, error)
}

// JobUpdate routes a candidate onto an existing posting identified by its
// natural key. Merge marks updates produced by folding a fuzzy duplicate into
// a stored record; those count as merges, not refreshes.
type JobUpdate struct {
	Source    string
	SourceURL string
	Job       *models.Job
	Merge     bool
}

type Resolution struct {
	ToCreate []*models.Job
	ToUpdate []JobUpdate
	Merged   int
}

// Resolver partitions normalized candidates into creates, updates and
// cross-source merges against the existing-storage snapshot.
type Resolver struct {
	finder JobFinder
}

func NewResolver(finder JobFinder) *Resolver {
	return &Resolver{finder: finder}
}

// Resolve is deterministic under input reordering: candidates are sorted by
// (posted_date, source_url, source) before matching, so the same candidate
// set against the same snapshot always yields the same partition.
func (r *Resolver) Resolve(ctx context.Context, candidates []*models.Job) (*Resolution, error) {
	sorted := make([]*models.Job, len(candidates))
	copy(sorted, candidates)
	sort.SliceStable(sorted, func(i, j int) bool {
		if !sorted[i].PostedDate.Equal(sorted[j].PostedDate) {
			return sorted[i].PostedDate.Before(sorted[j].PostedDate)
		}
		if sorted[i].SourceURL != sorted[j].SourceURL {
			return sorted[i].SourceURL < sorted[j].SourceURL
		}
		return sorted[i].Source < sorted[j].Source
	})

	res := &Resolution{}
	batchByURL := make(map[string]*models.Job)      // natural key -> canonical candidate in this batch
	batchByMergeKey := make(map[string]*models.Job) // fuzzy key -> canonical candidate in this batch

	for _, cand := range sorted {
		natKey := cand.Source + "\x00" + cand.SourceURL

		// Same (source, source_url) seen earlier in this batch: the later
		// posting is always an update against the earlier's key.
		if first, ok := batchByURL[natKey]; ok {
			mergeInto(first, cand)
			res.ToUpdate = append(res.ToUpdate, JobUpdate{
				Source:    cand.Source,
				SourceURL: cand.SourceURL,
				Job:       first,
			})
			continue
		}

		existing, err := r.finder.GetJobBySourceURL(ctx, cand.Source, cand.SourceURL)
		if err != nil {
			return nil, fmt.Errorf("lookup (%s, %s): %w", cand.Source, cand.SourceURL, err)
		}
		if existing != nil {
			// Primary key match: refresh in place, keep the original record.
			refreshed := refreshExisting(existing, cand)
			batchByURL[natKey] = refreshed
			batchByMergeKey[refreshed.MergeKey] = refreshed
			res.ToUpdate = append(res.ToUpdate, JobUpdate{
				Source:    cand.Source,
				SourceURL: cand.SourceURL,
				Job:       refreshed,
			})
			continue
		}

		// Fuzzy match within the batch: earliest-posted candidate (first in
		// sorted order) stays canonical; the newer one is folded in and not
		// persisted separately.
		if canonical, ok := batchByMergeKey[cand.MergeKey]; ok {
			mergeInto(canonical, cand)
			res.Merged++
			continue
		}

		// Fuzzy match against storage: fold into the stored record.
		stored, err := r.finder.GetActiveJobByMergeKey(ctx, cand.MergeKey)
		if err != nil {
			return nil, fmt.Errorf("merge-key lookup %q: %w", cand.MergeKey, err)
		}
		if stored != nil {
			mergeInto(stored, cand)
			res.Merged++
			batchByMergeKey[cand.MergeKey] = stored
			res.ToUpdate = append(res.ToUpdate, JobUpdate{
				Source:    stored.Source,
				SourceURL: stored.SourceURL,
				Job:       stored,
				Merge:     true,
			})
			continue
		}

		batchByURL[natKey] = cand
		batchByMergeKey[cand.MergeKey] = cand
		res.ToCreate = append(res.ToCreate, cand)
	}

	return res, nil
}

// refreshExisting applies the volatile fields of a re-scraped posting onto
// the stored record, preserving identity and the original created timestamp.
func refreshExisting(existing, cand *models.Job) *models.Job {
	out := *existing
	out.Description = cand.Description
	out.Status = models.JobStatusActive
	out.SalaryMin = cand.SalaryMin
	out.SalaryMax = cand.SalaryMax
	out.SalaryCurrency = cand.SalaryCurrency
	out.RawData = cand.RawData
	out.UpdatedAt = cand.UpdatedAt
	if out.SalaryMin == nil {
		out.SalaryMin = existing.SalaryMin
	}
	if out.SalaryMax == nil {
		out.SalaryMax = existing.SalaryMax
	}
	return &out
}

// mergeInto folds a duplicate posting into the canonical record: union the
// source names and fill gaps, keeping the earliest posted date.
func mergeInto(canonical, dup *models.Job) {
	if !canonical.HasSource(dup.Source) {
		canonical.Sources = append(canonical.Sources, dup.Source)
	}
	if len(dup.Description) > len(canonical.Description) {
		canonical.Description = dup.Description
	}
	if canonical.SalaryMin == nil {
		canonical.SalaryMin = dup.SalaryMin
		canonical.SalaryCurrency = dup.SalaryCurrency
	}
	if canonical.SalaryMax == nil {
		canonical.SalaryMax = dup.SalaryMax
	}
	if canonical.Location == "" {
		canonical.Location = dup.Location
		canonical.City = dup.City
	}
	if canonical.EmploymentType == models.EmploymentUnknown {
		canonical.EmploymentType = dup.EmploymentType
	}
	if canonical.ExperienceLevel == "" {
		canonical.ExperienceLevel = dup.ExperienceLevel
	}
	if dup.Remote {
		canonical.Remote = true
	}
	if dup.PostedDate.Before(canonical.PostedDate) {
		canonical.PostedDate = dup.PostedDate
	}
}
