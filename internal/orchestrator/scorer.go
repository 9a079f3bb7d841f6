package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/on-par/agent-ops/internal/domain"
)

// cheapCostPerToken is the cost-efficiency threshold in USD per token.
const cheapCostPerToken = 0.00002

// familiarityKey identifies a (worker, repository) experience entry.
type familiarityKey struct {
	WorkerID     string
	RepositoryID string
}

// repoFamiliarity counts how often a worker completed items on a repository.
type repoFamiliarity struct {
	CompletedTasks int
	LastWorkedAt   time.Time
}

// Scorer selects the best worker for a (work item, role) pair. It keeps a
// process-wide repo-familiarity cache that resets with the orchestrator.
type Scorer struct {
	pool      WorkerPool
	templates TemplateSource

	mu          sync.Mutex
	weights     ScoringWeights
	familiarity map[familiarityKey]*repoFamiliarity

	now func() time.Time
}

// NewScorer creates a scorer over the given pool and template source.
func NewScorer(pool WorkerPool, templates TemplateSource, weights ScoringWeights) *Scorer {
	return &Scorer{
		pool:        pool,
		templates:   templates,
		weights:     weights,
		familiarity: make(map[familiarityKey]*repoFamiliarity),
		now:         time.Now,
	}
}

// SetWeights replaces the factor multipliers.
func (s *Scorer) SetWeights(w ScoringWeights) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.weights = w
}

// DetermineRole maps a work item's status to the role a worker plays on it.
func (s *Scorer) DetermineRole(item domain.WorkItem) domain.Role {
	switch item.Status {
	case domain.WorkItemStatusBacklog:
		return domain.RoleRefiner
	case domain.WorkItemStatusReady:
		return domain.RoleImplementer
	case domain.WorkItemStatusInProgress:
		return domain.RoleTester
	case domain.WorkItemStatusReview:
		return domain.RoleReviewer
	default:
		return domain.RoleImplementer
	}
}

// FindBestWorker scores the pool's available workers against the item and
// role and returns the highest-scoring one, or nil when no worker scores
// above zero. Ties break by worker ID so selection is deterministic.
func (s *Scorer) FindBestWorker(ctx context.Context, item domain.WorkItem, requiredRole domain.Role) (*domain.Worker, error) {
	workers, err := s.pool.AvailableWorkers(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list available workers: %w", err)
	}

	type scored struct {
		worker domain.Worker
		score  float64
	}

	candidates := make([]scored, 0, len(workers))
	for _, worker := range workers {
		tmpl, err := s.templates.FindTemplate(ctx, worker.TemplateID)
		if err != nil {
			slog.WarnContext(ctx, "skipping worker with unresolvable template",
				"worker_id", worker.ID,
				"template_id", worker.TemplateID,
				"error", err)
			continue
		}

		score := s.score(worker, tmpl, item, requiredRole)
		if score <= 0 {
			continue
		}
		candidates = append(candidates, scored{worker: worker, score: score})
	}

	if len(candidates) == 0 {
		return nil, nil
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].worker.ID < candidates[j].worker.ID
	})

	best := candidates[0].worker
	return &best, nil
}

// score computes the weighted assignment score for one worker. A worker
// whose template cannot accept the item's type scores zero regardless of
// the other factors.
func (s *Scorer) score(worker domain.Worker, tmpl *domain.Template, item domain.WorkItem, requiredRole domain.Role) float64 {
	s.mu.Lock()
	weights := s.weights
	fam, hasFam := s.lookupFamiliarity(worker.ID, item.RepositoryID)
	now := s.now()
	s.mu.Unlock()

	if !tmpl.Accepts(item.Type) {
		return 0
	}

	score := 100.0
	score += 30 * weights.CapabilityMatch

	switch {
	case tmpl.DefaultRole == "":
		score += 15 * weights.RoleMatch
	case tmpl.DefaultRole == requiredRole:
		score += 25 * weights.RoleMatch
	default:
		score += 5 * weights.RoleMatch
	}

	if worker.Status == domain.WorkerStatusIdle {
		score += 50 * weights.Workload
	}

	score -= 10 * float64(worker.ErrorCount) * weights.ErrorHistory

	if worker.ContextLimit > 0 {
		usage := float64(worker.ContextUsed) / float64(worker.ContextLimit)
		score -= 30 * usage * weights.ContextHeadroom
	}

	if worker.TokensUsed > 0 && worker.CostUSD/float64(worker.TokensUsed) < cheapCostPerToken {
		score += 10 * weights.CostEfficiency
	}

	if hasFam {
		completed := fam.CompletedTasks
		if completed > 5 {
			completed = 5
		}
		hours := now.Sub(fam.LastWorkedAt).Hours()
		recency := 5.0
		switch {
		case hours < 24:
			recency = 15
		case hours < 72:
			recency = 10
		}
		score += (5*float64(completed) + recency) * weights.RepoFamiliarity
	}

	if score < 0 {
		return 0
	}
	return score
}

// lookupFamiliarity returns a copy of the familiarity entry, if any.
// Caller must hold s.mu.
func (s *Scorer) lookupFamiliarity(workerID, repoID string) (repoFamiliarity, bool) {
	if repoID == "" {
		return repoFamiliarity{}, false
	}
	entry, ok := s.familiarity[familiarityKey{WorkerID: workerID, RepositoryID: repoID}]
	if !ok {
		return repoFamiliarity{}, false
	}
	return *entry, true
}

// RecordRepoExperience notes that a worker completed an item on a
// repository, increasing its familiarity score for future assignments.
func (s *Scorer) RecordRepoExperience(workerID, repositoryID string) {
	if repositoryID == "" {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := familiarityKey{WorkerID: workerID, RepositoryID: repositoryID}
	entry, ok := s.familiarity[key]
	if !ok {
		entry = &repoFamiliarity{}
		s.familiarity[key] = entry
	}
	entry.CompletedTasks++
	entry.LastWorkedAt = s.now()
}
