package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/on-par/agent-ops/internal/domain"
)

func idleWorker(id, templateID string) domain.Worker {
	return domain.Worker{
		ID:           id,
		TemplateID:   templateID,
		Status:       domain.WorkerStatusIdle,
		ContextLimit: 200000,
	}
}

func wildcardTemplates() *mockTemplates {
	return &mockTemplates{templates: map[string]*domain.Template{
		"tmpl": {ID: "tmpl", AllowedTypes: []string{domain.TemplateTypeWildcard}},
	}}
}

func TestDetermineRole(t *testing.T) {
	s := NewScorer(&mockPool{}, wildcardTemplates(), DefaultScoringWeights())

	tests := []struct {
		status domain.WorkItemStatus
		want   domain.Role
	}{
		{domain.WorkItemStatusBacklog, domain.RoleRefiner},
		{domain.WorkItemStatusReady, domain.RoleImplementer},
		{domain.WorkItemStatusInProgress, domain.RoleTester},
		{domain.WorkItemStatusReview, domain.RoleReviewer},
		{domain.WorkItemStatusDone, domain.RoleImplementer},
	}
	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			assert.Equal(t, tt.want, s.DetermineRole(domain.WorkItem{Status: tt.status}))
		})
	}
}

func TestScoreCapabilityMismatchIsZero(t *testing.T) {
	templates := &mockTemplates{templates: map[string]*domain.Template{
		"docs-only": {ID: "docs-only", AllowedTypes: []string{"research"}},
	}}
	s := NewScorer(&mockPool{}, templates, DefaultScoringWeights())

	worker := idleWorker("a1", "docs-only")
	item := domain.WorkItem{ID: "w1", Type: domain.WorkItemTypeBug}

	score := s.score(worker, templates.templates["docs-only"], item, domain.RoleImplementer)
	assert.Zero(t, score)
}

func TestScoreFactors(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	item := domain.WorkItem{ID: "w1", Type: domain.WorkItemTypeBug, RepositoryID: "repo-a"}

	newScorer := func(tmpl *domain.Template) *Scorer {
		s := NewScorer(&mockPool{}, &mockTemplates{templates: map[string]*domain.Template{tmpl.ID: tmpl}}, DefaultScoringWeights())
		s.now = func() time.Time { return now }
		return s
	}

	wildcard := &domain.Template{ID: "tmpl", AllowedTypes: []string{"*"}}

	t.Run("idle wildcard worker with no default role", func(t *testing.T) {
		s := newScorer(wildcard)
		worker := idleWorker("a1", "tmpl")
		// 100 base + 30 capability + 15 no-default-role*0.8 + 50 idle
		assert.InDelta(t, 100+30+12+50, s.score(worker, wildcard, item, domain.RoleImplementer), 0.001)
	})

	t.Run("matching default role", func(t *testing.T) {
		tmpl := &domain.Template{ID: "tmpl", AllowedTypes: []string{"*"}, DefaultRole: domain.RoleImplementer}
		s := newScorer(tmpl)
		worker := idleWorker("a1", "tmpl")
		assert.InDelta(t, 100+30+20+50, s.score(worker, tmpl, item, domain.RoleImplementer), 0.001)
	})

	t.Run("mismatched default role", func(t *testing.T) {
		tmpl := &domain.Template{ID: "tmpl", AllowedTypes: []string{"*"}, DefaultRole: domain.RoleReviewer}
		s := newScorer(tmpl)
		worker := idleWorker("a1", "tmpl")
		assert.InDelta(t, 100+30+4+50, s.score(worker, tmpl, item, domain.RoleImplementer), 0.001)
	})

	t.Run("error history subtracts", func(t *testing.T) {
		s := newScorer(wildcard)
		worker := idleWorker("a1", "tmpl")
		worker.ErrorCount = 3
		assert.InDelta(t, 100+30+12+50-30, s.score(worker, wildcard, item, domain.RoleImplementer), 0.001)
	})

	t.Run("context headroom subtracts proportionally", func(t *testing.T) {
		s := newScorer(wildcard)
		worker := idleWorker("a1", "tmpl")
		worker.ContextUsed = 100000
		worker.ContextLimit = 200000
		// -30 * 0.5 usage * 0.5 weight
		assert.InDelta(t, 100+30+12+50-7.5, s.score(worker, wildcard, item, domain.RoleImplementer), 0.001)
	})

	t.Run("cheap worker gets cost bonus", func(t *testing.T) {
		s := newScorer(wildcard)
		worker := idleWorker("a1", "tmpl")
		worker.TokensUsed = 1000000
		worker.CostUSD = 10 // 0.00001 per token
		assert.InDelta(t, 100+30+12+50+3, s.score(worker, wildcard, item, domain.RoleImplementer), 0.001)
	})

	t.Run("repo familiarity adds count and recency", func(t *testing.T) {
		s := newScorer(wildcard)
		s.familiarity[familiarityKey{WorkerID: "a1", RepositoryID: "repo-a"}] = &repoFamiliarity{
			CompletedTasks: 3,
			LastWorkedAt:   now.Add(-30 * time.Minute),
		}
		worker := idleWorker("a1", "tmpl")
		// (5*3 + 15 recency) * 0.7
		assert.InDelta(t, 100+30+12+50+21, s.score(worker, wildcard, item, domain.RoleImplementer), 0.001)
	})

	t.Run("familiarity count caps at five", func(t *testing.T) {
		s := newScorer(wildcard)
		s.familiarity[familiarityKey{WorkerID: "a1", RepositoryID: "repo-a"}] = &repoFamiliarity{
			CompletedTasks: 50,
			LastWorkedAt:   now.Add(-100 * time.Hour),
		}
		worker := idleWorker("a1", "tmpl")
		// (5*5 + 5 stale recency) * 0.7
		assert.InDelta(t, 100+30+12+50+21, s.score(worker, wildcard, item, domain.RoleImplementer), 0.001)
	})

	t.Run("score clamps at zero", func(t *testing.T) {
		s := newScorer(wildcard)
		worker := idleWorker("a1", "tmpl")
		worker.Status = domain.WorkerStatusWorking
		worker.ErrorCount = 100
		assert.Zero(t, s.score(worker, wildcard, item, domain.RoleImplementer))
	})
}

func TestFindBestWorkerPrefersFamiliarWorker(t *testing.T) {
	now := time.Now()
	item := domain.WorkItem{ID: "w1", Type: domain.WorkItemTypeBug, RepositoryID: "repo-a"}

	pool := &mockPool{
		availableWorkersFunc: func(ctx context.Context) ([]domain.Worker, error) {
			return []domain.Worker{idleWorker("ay", "tmpl"), idleWorker("ax", "tmpl")}, nil
		},
	}

	s := NewScorer(pool, wildcardTemplates(), DefaultScoringWeights())
	s.familiarity[familiarityKey{WorkerID: "ax", RepositoryID: "repo-a"}] = &repoFamiliarity{
		CompletedTasks: 3,
		LastWorkedAt:   now.Add(-30 * time.Minute),
	}

	worker, err := s.FindBestWorker(context.Background(), item, domain.RoleImplementer)
	require.NoError(t, err)
	require.NotNil(t, worker)
	assert.Equal(t, "ax", worker.ID)
}

func TestFindBestWorkerTieBreaksByID(t *testing.T) {
	pool := &mockPool{
		availableWorkersFunc: func(ctx context.Context) ([]domain.Worker, error) {
			return []domain.Worker{idleWorker("zz", "tmpl"), idleWorker("aa", "tmpl")}, nil
		},
	}

	s := NewScorer(pool, wildcardTemplates(), DefaultScoringWeights())
	worker, err := s.FindBestWorker(context.Background(), domain.WorkItem{ID: "w1", Type: domain.WorkItemTypeBug}, domain.RoleImplementer)
	require.NoError(t, err)
	require.NotNil(t, worker)
	assert.Equal(t, "aa", worker.ID)
}

func TestFindBestWorkerNoCandidates(t *testing.T) {
	templates := &mockTemplates{templates: map[string]*domain.Template{
		"docs-only": {ID: "docs-only", AllowedTypes: []string{"research"}},
	}}
	pool := &mockPool{
		availableWorkersFunc: func(ctx context.Context) ([]domain.Worker, error) {
			return []domain.Worker{idleWorker("a1", "docs-only")}, nil
		},
	}

	s := NewScorer(pool, templates, DefaultScoringWeights())
	worker, err := s.FindBestWorker(context.Background(), domain.WorkItem{ID: "w1", Type: domain.WorkItemTypeBug}, domain.RoleImplementer)
	require.NoError(t, err)
	assert.Nil(t, worker)
}

func TestFindBestWorkerPropagatesPoolErrors(t *testing.T) {
	pool := &mockPool{
		availableWorkersFunc: func(ctx context.Context) ([]domain.Worker, error) {
			return nil, errStoreUnavailable
		},
	}

	s := NewScorer(pool, wildcardTemplates(), DefaultScoringWeights())
	_, err := s.FindBestWorker(context.Background(), domain.WorkItem{ID: "w1"}, domain.RoleImplementer)
	require.ErrorIs(t, err, errStoreUnavailable)
}

func TestRecordRepoExperience(t *testing.T) {
	s := NewScorer(&mockPool{}, wildcardTemplates(), DefaultScoringWeights())

	s.RecordRepoExperience("a1", "repo-a")
	s.RecordRepoExperience("a1", "repo-a")
	s.RecordRepoExperience("a1", "") // no repo, ignored

	entry, ok := s.familiarity[familiarityKey{WorkerID: "a1", RepositoryID: "repo-a"}]
	require.True(t, ok)
	assert.Equal(t, 2, entry.CompletedTasks)
	assert.False(t, entry.LastWorkedAt.IsZero())
	assert.Len(t, s.familiarity, 1)
}
