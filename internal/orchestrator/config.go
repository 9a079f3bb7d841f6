package orchestrator

import "time"

// ScoringWeights are the per-factor multipliers applied by the assignment
// scorer. A weight of zero removes its factor's contribution to the score;
// a worker whose template rejects the item's type still scores zero.
type ScoringWeights struct {
	Workload        float64
	ErrorHistory    float64
	ContextHeadroom float64
	CostEfficiency  float64
	CapabilityMatch float64
	RoleMatch       float64
	RepoFamiliarity float64
}

// DefaultScoringWeights returns the standard factor multipliers.
func DefaultScoringWeights() ScoringWeights {
	return ScoringWeights{
		Workload:        1.0,
		ErrorHistory:    1.0,
		ContextHeadroom: 0.5,
		CostEfficiency:  0.3,
		CapabilityMatch: 1.0,
		RoleMatch:       0.8,
		RepoFamiliarity: 0.7,
	}
}

// Config holds the orchestrator's tunable parameters.
type Config struct {
	// CycleInterval is the period between scheduling cycles.
	CycleInterval time.Duration

	// Concurrency caps across the three fairness dimensions.
	MaxGlobalWorkers  int
	MaxWorkersPerRepo int
	MaxWorkersPerUser int

	// Retry policy.
	MaxRetryAttempts int
	RetryBaseDelay   time.Duration
	RetryMaxDelay    time.Duration

	// AutoSpawnWorkers asks the pool to spawn a worker from DefaultTemplateID
	// when an item finds no available worker.
	AutoSpawnWorkers  bool
	DefaultTemplateID string

	// OperationTimeout bounds individual store and workflow calls made from
	// the cycle body.
	OperationTimeout time.Duration

	ScoringWeights ScoringWeights
}

// DefaultConfig returns the standard orchestrator configuration.
func DefaultConfig() Config {
	return Config{
		CycleInterval:     5 * time.Second,
		MaxGlobalWorkers:  10,
		MaxWorkersPerRepo: 3,
		MaxWorkersPerUser: 5,
		MaxRetryAttempts:  3,
		RetryBaseDelay:    time.Second,
		RetryMaxDelay:     60 * time.Second,
		AutoSpawnWorkers:  false,
		OperationTimeout:  30 * time.Second,
		ScoringWeights:    DefaultScoringWeights(),
	}
}

// ConfigUpdate is a partial configuration change. Nil fields keep their
// current value.
type ConfigUpdate struct {
	CycleInterval     *time.Duration
	MaxGlobalWorkers  *int
	MaxWorkersPerRepo *int
	MaxWorkersPerUser *int
	MaxRetryAttempts  *int
	RetryBaseDelay    *time.Duration
	RetryMaxDelay     *time.Duration
	AutoSpawnWorkers  *bool
	DefaultTemplateID *string
	OperationTimeout  *time.Duration
	ScoringWeights    *ScoringWeights
}

// apply merges the non-nil fields of u into c.
func (c *Config) apply(u ConfigUpdate) {
	if u.CycleInterval != nil {
		c.CycleInterval = *u.CycleInterval
	}
	if u.MaxGlobalWorkers != nil {
		c.MaxGlobalWorkers = *u.MaxGlobalWorkers
	}
	if u.MaxWorkersPerRepo != nil {
		c.MaxWorkersPerRepo = *u.MaxWorkersPerRepo
	}
	if u.MaxWorkersPerUser != nil {
		c.MaxWorkersPerUser = *u.MaxWorkersPerUser
	}
	if u.MaxRetryAttempts != nil {
		c.MaxRetryAttempts = *u.MaxRetryAttempts
	}
	if u.RetryBaseDelay != nil {
		c.RetryBaseDelay = *u.RetryBaseDelay
	}
	if u.RetryMaxDelay != nil {
		c.RetryMaxDelay = *u.RetryMaxDelay
	}
	if u.AutoSpawnWorkers != nil {
		c.AutoSpawnWorkers = *u.AutoSpawnWorkers
	}
	if u.DefaultTemplateID != nil {
		c.DefaultTemplateID = *u.DefaultTemplateID
	}
	if u.OperationTimeout != nil {
		c.OperationTimeout = *u.OperationTimeout
	}
	if u.ScoringWeights != nil {
		c.ScoringWeights = *u.ScoringWeights
	}
}
