package quota

import (
	"sync"

	"github.com/google/uuid"
)

// LimitsRegistry holds the configured gender limits per survey. Sessions
// register limits from the survey definition when they load it, so the
// source can resolve them without another definition fetch.
type LimitsRegistry struct {
	mu     sync.RWMutex
	limits map[uuid.UUID]map[string]int
}

// NewLimitsRegistry creates an empty registry.
func NewLimitsRegistry() *LimitsRegistry {
	return &LimitsRegistry{limits: make(map[uuid.UUID]map[string]int)}
}

// Set records the limits for a survey, replacing any previous entry.
func (r *LimitsRegistry) Set(surveyID uuid.UUID, limits map[string]int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(limits) == 0 {
		delete(r.limits, surveyID)
		return
	}
	copied := make(map[string]int, len(limits))
	for k, v := range limits {
		copied[k] = v
	}
	r.limits[surveyID] = copied
}

// Limits returns the registered limits for a survey, or nil. Its signature
// matches LimitsProvider.
func (r *LimitsRegistry) Limits(surveyID uuid.UUID) map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.limits[surveyID]
}
