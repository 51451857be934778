package db

import (
	"sync"

	"github.com/ldi/sprintboard/pkg/models"
)

// StagedTask is a new task waiting for a sprint plan to be committed.
// SprintName is resolved against staged sprints first, then existing ones.
type StagedTask struct {
	Task       *models.Task `json:"task"`
	SprintName string       `json:"sprint_name,omitempty"`
}

// StagedMove plans an existing task into a sprint by id or by name.
type StagedMove struct {
	TaskID     string `json:"task_id"`
	SprintID   string `json:"sprint_id,omitempty"`
	SprintName string `json:"sprint_name,omitempty"`
}

type StagedPlan struct {
	Sprints []*models.Sprint `json:"sprints"`
	Tasks   []*StagedTask    `json:"tasks"`
	Moves   []*StagedMove    `json:"moves"`
}

func newStagedPlan() *StagedPlan {
	return &StagedPlan{
		Sprints: []*models.Sprint{},
		Tasks:   []*StagedTask{},
		Moves:   []*StagedMove{},
	}
}

// Empty reports whether nothing has been staged.
func (p *StagedPlan) Empty() bool {
	return len(p.Sprints) == 0 && len(p.Tasks) == 0 && len(p.Moves) == 0
}

// StagingManager provides thread-safe in-memory storage for sprint plans,
// keyed by session.
type StagingManager struct {
	mu     sync.RWMutex
	staged map[string]*StagedPlan
}

func NewStagingManager() *StagingManager {
	return &StagingManager{
		staged: make(map[string]*StagedPlan),
	}
}

func (sm *StagingManager) plan(sessionID string) *StagedPlan {
	if sm.staged[sessionID] == nil {
		sm.staged[sessionID] = newStagedPlan()
	}
	return sm.staged[sessionID]
}

func (sm *StagingManager) AddSprint(sessionID string, sprint *models.Sprint) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	p := sm.plan(sessionID)
	p.Sprints = append(p.Sprints, sprint)
}

func (sm *StagingManager) AddTask(sessionID string, task *models.Task, sprintName string) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	p := sm.plan(sessionID)
	p.Tasks = append(p.Tasks, &StagedTask{Task: task, SprintName: sprintName})
}

func (sm *StagingManager) AddMove(sessionID string, move *StagedMove) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	p := sm.plan(sessionID)
	p.Moves = append(p.Moves, move)
}

func (sm *StagingManager) GetAndClear(sessionID string) *StagedPlan {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	p, ok := sm.staged[sessionID]
	if !ok {
		return newStagedPlan()
	}

	delete(sm.staged, sessionID)
	return p
}

// Peek returns a copy of the session's plan without clearing it.
func (sm *StagingManager) Peek(sessionID string) *StagedPlan {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	p, ok := sm.staged[sessionID]
	if !ok {
		return newStagedPlan()
	}

	return &StagedPlan{
		Sprints: append([]*models.Sprint{}, p.Sprints...),
		Tasks:   append([]*StagedTask{}, p.Tasks...),
		Moves:   append([]*StagedMove{}, p.Moves...),
	}
}

// Discard drops a session's plan.
func (sm *StagingManager) Discard(sessionID string) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	delete(sm.staged, sessionID)
}
