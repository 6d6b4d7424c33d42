package policy

import (
	"sync"
)

// ActionStore keeps each agent's previous action and recurrent memory.
// Unknown agents resolve to zero vectors of the configured size.
type ActionStore struct {
	mu              sync.RWMutex
	actionSize      int
	memorySize      int
	previousActions map[string][]float32
	memories        map[string][]float32
}

// NewActionStore creates a store for actions of actionSize and memories of memorySize
func NewActionStore(actionSize, memorySize int) *ActionStore {
	return &ActionStore{
		actionSize:      actionSize,
		memorySize:      memorySize,
		previousActions: make(map[string][]float32),
		memories:        make(map[string][]float32),
	}
}

// RetrievePreviousAction returns the last saved action for each agent
func (s *ActionStore) RetrievePreviousAction(agentIDs []string) [][]float32 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return lookup(s.previousActions, agentIDs, s.actionSize)
}

// SavePreviousAction stores actions[i] as the previous action of agentIDs[i]
func (s *ActionStore) SavePreviousAction(agentIDs []string, actions [][]float32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	store(s.previousActions, agentIDs, actions)
}

// RetrieveMemories returns the recurrent memory for each agent
func (s *ActionStore) RetrieveMemories(agentIDs []string) [][]float32 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return lookup(s.memories, agentIDs, s.memorySize)
}

// SaveMemories stores memories[i] as the memory of agentIDs[i]
func (s *ActionStore) SaveMemories(agentIDs []string, memories [][]float32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	store(s.memories, agentIDs, memories)
}

func lookup(m map[string][]float32, agentIDs []string, size int) [][]float32 {
	result := make([][]float32, len(agentIDs))
	for i, id := range agentIDs {
		if v, ok := m[id]; ok {
			result[i] = append([]float32(nil), v...)
			continue
		}
		result[i] = make([]float32, size)
	}
	return result
}

func store(m map[string][]float32, agentIDs []string, values [][]float32) {
	for i, id := range agentIDs {
		if i >= len(values) {
			return
		}
		m[id] = append([]float32(nil), values[i]...)
	}
}
