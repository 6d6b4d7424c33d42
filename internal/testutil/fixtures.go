package testutil

import (
	"sync"

	"github.com/mitchelldurbincs/agentprocessor/internal/policy"
	"github.com/mitchelldurbincs/agentprocessor/internal/trajectory"
)

// AgentState describes one agent's row in a test step
type AgentState struct {
	ID         string
	Reward     float32
	Done       bool
	MaxReached bool
}

// Agent is shorthand for a running agent with a reward
func Agent(id string, reward float32) AgentState {
	return AgentState{ID: id, Reward: reward}
}

// DoneAgent is shorthand for an agent whose episode ends this tick
func DoneAgent(id string, reward float32) AgentState {
	return AgentState{ID: id, Reward: reward, Done: true}
}

// TruncatedAgent is shorthand for an agent whose episode is cut off by a step limit
func TruncatedAgent(id string, reward float32) AgentState {
	return AgentState{ID: id, Reward: reward, Done: true, MaxReached: true}
}

// CreateTestStep builds a batched step for the given agents. Each agent gets
// one visual observation and one vector observation whose data encode the
// tick and the agent's position so tests can tell them apart.
func CreateTestStep(tick int, agents ...AgentState) *trajectory.BatchedStep {
	n := len(agents)
	step := &trajectory.BatchedStep{
		AgentIDs:    make([]string, n),
		VisualObs:   [][]trajectory.Tensor{make([]trajectory.Tensor, n)},
		VectorObs:   make([]trajectory.Tensor, n),
		Rewards:     make([]float32, n),
		LocalDone:   make([]bool, n),
		MaxReached:  make([]bool, n),
		ActionMasks: make([][]bool, n),
	}

	for i, a := range agents {
		step.AgentIDs[i] = a.ID
		step.VisualObs[0][i] = trajectory.Tensor{Shape: []int32{1}, Data: []float32{float32(tick)}}
		step.VectorObs[i] = trajectory.Tensor{Shape: []int32{2}, Data: []float32{float32(tick), float32(i)}}
		step.Rewards[i] = a.Reward
		step.LocalDone[i] = a.Done
		step.MaxReached[i] = a.MaxReached
		step.ActionMasks[i] = []bool{true, tick%2 == 0}
	}

	return step
}

// CreateTestActionInfo builds an action record for agentIDs. The action of
// the agent at position i is tick*100+i, so tests can check pairing.
func CreateTestActionInfo(tick int, agentIDs ...string) trajectory.ActionInfo {
	n := len(agentIDs)
	outputs := &trajectory.ActionOutputs{
		Action:       make([][]float32, n),
		PreAction:    make([][]float32, n),
		LogProbs:     make([][]float32, n),
		Entropy:      make([]float32, n),
		LearningRate: 0.0003,
	}
	for i := range agentIDs {
		outputs.Action[i] = []float32{float32(tick*100 + i)}
		outputs.PreAction[i] = []float32{float32(tick*100+i) + 0.5}
		outputs.LogProbs[i] = []float32{-float32(i+1) / 10}
		outputs.Entropy[i] = 0.5
	}

	agents := make([]string, n)
	copy(agents, agentIDs)
	return trajectory.ActionInfo{Agents: agents, Outputs: outputs}
}

// StatRecord is one call made to a RecordingStats
type StatRecord struct {
	Name  string
	Value float64
}

// RecordingStats records every stat it receives, in order
type RecordingStats struct {
	mu      sync.Mutex
	Records []StatRecord
}

// AddStat records one stat
func (r *RecordingStats) AddStat(name string, value float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Records = append(r.Records, StatRecord{Name: name, Value: value})
}

// Values returns every value recorded under name
func (r *RecordingStats) Values(name string) []float64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	var values []float64
	for _, rec := range r.Records {
		if rec.Name == name {
			values = append(values, rec.Value)
		}
	}
	return values
}

// Reset forgets everything recorded so far
func (r *RecordingStats) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Records = nil
}

// StubPolicy is a configurable policy.Policy backed by an ActionStore
type StubPolicy struct {
	*policy.ActionStore

	VecObs     bool
	Continuous bool
	Recurrent  bool

	SavedAgents [][]string
}

// NewStubPolicy creates a stub using vector observations only
func NewStubPolicy() *StubPolicy {
	return &StubPolicy{
		ActionStore: policy.NewActionStore(1, 2),
		VecObs:      true,
	}
}

// UseVecObs reports the VecObs field
func (p *StubPolicy) UseVecObs() bool { return p.VecObs }

// UseContinuousAct reports the Continuous field
func (p *StubPolicy) UseContinuousAct() bool { return p.Continuous }

// UseRecurrent reports the Recurrent field
func (p *StubPolicy) UseRecurrent() bool { return p.Recurrent }

// SavePreviousAction records the call and forwards it to the store
func (p *StubPolicy) SavePreviousAction(agentIDs []string, actions [][]float32) {
	p.SavedAgents = append(p.SavedAgents, append([]string(nil), agentIDs...))
	p.ActionStore.SavePreviousAction(agentIDs, actions)
}
