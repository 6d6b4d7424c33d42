package trajectory

// Tensor is a single fixed-shape observation for one agent
type Tensor struct {
	Shape []int32
	Data  []float32
}

// BatchedStep is the environment's view of every active agent of one
// behavior at a single tick. All per-agent slices are indexed by the
// position of the agent in AgentIDs.
type BatchedStep struct {
	AgentIDs []string

	// VisualObs is indexed [visualIndex][agentIndex]
	VisualObs [][]Tensor
	VectorObs []Tensor

	Rewards     []float32
	LocalDone   []bool
	MaxReached  []bool
	ActionMasks [][]bool
}

// Len returns the number of agents in the step
func (s *BatchedStep) Len() int {
	return len(s.AgentIDs)
}

// Index returns the position of agentID within the step
func (s *BatchedStep) Index(agentID string) (int, bool) {
	for i, id := range s.AgentIDs {
		if id == agentID {
			return i, true
		}
	}
	return -1, false
}

// IsDone reports whether the agent at idx finished its episode this tick
func (s *BatchedStep) IsDone(idx int) bool {
	if idx < 0 || idx >= len(s.LocalDone) {
		return false
	}
	return s.LocalDone[idx]
}

// IsMaxReached reports whether the agent at idx was truncated by a step limit
func (s *BatchedStep) IsMaxReached(idx int) bool {
	if idx < 0 || idx >= len(s.MaxReached) {
		return false
	}
	return s.MaxReached[idx]
}

// Reward returns the reward of the agent at idx, or zero if none was reported
func (s *BatchedStep) Reward(idx int) float32 {
	if idx < 0 || idx >= len(s.Rewards) {
		return 0
	}
	return s.Rewards[idx]
}

// ActionMask returns the discrete action mask of the agent at idx
func (s *BatchedStep) ActionMask(idx int) []bool {
	if idx < 0 || idx >= len(s.ActionMasks) {
		return nil
	}
	return s.ActionMasks[idx]
}

// Observations collects the observation set of the agent at idx: every
// visual observation in order, followed by the vector observation when
// useVecObs is set.
func (s *BatchedStep) Observations(idx int, useVecObs bool) []Tensor {
	obs := make([]Tensor, 0, len(s.VisualObs)+1)
	for _, visual := range s.VisualObs {
		if idx >= 0 && idx < len(visual) {
			obs = append(obs, visual[idx])
		}
	}
	if useVecObs && idx >= 0 && idx < len(s.VectorObs) {
		obs = append(obs, s.VectorObs[idx])
	}
	return obs
}

// ActionOutputs holds what the policy produced for a batch of agents.
// Per-agent slices are positional with respect to ActionInfo.Agents.
type ActionOutputs struct {
	Action [][]float32
	// PreAction is only populated by policies with continuous actions
	PreAction    [][]float32
	LogProbs     [][]float32
	Entropy      []float32
	LearningRate float32
}

// ActionInfo is the policy output together with the agents it was computed for
type ActionInfo struct {
	Agents  []string
	Outputs *ActionOutputs
}

// Empty reports whether the record carries no policy outputs
func (a ActionInfo) Empty() bool {
	return a.Outputs == nil
}

// Index returns the position of agentID in the record
func (a ActionInfo) Index(agentID string) (int, bool) {
	for i, id := range a.Agents {
		if id == agentID {
			return i, true
		}
	}
	return -1, false
}

// HasActions reports whether the record carries chosen actions
func (a ActionInfo) HasActions() bool {
	return a.Outputs != nil && a.Outputs.Action != nil
}

// row returns rows[idx] or nil when the slice is too short
func row(rows [][]float32, idx int) ([]float32, bool) {
	if idx < 0 || idx >= len(rows) {
		return nil, false
	}
	return rows[idx], true
}

// ActionAt returns the chosen action for the agent at idx
func (o *ActionOutputs) ActionAt(idx int) ([]float32, bool) {
	return row(o.Action, idx)
}

// LogProbsAt returns the action log-probabilities for the agent at idx
func (o *ActionOutputs) LogProbsAt(idx int) ([]float32, bool) {
	return row(o.LogProbs, idx)
}

// PreActionAt returns the pre-squash continuous action for the agent at idx
func (o *ActionOutputs) PreActionAt(idx int) ([]float32, bool) {
	return row(o.PreAction, idx)
}
