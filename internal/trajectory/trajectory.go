package trajectory

import "github.com/google/uuid"

// AgentExperience is one timestep of one agent. It pairs the observation
// the agent acted on with the outcome reported on the following tick.
type AgentExperience struct {
	Obs         []Tensor
	Reward      float32
	Done        bool
	MaxStep     bool
	Action      []float32
	ActionProbs []float32
	ActionPre   []float32
	ActionMask  []bool
	PrevAction  []float32
	Memory      []float32
}

// Trajectory is a completed fragment of a single agent's experience,
// bounded by either an episode end or the maximum trajectory length.
// It must not be modified once published.
type Trajectory struct {
	ID         string
	Steps      []AgentExperience
	NextObs    []Tensor
	AgentID    string
	BehaviorID string
}

// New creates a trajectory with a fresh identifier
func New(steps []AgentExperience, nextObs []Tensor, agentID, behaviorID string) *Trajectory {
	return &Trajectory{
		ID:         uuid.New().String(),
		Steps:      steps,
		NextObs:    nextObs,
		AgentID:    agentID,
		BehaviorID: behaviorID,
	}
}

// Len returns the number of experiences in the trajectory
func (t *Trajectory) Len() int {
	return len(t.Steps)
}

// Done reports whether the trajectory ends its episode
func (t *Trajectory) Done() bool {
	if len(t.Steps) == 0 {
		return false
	}
	return t.Steps[len(t.Steps)-1].Done
}

// MaxStepReached reports whether the episode was truncated by a step limit
func (t *Trajectory) MaxStepReached() bool {
	if len(t.Steps) == 0 {
		return false
	}
	return t.Steps[len(t.Steps)-1].MaxStep
}

// TotalReward sums the rewards of every experience
func (t *Trajectory) TotalReward() float64 {
	var total float64
	for _, step := range t.Steps {
		total += float64(step.Reward)
	}
	return total
}
