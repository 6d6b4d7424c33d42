package processor

import (
	"github.com/mitchelldurbincs/agentprocessor/internal/policy"
	"github.com/mitchelldurbincs/agentprocessor/internal/queue"
	"github.com/mitchelldurbincs/agentprocessor/internal/stats"
	"github.com/mitchelldurbincs/agentprocessor/internal/trajectory"
	"github.com/rs/zerolog"
)

// AgentManager is an AgentProcessor wired to a single trajectory queue and a
// single queue of replacement policies, both tagged with its behavior id
type AgentManager struct {
	*AgentProcessor

	TrajectoryQueue *queue.AgentManagerQueue[*trajectory.Trajectory]
	PolicyQueue     *queue.AgentManagerQueue[policy.Policy]
}

// NewAgentManager creates a manager whose trajectory queue is already published
func NewAgentManager(p policy.Policy, behaviorID string, reporter stats.Recorder, maxTrajectoryLength int, logger zerolog.Logger) (*AgentManager, error) {
	proc, err := NewAgentProcessor(p, behaviorID, reporter, maxTrajectoryLength, logger)
	if err != nil {
		return nil, err
	}

	m := &AgentManager{
		AgentProcessor:  proc,
		TrajectoryQueue: queue.New[*trajectory.Trajectory](behaviorID),
		PolicyQueue:     queue.New[policy.Policy](behaviorID),
	}
	m.PublishTrajectoryQueue(m.TrajectoryQueue)

	return m, nil
}
