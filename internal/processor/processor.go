package processor

import (
	"errors"
	"math"

	"github.com/mitchelldurbincs/agentprocessor/internal/policy"
	"github.com/mitchelldurbincs/agentprocessor/internal/queue"
	"github.com/mitchelldurbincs/agentprocessor/internal/stats"
	"github.com/mitchelldurbincs/agentprocessor/internal/trajectory"
	"github.com/rs/zerolog"
)

// UnlimitedTrajectoryLength disables the length cap; trajectories are then
// only flushed at episode end
const UnlimitedTrajectoryLength = math.MaxInt

// ErrInvalidMaxTrajectoryLength is returned when the length cap is not positive
var ErrInvalidMaxTrajectoryLength = errors.New("max trajectory length must be positive")

// AgentProcessor turns consecutive batched steps into per-agent trajectories.
// One AgentProcessor should exist per behavior group. AddExperiences is not
// safe for concurrent use; the published queues are.
type AgentProcessor struct {
	policy              policy.Policy
	behaviorID          string
	stats               stats.Recorder
	maxTrajectoryLength int

	experienceBuffers map[string][]trajectory.AgentExperience
	lastStep          map[string]*trajectory.BatchedStep
	// lastTakeActionOutputs holds the action a_t taken before the current
	// observation s_(t+1); the policy's previous action is a_(t-1)
	lastTakeActionOutputs map[string]trajectory.ActionInfo
	episodeSteps          map[string]int
	episodeRewards        map[string]float64

	trajectoryQueues []queue.Queue[*trajectory.Trajectory]

	logger zerolog.Logger
}

// NewAgentProcessor creates a processor for behaviorID. Use
// UnlimitedTrajectoryLength to only flush at episode end.
func NewAgentProcessor(p policy.Policy, behaviorID string, reporter stats.Recorder, maxTrajectoryLength int, logger zerolog.Logger) (*AgentProcessor, error) {
	if maxTrajectoryLength <= 0 {
		return nil, ErrInvalidMaxTrajectoryLength
	}

	return &AgentProcessor{
		policy:                p,
		behaviorID:            behaviorID,
		stats:                 reporter,
		maxTrajectoryLength:   maxTrajectoryLength,
		experienceBuffers:     make(map[string][]trajectory.AgentExperience),
		lastStep:              make(map[string]*trajectory.BatchedStep),
		lastTakeActionOutputs: make(map[string]trajectory.ActionInfo),
		episodeSteps:          make(map[string]int),
		episodeRewards:        make(map[string]float64),
		logger: logger.With().
			Str("component", "agent_processor").
			Str("behavior_id", behaviorID).
			Logger(),
	}, nil
}

// AddExperiences pairs the action record produced for the previous step with
// the outcome reported in curr, appending one experience per continuing agent
// and publishing every buffer that reached an episode end or the length cap.
func (p *AgentProcessor) AddExperiences(curr *trajectory.BatchedStep, previous trajectory.ActionInfo) {
	if !previous.Empty() {
		for _, entropy := range previous.Outputs.Entropy {
			p.stats.AddStat(stats.PolicyEntropy, float64(entropy))
		}
		p.stats.AddStat(stats.PolicyLearningRate, float64(previous.Outputs.LearningRate))
	}

	for _, agentID := range previous.Agents {
		p.lastTakeActionOutputs[agentID] = previous
	}

	for agentIdx, agentID := range curr.AgentIDs {
		storedStep, hasStep := p.lastStep[agentID]
		storedAction, hasAction := p.lastTakeActionOutputs[agentID]

		if hasStep && hasAction {
			p.processAgent(curr, agentIdx, agentID, storedStep, storedAction)
		}

		p.lastStep[agentID] = curr
	}

	if previous.HasActions() {
		p.policy.SavePreviousAction(previous.Agents, previous.Outputs.Action)
	}
}

// processAgent handles one agent that has both a stored step and a stored
// action record
func (p *AgentProcessor) processAgent(curr *trajectory.BatchedStep, agentIdx int, agentID string, storedStep *trajectory.BatchedStep, storedAction trajectory.ActionInfo) {
	prevIdx, ok := storedStep.Index(agentID)
	if !ok {
		p.logger.Debug().
			Str("agent_id", agentID).
			Msg("Agent missing from its stored step, skipping")
		return
	}

	if !storedStep.IsDone(prevIdx) {
		if exp, ok := p.buildExperience(curr, agentIdx, agentID, storedStep, prevIdx, storedAction); ok {
			p.experienceBuffers[agentID] = append(p.experienceBuffers[agentID], exp)
			p.episodeRewards[agentID] += float64(curr.Reward(agentIdx))
		}
	}

	done := curr.IsDone(agentIdx)
	buffered := len(p.experienceBuffers[agentID])

	if buffered > 0 && (done || buffered >= p.maxTrajectoryLength) {
		p.flush(curr, agentIdx, agentID)
		if done {
			p.endEpisode(agentID)
		}
	} else if !done {
		p.episodeSteps[agentID]++
	}
}

// buildExperience pairs the stored step and action record with the reward
// and done flags of curr
func (p *AgentProcessor) buildExperience(curr *trajectory.BatchedStep, agentIdx int, agentID string, storedStep *trajectory.BatchedStep, prevIdx int, storedAction trajectory.ActionInfo) (trajectory.AgentExperience, bool) {
	outputs := storedAction.Outputs
	actionIdx, found := storedAction.Index(agentID)
	if outputs == nil || !found {
		p.logger.Debug().
			Str("agent_id", agentID).
			Msg("No stored action output for agent, skipping experience")
		return trajectory.AgentExperience{}, false
	}

	action, ok := outputs.ActionAt(actionIdx)
	if !ok {
		p.logger.Debug().
			Str("agent_id", agentID).
			Int("action_index", actionIdx).
			Msg("Stored action output too short, skipping experience")
		return trajectory.AgentExperience{}, false
	}
	actionProbs, _ := outputs.LogProbsAt(actionIdx)

	var actionPre []float32
	if p.policy.UseContinuousAct() {
		actionPre, _ = outputs.PreActionAt(actionIdx)
	}

	var memory []float32
	if p.policy.UseRecurrent() {
		if memories := p.policy.RetrieveMemories([]string{agentID}); len(memories) > 0 {
			memory = memories[0]
		}
	}

	var prevAction []float32
	if prevActions := p.policy.RetrievePreviousAction([]string{agentID}); len(prevActions) > 0 {
		prevAction = prevActions[0]
	}

	return trajectory.AgentExperience{
		Obs:         storedStep.Observations(prevIdx, p.policy.UseVecObs()),
		Reward:      curr.Reward(agentIdx),
		Done:        curr.IsDone(agentIdx),
		MaxStep:     curr.IsMaxReached(agentIdx),
		Action:      action,
		ActionProbs: actionProbs,
		ActionPre:   actionPre,
		ActionMask:  storedStep.ActionMask(prevIdx),
		PrevAction:  prevAction,
		Memory:      memory,
	}, true
}

// flush publishes the agent's buffer as a trajectory and starts a new buffer
func (p *AgentProcessor) flush(curr *trajectory.BatchedStep, agentIdx int, agentID string) {
	nextObs := curr.Observations(agentIdx, p.policy.UseVecObs())
	traj := trajectory.New(p.experienceBuffers[agentID], nextObs, agentID, p.behaviorID)

	for _, q := range p.trajectoryQueues {
		q.Put(traj)
	}
	p.experienceBuffers[agentID] = nil

	p.logger.Debug().
		Str("trajectory_id", traj.ID).
		Str("agent_id", agentID).
		Int("length", traj.Len()).
		Bool("done", traj.Done()).
		Int("queues", len(p.trajectoryQueues)).
		Msg("Published trajectory")
}

// endEpisode reports the finished episode and drops its accumulators
func (p *AgentProcessor) endEpisode(agentID string) {
	reward := p.episodeRewards[agentID]
	length := p.episodeSteps[agentID]

	p.stats.AddStat(stats.EnvironmentCumulativeReward, reward)
	p.stats.AddStat(stats.EnvironmentEpisodeLength, float64(length))

	delete(p.episodeSteps, agentID)
	delete(p.episodeRewards, agentID)

	p.logger.Debug().
		Str("agent_id", agentID).
		Float64("cumulative_reward", reward).
		Int("episode_length", length).
		Msg("Episode finished")
}

// PublishTrajectoryQueue adds a queue that receives every trajectory
// assembled from now on
func (p *AgentProcessor) PublishTrajectoryQueue(q queue.Queue[*trajectory.Trajectory]) {
	p.trajectoryQueues = append(p.trajectoryQueues, q)

	p.logger.Debug().
		Str("queue_behavior_id", q.BehaviorID()).
		Int("total_queues", len(p.trajectoryQueues)).
		Msg("Trajectory queue published")
}

// SetPolicy replaces the policy. It must not be called while AddExperiences runs.
func (p *AgentProcessor) SetPolicy(newPolicy policy.Policy) {
	p.policy = newPolicy
}

// Policy returns the current policy
func (p *AgentProcessor) Policy() policy.Policy {
	return p.policy
}

// BehaviorID returns the behavior group the processor serves
func (p *AgentProcessor) BehaviorID() string {
	return p.behaviorID
}

// MaxTrajectoryLength returns the configured length cap
func (p *AgentProcessor) MaxTrajectoryLength() int {
	return p.maxTrajectoryLength
}

// PendingLen returns the number of buffered experiences for agentID
func (p *AgentProcessor) PendingLen(agentID string) int {
	return len(p.experienceBuffers[agentID])
}

// ActiveAgents returns how many agents have an episode in progress
func (p *AgentProcessor) ActiveAgents() int {
	return len(p.episodeSteps)
}

// EpisodeProgress returns the accumulated reward and step count of
// agentID's current episode
func (p *AgentProcessor) EpisodeProgress(agentID string) (reward float64, steps int, ok bool) {
	reward, hasReward := p.episodeRewards[agentID]
	steps, hasSteps := p.episodeSteps[agentID]
	return reward, steps, hasReward || hasSteps
}
