package env

import (
	"errors"
	"fmt"
	"math/rand"

	"github.com/mitchelldurbincs/agentprocessor/internal/trajectory"
	"github.com/rs/zerolog"
)

// ErrInvalidConfig is returned for unusable environment settings
var ErrInvalidConfig = errors.New("invalid environment config")

// Config controls the multi-agent environment
type Config struct {
	NumAgents int
	// MaxSteps truncates an episode; zero disables truncation
	MaxSteps int
	// JoinInterval staggers agent arrival: agent i joins at tick i*JoinInterval
	JoinInterval int
	Seed         int64
}

type slot struct {
	id       string
	pole     *CartPole
	joinTick int
	active   bool
	// ended marks an agent whose episode finished on the previous tick; it
	// restarts under the same id on the next one
	ended bool
}

// MultiAgentEnv runs independent cartpoles whose episodes start and end at
// unrelated ticks, reporting them all as one batched step per tick
type MultiAgentEnv struct {
	cfg    Config
	slots  []*slot
	tick   int
	logger zerolog.Logger

	episodes int
}

// New creates an environment. No agent is active until the first Step.
func New(cfg Config, logger zerolog.Logger) (*MultiAgentEnv, error) {
	if cfg.NumAgents <= 0 {
		return nil, fmt.Errorf("%w: num agents must be positive", ErrInvalidConfig)
	}
	if cfg.MaxSteps < 0 || cfg.JoinInterval < 0 {
		return nil, fmt.Errorf("%w: max steps and join interval must be non-negative", ErrInvalidConfig)
	}

	rng := rand.New(rand.NewSource(cfg.Seed))
	slots := make([]*slot, cfg.NumAgents)
	for i := range slots {
		slots[i] = &slot{
			id:       fmt.Sprintf("agent-%d", i),
			pole:     newCartPole(rand.New(rand.NewSource(rng.Int63()))),
			joinTick: i * cfg.JoinInterval,
		}
	}

	return &MultiAgentEnv{
		cfg:    cfg,
		slots:  slots,
		logger: logger.With().Str("component", "multi_agent_env").Logger(),
	}, nil
}

// Step applies the actions chosen for the previous tick and returns the
// batched step for the current one. Agents without an action push left.
func (e *MultiAgentEnv) Step(actions trajectory.ActionInfo) *trajectory.BatchedStep {
	chosen := make(map[string]int, len(actions.Agents))
	if actions.HasActions() {
		for i, id := range actions.Agents {
			if a, ok := actions.Outputs.ActionAt(i); ok && len(a) > 0 {
				chosen[id] = int(a[0])
			}
		}
	}

	step := &trajectory.BatchedStep{}
	for _, s := range e.slots {
		if !s.active {
			if e.tick < s.joinTick {
				continue
			}
			s.active = true
			s.pole.Reset()
			e.logger.Debug().
				Str("agent_id", s.id).
				Int("tick", e.tick).
				Msg("Agent joined")
			e.appendAgent(step, s, 0, false, false)
			continue
		}

		if s.ended {
			s.ended = false
			s.pole.Reset()
			e.appendAgent(step, s, 0, false, false)
			continue
		}

		reward, failed := s.pole.Step(chosen[s.id])
		truncated := !failed && e.cfg.MaxSteps > 0 && s.pole.Steps >= e.cfg.MaxSteps
		done := failed || truncated
		if done {
			s.ended = true
			e.episodes++
			e.logger.Debug().
				Str("agent_id", s.id).
				Int("steps", s.pole.Steps).
				Bool("truncated", truncated).
				Msg("Episode ended")
		}
		e.appendAgent(step, s, reward, done, truncated)
	}

	e.tick++
	return step
}

func (e *MultiAgentEnv) appendAgent(step *trajectory.BatchedStep, s *slot, reward float32, done, truncated bool) {
	step.AgentIDs = append(step.AgentIDs, s.id)
	step.VectorObs = append(step.VectorObs, trajectory.Tensor{
		Shape: []int32{ObservationSize},
		Data:  s.pole.Observation(),
	})
	step.Rewards = append(step.Rewards, reward)
	step.LocalDone = append(step.LocalDone, done)
	step.MaxReached = append(step.MaxReached, truncated)
	step.ActionMasks = append(step.ActionMasks, []bool{true, true})
}

// Tick returns the number of steps taken so far
func (e *MultiAgentEnv) Tick() int {
	return e.tick
}

// Episodes returns how many episodes have ended
func (e *MultiAgentEnv) Episodes() int {
	return e.episodes
}
