package learner

import (
	"context"
	"time"

	"github.com/mitchelldurbincs/agentprocessor/internal/policy"
	"github.com/mitchelldurbincs/agentprocessor/internal/queue"
	"github.com/mitchelldurbincs/agentprocessor/internal/trajectory"
	"github.com/rs/zerolog"
)

const discount = 0.99

// Config controls how often the learner polls and publishes
type Config struct {
	PollInterval      time.Duration
	PolicyUpdateEvery int
	StepSize          float64
}

// Learner drains trajectories, accumulates a REINFORCE gradient for a
// LinearPolicy and periodically publishes a replacement policy
type Learner struct {
	cfg          Config
	trajectories queue.Queue[*trajectory.Trajectory]
	policies     queue.Queue[policy.Policy]
	current      *policy.LinearPolicy

	gradW   [][]float64
	gradB   []float64
	samples int
	pending int

	processed int
	published int
	logger    zerolog.Logger
}

// New creates a learner reading from trajectories and writing to policies
func New(cfg Config, trajectories queue.Queue[*trajectory.Trajectory], policies queue.Queue[policy.Policy], initial *policy.LinearPolicy, logger zerolog.Logger) *Learner {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Millisecond
	}
	if cfg.PolicyUpdateEvery <= 0 {
		cfg.PolicyUpdateEvery = 1
	}

	l := &Learner{
		cfg:          cfg,
		trajectories: trajectories,
		policies:     policies,
		current:      initial,
		logger: logger.With().
			Str("component", "learner").
			Str("behavior_id", trajectories.BehaviorID()).
			Logger(),
	}
	l.resetGradient()
	return l
}

// Run polls the trajectory queue until ctx is cancelled or producerDone is
// closed, in which case whatever is still queued is processed first
func (l *Learner) Run(ctx context.Context, producerDone <-chan struct{}) error {
	for {
		if tr, ok := l.trajectories.TryGet(); ok {
			l.Process(tr)
			continue
		}

		select {
		case <-ctx.Done():
			return nil
		case <-producerDone:
			for {
				tr, ok := l.trajectories.TryGet()
				if !ok {
					break
				}
				l.Process(tr)
			}
			l.logger.Info().
				Int("processed", l.processed).
				Int("published", l.published).
				Msg("Producer finished, learner stopping")
			return nil
		case <-time.After(l.cfg.PollInterval):
		}
	}
}

// Process accumulates the gradient contribution of one trajectory and
// publishes a new policy when enough trajectories have been seen.
// Returns are computed within the trajectory alone: a fragment cut by the
// length cap is not bootstrapped from NextObs, so its tail value counts as 0.
func (l *Learner) Process(tr *trajectory.Trajectory) {
	returns := make([]float64, tr.Len())
	var g float64
	for i := tr.Len() - 1; i >= 0; i-- {
		g = float64(tr.Steps[i].Reward) + discount*g
		returns[i] = g
	}

	for i, exp := range tr.Steps {
		if len(exp.Obs) == 0 || len(exp.Action) == 0 {
			continue
		}
		obs := exp.Obs[len(exp.Obs)-1].Data
		action := int(exp.Action[0])
		probs := l.current.Probabilities(obs, exp.ActionMask)

		for k := range probs {
			indicator := 0.0
			if k == action {
				indicator = 1
			}
			coef := returns[i] * (indicator - probs[k])
			if k < len(l.gradB) {
				l.gradB[k] += coef
			}
			if k >= len(l.gradW) {
				continue
			}
			for j := 0; j < len(obs) && j < len(l.gradW[k]); j++ {
				l.gradW[k][j] += coef * float64(obs[j])
			}
		}
		l.samples++
	}

	l.processed++
	l.pending++

	l.logger.Debug().
		Str("trajectory_id", tr.ID).
		Str("agent_id", tr.AgentID).
		Int("length", tr.Len()).
		Bool("done", tr.Done()).
		Float64("reward", tr.TotalReward()).
		Msg("Processed trajectory")

	if l.pending >= l.cfg.PolicyUpdateEvery {
		l.publish()
	}
}

func (l *Learner) publish() {
	if l.samples == 0 {
		l.pending = 0
		return
	}

	weights := l.current.Weights.Clone()
	scale := l.cfg.StepSize / float64(l.samples)
	for k := range weights.W {
		if k < len(weights.B) {
			weights.B[k] += scale * l.gradB[k]
		}
		for j := range weights.W[k] {
			weights.W[k][j] += scale * l.gradW[k][j]
		}
	}

	l.current = l.current.Replace(weights)
	l.policies.Put(l.current)
	l.published++
	l.resetGradient()

	l.logger.Info().
		Int("version", l.current.Version).
		Int("processed", l.processed).
		Msg("Published policy")
}

func (l *Learner) resetGradient() {
	l.gradW = make([][]float64, len(l.current.Weights.W))
	for k := range l.gradW {
		l.gradW[k] = make([]float64, len(l.current.Weights.W[k]))
	}
	l.gradB = make([]float64, len(l.current.Weights.B))
	l.samples = 0
	l.pending = 0
}

// Processed returns how many trajectories were consumed
func (l *Learner) Processed() int {
	return l.processed
}

// Published returns how many replacement policies were pushed
func (l *Learner) Published() int {
	return l.published
}
