package policy

import (
	"math"
	"math/rand"
	"sort"

	"github.com/mitchelldurbincs/agentprocessor/internal/trajectory"
	"gonum.org/v1/gonum/floats"
)

const numActions = 2

// Weights parameterize a linear softmax policy over two discrete actions
type Weights struct {
	W [][]float64 `json:"w" mapstructure:"w"` // shape: [2][obsSize]
	B []float64   `json:"b" mapstructure:"b"` // shape: [2]
}

// DefaultWeights returns small symmetric weights for an observation of obsSize
func DefaultWeights(obsSize int) Weights {
	w := make([][]float64, numActions)
	for i := range w {
		w[i] = make([]float64, obsSize)
		for j := range w[i] {
			if i == 0 {
				w[i][j] = 0.01
			} else {
				w[i][j] = -0.01
			}
		}
	}
	return Weights{W: w, B: make([]float64, numActions)}
}

// LinearPolicy acts on vector observations with a single softmax layer.
// It never uses memories or continuous actions.
type LinearPolicy struct {
	*ActionStore

	Weights      Weights
	LearningRate float32
	Version      int
}

// Clone returns a deep copy of the weights
func (w Weights) Clone() Weights {
	c := Weights{W: make([][]float64, len(w.W)), B: append([]float64(nil), w.B...)}
	for i := range w.W {
		c.W[i] = append([]float64(nil), w.W[i]...)
	}
	return c
}

// NewLinearPolicy creates a policy backed by a fresh action store
func NewLinearPolicy(weights Weights, learningRate float32) *LinearPolicy {
	return &LinearPolicy{
		ActionStore:  NewActionStore(1, 0),
		Weights:      weights,
		LearningRate: learningRate,
	}
}

// Replace returns a policy with new weights that shares this policy's
// per-agent action history
func (p *LinearPolicy) Replace(weights Weights) *LinearPolicy {
	return &LinearPolicy{
		ActionStore:  p.ActionStore,
		Weights:      weights,
		LearningRate: p.LearningRate,
		Version:      p.Version + 1,
	}
}

// UseVecObs is always true; the policy reads the vector observation only
func (p *LinearPolicy) UseVecObs() bool { return true }

// UseContinuousAct is always false; actions are discrete indices
func (p *LinearPolicy) UseContinuousAct() bool { return false }

// UseRecurrent is always false; the policy keeps no memory
func (p *LinearPolicy) UseRecurrent() bool { return false }

// Evaluate chooses an action for every agent in step
func (p *LinearPolicy) Evaluate(step *trajectory.BatchedStep, rng *rand.Rand) trajectory.ActionInfo {
	n := step.Len()
	agents := make([]string, n)
	copy(agents, step.AgentIDs)

	if n == 0 {
		return trajectory.ActionInfo{Agents: agents}
	}

	outputs := &trajectory.ActionOutputs{
		Action:       make([][]float32, n),
		LogProbs:     make([][]float32, n),
		Entropy:      make([]float32, n),
		LearningRate: p.LearningRate,
	}

	for i := 0; i < n; i++ {
		var obs []float32
		if i < len(step.VectorObs) {
			obs = step.VectorObs[i].Data
		}
		probs := p.Probabilities(obs, step.ActionMask(i))
		choice := sampleAction(probs, rng)

		outputs.Action[i] = []float32{float32(choice)}
		outputs.LogProbs[i] = []float32{float32(math.Log(probs[choice] + 1e-8))}
		outputs.Entropy[i] = float32(entropy(probs))
	}

	return trajectory.ActionInfo{Agents: agents, Outputs: outputs}
}

// Probabilities returns the action distribution for obs, with masked-out
// actions removed when mask covers every action
func (p *LinearPolicy) Probabilities(obs []float32, mask []bool) []float64 {
	logits := make([]float64, numActions)
	for i := 0; i < numActions; i++ {
		if i < len(p.Weights.B) {
			logits[i] = p.Weights.B[i]
		}
		if i >= len(p.Weights.W) {
			continue
		}
		for j := 0; j < len(obs) && j < len(p.Weights.W[i]); j++ {
			logits[i] += p.Weights.W[i][j] * float64(obs[j])
		}
	}
	return maskedSoftmax(logits, mask)
}

// maskedSoftmax exponentiates the allowed logits only. A mask of the wrong
// size, or one that rules out every action, is ignored.
func maskedSoftmax(logits []float64, mask []bool) []float64 {
	if len(mask) != len(logits) || !anyAllowed(mask) {
		mask = nil
	}
	allowed := func(i int) bool { return mask == nil || mask[i] }

	top := math.Inf(-1)
	for i, v := range logits {
		if allowed(i) && v > top {
			top = v
		}
	}

	probs := make([]float64, len(logits))
	for i, v := range logits {
		if allowed(i) {
			probs[i] = math.Exp(v - top)
		}
	}
	floats.Scale(1/floats.Sum(probs), probs)
	return probs
}

func anyAllowed(mask []bool) bool {
	for _, ok := range mask {
		if ok {
			return true
		}
	}
	return false
}

func entropy(probs []float64) float64 {
	var h float64
	for _, p := range probs {
		if p > 0 {
			h -= p * math.Log(p)
		}
	}
	return h
}

// sampleAction inverts the cumulative distribution at a uniform draw.
// Zero-probability actions are never returned.
func sampleAction(probs []float64, rng *rand.Rand) int {
	cdf := floats.CumSum(make([]float64, len(probs)), probs)
	i := sort.SearchFloat64s(cdf, rng.Float64()*cdf[len(cdf)-1])
	for i < len(probs)-1 && probs[i] == 0 {
		i++
	}
	return min(i, len(probs)-1)
}
