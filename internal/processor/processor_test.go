package processor

import (
	"testing"

	"github.com/mitchelldurbincs/agentprocessor/internal/queue"
	"github.com/mitchelldurbincs/agentprocessor/internal/stats"
	"github.com/mitchelldurbincs/agentprocessor/internal/testutil"
	"github.com/mitchelldurbincs/agentprocessor/internal/trajectory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// driver replays ticks the way an environment loop would: every step is
// paired with the action record computed for the step before it
type driver struct {
	proc *AgentProcessor
	tick int
	info trajectory.ActionInfo
}

func (d *driver) step(agents ...testutil.AgentState) *trajectory.BatchedStep {
	s := testutil.CreateTestStep(d.tick, agents...)
	d.proc.AddExperiences(s, d.info)
	d.info = testutil.CreateTestActionInfo(d.tick, s.AgentIDs...)
	d.tick++
	return s
}

func newTestProcessor(t *testing.T, maxLen int) (*AgentProcessor, *testutil.StubPolicy, *testutil.RecordingStats, *queue.AgentManagerQueue[*trajectory.Trajectory]) {
	t.Helper()
	pol := testutil.NewStubPolicy()
	rec := &testutil.RecordingStats{}
	proc, err := NewAgentProcessor(pol, "test-behavior", rec, maxLen, testutil.TestLogger(t))
	require.NoError(t, err)

	q := queue.New[*trajectory.Trajectory]("test-behavior")
	proc.PublishTrajectoryQueue(q)
	return proc, pol, rec, q
}

func drain(q *queue.AgentManagerQueue[*trajectory.Trajectory]) []*trajectory.Trajectory {
	return q.Drain()
}

func TestNewAgentProcessor_InvalidLength(t *testing.T) {
	for _, maxLen := range []int{0, -1} {
		proc, err := NewAgentProcessor(testutil.NewStubPolicy(), "b", &testutil.RecordingStats{}, maxLen, testutil.NopLogger())
		assert.ErrorIs(t, err, ErrInvalidMaxTrajectoryLength)
		assert.Nil(t, proc)
	}

	proc, err := NewAgentProcessor(testutil.NewStubPolicy(), "b", &testutil.RecordingStats{}, UnlimitedTrajectoryLength, testutil.NopLogger())
	require.NoError(t, err)
	assert.Equal(t, UnlimitedTrajectoryLength, proc.MaxTrajectoryLength())
	assert.Equal(t, "b", proc.BehaviorID())
}

func TestAgentProcessor_FirstAppearanceBuildsNothing(t *testing.T) {
	proc, _, _, q := newTestProcessor(t, 10)
	d := &driver{proc: proc}

	d.step(testutil.Agent("a", 1))
	assert.Equal(t, 0, proc.PendingLen("a"))
	assert.True(t, q.Empty())

	d.step(testutil.Agent("a", 1))
	assert.Equal(t, 1, proc.PendingLen("a"))
}

func TestAgentProcessor_LengthCapThenEpisodeEnd(t *testing.T) {
	proc, _, rec, q := newTestProcessor(t, 3)
	d := &driver{proc: proc}

	d.step(testutil.Agent("a", 0))
	d.step(testutil.Agent("a", 1))
	d.step(testutil.Agent("a", 2))
	assert.True(t, q.Empty())

	d.step(testutil.Agent("a", 3))
	trajs := drain(q)
	require.Len(t, trajs, 1)
	first := trajs[0]
	assert.Equal(t, 3, first.Len())
	assert.False(t, first.Done())
	assert.Equal(t, "a", first.AgentID)
	assert.Equal(t, "test-behavior", first.BehaviorID)
	assert.Equal(t, 0, proc.PendingLen("a"))

	// Experiences pair the action of tick t with the outcome of tick t+1
	for i, exp := range first.Steps {
		assert.Equal(t, []float32{float32(i * 100)}, exp.Action)
		assert.Equal(t, float32(i+1), exp.Reward)
		require.Len(t, exp.Obs, 2)
		assert.Equal(t, []float32{float32(i)}, exp.Obs[0].Data)
		assert.Equal(t, []float32{float32(i), 0}, exp.Obs[1].Data)
	}
	assert.Equal(t, []float32{100}, first.Steps[2].PrevAction)
	require.Len(t, first.NextObs, 2)
	assert.Equal(t, []float32{3, 0}, first.NextObs[1].Data)

	// No episode metrics for a length-cap flush
	assert.Empty(t, rec.Values(stats.EnvironmentCumulativeReward))

	d.step(testutil.DoneAgent("a", 4))
	trajs = drain(q)
	require.Len(t, trajs, 1)
	second := trajs[0]
	assert.Equal(t, 1, second.Len())
	assert.True(t, second.Done())
	assert.Equal(t, []float32{300}, second.Steps[0].Action)
	assert.Equal(t, []float32{200}, second.Steps[0].PrevAction)
	assert.NotEqual(t, first.ID, second.ID)

	assert.Equal(t, []float64{10}, rec.Values(stats.EnvironmentCumulativeReward))
	// The step counter does not advance on the tick of a length-cap flush
	assert.Equal(t, []float64{2}, rec.Values(stats.EnvironmentEpisodeLength))

	_, _, ok := proc.EpisodeProgress("a")
	assert.False(t, ok)
	assert.Equal(t, 0, proc.ActiveAgents())
}

func TestAgentProcessor_LateJoiningAgentPairsOwnActions(t *testing.T) {
	proc, _, _, q := newTestProcessor(t, 1)
	d := &driver{proc: proc}

	d.step(testutil.Agent("x", 0))
	d.step(testutil.Agent("x", 1), testutil.Agent("y", 1))

	// Only x has a predecessor on tick 1
	trajs := drain(q)
	require.Len(t, trajs, 1)
	assert.Equal(t, "x", trajs[0].AgentID)

	// Tick 2 swaps the order; pairing is by identity, not position
	d.step(testutil.Agent("y", 2), testutil.Agent("x", 2))
	trajs = drain(q)
	require.Len(t, trajs, 2)

	byAgent := map[string]*trajectory.Trajectory{}
	for _, tr := range trajs {
		byAgent[tr.AgentID] = tr
	}
	require.Contains(t, byAgent, "y")
	yExp := byAgent["y"].Steps[0]
	assert.Equal(t, []float32{101}, yExp.Action, "y pairs the tick-1 action, never tick 0")
	assert.Equal(t, []float32{1, 1}, yExp.Obs[1].Data)
	assert.Equal(t, []float32{-0.2}, yExp.ActionProbs)
	assert.Equal(t, float32(2), yExp.Reward)

	xExp := byAgent["x"].Steps[0]
	assert.Equal(t, []float32{100}, xExp.Action)
	assert.Equal(t, []float32{1, 0}, xExp.Obs[1].Data)
	// The next observation comes from x's position in the current step
	assert.Equal(t, []float32{2, 1}, byAgent["x"].NextObs[1].Data)
}

func TestAgentProcessor_DoneBoundaryIsNotBridged(t *testing.T) {
	proc, _, rec, q := newTestProcessor(t, 100)
	d := &driver{proc: proc}

	d.step(testutil.Agent("a", 0))
	d.step(testutil.Agent("a", 1))
	d.step(testutil.DoneAgent("a", 5))

	trajs := drain(q)
	require.Len(t, trajs, 1)
	assert.Equal(t, 2, trajs[0].Len())
	assert.True(t, trajs[0].Done())
	assert.Equal(t, []float64{6}, rec.Values(stats.EnvironmentCumulativeReward))

	// Same id reappears with a fresh episode
	d.step(testutil.Agent("a", 0))
	assert.Equal(t, 0, proc.PendingLen("a"))

	d.step(testutil.Agent("a", 1))
	d.step(testutil.DoneAgent("a", 2))

	trajs = drain(q)
	require.Len(t, trajs, 1)
	tr := trajs[0]
	require.Equal(t, 2, tr.Len())
	// First experience starts at the reappearance tick (3)
	assert.Equal(t, []float32{300}, tr.Steps[0].Action)
	assert.Equal(t, []float32{3, 0}, tr.Steps[0].Obs[1].Data)
	for _, exp := range tr.Steps {
		assert.NotEqual(t, []float32{2, 0}, exp.Obs[1].Data, "done observation must not start an experience")
	}

	assert.Equal(t, []float64{6, 3}, rec.Values(stats.EnvironmentCumulativeReward))
	assert.Equal(t, []float64{1, 2}, rec.Values(stats.EnvironmentEpisodeLength))
}

func TestAgentProcessor_TruncationFlag(t *testing.T) {
	proc, _, _, q := newTestProcessor(t, 100)
	d := &driver{proc: proc}

	d.step(testutil.Agent("a", 0))
	d.step(testutil.Agent("a", 1))
	d.step(testutil.TruncatedAgent("a", 1))

	trajs := drain(q)
	require.Len(t, trajs, 1)
	tr := trajs[0]
	require.Equal(t, 2, tr.Len())
	assert.False(t, tr.Steps[0].MaxStep)
	assert.False(t, tr.Steps[0].Done)
	assert.True(t, tr.Steps[1].MaxStep)
	assert.True(t, tr.Steps[1].Done)
	assert.True(t, tr.Done())
	assert.True(t, tr.MaxStepReached())

	// A failure ending carries no truncation flag
	d.step(testutil.Agent("a", 0))
	d.step(testutil.Agent("a", 1))
	d.step(testutil.DoneAgent("a", 0))

	trajs = drain(q)
	require.Len(t, trajs, 1)
	tr = trajs[0]
	assert.True(t, tr.Done())
	assert.False(t, tr.MaxStepReached())
	for _, exp := range tr.Steps {
		assert.False(t, exp.MaxStep)
	}
}

func TestAgentProcessor_NoSubscribers(t *testing.T) {
	rec := &testutil.RecordingStats{}
	proc, err := NewAgentProcessor(testutil.NewStubPolicy(), "b", rec, 10, testutil.NopLogger())
	require.NoError(t, err)
	d := &driver{proc: proc}

	d.step(testutil.Agent("a", 0))
	d.step(testutil.Agent("a", 1))
	assert.Equal(t, 1, proc.PendingLen("a"))
	d.step(testutil.DoneAgent("a", 1))

	assert.Equal(t, 0, proc.PendingLen("a"))
	assert.Equal(t, []float64{2}, rec.Values(stats.EnvironmentCumulativeReward))
	assert.Equal(t, []float64{1}, rec.Values(stats.EnvironmentEpisodeLength))
}

func TestAgentProcessor_LateSubscription(t *testing.T) {
	proc, _, _, first := newTestProcessor(t, 1)
	d := &driver{proc: proc}

	d.step(testutil.Agent("a", 0))
	d.step(testutil.Agent("a", 1))
	assert.Equal(t, 1, first.Len())

	late := queue.New[*trajectory.Trajectory]("late")
	proc.PublishTrajectoryQueue(late)
	assert.True(t, late.Empty())

	d.step(testutil.Agent("a", 1))
	d.step(testutil.Agent("a", 1))

	assert.Equal(t, 3, first.Len())
	lateTrajs := drain(late)
	require.Len(t, lateTrajs, 2)

	// Both queues receive the same immutable object
	firstTrajs := drain(first)
	assert.Same(t, firstTrajs[1], lateTrajs[0])
	assert.Same(t, firstTrajs[2], lateTrajs[1])
}

func TestAgentProcessor_PolicyStats(t *testing.T) {
	proc, pol, rec, _ := newTestProcessor(t, 10)

	// Empty outputs record nothing and save nothing
	proc.AddExperiences(testutil.CreateTestStep(0, testutil.Agent("a", 0)), trajectory.ActionInfo{})
	assert.Empty(t, rec.Records)
	assert.Empty(t, pol.SavedAgents)

	info := testutil.CreateTestActionInfo(0, "a", "b")
	proc.AddExperiences(testutil.CreateTestStep(1, testutil.Agent("a", 0)), info)

	assert.Equal(t, []float64{0.5, 0.5}, rec.Values(stats.PolicyEntropy))
	require.Len(t, rec.Values(stats.PolicyLearningRate), 1)
	assert.InDelta(t, 0.0003, rec.Values(stats.PolicyLearningRate)[0], 1e-9)
	assert.Equal(t, [][]string{{"a", "b"}}, pol.SavedAgents)
	assert.Equal(t, [][]float32{{0}, {1}}, pol.RetrievePreviousAction([]string{"a", "b"}))
}

func TestAgentProcessor_CapabilityFlags(t *testing.T) {
	proc, pol, _, q := newTestProcessor(t, 1)
	pol.VecObs = false
	pol.Continuous = true
	pol.Recurrent = true
	pol.SaveMemories([]string{"a"}, [][]float32{{0.25, 0.75}})
	d := &driver{proc: proc}

	d.step(testutil.Agent("a", 0))
	d.step(testutil.Agent("a", 1))

	trajs := drain(q)
	require.Len(t, trajs, 1)
	exp := trajs[0].Steps[0]
	require.Len(t, exp.Obs, 1, "vector observation excluded")
	assert.Equal(t, []float32{0.5}, exp.ActionPre)
	assert.Equal(t, []float32{0.25, 0.75}, exp.Memory)
	assert.Equal(t, []bool{true, true}, exp.ActionMask)
	require.Len(t, trajs[0].NextObs, 1)

	pol.Continuous = false
	pol.Recurrent = false
	d.step(testutil.Agent("a", 1))
	exp = drain(q)[0].Steps[0]
	assert.Nil(t, exp.ActionPre)
	assert.Nil(t, exp.Memory)
	assert.Equal(t, []bool{true, false}, exp.ActionMask)
}

func TestAgentProcessor_MissingDataIsSkipped(t *testing.T) {
	proc, _, _, q := newTestProcessor(t, 1)

	proc.AddExperiences(testutil.CreateTestStep(0, testutil.Agent("a", 0), testutil.Agent("b", 0)), trajectory.ActionInfo{})

	// Action record without outputs for a, and a short action slice for b
	short := testutil.CreateTestActionInfo(0, "b", "c")
	short.Outputs.Action = short.Outputs.Action[:0]
	proc.AddExperiences(testutil.CreateTestStep(1, testutil.Agent("a", 1)), trajectory.ActionInfo{Agents: []string{"a"}})
	assert.NotPanics(t, func() {
		proc.AddExperiences(testutil.CreateTestStep(2, testutil.Agent("b", 1), testutil.Agent("a", 1)), short)
	})

	assert.True(t, q.Empty())
	assert.Equal(t, 0, proc.PendingLen("a"))
	assert.Equal(t, 0, proc.PendingLen("b"))

	// Mismatched per-agent arrays degrade instead of panicking
	ragged := testutil.CreateTestStep(3, testutil.Agent("a", 1), testutil.Agent("b", 1))
	ragged.Rewards = ragged.Rewards[:1]
	ragged.VectorObs = nil
	assert.NotPanics(t, func() {
		proc.AddExperiences(ragged, testutil.CreateTestActionInfo(2, "b", "a"))
	})
	trajs := drain(q)
	require.Len(t, trajs, 2)
}

func TestAgentProcessor_SetPolicy(t *testing.T) {
	proc, pol, _, _ := newTestProcessor(t, 5)
	assert.Same(t, pol, proc.Policy())

	replacement := testutil.NewStubPolicy()
	proc.SetPolicy(replacement)
	assert.Same(t, replacement, proc.Policy())

	d := &driver{proc: proc}
	d.step(testutil.Agent("a", 0))
	d.step(testutil.Agent("a", 0))
	assert.Empty(t, pol.SavedAgents)
	assert.Len(t, replacement.SavedAgents, 1)
}

func TestAgentProcessor_RandomizedInvariants(t *testing.T) {
	rng := testutil.NewTestRNG(7)
	const maxLen = 4
	proc, _, rec, q := newTestProcessor(t, maxLen)
	d := &driver{proc: proc}

	ids := []string{"a", "b", "c", "d", "e"}
	expectedReward := map[string]float64{}
	var expectedEpisodeRewards []float64
	doneLastTick := map[string]bool{}
	seen := map[string]bool{}

	for tick := 0; tick < 300; tick++ {
		var agents []testutil.AgentState
		for _, id := range rng.Perm(len(ids)) {
			// Agents join at random ticks and stay present afterwards
			if !seen[ids[id]] && rng.Float64() < 0.2 {
				continue
			}
			state := testutil.AgentState{
				ID:     ids[id],
				Reward: float32(rng.Intn(3)),
				Done:   rng.Float64() < 0.1,
			}
			agents = append(agents, state)
		}

		// Rewards accumulate only when the agent had a live predecessor
		for _, a := range agents {
			if seen[a.ID] && !doneLastTick[a.ID] {
				expectedReward[a.ID] += float64(a.Reward)
			}
		}
		d.step(agents...)

		for _, a := range agents {
			wasLive := seen[a.ID] && !doneLastTick[a.ID]
			if a.Done && wasLive {
				expectedEpisodeRewards = append(expectedEpisodeRewards, expectedReward[a.ID])
				delete(expectedReward, a.ID)
			}
			seen[a.ID] = true
			doneLastTick[a.ID] = a.Done
		}

		for _, id := range ids {
			assert.LessOrEqual(t, proc.PendingLen(id), maxLen)
		}
	}

	for _, tr := range q.Drain() {
		require.NotZero(t, tr.Len())
		assert.LessOrEqual(t, tr.Len(), maxLen)
		for i, exp := range tr.Steps {
			if i < tr.Len()-1 {
				assert.False(t, exp.Done, "only the final experience of a trajectory may end an episode")
			}
		}
	}

	assert.Equal(t, len(expectedEpisodeRewards), len(rec.Values(stats.EnvironmentEpisodeLength)))
	assert.Equal(t, expectedEpisodeRewards, rec.Values(stats.EnvironmentCumulativeReward))
}
