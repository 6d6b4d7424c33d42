package policy

// Policy is the view of a model that the trajectory pipeline depends on.
// Retrieval methods return one record per requested agent, in request order.
type Policy interface {
	// UseVecObs reports whether vector observations are fed to the model
	UseVecObs() bool
	// UseContinuousAct reports whether the action space is continuous
	UseContinuousAct() bool
	// UseRecurrent reports whether the model carries per-agent memory
	UseRecurrent() bool

	RetrieveMemories(agentIDs []string) [][]float32
	RetrievePreviousAction(agentIDs []string) [][]float32
	SavePreviousAction(agentIDs []string, actions [][]float32)
}
