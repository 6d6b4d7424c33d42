package env

import (
	"math"
	"math/rand"
)

const (
	gravity        = 9.81
	massCart       = 1.0
	massPole       = 0.1
	poleLength     = 0.5
	totalMass      = massCart + massPole
	poleMassLength = massPole * poleLength
	forceMax       = 10.0
	tau            = 0.02

	xThreshold     = 2.4
	thetaThreshold = 12.0 * math.Pi / 180.0
)

// ObservationSize is the length of a cartpole vector observation
const ObservationSize = 4

// CartPole is a single balancing task
type CartPole struct {
	X        float64
	XDot     float64
	Theta    float64
	ThetaDot float64
	Steps    int

	rng *rand.Rand
}

func newCartPole(rng *rand.Rand) *CartPole {
	c := &CartPole{rng: rng}
	c.Reset()
	return c
}

// Reset starts a new episode from a small random perturbation
func (c *CartPole) Reset() {
	c.X = c.rng.Float64()*0.1 - 0.05
	c.XDot = c.rng.Float64()*0.1 - 0.05
	c.Theta = c.rng.Float64()*0.1 - 0.05
	c.ThetaDot = c.rng.Float64()*0.1 - 0.05
	c.Steps = 0
}

// Step pushes the cart left (0) or right (anything else). failed reports
// whether the pole fell or the cart left the track.
func (c *CartPole) Step(action int) (reward float32, failed bool) {
	force := forceMax
	if action == 0 {
		force = -forceMax
	}

	cosTheta := math.Cos(c.Theta)
	sinTheta := math.Sin(c.Theta)

	temp := (force + poleMassLength*c.ThetaDot*c.ThetaDot*sinTheta) / totalMass
	thetaAcc := (gravity*sinTheta - cosTheta*temp) / (poleLength * (4.0/3.0 - massPole*cosTheta*cosTheta/totalMass))
	xAcc := temp - poleMassLength*thetaAcc*cosTheta/totalMass

	c.X += tau * c.XDot
	c.XDot += tau * xAcc
	c.Theta += tau * c.ThetaDot
	c.ThetaDot += tau * thetaAcc
	c.Steps++

	failed = c.X < -xThreshold || c.X > xThreshold || c.Theta < -thetaThreshold || c.Theta > thetaThreshold
	if failed {
		return 0, true
	}
	return 1, false
}

// Observation returns the cart state as a vector
func (c *CartPole) Observation() []float32 {
	return []float32{float32(c.X), float32(c.XDot), float32(c.Theta), float32(c.ThetaDot)}
}
