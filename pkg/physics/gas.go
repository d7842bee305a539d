// Package physics holds the closed-form engineering formulas the propulsion
// components size themselves with. Every function is pure. Units are noted
// per function; lengths in the geometry are millimetres.
package physics

import "github.com/chewxy/math32"

// Combustion gas properties.
const (
	Gamma     = 1.22    // specific heat ratio
	RUniv     = 8314.46 // J/(kmol K)
	MolarMass = 24.0    // kg/kmol
	TChamber  = 3300.0  // K
	CStar     = 1750.0  // characteristic velocity, m/s

	// ThrustCoefficient is a typical Cf for a well-expanded nozzle.
	ThrustCoefficient = 1.6

	// Wall sizing.
	YieldStrengthMPa = 900.0 // Inconel 718
	SafetyFactor     = 2.0
	MinWallMM        = 2.0
)

// ExhaustVelocity returns the ideal exhaust velocity in m/s for the given
// chamber and exit pressures (bar). It is zero when the exit pressure is not
// below the chamber pressure.
func ExhaustVelocity(chamberBar, exitBar float32) float32 {
	if exitBar >= chamberBar {
		return 0
	}
	term1 := float32((2 * Gamma) / (Gamma - 1))
	term2 := float32((RUniv * TChamber) / MolarMass)
	exponent := float32((Gamma - 1) / Gamma)
	term3 := 1 - math32.Pow(exitBar/chamberBar, exponent)
	return math32.Sqrt(term1 * term2 * term3)
}

// MassFlow returns the choked mass flow in kg/s through a throat of radius
// throatMM at chamber pressure chamberBar.
func MassFlow(chamberBar, throatMM float32) float32 {
	pa := chamberBar * 1e5
	r := throatMM / 1000
	return pa * math32.Pi * r * r / CStar
}

// Thrust returns thrust in kN from mass flow (kg/s), exhaust velocity (m/s),
// exit and ambient pressure (bar) and exit radius (mm).
func Thrust(massFlow, ve, exitBar, ambientBar, exitMM float32) float32 {
	momentum := massFlow * ve
	r := exitMM / 1000
	pressure := (exitBar - ambientBar) * 1e5 * math32.Pi * r * r
	return (momentum + pressure) / 1000
}

// ExpansionRatio returns Ae/At for the given radii.
func ExpansionRatio(throatR, exitR float32) float32 {
	return (exitR * exitR) / (throatR * throatR)
}

// ThroatArea returns the throat area in m² needed for thrust (N) at chamber
// pressure (Pa).
func ThroatArea(thrustN, chamberPa float32) float32 {
	return thrustN / (chamberPa * ThrustCoefficient)
}

// ExitArea returns the exit area in m².
func ExitArea(throatM2, expansionRatio float32) float32 {
	return throatM2 * expansionRatio
}

// AreaToRadiusMM converts a circular area in m² to a radius in mm.
func AreaToRadiusMM(areaM2 float32) float32 {
	return math32.Sqrt(areaM2/math32.Pi) * 1000
}

// WallThickness returns the hoop-stress wall thickness in mm for a
// cylinder of radius radiusMM under pressureBar, never below MinWallMM.
func WallThickness(pressureBar, radiusMM float32) float32 {
	mpa := pressureBar * 0.1
	t := mpa * radiusMM * SafetyFactor / YieldStrengthMPa
	return math32.Max(t, MinWallMM)
}
