package physics

import "github.com/chewxy/math32"

// Reference-area model constants for an annular combustor.
const (
	pressureLossFactor = 18.0
	areaScale          = 1e6 // m² scaled into the mm-sized model
	flameTubeFraction  = 0.66
)

// Zones are the axial lengths of the combustor zones in mm.
type Zones struct {
	Primary   float32
	Secondary float32
	Dilution  float32
}

// Total returns the combustor length.
func (z Zones) Total() float32 { return z.Primary + z.Secondary + z.Dilution }

// ReferenceArea returns the casing reference area from mass flow (kg/s),
// inlet temperature (K) and inlet pressure (Pa).
func ReferenceArea(massFlow, tempK, pressurePa float32) float32 {
	return massFlow * math32.Sqrt(tempK) / (pressurePa * pressureLossFactor) * areaScale
}

// AnnulusHeight returns the radial height of an annulus of the given area
// around a mean diameter.
func AnnulusHeight(area, meanDia float32) float32 {
	return area / (math32.Pi * meanDia)
}

// FlameTubeArea returns the liner area for a reference area.
func FlameTubeArea(refArea float32) float32 { return flameTubeFraction * refArea }

// ZoneLengths splits the combustor from the casing and liner heights.
func ZoneLengths(refHeight, linerHeight float32) Zones {
	return Zones{
		Primary:   0.75 * refHeight,
		Secondary: 0.5 * linerHeight,
		Dilution:  1.5 * linerHeight,
	}
}

// DeLavalRadius returns the nozzle radius at height z. Below zThroat the
// divergent bell runs from exitR at z=0 to throatR; between zThroat and
// zChamber a cosine blend converges from chamberR; above zChamber the
// radius is chamberR.
func DeLavalRadius(z, zThroat, zChamber, chamberR, throatR, exitR float32) float32 {
	switch {
	case z < zThroat:
		inv := 1 - z/zThroat
		return throatR + (exitR-throatR)*math32.Pow(inv, 1.5)
	case z < zChamber:
		t := (z - zThroat) / (zChamber - zThroat)
		blend := (1 - math32.Cos(t*math32.Pi)) * 0.5
		return throatR + (chamberR-throatR)*blend
	default:
		return chamberR
	}
}

// Smoothstep is the cubic Hermite ease 3t²-2t³ on t clamped to [0, 1].
func Smoothstep(t float32) float32 {
	t = math32.Max(0, math32.Min(1, t))
	return t * t * (3 - 2*t)
}

// Lerp interpolates between a and b.
func Lerp(a, b, t float32) float32 { return a + (b-a)*t }
