package isotopes

import (
	"fmt"
	"math"
)

// ComputeBulkDelta recovers the bulk composition (δ13C_VPDB, δ18O_VSMOW) of
// a CO2 analyte from its observed mass-45 and mass-46 isobar ratios and an
// assumed Δ17O, by solving the generalized form of equation (17) of
// Brand et al. (2010) expanded to second order around δ18O = 0. The
// expansion reduces the problem to a single quadratic in δ18O; the
// physically valid root is the one with the positive discriminant branch.
//
// The approximation holds for |δ18O| up to roughly 50 permil; compositions
// far outside that range return an error when the discriminant turns
// negative.
func (p Params) ComputeBulkDelta(r45, r46, d17o float64) (d13C, d18O float64, err error) {
	k := math.Exp(d17o/1000) * p.R17VSMOW * math.Pow(p.R18VSMOW, -p.Lambda17)

	a := -3 * k * k * math.Pow(p.R18VSMOW, 2*p.Lambda17)
	b := 2 * k * r45 * math.Pow(p.R18VSMOW, p.Lambda17)
	c := 2 * p.R18VSMOW
	d := -r46

	aa := a*p.Lambda17*(2*p.Lambda17-1) + b*p.Lambda17*(p.Lambda17-1)/2
	bb := 2*a*p.Lambda17 + b*p.Lambda17 + c
	cc := a + b + c + d

	disc := bb*bb - 4*aa*cc
	if disc < 0 {
		return 0, 0, fmt.Errorf("bulk composition outside the valid expansion range (R45=%g, R46=%g)", r45, r46)
	}
	d18O = 1000 * (-bb + math.Sqrt(disc)) / (2 * aa)

	r18 := (1 + d18O/1000) * p.R18VSMOW
	r17 := k * math.Pow(r18, p.Lambda17)
	r13 := r45 - 2*r17

	d13C = 1000 * (r13/p.R13VPDB - 1)
	return d13C, d18O, nil
}
