package isotopes

import "math"

// Params holds the absolute reference isotope ratios and the triple-oxygen
// mass-dependent exponent used by all ratio computations.
type Params struct {
	R13VPDB  float64 `yaml:"r13_vpdb" envconfig:"R13_VPDB"`
	R17VSMOW float64 `yaml:"r17_vsmow" envconfig:"R17_VSMOW"`
	R18VSMOW float64 `yaml:"r18_vsmow" envconfig:"R18_VSMOW"`
	R18VPDB  float64 `yaml:"r18_vpdb" envconfig:"R18_VPDB"`
	Lambda17 float64 `yaml:"lambda_17" envconfig:"LAMBDA_17"`
}

// DefaultParams returns the reference ratios in common use:
// R13 of VPDB after Chang & Li (1990), R18 of VSMOW after Baertschi (1976),
// R17 of VSMOW after Assonov & Brenninkmeijer (2003) rescaled to R13VPDB,
// and λ17 after Barkan & Luz (2005).
func DefaultParams() Params {
	return Params{
		R13VPDB:  0.01118,
		R17VSMOW: 0.00038475,
		R18VSMOW: 0.0020052,
		R18VPDB:  0.0020052 * 1.03092,
		Lambda17: 0.528,
	}
}

// R17VPDB derives the 17O/16O ratio of VPDB from the VSMOW ratios through
// the mass-dependent relation.
func (p Params) R17VPDB() float64 {
	return p.R17VSMOW * math.Pow(p.R18VPDB/p.R18VSMOW, p.Lambda17)
}

// IsobarRatios holds the abundance ratios of cardinal masses 45-49 relative
// to the unsubstituted mass-44 isotopologue.
type IsobarRatios struct {
	R45 float64
	R46 float64
	R47 float64
	R48 float64
	R49 float64
}

// Anomalies carries the clumped-isotope and oxygen-17 anomalies, in permil,
// to superimpose on a stochastic distribution.
type Anomalies struct {
	D17O float64
	D47  float64
	D48  float64
	D49  float64
}

// ComputeIsobarRatios computes the mass-45 to mass-49 isobar ratios of CO2
// with bulk isotopic ratios R13 and R18, assuming independent (stochastic)
// isotope placement across the twelve distinguishable isotopologues, then
// multiplies R47, R48 and R49 by (1 + Δ4x/1000) to superimpose clumped
// anomalies. R17 follows from R18 through the mass-dependent relation,
// shifted by Δ17O.
func (p Params) ComputeIsobarRatios(r13, r18 float64, an Anomalies) IsobarRatios {
	r17 := p.R17VSMOW * math.Exp(an.D17O/1000) * math.Pow(r18/p.R18VSMOW, p.Lambda17)

	// Fractional isotope abundances.
	c12 := 1 / (1 + r13)
	c13 := c12 * r13
	c16 := 1 / (1 + r17 + r18)
	c17 := c16 * r17
	c18 := c16 * r18

	// Stochastic isotopologue abundances for a linear triatomic.
	c626 := c16 * c12 * c16
	c627 := c16 * c12 * c17 * 2
	c628 := c16 * c12 * c18 * 2
	c636 := c16 * c13 * c16
	c637 := c16 * c13 * c17 * 2
	c638 := c16 * c13 * c18 * 2
	c727 := c17 * c12 * c17
	c728 := c17 * c12 * c18 * 2
	c737 := c17 * c13 * c17
	c738 := c17 * c13 * c18 * 2
	c828 := c18 * c12 * c18
	c838 := c18 * c13 * c18

	return IsobarRatios{
		R45: (c636 + c627) / c626,
		R46: (c628 + c637 + c727) / c626,
		R47: (c638 + c728 + c737) / c626 * (1 + an.D47/1000),
		R48: (c738 + c828) / c626 * (1 + an.D48/1000),
		R49: c838 / c626 * (1 + an.D49/1000),
	}
}
