// Package isotopes implements the deterministic isotope-ratio algebra for
// CO2 clumped-isotope work: stochastic isobar ratios for masses 45-49 and
// the inversion of measured R45/R46 back to bulk composition.
//
// All functions are pure. Compositions are expressed in conventional permil
// delta notation (δ13C relative to VPDB, δ18O relative to VSMOW) and
// absolute isotope ratios are anchored to the reference ratios held in a
// Params value.
package isotopes
