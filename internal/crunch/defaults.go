package crunch

// DefaultAcidAlpha is the 18O/16O acid fractionation factor for calcite
// reacted at 90 degrees C, after Kim et al. (2007).
const DefaultAcidAlpha = 1.008129

// DefaultLeveneRef is the reference sample against which each sample's Δ4x
// variance is tested.
const DefaultLeveneRef = "ETH-3"

// DefaultSessionName is assigned to analyses ingested without a session.
const DefaultSessionName = "mySession"

// DefaultNominalD47 returns the nominal Δ47 values of the I-CDES anchor
// samples, after Bernasconi et al. (2021).
func DefaultNominalD47() map[string]float64 {
	return map[string]float64{
		"ETH-1":   0.2052,
		"ETH-2":   0.2085,
		"ETH-3":   0.6132,
		"ETH-4":   0.4511,
		"IAEA-C1": 0.3018,
		"IAEA-C2": 0.6409,
		"MERCK":   0.5135,
	}
}

// DefaultNominalD48 returns the nominal Δ48 anchor values, after Fiebig et
// al. (2019, 2021).
func DefaultNominalD48() map[string]float64 {
	return map[string]float64{
		"ETH-1": 0.138,
		"ETH-2": 0.138,
		"ETH-3": 0.270,
		"ETH-4": 0.223,
		"GU-1":  -0.419,
	}
}

// DefaultNominalD13C returns the nominal δ13C_VPDB values of the carbonate
// standards, after Bernasconi et al. (2018).
func DefaultNominalD13C() map[string]float64 {
	return map[string]float64{
		"ETH-1": 2.02,
		"ETH-2": -10.17,
		"ETH-3": 1.71,
	}
}

// DefaultNominalD18O returns the nominal δ18O_VPDB values of the carbonate
// standards, after Bernasconi et al. (2018).
func DefaultNominalD18O() map[string]float64 {
	return map[string]float64{
		"ETH-1": -2.19,
		"ETH-2": -18.69,
		"ETH-3": -1.78,
	}
}

// DefaultNominal returns the nominal anomaly table for the given mass.
func DefaultNominal(m Mass) map[string]float64 {
	if m == Mass48 {
		return DefaultNominalD48()
	}
	return DefaultNominalD47()
}
