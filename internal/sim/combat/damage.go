package combat

import "math"

// RawDamage computes the pre-mitigation damage for one hit using the RSB
// coefficients: ratio scales the attack stat, slider scales with levels
// beyond the first, base is flat. Integer-floor semantics are part of the
// balance contract and must not be "fixed".
func RawDamage(ratio, attackStat, slider float64, level int, base float64) float64 {
	if level < 1 {
		level = 1
	}
	return math.Floor(ratio*attackStat + slider*float64(level-1) + base)
}

// Mitigate applies defense scaling: raw * K / (K + defense). Defense is
// clamped to zero so a corrupted negative value can never invert the
// mitigation into amplification. K is validated positive at config load, so
// the denominator is structurally non-zero.
func Mitigate(raw, k, defense float64) float64 {
	if defense < 0 {
		defense = 0
	}
	return math.Floor(raw * k / (k + defense))
}

// Finalize applies the manual-aim bonus. The result is floored once more so
// clients always see integral health deltas.
func Finalize(mitigated, manualAimBonus float64, manualAim bool) float64 {
	if !manualAim {
		return mitigated
	}
	return math.Floor(mitigated * manualAimBonus)
}

// finite reports whether a computed damage value is usable. NaN or infinite
// damage is a validation failure, never applied.
func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
