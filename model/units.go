package model

import "math"

// DBToLinear converts a dB ratio into a linear ratio.
func DBToLinear(db float64) float64 {
	return math.Pow(10, db/10)
}

// LinearToDB converts a linear ratio to dB. Non-positive ratios map to -Inf
// so callers never see NaN for an absent signal.
func LinearToDB(v float64) float64 {
	if v <= 0 {
		return math.Inf(-1)
	}
	return 10 * math.Log10(v)
}

// DBmToWatts converts an absolute power in dBm to watts.
func DBmToWatts(dbm float64) float64 {
	return DBToLinear(dbm) * 1e-3
}

// WattsToDBm converts an absolute power in watts to dBm.
func WattsToDBm(w float64) float64 {
	return LinearToDB(w * 1e3)
}
