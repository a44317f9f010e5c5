package importer

import (
	"math"
	"strings"

	"github.com/korjavin/productinsight/internal/nutrient"
)

// Plausible per-100g ranges. Gram quantities cannot exceed the portion and
// nothing is denser in energy than pure fat.
const (
	maxGrams = 100
	maxKcal  = 1000
)

// featureBounds returns the accepted [min, max] for a feature column.
func featureBounds(name string) (float64, float64) {
	switch {
	case name == "energ_kcal":
		return 0, maxKcal
	case strings.HasSuffix(name, "_g"):
		return 0, maxGrams
	}
	return 0, math.MaxFloat64
}

// checkRecord returns a skip reason for implausible records, or "".
func checkRecord(r nutrient.Record) string {
	for i, v := range r.Features {
		lo, hi := featureBounds(nutrient.FeatureNames[i])
		if v < lo || v > hi {
			return "out_of_range_" + nutrient.FeatureNames[i]
		}
	}
	if r.HasBaseline && (r.BaselineScore < 0 || r.BaselineScore > 1) {
		return "out_of_range_health_score"
	}
	return ""
}
