package scoring

// IngredientScore is the model score of one matched ingredient, in [0,1].
type IngredientScore struct {
	Name  string  `json:"name"`
	Score float64 `json:"score"`
}

// HazardFlags lists the input names whose matched record carries a hazard.
type HazardFlags struct {
	Carcinogenic []string `json:"carcinogenic"`
	Preservative []string `json:"preservative"`
}

// Result is the outcome of one scoring request. Slices are never nil so the
// JSON form always carries arrays.
type Result struct {
	OverallHealthScore      float64           `json:"overallHealthScore"`
	IngredientScores        []IngredientScore `json:"ingredientScores"`
	HarmfulFlags            HazardFlags       `json:"harmfulFlags"`
	UnrecognizedIngredients []string          `json:"unrecognizedIngredients"`
	RecognizedIngredients   []string          `json:"recognizedIngredients"`
}

func newResult() Result {
	return Result{
		IngredientScores: []IngredientScore{},
		HarmfulFlags: HazardFlags{
			Carcinogenic: []string{},
			Preservative: []string{},
		},
		UnrecognizedIngredients: []string{},
		RecognizedIngredients:   []string{},
	}
}

// Rank is the letter grade shown to the user.
type Rank string

const (
	RankA Rank = "A"
	RankB Rank = "B"
	RankC Rank = "C"
	RankD Rank = "D"
	RankE Rank = "E"
)

// RankFor grades a health score. Lower bounds are inclusive.
func RankFor(score float64) Rank {
	switch {
	case score >= 0.8:
		return RankA
	case score >= 0.6:
		return RankB
	case score >= 0.4:
		return RankC
	case score >= 0.2:
		return RankD
	}
	return RankE
}

// Valid reports whether r is one of the five grades.
func (r Rank) Valid() bool {
	switch r {
	case RankA, RankB, RankC, RankD, RankE:
		return true
	}
	return false
}
