package nutrient

// FeatureCount is the number of nutrient quantities carried by every record.
const FeatureCount = 21

// VectorLen is the model input width: the nutrients followed by the
// carcinogenic and harmful-preservative flags encoded as 0/1.
const VectorLen = FeatureCount + 2

// FeatureNames lists the dataset columns in feature order. The scaler
// constant tables are positionally aligned with this order.
var FeatureNames = [FeatureCount]string{
	"water_g",
	"energ_kcal",
	"protein_g",
	"lipid_tot_g",
	"carbohydrt_g",
	"fiber_td_g",
	"sugar_tot_g",
	"calcium_mg",
	"iron_mg",
	"magnesium_mg",
	"potassium_mg",
	"sodium_mg",
	"zinc_mg",
	"copper_mg",
	"vit_c_mg",
	"vit_b6_mg",
	"vit_b12_ug",
	"vit_a_iu",
	"vit_e_mg",
	"vit_d_ug",
	"cholestrl_mg",
}

// Record is one row of the nutrient reference table. Records are read-only
// once the table is loaded.
type Record struct {
	Name                string
	Features            [FeatureCount]float64
	Carcinogenic        bool
	HarmfulPreservative bool
	BaselineScore       float64
	HasBaseline         bool
}

// Vector returns the raw model input for the record.
func (r Record) Vector() []float64 {
	v := make([]float64, VectorLen)
	copy(v, r.Features[:])
	v[FeatureCount] = boolToFloat(r.Carcinogenic)
	v[FeatureCount+1] = boolToFloat(r.HarmfulPreservative)
	return v
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
