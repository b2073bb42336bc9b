package api

import "fmt"

// ModelName identifies a forecasting strategy selectable in a request
type ModelName string

const (
	ModelNaiveSeasonal ModelName = "naive_seasonal"
	ModelExpSmoothing  ModelName = "exp_smoothing"
	ModelSeasonalAR    ModelName = "seasonal_ar"
	ModelAdditive      ModelName = "additive_decomp"
	ModelGBT           ModelName = "gbt"
	ModelEnsemble      ModelName = "ensemble"
)

// ModelNames lists every selectable model in stable order
func ModelNames() []ModelName {
	return []ModelName{
		ModelNaiveSeasonal,
		ModelExpSmoothing,
		ModelSeasonalAR,
		ModelAdditive,
		ModelGBT,
		ModelEnsemble,
	}
}

// ParseModelName validates a model selector at request time. Unknown names
// are rejected before any computation starts.
func ParseModelName(s string) (ModelName, error) {
	switch ModelName(s) {
	case ModelNaiveSeasonal, ModelExpSmoothing, ModelSeasonalAR, ModelAdditive, ModelGBT, ModelEnsemble:
		return ModelName(s), nil
	}
	return "", &ValidationError{
		Field:  "modelSelector",
		Reason: fmt.Sprintf("unknown model %q", s),
	}
}
