package survival

import (
	"math"

	"github.com/demandcast/demandcast/internal/api"
	"github.com/demandcast/demandcast/internal/dataset"
)

const (
	// DefaultDecay controls how fast confidence in a silent entity fades
	DefaultDecay = 0.2
	// floorProb keeps long-silent entities from being zeroed outright
	floorProb = 0.05
	// neverSoldProb applies to entities with no recorded sale at all
	neverSoldProb = 0.1
)

// Profile holds per-entity survival probabilities for each forecast step.
type Profile map[string][]float64

// BuildProfile derives a survival curve per entity from how long the
// entity has been inactive at the cutoff. Probability decays
// exponentially with the total months of silence and never drops
// below the floor. Entities that never sold get a flat low probability.
func BuildProfile(ds *dataset.Dataset, w *dataset.Window, horizon int, decay float64) Profile {
	if decay <= 0 {
		decay = DefaultDecay
	}
	p := make(Profile)
	for _, e := range ds.Entities() {
		series := e.Truncated(w)
		lastSale := -1
		for i, v := range series {
			if v > 0 {
				lastSale = i
			}
		}

		probs := make([]float64, horizon)
		if lastSale < 0 {
			for i := range probs {
				probs[i] = neverSoldProb
			}
			p[e.ID] = probs
			continue
		}

		inactive := len(series) - 1 - lastSale
		for i := range probs {
			prob := math.Exp(-decay * float64(inactive+i+1))
			if prob < floorProb {
				prob = floorProb
			}
			if prob > 1 {
				prob = 1
			}
			probs[i] = prob
		}
		p[e.ID] = probs
	}
	return p
}

// Apply scales entity forecasts by their survival probabilities in
// place. Entities without a profile keep their raw forecast.
func Apply(results []api.EntityResult, p Profile) {
	for i := range results {
		probs, ok := p[results[i].EntityID]
		if !ok {
			continue
		}
		for j := range results[i].Forecast {
			if j < len(probs) {
				results[i].Forecast[j] *= probs[j]
			}
		}
		if len(results[i].Forecast) > 0 {
			results[i].FirstForecast = results[i].Forecast[0]
		}
	}
}
