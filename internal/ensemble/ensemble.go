package ensemble

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/demandcast/demandcast/internal/api"
)

// Component is one member model of an ensemble with its blend weight.
type Component struct {
	Name   api.ModelName
	Weight float64
}

// Spec describes which models an ensemble blends and how.
type Spec struct {
	Components []Component
}

// DefaultSpec blends the decomposition, smoothing and boosted models,
// weighted toward the decomposition.
func DefaultSpec() Spec {
	return Spec{Components: []Component{
		{Name: api.ModelAdditive, Weight: 0.4},
		{Name: api.ModelExpSmoothing, Weight: 0.3},
		{Name: api.ModelGBT, Weight: 0.3},
	}}
}

// ExhaustionError reports that every ensemble component failed.
type ExhaustionError struct {
	Failures map[api.ModelName]string
}

func (e *ExhaustionError) Error() string {
	names := make([]string, 0, len(e.Failures))
	for name := range e.Failures {
		names = append(names, string(name))
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, n := range names {
		parts = append(parts, fmt.Sprintf("%s: %s", n, e.Failures[api.ModelName(n)]))
	}
	return "all ensemble components failed: " + strings.Join(parts, "; ")
}

// RunFunc produces per-entity results for a single component model.
type RunFunc func(ctx context.Context, name api.ModelName) ([]api.EntityResult, error)

// Combine runs every component concurrently and blends the survivors
// by weight. A failed component is dropped with a warning and its
// weight redistributed; only when every component fails does Combine
// return an ExhaustionError. Entity order follows the first surviving
// component.
func Combine(ctx context.Context, spec Spec, run RunFunc) ([]api.EntityResult, map[api.ModelName]float64, []string, error) {
	if len(spec.Components) == 0 {
		spec = DefaultSpec()
	}
	n := len(spec.Components)
	results := make([][]api.EntityResult, n)
	errs := make([]error, n)

	var g errgroup.Group
	for i, comp := range spec.Components {
		g.Go(func() error {
			results[i], errs[i] = run(ctx, comp.Name)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, nil, nil, err
	}

	type member struct {
		comp    Component
		results []api.EntityResult
		byID    map[string]int
	}
	var warnings []string
	var live []member
	failures := make(map[api.ModelName]string)
	for i, comp := range spec.Components {
		if errs[i] != nil {
			failures[comp.Name] = errs[i].Error()
			warnings = append(warnings, fmt.Sprintf("component %s dropped: %v", comp.Name, errs[i]))
			continue
		}
		byID := make(map[string]int, len(results[i]))
		for j := range results[i] {
			byID[results[i][j].EntityID] = j
		}
		live = append(live, member{comp: comp, results: results[i], byID: byID})
	}
	if len(live) == 0 {
		return nil, nil, warnings, &ExhaustionError{Failures: failures}
	}

	totalWeight := 0.0
	for _, m := range live {
		totalWeight += m.comp.Weight
	}
	weights := make(map[api.ModelName]float64, len(live))
	for _, m := range live {
		if totalWeight > 0 {
			weights[m.comp.Name] = m.comp.Weight / totalWeight
		} else {
			weights[m.comp.Name] = 1 / float64(len(live))
		}
	}

	base := live[0].results
	combined := make([]api.EntityResult, 0, len(base))
	for _, br := range base {
		horizon := len(br.Forecast)
		blend := make([]float64, horizon)
		present := 0.0
		var mapes []float64
		for _, m := range live {
			j, ok := m.byID[br.EntityID]
			if !ok {
				continue
			}
			er := m.results[j]
			w := weights[m.comp.Name]
			for h := 0; h < horizon && h < len(er.Forecast); h++ {
				blend[h] += w * er.Forecast[h]
			}
			present += w
			if er.MAPE != nil {
				mapes = append(mapes, *er.MAPE)
			}
		}
		// renormalize when an entity is missing from some survivor
		if present > 0 && present < 1 {
			for h := range blend {
				blend[h] /= present
			}
		}

		out := api.EntityResult{
			EntityID:   br.EntityID,
			CustomerID: br.CustomerID,
			LastActual: br.LastActual,
			Forecast:   blend,
			Status:     br.Status,
		}
		if horizon > 0 {
			out.FirstForecast = blend[0]
		}
		if len(mapes) > 0 {
			m := mean(mapes)
			out.MAPE = &m
		}
		combined = append(combined, out)
	}
	return combined, weights, warnings, nil
}

func mean(xs []float64) float64 {
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}
