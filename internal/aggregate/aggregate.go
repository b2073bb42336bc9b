package aggregate

import (
	"sort"
	"time"

	"github.com/demandcast/demandcast/internal/api"
	"github.com/demandcast/demandcast/internal/dataset"
	"github.com/demandcast/demandcast/internal/forecast"
)

const topEntityLimit = 20

const chartDateLayout = "02/01/2006"

// Output bundles every roll-up derived from per-entity results.
type Output struct {
	Summary         api.Summary
	HistoricalChart []api.HistoryPoint
	ForecastChart   []api.ForecastPoint
	TopEntities     []api.EntityResult
	TopCustomers    []api.CustomerAggregate
	FullDetail      api.FullDetail
}

// Build reduces per-entity results into customer aggregates, the
// portfolio summary and both chart series. It reads historical totals
// from the dataset window, never from model output.
func Build(ds *dataset.Dataset, w *dataset.Window, horizon int, results []api.EntityResult) Output {
	var out Output

	out.HistoricalChart = historicalChart(ds, w)
	out.ForecastChart = forecastChart(w, horizon, results)

	byCustomer := make(map[string][]api.EntityResult, len(ds.Customers))
	for _, r := range results {
		byCustomer[r.CustomerID] = append(byCustomer[r.CustomerID], r)
	}

	aggregates := make([]api.CustomerAggregate, 0, len(ds.Customers))
	activeCustomers := 0
	activeEntities := 0
	for _, c := range ds.Customers {
		rs, ok := byCustomer[c.ID]
		if !ok {
			continue
		}
		agg := api.CustomerAggregate{CustomerID: c.ID}
		for _, r := range rs {
			agg.TotalHistoric += r.LastActual
			agg.TotalForecast += r.FirstForecast
			if r.Status == string(forecast.StatusActive) {
				agg.ActiveEntities++
			}
		}
		if agg.TotalHistoric > 0 {
			agg.VariationPct = (agg.TotalForecast - agg.TotalHistoric) / agg.TotalHistoric * 100
		}
		if agg.ActiveEntities > 0 {
			activeCustomers++
		}
		activeEntities += agg.ActiveEntities
		aggregates = append(aggregates, agg)
	}

	for _, agg := range aggregates {
		out.Summary.TotalHistoric += agg.TotalHistoric
		out.Summary.TotalForecast += agg.TotalForecast
	}
	if out.Summary.TotalHistoric > 0 {
		out.Summary.GrowthPct = (out.Summary.TotalForecast - out.Summary.TotalHistoric) /
			out.Summary.TotalHistoric * 100
	}
	out.Summary.ActiveCustomers = activeCustomers
	out.Summary.TotalCustomers = len(ds.Customers)
	out.Summary.ActiveEntities = activeEntities

	out.TopEntities = topEntities(results)
	out.TopCustomers = topCustomers(aggregates)

	forecastMonths := make([]string, 0, horizon)
	for _, p := range out.ForecastChart {
		forecastMonths = append(forecastMonths, p.Month)
	}
	out.FullDetail = api.FullDetail{
		Months:                append([]string(nil), w.Months...),
		ForecastMonths:        forecastMonths,
		AllEntityResults:      results,
		AllCustomerAggregates: aggregates,
	}
	return out
}

// historicalChart totals raw sales across every entity per window period.
func historicalChart(ds *dataset.Dataset, w *dataset.Window) []api.HistoryPoint {
	totals := make([]float64, w.Len())
	for _, e := range ds.Entities() {
		for i, v := range e.Truncated(w) {
			totals[i] += v
		}
	}
	chart := make([]api.HistoryPoint, w.Len())
	for i := range chart {
		chart[i] = api.HistoryPoint{
			Date:       w.Dates[i].Format(chartDateLayout),
			Month:      w.Months[i],
			TotalSales: totals[i],
		}
	}
	return chart
}

// forecastChart totals forecasts across entities per horizon period and
// rolls month labels forward from the cutoff.
func forecastChart(w *dataset.Window, horizon int, results []api.EntityResult) []api.ForecastPoint {
	totals := make([]float64, horizon)
	for _, r := range results {
		for j := 0; j < horizon && j < len(r.Forecast); j++ {
			totals[j] += r.Forecast[j]
		}
	}
	cut := w.CutoffDate()
	base := time.Date(cut.Year(), cut.Month(), 1, 0, 0, 0, 0, time.UTC)
	chart := make([]api.ForecastPoint, horizon)
	for j := range chart {
		d := base.AddDate(0, j+1, 0)
		chart[j] = api.ForecastPoint{
			Date:          d.Format(chartDateLayout),
			Month:         d.Format("2006-01"),
			TotalForecast: totals[j],
		}
	}
	return chart
}

func topEntities(results []api.EntityResult) []api.EntityResult {
	top := append([]api.EntityResult(nil), results...)
	sort.SliceStable(top, func(i, j int) bool {
		return top[i].FirstForecast > top[j].FirstForecast
	})
	if len(top) > topEntityLimit {
		top = top[:topEntityLimit]
	}
	return top
}

func topCustomers(aggregates []api.CustomerAggregate) []api.CustomerAggregate {
	top := append([]api.CustomerAggregate(nil), aggregates...)
	sort.SliceStable(top, func(i, j int) bool {
		return top[i].TotalForecast > top[j].TotalForecast
	})
	return top
}
