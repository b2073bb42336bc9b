package api

// EntityResult is the per-entity forecast outcome. MAPE is nil when the
// accuracy metric is undefined; callers must treat nil distinctly from a
// genuine high-error score.
type EntityResult struct {
	EntityID      string    `json:"entityId"`
	CustomerID    string    `json:"customerId"`
	LastActual    float64   `json:"lastActual"`
	Forecast      []float64 `json:"forecast"`
	FirstForecast float64   `json:"firstForecast"`
	MAPE          *float64  `json:"mape"`
	Status        string    `json:"status"`
}

// CustomerAggregate rolls one customer's entity results up
type CustomerAggregate struct {
	CustomerID     string  `json:"customerId"`
	TotalHistoric  float64 `json:"totalHistoric"`
	TotalForecast  float64 `json:"totalForecast"`
	VariationPct   float64 `json:"variationPct"`
	ActiveEntities int     `json:"activeEntities"`
}

// Summary is the portfolio-level rollup
type Summary struct {
	TotalHistoric   float64 `json:"totalHistoric"`
	TotalForecast   float64 `json:"totalForecast"`
	GrowthPct       float64 `json:"growthPct"`
	ActiveCustomers int     `json:"activeCustomers"`
	TotalCustomers  int     `json:"totalCustomers"`
	ActiveEntities  int     `json:"activeEntities"`
}

// HistoryPoint is one historical chart period
type HistoryPoint struct {
	Date       string  `json:"date"`
	Month      string  `json:"month"`
	TotalSales float64 `json:"totalSales"`
}

// ForecastPoint is one forecast chart period
type ForecastPoint struct {
	Date          string  `json:"date"`
	Month         string  `json:"month"`
	TotalForecast float64 `json:"totalForecast"`
}

// FullDetail retains the complete unsorted result lists for full reporting
type FullDetail struct {
	Months                []string            `json:"months"`
	ForecastMonths        []string            `json:"forecastMonths"`
	AllEntityResults      []EntityResult      `json:"allEntityResults"`
	AllCustomerAggregates []CustomerAggregate `json:"allCustomerAggregates"`
}

// HoldoutScores reports portfolio-level holdout MAPE at horizons 1/3/6.
// A nil score means no entity produced a defined estimate at that horizon.
type HoldoutScores struct {
	H1 *float64 `json:"h1"`
	H3 *float64 `json:"h3"`
	H6 *float64 `json:"h6"`
}

// Diagnostics carries request-level observability fields
type Diagnostics struct {
	ElapsedSeconds  float64            `json:"elapsedSeconds"`
	HoldoutScores   HoldoutScores      `json:"holdoutScores"`
	ModelParams     map[string]float64 `json:"modelParams,omitempty"`
	ClustersUsed    *int               `json:"clustersUsed,omitempty"`
	SurvivalApplied bool               `json:"survivalApplied"`
}

// ForecastResponse is the engine's output
type ForecastResponse struct {
	ModelRequested  string              `json:"modelRequested"`
	ModelUsed       string              `json:"modelUsed"`
	Summary         Summary             `json:"summary"`
	HistoricalChart []HistoryPoint      `json:"historicalChart"`
	ForecastChart   []ForecastPoint     `json:"forecastChart"`
	TopEntities     []EntityResult      `json:"topEntities"`
	TopCustomers    []CustomerAggregate `json:"topCustomers"`
	FullDetail      FullDetail          `json:"fullDetail"`
	Diagnostics     Diagnostics         `json:"diagnostics"`
	Warnings        []string            `json:"warnings"`
}

// ModelInfo describes one registered strategy for the models listing
type ModelInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Kind        string `json:"kind"`
	MinHistory  int    `json:"minHistory"`
	Seasonal    bool   `json:"seasonal"`
}

// ModelsResponse is the models listing payload
type ModelsResponse struct {
	Models []ModelInfo `json:"models"`
}

// HealthResponse is the health probe payload
type HealthResponse struct {
	Status        string  `json:"status"`
	Service       string  `json:"service"`
	Version       string  `json:"version"`
	UptimeSeconds float64 `json:"uptimeSeconds"`
}

// ServiceInfo is the root endpoint payload
type ServiceInfo struct {
	Service   string   `json:"service"`
	Version   string   `json:"version"`
	Endpoints []string `json:"endpoints"`
}

// ErrorResponse is the JSON error body for non-200 statuses
type ErrorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"requestId,omitempty"`
}
