package api

import "fmt"

// ForecastRequest is the engine's input: a structured historical dataset,
// a cutoff point, a horizon, and a model selection.
type ForecastRequest struct {
	Dataset       DatasetPayload `json:"dataset"`
	Horizon       int            `json:"horizon"`
	CutoffMonth   string         `json:"cutoffMonth"`
	ModelSelector string         `json:"modelSelector"`
	Options       *Options       `json:"options,omitempty"`
}

// DatasetPayload carries the raw historical data
type DatasetPayload struct {
	Months    []string          `json:"months"`
	Dates     []string          `json:"dates,omitempty"`
	Customers []CustomerPayload `json:"customers"`
}

// CustomerPayload is one customer with its owned entities
type CustomerPayload struct {
	ID       string          `json:"id"`
	Entities []EntityPayload `json:"entities"`
}

// EntityPayload is one product/customer line item. Series maps month label
// to sales value; months absent from the map are treated as zero.
type EntityPayload struct {
	ID      string             `json:"id"`
	OwnerID string             `json:"ownerId,omitempty"`
	Series  map[string]float64 `json:"series"`
	Tags    *EntityTags        `json:"tags,omitempty"`
}

// EntityTags carries informational labels, never used by the models
type EntityTags struct {
	Category string `json:"category,omitempty"`
	Brand    string `json:"brand,omitempty"`
}

// Options tunes the engine. Pointer fields distinguish "omitted" from an
// explicit zero/false.
type Options struct {
	SeasonalPeriod           int   `json:"seasonalPeriod,omitempty"`
	ClusterCount             *int  `json:"clusterCount,omitempty"`
	EnableSurvivalAdjustment *bool `json:"enableSurvivalAdjustment,omitempty"`
	HoldoutFolds             int   `json:"holdoutFolds,omitempty"`
}

// ResolvedOptions is Options with defaults applied
type ResolvedOptions struct {
	SeasonalPeriod int
	ClusterCount   int
	EnableSurvival bool
	HoldoutFolds   int
}

// Resolve applies defaults for omitted options. Safe on a nil receiver.
func (o *Options) Resolve() ResolvedOptions {
	r := ResolvedOptions{
		SeasonalPeriod: 12,
		ClusterCount:   5,
		EnableSurvival: true,
		HoldoutFolds:   3,
	}
	if o == nil {
		return r
	}
	if o.SeasonalPeriod > 0 {
		r.SeasonalPeriod = o.SeasonalPeriod
	}
	if o.ClusterCount != nil {
		r.ClusterCount = *o.ClusterCount
	}
	if o.EnableSurvivalAdjustment != nil {
		r.EnableSurvival = *o.EnableSurvivalAdjustment
	}
	if o.HoldoutFolds > 0 {
		r.HoldoutFolds = o.HoldoutFolds
	}
	return r
}

// ValidationError reports a malformed request field. Mapped to 400.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid request: %s: %s", e.Field, e.Reason)
}

// Validate performs structural validation of the request before any
// computation starts. Cutoff existence and series alignment are checked by
// the dataset layer.
func (r *ForecastRequest) Validate() error {
	if len(r.Dataset.Months) == 0 {
		return &ValidationError{Field: "dataset.months", Reason: "must not be empty"}
	}
	if len(r.Dataset.Dates) > 0 && len(r.Dataset.Dates) != len(r.Dataset.Months) {
		return &ValidationError{
			Field:  "dataset.dates",
			Reason: fmt.Sprintf("length %d does not match months length %d", len(r.Dataset.Dates), len(r.Dataset.Months)),
		}
	}
	if len(r.Dataset.Customers) == 0 {
		return &ValidationError{Field: "dataset.customers", Reason: "must not be empty"}
	}
	seenEntity := make(map[string]bool)
	for i, c := range r.Dataset.Customers {
		if c.ID == "" {
			return &ValidationError{Field: fmt.Sprintf("dataset.customers[%d].id", i), Reason: "must not be empty"}
		}
		for j, e := range c.Entities {
			if e.ID == "" {
				return &ValidationError{
					Field:  fmt.Sprintf("dataset.customers[%d].entities[%d].id", i, j),
					Reason: "must not be empty",
				}
			}
			if seenEntity[e.ID] {
				return &ValidationError{
					Field:  "dataset.customers",
					Reason: fmt.Sprintf("duplicate entity id %q", e.ID),
				}
			}
			seenEntity[e.ID] = true
			if e.OwnerID != "" && e.OwnerID != c.ID {
				return &ValidationError{
					Field:  fmt.Sprintf("dataset.customers[%d].entities[%d].ownerId", i, j),
					Reason: fmt.Sprintf("%q does not match owning customer %q", e.OwnerID, c.ID),
				}
			}
		}
	}
	if r.Horizon < 1 || r.Horizon > 24 {
		return &ValidationError{Field: "horizon", Reason: "must be between 1 and 24"}
	}
	if r.CutoffMonth == "" {
		return &ValidationError{Field: "cutoffMonth", Reason: "must not be empty"}
	}
	if _, err := ParseModelName(r.ModelSelector); err != nil {
		return err
	}
	if o := r.Options; o != nil {
		if o.SeasonalPeriod < 0 {
			return &ValidationError{Field: "options.seasonalPeriod", Reason: "must not be negative"}
		}
		if o.ClusterCount != nil && *o.ClusterCount < 0 {
			return &ValidationError{Field: "options.clusterCount", Reason: "must not be negative"}
		}
		if o.HoldoutFolds < 0 {
			return &ValidationError{Field: "options.holdoutFolds", Reason: "must not be negative"}
		}
	}
	return nil
}
