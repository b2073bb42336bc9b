package dataset

import (
	"fmt"
	"time"

	"github.com/demandcast/demandcast/internal/api"
)

const (
	monthLayout = "2006-01"
	dateLayout  = "2006-01-02"
)

// Dataset is the in-memory historical dataset: ordered unique month labels,
// parallel calendar dates, and the customers owning entity series.
type Dataset struct {
	Months    []string
	Dates     []time.Time
	Customers []*Customer
}

// Customer exclusively owns a collection of entities
type Customer struct {
	ID       string
	Entities []*Entity
}

// Entity is one product/customer line item. Series length always equals
// len(Dataset.Months); missing months are recorded as 0, never omitted.
type Entity struct {
	ID         string
	CustomerID string
	Category   string
	Brand      string
	Series     []float64
}

// Window is the truncated [0, cutoff] view shared by all entities
type Window struct {
	Months      []string
	Dates       []time.Time
	CutoffIndex int
}

// Len returns the number of periods in the window
func (w *Window) Len() int { return w.CutoffIndex + 1 }

// CutoffDate returns the calendar date of the cutoff month
func (w *Window) CutoffDate() time.Time { return w.Dates[w.CutoffIndex] }

// Truncated views the entity's series over the window
func (e *Entity) Truncated(w *Window) []float64 { return e.Series[:w.CutoffIndex+1] }

// Entities flattens all customers' entities in dataset order
func (ds *Dataset) Entities() []*Entity {
	var out []*Entity
	for _, c := range ds.Customers {
		out = append(out, c.Entities...)
	}
	return out
}

// DataShapeError reports a violated structural invariant. Mapped to 400.
type DataShapeError struct {
	Detail string
}

func (e *DataShapeError) Error() string { return "data shape error: " + e.Detail }

func shapeErrf(format string, args ...any) error {
	return &DataShapeError{Detail: fmt.Sprintf(format, args...)}
}

// FromRequest builds the domain dataset from the wire payload. Sparse series
// maps are expanded to dense slices aligned with the month sequence. Dates
// are taken from the payload when present, otherwise derived from YYYY-MM
// month labels.
func FromRequest(req *api.ForecastRequest) (*Dataset, error) {
	months := req.Dataset.Months
	index := make(map[string]int, len(months))
	for i, m := range months {
		if _, dup := index[m]; dup {
			return nil, shapeErrf("duplicate month label %q", m)
		}
		index[m] = i
	}

	dates := make([]time.Time, len(months))
	if len(req.Dataset.Dates) > 0 {
		for i, d := range req.Dataset.Dates {
			t, err := time.Parse(dateLayout, d)
			if err != nil {
				return nil, shapeErrf("dates[%d]: cannot parse %q as %s", i, d, dateLayout)
			}
			dates[i] = t
		}
	} else {
		for i, m := range months {
			t, err := time.Parse(monthLayout, m)
			if err != nil {
				return nil, shapeErrf("month %q is not in YYYY-MM form and no dates were provided", m)
			}
			dates[i] = t
		}
	}
	for i := 1; i < len(dates); i++ {
		if !dates[i].After(dates[i-1]) {
			return nil, shapeErrf("months out of chronological order at index %d (%s)", i, months[i])
		}
	}

	ds := &Dataset{Months: months, Dates: dates}
	for _, cp := range req.Dataset.Customers {
		c := &Customer{ID: cp.ID}
		for _, ep := range cp.Entities {
			series := make([]float64, len(months))
			for m, v := range ep.Series {
				idx, ok := index[m]
				if !ok {
					return nil, shapeErrf("entity %q series references unknown month %q", ep.ID, m)
				}
				series[idx] = v
			}
			e := &Entity{ID: ep.ID, CustomerID: cp.ID, Series: series}
			if ep.Tags != nil {
				e.Category = ep.Tags.Category
				e.Brand = ep.Tags.Brand
			}
			c.Entities = append(c.Entities, e)
		}
		ds.Customers = append(ds.Customers, c)
	}
	return ds, nil
}

// Extract locates the cutoff month and returns the truncated window shared
// by all entities. Every entity's series must align with the month sequence.
func Extract(ds *Dataset, cutoffMonth string) (*Window, error) {
	idx := -1
	for i, m := range ds.Months {
		if m == cutoffMonth {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, shapeErrf("cutoff month %q not present in dataset", cutoffMonth)
	}
	for _, c := range ds.Customers {
		for _, e := range c.Entities {
			if len(e.Series) != len(ds.Months) {
				return nil, shapeErrf("entity %q series length %d does not match %d months",
					e.ID, len(e.Series), len(ds.Months))
			}
		}
	}
	return &Window{
		Months:      ds.Months[:idx+1],
		Dates:       ds.Dates[:idx+1],
		CutoffIndex: idx,
	}, nil
}
