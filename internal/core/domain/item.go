package domain

import "time"

// SourceRef is the locator a stage attaches to every extracted item.
type SourceRef struct {
	Path        string  `json:"path"`
	SheetOrPage string  `json:"sheet_or_page,omitempty"`
	Offset      int64   `json:"offset"`
	OffsetKind  string  `json:"offset_kind,omitempty"`
	Confidence  float64 `json:"confidence"`
}

// Item is a leaf fact produced by a stage. Source is consumed by the provenance tracker at merge
// time and is never persisted; the persisted link is provenance_index[ID].
type Item struct {
	ID     string           `json:"id"`
	Kind   string           `json:"kind"`
	Fields map[string]Value `json:"fields"`
	Source *SourceRef       `json:"-"`
}

type NullPolicy string

const (
	NullPropagate NullPolicy = "propagate"
	NullAsZero    NullPolicy = "zero"
)

// Aggregate is computed over items. It has no provenance of its own and references its constituents.
type Aggregate struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	Value        *float64   `json:"value"`
	Unit         string     `json:"unit,omitempty"`
	Policy       NullPolicy `json:"policy"`
	Constituents []string   `json:"constituents"`
	Reason       string     `json:"reason,omitempty"`
}

// StageResult is the latest validated output of one stage, stored under the stage output key.
type StageResult struct {
	Stage      string      `json:"stage"`
	Contract   string      `json:"contract,omitempty"`
	Items      []Item      `json:"items"`
	Aggregates []Aggregate `json:"aggregates,omitempty"`
	ProducedAt time.Time   `json:"produced_at"`
}

// ItemByID returns the item with the given id.
func (r *StageResult) ItemByID(id string) (Item, bool) {
	if r == nil {
		return Item{}, false
	}
	for _, item := range r.Items {
		if item.ID == id {
			return item, true
		}
	}
	return Item{}, false
}

// ItemsOfKind returns items of the given kind in stored order.
func (r *StageResult) ItemsOfKind(kind string) []Item {
	if r == nil {
		return nil
	}
	out := make([]Item, 0, len(r.Items))
	for _, item := range r.Items {
		if item.Kind == kind {
			out = append(out, item)
		}
	}
	return out
}

func (i Item) clone() Item {
	out := Item{ID: i.ID, Kind: i.Kind}
	if i.Fields != nil {
		out.Fields = make(map[string]Value, len(i.Fields))
		for k, v := range i.Fields {
			out.Fields[k] = v.clone()
		}
	}
	if i.Source != nil {
		src := *i.Source
		out.Source = &src
	}
	return out
}

func (a Aggregate) clone() Aggregate {
	out := a
	if a.Value != nil {
		v := *a.Value
		out.Value = &v
	}
	out.Constituents = append([]string(nil), a.Constituents...)
	return out
}

// Clone returns a deep copy of r. A nil result stays nil.
func (r *StageResult) Clone() *StageResult {
	if r == nil {
		return nil
	}
	out := &StageResult{
		Stage:      r.Stage,
		Contract:   r.Contract,
		ProducedAt: r.ProducedAt,
		Items:      make([]Item, 0, len(r.Items)),
	}
	for _, item := range r.Items {
		out.Items = append(out.Items, item.clone())
	}
	if r.Aggregates != nil {
		out.Aggregates = make([]Aggregate, 0, len(r.Aggregates))
		for _, agg := range r.Aggregates {
			out.Aggregates = append(out.Aggregates, agg.clone())
		}
	}
	return out
}
