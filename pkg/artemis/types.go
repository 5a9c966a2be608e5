package artemis

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// ID accepts both string and numeric JSON:API identifiers.
type ID string

func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*id = ID(n.String())
	return nil
}

func (id ID) String() string {
	return string(id)
}

// Int64 parses the id as an integer, returning 0 when it is not numeric.
func (id ID) Int64() int64 {
	n, err := strconv.ParseInt(strings.TrimSpace(string(id)), 10, 64)
	if err != nil {
		return 0
	}
	return n
}

// Batch is a snapshot of a crop batch. It is never written back.
type Batch struct {
	ID          ID
	ArbitraryID string
	Crop        string
	CropVariety string
	ZoneID      ID
	SeedingUnit *SeedingUnit
	// Barcodes keeps the relationship order returned by the API.
	Barcodes    []string
	Completions []Completion
}

// Tag is the first barcode related to the batch, if any.
func (b *Batch) Tag() string {
	if b == nil || len(b.Barcodes) == 0 {
		return ""
	}
	return b.Barcodes[0]
}

// CompletionsOf filters the batch completions by action type.
func (b *Batch) CompletionsOf(actionType string) []Completion {
	if b == nil {
		return nil
	}
	out := make([]Completion, 0, len(b.Completions))
	for _, c := range b.Completions {
		if c.ActionType == actionType {
			out = append(out, c)
		}
	}
	return out
}

type SeedingUnit struct {
	ID                 ID
	Name               string
	ItemTrackingMethod string
}

// Completion is a lifecycle action recorded against a batch.
type Completion struct {
	ID         ID
	ActionType string
	Status     string
	StartTime  string
	Options    map[string]any
	Context    map[string]any
}

// SourceBatchID returns context.source_batch.id.
func (c Completion) SourceBatchID() string {
	return nestedString(c.Context, "source_batch", "id")
}

// ResourceUnitID returns options.resource_unit_id.
func (c Completion) ResourceUnitID() string {
	return scalarString(c.Options["resource_unit_id"])
}

// ConsumedQuantity returns options.consumed_quantity as a JSON number.
func (c Completion) ConsumedQuantity() json.Number {
	return json.Number(scalarString(c.Options["consumed_quantity"]))
}

// ResourceUnit is the raw source description of a quantifiable output.
type ResourceUnit struct {
	ID              ID
	Name            string
	UnitName        string
	ProductModifier string
	Kind            string
	CropVariety     *CropVariety
}

type CropVariety struct {
	ID   ID
	Name string
}

type Zone struct {
	ID   ID
	Name string
}

type Facility struct {
	ID       ID
	Name     string
	Timezone string
}

func nestedString(m map[string]any, keys ...string) string {
	var current any = m
	for _, key := range keys {
		asMap, ok := current.(map[string]any)
		if !ok {
			return ""
		}
		current = asMap[key]
	}
	return scalarString(current)
}

func scalarString(v any) string {
	switch typed := v.(type) {
	case nil:
		return ""
	case string:
		return typed
	case json.Number:
		return typed.String()
	case float64:
		return strconv.FormatFloat(typed, 'f', -1, 64)
	case int:
		return strconv.Itoa(typed)
	case int64:
		return strconv.FormatInt(typed, 10)
	default:
		return ""
	}
}
