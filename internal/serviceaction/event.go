package serviceaction

import (
	"encoding/json"
	"strings"

	"github.com/angelmondragon/packfinderz-compliance/pkg/artemis"
)

// CompletionEvent is the inbound completion notification. It is never
// mutated after decoding.
type CompletionEvent struct {
	ID            string         `json:"id" validate:"required"`
	Attributes    map[string]any `json:"attributes"`
	Relationships Relationships  `json:"relationships"`
}

type Relationships struct {
	Facility *ToOne  `json:"facility" validate:"required"`
	Batch    *ToOne  `json:"batch,omitempty"`
	Barcodes *ToMany `json:"barcodes,omitempty"`
	Zone     *ToOne  `json:"zone,omitempty"`
}

type ToOne struct {
	Data *Linkage `json:"data" validate:"required"`
}

type ToMany struct {
	Data []Linkage `json:"data"`
}

type Linkage struct {
	ID   artemis.ID `json:"id" validate:"required"`
	Type string     `json:"type,omitempty"`
}

func (e CompletionEvent) FacilityID() string {
	return e.Relationships.Facility.id()
}

// BatchID is empty for facility scoped events.
func (e CompletionEvent) BatchID() string {
	return e.Relationships.Batch.id()
}

func (e CompletionEvent) ZoneID() string {
	return e.Relationships.Zone.id()
}

// Barcodes lists the barcode ids attached to the event, in order.
func (e CompletionEvent) Barcodes() []string {
	if e.Relationships.Barcodes == nil {
		return nil
	}
	out := make([]string, 0, len(e.Relationships.Barcodes.Data))
	for _, link := range e.Relationships.Barcodes.Data {
		out = append(out, link.ID.String())
	}
	return out
}

// Attribute returns a scalar attribute rendered as a string.
func (e CompletionEvent) Attribute(key string) string {
	switch v := e.Attributes[key].(type) {
	case nil:
		return ""
	case string:
		return v
	case json.Number:
		return v.String()
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return strings.Trim(string(raw), `"`)
	}
}

// ActionType is the completion action, e.g. "start".
func (e CompletionEvent) ActionType() string {
	return strings.ToLower(strings.TrimSpace(e.Attribute("action_type")))
}

// AttributesJSON renders the attributes for transaction metadata.
func (e CompletionEvent) AttributesJSON() json.RawMessage {
	if len(e.Attributes) == 0 {
		return json.RawMessage(`{}`)
	}
	raw, err := json.Marshal(e.Attributes)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return raw
}

func (r *ToOne) id() string {
	if r == nil || r.Data == nil {
		return ""
	}
	return r.Data.ID.String()
}
