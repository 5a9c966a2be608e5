package artemis

import (
	"encoding/json"
)

type document struct {
	Data     json.RawMessage `json:"data"`
	Included []resource      `json:"included"`

	included map[string]resource
}

type resource struct {
	ID            ID                      `json:"id"`
	Type          string                  `json:"type"`
	Attributes    json.RawMessage         `json:"attributes"`
	Relationships map[string]relationship `json:"relationships"`
}

type relationship struct {
	Data json.RawMessage `json:"data"`
}

type linkage struct {
	ID   ID     `json:"id"`
	Type string `json:"type"`
}

func includedKey(typ string, id ID) string {
	return typ + "/" + string(id)
}

func (d *document) indexIncluded() {
	d.included = make(map[string]resource, len(d.Included))
	for _, res := range d.Included {
		d.included[includedKey(res.Type, res.ID)] = res
	}
}

func (d *document) single() (resource, error) {
	var res resource
	if len(d.Data) == 0 || string(d.Data) == "null" || d.Data[0] != '{' {
		return res, errUnexpectedShape("resource")
	}
	if err := decodeJSON(d.Data, &res); err != nil {
		return res, err
	}
	return res, nil
}

func (d *document) list() ([]resource, error) {
	if len(d.Data) == 0 || d.Data[0] != '[' {
		return nil, errUnexpectedShape("collection")
	}
	var out []resource
	if err := decodeJSON(d.Data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (r resource) decodeAttributes(dest any) error {
	if len(r.Attributes) == 0 {
		return nil
	}
	return decodeJSON(r.Attributes, dest)
}

// toOne returns the linkage of a to-one relationship, or false when unset.
func (r resource) toOne(name string) (linkage, bool) {
	rel, ok := r.Relationships[name]
	if !ok || len(rel.Data) == 0 || rel.Data[0] != '{' {
		return linkage{}, false
	}
	var link linkage
	if err := decodeJSON(rel.Data, &link); err != nil {
		return linkage{}, false
	}
	return link, link.ID != ""
}

func (r resource) toMany(name string) []linkage {
	rel, ok := r.Relationships[name]
	if !ok || len(rel.Data) == 0 || rel.Data[0] != '[' {
		return nil
	}
	var links []linkage
	if err := decodeJSON(rel.Data, &links); err != nil {
		return nil
	}
	return links
}

func decodeBatch(res resource, included map[string]resource) (*Batch, error) {
	var attrs struct {
		ArbitraryID string `json:"arbitrary_id"`
		CropName    string `json:"crop_name"`
		Crop        string `json:"crop"`
		CropVariety string `json:"crop_variety"`
	}
	if err := res.decodeAttributes(&attrs); err != nil {
		return nil, err
	}
	crop := attrs.Crop
	if crop == "" {
		crop = attrs.CropName
	}
	batch := &Batch{
		ID:          res.ID,
		ArbitraryID: attrs.ArbitraryID,
		Crop:        crop,
		CropVariety: attrs.CropVariety,
	}

	for _, link := range res.toMany("barcodes") {
		batch.Barcodes = append(batch.Barcodes, string(link.ID))
	}
	if zone, ok := res.toOne("zone"); ok {
		batch.ZoneID = zone.ID
	}
	if link, ok := res.toOne("seeding_unit"); ok {
		unit := &SeedingUnit{ID: link.ID}
		if inc, found := included[includedKey(link.Type, link.ID)]; found {
			var suAttrs struct {
				Name               string `json:"name"`
				ItemTrackingMethod string `json:"item_tracking_method"`
			}
			if err := inc.decodeAttributes(&suAttrs); err != nil {
				return nil, err
			}
			unit.Name = suAttrs.Name
			unit.ItemTrackingMethod = suAttrs.ItemTrackingMethod
		}
		batch.SeedingUnit = unit
	}
	for _, link := range res.toMany("completions") {
		inc, found := included[includedKey(link.Type, link.ID)]
		if !found {
			continue
		}
		completion, err := decodeCompletion(inc)
		if err != nil {
			return nil, err
		}
		batch.Completions = append(batch.Completions, completion)
	}
	return batch, nil
}

func decodeCompletion(res resource) (Completion, error) {
	var attrs struct {
		ActionType string         `json:"action_type"`
		Status     string         `json:"status"`
		StartTime  string         `json:"start_time"`
		Options    map[string]any `json:"options"`
		Context    map[string]any `json:"context"`
	}
	if err := res.decodeAttributes(&attrs); err != nil {
		return Completion{}, err
	}
	return Completion{
		ID:         res.ID,
		ActionType: attrs.ActionType,
		Status:     attrs.Status,
		StartTime:  attrs.StartTime,
		Options:    attrs.Options,
		Context:    attrs.Context,
	}, nil
}

func decodeResourceUnit(res resource, included map[string]resource) (*ResourceUnit, error) {
	var attrs struct {
		Name            string `json:"name"`
		Unit            string `json:"unit"`
		UnitName        string `json:"unit_name"`
		ProductModifier string `json:"product_modifier"`
		Kind            string `json:"kind"`
	}
	if err := res.decodeAttributes(&attrs); err != nil {
		return nil, err
	}
	unitName := attrs.UnitName
	if unitName == "" {
		unitName = attrs.Unit
	}
	unit := &ResourceUnit{
		ID:              res.ID,
		Name:            attrs.Name,
		UnitName:        unitName,
		ProductModifier: attrs.ProductModifier,
		Kind:            attrs.Kind,
	}
	if link, ok := res.toOne("crop_variety"); ok {
		variety := &CropVariety{ID: link.ID}
		if inc, found := included[includedKey(link.Type, link.ID)]; found {
			var cvAttrs struct {
				Name string `json:"name"`
			}
			if err := inc.decodeAttributes(&cvAttrs); err != nil {
				return nil, err
			}
			variety.Name = cvAttrs.Name
		}
		unit.CropVariety = variety
	}
	return unit, nil
}
