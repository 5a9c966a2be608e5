package metrc

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/angelmondragon/packfinderz-compliance/pkg/artemis"
	"github.com/angelmondragon/packfinderz-compliance/pkg/providers"
)

// ResourceUnit is the vendor view of an Artemis resource unit.
type ResourceUnit struct {
	ID     string
	Name   string
	Unit   string
	Label  string
	Strain string
	Kind   string
	// ItemType is the Metrc item name, e.g. "Bok Choy - Immature Plant".
	ItemType string
	// MetrcType is the product modifier as an identifier, e.g. "immature_plant".
	MetrcType string
}

// MapResourceUnit normalizes a raw resource unit. Artemis names follow
// "<unit> of <resource type>, <strain>"; only the structured fields are read.
func MapResourceUnit(raw artemis.ResourceUnit, cfg *providers.Metrc) ResourceUnit {
	label := strings.TrimSpace(raw.ProductModifier)
	if label == "" {
		label = raw.UnitName
	}
	strain := ""
	if raw.CropVariety != nil {
		strain = raw.CropVariety.Name
	}
	return ResourceUnit{
		ID:        raw.ID.String(),
		Name:      raw.Name,
		Unit:      cfg.Unit(raw.UnitName),
		Label:     label,
		Strain:    strain,
		Kind:      raw.Kind,
		ItemType:  DetermineItemType(strain, label),
		MetrcType: parameterize(raw.ProductModifier),
	}
}

// DetermineItemType builds the Metrc item name for a strain and label.
func DetermineItemType(strain, label string) string {
	strain = strings.TrimSpace(strain)
	if strain == "" {
		return label
	}
	return fmt.Sprintf("%s - %s", strain, label)
}

func parameterize(value string) string {
	var b strings.Builder
	pendingSep := false
	for _, r := range strings.ToLower(strings.TrimSpace(value)) {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			if pendingSep && b.Len() > 0 {
				b.WriteByte('_')
			}
			pendingSep = false
			b.WriteRune(r)
			continue
		}
		pendingSep = true
	}
	return b.String()
}
