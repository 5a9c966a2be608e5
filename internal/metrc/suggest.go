package metrc

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/agnivade/levenshtein"

	pkgerrors "github.com/angelmondragon/packfinderz-compliance/pkg/errors"
)

// Suggest returns the supported names closest to value by edit distance,
// within a quarter of the value's length.
func Suggest(value string, dictionary []string) []string {
	needle := strings.ToLower(strings.TrimSpace(value))
	if needle == "" {
		return nil
	}
	threshold := int(math.Ceil(float64(len(needle)) * 0.25))

	best := threshold + 1
	var out []string
	for _, candidate := range dictionary {
		dist := levenshtein.ComputeDistance(needle, strings.ToLower(candidate))
		switch {
		case dist > threshold:
			continue
		case dist < best:
			best = dist
			out = []string{candidate}
		case dist == best:
			out = append(out, candidate)
		}
	}
	sort.Strings(out)
	return out
}

// ValidateItemType fails when itemType is not a supported Metrc category.
func ValidateItemType(itemType string, supported []string) error {
	for _, name := range supported {
		if name == itemType {
			return nil
		}
	}

	hint := "No similar types were found on Metrc."
	if matches := Suggest(itemType, supported); len(matches) > 0 {
		quoted := make([]string, len(matches))
		for i, m := range matches {
			quoted[i] = fmt.Sprintf("%q", m)
		}
		hint = fmt.Sprintf("Did you mean %s?", strings.Join(quoted, ", "))
	}
	return pkgerrors.Newf(pkgerrors.CodeInvalidAttributes,
		"The package item type '%s' is not supported by Metrc. %s", itemType, hint)
}

// ValidateUnits fails unless every resource unit shares one unit of measure.
func ValidateUnits(units []ResourceUnit) error {
	seen := make([]string, 0, len(units))
	for _, u := range units {
		found := false
		for _, s := range seen {
			if s == u.Unit {
				found = true
				break
			}
		}
		if !found {
			seen = append(seen, u.Unit)
		}
	}
	if len(seen) == 1 {
		return nil
	}
	return pkgerrors.Newf(pkgerrors.CodeInvalidAttributes,
		"The package contains resources of multiple types or units. Expected all resources in the package to be the same. Got: %s",
		strings.Join(seen, ", "))
}
