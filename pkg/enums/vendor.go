package enums

import (
	"fmt"
	"strings"
)

// Vendor identifies the compliance system an integration syncs into.
type Vendor string

const (
	VendorMetrc Vendor = "metrc"
)

var validVendors = []Vendor{
	VendorMetrc,
}

// IsValid reports whether the value matches a supported vendor.
func (v Vendor) IsValid() bool {
	for _, candidate := range validVendors {
		if candidate == v {
			return true
		}
	}
	return false
}

// ParseVendor converts raw input into Vendor. Matching is case-insensitive.
func ParseVendor(value string) (Vendor, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	for _, candidate := range validVendors {
		if string(candidate) == normalized {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid vendor %q", value)
}
