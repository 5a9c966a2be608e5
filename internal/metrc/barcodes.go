package metrc

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	pkgerrors "github.com/angelmondragon/packfinderz-compliance/pkg/errors"
)

var (
	batchTagPattern    = regexp.MustCompile(`[A-Z0-9]{24,}`)
	sourceBatchPattern = regexp.MustCompile(`[A-Z0-9]{24}(-split)?`)
)

const splitSuffix = "-split"

// BatchTag picks the package tag from a batch's barcodes. Several matches
// resolve to the lexicographically smallest.
func BatchTag(arbitraryID string, barcodes []string) (string, error) {
	return resolveBarcode(arbitraryID, barcodes, batchTagPattern)
}

// SourceBatchTag picks the barcode of a source batch. Split barcodes are
// accepted and normalized.
func SourceBatchTag(arbitraryID string, barcodes []string) (string, error) {
	tag, err := resolveBarcode(arbitraryID, barcodes, sourceBatchPattern)
	if err != nil {
		return "", err
	}
	return NormalizeBarcode(tag), nil
}

// NormalizeBarcode trims the barcode and drops a trailing split marker.
func NormalizeBarcode(barcode string) string {
	return strings.TrimSuffix(strings.TrimSpace(barcode), splitSuffix)
}

func resolveBarcode(arbitraryID string, barcodes []string, pattern *regexp.Regexp) (string, error) {
	if len(barcodes) == 0 {
		return "", pkgerrors.Newf(pkgerrors.CodeInvalidAttributes, "Missing barcode for batch '%s'", arbitraryID)
	}
	matches := make([]string, 0, len(barcodes))
	for _, barcode := range barcodes {
		if pattern.MatchString(barcode) {
			matches = append(matches, barcode)
		}
	}
	if len(matches) == 0 {
		return "", pkgerrors.New(pkgerrors.CodeInvalidAttributes, fmt.Sprintf(
			"Expected barcode for batch '%s' to be alphanumeric with 24 characters. Got: %s",
			arbitraryID, strings.Join(barcodes, ", ")))
	}
	sort.Strings(matches)
	return matches[0], nil
}
