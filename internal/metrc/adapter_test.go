package metrc

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/angelmondragon/packfinderz-compliance/pkg/errors"
	"github.com/angelmondragon/packfinderz-compliance/pkg/logger"
	metrcapi "github.com/angelmondragon/packfinderz-compliance/pkg/metrc"
)

func newTestAdapter(t *testing.T, f *fixture) *Adapter {
	t.Helper()
	return newAdapter(f.vendor, f.action(), f.factory.providers, f.reporter, logger.Nop())
}

func TestCallVendorClassifiesErrors(t *testing.T) {
	cases := []struct {
		name     string
		err      error
		code     pkgerrors.Code
		reported int
	}{
		{name: "throttled", err: &metrcapi.RequestError{Operation: "x", StatusCode: 429}, code: pkgerrors.CodeDependency, reported: 1},
		{name: "unreachable", err: &metrcapi.RequestError{Operation: "x", Err: errors.New("dial tcp")}, code: pkgerrors.CodeDependency, reported: 1},
		{name: "missing key", err: &metrcapi.MissingConfiguration{Setting: "api key"}, code: pkgerrors.CodeConfiguration, reported: 1},
		{name: "missing parameter", err: &metrcapi.MissingParameter{Operation: "x", Parameter: "id"}, code: pkgerrors.CodeConfiguration, reported: 1},
		{name: "revoked key", err: &metrcapi.AuthenticationError{Operation: "x", StatusCode: 401, Body: "unauthorized"}, code: pkgerrors.CodeConfiguration, reported: 1},
		{name: "rejected", err: &metrcapi.ResponseError{Operation: "x", StatusCode: 400, Body: "bad"}, code: pkgerrors.CodeInvalidAttributes},
		{name: "other", err: errors.New("boom"), code: pkgerrors.CodeInternal},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			f.vendor.errs["get_items_categories"] = tc.err
			adapter := newTestAdapter(t, f)

			_, err := adapter.CallVendor(context.Background(), metrcapi.Get("items", "categories"))

			require.Error(t, err)
			assert.True(t, pkgerrors.HasCode(err, tc.code), "got %v", err)
			assert.Len(t, f.reporter.reported, tc.reported)
		})
	}
}

func TestCallVendorEmptyBody(t *testing.T) {
	f := newFixture(t)
	adapter := newTestAdapter(t, f)

	body, err := adapter.CallVendor(context.Background(), metrcapi.FinishHarvest(nil))

	require.NoError(t, err)
	assert.Nil(t, body)
}

func TestCallVendorRejectsNonJSON(t *testing.T) {
	f := newFixture(t)
	f.vendor.responses["/harvests/v1/active"] = "<html>maintenance</html>"
	adapter := newTestAdapter(t, f)

	_, err := adapter.CallVendor(context.Background(), metrcapi.ListHarvests())

	require.Error(t, err)
	assert.Equal(t, pkgerrors.KindRetryable, pkgerrors.Classify(err))
}

func TestItemCategoriesAreCachedPerExecution(t *testing.T) {
	f := newFixture(t)
	adapter := newTestAdapter(t, f)

	first, err := adapter.ItemCategories(context.Background())
	require.NoError(t, err)
	second, err := adapter.ItemCategories(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"Buds", "Immature Plant", "Shake/Trim"}, first)
	assert.Equal(t, first, second)
	assert.Len(t, f.vendor.calls, 1)
}

func TestLookupHarvestByName(t *testing.T) {
	f := newFixture(t)
	adapter := newTestAdapter(t, f)

	harvest, err := adapter.LookupHarvest(context.Background(), "Oct2-Ban-Spl-Can")

	require.NoError(t, err)
	assert.Equal(t, int64(12), harvest.ID)
	assert.Equal(t, "5.5", harvest.CurrentWeight.String())
}

func TestTruncate(t *testing.T) {
	long := strings.Repeat("x", 400)

	assert.Len(t, truncate(long, responseLogLimit), responseLogLimit)
	assert.Equal(t, "short", truncate("short", responseLogLimit))
}
