package serviceaction

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/angelmondragon/packfinderz-compliance/internal/transactions"
	"github.com/angelmondragon/packfinderz-compliance/pkg/artemis"
	"github.com/angelmondragon/packfinderz-compliance/pkg/db/models"
	"github.com/angelmondragon/packfinderz-compliance/pkg/enums"
	"github.com/angelmondragon/packfinderz-compliance/pkg/logger"
)

// Source is the read-only source-of-record API, scoped to one facility.
type Source interface {
	GetBatch(ctx context.Context, batchID string, include ...string) (*artemis.Batch, error)
	GetResourceUnit(ctx context.Context, id string) (*artemis.ResourceUnit, error)
	GetResourceUnits(ctx context.Context) ([]artemis.ResourceUnit, error)
	GetZone(ctx context.Context, id string) (*artemis.Zone, error)
	GetFacility(ctx context.Context) (*artemis.Facility, error)
	GetChildCompletions(ctx context.Context, completionID string) ([]artemis.Completion, error)
	GetRelatedCompletions(ctx context.Context, completionID string) ([]artemis.Completion, error)
}

// SourceFactory builds a Source for an account and facility.
type SourceFactory func(account *models.Account, facilityID string) (Source, error)

// Action is the per-execution context handed to workflows: the event, the
// integration, the source client and the transaction ledger.
type Action struct {
	Event        CompletionEvent
	Integration  *models.Integration
	FacilityID   string
	BatchID      string
	CompletionID string
	Source       Source
	Logger       *logger.Logger

	ledger    transactions.Ledger
	batchOnce sync.Once
	batch     *artemis.Batch
	batchErr  error
}

// NewAction binds an event to an integration. batch may be nil.
func NewAction(event CompletionEvent, integration *models.Integration, batch *artemis.Batch, source Source, ledger transactions.Ledger, logg *logger.Logger) *Action {
	a := &Action{
		Event:        event,
		Integration:  integration,
		FacilityID:   event.FacilityID(),
		BatchID:      event.BatchID(),
		CompletionID: event.ID,
		Source:       source,
		Logger:       logg,
		ledger:       ledger,
	}
	if batch != nil {
		a.batch = batch
		a.batchOnce.Do(func() {})
	}
	return a
}

// Batch resolves the event batch through the source on first use. It is
// nil for facility scoped events.
func (a *Action) Batch(ctx context.Context) (*artemis.Batch, error) {
	if a.BatchID == "" && a.batch == nil {
		return nil, nil
	}
	a.batchOnce.Do(func() {
		a.batch, a.batchErr = a.Source.GetBatch(ctx, a.BatchID)
	})
	return a.batch, a.batchErr
}

// Attribute returns a scalar event attribute.
func (a *Action) Attribute(key string) string {
	return a.Event.Attribute(key)
}

func (a *Action) transactionKey(typ enums.TransactionType) transactions.Key {
	return transactions.Key{
		Vendor:        a.Integration.Vendor,
		AccountID:     a.Integration.AccountID,
		IntegrationID: a.Integration.ID,
		BatchID:       a.BatchID,
		CompletionID:  a.CompletionID,
		Type:          typ,
	}
}

// Transaction finds or creates the ledger row for this completion. The
// event attributes are stored as metadata unless metadata is given.
func (a *Action) Transaction(ctx context.Context, typ enums.TransactionType, metadata json.RawMessage) (*models.Transaction, bool, error) {
	if metadata == nil {
		metadata = a.Event.AttributesJSON()
	}
	return a.ledger.FindOrCreate(ctx, a.transactionKey(typ), metadata)
}

// ExistingTransaction returns the ledger row for this completion, if any.
func (a *Action) ExistingTransaction(ctx context.Context, typ enums.TransactionType) (*models.Transaction, error) {
	return a.ledger.Find(ctx, a.transactionKey(typ))
}

// Log returns a context carrying the action identifiers.
func (a *Action) Log(ctx context.Context) context.Context {
	if a.Logger == nil {
		return ctx
	}
	ctx = a.Logger.WithIntegrationID(ctx, a.Integration.ID.String())
	ctx = a.Logger.WithBatchID(ctx, a.BatchID)
	return a.Logger.WithCompletionID(ctx, a.CompletionID)
}
