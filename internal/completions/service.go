package completions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/angelmondragon/packfinderz-compliance/internal/serviceaction"
	"github.com/angelmondragon/packfinderz-compliance/pkg/artemis"
	"github.com/angelmondragon/packfinderz-compliance/pkg/db/models"
	pkgerrors "github.com/angelmondragon/packfinderz-compliance/pkg/errors"
	"github.com/angelmondragon/packfinderz-compliance/pkg/logger"
	"github.com/angelmondragon/packfinderz-compliance/pkg/redis"
)

const (
	integrationAttribute = "integration_id"
	defaultLockTTL       = 10 * time.Minute
)

// Executor runs one completion event. *serviceaction.Engine satisfies it.
type Executor interface {
	Execute(ctx context.Context, event serviceaction.CompletionEvent, integration *models.Integration, batch *artemis.Batch) serviceaction.Outcome
}

type integrationFinder interface {
	FindActive(ctx context.Context, id uuid.UUID) (*models.Integration, error)
	FindActiveByFacility(ctx context.Context, facilityID int) ([]models.Integration, error)
}

type locker interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	Del(ctx context.Context, keys ...string) error
	LockKey(scope, id string) string
}

type Params struct {
	Subscription *gcppubsub.Subscriber
	Executor     Executor
	Integrations integrationFinder
	Locks        locker
	LockTTL      time.Duration
	Logger       *logger.Logger
}

// Service consumes completion events from Pub/Sub and runs each through the
// service action engine under a per-completion lock.
type Service struct {
	subscription *gcppubsub.Subscriber
	executor     Executor
	integrations integrationFinder
	locks        locker
	lockTTL      time.Duration
	validate     *validator.Validate
	logg         *logger.Logger
}

func NewService(params Params) (*Service, error) {
	if params.Subscription == nil {
		return nil, errors.New("completions subscription is required")
	}
	if params.Executor == nil {
		return nil, errors.New("executor is required")
	}
	if params.Integrations == nil {
		return nil, errors.New("integration finder is required")
	}
	if params.Locks == nil {
		return nil, errors.New("lock store is required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	ttl := params.LockTTL
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	return &Service{
		subscription: params.Subscription,
		executor:     params.Executor,
		integrations: params.Integrations,
		locks:        params.Locks,
		lockTTL:      ttl,
		validate:     validator.New(),
		logg:         params.Logger,
	}, nil
}

type processResult struct {
	nack bool
}

// Run receives completion messages until the context is canceled.
func (s *Service) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	return s.subscription.Receive(ctx, func(innerCtx context.Context, msg *gcppubsub.Message) {
		if s.process(innerCtx, msg).nack {
			msg.Nack()
			return
		}
		msg.Ack()
	})
}

func (s *Service) process(ctx context.Context, msg *gcppubsub.Message) processResult {
	logCtx := s.logg.WithField(ctx, "message_id", msg.ID)

	event, err := s.decode(msg.Data)
	if err != nil {
		s.logg.Warn(logCtx, fmt.Sprintf("invalid completion event: %v", err))
		return processResult{}
	}
	logCtx = s.logg.WithFields(logCtx, map[string]any{
		"completion_id": event.ID,
		"facility_id":   event.FacilityID(),
		"batch_id":      event.BatchID(),
	})

	targets, err := s.resolveIntegrations(logCtx, event, msg.Attributes[integrationAttribute])
	if err != nil {
		if pkgerrors.HasCode(err, pkgerrors.CodeNotFound) || pkgerrors.HasCode(err, pkgerrors.CodeInvalidAttributes) {
			s.logg.Warn(logCtx, fmt.Sprintf("completion dropped: %v", err))
			return processResult{}
		}
		s.logg.Error(logCtx, "integration lookup failed", err)
		return processResult{nack: true}
	}
	if len(targets) == 0 {
		s.logg.Info(logCtx, "no active integration for facility")
		return processResult{}
	}

	key := s.locks.LockKey(redis.CompletionLockScope, event.ID)
	owner := uuid.NewString()
	acquired, err := s.locks.SetNX(logCtx, key, owner, s.lockTTL)
	if err != nil {
		s.logg.Error(logCtx, "completion lock failed", err)
		return processResult{nack: true}
	}
	if !acquired {
		s.logg.Info(logCtx, "completion is being processed elsewhere")
		return processResult{nack: true}
	}
	defer func() {
		if err := s.locks.Del(context.WithoutCancel(logCtx), key); err != nil {
			s.logg.Warn(logCtx, fmt.Sprintf("completion lock release failed: %v", err))
		}
	}()

	result := processResult{}
	for i := range targets {
		integration := &targets[i]
		outcome := s.executor.Execute(logCtx, *event, integration, nil)
		fields := map[string]any{
			"integration_id": integration.ID.String(),
			"status":         string(outcome.Status),
		}
		if outcome.Status == serviceaction.StatusRequeued {
			result.nack = true
			s.logg.Warn(s.logg.WithFields(logCtx, fields), "completion requeued")
			continue
		}
		s.logg.Info(s.logg.WithFields(logCtx, fields), "completion handled")
	}
	return result
}

func (s *Service) decode(data []byte) (*serviceaction.CompletionEvent, error) {
	var event serviceaction.CompletionEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return nil, fmt.Errorf("decode completion event: %w", err)
	}
	if err := s.validate.Struct(event); err != nil {
		return nil, fmt.Errorf("validate completion event: %w", err)
	}
	event.ID = strings.TrimSpace(event.ID)
	return &event, nil
}

// resolveIntegrations prefers the integration named by the message and falls
// back to every active integration of the event facility.
func (s *Service) resolveIntegrations(ctx context.Context, event *serviceaction.CompletionEvent, integrationID string) ([]models.Integration, error) {
	facilityID, err := strconv.Atoi(event.FacilityID())
	if err != nil {
		return nil, pkgerrors.Newf(pkgerrors.CodeInvalidAttributes, "invalid facility id %q", event.FacilityID())
	}

	if id := strings.TrimSpace(integrationID); id != "" {
		parsed, err := uuid.Parse(id)
		if err != nil {
			return nil, pkgerrors.Newf(pkgerrors.CodeInvalidAttributes, "invalid integration id %q", id)
		}
		integration, err := s.integrations.FindActive(ctx, parsed)
		if err != nil {
			return nil, err
		}
		if integration.FacilityID != facilityID {
			return nil, pkgerrors.Newf(pkgerrors.CodeNotFound,
				"integration %s does not serve facility %d", integration.ID, facilityID)
		}
		return []models.Integration{*integration}, nil
	}

	return s.integrations.FindActiveByFacility(ctx, facilityID)
}
