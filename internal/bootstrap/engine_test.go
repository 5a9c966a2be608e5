package bootstrap

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/angelmondragon/packfinderz-compliance/internal/schedulers"
	"github.com/angelmondragon/packfinderz-compliance/internal/serviceaction"
	"github.com/angelmondragon/packfinderz-compliance/pkg/config"
	"github.com/angelmondragon/packfinderz-compliance/pkg/db/models"
	"github.com/angelmondragon/packfinderz-compliance/pkg/enums"
	"github.com/angelmondragon/packfinderz-compliance/pkg/logger"
	"github.com/angelmondragon/packfinderz-compliance/pkg/metrics"
)

type stubSource struct {
	serviceaction.Source
}

func newDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{SkipDefaultTransaction: true})
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(&models.Account{}, &models.Integration{}, &models.Scheduler{}, &models.Transaction{}))
	return conn
}

func testConfig() *config.Config {
	return &config.Config{
		App:       config.AppConfig{Env: config.AppEnvTest},
		Metrc:     config.MetrcConfig{BaseURLTemplate: "https://api-%s.metrc.com", SandboxBaseURLTemplate: "https://sandbox-api-%s.metrc.com"},
		Scheduler: config.SchedulerConfig{DeferDelay: 15 * time.Minute},
	}
}

func TestNewStackRequiresCollaborators(t *testing.T) {
	_, err := NewStack(EngineParams{DB: newDB(t), Logger: logger.Nop()})
	require.Error(t, err)
	_, err = NewStack(EngineParams{Config: testConfig(), Logger: logger.Nop()})
	require.Error(t, err)
	_, err = NewStack(EngineParams{Config: testConfig(), DB: newDB(t)})
	require.Error(t, err)
}

func TestNewStackRunsDueTasksThroughEngine(t *testing.T) {
	conn := newDB(t)
	ctx := context.Background()

	stack, err := NewStack(EngineParams{
		Config:  testConfig(),
		DB:      conn,
		Logger:  logger.Nop(),
		Metrics: metrics.NewActionMetrics(prometheus.NewRegistry()),
		Sources: func(*models.Account, string) (serviceaction.Source, error) { return stubSource{}, nil },
		Secrets: func(string) string { return "vendor-key" },
	})
	require.NoError(t, err)

	account := &models.Account{Name: "Grower", AccessToken: "token"}
	require.NoError(t, conn.Create(account).Error)
	integration := &models.Integration{
		AccountID:  account.ID,
		FacilityID: 1568,
		State:      "CA",
		Vendor:     enums.VendorMetrc,
		License:    "LIC-1",
		EOD:        "17:00",
	}
	require.NoError(t, stack.Integrations.Create(ctx, integration))

	now := time.Now().UTC()
	_, err = stack.Schedulers.Enqueue(ctx, schedulers.EnqueueInput{
		IntegrationID: integration.ID,
		FacilityID:    "1568",
		BatchID:       "96182",
		CompletionID:  "90",
		Workflow:      "package_start",
		Event:         []byte(`{"id":"90","attributes":{"action_type":"harvest"},"relationships":{"facility":{"data":{"id":"1568"}}}}`),
		RunAt:         now.Add(-time.Minute),
	})
	require.NoError(t, err)

	due, err := stack.Schedulers.Due(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, due, 1)

	// An unsupported action fails terminally, which removes the task.
	require.NoError(t, stack.Runner.Run(ctx, due...))

	due, err = stack.Schedulers.Due(ctx, now, 10)
	require.NoError(t, err)
	assert.Empty(t, due)
}

func TestArtemisSources(t *testing.T) {
	sources := ArtemisSources(config.ArtemisConfig{BaseURL: "https://artemis.test", Timeout: time.Second})

	_, err := sources(nil, "1568")
	require.Error(t, err)

	_, err = sources(&models.Account{}, "1568")
	require.Error(t, err)

	src, err := sources(&models.Account{AccessToken: "token"}, "1568")
	require.NoError(t, err)
	assert.NotNil(t, src)
}
