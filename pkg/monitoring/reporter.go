package monitoring

import (
	"context"

	pkgerrors "github.com/angelmondragon/packfinderz-compliance/pkg/errors"
	"github.com/angelmondragon/packfinderz-compliance/pkg/logger"
	"github.com/angelmondragon/packfinderz-compliance/pkg/metrics"
)

// Reporter forwards errors that need operator attention.
type Reporter interface {
	Notify(ctx context.Context, err error)
}

// LogReporter reports through the structured log and a Prometheus counter so
// alerting can key off either.
type LogReporter struct {
	logg    *logger.Logger
	metrics *metrics.ActionMetrics
}

func NewLogReporter(logg *logger.Logger, m *metrics.ActionMetrics) *LogReporter {
	return &LogReporter{logg: logg, metrics: m}
}

func (r *LogReporter) Notify(ctx context.Context, err error) {
	if r == nil || err == nil {
		return
	}
	code := string(pkgerrors.CodeInternal)
	if typed := pkgerrors.As(err); typed != nil {
		code = string(typed.Code())
	}
	r.metrics.IncReport(code)
	if r.logg == nil {
		return
	}
	dump := pkgerrors.Dump(err)
	ctx = r.logg.WithFields(ctx, map[string]any{
		"error_code":  code,
		"error_chain": dump.Chain,
		"event":       "monitoring.report",
	})
	r.logg.Error(ctx, "monitoring.report", err)
}
