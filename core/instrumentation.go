package orchestration

import (
	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const scopeName = "github.com/koscakluka/ema-voice/core"

var (
	tracer = otel.Tracer(scopeName)
	meter  = otel.Meter(scopeName)
	logger = otelslog.NewLogger(scopeName)
)

var (
	turnCounter, _ = meter.Int64Counter("ema_voice.turns",
		metric.WithDescription("User turns handed to the dispatcher"))
	dispatchFailureCounter, _ = meter.Int64Counter("ema_voice.dispatch.failures",
		metric.WithDescription("Dispatcher requests that ended in the fallback reply"))
	synthesisFailureCounter, _ = meter.Int64Counter("ema_voice.synthesis.failures",
		metric.WithDescription("Speech synthesis requests that failed"))
)
