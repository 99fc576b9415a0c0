// Package telemetry is the zap-backed implementation of connstate.Telemetry
// used by the demo binary: diagnostics and telemetry events become
// structured log lines, and spans become a started-at timestamp logged with
// its duration on End.
package telemetry

import (
	"time"

	"go.uber.org/zap"

	"relaycore/internal/connstate"
	"relaycore/internal/infra/clock"
)

// ZapSink logs every connstate.Telemetry call through a *zap.Logger.
type ZapSink struct {
	log *zap.Logger
	clk clock.Clock
}

// New returns a ZapSink writing through log, using clk for span timing.
func New(log *zap.Logger, clk clock.Clock) *ZapSink {
	if clk == nil {
		clk = clock.Real
	}
	return &ZapSink{log: log, clk: clk}
}

// LogConnectionIssue implements connstate.Telemetry.
func (s *ZapSink) LogConnectionIssue(event string, details map[string]any) {
	s.log.Info("connection issue", zap.String("event", event), zap.Any("details", details))
}

// SendTelemetryEvent implements connstate.Telemetry.
func (s *ZapSink) SendTelemetryEvent(event connstate.TelemetryEvent) {
	fields := []zap.Field{
		zap.String("event", event.Name),
		zap.String("category", string(event.Category)),
		zap.Any("details", event.Details),
	}
	if event.Category == connstate.CategoryError {
		s.log.Error("telemetry event", fields...)
		return
	}
	s.log.Info("telemetry event", fields...)
}

// StartSpan implements connstate.Telemetry.
func (s *ZapSink) StartSpan(name string) connstate.Span {
	return &span{log: s.log, clk: s.clk, name: name, startedAt: s.clk.Now()}
}

type span struct {
	log       *zap.Logger
	clk       clock.Clock
	name      string
	startedAt time.Time
}

// End logs elapsed time against the clock the span started on, not the real
// wall clock — so a span opened and closed under a FakeClock in a test logs
// the fake-advanced duration instead of however long the test actually took.
func (sp *span) End(details map[string]any) {
	sp.log.Info("span ended",
		zap.String("span", sp.name),
		zap.Duration("elapsed", sp.clk.Now().Sub(sp.startedAt)),
		zap.Any("details", details),
	)
}
