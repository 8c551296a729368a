package api

import (
	"errors"
	"time"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"
)

type requestMetrics struct {
	logger       log.FieldLogger
	route        string
	start        time.Time
	authDuration time.Duration
	callDuration time.Duration
	errorStage   string
	fields       log.Fields
}

func newRequestMetrics(logger log.FieldLogger, route string) *requestMetrics {
	return &requestMetrics{
		logger: logger,
		route:  route,
		start:  time.Now(),
		fields: log.Fields{},
	}
}

func (m *requestMetrics) ObserveAuth(duration time.Duration) {
	if duration <= 0 {
		return
	}
	m.authDuration = duration
}

// ObserveCall records the time spent in the store or collaborator.
func (m *requestMetrics) ObserveCall(duration time.Duration) {
	if duration <= 0 {
		return
	}
	m.callDuration = duration
}

func (m *requestMetrics) SetErrorStage(stage string) {
	if stage == "" {
		return
	}
	m.errorStage = stage
}

func (m *requestMetrics) Set(key string, value any) {
	m.fields[key] = value
}

func (m *requestMetrics) Log(status int, err error) {
	if m == nil || m.logger == nil {
		return
	}
	var he *echo.HTTPError
	if errors.As(err, &he) {
		status = he.Code
	}

	fields := log.Fields{
		"route":    m.route,
		"status":   status,
		"total_ms": durationToMillis(time.Since(m.start)),
	}
	for k, v := range m.fields {
		fields[k] = v
	}
	if m.authDuration > 0 {
		fields["auth_ms"] = durationToMillis(m.authDuration)
	}
	if m.callDuration > 0 {
		fields["call_ms"] = durationToMillis(m.callDuration)
	}
	if m.errorStage != "" {
		fields["error_stage"] = m.errorStage
	}
	if err != nil {
		fields["error"] = err.Error()
	}

	m.logger.WithFields(fields).Info("request.metrics")
}

func durationToMillis(d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(d) / float64(time.Millisecond)
}
