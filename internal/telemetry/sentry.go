// Package telemetry reports enhanced errors to Sentry when the user opts in.
// Events are scrubbed of credentials, host names and home directories
// before they leave the process.
package telemetry

import (
	"sync"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/ofo-tools/treecrown/internal/buildinfo"
	"github.com/ofo-tools/treecrown/internal/conf"
	"github.com/ofo-tools/treecrown/internal/errors"
	"github.com/ofo-tools/treecrown/internal/logger"
	"github.com/ofo-tools/treecrown/internal/privacy"
)

// DefaultFlushTimeout bounds the wait for queued events on shutdown.
const DefaultFlushTimeout = 2 * time.Second

var (
	initMu      sync.Mutex
	initialized bool

	// transport replaces the HTTP transport in tests.
	transport sentry.Transport
)

// InitSentry configures the Sentry SDK and routes enhanced errors to it.
// It is a no-op unless sentry.enabled is set.
func InitSentry(settings *conf.SentrySettings, build *buildinfo.Context) error {
	if settings == nil || !settings.Enabled {
		GetLogger().Debug("sentry telemetry disabled")
		return nil
	}

	initMu.Lock()
	defer initMu.Unlock()

	err := sentry.Init(sentry.ClientOptions{
		Dsn:              settings.DSN,
		Environment:      settings.Environment,
		SampleRate:       settings.SampleRate,
		Release:          build.Release(),
		AttachStacktrace: false,
		ServerName:       "", // never leak the host name
		Transport:        transport,
		BeforeSend: func(event *sentry.Event, _ *sentry.EventHint) *sentry.Event {
			return applyPrivacyFilters(event)
		},
	})
	if err != nil {
		return errors.New(privacy.WrapError(err)).
			Category(errors.CategoryConfiguration).
			Context("setting", "sentry.dsn").
			Build()
	}

	errors.SetTelemetryReporter(errors.NewSentryReporter(true))
	initialized = true

	GetLogger().Info("sentry telemetry enabled",
		logger.String("environment", settings.Environment),
		logger.String("release", build.Release()),
		logger.Float64("sample_rate", settings.SampleRate))
	return nil
}

// Flush waits up to timeout for queued events and detaches the error
// reporter. It is safe to call when Sentry was never initialized.
func Flush(timeout time.Duration) {
	initMu.Lock()
	defer initMu.Unlock()

	if !initialized {
		return
	}
	if !sentry.Flush(timeout) {
		GetLogger().Warn("sentry flush timed out", logger.Duration("timeout", timeout))
	}
	errors.SetTelemetryReporter(nil)
	initialized = false
}

// applyPrivacyFilters strips identifying data from event.
func applyPrivacyFilters(event *sentry.Event) *sentry.Event {
	if event == nil {
		return nil
	}

	event.User = sentry.User{}
	event.ServerName = ""
	event.Request = nil
	if event.Contexts != nil {
		delete(event.Contexts, "device")
		delete(event.Contexts, "os")
	}

	event.Message = privacy.ScrubMessage(event.Message)
	for i := range event.Exception {
		event.Exception[i].Value = privacy.ScrubMessage(event.Exception[i].Value)
	}
	for k, v := range event.Tags {
		event.Tags[k] = privacy.ScrubMessage(v)
	}
	for i := range event.Breadcrumbs {
		event.Breadcrumbs[i].Message = privacy.ScrubMessage(event.Breadcrumbs[i].Message)
	}
	return event
}
