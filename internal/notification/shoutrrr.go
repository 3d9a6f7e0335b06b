// Package notification sends run completion and failure messages through
// shoutrrr service URLs (Slack, Discord, Telegram, SMTP, ...).
package notification

import (
	"context"
	"fmt"
	"io"
	"log"
	"slices"
	"time"

	shoutrrr "github.com/nicholas-fedor/shoutrrr"
	stypes "github.com/nicholas-fedor/shoutrrr/pkg/types"

	"github.com/ofo-tools/treecrown/internal/conf"
	"github.com/ofo-tools/treecrown/internal/errors"
	"github.com/ofo-tools/treecrown/internal/logger"
	"github.com/ofo-tools/treecrown/internal/privacy"
)

// DefaultTimeout bounds a single send when none is configured.
const DefaultTimeout = 10 * time.Second

// sender is the part of shoutrrr's router the notifier uses.
type sender interface {
	Send(message string, params *stypes.Params) []error
}

// Notifier delivers run reports. A Notifier without URLs is valid and
// silently does nothing.
type Notifier struct {
	sender    sender
	urls      int
	onSuccess bool
	onFailure bool
}

// New builds a notifier from settings. Invalid service URLs are reported
// as configuration errors with credentials scrubbed from the message.
func New(settings *conf.NotificationSettings) (*Notifier, error) {
	if settings == nil || len(settings.URLs) == 0 {
		return &Notifier{}, nil
	}

	router, err := shoutrrr.CreateSender(slices.Clone(settings.URLs)...)
	if err != nil {
		return nil, errors.New(privacy.WrapError(err)).
			Category(errors.CategoryConfiguration).
			Context("setting", "notification.urls").
			Build()
	}

	timeout := settings.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	router.Timeout = timeout
	router.SetLogger(log.New(io.Discard, "", 0))

	return &Notifier{
		sender:    router,
		urls:      len(settings.URLs),
		onSuccess: settings.OnSuccess,
		onFailure: settings.OnFailure,
	}, nil
}

// Enabled reports whether any service URL is configured.
func (n *Notifier) Enabled() bool {
	return n != nil && n.sender != nil
}

// Notify sends report when its outcome is one the notifier is configured
// for. Delivery failures are returned but never affect the run result.
func (n *Notifier) Notify(ctx context.Context, report *Report) error {
	if !n.Enabled() || report == nil {
		return nil
	}
	failed := report.Err != nil
	if (failed && !n.onFailure) || (!failed && !n.onSuccess) {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	params := stypes.Params{}
	params.SetTitle(report.Title())

	start := time.Now()
	errs := n.sender.Send(report.Message(), &params)
	if idx := slices.IndexFunc(errs, func(e error) bool { return e != nil }); idx >= 0 {
		err := errors.New(privacy.WrapError(errs[idx])).
			Category(errors.CategoryNetwork).
			Context("operation", "send_notification").
			Context("services", n.urls).
			Build()
		GetLogger().Warn("notification delivery failed",
			logger.String("run_id", report.RunID),
			logger.Error(err))
		return err
	}

	GetLogger().Debug("notification sent",
		logger.String("run_id", report.RunID),
		logger.Bool("failure", failed),
		logger.Int("services", n.urls),
		logger.Duration("elapsed", time.Since(start)))
	return nil
}

// Report summarises one analysis run.
type Report struct {
	RunID      string
	Input      string
	Output     string
	Detections int
	Duration   time.Duration
	Err        error
}

// Title is the message subject.
func (r *Report) Title() string {
	if r.Err != nil {
		return "treecrown: run failed"
	}
	return "treecrown: run completed"
}

// Message is the message body. Paths and errors are scrubbed.
func (r *Report) Message() string {
	if r.Err != nil {
		return fmt.Sprintf("Run %s on %s failed after %s [%s]: %s",
			r.RunID, privacy.ScrubMessage(r.Input), r.Duration.Round(time.Millisecond),
			errors.CategoryOf(r.Err), privacy.ScrubMessage(r.Err.Error()))
	}
	return fmt.Sprintf("Run %s on %s found %d tree crowns in %s, written to %s",
		r.RunID, privacy.ScrubMessage(r.Input), r.Detections,
		r.Duration.Round(time.Millisecond), privacy.ScrubMessage(r.Output))
}
