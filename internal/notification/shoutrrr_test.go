package notification

import (
	"context"
	stderrors "errors"
	"sync"
	"testing"
	"time"

	stypes "github.com/nicholas-fedor/shoutrrr/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ofo-tools/treecrown/internal/conf"
	"github.com/ofo-tools/treecrown/internal/errors"
)

type recordingSender struct {
	mu       sync.Mutex
	messages []string
	titles   []string
	err      error
}

func (s *recordingSender) Send(message string, params *stypes.Params) []error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, message)
	if params != nil {
		title, _ := params.Title()
		s.titles = append(s.titles, title)
	}
	return []error{nil, s.err}
}

func TestNewWithoutURLsIsDisabled(t *testing.T) {
	n, err := New(&conf.NotificationSettings{})
	require.NoError(t, err)
	assert.False(t, n.Enabled())
	assert.NoError(t, n.Notify(context.Background(), &Report{RunID: "r1"}))

	n, err = New(nil)
	require.NoError(t, err)
	assert.False(t, n.Enabled())
}

func TestNewRejectsUnknownService(t *testing.T) {
	_, err := New(&conf.NotificationSettings{URLs: []string{"nosuchservice://token@host"}})
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))
	assert.NotContains(t, err.Error(), "token@")
}

func TestNewAcceptsLoggerService(t *testing.T) {
	n, err := New(&conf.NotificationSettings{URLs: []string{"logger://"}, Timeout: time.Second})
	require.NoError(t, err)
	assert.True(t, n.Enabled())
}

func TestNotifyHonoursOutcomeFlags(t *testing.T) {
	s := &recordingSender{}
	n := &Notifier{sender: s, urls: 1, onSuccess: false, onFailure: true}

	require.NoError(t, n.Notify(context.Background(), &Report{RunID: "ok", Detections: 3}))
	assert.Empty(t, s.messages, "success not requested")

	failure := errors.Newf("raster has 2 bands").Category(errors.CategoryBandCount).Build()
	require.NoError(t, n.Notify(context.Background(), &Report{RunID: "bad", Input: "ortho.tif", Err: failure}))
	require.Len(t, s.messages, 1)
	assert.Contains(t, s.messages[0], "band-count")
	assert.Contains(t, s.messages[0], "ortho.tif")
	assert.Equal(t, "treecrown: run failed", s.titles[0])
}

func TestNotifySuccessMessage(t *testing.T) {
	s := &recordingSender{}
	n := &Notifier{sender: s, urls: 1, onSuccess: true}

	report := &Report{RunID: "abc", Input: "in.tif", Output: "out.gpkg", Detections: 42, Duration: 1500 * time.Millisecond}
	require.NoError(t, n.Notify(context.Background(), report))

	require.Len(t, s.messages, 1)
	assert.Equal(t, "Run abc on in.tif found 42 tree crowns in 1.5s, written to out.gpkg", s.messages[0])
	assert.Equal(t, "treecrown: run completed", s.titles[0])
}

func TestNotifyDeliveryError(t *testing.T) {
	s := &recordingSender{err: stderrors.New("post https://hooks.example.com/secret failed")}
	n := &Notifier{sender: s, urls: 1, onSuccess: true}

	err := n.Notify(context.Background(), &Report{RunID: "x"})
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryNetwork))
	assert.NotContains(t, err.Error(), "secret")
}

func TestNotifyCancelledContext(t *testing.T) {
	s := &recordingSender{}
	n := &Notifier{sender: s, urls: 1, onSuccess: true}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, n.Notify(ctx, &Report{}), context.Canceled)
	assert.Empty(t, s.messages)
}
