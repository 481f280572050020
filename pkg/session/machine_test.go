package session

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/grovetools/meetbot/errors"
	"github.com/grovetools/meetbot/pkg/bridge"
	"github.com/grovetools/meetbot/pkg/capture"
	"github.com/grovetools/meetbot/pkg/diagnostics"
	"github.com/grovetools/meetbot/pkg/models"
	"github.com/grovetools/meetbot/pkg/provider"
	"github.com/grovetools/meetbot/pkg/report"
	"github.com/grovetools/meetbot/pkg/surface"
	"github.com/grovetools/meetbot/pkg/upload"
	"github.com/grovetools/meetbot/pkg/watchdog"
	"github.com/grovetools/meetbot/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	meetingURL = "https://telemost.yandex.ru/j/12345"
	lobbyURL   = "https://telemost.yandex.ru/j/12345/lobby"

	nameInput  = `input[data-testid="orb-textinput-input"]`
	joinButton = `button[data-test-id="enter-conference-button"]`
	allow      = `[data-testid="allow-button"]`
	closeBtn   = `button[aria-label="Close"]`
)

type fakeLauncher struct {
	mu       sync.Mutex
	page     *testutil.FakeSurface
	err      error
	launches int
	opts     surface.LaunchOptions
}

func (l *fakeLauncher) Launch(_ context.Context, opts surface.LaunchOptions) (surface.Surface, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.launches++
	l.opts = opts
	if l.err != nil {
		return nil, l.err
	}
	return l.page, nil
}

type statusLog struct {
	mu      sync.Mutex
	reports [][]models.StatusToken
}

func (s *statusLog) PatchStatus(_ context.Context, update models.StatusUpdate) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reports = append(s.reports, update.Status)
	return true
}

func (s *statusLog) all() [][]models.StatusToken {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]models.StatusToken(nil), s.reports...)
}

func (s *statusLog) last() []models.StatusToken {
	all := s.all()
	if len(all) == 0 {
		return nil
	}
	return all[len(all)-1]
}

type logSink struct {
	mu      sync.Mutex
	entries []models.LogEntry
}

func (s *logSink) AddLog(_ context.Context, entry models.LogEntry) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry)
	return true
}

type observer struct {
	mu       sync.Mutex
	statuses []models.StatusToken
	reason   string
}

func (o *observer) StatusChanged(sess *models.Session) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.statuses = append(o.statuses, sess.History.Last())
}

func (o *observer) CaptureEnded(reason string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.reason = reason
}

func (o *observer) seen(token models.StatusToken) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, s := range o.statuses {
		if s == token {
			return true
		}
	}
	return false
}

// meetingPage answers the page scripts the session evaluates.
type meetingPage struct {
	fake    *testutil.FakeSurface
	secret  string
	chunks  []string
	content bool
	body    string
}

func (p *meetingPage) message(kind, data string) string {
	raw, _ := json.Marshal(bridge.Message{Kind: kind, Secret: p.secret, Data: data})
	return string(raw)
}

func (p *meetingPage) eval(expr string) (interface{}, error) {
	switch {
	case strings.Contains(expr, "getDisplayMedia"):
		for _, c := range p.chunks {
			p.fake.Call(bridge.BindingSubmitChunk, p.message(bridge.KindChunk, base64.StdEncoding.EncodeToString([]byte(c))))
		}
		return capture.StartResult{Started: true, HasAudio: true, MimeType: "video/webm"}, nil
	case strings.Contains(expr, "__meetbot.stop()"):
		return true, nil
	case strings.Contains(expr, "__meetbot.end()"):
		p.fake.Call(bridge.BindingSessionEnd, p.message(bridge.KindEnd, ""))
		return true, nil
	case strings.Contains(expr, "hasAudio"):
		return true, nil
	case strings.Contains(expr, "audioLevel"):
		return 50, nil
	case strings.Contains(expr, "People"):
		return 3, nil
	case strings.Contains(expr, "sels.some"):
		return p.content, nil
	case strings.Contains(expr, "labels.some"):
		return map[string]interface{}{"clicked": 0, "errors": 0}, nil
	case strings.Contains(expr, "innerText"):
		return p.body, nil
	}
	return nil, nil
}

type harness struct {
	machine  *Machine
	launcher *fakeLauncher
	page     *meetingPage
	status   *statusLog
	sink     *logSink
	observer *observer
	params   Params
	uploader *upload.Uploader
}

func newHarness(t *testing.T, prov models.Provider, url string) *harness {
	t.Helper()

	sess := models.NewSession(prov)
	sess.BotID = "bot-1"
	sess.EventID = "evt-1"
	sess.UserID = "user-1"
	sess.URL = url

	fake := testutil.NewFakeSurface("about:blank", nameInput, joinButton, allow, closeBtn)
	page := &meetingPage{fake: fake, secret: sess.Secret, chunks: []string{"A", "B"}, content: true, body: "Meeting"}
	fake.EvalFunc = page.eval

	uploader, err := upload.NewUploader(&upload.LocalSink{Dir: t.TempDir()}, upload.Options{
		Dir:      t.TempDir(),
		Folder:   "recordings",
		UserID:   sess.UserID,
		BotID:    sess.BotID,
		Provider: prov,
		Logger:   testutil.QuietLogger(),
	})
	require.NoError(t, err)

	h := &harness{
		launcher: &fakeLauncher{page: fake},
		page:     page,
		status:   &statusLog{},
		sink:     &logSink{},
		observer: &observer{},
		uploader: uploader,
	}
	timings := Timings{AdmissionPoll: 5 * time.Millisecond}
	h.machine = &Machine{
		Launcher: h.launcher,
		Status:   h.status,
		Errors:   report.New(h.sink, testutil.QuietLogger()),
		Diagnostics: diagnostics.New(&upload.LocalSink{Dir: t.TempDir()}, diagnostics.Options{
			Enabled: true,
			Logger:  testutil.QuietLogger(),
		}),
		Observer: h.observer,
		Timings:  timings,
		Logger:   testutil.QuietLogger(),
	}
	h.params = Params{
		Session:       sess,
		AdmissionWait: time.Second,
		Capture: capture.Config{
			ChunkInterval:    2 * time.Second,
			PrimaryMimeType:  "video/webm",
			FallbackMimeType: "video/webm;codecs=vp9",
			MaxDuration:      50 * time.Millisecond,
			Inactivity:       time.Minute,
			ActivationDelay:  time.Hour,
			Grace:            2 * time.Second,
		},
		Artifact: uploader,
	}
	return h
}

func (h *harness) closes() int {
	_, _, closes := h.page.fake.Snapshot()
	return closes
}

func TestRunRecordsAndUploads(t *testing.T) {
	h := newHarness(t, models.ProviderTelemost, meetingURL)

	err := h.machine.Run(context.Background(), h.params)
	require.NoError(t, err)

	assert.Equal(t, [][]models.StatusToken{
		{models.StatusProcessing},
		{models.StatusProcessing, models.StatusJoined},
		{models.StatusProcessing, models.StatusJoined, models.StatusFinished},
	}, h.status.all())

	assert.Equal(t, 1, h.closes())
	assert.Equal(t, provider.DefaultBotName, h.page.fake.FillValue(nameInput))

	clicks, navigations, _ := h.page.fake.Snapshot()
	assert.Equal(t, []string{meetingURL}, navigations)
	assert.Contains(t, clicks, allow)
	assert.Contains(t, clicks, joinButton)
	closeClicks := 0
	for _, c := range clicks {
		if c == closeBtn {
			closeClicks++
		}
	}
	assert.Equal(t, 2, closeClicks, "post-join dialogs are swept twice")

	assert.Equal(t, watchdog.ReasonMaxDuration, h.observer.reason)
	assert.EqualValues(t, 2, h.uploader.Size())
	assert.Empty(t, h.sink.entries)
	assert.Equal(t, h.params.Session.CorrelationID, h.launcher.opts.CorrelationID)
}

func TestRunUsesGivenName(t *testing.T) {
	h := newHarness(t, models.ProviderTelemost, meetingURL)
	h.params.Session.Name = "Minutes Bot"

	require.NoError(t, h.machine.Run(context.Background(), h.params))
	assert.Equal(t, "Minutes Bot", h.page.fake.FillValue(nameInput))
}

func TestRunEmptyRecordingDowngradesFinished(t *testing.T) {
	h := newHarness(t, models.ProviderTelemost, meetingURL)
	h.page.chunks = nil

	err := h.machine.Run(context.Background(), h.params)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrCodeUpload))

	reports := h.status.all()
	require.Len(t, reports, 4)
	assert.Equal(t, []models.StatusToken{models.StatusProcessing, models.StatusJoined, models.StatusFinished}, reports[2])
	assert.Equal(t, []models.StatusToken{models.StatusProcessing, models.StatusJoined, models.StatusFailed}, reports[3])
	assert.Equal(t, 1, h.closes())
}

func TestRunDeniedAtLobby(t *testing.T) {
	h := newHarness(t, models.ProviderTelemost, lobbyURL)
	h.page.content = false
	h.page.body = "Ошибка. Доступ запрещен"

	err := h.machine.Run(context.Background(), h.params)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrCodeAdmission))
	assert.False(t, errors.IsRetryable(err))
	assert.Contains(t, errors.BodyText(err), "Доступ запрещен")

	assert.Equal(t, []models.StatusToken{models.StatusProcessing, models.StatusFailed}, h.status.last())
	require.Len(t, h.sink.entries, 1)
	assert.Equal(t, models.CategoryWaitingAtLobby, h.sink.entries[0].Category)
	assert.Equal(t, models.SubCategoryUserDeniedRequest, h.sink.entries[0].SubCategory)
	assert.Equal(t, 1, h.closes())
}

func TestRunAdmissionTimeout(t *testing.T) {
	h := newHarness(t, models.ProviderTelemost, lobbyURL)
	h.page.content = false
	h.page.body = "Waiting for the organizer"
	h.params.AdmissionWait = 30 * time.Millisecond

	err := h.machine.Run(context.Background(), h.params)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrCodeAdmission))

	require.Len(t, h.sink.entries, 1)
	assert.Equal(t, models.SubCategoryTimeout, h.sink.entries[0].SubCategory)
	assert.Equal(t, models.StatusFailed, h.status.last()[len(h.status.last())-1])
}

func TestRunMissingNameInput(t *testing.T) {
	h := newHarness(t, models.ProviderTelemost, meetingURL)
	h.page.fake.Visible = map[string]bool{joinButton: true}

	err := h.machine.Run(context.Background(), h.params)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrCodeCapture))
	assert.True(t, errors.Is(err, errors.ErrCodeElementMissing))

	assert.Equal(t, 1, h.page.fake.ScreenshotCount())
	assert.Equal(t, []models.StatusToken{models.StatusProcessing, models.StatusFailed}, h.status.last())
	assert.Empty(t, h.sink.entries, "capture failures are not categorized")
	assert.Equal(t, 1, h.closes())
}

func TestRunMissingJoinButton(t *testing.T) {
	h := newHarness(t, models.ProviderTelemost, meetingURL)
	h.page.fake.Visible = map[string]bool{nameInput: true}

	err := h.machine.Run(context.Background(), h.params)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrCodeElementMissing))
	assert.Equal(t, 1, h.page.fake.ScreenshotCount())
	assert.Equal(t, 1, h.closes())
}

func TestRunSignInPage(t *testing.T) {
	h := newHarness(t, models.ProviderTelemost, "https://passport.yandex.ru/auth?retpath=telemost")

	err := h.machine.Run(context.Background(), h.params)
	require.Error(t, err)
	assert.Equal(t, errors.PageStatusSignIn, errors.PageStatus(err))

	require.Len(t, h.sink.entries, 1)
	assert.Equal(t, models.CategoryUnsupportedMeeting, h.sink.entries[0].Category)
	assert.Equal(t, models.SubCategoryRequiresSignIn, h.sink.entries[0].SubCategory)
	assert.Equal(t, 1, h.closes())
}

func TestRunProviderWithoutJoinProfile(t *testing.T) {
	h := newHarness(t, models.ProviderZoom, "https://zoom.us/j/1")

	err := h.machine.Run(context.Background(), h.params)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrCodeUnsupported))
	assert.Zero(t, h.launcher.launches)
	assert.Empty(t, h.sink.entries)
	assert.Equal(t, []models.StatusToken{models.StatusProcessing, models.StatusFailed}, h.status.last())
}

func TestRunLaunchFailure(t *testing.T) {
	h := newHarness(t, models.ProviderTelemost, meetingURL)
	h.launcher.err = errors.BrowserLaunchTimeout("60s")

	err := h.machine.Run(context.Background(), h.params)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrCodeBrowserLaunch))
	assert.Equal(t, []models.StatusToken{models.StatusProcessing, models.StatusFailed}, h.status.last())
	assert.Zero(t, h.closes())
}

func TestRunHostEndBeforeCapture(t *testing.T) {
	h := newHarness(t, models.ProviderTelemost, meetingURL)
	hostEnd := make(chan struct{})
	close(hostEnd)
	h.params.HostEnd = hostEnd
	h.machine.Timings.LaunchSettle = time.Second

	err := h.machine.Run(context.Background(), h.params)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []models.StatusToken{models.StatusProcessing, models.StatusFailed}, h.status.last())
	assert.Equal(t, 1, h.closes())
}

func TestRunHostEndDuringCapture(t *testing.T) {
	h := newHarness(t, models.ProviderTelemost, meetingURL)
	h.params.Capture.MaxDuration = time.Hour
	hostEnd := make(chan struct{})
	h.params.HostEnd = hostEnd

	go func() {
		deadline := time.Now().Add(5 * time.Second)
		for time.Now().Before(deadline) && !h.observer.seen(models.StatusJoined) {
			time.Sleep(time.Millisecond)
		}
		time.Sleep(20 * time.Millisecond)
		close(hostEnd)
	}()

	err := h.machine.Run(context.Background(), h.params)
	require.NoError(t, err)
	assert.Equal(t, watchdog.ReasonHostEnd, h.observer.reason)
	assert.Equal(t, []models.StatusToken{models.StatusProcessing, models.StatusJoined, models.StatusFinished}, h.status.last())
}

func TestRunUploadErrorDowngrades(t *testing.T) {
	h := newHarness(t, models.ProviderTelemost, meetingURL)
	h.params.Artifact = &brokenArtifact{}

	err := h.machine.Run(context.Background(), h.params)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrCodeUpload))
	assert.Equal(t, []models.StatusToken{models.StatusProcessing, models.StatusJoined, models.StatusFailed}, h.status.last())
}

type brokenArtifact struct {
	mu   sync.Mutex
	size int
}

func (a *brokenArtifact) SaveChunk(_ context.Context, data []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.size += len(data)
	return nil
}

func (a *brokenArtifact) Finalize(context.Context) (*upload.Result, error) {
	return nil, fmt.Errorf("bucket unavailable")
}

func (a *brokenArtifact) Discard() error { return nil }
