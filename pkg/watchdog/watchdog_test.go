package watchdog

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/grovetools/meetbot/pkg/provider"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Entry {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return logrus.NewEntry(l)
}

type recordingTrigger struct {
	mu      sync.Mutex
	reasons []string
}

func (r *recordingTrigger) fire(reason string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reasons = append(r.reasons, reason)
	return len(r.reasons) == 1
}

func (r *recordingTrigger) calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.reasons...)
}

func TestGuardFiresOnce(t *testing.T) {
	var teardowns int32
	g := NewGuard(func(string) { atomic.AddInt32(&teardowns, 1) })

	var wins int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if g.Fire(ReasonSilence) {
				atomic.AddInt32(&wins, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&teardowns))
	assert.Equal(t, int32(1), atomic.LoadInt32(&wins))
	assert.Equal(t, ReasonSilence, g.Reason())
	assert.False(t, g.Fire(ReasonHostEnd))
	assert.Equal(t, ReasonSilence, g.Reason())

	select {
	case <-g.Done():
	default:
		t.Fatal("Done should be closed after firing")
	}
}

// instantWatchdog fires as soon as it starts, then waits for cancellation.
type instantWatchdog struct {
	name    string
	start   <-chan struct{}
	stopped int32
}

func (w *instantWatchdog) Name() string { return w.name }

func (w *instantWatchdog) Run(ctx context.Context, trigger Trigger) error {
	<-w.start
	trigger(w.name)
	<-ctx.Done()
	atomic.StoreInt32(&w.stopped, 1)
	return nil
}

func TestSetAllWatchdogsFiringRunsOneTeardown(t *testing.T) {
	var mu sync.Mutex
	var steps []string
	record := func(step string) {
		mu.Lock()
		steps = append(steps, step)
		mu.Unlock()
	}

	set := NewSet(testLogger(), Teardown{
		StopMedia: func(string) { record("stop") },
		SignalEnd: func(string) { record("end") },
	})

	start := make(chan struct{})
	var dogs []*instantWatchdog
	for _, name := range []string{ReasonSilence, ReasonLoneParticipant, ReasonPageInvalid, "modal"} {
		w := &instantWatchdog{name: name, start: start}
		dogs = append(dogs, w)
		set.Register(w)
	}

	set.Start(context.Background())
	close(start)
	set.Fire(ReasonMaxDuration)

	done := make(chan struct{})
	go func() {
		set.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("watchdogs were not canceled by the guard")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"stop", "end"}, steps)
	for _, w := range dogs {
		assert.Equal(t, int32(1), atomic.LoadInt32(&w.stopped), w.name)
	}
	assert.NotEmpty(t, set.Guard().Reason())
}

func TestSetFireBeforeStartCancelsWatchdogs(t *testing.T) {
	set := NewSet(testLogger(), Teardown{})
	start := make(chan struct{})
	close(start)
	w := &instantWatchdog{name: "late", start: start}
	set.Register(w)

	require.True(t, set.Fire(ReasonHostEnd))
	set.Start(context.Background())
	set.Wait()

	assert.Equal(t, ReasonHostEnd, set.Guard().Reason())
	assert.Equal(t, int32(1), atomic.LoadInt32(&w.stopped))
}

func TestDetectionState(t *testing.T) {
	s := NewDetectionState(3)
	assert.False(t, s.Fail())
	assert.False(t, s.Fail())
	s.Succeed()
	assert.Equal(t, 0, s.Failures)
	assert.False(t, s.Fail())
	assert.False(t, s.Fail())
	assert.True(t, s.Fail())
	assert.True(t, s.Disabled)

	assert.Equal(t, DefaultMaxFailures, NewDetectionState(0).MaxFailures)
}

type participantReading struct {
	count int
	known bool
	err   error
}

type scriptedParticipants struct {
	mu       sync.Mutex
	readings []participantReading
	calls    int
}

func (p *scriptedParticipants) Participants(context.Context) (int, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if len(p.readings) == 0 {
		return 5, true, nil
	}
	r := p.readings[0]
	p.readings = p.readings[1:]
	return r.count, r.known, r.err
}

func TestLoneParticipantRetriesThenFires(t *testing.T) {
	probe := &scriptedParticipants{readings: []participantReading{
		{known: false},
		{known: false},
		{count: 1, known: true},
	}}
	state := NewDetectionState(10)
	w := &LoneParticipant{Probe: probe, Interval: time.Millisecond, State: state, Logger: testLogger()}
	trig := &recordingTrigger{}

	require.NoError(t, w.Run(context.Background(), trig.fire))

	assert.Equal(t, []string{ReasonLoneParticipant}, trig.calls())
	assert.Equal(t, 3, probe.calls)
	assert.Equal(t, 0, state.Failures)
	assert.False(t, state.Disabled)
}

func TestLoneParticipantDisablesAfterMaxFailures(t *testing.T) {
	var readings []participantReading
	for i := 0; i < 10; i++ {
		readings = append(readings, participantReading{err: errors.New("evaluate failed")})
	}
	readings = append(readings, participantReading{count: 1, known: true})
	probe := &scriptedParticipants{readings: readings}
	w := &LoneParticipant{Probe: probe, Interval: time.Millisecond, Logger: testLogger()}
	trig := &recordingTrigger{}

	require.NoError(t, w.Run(context.Background(), trig.fire))

	assert.Empty(t, trig.calls())
	assert.Equal(t, 10, probe.calls)
	assert.True(t, w.State.Disabled)
}

func TestLoneParticipantWaitsForActivation(t *testing.T) {
	probe := &scriptedParticipants{readings: []participantReading{{count: 1, known: true}}}
	w := &LoneParticipant{Probe: probe, Delay: time.Hour, Interval: time.Millisecond, Logger: testLogger()}
	trig := &recordingTrigger{}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	require.NoError(t, w.Run(ctx, trig.fire))

	assert.Empty(t, trig.calls())
	assert.Equal(t, 0, probe.calls)
}

type fakeAudio struct {
	mu       sync.Mutex
	hasAudio bool
	levels   []float64
	errs     []error
	err      error
	samples  int
}

func (a *fakeAudio) HasAudio(context.Context) (bool, error) { return a.hasAudio, nil }

func (a *fakeAudio) AudioLevel(context.Context) (float64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.samples++
	if len(a.errs) > 0 {
		err := a.errs[0]
		a.errs = a.errs[1:]
		return 0, err
	}
	if a.err != nil {
		return 0, a.err
	}
	if len(a.levels) == 0 {
		return 0, nil
	}
	l := a.levels[0]
	a.levels = a.levels[1:]
	return l, nil
}

func TestSilenceWithoutAudioNeverFires(t *testing.T) {
	probe := &fakeAudio{hasAudio: false}
	limit := 20 * time.Millisecond
	w := &Silence{Probe: probe, Limit: limit, Interval: time.Millisecond, Logger: testLogger()}
	trig := &recordingTrigger{}

	ctx, cancel := context.WithTimeout(context.Background(), 2*limit)
	defer cancel()
	require.NoError(t, w.Run(ctx, trig.fire))

	assert.Empty(t, trig.calls())
	assert.Equal(t, 0, probe.samples)
}

func TestSilenceFiresAfterLimit(t *testing.T) {
	probe := &fakeAudio{hasAudio: true}
	w := &Silence{Probe: probe, Limit: 10 * time.Millisecond, Interval: time.Millisecond, Logger: testLogger()}
	trig := &recordingTrigger{}

	require.NoError(t, w.Run(context.Background(), trig.fire))

	assert.Equal(t, []string{ReasonSilence}, trig.calls())
	assert.Equal(t, 10, probe.samples)
}

func TestSilenceResetsOnSound(t *testing.T) {
	// Five quiet samples, one loud sample, then quiet until the limit.
	probe := &fakeAudio{hasAudio: true, levels: []float64{0, 0, 0, 0, 0, 42}}
	w := &Silence{Probe: probe, Limit: 10 * time.Millisecond, Interval: time.Millisecond, Logger: testLogger()}
	trig := &recordingTrigger{}

	require.NoError(t, w.Run(context.Background(), trig.fire))

	assert.Equal(t, []string{ReasonSilence}, trig.calls())
	assert.Equal(t, 16, probe.samples)
}

func TestSilenceSamplingErrorDisables(t *testing.T) {
	probe := &fakeAudio{hasAudio: true, err: errors.New("analyser gone")}
	w := &Silence{Probe: probe, Limit: 10 * time.Millisecond, Interval: time.Millisecond, Logger: testLogger()}
	trig := &recordingTrigger{}

	err := w.Run(context.Background(), trig.fire)
	require.Error(t, err)
	assert.Empty(t, trig.calls())
}

func TestSilenceSurvivesTransientSamplingErrors(t *testing.T) {
	flaky := errors.New("devtools: context deadline exceeded")
	probe := &fakeAudio{hasAudio: true, errs: []error{flaky, flaky, flaky}}
	w := &Silence{Probe: probe, Limit: 10 * time.Millisecond, Interval: time.Millisecond, Logger: testLogger()}
	trig := &recordingTrigger{}

	require.NoError(t, w.Run(context.Background(), trig.fire))

	assert.Equal(t, []string{ReasonSilence}, trig.calls())
	assert.Equal(t, 13, probe.samples)
	assert.Equal(t, 0, w.State.Failures)
}

type fakePage struct {
	url     string
	text    string
	present bool
	errs    []error
	err     error
}

func (p *fakePage) CurrentURL(context.Context) (string, error) {
	if len(p.errs) > 0 {
		err := p.errs[0]
		p.errs = p.errs[1:]
		return "", err
	}
	return p.url, p.err
}

func (p *fakePage) BodyText(context.Context) (string, error)   { return p.text, nil }
func (p *fakePage) AnyPresent(context.Context, []string) (bool, error) {
	return p.present, nil
}

func TestPageValidity(t *testing.T) {
	profile, err := provider.Lookup("telemost")
	require.NoError(t, err)

	tests := []struct {
		name  string
		page  *fakePage
		fires bool
	}{
		{"valid meeting", &fakePage{url: "https://telemost.yandex.ru/j/1", text: "Meeting", present: true}, false},
		{"left domain", &fakePage{url: "https://yandex.ru/", present: true}, true},
		{"removed", &fakePage{url: "https://telemost.yandex.ru/j/1", text: "You've been removed from the meeting", present: true}, true},
		{"connection lost", &fakePage{url: "https://telemost.yandex.ru/j/1", text: "Connection lost", present: true}, true},
		{"no meeting elements", &fakePage{url: "https://telemost.yandex.ru/j/1", present: false}, true},
		{"probe error", &fakePage{err: errors.New("target closed")}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := &PageValidity{Probe: tt.page, Profile: profile, Interval: time.Millisecond, Logger: testLogger()}
			trig := &recordingTrigger{}

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
			defer cancel()
			require.NoError(t, w.Run(ctx, trig.fire))

			if tt.fires {
				assert.Equal(t, []string{ReasonPageInvalid}, trig.calls())
			} else {
				assert.Empty(t, trig.calls())
			}
		})
	}
}

func TestPageValidityToleratesTransientErrors(t *testing.T) {
	profile, err := provider.Lookup("telemost")
	require.NoError(t, err)

	flaky := errors.New("websocket: close sent")
	page := &fakePage{
		url:     "https://telemost.yandex.ru/j/1",
		text:    "Meeting",
		present: true,
		errs:    []error{flaky, flaky},
	}
	w := &PageValidity{Probe: page, Profile: profile, Interval: time.Millisecond, Logger: testLogger()}
	trig := &recordingTrigger{}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	require.NoError(t, w.Run(ctx, trig.fire))

	assert.Empty(t, trig.calls())
	assert.Equal(t, 0, w.State.Failures)
}

func TestPageValidityUnreachableAfterMaxFailures(t *testing.T) {
	profile, err := provider.Lookup("telemost")
	require.NoError(t, err)

	page := &fakePage{err: errors.New("target closed")}
	w := &PageValidity{Probe: page, Profile: profile, Interval: time.Millisecond, Logger: testLogger()}
	trig := &recordingTrigger{}

	require.NoError(t, w.Run(context.Background(), trig.fire))

	assert.Equal(t, []string{ReasonPageInvalid}, trig.calls())
	assert.Equal(t, PageMaxFailures, w.State.Failures)
}

type fakeDialogs struct {
	mu     sync.Mutex
	errs   []error
	clicks int
}

func (d *fakeDialogs) DismissDialogs(context.Context, []string) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.clicks++
	if len(d.errs) == 0 {
		return 1, nil
	}
	err := d.errs[0]
	d.errs = d.errs[1:]
	return 0, err
}

func TestModalDismissalDisablesAfterConsecutiveErrors(t *testing.T) {
	var errs []error
	for i := 0; i < 10; i++ {
		errs = append(errs, errors.New("detached"))
	}
	probe := &fakeDialogs{errs: errs}
	w := &ModalDismissal{Probe: probe, Interval: time.Millisecond, Logger: testLogger()}
	trig := &recordingTrigger{}

	err := w.Run(context.Background(), trig.fire)
	require.Error(t, err)
	assert.Empty(t, trig.calls())
	assert.Equal(t, 10, probe.clicks)
}

func TestModalDismissalResetsOnSuccess(t *testing.T) {
	boom := errors.New("detached")
	probe := &fakeDialogs{errs: []error{boom, boom, boom, nil, boom}}
	w := &ModalDismissal{Probe: probe, Interval: time.Millisecond, State: NewDetectionState(4), Logger: testLogger()}
	trig := &recordingTrigger{}

	ctx, cancel := context.WithTimeout(context.Background(), 40*time.Millisecond)
	defer cancel()
	require.NoError(t, w.Run(ctx, trig.fire))

	assert.Empty(t, trig.calls())
	assert.False(t, w.State.Disabled)
}
