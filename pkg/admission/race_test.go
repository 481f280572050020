package admission

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/grovetools/meetbot/pkg/models"
	"github.com/grovetools/meetbot/pkg/provider"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type tick struct {
	url     string
	visible bool
	text    string
	err     error
}

// scriptedProbe returns one scripted observation per poll; the last one repeats.
type scriptedProbe struct {
	mu    sync.Mutex
	ticks []tick
	polls int
	cur   tick
}

func (p *scriptedProbe) CurrentURL(context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.polls++
	if len(p.ticks) > 0 {
		p.cur = p.ticks[0]
		p.ticks = p.ticks[1:]
	}
	return p.cur.url, p.cur.err
}

func (p *scriptedProbe) ContentVisible(context.Context, []string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cur.visible, nil
}

func (p *scriptedProbe) BodyText(context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cur.text, nil
}

func (p *scriptedProbe) pollCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.polls
}

const lobbyURL = "https://telemost.yandex.ru/j/42/lobby"

func telemostOptions(t *testing.T, wait, interval time.Duration) Options {
	profile, err := provider.Lookup(models.ProviderTelemost)
	require.NoError(t, err)
	return Options{
		Wait:             wait,
		PollInterval:     interval,
		Rules:            profile,
		ContentSelectors: profile.ContentSelectors,
	}
}

func TestRaceDeadlineBeatsLateDenial(t *testing.T) {
	probe := &scriptedProbe{ticks: []tick{
		{url: lobbyURL, text: "Waiting for the host"},
		{url: lobbyURL, text: "Доступ запрещен"},
	}}

	res, err := Race(context.Background(), probe, telemostOptions(t, 50*time.Millisecond, 40*time.Millisecond))
	require.NoError(t, err)

	assert.False(t, res.Admitted)
	assert.Equal(t, ReasonTimeout, res.Reason)
	assert.Equal(t, 1, probe.pollCount())
}

func TestRaceAdmittedCancelsDeadline(t *testing.T) {
	probe := &scriptedProbe{ticks: []tick{
		{url: lobbyURL},
		{url: "https://telemost.yandex.ru/j/42"},
	}}
	interval := 5 * time.Millisecond

	start := time.Now()
	res, err := Race(context.Background(), probe, telemostOptions(t, time.Second, interval))
	require.NoError(t, err)

	assert.True(t, res.Admitted)
	assert.Equal(t, ReasonAdmitted, res.Reason)
	assert.Less(t, time.Since(start), time.Second)

	polls := probe.pollCount()
	time.Sleep(5 * interval)
	assert.Equal(t, polls, probe.pollCount(), "no polling after resolution")
}

func TestRaceContentVisible(t *testing.T) {
	probe := &scriptedProbe{ticks: []tick{{url: lobbyURL, visible: true}}}

	res, err := Race(context.Background(), probe, telemostOptions(t, time.Second, time.Millisecond))
	require.NoError(t, err)
	assert.True(t, res.Admitted)
	assert.Equal(t, "content", res.Signal)
}

func TestRaceDenied(t *testing.T) {
	probe := &scriptedProbe{ticks: []tick{{url: lobbyURL, text: "Ошибка. Доступ запрещен"}}}

	res, err := Race(context.Background(), probe, telemostOptions(t, time.Second, time.Millisecond))
	require.NoError(t, err)
	assert.False(t, res.Admitted)
	assert.Equal(t, ReasonDenied, res.Reason)
	assert.Equal(t, "Доступ запрещен", res.Signal)
}

func TestRaceSwallowsProbeErrors(t *testing.T) {
	probe := &scriptedProbe{ticks: []tick{
		{err: errors.New("navigation in progress")},
		{err: errors.New("navigation in progress")},
		{url: "https://telemost.yandex.ru/j/42"},
	}}

	res, err := Race(context.Background(), probe, telemostOptions(t, time.Second, time.Millisecond))
	require.NoError(t, err)
	assert.True(t, res.Admitted)
	assert.Equal(t, 3, probe.pollCount())
}

func TestRaceCanceled(t *testing.T) {
	probe := &scriptedProbe{ticks: []tick{{url: lobbyURL}}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := Race(ctx, probe, telemostOptions(t, time.Second, time.Millisecond))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, ReasonCanceled, res.Reason)
	assert.False(t, res.Admitted)
}

// stuckPage blocks every page read until its context ends, like an evaluation stuck behind a JS dialog.
type stuckPage struct{}

func (stuckPage) CurrentURL(ctx context.Context) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

func (stuckPage) ContentVisible(ctx context.Context, _ []string) (bool, error) {
	<-ctx.Done()
	return false, ctx.Err()
}

func (stuckPage) BodyText(ctx context.Context) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

func TestRaceHungPollStillTimesOut(t *testing.T) {
	type outcome struct {
		res Result
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := Race(context.Background(), stuckPage{}, telemostOptions(t, 50*time.Millisecond, 10*time.Millisecond))
		done <- outcome{res, err}
	}()

	select {
	case out := <-done:
		require.NoError(t, out.err)
		assert.False(t, out.res.Admitted)
		assert.Equal(t, ReasonTimeout, out.res.Reason)
	case <-time.After(2 * time.Second):
		t.Fatal("admission race did not resolve within its wait budget")
	}
}
