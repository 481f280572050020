package capture

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/grovetools/meetbot/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPageProbeParticipants(t *testing.T) {
	fake := testutil.NewFakeSurface(meetingURL)
	probe := &PageProbe{Surface: fake}

	fake.EvalFunc = func(string) (interface{}, error) { return nil, nil }
	_, known, err := probe.Participants(context.Background())
	require.NoError(t, err)
	assert.False(t, known)

	fake.EvalFunc = func(string) (interface{}, error) { return 3, nil }
	count, known, err := probe.Participants(context.Background())
	require.NoError(t, err)
	assert.True(t, known)
	assert.Equal(t, 3, count)
}

func TestPageProbeAudioLevel(t *testing.T) {
	fake := testutil.NewFakeSurface(meetingURL)
	probe := &PageProbe{Surface: fake}

	fake.EvalFunc = func(string) (interface{}, error) { return 12.5, nil }
	level, err := probe.AudioLevel(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 12.5, level)

	fake.EvalFunc = func(string) (interface{}, error) { return -1, nil }
	_, err = probe.AudioLevel(context.Background())
	assert.Error(t, err)
}

func TestPageProbeSelectorsAreEmbedded(t *testing.T) {
	fake := testutil.NewFakeSurface(meetingURL)
	probe := &PageProbe{Surface: fake}
	var seen string
	fake.EvalFunc = func(expr string) (interface{}, error) {
		seen = expr
		return true, nil
	}

	ok, err := probe.ContentVisible(context.Background(), []string{"video", `//button[contains(., "Leave")]`})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Contains(t, seen, `["video","//button[contains(., \"Leave\")]"]`)
	assert.Contains(t, seen, "visible(find(s))")

	_, err = probe.AnyPresent(context.Background(), []string{"video"})
	require.NoError(t, err)
	assert.Contains(t, seen, "!!find(s)")
}

func TestPageProbeDismissDialogs(t *testing.T) {
	fake := testutil.NewFakeSurface(meetingURL)
	probe := &PageProbe{Surface: fake}

	fake.EvalFunc = func(expr string) (interface{}, error) {
		if !strings.Contains(expr, `["OK","Close"]`) {
			return nil, errors.New("labels missing")
		}
		return dismissResult{Clicked: 2}, nil
	}
	clicked, err := probe.DismissDialogs(context.Background(), []string{"OK", "Close"})
	require.NoError(t, err)
	assert.Equal(t, 2, clicked)

	fake.EvalFunc = func(string) (interface{}, error) {
		return dismissResult{Clicked: 1, Errors: 1, LastError: "detached"}, nil
	}
	_, err = probe.DismissDialogs(context.Background(), []string{"OK"})
	assert.ErrorContains(t, err, "detached")
}

func TestPageProbeBodyText(t *testing.T) {
	fake := testutil.NewFakeSurface(meetingURL)
	fake.EvalFunc = func(string) (interface{}, error) { return "Доступ запрещен", nil }
	text, err := (&PageProbe{Surface: fake}).BodyText(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Доступ запрещен", text)
}
