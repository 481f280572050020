package provider

import (
	"testing"

	"github.com/grovetools/meetbot/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookupAllProviders(t *testing.T) {
	for _, p := range models.Providers {
		profile, err := Lookup(p)
		require.NoError(t, err, p)
		assert.NotEmpty(t, profile.DenialPhrase, p)
		assert.NotEmpty(t, profile.RecordingPrefix, p)
	}

	_, err := Lookup("webex")
	assert.Error(t, err)
}

func TestTelemostProfile(t *testing.T) {
	profile, err := Lookup(models.ProviderTelemost)
	require.NoError(t, err)

	assert.True(t, profile.SupportsJoin())
	assert.True(t, profile.IsLobbyURL("https://telemost.yandex.ru/j/123/lobby"))
	assert.False(t, profile.IsLobbyURL("https://telemost.yandex.ru/j/123"))
	assert.True(t, profile.ContainsDenial("Ошибка: Доступ запрещен."))

	phrase, ok := profile.MatchRemoval("Connection lost. Reconnecting")
	assert.True(t, ok)
	assert.Equal(t, "Connection lost", phrase)

	_, ok = profile.MatchDenial("Waiting for the host")
	assert.False(t, ok)
}

func TestProvidersWithoutJoinProfile(t *testing.T) {
	profile, err := Lookup(models.ProviderZoom)
	require.NoError(t, err)
	assert.False(t, profile.SupportsJoin())
	assert.False(t, profile.IsLobbyURL("https://zoom.us/wc/lobby"))
}

func TestRecordingName(t *testing.T) {
	assert.Equal(t, "Yandex Telemost Recording", RecordingName(models.ProviderTelemost))
	assert.Equal(t, "Google Meet Recording", RecordingName(models.ProviderGoogle))
	assert.Equal(t, "Recording", RecordingName("other"))
}

func TestButtonWithText(t *testing.T) {
	assert.Equal(t, `//button[contains(normalize-space(.), "OK")]`, ButtonWithText("OK"))
}

func TestIsSignInURL(t *testing.T) {
	assert.True(t, IsSignInURL("https://passport.yandex.ru/auth?retpath=x"))
	assert.True(t, IsSignInURL("https://accounts.google.com/ServiceLogin"))
	assert.False(t, IsSignInURL("https://telemost.yandex.ru/j/123"))
}
