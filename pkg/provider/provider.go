// Package provider holds the per-provider text and selector data a session needs.
//
// Selector candidates are tried in order by the surface; entries starting with
// "//" are XPath, everything else is CSS.
package provider

import (
	"fmt"
	"strings"

	"github.com/grovetools/meetbot/pkg/models"
)

// DefaultBotName is used when a join request carries no display name.
const DefaultBotName = "meetbot Notetaker"

// Profile describes how to recognize and drive one provider's meeting UI.
type Profile struct {
	Provider models.Provider

	// DenialPhrase is the fixed text shown when a host rejects the join request.
	DenialPhrase string
	// RecordingPrefix names uploaded artifacts.
	RecordingPrefix string

	// LobbyPatterns are URL fragments present while waiting for admission.
	LobbyPatterns []string
	// ContentSelectors match elements only visible inside the meeting.
	ContentSelectors []string
	// DenialPhrases are all texts treated as a refusal during admission.
	DenialPhrases []string

	// ExpectedDomain must stay in the page URL while recording.
	ExpectedDomain string
	// RemovalPhrases end the recording when they appear in page text.
	RemovalPhrases []string
	// MeetingElements must keep at least one match while recording.
	MeetingElements []string

	CookieConsent []string
	GuestJoin     []string
	NameInput     []string
	Permissions   []string
	JoinButton    []string
	DialogClose   []string

	// DismissLabels are button texts clicked by the modal dismissal loop.
	DismissLabels []string

	// FakeMediaDevices launches the browser with synthetic camera and microphone.
	FakeMediaDevices bool
}

// SupportsJoin reports whether the profile carries enough selectors to join a meeting.
func (p *Profile) SupportsJoin() bool {
	return len(p.NameInput) > 0 && len(p.JoinButton) > 0
}

// IsLobbyURL reports whether the URL still matches a lobby pattern.
func (p *Profile) IsLobbyURL(url string) bool {
	for _, pattern := range p.LobbyPatterns {
		if strings.Contains(url, pattern) {
			return true
		}
	}
	return false
}

// ContainsDenial reports whether page text contains the provider's fixed denial phrase.
func (p *Profile) ContainsDenial(text string) bool {
	return p.DenialPhrase != "" && strings.Contains(text, p.DenialPhrase)
}

// MatchDenial returns the first admission denial phrase found in text.
func (p *Profile) MatchDenial(text string) (string, bool) {
	return firstContained(text, p.DenialPhrases)
}

// MatchRemoval returns the first removal phrase found in text.
func (p *Profile) MatchRemoval(text string) (string, bool) {
	return firstContained(text, p.RemovalPhrases)
}

func firstContained(text string, phrases []string) (string, bool) {
	for _, phrase := range phrases {
		if phrase != "" && strings.Contains(text, phrase) {
			return phrase, true
		}
	}
	return "", false
}

// signInHosts are identity pages a guest bot cannot get past.
var signInHosts = []string{
	"accounts.google.com",
	"login.microsoftonline.com",
	"passport.yandex",
	"zoom.us/signin",
}

// IsSignInURL reports whether url is a provider sign-in page.
func IsSignInURL(url string) bool {
	for _, host := range signInHosts {
		if strings.Contains(url, host) {
			return true
		}
	}
	return false
}

// ButtonWithText builds an XPath candidate for a button whose text contains label.
func ButtonWithText(label string) string {
	return fmt.Sprintf(`//button[contains(normalize-space(.), %q)]`, label)
}

var profiles = map[models.Provider]*Profile{
	models.ProviderGoogle: {
		Provider:        models.ProviderGoogle,
		DenialPhrase:    "Someone in call denied your request to join",
		RecordingPrefix: "Google Meet Recording",
		DenialPhrases: []string{
			"Someone in call denied your request to join",
			"No one responded to your request to join the call",
		},
	},
	models.ProviderMicrosoft: {
		Provider:         models.ProviderMicrosoft,
		DenialPhrase:     "Sorry, but you were denied access to the meeting",
		RecordingPrefix:  "Microsoft Teams Recording",
		DenialPhrases:    []string{"Sorry, but you were denied access to the meeting"},
		FakeMediaDevices: true,
	},
	models.ProviderZoom: {
		Provider:        models.ProviderZoom,
		DenialPhrase:    "You have been removed",
		RecordingPrefix: "Zoom Recording",
		DenialPhrases:   []string{"You have been removed"},
	},
	models.ProviderTelemost: telemost(),
}

func telemost() *Profile {
	return &Profile{
		Provider:        models.ProviderTelemost,
		DenialPhrase:    "Доступ запрещен",
		RecordingPrefix: "Yandex Telemost Recording",

		LobbyPatterns:    []string{"lobby", "waiting"},
		ContentSelectors: []string{`div[role="main"]`, "video", `[data-testid="meeting-container"]`},
		DenialPhrases:    []string{"Доступ запрещен", "Access denied"},

		ExpectedDomain: "telemost.yandex.ru",
		RemovalPhrases: []string{"You've been removed from the meeting", "Доступ запрещен", "Connection lost"},
		MeetingElements: []string{
			"video",
			`[data-testid="meeting-container"]`,
			`button[aria-label="Leave call"]`,
		},

		CookieConsent: []string{ButtonWithText("Принять"), ButtonWithText("Accept")},
		GuestJoin: []string{
			ButtonWithText("Войти как гость"),
			ButtonWithText("Join as guest"),
			ButtonWithText("Войти анонимно"),
			ButtonWithText("Join anonymously"),
			`button[data-testid="guest-join-button"]`,
			`a[href*="guest"]`,
		},
		NameInput: []string{
			`input[data-testid="orb-textinput-input"]`,
			`[data-testid="orb-textinput"] input[type="text"]`,
			"input.Orb-Textinput-input",
			`input[type="text"][class*="Orb-Textinput"]`,
			`input[type="text"]`,
		},
		Permissions: []string{
			ButtonWithText("Разрешить"),
			ButtonWithText("Allow"),
			ButtonWithText("Продолжить"),
			ButtonWithText("Continue"),
			`[data-testid="allow-button"]`,
		},
		JoinButton: []string{
			`button[data-test-id="enter-conference-button"]`,
			ButtonWithText("Подключиться"),
			`button[class*="joinMeetingButton"]`,
			ButtonWithText("Join"),
			ButtonWithText("Присоединиться"),
			ButtonWithText("Войти"),
		},
		DialogClose: []string{
			`button[aria-label="Закрыть"]`,
			`button[aria-label="Close"]`,
			ButtonWithText("Закрыть"),
			ButtonWithText("Close"),
			ButtonWithText("ОК"),
			ButtonWithText("OK"),
			`[data-testid="close-button"]`,
		},
		DismissLabels: []string{"OK", "ОК", "Закрыть", "Close"},
	}
}

// Lookup returns the profile for a provider.
func Lookup(p models.Provider) (*Profile, error) {
	profile, ok := profiles[p]
	if !ok {
		return nil, fmt.Errorf("no profile for provider %q", p)
	}
	return profile, nil
}

// RecordingName returns the artifact display name for a provider.
func RecordingName(p models.Provider) string {
	if profile, ok := profiles[p]; ok {
		return profile.RecordingPrefix
	}
	return "Recording"
}
