package speech

import (
	"strings"
	"time"
)

// RecognitionProfile tunes the voice dialog for a class of client device.
type RecognitionProfile struct {
	Name string
	// Continuous keeps one recognition session open across pauses. Constrained
	// devices use discrete sessions that end after each phrase.
	Continuous    bool
	Language      string
	DebounceDelay time.Duration
	// WatchdogInterval restarts a capture that produced no transition.
	WatchdogInterval time.Duration
	MaxStalls        int
	CloseDelay       time.Duration
	ChunkWords       int
	Guidance         string
}

// DesktopProfile is used for full desktop browsers.
func DesktopProfile() RecognitionProfile {
	return RecognitionProfile{
		Name:             "desktop",
		Continuous:       true,
		Language:         "en-IN",
		DebounceDelay:    1500 * time.Millisecond,
		WatchdogInterval: 20 * time.Second,
		MaxStalls:        3,
		CloseDelay:       2500 * time.Millisecond,
		ChunkWords:       200,
	}
}

// ConstrainedProfile is used for mobile browsers whose recognizers stop on silence.
func ConstrainedProfile() RecognitionProfile {
	return RecognitionProfile{
		Name:             "constrained",
		Continuous:       false,
		Language:         "en-IN",
		DebounceDelay:    2500 * time.Millisecond,
		WatchdogInterval: 10 * time.Second,
		MaxStalls:        3,
		CloseDelay:       2500 * time.Millisecond,
		ChunkWords:       120,
		Guidance:         "Speak after the tone and pause when you are done. You can also type your question.",
	}
}

var constrainedHints = []string{"android", "iphone", "ipad", "ipod", "mobile"}

// SelectProfile picks a profile from the client's user agent string.
func SelectProfile(userAgent string) RecognitionProfile {
	ua := strings.ToLower(userAgent)
	for _, hint := range constrainedHints {
		if strings.Contains(ua, hint) {
			return ConstrainedProfile()
		}
	}
	return DesktopProfile()
}
