package speech

// Language is the detected script family of a reply.
type Language string

const (
	English Language = "en"
	Hindi   Language = "hi"
	Marathi Language = "mr"
)

var languageLocales = map[Language]string{
	English: "en-IN",
	Hindi:   "hi-IN",
	Marathi: "mr-IN",
}

var languageNames = map[Language]string{
	English: "English",
	Hindi:   "Hindi",
	Marathi: "Marathi",
}

// Locale returns the BCP 47 tag used for synthesis and recognition.
func (l Language) Locale() string {
	if locale, ok := languageLocales[l]; ok {
		return locale
	}
	return languageLocales[English]
}

// Name returns the display name used in "Respond in" directives.
func (l Language) Name() string {
	return languageNames[l]
}

// Rate returns the speaking rate tuned for the language.
func (l Language) Rate() float32 {
	if l == English {
		return 0.9
	}
	return 0.85
}

// ParseLanguage accepts a language code, a locale or a display name.
func ParseLanguage(raw string) (Language, bool) {
	for lang, locale := range languageLocales {
		if raw == string(lang) || raw == locale || raw == languageNames[lang] {
			return lang, true
		}
	}
	return "", false
}

// Voice describes a synthesis voice offered by the client device.
type Voice struct {
	Name         string `json:"name"`
	Lang         string `json:"lang"`
	LocalService bool   `json:"localService"`
}

// Utterance is a single chunk handed to the speech engine.
type Utterance struct {
	ID    string  `json:"id"`
	Text  string  `json:"text"`
	Lang  string  `json:"lang"`
	Rate  float32 `json:"rate"`
	Pitch float32 `json:"pitch"`
	Voice string  `json:"voice,omitempty"`
}

// CaptureOptions configures a recognition session.
type CaptureOptions struct {
	Continuous bool   `json:"continuous"`
	Lang       string `json:"lang"`
}
