package speech

import (
	"regexp"
	"strings"

	"github.com/nyai-sathi/voice-chat/backend/internal/model/speech"
)

// DefaultChunkWords bounds each utterance handed to the engine.
const DefaultChunkWords = 200

var (
	codeFencePattern  = regexp.MustCompile("```[\\s\\S]*?```")
	inlineCodePattern = regexp.MustCompile("`([^`]+)`")
	linkPattern       = regexp.MustCompile(`\[([^\]]*)\]\(([^)]*)\)`)
	markupReplacer    = strings.NewReplacer("#", "", "*", "", "_", "", "`", "")
)

// CleanForSpeech strips markdown so the engine does not read syntax aloud.
func CleanForSpeech(markdown string) string {
	text := codeFencePattern.ReplaceAllString(markdown, " code block omitted ")
	text = inlineCodePattern.ReplaceAllString(text, "$1")
	text = linkPattern.ReplaceAllString(text, "$1")
	text = markupReplacer.Replace(text)
	return strings.Join(strings.Fields(text), " ")
}

// ChunkWords splits text into chunks of at most n words.
func ChunkWords(text string, n int) []string {
	if n <= 0 {
		n = DefaultChunkWords
	}
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}

	chunks := make([]string, 0, (len(words)+n-1)/n)
	for start := 0; start < len(words); start += n {
		end := min(start+n, len(words))
		chunks = append(chunks, strings.Join(words[start:end], " "))
	}
	return chunks
}

// DetectLanguage picks the reply language from its script. Devanagari text is
// Hindi unless it carries Marathi markers.
func DetectLanguage(text string) speech.Language {
	for _, r := range text {
		if r >= 0x0900 && r <= 0x097F {
			if strings.ContainsRune(text, 'ी') || strings.Contains(text, "मराठी") {
				return speech.Marathi
			}
			return speech.Hindi
		}
	}
	return speech.English
}

// PreferredVoice returns the first on-device voice for the language, or "".
func PreferredVoice(voices []speech.Voice, lang speech.Language) string {
	prefix := strings.SplitN(lang.Locale(), "-", 2)[0]
	for _, voice := range voices {
		if voice.LocalService && strings.HasPrefix(strings.ToLower(voice.Lang), prefix) {
			return voice.Name
		}
	}
	return ""
}
