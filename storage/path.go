package storage

import (
	"strings"
	"unicode"
)

// PathFor derives the canonical storage key for one rendered artifact:
//
//	{language}/{INTENT_UPPER_SNAKE}/{variation-slug}/{voiceID}.wav
//
// The same (language, intent, variation, voice) tuple always maps to
// the same key, across runs and processes. Idempotent re-runs and the
// no-collision guarantee both hang off this function, so the layout
// must not change.
func PathFor(language, intent, variationText, voiceID string) string {
	return strings.Join([]string{
		sanitizeLanguage(language),
		intentUpperSnake(intent),
		slug(variationText),
		voiceID + ".wav",
	}, "/")
}

func sanitizeLanguage(language string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(language)) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// intentUpperSnake turns "lights on" or "Lights-On" into "LIGHTS_ON".
func intentUpperSnake(intent string) string {
	var b strings.Builder
	lastUnderscore := false
	for _, r := range strings.ToUpper(strings.TrimSpace(intent)) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastUnderscore = false
		case unicode.IsSpace(r) || r == '-' || r == '_':
			if !lastUnderscore && b.Len() > 0 {
				b.WriteByte('_')
				lastUnderscore = true
			}
		}
	}
	return strings.TrimRight(b.String(), "_")
}

// slug lowercases the variation text, strips punctuation and joins
// words with single hyphens: "Turn on the lights!" → "turn-on-the-lights".
func slug(text string) string {
	var b strings.Builder
	lastHyphen := false
	for _, r := range strings.ToLower(strings.TrimSpace(text)) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastHyphen = false
		case unicode.IsSpace(r) || r == '-':
			if !lastHyphen && b.Len() > 0 {
				b.WriteByte('-')
				lastHyphen = true
			}
		}
	}
	return strings.TrimRight(b.String(), "-")
}
