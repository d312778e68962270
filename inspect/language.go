package inspect

import (
	"errors"

	"github.com/abadojack/whatlanggo"
)

// ErrUnknownLanguage is returned when no language can be reliably detected.
var ErrUnknownLanguage = errors.New("inspect: language not detected")

// WhatlangDetector detects languages with whatlanggo trigram profiles and
// returns ISO 639-1 codes (639-3 when the language has no 639-1 code).
type WhatlangDetector struct{}

func (WhatlangDetector) Detect(text string) (string, error) {
	info := whatlanggo.Detect(text)
	if !info.IsReliable() {
		return "", ErrUnknownLanguage
	}
	if code := info.Lang.Iso6391(); code != "" {
		return code, nil
	}
	if code := info.Lang.Iso6393(); code != "" {
		return code, nil
	}
	return "", ErrUnknownLanguage
}
