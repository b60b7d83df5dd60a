package language

import (
	"strings"

	textlang "golang.org/x/text/language"
	"golang.org/x/text/language/display"
)

// Whisper backends report English names rather than codes.
var names = map[string]string{
	"arabic":     "ar",
	"chinese":    "zh",
	"danish":     "da",
	"dutch":      "nl",
	"english":    "en",
	"finnish":    "fi",
	"french":     "fr",
	"german":     "de",
	"hindi":      "hi",
	"italian":    "it",
	"japanese":   "ja",
	"korean":     "ko",
	"norwegian":  "no",
	"polish":     "pl",
	"portuguese": "pt",
	"russian":    "ru",
	"spanish":    "es",
	"swedish":    "sv",
	"turkish":    "tr",
	"ukrainian":  "uk",
}

// ISO 639-2/B codes that do not share the terminology form.
var bibliographic = map[string]string{
	"chi": "zh",
	"cze": "cs",
	"dut": "nl",
	"fre": "fr",
	"ger": "de",
	"gre": "el",
	"per": "fa",
	"rum": "ro",
	"slo": "sk",
	"wel": "cy",
}

// Normalize maps an ISO 639 code, a BCP 47 tag or an English language name
// to its ISO 639-1 code. Unrecognized input yields "".
func Normalize(value string) string {
	value = strings.ToLower(strings.TrimSpace(value))
	if value == "" {
		return ""
	}
	if code, ok := names[value]; ok {
		return code
	}
	if code, ok := bibliographic[value]; ok {
		return code
	}
	tag, err := textlang.Parse(value)
	if err != nil || tag == textlang.Und {
		return ""
	}
	base, confidence := tag.Base()
	if confidence == textlang.No {
		return ""
	}
	return base.String()
}

// DisplayName returns the English name for a language value, "Unknown" when
// empty, or the uppercased input when unrecognized.
func DisplayName(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "Unknown"
	}
	code := Normalize(trimmed)
	if code == "" {
		return strings.ToUpper(trimmed)
	}
	if name := display.English.Languages().Name(textlang.Make(code)); name != "" {
		return name
	}
	return strings.ToUpper(code)
}
