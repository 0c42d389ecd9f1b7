package config

import (
	"strings"

	"golang.org/x/text/language"
)

// LanguageConfig wraps a validated BCP 47 language tag for review output.
type LanguageConfig struct {
	tag language.Tag
}

// ParseLanguage parses and validates an ISO language tag. An empty or
// unparseable tag falls back to English so a config typo never blocks
// reviews.
func ParseLanguage(langTag string) *LanguageConfig {
	if langTag == "" {
		return &LanguageConfig{tag: language.English}
	}
	tag, err := language.Parse(langTag)
	if err != nil {
		tag, err = language.Parse(strings.ToLower(langTag))
		if err != nil {
			tag = language.English
		}
	}
	return &LanguageConfig{tag: tag}
}

// String returns the language tag as a string (e.g. "en", "zh-CN").
func (lc *LanguageConfig) String() string {
	return lc.tag.String()
}

// PromptInstruction returns the human-readable language name used in
// the review prompt's output-language instruction.
func (lc *LanguageConfig) PromptInstruction() string {
	base, _ := lc.tag.Base()
	switch base.String() {
	case "zh":
		return "Chinese (Simplified Chinese preferred)"
	case "en":
		return "English"
	case "ja":
		return "Japanese"
	case "ko":
		return "Korean"
	case "fr":
		return "French"
	case "de":
		return "German"
	case "es":
		return "Spanish"
	case "pt":
		return "Portuguese"
	case "ru":
		return "Russian"
	case "ar":
		return "Arabic"
	default:
		return lc.tag.String()
	}
}

// GetOutputLanguage returns the validated review output language.
func (c *ReviewConfig) GetOutputLanguage() *LanguageConfig {
	return ParseLanguage(c.OutputLanguage)
}
