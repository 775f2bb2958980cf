// Package i18n provides locale-aware message printers for CLI output.
package i18n

import (
	"os"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// DefaultLang is the fallback language.
var DefaultLang = language.English

// SupportedLangs are the languages we support.
var SupportedLangs = []language.Tag{
	language.English,
}

var matcher = language.NewMatcher(SupportedLangs)

// MatchLanguage returns the best supported language for an
// Accept-Language header value.
func MatchLanguage(acceptLang string) language.Tag {
	tags, _, _ := language.ParseAcceptLanguage(acceptLang)
	tag, _, _ := matcher.Match(tags...)
	return tag
}

// NewPrinter returns a message printer for the given language.
func NewPrinter(tag language.Tag) *message.Printer {
	return message.NewPrinter(tag)
}

// NewCLIPrinter returns a printer for the system locale, read from the
// usual environment variables.
func NewCLIPrinter() *message.Printer {
	lang := os.Getenv("LC_ALL")
	if lang == "" {
		lang = os.Getenv("LANG")
	}
	if lang == "" {
		return message.NewPrinter(DefaultLang)
	}
	// Strip encoding suffix like ".UTF-8"
	if i := strings.IndexByte(lang, '.'); i >= 0 {
		lang = lang[:i]
	}
	tag, err := language.Parse(lang)
	if err != nil {
		return message.NewPrinter(DefaultLang)
	}
	tag, _, _ = matcher.Match(tag)
	return message.NewPrinter(tag)
}
