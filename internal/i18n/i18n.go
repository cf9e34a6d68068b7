// Package i18n localizes caller-facing error messages.
package i18n

import (
	goi18n "github.com/nicksnyder/go-i18n/v2/i18n"
	"github.com/sirupsen/logrus"
	"golang.org/x/text/language"
)

// Translator picks a message for the caller's Accept-Language header.
type Translator struct {
	bundle  *goi18n.Bundle
	english *goi18n.Localizer
}

// New creates a Translator with the English and Chinese catalogs.
func New() *Translator {
	bundle := goi18n.NewBundle(language.English)
	if err := bundle.AddMessages(language.English, enMessages...); err != nil {
		logrus.WithError(err).Error("Failed to load English messages")
	}
	if err := bundle.AddMessages(language.Chinese, zhMessages...); err != nil {
		logrus.WithError(err).Error("Failed to load Chinese messages")
	}
	return &Translator{
		bundle:  bundle,
		english: goi18n.NewLocalizer(bundle, language.English.String()),
	}
}

// Message returns the localized text for code. detail is the English message
// carried by the error; it is returned unchanged for English callers and appended
// to the translation when it says more than the catalog entry.
func (t *Translator) Message(acceptLanguage, code, detail string) string {
	tag, _ := t.match(acceptLanguage)
	if tag == language.English {
		return detail
	}

	localized, err := goi18n.NewLocalizer(t.bundle, tag.String()).Localize(&goi18n.LocalizeConfig{MessageID: code})
	if err != nil {
		return detail
	}
	base, err := t.english.Localize(&goi18n.LocalizeConfig{MessageID: code})
	if err == nil && detail != "" && detail != base {
		return localized + ": " + detail
	}
	return localized
}

func (t *Translator) match(acceptLanguage string) (language.Tag, bool) {
	if acceptLanguage == "" {
		return language.English, false
	}
	tags, _, err := language.ParseAcceptLanguage(acceptLanguage)
	if err != nil || len(tags) == 0 {
		return language.English, false
	}
	matcher := language.NewMatcher(t.bundle.LanguageTags())
	_, idx, conf := matcher.Match(tags...)
	if conf == language.No {
		return language.English, false
	}
	return t.bundle.LanguageTags()[idx], true
}
