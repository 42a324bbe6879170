// Package localization translates the user-facing strings of the API.
package localization

import (
	"embed"
	"encoding/json"
	"net/http"
	"strings"
	"sync"

	"github.com/nicksnyder/go-i18n/v2/i18n"
	"golang.org/x/text/language"
)

//go:embed locales/*.json
var localeFS embed.FS

type LocalizationService struct {
	bundle *i18n.Bundle
}

var (
	globalService *LocalizationService
	once          sync.Once
)

func NewLocalizationService() *LocalizationService {
	once.Do(func() {
		bundle := i18n.NewBundle(language.English)
		bundle.RegisterUnmarshalFunc("json", json.Unmarshal)

		entries, err := localeFS.ReadDir("locales")
		if err == nil {
			for _, entry := range entries {
				if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") || entry.Name() == "manifest.json" {
					continue
				}

				// A broken locale file leaves that language on the English fallback.
				_, _ = bundle.LoadMessageFileFS(localeFS, "locales/"+entry.Name())
			}
		}

		globalService = &LocalizationService{bundle: bundle}
	})

	return globalService
}

func (ls *LocalizationService) GetLocalizer(lang string) *i18n.Localizer {
	return i18n.NewLocalizer(ls.bundle, lang, "en")
}

func (ls *LocalizationService) GetLocalizerFromRequest(r *http.Request) *i18n.Localizer {
	return ls.GetLocalizer(r.Header.Get("Accept-Language"))
}

// SimpleLocalizer wraps i18n.Localizer with a more convenient API
type SimpleLocalizer struct {
	Localizer *i18n.Localizer
}

// T provides a concise way to localize messages. Unknown ids come back
// unchanged.
func (sl *SimpleLocalizer) T(messageID string) string {
	return sl.TData(messageID, nil)
}

// TData localizes a message that takes template data.
func (sl *SimpleLocalizer) TData(messageID string, data map[string]any) string {
	result, err := sl.Localizer.Localize(&i18n.LocalizeConfig{
		MessageID:    messageID,
		TemplateData: data,
	})
	if err != nil || result == "" {
		return messageID
	}

	return result
}

// Shape returns the localized display name of a shape, or fallback when
// there is none.
func (sl *SimpleLocalizer) Shape(name, fallback string) string {
	id := "shape_" + name
	if result := sl.T(id); result != id {
		return result
	}

	return fallback
}

// Tag returns the language the localizer actually resolved to.
func (sl *SimpleLocalizer) Tag() language.Tag {
	_, tag, err := sl.Localizer.LocalizeWithTag(&i18n.LocalizeConfig{MessageID: "pass"})
	if err != nil {
		return language.English
	}

	return tag
}

// GetLocalizer creates a localizer based on the request's Accept-Language header
func GetLocalizer(r *http.Request) *SimpleLocalizer {
	localizer := NewLocalizationService().GetLocalizerFromRequest(r)
	return &SimpleLocalizer{Localizer: localizer}
}
