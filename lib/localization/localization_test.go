package localization

import (
	"encoding/json"
	"net/http/httptest"
	"sort"
	"testing"

	"golang.org/x/text/language"
)

func TestLocalizationService(t *testing.T) {
	service := NewLocalizationService()

	for _, tt := range []struct {
		lang string
		want string
	}{
		{"en", "Invalid or expired challenge"},
		{"de", "Ungültige oder abgelaufene Aufgabe"},
		{"fr", "Défi invalide ou expiré"},
		{"tlh", "Invalid or expired challenge"},
	} {
		t.Run(tt.lang, func(t *testing.T) {
			sl := SimpleLocalizer{Localizer: service.GetLocalizer(tt.lang)}
			if got := sl.T("invalid_challenge"); got != tt.want {
				t.Errorf("wanted %q, got %q", tt.want, got)
			}
		})
	}
}

func TestGetLocalizer(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Accept-Language", "fr-CH, fr;q=0.9, en;q=0.8")

	loc := GetLocalizer(req)

	if got := loc.T("pass"); got != "Réussi" {
		t.Errorf("wanted French, got %q", got)
	}

	if base, _ := loc.Tag().Base(); base.String() != "fr" {
		t.Errorf("wanted a French tag, got %s", loc.Tag())
	}
}

func TestTemplateData(t *testing.T) {
	sl := SimpleLocalizer{Localizer: NewLocalizationService().GetLocalizer("en")}

	got := sl.TData("trace_prompt", map[string]any{"Shape": sl.Shape("heart", "Heart")})
	if got != "Trace the outline of the heart in one stroke" {
		t.Errorf("wrong prompt: %q", got)
	}

	if got := sl.Shape("spiral", "Spiral"); got != "Spiral" {
		t.Errorf("unknown shape should use the fallback, got %q", got)
	}

	if got := sl.T("no_such_message"); got != "no_such_message" {
		t.Errorf("unknown ids should come back unchanged, got %q", got)
	}

	if sl.Tag() != language.English {
		t.Errorf("wanted English, got %s", sl.Tag())
	}
}

type manifest struct {
	SupportedLanguages []string `json:"supported_languages"`
}

func loadManifest(t *testing.T) manifest {
	t.Helper()

	fin, err := localeFS.Open("locales/manifest.json")
	if err != nil {
		t.Fatal(err)
	}
	defer fin.Close()

	var result manifest
	if err := json.NewDecoder(fin).Decode(&result); err != nil {
		t.Fatal(err)
	}

	return result
}

func TestComprehensiveTranslations(t *testing.T) {
	var translations = map[string]any{}
	fin, err := localeFS.Open("locales/en.json")
	if err != nil {
		t.Fatal(err)
	}
	defer fin.Close()

	if err := json.NewDecoder(fin).Decode(&translations); err != nil {
		t.Fatal(err)
	}

	var keys []string
	for k := range translations {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	for _, lang := range loadManifest(t).SupportedLanguages {
		t.Run(lang, func(t *testing.T) {
			var own = map[string]any{}
			fin, err := localeFS.Open("locales/" + lang + ".json")
			if err != nil {
				t.Fatal(err)
			}
			defer fin.Close()

			if err := json.NewDecoder(fin).Decode(&own); err != nil {
				t.Fatal(err)
			}

			for _, key := range keys {
				if _, ok := own[key]; !ok {
					t.Errorf("key %s not defined", key)
				}
			}
		})
	}
}
