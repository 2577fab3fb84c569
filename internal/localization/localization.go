// Package localization provides the user-visible notice strings shown by the
// chat and tracking sessions. Catalogs are JSON files named by language code
// (e.g. "en.json"); the default set is embedded in the binary.
package localization

import (
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"path"
	"strings"
	"sync"
	"time"
)

// Notice keys shared by the sessions.
const (
	KeyHistoryLoadFailed  = "chat.history_load_failed"
	KeyChatLocked         = "chat.locked"
	KeyRealtimeOffline    = "realtime.unavailable"
	KeyGPSDenied          = "gps.permission_denied"
	KeyGPSUnsupported     = "gps.unsupported"
	KeyGPSUnavailable     = "gps.position_unavailable"
	KeyLocationNotFound   = "tracking.location_not_found"
	KeySharingUnavailable = "tracking.sharing_unavailable"
)

//go:embed locales/*.json
var embedded embed.FS

// Localizer manages the translations for the application.
// It holds a map of languages, each with its own map of translation keys and values.
type Localizer struct {
	translations map[string]map[string]string
	mu           sync.RWMutex
}

var (
	defaultOnce      sync.Once
	defaultLocalizer *Localizer
)

// Default returns the Localizer built from the embedded catalogs.
func Default() *Localizer {
	defaultOnce.Do(func() {
		l, err := NewLocalizer(embedded, "locales")
		if err != nil {
			panic(fmt.Sprintf("localization: embedded catalogs are broken: %v", err))
		}
		defaultLocalizer = l
	})
	return defaultLocalizer
}

// NewLocalizer loads every *.json catalog found in dir of fsys.
func NewLocalizer(fsys fs.FS, dir string) (*Localizer, error) {
	l := &Localizer{
		translations: make(map[string]map[string]string),
	}

	files, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read localization directory: %w", err)
	}

	for _, file := range files {
		if file.IsDir() || !strings.HasSuffix(file.Name(), ".json") {
			continue
		}

		lang := strings.TrimSuffix(file.Name(), ".json")
		data, err := fs.ReadFile(fsys, path.Join(dir, file.Name()))
		if err != nil {
			return nil, fmt.Errorf("failed to read localization file %s: %w", file.Name(), err)
		}

		var translations map[string]string
		if err := json.Unmarshal(data, &translations); err != nil {
			return nil, fmt.Errorf("failed to parse localization file %s: %w", file.Name(), err)
		}

		l.translations[lang] = translations
	}

	return l, nil
}

// GetString returns the localized string for a given key and language.
// If the language or the key is not found, it falls back to English and then
// to the key itself.
func (l *Localizer) GetString(lang, key string) string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if langTranslations, ok := l.translations[lang]; ok {
		if value, ok := langTranslations[key]; ok {
			return value
		}
	}

	if lang != "en" {
		if enTranslations, ok := l.translations["en"]; ok {
			if value, ok := enTranslations[key]; ok {
				return value
			}
		}
	}

	return key
}

// Languages lists the loaded language codes.
func (l *Localizer) Languages() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	langs := make([]string, 0, len(l.translations))
	for lang := range l.translations {
		langs = append(langs, lang)
	}
	return langs
}

// Notice is a localized message shown to the user until it expires.
// A zero Expires never expires.
type Notice struct {
	Key     string
	Text    string
	Expires time.Time
}

// Active reports whether the notice should still be shown at now.
func (n *Notice) Active(now time.Time) bool {
	return n != nil && (n.Expires.IsZero() || now.Before(n.Expires))
}

// Notice builds a notice for key in lang that lasts ttl from now. A ttl of
// zero or less makes it persistent.
func (l *Localizer) Notice(lang, key string, now time.Time, ttl time.Duration) *Notice {
	n := &Notice{Key: key, Text: l.GetString(lang, key)}
	if ttl > 0 {
		n.Expires = now.Add(ttl)
	}
	return n
}
