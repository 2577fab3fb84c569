package localization_test

import (
	"testing"
	"testing/fstest"
	"time"

	"omni/live/internal/localization"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultCatalogsCoverEveryKey(t *testing.T) {
	l := localization.Default()
	keys := []string{
		localization.KeyHistoryLoadFailed,
		localization.KeyChatLocked,
		localization.KeyRealtimeOffline,
		localization.KeyGPSDenied,
		localization.KeyGPSUnsupported,
		localization.KeyGPSUnavailable,
		localization.KeyLocationNotFound,
		localization.KeySharingUnavailable,
	}

	assert.ElementsMatch(t, []string{"en", "uk"}, l.Languages())
	for _, key := range keys {
		assert.NotEqual(t, key, l.GetString("en", key), "missing English text for %s", key)
		assert.NotEqual(t, key, l.GetString("uk", key), "missing Ukrainian text for %s", key)
	}
}

func TestGetStringFallbacks(t *testing.T) {
	fsys := fstest.MapFS{
		"i18n/en.json":    {Data: []byte(`{"greeting":"Hello","only_en":"English only"}`)},
		"i18n/uk.json":    {Data: []byte(`{"greeting":"Привіт"}`)},
		"i18n/README.txt": {Data: []byte("ignored")},
	}

	l, err := localization.NewLocalizer(fsys, "i18n")
	require.NoError(t, err)

	assert.Equal(t, "Привіт", l.GetString("uk", "greeting"))
	assert.Equal(t, "English only", l.GetString("uk", "only_en"), "falls back to English")
	assert.Equal(t, "Hello", l.GetString("fr", "greeting"), "unknown language falls back to English")
	assert.Equal(t, "missing", l.GetString("en", "missing"), "unknown key returns the key")
}

func TestNewLocalizerRejectsBrokenCatalog(t *testing.T) {
	fsys := fstest.MapFS{"i18n/en.json": {Data: []byte(`{not json`)}}

	_, err := localization.NewLocalizer(fsys, "i18n")
	assert.Error(t, err)
}

func TestNoticeExpiry(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	l := localization.Default()

	n := l.Notice("en", localization.KeyHistoryLoadFailed, now, 5*time.Second)
	assert.Equal(t, localization.KeyHistoryLoadFailed, n.Key)
	assert.NotEmpty(t, n.Text)
	assert.True(t, n.Active(now.Add(4*time.Second)))
	assert.False(t, n.Active(now.Add(5*time.Second)))

	persistent := l.Notice("en", localization.KeyGPSDenied, now, 0)
	assert.True(t, persistent.Active(now.Add(24*time.Hour)))

	var none *localization.Notice
	assert.False(t, none.Active(now))
}
