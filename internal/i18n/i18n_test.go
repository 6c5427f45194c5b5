package i18n

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/language"
)

func TestMatch(t *testing.T) {
	l, err := New(language.French, language.Spanish)
	require.NoError(t, err)

	testCases := []struct {
		name   string
		accept string
		want   language.Tag
	}{
		{"empty", "", language.French},
		{"garbage", "!!!", language.French},
		{"english", "en-US", language.English},
		{"french", "fr-FR,fr;q=0.9", language.French},
		{"spanish region", "es-MX", language.Spanish},
		{"preference order", "de, es;q=0.8, fr;q=0.5", language.Spanish},
		{"unsupported", "ja", language.French},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, l.Match(tc.accept))
		})
	}
}

func TestSprintf(t *testing.T) {
	l, err := New(language.French, language.Spanish)
	require.NoError(t, err)

	assert.Equal(t, "Save device is ready.", l.Sprintf(language.English, DeviceReady))
	assert.Equal(t, "Le périphérique de sauvegarde est prêt.", l.Sprintf(language.French, DeviceReady))
	assert.Equal(t, "El dispositivo de guardado está ocupado.", l.Sprintf(language.Spanish, DeviceBusy))
	assert.Equal(t, "Sauvegarde terminée.", l.Sprintf(language.French, SaveCompleted))
	assert.Equal(t, "Read: \"Hello, World 0!\"", l.Sprintf(language.English, Read, "Hello, World 0!"))
	assert.Equal(t, "Impossible de charger TestContainer/MyFile.txt : boom", l.Sprintf(language.French, LoadFailed, "TestContainer", "MyFile.txt", "boom"))
	assert.Equal(t, "Ningún archivo :(", l.Sprintf(language.Spanish, NoFile))
}

func TestUntranslatedLanguageFallsBackToEnglish(t *testing.T) {
	l, err := New(language.Japanese)
	require.NoError(t, err)

	assert.Equal(t, []language.Tag{language.Japanese, language.English}, l.Supported())
	assert.Equal(t, language.Japanese, l.Default())
	assert.Equal(t, language.Japanese, l.Match("ja-JP"))
	assert.Equal(t, "Save device is not busy.", l.Sprintf(language.Japanese, DeviceNotBusy))
}

func TestEnglishOnly(t *testing.T) {
	l, err := New()
	require.NoError(t, err)
	assert.Equal(t, language.English, l.Default())
	assert.Equal(t, language.English, l.Match("fr"))
}

func TestParse(t *testing.T) {
	tags, err := Parse([]string{"fr", "es"})
	require.NoError(t, err)
	assert.Equal(t, []language.Tag{language.French, language.Spanish}, tags)

	_, err = Parse([]string{"not a language"})
	assert.Error(t, err)
}
