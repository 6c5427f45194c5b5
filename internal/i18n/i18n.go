// Package i18n localizes the user facing device and demo messages.
package i18n

import (
	"fmt"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/message/catalog"
)

// Message keys double as the English text.
const (
	DeviceReady          = "Save device is ready."
	DeviceNotReady       = "Save device is not ready."
	DeviceBusy           = "Save device is busy."
	DeviceNotBusy        = "Save device is not busy."
	SelectDevice         = "Select a storage device."
	SelectorCanceled     = "No storage device was selected. A device is required to save your progress."
	DeviceDisconnected   = "The storage device was disconnected. Select a device to continue saving."
	SaveCompleted        = "Save completed."
	Wrote                = "Wrote: \"%s\""
	Read                 = "Read: \"%s\""
	FinishedReading      = "Finished reading file."
	SaveFailed           = "Could not save %s/%s: %s"
	LoadCompleted        = "Loaded %s/%s."
	LoadFailed           = "Could not load %s/%s: %s"
	DeleteCompleted      = "Deleted %s/%s."
	DeleteFailed         = "Could not delete %s/%s: %s"
	NoFile               = "No file :("
	HelloWorld           = "Hello, World %d!"
	PressToSave          = "Press Z to save a file."
	PressToLoad          = "Press X to load a file."
	PressToSwitchDevices = "Press D to pick a storage device."
)

var translations = map[language.Tag]map[string]string{
	language.French: {
		DeviceReady:          "Le périphérique de sauvegarde est prêt.",
		DeviceNotReady:       "Le périphérique de sauvegarde n'est pas prêt.",
		DeviceBusy:           "Le périphérique de sauvegarde est occupé.",
		DeviceNotBusy:        "Le périphérique de sauvegarde n'est pas occupé.",
		SelectDevice:         "Sélectionnez un périphérique de stockage.",
		SelectorCanceled:     "Aucun périphérique de stockage n'a été sélectionné. Un périphérique est nécessaire pour sauvegarder votre progression.",
		DeviceDisconnected:   "Le périphérique de stockage a été déconnecté. Sélectionnez un périphérique pour continuer à sauvegarder.",
		SaveCompleted:        "Sauvegarde terminée.",
		Wrote:                "Écrit : « %s »",
		Read:                 "Lu : « %s »",
		FinishedReading:      "Lecture du fichier terminée.",
		SaveFailed:           "Impossible de sauvegarder %s/%s : %s",
		LoadCompleted:        "%s/%s chargé.",
		LoadFailed:           "Impossible de charger %s/%s : %s",
		DeleteCompleted:      "%s/%s supprimé.",
		DeleteFailed:         "Impossible de supprimer %s/%s : %s",
		NoFile:               "Aucun fichier :(",
		PressToSave:          "Appuyez sur Z pour sauvegarder un fichier.",
		PressToLoad:          "Appuyez sur X pour charger un fichier.",
		PressToSwitchDevices: "Appuyez sur D pour choisir un périphérique de stockage.",
	},
	language.Spanish: {
		DeviceReady:          "El dispositivo de guardado está listo.",
		DeviceNotReady:       "El dispositivo de guardado no está listo.",
		DeviceBusy:           "El dispositivo de guardado está ocupado.",
		DeviceNotBusy:        "El dispositivo de guardado no está ocupado.",
		SelectDevice:         "Seleccione un dispositivo de almacenamiento.",
		SelectorCanceled:     "No se seleccionó ningún dispositivo de almacenamiento. Se necesita un dispositivo para guardar su progreso.",
		DeviceDisconnected:   "El dispositivo de almacenamiento se desconectó. Seleccione un dispositivo para seguir guardando.",
		SaveCompleted:        "Guardado completado.",
		Wrote:                "Escrito: «%s»",
		Read:                 "Leído: «%s»",
		FinishedReading:      "Lectura del archivo terminada.",
		SaveFailed:           "No se pudo guardar %s/%s: %s",
		LoadCompleted:        "%s/%s cargado.",
		LoadFailed:           "No se pudo cargar %s/%s: %s",
		DeleteCompleted:      "%s/%s eliminado.",
		DeleteFailed:         "No se pudo eliminar %s/%s: %s",
		NoFile:               "Ningún archivo :(",
		PressToSave:          "Pulse Z para guardar un archivo.",
		PressToLoad:          "Pulse X para cargar un archivo.",
		PressToSwitchDevices: "Pulse D para elegir un dispositivo de almacenamiento.",
	},
	language.German: {
		DeviceReady:          "Das Speichergerät ist bereit.",
		DeviceNotReady:       "Das Speichergerät ist nicht bereit.",
		DeviceBusy:           "Das Speichergerät ist beschäftigt.",
		DeviceNotBusy:        "Das Speichergerät ist nicht beschäftigt.",
		SelectDevice:         "Wählen Sie ein Speichergerät.",
		SelectorCanceled:     "Es wurde kein Speichergerät ausgewählt. Zum Speichern Ihres Fortschritts wird ein Gerät benötigt.",
		DeviceDisconnected:   "Das Speichergerät wurde getrennt. Wählen Sie ein Gerät, um weiter zu speichern.",
		SaveCompleted:        "Speichern abgeschlossen.",
		Wrote:                "Geschrieben: „%s“",
		Read:                 "Gelesen: „%s“",
		FinishedReading:      "Datei fertig gelesen.",
		SaveFailed:           "%s/%s konnte nicht gespeichert werden: %s",
		LoadCompleted:        "%s/%s geladen.",
		LoadFailed:           "%s/%s konnte nicht geladen werden: %s",
		DeleteCompleted:      "%s/%s gelöscht.",
		DeleteFailed:         "%s/%s konnte nicht gelöscht werden: %s",
		NoFile:               "Keine Datei :(",
		PressToSave:          "Drücken Sie Z, um eine Datei zu speichern.",
		PressToLoad:          "Drücken Sie X, um eine Datei zu laden.",
		PressToSwitchDevices: "Drücken Sie D, um ein Speichergerät zu wählen.",
	},
}

// Localizer picks the best supported language for a request and formats
// messages in it. The first configured language is the default when nothing
// matches; English is always supported and supplies missing translations.
type Localizer struct {
	supported []language.Tag
	matcher   language.Matcher
	catalog   *catalog.Builder
}

// New builds a Localizer for the given languages plus English.
func New(languages ...language.Tag) (*Localizer, error) {
	supported := make([]language.Tag, 0, len(languages)+1)
	seen := map[language.Tag]bool{}
	for _, tag := range append(append([]language.Tag{}, languages...), language.English) {
		if !seen[tag] {
			seen[tag] = true
			supported = append(supported, tag)
		}
	}

	b := catalog.NewBuilder(catalog.Fallback(language.English))
	for _, tag := range supported {
		base, _ := tag.Base()
		for t, msgs := range translations {
			if tb, _ := t.Base(); tb != base {
				continue
			}
			for key, msg := range msgs {
				if err := b.SetString(tag, key, msg); err != nil {
					return nil, fmt.Errorf("register %s translation: %w", tag, err)
				}
			}
		}
	}

	return &Localizer{
		supported: supported,
		matcher:   language.NewMatcher(supported),
		catalog:   b,
	}, nil
}

// Parse turns BCP 47 names such as "fr" or "es-MX" into tags.
func Parse(names []string) ([]language.Tag, error) {
	tags := make([]language.Tag, 0, len(names))
	for _, n := range names {
		tag, err := language.Parse(n)
		if err != nil {
			return nil, fmt.Errorf("parse language %q: %w", n, err)
		}
		tags = append(tags, tag)
	}
	return tags, nil
}

func (l *Localizer) Supported() []language.Tag {
	out := make([]language.Tag, len(l.supported))
	copy(out, l.supported)
	return out
}

func (l *Localizer) Default() language.Tag { return l.supported[0] }

// Match picks the supported language closest to an Accept-Language header
// value. An empty, malformed or unsupported header selects the default.
func (l *Localizer) Match(acceptLanguage string) language.Tag {
	if acceptLanguage == "" {
		return l.Default()
	}
	desired, _, err := language.ParseAcceptLanguage(acceptLanguage)
	if err != nil || len(desired) == 0 {
		return l.Default()
	}
	_, idx, confidence := l.matcher.Match(desired...)
	if confidence == language.No {
		return l.Default()
	}
	return l.supported[idx]
}

func (l *Localizer) Printer(tag language.Tag) *message.Printer {
	return message.NewPrinter(tag, message.Catalog(l.catalog))
}

func (l *Localizer) Sprintf(tag language.Tag, key string, args ...any) string {
	return l.Printer(tag).Sprintf(key, args...)
}
