// Package card renders the finished portrait card: a gradient background,
// the color-harmonized subject, an accent frame, a label bar and the
// uppercased name.
package card

import (
	"errors"
	"image/color"
)

// ErrUnknownTemplate is returned for a template id outside the catalog.
var ErrUnknownTemplate = errors.New("unknown card template")

// Template is a named color scheme for the card.
type Template struct {
	ID         int
	Name       string
	Background color.NRGBA
	Accent     color.NRGBA
}

var (
	systemBlue   = color.NRGBA{R: 0, G: 122, B: 255, A: 255}
	systemRed    = color.NRGBA{R: 255, G: 59, B: 48, A: 255}
	systemGreen  = color.NRGBA{R: 52, G: 199, B: 89, A: 255}
	systemYellow = color.NRGBA{R: 255, G: 204, B: 0, A: 255}
	white        = color.NRGBA{R: 255, G: 255, B: 255, A: 255}
	deepGold     = color.NRGBA{R: 51, G: 38, B: 13, A: 255}
)

var catalog = []Template{
	{ID: 0, Name: "Classic Blue", Background: systemBlue, Accent: systemYellow},
	{ID: 1, Name: "Fire Red", Background: systemRed, Accent: white},
	{ID: 2, Name: "Gold Elite", Background: deepGold, Accent: systemYellow},
	{ID: 3, Name: "Emerald", Background: systemGreen, Accent: white},
}

// Templates returns a copy of the template catalog ordered by id.
func Templates() []Template {
	return append([]Template(nil), catalog...)
}

// LookupTemplate returns the template with the given id.
func LookupTemplate(id int) (Template, error) {
	for _, t := range catalog {
		if t.ID == id {
			return t, nil
		}
	}
	return Template{}, ErrUnknownTemplate
}
