// Package fix applies the Dragon Age widescreen and graphics fixes to the
// running game.
package fix

import (
	"path/filepath"
	"strings"
)

// Game identifies a supported title.
type Game int

const (
	Unknown Game = iota
	Origins
	DragonAge2
)

func (g Game) String() string {
	switch g {
	case Origins:
		return "DA1"
	case DragonAge2:
		return "DA2"
	}
	return "unknown"
}

// Capability is a fix a title's executable can take.
type Capability uint

const (
	Borderless Capability = 1 << iota
	AspectRatio
	Pillarbox
	DialogFOV
	HUDScale
	DrawDistance
	ShadowResolution
)

// Title describes one supported executable.
type Title struct {
	Game         Game
	Name         string
	Exe          string
	Capabilities Capability
}

// Supports reports whether every capability in c applies to t.
func (t Title) Supports(c Capability) bool {
	return t.Capabilities&c == c
}

// Titles lists the supported executables.
var Titles = []Title{
	{
		Game: Origins,
		Name: "Dragon Age: Origins",
		Exe:  "DAOrigins.exe",
		Capabilities: Borderless | AspectRatio | Pillarbox | DialogFOV |
			HUDScale | DrawDistance | ShadowResolution,
	},
	{
		Game:         DragonAge2,
		Name:         "Dragon Age II",
		Exe:          "DragonAge2.exe",
		Capabilities: Pillarbox | DialogFOV,
	},
}

// Detect finds the title for an executable name or path, ignoring case.
func Detect(exe string) (Title, bool) {
	name := filepath.Base(strings.ReplaceAll(exe, `\`, "/"))
	for _, t := range Titles {
		if strings.EqualFold(t.Exe, name) {
			return t, true
		}
	}
	return Title{}, false
}
