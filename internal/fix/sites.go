package fix

import (
	"github.com/zhuweiyou/memorypatch"
	"github.com/zhuweiyou/memorypatch/hook"
	"github.com/zhuweiyou/memorypatch/internal/config"
)

// ReadinessSignature appears once the game has finished initialising.
const ReadinessSignature = "D9 ?? ?? ?? D9 ?? ?? ?? ?? ?? 32 ?? 5E 8B ?? 5D C2 ?? ??"

// Site is one place in the game the fix changes. Every scan must match for
// the site to apply; a scan lists fallback patterns tried in order. A site
// either hooks the first match or patches using all of them.
type Site struct {
	Name    string
	Games   []Game
	Scans   [][]string
	Enabled func(cfg config.Config, t Title) bool
	Hook    func(f *Fix) hook.Callback
	Patch   func(f *Fix, matches []memorypatch.Match) error
}

func (s Site) appliesTo(g Game) bool {
	for _, game := range s.Games {
		if game == g {
			return true
		}
	}
	return false
}

var (
	both = []Game{Origins, DragonAge2}
	da1  = []Game{Origins}
	da2  = []Game{DragonAge2}
)

func aspectFix(cfg config.Config, t Title) bool {
	return cfg.FixAspectRatio.Enabled && t.Supports(AspectRatio)
}

func pillarboxFix(cfg config.Config, t Title) bool {
	return cfg.DisablePillarboxing.Enabled && t.Supports(Pillarbox)
}

var catalog = []Site{
	{
		Name:  "current resolution",
		Games: both,
		Scans: [][]string{{
			"D9 ?? ?? ?? ?? ?? 85 ?? DB ?? ?? ?? ?? ?? ?? 7D ?? D8 ?? ?? ?? ?? ??",
			"DB ?? ?? ?? ?? ?? ?? 85 ?? 7D ?? D8 ?? ?? ?? ?? ?? 8B ?? ?? ?? ?? ?? ?? D9 ?? ?? ?? ?? ?? D9 ??",
		}},
		Hook: func(f *Fix) hook.Callback { return f.currentResolution },
	},
	{
		Name:  "borderless window",
		Games: da1,
		Scans: [][]string{{"74 ?? 8B ?? ?? ?? ?? ?? ?? ?? 50 FF ?? ?? ?? ?? ?? 5E C3"}},
		Enabled: func(cfg config.Config, t Title) bool {
			return cfg.BorderlessFor(t.Exe, t.Supports(Borderless))
		},
		Hook: func(f *Fix) hook.Callback { return f.borderless },
	},
	{
		Name:    "speedtree culling",
		Games:   da1,
		Scans:   [][]string{{"F6 ?? 05 7B ?? D9 ?? ?? ?? ?? ?? DE ?? D9 ?? ?? ?? ?? ??"}},
		Enabled: aspectFix,
		Patch:   (*Fix).speedtreeCulling,
	},
	{
		Name:    "shadow aspect ratio",
		Games:   da1,
		Scans:   [][]string{{"8B ?? 8B ?? ?? ?? ?? ?? 8B ?? FF ?? DC ?? ?? ?? ?? ?? D9 ?? ?? ?? D9 ?? ?? ?? E8 ?? ?? ?? ??"}},
		Enabled: aspectFix,
		Hook:    func(f *Fix) hook.Callback { return f.shadowAspect },
	},
	{
		Name:    "dialog pillarboxing",
		Games:   da1,
		Scans:   [][]string{{"FF ?? 8B ?? ?? ?? ?? ?? 85 C0 74 ?? C6 ?? ?? 01"}},
		Enabled: pillarboxFix,
		Hook:    func(f *Fix) hook.Callback { return f.pillarboxStack },
	},
	{
		Name:    "dialog pillarboxing",
		Games:   da2,
		Scans:   [][]string{{"89 ?? ?? ?? 89 ?? ?? ?? EB ?? DD ?? DE ?? DF ?? F6 ?? ?? 7A ??"}},
		Enabled: pillarboxFix,
		Hook:    func(f *Fix) hook.Callback { return f.pillarboxRegisters },
	},
	{
		Name:  "dialog fov",
		Games: both,
		Scans: [][]string{{ReadinessSignature}},
		Enabled: func(cfg config.Config, t Title) bool {
			return cfg.DisablePillarboxing.Enabled && t.Supports(DialogFOV)
		},
		Hook: func(f *Fix) hook.Callback { return f.dialogFOV },
	},
	{
		Name:  "hud scale",
		Games: da1,
		Scans: [][]string{{"D9 ?? ?? ?? 8B ?? D9 ?? ?? ?? D9 ?? ?? ?? 8B ?? ?? 53"}},
		Enabled: func(cfg config.Config, t Title) bool {
			return cfg.HUDScaleEnabled() && t.Supports(HUDScale)
		},
		Hook: func(f *Fix) hook.Callback { return f.hudScale },
	},
	{
		Name:  "draw distance",
		Games: da1,
		Scans: [][]string{
			{"D9 ?? ?? ?? ?? ?? D9 ?? ?? ?? ?? ?? D9 ?? ?? ?? ?? ?? EB ?? D9 ?? ?? ?? ?? ?? D9 ?? ?? ?? ?? ??"},
			{"D9 ?? ?? ?? ?? ?? DE ?? DF ?? F6 ?? ?? 74 ?? C6 ?? ?? ?? 00"},
		},
		Enabled: func(cfg config.Config, t Title) bool {
			return cfg.DrawDistancesEnabled() && t.Supports(DrawDistance)
		},
		Patch: (*Fix).drawDistances,
	},
	{
		Name:  "shadow resolution",
		Games: da1,
		Scans: [][]string{{"C7 ?? ?? ?? ?? ?? 00 04 00 00 56 57 E8 ?? ?? ?? ??"}},
		Enabled: func(cfg config.Config, t Title) bool {
			return cfg.ShadowResolutionEnabled() && t.Supports(ShadowResolution)
		},
		Patch: (*Fix).shadowResolution,
	},
}

// Sites returns the sites applied to g, in the order they are applied.
func Sites(g Game) []Site {
	var out []Site
	for _, s := range catalog {
		if s.appliesTo(g) {
			out = append(out, s)
		}
	}
	return out
}
