package fix

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/zhuweiyou/memorypatch"
	"github.com/zhuweiyou/memorypatch/hook"
	"github.com/zhuweiyou/memorypatch/internal/config"
	"github.com/zhuweiyou/memorypatch/internal/geometry"
)

// Outcome is what happened to one site during Run.
type Outcome int

const (
	Skipped Outcome = iota
	Installed
	Patched
	NotFound
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Skipped:
		return "skipped"
	case Installed:
		return "installed"
	case Patched:
		return "patched"
	case NotFound:
		return "not found"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("Outcome(%d)", int(o))
}

// Result is the outcome of one site.
type Result struct {
	Site    string
	Outcome Outcome
	// Address is the first match, when there was one
	Address memorypatch.Address
	// Hook is the installed site for hooked sites
	Hook *hook.Site
	Err  error
}

// Report summarises a Run.
type Report struct {
	Title Title
	// Attempts is how many readiness probes were made
	Attempts int
	Results  []Result
}

// Count returns the number of sites with outcome o.
func (r Report) Count(o Outcome) int {
	n := 0
	for _, res := range r.Results {
		if res.Outcome == o {
			n++
		}
	}
	return n
}

func (r Report) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("game", r.Title.Game.String()),
		slog.Int("attempts", r.Attempts),
		slog.Int("installed", r.Count(Installed)),
		slog.Int("patched", r.Count(Patched)),
		slog.Int("not_found", r.Count(NotFound)),
		slog.Int("failed", r.Count(Failed)),
		slog.Int("skipped", r.Count(Skipped)),
	)
}

// Deps is everything a Fix works against.
type Deps struct {
	Memory memorypatch.Memory
	Module memorypatch.Module
	Title  Title
	Config config.Config
	// Engine installs the hooks. Nil creates an x86 engine over Memory
	// bounded by Module.
	Engine *hook.Engine
	// Geometry is shared with the callbacks. Nil starts from
	// geometry.Native.
	Geometry *geometry.State
	// Window restyles the game window. Nil uses NativeWindow.
	Window Window
	// Sleep replaces the readiness poller's wait.
	Sleep  func(ctx context.Context, d time.Duration) error
	Logger *slog.Logger
}

// Fix applies the catalog of sites for one title.
type Fix struct {
	mem     memorypatch.Memory
	module  memorypatch.Module
	title   Title
	cfg     config.Config
	scanner *memorypatch.Scanner
	engine  *hook.Engine
	poller  memorypatch.Poller
	geo     geometry.Reader
	dims    geometry.Writer
	native  float64
	window  Window
	logger  *slog.Logger
}

// New validates deps and fills in the defaults.
func New(deps Deps) (*Fix, error) {
	if deps.Memory == nil {
		return nil, errors.New("fix: no memory")
	}
	if deps.Title.Game == Unknown {
		return nil, errors.New("fix: unknown title")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Geometry == nil {
		deps.Geometry = geometry.NewState(geometry.Native)
	}
	if deps.Window == nil {
		deps.Window = NativeWindow()
	}
	if deps.Engine == nil {
		module := deps.Module
		engine, err := hook.NewEngine(deps.Memory, hook.Options{
			Arch:   hook.X86,
			Bounds: &module,
			Logger: deps.Logger,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create hook engine: %w", err)
		}
		deps.Engine = engine
	}

	return &Fix{
		mem:     deps.Memory,
		module:  deps.Module,
		title:   deps.Title,
		cfg:     deps.Config,
		scanner: memorypatch.NewScanner(deps.Memory, deps.Module, deps.Logger),
		engine:  deps.Engine,
		poller: memorypatch.Poller{
			Attempts: deps.Config.Readiness.Attempts,
			Interval: deps.Config.Readiness.Interval(),
			Sleep:    deps.Sleep,
		},
		geo:    deps.Geometry,
		dims:   deps.Geometry,
		native: deps.Geometry.Native(),
		window: deps.Window,
		logger: deps.Logger.With(slog.String("game", deps.Title.Game.String())),
	}, nil
}

// Run waits for the game to finish initialising and then applies every
// site of the title. Only an unready game is an error; sites that cannot
// be found or applied are logged and recorded in the report.
func (f *Fix) Run(ctx context.Context) (Report, error) {
	report := Report{Title: f.title}

	_, attempts, err := f.poller.WaitForSignature(ctx, f.scanner, ReadinessSignature)
	report.Attempts = attempts
	if err != nil {
		f.logger.Error("game did not finish initialising",
			slog.Int("attempts", attempts), slog.Any("error", err))
		return report, fmt.Errorf("readiness: %w", err)
	}
	f.logger.Info("game initialisation complete", slog.Int("attempts", attempts))

	for _, site := range Sites(f.title.Game) {
		report.Results = append(report.Results, f.apply(site))
	}
	f.logger.Info("fixes applied", slog.Any("report", report))
	return report, nil
}

func (f *Fix) apply(site Site) Result {
	res := Result{Site: site.Name}
	logger := f.logger.With(slog.String("site", site.Name))

	if site.Enabled != nil && !site.Enabled(f.cfg, f.title) {
		logger.Debug("site disabled")
		return res
	}

	matches := make([]memorypatch.Match, 0, len(site.Scans))
	for _, chain := range site.Scans {
		m, pattern, err := f.scanner.ScanAny(chain...)
		if errors.Is(err, memorypatch.ErrNotFound) {
			logger.Warn("pattern scan failed")
			res.Outcome, res.Err = NotFound, err
			return res
		}
		if err != nil {
			logger.Error("pattern scan error", slog.Any("error", err))
			res.Outcome, res.Err = Failed, err
			return res
		}
		logger.Info("found",
			slog.String("address", f.module.Format(m.Address)),
			slog.Int("pattern", pattern))
		matches = append(matches, m)
	}
	res.Address = matches[0].Address

	if site.Hook != nil {
		h, err := f.engine.Install(res.Address, site.Hook(f))
		if err != nil {
			logger.Error("failed to install hook", slog.Any("error", err))
			res.Outcome, res.Err = Failed, err
			return res
		}
		res.Outcome, res.Hook = Installed, h
		return res
	}

	if err := site.Patch(f, matches); err != nil {
		logger.Error("failed to patch", slog.Any("error", err))
		res.Outcome, res.Err = Failed, err
		return res
	}
	logger.Info("patched")
	res.Outcome = Patched
	return res
}

// Close removes every hook and frees the stubs.
func (f *Fix) Close() error {
	return f.engine.Close()
}
