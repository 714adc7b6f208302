package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/zhuweiyou/memorypatch"
	"github.com/zhuweiyou/memorypatch/hook"
	"github.com/zhuweiyou/memorypatch/internal/config"
	"github.com/zhuweiyou/memorypatch/internal/fix"
)

// dryRunEntry is the callback address written into stubs during a dry run.
// The stubs are never executed.
const dryRunEntry = 0x10001000

var errSignaturesMissing = errors.New("signatures missing")

func checkCommand(cmd *cobra.Command, args []string) error {
	path := args[0]
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))

	exe := titleFlag
	if exe == "" {
		exe = filepath.Base(path)
	}
	title, ok := fix.Detect(exe)
	if !ok {
		return fmt.Errorf("%s is not a supported executable, use --title", exe)
	}

	img, err := loadImage(path)
	if err != nil {
		return err
	}
	module := img.Module()
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s (%s) at %s, %d bytes mapped\n", title.Name, module.Name, module.Base, module.Size)
	if built, err := memorypatch.Timestamp(img, module); err == nil {
		fmt.Fprintf(out, "built %s\n", built.Format(time.RFC3339))
	}
	fmt.Fprintln(out)

	scanner := memorypatch.NewScanner(img, module, logger)
	missing, err := checkSignatures(out, scanner, title.Game)
	if err != nil {
		return err
	}

	if dryRunFlag {
		fmt.Fprintln(out)
		if err := dryRun(out, img, title, logger); err != nil {
			return err
		}
	}
	if missing > 0 {
		return fmt.Errorf("%d %w", missing, errSignaturesMissing)
	}
	return nil
}

// checkSignatures prints every match of every signature and returns how
// many sites would not be found.
func checkSignatures(w io.Writer, scanner *memorypatch.Scanner, game fix.Game) (int, error) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SITE\tSCAN\tMATCHES\tADDRESSES")

	missing := 0
	check := func(site string, chain []string, scan int) error {
		found := false
		for i, pattern := range chain {
			sig, err := memorypatch.ParseSignature(pattern)
			if err != nil {
				return fmt.Errorf("%s: %w", site, err)
			}
			matches, err := scanner.FindAll(sig)
			if err != nil {
				return fmt.Errorf("%s: %w", site, err)
			}
			addrs := make([]string, len(matches))
			for j, m := range matches {
				addrs[j] = scanner.Module().Format(m.Address)
			}
			fmt.Fprintf(tw, "%s\t%d.%d\t%d\t%s\n", site, scan, i, len(matches), strings.Join(addrs, " "))
			found = found || len(matches) > 0
		}
		if !found {
			missing++
		}
		return nil
	}

	if err := check("readiness", []string{fix.ReadinessSignature}, 0); err != nil {
		return 0, err
	}
	for _, site := range fix.Sites(game) {
		for i, chain := range site.Scans {
			if err := check(site.Name, chain, i); err != nil {
				return 0, err
			}
		}
	}
	return missing, tw.Flush()
}

// dryRun applies the fix to the image and prints each site's outcome.
func dryRun(w io.Writer, img *memorypatch.Image, title fix.Title, logger *slog.Logger) error {
	cfg := config.Default()
	if configFlag != "" {
		var err error
		if cfg, err = config.Load(configFlag); err != nil {
			return err
		}
	}
	// the image is either ready now or never
	cfg.Readiness.Attempts = 1

	module := img.Module()
	engine, err := hook.NewEngine(img, hook.Options{
		Arch:   hook.X86,
		Entry:  dryRunEntry,
		Bounds: &module,
		Logger: logger,
	})
	if err != nil {
		return err
	}
	f, err := fix.New(fix.Deps{
		Memory: img,
		Module: module,
		Title:  title,
		Config: cfg,
		Engine: engine,
		Logger: logger,
	})
	if err != nil {
		return err
	}
	defer f.Close()

	report, err := f.Run(context.Background())
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SITE\tOUTCOME\tADDRESS\tDETAIL")
	for _, res := range report.Results {
		addr, detail := "-", ""
		if res.Address != 0 {
			addr = module.Format(res.Address)
		}
		if res.Hook != nil {
			detail = fmt.Sprintf("%d bytes displaced", res.Hook.Len())
		}
		if res.Err != nil {
			detail = res.Err.Error()
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", res.Site, res.Outcome, addr, detail)
	}
	return tw.Flush()
}
