//go:build windows

// Command dafix is the DAFix loader plugin. Built as a DLL it starts the
// Dragon Age fixes from the game process:
//
//	GOARCH=386 CGO_ENABLED=1 go build -buildmode=c-shared -o DAFix.asi ./cmd/dafix
package main

import "C"

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"unsafe"

	"golang.org/x/sys/windows"

	"github.com/zhuweiyou/memorypatch"
	"github.com/zhuweiyou/memorypatch/internal/config"
	"github.com/zhuweiyou/memorypatch/internal/fix"
)

const (
	name    = "DAFix"
	version = "0.0.1"

	threadPriorityHighest = 2
)

var procSetThreadPriority = windows.NewLazySystemDLL("kernel32.dll").NewProc("SetThreadPriority")

// anchor is any address inside this module's image.
var anchor byte

func init() {
	go start()
}

func main() {}

func start() {
	// the fix runs on its own thread with a raised priority so the
	// readiness poll keeps up with the game's start-up
	runtime.LockOSThread()
	priorityErr := raisePriority()

	exe, err := memorypatch.HostExecutable()
	if err != nil {
		return
	}
	// the log stays open for the hooks' lifetime, which is the process's
	logFile, err := os.Create(filepath.Join(filepath.Dir(exe), name+".log"))
	if err != nil {
		return
	}
	logger := slog.New(slog.NewTextHandler(logFile, &slog.HandlerOptions{Level: slog.LevelDebug}))
	slog.SetDefault(logger)

	logger.Info(name+" loaded", slog.String("version", version))
	if priorityErr != nil {
		logger.Warn("failed to raise thread priority", slog.Any("error", priorityErr))
	}
	if err := run(context.Background(), exe, logger); err != nil {
		logger.Error(name+" stopped", slog.Any("error", err))
	}
}

func raisePriority() error {
	thread, err := windows.GetCurrentThread()
	if err != nil {
		return err
	}
	r, _, err := procSetThreadPriority.Call(uintptr(thread), threadPriorityHighest)
	if r == 0 {
		return err
	}
	return nil
}

func run(ctx context.Context, exe string, logger *slog.Logger) error {
	mem := memorypatch.Local()
	module, err := memorypatch.MainModule()
	if err != nil {
		return err
	}
	logger.Info("module",
		slog.String("name", module.Name),
		slog.String("path", exe),
		slog.String("base", module.Base.String()),
		slog.Uint64("size", module.Size))
	if built, err := memorypatch.Timestamp(mem, module); err == nil {
		logger.Info("executable build time", slog.Time("timestamp", built))
	}

	dir, err := pluginDir()
	if err != nil {
		logger.Warn("plugin directory unknown, reading config next to the executable", slog.Any("error", err))
		dir = filepath.Dir(exe)
	}
	cfg, err := config.Load(filepath.Join(dir, config.FileName))
	if err != nil {
		return err
	}
	logger.Info("config parsed", slog.Any("config", cfg))

	title, ok := fix.Detect(exe)
	if !ok {
		return fmt.Errorf("unsupported executable %s", filepath.Base(exe))
	}
	logger.Info("detected game", slog.String("title", title.Name), slog.String("exe", title.Exe))

	f, err := fix.New(fix.Deps{
		Memory: mem,
		Module: module,
		Title:  title,
		Config: cfg,
		Logger: logger,
	})
	if err != nil {
		return err
	}
	// hooks are never removed; the game unloads the plugin on exit
	_, err = f.Run(ctx)
	return err
}

// pluginDir returns the directory of the module holding this code: the
// plugin DLL, or the executable when linked into one.
func pluginDir() (string, error) {
	var h windows.Handle
	flags := uint32(windows.GET_MODULE_HANDLE_EX_FLAG_FROM_ADDRESS | windows.GET_MODULE_HANDLE_EX_FLAG_UNCHANGED_REFCOUNT)
	if err := windows.GetModuleHandleEx(flags, (*uint16)(unsafe.Pointer(&anchor)), &h); err != nil {
		return "", fmt.Errorf("find plugin module: %w", err)
	}
	buf := make([]uint16, windows.MAX_PATH)
	for {
		n, err := windows.GetModuleFileName(h, &buf[0], uint32(len(buf)))
		if err != nil {
			return "", fmt.Errorf("plugin path: %w", err)
		}
		if int(n) < len(buf) {
			return filepath.Dir(windows.UTF16ToString(buf[:n])), nil
		}
		buf = make([]uint16, 2*len(buf))
	}
}
