package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/benbjohnson/clock"

	"github.com/butter-bot-machines/timermux/pkg/config"
	"github.com/butter-bot-machines/timermux/pkg/config/profile"
	"github.com/butter-bot-machines/timermux/pkg/counter/real"
	"github.com/butter-bot-machines/timermux/pkg/feed"
	"github.com/butter-bot-machines/timermux/pkg/scheduler"
)

const version = "timermux v0.1.0"

func main() {
	initCmd := flag.NewFlagSet("init", flag.ExitOnError)
	initDir := initCmd.String("dir", ".", "directory to write profile.yaml into")

	runCmd := flag.NewFlagSet("run", flag.ExitOnError)
	runDir := runCmd.String("dir", ".", "directory containing profile.yaml")
	runWatch := runCmd.Bool("watch", false, "hot-reload timer delays when profile.yaml changes")

	versionCmd := flag.NewFlagSet("version", flag.ExitOnError)

	if len(os.Args) < 2 {
		fmt.Println("expected 'init', 'run' or 'version' subcommands")
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "init":
		initCmd.Parse(os.Args[2:])
		err = runInit(*initDir)
	case "run":
		runCmd.Parse(os.Args[2:])
		err = runServe(*runDir, *runWatch)
	case "version":
		versionCmd.Parse(os.Args[2:])
		fmt.Println(version)
		return
	default:
		fmt.Printf("%q is not a valid command.\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// runInit writes a starter profile to <dir>/profile.yaml.
func runInit(dir string) error {
	manager := profile.NewManager(dir)
	if err := manager.SetProfile(&config.Profile{
		InputFrequency: 16_000_000,
		ClockDivision:  256,
		CounterBits:    16,
		Timers: []config.TimerDecl{
			{Name: "heartbeat", Delay: 1000, Periodic: true},
		},
	}); err != nil {
		return fmt.Errorf("failed to set starter profile: %w", err)
	}
	if err := manager.Save(); err != nil {
		return fmt.Errorf("failed to write profile: %w", err)
	}
	fmt.Printf("wrote %s/profile.yaml\n", dir)
	return nil
}

// runServe loads the profile, attaches every declared timer to a live
// scheduler, and blocks until interrupted. With -watch, a changed delay in
// profile.yaml is applied to the matching running timer via Control's
// regular ChangeDelay — the hot-reload never bypasses the scheduler core.
func runServe(dir string, watch bool) error {
	manager := profile.NewManager(dir)
	if err := manager.Load(); err != nil {
		return fmt.Errorf("failed to load profile: %w", err)
	}
	profile := manager.Profile()

	_, tickFreq := profile.Derived()
	cnt := real.New(clock.New(), tickFreq, profile.CounterBits)

	ctrl := scheduler.New(cnt, scheduler.Options{})
	if err := ctrl.Begin(); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}
	defer ctrl.Stop()

	timers := make(map[string]*feed.Timer, len(profile.Timers))
	for _, decl := range profile.Timers {
		name := decl.Name
		t := feed.NewTimer(decl.Delay, decl.Periodic, func() {
			fmt.Printf("timer %q fired\n", name)
		})
		timers[name] = t
		ctrl.Attach(t)
	}

	if watch {
		if err := manager.Watch(); err != nil {
			return fmt.Errorf("failed to watch profile: %w", err)
		}
		defer manager.Close()
		go func() {
			for updated := range manager.Changes() {
				for _, decl := range updated.Timers {
					t, ok := timers[decl.Name]
					if !ok {
						continue
					}
					ctrl.ChangeDelay(t, decl.Delay)
				}
			}
		}()
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	return nil
}
