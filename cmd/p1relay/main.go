// p1relay reads smart meter telegrams from P1 serial port and relays them
// to message bus (every telegram) and HTTP API (throttled).
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	_ "time/tzdata"

	"github.com/coreos/go-systemd/daemon"
	"github.com/juju/errors"
	"github.com/mattn/go-isatty"
	"github.com/temoto/alive/v2"
	"github.com/temoto/p1relay/hardware/serial"
	"github.com/temoto/p1relay/internal/metrics"
	"github.com/temoto/p1relay/internal/relay"
	"github.com/temoto/p1relay/internal/report"
	"github.com/temoto/p1relay/internal/state"
	"github.com/temoto/p1relay/log2"
	"github.com/temoto/p1relay/p1"
	"github.com/temoto/p1relay/tele"
)

const DefaultConfigPath = "config.json"

var log = log2.NewStderr(log2.LInfo)

func main() {
	cmdline := flag.NewFlagSet(os.Args[0], flag.ExitOnError)
	cmdline.Usage = func() {
		fmt.Fprintf(cmdline.Output(), "usage: %s [flags] [config.json]\n", os.Args[0])
		cmdline.PrintDefaults()
	}
	flagDebug := cmdline.Bool("debug", false, "debug logging, same as log_debug=true")
	_ = cmdline.Parse(os.Args[1:])

	if isatty.IsTerminal(os.Stderr.Fd()) {
		log.SetFlags(log2.LInteractiveFlags)
	} else {
		// systemd journal adds timestamp
		log.SetFlags(log2.LServiceFlags)
	}

	configPath := DefaultConfigPath
	switch cmdline.NArg() {
	case 0:
	case 1:
		configPath = cmdline.Arg(0)
	default:
		cmdline.Usage()
		os.Exit(2)
	}

	config := state.MustReadConfigFile(configPath, log)
	if config.LogDebug || *flagDebug {
		log.SetLevel(log2.LDebug)
	}

	if err := run(config); err != nil {
		log.Error(errors.ErrorStack(err))
		os.Exit(1)
	}
}

func run(config *state.Config) error {
	a := alive.NewAlive()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ctx = log2.ContextWithLogger(ctx, log)

	m := metrics.New()
	if config.MetricsListen != "" {
		if _, err := m.Listen(ctx, config.MetricsListen, log); err != nil {
			return err
		}
	}

	port, err := serial.Open(config.Serial(), log)
	if err != nil {
		return err
	}
	bus, err := tele.Dial(ctx, config.Tele(), log)
	if err != nil {
		_ = port.Close()
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	go func() {
		select {
		case sig := <-sigCh:
			log.Infof("signal=%v, stopping", sig)
			sdnotify(daemon.SdNotifyStopping)
			a.Stop()
		case <-a.StopChan():
		}
	}()

	sdnotify(daemon.SdNotifyReady)
	log.Infof("p1relay running port=%s location=%s", config.Port, config.LocationID)
	return relayMain(ctx, a, config, port, bus, m)
}

// relayMain runs pipeline until source ends, fatal error or a.Stop().
// Line source and bus are closed on return.
func relayMain(ctx context.Context, a *alive.Alive, config *state.Config, src p1.LineSource, bus tele.Publisher, m *metrics.Metrics) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var reporter relay.Reporter
	if rc, ok := config.Report(); ok {
		client, err := report.NewClient(rc, log)
		if err != nil {
			return err
		}
		reporter = client
	}
	sched := relay.NewScheduler(relay.Options{
		Bus:        bus,
		Reporter:   reporter,
		LocationID: config.LocationID,
		Interval:   config.APIInterval(),
		Log:        log,
		Metrics:    m,
	})
	reader := p1.NewReader(src, config.Location(), log)

	// Stop unblocks pending ReadLine by closing source.
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		select {
		case <-a.StopChan():
			cancel()
			if err := src.Close(); err != nil {
				log.Errorf("close line source err=%v", err)
			}
		case <-ctx.Done():
		}
	}()

	err := relay.Run(ctx, reader, sched, log, m)
	stopRequested := !a.IsRunning()
	a.Stop()
	cancel()
	<-stopped

	if stopRequested {
		// closed source or cancelled context is the expected outcome
		cause := errors.Cause(err)
		if cause == p1.ErrSourceClosed || cause == context.Canceled {
			err = nil
		}
	}
	if cerr := src.Close(); cerr != nil {
		log.Errorf("close line source err=%v", cerr)
	}
	if cerr := tele.CloseIfOpen(bus); cerr != nil {
		log.Errorf("close bus err=%v", cerr)
	}
	a.Wait()
	return err
}

func sdnotify(s string) bool {
	ok, err := daemon.SdNotify(false, s)
	if err != nil {
		log.Errorf("sdnotify: %v", errors.ErrorStack(err))
	}
	return ok
}
