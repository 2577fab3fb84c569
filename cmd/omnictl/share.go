package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"omni/live/internal/tracking"

	"github.com/spf13/pflag"
)

// interruptGuard swallows the first interrupt while sharing is active so a
// stray Ctrl-C does not silently stop the broadcast.
type interruptGuard struct {
	sharing func() bool
	warned  bool
}

// exit reports whether the process should stop on this interrupt.
func (g *interruptGuard) exit() bool {
	if g.sharing() && !g.warned {
		g.warned = true
		return false
	}
	return true
}

func runShare(args []string) error {
	fs := pflag.NewFlagSet("share", pflag.ExitOnError)
	build := commonFlags(fs)
	bookingID := fs.StringP("booking", "b", "", "booking id")
	gps := fs.String("gps", "-", `file of "lat,lng" fixes, "-" for stdin`)
	at := fs.String("at", "", "fixed position lat,lng instead of --gps")
	viewOnly := fs.Bool("view-only", false, "show the route without broadcasting")
	fs.Parse(args)
	a, err := build()
	if err != nil {
		return err
	}
	if *bookingID == "" {
		return errUsage
	}

	var source tracking.PositionSource
	switch {
	case *at != "":
		p, err := tracking.ParsePoint(*at)
		if err != nil {
			return err
		}
		source = tracking.StaticSource{Point: p}
	case *gps == "-":
		source = tracking.LineSource{R: os.Stdin}
	default:
		f, err := os.Open(*gps)
		if err != nil {
			return err
		}
		defer f.Close()
		source = tracking.LineSource{R: f}
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigs)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	booking, err := a.apiClient().Booking(ctx, a.cfg.Token, *bookingID)
	cancel()
	if err != nil {
		return fmt.Errorf("load booking: %w", err)
	}

	sess := tracking.NewSession(tracking.Options{
		Geocoder: a.geocoder(),
		Router:   a.router(),
		Source:   source,
		Dial:     a.shareDialer(),
		Logger:   a.logger,
		Notices:  a.notices,
		Language: a.cfg.Language,
	})
	if err := sess.Open(booking, a.cfg.Token); err != nil {
		return err
	}
	defer sess.Shutdown()

	if !*viewOnly {
		if err := sess.StartSharing(); err != nil {
			fmt.Fprintf(a.out, "! %v\n", err)
		}
	}

	guard := &interruptGuard{sharing: sess.Sharing}
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	var last string

	for {
		select {
		case <-sigs:
			if !guard.exit() {
				fmt.Fprintln(a.out, "Location sharing is on. Press Ctrl-C again to stop sharing and quit.")
				continue
			}
			return nil
		case <-ticker.C:
			if line := formatTrackingView(sess.Snapshot()); line != last {
				fmt.Fprintln(a.out, line)
				last = line
			}
		}
	}
}

func formatTrackingView(v tracking.View) string {
	switch {
	case v.Error != "":
		return "! " + v.Error
	case v.Worker == nil:
		return "waiting for a position fix..."
	case v.Counterpart == nil:
		if v.Notice != "" {
			return "! " + v.Notice
		}
		return fmt.Sprintf("at %.5f,%.5f, looking up the service address...", v.Worker.Lat, v.Worker.Lng)
	}

	kind := "straight line"
	if v.RoadRoute {
		kind = "by road"
	}
	target := "exact address"
	if !v.Counterpart.Exact {
		target = fmt.Sprintf("within %.0f m of %s", v.Counterpart.RadiusMeters, v.Counterpart.Label)
	}
	line := fmt.Sprintf("at %.5f,%.5f  %.2f km %s to %s  ETA %s", v.Worker.Lat, v.Worker.Lng, v.DistanceKm, kind, target, v.ETA)
	if v.Sharing {
		line += "  [sharing]"
	}
	return line
}
