package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"omni/live/internal/geo"
	"omni/live/internal/localization"
	"omni/live/internal/models"
	"omni/live/internal/tracking"

	"github.com/spf13/pflag"
)

var errUsage = errors.New("wrong number of arguments")

func runGeocode(args []string) error {
	fs := pflag.NewFlagSet("geocode", pflag.ExitOnError)
	build := commonFlags(fs)
	fs.Parse(args)
	a, err := build()
	if err != nil {
		return err
	}
	text := strings.Join(fs.Args(), " ")
	if strings.TrimSpace(text) == "" {
		return errUsage
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	res := a.geocoder().Geocode(ctx, text)
	if res == nil {
		fmt.Fprintln(a.out, a.notices.GetString(a.cfg.Language, localization.KeyLocationNotFound))
		return nil
	}
	fmt.Fprintf(a.out, "%.6f,%.6f  ±%.0f m  (matched %q)\n%s\n",
		res.Center.Lat, res.Center.Lng, res.RadiusMeters, res.Query, res.DisplayName)
	return nil
}

func runReverse(args []string) error {
	fs := pflag.NewFlagSet("reverse", pflag.ExitOnError)
	build := commonFlags(fs)
	fs.Parse(args)
	a, err := build()
	if err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errUsage
	}
	p, err := tracking.ParsePoint(fs.Arg(0))
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	place, err := a.geocoder().Reverse(ctx, p)
	if err != nil {
		return err
	}
	if place == nil {
		fmt.Fprintln(a.out, "no address here")
		return nil
	}
	fmt.Fprintln(a.out, place.DisplayName)
	return nil
}

func runRoute(args []string) error {
	fs := pflag.NewFlagSet("route", pflag.ExitOnError)
	build := commonFlags(fs)
	showPath := fs.Bool("path", false, "print every route point")
	fs.Parse(args)
	a, err := build()
	if err != nil {
		return err
	}
	from, to, err := twoPoints(fs.Args())
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	r, err := a.router().Fetch(ctx, from, to)
	if err != nil {
		return err
	}
	if r == nil {
		fmt.Fprintln(a.out, "no driving route, falling back to a straight line")
		printStraightLine(a, from, to)
		return nil
	}
	fmt.Fprintf(a.out, "%.1f km by road, %s without traffic, ETA %s\n",
		r.DistanceMeters/1000, geo.FormatDuration(r.DurationSeconds), geo.FormatETAFromSeconds(time.Now(), r.DurationSeconds))
	if *showPath {
		for _, p := range r.Coords {
			fmt.Fprintf(a.out, "%.6f,%.6f\n", p.Lat, p.Lng)
		}
	}
	return nil
}

func runETA(args []string) error {
	fs := pflag.NewFlagSet("eta", pflag.ExitOnError)
	build := commonFlags(fs)
	fs.Parse(args)
	a, err := build()
	if err != nil {
		return err
	}
	from, to, err := twoPoints(fs.Args())
	if err != nil {
		return err
	}
	printStraightLine(a, from, to)
	return nil
}

func printStraightLine(a *app, from, to models.GeoPoint) {
	km := geo.DistanceKm(from, to)
	fmt.Fprintf(a.out, "%.2f km straight line, ETA %s\n", km, geo.FormatETAFromDistance(time.Now(), km))
}

func twoPoints(args []string) (models.GeoPoint, models.GeoPoint, error) {
	if len(args) != 2 {
		return models.GeoPoint{}, models.GeoPoint{}, errUsage
	}
	from, err := tracking.ParsePoint(args[0])
	if err != nil {
		return models.GeoPoint{}, models.GeoPoint{}, err
	}
	to, err := tracking.ParsePoint(args[1])
	if err != nil {
		return models.GeoPoint{}, models.GeoPoint{}, err
	}
	return from, to, nil
}
