// Command omnictl is a line-oriented Omni client: booking chat, live
// location sharing and the map lookups behind them.
package main

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"omni/live/internal/api"
	"omni/live/internal/apicache"
	"omni/live/internal/chat"
	"omni/live/internal/clock"
	"omni/live/internal/config"
	"omni/live/internal/geocode"
	"omni/live/internal/localization"
	"omni/live/internal/realtime"
	"omni/live/internal/route"
	"omni/live/internal/tracking"

	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
)

const usage = `Usage: omnictl <command> [flags]

Commands:
  chat     --booking ID         chat with the other side of a booking
  share    --booking ID         show the route to a booking and share your position
  geocode  <address>            approximate position of a free-text address
  reverse  <lat,lng>            address at a position
  route    <lat,lng> <lat,lng>  driving route between two positions
  eta      <lat,lng> <lat,lng>  straight-line distance and arrival estimate

Common flags:
  -c, --config FILE   TOML config (default omni.toml)
      --token TOKEN   bearer token (overrides OMNI_TOKEN)`

// app carries what every subcommand needs.
type app struct {
	cfg     *config.Config
	logger  *logrus.Logger
	notices *localization.Localizer
	out     io.Writer
	// cache backs every GET the CLI makes: bookings, place search, routes.
	cache *apicache.Transport
	httpc *http.Client
}

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}

	commands := map[string]func([]string) error{
		"chat":    runChat,
		"share":   runShare,
		"geocode": runGeocode,
		"reverse": runReverse,
		"route":   runRoute,
		"eta":     runETA,
	}
	cmd, ok := commands[os.Args[1]]
	if !ok {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}

	if err := cmd(os.Args[2:]); err != nil {
		fmt.Fprintf(os.Stderr, "omnictl %s: %v\n", os.Args[1], err)
		os.Exit(1)
	}
}

// commonFlags registers the flags every subcommand accepts and returns a
// function that builds the app once the set is parsed.
func commonFlags(fs *pflag.FlagSet) func() (*app, error) {
	configPath := fs.StringP("config", "c", "omni.toml", "TOML config file")
	token := fs.String("token", "", "bearer token")
	verbose := fs.BoolP("verbose", "v", false, "debug logging")

	return func() (*app, error) {
		if err := config.LoadDotEnv(".env"); err != nil {
			return nil, err
		}
		cfg, err := config.Load(*configPath)
		if err != nil {
			return nil, err
		}
		if *token != "" {
			cfg.Token = *token
		}
		if *verbose {
			cfg.LogLevel = "debug"
		}
		logger, err := cfg.NewLogger()
		if err != nil {
			return nil, err
		}
		logger.SetOutput(os.Stderr)
		return newApp(cfg, logger, os.Stdout), nil
	}
}

func newApp(cfg *config.Config, logger *logrus.Logger, out io.Writer) *app {
	cache := apicache.New(http.DefaultTransport, cfg.CacheTTL, clock.Real(), logger)
	return &app{
		cfg:     cfg,
		logger:  logger,
		notices: localization.Default(),
		out:     out,
		cache:   cache,
		httpc:   &http.Client{Transport: cache, Timeout: 20 * time.Second},
	}
}

func (a *app) apiClient() *api.Client {
	return api.NewClient(a.cfg.APIURL, a.httpc, a.logger)
}

func (a *app) geocoder() *geocode.Geocoder {
	return geocode.New(geocode.NewNominatimClient(a.cfg.GeocoderURL, a.cfg.UserAgent, a.httpc, a.logger), a.logger)
}

func (a *app) router() *route.Client {
	return route.NewClient(a.cfg.RouterURL, a.httpc, a.logger)
}

func (a *app) connect(token string) *realtime.Conn {
	return realtime.New(realtime.DefaultConfig(a.cfg.WSURL), token, a.logger)
}

// chatDialer and shareDialer return a nil interface, not a typed nil, when
// there is no connection.
func (a *app) chatDialer() chat.Dialer {
	return func(token string) chat.Transport {
		if c := a.connect(token); c != nil {
			return c
		}
		return nil
	}
}

func (a *app) shareDialer() func(string) tracking.Broadcaster {
	return func(token string) tracking.Broadcaster {
		if c := a.connect(token); c != nil {
			return c
		}
		return nil
	}
}
