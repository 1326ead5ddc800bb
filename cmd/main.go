package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"

	cal "shiftcal/internal/calendar"
	"shiftcal/internal/config"
	"shiftcal/internal/google"
	"shiftcal/internal/icloud"
	"shiftcal/internal/models"
	"shiftcal/internal/roster"
	"shiftcal/internal/store"
	"shiftcal/internal/syncer"
)

func main() {
	// Load .env file first, but don't error if it doesn't exist.
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newApp().RunContext(ctx, os.Args); err != nil {
		slog.Error("Application failed", "error", err)
		if cal.IsAuthError(err) {
			slog.Error("Re-authenticate with the 'auth' command and try again.")
		}
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "shiftcal",
		Usage: "Sync roster shifts to a calendar.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Value: config.DefaultPath(), Usage: "Path to the settings file."},
			&cli.StringFlag{Name: "log-level", EnvVars: []string{"LOG_LEVEL"}, Value: "info", Usage: "debug, info, warn or error."},
		},
		Commands: []*cli.Command{
			authCommand(),
			shiftsCommand(),
			addCommand(),
			deleteCommand(),
			syncCommand(),
			statusCommand(),
			migrateKeysCommand(),
			configCommand(),
		},
	}
}

// env bundles what every command needs.
type env struct {
	logger *slog.Logger
	cfg    *config.Config
	path   string
}

func loadEnv(c *cli.Context) (*env, error) {
	logger := setupLogger(c.String("log-level"))
	path := c.String("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger.Debug("Loaded config", "path", path, "backend", cfg.Backend, "store", cfg.Store)
	return &env{logger: logger, cfg: cfg, path: path}, nil
}

func (e *env) openStore() (store.Store, error) {
	st, err := store.Open(e.cfg.Store, e.cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to open sync state: %w", err)
	}
	return st, nil
}

func (e *env) newGateway(ctx context.Context) (cal.Gateway, error) {
	switch e.cfg.Backend {
	case config.BackendICloud:
		return icloud.NewClient(ctx, e.logger, e.cfg.ICloudEndpoint,
			os.Getenv("ICLOUD_USERNAME"), os.Getenv("ICLOUD_APP_SPECIFIC_PASSWORD"), e.cfg.ICloudCalendar)
	default:
		return google.NewClient(ctx, e.logger, os.Getenv("GOOGLE_CLIENT_ID"), os.Getenv("GOOGLE_CLIENT_SECRET"),
			e.cfg.DataDir, e.cfg.Account, e.cfg.CalendarID)
	}
}

func (e *env) newSyncer(ctx context.Context, st store.Store, dryRun bool) (*syncer.Syncer, error) {
	var gateway cal.Gateway
	if !dryRun {
		gw, err := e.newGateway(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to create calendar client: %w", err)
		}
		gateway = gw
	}
	settings := syncer.Settings{
		Title:    e.cfg.CalendarTitle,
		ColorID:  e.cfg.CalendarColor,
		TimeZone: e.cfg.Timezone,
	}
	return syncer.NewSyncer(e.logger, gateway, st, settings, dryRun), nil
}

var sourceFlags = []cli.Flag{
	&cli.StringFlag{Name: "url", Usage: "Roster page to render and scrape."},
	&cli.StringFlag{Name: "html", Usage: "Saved roster page to read instead of rendering --url."},
	&cli.IntFlag{Name: "year", Usage: "Year of the first row. Defaults to the year in --url, then the current year."},
	&cli.BoolFlag{Name: "show-browser", Usage: "Render the roster page in a visible browser window (for logging in)."},
}

// loadSlots scrapes the roster named by the source flags.
func (e *env) loadSlots(c *cli.Context) ([]roster.Slot, error) {
	url, htmlPath := c.String("url"), c.String("html")

	var page string
	switch {
	case htmlPath != "":
		data, err := os.ReadFile(htmlPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read roster html: %w", err)
		}
		page = string(data)
	case url != "":
		if err := roster.CheckURL(url, e.cfg.RosterURLPattern); err != nil {
			return nil, err
		}
		fetcher := roster.NewFetcher(e.logger, roster.FetchOptions{
			ProfileDir: e.cfg.BrowserProfile,
			Headless:   !c.Bool("show-browser"),
			Timeout:    e.cfg.FetchTimeout(),
		})
		html, err := fetcher.FetchHTML(c.Context, url)
		if err != nil {
			return nil, err
		}
		page = html
	default:
		return nil, fmt.Errorf("either --url or --html is required")
	}

	rows, err := roster.ExtractRows(strings.NewReader(page))
	if err != nil {
		return nil, err
	}

	year := c.Int("year")
	if year == 0 {
		if y, ok := roster.YearFromURL(url); ok {
			year = y
		} else {
			year = e.now().Year()
		}
	}

	slots := roster.Scan(rows, year)
	e.logger.Info("Parsed roster", "rows", len(rows), "slots", len(slots), "year", year)
	return slots, nil
}

func (e *env) now() time.Time {
	loc, err := e.cfg.Location()
	if err != nil {
		return time.Now()
	}
	return time.Now().In(loc)
}

// rosterView keeps one handle per roster slot position so a later scrape of
// the same page updates rows in place instead of tracking them again.
type rosterView struct {
	logger  *slog.Logger
	syncer  *syncer.Syncer
	handles map[string]syncer.Handle
}

func newRosterView(logger *slog.Logger, s *syncer.Syncer) *rosterView {
	return &rosterView{logger: logger, syncer: s, handles: make(map[string]syncer.Handle)}
}

// apply tracks new slots and re-evaluates slots seen on an earlier scrape.
// A slot's position is its date and its index among that date's slots.
func (v *rosterView) apply(ctx context.Context, slots []roster.Slot) error {
	perDate := make(map[string]int)
	for _, slot := range slots {
		date := slot.Shift.Date
		pos := fmt.Sprintf("%s#%d", date, perDate[date])
		perDate[date]++

		if h, ok := v.handles[pos]; ok {
			_, err := v.syncer.Update(ctx, h, slot.Shift)
			switch {
			case errors.Is(err, syncer.ErrBusy), errors.Is(err, syncer.ErrDuplicateShift):
				v.logger.Warn("Skipping roster change", "slot", pos, "key", slot.Shift.Key(), "error", err)
			case err != nil:
				return err
			}
			continue
		}

		h, err := v.syncer.Track(ctx, slot.Shift, slot.Editable)
		if err != nil {
			return err
		}
		v.handles[pos] = h
	}
	return nil
}

var shiftFlags = []cli.Flag{
	&cli.StringFlag{Name: "date", Usage: "Shift date, YYYY-MM-DD."},
	&cli.StringFlag{Name: "start", Usage: "Start time, HHMM or HH:MM."},
	&cli.StringFlag{Name: "end", Usage: "End time, HHMM or HH:MM."},
}

// shiftFromArgs reads a shift from a key argument or the --date/--start/--end flags.
func shiftFromArgs(c *cli.Context) (models.Shift, error) {
	if key := c.Args().First(); key != "" {
		return models.ParseKey(key)
	}
	if c.String("date") == "" {
		return models.Shift{}, fmt.Errorf("a shift key or --date, --start and --end are required")
	}
	shift := models.Shift{Date: c.String("date")}
	if _, err := time.Parse(models.DateLayout, shift.Date); err != nil {
		return models.Shift{}, fmt.Errorf("invalid --date: %w", err)
	}
	var ok bool
	if shift.Start, ok = roster.NormalizeTime(strings.ReplaceAll(c.String("start"), ":", "")); !ok {
		return models.Shift{}, fmt.Errorf("invalid --start %q", c.String("start"))
	}
	if shift.End, ok = roster.NormalizeTime(strings.ReplaceAll(c.String("end"), ":", "")); !ok {
		return models.Shift{}, fmt.Errorf("invalid --end %q", c.String("end"))
	}
	return shift, nil
}

func setupLogger(level string) *slog.Logger {
	var logLevel slog.Level
	switch strings.ToLower(level) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)
	return logger
}
