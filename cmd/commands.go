package main

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/urfave/cli/v2"
	"golang.org/x/oauth2"

	"shiftcal/internal/config"
	"shiftcal/internal/google"
	"shiftcal/internal/models"
	"shiftcal/internal/syncer"
)

func authCommand() *cli.Command {
	return &cli.Command{
		Name:  "auth",
		Usage: "Authenticate with a Google account to get an API token.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "account", Usage: "Account name to store the token under. Defaults to the configured account."},
		},
		Action: func(c *cli.Context) error {
			e, err := loadEnv(c)
			if err != nil {
				return err
			}
			e.logger.Info("Starting Google authentication flow.")

			oauthConfig, err := google.GetOAuthConfigForAuthFlow(os.Getenv("GOOGLE_CLIENT_ID"), os.Getenv("GOOGLE_CLIENT_SECRET"))
			if err != nil {
				return fmt.Errorf("failed to get google oauth config: %w", err)
			}

			authURL := oauthConfig.AuthCodeURL("state-token", oauth2.AccessTypeOffline)
			fmt.Printf("Go to the following link in your browser then type the "+
				"authorization code: \n%v\n", authURL)

			fmt.Print("Enter Authorization Code: ")
			reader := bufio.NewReader(os.Stdin)
			authCode, _ := reader.ReadString('\n')
			authCode = strings.TrimSpace(authCode)

			token, err := google.TokenFromWeb(c.Context, oauthConfig, authCode)
			if err != nil {
				return fmt.Errorf("unable to retrieve token from web: %w", err)
			}

			account := c.String("account")
			if account == "" {
				account = e.cfg.Account
			}
			if existing, err := google.TokenAccounts(e.cfg.DataDir); err == nil && len(existing) > 0 {
				e.logger.Info("Accounts already signed in", "accounts", strings.Join(existing, ", "))
			}
			tokenFile := google.TokenPath(e.cfg.DataDir, account)
			if err := google.SaveToken(tokenFile, token); err != nil {
				return fmt.Errorf("failed to save token: %w", err)
			}

			e.logger.Info("Successfully authenticated and saved token.", "file", tokenFile)
			return nil
		},
	}
}

func shiftsCommand() *cli.Command {
	return &cli.Command{
		Name:  "shifts",
		Usage: "List the shifts on a roster page and their sync state.",
		Flags: sourceFlags,
		Action: func(c *cli.Context) error {
			e, err := loadEnv(c)
			if err != nil {
				return err
			}
			slots, err := e.loadSlots(c)
			if err != nil {
				return err
			}
			st, err := e.openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			// Listing never calls the calendar.
			s, err := e.newSyncer(c.Context, st, true)
			if err != nil {
				return err
			}
			if err := newRosterView(e.logger, s).apply(c.Context, slots); err != nil {
				return err
			}
			for _, item := range s.Items() {
				fmt.Printf("%-24s %-9s %s\n", item.Shift.Key(), item.State, item.EventID)
			}
			return nil
		},
	}
}

func addCommand() *cli.Command {
	return &cli.Command{
		Name:      "add",
		Usage:     "Add one shift to the calendar.",
		ArgsUsage: "[shift key]",
		Flags:     append(append([]cli.Flag{}, shiftFlags...), &cli.BoolFlag{Name: "dry-run", Usage: "Log what would be created without making changes."}),
		Action: func(c *cli.Context) error {
			e, err := loadEnv(c)
			if err != nil {
				return err
			}
			shift, err := shiftFromArgs(c)
			if err != nil {
				return err
			}
			st, err := e.openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			s, err := e.newSyncer(c.Context, st, c.Bool("dry-run"))
			if err != nil {
				return err
			}
			h, err := s.Track(c.Context, shift, false)
			if err != nil {
				return err
			}
			state, _ := s.State(h)
			switch state {
			case syncer.StateSynced:
				fmt.Printf("%s is already on the calendar.\n", shift)
				return nil
			case syncer.StateDisabled:
				return fmt.Errorf("%s is missing a start or end time", shift)
			}

			eventID, err := s.Add(c.Context, h)
			if err != nil {
				return err
			}
			fmt.Printf("Added %s (event %s)\n", shift, eventID)
			return nil
		},
	}
}

func deleteCommand() *cli.Command {
	return &cli.Command{
		Name:      "delete",
		Usage:     "Delete one shift from the calendar.",
		ArgsUsage: "[shift key]",
		Flags:     append(append([]cli.Flag{}, shiftFlags...), &cli.BoolFlag{Name: "dry-run", Usage: "Log what would be deleted without making changes."}),
		Action: func(c *cli.Context) error {
			e, err := loadEnv(c)
			if err != nil {
				return err
			}
			shift, err := shiftFromArgs(c)
			if err != nil {
				return err
			}
			st, err := e.openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			s, err := e.newSyncer(c.Context, st, c.Bool("dry-run"))
			if err != nil {
				return err
			}
			h, err := s.Track(c.Context, shift, false)
			if err != nil {
				return err
			}
			if state, _ := s.State(h); state != syncer.StateSynced {
				return fmt.Errorf("%s is not on the calendar", shift.Key())
			}
			if err := s.Delete(c.Context, h); err != nil {
				return err
			}
			fmt.Printf("Deleted %s\n", shift.Key())
			return nil
		},
	}
}

func syncCommand() *cli.Command {
	return &cli.Command{
		Name:  "sync",
		Usage: "Add every shift on a roster page that is not on the calendar yet.",
		Flags: append(append([]cli.Flag{}, sourceFlags...),
			&cli.BoolFlag{Name: "dry-run", Usage: "Log what would be synced without making changes."},
			&cli.BoolFlag{Name: "watch", Usage: "Keep running and sync on the configured schedule."},
			&cli.StringFlag{Name: "schedule", Usage: "Cron spec for --watch. Overrides the configured schedule."},
		),
		Action: func(c *cli.Context) error {
			e, err := loadEnv(c)
			if err != nil {
				return err
			}
			if c.Bool("dry-run") {
				e.logger.Info("Performing a dry run. No changes will be made.")
			}

			st, err := e.openStore()
			if err != nil {
				return err
			}
			defer st.Close()
			s, err := e.newSyncer(c.Context, st, c.Bool("dry-run"))
			if err != nil {
				return err
			}
			view := newRosterView(e.logger, s)

			if !c.Bool("watch") {
				e.logger.Info("Running a single sync cycle.")
				return runSync(c, e, view)
			}

			spec := c.String("schedule")
			if spec == "" {
				spec = e.cfg.Schedule
			}
			loc, err := e.cfg.Location()
			if err != nil {
				return err
			}
			var running sync.Mutex
			cycle := func() {
				if !running.TryLock() {
					e.logger.Info("Previous sync cycle still running, skipping.")
					return
				}
				defer running.Unlock()
				if err := runSync(c, e, view); err != nil {
					e.logger.Error("Sync cycle failed", "error", err)
				}
			}

			scheduler := newScheduler(e.logger, loc)
			if _, err := scheduler.AddFunc(spec, cycle); err != nil {
				return fmt.Errorf("invalid schedule %q: %w", spec, err)
			}

			e.logger.Info("Starting watcher.", "schedule", spec)
			cycle()
			scheduler.Start()
			<-c.Context.Done()
			<-scheduler.Stop().Done()
			e.logger.Info("Watcher stopped.")
			return nil
		},
	}
}

// newScheduler builds a cron scheduler that reports errors and recovered
// panics through logger.
func newScheduler(logger *slog.Logger, loc *time.Location) *cron.Cron {
	cronLogger := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelError))
	return cron.New(
		cron.WithLocation(loc),
		cron.WithLogger(cronLogger),
		cron.WithChain(cron.Recover(cronLogger)),
	)
}

// runSync scrapes the roster once, applies it to view and bulk-adds the
// ready shifts.
func runSync(c *cli.Context, e *env, view *rosterView) error {
	slots, err := e.loadSlots(c)
	if err != nil {
		return err
	}
	if err := view.apply(c.Context, slots); err != nil {
		return err
	}

	s := view.syncer
	e.logger.Debug("Roster applied", "tracked", len(s.Items()), "ready", len(s.Ready()))
	result := s.BulkAdd(c.Context, func(i, n int, shift models.Shift) {
		fmt.Printf("Adding (%d/%d) %s\n", i, n, shift)
	})

	switch {
	case result.Total == 0:
		fmt.Println("All shifts are already on the calendar.")
	case result.AllSucceeded():
		fmt.Printf("Added all %d shifts.\n", result.Total)
	default:
		fmt.Printf("Added %d of %d shifts.\n", result.Succeeded, result.Total)
		for _, f := range result.Failures {
			fmt.Printf("  %s: %v\n", f.Shift, f.Err)
		}
	}
	return nil
}

func statusCommand() *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "List the shifts recorded as synced.",
		Action: func(c *cli.Context) error {
			e, err := loadEnv(c)
			if err != nil {
				return err
			}
			st, err := e.openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			state, err := st.All(c.Context)
			if err != nil {
				return err
			}
			keys := make([]string, 0, len(state))
			for k := range state {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				fmt.Printf("%-24s %s\n", k, state[k])
			}
			e.logger.Info("Sync state listed.", "count", len(keys))
			return nil
		},
	}
}

func migrateKeysCommand() *cli.Command {
	return &cli.Command{
		Name:  "migrate-keys",
		Usage: "Move sync state recorded under date-only keys to full shift keys.",
		Flags: sourceFlags,
		Action: func(c *cli.Context) error {
			e, err := loadEnv(c)
			if err != nil {
				return err
			}
			slots, err := e.loadSlots(c)
			if err != nil {
				return err
			}
			st, err := e.openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			// Migration only touches local state.
			s, err := e.newSyncer(c.Context, st, true)
			if err != nil {
				return err
			}
			if err := newRosterView(e.logger, s).apply(c.Context, slots); err != nil {
				return err
			}
			n, err := s.MigrateLegacyKeys(c.Context)
			if err != nil {
				return err
			}
			fmt.Printf("Migrated %d shift(s).\n", n)
			return nil
		},
	}
}

func configCommand() *cli.Command {
	return &cli.Command{
		Name:  "config",
		Usage: "Show or change settings.",
		Subcommands: []*cli.Command{
			{
				Name:  "show",
				Usage: "Print the current settings.",
				Action: func(c *cli.Context) error {
					e, err := loadEnv(c)
					if err != nil {
						return err
					}
					fmt.Printf("config:         %s\n", e.path)
					fmt.Printf("calendar_title: %s\n", e.cfg.CalendarTitle)
					fmt.Printf("calendar_color: %d\n", e.cfg.CalendarColor)
					fmt.Printf("timezone:       %s\n", e.cfg.Timezone)
					fmt.Printf("backend:        %s\n", e.cfg.Backend)
					fmt.Printf("store:          %s (%s)\n", e.cfg.Store, e.cfg.DataDir)
					if e.cfg.Backend == config.BackendGoogle {
						accounts, err := google.TokenAccounts(e.cfg.DataDir)
						if err != nil {
							return err
						}
						fmt.Printf("account:        %s\n", e.cfg.Account)
						fmt.Printf("signed in:      %s\n", strings.Join(accounts, ", "))
					}
					return nil
				},
			},
			{
				Name:  "set",
				Usage: "Change the event title or color.",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "title", Usage: "Event title."},
					&cli.IntFlag{Name: "color", Usage: "Event color id (1-11)."},
				},
				Action: func(c *cli.Context) error {
					e, err := loadEnv(c)
					if err != nil {
						return err
					}
					if c.IsSet("title") {
						e.cfg.CalendarTitle = c.String("title")
					}
					if c.IsSet("color") {
						e.cfg.CalendarColor = c.Int("color")
					}
					if err := e.cfg.Validate(); err != nil {
						return err
					}
					if err := config.Save(e.path, e.cfg); err != nil {
						return fmt.Errorf("failed to save settings: %w", err)
					}
					e.logger.Info("Settings saved.", "title", e.cfg.CalendarTitle, "color", e.cfg.CalendarColor)
					return nil
				},
			},
		},
	}
}
