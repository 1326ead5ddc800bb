package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/oauth2"

	"shiftcal/internal/config"
	"shiftcal/internal/google"
	"shiftcal/internal/models"
	"shiftcal/internal/roster"
	"shiftcal/internal/store"
	"shiftcal/internal/syncer"
)

const rosterPage = `<html><body><table><tbody>
<tr><td>12/31(水)</td><td>A</td><td>-</td><td>2300〜0100</td><td>OFF</td></tr>
<tr><td>1/1(木)</td><td>A</td><td>-</td><td>0700〜1100</td><td></td></tr>
</tbody></table></body></html>`

// writeConfig points a fresh config at a temporary data directory.
func writeConfig(t *testing.T) (path, dataDir string) {
	t.Helper()
	dir := t.TempDir()
	dataDir = filepath.Join(dir, "data")
	path = filepath.Join(dir, "config.yaml")
	cfg := config.DefaultConfig()
	cfg.DataDir = dataDir
	if err := config.Save(path, cfg); err != nil {
		t.Fatalf("Save: %v", err)
	}
	return path, dataDir
}

func run(t *testing.T, cfgPath string, args ...string) error {
	t.Helper()
	argv := append([]string{"shiftcal", "--config", cfgPath, "--log-level", "error"}, args...)
	return newApp().Run(argv)
}

func TestSyncDryRunLeavesStateUntouched(t *testing.T) {
	cfgPath, dataDir := writeConfig(t)
	page := filepath.Join(t.TempDir(), "roster.html")
	if err := os.WriteFile(page, []byte(rosterPage), 0o600); err != nil {
		t.Fatal(err)
	}

	if err := run(t, cfgPath, "sync", "--dry-run", "--html", page, "--year", "2025"); err != nil {
		t.Fatalf("sync: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dataDir, "sync-state.json")); !os.IsNotExist(err) {
		t.Errorf("dry run wrote sync state (stat err %v)", err)
	}
}

func TestSyncRequiresSource(t *testing.T) {
	cfgPath, _ := writeConfig(t)
	if err := run(t, cfgPath, "sync", "--dry-run"); err == nil {
		t.Error("expected an error without --url or --html")
	}
}

func TestSyncRejectsForeignURL(t *testing.T) {
	cfgPath, _ := writeConfig(t)
	if err := run(t, cfgPath, "sync", "--dry-run", "--url", "https://example.com/schedule"); err == nil {
		t.Error("expected a roster url error")
	}
}

func TestAddDryRun(t *testing.T) {
	cfgPath, _ := writeConfig(t)

	tests := []struct {
		name    string
		args    []string
		wantErr bool
	}{
		{"key", []string{"add", "--dry-run", "2025-12-31-23:00-01:00"}, false},
		{"flags", []string{"add", "--dry-run", "--date", "2025-12-31", "--start", "23:00", "--end", "0100"}, false},
		{"incomplete key", []string{"add", "--dry-run", "2025-12-31"}, true},
		{"bad start", []string{"add", "--dry-run", "--date", "2025-12-31", "--start", "25:00", "--end", "0100"}, true},
		{"nothing", []string{"add", "--dry-run"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := run(t, cfgPath, tt.args...)
			if (err != nil) != tt.wantErr {
				t.Errorf("err = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestDeleteUnsyncedShift(t *testing.T) {
	cfgPath, _ := writeConfig(t)
	if err := run(t, cfgPath, "delete", "--dry-run", "2025-12-31-23:00-01:00"); err == nil {
		t.Error("expected an error deleting a shift that was never synced")
	}
}

func TestConfigSet(t *testing.T) {
	cfgPath, _ := writeConfig(t)

	if err := run(t, cfgPath, "config", "set", "--title", "Late shift", "--color", "5"); err != nil {
		t.Fatalf("config set: %v", err)
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.CalendarTitle != "Late shift" || cfg.CalendarColor != 5 {
		t.Errorf("saved title %q color %d", cfg.CalendarTitle, cfg.CalendarColor)
	}

	if err := run(t, cfgPath, "config", "set", "--color", "12"); err == nil {
		t.Error("expected color 12 to be rejected")
	}
	cfg, _ = config.Load(cfgPath)
	if cfg.CalendarColor != 5 {
		t.Errorf("rejected color was saved: %d", cfg.CalendarColor)
	}
}

func TestStatusOnEmptyState(t *testing.T) {
	cfgPath, _ := writeConfig(t)
	if err := run(t, cfgPath, "status"); err != nil {
		t.Errorf("status: %v", err)
	}
}

func TestConfigShowListsAccounts(t *testing.T) {
	cfgPath, dataDir := writeConfig(t)
	if err := google.SaveToken(google.TokenPath(dataDir, "work"), &oauth2.Token{AccessToken: "x"}); err != nil {
		t.Fatal(err)
	}
	if err := run(t, cfgPath, "config", "show"); err != nil {
		t.Errorf("config show: %v", err)
	}
}

func TestRosterViewUpdatesInPlace(t *testing.T) {
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	st := store.NewFileStore(filepath.Join(t.TempDir(), "sync-state.json"))
	s := syncer.NewSyncer(logger, nil, st, syncer.Settings{TimeZone: "Asia/Tokyo"}, true)
	view := newRosterView(logger, s)

	blank := []roster.Slot{
		{Shift: models.Shift{Date: "2025-06-01"}, Editable: true},
		{Shift: models.Shift{Date: "2025-06-01"}, Editable: true},
	}
	if err := view.apply(ctx, blank); err != nil {
		t.Fatalf("apply: %v", err)
	}

	filled := []roster.Slot{
		{Shift: models.Shift{Date: "2025-06-01", Start: "09:00", End: "13:00"}, Editable: true},
		{Shift: models.Shift{Date: "2025-06-01"}, Editable: true},
	}
	if err := view.apply(ctx, filled); err != nil {
		t.Fatalf("apply: %v", err)
	}

	items := s.Items()
	if len(items) != 2 {
		t.Fatalf("tracked %d rows, want 2", len(items))
	}
	if items[0].State != syncer.StateReady || items[0].Shift != filled[0].Shift {
		t.Errorf("first slot = %+v, want ready %v", items[0], filled[0].Shift)
	}
	if items[1].State != syncer.StateDisabled {
		t.Errorf("second slot state = %s, want disabled", items[1].State)
	}

	// Copying the first slot's times into the second is refused, not tracked twice.
	dup := []roster.Slot{filled[0], {Shift: filled[0].Shift, Editable: true}}
	if err := view.apply(ctx, dup); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if items := s.Items(); items[1].State != syncer.StateDisabled {
		t.Errorf("duplicate slot state = %s, want disabled", items[1].State)
	}
}

// lockedBuffer is a bytes.Buffer safe for the scheduler's goroutines.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestSchedulerLogsPanicsThroughSlog(t *testing.T) {
	var out lockedBuffer
	logger := slog.New(slog.NewTextHandler(&out, nil))
	scheduler := newScheduler(logger, time.UTC)
	if _, err := scheduler.AddFunc("@every 1s", func() { panic("cycle exploded") }); err != nil {
		t.Fatal(err)
	}
	scheduler.Start()
	defer func() { <-scheduler.Stop().Done() }()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if got := out.String(); strings.Contains(got, "cycle exploded") {
			if !strings.Contains(got, "level=ERROR") {
				t.Errorf("panic not logged at error level: %s", got)
			}
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatalf("recovered panic never reached the slog handler; got %q", out.String())
}
