package icloud

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-ical"
	"github.com/emersion/go-webdav/caldav"
	"github.com/google/uuid"

	cal "shiftcal/internal/calendar"
	"shiftcal/internal/models"
)

const (
	// DefaultEndpoint is iCloud's CalDAV entry point.
	DefaultEndpoint = "https://caldav.icloud.com/"

	maxErrorBody = 4 << 10
)

// customTransport handles adding Basic Auth and custom headers to requests.
type customTransport struct {
	Username  string
	Password  string
	Transport http.RoundTripper
}

// RoundTrip adds required headers and authentication to each request.
func (t *customTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.SetBasicAuth(t.Username, t.Password)
	req.Header.Set("User-Agent", "shiftcal/1.0")
	return t.Transport.RoundTrip(req)
}

// CalDAVClient creates and deletes shift events on a CalDAV calendar (iCloud).
type CalDAVClient struct {
	httpClient  *http.Client
	logger      *slog.Logger
	calendarURL string
}

var _ cal.Gateway = (*CalDAVClient)(nil)

// NewClient logs in to the CalDAV server at endpoint and locates the
// calendar named calendarName.
func NewClient(ctx context.Context, logger *slog.Logger, endpoint, username, password, calendarName string) (*CalDAVClient, error) {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	httpClient := &http.Client{
		Transport: &customTransport{
			Username:  username,
			Password:  password,
			Transport: http.DefaultTransport,
		},
		Timeout: 30 * time.Second,
	}

	caldavClient, err := caldav.NewClient(httpClient, endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to create caldav client: %w", err)
	}

	logger.Info("Finding CalDAV calendar", "calendarName", calendarName)
	calendarURL, err := findCalendar(ctx, caldavClient, endpoint, calendarName)
	if err != nil {
		return nil, fmt.Errorf("could not find calendar '%s': %w", calendarName, err)
	}
	logger.Info("Successfully found CalDAV calendar", "url", calendarURL)

	return newCalendarClient(logger, httpClient, calendarURL), nil
}

func newCalendarClient(logger *slog.Logger, httpClient *http.Client, calendarURL string) *CalDAVClient {
	if !strings.HasSuffix(calendarURL, "/") {
		calendarURL += "/"
	}
	return &CalDAVClient{httpClient: httpClient, logger: logger, calendarURL: calendarURL}
}

// CreateEvent stores a new VEVENT and returns its UID as the event id.
func (c *CalDAVClient) CreateEvent(ctx context.Context, event cal.NewEvent) (string, error) {
	uid := GenerateUID()
	vevent, err := toICal(uid, event)
	if err != nil {
		return "", err
	}

	calendar := ical.NewCalendar()
	calendar.Props.SetText(ical.PropVersion, "2.0")
	calendar.Props.SetText(ical.PropProductID, "-//shiftcal//EN")
	calendar.Children = append(calendar.Children, vevent)

	var buf bytes.Buffer
	if err := ical.NewEncoder(&buf).Encode(calendar); err != nil {
		return "", fmt.Errorf("failed to encode event to iCal format: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.eventURL(uid), &buf)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", ical.MIMEType)
	req.Header.Set("If-None-Match", "*")

	if err := c.do(req, nil); err != nil {
		return "", fmt.Errorf("failed to create event on CalDAV server: %w", err)
	}

	c.logger.Info("Created CalDAV event", "uid", uid, "start", event.Start)
	return uid, nil
}

// DeleteEvent removes the event resource. 404 and 410 responses count as success.
func (c *CalDAVClient) DeleteEvent(ctx context.Context, eventID string) error {
	if eventID == "" {
		return fmt.Errorf("event id is empty")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.eventURL(eventID), nil)
	if err != nil {
		return err
	}

	gone := false
	if err := c.do(req, &gone); err != nil {
		return fmt.Errorf("failed to delete event %s: %w", eventID, err)
	}
	if gone {
		c.logger.Info("CalDAV event already gone", "uid", eventID)
		return nil
	}
	c.logger.Info("Deleted CalDAV event", "uid", eventID)
	return nil
}

// do sends req and maps the response status onto the gateway errors. When
// gone is non-nil, 404 and 410 are accepted and reported through it.
func (c *CalDAVClient) do(req *http.Request, gone *bool) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	if gone != nil && cal.IsGone(resp.StatusCode) {
		*gone = true
		return nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return &cal.AuthError{Err: fmt.Errorf("%s: %s", resp.Status, strings.TrimSpace(string(body)))}
	}
	return &cal.APIError{Status: resp.StatusCode, Body: string(body)}
}

func (c *CalDAVClient) eventURL(uid string) string {
	return c.calendarURL + uid + ".ics"
}

// toICal converts the event payload to a VEVENT component.
func toICal(uid string, event cal.NewEvent) (*ical.Component, error) {
	loc, err := time.LoadLocation(event.TimeZone)
	if err != nil {
		return nil, fmt.Errorf("invalid time zone %q: %w", event.TimeZone, err)
	}
	start, err := time.ParseInLocation(models.DateTimeLayout, event.Start, loc)
	if err != nil {
		return nil, fmt.Errorf("invalid start %q: %w", event.Start, err)
	}
	end, err := time.ParseInLocation(models.DateTimeLayout, event.End, loc)
	if err != nil {
		return nil, fmt.Errorf("invalid end %q: %w", event.End, err)
	}

	ve := ical.NewComponent(ical.CompEvent)
	ve.Props.SetText(ical.PropUID, uid)
	ve.Props.SetText(ical.PropSummary, event.Title)
	ve.Props.SetDateTime(ical.PropDateTimeStamp, time.Now().UTC())
	ve.Props.SetDateTime(ical.PropDateTimeStart, start)
	ve.Props.SetDateTime(ical.PropDateTimeEnd, end)
	if event.ColorID > 0 {
		ve.Props.SetText(ical.PropCategories, "color-"+strconv.Itoa(event.ColorID))
	}
	return ve, nil
}

// findCalendar discovers the user's calendars and returns the URL for the one with the matching name.
func findCalendar(ctx context.Context, client *caldav.Client, endpoint, name string) (string, error) {
	principalPath, err := client.FindCurrentUserPrincipal(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to find principal path: %w", err)
	}

	homeSetPath, err := client.FindCalendarHomeSet(ctx, principalPath)
	if err != nil {
		return "", fmt.Errorf("failed to find calendar home set: %w", err)
	}

	calendars, err := client.FindCalendars(ctx, homeSetPath)
	if err != nil {
		return "", fmt.Errorf("failed to find calendars: %w", err)
	}

	for _, c := range calendars {
		if c.Name == name {
			// Return the full URL for the calendar
			return fmt.Sprintf("%s%s", strings.TrimSuffix(endpoint, "/"), c.Path), nil
		}
	}

	return "", fmt.Errorf("no calendar found with name '%s'", name)
}

// GenerateUID creates a new unique identifier for an event.
func GenerateUID() string {
	return uuid.New().String()
}
