package google

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	cal "shiftcal/internal/calendar"
)

const (
	credentialsFile = "credentials.json"
	// DefaultCalendarID addresses the account's primary calendar.
	DefaultCalendarID = "primary"
)

// CalendarClient creates and deletes shift events through the Google Calendar API.
type CalendarClient struct {
	service    *calendar.Service
	calendarID string
	logger     *slog.Logger
}

var _ cal.Gateway = (*CalendarClient)(nil)

// NewClient creates a new Google Calendar client for the given account.
// The account's token is read from token-<account>.json inside tokenDir,
// as written by the auth command.
func NewClient(ctx context.Context, logger *slog.Logger, clientID, clientSecret, tokenDir, accountName, calendarID string) (*CalendarClient, error) {
	config, err := getOAuthConfig(clientID, clientSecret)
	if err != nil {
		return nil, fmt.Errorf("failed to get OAuth config: %w", err)
	}

	token, err := tokenFromFile(TokenPath(tokenDir, accountName))
	if err != nil {
		return nil, &cal.AuthError{Err: fmt.Errorf("could not load token for account %s: %w. Please run the 'auth' command first", accountName, err)}
	}

	return NewClientWithOptions(ctx, logger, calendarID, option.WithHTTPClient(config.Client(ctx, token)))
}

// NewClientWithOptions creates a client from explicit API options.
func NewClientWithOptions(ctx context.Context, logger *slog.Logger, calendarID string, opts ...option.ClientOption) (*CalendarClient, error) {
	service, err := calendar.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create calendar service: %w", err)
	}
	if calendarID == "" {
		calendarID = DefaultCalendarID
	}
	return &CalendarClient{service: service, calendarID: calendarID, logger: logger}, nil
}

// CreateEvent inserts a timed event and returns its Google event id.
func (c *CalendarClient) CreateEvent(ctx context.Context, event cal.NewEvent) (string, error) {
	c.logger.Debug("Creating Google Calendar event", "calendarID", c.calendarID, "start", event.Start, "end", event.End)

	item := &calendar.Event{
		Summary: event.Title,
		Start:   &calendar.EventDateTime{DateTime: event.Start, TimeZone: event.TimeZone},
		End:     &calendar.EventDateTime{DateTime: event.End, TimeZone: event.TimeZone},
	}
	if event.ColorID > 0 {
		item.ColorId = strconv.Itoa(event.ColorID)
	}

	created, err := c.service.Events.Insert(c.calendarID, item).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("failed to create event: %w", classify(err))
	}

	c.logger.Info("Created Google Calendar event", "eventID", created.Id, "start", event.Start)
	return created.Id, nil
}

// DeleteEvent deletes an event. 404 and 410 responses count as success.
func (c *CalendarClient) DeleteEvent(ctx context.Context, eventID string) error {
	if eventID == "" {
		return errors.New("event id is empty")
	}
	err := c.service.Events.Delete(c.calendarID, eventID).Context(ctx).Do()
	if err != nil {
		var gErr *googleapi.Error
		if errors.As(err, &gErr) && cal.IsGone(gErr.Code) {
			c.logger.Info("Google Calendar event already gone", "eventID", eventID, "status", gErr.Code)
			return nil
		}
		return fmt.Errorf("failed to delete event %s: %w", eventID, classify(err))
	}

	c.logger.Info("Deleted Google Calendar event", "eventID", eventID)
	return nil
}

// classify maps transport and API failures onto the gateway error taxonomy.
func classify(err error) error {
	var gErr *googleapi.Error
	if errors.As(err, &gErr) {
		if gErr.Code == http.StatusUnauthorized {
			return &cal.AuthError{Err: err}
		}
		body := gErr.Body
		if body == "" {
			body = gErr.Message
		}
		return &cal.APIError{Status: gErr.Code, Body: body}
	}
	var rErr *oauth2.RetrieveError
	if errors.As(err, &rErr) {
		return &cal.AuthError{Err: err}
	}
	return err
}

// GetOAuthConfigForAuthFlow is used by the auth command to get the config for the web flow.
func GetOAuthConfigForAuthFlow(clientID, clientSecret string) (*oauth2.Config, error) {
	return getOAuthConfig(clientID, clientSecret)
}

// getOAuthConfig reads credentials and returns an OAuth2 config.
// It prioritizes environment variables over a local credentials.json file.
func getOAuthConfig(clientID, clientSecret string) (*oauth2.Config, error) {
	if clientID != "" && clientSecret != "" {
		return &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  "urn:ietf:wg:oauth:2.0:oob",
			Scopes:       []string{calendar.CalendarEventsScope},
			Endpoint:     google.Endpoint,
		}, nil
	}

	b, err := os.ReadFile(credentialsFile)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("credentials.json not found. Please provide GOOGLE_CLIENT_ID and GOOGLE_CLIENT_SECRET env vars or place credentials.json in the working directory")
		}
		return nil, fmt.Errorf("unable to read client secret file: %w", err)
	}

	config, err := google.ConfigFromJSON(b, calendar.CalendarEventsScope)
	if err != nil {
		return nil, fmt.Errorf("unable to parse client secret file to config: %w", err)
	}
	config.RedirectURL = "urn:ietf:wg:oauth:2.0:oob" // For desktop app flow
	return config, nil
}

// TokenFromWeb is called by the auth flow to retrieve a token.
func TokenFromWeb(ctx context.Context, config *oauth2.Config, authCode string) (*oauth2.Token, error) {
	return config.Exchange(ctx, authCode)
}

// TokenPath returns where the token for accountName is stored.
func TokenPath(dir, accountName string) string {
	return filepath.Join(dir, "token-"+accountName+".json")
}

// SaveToken saves a token to a file path readable only by the owner.
func SaveToken(path string, token *oauth2.Token) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("unable to create token directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("unable to create token file: %w", err)
	}
	defer f.Close()
	return json.NewEncoder(f).Encode(token)
}

// tokenFromFile retrieves a token from a local file.
func tokenFromFile(file string) (*oauth2.Token, error) {
	f, err := os.Open(file)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	tok := &oauth2.Token{}
	err = json.NewDecoder(f).Decode(tok)
	return tok, err
}

// TokenAccounts lists the accounts with a saved token in dir, sorted.
// A missing directory has no accounts.
func TokenAccounts(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list saved tokens: %w", err)
	}

	var accounts []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name, ok := strings.CutPrefix(entry.Name(), "token-")
		if !ok {
			continue
		}
		if account, ok := strings.CutSuffix(name, ".json"); ok && account != "" {
			accounts = append(accounts, account)
		}
	}
	sort.Strings(accounts)
	return accounts, nil
}
