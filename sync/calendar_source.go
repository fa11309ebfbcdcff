// ABOUTME: Google Calendar meeting source paired with Gmail for accounts outside Microsoft 365
// ABOUTME: Lists timed multi-attendee events in a window and turns their descriptions into meeting records
package sync

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/harperreed/cosell/models"
)

const maxCalendarResults = 250 // Google Calendar API max per page

// CalendarSource fetches meeting notes from the primary Google Calendar.
type CalendarSource struct {
	svc    *calendar.Service
	logger *zap.Logger
}

// NewCalendarService creates an authenticated Google Calendar API service.
func NewCalendarService(ctx context.Context, config *oauth2.Config, token *oauth2.Token) (*calendar.Service, error) {
	if token == nil {
		return nil, fmt.Errorf("token cannot be nil")
	}

	client := config.Client(ctx, token)
	service, err := calendar.NewService(ctx, option.WithHTTPClient(client))
	if err != nil {
		return nil, fmt.Errorf("failed to create calendar service: %w", err)
	}
	return service, nil
}

// NewCalendarSource wraps a Calendar service as a meeting source.
func NewCalendarSource(svc *calendar.Service, logger *zap.Logger) *CalendarSource {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CalendarSource{svc: svc, logger: logger.Named("calendar")}
}

// shouldSkipEvent reports whether an event cannot carry a co-sell conversation,
// and why.
func shouldSkipEvent(event *calendar.Event) (bool, string) {
	if event == nil {
		return true, "nil event"
	}
	if event.Start == nil || event.Start.DateTime == "" {
		// All-day events set Start.Date instead
		return true, "all-day"
	}
	if event.Status == "cancelled" {
		return true, "cancelled"
	}
	for _, attendee := range event.Attendees {
		if attendee.Self && attendee.ResponseStatus == "declined" {
			return true, "declined"
		}
	}
	if len(event.Attendees) <= 1 {
		return true, "solo"
	}
	if strings.TrimSpace(event.Description) == "" {
		return true, "no notes"
	}
	return false, ""
}

// EventToRaw converts a calendar event into a meeting record. The event
// description stands in for the transcript.
func EventToRaw(event *calendar.Event) (RawTranscript, error) {
	start, err := time.Parse(time.RFC3339, event.Start.DateTime)
	if err != nil {
		return RawTranscript{}, fmt.Errorf("%w: bad start time %q", ErrMalformedInput, event.Start.DateTime)
	}

	raw := RawTranscript{
		ID:        event.Id,
		MeetingID: event.ICalUID,
		Subject:   event.Summary,
		CreatedAt: start,
		Content:   StripHTML(event.Description),
	}
	if event.Organizer != nil {
		raw.Organizer = event.Organizer.DisplayName
		if raw.Organizer == "" {
			raw.Organizer = event.Organizer.Email
		}
	}
	for _, attendee := range event.Attendees {
		if attendee.Email != "" {
			raw.Participants = append(raw.Participants, strings.ToLower(attendee.Email))
		}
	}
	return raw, nil
}

// Fetch returns meetings that started in [from, to]. Only the meeting source is supported.
func (c *CalendarSource) Fetch(ctx context.Context, source models.SourceType, from, to time.Time) ([]RawCommunication, error) {
	if source != models.SourceMeeting {
		return nil, fmt.Errorf("google calendar does not provide %s communications", source)
	}

	var raws []RawCommunication
	skipCounts := make(map[string]int)
	pageToken := ""

	for {
		call := c.svc.Events.List("primary").
			MaxResults(maxCalendarResults).
			SingleEvents(true).
			OrderBy("startTime").
			TimeMin(from.Format(time.RFC3339)).
			TimeMax(to.Format(time.RFC3339)).
			Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}

		events, err := call.Do()
		if err != nil {
			var apiErr *googleapi.Error
			if errors.As(err, &apiErr) && apiErr.Code == http.StatusUnauthorized {
				return raws, fmt.Errorf("calendar access denied (run 'cosell auth google'): %w", err)
			}
			return raws, fmt.Errorf("failed to list events: %w", err)
		}

		for _, event := range events.Items {
			if skip, reason := shouldSkipEvent(event); skip {
				skipCounts[reason]++
				continue
			}
			raw, err := EventToRaw(event)
			if err != nil {
				skipCounts["malformed"]++
				continue
			}
			if raw.CreatedAt.Before(from) || raw.CreatedAt.After(to) {
				continue
			}
			raws = append(raws, raw)
		}

		pageToken = events.NextPageToken
		if pageToken == "" {
			break
		}
	}

	for reason, count := range skipCounts {
		c.logger.Debug("skipped events", zap.String("reason", reason), zap.Int("count", count))
	}
	return raws, nil
}
