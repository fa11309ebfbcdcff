// ABOUTME: Graph-backed communication sources for mail, Teams chat, and meeting transcripts
// ABOUTME: Each source fetches raw records for a time window; a failed thread or transcript fails the source
package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/harperreed/cosell/models"
)

const graphTimeFormat = "2006-01-02T15:04:05Z"

// GraphSources fetches communications from Microsoft Graph.
type GraphSources struct {
	client *GraphClient
	logger *zap.Logger
}

// NewGraphSources wraps a Graph client as a source provider.
func NewGraphSources(client *GraphClient, logger *zap.Logger) *GraphSources {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GraphSources{client: client, logger: logger.Named("graph-sources")}
}

// Fetch returns raw records of source received in [from, to].
func (g *GraphSources) Fetch(ctx context.Context, source models.SourceType, from, to time.Time) ([]RawCommunication, error) {
	var raws []RawCommunication
	var err error
	switch source {
	case models.SourceEmail:
		raws, err = g.fetchMail(ctx, from, to)
	case models.SourceChat:
		raws, err = g.fetchChats(ctx, from, to)
	case models.SourceMeeting:
		raws, err = g.fetchTranscripts(ctx, from, to)
	default:
		return nil, fmt.Errorf("unsupported source: %s", source)
	}
	if IsGraphStatus(err, http.StatusUnauthorized) {
		return raws, fmt.Errorf("graph access denied (run 'cosell auth microsoft'): %w", err)
	}
	return raws, err
}

type graphEmailAddress struct {
	EmailAddress struct {
		Name    string `json:"name"`
		Address string `json:"address"`
	} `json:"emailAddress"`
}

type graphBody struct {
	ContentType string `json:"contentType"`
	Content     string `json:"content"`
}

type graphMessage struct {
	ID               string              `json:"id"`
	Subject          string              `json:"subject"`
	From             *graphEmailAddress  `json:"from"`
	ReceivedDateTime time.Time           `json:"receivedDateTime"`
	BodyPreview      string              `json:"bodyPreview"`
	Body             graphBody           `json:"body"`
	ToRecipients     []graphEmailAddress `json:"toRecipients"`
}

func (g *GraphSources) fetchMail(ctx context.Context, from, to time.Time) ([]RawCommunication, error) {
	query := url.Values{}
	query.Set("$filter", fmt.Sprintf("receivedDateTime ge %s and receivedDateTime le %s",
		from.UTC().Format(graphTimeFormat), to.UTC().Format(graphTimeFormat)))
	query.Set("$select", "id,subject,from,receivedDateTime,bodyPreview,body,toRecipients")
	query.Set("$orderby", "receivedDateTime desc")

	items, err := g.client.List(ctx, "/me/messages", query, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch mail: %w", err)
	}

	raws := make([]RawCommunication, 0, len(items))
	for _, item := range items {
		var msg graphMessage
		if err := json.Unmarshal(item, &msg); err != nil {
			g.logger.Warn("skipping undecodable message", zap.Error(err))
			continue
		}

		subject := msg.Subject
		if subject == "" {
			subject = "(No Subject)"
		}
		sender := "Unknown"
		if msg.From != nil {
			if msg.From.EmailAddress.Name != "" {
				sender = msg.From.EmailAddress.Name
			} else if msg.From.EmailAddress.Address != "" {
				sender = msg.From.EmailAddress.Address
			}
		}
		var to []string
		for _, r := range msg.ToRecipients {
			to = append(to, r.EmailAddress.Address)
		}
		body := msg.Body.Content
		if body == "" {
			body = msg.BodyPreview
		}

		raws = append(raws, RawMail{
			ID:          msg.ID,
			Subject:     subject,
			From:        sender,
			ReceivedAt:  msg.ReceivedDateTime,
			BodyPreview: msg.BodyPreview,
			Body:        body,
			IsHTML:      strings.EqualFold(msg.Body.ContentType, "html"),
			To:          to,
		})
	}

	return raws, nil
}

type graphChat struct {
	ID      string `json:"id"`
	Topic   string `json:"topic"`
	Members []struct {
		DisplayName string `json:"displayName"`
		Email       string `json:"email"`
	} `json:"members"`
}

type graphChatMessage struct {
	ID              string    `json:"id"`
	MessageType     string    `json:"messageType"`
	CreatedDateTime time.Time `json:"createdDateTime"`
	From            *struct {
		User *struct {
			DisplayName string `json:"displayName"`
		} `json:"user"`
	} `json:"from"`
	Body graphBody `json:"body"`
}

func (g *GraphSources) fetchChats(ctx context.Context, from, to time.Time) ([]RawCommunication, error) {
	chatQuery := url.Values{}
	chatQuery.Set("$expand", "members")

	chats, err := g.client.List(ctx, "/me/chats", chatQuery, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch chats: %w", err)
	}

	var raws []RawCommunication
	var failed []error
	for _, item := range chats {
		var chat graphChat
		if err := json.Unmarshal(item, &chat); err != nil {
			g.logger.Warn("skipping undecodable chat", zap.Error(err))
			continue
		}

		var members []string
		for _, m := range chat.Members {
			if m.Email != "" {
				members = append(members, m.Email)
			} else if m.DisplayName != "" {
				members = append(members, m.DisplayName)
			}
		}

		msgQuery := url.Values{}
		msgQuery.Set("$orderby", "createdDateTime desc")
		// newest first, so stop at the first message before the window
		olderThanWindow := func(raw json.RawMessage) bool {
			var head struct {
				CreatedDateTime time.Time `json:"createdDateTime"`
			}
			return json.Unmarshal(raw, &head) == nil && head.CreatedDateTime.Before(from)
		}

		path := fmt.Sprintf("/me/chats/%s/messages", url.PathEscape(chat.ID))
		messages, err := g.client.List(ctx, path, msgQuery, olderThanWindow)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			g.logger.Warn("failed to fetch chat messages", zap.String("chat_id", chat.ID), zap.Error(err))
			failed = append(failed, fmt.Errorf("chat %s: %w", chat.ID, err))
			continue
		}

		for _, m := range messages {
			var msg graphChatMessage
			if err := json.Unmarshal(m, &msg); err != nil {
				continue
			}
			if msg.MessageType != "" && msg.MessageType != "message" {
				continue
			}
			if msg.CreatedDateTime.Before(from) || msg.CreatedDateTime.After(to) {
				continue
			}

			sender := "Unknown"
			if msg.From != nil && msg.From.User != nil && msg.From.User.DisplayName != "" {
				sender = msg.From.User.DisplayName
			}

			raws = append(raws, RawChat{
				ID:        msg.ID,
				ChatID:    chat.ID,
				Topic:     chat.Topic,
				From:      sender,
				CreatedAt: msg.CreatedDateTime,
				Body:      msg.Body.Content,
				Members:   members,
			})
		}
	}

	return raws, partialFetchError("chats", failed)
}

type graphMeeting struct {
	ID            string    `json:"id"`
	Subject       string    `json:"subject"`
	StartDateTime time.Time `json:"startDateTime"`
	Participants  struct {
		Organizer struct {
			UPN string `json:"upn"`
		} `json:"organizer"`
		Attendees []struct {
			UPN string `json:"upn"`
		} `json:"attendees"`
	} `json:"participants"`
}

type graphTranscript struct {
	ID              string    `json:"id"`
	CreatedDateTime time.Time `json:"createdDateTime"`
}

func (g *GraphSources) fetchTranscripts(ctx context.Context, from, to time.Time) ([]RawCommunication, error) {
	query := url.Values{}
	query.Set("$filter", fmt.Sprintf("startDateTime ge %s and endDateTime le %s",
		from.UTC().Format(graphTimeFormat), to.UTC().Format(graphTimeFormat)))

	meetings, err := g.client.List(ctx, "/me/onlineMeetings", query, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch meetings: %w", err)
	}

	var raws []RawCommunication
	var failed []error
	for _, item := range meetings {
		var meeting graphMeeting
		if err := json.Unmarshal(item, &meeting); err != nil {
			g.logger.Warn("skipping undecodable meeting", zap.Error(err))
			continue
		}

		participants := []string{}
		if meeting.Participants.Organizer.UPN != "" {
			participants = append(participants, meeting.Participants.Organizer.UPN)
		}
		for _, a := range meeting.Participants.Attendees {
			if a.UPN != "" {
				participants = append(participants, a.UPN)
			}
		}

		base := fmt.Sprintf("/me/onlineMeetings/%s/transcripts", url.PathEscape(meeting.ID))
		transcripts, err := g.client.List(ctx, base, url.Values{}, nil)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			g.logger.Warn("failed to list transcripts", zap.String("meeting_id", meeting.ID), zap.Error(err))
			failed = append(failed, fmt.Errorf("meeting %s: %w", meeting.ID, err))
			continue
		}

		for _, t := range transcripts {
			var tr graphTranscript
			if err := json.Unmarshal(t, &tr); err != nil {
				continue
			}

			contentQuery := url.Values{}
			contentQuery.Set("$format", "text/vtt")
			vtt, err := g.client.GetText(ctx, fmt.Sprintf("%s/%s/content", base, url.PathEscape(tr.ID)), contentQuery)
			if err != nil {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				g.logger.Warn("failed to fetch transcript content",
					zap.String("meeting_id", meeting.ID),
					zap.String("transcript_id", tr.ID),
					zap.Error(err))
				failed = append(failed, fmt.Errorf("transcript %s: %w", tr.ID, err))
				continue
			}

			raws = append(raws, RawTranscript{
				ID:           tr.ID,
				MeetingID:    meeting.ID,
				Subject:      meeting.Subject,
				Organizer:    meeting.Participants.Organizer.UPN,
				CreatedAt:    tr.CreatedDateTime,
				Content:      FlattenVTT(vtt),
				Participants: participants,
			})
		}
	}

	return raws, partialFetchError("transcripts", failed)
}

var (
	vttTimingPattern = regexp.MustCompile(`^\d{2}:\d{2}(:\d{2})?\.\d{3}\s+-->`)
	vttVoicePattern  = regexp.MustCompile(`<v\s+([^>]+)>(.*?)(</v>)?$`)
)

// FlattenVTT turns a WebVTT transcript into "Speaker: text" lines.
func FlattenVTT(vtt string) string {
	var lines []string
	for _, line := range strings.Split(strings.ReplaceAll(vtt, "\r\n", "\n"), "\n") {
		line = strings.TrimSpace(line)
		switch {
		case line == "", strings.HasPrefix(line, "WEBVTT"), strings.HasPrefix(line, "NOTE"):
			continue
		case vttTimingPattern.MatchString(line):
			continue
		case isCueNumber(line):
			continue
		}
		if m := vttVoicePattern.FindStringSubmatch(line); m != nil {
			line = strings.TrimSpace(m[1]) + ": " + strings.TrimSpace(m[2])
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

func isCueNumber(line string) bool {
	for _, r := range line {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
