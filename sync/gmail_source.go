// ABOUTME: Gmail-backed email source for accounts that live outside Microsoft 365
// ABOUTME: Lists messages in a time window, drops noise, and decodes headers and text bodies into RawMail
package sync

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"github.com/harperreed/cosell/models"
)

const maxGmailResults = 500 // Gmail API max per page

// GmailSource fetches mail through the Gmail API.
type GmailSource struct {
	svc    *gmail.Service
	logger *zap.Logger
}

// NewGmailService creates an authenticated Gmail API service.
func NewGmailService(ctx context.Context, config *oauth2.Config, token *oauth2.Token) (*gmail.Service, error) {
	if token == nil {
		return nil, fmt.Errorf("token cannot be nil")
	}

	client := config.Client(ctx, token)
	service, err := gmail.NewService(ctx, option.WithHTTPClient(client))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gmail service: %w", err)
	}
	return service, nil
}

// NewGmailSource wraps a Gmail service as an email source.
func NewGmailSource(svc *gmail.Service, logger *zap.Logger) *GmailSource {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GmailSource{svc: svc, logger: logger.Named("gmail")}
}

// BuildWindowQuery builds a Gmail search query for [from, to].
func BuildWindowQuery(from, to time.Time) string {
	return fmt.Sprintf("after:%d before:%d -in:chats", from.Unix(), to.Unix()+1)
}

// Fetch returns mail received in [from, to]. Only the email source is supported.
func (g *GmailSource) Fetch(ctx context.Context, source models.SourceType, from, to time.Time) ([]RawCommunication, error) {
	if source != models.SourceEmail {
		return nil, fmt.Errorf("gmail does not provide %s communications", source)
	}

	var raws []RawCommunication
	var failed []error
	pageToken := ""
	query := BuildWindowQuery(from, to)

	for {
		call := g.svc.Users.Messages.List("me").Q(query).MaxResults(maxGmailResults).Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}

		response, err := call.Do()
		if err != nil {
			return raws, fmt.Errorf("failed to list messages: %w", err)
		}
		if response == nil || len(response.Messages) == 0 {
			break
		}

		for _, ref := range response.Messages {
			msg, err := g.svc.Users.Messages.Get("me", ref.Id).Format("full").Context(ctx).Do()
			if err != nil {
				if ctx.Err() != nil {
					return raws, ctx.Err()
				}
				g.logger.Warn("failed to fetch message", zap.String("id", ref.Id), zap.Error(err))
				failed = append(failed, fmt.Errorf("message %s: %w", ref.Id, err))
				continue
			}

			if reason := skipMessage(msg); reason != "" {
				g.logger.Debug("skipped message", zap.String("id", ref.Id), zap.String("reason", reason))
				continue
			}

			raw := GmailToRaw(msg)
			if raw.ReceivedAt.Before(from) || raw.ReceivedAt.After(to) {
				continue
			}
			raws = append(raws, raw)
		}

		pageToken = response.NextPageToken
		if pageToken == "" {
			break
		}
	}

	return raws, partialFetchError("messages", failed)
}

// GmailToRaw converts a full-format Gmail message into RawMail.
func GmailToRaw(msg *gmail.Message) RawMail {
	headers := parseHeaders(msg.Payload)

	raw := RawMail{
		ID:          msg.Id,
		Subject:     headers["Subject"],
		From:        displayAddress(headers["From"]),
		BodyPreview: msg.Snippet,
	}
	if raw.Subject == "" {
		raw.Subject = "(No Subject)"
	}

	if msg.InternalDate > 0 {
		raw.ReceivedAt = time.UnixMilli(msg.InternalDate).UTC()
	} else if t, err := parseEmailDate(headers["Date"]); err == nil {
		raw.ReceivedAt = t
	}

	if list, err := mail.ParseAddressList(headers["To"]); err == nil {
		for _, addr := range list {
			raw.To = append(raw.To, strings.ToLower(addr.Address))
		}
	}

	if text := findBody(msg.Payload, "text/plain"); text != "" {
		raw.Body = text
	} else if htmlBody := findBody(msg.Payload, "text/html"); htmlBody != "" {
		raw.Body = htmlBody
		raw.IsHTML = true
	}

	return raw
}

func parseHeaders(part *gmail.MessagePart) map[string]string {
	headers := make(map[string]string)
	if part == nil {
		return headers
	}
	for _, h := range part.Headers {
		headers[h.Name] = h.Value
	}
	return headers
}

// displayAddress prefers the display name of a From header.
func displayAddress(from string) string {
	if from == "" {
		return "Unknown"
	}
	addr, err := mail.ParseAddress(from)
	if err != nil {
		return from
	}
	if addr.Name != "" {
		return addr.Name
	}
	return addr.Address
}

func findBody(part *gmail.MessagePart, mimeType string) string {
	if part == nil {
		return ""
	}
	if part.MimeType == mimeType && part.Body != nil && part.Body.Data != "" {
		data, err := base64.URLEncoding.DecodeString(part.Body.Data)
		if err != nil {
			data, err = base64.RawURLEncoding.DecodeString(part.Body.Data)
			if err != nil {
				return ""
			}
		}
		return string(data)
	}
	for _, child := range part.Parts {
		if body := findBody(child, mimeType); body != "" {
			return body
		}
	}
	return ""
}

// parseEmailDate parses RFC 2822 email dates.
func parseEmailDate(dateStr string) (time.Time, error) {
	if dateStr == "" {
		return time.Time{}, fmt.Errorf("empty date")
	}

	// Strip trailing timezone name like "(UTC)" or "(PST)"
	if idx := strings.Index(dateStr, " ("); idx > 0 {
		dateStr = dateStr[:idx]
	}

	formats := []string{
		time.RFC1123Z,
		"Mon, 2 Jan 2006 15:04:05 -0700",
		time.RFC1123,
		"Mon, 2 Jan 2006 15:04:05 MST",
		time.RFC822Z,
		time.RFC822,
		time.RFC3339,
	}

	for _, format := range formats {
		if t, err := time.Parse(format, dateStr); err == nil {
			return t, nil
		}
	}

	return time.Time{}, fmt.Errorf("failed to parse date: %s", dateStr)
}
