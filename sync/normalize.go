// ABOUTME: Converts provider-specific mail, chat, and transcript records into Communications
// ABOUTME: Enforces required fields and derives bounded previews when the source has none
package sync

import (
	"errors"
	"fmt"
	"html"
	"regexp"
	"strings"
	"time"

	"github.com/harperreed/cosell/models"
)

// PreviewLength is the rune length of derived previews.
const PreviewLength = 150

// ErrMalformedInput is returned when a raw record lacks required fields.
var ErrMalformedInput = errors.New("malformed input")

// ErrPartialFetch is returned with the records a source did fetch when some
// of its per-thread, per-meeting, or per-message requests failed.
var ErrPartialFetch = errors.New("partial fetch")

// partialFetchError wraps the collected sub-request failures, or returns nil.
func partialFetchError(what string, errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %d %s failed: %w", ErrPartialFetch, len(errs), what, errors.Join(errs...))
}

// RawCommunication is a record as returned by a source provider.
type RawCommunication interface {
	SourceType() models.SourceType
}

// RawMail is a mail message as fetched from Graph or Gmail.
type RawMail struct {
	ID          string
	Subject     string
	From        string
	ReceivedAt  time.Time
	BodyPreview string
	Body        string
	IsHTML      bool
	To          []string
}

func (RawMail) SourceType() models.SourceType { return models.SourceEmail }

// RawChat is one Teams chat message.
type RawChat struct {
	ID        string
	ChatID    string
	Topic     string
	From      string
	CreatedAt time.Time
	Body      string
	Members   []string
}

func (RawChat) SourceType() models.SourceType { return models.SourceChat }

// RawTranscript is a meeting transcript flattened to plain text.
type RawTranscript struct {
	ID           string
	MeetingID    string
	Subject      string
	Organizer    string
	CreatedAt    time.Time
	Content      string
	Participants []string
}

func (RawTranscript) SourceType() models.SourceType { return models.SourceMeeting }

var (
	tagPattern        = regexp.MustCompile(`<[^>]*>`)
	whitespacePattern = regexp.MustCompile(`\s+`)
)

// Normalize maps one raw record into a Communication.
func Normalize(source models.SourceType, raw RawCommunication) (models.Communication, error) {
	if raw == nil {
		return models.Communication{}, fmt.Errorf("%w: nil record", ErrMalformedInput)
	}
	if raw.SourceType() != source {
		return models.Communication{}, fmt.Errorf("%w: %s record passed as %s", ErrMalformedInput, raw.SourceType(), source)
	}

	var comm models.Communication
	switch r := raw.(type) {
	case RawMail:
		body := r.Body
		if r.IsHTML {
			body = StripHTML(body)
		}
		comm = models.Communication{
			ID:           r.ID,
			Type:         models.SourceEmail,
			Subject:      r.Subject,
			From:         r.From,
			OccurredAt:   r.ReceivedAt,
			Preview:      r.BodyPreview,
			Content:      body,
			Participants: r.To,
		}
	case RawChat:
		subject := "Chat"
		if r.Topic != "" {
			subject = "Chat: " + r.Topic
		}
		comm = models.Communication{
			ID:           r.ID,
			Type:         models.SourceChat,
			Subject:      subject,
			From:         r.From,
			OccurredAt:   r.CreatedAt,
			Content:      StripHTML(r.Body),
			Participants: r.Members,
		}
	case RawTranscript:
		comm = models.Communication{
			ID:           r.ID,
			Type:         models.SourceMeeting,
			Subject:      r.Subject,
			From:         r.Organizer,
			OccurredAt:   r.CreatedAt,
			Content:      r.Content,
			Participants: r.Participants,
		}
	default:
		return models.Communication{}, fmt.Errorf("%w: unsupported record type %T", ErrMalformedInput, raw)
	}

	if strings.TrimSpace(comm.ID) == "" {
		return models.Communication{}, fmt.Errorf("%w: missing id", ErrMalformedInput)
	}
	if comm.OccurredAt.IsZero() {
		return models.Communication{}, fmt.Errorf("%w: missing timestamp for %s", ErrMalformedInput, comm.ID)
	}

	if comm.Preview == "" {
		comm.Preview = Preview(comm.Content)
	}

	return comm, nil
}

// NormalizeBatch normalizes every record, skipping malformed ones.
func NormalizeBatch(source models.SourceType, raws []RawCommunication) ([]models.Communication, int) {
	comms := make([]models.Communication, 0, len(raws))
	skipped := 0
	for _, raw := range raws {
		comm, err := Normalize(source, raw)
		if err != nil {
			skipped++
			continue
		}
		comms = append(comms, comm)
	}
	return comms, skipped
}

// Preview returns the first PreviewLength runes of content.
func Preview(content string) string {
	runes := []rune(content)
	if len(runes) <= PreviewLength {
		return content
	}
	return string(runes[:PreviewLength])
}

// StripHTML removes tags and collapses whitespace.
func StripHTML(s string) string {
	if !strings.Contains(s, "<") && !strings.Contains(s, "&") {
		return s
	}
	text := tagPattern.ReplaceAllString(s, " ")
	text = html.UnescapeString(text)
	return strings.TrimSpace(whitespacePattern.ReplaceAllString(text, " "))
}
