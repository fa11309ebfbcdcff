// ABOUTME: Noise filters for Gmail messages ahead of co-sell detection
// ABOUTME: Drops automated senders, calendar invites, and auto-generated replies
package sync

import (
	"strings"

	"google.golang.org/api/gmail/v1"
)

var automatedSenderPatterns = []string{
	"noreply", "no-reply", "donotreply", "do-not-reply",
	"notifications", "notify", "mailer-daemon", "postmaster",
	"bounces", "unsubscribe", "newsletter", "marketing",
}

var calendarSubjectPrefixes = []string{
	"invitation:", "invite:", "calendar:", "updated invitation:", "canceled event:",
}

var autoSubjectPrefixes = []string{
	"automatic reply", "out of office", "delivery status notification",
	"returned mail", "failure notice", "undelivered mail",
}

// isAutomatedSender reports whether a From header belongs to a bot or list.
func isAutomatedSender(from string) bool {
	from = strings.ToLower(strings.TrimSpace(from))
	if from == "" {
		return true
	}
	for _, pattern := range automatedSenderPatterns {
		if strings.Contains(from, pattern) {
			return true
		}
	}
	return false
}

// isCalendarInvite reports whether a message is a meeting invite. Meetings
// come from the calendar source instead.
func isCalendarInvite(subject string, msg *gmail.Message) bool {
	if msg == nil || msg.Payload == nil {
		return false
	}
	if msg.Payload.MimeType == "text/calendar" {
		return true
	}
	lower := strings.ToLower(subject)
	for _, prefix := range calendarSubjectPrefixes {
		if strings.HasPrefix(lower, prefix) {
			return true
		}
	}
	return false
}

// isAutoGeneratedSubject reports out-of-office replies, bounces, and empty subjects.
func isAutoGeneratedSubject(subject string) bool {
	subject = strings.TrimSpace(subject)
	if len(subject) < 3 {
		return true
	}
	lower := strings.ToLower(subject)
	for _, prefix := range autoSubjectPrefixes {
		if strings.HasPrefix(lower, prefix) {
			return true
		}
	}
	return false
}

// skipMessage returns why a message should not be scanned, or "" to keep it.
func skipMessage(msg *gmail.Message) string {
	headers := parseHeaders(msg.Payload)
	switch {
	case isAutomatedSender(headers["From"]):
		return "automated sender"
	case isCalendarInvite(headers["Subject"], msg):
		return "calendar invite"
	case isAutoGeneratedSubject(headers["Subject"]):
		return "auto-generated"
	}
	return ""
}
