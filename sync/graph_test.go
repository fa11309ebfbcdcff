// ABOUTME: Tests for the Graph client and Graph-backed sources against an httptest server
// ABOUTME: Covers auth header, paging, error mapping, chat window filtering, and VTT flattening
package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/harperreed/cosell/auth"
	"github.com/harperreed/cosell/models"
)

func graphCtx() context.Context {
	return auth.WithGraphTokenSource(context.Background(), oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "test-token"}))
}

func newTestGraph(t *testing.T, handler http.Handler) *GraphSources {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client := NewGraphClient(GraphConfig{BaseURL: srv.URL, RequestsPerSec: 1000, Burst: 100}, srv.Client(), nil)
	return NewGraphSources(client, nil)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func TestFetchMailPagesAndAuth(t *testing.T) {
	var srvURL string
	mux := http.NewServeMux()
	mux.HandleFunc("/me/messages", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		if r.URL.Query().Get("page") == "2" {
			writeJSON(w, map[string]any{"value": []map[string]any{
				{"id": "m2", "subject": "", "receivedDateTime": "2024-03-02T10:00:00Z", "body": map[string]string{"contentType": "text", "content": "second"}},
			}})
			return
		}
		assert.Contains(t, r.URL.Query().Get("$filter"), "receivedDateTime ge 2024-03-01T00:00:00Z")
		writeJSON(w, map[string]any{
			"value": []map[string]any{
				{
					"id": "m1", "subject": "Co-sell", "receivedDateTime": "2024-03-01T09:00:00Z",
					"bodyPreview": "preview",
					"from":        map[string]any{"emailAddress": map[string]string{"name": "Pat", "address": "pat@acme.com"}},
					"body":        map[string]string{"contentType": "html", "content": "<p>hi</p>"},
				},
			},
			"@odata.nextLink": srvURL + "/me/messages?page=2",
		})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()
	srvURL = srv.URL

	sources := NewGraphSources(NewGraphClient(GraphConfig{BaseURL: srv.URL, RequestsPerSec: 1000, Burst: 100}, srv.Client(), nil), nil)
	from := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	raws, err := sources.Fetch(graphCtx(), models.SourceEmail, from, from.Add(72*time.Hour))
	require.NoError(t, err)
	require.Len(t, raws, 2)

	first := raws[0].(RawMail)
	assert.Equal(t, "Pat", first.From)
	assert.True(t, first.IsHTML)
	second := raws[1].(RawMail)
	assert.Equal(t, "(No Subject)", second.Subject)
	assert.Equal(t, "Unknown", second.From)
}

func TestFetchWithoutTokenFails(t *testing.T) {
	sources := newTestGraph(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("request should not be sent without a token")
	}))
	_, err := sources.Fetch(context.Background(), models.SourceEmail, time.Now().Add(-time.Hour), time.Now())
	assert.ErrorIs(t, err, auth.ErrNoCredentials)
}

func TestGraphErrorMapping(t *testing.T) {
	sources := newTestGraph(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		writeJSON(w, map[string]any{"error": map[string]string{"code": "Authorization_RequestDenied", "message": "denied"}})
	}))
	_, err := sources.Fetch(graphCtx(), models.SourceEmail, time.Now().Add(-time.Hour), time.Now())
	require.Error(t, err)
	assert.True(t, IsGraphStatus(err, http.StatusForbidden))
	assert.Contains(t, err.Error(), "denied")
}

func TestFetchChatsFiltersWindowAndReportsBrokenChats(t *testing.T) {
	from := time.Date(2024, 4, 10, 0, 0, 0, 0, time.UTC)
	to := from.Add(24 * time.Hour)

	mux := http.NewServeMux()
	mux.HandleFunc("/me/chats", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"value": []map[string]any{
			{"id": "good", "topic": "Fabrikam", "members": []map[string]string{{"displayName": "Lee", "email": "lee@contoso.com"}}},
			{"id": "broken"},
		}})
	})
	mux.HandleFunc("/me/chats/good/messages", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"value": []map[string]any{
			{"id": "late", "messageType": "message", "createdDateTime": to.Add(time.Hour).Format(time.RFC3339), "body": map[string]string{"content": "too late"}},
			{"id": "in", "messageType": "message", "createdDateTime": from.Add(time.Hour).Format(time.RFC3339),
				"from": map[string]any{"user": map[string]string{"displayName": "Lee"}}, "body": map[string]string{"content": "co-sell?"}},
			{"id": "sys", "messageType": "systemEventMessage", "createdDateTime": from.Add(2 * time.Hour).Format(time.RFC3339)},
			{"id": "old", "messageType": "message", "createdDateTime": from.Add(-time.Hour).Format(time.RFC3339)},
		}})
	})
	mux.HandleFunc("/me/chats/broken/messages", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	sources := newTestGraph(t, mux)
	raws, err := sources.Fetch(graphCtx(), models.SourceChat, from, to)
	require.ErrorIs(t, err, ErrPartialFetch)
	assert.Contains(t, err.Error(), "chat broken")
	require.Len(t, raws, 1)

	chat := raws[0].(RawChat)
	assert.Equal(t, "in", chat.ID)
	assert.Equal(t, "Fabrikam", chat.Topic)
	assert.Equal(t, []string{"lee@contoso.com"}, chat.Members)
}

func TestFetchChatsThrottledChatFailsTheFetch(t *testing.T) {
	from := time.Date(2024, 4, 10, 0, 0, 0, 0, time.UTC)
	to := from.Add(24 * time.Hour)

	mux := http.NewServeMux()
	mux.HandleFunc("/me/chats", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"value": []map[string]any{{"id": "c1"}, {"id": "c2"}}})
	})
	mux.HandleFunc("/me/chats/c1/messages", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		writeJSON(w, map[string]any{"error": map[string]string{"code": "TooManyRequests", "message": "slow down"}})
	})
	mux.HandleFunc("/me/chats/c2/messages", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"value": []map[string]any{
			{"id": "c2-1", "messageType": "message", "createdDateTime": from.Add(time.Hour).Format(time.RFC3339), "body": map[string]string{"content": "co-sell"}},
		}})
	})

	sources := newTestGraph(t, mux)
	raws, err := sources.Fetch(graphCtx(), models.SourceChat, from, to)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPartialFetch)
	assert.True(t, IsGraphStatus(err, http.StatusTooManyRequests))

	require.Len(t, raws, 1)
	assert.Equal(t, "c2-1", raws[0].(RawChat).ID)
}

func TestFetchTranscriptsContentFailureFailsTheFetch(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/me/onlineMeetings", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"value": []map[string]any{{"id": "mtg1", "subject": "QBR"}, {"id": "mtg2", "subject": "Sync"}}})
	})
	mux.HandleFunc("/me/onlineMeetings/mtg1/transcripts", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	mux.HandleFunc("/me/onlineMeetings/mtg2/transcripts", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"value": []map[string]any{{"id": "tr2", "createdDateTime": "2024-04-10T15:00:00Z"}}})
	})
	mux.HandleFunc("/me/onlineMeetings/mtg2/transcripts/tr2/content", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})

	sources := newTestGraph(t, mux)
	raws, err := sources.Fetch(graphCtx(), models.SourceMeeting, time.Now().Add(-time.Hour), time.Now())
	require.ErrorIs(t, err, ErrPartialFetch)
	assert.Contains(t, err.Error(), "2 transcripts failed")
	assert.Empty(t, raws)
}

func TestUnauthorizedGraphFetchSuggestsSignIn(t *testing.T) {
	sources := newTestGraph(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	_, err := sources.Fetch(graphCtx(), models.SourceChat, time.Now().Add(-time.Hour), time.Now())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cosell auth microsoft")
	assert.True(t, IsGraphStatus(err, http.StatusUnauthorized))
}

func TestFetchTranscripts(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/me/onlineMeetings", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"value": []map[string]any{
			{"id": "mtg1", "subject": "Contoso QBR", "participants": map[string]any{
				"organizer": map[string]string{"upn": "sam@contoso.com"},
				"attendees": []map[string]string{{"upn": "pat@acme.com"}},
			}},
		}})
	})
	mux.HandleFunc("/me/onlineMeetings/mtg1/transcripts", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"value": []map[string]any{{"id": "tr1", "createdDateTime": "2024-04-10T15:00:00Z"}}})
	})
	mux.HandleFunc("/me/onlineMeetings/mtg1/transcripts/tr1/content", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "text/vtt", r.URL.Query().Get("$format"))
		_, _ = fmt.Fprint(w, "WEBVTT\n\n1\n00:00:01.000 --> 00:00:04.000\n<v Sam Lee>Let's co-sell with Acme</v>\n")
	})

	sources := newTestGraph(t, mux)
	raws, err := sources.Fetch(graphCtx(), models.SourceMeeting, time.Now().Add(-time.Hour), time.Now())
	require.NoError(t, err)
	require.Len(t, raws, 1)

	tr := raws[0].(RawTranscript)
	assert.Equal(t, "Contoso QBR", tr.Subject)
	assert.Equal(t, "Sam Lee: Let's co-sell with Acme", tr.Content)
	assert.Equal(t, []string{"sam@contoso.com", "pat@acme.com"}, tr.Participants)
}

func TestFlattenVTT(t *testing.T) {
	vtt := strings.Join([]string{
		"WEBVTT",
		"",
		"12",
		"00:01:02.500 --> 00:01:05.000",
		"<v Ana>Budget is 200k</v>",
		"",
		"00:01:06.000 --> 00:01:08.000",
		"plain line",
	}, "\r\n")
	assert.Equal(t, "Ana: Budget is 200k\nplain line", FlattenVTT(vtt))
}
