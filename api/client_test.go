package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mqy/minichat/auth"
	"github.com/mqy/minichat/chatstore"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, _, err := auth.FromRequest(r); err != nil {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"code":"unauthenticated","message":"no session"}`))
			return
		}
		h(w, r)
	}))
	t.Cleanup(srv.Close)

	c, err := New(Config{BaseURL: srv.URL, Timeout: time.Second}, &auth.Static{Uid: "me", Token: "tok"})
	require.NoError(t, err)
	return c
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func TestSendMessage(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/conversations/c1/messages", r.URL.Path)
		var in struct{ Content string }
		require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		assert.Equal(t, "hello", in.Content)
		writeJSON(w, map[string]interface{}{
			"message": map[string]interface{}{
				"id": 555, "senderId": "me", "content": in.Content,
				"createdAt": "2024-05-01T10:00:00Z",
			},
		})
	})

	m, err := c.SendMessage(context.Background(), "c1", "hello")
	require.NoError(t, err)
	assert.Equal(t, int64(555), m.ID)
	assert.Equal(t, "c1", m.ConversationID)
	assert.Equal(t, chatstore.KindText, m.Kind)
	assert.Equal(t, chatstore.Confirmed, m.State)
}

func TestErrorResponse(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"code":"not_member","message":"not a member"}`))
	})

	_, err := c.Messages(context.Background(), "c1")
	require.Error(t, err)
	var e *Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, http.StatusForbidden, e.Status)
	assert.Equal(t, "not_member", e.Code)
	assert.False(t, e.Temporary())
	assert.True(t, IsStatus(err, http.StatusForbidden))
}

func TestPlainTextError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream down", http.StatusBadGateway)
	})

	err := c.MarkRead(context.Background(), "c1")
	var e *Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, "upstream down", e.Message)
	assert.True(t, e.Temporary())
}

func TestReactionPathsAreEscaped(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			assert.Equal(t, "/api/conversations/c1/messages/7/reactions", r.URL.Path)
			writeJSON(w, map[string]interface{}{"reactions": []chatstore.Reaction{{Emoji: "👍", UserID: "me"}}})
		case http.MethodDelete:
			assert.Equal(t, "/api/conversations/c1/messages/7/reactions/👍", r.URL.Path)
			writeJSON(w, map[string]interface{}{"reactions": []chatstore.Reaction{}})
		default:
			t.Errorf("unexpected method %s", r.Method)
		}
	})

	rs, err := c.AddReaction(context.Background(), "c1", 7, "👍")
	require.NoError(t, err)
	assert.Equal(t, []chatstore.Reaction{{Emoji: "👍", UserID: "me"}}, rs)

	rs, err = c.RemoveReaction(context.Background(), "c1", 7, "👍")
	require.NoError(t, err)
	assert.Empty(t, rs)
}

func TestUploadAttachment(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/conversations/c1/attachments", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "text_with_file", r.FormValue("kind"))
		assert.Equal(t, "see attached", r.FormValue("content"))
		f, hdr, err := r.FormFile("file")
		require.NoError(t, err)
		defer f.Close()
		data, _ := io.ReadAll(f)
		assert.Equal(t, "report.pdf", hdr.Filename)
		assert.Equal(t, []byte("%PDF"), data)
		writeJSON(w, map[string]interface{}{
			"message": map[string]interface{}{"id": 9, "kind": "text_with_file", "attachment": "att/9"},
		})
	})

	m, err := c.UploadAttachment(context.Background(), "c1", chatstore.Attachment{
		Kind:     chatstore.KindTextWithFile,
		FileName: "report.pdf",
		Content:  "see attached",
		Data:     []byte("%PDF"),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(9), m.ID)
	assert.Equal(t, "att/9", m.Attachment)
}

func TestListAndCreate(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/conversations", r.URL.Path)
		if r.Method == http.MethodGet {
			writeJSON(w, map[string]interface{}{"conversations": []chatstore.Conversation{{ID: "c1"}, {ID: "c2"}}})
			return
		}
		var in chatstore.NewConversation
		require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		writeJSON(w, map[string]interface{}{"conversation": chatstore.Conversation{ID: "c3", Kind: in.Kind, DisplayName: in.Name}})
	})

	list, err := c.ListConversations(context.Background())
	require.NoError(t, err)
	assert.Len(t, list, 2)

	conv, err := c.CreateConversation(context.Background(), chatstore.NewConversation{
		Kind: chatstore.ConversationGroup, Name: "Team", MemberIDs: []string{"bob"},
	})
	require.NoError(t, err)
	assert.Equal(t, "c3", conv.ID)
	assert.Equal(t, "Team", conv.DisplayName)
}

func TestUnauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c, err := New(Config{BaseURL: srv.URL}, &auth.Static{Uid: "me"})
	require.NoError(t, err)
	assert.Error(t, c.DeleteMessage(context.Background(), "c1", 1))

	_, err = New(Config{BaseURL: "ftp://example.com"}, &auth.Static{})
	assert.Error(t, err)
}
