package rest

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

func TestListConversations(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat-conversation" {
			t.Errorf("path = %q, want /chat-conversation", r.URL.Path)
		}
		if r.URL.Query().Get("TeamId") != "12" {
			t.Errorf("TeamId = %q, want 12", r.URL.Query().Get("TeamId"))
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("Authorization = %q, want Bearer tok", got)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"isSuccess": true,
			"chatConversations": []map[string]any{
				{"conversationId": 1, "conversationName": "General", "teamName": "Team A", "isRead": true, "unreadCount": 0},
				{"conversationId": 2, "conversationName": "Sprint", "teamName": "Team A", "isRead": false, "unreadCount": 3},
			},
		})
	}))
	defer srv.Close()

	c := New(srv.URL, "tok")
	got, err := c.ListConversations(context.Background(), 12)
	if err != nil {
		t.Fatalf("ListConversations: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d conversations, want 2", len(got))
	}
	if got[1].UnreadCount != 3 || got[1].IsRead {
		t.Errorf("second summary = %+v, want unreadCount=3 isRead=false", got[1])
	}
}

func TestListConversationsBackendFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"isSuccess": false})
	}))
	defer srv.Close()

	c := New(srv.URL, "")
	if _, err := c.ListConversations(context.Background(), 1); err == nil {
		t.Error("expected error for isSuccess=false envelope")
	}
}

func TestGetConversation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat-conversation/7" {
			t.Errorf("path = %q, want /chat-conversation/7", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"isSuccess": true,
			"chatConversation": map[string]any{
				"conversationId":   7,
				"conversationName": "General",
				"teamName":         "Team A",
				"teamMembers":      []map[string]any{{"userId": 1, "name": "An"}},
				"chatMessages": []map[string]any{
					{"messageId": 100, "conversationId": 7, "senderId": 1, "message": "hi", "sendAt": 1000, "readUserIds": []int64{1}},
				},
			},
		})
	}))
	defer srv.Close()

	c := New(srv.URL, "")
	detail, err := c.GetConversation(context.Background(), 7)
	if err != nil {
		t.Fatalf("GetConversation: %v", err)
	}
	if detail.ConversationID != 7 || len(detail.ChatMessages) != 1 {
		t.Errorf("detail = %+v, want id=7 with 1 message", detail)
	}
	if !detail.ChatMessages[0].HasReader(1) {
		t.Error("readUserIds not decoded")
	}
}

func TestMarkReadUsesPatch(t *testing.T) {
	var method, path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method, path = r.Method, r.URL.Path
		_ = json.NewEncoder(w).Encode(map[string]any{"isSuccess": true})
	}))
	defer srv.Close()

	c := New(srv.URL, "")
	if err := c.MarkRead(context.Background(), 5); err != nil {
		t.Fatalf("MarkRead: %v", err)
	}
	if method != http.MethodPatch || path != "/chat-conversation/5/is-read" {
		t.Errorf("got %s %s, want PATCH /chat-conversation/5/is-read", method, path)
	}
}

func TestCreateConversationBody(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		_ = json.NewEncoder(w).Encode(map[string]any{"isSuccess": true})
	}))
	defer srv.Close()

	c := New(srv.URL, "")
	if err := c.CreateConversation(context.Background(), 12, "Standup"); err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}
	if body["conversationName"] != "Standup" {
		t.Errorf("conversationName = %v, want Standup", body["conversationName"])
	}
	if body["teamId"] != float64(12) {
		t.Errorf("teamId = %v, want 12", body["teamId"])
	}
}

func TestDeleteConversation(t *testing.T) {
	var method string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method = r.Method
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := New(srv.URL, "")
	if err := c.DeleteConversation(context.Background(), 3); err != nil {
		t.Fatalf("DeleteConversation: %v", err)
	}
	if method != http.MethodDelete {
		t.Errorf("method = %s, want DELETE", method)
	}
}

func TestDeleteConversationReusesConnection(t *testing.T) {
	var mu sync.Mutex
	conns := 0
	srv := httptest.NewUnstartedServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"isSuccess": true})
	}))
	srv.Config.ConnState = func(_ net.Conn, state http.ConnState) {
		if state == http.StateNew {
			mu.Lock()
			conns++
			mu.Unlock()
		}
	}
	srv.Start()
	defer srv.Close()

	c := New(srv.URL, "")
	for i := 0; i < 3; i++ {
		if err := c.DeleteConversation(context.Background(), 3); err != nil {
			t.Fatalf("DeleteConversation: %v", err)
		}
	}

	// The undecoded response body must be drained so keep-alive works;
	// otherwise every delete burns a fresh connection.
	mu.Lock()
	got := conns
	mu.Unlock()
	if got != 1 {
		t.Errorf("connections = %d for 3 sequential deletes, want 1", got)
	}
}

func TestNon2xxStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(srv.URL, "")
	if _, err := c.ListConversations(context.Background(), 1); err == nil {
		t.Error("expected error for 500 response")
	}
}
