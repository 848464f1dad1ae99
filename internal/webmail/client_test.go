// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package webmail

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/webmailrelay/relay/internal/models"
)

func newTestClient(server *httptest.Server) *Client {
	return NewClient(server.Client(), Config{
		BaseURL:  server.URL,
		Username: "student",
		Password: "secret",
	})
}

// TestLogin_Success verifies the form fields and session extraction.
func TestLogin_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/login" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if err := r.ParseForm(); err != nil {
			t.Fatalf("parse form: %v", err)
		}
		if r.PostForm.Get("action") != "login" ||
			r.PostForm.Get("name") != "student" ||
			r.PostForm.Get("password") != "secret" {
			t.Errorf("unexpected form: %v", r.PostForm)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"session":"abc123"}`))
	}))
	defer server.Close()

	session, err := newTestClient(server).Login(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if session != "abc123" {
		t.Errorf("session = %q, want abc123", session)
	}
}

func TestLogin_Failures(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"non-2xx", http.StatusUnauthorized, `{"session":"x"}`},
		{"malformed body", http.StatusOK, `not json`},
		{"error payload", http.StatusOK, `{"error":"bad credentials"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			_, err := newTestClient(server).Login(context.Background())
			var authErr *AuthError
			if !errors.As(err, &authErr) {
				t.Fatalf("err = %v, want *AuthError", err)
			}
		})
	}
}

// TestLogin_TransportError verifies a dead server yields an AuthError.
func TestLogin_TransportError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	c := newTestClient(server)
	server.Close()

	_, err := c.Login(context.Background())
	var authErr *AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("err = %v, want *AuthError", err)
	}
}

// TestTotalMessageCount verifies the query parameters and data[0][0] parsing.
func TestTotalMessageCount(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		want := map[string]string{
			"action":  "all",
			"folder":  DefaultFolder,
			"session": "tok",
			"columns": "600",
			"order":   "desc",
			"limit":   "1",
		}
		for k, v := range want {
			if q.Get(k) != v {
				t.Errorf("query %s = %q, want %q", k, q.Get(k), v)
			}
		}
		w.Write([]byte(`{"data":[["1042"]],"timestamp":1}`))
	}))
	defer server.Close()

	total, err := newTestClient(server).TotalMessageCount(context.Background(), "tok")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if total != 1042 {
		t.Errorf("total = %d, want 1042", total)
	}
}

func TestTotalMessageCount_Shapes(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		want    int64
		wantErr bool
	}{
		{"numeric id", `{"data":[[77]]}`, 77, false},
		{"empty listing", `{"data":[]}`, 0, true},
		{"expired session", `{"error":"Your session expired","code":"SES-0203"}`, 0, true},
		{"empty row", `{"data":[[]]}`, 0, true},
		{"non numeric", `{"data":[["abc"]]}`, 0, true},
		{"not json", `<html>`, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			total, err := newTestClient(server).TotalMessageCount(context.Background(), "tok")
			if tt.wantErr {
				var fetchErr *FetchError
				if !errors.As(err, &fetchErr) {
					t.Fatalf("err = %v, want *FetchError", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if total != tt.want {
				t.Errorf("total = %d, want %d", total, tt.want)
			}
		})
	}
}

// TestFetchMessage verifies the message mapping including the null name.
func TestFetchMessage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("action") != "get" || q.Get("id") != "12" || q.Get("session") != "tok" {
			t.Errorf("unexpected query: %v", q)
		}
		data, _ := json.Marshal(map[string]interface{}{
			"data": map[string]interface{}{
				"from":       [][]interface{}{{nil, "a@x.com"}},
				"to":         [][]interface{}{{"Me", "me@x.com"}},
				"attachment": true,
				"subject":    "Grüße",
				"date":       1700000000000,
				"attachments": []map[string]interface{}{
					{"content_type": "text/html", "size": 11, "content": "<b>hi</b>"},
					{"content_type": "application/pdf", "size": 2048},
				},
			},
		})
		w.Write(data)
	}))
	defer server.Close()

	msg, err := newTestClient(server).FetchMessage(context.Background(), "tok", 12)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(msg.From) != 1 || msg.From[0] != (models.Address{Address: "a@x.com"}) {
		t.Errorf("from = %+v", msg.From)
	}
	if msg.To[0].Name != "Me" {
		t.Errorf("to name = %q, want Me", msg.To[0].Name)
	}
	if msg.Subject != "Grüße" {
		t.Errorf("subject = %q", msg.Subject)
	}
	if msg.Body != "<b>hi</b>" {
		t.Errorf("body = %q", msg.Body)
	}
	if !msg.HasAttachment || len(msg.Attachments) != 2 {
		t.Errorf("attachments = %v / %d", msg.HasAttachment, len(msg.Attachments))
	}
	if msg.Date.UnixMilli() != 1700000000000 {
		t.Errorf("date = %v", msg.Date)
	}
}

// TestFetchMessage_NoContent verifies the body fallback.
func TestFetchMessage_NoContent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":{"from":[[null,"a@x.com"]],"to":[[null,"b@x.com"]],"attachment":false,"subject":"","date":0,"attachments":[]}}`))
	}))
	defer server.Close()

	msg, err := newTestClient(server).FetchMessage(context.Background(), "tok", 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg.Body != models.NoContent {
		t.Errorf("body = %q, want %q", msg.Body, models.NoContent)
	}
	if !msg.Date.IsZero() {
		t.Errorf("date = %v, want zero", msg.Date)
	}
}

func TestFetchMessage_Failures(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"server error", http.StatusInternalServerError, ``},
		{"expired session", http.StatusOK, `{"error":"Your session expired"}`},
		{"bad shape", http.StatusOK, `{"data":{"from":"nobody"}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			_, err := newTestClient(server).FetchMessage(context.Background(), "tok", 3)
			var fetchErr *FetchError
			if !errors.As(err, &fetchErr) {
				t.Fatalf("err = %v, want *FetchError", err)
			}
		})
	}
}
