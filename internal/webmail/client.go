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

// Package webmail is a client for the App Suite style webmail HTTP API.
// It only knows the three calls the relay needs: login, the newest message
// id of a folder, and a single message by id. It never retries.
package webmail

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/webmailrelay/relay/internal/models"
)

// DefaultFolder is the inbox folder id on App Suite installations.
const DefaultFolder = "default0/INBOX"

// Session is the opaque token returned by login.
type Session string

// AuthError is returned when login fails for any reason.
type AuthError struct {
	Err error
}

func (e *AuthError) Error() string { return "webmail login: " + e.Err.Error() }
func (e *AuthError) Unwrap() error { return e.Err }

// FetchError is returned when listing or fetching fails. An expired session
// surfaces as a FetchError too: the API answers 200 with an error payload.
type FetchError struct {
	Op  string
	Err error
}

func (e *FetchError) Error() string { return "webmail " + e.Op + ": " + e.Err.Error() }
func (e *FetchError) Unwrap() error { return e.Err }

// Config holds the account settings for the client.
type Config struct {
	BaseURL  string // e.g. https://webmail.example.org/appsuite/api
	Username string
	Password string
	Folder   string
}

// Client talks to the webmail API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	username   string
	password   string
	folder     string
}

// NewClient creates a webmail client. If httpClient is nil a client with a
// cookie jar is created; the service pins sessions to login cookies.
func NewClient(httpClient *http.Client, cfg Config) *Client {
	if httpClient == nil {
		jar, _ := cookiejar.New(nil)
		httpClient = &http.Client{Jar: jar, Timeout: 30 * time.Second}
	}
	folder := cfg.Folder
	if folder == "" {
		folder = DefaultFolder
	}
	return &Client{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		username:   cfg.Username,
		password:   cfg.Password,
		folder:     folder,
	}
}

// Login exchanges the configured credentials for a session token.
func (c *Client) Login(ctx context.Context) (Session, error) {
	form := url.Values{}
	form.Set("action", "login")
	form.Set("name", c.username)
	form.Set("password", c.password)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/login", strings.NewReader(form.Encode()))
	if err != nil {
		return "", &AuthError{Err: fmt.Errorf("build request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &AuthError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &AuthError{Err: fmt.Errorf("HTTP %d", resp.StatusCode)}
	}

	var body loginResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", &AuthError{Err: fmt.Errorf("decode login response: %w", err)}
	}
	if body.Session == "" {
		return "", &AuthError{Err: fmt.Errorf("no session in response: %s", body.Error)}
	}

	slog.Info("webmail login succeeded", "user", c.username)
	return Session(body.Session), nil
}

// TotalMessageCount returns the highest message id currently in the folder.
// A listing without data[0][0] is a *FetchError, as with any other failure.
func (c *Client) TotalMessageCount(ctx context.Context, session Session) (int64, error) {
	params := url.Values{}
	params.Set("action", "all")
	params.Set("folder", c.folder)
	params.Set("session", string(session))
	params.Set("columns", "600")
	params.Set("order", "desc")
	params.Set("limit", "1")

	data, err := c.get(ctx, params)
	if err != nil {
		return 0, &FetchError{Op: "list", Err: err}
	}

	total, err := parseNewestID(data)
	if err != nil {
		return 0, &FetchError{Op: "list", Err: err}
	}

	slog.Debug("webmail newest message", "id", total)
	return total, nil
}

// FetchMessage retrieves a single message by id.
func (c *Client) FetchMessage(ctx context.Context, session Session, id int64) (*models.RemoteMessage, error) {
	params := url.Values{}
	params.Set("action", "get")
	params.Set("id", strconv.FormatInt(id, 10))
	params.Set("folder", c.folder)
	params.Set("session", string(session))

	op := fmt.Sprintf("get %d", id)
	data, err := c.get(ctx, params)
	if err != nil {
		return nil, &FetchError{Op: op, Err: err}
	}

	msg, err := parseMessage(data)
	if err != nil {
		return nil, &FetchError{Op: op, Err: err}
	}
	return msg, nil
}

// get issues a GET against the mail module and returns the raw body.
func (c *Client) get(ctx context.Context, params url.Values) ([]byte, error) {
	u := c.baseURL + "/mail?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return data, nil
}
