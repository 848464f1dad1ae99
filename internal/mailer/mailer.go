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

// Package mailer delivers relayed emails through an SMTP submission server.
package mailer

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"mime/quotedprintable"
	"net"
	"net/mail"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/webmailrelay/relay/internal/models"
)

// Supported authentication mechanisms.
const (
	AuthPlain       = "plain"
	AuthOAuthBearer = "oauthbearer"
)

// implicitTLSPort is the SMTPS port; any other port uses STARTTLS.
const implicitTLSPort = 465

// SendError is returned when a message could not be delivered.
type SendError struct {
	ID  int64
	Err error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("send message %d: %s", e.ID, e.Err.Error())
}
func (e *SendError) Unwrap() error { return e.Err }

// Config holds the SMTP settings.
type Config struct {
	Server         string
	Port           int
	Username       string
	Password       string
	ForwardAddress string

	// Auth is AuthPlain (default) or AuthOAuthBearer.
	Auth string
	// OAuth and RefreshToken are used with AuthOAuthBearer.
	OAuth        *oauth2.Config
	RefreshToken string
}

// sendFunc matches smtp.SendMail and smtp.SendMailTLS.
type sendFunc func(addr string, a sasl.Client, from string, to []string, r io.Reader) error

// Mailer composes and sends relayed emails.
type Mailer struct {
	addr     string
	host     string
	port     int
	username string
	password string
	forward  string
	tokens   oauth2.TokenSource
	send     sendFunc
	now      func() time.Time
}

// New creates a mailer. ctx is used for OAuth token refreshes.
func New(ctx context.Context, cfg Config) (*Mailer, error) {
	if cfg.Server == "" || cfg.Username == "" || cfg.ForwardAddress == "" {
		return nil, fmt.Errorf("mailer: server, username and forward address are required")
	}
	port := cfg.Port
	if port == 0 {
		port = implicitTLSPort
	}

	m := &Mailer{
		addr:     net.JoinHostPort(cfg.Server, strconv.Itoa(port)),
		host:     cfg.Server,
		port:     port,
		username: cfg.Username,
		password: cfg.Password,
		forward:  cfg.ForwardAddress,
		send:     smtp.SendMail,
		now:      time.Now,
	}
	if port == implicitTLSPort {
		m.send = smtp.SendMailTLS
	}

	switch strings.ToLower(cfg.Auth) {
	case "", AuthPlain:
	case AuthOAuthBearer:
		if cfg.OAuth == nil || cfg.RefreshToken == "" {
			return nil, fmt.Errorf("mailer: oauthbearer auth needs oauth client settings and a refresh token")
		}
		m.tokens = oauth2.ReuseTokenSource(nil, cfg.OAuth.TokenSource(ctx, &oauth2.Token{RefreshToken: cfg.RefreshToken}))
	default:
		return nil, fmt.Errorf("mailer: unknown auth mechanism %q", cfg.Auth)
	}

	return m, nil
}

// Send delivers one relayed email to the forward address.
func (m *Mailer) Send(ctx context.Context, email *models.RelayableEmail) error {
	if err := ctx.Err(); err != nil {
		return &SendError{ID: email.ID, Err: err}
	}

	auth, err := m.auth()
	if err != nil {
		return &SendError{ID: email.ID, Err: err}
	}

	msg, err := m.compose(email)
	if err != nil {
		return &SendError{ID: email.ID, Err: err}
	}

	if err := m.send(m.addr, auth, m.username, []string{m.forward}, bytes.NewReader(msg)); err != nil {
		return &SendError{ID: email.ID, Err: err}
	}

	slog.Info("email relayed",
		"message_id", email.ID,
		"from", email.FromAddress,
		"to", m.forward,
	)
	return nil
}

func (m *Mailer) auth() (sasl.Client, error) {
	if m.tokens == nil {
		return sasl.NewPlainClient("", m.username, m.password), nil
	}
	tok, err := m.tokens.Token()
	if err != nil {
		return nil, fmt.Errorf("refresh oauth token: %w", err)
	}
	return sasl.NewOAuthBearerClient(&sasl.OAuthBearerOptions{
		Username: m.username,
		Token:    tok.AccessToken,
		Host:     m.host,
		Port:     m.port,
	}), nil
}

// compose renders the RFC 5322 message. The relay account is the sender;
// the original sender's name is kept as display name and its address as
// Reply-To.
func (m *Mailer) compose(email *models.RelayableEmail) ([]byte, error) {
	date := email.Date
	if date.IsZero() {
		date = m.now()
	}

	from := mail.Address{Name: email.FromName, Address: m.username}
	to := mail.Address{Name: email.ToName, Address: m.forward}
	replyTo := mail.Address{Name: email.FromName, Address: email.FromAddress}

	var buf bytes.Buffer
	header := func(k, v string) {
		buf.WriteString(k)
		buf.WriteString(": ")
		buf.WriteString(v)
		buf.WriteString("\r\n")
	}
	header("From", from.String())
	header("To", to.String())
	header("Reply-To", replyTo.String())
	header("Subject", mime.QEncoding.Encode("utf-8", email.Subject))
	header("Date", date.Format(time.RFC1123Z))
	header("Message-ID", fmt.Sprintf("<%s@%s>", uuid.NewString(), domainOf(m.username)))
	header("X-Relay-Source-Id", strconv.FormatInt(email.ID, 10))
	header("MIME-Version", "1.0")
	header("Content-Type", `text/html; charset="utf-8"`)
	header("Content-Transfer-Encoding", "quoted-printable")
	buf.WriteString("\r\n")

	qp := quotedprintable.NewWriter(&buf)
	if _, err := qp.Write([]byte(email.Body)); err != nil {
		return nil, fmt.Errorf("encode body: %w", err)
	}
	if err := qp.Close(); err != nil {
		return nil, fmt.Errorf("encode body: %w", err)
	}

	return buf.Bytes(), nil
}

func domainOf(addr string) string {
	if i := strings.LastIndex(addr, "@"); i >= 0 && i < len(addr)-1 {
		return addr[i+1:]
	}
	return "localhost"
}
