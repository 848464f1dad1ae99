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

// Package models defines the data structures shared across the relay service.
package models

import (
	"errors"
	"fmt"
	"time"
)

// AttachmentNotice replaces the body of any message that carried an
// attachment. Attachments are never forwarded.
const AttachmentNotice = "<div>This email has one or more attachments, please check the webmail inbox.</div>"

// NoContent is the body used when the remote message has no content record.
const NoContent = "No content available"

// ErrMalformedMessage is returned when a remote message cannot be projected
// into a relayable email.
var ErrMalformedMessage = errors.New("malformed remote message")

// Address represents a sender or recipient. Either field may be empty.
type Address struct {
	Name    string
	Address string
}

// Attachment represents one attachment record of a remote message.
type Attachment struct {
	ContentType string
	Size        int64
	Content     string
}

// RemoteMessage is a snapshot of one message as returned by the webmail API.
type RemoteMessage struct {
	From          []Address
	To            []Address
	Subject       string
	Body          string
	HasAttachment bool
	Date          time.Time
	Attachments   []Attachment
}

// RelayableEmail is the mail-ready projection of a RemoteMessage.
type RelayableEmail struct {
	ID          int64
	FromName    string
	FromAddress string
	ToName      string
	ToAddress   string
	Subject     string
	Body        string
	Date        time.Time
}

// NewRelayableEmail projects a remote message into a relayable email.
// Display names fall back to the address; the body is replaced with
// AttachmentNotice when the original carried an attachment.
func NewRelayableEmail(id int64, msg *RemoteMessage) (*RelayableEmail, error) {
	if msg == nil {
		return nil, fmt.Errorf("message %d: %w", id, ErrMalformedMessage)
	}

	fromName, fromAddr, err := resolve(msg.From)
	if err != nil {
		return nil, fmt.Errorf("message %d sender: %w", id, err)
	}
	toName, toAddr, err := resolve(msg.To)
	if err != nil {
		return nil, fmt.Errorf("message %d recipient: %w", id, err)
	}

	body := msg.Body
	if msg.HasAttachment {
		body = AttachmentNotice
	}

	return &RelayableEmail{
		ID:          id,
		FromName:    fromName,
		FromAddress: fromAddr,
		ToName:      toName,
		ToAddress:   toAddr,
		Subject:     msg.Subject,
		Body:        body,
		Date:        msg.Date,
	}, nil
}

// resolve picks the first address of a list and applies the name fallback.
func resolve(list []Address) (name, addr string, err error) {
	if len(list) == 0 {
		return "", "", fmt.Errorf("empty address list: %w", ErrMalformedMessage)
	}
	first := list[0]
	if first.Address == "" {
		return "", "", fmt.Errorf("missing address: %w", ErrMalformedMessage)
	}
	name = first.Name
	if name == "" {
		name = first.Address
	}
	return name, first.Address, nil
}
