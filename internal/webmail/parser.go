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
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/webmailrelay/relay/internal/models"
)

// loginResponse is the body of a login call.
type loginResponse struct {
	Session string `json:"session"`
	Error   string `json:"error"`
}

// listResponse is the body of an action=all call. Each row holds the
// requested columns; column 600 is the message id as a string.
type listResponse struct {
	Data  *[][]json.RawMessage `json:"data"`
	Error string               `json:"error"`
}

// messageResponse is the body of an action=get call.
type messageResponse struct {
	Data  *messageData `json:"data"`
	Error string       `json:"error"`
}

type messageData struct {
	// Each entry is a [display_name_or_null, address] pair.
	From        [][]*string      `json:"from"`
	To          [][]*string      `json:"to"`
	Attachment  bool             `json:"attachment"`
	Subject     string           `json:"subject"`
	Date        int64            `json:"date"` // milliseconds since epoch
	Attachments []attachmentData `json:"attachments"`
}

type attachmentData struct {
	ContentType string  `json:"content_type"`
	Size        int64   `json:"size"`
	Content     *string `json:"content"`
}

// errNoData is returned when the payload lacks the data member. This is how
// the service reports an expired session.
var errNoData = errors.New("response has no data")

// errNoRows is returned when a listing has no data[0][0]. An expired session
// can also answer with an empty listing, so it is never read as "no mail".
var errNoRows = errors.New("listing has no rows")

// parseNewestID extracts data[0][0] from a descending, limit-1 listing.
// Absence of that path is an error.
func parseNewestID(body []byte) (int64, error) {
	var resp listResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, fmt.Errorf("decode listing: %w", err)
	}
	if resp.Data == nil {
		return 0, withServerError(errNoData, resp.Error)
	}

	rows := *resp.Data
	if len(rows) == 0 {
		return 0, withServerError(errNoRows, resp.Error)
	}
	if len(rows[0]) == 0 {
		return 0, fmt.Errorf("listing row has no columns")
	}

	raw := rows[0][0]
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		id, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("parse message id %q: %w", s, err)
		}
		return id, nil
	}

	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0, fmt.Errorf("message id is neither string nor number: %s", string(raw))
	}
	id, err := n.Int64()
	if err != nil {
		return 0, fmt.Errorf("parse message id %q: %w", n, err)
	}
	return id, nil
}

// parseMessage converts an action=get response into a RemoteMessage.
func parseMessage(body []byte) (*models.RemoteMessage, error) {
	var resp messageResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode message: %w", err)
	}
	if resp.Data == nil {
		return nil, withServerError(errNoData, resp.Error)
	}
	d := resp.Data

	msg := &models.RemoteMessage{
		From:          toAddresses(d.From),
		To:            toAddresses(d.To),
		Subject:       d.Subject,
		Body:          models.NoContent,
		HasAttachment: d.Attachment,
		Attachments:   make([]models.Attachment, 0, len(d.Attachments)),
	}
	if d.Date > 0 {
		msg.Date = time.UnixMilli(d.Date).UTC()
	}

	// The first attachment record carries the rendered message body.
	if len(d.Attachments) > 0 && d.Attachments[0].Content != nil {
		msg.Body = *d.Attachments[0].Content
	}

	for _, a := range d.Attachments {
		att := models.Attachment{ContentType: a.ContentType, Size: a.Size}
		if a.Content != nil {
			att.Content = *a.Content
		}
		msg.Attachments = append(msg.Attachments, att)
	}

	return msg, nil
}

func toAddresses(pairs [][]*string) []models.Address {
	out := make([]models.Address, 0, len(pairs))
	for _, p := range pairs {
		var a models.Address
		if len(p) > 0 && p[0] != nil {
			a.Name = *p[0]
		}
		if len(p) > 1 && p[1] != nil {
			a.Address = *p[1]
		}
		out = append(out, a)
	}
	return out
}

func withServerError(err error, serverMsg string) error {
	if serverMsg == "" {
		return err
	}
	return fmt.Errorf("%w: %s", err, serverMsg)
}
