////////////////////////////////////////////////////////////////////////////////
// Copyright © 2024 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

// Package resync fetches the authoritative conversation summaries from the
// backend's REST API. Events pushed while the connection was down are lost, so
// the summaries are fetched again after every (re)connection.
package resync

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"

	"gitlab.com/elixxir/hubclient/conversation"
	"gitlab.com/elixxir/hubclient/credential"
	"gitlab.com/elixxir/hubclient/normalize"
)

// Error messages.
const (
	requestErr  = "failed to request conversation summaries"
	statusErr   = "conversation summaries request returned %d: %s"
	decodeErr   = "failed to decode conversation summaries"
	maxBodySize = 8 << 20
)

// Source returns the current conversation summaries.
type Source interface {
	Conversations(ctx context.Context) ([]conversation.Conversation, error)
}

// SourceFunc adapts a function to the Source interface.
type SourceFunc func(ctx context.Context) ([]conversation.Conversation, error)

// Conversations calls f.
func (f SourceFunc) Conversations(ctx context.Context) (
	[]conversation.Conversation, error) {
	return f(ctx)
}

// HTTPSource fetches summaries from GET <BaseURL>/conversations.
type HTTPSource struct {
	BaseURL string
	Creds   credential.Provider
	Client  *http.Client
}

// NewHTTPSource returns a Source for the API at baseURL.
func NewHTTPSource(baseURL string, creds credential.Provider,
	timeout time.Duration) *HTTPSource {
	return &HTTPSource{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Creds:   creds,
		Client:  &http.Client{Timeout: timeout},
	}
}

// Conversations fetches and normalizes the summaries. The body is either a
// JSON array of summaries or an object with them under "items". Summaries
// that cannot be normalized are skipped.
func (s *HTTPSource) Conversations(ctx context.Context) (
	[]conversation.Conversation, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		s.BaseURL+"/conversations", nil)
	if err != nil {
		return nil, errors.WithMessage(err, requestErr)
	}
	req.Header.Set("Accept", "application/json")
	if s.Creds != nil {
		token, err := s.Creds.Token(ctx)
		if err != nil {
			return nil, errors.WithMessage(err, requestErr)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, errors.WithMessage(err, requestErr)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, errors.WithMessage(err, requestErr)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf(statusErr, resp.StatusCode,
			strings.TrimSpace(string(body)))
	}

	return decode(body)
}

// decode parses a summaries body.
func decode(body []byte) ([]conversation.Conversation, error) {
	var items []json.RawMessage
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var page struct {
			Items []json.RawMessage `json:"items"`
		}
		if err := json.Unmarshal(trimmed, &page); err != nil {
			return nil, errors.Wrap(err, decodeErr)
		}
		items = page.Items
	} else if err := json.Unmarshal(trimmed, &items); err != nil {
		return nil, errors.Wrap(err, decodeErr)
	}

	cs := make([]conversation.Conversation, 0, len(items))
	for i, item := range items {
		c, err := normalize.Summary(item)
		if err != nil {
			jww.WARN.Printf("[SYNC] Skipping conversation summary %d: %+v",
				i, err)
			continue
		}
		if c.ID == 0 {
			jww.WARN.Printf("[SYNC] Skipping conversation summary %d "+
				"without an ID", i)
			continue
		}
		cs = append(cs, c)
	}
	return cs, nil
}
