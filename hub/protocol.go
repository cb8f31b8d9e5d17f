////////////////////////////////////////////////////////////////////////////////
// Copyright © 2024 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package hub

import (
	"bytes"
	"encoding/json"

	"github.com/pkg/errors"
)

// recordSeparator terminates every JSON hub protocol record.
const recordSeparator = 0x1e

// Message types of the JSON hub protocol.
const (
	invocationType       = 1
	streamItemType       = 2
	completionType       = 3
	streamInvocationType = 4
	cancelInvocationType = 5
	pingType             = 6
	closeType            = 7
)

// handshakeRequest selects the JSON protocol.
type handshakeRequest struct {
	Protocol string `json:"protocol"`
	Version  int    `json:"version"`
}

// handshakeResponse is empty on success.
type handshakeResponse struct {
	Error string `json:"error,omitempty"`
}

// invocation is an outbound call. InvocationID is empty for calls that do not
// expect a completion.
type invocation struct {
	Type         int           `json:"type"`
	InvocationID string        `json:"invocationId,omitempty"`
	Target       string        `json:"target"`
	Arguments    []interface{} `json:"arguments"`
}

// message is any inbound record.
type message struct {
	Type           int               `json:"type"`
	InvocationID   string            `json:"invocationId,omitempty"`
	Target         string            `json:"target,omitempty"`
	Arguments      []json.RawMessage `json:"arguments,omitempty"`
	Result         json.RawMessage   `json:"result,omitempty"`
	Error          string            `json:"error,omitempty"`
	AllowReconnect bool              `json:"allowReconnect,omitempty"`
}

var pingRecord = mustRecord(struct {
	Type int `json:"type"`
}{pingType})

// record encodes v as a single protocol record.
func record(v interface{}) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return append(b, recordSeparator), nil
}

func mustRecord(v interface{}) []byte {
	b, err := record(v)
	if err != nil {
		panic(err)
	}
	return b
}

// splitRecords splits a websocket frame into its records. A frame may carry
// several records; the trailing separator is not required on the last one.
func splitRecords(frame []byte) [][]byte {
	parts := bytes.Split(frame, []byte{recordSeparator})
	records := make([][]byte, 0, len(parts))
	for _, p := range parts {
		if len(bytes.TrimSpace(p)) > 0 {
			records = append(records, p)
		}
	}
	return records
}

// parseHandshake checks the hub's handshake response.
func parseHandshake(rec []byte) error {
	var resp handshakeResponse
	if err := json.Unmarshal(rec, &resp); err != nil {
		return errors.Wrap(err, "malformed handshake response")
	}
	if resp.Error != "" {
		return errors.Errorf("hub rejected handshake: %s", resp.Error)
	}
	return nil
}
