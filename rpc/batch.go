package rpc

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrEmptyPayload is returned for empty request or response bodies.
	ErrEmptyPayload = errors.New("empty payload")
	// ErrBatchLength is returned when a node answers with a different number
	// of responses than requests were sent.
	ErrBatchLength = errors.New("number of responses does not match number of requests")
)

func isArray(data []byte) bool {
	trimmed := bytes.TrimSpace(data)
	return len(trimmed) > 0 && trimmed[0] == '['
}

// ParseRequests decodes a single request object or a batch array. The returned
// flag reports whether the input was a batch.
func ParseRequests(data []byte) ([]*Request, bool, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, false, ErrEmptyPayload
	}
	if isArray(data) {
		var reqs []*Request
		if err := json.Unmarshal(data, &reqs); err != nil {
			return nil, true, fmt.Errorf("decode batch: %w", err)
		}
		if len(reqs) == 0 {
			return nil, true, ErrEmptyPayload
		}
		for i, r := range reqs {
			if r == nil || r.Method == "" {
				return nil, true, fmt.Errorf("request %d: missing method", i)
			}
		}
		return reqs, true, nil
	}
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, false, fmt.Errorf("decode request: %w", err)
	}
	if req.Method == "" {
		return nil, false, errors.New("missing method")
	}
	return []*Request{&req}, false, nil
}

// ParseResponses decodes a node reply which must contain exactly expected
// responses. A single object is accepted when one response is expected.
func ParseResponses(data []byte, expected int) ([]*Response, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, ErrEmptyPayload
	}
	var out []*Response
	if isArray(data) {
		if err := json.Unmarshal(data, &out); err != nil {
			return nil, fmt.Errorf("decode responses: %w", err)
		}
	} else {
		var single Response
		if err := json.Unmarshal(data, &single); err != nil {
			return nil, fmt.Errorf("decode response: %w", err)
		}
		out = []*Response{&single}
	}
	if len(out) != expected {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrBatchLength, len(out), expected)
	}
	for i, r := range out {
		if r == nil {
			return nil, fmt.Errorf("response %d is null", i)
		}
		if r.Error == nil && len(r.Result) == 0 {
			return nil, fmt.Errorf("response %d has neither result nor error", i)
		}
	}
	return out, nil
}

// EncodeResponses renders responses the way they were requested: an object
// for a single call, an array for a batch.
func EncodeResponses(responses []*Response, batch bool) ([]byte, error) {
	if !batch && len(responses) == 1 {
		return json.Marshal(responses[0])
	}
	return json.Marshal(responses)
}
