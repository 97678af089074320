package apiclient

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// Response is a successful API response with its body fully read.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// envelope is the wrapper every API payload arrives in.
type envelope struct {
	Data json.RawMessage `json:"data"`
}

// Data returns the raw payload of the {"data": ...} envelope.
func (r *Response) Data() (json.RawMessage, error) {
	var env envelope
	if err := json.Unmarshal(r.Body, &env); err != nil {
		return nil, fmt.Errorf("decoding response envelope: %w", err)
	}
	return env.Data, nil
}

// Decode unmarshals the envelope payload into v.
func (r *Response) Decode(v any) error {
	data, err := r.Data()
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return fmt.Errorf("response envelope has no data")
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decoding response data: %w", err)
	}
	return nil
}
