package channel

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"
)

// Endpoint is the worker side of the channel.
type Endpoint struct {
	dec *json.Decoder

	mu  sync.Mutex
	enc *json.Encoder
}

// NewEndpoint reads requests from r and writes responses to w.
func NewEndpoint(r io.Reader, w io.Writer) *Endpoint {
	return &Endpoint{dec: json.NewDecoder(r), enc: json.NewEncoder(w)}
}

// Receive blocks until the next request arrives. It returns io.EOF once the orchestrator
// closed its end.
func (e *Endpoint) Receive() (Request, error) {
	var req Request
	if err := e.dec.Decode(&req); err != nil {
		if err == io.EOF {
			return req, err
		}
		return req, fmt.Errorf("failed to decode request: %w", err)
	}
	return req, nil
}

// Send writes resp as a single line. It is safe for concurrent use.
func (e *Endpoint) Send(resp Response) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.enc.Encode(resp); err != nil {
		return fmt.Errorf("failed to send %s: %w", resp.Result, err)
	}
	return nil
}
