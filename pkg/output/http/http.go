// Package http posts readings to a collector endpoint.
package http

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/ericogr/envnode/pkg/config"
	"github.com/ericogr/envnode/pkg/output"
	"github.com/ericogr/envnode/pkg/sensor"
)

const (
	DefaultTimeout = config.DefaultOutputTimeout
	statusOK       = "ok"
)

type HTTPOutput struct {
	url    string
	client *http.Client
}

func NewHTTP(cfg config.HTTPConfig) (output.Output, error) {
	if cfg.URL == "" {
		return nil, errors.New("http output requires a url")
	}
	timeout := time.Duration(cfg.TimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &HTTPOutput{url: cfg.URL, client: &http.Client{Timeout: timeout}}, nil
}

type body struct {
	ID           string    `json:"id,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
	Temperature  float64   `json:"temperature"`
	Conductivity float64   `json:"conductivity"`
	Flow         float64   `json:"flow"`
}

type reply struct {
	Status string `json:"status"`
}

// Publish sends one reading. The collector must answer 2xx and, if it sends
// a JSON body, a status of "ok". There is no retry.
func (h *HTTPOutput) Publish(r sensor.Reading) error {
	b, err := json.Marshal(body{ID: r.ID, Timestamp: r.Timestamp, Temperature: r.Temperature, Conductivity: r.Conductivity, Flow: r.Flow})
	if err != nil {
		return err
	}
	resp, err := h.client.Post(h.url, "application/json", bytes.NewReader(b))
	if err != nil {
		return errors.Wrapf(output.ErrTransmissionFailed, "post: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return errors.Wrapf(output.ErrTransmissionFailed, "status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return errors.Wrapf(output.ErrTransmissionFailed, "read reply: %v", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	var rep reply
	if err := json.Unmarshal(data, &rep); err != nil {
		return errors.Wrapf(output.ErrTransmissionFailed, "decode reply: %v", err)
	}
	if !strings.EqualFold(rep.Status, statusOK) {
		return errors.Wrapf(output.ErrTransmissionFailed, "collector status %q", rep.Status)
	}
	return nil
}

func (h *HTTPOutput) Close() error {
	h.client.CloseIdleConnections()
	return nil
}
