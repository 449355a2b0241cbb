// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package score

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"

	"go.uber.org/zap"

	"github.com/aartikrish/de-novo-antibiotics/internal/httputil"
)

// httpRequest is the body POSTed to an inference server.
type httpRequest struct {
	SMILES []string `json:"smiles"`
}

// httpResponse is the inference server's answer. Values that are null or
// not numbers are treated as missing.
type httpResponse struct {
	Columns     []string `json:"columns"`
	Predictions []struct {
		SMILES string         `json:"smiles"`
		Values map[string]any `json:"values"`
	} `json:"predictions"`
	Error string `json:"error,omitempty"`
}

// HTTPModel scores molecules through a remote inference server.
type HTTPModel struct {
	url    string
	client *http.Client
	token  string
	logger *zap.Logger
}

func newHTTPModel(raw string, opts Options) (*HTTPModel, error) {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return nil, &ModelLoadError{Path: raw, Reason: "malformed inference URL"}
	}
	client := opts.Client
	if client == nil {
		client = http.DefaultClient
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPModel{url: u.String(), client: client, token: opts.Token, logger: logger.Named("model")}, nil
}

func (m *HTTPModel) Key() string { return m.url }

// Predict POSTs the SMILES list and decodes the predictions, retrying while
// the server is throttling or still loading.
func (m *HTTPModel) Predict(ctx context.Context, smiles []string) (Predictions, error) {
	if len(smiles) == 0 {
		return Predictions{}, nil
	}
	body, err := json.Marshal(httpRequest{SMILES: smiles})
	if err != nil {
		return Predictions{}, fmt.Errorf("encoding model request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.url, bytes.NewReader(body))
	if err != nil {
		return Predictions{}, fmt.Errorf("building model request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if m.token != "" {
		req.Header.Set("Authorization", "Bearer "+m.token)
	}

	resp, err := httputil.DoWithRetry(ctx, m.client, req, 0)
	if err != nil {
		return Predictions{}, fmt.Errorf("calling model %s: %w", m.url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return Predictions{}, &ModelLoadError{Path: m.url, Reason: "inference endpoint not found"}
	}
	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Predictions{}, fmt.Errorf("model %s returned HTTP %d: %s", m.url, resp.StatusCode, bytes.TrimSpace(snippet))
	}

	var hr httpResponse
	if err := json.NewDecoder(resp.Body).Decode(&hr); err != nil {
		return Predictions{}, fmt.Errorf("decoding model response: %w", err)
	}
	if hr.Error != "" {
		return Predictions{}, fmt.Errorf("model %s: %s", m.url, hr.Error)
	}

	p := Predictions{Columns: hr.Columns, Values: make(map[string]map[string]float64, len(hr.Predictions))}
	for _, row := range hr.Predictions {
		vals := make(map[string]float64, len(row.Values))
		for col, v := range row.Values {
			if f, ok := v.(float64); ok && !math.IsNaN(f) && !math.IsInf(f, 0) {
				vals[col] = f
			}
		}
		p.Values[row.SMILES] = vals
	}
	m.logger.Debug("predicted", zap.String("url", m.url), zap.Int("inputs", len(smiles)), zap.Int("rows", len(p.Values)))
	return p, nil
}

func (m *HTTPModel) Close() error {
	m.client.CloseIdleConnections()
	return nil
}
