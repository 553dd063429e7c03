// Package explain generates the human-readable reasoning attached to every
// decision. A remote language service is consulted when configured; the
// template fallback guarantees a decision never ships without an
// explanation.
package explain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/krishx06/SKAG-MedTech/internal/decision"
	"github.com/krishx06/SKAG-MedTech/internal/hospital"
	"github.com/krishx06/SKAG-MedTech/internal/shared/metrics"
)

// Config holds configuration for the explanation service client
type Config struct {
	// Service endpoint
	BaseURL string `json:"base_url"`
	Enabled bool   `json:"enabled"`

	// Timeouts
	Timeout       time.Duration `json:"timeout"`
	RetryAttempts int           `json:"retry_attempts"`
	RetryDelay    time.Duration `json:"retry_delay"`
}

// DefaultConfig returns default configuration
func DefaultConfig() Config {
	return Config{
		BaseURL:       "http://localhost:5000",
		Enabled:       false,
		Timeout:       10 * time.Second,
		RetryAttempts: 2,
		RetryDelay:    500 * time.Millisecond,
	}
}

// Client talks to the explanation service, falling back to the local
// template generator on any failure
type Client struct {
	baseURL    string
	httpClient *http.Client
	config     Config
	logger     *zap.Logger
}

// New creates a new explanation client
func New(cfg Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL:    cfg.BaseURL,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		config:     cfg,
		logger:     logger,
	}
}

type explainRequest struct {
	PatientID    string                  `json:"patient_id"`
	DecisionType string                  `json:"decision_type"`
	Urgency      string                  `json:"urgency"`
	Score        decision.Score          `json:"score"`
	Breakdown    []decision.Contribution `json:"breakdown"`
	Confidence   decision.Confidence     `json:"confidence"`
	AcuityLevel  int                     `json:"acuity_level"`
	WaitMinutes  int                     `json:"wait_minutes"`
}

type explainResponse struct {
	Explanation string `json:"explanation"`
}

// Explain produces the reasoning text for a decision. It never returns an
// empty string: when the remote service is disabled, unreachable or returns
// garbage, the template fallback is used instead.
func (c *Client) Explain(ctx context.Context, patient *hospital.Patient, d *decision.Decision, now time.Time) string {
	if !c.config.Enabled {
		return Fallback(patient, d)
	}

	text, err := c.remoteExplain(ctx, patient, d, now)
	if err != nil || text == "" {
		c.logger.Warn("explanation service unavailable, using fallback",
			zap.String("decision_id", d.ID),
			zap.Error(err))
		metrics.RecordExplanationFallback()
		return Fallback(patient, d)
	}
	return text
}

func (c *Client) remoteExplain(ctx context.Context, patient *hospital.Patient, d *decision.Decision, now time.Time) (string, error) {
	body, err := json.Marshal(explainRequest{
		PatientID:    patient.ID,
		DecisionType: string(d.Type),
		Urgency:      string(d.Urgency),
		Score:        d.Score,
		Breakdown:    d.Score.Breakdown(),
		Confidence:   d.Confidence,
		AcuityLevel:  int(patient.AcuityLevel),
		WaitMinutes:  patient.WaitTimeMinutes(now),
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal explain request: %w", err)
	}

	url := c.baseURL + "/api/v1/explain"

	var lastErr error
	for attempt := 0; attempt <= c.config.RetryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(c.config.RetryDelay):
			}
		}

		text, err := c.doRequest(ctx, url, body)
		if err == nil {
			return text, nil
		}
		lastErr = err
	}
	return "", lastErr
}

func (c *Client) doRequest(ctx context.Context, url string, body []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("explain request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("explain service returned status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("failed to read explain response: %w", err)
	}

	var out explainResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return "", fmt.Errorf("failed to decode explain response: %w", err)
	}
	return out.Explanation, nil
}
