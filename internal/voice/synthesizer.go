// ABOUTME: Text-to-speech client for an async conversion service.
// ABOUTME: Submits a job, polls with bounded backoff, and downloads the produced audio.

package voice

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// ErrSynthesisTimeout is returned when a conversion job does not finish
// within the bounded polling window.
var ErrSynthesisTimeout = errors.New("speech synthesis timed out")

// DefaultVoice is the synthesis voice used for the tutor's Chinese replies.
const DefaultVoice = "zh-CN-XiaomoNeural"

// Polling bounds for the conversion job. Backoff grows from the base delay by
// pollFactor up to the cap; polling stops once the maximum wait has elapsed.
const (
	defaultPollBase = 2 * time.Second
	pollFactor      = 1.5
	defaultPollMax  = 15 * time.Second
	defaultMaxWait  = 60 * time.Second
)

// Synthesizer converts text to speech via an asynchronous conversion API.
type Synthesizer struct {
	BaseURL string
	APIKey  string
	UserID  string
	Voice   string
	HTTP    *http.Client

	pollBase time.Duration
	pollMax  time.Duration
	maxWait  time.Duration
	logger   *slog.Logger
}

// NewSynthesizer creates a synthesizer client. An empty voice defaults to
// DefaultVoice.
func NewSynthesizer(baseURL, apiKey, userID, voice string, logger *slog.Logger) *Synthesizer {
	if voice == "" {
		voice = DefaultVoice
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Synthesizer{
		BaseURL:  baseURL,
		APIKey:   apiKey,
		UserID:   userID,
		Voice:    voice,
		HTTP:     &http.Client{Timeout: 30 * time.Second},
		pollBase: defaultPollBase,
		pollMax:  defaultPollMax,
		maxWait:  defaultMaxWait,
		logger:   logger.With("component", "voice"),
	}
}

// SetMaxWait overrides the maximum time to wait for one conversion job.
// Non-positive values keep the default.
func (s *Synthesizer) SetMaxWait(d time.Duration) {
	if d > 0 {
		s.maxWait = d
	}
}

type convertResponse struct {
	TranscriptionID string `json:"transcriptionId"`
}

type statusResponse struct {
	Converted bool    `json:"converted"`
	AudioURL  string  `json:"audioUrl"`
	Duration  float64 `json:"audioDuration"`
}

// Synthesize converts text to audio and returns the audio bytes. The text is
// run through PrepareText first so mixed Chinese/English reads naturally.
func (s *Synthesizer) Synthesize(ctx context.Context, text string) ([]byte, error) {
	jobID, err := s.submit(ctx, PrepareText(text))
	if err != nil {
		return nil, err
	}

	audioURL, err := s.waitForJob(ctx, jobID)
	if err != nil {
		return nil, err
	}

	return s.download(ctx, audioURL)
}

func (s *Synthesizer) submit(ctx context.Context, text string) (string, error) {
	payload := map[string]any{
		"content":     []string{text},
		"voice":       s.Voice,
		"globalSpeed": "90%",
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encoding conversion request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.BaseURL+"/api/v1/convert", bytes.NewReader(b))
	if err != nil {
		return "", fmt.Errorf("creating conversion request: %w", err)
	}
	s.setHeaders(req)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.HTTP.Do(req)
	if err != nil {
		return "", fmt.Errorf("conversion request failed: %w", err)
	}
	defer resp.Body.Close()

	var out convertResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decoding conversion response: %w", err)
	}
	if out.TranscriptionID == "" {
		return "", fmt.Errorf("conversion job not accepted (status %d)", resp.StatusCode)
	}
	return out.TranscriptionID, nil
}

// waitForJob polls the job status until the audio is ready, the context is
// cancelled, or the bounded wait is exhausted.
func (s *Synthesizer) waitForJob(ctx context.Context, jobID string) (string, error) {
	deadline := time.Now().Add(s.maxWait)
	delay := s.pollBase

	for {
		converted, audioURL, err := s.status(ctx, jobID)
		if err != nil {
			return "", err
		}
		if converted {
			return audioURL, nil
		}

		if time.Now().Add(delay).After(deadline) {
			s.logger.Warn("synthesis job did not finish in time", "job_id", jobID)
			return "", ErrSynthesisTimeout
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(delay):
		}

		delay = time.Duration(float64(delay) * pollFactor)
		if delay > s.pollMax {
			delay = s.pollMax
		}
	}
}

func (s *Synthesizer) status(ctx context.Context, jobID string) (bool, string, error) {
	endpoint := fmt.Sprintf("%s/api/v1/articleStatus?transcriptionId=%s", s.BaseURL, jobID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return false, "", fmt.Errorf("creating status request: %w", err)
	}
	s.setHeaders(req)

	resp, err := s.HTTP.Do(req)
	if err != nil {
		return false, "", fmt.Errorf("status request failed: %w", err)
	}
	defer resp.Body.Close()

	var out statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return false, "", fmt.Errorf("decoding status response: %w", err)
	}
	return out.Converted, out.AudioURL, nil
}

func (s *Synthesizer) download(ctx context.Context, audioURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, audioURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating download request: %w", err)
	}

	resp, err := s.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("audio download failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("audio download: status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

func (s *Synthesizer) setHeaders(req *http.Request) {
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", s.APIKey)
	req.Header.Set("X-User-ID", s.UserID)
}
