// Package elevenlabs provides an ElevenLabs-backed TTS synthesizer using the
// ElevenLabs HTTP API. It implements the tts.Synthesizer interface.
//
// Synthesis requests ulaw_8000 output, which the API returns as raw
// headerless G.711 mu-law at the telephone wire rate, so the audio needs no
// transcoding before playback on the line.
package elevenlabs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"net/http"
	"net/url"
	"time"

	"github.com/trunkline/trunkline/pkg/provider/tts"
)

const (
	defaultBaseURL   = "https://api.elevenlabs.io"
	ttsEndpointFmt   = "%s/v1/text-to-speech/%s"
	voicesEndpoint   = "/v1/voices"
	defaultModel     = "eleven_flash_v2_5"
	defaultOutputFmt = "ulaw_8000"
	defaultTimeout   = 30 * time.Second
)

// Compile-time assertion that Synthesizer satisfies tts.Synthesizer.
var _ tts.Synthesizer = (*Synthesizer)(nil)

// Option is a functional option for configuring the ElevenLabs Synthesizer.
type Option func(*Synthesizer)

// WithModel sets the ElevenLabs model ID (e.g., "eleven_flash_v2_5").
func WithModel(model string) Option {
	return func(s *Synthesizer) { s.model = model }
}

// WithOutputFormat sets the audio output format. The gateway expects
// "ulaw_8000"; any other value requires the caller to transcode.
func WithOutputFormat(format string) Option {
	return func(s *Synthesizer) { s.outputFormat = format }
}

// WithTimeout sets the per-request HTTP timeout. Defaults to 30 s.
func WithTimeout(d time.Duration) Option {
	return func(s *Synthesizer) { s.httpClient.Timeout = d }
}

// WithBaseURL overrides the ElevenLabs API base URL. Intended for tests.
func WithBaseURL(u string) Option {
	return func(s *Synthesizer) { s.baseURL = u }
}

// Synthesizer implements tts.Synthesizer backed by the ElevenLabs API.
type Synthesizer struct {
	apiKey       string
	baseURL      string
	model        string
	outputFormat string
	httpClient   *http.Client
}

// New creates a new ElevenLabs Synthesizer. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Synthesizer, error) {
	if apiKey == "" {
		return nil, errors.New("elevenlabs: apiKey must not be empty")
	}
	s := &Synthesizer{
		apiKey:       apiKey,
		baseURL:      defaultBaseURL,
		model:        defaultModel,
		outputFormat: defaultOutputFmt,
		httpClient:   &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// ---- synthesis ----

// ttsRequest is the JSON payload sent to the text-to-speech endpoint.
type ttsRequest struct {
	Text          string         `json:"text"`
	ModelID       string         `json:"model_id"`
	VoiceSettings *voiceSettings `json:"voice_settings,omitempty"`
}

// voiceSettings mirrors the ElevenLabs voice_settings object.
type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	Speed           float64 `json:"speed,omitempty"`
}

// Synthesize implements tts.Synthesizer. The response body is the raw audio
// in the configured output format.
func (s *Synthesizer) Synthesize(ctx context.Context, text string, voice tts.VoiceProfile) ([]byte, error) {
	if text == "" {
		return nil, errors.New("elevenlabs: text must not be empty")
	}
	if voice.ID == "" {
		return nil, errors.New("elevenlabs: voice.ID must not be empty")
	}

	payload := ttsRequest{
		Text:    text,
		ModelID: s.model,
		VoiceSettings: &voiceSettings{
			Stability:       0.5,
			SimilarityBoost: 0.75,
			Speed:           voice.SpeedFactor,
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: marshal tts request: %w", err)
	}

	reqURL := fmt.Sprintf(ttsEndpointFmt, s.baseURL, url.PathEscape(voice.ID)) +
		"?output_format=" + url.QueryEscape(s.outputFormat)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: create tts request: %w", err)
	}
	req.Header.Set("xi-api-key", s.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: POST text-to-speech: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("elevenlabs: synthesis returned status %d", resp.StatusCode)
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: read audio response: %w", err)
	}
	if len(audio) == 0 {
		return nil, errors.New("elevenlabs: synthesis returned empty audio")
	}
	return audio, nil
}

// ---- ListVoices ----

// voicesResponse is the top-level response from GET /v1/voices.
type voicesResponse struct {
	Voices []voiceEntry `json:"voices"`
}

// voiceEntry is a single voice in the ElevenLabs catalogue.
type voiceEntry struct {
	VoiceID  string            `json:"voice_id"`
	Name     string            `json:"name"`
	Category string            `json:"category"`
	Labels   map[string]string `json:"labels"`
}

// profile converts the wire entry to the provider-neutral form. The category
// travels in Metadata next to the voice labels.
func (v voiceEntry) profile() tts.VoiceProfile {
	meta := make(map[string]string, len(v.Labels)+1)
	maps.Copy(meta, v.Labels)
	if v.Category != "" {
		meta["category"] = v.Category
	}
	return tts.VoiceProfile{
		ID:       v.VoiceID,
		Name:     v.Name,
		Provider: "elevenlabs",
		Metadata: meta,
	}
}

// ListVoices returns all voices available from ElevenLabs for the configured
// API key.
func (s *Synthesizer) ListVoices(ctx context.Context) ([]tts.VoiceProfile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+voicesEndpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: create voices request: %w", err)
	}
	req.Header.Set("xi-api-key", s.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: GET voices: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("elevenlabs: voices returned status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: read voices response: %w", err)
	}
	return decodeVoices(data)
}

// decodeVoices parses the /v1/voices response body.
func decodeVoices(data []byte) ([]tts.VoiceProfile, error) {
	var vr voicesResponse
	if err := json.Unmarshal(data, &vr); err != nil {
		return nil, fmt.Errorf("elevenlabs: decode voices response: %w", err)
	}
	profiles := make([]tts.VoiceProfile, 0, len(vr.Voices))
	for _, v := range vr.Voices {
		profiles = append(profiles, v.profile())
	}
	return profiles, nil
}
