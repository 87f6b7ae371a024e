// Package coqui provides a local Coqui TTS-backed synthesizer that connects
// to either a Coqui XTTS v2 server or a standard Coqui TTS server via its
// REST API. It implements the tts.Synthesizer interface.
//
// Two API modes are supported:
//
//   - APIModeStandard (default): targets the standard Coqui TTS server
//     (ghcr.io/coqui-ai/tts-cpu). Synthesis is performed via GET /api/tts
//     with URL query parameters; voice catalogue is retrieved from
//     GET /details.
//
//   - APIModeXTTS: targets the Coqui XTTS v2 API server. Synthesis is
//     performed via POST /tts_to_audio/ with a JSON body; voice catalogue is
//     retrieved from GET /studio_speakers.
//
// Both servers answer with a WAV file at the model's native rate. The
// synthesizer decodes it, resamples to the 8 kHz wire rate, and compands to
// G.711 mu-law before returning.
package coqui

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
	"slices"
	"strings"
	"time"

	"github.com/go-audio/wav"

	"github.com/trunkline/trunkline/pkg/audio"
	"github.com/trunkline/trunkline/pkg/provider/tts"
)

var _ tts.Synthesizer = (*Synthesizer)(nil)

const (
	defaultLanguage        = "en"
	defaultTimeout         = 30 * time.Second
	ttsEndpoint            = "/tts_to_audio/"
	studioSpeakersEndpoint = "/studio_speakers"
	apiTTSEndpoint         = "/api/tts"
	detailsEndpoint        = "/details"
)

// APIMode selects which Coqui server API the synthesizer will target.
type APIMode string

const (
	// APIModeXTTS targets the Coqui XTTS v2 API server (/tts_to_audio/).
	APIModeXTTS APIMode = "xtts"

	// APIModeStandard targets the standard Coqui TTS server (/api/tts).
	// This is the default mode.
	APIModeStandard APIMode = "standard"
)

// Option is a functional option for configuring a Coqui Synthesizer.
type Option func(*Synthesizer)

// WithLanguage sets the BCP-47 language code sent to the TTS server (e.g.,
// "en", "de", "fr"). Defaults to "en" if not set.
func WithLanguage(lang string) Option {
	return func(s *Synthesizer) { s.language = lang }
}

// WithTimeout sets the per-request HTTP timeout for calls to the TTS server.
// Defaults to 30 s if not set.
func WithTimeout(d time.Duration) Option {
	return func(s *Synthesizer) { s.httpClient.Timeout = d }
}

// WithAPIMode sets the server API mode. Use APIModeStandard (default) for
// the standard Coqui TTS Docker image (ghcr.io/coqui-ai/tts-cpu) or
// APIModeXTTS for the XTTS v2 API server.
func WithAPIMode(mode APIMode) Option {
	return func(s *Synthesizer) { s.apiMode = mode }
}

// Synthesizer implements tts.Synthesizer backed by a locally-running Coqui
// TTS server. It is safe for concurrent use; multiple Synthesize calls may
// run in parallel.
type Synthesizer struct {
	serverURL  string
	language   string
	httpClient *http.Client
	apiMode    APIMode
}

// New creates a new Coqui Synthesizer that targets the TTS server at
// serverURL (e.g., "http://localhost:5002"). serverURL must be non-empty.
func New(serverURL string, opts ...Option) (*Synthesizer, error) {
	if serverURL == "" {
		return nil, errors.New("coqui: serverURL must not be empty")
	}
	s := &Synthesizer{
		serverURL: strings.TrimRight(serverURL, "/"),
		language:  defaultLanguage,
		apiMode:   APIModeStandard,
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// roundTrip sends one request to the Coqui server and returns the response
// body. rawQuery and body may be empty/nil; a JSON content type is set
// whenever a body is present. Error messages carry the endpoint but never the
// query, which would leak caller text into logs.
func (s *Synthesizer) roundTrip(ctx context.Context, method, path, rawQuery string, body []byte, accept string) ([]byte, error) {
	u := s.serverURL + path
	if rawQuery != "" {
		u += "?" + rawQuery
	}

	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rd)
	if err != nil {
		return nil, fmt.Errorf("coqui: build %s %s request: %w", method, path, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", accept)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("coqui: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("coqui: %s %s returned status %d", method, path, resp.StatusCode)
	}
	out, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("coqui: read %s response: %w", path, err)
	}
	return out, nil
}

// ttsRequest is the JSON body sent to POST /tts_to_audio/ (XTTS mode).
type ttsRequest struct {
	Text       string `json:"text"`
	SpeakerWav string `json:"speaker_wav"`
	Language   string `json:"language"`
}

// Synthesize implements tts.Synthesizer. The server's WAV response is
// decoded, resampled to the wire rate, and companded to mu-law.
func (s *Synthesizer) Synthesize(ctx context.Context, text string, voice tts.VoiceProfile) ([]byte, error) {
	if text == "" {
		return nil, errors.New("coqui: text must not be empty")
	}
	// XTTS mode always requires a voice ID (speaker_wav). Standard mode
	// works without one for single-speaker models.
	if voice.ID == "" && s.apiMode == APIModeXTTS {
		return nil, errors.New("coqui: voice.ID must not be empty (required for XTTS mode)")
	}

	var (
		wavData []byte
		err     error
	)
	if s.apiMode == APIModeStandard {
		wavData, err = s.synthesizeStandard(ctx, text, voice)
	} else {
		wavData, err = s.synthesizeXTTS(ctx, text, voice)
	}
	if err != nil {
		return nil, err
	}
	return wireFromWAV(wavData)
}

// synthesizeXTTS posts the text to /tts_to_audio/ (XTTS v2 mode) and returns
// the WAV response body.
func (s *Synthesizer) synthesizeXTTS(ctx context.Context, text string, voice tts.VoiceProfile) ([]byte, error) {
	data, err := json.Marshal(ttsRequest{
		Text:       text,
		SpeakerWav: voice.ID,
		Language:   s.language,
	})
	if err != nil {
		return nil, fmt.Errorf("coqui: marshal tts request: %w", err)
	}
	return s.roundTrip(ctx, http.MethodPost, ttsEndpoint, "", data, "audio/wav")
}

// synthesizeStandard requests /api/tts (standard server mode) with the text
// in URL query parameters and returns the WAV response body.
func (s *Synthesizer) synthesizeStandard(ctx context.Context, text string, voice tts.VoiceProfile) ([]byte, error) {
	params := url.Values{}
	params.Set("text", text)
	if voice.ID != "" {
		params.Set("speaker_id", voice.ID)
	}
	if s.language != "" {
		params.Set("language_id", s.language)
	}
	return s.roundTrip(ctx, http.MethodGet, apiTTSEndpoint, params.Encode(), nil, "audio/wav")
}

// wireFromWAV decodes a WAV payload, downmixes to mono, resamples to the
// wire rate and compands the samples to G.711 mu-law.
func wireFromWAV(wavData []byte) ([]byte, error) {
	pcm, rate, err := decodeWAV(wavData)
	if err != nil {
		return nil, err
	}
	if rate != audio.WireSampleRate {
		pcm = audio.ResampleMono(pcm, rate, audio.WireSampleRate)
	}
	if len(pcm) == 0 {
		return nil, errors.New("coqui: synthesis produced no samples")
	}
	if len(pcm)%2 != 0 {
		pcm = append(pcm, 0)
	}

	mulaw, err := audio.EncodeFrame(pcm)
	if err != nil {
		return nil, fmt.Errorf("coqui: compand synthesis output: %w", err)
	}
	return mulaw, nil
}

// decodeWAV parses a RIFF/WAVE payload into mono 16-bit PCM plus its sample
// rate. Multi-channel audio is downmixed by averaging.
func decodeWAV(data []byte) ([]int16, int, error) {
	dec := wav.NewDecoder(bytes.NewReader(data))
	if !dec.IsValidFile() {
		return nil, 0, errors.New("coqui: WAV response is not a valid RIFF/WAVE file")
	}

	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, 0, fmt.Errorf("coqui: decode WAV response: %w", err)
	}
	if dec.BitDepth != 16 {
		return nil, 0, fmt.Errorf("coqui: unsupported WAV bit depth %d", dec.BitDepth)
	}

	channels := buf.Format.NumChannels
	if channels <= 0 {
		channels = 1
	}
	if channels == 1 {
		pcm := make([]int16, len(buf.Data))
		for i, v := range buf.Data {
			pcm[i] = int16(v)
		}
		return pcm, buf.Format.SampleRate, nil
	}

	frames := len(buf.Data) / channels
	pcm := make([]int16, frames)
	for i := range frames {
		sum := 0
		for c := range channels {
			sum += buf.Data[i*channels+c]
		}
		pcm[i] = int16(sum / channels)
	}
	return pcm, buf.Format.SampleRate, nil
}

// studioSpeakersResponse is the raw map returned by GET /studio_speakers.
// Only the keys (voice names) matter, so values stay as json.RawMessage.
type studioSpeakersResponse map[string]json.RawMessage

// detailsResponse is the JSON body returned by GET /details (standard mode).
// Speakers is nil for single-speaker models and non-nil for multi-speaker
// models.
type detailsResponse struct {
	ModelName string   `json:"model_name"`
	Language  string   `json:"language"`
	Speakers  []string `json:"speakers"`
}

// ListVoices retrieves the list of available voices from the Coqui server.
//
// In APIModeXTTS, it calls GET /studio_speakers and maps each entry to a
// VoiceProfile. In APIModeStandard, it calls GET /details and returns one
// VoiceProfile per speaker for multi-speaker models, or a single
// VoiceProfile (identified by model name) for single-speaker models.
func (s *Synthesizer) ListVoices(ctx context.Context) ([]tts.VoiceProfile, error) {
	if s.apiMode == APIModeStandard {
		return s.listVoicesStandard(ctx)
	}
	return s.listVoicesXTTS(ctx)
}

func (s *Synthesizer) listVoicesXTTS(ctx context.Context) ([]tts.VoiceProfile, error) {
	body, err := s.roundTrip(ctx, http.MethodGet, studioSpeakersEndpoint, "", nil, "application/json")
	if err != nil {
		return nil, err
	}

	var raw studioSpeakersResponse
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("coqui: decode studio speakers: %w", err)
	}

	profiles := make([]tts.VoiceProfile, 0, len(raw))
	for _, name := range slices.Sorted(maps.Keys(raw)) {
		profiles = append(profiles, tts.VoiceProfile{
			ID:       name,
			Name:     name,
			Provider: "coqui",
			Metadata: map[string]string{
				"type": "studio",
			},
		})
	}
	return profiles, nil
}

func (s *Synthesizer) listVoicesStandard(ctx context.Context) ([]tts.VoiceProfile, error) {
	body, err := s.roundTrip(ctx, http.MethodGet, detailsEndpoint, "", nil, "application/json")
	if err != nil {
		return nil, err
	}

	var details detailsResponse
	if err := json.Unmarshal(body, &details); err != nil {
		return nil, fmt.Errorf("coqui: decode details response: %w", err)
	}

	// Multi-speaker model: one profile per speaker.
	if len(details.Speakers) > 0 {
		speakers := slices.Sorted(slices.Values(details.Speakers))
		profiles := make([]tts.VoiceProfile, 0, len(speakers))
		for _, spk := range speakers {
			profiles = append(profiles, tts.VoiceProfile{
				ID:       spk,
				Name:     spk,
				Provider: "coqui",
				Metadata: map[string]string{
					"type":       "speaker",
					"model_name": details.ModelName,
				},
			})
		}
		return profiles, nil
	}

	// Single-speaker model: one profile identified by the model name.
	name := details.ModelName
	if name == "" {
		name = "default"
	}
	return []tts.VoiceProfile{
		{
			ID:       name,
			Name:     name,
			Provider: "coqui",
			Metadata: map[string]string{
				"type":       "single-speaker",
				"model_name": name,
			},
		},
	}, nil
}
