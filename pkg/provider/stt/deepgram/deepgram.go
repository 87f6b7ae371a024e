// Package deepgram provides speech recognition backed by the Deepgram
// pre-recorded transcription API.
//
// Each utterance is posted to the /v1/listen endpoint as a complete WAV
// upload. Deepgram reads the sample rate and encoding from the RIFF header,
// so narrow-band telephone audio can be sent as-is without resampling.
package deepgram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/trunkline/trunkline/pkg/provider/stt"
)

const (
	defaultBaseURL  = "https://api.deepgram.com/v1/listen"
	defaultModel    = "nova-3"
	defaultLanguage = "en"
	defaultTimeout  = 30 * time.Second
)

// Compile-time assertion that Recognizer satisfies stt.Recognizer.
var _ stt.Recognizer = (*Recognizer)(nil)

// Option is a functional option for configuring a Recognizer.
type Option func(*Recognizer)

// WithModel sets the Deepgram model (e.g., "nova-3", "nova-2-phonecall").
// The phonecall variants are tuned for 8 kHz telephone audio.
func WithModel(model string) Option {
	return func(r *Recognizer) { r.model = model }
}

// WithLanguage sets the BCP-47 language tag for recognition (e.g., "en",
// "de-DE"). Defaults to "en".
func WithLanguage(lang string) Option {
	return func(r *Recognizer) { r.language = lang }
}

// WithTimeout sets the per-request HTTP timeout. Defaults to 30 s.
func WithTimeout(d time.Duration) Option {
	return func(r *Recognizer) { r.httpClient.Timeout = d }
}

// WithBaseURL overrides the Deepgram API endpoint. Intended for on-premise
// deployments and tests.
func WithBaseURL(u string) Option {
	return func(r *Recognizer) { r.baseURL = u }
}

// Recognizer implements stt.Recognizer against the Deepgram pre-recorded
// transcription API.
type Recognizer struct {
	apiKey     string
	baseURL    string
	model      string
	language   string
	httpClient *http.Client
}

// New creates a Deepgram Recognizer. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Recognizer, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: apiKey must not be empty")
	}
	r := &Recognizer{
		apiKey:     apiKey,
		baseURL:    defaultBaseURL,
		model:      defaultModel,
		language:   defaultLanguage,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(r)
	}
	return r, nil
}

// Recognize implements stt.Recognizer.
func (r *Recognizer) Recognize(ctx context.Context, wav []byte) (stt.Result, error) {
	reqURL, err := r.buildURL()
	if err != nil {
		return stt.Result{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(wav))
	if err != nil {
		return stt.Result{}, fmt.Errorf("deepgram: create request: %w", err)
	}
	req.Header.Set("Authorization", "Token "+r.apiKey)
	req.Header.Set("Content-Type", "audio/wav")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return stt.Result{}, fmt.Errorf("deepgram: http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return stt.Result{}, fmt.Errorf("deepgram: server returned HTTP %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return stt.Result{}, fmt.Errorf("deepgram: read response body: %w", err)
	}
	return parseResponse(data)
}

// buildURL assembles the /v1/listen URL with recognition query parameters.
func (r *Recognizer) buildURL() (string, error) {
	u, err := url.Parse(r.baseURL)
	if err != nil {
		return "", fmt.Errorf("deepgram: parse base URL: %w", err)
	}

	q := url.Values{}
	q.Set("model", r.model)
	if r.language != "" {
		q.Set("language", r.language)
	}
	q.Set("punctuate", "true")
	q.Set("smart_format", "true")

	u.RawQuery = q.Encode()
	return u.String(), nil
}

// ---- response parsing ----

// dgResponse mirrors the subset of the Deepgram pre-recorded response the
// gateway consumes.
type dgResponse struct {
	Results struct {
		Channels []struct {
			Alternatives []struct {
				Transcript string   `json:"transcript"`
				Confidence float64  `json:"confidence"`
				Words      []dgWord `json:"words"`
			} `json:"alternatives"`
		} `json:"channels"`
	} `json:"results"`
}

// dgWord is a single word entry with times in fractional seconds.
type dgWord struct {
	Word       string  `json:"word"`
	Start      float64 `json:"start"`
	End        float64 `json:"end"`
	Confidence float64 `json:"confidence"`
}

// parseResponse converts a raw Deepgram JSON body into a Result. An empty
// transcript from a structurally valid response maps to NoSpeech.
func parseResponse(data []byte) (stt.Result, error) {
	var dr dgResponse
	if err := json.Unmarshal(data, &dr); err != nil {
		return stt.Result{}, fmt.Errorf("deepgram: parse JSON response: %w", err)
	}
	if len(dr.Results.Channels) == 0 || len(dr.Results.Channels[0].Alternatives) == 0 {
		return stt.Result{}, errors.New("deepgram: response carries no alternatives")
	}

	alt := dr.Results.Channels[0].Alternatives[0]
	text := strings.TrimSpace(alt.Transcript)
	if text == "" {
		return stt.Result{NoSpeech: true}, nil
	}

	result := stt.Result{
		Text:       text,
		Confidence: alt.Confidence,
	}
	for _, w := range alt.Words {
		result.Words = append(result.Words, stt.WordDetail{
			Word:       w.Word,
			Start:      time.Duration(w.Start * float64(time.Second)),
			End:        time.Duration(w.End * float64(time.Second)),
			Confidence: w.Confidence,
		})
	}
	return result, nil
}
