// Package whisper provides speech recognition backed by whisper.cpp, either
// through a whisper-server HTTP endpoint (Recognizer) or through the CGO
// bindings with an in-process model (NativeRecognizer).
//
// Both recognizers accept wire-rate WAV audio and resample it to 16 kHz
// before inference, because whisper models are trained on 16 kHz input.
// Non-speech audio that whisper renders as a bracketed annotation (e.g.,
// "[BLANK_AUDIO]") is reported as a no-speech result rather than a
// transcript.
package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/trunkline/trunkline/pkg/audio"
	"github.com/trunkline/trunkline/pkg/provider/stt"
)

const (
	inferenceEndpoint = "/inference"

	// modelSampleRate is the input rate whisper models are trained on. All
	// uploads are resampled to this rate.
	modelSampleRate = 16000

	defaultLanguage = "en"
	defaultTimeout  = 30 * time.Second
)

// Compile-time assertion that Recognizer satisfies stt.Recognizer.
var _ stt.Recognizer = (*Recognizer)(nil)

// Option is a functional option for configuring a Recognizer.
type Option func(*Recognizer)

// WithModel sets the model name passed to the server as a hint (e.g.,
// "base.en"). Most whisper-server deployments load a single model at startup
// and ignore this field.
func WithModel(model string) Option {
	return func(r *Recognizer) { r.model = model }
}

// WithLanguage sets the BCP-47 language code for transcription (e.g., "en",
// "de", "fr"). Defaults to "en".
func WithLanguage(lang string) Option {
	return func(r *Recognizer) { r.language = lang }
}

// WithTimeout sets the per-request HTTP timeout. Defaults to 30 s.
func WithTimeout(d time.Duration) Option {
	return func(r *Recognizer) { r.httpClient.Timeout = d }
}

// Recognizer implements stt.Recognizer against a running whisper-server
// binary, which exposes a REST API at POST /inference.
type Recognizer struct {
	serverURL  string
	model      string
	language   string
	httpClient *http.Client
}

// New creates a Recognizer that posts utterances to the whisper-server at
// serverURL (e.g., "http://localhost:8080"). serverURL must be non-empty.
func New(serverURL string, opts ...Option) (*Recognizer, error) {
	if serverURL == "" {
		return nil, errors.New("whisper: serverURL must not be empty")
	}
	r := &Recognizer{
		serverURL:  strings.TrimRight(serverURL, "/"),
		language:   defaultLanguage,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(r)
	}
	return r, nil
}

// Recognize implements stt.Recognizer. The WAV payload is decoded, resampled
// to the model rate, and posted to the server's /inference endpoint as a
// multipart upload.
func (r *Recognizer) Recognize(ctx context.Context, wav []byte) (stt.Result, error) {
	pcm, rate, err := decodeWAV(wav)
	if err != nil {
		return stt.Result{}, err
	}
	if rate != modelSampleRate {
		pcm = audio.ResampleMono(pcm, rate, modelSampleRate)
	}

	text, err := r.infer(ctx, audio.BuildWAV(pcm, modelSampleRate))
	if err != nil {
		return stt.Result{}, err
	}
	return resultFromText(text), nil
}

// infer performs a single multipart POST to /inference and returns the raw
// transcript text from the JSON response.
func (r *Recognizer) infer(ctx context.Context, wav []byte) (string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	// Primary audio field.
	fw, err := mw.CreateFormFile("file", "audio.wav")
	if err != nil {
		return "", fmt.Errorf("whisper: create form file: %w", err)
	}
	if _, err := fw.Write(wav); err != nil {
		return "", fmt.Errorf("whisper: write wav data: %w", err)
	}

	// Optional hint fields.
	if r.language != "" {
		if err := mw.WriteField("language", r.language); err != nil {
			return "", fmt.Errorf("whisper: write language field: %w", err)
		}
	}
	if r.model != "" {
		if err := mw.WriteField("model", r.model); err != nil {
			return "", fmt.Errorf("whisper: write model field: %w", err)
		}
	}

	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("whisper: close multipart writer: %w", err)
	}

	endpoint := r.serverURL + inferenceEndpoint
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &body)
	if err != nil {
		return "", fmt.Errorf("whisper: create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("whisper: http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("whisper: server returned HTTP %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("whisper: read response body: %w", err)
	}

	var result struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return "", fmt.Errorf("whisper: parse JSON response: %w", err)
	}
	return result.Text, nil
}

// resultFromText maps raw whisper output to a Result, folding empty output
// and non-speech annotations into NoSpeech.
func resultFromText(text string) stt.Result {
	text = strings.TrimSpace(text)
	if text == "" || isAnnotation(text) {
		return stt.Result{NoSpeech: true}
	}
	return stt.Result{Text: text}
}

// isAnnotation reports whether text is a whisper non-speech annotation such
// as "[BLANK_AUDIO]", "[inaudible]" or "(wind blowing)".
func isAnnotation(text string) bool {
	if len(text) < 2 {
		return false
	}
	first, last := text[0], text[len(text)-1]
	return (first == '[' && last == ']') || (first == '(' && last == ')')
}
