package deepgram

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/trunkline/trunkline/pkg/audio"
)

func assertEqual(t *testing.T, field, want, got string) {
	t.Helper()
	if got != want {
		t.Errorf("%s: got %q, want %q", field, got, want)
	}
}

// ---- URL / query-param tests ----

func TestBuildURL_Defaults(t *testing.T) {
	r, err := New("test-key")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	rawURL, err := r.buildURL()
	if err != nil {
		t.Fatalf("buildURL: %v", err)
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		t.Fatalf("parse URL: %v", err)
	}
	q := u.Query()

	assertEqual(t, "model", "nova-3", q.Get("model"))
	assertEqual(t, "language", "en", q.Get("language"))
	assertEqual(t, "punctuate", "true", q.Get("punctuate"))
	assertEqual(t, "smart_format", "true", q.Get("smart_format"))
}

func TestBuildURL_CustomModel(t *testing.T) {
	r, err := New("key", WithModel("nova-2-phonecall"), WithLanguage("de-DE"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	rawURL, err := r.buildURL()
	if err != nil {
		t.Fatalf("buildURL: %v", err)
	}

	u, _ := url.Parse(rawURL)
	q := u.Query()

	assertEqual(t, "model", "nova-2-phonecall", q.Get("model"))
	assertEqual(t, "language", "de-DE", q.Get("language"))
}

// ---- JSON parsing tests ----

func TestParseResponse_Transcript(t *testing.T) {
	raw := []byte(`{
		"results": {
			"channels": [{
				"alternatives": [{
					"transcript": "Hello world",
					"confidence": 0.95,
					"words": [
						{"word": "Hello", "start": 0.1, "end": 0.5, "confidence": 0.97},
						{"word": "world", "start": 0.6, "end": 1.0, "confidence": 0.93}
					]
				}]
			}]
		}
	}`)

	result, err := parseResponse(raw)
	if err != nil {
		t.Fatalf("parseResponse: %v", err)
	}

	assertEqual(t, "text", "Hello world", result.Text)
	if result.Confidence != 0.95 {
		t.Errorf("confidence = %f, want 0.95", result.Confidence)
	}
	if result.NoSpeech {
		t.Error("NoSpeech = true, want false")
	}
	if len(result.Words) != 2 {
		t.Fatalf("expected 2 words, got %d", len(result.Words))
	}
	assertEqual(t, "word[0]", "Hello", result.Words[0].Word)
	if result.Words[0].Start != time.Duration(0.1*float64(time.Second)) {
		t.Errorf("unexpected start: %v", result.Words[0].Start)
	}
}

func TestParseResponse_EmptyTranscriptReportsNoSpeech(t *testing.T) {
	raw := []byte(`{
		"results": {
			"channels": [{
				"alternatives": [{"transcript": "", "confidence": 0, "words": []}]
			}]
		}
	}`)

	result, err := parseResponse(raw)
	if err != nil {
		t.Fatalf("parseResponse: %v", err)
	}
	if !result.NoSpeech {
		t.Error("NoSpeech = false, want true for empty transcript")
	}
}

func TestParseResponse_EmptyAlternatives(t *testing.T) {
	raw := []byte(`{"results":{"channels":[{"alternatives":[]}]}}`)
	if _, err := parseResponse(raw); err == nil {
		t.Error("expected error when alternatives is empty")
	}
}

func TestParseResponse_InvalidJSON(t *testing.T) {
	if _, err := parseResponse([]byte(`{invalid`)); err == nil {
		t.Error("expected error for invalid JSON")
	}
}

// ---- constructor tests ----

func TestNew_EmptyAPIKey_ReturnsError(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Fatal("expected error for empty apiKey, got nil")
	}
}

// ---- end-to-end against a mock endpoint ----

func TestRecognize_SendsAuthorizationAndBody(t *testing.T) {
	wav := audio.BuildWAV([]int16{1, 2, 3, 4}, 8000)

	var gotAuth, gotContentType string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		gotAuth = req.Header.Get("Authorization")
		gotContentType = req.Header.Get("Content-Type")
		gotBody, _ = io.ReadAll(req.Body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"results":{"channels":[{"alternatives":[{"transcript":"ok","confidence":0.9}]}]}}`))
	}))
	defer srv.Close()

	r, err := New("secret", WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	result, err := r.Recognize(context.Background(), wav)
	if err != nil {
		t.Fatalf("Recognize: %v", err)
	}

	assertEqual(t, "text", "ok", result.Text)
	assertEqual(t, "authorization", "Token secret", gotAuth)
	assertEqual(t, "content-type", "audio/wav", gotContentType)
	if len(gotBody) != len(wav) {
		t.Errorf("body length = %d, want %d", len(gotBody), len(wav))
	}
}
