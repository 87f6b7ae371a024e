// Package mock provides a test double for the stt.Recognizer interface.
//
// Configure the Result and Err fields to control what Recognize returns,
// and inspect RecognizeCalls to verify what audio the caller uploaded.
// A non-zero Delay makes Recognize block, which lets tests hold a call
// session in its processing state deliberately.
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/trunkline/trunkline/pkg/provider/stt"
)

// RecognizeCall records a single invocation of Recognizer.Recognize.
type RecognizeCall struct {
	// Ctx is the context passed to Recognize.
	Ctx context.Context
	// WAV is a copy of the audio bytes that were passed to Recognize.
	WAV []byte
}

// Recognizer is a mock implementation of stt.Recognizer.
type Recognizer struct {
	mu sync.Mutex

	// Result is returned by Recognize when Err is nil.
	Result stt.Result

	// Err, if non-nil, is returned as the error from Recognize.
	Err error

	// Delay makes Recognize block for the given duration (or until ctx is
	// done) before returning.
	Delay time.Duration

	// RecognizeCalls records every call to Recognize.
	RecognizeCalls []RecognizeCall
}

// Ensure Recognizer implements stt.Recognizer at compile time.
var _ stt.Recognizer = (*Recognizer)(nil)

// Recognize records the call and returns Result, Err after the configured
// Delay has elapsed.
func (r *Recognizer) Recognize(ctx context.Context, wav []byte) (stt.Result, error) {
	r.mu.Lock()
	r.RecognizeCalls = append(r.RecognizeCalls, RecognizeCall{
		Ctx: ctx,
		WAV: append([]byte(nil), wav...),
	})
	delay := r.Delay
	result, err := r.Result, r.Err
	r.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return stt.Result{}, ctx.Err()
		}
	}
	if err != nil {
		return stt.Result{}, err
	}
	return result, nil
}

// Calls returns a snapshot of all recorded Recognize calls. Thread-safe.
func (r *Recognizer) Calls() []RecognizeCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]RecognizeCall(nil), r.RecognizeCalls...)
}

// Reset clears all recorded calls. Thread-safe.
func (r *Recognizer) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.RecognizeCalls = nil
}
