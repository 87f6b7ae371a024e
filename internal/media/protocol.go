package media

// wireEvent is the envelope shared by every message on a media stream, in
// both directions. Only the block named by Event is populated; the rest stay
// nil and are omitted from outbound JSON.
type wireEvent struct {
	Event          string      `json:"event"`
	SequenceNumber string      `json:"sequenceNumber,omitempty"`
	StreamSid      string      `json:"streamSid,omitempty"`
	Start          *startFrame `json:"start,omitempty"`
	Media          *mediaFrame `json:"media,omitempty"`
	Stop           *stopFrame  `json:"stop,omitempty"`
	Mark           *markFrame  `json:"mark,omitempty"`
}

// startFrame announces a new stream. CallSid identifies the telephone call;
// StreamSid identifies this media stream within it.
type startFrame struct {
	AccountSid       string            `json:"accountSid,omitempty"`
	StreamSid        string            `json:"streamSid,omitempty"`
	CallSid          string            `json:"callSid,omitempty"`
	Tracks           []string          `json:"tracks,omitempty"`
	MediaFormat      mediaFormat       `json:"mediaFormat,omitempty"`
	CustomParameters map[string]string `json:"customParameters,omitempty"`
}

// mediaFormat describes the audio encoding the platform streams.
type mediaFormat struct {
	Encoding   string `json:"encoding,omitempty"`
	SampleRate int    `json:"sampleRate,omitempty"`
	Channels   int    `json:"channels,omitempty"`
}

// mediaFrame carries one base64-encoded audio frame. Track, Chunk and
// Timestamp are populated on inbound frames only.
type mediaFrame struct {
	Track     string `json:"track,omitempty"`
	Chunk     string `json:"chunk,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   string `json:"payload"`
}

// stopFrame closes a stream from the platform side.
type stopFrame struct {
	AccountSid string `json:"accountSid,omitempty"`
	CallSid    string `json:"callSid,omitempty"`
}

// markFrame labels a point in the outbound audio; the platform echoes it
// back once playback reaches that point.
type markFrame struct {
	Name string `json:"name"`
}
