// Package deepgram provides a Deepgram-backed recognizer using the Deepgram
// streaming WebSocket API. Each Transcribe call opens a socket, streams the
// samples as linear16 PCM, asks Deepgram to finalise with CloseStream and
// collects the final results. It implements stt.Recognizer.
package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/MrWong99/recod/pkg/audio"
	"github.com/MrWong99/recod/pkg/provider/stt"
	"github.com/coder/websocket"
)

const (
	deepgramEndpoint = "wss://api.deepgram.com/v1/listen"
	defaultModel     = "nova-3"
	defaultLanguage  = "en"

	// chunkSamples is the number of samples per binary frame (100 ms).
	chunkSamples = stt.SampleRate / 10
)

// Option is a functional option for configuring the Recognizer.
type Option func(*Recognizer)

// WithModel sets the Deepgram model to use (e.g., "nova-3", "base").
func WithModel(model string) Option {
	return func(r *Recognizer) {
		r.model = model
	}
}

// WithLanguage sets the BCP-47 language code for recognition (e.g., "en", "de-DE").
func WithLanguage(language string) Option {
	return func(r *Recognizer) {
		r.language = language
	}
}

// WithEndpoint overrides the WebSocket endpoint. Useful for self-hosted
// deployments and tests.
func WithEndpoint(endpoint string) Option {
	return func(r *Recognizer) {
		r.endpoint = endpoint
	}
}

// Recognizer implements stt.Recognizer backed by the Deepgram streaming API.
type Recognizer struct {
	apiKey   string
	model    string
	language string
	endpoint string
}

var _ stt.Recognizer = (*Recognizer)(nil)

// New creates a new Deepgram Recognizer. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Recognizer, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: apiKey must not be empty")
	}
	r := &Recognizer{
		apiKey:   apiKey,
		model:    defaultModel,
		language: defaultLanguage,
		endpoint: deepgramEndpoint,
	}
	for _, o := range opts {
		o(r)
	}
	return r, nil
}

// Transcribe streams samples to Deepgram and returns the finalised result.
func (r *Recognizer) Transcribe(ctx context.Context, samples []float32, opts stt.Options) (stt.Result, error) {
	clipped, base := stt.Clip(samples, opts)
	if len(clipped) == 0 {
		return stt.Result{}, nil
	}

	wsURL, err := r.buildURL(opts)
	if err != nil {
		return stt.Result{}, fmt.Errorf("deepgram: build URL: %w", err)
	}

	headers := http.Header{}
	headers.Set("Authorization", "Token "+r.apiKey)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: headers,
	})
	if err != nil {
		return stt.Result{}, fmt.Errorf("deepgram: dial: %w", err)
	}
	defer conn.CloseNow()
	conn.SetReadLimit(1 << 20)

	writeErr := make(chan error, 1)
	go func() {
		writeErr <- writeAudio(ctx, conn, clipped)
	}()

	var results []resultMsg
	for {
		_, msg, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				break
			}
			if ctx.Err() != nil {
				return stt.Result{}, ctx.Err()
			}
			return stt.Result{}, fmt.Errorf("deepgram: read: %w", err)
		}
		res, done := parseMessage(msg)
		if res != nil {
			results = append(results, *res)
		}
		if done {
			break
		}
	}
	if err := <-writeErr; err != nil {
		return stt.Result{}, err
	}
	conn.Close(websocket.StatusNormalClosure, "transcription complete")

	return assemble(results, base, r.languageFor(opts)), nil
}

// writeAudio sends the samples as linear16 binary frames followed by the
// CloseStream control message.
func writeAudio(ctx context.Context, conn *websocket.Conn, samples []float32) error {
	for off := 0; off < len(samples); off += chunkSamples {
		end := min(off+chunkSamples, len(samples))
		if err := conn.Write(ctx, websocket.MessageBinary, audio.PCM16(samples[off:end])); err != nil {
			return fmt.Errorf("deepgram: write audio: %w", err)
		}
	}
	if err := conn.Write(ctx, websocket.MessageText, []byte(`{"type":"CloseStream"}`)); err != nil {
		return fmt.Errorf("deepgram: write close stream: %w", err)
	}
	return nil
}

func (r *Recognizer) languageFor(opts stt.Options) string {
	if opts.Language != "" && opts.Language != "auto" {
		return opts.Language
	}
	return r.language
}

// buildURL constructs the Deepgram streaming endpoint URL for the given options.
func (r *Recognizer) buildURL(opts stt.Options) (string, error) {
	u, err := url.Parse(r.endpoint)
	if err != nil {
		return "", err
	}

	q := u.Query()
	q.Set("model", r.model)
	q.Set("language", r.languageFor(opts))
	q.Set("punctuate", "true")
	q.Set("encoding", "linear16")
	q.Set("sample_rate", strconv.Itoa(stt.SampleRate))
	q.Set("channels", "1")

	for _, kw := range opts.Keywords {
		// Deepgram keyword format: word:boost (e.g., "Kubernetes:5")
		q.Add("keywords", fmt.Sprintf("%s:%g", kw.Keyword, kw.Boost))
	}

	u.RawQuery = q.Encode()
	return u.String(), nil
}

// ---- response handling ----

// deepgramResponse is the JSON structure returned by Deepgram.
type deepgramResponse struct {
	Type     string  `json:"type"`
	IsFinal  bool    `json:"is_final"`
	Start    float64 `json:"start"`
	Duration float64 `json:"duration"`
	Channel  struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
			Words      []struct {
				Word           string  `json:"word"`
				PunctuatedWord string  `json:"punctuated_word"`
				Start          float64 `json:"start"`
				End            float64 `json:"end"`
			} `json:"words"`
		} `json:"alternatives"`
	} `json:"channel"`
}

type resultMsg struct {
	text     string
	start    time.Duration
	duration time.Duration
	tokens   []stt.Token
}

// parseMessage interprets one Deepgram message. It returns a result for
// final transcripts and done=true once Deepgram signals the end of the
// stream with its Metadata message.
func parseMessage(data []byte) (*resultMsg, bool) {
	var resp deepgramResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, false
	}
	switch resp.Type {
	case "Metadata":
		return nil, true
	case "Results":
	default:
		return nil, false
	}
	if !resp.IsFinal || len(resp.Channel.Alternatives) == 0 {
		return nil, false
	}

	alt := resp.Channel.Alternatives[0]
	text := strings.TrimSpace(alt.Transcript)
	if text == "" {
		return nil, false
	}
	res := &resultMsg{
		text:     text,
		start:    secs(resp.Start),
		duration: secs(resp.Duration),
	}
	for _, w := range alt.Words {
		word := w.PunctuatedWord
		if word == "" {
			word = w.Word
		}
		res.tokens = append(res.tokens, stt.Token{
			Text:     " " + word,
			Start:    secs(w.Start),
			Duration: secs(w.End - w.Start),
			Timed:    true,
		})
	}
	return res, false
}

func assemble(results []resultMsg, base time.Duration, language string) stt.Result {
	out := stt.Result{Language: language}
	var texts []string
	for _, r := range results {
		texts = append(texts, r.text)
		out.Tokens = append(out.Tokens, r.tokens...)
		if len(r.tokens) > 0 {
			out.Segments = append(out.Segments, stt.BuildSegments(r.tokens, base)...)
		} else {
			out.Segments = append(out.Segments, stt.SegmentsFromText(r.text, base+r.start, r.duration)...)
		}
	}
	out.Text = strings.Join(texts, " ")
	return out
}

func secs(f float64) time.Duration {
	return time.Duration(f * float64(time.Second))
}
