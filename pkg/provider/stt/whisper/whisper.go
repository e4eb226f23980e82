// Package whisper provides whisper.cpp-backed recognizers.
//
// Two variants share the same decoding contract:
//
//   - [Native] links the whisper.cpp library through its CGO bindings and
//     decodes in-process. It is a batch decoder and pairs with the
//     VAD-segmented streaming strategy.
//   - [Server] talks to a running whisper-server binary over its REST API at
//     POST /inference. Each request is a full-context decode of the audio
//     supplied, which suits the sliding-window confirmation strategy.
//
// Usage:
//
//	rec, err := whisper.NewServer("http://localhost:8080",
//	    whisper.WithLanguage("en"),
//	)
//	res, err := rec.Transcribe(ctx, samples, stt.Options{})
package whisper

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/MrWong99/recod/pkg/audio"
	"github.com/MrWong99/recod/pkg/provider/stt"
)

const (
	// bitsPerSample is fixed at 16 for the WAV payload uploaded to
	// whisper-server.
	bitsPerSample = 16

	defaultLanguage = "en"
	defaultTimeout  = 2 * time.Minute
)

// Option is a functional option for configuring a Server.
type Option func(*Server)

// WithLanguage sets the default ISO 639-1 language code (e.g. "en", "de").
// "auto" asks the server to detect the language.
func WithLanguage(lang string) Option {
	return func(s *Server) { s.language = lang }
}

// WithModel sets the optional model name forwarded to servers that host
// several models.
func WithModel(model string) Option {
	return func(s *Server) { s.model = model }
}

// WithHTTPClient replaces the HTTP client used for inference requests.
func WithHTTPClient(c *http.Client) Option {
	return func(s *Server) { s.httpClient = c }
}

// Server implements stt.Recognizer against a whisper-server instance.
type Server struct {
	serverURL  string
	language   string
	model      string
	httpClient *http.Client
}

// Compile-time assertion that Server satisfies stt.Recognizer.
var _ stt.Recognizer = (*Server)(nil)

// NewServer creates a recognizer for the whisper-server at serverURL.
func NewServer(serverURL string, opts ...Option) (*Server, error) {
	if serverURL == "" {
		return nil, errors.New("whisper: serverURL must not be empty")
	}
	s := &Server{
		serverURL:  strings.TrimRight(serverURL, "/"),
		language:   defaultLanguage,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// verboseResponse is the verbose_json body returned by whisper-server.
type verboseResponse struct {
	Text     string `json:"text"`
	Language string `json:"language"`
	Segments []struct {
		Start float64 `json:"start"`
		End   float64 `json:"end"`
		Text  string  `json:"text"`
	} `json:"segments"`
}

// Transcribe encodes samples as a WAV file and POSTs it to /inference as
// multipart/form-data.
func (s *Server) Transcribe(ctx context.Context, samples []float32, opts stt.Options) (stt.Result, error) {
	clipped, base := stt.Clip(samples, opts)
	if len(clipped) == 0 {
		return stt.Result{}, nil
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fw, err := mw.CreateFormFile("file", "audio.wav")
	if err != nil {
		return stt.Result{}, fmt.Errorf("whisper: create form file: %w", err)
	}
	if _, err := fw.Write(encodeWAV(clipped, stt.SampleRate)); err != nil {
		return stt.Result{}, fmt.Errorf("whisper: write wav data: %w", err)
	}

	lang := s.language
	if opts.Language != "" {
		lang = opts.Language
	}
	if opts.DetectLanguage {
		lang = "auto"
	}
	fields := map[string]string{
		"response_format": "verbose_json",
		"temperature":     strconv.FormatFloat(opts.Temperature, 'f', -1, 64),
		"language":        lang,
		"prompt":          opts.Prompt,
		"model":           s.model,
	}
	for _, k := range []string{"response_format", "temperature", "language", "prompt", "model"} {
		if fields[k] == "" {
			continue
		}
		if err := mw.WriteField(k, fields[k]); err != nil {
			return stt.Result{}, fmt.Errorf("whisper: write %s field: %w", k, err)
		}
	}
	if err := mw.Close(); err != nil {
		return stt.Result{}, fmt.Errorf("whisper: close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.serverURL+"/inference", &body)
	if err != nil {
		return stt.Result{}, fmt.Errorf("whisper: create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return stt.Result{}, fmt.Errorf("whisper: http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return stt.Result{}, fmt.Errorf("whisper: server returned HTTP %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return stt.Result{}, fmt.Errorf("whisper: read response body: %w", err)
	}

	var vr verboseResponse
	if err := json.Unmarshal(data, &vr); err != nil {
		return stt.Result{}, fmt.Errorf("whisper: parse JSON response: %w", err)
	}

	res := stt.Result{Language: vr.Language}
	for _, seg := range vr.Segments {
		text := stt.CleanText(seg.Text)
		if text == "" {
			continue
		}
		start := base + seconds(seg.Start)
		end := max(base+seconds(seg.End), start)
		res.Segments = append(res.Segments, stt.Segment{Start: start, End: end, Text: text})
	}
	if len(res.Segments) > 0 {
		res.Text = stt.JoinText(res.Segments)
	} else {
		res.Text = stt.CleanText(vr.Text)
		res.Segments = stt.SegmentsFromText(res.Text, base, stt.SamplesDuration(len(clipped)))
	}
	return res, nil
}

func seconds(f float64) time.Duration {
	return time.Duration(f * float64(time.Second))
}

// ---- helpers ----------------------------------------------------------------

// encodeWAV wraps mono float samples as 16-bit PCM in a RIFF/WAV container.
// The returned byte slice is suitable for direct inclusion in a multipart
// form upload.
func encodeWAV(samples []float32, sampleRate int) []byte {
	const channels = 1
	pcm := audio.PCM16(samples)
	bps := bitsPerSample
	byteRate := sampleRate * channels * bps / 8
	blockAlign := channels * bps / 8
	dataSize := len(pcm)

	buf := make([]byte, 44+dataSize)

	// RIFF chunk descriptor
	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataSize)) // file size − 8
	copy(buf[8:12], "WAVE")

	// fmt sub-chunk
	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(buf[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(buf[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(buf[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(buf[34:36], uint16(bps))

	// data sub-chunk
	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataSize))
	copy(buf[44:], pcm)

	return buf
}
