// Package stt adapts Cartesia's streaming speech-to-text WebSocket API to
// the capture resource contract.
package stt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/voxa-go/voxa/pkg/core/speech"
)

const (
	defaultWSURL    = "wss://api.cartesia.ai/stt/websocket"
	cartesiaVersion = "2025-04-16"

	defaultModel      = "ink-whisper"
	defaultLanguage   = "en"
	defaultEncoding   = "pcm_s16le"
	defaultSampleRate = 16000

	// ~85ms of audio per frame at 16kHz 16-bit mono.
	frameSize = 4096
)

// SourceFunc opens the audio input for one capture session. It is called on
// every Start so the device is held only while capturing.
type SourceFunc func(ctx context.Context) (io.ReadCloser, error)

// Recognizer streams microphone audio to Cartesia and emits transcripts.
// It implements speech.Recognizer.
type Recognizer struct {
	apiKey string
	source SourceFunc

	wsURL      string
	model      string
	language   string
	encoding   string
	sampleRate int
	dialer     *websocket.Dialer

	mu      sync.Mutex
	session *captureSession
}

// Option configures a Recognizer.
type Option func(*Recognizer)

// WithModel overrides the transcription model.
func WithModel(model string) Option {
	return func(r *Recognizer) { r.model = model }
}

// WithLanguage sets the ISO language code.
func WithLanguage(language string) Option {
	return func(r *Recognizer) { r.language = language }
}

// WithSampleRate sets the input sample rate in Hz.
func WithSampleRate(rate int) Option {
	return func(r *Recognizer) { r.sampleRate = rate }
}

// WithEndpoint overrides the WebSocket endpoint.
func WithEndpoint(wsURL string) Option {
	return func(r *Recognizer) { r.wsURL = wsURL }
}

// New creates a Cartesia-backed recognizer reading audio from source.
func New(apiKey string, source SourceFunc, opts ...Option) *Recognizer {
	r := &Recognizer{
		apiKey:     apiKey,
		source:     source,
		wsURL:      defaultWSURL,
		model:      defaultModel,
		language:   defaultLanguage,
		encoding:   defaultEncoding,
		sampleRate: defaultSampleRate,
		dialer:     &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// captureSession is one WebSocket connection plus its audio pump.
type captureSession struct {
	conn     *websocket.Conn
	audio    io.ReadCloser
	handlers speech.CaptureHandlers
	release  func()

	writeMu   sync.Mutex
	stopping  atomic.Bool
	closed    atomic.Bool
	closeOnce sync.Once
	done      chan struct{}

	gotFinal atomic.Bool
}

// Start opens the audio source, connects the WebSocket, and begins streaming.
// Transcripts and errors are delivered through h until Stop or a terminal
// error.
func (r *Recognizer) Start(ctx context.Context, h speech.CaptureHandlers) error {
	r.mu.Lock()
	if r.session != nil {
		r.mu.Unlock()
		return errors.New("capture already active")
	}
	r.mu.Unlock()

	audio, err := r.source(ctx)
	if err != nil {
		return &speech.CaptureError{Code: speech.CodeAudioCapture}
	}

	conn, err := r.dial(ctx)
	if err != nil {
		audio.Close()
		return fmt.Errorf("stt connect: %w", err)
	}

	s := &captureSession{
		conn:     conn,
		audio:    audio,
		handlers: h,
		done:     make(chan struct{}),
	}

	// The slot is released inside teardown, before the end handlers fire,
	// so a handler may start the next capture immediately.
	s.release = func() {
		r.mu.Lock()
		if r.session == s {
			r.session = nil
		}
		r.mu.Unlock()
	}

	r.mu.Lock()
	r.session = s
	r.mu.Unlock()

	if h.OnStart != nil {
		h.OnStart()
	}

	go s.pumpAudio()
	go s.readLoop()

	return nil
}

// Stop finalizes the current capture session. The session's OnEnd fires once
// the server acknowledges or the connection closes.
func (r *Recognizer) Stop() error {
	r.mu.Lock()
	s := r.session
	r.mu.Unlock()
	if s == nil {
		return nil
	}

	s.stopping.Store(true)
	s.writeMu.Lock()
	err := s.conn.WriteMessage(websocket.TextMessage, []byte("finalize"))
	if err == nil {
		err = s.conn.WriteMessage(websocket.TextMessage, []byte("done"))
	}
	s.writeMu.Unlock()
	if err != nil {
		// The write failed, so the read loop won't see a graceful close;
		// tear the connection down to unblock it.
		s.teardown()
	}
	return nil
}

func (r *Recognizer) dial(ctx context.Context) (*websocket.Conn, error) {
	u, err := url.Parse(r.wsURL)
	if err != nil {
		return nil, fmt.Errorf("parse websocket URL: %w", err)
	}
	q := u.Query()
	q.Set("model", r.model)
	q.Set("language", r.language)
	q.Set("encoding", r.encoding)
	q.Set("sample_rate", strconv.Itoa(r.sampleRate))
	q.Set("min_volume", "0.01")
	q.Set("api_key", r.apiKey)
	u.RawQuery = q.Encode()

	headers := http.Header{}
	headers.Set("X-API-Key", r.apiKey)
	headers.Set("Cartesia-Version", cartesiaVersion)

	conn, resp, err := r.dialer.DialContext(ctx, u.String(), headers)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			if len(body) > 0 {
				return nil, fmt.Errorf("websocket connect (status %d): %s", resp.StatusCode, string(body))
			}
			return nil, fmt.Errorf("websocket connect: status %d: %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("websocket connect: %w", err)
	}
	return conn, nil
}

// pumpAudio streams source frames to the socket until the source drains or
// the session stops.
func (s *captureSession) pumpAudio() {
	buf := make([]byte, frameSize)
	for {
		select {
		case <-s.done:
			return
		default:
		}

		n, err := s.audio.Read(buf)
		if n > 0 {
			s.writeMu.Lock()
			werr := s.conn.WriteMessage(websocket.BinaryMessage, buf[:n])
			s.writeMu.Unlock()
			if werr != nil {
				return
			}
		}
		if err == io.EOF {
			s.writeMu.Lock()
			s.conn.WriteMessage(websocket.TextMessage, []byte("finalize"))
			s.conn.WriteMessage(websocket.TextMessage, []byte("done"))
			s.writeMu.Unlock()
			return
		}
		if err != nil {
			if !s.stopping.Load() {
				s.fail(speech.CodeAudioCapture)
			}
			return
		}
	}
}

func (s *captureSession) readLoop() {
	defer s.teardown()

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if s.stopping.Load() || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.finish()
			} else {
				s.fail(speech.CodeNetwork)
			}
			return
		}

		var msg sttResponse
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}

		switch msg.Type {
		case "transcript":
			if msg.IsFinal && msg.Text != "" {
				s.gotFinal.Store(true)
				if s.handlers.OnResult != nil {
					s.handlers.OnResult(msg.Text)
				}
			}

		case "flush_done":
			continue

		case "done":
			s.finish()
			return

		case "error":
			s.fail(mapServerError(msg.Error))
			return
		}
	}
}

// finish ends the session normally. A session that never produced a final
// transcript is reported as no-speech so the caller can decide to reprompt.
func (s *captureSession) finish() {
	if s.closed.Swap(true) {
		return
	}
	s.teardown()
	if !s.gotFinal.Load() && s.handlers.OnError != nil {
		s.handlers.OnError(speech.CodeNoSpeech)
	}
	if s.handlers.OnEnd != nil {
		s.handlers.OnEnd()
	}
}

func (s *captureSession) fail(code string) {
	if s.closed.Swap(true) {
		return
	}
	s.teardown()
	if s.handlers.OnError != nil {
		s.handlers.OnError(code)
	}
	if s.handlers.OnEnd != nil {
		s.handlers.OnEnd()
	}
}

func (s *captureSession) teardown() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.audio.Close()
		s.conn.Close()
		if s.release != nil {
			s.release()
		}
	})
}

type sttResponse struct {
	Type      string  `json:"type"` // "transcript", "flush_done", "done", "error"
	Text      string  `json:"text"`
	IsFinal   bool    `json:"is_final"`
	Duration  float64 `json:"duration"`
	Language  string  `json:"language"`
	RequestID string  `json:"request_id"`
	Error     string  `json:"error"`
}

// mapServerError folds a server-reported error string into a capture error
// code.
func mapServerError(message string) string {
	lower := strings.ToLower(message)
	switch {
	case strings.Contains(lower, "unauthorized"), strings.Contains(lower, "forbidden"), strings.Contains(lower, "api key"):
		return speech.CodeNotAllowed
	case strings.Contains(lower, "abort"):
		return speech.CodeAborted
	default:
		return speech.CodeNetwork
	}
}
