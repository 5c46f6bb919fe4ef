// Package tts adapts Cartesia's streaming text-to-speech WebSocket API to
// the playback resource contract.
package tts

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/voxa-go/voxa/pkg/core/speech"
)

const (
	defaultWSURL    = "wss://api.cartesia.ai/tts/websocket"
	cartesiaVersion = "2025-04-16"

	defaultModel      = "sonic-3"
	defaultVoiceID    = "a0e99841-438c-4a64-b679-ae501e7d6091"
	defaultSampleRate = 24000
)

// Synthesizer streams synthesized audio from Cartesia into a playback sink.
// It implements speech.Synthesizer.
type Synthesizer struct {
	apiKey string
	sink   io.Writer

	wsURL      string
	model      string
	voiceID    string
	language   string
	speed      float64
	sampleRate int
	dialer     *websocket.Dialer

	mu      sync.Mutex
	session *playbackSession
}

// Option configures a Synthesizer.
type Option func(*Synthesizer)

// WithModel overrides the synthesis model.
func WithModel(model string) Option {
	return func(s *Synthesizer) { s.model = model }
}

// WithVoice sets the voice ID.
func WithVoice(voiceID string) Option {
	return func(s *Synthesizer) { s.voiceID = voiceID }
}

// WithLanguage sets the ISO language code.
func WithLanguage(language string) Option {
	return func(s *Synthesizer) { s.language = language }
}

// WithSpeed adjusts speaking speed; 0 keeps the provider default.
func WithSpeed(speed float64) Option {
	return func(s *Synthesizer) { s.speed = speed }
}

// WithSampleRate sets the output sample rate in Hz.
func WithSampleRate(rate int) Option {
	return func(s *Synthesizer) { s.sampleRate = rate }
}

// WithEndpoint overrides the WebSocket endpoint.
func WithEndpoint(wsURL string) Option {
	return func(s *Synthesizer) { s.wsURL = wsURL }
}

// New creates a Cartesia-backed synthesizer writing audio to sink.
func New(apiKey string, sink io.Writer, opts ...Option) *Synthesizer {
	s := &Synthesizer{
		apiKey:     apiKey,
		sink:       sink,
		wsURL:      defaultWSURL,
		model:      defaultModel,
		voiceID:    defaultVoiceID,
		sampleRate: defaultSampleRate,
		dialer:     &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// playbackSession is one utterance's WebSocket connection.
type playbackSession struct {
	conn      *websocket.Conn
	handlers  speech.PlaybackHandlers
	cancelled atomic.Bool
	closed    atomic.Bool
}

// Speak synthesizes text and streams the audio to the sink. Handlers fire as
// playback starts, ends, or fails. A new Speak supersedes any utterance
// still in flight.
func (s *Synthesizer) Speak(ctx context.Context, text string, h speech.PlaybackHandlers) error {
	conn, err := s.dial(ctx)
	if err != nil {
		return fmt.Errorf("tts connect: %w", err)
	}

	req := ttsRequest{
		ModelID:    s.model,
		Transcript: text,
		Voice:      voiceSpec{Mode: "id", ID: s.voiceID},
		OutputFormat: outputFormat{
			Container:  "raw",
			Encoding:   "pcm_s16le",
			SampleRate: s.sampleRate,
		},
		ContextID: nextContextID(),
	}
	if s.speed != 0 {
		req.GenerationConfig = &generationConfig{Speed: s.speed}
	}
	if s.language != "" {
		req.Language = &s.language
	}

	if err := conn.WriteJSON(req); err != nil {
		conn.Close()
		return fmt.Errorf("send request: %w", err)
	}

	sess := &playbackSession{conn: conn, handlers: h}

	s.mu.Lock()
	prev := s.session
	s.session = sess
	s.mu.Unlock()
	if prev != nil {
		prev.cancel()
	}

	if h.OnStart != nil {
		h.OnStart()
	}

	go func() {
		sess.readLoop(s.sink)
		s.mu.Lock()
		if s.session == sess {
			s.session = nil
		}
		s.mu.Unlock()
	}()

	return nil
}

// Cancel aborts the in-flight utterance, if any. Its OnEnd fires once the
// stream is torn down.
func (s *Synthesizer) Cancel() error {
	s.mu.Lock()
	sess := s.session
	s.session = nil
	s.mu.Unlock()
	if sess != nil {
		sess.cancel()
	}
	return nil
}

func (s *Synthesizer) dial(ctx context.Context) (*websocket.Conn, error) {
	u, err := url.Parse(s.wsURL)
	if err != nil {
		return nil, fmt.Errorf("parse websocket URL: %w", err)
	}
	q := u.Query()
	q.Set("api_key", s.apiKey)
	q.Set("cartesia_version", cartesiaVersion)
	u.RawQuery = q.Encode()

	conn, _, err := s.dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("websocket connect: %w", err)
	}
	return conn, nil
}

func (p *playbackSession) cancel() {
	p.cancelled.Store(true)
	p.conn.Close()
}

func (p *playbackSession) readLoop(sink io.Writer) {
	defer p.conn.Close()

	for {
		var msg ttsResponse
		if err := p.conn.ReadJSON(&msg); err != nil {
			if p.cancelled.Load() || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				p.finish()
			} else {
				p.fail(err)
			}
			return
		}

		switch msg.Type {
		case "chunk":
			audio, err := base64.StdEncoding.DecodeString(msg.Data)
			if err != nil {
				p.fail(fmt.Errorf("decode audio: %w", err))
				return
			}
			if _, err := sink.Write(audio); err != nil {
				p.fail(fmt.Errorf("playback write: %w", err))
				return
			}

		case "flush_done":
			continue

		case "done":
			p.finish()
			return

		case "error":
			p.fail(errors.New(msg.Error))
			return
		}
	}
}

func (p *playbackSession) finish() {
	if p.closed.Swap(true) {
		return
	}
	if p.handlers.OnEnd != nil {
		p.handlers.OnEnd()
	}
}

func (p *playbackSession) fail(err error) {
	if p.closed.Swap(true) {
		return
	}
	if p.handlers.OnError != nil {
		p.handlers.OnError(err)
	}
	if p.handlers.OnEnd != nil {
		p.handlers.OnEnd()
	}
}

type ttsRequest struct {
	ModelID          string            `json:"model_id"`
	Transcript       string            `json:"transcript"`
	Voice            voiceSpec         `json:"voice"`
	OutputFormat     outputFormat      `json:"output_format"`
	Language         *string           `json:"language,omitempty"`
	GenerationConfig *generationConfig `json:"generation_config,omitempty"`
	ContextID        string            `json:"context_id,omitempty"`
}

type voiceSpec struct {
	Mode string `json:"mode"`
	ID   string `json:"id"`
}

type outputFormat struct {
	Container  string `json:"container"`
	Encoding   string `json:"encoding,omitempty"`
	SampleRate int    `json:"sample_rate,omitempty"`
}

type generationConfig struct {
	Speed  float64 `json:"speed,omitempty"`
	Volume float64 `json:"volume,omitempty"`
}

type ttsResponse struct {
	Type       string `json:"type"` // "chunk", "flush_done", "done", "error"
	Data       string `json:"data,omitempty"`
	Done       bool   `json:"done,omitempty"`
	Error      string `json:"error,omitempty"`
	StatusCode int    `json:"status_code,omitempty"`
}

var contextCounter atomic.Uint64

func nextContextID() string {
	return fmt.Sprintf("ctx_%d", contextCounter.Add(1))
}
