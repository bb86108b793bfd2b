package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/jwalitptl/clinical-scribe/pkg/transcription"
)

const chunkSize = 8 << 10

// Config controls Deepgram websocket settings.
type Config struct {
	APIKey      string
	APIBaseURL  string
	Model       string
	Language    string
	SmartFormat bool
}

// Provider streams recorded audio to Deepgram's live endpoint and collects
// the final transcript segments.
type Provider struct {
	cfg    Config
	dialer *websocket.Dialer
}

func NewProvider(cfg Config) *Provider {
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = "https://api.deepgram.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "nova-2-medical"
	}
	return &Provider{cfg: cfg, dialer: websocket.DefaultDialer}
}

var _ transcription.Transcriber = (*Provider)(nil)

// Transcribe sends audio in binary frames, closes the stream and waits for
// the provider to flush its final results. Container formats are detected
// by the provider, so no encoding is declared.
func (p *Provider) Transcribe(ctx context.Context, audio io.Reader, _ string) (string, error) {
	if strings.TrimSpace(p.cfg.APIKey) == "" {
		return "", transcription.ErrNotConfigured
	}

	wsURL, err := buildListenURL(p.cfg)
	if err != nil {
		return "", err
	}

	headers := http.Header{}
	headers.Set("Authorization", "Token "+p.cfg.APIKey)

	conn, _, err := p.dialer.DialContext(ctx, wsURL, headers)
	if err != nil {
		return "", fmt.Errorf("failed to connect to Deepgram websocket: %w", err)
	}

	s := &session{conn: conn}
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		s.writeLoop(audio)
	}()
	go func() {
		defer wg.Done()
		s.readLoop()
	}()
	wg.Wait()
	close(done)
	_ = conn.Close()

	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := s.waitErr(); err != nil {
		return "", err
	}
	return s.text(), nil
}

type session struct {
	conn *websocket.Conn

	mu       sync.Mutex
	err      error
	segments []string
}

func (s *session) waitErr() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *session) setErr(err error) {
	if err == nil {
		return
	}
	if websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived,
	) {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

func (s *session) text() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return strings.Join(s.segments, " ")
}

func (s *session) writeLoop(audio io.Reader) {
	buf := make([]byte, chunkSize)
	for {
		n, err := audio.Read(buf)
		if n > 0 {
			if werr := s.conn.WriteMessage(websocket.BinaryMessage, buf[:n]); werr != nil {
				s.setErr(fmt.Errorf("failed to send audio: %w", werr))
				return
			}
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			s.setErr(fmt.Errorf("failed to read audio: %w", err))
			_ = s.conn.Close()
			return
		}
	}

	if err := s.conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"CloseStream"}`)); err != nil {
		s.setErr(fmt.Errorf("failed to close stream: %w", err))
	}
}

func (s *session) readLoop() {
	for {
		_, payload, err := s.conn.ReadMessage()
		if err != nil {
			s.setErr(fmt.Errorf("failed to read provider event: %w", err))
			return
		}

		var response deepgramResponse
		if err := json.Unmarshal(payload, &response); err != nil {
			continue
		}

		if strings.EqualFold(response.Type, "Error") {
			message := strings.TrimSpace(response.Message)
			if message == "" {
				message = "deepgram returned an unknown error"
			}
			s.setErr(errors.New(message))
			_ = s.conn.Close()
			return
		}
		if strings.EqualFold(response.Type, "Metadata") {
			// sent once after CloseStream, nothing follows it
			return
		}

		if !response.IsFinal {
			continue
		}
		if transcript := extractTranscript(response); transcript != "" {
			s.mu.Lock()
			s.segments = append(s.segments, transcript)
			s.mu.Unlock()
		}
	}
}

type deepgramResponse struct {
	Type        string `json:"type"`
	Message     string `json:"message"`
	IsFinal     bool   `json:"is_final"`
	SpeechFinal bool   `json:"speech_final"`

	Channel struct {
		Alternatives []struct {
			Transcript string `json:"transcript"`
		} `json:"alternatives"`
	} `json:"channel"`

	Results struct {
		Channels []struct {
			Alternatives []struct {
				Transcript string `json:"transcript"`
			} `json:"alternatives"`
		} `json:"channels"`
	} `json:"results"`
}

func extractTranscript(response deepgramResponse) string {
	if len(response.Channel.Alternatives) > 0 {
		if text := strings.TrimSpace(response.Channel.Alternatives[0].Transcript); text != "" {
			return text
		}
	}
	if len(response.Results.Channels) > 0 && len(response.Results.Channels[0].Alternatives) > 0 {
		return strings.TrimSpace(response.Results.Channels[0].Alternatives[0].Transcript)
	}
	return ""
}

func buildListenURL(cfg Config) (string, error) {
	base := strings.TrimSpace(cfg.APIBaseURL)
	if base == "" {
		base = "https://api.deepgram.com/v1"
	}

	if strings.HasPrefix(base, "https://") {
		base = "wss://" + strings.TrimPrefix(base, "https://")
	} else if strings.HasPrefix(base, "http://") {
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	base = strings.TrimRight(base, "/")

	listenURL, err := url.Parse(base + "/listen")
	if err != nil {
		return "", fmt.Errorf("invalid Deepgram API base URL: %w", err)
	}
	if listenURL.Scheme != "ws" && listenURL.Scheme != "wss" {
		return "", fmt.Errorf("invalid Deepgram API base URL scheme %q", listenURL.Scheme)
	}

	query := listenURL.Query()
	query.Set("model", cfg.Model)
	query.Set("interim_results", "false")
	query.Set("punctuate", "true")
	query.Set("smart_format", fmt.Sprintf("%t", cfg.SmartFormat))
	if cfg.Language != "" {
		query.Set("language", cfg.Language)
	}
	listenURL.RawQuery = query.Encode()
	return listenURL.String(), nil
}
