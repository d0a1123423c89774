// Package remotehttp implements [tts.Generator] against a hosted streaming
// text-to-speech API (modeled on ElevenLabs' stream-input endpoint). Unlike a
// live-conversation client that keeps the socket open across many text
// fragments, the whole utterance is known up front, so a single request is
// sent, the socket is drained to completion, and the assembled PCM is
// returned as one [tts.Audio] artifact.
package remotehttp

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/coder/websocket"

	"github.com/relaybroker/relaybroker/pkg/tts"
)

const (
	wsEndpointFmt    = "wss://api.elevenlabs.io/v1/text-to-speech/%s/stream-input?model_id=%s"
	voicesEndpoint   = "https://api.elevenlabs.io/v1/voices"
	defaultModel     = "eleven_flash_v2_5"
	defaultOutputFmt = "pcm_16000"
	defaultSampleHz  = 16000
)

// Option configures a [Generator].
type Option func(*Generator)

// WithModel overrides the default model id.
func WithModel(model string) Option {
	return func(g *Generator) { g.model = model }
}

// WithOutputFormat overrides the requested output encoding (e.g. "pcm_24000").
func WithOutputFormat(format string) Option {
	return func(g *Generator) { g.outputFormat = format }
}

// WithBaseURL replaces the full URL ListVoices requests, for testing against
// a local stand-in server. Generate's websocket endpoint is not affected.
func WithBaseURL(url string) Option {
	return func(g *Generator) { g.voicesURL = url }
}

var _ tts.Generator = (*Generator)(nil)

// Generator synthesizes whole utterances against a hosted streaming TTS API.
type Generator struct {
	apiKey       string
	model        string
	outputFormat string
	voicesURL    string
	httpClient   *http.Client
}

// New creates a [Generator]. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Generator, error) {
	if apiKey == "" {
		return nil, errors.New("remotehttp: apiKey must not be empty")
	}
	g := &Generator{
		apiKey:       apiKey,
		model:        defaultModel,
		outputFormat: defaultOutputFmt,
		voicesURL:    voicesEndpoint,
		httpClient:   &http.Client{},
	}
	for _, o := range opts {
		o(g)
	}
	return g, nil
}

func (g *Generator) Name() string { return "remotehttp" }

type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

type boiMessage struct {
	Text          string         `json:"text"`
	VoiceSettings *voiceSettings `json:"voice_settings,omitempty"`
	XiAPIKey      string         `json:"xi_api_key"`
	OutputFormat  string         `json:"output_format,omitempty"`
}

type textMessage struct {
	Text          string         `json:"text"`
	VoiceSettings *voiceSettings `json:"voice_settings,omitempty"`
}

type audioResponse struct {
	Audio   string `json:"audio"`
	IsFinal bool   `json:"isFinal"`
	Message string `json:"message,omitempty"`
}

// Generate opens a socket, sends the handshake plus the whole utterance in a
// single text message, then drains every audio chunk until the server signals
// isFinal before closing the connection and returning the assembled PCM
// wrapped in a WAV header.
func (g *Generator) Generate(ctx context.Context, req tts.GenerateRequest) (*tts.Audio, error) {
	if req.Voice.ID == "" {
		return nil, errors.New("remotehttp: voice ID must not be empty")
	}
	model := req.Model
	if model == "" {
		model = g.model
	}

	wsURL := fmt.Sprintf(wsEndpointFmt, req.Voice.ID, model)
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("remotehttp: dial: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "done")

	vs := &voiceSettings{Stability: 0.5, SimilarityBoost: 0.75}
	boi := boiMessage{Text: " ", VoiceSettings: vs, XiAPIKey: g.apiKey, OutputFormat: g.outputFormat}
	boiBytes, _ := json.Marshal(boi)
	if err := conn.Write(ctx, websocket.MessageText, boiBytes); err != nil {
		return nil, fmt.Errorf("remotehttp: send handshake: %w", err)
	}

	payload := textMessage{Text: req.Text, VoiceSettings: vs}
	payloadBytes, _ := json.Marshal(payload)
	if err := conn.Write(ctx, websocket.MessageText, payloadBytes); err != nil {
		return nil, fmt.Errorf("remotehttp: send text: %w", err)
	}

	flushBytes, _ := json.Marshal(textMessage{Text: ""})
	if err := conn.Write(ctx, websocket.MessageText, flushBytes); err != nil {
		return nil, fmt.Errorf("remotehttp: send flush: %w", err)
	}

	var pcm bytes.Buffer
	for {
		_, msg, err := conn.Read(ctx)
		if err != nil {
			return nil, fmt.Errorf("remotehttp: read: %w", err)
		}
		var resp audioResponse
		if err := json.Unmarshal(msg, &resp); err != nil {
			continue
		}
		if resp.Audio != "" {
			chunk, err := base64.StdEncoding.DecodeString(resp.Audio)
			if err != nil {
				return nil, fmt.Errorf("remotehttp: decode audio chunk: %w", err)
			}
			pcm.Write(chunk)
		}
		if resp.IsFinal {
			break
		}
	}

	sampleHz := defaultSampleHz
	if rate, err := strconv.Atoi(strings.TrimPrefix(g.outputFormat, "pcm_")); err == nil && strings.HasPrefix(g.outputFormat, "pcm_") {
		sampleHz = rate
	}
	return &tts.Audio{Bytes: wrapPCMAsWAV(pcm.Bytes(), sampleHz, 1), SampleRate: sampleHz, Channels: 1}, nil
}

type voicesResponse struct {
	Voices []struct {
		VoiceID string `json:"voice_id"`
		Name    string `json:"name"`
	} `json:"voices"`
}

// ListVoices returns every voice available to the configured API key.
func (g *Generator) ListVoices(ctx context.Context) ([]tts.VoiceProfile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.voicesURL, nil)
	if err != nil {
		return nil, fmt.Errorf("remotehttp: list voices: %w", err)
	}
	req.Header.Set("xi-api-key", g.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("remotehttp: list voices HTTP: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("remotehttp: list voices: unexpected status %d", resp.StatusCode)
	}

	var vr voicesResponse
	if err := json.NewDecoder(resp.Body).Decode(&vr); err != nil {
		return nil, fmt.Errorf("remotehttp: list voices decode: %w", err)
	}

	profiles := make([]tts.VoiceProfile, 0, len(vr.Voices))
	for _, v := range vr.Voices {
		profiles = append(profiles, tts.VoiceProfile{ID: v.VoiceID, Name: v.Name})
	}
	return profiles, nil
}

// wrapPCMAsWAV wraps raw little-endian 16-bit PCM in a minimal RIFF/WAVE
// header so cached artifacts are self-describing on disk.
func wrapPCMAsWAV(pcm []byte, sampleRate, channels int) []byte {
	const bitsPerSample = 16
	byteRate := sampleRate * channels * bitsPerSample / 8
	blockAlign := channels * bitsPerSample / 8

	buf := new(bytes.Buffer)
	buf.WriteString("RIFF")
	binary.Write(buf, binary.LittleEndian, uint32(36+len(pcm)))
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	binary.Write(buf, binary.LittleEndian, uint32(16))
	binary.Write(buf, binary.LittleEndian, uint16(1))
	binary.Write(buf, binary.LittleEndian, uint16(channels))
	binary.Write(buf, binary.LittleEndian, uint32(sampleRate))
	binary.Write(buf, binary.LittleEndian, uint32(byteRate))
	binary.Write(buf, binary.LittleEndian, uint16(blockAlign))
	binary.Write(buf, binary.LittleEndian, uint16(bitsPerSample))
	buf.WriteString("data")
	binary.Write(buf, binary.LittleEndian, uint32(len(pcm)))
	buf.Write(pcm)
	return buf.Bytes()
}
