// Package localcli implements [tts.Generator] by shelling out to a locally
// installed synthesis command for each utterance, so the broker keeps
// speaking (in a lower-fidelity voice) when the hosted generator is
// unreachable. This trades the coqui server's HTTP API for a plain
// subprocess: the broker's operator host is assumed to have a CLI
// (espeak-ng, piper, or similar) rather than a TTS server to call.
package localcli

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"time"

	"github.com/relaybroker/relaybroker/pkg/tts"
)

var _ tts.Generator = (*Generator)(nil)

const defaultTimeout = 30 * time.Second

// Option configures a [Generator].
type Option func(*Generator)

// WithTimeout bounds how long a single synthesis invocation may run.
func WithTimeout(d time.Duration) Option {
	return func(g *Generator) { g.timeout = d }
}

// WithArgs overrides the argument template passed to the command. "{voice}"
// and "{out}" are substituted with the requested voice ID and the output WAV
// path; the text to synthesize is always appended last via stdin.
func WithArgs(args ...string) Option {
	return func(g *Generator) { g.args = args }
}

// WithVoices registers the catalog returned by ListVoices; the command itself
// exposes no discovery endpoint to query.
func WithVoices(voices ...tts.VoiceProfile) Option {
	return func(g *Generator) { g.voices = voices }
}

// Generator synthesizes speech by invoking an external command once per
// utterance and reading back the WAV file it writes.
type Generator struct {
	command string
	args    []string
	timeout time.Duration
	voices  []tts.VoiceProfile
}

// New creates a [Generator] that invokes command for each utterance.
// command must resolve via exec.LookPath or be an absolute path to an
// executable.
func New(command string, opts ...Option) (*Generator, error) {
	if command == "" {
		return nil, errors.New("localcli: command must not be empty")
	}
	if _, err := exec.LookPath(command); err != nil {
		return nil, fmt.Errorf("localcli: %s not found: %w", command, err)
	}
	g := &Generator{
		command: command,
		args:    []string{"--voice", "{voice}", "--output_file", "{out}"},
		timeout: defaultTimeout,
	}
	for _, o := range opts {
		o(g)
	}
	return g, nil
}

func (g *Generator) Name() string { return "localcli" }

// Generate spawns the configured command, feeding req.Text on stdin and
// reading the WAV it wrote to a temporary file.
func (g *Generator) Generate(ctx context.Context, req tts.GenerateRequest) (*tts.Audio, error) {
	tmpDir, err := os.MkdirTemp("", "relaybroker-localcli-*")
	if err != nil {
		return nil, fmt.Errorf("localcli: create temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)
	outPath := filepath.Join(tmpDir, "out.wav")

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	args := make([]string, len(g.args))
	for i, a := range g.args {
		switch a {
		case "{voice}":
			args[i] = req.Voice.ID
		case "{out}":
			args[i] = outPath
		default:
			args[i] = a
		}
	}

	cmd := exec.CommandContext(ctx, g.command, args...)
	cmd.Stdin = bytes.NewBufferString(req.Text)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("localcli: %s: %w: %s", g.command, err, stderr.String())
	}

	wav, err := os.ReadFile(outPath)
	if err != nil {
		return nil, fmt.Errorf("localcli: read output: %w", err)
	}

	info, err := parseWAV(wav)
	if err != nil {
		return nil, err
	}
	return &tts.Audio{Bytes: wav, SampleRate: info.SampleRate, Channels: info.Channels}, nil
}

// ListVoices returns the statically configured voice catalog.
func (g *Generator) ListVoices(_ context.Context) ([]tts.VoiceProfile, error) {
	out := make([]tts.VoiceProfile, len(g.voices))
	copy(out, g.voices)
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

type wavInfo struct {
	SampleRate int
	Channels   int
}

// parseWAV extracts the sample rate and channel count from a RIFF/WAVE
// container's "fmt " sub-chunk.
func parseWAV(wav []byte) (wavInfo, error) {
	if len(wav) < 12 || string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" {
		return wavInfo{}, errors.New("localcli: output is not a valid RIFF/WAVE file")
	}

	offset := 12
	for offset+8 <= len(wav) {
		chunkID := string(wav[offset : offset+4])
		chunkSize := int(binary.LittleEndian.Uint32(wav[offset+4 : offset+8]))

		if chunkID == "fmt " && chunkSize >= 16 && offset+8+16 <= len(wav) {
			fmtData := wav[offset+8:]
			return wavInfo{
				Channels:   int(binary.LittleEndian.Uint16(fmtData[2:4])),
				SampleRate: int(binary.LittleEndian.Uint32(fmtData[4:8])),
			}, nil
		}
		offset += 8 + chunkSize
		if chunkSize%2 != 0 {
			offset++
		}
	}
	return wavInfo{}, errors.New("localcli: fmt chunk not found")
}
