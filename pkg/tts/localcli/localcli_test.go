package localcli_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/relaybroker/relaybroker/pkg/tts"
	"github.com/relaybroker/relaybroker/pkg/tts/localcli"
)

func TestNewRejectsMissingCommand(t *testing.T) {
	if _, err := localcli.New("definitely-not-a-real-command-xyz"); err == nil {
		t.Fatal("expected an error for a command that cannot be found")
	}
}

// writeWAVScript writes a tiny shell script that, when invoked with
// "--output_file <path>", writes a minimal valid WAV file to that path.
func writeWAVScript(t *testing.T) string {
	t.Helper()
	script := `#!/bin/sh
while [ "$#" -gt 0 ]; do
  case "$1" in
    --output_file) out="$2"; shift 2 ;;
    *) shift ;;
  esac
done
printf 'RIFF\044\000\000\000WAVEfmt \020\000\000\000\001\000\001\000\101\372\000\000\102\364\001\000\002\000\020\000data\000\000\000\000' > "$out"
`
	path := filepath.Join(t.TempDir(), "fake-tts.sh")
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	return path
}

func TestGenerateReadsWAVOutput(t *testing.T) {
	script := writeWAVScript(t)

	gen, err := localcli.New(script, localcli.WithArgs("--voice", "{voice}", "--output_file", "{out}"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	audio, err := gen.Generate(t.Context(), tts.GenerateRequest{
		Text:  "hold position",
		Voice: tts.VoiceProfile{ID: "default"},
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if audio.Channels != 1 {
		t.Fatalf("unexpected audio metadata: %+v", audio)
	}
	if len(audio.Bytes) == 0 {
		t.Fatal("expected non-empty WAV bytes")
	}
}

func TestListVoicesReturnsConfiguredCatalog(t *testing.T) {
	script := writeWAVScript(t)
	gen, err := localcli.New(script, localcli.WithVoices(
		tts.VoiceProfile{ID: "b", Name: "Bravo"},
		tts.VoiceProfile{ID: "a", Name: "Alpha"},
	))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	voices, err := gen.ListVoices(t.Context())
	if err != nil {
		t.Fatalf("ListVoices: %v", err)
	}
	if len(voices) != 2 || voices[0].ID != "a" || voices[1].ID != "b" {
		t.Fatalf("expected voices sorted by ID, got %+v", voices)
	}
}
