package tts_test

import (
	"testing"

	internaltts "github.com/relaybroker/relaybroker/internal/tts"
	"github.com/relaybroker/relaybroker/pkg/tts"
)

func TestCacheStoreThenLookup(t *testing.T) {
	cache, err := internaltts.NewCache(t.TempDir())
	if err != nil {
		t.Fatalf("NewCache: %v", err)
	}

	req := tts.GenerateRequest{Text: "fall back", Voice: tts.VoiceProfile{ID: "v1"}}
	if _, ok := cache.Lookup(req); ok {
		t.Fatal("expected a miss before any Store")
	}

	audio := &tts.Audio{Bytes: []byte("RIFF...."), SampleRate: 16000, Channels: 1}
	if err := cache.Store(req, audio); err != nil {
		t.Fatalf("Store: %v", err)
	}

	got, ok := cache.Lookup(req)
	if !ok {
		t.Fatal("expected a hit after Store")
	}
	if string(got.Bytes) != string(audio.Bytes) || got.SampleRate != 16000 || got.Channels != 1 {
		t.Fatalf("unexpected cached artifact: %+v", got)
	}
}

func TestCacheDistinguishesVoice(t *testing.T) {
	cache, err := internaltts.NewCache(t.TempDir())
	if err != nil {
		t.Fatalf("NewCache: %v", err)
	}

	base := tts.GenerateRequest{Text: "advance", Voice: tts.VoiceProfile{ID: "v1"}}
	variant := base
	variant.Voice.ID = "v2"

	if err := cache.Store(base, &tts.Audio{Bytes: []byte("a")}); err != nil {
		t.Fatalf("Store base: %v", err)
	}
	if _, ok := cache.Lookup(variant); ok {
		t.Fatal("a different voice ID must miss the cache")
	}
}
