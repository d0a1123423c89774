package tts

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/relaybroker/relaybroker/pkg/tts"
)

// cacheKey fingerprints the parameters that fully determine a synthesized
// artifact. Two requests with the same fingerprint always produce
// byte-identical audio, so the second is served from disk.
func cacheKey(req tts.GenerateRequest) string {
	h := sha256.New()
	h.Write([]byte(req.Text))
	h.Write([]byte{0})
	h.Write([]byte(req.Voice.ID))
	h.Write([]byte{0})
	h.Write([]byte(req.Voice.Style))
	h.Write([]byte{0})
	h.Write([]byte(strconv.FormatFloat(req.Voice.Speed, 'f', -1, 64)))
	h.Write([]byte{0})
	h.Write([]byte(req.Model))
	return hex.EncodeToString(h.Sum(nil))
}

// cacheEntry is the on-disk sidecar recording an artifact's PCM metadata
// alongside its audio bytes.
type cacheEntry struct {
	SampleRate int `json:"sample_rate"`
	Channels   int `json:"channels"`
}

// Cache stores synthesized artifacts on disk, keyed by [cacheKey], so repeat
// requests for the same text/voice/style/speed/model never re-invoke a
// generator.
type Cache struct {
	dir string
}

// NewCache creates a [Cache] rooted at dir, creating it if necessary.
func NewCache(dir string) (*Cache, error) {
	if dir == "" {
		return nil, errors.New("tts: cache dir must not be empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("tts: create cache dir: %w", err)
	}
	return &Cache{dir: dir}, nil
}

func (c *Cache) paths(key string) (audioPath, metaPath string) {
	return filepath.Join(c.dir, key+".wav"), filepath.Join(c.dir, key+".json")
}

// Lookup returns the cached artifact for req, if present.
func (c *Cache) Lookup(req tts.GenerateRequest) (*tts.Audio, bool) {
	key := cacheKey(req)
	audioPath, metaPath := c.paths(key)

	metaBytes, err := os.ReadFile(metaPath)
	if err != nil {
		return nil, false
	}
	var meta cacheEntry
	if err := json.Unmarshal(metaBytes, &meta); err != nil {
		return nil, false
	}
	audioBytes, err := os.ReadFile(audioPath)
	if err != nil {
		return nil, false
	}
	return &tts.Audio{Bytes: audioBytes, SampleRate: meta.SampleRate, Channels: meta.Channels}, true
}

// Store writes audio to the cache for req. It writes to a temporary file in
// the same directory and renames into place, so a reader never observes a
// partially written artifact even if Store is interrupted.
func (c *Cache) Store(req tts.GenerateRequest, audio *tts.Audio) error {
	key := cacheKey(req)
	audioPath, metaPath := c.paths(key)

	if err := writeAtomic(audioPath, audio.Bytes); err != nil {
		return fmt.Errorf("tts: cache audio: %w", err)
	}
	metaBytes, err := json.Marshal(cacheEntry{SampleRate: audio.SampleRate, Channels: audio.Channels})
	if err != nil {
		return fmt.Errorf("tts: marshal cache metadata: %w", err)
	}
	if err := writeAtomic(metaPath, metaBytes); err != nil {
		return fmt.Errorf("tts: cache metadata: %w", err)
	}
	return nil
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
