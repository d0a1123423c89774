package tts

import (
	"bytes"
	"container/heap"
	"context"
	"errors"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/relaybroker/relaybroker/pkg/tts"
)

// Sentinel errors passed to [PlaybackRequest.OnComplete].
var (
	errCancelled    = errors.New("tts: playback cancelled")
	errDeviceDown   = errors.New("tts: audio device down, speech dropped")
	errDeviceClosed = errors.New("tts: player closed")
	errSkippedStale = errors.New("tts: skipped, superseded before playback started")
)

// Priority levels a [PlaybackRequest] may carry. Urgent always preempts
// whatever is currently playing or queued at a lower priority.
const (
	PriorityNormal = 0
	PriorityUrgent = 1
)

// Class distinguishes agent speech from option-scroll readouts: a scroll
// readout may interrupt a prior scroll readout, but never agent speech
// unless that speech has finished or the new request is urgent.
const (
	ClassSpeech = 0
	ClassScroll = 1
)

// PlaybackRequest is one queued utterance. OnComplete is invoked exactly
// once — on the dispatch goroutine, or on the caller's goroutine when
// Enqueue finds the player closed or Stop drops the request from the
// queue — when the artifact has finished playing,
// been preempted, been skipped as stale, or been dropped because the device
// is down.
type PlaybackRequest struct {
	Audio      *tts.Audio
	Priority   int
	Class      int
	OnComplete func(err error)

	// Precheck, if set, is called once the request reaches the front of the
	// queue, immediately before spawning the player subprocess. Returning
	// false skips playback silently (errSkippedStale is passed to
	// OnComplete) without ever touching the audio device — this is how a
	// scroll readout superseded while still queued gets dropped.
	Precheck func() bool
}

// playbackEntry wraps a request with scheduling metadata for the heap.
type playbackEntry struct {
	req *PlaybackRequest
	seq uint64
}

type playbackHeap []playbackEntry

func (h playbackHeap) Len() int { return len(h) }
func (h playbackHeap) Less(i, j int) bool {
	if h[i].req.Priority != h[j].req.Priority {
		return h[i].req.Priority > h[j].req.Priority
	}
	return h[i].seq < h[j].seq
}
func (h playbackHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *playbackHeap) Push(x any)         { *h = append(*h, x.(playbackEntry)) }
func (h *playbackHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	*h = old[:n-1]
	return e
}

// Player serializes [PlaybackRequest] values onto a single external audio
// player subprocess, one at a time, with priority preemption. Adapted from
// the base repository's priority-heap mixer design, generalized from
// streamed audio chunks to whole-artifact subprocess playback: each request
// spawns the configured player command against a temporary WAV file instead
// of pushing PCM frames through a callback.
//
// speech_lock (mu) is held only to mutate the queue and the bookkeeping for
// the currently playing entry — never across a subprocess spawn or kill, so
// a slow fork/exec on a loaded host cannot block a concurrent urgent
// preemption or a new enqueue.
type Player struct {
	command string
	args    []string // "{file}" is replaced with the temp WAV path

	mu       sync.Mutex
	queue    playbackHeap
	seq      uint64
	playing  *runningPlayback
	closed   bool
	notify   chan struct{}
	done     chan struct{}
	stopOnce sync.Once

	recovery       *Recovery
	onEvent        func(RecoveryEvent)
	retryNotBefore time.Time // next non-urgent attempt waits out Recovery's escalating backoff
	log            *slog.Logger
}

// runningPlayback tracks the subprocess currently holding the audio device.
type runningPlayback struct {
	seq    uint64
	class  int
	cancel chan struct{}
}

// NewPlayer creates a [Player] that invokes command (with args, where
// "{file}" is substituted with a per-utterance temp WAV path) to play each
// artifact. recovery tracks device health; onEvent is called (may be nil)
// whenever a pulse_down/pulse_recovered transition occurs.
func NewPlayer(command string, args []string, recovery *Recovery, onEvent func(RecoveryEvent), log *slog.Logger) *Player {
	if log == nil {
		log = slog.Default()
	}
	if len(args) == 0 {
		args = []string{"{file}"}
	}
	p := &Player{
		command:  command,
		args:     args,
		notify:   make(chan struct{}, 1),
		done:     make(chan struct{}),
		recovery: recovery,
		onEvent:  onEvent,
		log:      log,
	}
	go p.dispatch()
	return p
}

// State reports the current audio device recovery state, or "healthy" if no
// recovery state machine was configured.
func (p *Player) State() RecoveryState {
	if p.recovery == nil {
		return RecoveryHealthy
	}
	return p.recovery.State()
}

// Enqueue schedules req for playback. An urgent request preempts whatever is
// currently playing (its process group is signalled to stop, without ever
// holding speech_lock while doing so) and anything queued at normal
// priority, per the "urgent always reaches the device first" invariant.
func (p *Player) Enqueue(req *PlaybackRequest) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		if req.OnComplete != nil {
			req.OnComplete(errDeviceClosed)
		}
		return
	}

	p.seq++
	heap.Push(&p.queue, playbackEntry{req: req, seq: p.seq})

	var preempt chan struct{}
	if p.playing != nil {
		switch {
		case req.Priority == PriorityUrgent:
			preempt = p.playing.cancel
			p.playing = nil
		case req.Class == ClassScroll && p.playing.class == ClassScroll:
			preempt = p.playing.cancel
			p.playing = nil
		}
	}
	p.mu.Unlock()

	// The kill itself happens outside the lock — see cmd.Cancel in run.
	if preempt != nil {
		close(preempt)
	}

	select {
	case p.notify <- struct{}{}:
	default:
	}
}

// Stop clears the queue and interrupts whatever is currently playing.
func (p *Player) Stop() {
	p.mu.Lock()
	var dropped []playbackEntry
	for p.queue.Len() > 0 {
		dropped = append(dropped, heap.Pop(&p.queue).(playbackEntry))
	}
	var preempt chan struct{}
	if p.playing != nil {
		preempt = p.playing.cancel
		p.playing = nil
	}
	p.mu.Unlock()

	if preempt != nil {
		close(preempt)
	}
	for _, e := range dropped {
		if e.req.OnComplete != nil {
			e.req.OnComplete(errCancelled)
		}
	}
}

// Close stops the dispatch goroutine and drops any queued work.
func (p *Player) Close() {
	p.stopOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		p.mu.Unlock()
		p.Stop()
		close(p.done)
	})
}

func (p *Player) dispatch() {
	for {
		select {
		case <-p.done:
			return
		case <-p.notify:
		}

		for {
			entry, ok := p.nextEntry()
			if !ok {
				break
			}
			p.run(entry)
		}
	}
}

func (p *Player) nextEntry() (playbackEntry, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.queue.Len() == 0 {
		return playbackEntry{}, false
	}
	e := heap.Pop(&p.queue).(playbackEntry)
	p.playing = &runningPlayback{seq: e.seq, class: e.req.Class, cancel: make(chan struct{})}
	return e, true
}

// retryBackoff returns how long a non-urgent attempt must still wait out of
// the backoff Recovery.RecordFailure last handed back, or zero if that
// cooldown has already elapsed.
func (p *Player) retryBackoff() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	if wait := time.Until(p.retryNotBefore); wait > 0 {
		return wait
	}
	return 0
}

// run spawns the player subprocess for entry and waits for it to exit or be
// preempted. No lock is held for the duration of this call.
func (p *Player) run(entry playbackEntry) {
	cancel := p.currentCancel(entry.seq)

	if entry.req.Precheck != nil && !entry.req.Precheck() {
		p.finish(entry, errSkippedStale)
		return
	}

	// Urgent speech never waits out the recovery backoff — it preempts and
	// is attempted immediately even while the device is recovering or down.
	if entry.req.Priority != PriorityUrgent {
		if wait := p.retryBackoff(); wait > 0 {
			select {
			case <-time.After(wait):
			case <-cancel:
				p.finish(entry, errCancelled)
				return
			}
		}
	}

	if p.recovery != nil && p.recovery.State() == RecoveryDown && entry.req.Priority != PriorityUrgent {
		p.finish(entry, errDeviceDown)
		return
	}

	tmpFile, err := writeTempWAV(entry.req.Audio.Bytes)
	if err != nil {
		p.log.Warn("tts playback: write temp file failed", "error", err)
		p.finish(entry, err)
		return
	}
	defer os.Remove(tmpFile)

	ctx, stop := context.WithCancel(context.Background())
	defer stop()
	go func() {
		select {
		case <-cancel:
			stop()
		case <-ctx.Done():
		}
	}()

	args := make([]string, len(p.args))
	for i, a := range p.args {
		if a == "{file}" {
			args[i] = tmpFile
		} else {
			args[i] = a
		}
	}

	cmd := exec.CommandContext(ctx, p.command, args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	// Killing just cmd.Process leaves wrapper-script children behind and
	// holding the audio device; signal the whole process group instead.
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	cmd.WaitDelay = 2 * time.Second
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	err = cmd.Run()
	select {
	case <-cancel:
		// Preempted: the process group has already been (or is being)
		// killed by cmd.Cancel; do not count this as a device failure.
		p.finish(entry, errCancelled)
		return
	default:
	}

	if err != nil {
		p.log.Warn("tts player exited non-zero", "error", err, "stderr", stderr.String())
		if p.recovery != nil {
			backoff, event := p.recovery.RecordFailure()
			p.mu.Lock()
			p.retryNotBefore = time.Now().Add(backoff)
			p.mu.Unlock()
			p.fireEvent(event)
		}
		p.finish(entry, err)
		return
	}

	if p.recovery != nil {
		p.fireEvent(p.recovery.RecordSuccess())
	}
	p.finish(entry, nil)
}

func (p *Player) currentCancel(seq uint64) chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.playing != nil && p.playing.seq == seq {
		return p.playing.cancel
	}
	// Already preempted before the subprocess even started.
	c := make(chan struct{})
	close(c)
	return c
}

func (p *Player) finish(entry playbackEntry, err error) {
	p.mu.Lock()
	if p.playing != nil && p.playing.seq == entry.seq {
		p.playing = nil
	}
	p.mu.Unlock()

	if entry.req.OnComplete != nil {
		entry.req.OnComplete(err)
	}
}

func (p *Player) fireEvent(event RecoveryEvent) {
	if event != NoRecoveryEvent && p.onEvent != nil {
		p.onEvent(event)
	}
}

func writeTempWAV(data []byte) (string, error) {
	f, err := os.CreateTemp("", "relaybroker-play-*.wav")
	if err != nil {
		return "", err
	}
	defer f.Close()
	if _, err := f.Write(data); err != nil {
		os.Remove(f.Name())
		return "", err
	}
	return filepath.Clean(f.Name()), nil
}
