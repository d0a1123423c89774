// Package presenter implements the UI Presenter: the single-threaded
// cooperative terminal loop that renders whichever session is focused,
// turns operator keystrokes into Inbox Engine resolutions, and offloads
// anything that could block (reading raw input, TTS scroll readouts) to
// worker goroutines so the render/dispatch loop itself never blocks on I/O,
// matching the "never spawn a subprocess on the UI thread" rule that also
// governs the TTS Engine's own playback scheduler.
package presenter

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/relaybroker/relaybroker/internal/registry"
	"github.com/relaybroker/relaybroker/internal/tts"
)

// Engine is the Inbox-Engine-facing surface the Presenter drives.
type Engine interface {
	Resolve(sess *registry.Session, result *registry.Result) bool
	Dismiss(sess *registry.Session) bool
	Cancel(sess *registry.Session, itemID, reason string) bool
}

// ScrollSpeaker is the TTS-Engine-facing surface used for option-scroll
// readouts.
type ScrollSpeaker interface {
	NextScrollToken() uint64
	ScrollReadout(ctx context.Context, voice tts.SessionVoice, optionText string, genToken uint64)
}

// RawTerminal abstracts entering/leaving raw mode, so tests can supply a
// no-op implementation instead of a real tty. golang.org/x/term's
// MakeRaw/Restore satisfy the shape this is modeled on.
type RawTerminal interface {
	// Enter puts the terminal into raw mode and returns a restore func.
	Enter() (restore func(), err error)
}

// Presenter is the UI Presenter.
type Presenter struct {
	registry *registry.Registry
	engine   Engine
	speaker  ScrollSpeaker
	term     RawTerminal
	out      io.Writer
	in       io.Reader
	log      *slog.Logger

	notify chan struct{}
	done   chan struct{}
	stopOnce sync.Once

	mu            sync.Mutex
	mode          Mode
	draft         strings.Builder
	cursor        int
	multiSelected map[string]bool
}

// Config bundles a Presenter's dependencies.
type Config struct {
	Registry *registry.Registry
	Engine   Engine
	Speaker  ScrollSpeaker
	Term     RawTerminal // nil disables raw mode (e.g. in tests)
	Out      io.Writer
	In       io.Reader
	Log      *slog.Logger
}

// New creates a Presenter.
func New(cfg Config) *Presenter {
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	return &Presenter{
		registry:      cfg.Registry,
		engine:        cfg.Engine,
		speaker:       cfg.Speaker,
		term:          cfg.Term,
		out:           cfg.Out,
		in:            cfg.In,
		log:           log,
		notify:        make(chan struct{}, 1),
		done:          make(chan struct{}),
		multiSelected: make(map[string]bool),
	}
}

// SetEngine wires the Inbox Engine in after construction, breaking the
// construction cycle between the two: the Inbox Engine's [UINotifier] is
// this Presenter, but the Presenter's [Engine] is the Inbox Engine itself.
// Must be called before Run.
func (p *Presenter) SetEngine(engine Engine) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.engine = engine
}

// ActiveItemChanged implements inbox.UINotifier: it wakes the render loop
// if the changed session is the one currently focused. Never blocks: the
// Inbox Engine calls this inline as part of advancing a session's queue.
func (p *Presenter) ActiveItemChanged(sessionID string, _ *registry.Item) {
	focused := p.registry.Focused()
	if focused == nil || focused.ID != sessionID {
		return
	}
	p.mu.Lock()
	p.cursor = 0
	p.multiSelected = make(map[string]bool)
	p.mu.Unlock()
	p.wake()
}

func (p *Presenter) wake() {
	select {
	case p.notify <- struct{}{}:
	default:
	}
}

// Run starts the cooperative render/input loop. It blocks until ctx is
// cancelled or Stop is called. Raw mode, if configured, is restored on
// return.
func (p *Presenter) Run(ctx context.Context) error {
	var restore func()
	if p.term != nil {
		r, err := p.term.Enter()
		if err != nil {
			return err
		}
		restore = r
		defer restore()
	}

	keys := make(chan rune)
	readErrs := make(chan error, 1)
	go p.readKeys(keys, readErrs)

	p.render()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.done:
			return nil
		case err := <-readErrs:
			if err != nil && err != io.EOF {
				p.log.Warn("presenter: input read failed", "error", err)
			}
			return err
		case key := <-keys:
			p.handleKey(ctx, key)
			p.render()
		case <-p.notify:
			p.render()
		}
	}
}

// Stop ends the render loop without cancelling ctx.
func (p *Presenter) Stop() {
	p.stopOnce.Do(func() { close(p.done) })
}

// readKeys is the only goroutine that performs blocking reads from the
// input source, so a slow or idle terminal never stalls notify-triggered
// re-renders.
func (p *Presenter) readKeys(keys chan<- rune, errs chan<- error) {
	reader := bufio.NewReader(p.in)
	for {
		r, _, err := reader.ReadRune()
		if err != nil {
			errs <- err
			return
		}
		select {
		case keys <- r:
		case <-p.done:
			return
		}
	}
}

func (p *Presenter) handleKey(ctx context.Context, key rune) {
	p.mu.Lock()
	mode := p.mode
	p.mu.Unlock()

	switch interpretKey(mode, key) {
	case ActionMoveUp:
		p.moveCursor(-1)
	case ActionMoveDown:
		p.moveCursor(1)
	case ActionSelect:
		p.selectHighlighted()
	case ActionToggleMulti:
		p.toggleHighlighted()
	case ActionConfirmMulti:
		p.confirmMulti()
	case ActionDismiss:
		p.dismiss()
	case ActionEnterFreeform:
		p.enterMode(ModeFreeform)
	case ActionEnterMessage:
		p.enterMode(ModeMessage)
	case ActionEnterSwitch:
		p.enterMode(ModeSwitch)
	case ActionNextPending:
		p.focusNextPending()
	case ActionAppendRune:
		p.appendDraft(key)
	case ActionBackspace:
		p.backspaceDraft()
	case ActionCancelMode:
		p.enterMode(ModeNormal)
	case ActionSubmitText:
		p.submitDraft(ctx)
	}
}

func (p *Presenter) enterMode(mode Mode) {
	p.mu.Lock()
	p.mode = mode
	p.draft.Reset()
	p.mu.Unlock()
}

func (p *Presenter) appendDraft(r rune) {
	p.mu.Lock()
	p.draft.WriteRune(r)
	p.mu.Unlock()
}

func (p *Presenter) backspaceDraft() {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := p.draft.String()
	if len(s) == 0 {
		return
	}
	runes := []rune(s)
	p.draft.Reset()
	p.draft.WriteString(string(runes[:len(runes)-1]))
}

func (p *Presenter) moveCursor(delta int) {
	sess := p.registry.Focused()
	if sess == nil {
		return
	}
	item := sess.Head()
	if item == nil || item.Kind != registry.KindChoices {
		return
	}

	p.mu.Lock()
	p.cursor = clampCursor(p.cursor+delta, len(item.Options))
	cursor := p.cursor
	p.mu.Unlock()
	sess.SetScrollIndex(cursor)

	if p.speaker == nil || cursor >= len(item.Options) {
		return
	}
	opt := item.Options[cursor]
	if opt.Silent {
		return
	}
	go p.speakOption(sess, opt)
}

// speakOption runs on its own goroutine: TTS generation/cache lookup must
// never block the render loop.
func (p *Presenter) speakOption(sess *registry.Session, opt registry.Option) {
	token := p.speaker.NextScrollToken()
	voice := tts.SessionVoice{}
	if sess.Voice != nil {
		voice = tts.SessionVoice{Voice: sess.Voice.Voice, Style: sess.Voice.Style, Speed: sess.Voice.Speed}
	}
	p.speaker.ScrollReadout(context.Background(), voice, opt.Label, token)
}

func (p *Presenter) selectHighlighted() {
	sess := p.registry.Focused()
	if sess == nil {
		return
	}
	item := sess.Head()
	if item == nil || item.Kind != registry.KindChoices {
		return
	}

	p.mu.Lock()
	cursor := p.cursor
	p.mu.Unlock()
	if cursor < 0 || cursor >= len(item.Options) {
		return
	}

	if item.Multi {
		p.toggleHighlighted()
		return
	}
	opt := item.Options[cursor]
	p.engine.Resolve(sess, &registry.Result{Selected: opt.Label, SelectedSummary: opt.Summary})
}

func (p *Presenter) toggleHighlighted() {
	sess := p.registry.Focused()
	if sess == nil {
		return
	}
	item := sess.Head()
	if item == nil || item.Kind != registry.KindChoices || !item.Multi {
		return
	}

	p.mu.Lock()
	cursor := p.cursor
	if cursor < 0 || cursor >= len(item.Options) {
		p.mu.Unlock()
		return
	}
	label := item.Options[cursor].Label
	if p.multiSelected[label] {
		delete(p.multiSelected, label)
	} else {
		p.multiSelected[label] = true
	}
	p.mu.Unlock()
}

func (p *Presenter) confirmMulti() {
	sess := p.registry.Focused()
	if sess == nil {
		return
	}
	item := sess.Head()
	if item == nil || item.Kind != registry.KindChoices || !item.Multi {
		return
	}

	p.mu.Lock()
	selected := make([]string, 0, len(p.multiSelected))
	for _, opt := range item.Options {
		if p.multiSelected[opt.Label] {
			selected = append(selected, opt.Label)
		}
	}
	p.multiSelected = make(map[string]bool)
	p.mu.Unlock()

	p.engine.Resolve(sess, &registry.Result{SelectedMulti: selected})
}

func (p *Presenter) dismiss() {
	sess := p.registry.Focused()
	if sess == nil {
		return
	}
	p.engine.Dismiss(sess)
}

func (p *Presenter) submitDraft(ctx context.Context) {
	p.mu.Lock()
	mode := p.mode
	text := p.draft.String()
	p.mode = ModeNormal
	p.draft.Reset()
	p.mu.Unlock()

	sess := p.registry.Focused()
	switch mode {
	case ModeFreeform:
		if sess == nil {
			return
		}
		p.engine.Resolve(sess, &registry.Result{Selected: text, SelectedSummary: "(freeform input)"})
	case ModeMessage:
		if sess == nil {
			return
		}
		sess.QueueMessage(text)
	case ModeSwitch:
		p.submitSwitch(text)
	}
	_ = ctx
}

// focusNextPending implements spec.md §4.1's next_with_pending() navigation
// primitive for the operator's "n" key: jump focus to the next session
// other than the current one that has queued or active inbox items,
// without disturbing any other session's processing.
func (p *Presenter) focusNextPending() {
	sess := p.registry.NextWithPending()
	if sess == nil {
		return
	}
	p.registry.Focus(sess.ID)
}

func (p *Presenter) submitSwitch(query string) {
	matches := rankSessions(query, p.registry.Snapshots())
	if len(matches) == 0 {
		return
	}
	p.registry.Focus(matches[0].SessionID)
}

// render draws the current focused session's state to out. Safe to call
// from the single cooperative loop goroutine only.
func (p *Presenter) render() {
	if p.out == nil {
		return
	}

	p.mu.Lock()
	mode := p.mode
	cursor := p.cursor
	draft := p.draft.String()
	p.mu.Unlock()

	if mode == ModeSwitch {
		io.WriteString(p.out, renderSwitcher(draft, rankSessions(draft, p.registry.Snapshots())))
		return
	}

	sess := p.registry.Focused()
	if sess == nil {
		io.WriteString(p.out, clearScreen+moveHome+"(no session focused)\n")
		return
	}
	io.WriteString(p.out, renderItem(sess, sess.Head(), cursor, mode, draft))
}
