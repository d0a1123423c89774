package presenter

// Mode is the UI Presenter's current input mode for the focused session.
type Mode int

const (
	// ModeNormal accepts navigation and single-key affordances.
	ModeNormal Mode = iota
	// ModeFreeform is collecting freeform text to resolve a Choices item.
	ModeFreeform
	// ModeMessage is collecting an operator note to queue onto the
	// session's pending_messages without resolving anything.
	ModeMessage
	// ModeSwitch is the fuzzy session-switcher's text-entry prompt.
	ModeSwitch
)

// Action is what a keypress should cause the Presenter to do. Expressed as a
// pure value so the key-interpretation logic is testable without a real
// terminal or Inbox Engine.
type Action int

const (
	ActionNone Action = iota
	ActionMoveUp
	ActionMoveDown
	ActionSelect
	ActionToggleMulti // space, in a present_multi_select item: toggle the highlighted option
	ActionConfirmMulti
	ActionDismiss
	ActionEnterFreeform
	ActionEnterMessage
	ActionEnterSwitch
	ActionNextPending // jump focus to the next session with queued/active items
	ActionSubmitText  // freeform input, message draft, or switch query, depending on Mode
	ActionBackspace
	ActionCancelMode // escape: back to ModeNormal without submitting
	ActionAppendRune
)

// interpretKey maps a single input rune/key to an Action given the current
// mode. It never touches engine or terminal state.
func interpretKey(mode Mode, key rune) Action {
	if mode == ModeFreeform || mode == ModeMessage || mode == ModeSwitch {
		switch key {
		case '\r', '\n':
			return ActionSubmitText
		case 0x7f, '\b':
			return ActionBackspace
		case 0x1b:
			return ActionCancelMode
		default:
			return ActionAppendRune
		}
	}

	switch key {
	case 'j':
		return ActionMoveDown
	case 'k':
		return ActionMoveUp
	case '\r', '\n':
		return ActionSelect
	case ' ':
		return ActionToggleMulti
	case 'c':
		return ActionConfirmMulti
	case 'd':
		return ActionDismiss
	case 'i':
		return ActionEnterFreeform
	case 'm':
		return ActionEnterMessage
	case '\t':
		return ActionEnterSwitch
	case 'n':
		return ActionNextPending
	default:
		return ActionNone
	}
}

// clampCursor keeps a scroll index within [0, count).
func clampCursor(cursor, count int) int {
	if count <= 0 {
		return 0
	}
	if cursor < 0 {
		return 0
	}
	if cursor >= count {
		return count - 1
	}
	return cursor
}
