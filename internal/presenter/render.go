package presenter

import (
	"fmt"
	"strings"

	"github.com/relaybroker/relaybroker/internal/registry"
)

// clearScreen and moveHome are the ANSI sequences used to redraw the widget
// set in place rather than scrolling the terminal.
const (
	clearScreen = "\x1b[2J"
	moveHome    = "\x1b[H"
)

// renderItem builds the full screen for sess's active item at the given
// cursor (scroll index) and input mode. A nil item renders an idle screen.
func renderItem(sess *registry.Session, item *registry.Item, cursor int, mode Mode, draft string) string {
	var b strings.Builder
	b.WriteString(clearScreen)
	b.WriteString(moveHome)

	fmt.Fprintf(&b, "── %s ──\n", sess.DisplayName)

	if item == nil {
		b.WriteString("(idle — no pending request)\n")
		return b.String()
	}

	switch item.Kind {
	case registry.KindSpeech:
		fmt.Fprintf(&b, "%s\n", item.Text)
	case registry.KindChoices:
		if item.Preamble != "" {
			fmt.Fprintf(&b, "%s\n\n", item.Preamble)
		}
		for i, opt := range item.Options {
			marker := "  "
			if i == cursor {
				marker = "> "
			}
			summary := opt.Summary
			if summary != "" {
				summary = " — " + summary
			}
			fmt.Fprintf(&b, "%s%d. %s%s\n", marker, i+1, opt.Label, summary)
		}
	}

	switch mode {
	case ModeFreeform:
		fmt.Fprintf(&b, "\n> %s█\n", draft)
	case ModeMessage:
		fmt.Fprintf(&b, "\nmessage> %s█\n", draft)
	default:
		b.WriteString("\n[j/k] move  [enter] select  [d] dismiss  [i] freeform  [m] message  [tab] switch session  [n] next pending\n")
	}

	return b.String()
}

// renderSwitcher renders the fuzzy session-switch prompt, highlighting the
// best-scoring match.
func renderSwitcher(query string, matches []SwitchMatch) string {
	var b strings.Builder
	b.WriteString(clearScreen)
	b.WriteString(moveHome)
	fmt.Fprintf(&b, "switch to session> %s█\n\n", query)
	for i, m := range matches {
		marker := "  "
		if i == 0 {
			marker = "> "
		}
		fmt.Fprintf(&b, "%s%s  (%.0f%%)\n", marker, m.DisplayName, m.Score*100)
	}
	return b.String()
}
