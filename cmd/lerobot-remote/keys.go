package main

import (
	tea "github.com/charmbracelet/bubbletea"
)

// Terminal key names translated to the symbols used in keymap profiles, so
// a profile written for the web front-end works unchanged here.
var namedKeys = map[tea.KeyType]string{
	tea.KeyUp:        "ArrowUp",
	tea.KeyDown:      "ArrowDown",
	tea.KeyLeft:      "ArrowLeft",
	tea.KeyRight:     "ArrowRight",
	tea.KeyEnter:     "Enter",
	tea.KeyBackspace: "Backspace",
	tea.KeyDelete:    "Delete",
	tea.KeyInsert:    "Insert",
	tea.KeyHome:      "Home",
	tea.KeyEnd:       "End",
	tea.KeyPgUp:      "PageUp",
	tea.KeyPgDown:    "PageDown",
	tea.KeySpace:     " ",
}

// keySymbol returns the profile symbol for a key press. Pastes, alt
// combinations and multi-rune input have no symbol.
func keySymbol(msg tea.KeyMsg) (string, bool) {
	if msg.Paste || msg.Alt {
		return "", false
	}
	if msg.Type == tea.KeyRunes {
		if len(msg.Runes) != 1 {
			return "", false
		}
		return string(msg.Runes[0]), true
	}
	sym, ok := namedKeys[msg.Type]
	return sym, ok
}
