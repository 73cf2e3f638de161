package main

import (
	"errors"
	"os"

	"github.com/charmbracelet/huh"
	"golang.org/x/term"
)

// askConfirm prompts the operator. Non-interactive stdin refuses: a
// scripted caller must pass --force instead of inheriting a default yes.
func askConfirm(title string) bool {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return false
	}
	confirmed := false
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title(title).
				Affirmative("Proceed").
				Negative("Cancel").
				Value(&confirmed),
		),
	)
	if err := form.Run(); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			return false
		}
		return false
	}
	return confirmed
}
