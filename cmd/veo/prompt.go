package main

import (
	"context"

	"github.com/charmbracelet/huh"
	"github.com/ytakahashi/veo-lists/internal/models"
	"github.com/ytakahashi/veo-lists/internal/store"
)

type prompter interface {
	Confirm(title string) (bool, error)
	Input(title string, secret bool) (string, error)
}

// huhPrompter asks on the terminal.
type huhPrompter struct{}

func (huhPrompter) Confirm(title string) (bool, error) {
	var ok bool
	err := huh.NewConfirm().
		Title(title).
		Affirmative("Yes").
		Negative("No").
		Value(&ok).
		Run()
	return ok, err
}

func (huhPrompter) Input(title string, secret bool) (string, error) {
	var v string
	input := huh.NewInput().Title(title).Value(&v)
	if secret {
		input = input.EchoMode(huh.EchoModePassword)
	}
	err := input.Run()
	return v, err
}

// confirmer asks before a list is deleted, unless yes was given.
func (a *app) confirmer(yes bool) store.Confirmer {
	if yes {
		return store.Confirmed
	}
	return store.ConfirmFunc(func(_ context.Context, list models.List) (bool, error) {
		return a.prompt.Confirm("Delete list " + quote(list.Name) + " and all of its items?")
	})
}

func quote(s string) string {
	return "\"" + s + "\""
}
