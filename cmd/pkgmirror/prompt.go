package main

import (
	"github.com/charmbracelet/huh"
	"github.com/cockroachdb/errors"
)

// errAborted is returned when the user leaves a prompt.
var errAborted = errors.New("aborted")

func runForm(fields ...huh.Field) error {
	err := huh.NewForm(huh.NewGroup(fields...)).Run()
	if errors.Is(err, huh.ErrUserAborted) {
		return errAborted
	}
	return err
}

// promptInput shows a text input prefilled with initial and returns the
// value. validate may be nil.
func promptInput(title, initial string, validate func(string) error) (string, error) {
	value := initial
	input := huh.NewInput().
		Title(title).
		Value(&value)
	if validate != nil {
		input = input.Validate(validate)
	}
	if err := runForm(input); err != nil {
		return "", err
	}
	return value, nil
}

// promptSecret shows a masked input for a non-empty secret.
func promptSecret(title string) (string, error) {
	var value string
	err := runForm(huh.NewInput().
		Title(title).
		EchoMode(huh.EchoModePassword).
		Validate(notEmpty).
		Value(&value))
	return value, err
}

// promptSelect shows a selection prompt. options are label/value pairs.
func promptSelect(title string, options ...huh.Option[string]) (string, error) {
	var value string
	err := runForm(huh.NewSelect[string]().
		Title(title).
		Options(options...).
		Value(&value))
	return value, err
}

// promptConfirm asks a yes/no question for a destructive operation.
func promptConfirm(title, description string) (bool, error) {
	var confirmed bool
	err := runForm(huh.NewConfirm().
		Title(title).
		Description(description).
		Affirmative("Yes").
		Negative("No").
		Value(&confirmed))
	return confirmed, err
}

func notEmpty(s string) error {
	if s == "" {
		return errors.New("value is required")
	}
	return nil
}

func minLength(n int) func(string) error {
	return func(s string) error {
		if len(s) < n {
			return errors.Newf("must be %d or more characters", n)
		}
		return nil
	}
}
