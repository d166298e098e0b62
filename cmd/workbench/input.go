package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/chzyer/readline"

	"workbench/internal/repl"
)

// editorInput wraps chzyer/readline behind the REPL's LineReader contract,
// giving the plain terminal history and line editing.
type editorInput struct {
	rl *readline.Instance
}

func (e *editorInput) ReadLine(prompt string) (string, error) {
	e.rl.SetPrompt(prompt)
	return e.rl.Readline()
}

func (e *editorInput) Close() error { return e.rl.Close() }

// newLineInput prefers the readline editor and degrades to a plain buffered
// reader when the terminal cannot host one. The returned reader is always
// usable; a non-nil error only explains why the editor was skipped.
func newLineInput(historyPath string) (repl.LineReader, error) {
	if historyPath != "" {
		if err := os.MkdirAll(filepath.Dir(historyPath), 0o755); err != nil {
			return repl.NewPlainReader(os.Stdin, os.Stdout), fmt.Errorf("create history dir: %w", err)
		}
	}
	rl, err := readline.NewEx(&readline.Config{
		Prompt:            "> ",
		HistoryFile:       historyPath,
		HistorySearchFold: true,
	})
	if err != nil {
		return repl.NewPlainReader(os.Stdin, os.Stdout), err
	}
	return &editorInput{rl: rl}, nil
}
