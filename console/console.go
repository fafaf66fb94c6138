// Package console listens on the server's terminal for operator shortcuts:
// Ctrl+L or "clear" empties the chat, Ctrl+C or "quit" stops the server.
package console

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"unicode/utf8"

	"golang.org/x/term"
)

// ErrNotTerminal is returned by Run when stdin is not a TTY.
var ErrNotTerminal = errors.New("console: stdin is not a terminal")

// Action is the outcome of a keystroke.
type Action int

const (
	None Action = iota
	Clear
	Quit
)

const (
	keyCtrlC     = 0x03
	keyCtrlD     = 0x04
	keyBackspace = 0x08
	keyCtrlL     = 0x0c
	keyEnter     = '\r'
	keyNewline   = '\n'
	keyDelete    = 0x7f
)

// Editor accumulates a command line one byte at a time.
type Editor struct {
	line []rune
	utf  []byte
}

// Feed processes one input byte and returns the resulting action.
func (e *Editor) Feed(b byte) Action {
	switch b {
	case keyCtrlL:
		e.reset()
		return Clear
	case keyCtrlC, keyCtrlD:
		e.reset()
		return Quit
	case keyEnter, keyNewline:
		cmd := strings.ToLower(strings.TrimSpace(string(e.line)))
		e.reset()
		return commandAction(cmd)
	case keyBackspace, keyDelete:
		if n := len(e.line); n > 0 {
			e.line = e.line[:n-1]
		}
		return None
	}
	if b < 0x20 {
		return None
	}
	// Multi-byte runes arrive one byte per Feed.
	e.utf = append(e.utf, b)
	if utf8.FullRune(e.utf) {
		r, _ := utf8.DecodeRune(e.utf)
		e.line = append(e.line, r)
		e.utf = e.utf[:0]
	}
	return None
}

// Line returns the text typed since the last command.
func (e *Editor) Line() string { return string(e.line) }

func (e *Editor) reset() {
	e.line = e.line[:0]
	e.utf = e.utf[:0]
}

func commandAction(cmd string) Action {
	switch cmd {
	case "clear", "c", "cls":
		return Clear
	case "quit", "exit", "q":
		return Quit
	}
	return None
}

// Listener dispatches console actions.
type Listener struct {
	OnClear func(ctx context.Context) error
	OnQuit  func()
	Out     io.Writer
}

// Run puts stdin in raw mode and serves keystrokes until ctx is done or the
// operator quits.
func (l *Listener) Run(ctx context.Context) error {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return ErrNotTerminal
	}
	old, err := term.MakeRaw(fd)
	if err != nil {
		return fmt.Errorf("setting raw mode: %w", err)
	}
	defer func() { _ = term.Restore(fd, old) }()
	l.printf("Console ready: Ctrl+L or 'clear' clears chat, Ctrl+C or 'quit' stops\r\n")
	return l.Serve(ctx, os.Stdin)
}

// Serve reads keystrokes from r until ctx is done, r is exhausted or a Quit
// action is handled.
func (l *Listener) Serve(ctx context.Context, r io.Reader) error {
	bytesCh := make(chan byte)
	errCh := make(chan error, 1)
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		buf := make([]byte, 64)
		for {
			n, err := r.Read(buf)
			for _, b := range buf[:n] {
				select {
				case bytesCh <- b:
				case <-stop:
					return
				}
			}
			if err != nil {
				errCh <- err
				return
			}
		}
	}()

	var ed Editor
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-errCh:
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		case b := <-bytesCh:
			l.echo(b)
			switch ed.Feed(b) {
			case Clear:
				l.clear(ctx)
			case Quit:
				l.printf("\r\nStopping...\r\n")
				if l.OnQuit != nil {
					l.OnQuit()
				}
				return nil
			}
		}
	}
}

func (l *Listener) clear(ctx context.Context) {
	if l.OnClear == nil {
		return
	}
	if err := l.OnClear(ctx); err != nil {
		slog.Error("console clear failed", slog.Any("err", err), slog.String("component", "console"))
		l.printf("\r\nclear failed: %v\r\n", err)
		return
	}
	slog.Info("chat cleared from console", slog.String("component", "console"))
	l.printf("\r\nChat cleared\r\n")
}

func (l *Listener) echo(b byte) {
	if l.Out == nil {
		return
	}
	switch {
	case b == keyEnter || b == keyNewline:
		l.printf("\r\n")
	case b == keyBackspace || b == keyDelete:
		l.printf("\b \b")
	case b >= 0x20:
		_, _ = l.Out.Write([]byte{b})
	}
}

func (l *Listener) printf(format string, args ...any) {
	if l.Out != nil {
		fmt.Fprintf(l.Out, format, args...)
	}
}
