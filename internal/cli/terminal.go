package cli

import (
	"bufio"
	"io"
	"os"

	"golang.org/x/term"
)

const (
	keyInterrupt = 0x03
	keyEOF       = 0x04
	keyEscape    = 0x1b
)

// keyboard reads single keystrokes. On a terminal it switches to raw mode
// so keys arrive unbuffered; any other reader is consumed rune by rune.
type keyboard struct {
	reader  *bufio.Reader
	fd      int
	state   *term.State
	newline string
}

func openKeyboard(in io.Reader) (*keyboard, error) {
	kb := &keyboard{reader: bufio.NewReader(in), newline: "\n"}

	f, ok := in.(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		return kb, nil
	}

	kb.fd = int(f.Fd())
	state, err := term.MakeRaw(kb.fd)
	if err != nil {
		return nil, err
	}
	kb.state = state
	kb.newline = "\r\n"
	return kb, nil
}

// Interactive reports whether keys come from a raw terminal
func (k *keyboard) Interactive() bool {
	return k.state != nil
}

// Next returns the next printable key. io.EOF is returned at the end of
// input or when the user interrupts.
func (k *keyboard) Next() (rune, error) {
	for {
		r, _, err := k.reader.ReadRune()
		if err != nil {
			return 0, err
		}
		switch {
		case r == keyInterrupt || r == keyEOF || r == keyEscape:
			return 0, io.EOF
		case r == '\r' || r == '\n':
			if k.Interactive() {
				continue
			}
			return 0, io.EOF
		case r < ' ' || r == 0x7f:
			continue
		}
		return r, nil
	}
}

// Close restores the terminal
func (k *keyboard) Close() error {
	if k.state == nil {
		return nil
	}
	return term.Restore(k.fd, k.state)
}
