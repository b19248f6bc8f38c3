// Package passwd reads passwords from the controlling terminal.
package passwd

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"golang.org/x/crypto/ssh/terminal"
)

// ErrMismatch is returned by Confirm when the two entries differ.
var ErrMismatch = errors.New("passwords do not match")

// Read prompts on stderr and reads a password without echo.  When stdin is
// not a terminal a single line is read instead, so passwords can be piped.
func Read(prompt string) (string, error) {
	fd := int(syscall.Stdin)
	if !terminal.IsTerminal(fd) {
		return readLine(os.Stdin)
	}

	state, err := terminal.GetState(fd)
	if err != nil {
		return "", err
	}

	// put the terminal back if we are interrupted mid-prompt
	sigs := make(chan os.Signal, 1)
	done := make(chan struct{})
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case <-sigs:
			_ = terminal.Restore(fd, state)
			os.Exit(1)
		case <-done:
		}
	}()
	defer func() {
		signal.Stop(sigs)
		close(done)
	}()

	fmt.Fprint(os.Stderr, prompt)
	p, err := terminal.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	return string(p), nil
}

// Confirm reads a password twice and fails unless both entries match and
// are not empty.
func Confirm(prompt string) (string, error) {
	first, err := Read(prompt)
	if err != nil {
		return "", err
	}
	if len(first) == 0 {
		return "", errors.New("empty password")
	}
	if !terminal.IsTerminal(int(syscall.Stdin)) {
		return first, nil
	}
	second, err := Read("again: ")
	if err != nil {
		return "", err
	}
	if first != second {
		return "", ErrMismatch
	}
	return first, nil
}

func readLine(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && len(line) > 0) {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}
