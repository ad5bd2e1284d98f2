// Package input reads secrets from the terminal.
package input

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// ErrInputAborted signals that the prompt was interrupted, by Ctrl+C or by
// stdin being closed.
var ErrInputAborted = errors.New("input aborted")

// ErrMismatch is returned when the confirmation differs from the first entry.
var ErrMismatch = errors.New("passphrases do not match")

// PasswordReader reads a line from fd without echo, like term.ReadPassword.
type PasswordReader func(fd int) ([]byte, error)

// IsAborted reports whether err comes from an interrupted prompt.
func IsAborted(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrInputAborted) || errors.Is(err, context.Canceled)
}

// MapInputError turns EOF and closed descriptor errors into ErrInputAborted.
func MapInputError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, io.EOF) || errors.Is(err, os.ErrClosed) {
		return ErrInputAborted
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "use of closed file") ||
		strings.Contains(msg, "bad file descriptor") ||
		strings.Contains(msg, "file already closed") {
		return ErrInputAborted
	}
	return err
}

// ReadSecret reads one secret and returns early when ctx is done. The
// reader keeps running in the background until stdin delivers a line.
func ReadSecret(ctx context.Context, read PasswordReader, fd int) ([]byte, error) {
	if read == nil {
		return nil, errors.New("password reader is nil")
	}
	type result struct {
		b   []byte
		err error
	}
	ch := make(chan result, 1)
	go func() {
		b, err := read(fd)
		ch <- result{b: b, err: MapInputError(err)}
	}()
	select {
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, context.DeadlineExceeded
		}
		return nil, ErrInputAborted
	case res := <-ch:
		return res.b, res.err
	}
}

// PromptPassphrase writes prompt to w and reads a non-empty passphrase.
// With confirm set it is read a second time and both entries must match.
func PromptPassphrase(ctx context.Context, w io.Writer, read PasswordReader, fd int, prompt string, confirm bool) (string, error) {
	first, err := promptOnce(ctx, w, read, fd, prompt)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(first) == "" {
		return "", errors.New("passphrase is empty")
	}
	if !confirm {
		return first, nil
	}
	second, err := promptOnce(ctx, w, read, fd, "Confirm "+strings.ToLower(prompt[:1])+prompt[1:])
	if err != nil {
		return "", err
	}
	if first != second {
		return "", ErrMismatch
	}
	return first, nil
}

func promptOnce(ctx context.Context, w io.Writer, read PasswordReader, fd int, prompt string) (string, error) {
	fmt.Fprint(w, prompt)
	b, err := ReadSecret(ctx, read, fd)
	fmt.Fprintln(w)
	if err != nil {
		return "", fmt.Errorf("read passphrase: %w", err)
	}
	return strings.TrimRight(string(b), "\r\n"), nil
}
