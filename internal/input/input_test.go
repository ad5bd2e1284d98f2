package input

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"testing"
	"time"
)

func replies(values ...string) (PasswordReader, *int) {
	calls := 0
	return func(int) ([]byte, error) {
		if calls >= len(values) {
			return nil, io.EOF
		}
		v := values[calls]
		calls++
		return []byte(v), nil
	}, &calls
}

func TestMapInputError(t *testing.T) {
	if MapInputError(nil) != nil {
		t.Fatalf("expected nil")
	}
	if !errors.Is(MapInputError(io.EOF), ErrInputAborted) {
		t.Fatalf("expected ErrInputAborted for EOF")
	}
	if !errors.Is(MapInputError(os.ErrClosed), ErrInputAborted) {
		t.Fatalf("expected ErrInputAborted for ErrClosed")
	}
	for _, msg := range []string{"use of closed file", "Bad File Descriptor", "file already closed"} {
		if !errors.Is(MapInputError(errors.New(msg)), ErrInputAborted) {
			t.Fatalf("expected ErrInputAborted for %q", msg)
		}
	}
	sentinel := errors.New("some other error")
	if MapInputError(sentinel) != sentinel {
		t.Fatalf("expected passthrough for non-mapped errors")
	}
}

func TestIsAborted(t *testing.T) {
	if IsAborted(nil) || IsAborted(errors.New("other")) {
		t.Fatalf("unexpected abort")
	}
	if !IsAborted(ErrInputAborted) || !IsAborted(context.Canceled) {
		t.Fatalf("expected abort")
	}
}

func TestReadSecretCancelled(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	read := func(int) ([]byte, error) {
		<-block
		return nil, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := ReadSecret(ctx, read, 0); !errors.Is(err, ErrInputAborted) {
		t.Fatalf("expected ErrInputAborted, got %v", err)
	}

	ctx, cancel = context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := ReadSecret(ctx, read, 0); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected DeadlineExceeded, got %v", err)
	}
}

func TestReadSecretNilReader(t *testing.T) {
	if _, err := ReadSecret(context.Background(), nil, 0); err == nil {
		t.Fatal("expected error for nil reader")
	}
}

func TestPromptPassphrase(t *testing.T) {
	var out bytes.Buffer
	read, calls := replies("s3cret", "s3cret")
	got, err := PromptPassphrase(context.Background(), &out, read, 0, "Archive passphrase: ", true)
	if err != nil {
		t.Fatalf("PromptPassphrase: %v", err)
	}
	if got != "s3cret" || *calls != 2 {
		t.Fatalf("got %q after %d reads", got, *calls)
	}
	if !strings.Contains(out.String(), "Confirm archive passphrase: ") {
		t.Fatalf("missing confirmation prompt in %q", out.String())
	}
}

func TestPromptPassphraseWithoutConfirm(t *testing.T) {
	read, calls := replies("only once")
	got, err := PromptPassphrase(context.Background(), io.Discard, read, 0, "Passphrase: ", false)
	if err != nil || got != "only once" || *calls != 1 {
		t.Fatalf("got %q, %v after %d reads", got, err, *calls)
	}
}

func TestPromptPassphraseErrors(t *testing.T) {
	read, _ := replies("one", "two")
	if _, err := PromptPassphrase(context.Background(), io.Discard, read, 0, "Passphrase: ", true); !errors.Is(err, ErrMismatch) {
		t.Fatalf("expected ErrMismatch, got %v", err)
	}

	read, _ = replies("   ")
	if _, err := PromptPassphrase(context.Background(), io.Discard, read, 0, "Passphrase: ", true); err == nil {
		t.Fatal("expected error for blank passphrase")
	}

	read, _ = replies()
	_, err := PromptPassphrase(context.Background(), io.Discard, read, 0, "Passphrase: ", false)
	if !IsAborted(err) {
		t.Fatalf("expected aborted prompt, got %v", err)
	}
}
