package types

import "testing"

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    LogLevel
		wantErr bool
	}{
		{"debug", LogLevelDebug, false},
		{"INFO", LogLevelInfo, false},
		{"", LogLevelInfo, false},
		{"warn", LogLevelWarning, false},
		{"error", LogLevelError, false},
		{"critical", LogLevelCritical, false},
		{"3", LogLevelWarning, false},
		{"9", LogLevelInfo, true},
		{"verbose", LogLevelInfo, true},
	}
	for _, tt := range tests {
		got, err := ParseLogLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Fatalf("ParseLogLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestExitCodeString(t *testing.T) {
	if ExitImportError.String() != "import error" {
		t.Fatalf("unexpected string for ExitImportError: %q", ExitImportError.String())
	}
	if ExitCode(99).String() != "unknown error" {
		t.Fatalf("unexpected string for unknown code")
	}
	if ExitVerificationError.Int() != 8 {
		t.Fatalf("ExitVerificationError.Int() = %d", ExitVerificationError.Int())
	}
}
