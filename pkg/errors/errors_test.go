package errors_test

import (
	stderrors "errors"
	"fmt"
	"testing"

	sdkerrors "github.com/wehubfusion/Arachne/pkg/errors"
)

func TestErrorFormatting(t *testing.T) {
	cause := stderrors.New("connection refused")
	err := sdkerrors.NewNetworkError("request failed", cause)

	want := "[NETWORK] request failed: connection refused"
	if err.Error() != want {
		t.Errorf("Expected %q, got %q", want, err.Error())
	}

	bare := sdkerrors.NewMergeError("output not writable", nil)
	want = "[MERGE] output not writable"
	if bare.Error() != want {
		t.Errorf("Expected %q, got %q", want, bare.Error())
	}
}

func TestErrorUnwrap(t *testing.T) {
	cause := stderrors.New("disk full")
	err := sdkerrors.NewStagingError("failed to write artifact", cause)

	if !stderrors.Is(err, cause) {
		t.Error("Expected errors.Is to reach the underlying cause")
	}
	if stderrors.Unwrap(err) != cause {
		t.Error("Expected Unwrap to return the underlying cause")
	}
}

func TestErrorMatchesSentinel(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		sentinel error
	}{
		{"configuration", sdkerrors.NewConfigurationError("bad", nil), sdkerrors.ErrConfiguration},
		{"source read", sdkerrors.NewSourceReadError("bad", nil), sdkerrors.ErrSourceRead},
		{"network", sdkerrors.NewNetworkError("bad", nil), sdkerrors.ErrNetwork},
		{"response parse", sdkerrors.NewResponseParseError("bad", nil), sdkerrors.ErrResponseParse},
		{"staging", sdkerrors.NewStagingError("bad", nil), sdkerrors.ErrStaging},
		{"merge", sdkerrors.NewMergeError("bad", nil), sdkerrors.ErrMerge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !stderrors.Is(tt.err, tt.sentinel) {
				t.Errorf("Expected %v to match its sentinel", tt.err)
			}
			if stderrors.Is(tt.err, sdkerrors.ErrNetwork) && tt.sentinel != sdkerrors.ErrNetwork {
				t.Errorf("Expected %v not to match a foreign sentinel", tt.err)
			}
		})
	}
}

func TestSentinelMatchesThroughWrapping(t *testing.T) {
	err := fmt.Errorf("processing row 7: %w", sdkerrors.NewNetworkError("request failed", nil))

	if !stderrors.Is(err, sdkerrors.ErrNetwork) {
		t.Error("Expected wrapped error to still match ErrNetwork")
	}
	if sdkerrors.CodeOf(err) != sdkerrors.CodeNetwork {
		t.Errorf("Expected code NETWORK, got %q", sdkerrors.CodeOf(err))
	}
}

func TestCodeOf(t *testing.T) {
	if got := sdkerrors.CodeOf(nil); got != "" {
		t.Errorf("Expected empty code for nil, got %q", got)
	}
	if got := sdkerrors.CodeOf(stderrors.New("plain")); got != "" {
		t.Errorf("Expected empty code for foreign error, got %q", got)
	}
	if got := sdkerrors.CodeOf(sdkerrors.NewMergeError("x", nil)); got != sdkerrors.CodeMerge {
		t.Errorf("Expected code MERGE, got %q", got)
	}
}

func TestClassification(t *testing.T) {
	if !sdkerrors.IsFatal(sdkerrors.NewConfigurationError("x", nil)) {
		t.Error("Expected configuration errors to be fatal")
	}
	if !sdkerrors.IsFatal(sdkerrors.NewSourceReadError("x", nil)) {
		t.Error("Expected source read errors to be fatal")
	}
	if !sdkerrors.IsFatal(sdkerrors.NewMergeError("x", nil)) {
		t.Error("Expected merge errors to be fatal")
	}
	if sdkerrors.IsFatal(sdkerrors.NewNetworkError("x", nil)) {
		t.Error("Expected network errors not to be fatal")
	}
	if sdkerrors.IsFatal(nil) {
		t.Error("Expected nil not to be fatal")
	}

	if !sdkerrors.IsRowLevel(sdkerrors.NewNetworkError("x", nil)) {
		t.Error("Expected network errors to be row level")
	}
	if !sdkerrors.IsRowLevel(sdkerrors.NewResponseParseError("x", nil)) {
		t.Error("Expected parse errors to be row level")
	}
	if sdkerrors.IsRowLevel(sdkerrors.NewStagingError("x", nil)) {
		t.Error("Expected staging errors not to be row level")
	}
}
