package cli

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestFprintJSON_RoundTrip(t *testing.T) {
	var buf bytes.Buffer
	input := jsonAction{OK: true, Action: "create", AccountID: "work", Folder: "Archive/2026"}

	if err := fprintJSON(&buf, input); err != nil {
		t.Fatalf("fprintJSON() error = %v", err)
	}

	var got jsonAction
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("failed to parse output: %v", err)
	}
	if got != input {
		t.Errorf("round trip = %+v, want %+v", got, input)
	}
}

func TestFprintJSON_Formatting(t *testing.T) {
	var buf bytes.Buffer
	if err := fprintJSON(&buf, map[string]int{"attempts": 3}); err != nil {
		t.Fatalf("fprintJSON() error = %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, "\n  ") {
		t.Errorf("output not indented: %q", out)
	}
	if !strings.HasSuffix(out, "\n") {
		t.Errorf("output missing trailing newline: %q", out)
	}
}

func TestFprintJSON_NilValue(t *testing.T) {
	var buf bytes.Buffer
	if err := fprintJSON(&buf, nil); err != nil {
		t.Fatalf("fprintJSON() error = %v", err)
	}
	if got := buf.String(); got != "null\n" {
		t.Errorf("got %q, want %q", got, "null\n")
	}
}
