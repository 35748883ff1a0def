package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// printJSON renders v for the --json output mode.
func printJSON(v any) error {
	return fprintJSON(os.Stdout, v)
}

// fprintJSON writes v to w as two-space indented JSON followed by a
// trailing newline.
func fprintJSON(w io.Writer, v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to render JSON output: %w", err)
	}
	if _, err := w.Write(append(out, '\n')); err != nil {
		return fmt.Errorf("failed to write JSON output: %w", err)
	}
	return nil
}
