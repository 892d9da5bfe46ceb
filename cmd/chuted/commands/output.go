package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/edgechute/chuted/pkg/engine"
)

// outcomeView adds the error text, which Outcome does not serialize.
type outcomeView struct {
	*engine.Outcome
	Error string `json:"error,omitempty"`
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printOutcome(w io.Writer, out *engine.Outcome) error {
	if jsonOutput {
		view := outcomeView{Outcome: out}
		if out.Err != nil {
			view.Error = out.Err.Error()
		}
		return printJSON(w, view)
	}

	fmt.Fprintln(w, out.Summary())
	for _, msg := range out.Messages {
		fmt.Fprintf(w, "  %s\n", msg)
	}
	for _, r := range out.Responses {
		where := string(r.Phase)
		if r.Operation != "" {
			where += " " + r.Operation
		}
		fmt.Fprintf(w, "  [%s] %s\n", where, r.Message)
	}
	fmt.Fprintf(w, "update %s: %d executed, %d skipped, %d unwound in %s\n",
		out.UpdateID, out.Executed, out.Skipped, out.Unwound, out.Duration.Round(time.Millisecond))
	return nil
}
