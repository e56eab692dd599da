package main

import (
	"encoding/json"
	"fmt"
	"io"
)

func printJSON(w io.Writer, v any) {
	b, _ := json.MarshalIndent(v, "", "  ")
	_, _ = fmt.Fprintln(w, string(b))
}

func printJSONLine(w io.Writer, v any) {
	b, _ := json.Marshal(v)
	_, _ = fmt.Fprintln(w, string(b))
}
