package question

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"
)

var defaultQuestions = []string{
	"What is the difference between a list and a tuple in Python?",
	"Explain what a decorator is and give an example of when you would use one.",
	"How does Python manage memory, and what is the role of the garbage collector?",
	"What are generators in Python and why would you use them?",
	"Explain the difference between deep copy and shallow copy.",
}

func Defaults() []string {
	return append([]string(nil), defaultQuestions...)
}

// Parse decodes a JSON array of question strings, dropping blank entries.
func Parse(data []byte) ([]string, error) {
	var raw []string
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode questions: %w", err)
	}
	out := make([]string, 0, len(raw))
	for _, q := range raw {
		if q = strings.TrimSpace(q); q != "" {
			out = append(out, q)
		}
	}
	if len(out) == 0 {
		return nil, errors.New("question list is empty")
	}
	return out, nil
}

// Load reads the question file. Any failure falls back to the built-in list
// so the service can still run an interview.
func Load(path string) []string {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			slog.Info("question file not found; using built-in questions", "path", path)
		} else {
			slog.Error("failed to read question file; using built-in questions", "path", path, "error", err)
		}
		return Defaults()
	}
	qs, err := Parse(data)
	if err != nil {
		slog.Error("invalid question file; using built-in questions", "path", path, "error", err)
		return Defaults()
	}
	slog.Info("loaded questions", "path", path, "count", len(qs))
	return qs
}
