package runs

import (
	"cmp"
	"slices"
	"strings"
)

type secretValue struct {
	name  string
	value string
}

// Redactor masks secret values in log lines.
type Redactor struct {
	secrets []secretValue
}

// NewRedactor creates a redactor for the given name to value secrets.
// Empty values are ignored.
func NewRedactor(secrets map[string]string) *Redactor {
	values := make([]secretValue, 0, len(secrets))
	for name, value := range secrets {
		if value == "" {
			continue
		}
		values = append(values, secretValue{name: name, value: value})
	}
	// Longest value first, then by name, so the first prefix match is the
	// one to replace.
	slices.SortFunc(values, func(a, b secretValue) int {
		if c := cmp.Compare(len(b.value), len(a.value)); c != 0 {
			return c
		}
		return cmp.Compare(a.name, b.name)
	})
	return &Redactor{secrets: values}
}

// Redact replaces every literal occurrence of a secret value with
// ***name***. The line is scanned once from left to right; replaced text is
// never scanned again.
func (r *Redactor) Redact(line string) string {
	if len(r.secrets) == 0 || line == "" {
		return line
	}

	var b strings.Builder
	b.Grow(len(line))
	for i := 0; i < len(line); {
		if s, ok := r.match(line[i:]); ok {
			b.WriteString("***")
			b.WriteString(s.name)
			b.WriteString("***")
			i += len(s.value)
			continue
		}
		b.WriteByte(line[i])
		i++
	}
	return b.String()
}

// RedactAll redacts every line into a new slice.
func (r *Redactor) RedactAll(lines []string) []string {
	out := make([]string, len(lines))
	for i, line := range lines {
		out[i] = r.Redact(line)
	}
	return out
}

func (r *Redactor) match(rest string) (secretValue, bool) {
	for _, s := range r.secrets {
		if strings.HasPrefix(rest, s.value) {
			return s, true
		}
	}
	return secretValue{}, false
}
