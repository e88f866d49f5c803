package simulation

import (
	"regexp"
	"strings"
)

// Redactor scrubs filesystem locations from text that is about to leave the
// service (engine stderr, exec errors) so clients never learn where engines
// are installed or where working areas live.
type Redactor struct {
	patterns []redactPattern
	literals []string
}

type redactPattern struct {
	Name  string
	Regex *regexp.Regexp
	Repl  string
}

// NewRedactor creates a redactor with the default path patterns. Each of
// dirs (engine install dir, work root) is replaced outright wherever it
// appears, before the generic patterns run.
func NewRedactor(dirs ...string) *Redactor {
	r := &Redactor{patterns: defaultRedactPatterns()}
	for _, d := range dirs {
		d = strings.TrimRight(d, `/\`)
		if len(d) > 1 {
			r.literals = append(r.literals, d)
		}
	}
	return r
}

// Redact returns s with absolute paths reduced to their final element.
func (r *Redactor) Redact(s string) string {
	if r == nil || s == "" {
		return s
	}
	for _, lit := range r.literals {
		s = strings.ReplaceAll(s, lit+"/", "")
		s = strings.ReplaceAll(s, lit+`\`, "")
		s = strings.ReplaceAll(s, lit, "<dir>")
	}
	for _, p := range r.patterns {
		s = p.Regex.ReplaceAllString(s, p.Repl)
	}
	return s
}

func defaultRedactPatterns() []redactPattern {
	return []redactPattern{
		{
			Name:  "windows_path",
			Regex: regexp.MustCompile(`[A-Za-z]:\\(?:[^\\\s:"'<>|*?]+\\)*([^\\\s:"'<>|*?]+)`),
			Repl:  "$1",
		},
		{
			Name:  "posix_path",
			Regex: regexp.MustCompile(`(^|[\s"'(=:])(?:/[\w.+@-]+)*/([\w.+@-]+)`),
			Repl:  "${1}${2}",
		},
	}
}
