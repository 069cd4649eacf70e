// Package gitignore matches slash-separated relative paths against rules
// written in gitignore syntax (https://git-scm.com/docs/gitignore).
//
// It backs three things during disk ingestion: the include and exclude lists
// of a source definition, the built-in exclude list, and .gitignore/.kbignore
// files found while walking a folder.
//
//	m := gitignore.New()
//	_ = m.Add("*.log", "")
//	_ = m.Add("!keep.log", "")
//	m.Match("logs/error.log", false) // true
//	m.Match("keep.log", false)       // false
package gitignore

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
)

// Matcher holds compiled rules. Later rules override earlier ones, as in git.
// It is safe for concurrent use.
type Matcher struct {
	mu    sync.RWMutex
	rules []rule
}

type rule struct {
	source   string
	re       *regexp.Regexp
	negate   bool
	dirOnly  bool
	anchored bool

	// base limits the rule to paths below it ("" is the matcher root).
	base string
}

// New returns an empty Matcher.
func New() *Matcher {
	return &Matcher{}
}

// FromPatterns builds a Matcher from root-level patterns.
func FromPatterns(patterns []string) (*Matcher, error) {
	m := New()
	var errs []error
	for _, p := range patterns {
		if err := m.Add(p, ""); err != nil {
			errs = append(errs, err)
		}
	}
	return m, errors.Join(errs...)
}

// Add compiles pattern and appends it. base is the slash-separated directory
// the pattern is relative to, as for a .gitignore file in a subdirectory.
// Blank lines and comments are accepted and ignored.
func (m *Matcher) Add(pattern, base string) error {
	r, ok, err := compile(pattern)
	if err != nil || !ok {
		return err
	}
	r.base = strings.Trim(filepath.ToSlash(base), "/")

	m.mu.Lock()
	m.rules = append(m.rules, r)
	m.mu.Unlock()
	return nil
}

// AddFile reads an ignore file. Patterns are relative to base. Lines that fail
// to compile are skipped and reported together.
func (m *Matcher) AddFile(file, base string) error {
	f, err := os.Open(file)
	if err != nil {
		return fmt.Errorf("open ignore file: %w", err)
	}
	defer func() { _ = f.Close() }()

	var errs []error
	sc := bufio.NewScanner(f)
	for line := 1; sc.Scan(); line++ {
		if err := m.Add(sc.Text(), base); err != nil {
			errs = append(errs, fmt.Errorf("%s:%d: %w", file, line, err))
		}
	}
	if err := sc.Err(); err != nil {
		errs = append(errs, fmt.Errorf("read ignore file: %w", err))
	}
	return errors.Join(errs...)
}

// Len returns the number of compiled rules.
func (m *Matcher) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.rules)
}

// Match reports whether rel is ignored. A path below an ignored directory is
// ignored and cannot be re-included by a negated rule.
func (m *Matcher) Match(rel string, isDir bool) bool {
	rel = strings.Trim(filepath.ToSlash(rel), "/")
	if rel == "" || rel == "." {
		return false
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.rules) == 0 {
		return false
	}

	for i := 0; i < len(rel); i++ {
		if rel[i] == '/' && m.decide(rel[:i], true) {
			return true
		}
	}
	return m.decide(rel, isDir)
}

// decide applies every rule to rel alone; the last matching rule wins.
func (m *Matcher) decide(rel string, isDir bool) bool {
	ignored := false
	for i := range m.rules {
		if m.rules[i].matches(rel, isDir) {
			ignored = !m.rules[i].negate
		}
	}
	return ignored
}

func (r *rule) matches(rel string, isDir bool) bool {
	if r.dirOnly && !isDir {
		return false
	}
	if r.base != "" {
		if !strings.HasPrefix(rel, r.base+"/") {
			return false
		}
		rel = rel[len(r.base)+1:]
	}
	if r.anchored {
		return r.re.MatchString(rel)
	}
	return r.re.MatchString(path.Base(rel))
}

// compile parses one gitignore line. ok is false for blank lines and comments.
func compile(line string) (rule, bool, error) {
	line = strings.TrimRight(line, "\r")
	if strings.HasSuffix(line, `\ `) {
		line = strings.TrimRight(line[:len(line)-2], " ") + `\ `
	} else {
		line = strings.TrimRight(line, " \t")
	}
	line = strings.TrimLeft(line, " \t")
	if line == "" || strings.HasPrefix(line, "#") {
		return rule{}, false, nil
	}

	r := rule{source: line}
	switch {
	case strings.HasPrefix(line, `\#`), strings.HasPrefix(line, `\!`):
		line = line[1:]
	case strings.HasPrefix(line, "!"):
		r.negate = true
		line = line[1:]
	}

	if strings.HasSuffix(line, "/") {
		r.dirOnly = true
		line = strings.TrimRight(line, "/")
	}
	if strings.HasPrefix(line, "/") {
		r.anchored = true
		line = strings.TrimLeft(line, "/")
	}
	if strings.Contains(line, "/") {
		r.anchored = true
	}
	if line == "" {
		return rule{}, false, nil
	}

	re, err := regexp.Compile("^" + translate(line) + "$")
	if err != nil {
		return rule{}, false, fmt.Errorf("invalid pattern %q: %w", r.source, err)
	}
	r.re = re
	return r, true, nil
}

// translate turns a glob into a regular expression body.
func translate(glob string) string {
	var b strings.Builder
	for i := 0; i < len(glob); i++ {
		c := glob[i]
		switch c {
		case '*':
			if i+1 < len(glob) && glob[i+1] == '*' {
				atStart := i == 0 || glob[i-1] == '/'
				switch {
				case atStart && i+2 < len(glob) && glob[i+2] == '/':
					b.WriteString("(?:.*/)?")
					i += 2
					continue
				case atStart && i+2 == len(glob):
					b.WriteString(".*")
					i++
					continue
				}
			}
			b.WriteString("[^/]*")
		case '?':
			b.WriteString("[^/]")
		case '[':
			end := strings.IndexByte(glob[i+1:], ']')
			if end < 0 {
				b.WriteString(`\[`)
				continue
			}
			class := glob[i+1 : i+1+end]
			if strings.HasPrefix(class, "!") {
				class = "^" + class[1:]
			}
			b.WriteString("[" + strings.ReplaceAll(class, `\`, `\\`) + "]")
			i += end + 1
		case '\\':
			if i+1 < len(glob) {
				i++
				b.WriteString(regexp.QuoteMeta(string(glob[i])))
			}
		default:
			b.WriteString(regexp.QuoteMeta(string(c)))
		}
	}
	return b.String()
}
