package engine

import (
	"regexp"
	"strings"
)

// FileSpecs is a compiled set of file-name patterns.
type FileSpecs struct {
	matchAll bool
	patterns []*regexp.Regexp
}

// CompileSpecs compiles comma-derived wildcard patterns. Matching is
// case-insensitive; * matches any run of characters and ? exactly one.
// The historical catch-all "*.*" matches every name, dot or not.
func CompileSpecs(specs []string) FileSpecs {
	var fs FileSpecs
	for _, spec := range specs {
		spec = strings.TrimSpace(spec)
		if spec == "" {
			continue
		}
		if spec == "*.*" || spec == "*" {
			fs.matchAll = true
			continue
		}
		fs.patterns = append(fs.patterns, compileWildcard(spec))
	}
	if len(fs.patterns) == 0 && !fs.matchAll {
		fs.matchAll = true
	}
	return fs
}

// Match reports whether name matches any pattern.
func (fs FileSpecs) Match(name string) bool {
	if fs.matchAll {
		return true
	}
	for _, p := range fs.patterns {
		if p.MatchString(name) {
			return true
		}
	}
	return false
}

func compileWildcard(spec string) *regexp.Regexp {
	var b strings.Builder
	b.WriteString("(?i)^")
	for _, c := range spec {
		switch c {
		case '*':
			b.WriteString(".*")
		case '?':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(c)))
		}
	}
	b.WriteString("$")
	return regexp.MustCompile(b.String())
}
