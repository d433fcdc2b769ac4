// Package fnmatch implements Unix shell style pattern matching in the manner
// of Python's fnmatch module, whose translation algorithm this is derived
// from (https://github.com/python/cpython/blob/main/Lib/fnmatch.py,
// Copyright (c) 2001-2024 Python Software Foundation).
//
// Patterns:
//
//	*       matches everything (including path separators)
//	?       matches any single character
//	[seq]   matches any character in seq
//	[!seq]  matches any character not in seq
//
// Because * crosses path separators, callers that want per-component
// matching must apply the pattern to individual path segments. This is the
// semantics rsync and gitignore use for patterns that contain no slash, and
// is what the rule engine relies on.
package fnmatch

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
)

var patternCache = sync.Map{}

// Match tests whether name matches the shell pattern. Matching is
// case-sensitive.
func Match(pattern, name string) (bool, error) {
	re, err := compile(pattern)
	if err != nil {
		return false, err
	}
	return re.MatchString(name), nil
}

// Valid reports whether the pattern compiles. Used for rule validation at
// load time so malformed patterns fail before any filesystem mutation.
func Valid(pattern string) error {
	_, err := compile(pattern)
	return err
}

func compile(pattern string) (*regexp.Regexp, error) {
	if cached, ok := patternCache.Load(pattern); ok {
		return cached.(*regexp.Regexp), nil
	}

	translated := Translate(pattern)
	re, err := regexp.Compile(translated)
	if err != nil {
		return nil, fmt.Errorf("failed to compile pattern %q: %w", pattern, err)
	}

	patternCache.Store(pattern, re)
	return re, nil
}

// Translate converts a shell pattern to a regular expression string.
func Translate(pattern string) string {
	var result strings.Builder
	result.WriteString("(?s:^")

	i := 0
	n := len(pattern)

	for i < n {
		c := pattern[i]
		i++

		switch c {
		case '*':
			// Compress consecutive * into one
			for i < n && pattern[i] == '*' {
				i++
			}
			result.WriteString(".*")

		case '?':
			result.WriteByte('.')

		case '[':
			j := i
			if j < n && pattern[j] == '!' {
				j++
			}
			if j < n && pattern[j] == ']' {
				j++
			}
			for j < n && pattern[j] != ']' {
				j++
			}

			if j >= n {
				// No closing bracket, treat [ as literal
				result.WriteString("\\[")
			} else {
				stuff := pattern[i:j]
				i = j + 1

				if len(stuff) == 0 {
					// Empty range: never match
					result.WriteString("(?!)")
				} else if stuff == "!" {
					// Negated empty range: match any character
					result.WriteByte('.')
				} else {
					result.WriteByte('[')
					if stuff[0] == '!' {
						result.WriteByte('^')
						stuff = stuff[1:]
					}
					stuff = escapeForCharClass(stuff)
					result.WriteString(stuff)
					result.WriteByte(']')
				}
			}

		default:
			result.WriteString(regexp.QuoteMeta(string(c)))
		}
	}

	result.WriteString("$)")
	return result.String()
}

// escapeForCharClass escapes special characters within a character class.
// Hyphens are left alone because they are needed for ranges.
func escapeForCharClass(s string) string {
	var result strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch c {
		case '\\', ']':
			result.WriteByte('\\')
			result.WriteByte(c)
		default:
			result.WriteByte(c)
		}
	}
	return result.String()
}
