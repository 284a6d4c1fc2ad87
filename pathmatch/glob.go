// Package pathmatch implements the path & pattern matcher described in
// spec.md §4.1: POSIX-glob patterns (`*`, `?`, `[...]`, `{a,b}`) matched
// against forward-slash paths, path-aware (wildcards don't cross `/`)
// and optionally case-folded.
//
// The glob-to-regexp translation follows the same shape as rclone's
// fs/filter glob compiler (grounded on fs/filter/glob_test.go's
// expectations, the only surviving artifact of that package in this
// tree): a pattern is anchored at the path start when it begins with
// `/` or contains a `/` anywhere; otherwise it may match at the start
// of the path or immediately after any `/`, i.e. against the basename.
package pathmatch

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// GlobToRegexp converts a single POSIX-glob pattern into a compiled
// regular expression using the matching rules from spec.md §4.1.
func GlobToRegexp(glob string, ignoreCase bool) (*regexp.Regexp, error) {
	anchored := strings.HasPrefix(glob, "/")
	body := glob
	if anchored {
		body = body[1:]
	}
	translated, err := translateGlob(body)
	if err != nil {
		return nil, err
	}
	var pattern string
	if anchored || strings.Contains(body, "/") {
		pattern = "^" + translated + "$"
	} else {
		pattern = "(^|/)" + translated + "$"
	}
	if ignoreCase {
		pattern = "(?i)" + pattern
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("bad glob pattern %q: %w", glob, err)
	}
	return re, nil
}

// translateGlob converts the body of a glob (the part after any
// leading anchoring `/` has been stripped) into a regexp fragment.
func translateGlob(s string) (string, error) {
	runes := []rune(s)
	var out strings.Builder
	i := 0
	for i < len(runes) {
		c := runes[i]
		switch c {
		case '\\':
			if i+1 >= len(runes) {
				out.WriteString(regexp.QuoteMeta(string(c)))
				i++
				continue
			}
			out.WriteString(regexp.QuoteMeta(string(runes[i+1])))
			i += 2
		case '*':
			j := i
			for j < len(runes) && runes[j] == '*' {
				j++
			}
			n := j - i
			if n > 2 {
				return "", errors.New("too many stars")
			}
			if n == 2 {
				out.WriteString(".*")
			} else {
				out.WriteString("[^/]*")
			}
			i = j
		case '?':
			out.WriteString("[^/]")
			i++
		case '[':
			cls, next, err := scanBracket(runes, i)
			if err != nil {
				return "", err
			}
			out.WriteString("[" + cls + "]")
			i = next
		case ']':
			return "", errors.New("mismatched ']'")
		case '{':
			inner, next, err := scanBrace(runes, i)
			if err != nil {
				return "", err
			}
			parts := splitTopLevel(inner, ',')
			translatedParts := make([]string, len(parts))
			for k, p := range parts {
				tp, err := translateGlob(p)
				if err != nil {
					return "", err
				}
				translatedParts[k] = tp
			}
			out.WriteString("(" + strings.Join(translatedParts, "|") + ")")
			i = next
		case '}':
			return "", errors.New("mismatched '{' and '}'")
		default:
			out.WriteString(regexp.QuoteMeta(string(c)))
			i++
		}
	}
	return out.String(), nil
}

// scanBracket finds the matching ']' for the '[' at runes[start],
// honouring backslash escapes and POSIX bracket sub-expressions
// ([:class:], [.symbol.], [=equiv=]) so they aren't mistaken for the
// closing bracket. It returns the raw (untranslated) class contents
// and the index just past the closing ']'.
func scanBracket(runes []rune, start int) (cls string, next int, err error) {
	j := start + 1
	if j < len(runes) && (runes[j] == '^' || runes[j] == '!') {
		j++
	}
	if j < len(runes) && runes[j] == ']' {
		j++
	}
	for j < len(runes) {
		if runes[j] == ']' {
			break
		}
		if runes[j] == '\\' && j+1 < len(runes) {
			j += 2
			continue
		}
		if runes[j] == '[' && j+1 < len(runes) && (runes[j+1] == ':' || runes[j+1] == '.' || runes[j+1] == '=') {
			marker := runes[j+1]
			k := j + 2
			for k+1 < len(runes) && !(runes[k] == marker && runes[k+1] == ']') {
				k++
			}
			j = k + 2
			continue
		}
		j++
	}
	if j >= len(runes) {
		return "", 0, errors.New("mismatched '[' and ']'")
	}
	cls = string(runes[start+1 : j])
	if strings.HasPrefix(cls, "!") {
		cls = "^" + cls[1:]
	}
	return cls, j + 1, nil
}

// scanBrace finds the matching '}' for the '{' at runes[start].
// Nested braces are rejected ("can't nest") rather than supported.
func scanBrace(runes []rune, start int) (inner string, next int, err error) {
	j := start + 1
	for j < len(runes) && runes[j] != '}' {
		if runes[j] == '{' {
			return "", 0, errors.New("can't nest")
		}
		j++
	}
	if j >= len(runes) {
		return "", 0, errors.New("mismatched '{' and '}'")
	}
	return string(runes[start+1 : j]), j + 1, nil
}

// splitTopLevel splits s on sep, which is sufficient for the brace
// alternatives this matcher supports (no nested braces inside braces).
func splitTopLevel(s string, sep rune) []string {
	return strings.Split(s, string(sep))
}

// Canonicalize turns a possibly backslash-delimited, drive-lettered
// Windows-style path into forward-slash canonical form, per spec.md
// §4.2: backslashes become slashes and a leading `X:` drive prefix is
// stripped.
func Canonicalize(p string) string {
	p = strings.ReplaceAll(p, `\`, "/")
	if len(p) >= 2 && isDriveLetter(p[0]) && p[1] == ':' {
		p = p[2:]
	}
	return p
}

func isDriveLetter(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}

// StripPrefix removes the capture prefix from path if present, so that
// patterns like "/hiberfil.sys" work regardless of where the source
// tree is mounted (spec.md §4.1).
func StripPrefix(path, prefix string) string {
	if prefix == "" {
		return path
	}
	prefix = Canonicalize(prefix)
	path = Canonicalize(path)
	if path == prefix {
		return "/"
	}
	if strings.HasPrefix(path, prefix+"/") {
		return path[len(prefix):]
	}
	return path
}

// NormalizeNFC applies Unicode NFC normalization to a path component,
// mirroring the teacher's --local-unicode-normalization option
// (backend/local.Options.UTFNorm): useful when capturing from sources
// (e.g. macOS HFS+) that hand back decomposed (NFD) names.
func NormalizeNFC(name string) string {
	return norm.NFC.String(name)
}
