// Package captureconfig parses the INI-like capture-configuration
// format described in spec.md §4.2 and §6, and exposes the exclusion
// decision the capture engine consults for every path it visits.
package captureconfig

import (
	"bufio"
	"bytes"
	"fmt"
	"strings"

	"github.com/gowim/gowim/pathmatch"
	"github.com/gowim/gowim/wimerr"
)

// section identifies which pattern list a config line belongs to.
type section int

const (
	sectionNone section = iota
	sectionExclusionList
	sectionExclusionException
	sectionCompressionExclusionList
	sectionAlignmentList
)

var sectionHeaders = map[string]section{
	"[ExclusionList]":            sectionExclusionList,
	"[ExclusionException]":       sectionExclusionException,
	"[CompressionExclusionList]": sectionCompressionExclusionList,
	"[AlignmentList]":            sectionAlignmentList,
}

// DefaultConfig is the embedded default capture configuration used
// when the caller supplies none (spec.md §6). It is immutable program
// data, matching the teacher's convention of keeping such defaults as
// process-wide constants (see backend/local's package-level Options
// defaults).
const DefaultConfig = `[ExclusionList]
\$ntfs.log
\hiberfil.sys
\pagefile.sys
\System Volume Information
\RECYCLER
\Windows\CSC

[CompressionExclusionList]
*.mp3
*.zip
*.cab
\WINDOWS\inf\*.pnf
`

// Config holds the four parsed pattern lists plus the capture prefix
// and raw text, mirroring spec.md §3's Capture-config data model.
type Config struct {
	Exclusion             *pathmatch.Matcher
	ExclusionException    *pathmatch.Matcher
	CompressionExclusion  *pathmatch.Matcher
	Alignment             *pathmatch.Matcher
	Prefix                string // the filesystem path currently being captured
	raw                   []byte // retained so stored pattern text stays meaningful for debugging
	caseInsensitiveGlobs  bool
}

// Parse parses buf into a Config. Parsing follows spec.md §4.2:
//
//   - lines are separated by '\n'; a trailing '\r' is trimmed
//   - empty lines are skipped
//   - backslashes are translated to forward slashes
//   - a leading "X:" drive letter is stripped
//   - a bracketed line selects the current section
//   - an unknown bracketed header, or a pattern before any header, is
//     fatal (KindInvalidCaptureConfig)
//
// Per spec.md §9's open question, a missing trailing newline is not
// an error: EOF is treated as an implicit line terminator.
func Parse(buf []byte, caseInsensitiveGlobs bool) (*Config, error) {
	lists := map[section][]string{}
	cur := sectionNone

	scanner := bufio.NewScanner(bytes.NewReader(buf))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSuffix(scanner.Text(), "\r")
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "[") {
			sec, ok := sectionHeaders[line]
			if !ok {
				return nil, wimerr.New(wimerr.KindInvalidCaptureConfig,
					fmt.Sprintf("unknown section header %q at line %d", line, lineNo))
			}
			cur = sec
			continue
		}
		if cur == sectionNone {
			return nil, wimerr.New(wimerr.KindInvalidCaptureConfig,
				fmt.Sprintf("pattern %q at line %d appears before any section header", line, lineNo))
		}
		pattern := strings.ReplaceAll(line, `\`, "/")
		if len(pattern) >= 2 && isDriveLetter(pattern[0]) && pattern[1] == ':' {
			pattern = pattern[2:]
		}
		lists[cur] = append(lists[cur], pattern)
	}
	if err := scanner.Err(); err != nil {
		return nil, wimerr.Wrap(wimerr.KindInvalidCaptureConfig, "reading capture config", err)
	}

	cfg := &Config{raw: append([]byte(nil), buf...), caseInsensitiveGlobs: caseInsensitiveGlobs}
	var err error
	if cfg.Exclusion, err = pathmatch.New(lists[sectionExclusionList], caseInsensitiveGlobs); err != nil {
		return nil, wimerr.Wrap(wimerr.KindInvalidCaptureConfig, "ExclusionList", err)
	}
	if cfg.ExclusionException, err = pathmatch.New(lists[sectionExclusionException], caseInsensitiveGlobs); err != nil {
		return nil, wimerr.Wrap(wimerr.KindInvalidCaptureConfig, "ExclusionException", err)
	}
	if cfg.CompressionExclusion, err = pathmatch.New(lists[sectionCompressionExclusionList], caseInsensitiveGlobs); err != nil {
		return nil, wimerr.Wrap(wimerr.KindInvalidCaptureConfig, "CompressionExclusionList", err)
	}
	if cfg.Alignment, err = pathmatch.New(lists[sectionAlignmentList], caseInsensitiveGlobs); err != nil {
		return nil, wimerr.Wrap(wimerr.KindInvalidCaptureConfig, "AlignmentList", err)
	}
	return cfg, nil
}

// Default parses DefaultConfig. It never errors; a panic here would
// indicate DefaultConfig itself is malformed.
func Default(caseInsensitiveGlobs bool) *Config {
	cfg, err := Parse([]byte(DefaultConfig), caseInsensitiveGlobs)
	if err != nil {
		panic(fmt.Sprintf("captureconfig: embedded default config is malformed: %v", err))
	}
	return cfg
}

// relForMatching strips the capture prefix from p, then strips the
// leading '/' left behind: Matcher.Match (and the anchored "^pattern$"
// regexps GlobToRegexp produces for a leading-'/' glob) expect a path
// with no leading slash, matching fs/filter's own convention of
// matching slash-free relative paths.
func (c *Config) relForMatching(p string) string {
	return strings.TrimPrefix(pathmatch.StripPrefix(p, c.Prefix), "/")
}

// ExcludePath reports whether p should be excluded from capture:
// exclude_path(p) = match(exclusion, p) && !match(exclusion_exception, p)
// (spec.md §4.1). The capture prefix is stripped from p first.
func (c *Config) ExcludePath(p string) bool {
	rel := c.relForMatching(p)
	return c.Exclusion.Match(rel) && !c.ExclusionException.Match(rel)
}

// ExcludeFromCompression reports whether a stream's content should be
// stored without compression (spec.md §6's CompressionExclusionList).
func (c *Config) ExcludeFromCompression(p string) bool {
	return c.CompressionExclusion.Match(c.relForMatching(p))
}

// Aligned reports whether a stream should be resource-aligned on
// write, per the AlignmentList pattern set.
func (c *Config) Aligned(p string) bool {
	return c.Alignment.Match(c.relForMatching(p))
}

func isDriveLetter(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}
