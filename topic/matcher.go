// Package topic implements MQTT v3.1.1 topic name/filter parsing and
// the wildcard matching rules used to select subscribers for a
// publish.
package topic

import (
	"errors"
	"strings"
)

var (
	ErrEmptyTopic        = errors.New("topic: empty name or filter")
	ErrWildcardInName    = errors.New("topic: name contains a wildcard")
	ErrMultiNotTerminal  = errors.New("topic: '#' must be the last level of a filter")
	ErrWildcardByteAlone = errors.New("topic: '+' or '#' must occupy a whole level")
)

const (
	singleLevelWildcard = "+"
	multiLevelWildcard  = "#"
)

// Name is a validated, non-empty topic name: an ordered sequence of
// literal levels. A name beginning with "$" is server-reserved.
type Name struct {
	Levels   []string
	Reserved bool
}

// ParseName validates and splits a topic name per MQTT v3.1.1 4.7.
// Names may not be empty and may not contain '+' or '#'.
func ParseName(raw string) (Name, error) {
	if raw == "" {
		return Name{}, ErrEmptyTopic
	}
	levels := strings.Split(raw, "/")
	for _, lvl := range levels {
		if strings.Contains(lvl, singleLevelWildcard) || strings.Contains(lvl, multiLevelWildcard) {
			return Name{}, ErrWildcardInName
		}
	}
	return Name{Levels: levels, Reserved: strings.HasPrefix(raw, "$")}, nil
}

// Filter is a validated subscription pattern: an ordered sequence of
// levels, each either a literal, "+", or "#". "#" may appear only as
// the terminal level.
type Filter struct {
	Levels []string
}

// ParseFilter validates and splits a topic filter per MQTT v3.1.1 4.7.
func ParseFilter(raw string) (Filter, error) {
	if raw == "" {
		return Filter{}, ErrEmptyTopic
	}
	levels := strings.Split(raw, "/")
	for i, lvl := range levels {
		switch {
		case lvl == singleLevelWildcard, lvl == multiLevelWildcard:
			if lvl == multiLevelWildcard && i != len(levels)-1 {
				return Filter{}, ErrMultiNotTerminal
			}
		case strings.Contains(lvl, singleLevelWildcard), strings.Contains(lvl, multiLevelWildcard):
			return Filter{}, ErrWildcardByteAlone
		}
	}
	return Filter{Levels: levels}, nil
}

// FirstLevelIsWildcard reports whether the filter's top level is "+"
// or "#" — such filters never match a server-reserved name.
func (f Filter) FirstLevelIsWildcard() bool {
	if len(f.Levels) == 0 {
		return false
	}
	return f.Levels[0] == singleLevelWildcard || f.Levels[0] == multiLevelWildcard
}

// Match decides whether filter f matches topic name n, per the walk
// described for the broker's topic matcher: "#" consumes the
// remainder of n (including none), "+" consumes exactly one level,
// and a literal must match byte-for-byte. A reserved name is never
// matched by a filter whose first level is a wildcard.
func Match(f Filter, n Name) bool {
	if n.Reserved && f.FirstLevelIsWildcard() {
		return false
	}
	i, j := 0, 0
	for i < len(f.Levels) {
		switch f.Levels[i] {
		case multiLevelWildcard:
			return true
		case singleLevelWildcard:
			if j >= len(n.Levels) {
				return false
			}
			i++
			j++
		default:
			if j >= len(n.Levels) || f.Levels[i] != n.Levels[j] {
				return false
			}
			i++
			j++
		}
	}
	return i == len(f.Levels) && j == len(n.Levels)
}

// MatchString is a convenience wrapper for callers holding raw
// strings rather than parsed Filter/Name values. It is lenient: a
// malformed filter or name simply never matches.
func MatchString(filter, name string) bool {
	f, err := ParseFilter(filter)
	if err != nil {
		return false
	}
	n, err := ParseName(name)
	if err != nil {
		return false
	}
	return Match(f, n)
}
