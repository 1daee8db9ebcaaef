package negotiate

import (
	"math"
	"regexp"
	"strconv"
	"strings"
)

var allPattern = regexp.MustCompile(`(?i)\ball\b`)

// Value is the resolved page size of an option. All outranks every number.
type Value struct {
	All bool
	N   int64
}

// Greater reports whether v strictly outranks o.
func (v Value) Greater(o Value) bool {
	if v.All || o.All {
		return v.All && !o.All
	}
	return v.N > o.N
}

func (v Value) String() string {
	if v.All {
		return "all"
	}
	return strconv.FormatInt(v.N, 10)
}

// ParseValue resolves an option label. A label containing the word "all"
// is unbounded; otherwise every digit in the label is read as one integer
// ("1,000" is 1000). Labels without digits are not page sizes.
func ParseValue(text string) (Value, bool) {
	text = strings.TrimSpace(text)
	if allPattern.MatchString(text) {
		return Value{All: true}, true
	}
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, text)
	if digits == "" {
		return Value{}, false
	}
	n, err := strconv.ParseInt(digits, 10, 64)
	if err != nil {
		n = math.MaxInt64
	}
	return Value{N: n}, true
}

// Rank returns the index of the best label: the first "all" wins outright,
// otherwise the largest number, ties keeping the first. It returns -1 when
// no label is a page size.
func Rank(texts []string) (int, Value) {
	best, bestVal := -1, Value{}
	for i, t := range texts {
		v, ok := ParseValue(t)
		if !ok {
			continue
		}
		if v.All {
			return i, v
		}
		if best < 0 || v.Greater(bestVal) {
			best, bestVal = i, v
		}
	}
	return best, bestVal
}
