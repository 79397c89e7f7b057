package moderation

import (
	"fmt"
	"strconv"
	"strings"
)

// CaseSelector names either the guild's latest case or an inclusive range of
// case numbers.
type CaseSelector struct {
	Latest bool
	From   int
	To     int
}

func (s CaseSelector) String() string {
	switch {
	case s.Latest:
		return "latest"
	case s.From == s.To:
		return strconv.Itoa(s.From)
	default:
		return fmt.Sprintf("%d-%d", s.From, s.To)
	}
}

// ParseCaseSelector accepts "latest", "l", "N" or "N-M". Ranges wider than
// maxRange cases are refused when maxRange is positive.
func ParseCaseSelector(input string, maxRange int) (CaseSelector, error) {
	value := strings.ToLower(strings.TrimSpace(input))
	if value == "latest" || value == "l" {
		return CaseSelector{Latest: true}, nil
	}
	if value == "" {
		return CaseSelector{}, userErrorf("Give a case number, a range like 3-7, or latest.")
	}

	lo, hi := value, value
	if left, right, ok := strings.Cut(value, "-"); ok {
		lo, hi = strings.TrimSpace(left), strings.TrimSpace(right)
	}
	from, err := parseCaseNumber(lo)
	if err != nil {
		return CaseSelector{}, err
	}
	to, err := parseCaseNumber(hi)
	if err != nil {
		return CaseSelector{}, err
	}
	if from > to {
		return CaseSelector{}, userErrorf("Case range %d-%d is backwards.", from, to)
	}
	if maxRange > 0 && to-from+1 > maxRange {
		return CaseSelector{}, userErrorf("That range covers %d cases, the limit is %d.", to-from+1, maxRange)
	}
	return CaseSelector{From: from, To: to}, nil
}

func parseCaseNumber(value string) (int, error) {
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, userErrorf("%q is not a case number.", value)
	}
	if n <= 0 {
		return 0, userErrorf("Case numbers start at 1.")
	}
	return n, nil
}
