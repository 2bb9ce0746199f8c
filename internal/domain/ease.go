package domain

import (
	"errors"
	"fmt"
)

// ErrInvalidEase is returned for an answer button outside Again..Easy.
var ErrInvalidEase = errors.New("invalid ease")

// Ease is the answer button pressed by the user.
// 1: Again (Incorrect)
// 2: Hard
// 3: Good
// 4: Easy
type Ease int

const (
	Again Ease = 1
	Hard  Ease = 2
	Good  Ease = 3
	Easy  Ease = 4
)

var easeNames = [...]string{Again: "again", Hard: "hard", Good: "good", Easy: "easy"}

// IsValid reports whether e is one of the four buttons.
func (e Ease) IsValid() bool {
	return e >= Again && e <= Easy
}

func (e Ease) String() string {
	if e.IsValid() {
		return easeNames[e]
	}
	return fmt.Sprintf("Ease(%d)", int(e))
}

// ParseEase accepts either the button number or its lowercase name.
func ParseEase(s string) (Ease, error) {
	for e := Again; e <= Easy; e++ {
		if s == easeNames[e] || s == fmt.Sprint(int(e)) {
			return e, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidEase, s)
}
