// Package deckconf holds the scheduling options decks share and resolves
// the effective options for cards in filtered decks.
package deckconf

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// ErrInvalidConfig wraps every validation failure of a deck configuration.
var ErrInvalidConfig = errors.New("invalid deck configuration")

// StartingFactor is the ease given to a card on graduation by default.
const StartingFactor = 2500

// MinFactor is the floor applied to every ease factor.
const MinFactor = 1300

// DefaultID is the id of the configuration every deck falls back to.
const DefaultID int64 = 1

// LeechAction is what happens to a card once it becomes a leech.
type LeechAction int

const (
	LeechSuspend LeechAction = iota
	LeechTagOnly
)

// NewConfig governs new and learning cards.
type NewConfig struct {
	Delays        []float64 `json:"delays" validate:"dive,gt=0"` // minutes
	Ints          []int     `json:"ints" validate:"min=2,dive,gte=1"`
	InitialFactor int       `json:"initialFactor" validate:"gte=1300"`
	PerDay        int       `json:"perDay" validate:"gte=0"`
	Bury          bool      `json:"bury"`
}

// RevConfig governs review cards.
type RevConfig struct {
	PerDay     int     `json:"perDay" validate:"gte=0"`
	Ease4      float64 `json:"ease4" validate:"gte=1"`
	IvlFct     float64 `json:"ivlFct" validate:"gt=0"`
	MaxIvl     int     `json:"maxIvl" validate:"gte=1"`
	HardFactor float64 `json:"hardFactor" validate:"gt=0"`
	Fuzz       bool    `json:"fuzz"`
	Bury       bool    `json:"bury"`
}

// LapseConfig governs relearning after a failed review.
type LapseConfig struct {
	Delays      []float64   `json:"delays" validate:"dive,gt=0"` // minutes
	Mult        float64     `json:"mult" validate:"gte=0,lte=1"`
	MinInt      int         `json:"minInt" validate:"gte=1"`
	LeechFails  int         `json:"leechFails" validate:"gte=0"`
	LeechAction LeechAction `json:"leechAction" validate:"oneof=0 1"`
}

// Config is a named set of scheduling options shared by normal decks.
type Config struct {
	ID       int64       `json:"id"`
	Name     string      `json:"name" validate:"required"`
	New      NewConfig   `json:"new"`
	Rev      RevConfig   `json:"rev"`
	Lapse    LapseConfig `json:"lapse"`
	MaxTaken int         `json:"maxTaken" validate:"gte=1"` // seconds
}

// Default returns the configuration used when a deck has none.
func Default() Config {
	return Config{
		ID:   DefaultID,
		Name: "Default",
		New: NewConfig{
			Delays:        []float64{1, 10},
			Ints:          []int{1, 4, 7},
			InitialFactor: StartingFactor,
			PerDay:        20,
			Bury:          true,
		},
		Rev: RevConfig{
			PerDay:     200,
			Ease4:      1.3,
			IvlFct:     1,
			MaxIvl:     36500,
			HardFactor: 1.2,
			Fuzz:       true,
			Bury:       true,
		},
		Lapse: LapseConfig{
			Delays:      []float64{10},
			Mult:        0,
			MinInt:      1,
			LeechFails:  8,
			LeechAction: LeechSuspend,
		},
		MaxTaken: 60,
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks every limit and factor of the configuration.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w %q: %w", ErrInvalidConfig, c.Name, err)
	}
	return nil
}
