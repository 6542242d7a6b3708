// Package selection decides which option wins a spin.
//
// Selection is uniform by index: every slot in the option sequence carries
// the same 1/n weight, so a text value that appears twice is twice as likely
// to win as one that appears once. The wheel renders equal slices per slot,
// and the probability matches the picture.
package selection

import (
	"math/rand/v2"

	"github.com/SelinCifcii/decision-wheel/internal/domain"
	"github.com/SelinCifcii/decision-wheel/internal/errors"
)

// MinOptions is the smallest option set a spin accepts. Spinning a wheel
// with one slice is not a decision.
const MinOptions = 2

type Config struct {
	// IntN returns a uniform value in [0, n). Defaults to math/rand/v2.
	IntN func(n int) int
}

// Coordinator picks winners. It is stateless and safe for reuse; in room
// mode exactly one participant's coordinator is authoritative and its
// outcome is published for fan-out rather than recomputed per client.
type Coordinator struct {
	intN func(n int) int
}

func NewCoordinator(c Config) *Coordinator {
	co := &Coordinator{intN: c.IntN}
	if co.intN == nil {
		co.intN = rand.IntN
	}
	return co
}

// Spin returns the winning option for the given sequence. It does not
// mutate options and has no side effects beyond the returned outcome.
// Fewer than MinOptions is a precondition failure (CodeFailedPrecondition),
// never silently tolerated.
func (c *Coordinator) Spin(options []domain.Option) (*domain.SelectionOutcome, error) {
	if len(options) < MinOptions {
		return nil, errors.New(errors.CodeFailedPrecondition,
			errors.WithMessagef("spin requires at least %d options, got %d", MinOptions, len(options)),
		)
	}

	return &domain.SelectionOutcome{
		Winning: options[c.intN(len(options))],
	}, nil
}
