package redeem

import (
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/holiman/uint256"
)

var errReservationExceeded = errors.New("redeem: leg exceeds reservation")

// reservation holds the pre-authorized total of a multi-leg settlement.
// Legs are sub-debits of the reserved total, so no per-leg solvency check exists.
type reservation struct {
	legs      []Leg
	total     *uint256.Int
	remaining *uint256.Int
}

// reserve sums the legs with overflow detection and checks them against the pool in one step.
func reserve(legs []Leg, pool uint64) (*reservation, error) {
	total := new(uint256.Int)
	for _, leg := range legs {
		var overflow bool
		total, overflow = new(uint256.Int).AddOverflow(total, uint256.NewInt(leg.Amount))
		if overflow || !total.IsUint64() {
			return nil, fmt.Errorf("%w: leg total overflows", ErrInvalidAmount)
		}
	}
	if total.Cmp(uint256.NewInt(pool)) > 0 {
		return nil, fmt.Errorf("%w: need %s, pool holds %d", ErrInsufficientBalance, total.Dec(), pool)
	}
	return &reservation{legs: legs, total: total, remaining: total.Clone()}, nil
}

func (r *reservation) Total() uint64 { return r.total.Uint64() }

// checkRecipients rejects funded legs that point at the zero identity.
func (r *reservation) checkRecipients() error {
	for i, leg := range r.legs {
		if leg.Amount > 0 && leg.Recipient.IsZero() {
			return fmt.Errorf("%w: leg %d recipient", ErrZeroAddress, i+1)
		}
	}
	return nil
}

func (r *reservation) take(amount uint64) error {
	amt := uint256.NewInt(amount)
	if amt.Cmp(r.remaining) > 0 {
		return errReservationExceeded
	}
	r.remaining.Sub(r.remaining, amt)
	return nil
}

// settle debits the reserved total from the pool and credits each funded leg.
func (r *reservation) settle(state engineState, asset solana.PublicKey) error {
	if err := state.PoolDebit(asset, r.Total()); err != nil {
		return err
	}
	for _, leg := range r.legs {
		if err := r.take(leg.Amount); err != nil {
			return err
		}
		if leg.Amount == 0 {
			continue
		}
		if err := state.Credit(asset, leg.Recipient, leg.Amount); err != nil {
			return err
		}
	}
	if !r.remaining.IsZero() {
		return fmt.Errorf("redeem: %s left unallocated in reservation", r.remaining.Dec())
	}
	return nil
}
