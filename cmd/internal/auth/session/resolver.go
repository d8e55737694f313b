package session

import (
	"context"
	"time"
)

// resolveUsable decides what to do with a presented credential row:
//
//  1. Expired -> reject. Expiry is checked first and overrides everything,
//     including grace reuse, so racing rotations cannot extend a credential's life.
//  2. Active -> this is the usable row.
//  3. Revoked by rotation and still inside the grace window -> follow
//     RotatedToID to the successor (re-acquiring its lock) and re-evaluate.
//     This admits the second of two near-simultaneous refreshes from the same
//     legitimate client (duplicate network retry, two tabs).
//  4. Anything else (revoked without successor, grace elapsed, grace disabled)
//     -> reject.
//
// The chain walk is iterative with an explicit hop counter; exceeding
// MaxChainHops is a plain rejection, not a stack concern. Each hop's row lock
// stays held by tx until the enclosing transaction ends, so concurrent
// resolutions of the same chain serialize.
func (s *Service) resolveUsable(ctx context.Context, tx Tx, row Credential, now time.Time) (Credential, error) {
	for hop := 0; hop <= s.cfg.MaxChainHops; hop++ {
		if !row.ExpiresAt.After(now) {
			return Credential{}, ErrInvalidCredential
		}

		if row.RevokedAt == nil {
			return row, nil
		}

		// Revoked. Only a rotation successor within the grace window is resumable.
		if row.RotatedToID == nil || s.cfg.GraceWindow <= 0 {
			return Credential{}, ErrInvalidCredential
		}
		if now.Sub(*row.RevokedAt) > s.cfg.GraceWindow {
			return Credential{}, ErrInvalidCredential
		}

		next, err := tx.LockByID(ctx, *row.RotatedToID)
		if err != nil {
			return Credential{}, err
		}
		row = next
	}

	// Hop budget exhausted: pathological chain, reject.
	return Credential{}, ErrInvalidCredential
}
