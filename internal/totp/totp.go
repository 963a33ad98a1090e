// Package totp derives time-based one-time codes from the shared seed the
// broker registered as the second authentication factor.
package totp

import (
	"time"

	"github.com/pquerna/otp/totp"
)

// step is the RFC 6238 time step the broker uses.
const step = 30 * time.Second

// Code returns the 6-digit code for the given instant.
func Code(seed string, at time.Time) (string, error) {
	return totp.GenerateCode(seed, at)
}

// Codes returns the code for the current time step followed by the codes for
// the adjacent steps. The login flow submits the first; if the broker rejects
// it as invalid (clock skew), it retries once with a neighbor.
func Codes(seed string, at time.Time) ([]string, error) {
	out := make([]string, 0, 3)
	for _, t := range []time.Time{at, at.Add(-step), at.Add(step)} {
		c, err := totp.GenerateCode(seed, t)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}
