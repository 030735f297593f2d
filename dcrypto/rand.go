package dcrypto

import "crypto/rand"

// RandomBytes returns n bytes drawn from the platform CSPRNG, used for
// challenge nonces (RndA) during authentication.
func RandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, err
	}
	return b, nil
}

// Zero overwrites b with zeros in place. Used to scrub session keys,
// challenge buffers and intermediate CMAC state on error or teardown.
func Zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
