package dcrypto

// RotateLeft1 returns a new buffer holding in rotated left by one byte
// (the first byte moves to the end).
func RotateLeft1(in []byte) []byte {
	out := make([]byte, len(in))
	if len(in) == 0 {
		return out
	}
	copy(out, in[1:])
	out[len(in)-1] = in[0]
	return out
}

// RotateRight1 returns a new buffer holding in rotated right by one
// byte (the last byte moves to the front).
func RotateRight1(in []byte) []byte {
	out := make([]byte, len(in))
	if len(in) == 0 {
		return out
	}
	out[0] = in[len(in)-1]
	copy(out[1:], in[:len(in)-1])
	return out
}

// RotateLeftN applies RotateLeft1 n times. Used only in tests to check
// the idempotence law; production code always rotates by exactly one
// byte.
func RotateLeftN(in []byte, n int) []byte {
	out := in
	for i := 0; i < n; i++ {
		out = RotateLeft1(out)
	}
	return out
}
