package primitives

import (
	"encoding/binary"
	"math"
)

// PiCoordinate is an ordered 4-tuple serving as a continuity token between
// successive blocks. DerivePiCoordinate normalizes each component to
// [-1,1]; the genesis block's fixed coordinate (pi, e, phi, 0) is not
// normalized.
type PiCoordinate struct {
	X, Y, Z, T float64
}

// Distance returns the Euclidean distance between two coordinates.
func (p PiCoordinate) Distance(other PiCoordinate) float64 {
	dx := p.X - other.X
	dy := p.Y - other.Y
	dz := p.Z - other.Z
	dt := p.T - other.T
	return math.Sqrt(dx*dx + dy*dy + dz*dz + dt*dt)
}

// normalize squashes an arbitrary float into [-1,1] using a bounded,
// monotonic transform so the MAX_SPIRAL_JUMP distance check stays
// meaningful regardless of the input's raw magnitude.
func normalize(v float64) float64 {
	return math.Tanh(v)
}

// DerivePiCoordinate derives a coordinate deterministically from an entity
// digest XOR-mixed with a millisecond timestamp and a nonce, per §3/§4.3.
func DerivePiCoordinate(entityDigest Hash, timestampMs int64, nonce uint64) PiCoordinate {
	var tsBytes, nonceBytes [8]byte
	binary.BigEndian.PutUint64(tsBytes[:], uint64(timestampMs))
	binary.BigEndian.PutUint64(nonceBytes[:], nonce)

	mixed := entityDigest
	for i := 0; i < 8; i++ {
		mixed[i] ^= tsBytes[i]
		mixed[i+8] ^= nonceBytes[i]
	}

	h := Digest(mixed[:])

	return PiCoordinate{
		X: normalize(quarterToFloat(h[0:8])),
		Y: normalize(quarterToFloat(h[8:16])),
		Z: normalize(quarterToFloat(h[16:24])),
		T: normalize(quarterToFloat(h[24:32])),
	}
}

// quarterToFloat interprets 8 hash bytes as a signed 64-bit integer and
// scales it to a float roughly centered on zero, suitable as normalize's
// input domain.
func quarterToFloat(b []byte) float64 {
	u := binary.BigEndian.Uint64(b)
	signed := int64(u)
	return float64(signed) / float64(1<<62)
}
