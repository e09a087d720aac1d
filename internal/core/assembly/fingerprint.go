package assembly

import (
	"encoding/binary"
	"math"

	"github.com/cespare/xxhash/v2"
)

// fingerprint hashes everything the kinematics solver derives its constants
// from, so callers can skip re-initializing on an unchanged assembly.
func fingerprint(anchors []Anchor, constraints []Constraint) uint64 {
	d := xxhash.New()
	var buf [8]byte

	writeFloat := func(f float64) {
		binary.LittleEndian.PutUint64(buf[:], math.Float64bits(f))
		_, _ = d.Write(buf[:])
	}
	writeString := func(s string) {
		_, _ = d.WriteString(s)
		_, _ = d.Write([]byte{0})
	}

	for _, anchor := range anchors {
		writeString(anchor.Name)
		writeString(anchor.ParentName)
		for _, f := range anchor.DefaultTransform {
			writeFloat(f)
		}
	}
	for _, c := range constraints {
		writeString(c.Name)
		writeString(c.Type)
		for _, g := range c.Geometries {
			writeString(g.PartName)
			for _, f := range g.Position {
				writeFloat(f)
			}
			for _, f := range g.Axis {
				writeFloat(f)
			}
			if g.Ground {
				_, _ = d.Write([]byte{1})
			} else {
				_, _ = d.Write([]byte{0})
			}
		}
	}
	return d.Sum64()
}

// Fingerprint hashes arbitrary anchors and constraints the same way the
// assembly does.
func Fingerprint(anchors []Anchor, constraints []Constraint) uint64 {
	return fingerprint(anchors, constraints)
}
