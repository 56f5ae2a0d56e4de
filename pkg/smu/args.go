package smu

import (
	"fmt"
	"math"
)

// MaxArgs is the number of 32-bit argument words every mailbox exchanges.
const MaxArgs = 6

// Args is the argument block of a mailbox command. It is sent as the request
// payload and overwritten with the response payload on success.
type Args [MaxArgs]uint32

// NewArgs returns an argument block with first in slot 0 and zeros elsewhere.
func NewArgs(first uint32) Args {
	return Args{first}
}

// Float32 returns slot i interpreted as an IEEE-754 single.
func (a *Args) Float32(i int) float32 {
	return math.Float32frombits(a[i])
}

// SetFloat32 stores v in slot i as its IEEE-754 bit pattern.
func (a *Args) SetFloat32(i int, v float32) {
	a[i] = math.Float32bits(v)
}

func (a Args) String() string {
	return fmt.Sprintf("[0x%X 0x%X 0x%X 0x%X 0x%X 0x%X]", a[0], a[1], a[2], a[3], a[4], a[5])
}
