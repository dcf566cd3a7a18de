// Package arch implements the word type and cross-architecture
// compatibility rules the bytecode engine applies when a module
// declares a narrower or wider architecture than the host is running.
package arch

import (
	"fmt"
	"math/big"

	"github.com/dotlanth/dotvm/pkg/types"
	"github.com/holiman/uint256"
)

// Word is the engine's native operand value: a 256-bit integer for
// Arch64/128/256, and the low limb of a two-limb composite for
// Arch512. Narrower architectures use the low bits and zero- or
// sign-extend on promotion, matching uint256's own Uint64/SetUint64
// truncation semantics.
type Word struct {
	lo uint256.Int
	hi uint256.Int // only meaningful for Arch512
}

// FromUint64 builds a Word from a 64-bit value.
func FromUint64(v uint64) Word {
	var w Word
	w.lo.SetUint64(v)
	return w
}

// FromBytes constructs a Word from a 256-bit big-endian byte slice.
func FromBytes(b []byte) Word {
	var w Word
	w.lo.SetBytes(b)
	return w
}

// Uint64 truncates the word to its low 64 bits.
func (w Word) Uint64() uint64 {
	return w.lo.Uint64()
}

// Bytes32 returns the low limb's big-endian 32-byte encoding.
func (w Word) Bytes32() [32]byte {
	return w.lo.Bytes32()
}

// Bytes64 returns the word's full big-endian 64-byte encoding: the
// high limb's 32 bytes followed by the low limb's. Arch64/128/256
// words always carry a zero high limb; only Arch512 values use the
// full width.
func (w Word) Bytes64() [64]byte {
	var out [64]byte
	hiB := w.hi.Bytes32()
	loB := w.lo.Bytes32()
	copy(out[0:32], hiB[:])
	copy(out[32:64], loB[:])
	return out
}

func (w Word) isZero() bool {
	return w.lo.IsZero() && w.hi.IsZero()
}

// toBig widens w to a single unsigned 512-bit value: the high limb
// shifted up 256 bits, OR'd with the low limb.
func (w Word) toBig() *big.Int {
	v := w.hi.ToBig()
	v.Lsh(v, 256)
	v.Or(v, w.lo.ToBig())
	return v
}

// mod512 is 2^512, the modulus every arithmetic op below wraps
// against before splitting back into limbs — matching the unsigned
// wraparound every other architecture's width already gets from
// Truncate.
var mod512 = new(big.Int).Lsh(big.NewInt(1), 512)

// wordFromBig narrows an unsigned 512-bit value (already reduced mod
// 2^512) back into a two-limb Word.
func wordFromBig(v *big.Int) Word {
	mask256 := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

	lo := new(big.Int).And(v, mask256)
	hi := new(big.Int).Rsh(v, 256)
	hi.And(hi, mask256)

	var out Word
	if loW, _ := uint256.FromBig(lo); loW != nil {
		out.lo = *loW
	}
	if hiW, _ := uint256.FromBig(hi); hiW != nil {
		out.hi = *hiW
	}
	return out
}

// wordFromBigMod wraps v to an unsigned 512-bit value (Sub can yield a
// negative big.Int; big.Int.Mod against a positive modulus always
// returns a non-negative remainder) before narrowing it into a Word.
func wordFromBigMod(v *big.Int) Word {
	return wordFromBig(new(big.Int).Mod(v, mod512))
}

// Add returns x+y truncated to the given architecture's width, using
// the full 512-bit two-limb representation so Arch512 additions that
// carry out of the low limb are not silently dropped.
func Add(a Architecture, x, y Word) Word {
	sum := new(big.Int).Add(x.toBig(), y.toBig())
	return Truncate(a, wordFromBigMod(sum))
}

// Sub returns x-y truncated to the given architecture's width.
func Sub(a Architecture, x, y Word) Word {
	diff := new(big.Int).Sub(x.toBig(), y.toBig())
	return Truncate(a, wordFromBigMod(diff))
}

// Mul returns x*y truncated to the given architecture's width. Two
// full 256-bit operands multiply out to up to 512 bits, which is
// exactly the case Arch512 exists to carry without loss.
func Mul(a Architecture, x, y Word) Word {
	prod := new(big.Int).Mul(x.toBig(), y.toBig())
	return Truncate(a, wordFromBigMod(prod))
}

// Div returns x/y truncated to the given architecture's width, or
// reports ok=false on division by zero so the caller can raise a
// dverr.DivisionByZero instead of panicking.
func Div(a Architecture, x, y Word) (Word, bool) {
	if y.isZero() {
		return Word{}, false
	}
	q := new(big.Int).Quo(x.toBig(), y.toBig())
	return Truncate(a, wordFromBig(q)), true
}

// Mod returns x%y truncated to the given architecture's width, or
// reports ok=false on division by zero.
func Mod(a Architecture, x, y Word) (Word, bool) {
	if y.isZero() {
		return Word{}, false
	}
	r := new(big.Int).Rem(x.toBig(), y.toBig())
	return Truncate(a, wordFromBig(r)), true
}

// IsZero reports whether w's value, truncated to architecture a's
// width, is zero.
func IsZero(a Architecture, w Word) bool {
	return Truncate(a, w).isZero()
}

// CmpSigned compares x and y as two's-complement signed integers of
// architecture a's native width, returning -1, 0, or 1 the way
// big.Int.Cmp does. Used by the ISA's signed comparison opcodes
// (LtS/GtS and friends), which WASM also treats as distinct from
// their unsigned counterparts.
func CmpSigned(a Architecture, x, y Word) int {
	return signedBig(a, x).Cmp(signedBig(a, y))
}

// signedBig reinterprets w's truncated bits as a signed value of
// architecture a's width (two's complement).
func signedBig(a Architecture, w Word) *big.Int {
	v := Truncate(a, w).toBig()

	width := a.Width()
	if width == 0 {
		width = 512
	}
	half := new(big.Int).Lsh(big.NewInt(1), uint(width-1))
	if v.Cmp(half) >= 0 {
		full := new(big.Int).Lsh(big.NewInt(1), uint(width))
		v.Sub(v, full)
	}
	return v
}

// Architecture is a local alias of types.Architecture so callers in
// this package don't have to import both packages under different
// names at every call site.
type Architecture = types.Architecture

const (
	Arch64  = types.Arch64
	Arch128 = types.Arch128
	Arch256 = types.Arch256
	Arch512 = types.Arch512
)

// Truncate masks w down to a's native width. Arch512 is left
// untouched — its second limb is where the upper 256 bits of a
// 512-bit result belong. Every narrower architecture, including
// Arch256, zeroes the high limb entirely: only Arch512 operands ever
// carry a meaningful one.
func Truncate(a Architecture, w Word) Word {
	width := a.Width()
	if width == 512 {
		return w
	}
	w.hi = uint256.Int{}

	if width == 0 || width >= 256 {
		return w
	}

	mask := new(uint256.Int).Lsh(uint256.NewInt(1), uint(width))
	mask.Sub(mask, uint256.NewInt(1))
	w.lo.And(&w.lo, mask)
	return w
}

// CompatibilityMode reports whether a module declared for `declared`
// can run on a host executing natively as `host`, and whether doing so
// requires truncation (host wider than declared) or would lose
// precision (host narrower than declared, which is rejected).
func CompatibilityMode(declared, host Architecture) (extends bool, err error) {
	if !declared.Valid() || !host.Valid() {
		return false, fmt.Errorf("invalid architecture: declared=%s host=%s", declared, host)
	}
	if declared.Width() > host.Width() {
		return false, fmt.Errorf("module declares %s, host only supports %s: narrowing execution is not permitted", declared, host)
	}
	return declared.Width() < host.Width(), nil
}
