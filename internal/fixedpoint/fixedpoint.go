/// Package fixedpoint implements the 17.14 signed fixed-point arithmetic
/// the MLFQS scheduler uses to avoid floating point inside the timer
/// interrupt, grounded on original_source/lib/kernel/fixed_point.c.
package fixedpoint

/// FP is a 17.14 fixed-point value: the low 14 bits are the fractional
/// part. Operations wrap like the underlying int64; there is no overflow
/// detection, matching the original.
type FP int64

const fbits = 14
const fOne = FP(1) << fbits

/// FromInt converts an integer to fixed point.
func FromInt(n int) FP {
	return FP(n) << fbits
}

/// ToIntTrunc truncates toward zero.
func (x FP) ToIntTrunc() int {
	return int(x / fOne)
}

/// ToIntRound rounds to the nearest integer, away from zero for negatives.
func (x FP) ToIntRound() int {
	if x >= 0 {
		return int((x + fOne/2) / fOne)
	}
	return int((x - fOne/2) / fOne)
}

/// Add returns x+y.
func (x FP) Add(y FP) FP { return x + y }

/// Sub returns x-y.
func (x FP) Sub(y FP) FP { return x - y }

/// AddInt returns x+n.
func (x FP) AddInt(n int) FP { return x + FromInt(n) }

/// SubInt returns x-n.
func (x FP) SubInt(n int) FP { return x - FromInt(n) }

/// Mul returns x*y, widening to 64 bits before shifting down so the
/// intermediate product doesn't overflow a 17.14 value.
func (x FP) Mul(y FP) FP {
	return FP((int64(x) * int64(y)) >> fbits)
}

/// MulInt returns x*n.
func (x FP) MulInt(n int) FP {
	return x * FP(n)
}

/// Div returns x/y, widening the numerator and shifting up before
/// dividing so the fractional bits survive integer division.
func (x FP) Div(y FP) FP {
	return FP((int64(x) << fbits) / int64(y))
}

/// DivInt returns x/n.
func (x FP) DivInt(n int) FP {
	return x / FP(n)
}
