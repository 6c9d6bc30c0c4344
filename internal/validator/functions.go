package validator

import (
	"errors"
	"fmt"
	"math"
	"math/bits"
	"strconv"
)

const (
	maxFactorial = 20
	maxFib       = 92
	maxNthPrime  = 100000
)

var errDomain = errors.New("argument out of domain")

// functions is the closed table of helpers visible to validator expressions.
// Nothing outside this table (and the bound variables) can be referenced.
func functions() map[string]any {
	return map[string]any{
		"abs":       absInt,
		"min":       minInt,
		"max":       maxInt,
		"pow":       powInt,
		"factorial": factorial,
		"isPrime":   isPrime,
		"nthPrime":  nthPrime,
		"fib":       fib,
		"gcd":       gcd,
		"lcm":       lcm,
		"sign":      sign,
		"mod":       floorMod,
		"digitSum":  digitSum,
		"popcount":  popcount,
		"bin":       toBinary,
		"fromBin":   fromBinary,
	}
}

func absInt(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func powInt(base, exp int) (int, error) {
	if exp < 0 {
		return 0, fmt.Errorf("pow: negative exponent %d: %w", exp, errDomain)
	}
	result := 1
	for i := 0; i < exp; i++ {
		hi, lo := bits.Mul64(uint64(absInt(result)), uint64(absInt(base)))
		if hi != 0 || lo > math.MaxInt64 {
			return 0, fmt.Errorf("pow(%d, %d) overflows: %w", base, exp, errDomain)
		}
		result *= base
	}
	return result, nil
}

func factorial(n int) (int, error) {
	if n < 0 || n > maxFactorial {
		return 0, fmt.Errorf("factorial(%d): %w", n, errDomain)
	}
	result := 1
	for i := 2; i <= n; i++ {
		result *= i
	}
	return result, nil
}

func isPrime(n int) bool {
	if n < 2 {
		return false
	}
	if n%2 == 0 {
		return n == 2
	}
	for i := 3; i*i <= n; i += 2 {
		if n%i == 0 {
			return false
		}
	}
	return true
}

// nthPrime returns the n-th prime, 1-indexed: nthPrime(1) == 2.
func nthPrime(n int) (int, error) {
	if n < 1 || n > maxNthPrime {
		return 0, fmt.Errorf("nthPrime(%d): %w", n, errDomain)
	}
	if n == 1 {
		return 2, nil
	}
	found := 1
	for candidate := 3; ; candidate += 2 {
		if isPrime(candidate) {
			found++
			if found == n {
				return candidate, nil
			}
		}
	}
}

func fib(n int) (int, error) {
	if n < 0 || n > maxFib {
		return 0, fmt.Errorf("fib(%d): %w", n, errDomain)
	}
	a, b := 0, 1
	for i := 0; i < n; i++ {
		a, b = b, a+b
	}
	return a, nil
}

func gcd(a, b int) int {
	a, b = absInt(a), absInt(b)
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

func lcm(a, b int) int {
	if a == 0 || b == 0 {
		return 0
	}
	return absInt(a/gcd(a, b)*b)
}

func sign(n int) int {
	switch {
	case n > 0:
		return 1
	case n < 0:
		return -1
	default:
		return 0
	}
}

// floorMod follows the sign of the divisor, matching mathematical modulo.
func floorMod(a, b int) (int, error) {
	if b == 0 {
		return 0, fmt.Errorf("mod(%d, 0): %w", a, errDomain)
	}
	m := a % b
	if m != 0 && (m < 0) != (b < 0) {
		m += b
	}
	return m, nil
}

func digitSum(n int) int {
	n = absInt(n)
	sum := 0
	for n > 0 {
		sum += n % 10
		n /= 10
	}
	return sum
}

func popcount(n int) (int, error) {
	if n < 0 {
		return 0, fmt.Errorf("popcount(%d): %w", n, errDomain)
	}
	return bits.OnesCount64(uint64(n)), nil
}

// toBinary reads the binary digits of n as a decimal number: bin(5) == 101.
func toBinary(n int) (int, error) {
	if n < 0 {
		return 0, fmt.Errorf("bin(%d): %w", n, errDomain)
	}
	v, err := strconv.Atoi(strconv.FormatInt(int64(n), 2))
	if err != nil {
		return 0, fmt.Errorf("bin(%d): %w", n, errDomain)
	}
	return v, nil
}

// fromBinary is the inverse of toBinary: fromBin(101) == 5.
func fromBinary(n int) (int, error) {
	v, err := strconv.ParseInt(strconv.Itoa(n), 2, 64)
	if err != nil {
		return 0, fmt.Errorf("fromBin(%d): %w", n, errDomain)
	}
	return int(v), nil
}
