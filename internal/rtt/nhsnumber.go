package rtt

import (
	"strings"

	"github.com/rtt/rtt/pkg/apperr"
)

// NormalizeNHSNumber strips spaces and hyphens from an NHS number.
func NormalizeNHSNumber(s string) string {
	return strings.Map(func(r rune) rune {
		if r == ' ' || r == '-' {
			return -1
		}
		return r
	}, strings.TrimSpace(s))
}

// ValidateNHSNumber checks the format and modulus-11 check digit of an NHS
// number and returns it normalised to ten digits.
func ValidateNHSNumber(s string) (string, error) {
	n := NormalizeNHSNumber(s)
	if len(n) != 10 {
		return "", apperr.Validation("nhs number must have 10 digits")
	}
	sum := 0
	for i := 0; i < 10; i++ {
		if n[i] < '0' || n[i] > '9' {
			return "", apperr.Validation("nhs number must contain only digits")
		}
		if i < 9 {
			sum += int(n[i]-'0') * (10 - i)
		}
	}
	check := 11 - sum%11
	if check == 11 {
		check = 0
	}
	if check == 10 || check != int(n[9]-'0') {
		return "", apperr.Validation("nhs number %s fails the check digit", n)
	}
	return n, nil
}
