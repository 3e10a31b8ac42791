// Package psn implements the Public Service Number codec: a reversible,
// checksum-validated encoding of birth date, sex, and a per-cohort serial
// number into a 10-digit identifier.
//
// Layout: digits 1-2 encode sex and day of birth (11-41 male, 51-81 female),
// digits 3-4 encode month and century (1-12 for the 1900s, 21-32 for the
// 2000s), digits 5-6 the two-digit year, digits 7-9 a zero-padded serial
// unique within the birth cohort, and digit 10 a position-weighted checksum.
//
// The checksum is a simple weighted sum modulo 10. It catches most single
// digit corruptions but collisions exist; it is an integrity aid, not a
// security control.
package psn

import (
	"fmt"
	"time"
)

// Sex is the category encoded into the identifier. The digit ranges support
// exactly two values; extending the domain requires a new encoding scheme.
type Sex string

const (
	SexMale   Sex = "MALE"
	SexFemale Sex = "FEMALE"
)

// Length is the fixed identifier length in ASCII digits.
const Length = 10

const (
	// MinSerial and MaxSerial bound the per-cohort serial space.
	MinSerial = 1
	MaxSerial = 999

	minYear = 1900
	maxYear = 2099
)

// Info holds the structural fields recovered from a valid identifier. The
// serial number is not part of Info; decode recovers only the birth fields.
type Info struct {
	Day   int
	Month int
	Year  int
	Sex   Sex
}

// Encode builds a PSN from the birth date, sex, and cohort serial number.
// The serial must be in [MinSerial, MaxSerial] and the birth year in
// [1900, 2099]; anything else is a recoverable validation error.
func Encode(birthDate time.Time, sex Sex, serial int) (string, error) {
	if serial < MinSerial || serial > MaxSerial {
		return "", fmt.Errorf("serial %d out of range [%d, %d]", serial, MinSerial, MaxSerial)
	}
	year := birthDate.Year()
	if year < minYear || year > maxYear {
		return "", fmt.Errorf("birth year %d out of range [%d, %d]", year, minYear, maxYear)
	}
	prefix, err := CohortPrefix(birthDate, sex)
	if err != nil {
		return "", err
	}

	month := int(birthDate.Month())
	century := 0
	if year >= 2000 {
		century = 20
	}

	firstNine := fmt.Sprintf("%s%02d%02d%03d", prefix, century+month, year%100, serial)
	return firstNine + string(checkDigit(firstNine)), nil
}

// CohortPrefix returns the two-digit sex-and-day code shared by every
// identifier issued to the (birth date, sex) cohort.
func CohortPrefix(birthDate time.Time, sex Sex) (string, error) {
	day := birthDate.Day()
	switch sex {
	case SexMale:
		return fmt.Sprintf("%02d", 10+day), nil
	case SexFemale:
		return fmt.Sprintf("%02d", 50+day), nil
	default:
		return "", fmt.Errorf("sex %q cannot be encoded", sex)
	}
}

// Validate reports whether the string is exactly ten ASCII digits whose
// checksum digit matches the weighted sum of the first nine. It says nothing
// about whether the identifier was ever issued.
func Validate(psn string) bool {
	if len(psn) != Length {
		return false
	}
	for i := 0; i < Length; i++ {
		if psn[i] < '0' || psn[i] > '9' {
			return false
		}
	}
	return psn[9] == checkDigit(psn[:9])
}

// Decode recovers the birth fields from a valid identifier. It returns nil
// for any input failing Validate or whose sex-day or month-century fields
// fall outside the defined ranges.
func Decode(psn string) *Info {
	if !Validate(psn) {
		return nil
	}

	sexDay := digits(psn[0:2])
	monthCentury := digits(psn[2:4])
	yearTwo := digits(psn[4:6])

	var sex Sex
	var day int
	switch {
	case sexDay >= 11 && sexDay <= 41:
		sex = SexMale
		day = sexDay - 10
	case sexDay >= 51 && sexDay <= 81:
		sex = SexFemale
		day = sexDay - 50
	default:
		return nil
	}

	var month, century int
	switch {
	case monthCentury >= 1 && monthCentury <= 12:
		month = monthCentury
		century = 1900
	case monthCentury >= 21 && monthCentury <= 32:
		month = monthCentury - 20
		century = 2000
	default:
		return nil
	}

	return &Info{Day: day, Month: month, Year: century + yearTwo, Sex: sex}
}

// SerialOf extracts the embedded cohort serial (digits 7-9). The identifier
// must pass Validate.
func SerialOf(psn string) (int, error) {
	if !Validate(psn) {
		return 0, fmt.Errorf("invalid identifier")
	}
	return digits(psn[6:9]), nil
}

func checkDigit(nine string) byte {
	sum := 0
	for i := 0; i < len(nine); i++ {
		sum += int(nine[i]-'0') * (i + 1)
	}
	return byte('0' + sum%10)
}

func digits(s string) int {
	n := 0
	for i := 0; i < len(s); i++ {
		n = n*10 + int(s[i]-'0')
	}
	return n
}
