package psn

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func date(y, m, d int) time.Time {
	return time.Date(y, time.Month(m), d, 0, 0, 0, 0, time.UTC)
}

func TestEncodeKnownExample(t *testing.T) {
	psn, err := Encode(date(1990, 1, 1), SexMale, 1)
	require.NoError(t, err)
	assert.Equal(t, "1101900011", psn)
}

func TestEncodeFemale21stCentury(t *testing.T) {
	psn, err := Encode(date(2005, 12, 31), SexFemale, 999)
	require.NoError(t, err)
	assert.Equal(t, "81", psn[0:2])
	assert.Equal(t, "32", psn[2:4])
	assert.Equal(t, "05", psn[4:6])
	assert.Equal(t, "999", psn[6:9])
	assert.True(t, Validate(psn))
}

func TestEncodeRejectsOutOfRangeInputs(t *testing.T) {
	cases := []struct {
		name   string
		birth  time.Time
		sex    Sex
		serial int
	}{
		{"serial zero", date(1990, 1, 1), SexMale, 0},
		{"serial too large", date(1990, 1, 1), SexMale, 1000},
		{"year before 1900", date(1899, 12, 31), SexFemale, 1},
		{"year after 2099", date(2100, 1, 1), SexMale, 1},
		{"unsupported sex", date(1990, 1, 1), Sex("OTHER"), 1},
		{"empty sex", date(1990, 1, 1), Sex(""), 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Encode(tc.birth, tc.sex, tc.serial)
			assert.Error(t, err)
		})
	}
}

func TestDecodeRoundTrip(t *testing.T) {
	births := []time.Time{
		date(1900, 1, 1),
		date(1955, 6, 15),
		date(1999, 12, 31),
		date(2000, 1, 1),
		date(2042, 2, 28),
		date(2099, 12, 31),
	}
	for _, birth := range births {
		for _, sex := range []Sex{SexMale, SexFemale} {
			for _, serial := range []int{1, 17, 500, 999} {
				psn, err := Encode(birth, sex, serial)
				require.NoError(t, err)

				info := Decode(psn)
				require.NotNil(t, info, "psn %s", psn)
				assert.Equal(t, birth.Day(), info.Day)
				assert.Equal(t, int(birth.Month()), info.Month)
				assert.Equal(t, birth.Year(), info.Year)
				assert.Equal(t, sex, info.Sex)

				got, err := SerialOf(psn)
				require.NoError(t, err)
				assert.Equal(t, serial, got)
			}
		}
	}
}

func TestValidateRejectsMalformedInput(t *testing.T) {
	cases := []string{
		"",
		"123456789",    // too short
		"12345678901",  // too long
		"110190001a",   // non-digit
		"1101900012",   // wrong check digit
		"11019OOO11",   // letters shaped like digits
		"          ",   // spaces
		"-101900011",   // sign
	}
	for _, psn := range cases {
		assert.False(t, Validate(psn), "expected invalid: %q", psn)
	}
}

// Flipping any single structural digit changes the weighted sum by
// delta*(pos+1); the checksum only misses when that product is 0 mod 10.
func TestChecksumSingleDigitSensitivity(t *testing.T) {
	psn, err := Encode(date(1990, 1, 1), SexMale, 1)
	require.NoError(t, err)

	rejected, passed := 0, 0
	for pos := 0; pos < 9; pos++ {
		for d := byte('0'); d <= '9'; d++ {
			if psn[pos] == d {
				continue
			}
			corrupted := psn[:pos] + string(d) + psn[pos+1:]
			if Validate(corrupted) {
				passed++
				delta := int(d) - int(psn[pos])
				assert.Zero(t, (delta*(pos+1))%10,
					"unexpected collision at pos %d digit %c", pos, d)
			} else {
				rejected++
			}
		}
	}
	assert.Greater(t, rejected, passed*4, "checksum should reject the overwhelming majority")
}

func TestDecodeRejectsOutOfRangeFields(t *testing.T) {
	// Build digit strings with a valid checksum but out-of-range fields.
	withChecksum := func(nine string) string {
		sum := 0
		for i := 0; i < len(nine); i++ {
			sum += int(nine[i]-'0') * (i + 1)
		}
		return nine + string(byte('0'+sum%10))
	}

	cases := []string{
		withChecksum("420190001"), // sex-day 42: gap between male and female ranges
		withChecksum("500190001"), // sex-day 50
		withChecksum("820190001"), // sex-day 82
		withChecksum("101390001"), // sex-day 10 (below male range)
		withChecksum("111390001"), // month-century 13
		withChecksum("112090001"), // month-century 20
		withChecksum("113390001"), // month-century 33
		withChecksum("110090001"), // month-century 00
	}
	for _, psn := range cases {
		require.True(t, Validate(psn), "fixture must carry a valid checksum: %s", psn)
		assert.Nil(t, Decode(psn), "expected nil decode for %s", psn)
	}
}

func TestSerialOfRejectsInvalid(t *testing.T) {
	_, err := SerialOf("1101900012")
	assert.Error(t, err)
}

func TestCohortPrefix(t *testing.T) {
	prefix, err := CohortPrefix(date(1990, 1, 1), SexMale)
	require.NoError(t, err)
	assert.Equal(t, "11", prefix)

	prefix, err = CohortPrefix(date(1990, 1, 31), SexFemale)
	require.NoError(t, err)
	assert.Equal(t, "81", prefix)

	_, err = CohortPrefix(date(1990, 1, 1), Sex("X"))
	assert.Error(t, err)
}
