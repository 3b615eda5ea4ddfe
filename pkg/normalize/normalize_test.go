package normalize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeCountry(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"IE", "IE"},
		{"ie", "IE"},
		{"Ireland", "IE"},
		{" IRL ", "IE"},
		{"U.S.A.", "US"},
		{"United States of America", "US"},
		{"México", "MX"},
		{"UK", "GB"},
		{"Deutschland", "DE"},
		{"Türkiye", "TR"},
		{"Norway", "NO"},
		{"Atlantis", "Atlantis"},
		{"  Narnia ", "Narnia"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, NormalizeCountry(tt.input))
		})
	}
}

func TestIsCanonicalCountry(t *testing.T) {
	assert.True(t, IsCanonicalCountry("IE"))
	assert.False(t, IsCanonicalCountry("ie"))
	assert.False(t, IsCanonicalCountry("Ireland"))
}

func TestLoadCountries_RejectsConflictingAlias(t *testing.T) {
	_, err := loadCountries([]byte("IE: [eire]\nGB: [eire]\n"))
	require.Error(t, err)
}

func TestNormalizeSalary(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected float64
	}{
		{"plain integer", "85000", 85000},
		{"us thousands and decimals", "1,000.50", 1000.50},
		{"european format", "1.234,50", 1234.50},
		{"currency symbol prefix", "$95,000", 95000},
		{"euro suffix", "88.000 €", 88000},
		{"currency code", "USD 72,500.00", 72500},
		{"swiss apostrophe", "CHF 98'000", 98000},
		{"space grouping", "1 250 000", 1250000},
		{"nbsp grouping", "1 250,75", 1250.75},
		{"decimal comma", "4500,5", 4500.5},
		{"single dot thousands", "12.000", 12000},
		{"many comma groups", "1,250,000", 1250000},
		{"leading minus", "-1,200", -1200},
		{"parenthesized negative", "(1,200.00)", -1200},
		{"leading decimal", ".75", 0.75},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NormalizeSalary(tt.input)
			require.NotNil(t, got, "expected %q to parse", tt.input)
			assert.InDelta(t, tt.expected, *got, 0.0001)
		})
	}
}

func TestNormalizeSalary_Unparseable(t *testing.T) {
	for _, input := range []string{"", "   ", "n/a", "TBD", "12abc34", "1,2.3,4", "€"} {
		assert.Nil(t, NormalizeSalary(input), "input %q", input)
	}
}

func TestAnnualizeSalary(t *testing.T) {
	assert.Equal(t, 120000.0, AnnualizeSalary(10000, "Monthly"))
	assert.Equal(t, 52000.0, AnnualizeSalary(1000, "weekly"))
	assert.Equal(t, 26000.0, AnnualizeSalary(100, "daily"))
	assert.Equal(t, 41600.0, AnnualizeSalary(20, "per hour"))
	assert.Equal(t, 26000.0, AnnualizeSalary(1000, "Bi-Weekly"))
	assert.Equal(t, 90000.0, AnnualizeSalary(90000, "annual"))
	assert.Equal(t, 5000.0, AnnualizeSalary(5000, "quarterly-ish"))
	assert.Equal(t, 5000.0, AnnualizeSalary(5000, ""))
}

func TestAnnualizeSalary_RoundTrip(t *testing.T) {
	amount := NormalizeSalary("1,000.50")
	require.NotNil(t, amount)
	assert.InDelta(t, 12006.0, AnnualizeSalary(*amount, "monthly"), 0.001)
}

func TestCompact(t *testing.T) {
	assert.Equal(t, "empid", Compact("Emp. ID"))
	assert.Equal(t, "salarioanual", Compact("Salário Anual"))
	assert.Equal(t, []string{"base", "salary", "eur"}, Words("Base_Salary (EUR)"))
}

func TestParseDate(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"2021-03-01", "2021-03-01"},
		{" 2021-03-01 ", "2021-03-01"},
		{"2021-03-01T09:30:00Z", "2021-03-01"},
		{"2021/03/01", "2021-03-01"},
		{"01/03/2021", "2021-03-01"},
		{"25/12/2020", "2020-12-25"},
		{"12/25/2020", "2020-12-25"},
		{"1.3.2021", "2021-03-01"},
		{"1 Mar 2021", "2021-03-01"},
		{"March 1, 2021", "2021-03-01"},
		{"44256", "2021-03-01"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := ParseDate(tt.input)
			require.NotNil(t, got)
			assert.Equal(t, tt.expected, got.Format("2006-01-02"))
		})
	}
}

func TestParseDate_Unparseable(t *testing.T) {
	for _, input := range []string{"", "soon", "13/13/2021", "42", "2021-02-30"} {
		assert.Nil(t, ParseDate(input), input)
	}
}
