package value

import "testing"

// ============================================================================
// Parse Benchmarks
// ============================================================================

// BenchmarkParseNumber covers the formats narrowed on every numeric cell.
func BenchmarkParseNumber(b *testing.B) {
	testCases := []string{
		"123",
		"-456.78",
		"$1,234.56",
		"(123.45)",      // Accounting negative
		"1,234,567.89",  // Thousands separators
		"  999.99  ",    // Whitespace
		"\u20ac1234.56", // Euro
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		for _, tc := range testCases {
			ParseNumber(tc)
		}
	}
}

func BenchmarkParseNumber_Simple(b *testing.B) {
	for i := 0; i < b.N; i++ {
		ParseNumber("12345")
	}
}

// BenchmarkParseDate covers every accepted layout.
func BenchmarkParseDate(b *testing.B) {
	testCases := []string{
		"2024-01-15",   // ISO format
		"01/15/2024",   // US format
		"Jan 15, 2024", // Text month
		"20240115",     // Compact
		"1/5/24",       // 2-digit year
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		for _, tc := range testCases {
			ParseDate(tc)
		}
	}
}

func BenchmarkParseDate_ISO(b *testing.B) {
	for i := 0; i < b.N; i++ {
		ParseDate("2024-01-15")
	}
}

// BenchmarkCoerce measures narrowing raw host values to column kinds.
func BenchmarkCoerce(b *testing.B) {
	raw := []struct {
		x any
		k Kind
	}{
		{"1,200.50", KindNumber},
		{1200.5, KindNumber},
		{"2024-03-01", KindDate},
		{"yes", KindBool},
		{42, KindString},
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		for _, r := range raw {
			Coerce(r.x, r.k)
		}
	}
}
