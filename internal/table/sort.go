package table

import (
	"cmp"
	"strings"

	"github.com/JonMunkholm/erpshell/internal/value"
)

// Compare orders two records by one column in the given direction.
// Numeric columns compare numerically, date columns chronologically, and
// everything else by case-folded string. Null cells are placed after every
// non-null cell regardless of direction. Returns -1, 0 or +1.
func Compare(a, b Record, col ColumnSpec, dir Direction) int {
	k := col.kind()
	return compareCells(value.Coerce(a.Get(col.Key), k), value.Coerce(b.Get(col.Key), k), col.Type, dir)
}

func compareCells(a, b value.Value, t ColumnType, dir Direction) int {
	aNull, bNull := a.IsNull(), b.IsNull()
	switch {
	case aNull && bNull:
		return 0
	case aNull:
		return 1
	case bNull:
		return -1
	}

	c := compareValues(a, b, t)
	if dir == Desc {
		return -c
	}
	return c
}

// compareValues compares two non-null cells of the same column.
func compareValues(a, b value.Value, t ColumnType) int {
	switch {
	case t.Numeric():
		an, aok := a.Number()
		bn, bok := b.Number()
		if aok && bok {
			return cmp.Compare(an, bn)
		}
	case t == ColumnDate:
		at, aok := a.Time()
		bt, bok := b.Time()
		if aok && bok {
			return at.Compare(bt)
		}
	}
	return strings.Compare(fold(a.String()), fold(b.String()))
}
