package postgres

import (
	"errors"
	"github.com/stretchr/testify/assert"
	"strings"
	"testing"
	"unicode/utf8"
)

// Test abbreviate collapses whitespace and leaves short queries alone
func TestAbbreviate_Short(t *testing.T) {
	assert.Equal(t, "SELECT 1 FROM t", abbreviate("SELECT 1\n\tFROM   t"))
}

// Test abbreviate cuts long queries on a character boundary
func TestAbbreviate_MultiByte(t *testing.T) {
	query := "SELECT '" + strings.Repeat("é", 100) + "'"

	got := abbreviate(query)

	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, 80, utf8.RuneCountInString(got))
	assert.True(t, strings.HasSuffix(got, "é..."))
}

// Test QueryError keeps the driver error reachable and abbreviates the statement
func TestQueryError(t *testing.T) {
	boom := errors.New("permission denied")
	err := &QueryError{Query: "SELECT " + strings.Repeat("x, ", 50) + "y", Err: boom}

	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "...")
	assert.Contains(t, err.Error(), "permission denied")
}
