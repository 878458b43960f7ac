package timeutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParse(t *testing.T) {
	want := time.Date(2026, 1, 2, 14, 35, 0, 0, time.UTC)

	assert.Equal(t, want, Parse("2026-01-02T14:35:00Z"))
	assert.Equal(t, want, Parse("2026-01-02T14:35:00.000Z"))
	assert.Equal(t, want, Parse("2026-01-02T15:35:00+01:00"))
	assert.Equal(t, want, Parse("2026-01-02T14:35:00"))

	assert.True(t, Parse("").IsZero())
	assert.True(t, Parse("not a time").IsZero())
}

func TestFormat(t *testing.T) {
	loc := time.FixedZone("X", 3600)
	in := time.Date(2026, 1, 2, 15, 35, 0, 0, loc)
	assert.Equal(t, "2026-01-02T14:35:00Z", Format(in))
}
