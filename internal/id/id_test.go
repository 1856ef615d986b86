package id

import (
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewIsParseable(t *testing.T) {
	t.Parallel()

	a := New()
	b := New()
	_, err := ulid.Parse(a)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
	assert.Less(t, a, b)
}

func TestGeneratorDeterministic(t *testing.T) {
	t.Parallel()

	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	g1 := NewGenerator(42)
	g2 := NewGenerator(42)

	for i := 0; i < 5; i++ {
		at := ts.Add(time.Duration(i) * time.Hour)
		assert.Equal(t, g1.At(at), g2.At(at))
	}
}

func TestGeneratorClampsBackwardsTime(t *testing.T) {
	t.Parallel()

	g := NewGenerator(1)
	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	first := g.At(ts)
	second := g.At(ts.Add(-time.Hour))

	u, err := ulid.Parse(second)
	require.NoError(t, err)
	assert.Equal(t, ulid.Timestamp(ts), u.Time())
	assert.Less(t, first, second)
}
