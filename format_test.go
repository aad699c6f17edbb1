package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatTime(t *testing.T) {
	now := time.Date(2026, time.June, 10, 12, 0, 0, 0, time.Local)

	t.Run("zero", func(t *testing.T) {
		assert.Equal(t, "never", formatTime(time.Time{}, now))
	})

	t.Run("same day", func(t *testing.T) {
		assert.Equal(t, "09:15:30", formatTime(time.Date(2026, time.June, 10, 9, 15, 30, 0, time.Local), now))
	})

	t.Run("same year", func(t *testing.T) {
		result := formatTime(time.Date(2026, time.March, 15, 10, 30, 0, 0, time.Local), now)
		assert.Contains(t, result, "Mar")
		assert.Contains(t, result, "15")
		assert.Contains(t, result, "10:30")
	})

	t.Run("different year", func(t *testing.T) {
		result := formatTime(time.Date(2020, time.December, 25, 8, 0, 0, 0, time.Local), now)
		assert.Contains(t, result, "Dec")
		assert.Contains(t, result, "25")
		assert.Contains(t, result, "2020")
	})
}

func TestFormatIn(t *testing.T) {
	now := time.Date(2026, time.June, 10, 12, 0, 0, 0, time.UTC)

	assert.Equal(t, "now", formatIn(now, now))
	assert.Equal(t, "now", formatIn(now.Add(-time.Second), now))
	assert.Equal(t, "in 2.5s", formatIn(now.Add(2500*time.Millisecond), now))
}

func TestPrintTable(t *testing.T) {
	var buf bytes.Buffer

	headers := []string{"NAME", "ROW", "STITCH"}
	rows := [][]string{
		{"Scarf", "12", "4"},
		{"Mittens", "3", "0"},
	}

	printTable(&buf, headers, rows)

	assert.Equal(t,
		"NAME     ROW  STITCH\n"+
			"Scarf    12   4\n"+
			"Mittens  3    0\n",
		buf.String())
}

func TestPrintJSON(t *testing.T) {
	var buf bytes.Buffer

	require.NoError(t, printJSON(&buf, map[string]int{"row": 3}))
	assert.Equal(t, "{\n  \"row\": 3\n}\n", buf.String())
}

func TestShortID(t *testing.T) {
	assert.Equal(t, "0195f2a1", shortID("0195f2a1-7c1e-4b6f-9f10-0c5f2d3e4a5b"))
	assert.Equal(t, "abc", shortID("abc"))
}
