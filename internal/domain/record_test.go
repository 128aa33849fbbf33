package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNamingPolicy_Accepts(t *testing.T) {
	p := NamingPolicy{Prefix: "StormEvents_details", Extension: ".csv.gz"}

	cases := []struct {
		name string
		want bool
	}{
		{"StormEvents_details-ftp_v1.0_d2020_c20240216.csv.gz", true},
		{"StormEvents_fatalities-ftp_v1.0_d2020_c20240216.csv.gz", false},
		{"StormEvents_details-ftp_v1.0_d2020_c20240216.csv", false},
		{"Parent Directory", false},
		{"", false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, p.Accepts(tc.name), tc.name)
	}
}

func TestFileIdentifier_Year(t *testing.T) {
	y, ok := FileIdentifier("StormEvents_details-ftp_v1.0_d1950_c20210803.csv.gz").Year()
	require.True(t, ok)
	assert.Equal(t, 1950, y)

	_, ok = FileIdentifier("StormEvents_details-latest.csv.gz").Year()
	assert.False(t, ok)
}

func TestDataset_AppendRejectsOtherCategory(t *testing.T) {
	d := NewDataset("Tornado")
	require.NoError(t, d.Append(Record{EventID: 1, EventType: "Tornado"}))

	err := d.Append(Record{EventID: 2, EventType: "Tornado"}, Record{EventID: 3, EventType: "Hail"})
	require.ErrorIs(t, err, ErrCategoryMismatch)
	assert.Equal(t, 1, d.Len(), "a rejected append adds nothing")
}

func TestFilter(t *testing.T) {
	even := Filter([]int{1, 2, 3, 4}, func(n int) bool { return n%2 == 0 })
	assert.Equal(t, []int{2, 4}, even)
}
