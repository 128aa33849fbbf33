package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSelectFiles(t *testing.T) {
	ids := []FileIdentifier{
		"StormEvents_details-ftp_v1.0_d1950_c20210803.csv.gz",
		"StormEvents_details-ftp_v1.0_d2019_c20240216.csv.gz",
		"StormEvents_details-ftp_v1.0_d2020_c20240216.csv.gz",
		"StormEvents_details-latest.csv.gz",
	}

	assert.Equal(t, ids, SelectFiles(ids, nil, 0))
	assert.Equal(t, ids[:2], SelectFiles(ids, nil, 2))
	assert.Equal(t, []FileIdentifier{ids[1], ids[2]}, SelectFiles(ids, []int{2019, 2020}, 0))
	assert.Equal(t, []FileIdentifier{ids[1]}, SelectFiles(ids, []int{2019, 2020}, 1))
	assert.Empty(t, SelectFiles(ids, []int{1800}, 0))
}
