package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormatLot(t *testing.T) {
	cases := map[float64]string{
		1:     "1.00",
		0.1:   "0.10",
		2.5:   "2.50",
		0.01:  "0.01",
		0.125: "0.125",
		1.005: "1.005",
	}

	for lot, want := range cases {
		assert.Equal(t, want, FormatLot(lot), "lot %v", lot)
	}
}
