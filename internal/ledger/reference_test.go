package ledger

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestReferenceGeneratorFormat(t *testing.T) {
	at := time.Date(2024, 3, 1, 13, 4, 5, 0, time.FixedZone("WAT", 3600))
	gen := NewReferenceGenerator(func() time.Time { return at }, func() int { return 42 })

	assert.Equal(t, "TXN20240301120405000042", gen.Next())
}

func TestReferenceGeneratorDefaults(t *testing.T) {
	ref := NewReferenceGenerator(nil, nil).Next()
	assert.Regexp(t, `^TXN\d{20}$`, ref)
}

func TestBaseReference(t *testing.T) {
	cases := map[string]string{
		"TXN20240301120405000042D": "TXN20240301120405000042",
		"TXN20240301120405000042C": "TXN20240301120405000042",
		"TXN20240301120405000042":  "TXN20240301120405000042",
	}
	for in, want := range cases {
		assert.Equal(t, want, BaseReference(in), in)
	}
}
