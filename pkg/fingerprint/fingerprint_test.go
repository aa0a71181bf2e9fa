package fingerprint

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFromBytes_Deterministic(t *testing.T) {
	a := FromBytes([]byte("name,amount\njane,100\n"))
	b := FromBytes([]byte("name,amount\njane,100\n"))
	c := FromBytes([]byte("name,amount\njane,200\n"))

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 64)
}

func TestFromRows(t *testing.T) {
	headers := []string{"Contributor", "Amount"}
	rows := [][]string{{"jane doe", "100.00"}, {"acme corp", "250.00"}}

	a := FromRows(headers, rows)
	b := FromRows(headers, rows)
	assert.Equal(t, a, b)

	// row order is significant
	swapped := FromRows(headers, [][]string{rows[1], rows[0]})
	assert.NotEqual(t, a, swapped)

	// shifted cell boundaries must not collide
	x := FromRows([]string{"ab", "c"}, nil)
	y := FromRows([]string{"a", "bc"}, nil)
	assert.NotEqual(t, x, y)
}

func TestHasChanged(t *testing.T) {
	assert.False(t, HasChanged("abc", "abc"))
	assert.True(t, HasChanged("abc", "def"))
}
