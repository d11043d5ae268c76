package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPageClamp(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		page Page
		want Page
	}{
		{"zero value gets defaults", Page{}, Page{Number: 1, Size: DefaultPageSize}},
		{"negative number clamps to first", Page{Number: -3, Size: 10}, Page{Number: 1, Size: 10}},
		{"oversize clamps to max", Page{Number: 2, Size: 500}, Page{Number: 2, Size: MaxPageSize}},
		{"in-range passes through", Page{Number: 4, Size: 25}, Page{Number: 4, Size: 25}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.page.Clamp())
		})
	}
}

func TestPageOffset(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 0, Page{}.Offset())
	assert.Equal(t, 0, Page{Number: 1, Size: 20}.Offset())
	assert.Equal(t, 40, Page{Number: 3, Size: 20}.Offset())
	assert.Equal(t, 2*MaxPageSize, Page{Number: 3, Size: 999}.Offset())
}
