package persistence

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSlice(t *testing.T) {
	t.Parallel()

	items := []int{1, 2, 3, 4, 5}

	tests := []struct {
		name string
		page Page
		want []int
	}{
		{name: "zero page keeps everything", page: Page{}, want: items},
		{name: "first page", page: Page{Number: 1, Limit: 2}, want: []int{1, 2}},
		{name: "last partial page", page: Page{Number: 3, Limit: 2}, want: []int{5}},
		{name: "past the end", page: Page{Number: 4, Limit: 2}, want: []int{}},
		{name: "page number below one", page: Page{Number: 0, Limit: 3}, want: []int{1, 2, 3}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tt.want, Slice(items, tt.page))
			assert.Len(t, items, 5)
		})
	}
}
