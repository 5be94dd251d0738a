package pipeline

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBrollProgress(t *testing.T) {
	tests := []struct {
		done, total int
		want        int
	}{
		{1, 1, 10},
		{0, 1, 10},
		{1, 0, 10},
		{1, 2, 10},
		{2, 2, 60},
		{1, 3, 10},
		{2, 3, 35},
		{3, 3, 60},
		{5, 3, 60},
		{2, 20, 12},
		{20, 20, 60},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d of %d", tt.done, tt.total), func(t *testing.T) {
			assert.Equal(t, tt.want, BrollProgress(tt.done, tt.total))
		})
	}
}

func TestBrollProgress_StaysInBrollBudget(t *testing.T) {
	for total := 1; total <= 20; total++ {
		prev := 0
		for done := 1; done <= total; done++ {
			p := BrollProgress(done, total)
			assert.GreaterOrEqual(t, p, prev, "total=%d done=%d", total, done)
			assert.GreaterOrEqual(t, p, ProgressFirstClip)
			assert.LessOrEqual(t, p, ProgressBrollDone)
			prev = p
		}
	}
}
