package address

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolve(t *testing.T) {
	tests := []struct {
		id      uint32
		group   uint32
		xrcc    uint8
		battery uint8
	}{
		{0x000, 0x000, 0, 0},
		{0x123, 0x100, 4, 3},
		{0x10B, 0x100, 1, 3},
		{0x789, 0x780, 1, 1},
		{0x7FF, 0xF80 & 0x7FF, 15, 7},
		{0x1FFFFFFF, 0xF80, 15, 7},
	}

	for _, tt := range tests {
		fields, candidates := Resolve(tt.id)
		assert.Equal(t, tt.group, fields.Group, "group of 0x%X", tt.id)
		assert.Equal(t, tt.xrcc, fields.XRCC, "xrcc of 0x%X", tt.id)
		assert.Equal(t, tt.battery, fields.Battery, "battery of 0x%X", tt.id)
		assert.Equal(t, []uint32{tt.id, tt.id & 0xF80}, candidates)
	}
}

func TestResolve_Exhaustive11Bit(t *testing.T) {
	for id := uint32(0); id <= 0x7FF; id++ {
		fields, candidates := Resolve(id)
		if candidates[0] != id || candidates[1] != id&0xF80 {
			t.Fatalf("candidates of 0x%X = %v", id, candidates)
		}
		if uint32(fields.Battery) != id&0x7 || uint32(fields.XRCC) != (id>>3)&0xF {
			t.Fatalf("fields of 0x%X = %+v", id, fields)
		}
	}
}
