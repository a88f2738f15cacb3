package extract

import "testing"

func TestPatchCount(t *testing.T) {
	tests := []struct {
		name      string
		height    int
		width     int
		patchSize int
		wantH     int
		wantW     int
		wantCount int
	}{
		{"dino 224", 224, 224, 16, 14, 14, 197},
		{"dino 224 p8", 224, 224, 8, 28, 28, 785},
		{"rectangular", 224, 160, 16, 14, 10, 141},
		{"single patch", 16, 16, 16, 1, 1, 2},
		{"truncating", 230, 225, 16, 14, 14, 197},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dims := []int{1, 3, tt.height, tt.width}
			if got := HeightPatches(dims, tt.patchSize); got != tt.wantH {
				t.Errorf("HeightPatches = %d, want %d", got, tt.wantH)
			}
			if got := WidthPatches(dims, tt.patchSize); got != tt.wantW {
				t.Errorf("WidthPatches = %d, want %d", got, tt.wantW)
			}
			if got := PatchCount(dims, tt.patchSize); got != tt.wantCount {
				t.Errorf("PatchCount = %d, want %d", got, tt.wantCount)
			}
		})
	}
}
