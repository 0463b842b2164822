package tensor

import "testing"

func TestShapeNumElements(t *testing.T) {
	tests := []struct {
		shape Shape
		want  int
	}{
		{Shape{1, 1, 8, 8}, 64},
		{Shape{2, 3, 4, 4, 4}, 384},
		{Shape{1}, 1},
	}
	for _, tt := range tests {
		if got := tt.shape.NumElements(); got != tt.want {
			t.Errorf("NumElements(%v) = %d, want %d", tt.shape, got, tt.want)
		}
	}
}

func TestShapeSpatial(t *testing.T) {
	s := Shape{2, 3, 16, 16, 16}
	if got := s.SpatialRank(); got != 3 {
		t.Errorf("SpatialRank() = %d, want 3", got)
	}
	spatial := s.Spatial()
	if len(spatial) != 3 || spatial[0] != 16 {
		t.Errorf("Spatial() = %v, want [16 16 16]", spatial)
	}
}

func TestShapeSpatialRankPanicsOnVector(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic for rank-1 shape")
		}
	}()
	Shape{5}.SpatialRank()
}

func TestComputeStrides(t *testing.T) {
	strides := Shape{2, 3, 4}.ComputeStrides()
	want := []int{12, 4, 1}
	for i := range want {
		if strides[i] != want[i] {
			t.Errorf("ComputeStrides() = %v, want %v", strides, want)
			break
		}
	}
}

func TestBroadcastShapes(t *testing.T) {
	tests := []struct {
		a, b, want Shape
		broadcast  bool
		wantErr    bool
	}{
		{Shape{2, 1, 5}, Shape{2, 4, 5}, Shape{2, 4, 5}, true, false},
		{Shape{3, 4}, Shape{3, 4}, Shape{3, 4}, false, false},
		{Shape{1, 64, 1}, Shape{2, 1, 100}, Shape{2, 64, 100}, true, false},
		{Shape{3}, Shape{4}, nil, false, true},
	}
	for _, tt := range tests {
		got, broadcast, err := BroadcastShapes(tt.a, tt.b)
		if tt.wantErr {
			if err == nil {
				t.Errorf("BroadcastShapes(%v, %v): expected error", tt.a, tt.b)
			}
			continue
		}
		if err != nil {
			t.Errorf("BroadcastShapes(%v, %v): %v", tt.a, tt.b, err)
			continue
		}
		if !got.Equal(tt.want) || broadcast != tt.broadcast {
			t.Errorf("BroadcastShapes(%v, %v) = %v (%v), want %v (%v)",
				tt.a, tt.b, got, broadcast, tt.want, tt.broadcast)
		}
	}
}
