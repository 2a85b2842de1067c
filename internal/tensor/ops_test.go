package tensor

import "testing"

func TestLinearMatchesNaive(t *testing.T) {
	x := FromData([]float32{1, 2, 3, 4, 5, 6}, 2, 3)
	w := FromData([]float32{1, 0, -1, 2, 1, 0}, 2, 3)
	b := FromData([]float32{0.5, -0.5}, 2)

	got, err := Linear(x, w, b)
	if err != nil {
		t.Fatalf("Linear: %v", err)
	}
	// row 0: [1-3+0.5, 2+2-0.5] ; row 1: [4-6+0.5, 8+5-0.5]
	want := []float32{-1.5, 3.5, -1.5, 12.5}
	assertCloseSlice(t, got.Data, want, 1e-6)
}

func TestLinear1D(t *testing.T) {
	x := FromData([]float32{1, 2}, 2)
	w := FromData([]float32{3, 4}, 1, 2)
	got, err := Linear(x, w, nil)
	if err != nil {
		t.Fatalf("Linear: %v", err)
	}
	if len(got.Shape) != 1 || got.Shape[0] != 1 {
		t.Fatalf("output shape = %v, want [1]", got.Shape)
	}
	assertCloseSlice(t, got.Data, []float32{11}, 1e-6)
}

func TestLinearShapeErrors(t *testing.T) {
	x := FromData([]float32{1, 2, 3}, 3)
	w := FromData([]float32{1, 2}, 1, 2)
	if _, err := Linear(x, w, nil); err == nil {
		t.Fatal("expected feature mismatch error")
	}
}

func TestConv1dIdentityKernel(t *testing.T) {
	x := FromData([]float32{1, 2, 3, 4}, 1, 1, 4)
	w := FromData([]float32{1}, 1, 1, 1)
	got, err := Conv1d(x, w, nil, 1, 0, 1, 1)
	if err != nil {
		t.Fatalf("Conv1d: %v", err)
	}
	assertCloseSlice(t, got.Data, x.Data, 1e-6)
}

func TestConv1dBoxKernel(t *testing.T) {
	x := FromData([]float32{1, 2, 3, 4, 5}, 1, 1, 5)
	w := FromData([]float32{1, 1, 1}, 1, 1, 3)
	got, err := Conv1d(x, w, nil, 1, 1, 1, 1)
	if err != nil {
		t.Fatalf("Conv1d: %v", err)
	}
	want := []float32{3, 6, 9, 12, 9}
	if got.Shape[2] != 5 {
		t.Fatalf("output length = %d, want 5 (same padding)", got.Shape[2])
	}
	assertCloseSlice(t, got.Data, want, 1e-6)
}

func TestConv2dMatchesNaive(t *testing.T) {
	// 1x1x3x3 input, 1x1x2x2 kernel, stride 1, no padding.
	x := FromData([]float32{
		1, 2, 3,
		4, 5, 6,
		7, 8, 9,
	}, 1, 1, 3, 3)
	w := FromData([]float32{
		1, 0,
		0, 1,
	}, 1, 1, 2, 2)
	b := FromData([]float32{1}, 1)

	got, err := Conv2d(x, w, b, [2]int{1, 1}, [2]int{0, 0}, [2]int{1, 1}, 1)
	if err != nil {
		t.Fatalf("Conv2d: %v", err)
	}
	want := []float32{1 + 5 + 1, 2 + 6 + 1, 4 + 8 + 1, 5 + 9 + 1}
	assertCloseSlice(t, got.Data, want, 1e-6)
}

func TestConv2dStrideAndDilation(t *testing.T) {
	x := New(1, 1, 5, 5)
	for i := range x.Data {
		x.Data[i] = float32(i)
	}
	w := FromData([]float32{1, 1, 1, 1}, 1, 1, 2, 2)

	got, err := Conv2d(x, w, nil, [2]int{2, 2}, [2]int{0, 0}, [2]int{2, 2}, 1)
	if err != nil {
		t.Fatalf("Conv2d: %v", err)
	}
	// output spatial: (5 - 2*(2-1) - 1)/2 + 1 = 2
	if got.Shape[2] != 2 || got.Shape[3] != 2 {
		t.Fatalf("output shape = %v, want [1 1 2 2]", got.Shape)
	}
	// position (0,0): x[0,0]+x[0,2]+x[2,0]+x[2,2] = 0+2+10+12
	if got.Data[0] != 24 {
		t.Fatalf("dilated sum = %v, want 24", got.Data[0])
	}
}

func TestConv2dGroups(t *testing.T) {
	// Two input channels, two groups: each output channel sees one input channel.
	x := FromData([]float32{
		1, 2, 3, 4, // channel 0
		10, 20, 30, 40, // channel 1
	}, 1, 2, 2, 2)
	w := FromData([]float32{1, 1, 1, 1, 2, 2, 2, 2}, 2, 1, 2, 2)

	got, err := Conv2d(x, w, nil, [2]int{1, 1}, [2]int{0, 0}, [2]int{1, 1}, 2)
	if err != nil {
		t.Fatalf("Conv2d: %v", err)
	}
	assertCloseSlice(t, got.Data, []float32{10, 200}, 1e-6)
}

func TestConv3dVolumeSum(t *testing.T) {
	x := New(1, 1, 2, 2, 2)
	for i := range x.Data {
		x.Data[i] = 1
	}
	w := New(1, 1, 2, 2, 2)
	for i := range w.Data {
		w.Data[i] = 1
	}
	got, err := Conv3d(x, w, nil, [3]int{1, 1, 1}, [3]int{0, 0, 0}, [3]int{1, 1, 1}, 1)
	if err != nil {
		t.Fatalf("Conv3d: %v", err)
	}
	if got.Len() != 1 || got.Data[0] != 8 {
		t.Fatalf("volume sum = %v (len %d), want 8", got.Data, got.Len())
	}
}

func TestConvBadGroups(t *testing.T) {
	x := New(1, 3, 4)
	w := New(2, 1, 1)
	if _, err := Conv1d(x, w, nil, 1, 0, 1, 2); err == nil {
		t.Fatal("expected error: 3 input channels not divisible by 2 groups")
	}
}

func TestReLU(t *testing.T) {
	x := FromData([]float32{-1, 0, 2}, 3)
	got := ReLU(x)
	assertCloseSlice(t, got.Data, []float32{0, 0, 2}, 0)
}

func TestAdd(t *testing.T) {
	a := FromData([]float32{1, 2}, 2)
	b := FromData([]float32{3, -2}, 2)
	assertCloseSlice(t, Add(a, b).Data, []float32{4, 0}, 0)
}
