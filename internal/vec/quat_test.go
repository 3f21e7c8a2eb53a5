package vec

import (
	"math"
	"testing"
)

func quatClose(a, b Quat, eps float64) bool {
	// Кватернионы q и -q задают одно вращение
	dot := a.W*b.W + a.X*b.X + a.Y*b.Y + a.Z*b.Z
	return math.Abs(math.Abs(dot)-1) < eps
}

func TestQuatNormalize(t *testing.T) {
	q := Quat{W: 2, X: 0, Y: 0, Z: 0}.Normalize()
	if !q.Equals(IdentityQuat()) {
		t.Errorf("нормализация вернула %v", q)
	}

	zero := Quat{}.Normalize()
	if !zero.Equals(IdentityQuat()) {
		t.Errorf("нулевой кватернион должен нормализоваться в единичный, получен %v", zero)
	}
}

func TestQuatSlerpEndpoints(t *testing.T) {
	a := IdentityQuat()
	// Поворот на 90° вокруг Y
	b := Quat{W: math.Cos(math.Pi / 4), Y: math.Sin(math.Pi / 4)}.Normalize()

	if got := a.Slerp(b, 0); !quatClose(got, a, 1e-9) {
		t.Errorf("Slerp(0) вернул %v", got)
	}
	if got := a.Slerp(b, 1); !quatClose(got, b, 1e-9) {
		t.Errorf("Slerp(1) вернул %v", got)
	}

	// Середина — поворот на 45°
	mid := a.Slerp(b, 0.5)
	want := Quat{W: math.Cos(math.Pi / 8), Y: math.Sin(math.Pi / 8)}
	if !quatClose(mid, want, 1e-9) {
		t.Errorf("Slerp(0.5) вернул %v, ожидалось %v", mid, want)
	}
}

func TestQuatCompressRoundTrip(t *testing.T) {
	cases := []Quat{
		IdentityQuat(),
		{W: math.Cos(math.Pi / 4), Y: math.Sin(math.Pi / 4)},
		{W: 0.5, X: 0.5, Y: 0.5, Z: 0.5},
		{W: -0.5, X: 0.5, Y: -0.5, Z: 0.5},
		Quat{W: 0.1, X: 0.2, Y: 0.3, Z: 0.927}.Normalize(),
	}

	for _, q := range cases {
		q = q.Normalize()
		restored := DecompressQuat(q.Compress())

		// 10 бит на компоненту: точность порядка 1.4e-3
		if !quatClose(q, restored, 5e-3) {
			t.Errorf("round-trip %v -> %v", q, restored)
		}
	}
}

func TestQuatCompressLargestComponentNonNegative(t *testing.T) {
	q := Quat{W: -0.9, X: 0.3, Y: 0.2, Z: 0.25}.Normalize()
	restored := DecompressQuat(q.Compress())

	comps := [4]float64{restored.W, restored.X, restored.Y, restored.Z}
	largest := 0
	for i := 1; i < 4; i++ {
		if math.Abs(comps[i]) > math.Abs(comps[largest]) {
			largest = i
		}
	}
	if comps[largest] < 0 {
		t.Errorf("наибольшая компонента после распаковки отрицательна: %v", restored)
	}
}
