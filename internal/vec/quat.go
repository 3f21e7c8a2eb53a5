package vec

import "math"

// Quat представляет кватернион вращения (w, x, y, z)
type Quat struct {
	W float64 `json:"w"`
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// IdentityQuat возвращает единичный кватернион
func IdentityQuat() Quat {
	return Quat{W: 1}
}

// Normalize приводит кватернион к единичной длине
func (q Quat) Normalize() Quat {
	length := math.Sqrt(q.W*q.W + q.X*q.X + q.Y*q.Y + q.Z*q.Z)
	if length == 0 {
		return IdentityQuat()
	}
	return Quat{W: q.W / length, X: q.X / length, Y: q.Y / length, Z: q.Z / length}
}

// Equals проверяет равенство кватернионов
func (q Quat) Equals(other Quat) bool {
	return q.W == other.W && q.X == other.X && q.Y == other.Y && q.Z == other.Z
}

// Slerp сферически интерполирует между двумя кватернионами, t в [0,1]
func (q Quat) Slerp(other Quat, t float64) Quat {
	dot := q.W*other.W + q.X*other.X + q.Y*other.Y + q.Z*other.Z

	// Интерполируем по короткой дуге
	b := other
	if dot < 0 {
		dot = -dot
		b = Quat{W: -other.W, X: -other.X, Y: -other.Y, Z: -other.Z}
	}

	// Почти параллельные кватернионы — обычный lerp, иначе деление на ~0
	if dot > 0.9995 {
		return Quat{
			W: q.W + t*(b.W-q.W),
			X: q.X + t*(b.X-q.X),
			Y: q.Y + t*(b.Y-q.Y),
			Z: q.Z + t*(b.Z-q.Z),
		}.Normalize()
	}

	theta := math.Acos(dot)
	sinTheta := math.Sin(theta)
	wa := math.Sin((1-t)*theta) / sinTheta
	wb := math.Sin(t*theta) / sinTheta

	return Quat{
		W: wa*q.W + wb*b.W,
		X: wa*q.X + wb*b.X,
		Y: wa*q.Y + wb*b.Y,
		Z: wa*q.Z + wb*b.Z,
	}
}

const quatComponentRange = 0.7071068 // 1/sqrt(2), диапазон трёх меньших компонент

// Compress упаковывает кватернион в uint32 по схеме "smallest three":
// индекс наибольшей компоненты (2 бита) + три остальных по 10 бит.
func (q Quat) Compress() uint32 {
	comps := [4]float64{q.W, q.X, q.Y, q.Z}

	largest := 0
	for i := 1; i < 4; i++ {
		if math.Abs(comps[i]) > math.Abs(comps[largest]) {
			largest = i
		}
	}

	// Знак наибольшей компоненты переносим на остальные,
	// чтобы при распаковке она была неотрицательной
	sign := 1.0
	if comps[largest] < 0 {
		sign = -1.0
	}

	packed := uint32(largest) << 30
	slot := 0
	for i := 0; i < 4; i++ {
		if i == largest {
			continue
		}
		val := comps[i] * sign
		quantized := int((val+quatComponentRange)/(2*quatComponentRange)*1023 + 0.5)
		if quantized < 0 {
			quantized = 0
		}
		if quantized > 1023 {
			quantized = 1023
		}
		packed |= uint32(quantized) << (slot * 10)
		slot++
	}
	return packed
}

// DecompressQuat распаковывает кватернион из uint32
func DecompressQuat(packed uint32) Quat {
	largest := int((packed >> 30) & 0x3)

	var comps [4]float64
	slot := 0
	sumSq := 0.0
	for i := 0; i < 4; i++ {
		if i == largest {
			continue
		}
		quantized := (packed >> (slot * 10)) & 0x3FF
		comps[i] = float64(quantized)/1023*(2*quatComponentRange) - quatComponentRange
		sumSq += comps[i] * comps[i]
		slot++
	}
	comps[largest] = math.Sqrt(math.Max(0, 1-sumSq))

	return Quat{W: comps[0], X: comps[1], Y: comps[2], Z: comps[3]}
}
