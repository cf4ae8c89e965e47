package models

// VectorOrder результат сравнения двух version vector.
type VectorOrder int

const (
	// VectorEqual векторы идентичны
	VectorEqual VectorOrder = iota
	// VectorBefore левый вектор строго предшествует правому (правый доминирует)
	VectorBefore
	// VectorAfter левый вектор строго доминирует над правым
	VectorAfter
	// VectorConcurrent ни один из векторов не доминирует - изменения конкурентны
	VectorConcurrent
)

// VersionVector отображает origin client id на наибольший включенный
// sequence number этого клиента. Используется для определения причинного
// порядка (dominance) и конкурентности изменений.
type VersionVector map[string]int64

// NewVersionVector создает пустой version vector.
func NewVersionVector() VersionVector {
	return make(VersionVector)
}

// Get возвращает счетчик для указанного origin (0 если origin неизвестен).
func (v VersionVector) Get(origin string) int64 {
	return v[origin]
}

// Set устанавливает счетчик для origin. Счетчики монотонны:
// значение меньше текущего игнорируется.
func (v VersionVector) Set(origin string, seq int64) {
	if seq > v[origin] {
		v[origin] = seq
	}
}

// Clone создает глубокую копию вектора.
func (v VersionVector) Clone() VersionVector {
	clone := make(VersionVector, len(v))
	for origin, seq := range v {
		clone[origin] = seq
	}
	return clone
}

// Merge поэлементно объединяет вектор с другим (берется максимум).
// Операция коммутативна и идемпотентна.
func (v VersionVector) Merge(other VersionVector) {
	for origin, seq := range other {
		if seq > v[origin] {
			v[origin] = seq
		}
	}
}

// Compare определяет причинное отношение между двумя векторами.
func (v VersionVector) Compare(other VersionVector) VectorOrder {
	less := false    // существует счетчик, где v < other
	greater := false // существует счетчик, где v > other

	for origin, seq := range v {
		if seq > other[origin] {
			greater = true
		} else if seq < other[origin] {
			less = true
		}
	}
	for origin, seq := range other {
		if _, ok := v[origin]; !ok && seq > 0 {
			less = true
		}
	}

	switch {
	case less && greater:
		return VectorConcurrent
	case less:
		return VectorBefore
	case greater:
		return VectorAfter
	default:
		return VectorEqual
	}
}

// Dominates возвращает true, если вектор включает все изменения other.
func (v VersionVector) Dominates(other VersionVector) bool {
	order := v.Compare(other)
	return order == VectorAfter || order == VectorEqual
}

// ConcurrentWith возвращает true, если изменения причинно не связаны.
func (v VersionVector) ConcurrentWith(other VersionVector) bool {
	return v.Compare(other) == VectorConcurrent
}
