package types

// SideType define order side
type SideType string

const (
	SideTypeBuy  = SideType("buy")
	SideTypeSell = SideType("sell")
)

func (side SideType) Reverse() SideType {
	switch side {
	case SideTypeBuy:
		return SideTypeSell

	case SideTypeSell:
		return SideTypeBuy
	}

	return side
}

func (side SideType) String() string {
	return string(side)
}

// Sign returns +1 for buy and -1 for sell, used for signed position quantities.
func (side SideType) Sign() float64 {
	if side == SideTypeSell {
		return -1
	}

	return 1
}
