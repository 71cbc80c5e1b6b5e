package backtest

// Fill is an executed price with its quantity and commission.
type Fill struct {
	Price      float64
	Qty        float64
	Commission float64
}

// ExecutionModel prices long entries and exits. Every entry is sized to the
// initial capital, and commission is a fixed InitialCapital*CommissionRate
// per side regardless of current equity.
type ExecutionModel struct {
	InitialCapital float64
	CommissionRate float64
}

func (m ExecutionModel) commission() float64 {
	if m.CommissionRate <= 0 {
		return 0
	}
	return m.InitialCapital * m.CommissionRate
}

// Entry fills a long entry at close*(1+slippage).
func (m ExecutionModel) Entry(closePrice, slippage float64) (Fill, error) {
	price := applySlippage(closePrice, slippage, SignalBuy)
	if price <= 0 {
		return Fill{}, ErrInvalidFill
	}
	return Fill{
		Price:      price,
		Qty:        m.InitialCapital / price,
		Commission: m.commission(),
	}, nil
}

// Exit fills a long exit of qty at close*(1-slippage).
func (m ExecutionModel) Exit(closePrice, slippage, qty float64) (Fill, error) {
	price := applySlippage(closePrice, slippage, SignalSell)
	if price <= 0 {
		return Fill{}, ErrInvalidFill
	}
	return Fill{Price: price, Qty: qty, Commission: m.commission()}, nil
}

func applySlippage(price, slippage float64, sig Signal) float64 {
	if price <= 0 || slippage <= 0 {
		return price
	}
	switch sig {
	case SignalBuy:
		return price * (1 + slippage)
	case SignalSell:
		return price * (1 - slippage)
	default:
		return price
	}
}
