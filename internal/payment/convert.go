package payment

// PiconeroPerXMR is the number of atomic units in one XMR.
const PiconeroPerXMR = 1_000_000_000_000

// XMR converts an atomic amount to XMR.
func XMR(amount uint64) float64 {
	return float64(amount) / PiconeroPerXMR
}

// Convert returns the watt-hours bought by amount piconero at pricePerKWh
// XMR per kWh. It is a pure function of its arguments.
func Convert(pricePerKWh float64, amount uint64) float64 {
	xmr := XMR(amount)
	return (xmr / pricePerKWh) * 1000
}

// Credit converts t into the energy credit it pays for.
func (t Transfer) Credit(pricePerKWh float64) Credit {
	return Credit{
		Address:   t.Address,
		TxID:      t.TxID,
		WattHours: Convert(pricePerKWh, t.Amount),
	}
}
