package payment

// Transfer is an incoming wallet transfer as reported by monero-wallet-rpc.
// The same TxID is reported again on every poll until the wallet forgets it.
type Transfer struct {
	Address string `json:"address"`
	TxID    string `json:"txid"`
	Amount  uint64 `json:"amount"` // piconero
}

// Credit is the energy owed to one device for one transaction.
type Credit struct {
	Address   string  `json:"address"`
	TxID      string  `json:"txid"`
	WattHours float64 `json:"watt_hours"`
}
