package device

import (
	"fmt"

	"github.com/tidwall/gjson"
)

// parseSwitchStatus extracts the meter from a Switch.GetStatus result,
// e.g. {"id":0,"output":true,"apower":812.3,"aenergy":{"total":10423.7,...}}.
func parseSwitchStatus(raw []byte) (Status, error) {
	if !gjson.ValidBytes(raw) {
		return Status{}, fmt.Errorf("%w: invalid json", ErrStatus)
	}
	total := gjson.GetBytes(raw, "aenergy.total")
	if total.Type != gjson.Number {
		return Status{}, fmt.Errorf("%w: aenergy.total missing", ErrStatus)
	}
	return Status{
		Power: gjson.GetBytes(raw, "apower").Float(),
		Total: total.Float(),
	}, nil
}
