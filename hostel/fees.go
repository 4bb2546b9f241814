package hostel

import (
	"encoding/json"
)

// FeeVersionJSON returns a fee version definition for factory.ParseFeeVersion.
// Tiers follow the default day brackets with the given amounts.
func FeeVersionJSON(effectiveFrom string, monthly, deposit, early, mid, late int64) string {
	fv := map[string]interface{}{
		"kind":           ID,
		"effective_from": effectiveFrom,
		"monthly_fee":    monthly,
		"deposit":        deposit,
		"tiers": []map[string]interface{}{
			{"up_to_day": 10, "fee": early},
			{"up_to_day": 20, "fee": mid},
			{"up_to_day": 31, "fee": late},
		},
	}
	b, _ := json.MarshalIndent(fv, "", "  ")
	return string(b)
}
