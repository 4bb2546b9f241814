package library

import (
	"encoding/json"
)

// FeeVersionJSON returns a fee version definition for factory.ParseFeeVersion.
func FeeVersionJSON(effectiveFrom string, monthly, deposit, firstHalf, secondHalf int64) string {
	fv := map[string]interface{}{
		"kind":           ID,
		"effective_from": effectiveFrom,
		"monthly_fee":    monthly,
		"deposit":        deposit,
		"tiers": []map[string]interface{}{
			{"up_to_day": 15, "fee": firstHalf},
			{"up_to_day": 31, "fee": secondHalf},
		},
	}
	b, _ := json.MarshalIndent(fv, "", "  ")
	return string(b)
}
