package gatekeeper

import (
	"context"
	"encoding/json"
	"fmt"
)

// WelfareTools returns the demonstration tools of a welfare case management
// agent: one read and two writes of increasing risk.
func WelfareTools() []*Tool {
	return []*Tool{
		{
			Name:        "check_payment_status",
			Description: "Check the payment status for a beneficiary. Low risk.",
			Intent: func(args map[string]interface{}) string {
				return fmt.Sprintf("Check payment status for beneficiary %v", args["beneficiary_id"])
			},
			Handler: func(ctx context.Context, args map[string]interface{}) (string, error) {
				return fmt.Sprintf("Payment Status for %v: Active. Last payment: $500 on 2023-10-01.", args["beneficiary_id"]), nil
			},
		},
		{
			Name:        "request_payment_extension",
			Description: "Request a payment extension. High risk.",
			Intent: func(args map[string]interface{}) string {
				return fmt.Sprintf("Request payment extension for beneficiary %v because %v", args["beneficiary_id"], args["reason"])
			},
			Handler: func(ctx context.Context, args map[string]interface{}) (string, error) {
				return fmt.Sprintf("Payment extension granted for %v.", args["beneficiary_id"]), nil
			},
		},
		{
			Name:        "modify_welfare_record",
			Description: "Modify a welfare record. Very high risk.",
			Intent: func(args map[string]interface{}) string {
				changes, _ := json.Marshal(args["changes"])
				return fmt.Sprintf("Modify welfare record for beneficiary %v with changes %s", args["beneficiary_id"], changes)
			},
			Handler: func(ctx context.Context, args map[string]interface{}) (string, error) {
				return fmt.Sprintf("Welfare record for %v updated.", args["beneficiary_id"]), nil
			},
		},
	}
}
