package mpesa

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

// STKCallbackInput describes a callback body in the gateway's shape. Used by
// the operator CLI to replay callbacks and by tests.
type STKCallbackInput struct {
	CheckoutRequestID string
	ResultCode        int
	ResultDesc        string
	Amount            decimal.Decimal
	Receipt           string
	Phone             string
	AccountReference  string
	TransactionDate   string
}

func BuildSTKCallback(in STKCallbackInput) ([]byte, error) {
	desc := in.ResultDesc
	if desc == "" {
		desc = "The service request is processed successfully."
		if in.ResultCode != 0 {
			desc = "Request cancelled by user"
		}
	}

	cb := map[string]any{
		"MerchantRequestID": "mr-" + in.CheckoutRequestID,
		"CheckoutRequestID": in.CheckoutRequestID,
		"ResultCode":        in.ResultCode,
		"ResultDesc":        desc,
	}
	if in.ResultCode == 0 {
		items := []metadataItem{
			{Name: "Amount", Value: json.Number(in.Amount.String())},
			{Name: "MpesaReceiptNumber", Value: in.Receipt},
		}
		if in.TransactionDate != "" {
			items = append(items, metadataItem{Name: "TransactionDate", Value: json.Number(in.TransactionDate)})
		}
		if in.Phone != "" {
			items = append(items, metadataItem{Name: "PhoneNumber", Value: numberOrString(in.Phone)})
		}
		if in.AccountReference != "" {
			items = append(items, metadataItem{Name: "AccountReference", Value: in.AccountReference})
		}
		cb["CallbackMetadata"] = map[string]any{"Item": items}
	}

	return json.Marshal(map[string]any{"Body": map[string]any{"stkCallback": cb}})
}

// The gateway sends phones as JSON numbers; forms that are not valid
// number literals (leading 0 or +) go out as strings.
func numberOrString(s string) any {
	if s == "" || s[0] == '0' || s[0] == '+' {
		return s
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return s
		}
	}
	return json.Number(s)
}
