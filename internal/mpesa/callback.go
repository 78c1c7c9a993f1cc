package mpesa

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/georgemgichuru/Makau-Rentals---Backend/internal/shared/money"
)

// Ack is the body every webhook receiver replies with, whatever happened
// internally.
type Ack struct {
	ResultCode int    `json:"ResultCode"`
	ResultDesc string `json:"ResultDesc"`
}

var Accepted = Ack{ResultCode: 0, ResultDesc: "Accepted"}

type metadataItem struct {
	Name  string `json:"Name"`
	Value any    `json:"Value,omitempty"`
}

type stkEnvelope struct {
	Body struct {
		StkCallback struct {
			MerchantRequestID string      `json:"MerchantRequestID"`
			CheckoutRequestID string      `json:"CheckoutRequestID"`
			ResultCode        json.Number `json:"ResultCode"`
			ResultDesc        string      `json:"ResultDesc"`
			AccountReference  string      `json:"AccountReference,omitempty"`
			CallbackMetadata  *struct {
				Item []metadataItem `json:"Item"`
			} `json:"CallbackMetadata,omitempty"`
		} `json:"stkCallback"`
	} `json:"Body"`
}

// STKResult is the flattened outcome of an STK push.
type STKResult struct {
	MerchantRequestID string
	CheckoutRequestID string
	ResultCode        int
	ResultDesc        string

	Amount           decimal.Decimal
	HasAmount        bool
	Receipt          string
	Phone            string
	AccountReference string
	TransactionDate  *time.Time
}

func (r STKResult) Succeeded() bool { return r.ResultCode == 0 }

// ParseSTKCallback decodes the gateway's nested callback body. Numbers are
// kept as json.Number so 12-digit phone numbers survive intact.
func ParseSTKCallback(body []byte) (STKResult, error) {
	var env stkEnvelope
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&env); err != nil {
		return STKResult{}, fmt.Errorf("decode stk callback: %w", err)
	}

	cb := env.Body.StkCallback
	if cb.ResultCode == "" {
		return STKResult{}, fmt.Errorf("decode stk callback: missing ResultCode")
	}
	code, err := cb.ResultCode.Int64()
	if err != nil {
		return STKResult{}, fmt.Errorf("decode stk callback: ResultCode %q: %w", cb.ResultCode, err)
	}

	res := STKResult{
		MerchantRequestID: cb.MerchantRequestID,
		CheckoutRequestID: cb.CheckoutRequestID,
		ResultCode:        int(code),
		ResultDesc:        cb.ResultDesc,
		AccountReference:  cb.AccountReference,
	}
	if cb.CallbackMetadata == nil {
		return res, nil
	}

	for _, it := range cb.CallbackMetadata.Item {
		switch it.Name {
		case "Amount":
			if amt, err := money.Parse(it.Value); err == nil {
				res.Amount, res.HasAmount = amt, true
			}
		case "MpesaReceiptNumber":
			res.Receipt = valueString(it.Value)
		case "PhoneNumber":
			res.Phone = valueString(it.Value)
		case "AccountReference", "BillRefNumber":
			if res.AccountReference == "" {
				res.AccountReference = valueString(it.Value)
			}
		case "TransactionDate":
			if t, err := time.ParseInLocation("20060102150405", valueString(it.Value), eat); err == nil {
				res.TransactionDate = &t
			}
		}
	}
	return res, nil
}

type resultEnvelope struct {
	Result struct {
		ResultType               json.Number `json:"ResultType"`
		ResultCode               json.Number `json:"ResultCode"`
		ResultDesc               string      `json:"ResultDesc"`
		OriginatorConversationID string      `json:"OriginatorConversationID"`
		ConversationID           string      `json:"ConversationID"`
		TransactionID            string      `json:"TransactionID"`
	} `json:"Result"`
}

// PayoutResult is the asynchronous outcome of a B2C/B2B payout.
type PayoutResult struct {
	ResultCode               int
	ResultDesc               string
	OriginatorConversationID string
	ConversationID           string
	TransactionID            string
}

func (r PayoutResult) Succeeded() bool { return r.ResultCode == 0 }

func ParsePayoutResult(body []byte) (PayoutResult, error) {
	var env resultEnvelope
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&env); err != nil {
		return PayoutResult{}, fmt.Errorf("decode payout result: %w", err)
	}
	r := env.Result
	if r.ConversationID == "" && r.OriginatorConversationID == "" {
		return PayoutResult{}, fmt.Errorf("decode payout result: missing conversation ids")
	}
	code, err := r.ResultCode.Int64()
	if err != nil {
		return PayoutResult{}, fmt.Errorf("decode payout result: ResultCode %q: %w", r.ResultCode, err)
	}
	return PayoutResult{
		ResultCode:               int(code),
		ResultDesc:               r.ResultDesc,
		OriginatorConversationID: r.OriginatorConversationID,
		ConversationID:           r.ConversationID,
		TransactionID:            r.TransactionID,
	}, nil
}

func valueString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(x)
	case json.Number:
		return x.String()
	default:
		return strings.TrimSpace(fmt.Sprint(x))
	}
}
