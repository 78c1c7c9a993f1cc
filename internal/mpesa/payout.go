package mpesa

import "context"

const (
	DestinationPhone = "phone"
	DestinationTill  = "till"
)

type PayoutRequest struct {
	// OriginatorConversationID is echoed back on the result callback.
	OriginatorConversationID string
	Amount                   int64
	Destination              string
	DestinationType          string // phone | till
	Remarks                  string
	ResultURL                string
	TimeoutURL               string
}

type PayoutResponse struct {
	ConversationID           string `json:"ConversationID"`
	OriginatorConversationID string `json:"OriginatorConversationID"`
	ResponseCode             string `json:"ResponseCode"`
	ResponseDesc             string `json:"ResponseDescription"`
}

type b2cRequest struct {
	OriginatorConversationID string `json:"OriginatorConversationID"`
	InitiatorName            string `json:"InitiatorName"`
	SecurityCredential       string `json:"SecurityCredential"`
	CommandID                string `json:"CommandID"`
	Amount                   int64  `json:"Amount"`
	PartyA                   string `json:"PartyA"`
	PartyB                   string `json:"PartyB"`
	Remarks                  string `json:"Remarks"`
	QueueTimeOutURL          string `json:"QueueTimeOutURL"`
	ResultURL                string `json:"ResultURL"`
	Occasion                 string `json:"Occasion"`
}

type b2bRequest struct {
	Initiator              string `json:"Initiator"`
	SecurityCredential     string `json:"SecurityCredential"`
	CommandID              string `json:"CommandID"`
	SenderIdentifierType   string `json:"SenderIdentifierType"`
	RecieverIdentifierType string `json:"RecieverIdentifierType"`
	Amount                 int64  `json:"Amount"`
	PartyA                 string `json:"PartyA"`
	PartyB                 string `json:"PartyB"`
	AccountReference       string `json:"AccountReference"`
	Remarks                string `json:"Remarks"`
	QueueTimeOutURL        string `json:"QueueTimeOutURL"`
	ResultURL              string `json:"ResultURL"`
}

// Payout sends money from the business shortcode to a landlord: B2C for
// phone numbers, BusinessBuyGoods for till numbers.
func (c *Client) Payout(ctx context.Context, req PayoutRequest) (PayoutResponse, error) {
	var (
		path string
		body any
	)
	if req.DestinationType == DestinationTill {
		path = b2bPath
		body = b2bRequest{
			Initiator:              c.cfg.InitiatorName,
			SecurityCredential:     c.cfg.SecurityCredential,
			CommandID:              "BusinessBuyGoods",
			SenderIdentifierType:   "4",
			RecieverIdentifierType: "4",
			Amount:                 req.Amount,
			PartyA:                 c.cfg.B2CShortcode,
			PartyB:                 req.Destination,
			AccountReference:       req.OriginatorConversationID,
			Remarks:                req.Remarks,
			QueueTimeOutURL:        req.TimeoutURL,
			ResultURL:              req.ResultURL,
		}
	} else {
		path = b2cPath
		body = b2cRequest{
			OriginatorConversationID: req.OriginatorConversationID,
			InitiatorName:            c.cfg.InitiatorName,
			SecurityCredential:       c.cfg.SecurityCredential,
			CommandID:                "BusinessPayment",
			Amount:                   req.Amount,
			PartyA:                   c.cfg.B2CShortcode,
			PartyB:                   req.Destination,
			Remarks:                  req.Remarks,
			QueueTimeOutURL:          req.TimeoutURL,
			ResultURL:                req.ResultURL,
			Occasion:                 "rent",
		}
	}

	var out PayoutResponse
	if err := c.post(ctx, path, body, &out); err != nil {
		return PayoutResponse{}, err
	}
	if out.ResponseCode != okResponse {
		return out, &RejectedError{Code: out.ResponseCode, Message: out.ResponseDesc}
	}
	return out, nil
}
