package mpesa

import "context"

type PushRequest struct {
	Amount           int64
	Phone            string // canonical 254XXXXXXXXX
	CallbackURL      string
	AccountReference string
	Description      string
}

type PushResponse struct {
	MerchantRequestID string `json:"MerchantRequestID"`
	CheckoutRequestID string `json:"CheckoutRequestID"`
	ResponseCode      string `json:"ResponseCode"`
	ResponseDesc      string `json:"ResponseDescription"`
	CustomerMessage   string `json:"CustomerMessage"`
}

type stkRequest struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	TransactionType   string `json:"TransactionType"`
	Amount            int64  `json:"Amount"`
	PartyA            string `json:"PartyA"`
	PartyB            string `json:"PartyB"`
	PhoneNumber       string `json:"PhoneNumber"`
	CallBackURL       string `json:"CallBackURL"`
	AccountReference  string `json:"AccountReference"`
	TransactionDesc   string `json:"TransactionDesc"`
}

// Push asks the gateway to prompt the payer's handset. It returns once the
// gateway has accepted the request; the outcome arrives on CallbackURL.
func (c *Client) Push(ctx context.Context, req PushRequest) (PushResponse, error) {
	ts := c.timestamp()
	body := stkRequest{
		BusinessShortCode: c.cfg.Shortcode,
		Password:          c.password(ts),
		Timestamp:         ts,
		TransactionType:   "CustomerPayBillOnline",
		Amount:            req.Amount,
		PartyA:            req.Phone,
		PartyB:            c.cfg.Shortcode,
		PhoneNumber:       req.Phone,
		CallBackURL:       req.CallbackURL,
		AccountReference:  req.AccountReference,
		TransactionDesc:   req.Description,
	}

	var out PushResponse
	if err := c.post(ctx, stkPath, body, &out); err != nil {
		return PushResponse{}, err
	}
	if out.ResponseCode != okResponse {
		return out, &RejectedError{Code: out.ResponseCode, Message: out.ResponseDesc}
	}
	return out, nil
}
