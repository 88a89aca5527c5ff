/**
 * @description
 * This file models the asynchronous STK push result envelope that the M-PESA
 * Daraja gateway delivers to our webhook, and the flattened view of it the
 * reconciler works with.
 *
 * @notes
 * - ResultCode 0 denotes success; any other value is a failure.
 * - CallbackMetadata is only present on success and carries name/value items,
 *   of which `MpesaReceiptNumber` and `Amount` matter to us.
 */

package domain

import "encoding/json"

// STKCallbackEnvelope is the exact wire shape Daraja POSTs to the callback URL.
type STKCallbackEnvelope struct {
	Body struct {
		StkCallback struct {
			MerchantRequestID string `json:"MerchantRequestID"`
			CheckoutRequestID string `json:"CheckoutRequestID"`
			ResultCode        int    `json:"ResultCode"`
			ResultDesc        string `json:"ResultDesc"`
			CallbackMetadata  *struct {
				Item []STKCallbackItem `json:"Item"`
			} `json:"CallbackMetadata,omitempty"`
		} `json:"stkCallback"`
	} `json:"Body"`
}

// STKCallbackItem is one name/value pair of the success metadata. Value is
// left as raw JSON because Daraja mixes strings and numbers in the same list.
type STKCallbackItem struct {
	Name  string          `json:"Name"`
	Value json.RawMessage `json:"Value"`
}

// CallbackResult is the flattened, validated view of an envelope that the
// reconciler consumes.
type CallbackResult struct {
	CheckoutRequestID string
	ResultCode        int
	ResultDesc        string
	Receipt           string
	Amount            int64 // in cents, as confirmed by the gateway
}

// Success reports whether the gateway confirmed the payment.
func (r CallbackResult) Success() bool {
	return r.ResultCode == 0
}
