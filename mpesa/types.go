package mpesa

import (
	"encoding/json"
	"strconv"
	"strings"
)

// STKPushRequest is the outbound push-payment body
// (POST <base>/mpesa/stkpush/v1/processrequest).
type STKPushRequest struct {
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

// STKPushResponse is the synchronous initiation result. CheckoutRequestID is
// the only reliable key to match a later callback or poll result back to the
// attempt.
type STKPushResponse struct {
	MerchantRequestID   string `json:"MerchantRequestID"`
	CheckoutRequestID   string `json:"CheckoutRequestID"`
	ResponseCode        string `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	CustomerMessage     string `json:"CustomerMessage"`
}

// QueryRequest is the outbound status query body
// (POST <base>/mpesa/stkpushquery/v1/query).
type QueryRequest struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	CheckoutRequestID string `json:"CheckoutRequestID"`
}

type queryResponse struct {
	ResponseCode        string            `json:"ResponseCode"`
	ResponseDescription string            `json:"ResponseDescription"`
	MerchantRequestID   string            `json:"MerchantRequestID"`
	CheckoutRequestID   string            `json:"CheckoutRequestID"`
	ResultCode          json.Number       `json:"ResultCode"`
	ResultDesc          string            `json:"ResultDesc"`
	CallbackMetadata    *CallbackMetadata `json:"CallbackMetadata"`
}

// QueryResult is the parsed status-query outcome. ResultCode 0 means success;
// any other value is failure-or-still-pending — the caller decides when to
// stop polling.
type QueryResult struct {
	ResultCode int
	ResultDesc string
	Amount     int64
	Receipt    string
	Phone      string
	Raw        []byte
}

// CallbackEnvelope is the inbound webhook body
// ({Body:{stkCallback:{...}}}).
type CallbackEnvelope struct {
	Body struct {
		StkCallback StkCallback `json:"stkCallback"`
	} `json:"Body"`
}

type StkCallback struct {
	MerchantRequestID string            `json:"MerchantRequestID"`
	CheckoutRequestID string            `json:"CheckoutRequestID"`
	ResultCode        int               `json:"ResultCode"`
	ResultDesc        string            `json:"ResultDesc"`
	CallbackMetadata  *CallbackMetadata `json:"CallbackMetadata"`
}

type CallbackMetadata struct {
	Item []MetadataItem `json:"Item"`
}

// MetadataItem values arrive as numbers for Amount/PhoneNumber and strings
// for MpesaReceiptNumber; some sandbox payloads stringify everything.
type MetadataItem struct {
	Name  string      `json:"Name"`
	Value interface{} `json:"Value"`
}

// Succeeded reports the terminal outcome of a callback.
func (cb StkCallback) Succeeded() bool {
	return cb.ResultCode == 0
}

// Values extracts the amount, receipt number and payer phone from the
// metadata item list. Missing metadata (failure callbacks omit it) yields
// zero values.
func (m *CallbackMetadata) Values() (amount int64, receipt string, phone string) {
	if m == nil {
		return 0, "", ""
	}
	for _, item := range m.Item {
		switch item.Name {
		case "Amount":
			amount = toInt64(item.Value)
		case "MpesaReceiptNumber":
			receipt = toString(item.Value)
		case "PhoneNumber":
			phone = toString(item.Value)
		}
	}
	return amount, receipt, phone
}

func toInt64(v interface{}) int64 {
	switch n := v.(type) {
	case float64:
		return int64(n + 0.5)
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return 0
		}
		return int64(f + 0.5)
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0
		}
		return int64(f + 0.5)
	default:
		return 0
	}
}

func toString(v interface{}) string {
	switch s := v.(type) {
	case string:
		return s
	case float64:
		// Phone numbers arrive as JSON numbers; they fit in 15 digits so the
		// float64 representation is exact.
		return strconv.FormatInt(int64(s), 10)
	case json.Number:
		return s.String()
	default:
		return ""
	}
}
