package gateway

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

type (
	// AgreementRequest is the body of an end user agreement creation.
	AgreementRequest struct {
		InstitutionID      string   `json:"institution_id"`
		MaxHistoricalDays  int      `json:"max_historical_days"`
		AccessValidForDays int      `json:"access_valid_for_days"`
		AccessScope        []string `json:"access_scope"`
	}

	Agreement struct {
		ID                 string    `json:"id"`
		Created            Timestamp `json:"created"`
		InstitutionID      string    `json:"institution_id"`
		MaxHistoricalDays  FlexInt   `json:"max_historical_days"`
		AccessValidForDays FlexInt   `json:"access_valid_for_days"`
		AccessScope        []string  `json:"access_scope"`
		Accepted           Timestamp `json:"accepted"`
	}

	// LinkRequest is the body of a requisition creation.
	LinkRequest struct {
		Redirect      string `json:"redirect"`
		InstitutionID string `json:"institution_id"`
		Agreement     string `json:"agreement"`
		UserLanguage  string `json:"user_language,omitempty"`
		Reference     string `json:"reference,omitempty"`
	}

	// Requisition is the provider's handle on one consent flow.
	Requisition struct {
		ID            string    `json:"id"`
		Created       Timestamp `json:"created"`
		Redirect      string    `json:"redirect"`
		Status        string    `json:"status"`
		InstitutionID string    `json:"institution_id"`
		Agreement     string    `json:"agreement"`
		Reference     string    `json:"reference"`
		Accounts      []string  `json:"accounts"`
		UserLanguage  string    `json:"user_language"`
		Link          string    `json:"link"`
	}

	Institution struct {
		ID                   string   `json:"id"`
		Name                 string   `json:"name"`
		BIC                  string   `json:"bic"`
		TransactionTotalDays FlexInt  `json:"transaction_total_days"`
		Countries            []string `json:"countries"`
		Logo                 string   `json:"logo"`
	}

	TransactionsResponse struct {
		Transactions TransactionSet `json:"transactions"`
	}

	TransactionSet struct {
		Booked  []RawTransaction `json:"booked"`
		Pending []RawTransaction `json:"pending"`
	}

	// RawTransaction is a transaction in the aggregator's wire format. It
	// only lives between fetch and normalization.
	RawTransaction struct {
		TransactionID         string `json:"transactionId,omitempty"`
		InternalTransactionID string `json:"internalTransactionId,omitempty"`
		EndToEndID            string `json:"endToEndId,omitempty"`

		BookingDate string `json:"bookingDate,omitempty"`
		ValueDate   string `json:"valueDate,omitempty"`

		TransactionAmount AmountPair `json:"transactionAmount"`

		DebtorName      string      `json:"debtorName,omitempty"`
		DebtorAccount   *AccountRef `json:"debtorAccount,omitempty"`
		CreditorName    string      `json:"creditorName,omitempty"`
		CreditorAccount *AccountRef `json:"creditorAccount,omitempty"`

		RemittanceInformationUnstructured      string   `json:"remittanceInformationUnstructured,omitempty"`
		RemittanceInformationUnstructuredArray []string `json:"remittanceInformationUnstructuredArray,omitempty"`
		ProprietaryBankTransactionCode         string   `json:"proprietaryBankTransactionCode,omitempty"`

		// Not sent by every bank; some payloads are pre-classified upstream.
		TransactionType string `json:"transactionType,omitempty"`
		Category        string `json:"category,omitempty"`
		SubCategory     string `json:"subCategory,omitempty"`
	}

	AmountPair struct {
		Amount   FlexNumber `json:"amount"`
		Currency string     `json:"currency"`
	}

	AccountRef struct {
		IBAN string `json:"iban"`
	}

	tokenPair struct {
		Access         string `json:"access"`
		AccessExpires  int    `json:"access_expires"`
		Refresh        string `json:"refresh"`
		RefreshExpires int    `json:"refresh_expires"`
	}
)

// FlexNumber keeps the literal text of a JSON number or numeric string.
// Parsing is left to the normalizer so a bad amount fails one record, not
// the whole response.
type FlexNumber string

func (n *FlexNumber) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*n = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*n = FlexNumber(s)
		return nil
	}
	*n = FlexNumber(b)
	return nil
}

func (n FlexNumber) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(n))
}

// FlexInt accepts 90 and "90".
type FlexInt int

func (i *FlexInt) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(bytes.TrimSpace(b)), `"`)
	if s == "" || s == "null" {
		*i = 0
		return nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("not an integer: %s", string(b))
	}
	*i = FlexInt(v)
	return nil
}

// Timestamp tolerates the empty string the provider uses for "not yet".
type Timestamp struct {
	time.Time
}

func (t *Timestamp) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	if s == "" {
		t.Time = time.Time{}
		return nil
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999", "2006-01-02"} {
		if parsed, err := time.Parse(layout, s); err == nil {
			t.Time = parsed
			return nil
		}
	}
	return fmt.Errorf("unrecognised timestamp %q", s)
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte(`""`), nil
	}
	return json.Marshal(t.Format(time.RFC3339Nano))
}

// Start is when the agreement's access window began: acceptance when the
// user has consented, creation otherwise.
func (a Agreement) Start() time.Time {
	if !a.Accepted.IsZero() {
		return a.Accepted.Time
	}
	return a.Created.Time
}
