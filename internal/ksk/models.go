package ksk

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
)

// Decimal is a RUB or kWh amount. The upstream serializes these
// inconsistently across API versions: plain numbers, quoted numbers,
// numbers with a decimal comma, empty strings.
type Decimal float64

func (d *Decimal) UnmarshalJSON(b []byte) error {
	s := string(bytes.TrimSpace(b))
	if s == "null" {
		*d = 0
		return nil
	}
	s = strings.Trim(s, `"`)
	if s == "" {
		*d = 0
		return nil
	}
	s = strings.ReplaceAll(s, ",", ".")
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("cannot parse %q as a decimal amount: %w", s, err)
	}
	*d = Decimal(f)
	return nil
}

func (d Decimal) Float64() float64 {
	return float64(d)
}

// Zone is a billing sub-channel (day/night tariff) within an account.
// Indication is nil when the upstream omitted the reading.
type Zone struct {
	Name       string   `json:"name"`
	Tariff     Decimal  `json:"tariff"`
	Indication *Decimal `json:"indication"`
}

// Balance holds the money-side state of an account, all in RUB.
type Balance struct {
	Debt                 Decimal `json:"debt"`
	Duty                 Decimal `json:"duty"`
	Sud                  Decimal `json:"sud"`
	PaymentDisconnection Decimal `json:"paymentDisconnection"`
	Penalty              Decimal `json:"penalty"`
	Accepted             Decimal `json:"accepted"`
	Processing           Decimal `json:"processing"`
}

// Account is one personal account ("лицевой счет") as returned by the
// accounts endpoint. Snapshots treat it as immutable.
type Account struct {
	Number       string    `json:"number"`
	Address      string    `json:"address"`
	MeterName    string    `json:"meterName"`
	MeterNumber  string    `json:"meterNumber"`
	ZonesCount   int       `json:"zonesCount"`
	HasInvoice   bool      `json:"hasInvoice"`
	CanSBP       bool      `json:"canSBP"`
	IsBeforeTech bool      `json:"isBeforeTech"`
	Tarifs       []Decimal `json:"tarifs"`
	Zones        []Zone    `json:"zones"`
	Balance      Balance   `json:"balance"`
}

// TransmissionDetails describes the current billing period's meter
// submission state. Amount is the payment due in RUB, not a consumption
// quantity, despite the field name. Zone readings here are fresher than
// the ones on Account.
type TransmissionDetails struct {
	Amount          *Decimal  `json:"amount"`
	LastIndications []Decimal `json:"lastIndications"`
	LastPeriod      string    `json:"lastPeriod"`
	Period          string    `json:"period"`
	Zones           []Zone    `json:"zones"`
}

// UserInfo is the profile behind the configured login.
type UserInfo struct {
	Name     string `json:"name"`
	FullName string `json:"fullName"`
	Email    string `json:"email"`
	Phone    string `json:"phone"`
}

// Payment is one entry of the payment history.
type Payment struct {
	Date        string  `json:"date"`
	Amount      Decimal `json:"amount"`
	Method      string  `json:"method"`
	Status      string  `json:"status"`
	Description string  `json:"description"`
}

// PaymentDetails describes what a payment for the account would cost.
type PaymentDetails struct {
	Amount      Decimal `json:"amount"`
	Commission  Decimal `json:"commission"`
	TotalAmount Decimal `json:"totalAmount"`
	MinAmount   Decimal `json:"minAmount"`
	MaxAmount   Decimal `json:"maxAmount"`
}

// MeterHistoryEntry is one submitted-readings record.
type MeterHistoryEntry struct {
	Period      string    `json:"period"`
	Date        string    `json:"date"`
	Consumption Decimal   `json:"consumption"`
	Amount      Decimal   `json:"amount"`
	Indications []Decimal `json:"indications"`
}

// Session holds the credentials obtained from a successful sign-in. It is
// valid until the upstream answers 401, at which point the coordinator
// clears it and re-authenticates.
type Session struct {
	Token   string
	Cookies map[string]string
}
