package coordinator

import (
	"time"

	"github.com/kskmon/kskmon/internal/ksk"
)

// PrimaryZone is the zone name single-rate meters report under.
const PrimaryZone = "основной"

// AccountBundle groups everything fetched for one account beyond the
// accounts-list record. Fields stay zero-valued when their endpoint was
// unavailable during the cycle.
type AccountBundle struct {
	AccountDetails      *ksk.Account
	TransmissionDetails *ksk.TransmissionDetails
	MeterHistory        []ksk.MeterHistoryEntry
	PaymentDetails      *ksk.PaymentDetails
	PaymentHistory      []ksk.Payment
}

// Snapshot is the immutable merged result of one refresh cycle. Details
// always has exactly one entry per entry in Accounts, possibly an empty
// bundle, so consumers never index a missing account.
type Snapshot struct {
	UserInfo  ksk.UserInfo
	Accounts  []ksk.Account
	Details   map[string]AccountBundle
	FetchedAt time.Time
}

// Account returns the accounts-list record for number, nil if unknown.
func (s *Snapshot) Account(number string) *ksk.Account {
	for i := range s.Accounts {
		if s.Accounts[i].Number == number {
			return &s.Accounts[i]
		}
	}
	return nil
}

// Bundle returns the per-account details for number. Unknown numbers get
// an empty bundle.
func (s *Snapshot) Bundle(number string) AccountBundle {
	return s.Details[number]
}

// ZoneReading resolves the meter reading for a zone. Transmission-sourced
// data is fresher than the accounts list, so it wins: the primary zone's
// lastIndications shortcut first, then transmission zones, then account
// zones.
func (s *Snapshot) ZoneReading(number, zone string) (float64, bool) {
	transmission := s.Details[number].TransmissionDetails
	if transmission != nil {
		if zone == PrimaryZone && len(transmission.LastIndications) > 0 {
			return transmission.LastIndications[0].Float64(), true
		}
		if value, ok := zoneIndication(transmission.Zones, zone); ok {
			return value, true
		}
	}
	if account := s.Account(number); account != nil {
		if value, ok := zoneIndication(account.Zones, zone); ok {
			return value, true
		}
	}
	return 0, false
}

// ZoneTariff resolves the RUB/kWh tariff for a zone. Like readings,
// transmission-sourced zones win over the accounts list; the account's
// first listed tariff is the fallback when the zone is unknown.
func (s *Snapshot) ZoneTariff(number, zone string) (float64, bool) {
	if transmission := s.Details[number].TransmissionDetails; transmission != nil {
		for _, z := range transmission.Zones {
			if z.Name == zone && z.Tariff != 0 {
				return z.Tariff.Float64(), true
			}
		}
	}
	account := s.Account(number)
	if account == nil {
		return 0, false
	}
	for _, z := range account.Zones {
		if z.Name == zone {
			return z.Tariff.Float64(), true
		}
	}
	if len(account.Tarifs) > 0 {
		return account.Tarifs[0].Float64(), true
	}
	return 0, false
}

// Age reports how stale the snapshot is.
func (s *Snapshot) Age(now time.Time) time.Duration {
	return now.Sub(s.FetchedAt)
}

func zoneIndication(zones []ksk.Zone, name string) (float64, bool) {
	for _, z := range zones {
		if z.Name == name && z.Indication != nil {
			return z.Indication.Float64(), true
		}
	}
	return 0, false
}
