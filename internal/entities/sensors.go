// Package entities is the read contract for the presentation layer: a
// closed set of sensor and button descriptions evaluated against the
// coordinator's cached snapshot. The host platform wraps these into its
// own entity objects; nothing here talks to the network except button
// presses, which go through the coordinator.
package entities

import (
	"fmt"
	"time"

	"github.com/kskmon/kskmon/internal/coordinator"
)

// SensorDescription describes one sensor kind. Value and Attributes are
// evaluated against a non-nil snapshot for a concrete account (and zone,
// for zoned kinds).
type SensorDescription struct {
	Key         string
	Name        string
	Icon        string
	Unit        string
	DeviceClass string
	StateClass  string
	Diagnostic  bool
	PerZone     bool
	Value       func(s *coordinator.Snapshot, account, zone string) any
	Attributes  func(s *coordinator.Snapshot, account, zone string) map[string]any
}

// SensorDescriptions is the full closed set.
var SensorDescriptions = []SensorDescription{
	{
		Key:        "account",
		Name:       "Лицевой счет",
		Icon:       "mdi:identifier",
		Diagnostic: true,
		Value: func(s *coordinator.Snapshot, account, _ string) any {
			return account
		},
		Attributes: func(s *coordinator.Snapshot, account, _ string) map[string]any {
			a := s.Account(account)
			if a == nil {
				return nil
			}
			return map[string]any{
				"address":        a.Address,
				"meter_name":     a.MeterName,
				"meter_number":   a.MeterNumber,
				"zones_count":    a.ZonesCount,
				"has_invoice":    a.HasInvoice,
				"can_sbp":        a.CanSBP,
				"is_before_tech": a.IsBeforeTech,
			}
		},
	},
	{
		Key:        "user_info",
		Name:       "Информация о пользователе",
		Icon:       "mdi:account",
		Diagnostic: true,
		Value: func(s *coordinator.Snapshot, _, _ string) any {
			return s.UserInfo.Name
		},
		Attributes: func(s *coordinator.Snapshot, _, _ string) map[string]any {
			return map[string]any{
				"email":     s.UserInfo.Email,
				"phone":     s.UserInfo.Phone,
				"full_name": s.UserInfo.FullName,
			}
		},
	},
	{
		Key:         "balance",
		Name:        "Задолженность",
		Icon:        "mdi:currency-rub",
		Unit:        "RUB",
		DeviceClass: "monetary",
		Value: func(s *coordinator.Snapshot, account, _ string) any {
			if a := s.Account(account); a != nil {
				return a.Balance.Debt.Float64()
			}
			return nil
		},
		Attributes: func(s *coordinator.Snapshot, account, _ string) map[string]any {
			a := s.Account(account)
			if a == nil {
				return nil
			}
			return map[string]any{
				"duty":                  a.Balance.Duty.Float64(),
				"sud":                   a.Balance.Sud.Float64(),
				"payment_disconnection": a.Balance.PaymentDisconnection.Float64(),
				"penalty":               a.Balance.Penalty.Float64(),
				"accepted":              a.Balance.Accepted.Float64(),
				"processing":            a.Balance.Processing.Float64(),
			}
		},
	},
	{
		Key:         "penalty",
		Name:        "Пени",
		Icon:        "mdi:alert-circle",
		Unit:        "RUB",
		DeviceClass: "monetary",
		Value: func(s *coordinator.Snapshot, account, _ string) any {
			if a := s.Account(account); a != nil {
				return a.Balance.Penalty.Float64()
			}
			return nil
		},
	},
	{
		Key:         "accepted_payments",
		Name:        "Принятые платежи",
		Icon:        "mdi:check-circle",
		Unit:        "RUB",
		DeviceClass: "monetary",
		Value: func(s *coordinator.Snapshot, account, _ string) any {
			if a := s.Account(account); a != nil {
				return a.Balance.Accepted.Float64()
			}
			return nil
		},
	},
	{
		Key:         "processing_payments",
		Name:        "Платежи в обработке",
		Icon:        "mdi:clock-outline",
		Unit:        "RUB",
		DeviceClass: "monetary",
		Value: func(s *coordinator.Snapshot, account, _ string) any {
			if a := s.Account(account); a != nil {
				return a.Balance.Processing.Float64()
			}
			return nil
		},
	},
	{
		Key:         "payment_amount",
		Name:        "Сумма к доплате",
		Icon:        "mdi:cash-multiple",
		Unit:        "RUB",
		DeviceClass: "monetary",
		Value: func(s *coordinator.Snapshot, account, _ string) any {
			// Amount due for the current period, in RUB. Not a
			// consumption figure even though the upstream calls it
			// "amount".
			t := s.Bundle(account).TransmissionDetails
			if t == nil || t.Amount == nil {
				return nil
			}
			return t.Amount.Float64()
		},
	},
	{
		Key:         "payment_details",
		Name:        "Детали платежа",
		Icon:        "mdi:receipt",
		Unit:        "RUB",
		DeviceClass: "monetary",
		Value: func(s *coordinator.Snapshot, account, _ string) any {
			if d := s.Bundle(account).PaymentDetails; d != nil {
				return d.Amount.Float64()
			}
			return nil
		},
		Attributes: func(s *coordinator.Snapshot, account, _ string) map[string]any {
			d := s.Bundle(account).PaymentDetails
			if d == nil {
				return nil
			}
			return map[string]any{
				"commission":   d.Commission.Float64(),
				"total_amount": d.TotalAmount.Float64(),
				"min_amount":   d.MinAmount.Float64(),
				"max_amount":   d.MaxAmount.Float64(),
			}
		},
	},
	{
		Key:        "meter",
		Name:       "Счетчик",
		Icon:       "mdi:counter",
		Diagnostic: true,
		Value: func(s *coordinator.Snapshot, account, _ string) any {
			if a := s.Account(account); a != nil {
				return a.MeterName
			}
			return nil
		},
		Attributes: func(s *coordinator.Snapshot, account, _ string) map[string]any {
			a := s.Account(account)
			if a == nil {
				return nil
			}
			return map[string]any{
				"meter_number": a.MeterNumber,
				"zones_count":  a.ZonesCount,
			}
		},
	},
	{
		Key:         "readings",
		Name:        "Показания",
		Icon:        "mdi:counter",
		Unit:        "kWh",
		DeviceClass: "energy",
		StateClass:  "total_increasing",
		PerZone:     true,
		Value: func(s *coordinator.Snapshot, account, zone string) any {
			if value, ok := s.ZoneReading(account, zone); ok {
				return value
			}
			return nil
		},
		Attributes: func(s *coordinator.Snapshot, account, zone string) map[string]any {
			attrs := map[string]any{"zone": zone}
			if t := s.Bundle(account).TransmissionDetails; t != nil {
				attrs["last_period"] = t.LastPeriod
				attrs["current_period"] = t.Period
			}
			if tariff, ok := s.ZoneTariff(account, zone); ok {
				attrs["tariff"] = tariff
			}
			return attrs
		},
	},
	{
		Key:         "tariff",
		Name:        "Тариф",
		Icon:        "mdi:currency-rub",
		Unit:        "RUB/kWh",
		DeviceClass: "monetary",
		PerZone:     true,
		Value: func(s *coordinator.Snapshot, account, zone string) any {
			if tariff, ok := s.ZoneTariff(account, zone); ok {
				return tariff
			}
			return nil
		},
	},
	{
		Key:         "last_payment",
		Name:        "Последний платеж",
		Icon:        "mdi:credit-card",
		Unit:        "RUB",
		DeviceClass: "monetary",
		Value: func(s *coordinator.Snapshot, account, _ string) any {
			if history := s.Bundle(account).PaymentHistory; len(history) > 0 {
				return history[0].Amount.Float64()
			}
			return nil
		},
		Attributes: func(s *coordinator.Snapshot, account, _ string) map[string]any {
			history := s.Bundle(account).PaymentHistory
			if len(history) == 0 {
				return nil
			}
			latest := history[0]
			return map[string]any{
				"date":        latest.Date,
				"method":      latest.Method,
				"status":      latest.Status,
				"description": latest.Description,
			}
		},
	},
	{
		Key:         "last_consumption",
		Name:        "Последнее потребление",
		Icon:        "mdi:history",
		Unit:        "kWh",
		DeviceClass: "energy",
		Value: func(s *coordinator.Snapshot, account, _ string) any {
			if history := s.Bundle(account).MeterHistory; len(history) > 0 {
				return history[0].Consumption.Float64()
			}
			return nil
		},
		Attributes: func(s *coordinator.Snapshot, account, _ string) map[string]any {
			history := s.Bundle(account).MeterHistory
			if len(history) == 0 {
				return nil
			}
			return map[string]any{
				"period": history[0].Period,
				"amount": history[0].Amount.Float64(),
				"date":   history[0].Date,
			}
		},
	},
	{
		Key:         "last_update",
		Name:        "Последнее обновление",
		Icon:        "mdi:clock",
		DeviceClass: "timestamp",
		Diagnostic:  true,
		Value: func(s *coordinator.Snapshot, _, _ string) any {
			return s.FetchedAt
		},
	},
	{
		Key:         "data_freshness",
		Name:        "Свежесть данных",
		Icon:        "mdi:timer",
		Unit:        "min",
		DeviceClass: "duration",
		Diagnostic:  true,
		Value: func(s *coordinator.Snapshot, _, _ string) any {
			return int(s.Age(time.Now().UTC()).Minutes())
		},
	},
}

// Sensor binds a description to a coordinator, account and zone. State
// reads the snapshot current at call time, so values refresh without the
// sensor being rebuilt.
type Sensor struct {
	desc    SensorDescription
	coord   *coordinator.Coordinator
	account string
	zone    string
	key     string
}

func newSensor(desc SensorDescription, coord *coordinator.Coordinator, account, zone string) *Sensor {
	key := desc.Key
	if desc.PerZone {
		key = fmt.Sprintf("%s_%s", desc.Key, zone)
	}
	return &Sensor{desc: desc, coord: coord, account: account, zone: zone, key: key}
}

// EntityID is stable across refreshes; the host uses it as the unique ID.
func (s *Sensor) EntityID() string {
	return fmt.Sprintf("sensor.ksk_%s_%s", s.account, s.key)
}

func (s *Sensor) Name() string {
	return fmt.Sprintf("%s (%s)", s.desc.Name, s.account)
}

func (s *Sensor) Description() SensorDescription {
	return s.desc
}

// Available reports whether any snapshot exists yet.
func (s *Sensor) Available() bool {
	return s.coord.Snapshot() != nil
}

// State evaluates the sensor against the current snapshot; nil when no
// snapshot or no value.
func (s *Sensor) State() any {
	snap := s.coord.Snapshot()
	if snap == nil {
		return nil
	}
	return s.desc.Value(snap, s.account, s.zone)
}

// Attributes returns the extra state attributes, always including the
// account number.
func (s *Sensor) Attributes() map[string]any {
	attrs := map[string]any{"account_number": s.account}
	snap := s.coord.Snapshot()
	if snap == nil || s.desc.Attributes == nil {
		return attrs
	}
	for k, v := range s.desc.Attributes(snap, s.account, s.zone) {
		attrs[k] = v
	}
	return attrs
}

// BuildSensors instantiates the closed sensor set for every account in
// the current snapshot; per-zone kinds get one sensor per zone, with the
// primary zone standing in when the account lists none.
func BuildSensors(coord *coordinator.Coordinator) []*Sensor {
	snap := coord.Snapshot()
	if snap == nil {
		return nil
	}

	var sensors []*Sensor
	for _, account := range snap.Accounts {
		zones := []string{coordinator.PrimaryZone}
		if len(account.Zones) > 0 {
			zones = zones[:0]
			for _, z := range account.Zones {
				zones = append(zones, z.Name)
			}
		}
		for _, desc := range SensorDescriptions {
			if desc.PerZone {
				for _, zone := range zones {
					sensors = append(sensors, newSensor(desc, coord, account.Number, zone))
				}
				continue
			}
			sensors = append(sensors, newSensor(desc, coord, account.Number, coordinator.PrimaryZone))
		}
	}
	return sensors
}
