package entities

import (
	"context"
	"fmt"

	"github.com/kskmon/kskmon/internal/coordinator"
)

// ButtonDescription describes one action the presentation layer can
// trigger. Press runs a direct authenticated call through the
// coordinator, outside the cyclical refresh.
type ButtonDescription struct {
	Key   string
	Name  string
	Icon  string
	Press func(ctx context.Context, c *coordinator.Coordinator, account string) error
}

// ButtonDescriptions is the closed action set.
var ButtonDescriptions = []ButtonDescription{
	{
		Key:  "refresh",
		Name: "Обновить сведения",
		Icon: "mdi:refresh",
		Press: func(ctx context.Context, c *coordinator.Coordinator, _ string) error {
			return c.RequestRefresh(ctx)
		},
	},
	{
		Key:  "submit_readings",
		Name: "Подать показания",
		Icon: "mdi:upload",
		Press: func(ctx context.Context, c *coordinator.Coordinator, account string) error {
			snap := c.Snapshot()
			if snap == nil {
				return fmt.Errorf("no data yet for account %s", account)
			}
			readings := currentReadings(snap, account)
			if len(readings) == 0 {
				return fmt.Errorf("no readings known for account %s", account)
			}
			return c.SubmitMeterReadings(ctx, account, readings, "")
		},
	},
	{
		Key:  "get_bill",
		Name: "Получить счет",
		Icon: "mdi:receipt-text-outline",
		Press: func(ctx context.Context, c *coordinator.Coordinator, account string) error {
			snap := c.Snapshot()
			if snap == nil {
				return fmt.Errorf("no data yet for account %s", account)
			}
			amount := billAmount(snap, account)
			if amount <= 0 {
				return fmt.Errorf("nothing to pay for account %s", account)
			}
			_, err := c.PaymentLink(ctx, account, amount)
			return err
		},
	},
}

// Button binds a description to a coordinator and account.
type Button struct {
	desc    ButtonDescription
	coord   *coordinator.Coordinator
	account string
}

func (b *Button) EntityID() string {
	return fmt.Sprintf("button.ksk_%s_%s", b.account, b.desc.Key)
}

func (b *Button) Name() string {
	return fmt.Sprintf("%s (%s)", b.desc.Name, b.account)
}

func (b *Button) Press(ctx context.Context) error {
	return b.desc.Press(ctx, b.coord, b.account)
}

// BuildButtons instantiates the action set for every account in the
// current snapshot.
func BuildButtons(coord *coordinator.Coordinator) []*Button {
	snap := coord.Snapshot()
	if snap == nil {
		return nil
	}
	var buttons []*Button
	for _, account := range snap.Accounts {
		for _, desc := range ButtonDescriptions {
			buttons = append(buttons, &Button{desc: desc, coord: coord, account: account.Number})
		}
	}
	return buttons
}

// currentReadings collects the freshest known reading per zone.
func currentReadings(snap *coordinator.Snapshot, account string) map[string]float64 {
	readings := make(map[string]float64)
	zones := []string{coordinator.PrimaryZone}
	if a := snap.Account(account); a != nil && len(a.Zones) > 0 {
		zones = zones[:0]
		for _, z := range a.Zones {
			zones = append(zones, z.Name)
		}
	}
	for _, zone := range zones {
		if value, ok := snap.ZoneReading(account, zone); ok {
			readings[zone] = value
		}
	}
	return readings
}

// billAmount picks what a payment should cover: the amount due for the
// period when known, the outstanding debt otherwise.
func billAmount(snap *coordinator.Snapshot, account string) float64 {
	if t := snap.Bundle(account).TransmissionDetails; t != nil && t.Amount != nil {
		return t.Amount.Float64()
	}
	if a := snap.Account(account); a != nil {
		return a.Balance.Debt.Float64()
	}
	return 0
}
