package coordinator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kskmon/kskmon/internal/ksk"
)

func decimal(v float64) *ksk.Decimal {
	d := ksk.Decimal(v)
	return &d
}

func TestZoneReadingPrefersTransmissionData(t *testing.T) {
	snap := &Snapshot{
		Accounts: []ksk.Account{{
			Number: "204027528",
			Zones:  []ksk.Zone{{Name: PrimaryZone, Indication: decimal(50)}},
		}},
		Details: map[string]AccountBundle{
			"204027528": {
				TransmissionDetails: &ksk.TransmissionDetails{
					Zones: []ksk.Zone{{Name: PrimaryZone, Indication: decimal(100)}},
				},
			},
		},
	}

	value, ok := snap.ZoneReading("204027528", PrimaryZone)
	require.True(t, ok)
	assert.Equal(t, 100.0, value)
}

func TestZoneReadingLastIndicationsShortcut(t *testing.T) {
	snap := &Snapshot{
		Accounts: []ksk.Account{{Number: "204027528"}},
		Details: map[string]AccountBundle{
			"204027528": {
				TransmissionDetails: &ksk.TransmissionDetails{
					LastIndications: []ksk.Decimal{120, 80},
					Zones:           []ksk.Zone{{Name: PrimaryZone, Indication: decimal(999)}},
				},
			},
		},
	}

	// The shortcut only applies to the primary zone
	value, ok := snap.ZoneReading("204027528", PrimaryZone)
	require.True(t, ok)
	assert.Equal(t, 120.0, value)
}

func TestZoneReadingFallsBackToAccountZones(t *testing.T) {
	snap := &Snapshot{
		Accounts: []ksk.Account{{
			Number: "204027528",
			Zones:  []ksk.Zone{{Name: "ночь", Indication: decimal(42)}},
		}},
		Details: map[string]AccountBundle{"204027528": {}},
	}

	value, ok := snap.ZoneReading("204027528", "ночь")
	require.True(t, ok)
	assert.Equal(t, 42.0, value)

	_, ok = snap.ZoneReading("204027528", "день")
	assert.False(t, ok)
}

func TestZoneReadingSkipsNilIndications(t *testing.T) {
	snap := &Snapshot{
		Accounts: []ksk.Account{{
			Number: "204027528",
			Zones:  []ksk.Zone{{Name: PrimaryZone}},
		}},
		Details: map[string]AccountBundle{"204027528": {}},
	}

	_, ok := snap.ZoneReading("204027528", PrimaryZone)
	assert.False(t, ok)
}

func TestZoneTariff(t *testing.T) {
	snap := &Snapshot{
		Accounts: []ksk.Account{{
			Number: "204027528",
			Tarifs: []ksk.Decimal{4.72},
			Zones:  []ksk.Zone{{Name: "день", Tariff: 6.43}},
		}},
	}

	value, ok := snap.ZoneTariff("204027528", "день")
	require.True(t, ok)
	assert.Equal(t, 6.43, value)

	// Unknown zone falls back to the first listed tariff
	value, ok = snap.ZoneTariff("204027528", "ночь")
	require.True(t, ok)
	assert.Equal(t, 4.72, value)

	_, ok = snap.ZoneTariff("000000000", "день")
	assert.False(t, ok)
}

func TestZoneTariffPrefersTransmissionData(t *testing.T) {
	snap := &Snapshot{
		Accounts: []ksk.Account{{
			Number: "204027528",
			Zones:  []ksk.Zone{{Name: PrimaryZone, Tariff: 4.72}},
		}},
		Details: map[string]AccountBundle{
			"204027528": {
				TransmissionDetails: &ksk.TransmissionDetails{
					Zones: []ksk.Zone{{Name: PrimaryZone, Tariff: 6.5}},
				},
			},
		},
	}

	value, ok := snap.ZoneTariff("204027528", PrimaryZone)
	require.True(t, ok)
	assert.Equal(t, 6.5, value)

	// A transmission zone without a tariff falls through to the account
	snap.Details["204027528"] = AccountBundle{
		TransmissionDetails: &ksk.TransmissionDetails{
			Zones: []ksk.Zone{{Name: PrimaryZone}},
		},
	}
	value, ok = snap.ZoneTariff("204027528", PrimaryZone)
	require.True(t, ok)
	assert.Equal(t, 4.72, value)
}

func TestBundleForUnknownAccountIsEmpty(t *testing.T) {
	snap := &Snapshot{Details: map[string]AccountBundle{}}
	bundle := snap.Bundle("000000000")
	assert.Nil(t, bundle.AccountDetails)
	assert.Nil(t, bundle.TransmissionDetails)
	assert.Empty(t, bundle.MeterHistory)
}

func TestSnapshotAge(t *testing.T) {
	fetched := time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC)
	snap := &Snapshot{FetchedAt: fetched}
	assert.Equal(t, 30*time.Minute, snap.Age(fetched.Add(30*time.Minute)))
}
