package entities

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kskmon/kskmon/internal/coordinator"
	"github.com/kskmon/kskmon/internal/ksk"
)

func findButton(t *testing.T, key string) ButtonDescription {
	t.Helper()
	for _, desc := range ButtonDescriptions {
		if desc.Key == key {
			return desc
		}
	}
	t.Fatalf("no button description with key %q", key)
	return ButtonDescription{}
}

func TestBuildButtons(t *testing.T) {
	coord := newTestCoordinator(t)
	require.Nil(t, BuildButtons(coord))

	require.NoError(t, coord.RequestRefresh(context.Background()))
	buttons := BuildButtons(coord)
	require.Len(t, buttons, len(ButtonDescriptions))

	ids := make(map[string]bool, len(buttons))
	for _, button := range buttons {
		ids[button.EntityID()] = true
	}
	assert.True(t, ids["button.ksk_204027528_refresh"])
	assert.True(t, ids["button.ksk_204027528_submit_readings"])
	assert.True(t, ids["button.ksk_204027528_get_bill"])
}

func TestSubmitReadingsButton(t *testing.T) {
	coord := newTestCoordinator(t)
	require.NoError(t, coord.RequestRefresh(context.Background()))

	desc := findButton(t, "submit_readings")
	assert.NoError(t, desc.Press(context.Background(), coord, "204027528"))
}

func TestSubmitReadingsButtonWithoutSnapshot(t *testing.T) {
	coord := newTestCoordinator(t)
	desc := findButton(t, "submit_readings")
	assert.Error(t, desc.Press(context.Background(), coord, "204027528"))
}

func TestGetBillButton(t *testing.T) {
	coord := newTestCoordinator(t)
	require.NoError(t, coord.RequestRefresh(context.Background()))

	desc := findButton(t, "get_bill")
	assert.NoError(t, desc.Press(context.Background(), coord, "204027528"))
}

func TestCurrentReadings(t *testing.T) {
	snap := &coordinator.Snapshot{
		Accounts: []ksk.Account{{
			Number: "204027528",
			Zones: []ksk.Zone{
				{Name: "день", Indication: decimal(100)},
				{Name: "ночь", Indication: decimal(40)},
			},
		}},
		Details: map[string]coordinator.AccountBundle{"204027528": {}},
	}

	readings := currentReadings(snap, "204027528")
	assert.Equal(t, map[string]float64{"день": 100, "ночь": 40}, readings)
}

func TestCurrentReadingsEmptyWhenUnknown(t *testing.T) {
	snap := &coordinator.Snapshot{
		Accounts: []ksk.Account{{Number: "204027528"}},
		Details:  map[string]coordinator.AccountBundle{"204027528": {}},
	}
	assert.Empty(t, currentReadings(snap, "204027528"))
}

func TestBillAmount(t *testing.T) {
	snap := testSnapshot()
	// The period's amount due wins over the raw debt
	assert.Equal(t, 150.5, billAmount(snap, "204027528"))

	snap.Details["204027528"] = coordinator.AccountBundle{}
	assert.Equal(t, 500.0, billAmount(snap, "204027528"))

	assert.Equal(t, 0.0, billAmount(snap, "000000000"))
}
