package signaldb

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/knight1/candecode/internal/errors"
)

func loadTestDB(t *testing.T) *Database {
	t.Helper()
	db, err := Load(filepath.Join("testdata", "test.dbc"))
	require.NoError(t, err)
	return db
}

func TestLoad(t *testing.T) {
	db := loadTestDB(t)

	assert.Equal(t, 3, db.Len())

	msg, ok := db.Lookup(0x123)
	require.True(t, ok)
	assert.Equal(t, "SensorTemp", msg.Name)
	assert.Equal(t, "Cabinet temperature sensor", msg.Comment)
	assert.Equal(t, uint8(8), msg.Length)
	require.Len(t, msg.Signals, 1)
	assert.Equal(t, "Temperature", msg.Signals[0].Name)
	assert.Equal(t, "Scaled by 100 on the wire", msg.Signals[0].Comment)
	assert.Equal(t, "degC", msg.Signals[0].Unit)

	group, ok := db.Lookup(0x100)
	require.True(t, ok)
	assert.Equal(t, "BatteryStatus", group.Name)
	state, ok := group.Signal("State")
	require.True(t, ok)
	label, ok := state.Choice(1)
	assert.True(t, ok)
	assert.Equal(t, "Charging", label)

	_, ok = db.Lookup(0x789)
	assert.False(t, ok)

	byName, ok := db.MessageByName("TEST_MSG")
	require.True(t, ok)
	assert.Equal(t, uint32(0x200), byName.ID)
}

func TestLoad_Missing(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.dbc"))
	require.Error(t, err)
	assert.True(t, errors.IsFatal(err))
}

func TestLoad_Malformed(t *testing.T) {
	_, err := Parse("broken.dbc", []byte("BO_ not a message"))
	assert.Error(t, err)
}

func TestDecode_BigEndianScaled(t *testing.T) {
	db := loadTestDB(t)
	msg, _ := db.Lookup(0x123)

	signals, err := db.Decode(msg, []byte{0x0B, 0x90, 0, 0, 0, 0, 0, 0})
	require.NoError(t, err)
	require.Len(t, signals, 1)

	v, ok := signals.Get("Temperature")
	require.True(t, ok)
	assert.InDelta(t, 29.60, v.Number, 1e-9)
	assert.False(t, v.IsLabel())
}

func TestDecode_ValueDescription(t *testing.T) {
	db := loadTestDB(t)
	msg, _ := db.Lookup(0x100)

	// Voltage 0x2EE0 little-endian = 12000 * 0.001, State 2 = Fault.
	signals, err := db.Decode(msg, []byte{0xE0, 0x2E, 0x02, 0, 0, 0, 0, 0})
	require.NoError(t, err)

	assert.Equal(t, []string{"Voltage", "State"}, []string{signals[0].Name, signals[1].Name})
	assert.InDelta(t, 12.0, signals[0].Value.Number, 1e-9)
	assert.Equal(t, "Fault", signals[1].Value.String())

	// Raw value without a description stays numeric.
	signals, err = db.Decode(msg, []byte{0, 0, 0x09, 0, 0, 0, 0, 0})
	require.NoError(t, err)
	assert.Equal(t, "9", signals[1].Value.String())
}

func TestDecode_ShortPayload(t *testing.T) {
	db := loadTestDB(t)
	msg, _ := db.Lookup(0x123)

	_, err := db.Decode(msg, []byte{0x0B})
	require.Error(t, err)

	var failure *DecodeFailure
	require.True(t, errors.As(err, &failure))
	assert.Equal(t, "SensorTemp", failure.Message)
	assert.Equal(t, "wrong data size: got 1, want 8 bytes", failure.Reason)
}

func TestDecode_Multiplexed(t *testing.T) {
	db := loadTestDB(t)
	msg, _ := db.MessageByName("TEST_MSG")

	signals, err := db.Decode(msg, []byte{0x00, 0x05, 0x64, 0x00, 0x01, 0, 0, 0})
	require.NoError(t, err)
	require.Len(t, signals, 4)
	id, _ := signals.Get("ResponseID")
	a, _ := signals.Get("TestValA")
	b, _ := signals.Get("TestValB")
	assert.Equal(t, 5.0, id.Number)
	assert.Equal(t, 100.0, a.Number)
	assert.Equal(t, 1.0, b.Number)

	_, err = db.Decode(msg, []byte{0x07, 0, 0, 0, 0, 0, 0, 0})
	var failure *DecodeFailure
	require.True(t, errors.As(err, &failure))
	assert.Contains(t, failure.Reason, "unknown multiplexer value 7")
}

func TestEncode_RoundTrip(t *testing.T) {
	db := loadTestDB(t)
	msg, _ := db.MessageByName("TEST_MSG")

	payload := msg.Encode(map[string]float64{"Mux": 0, "ResponseID": 3, "TestValA": 100, "TestValB": 1})
	assert.Equal(t, []byte{0x00, 0x03, 0x64, 0x00, 0x01, 0, 0, 0}, payload)

	temp, _ := db.Lookup(0x123)
	assert.Equal(t, []byte{0x0B, 0x90, 0, 0, 0, 0, 0, 0}, temp.Encode(map[string]float64{"Temperature": 29.6}))
}

func TestSignalMap_MarshalJSON(t *testing.T) {
	m := SignalMap{
		{Name: "Voltage", Value: Value{Number: 12.5}},
		{Name: "State", Value: Value{Label: "Fault"}},
		{Name: "Count", Value: Value{Number: 3}},
	}
	out, err := json.Marshal(m)
	require.NoError(t, err)
	assert.Equal(t, `{"Voltage":12.5,"State":"Fault","Count":3}`, string(out))

	out, err = json.Marshal(SignalMap{})
	require.NoError(t, err)
	assert.Equal(t, `{}`, string(out))
}
