package realtime

import (
	"encoding/json"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/stretchr/testify/require"
)

func envelopeSchema(t *testing.T) *jsonschema.Schema {
	t.Helper()

	_, filename, _, ok := runtime.Caller(0)
	require.True(t, ok, "failed to resolve caller")

	schemaPath, err := filepath.Abs(filepath.Join(filepath.Dir(filename), "..", "..", "docs", "contracts", "realtime_envelope.schema.json"))
	require.NoError(t, err)

	compiler := jsonschema.NewCompiler()
	schema, err := compiler.Compile("file://" + schemaPath)
	require.NoError(t, err)
	return schema
}

func TestEnvelopeMatchesContract(t *testing.T) {
	schema := envelopeSchema(t)

	event := receiveEvent{
		TripID: "T1",
		Message: Message{
			ID:        "srv-1",
			RoomID:    "trip:T1",
			SenderID:  "u1",
			Body:      "hello",
			Kind:      KindText,
			Timestamp: time.Now().UTC(),
		},
		SenderName: "Alice",
		Timestamp:  time.Now().UTC(),
	}

	data, err := json.Marshal(event)
	require.NoError(t, err)

	raw, err := json.Marshal(Envelope{Event: EventReceiveMessage, Data: data})
	require.NoError(t, err)

	var instance any
	require.NoError(t, json.Unmarshal(raw, &instance))
	require.NoError(t, schema.Validate(instance))
}

func TestEnvelopeContractRejectsMissingEvent(t *testing.T) {
	schema := envelopeSchema(t)

	var instance any
	require.NoError(t, json.Unmarshal([]byte(`{"data":{}}`), &instance))
	require.Error(t, schema.Validate(instance))
}
