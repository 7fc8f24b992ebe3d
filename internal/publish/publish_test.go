package publish

import (
	"reflect"
	"testing"

	"github.com/fxamacker/cbor/v2"

	"dvs-emu-go/internal/types"
)

func TestBatchRoundTrip(t *testing.T) {
	events := []types.Event{
		{X: 1, Y: 2, Polarity: types.PolarityOn, TimestampUs: 42.5},
		{X: 3, Y: 0, Polarity: types.PolarityOff, TimestampUs: 42.5},
	}
	payload, err := EncodeBatch(9, 42.5, events)
	if err != nil {
		t.Fatalf("EncodeBatch error: %v", err)
	}
	got, err := DecodeBatch(payload)
	if err != nil {
		t.Fatalf("DecodeBatch error: %v", err)
	}
	if got.Type != "events" || got.FrameIndex != 9 || got.TimestampUs != 42.5 {
		t.Fatalf("unexpected header: %+v", got)
	}
	if !reflect.DeepEqual(got.Events, events) {
		t.Fatalf("events mismatch: %+v", got.Events)
	}
}

func TestEventsEncodeAsArrays(t *testing.T) {
	payload, err := EncodeBatch(1, 5, []types.Event{{X: 7, Y: 8, Polarity: types.PolarityOff, TimestampUs: 5}})
	if err != nil {
		t.Fatalf("EncodeBatch error: %v", err)
	}
	var generic map[string]any
	if err := cbor.Unmarshal(payload, &generic); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	list, ok := generic["events"].([]any)
	if !ok || len(list) != 1 {
		t.Fatalf("unexpected events field: %#v", generic["events"])
	}
	tuple, ok := list[0].([]any)
	if !ok || len(tuple) != 4 {
		t.Fatalf("event not encoded as 4-array: %#v", list[0])
	}
	if tuple[0] != uint64(7) || tuple[2] != int64(-1) {
		t.Fatalf("unexpected tuple %#v", tuple)
	}
}
