package events

import "testing"

func TestEvent_Decode(t *testing.T) {
	evt := Event{Type: "itemAdded", Data: []byte(`{"listId":"L1","name":"a"}`)}

	var payload struct {
		ListID string `json:"listId"`
		Name   string `json:"name"`
	}
	if err := evt.Decode(&payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload.ListID != "L1" || payload.Name != "a" {
		t.Errorf("got %+v", payload)
	}
}

func TestEvent_DecodeInvalidPayload(t *testing.T) {
	evt := Event{Type: "itemAdded", Data: []byte(`not json`)}

	var payload map[string]any
	if err := evt.Decode(&payload); err == nil {
		t.Fatal("expected error for invalid payload")
	}
}
