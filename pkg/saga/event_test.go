package saga

import (
	"encoding/json"
	"testing"
)

func TestDecodeResponseValid(t *testing.T) {
	raw := []byte(`{
		"sagaId": "saga-1",
		"stepIndex": 2,
		"stepName": "charge-payment",
		"success": true,
		"payload": {"paymentId": "pay-9"}
	}`)

	resp, err := DecodeResponse(raw)
	if err != nil {
		t.Fatalf("DecodeResponse() error = %v", err)
	}
	if resp.SagaID != "saga-1" || resp.StepIndex != 2 || resp.StepName != "charge-payment" {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if !resp.Success {
		t.Fatal("expected success")
	}
	if resp.Payload["paymentId"] != "pay-9" {
		t.Fatalf("payload = %v", resp.Payload)
	}
}

func TestDecodeResponseFailsClosed(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{"not json", `{{`},
		{"missing sagaId", `{"stepIndex":0,"stepName":"a","success":true}`},
		{"blank sagaId", `{"sagaId":"  ","stepIndex":0,"stepName":"a","success":true}`},
		{"missing stepIndex", `{"sagaId":"s","stepName":"a","success":true}`},
		{"negative stepIndex", `{"sagaId":"s","stepIndex":-1,"stepName":"a","success":true}`},
		{"missing stepName", `{"sagaId":"s","stepIndex":0,"success":true}`},
		{"missing success", `{"sagaId":"s","stepIndex":0,"stepName":"a"}`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := DecodeResponse([]byte(tc.raw)); err == nil {
				t.Fatal("expected decode error")
			}
		})
	}
}

func TestDecodeResponseExplicitFalseSuccess(t *testing.T) {
	raw := []byte(`{"sagaId":"s","stepIndex":1,"stepName":"a","success":false,"reason":"card declined"}`)
	resp, err := DecodeResponse(raw)
	if err != nil {
		t.Fatalf("DecodeResponse() error = %v", err)
	}
	if resp.Success {
		t.Fatal("expected failure response")
	}
	if resp.Reason != "card declined" {
		t.Fatalf("Reason = %q", resp.Reason)
	}
}

func TestCommandEncodeRoundTrip(t *testing.T) {
	cmd := Command{
		SagaID:        "saga-1",
		SagaType:      "ORDER_CREATE",
		StepIndex:     1,
		StepName:      "charge-payment",
		Compensation:  true,
		ResponseTopic: "saga.responses",
		Payload:       map[string]any{"orderId": "o-1"},
	}
	data, err := cmd.Encode()
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal command: %v", err)
	}
	if decoded["sagaId"] != "saga-1" {
		t.Fatalf("sagaId = %v", decoded["sagaId"])
	}
	if decoded["compensation"] != true {
		t.Fatal("expected compensation flag on the wire")
	}
	if decoded["responseTopic"] != "saga.responses" {
		t.Fatalf("responseTopic = %v", decoded["responseTopic"])
	}
}

func TestEventTypeValid(t *testing.T) {
	for _, eventType := range []EventType{
		EventSagaStarted, EventStepStarted, EventStepCompleted, EventStepFailed,
		EventStepCompensated, EventCompensating, EventCompensationCompleted,
		EventCompensationFailed, EventSagaCompleted, EventSagaFailed, EventTimeoutRetry,
	} {
		if !eventType.Valid() {
			t.Fatalf("%s should be valid", eventType)
		}
	}
	if EventType("SAGA_NOPE").Valid() {
		t.Fatal("unknown event type should not be valid")
	}
}
