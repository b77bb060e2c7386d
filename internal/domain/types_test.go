package domain

import (
	"encoding/json"
	"testing"
)

func TestCartLineRequestQuantityDecoding(t *testing.T) {
	cases := []struct {
		name string
		body string
		want int
	}{
		{"integer", `{"productId":"p1","quantity":2}`, 2},
		{"whole float", `{"productId":"p1","quantity":4.0}`, 4},
		{"numeric string", `{"productId":"p1","quantity":"3"}`, 3},
		{"padded numeric string", `{"productId":"p1","quantity":" 7 "}`, 7},
		{"fraction", `{"productId":"p1","quantity":2.5}`, 0},
		{"word", `{"productId":"p1","quantity":"abc"}`, 0},
		{"null", `{"productId":"p1","quantity":null}`, 0},
		{"missing", `{"productId":"p1"}`, 0},
		{"negative", `{"productId":"p1","quantity":-3}`, 0},
		{"boolean", `{"productId":"p1","quantity":true}`, 0},
		{"object", `{"productId":"p1","quantity":{"n":1}}`, 0},
		{"overflow", `{"productId":"p1","quantity":1e20}`, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var line CartLineRequest
			if err := json.Unmarshal([]byte(tc.body), &line); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if line.ProductID != "p1" || line.Quantity != tc.want {
				t.Fatalf("expected p1 x%d, got %+v", tc.want, line)
			}
		})
	}
}

func TestCartLineRequestRejectsMalformedLine(t *testing.T) {
	var line CartLineRequest
	if err := json.Unmarshal([]byte(`{"productId":42}`), &line); err == nil {
		t.Fatalf("expected error for non-string product id")
	}
}

func TestCartLineRequestRoundTrip(t *testing.T) {
	data, err := json.Marshal([]CartLineRequest{{ProductID: "p1", Quantity: 3}})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(data) != `[{"productId":"p1","quantity":3}]` {
		t.Fatalf("unexpected encoding %s", data)
	}
	var lines []CartLineRequest
	if err := json.Unmarshal(data, &lines); err != nil || len(lines) != 1 || lines[0].Quantity != 3 {
		t.Fatalf("unexpected decode %+v err=%v", lines, err)
	}
}
