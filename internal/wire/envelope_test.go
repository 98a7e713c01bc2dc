package wire

import "testing"

func TestParse_RequiresIDAndSrc(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		ok   bool
	}{
		{"valid", `{"id":"m1","src":"a","type":"ping"}`, true},
		{"missing id", `{"src":"a","type":"ping"}`, false},
		{"missing src", `{"id":"m1","type":"ping"}`, false},
		{"not json", `{not-json`, false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, err := Parse([]byte(c.raw))
			if c.ok && err != nil {
				t.Fatalf("expected success, got %v", err)
			}
			if !c.ok && err == nil {
				t.Fatalf("expected error, got none")
			}
		})
	}
}

func TestMessage_RoundTrip(t *testing.T) {
	body := map[string]interface{}{
		"id":   "m1",
		"src":  "node-a",
		"dest": "node-b",
		"type": "check-temp",
		"data": map[string]interface{}{"gauge": "main"},
	}
	m := FromBody(body)
	raw, err := m.Bytes()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	parsed, err := Parse(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if parsed.ID() != "m1" || parsed.Src() != "node-a" || parsed.Dest() != "node-b" || parsed.Type() != "check-temp" {
		t.Fatalf("round trip field mismatch: %#v", parsed)
	}

	again, err := parsed.Bytes()
	if err != nil {
		t.Fatalf("re-encode: %v", err)
	}
	if string(again) != string(raw) {
		t.Fatalf("serialize(deserialize(bytes)) changed bytes: %s != %s", again, raw)
	}
}

func TestMessage_GetMissingPathIsAbsent(t *testing.T) {
	m := FromBody(map[string]interface{}{"id": "m1", "src": "a", "data": map[string]interface{}{"foo": map[string]interface{}{}}})
	if _, ok := m.Get("data.foo.bar"); ok {
		t.Fatalf("expected missing intermediate step to be absent")
	}
	if _, ok := m.Get("data.missing"); ok {
		t.Fatalf("expected missing leaf to be absent")
	}
}

func TestMessage_SetCreatesIntermediates(t *testing.T) {
	m := FromBody(map[string]interface{}{"id": "m1", "src": "a"})
	m.Set("data.foo.bar", 42)
	v, ok := m.Get("data.foo.bar")
	if !ok {
		t.Fatalf("expected value to be present after Set")
	}
	if v.(int) != 42 {
		t.Fatalf("expected 42, got %v", v)
	}
}

func TestMessage_SetInvalidatesCache(t *testing.T) {
	m, err := Parse([]byte(`{"id":"m1","src":"a","type":"t"}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if _, err := m.Bytes(); err != nil {
		t.Fatalf("encode: %v", err)
	}
	m.Set("type", "changed")
	raw, err := m.Bytes()
	if err != nil {
		t.Fatalf("re-encode: %v", err)
	}
	reparsed, err := Parse(raw)
	if err != nil {
		t.Fatalf("reparse: %v", err)
	}
	if reparsed.Type() != "changed" {
		t.Fatalf("expected changed type, got %s", reparsed.Type())
	}
}

func TestIsReserved(t *testing.T) {
	if !IsReserved(TypeJoin) || !IsReserved("_anything") {
		t.Fatalf("expected reserved prefix to be detected")
	}
	if IsReserved("check-temp") {
		t.Fatalf("did not expect application type to be reserved")
	}
}
