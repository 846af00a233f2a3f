package canonical

import (
	"bytes"
	"encoding/json"
	"math"
	"testing"
)

// Vectors shared with the JS and Python SDKs. The expected canonical
// strings and digests were produced by the reference canonicalizer
// (sorted keys, compact separators, UTF-8 output).
var sharedVectors = []struct {
	name      string
	input     any
	canonical string
	sha256Hex string
}{
	{
		name:      "empty object",
		input:     map[string]any{},
		canonical: `{}`,
		sha256Hex: "44136fa355b3678a1146ad16f7e8649e94fb4fc21fe77e8310c060f61caaff8a",
	},
	{
		name: "scalars sorted",
		input: map[string]any{
			"b": 2, "a": 1, "t": true, "f": false, "n": nil, "s": "x",
		},
		canonical: `{"a":1,"b":2,"f":false,"n":null,"s":"x","t":true}`,
		sha256Hex: "e0d9e5cf54107e4087bcfed8c979218766dde7c7e7d7228d1380aa6b4201cfc8",
	},
	{
		name: "nested containers",
		input: map[string]any{
			"z": []any{3, 2, 1},
			"a": map[string]any{
				"c": map[string]any{"d": []any{}},
				"b": []any{map[string]any{"y": 2, "x": 1}},
			},
		},
		canonical: `{"a":{"b":[{"x":1,"y":2}],"c":{"d":[]}},"z":[3,2,1]}`,
		sha256Hex: "3f0e77df9245fcda76eeaab5b843b1196174a72d3fb9376ab9821dee5b2cb3ff",
	},
	{
		name: "unicode stays literal",
		input: map[string]any{
			"note":  "héllo \"wörld\"\nпривет",
			"emoji": "✓",
		},
		canonical: `{"emoji":"✓","note":"héllo \"wörld\"\nпривет"}`,
		sha256Hex: "56b5307cbc7d9db0103a4bb4058300633e377a8888274320d6da242c0f3010c4",
	},
	{
		name: "floats without exponent",
		input: map[string]any{
			"amount": 18.5, "neg": -3.25, "tiny": 0.001,
		},
		canonical: `{"amount":18.5,"neg":-3.25,"tiny":0.001}`,
		sha256Hex: "f89044ef80d264abd1e14580c96cb2e272251bc8fa92860ee48cbb7bf405b2b2",
	},
	{
		name: "action envelope",
		input: map[string]any{
			"agent_id":       "0f1e2d3c-4b5a-6978-8796-a5b4c3d2e1f0",
			"workspace_id":   "11111111-2222-4333-8444-555555555555",
			"action_type":    "purchase",
			"target_service": "stripe_proxy",
			"payload":        map[string]any{"amount": 18, "currency": "EUR", "tool": "purchase"},
			"capability_jti": "9c5e9b1a-7a69-4a0c-b1d4-3f2a1e0d9c8b",
		},
		canonical: `{"action_type":"purchase","agent_id":"0f1e2d3c-4b5a-6978-8796-a5b4c3d2e1f0","capability_jti":"9c5e9b1a-7a69-4a0c-b1d4-3f2a1e0d9c8b","payload":{"amount":18,"currency":"EUR","tool":"purchase"},"target_service":"stripe_proxy","workspace_id":"11111111-2222-4333-8444-555555555555"}`,
		sha256Hex: "2ce4376bfc9bb1ed57576d890373dfc44f4a0d790060fcaa608e4e56ab19f8ca",
	},
}

func TestSharedVectors(t *testing.T) {
	for _, tc := range sharedVectors {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Marshal(tc.input)
			if err != nil {
				t.Fatalf("marshal: %v", err)
			}
			if string(got) != tc.canonical {
				t.Errorf("canonical mismatch:\n got: %s\nwant: %s", got, tc.canonical)
			}
			hash, err := Hash(tc.input)
			if err != nil {
				t.Fatalf("hash: %v", err)
			}
			if hash != HashPrefix+tc.sha256Hex {
				t.Errorf("hash mismatch:\n got: %s\nwant: %s%s", hash, HashPrefix, tc.sha256Hex)
			}
		})
	}
}

func TestDeterministicAcrossInsertionOrder(t *testing.T) {
	// Build semantically identical maps with different insertion order.
	a := map[string]any{}
	b := map[string]any{}
	keys := []string{"zulu", "alpha", "mike", "echo", "kilo"}
	for i, k := range keys {
		a[k] = i
	}
	for i := len(keys) - 1; i >= 0; i-- {
		b[keys[i]] = i
	}

	ea, err := Marshal(a)
	if err != nil {
		t.Fatalf("marshal a: %v", err)
	}
	eb, err := Marshal(b)
	if err != nil {
		t.Fatalf("marshal b: %v", err)
	}
	if !bytes.Equal(ea, eb) {
		t.Errorf("insertion order leaked into encoding:\n a: %s\n b: %s", ea, eb)
	}
}

func TestRepeatedCallsAreStable(t *testing.T) {
	v := map[string]any{"k": []any{1, "two", 3.5, nil, true}}
	first, err := Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	for i := 0; i < 50; i++ {
		got, err := Marshal(v)
		if err != nil {
			t.Fatalf("marshal %d: %v", i, err)
		}
		if !bytes.Equal(got, first) {
			t.Fatalf("call %d differed from first: %s vs %s", i, got, first)
		}
	}
}

func TestJSONNumberPreservesWireForm(t *testing.T) {
	dec := json.NewDecoder(bytes.NewReader([]byte(`{"int":18,"frac":18.0,"big":12345678901234567890}`)))
	dec.UseNumber()
	var v map[string]any
	if err := dec.Decode(&v); err != nil {
		t.Fatalf("decode: %v", err)
	}
	got, err := Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"big":12345678901234567890,"frac":18.0,"int":18}`
	if string(got) != want {
		t.Errorf("got %s, want %s", got, want)
	}
}

func TestExponentLiteralNormalized(t *testing.T) {
	got, err := Marshal(map[string]any{"n": json.Number("1e2")})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(got) != `{"n":100}` {
		t.Errorf("got %s, want {\"n\":100}", got)
	}
}

func TestControlCharacterEscapes(t *testing.T) {
	got, err := Marshal(map[string]any{"s": "a\u0001b\tc"})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"s":"a\u0001b\tc"}`
	if string(got) != want {
		t.Errorf("got %s, want %s", got, want)
	}
}

func TestNonFiniteRejected(t *testing.T) {
	for _, f := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		if _, err := Marshal(map[string]any{"f": f}); err == nil {
			t.Errorf("expected error for %v", f)
		}
	}
}

func TestUnsupportedTypeRejected(t *testing.T) {
	if _, err := Marshal(map[string]any{"ch": make(chan int)}); err == nil {
		t.Error("expected error for unsupported type")
	}
}
