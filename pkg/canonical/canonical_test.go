package canonical

import (
	"testing"
)

func TestBytes_Sorting(t *testing.T) {
	input := map[string]interface{}{
		"c": 3,
		"a": 1,
		"b": 2,
	}

	expected := `{"a":1,"b":2,"c":3}`

	b, err := Bytes(input)
	if err != nil {
		t.Fatalf("Bytes failed: %v", err)
	}
	if string(b) != expected {
		t.Errorf("Expected %s, got %s", expected, string(b))
	}
}

func TestBytes_RecursiveSorting(t *testing.T) {
	input := map[string]interface{}{
		"z": map[string]interface{}{
			"y": "foo",
			"x": "bar",
		},
		"a": 1,
	}

	expected := `{"a":1,"z":{"x":"bar","y":"foo"}}`

	b, err := Bytes(input)
	if err != nil {
		t.Fatalf("Bytes failed: %v", err)
	}
	if string(b) != expected {
		t.Errorf("Expected %s, got %s", expected, string(b))
	}
}

func TestBytes_NoHTMLEscaping(t *testing.T) {
	input := map[string]string{
		"html": "<a> & </a>",
	}

	expected := `{"html":"<a> & </a>"}`

	b, err := Bytes(input)
	if err != nil {
		t.Fatalf("Bytes failed: %v", err)
	}
	if string(b) != expected {
		t.Errorf("Expected %s, got %s", expected, string(b))
	}
}

func TestBytes_StructTags(t *testing.T) {
	type payload struct {
		Zulu  string `json:"zulu"`
		Alpha int    `json:"alpha"`
	}

	b, err := Bytes(payload{Zulu: "z", Alpha: 1})
	if err != nil {
		t.Fatalf("Bytes failed: %v", err)
	}
	expected := `{"alpha":1,"zulu":"z"}`
	if string(b) != expected {
		t.Errorf("Expected %s, got %s", expected, string(b))
	}
}

func TestHash_Deterministic(t *testing.T) {
	a := map[string]int{"x": 1, "y": 2}
	b := map[string]int{"y": 2, "x": 1}

	ha, err := Hash(a)
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	hb, err := Hash(b)
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	if ha != hb {
		t.Errorf("hashes differ for equivalent content: %s vs %s", ha, hb)
	}
	if len(ha) != 64 {
		t.Errorf("expected sha256 hex digest, got %q", ha)
	}
}
