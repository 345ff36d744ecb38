package mrf

import "testing"

func TestHash_Deterministic(t *testing.T) {
	record := map[string]interface{}{
		"billing_code":      "01925",
		"billing_code_type": "CPT",
		"name":              "Office visit",
	}

	h1, err := Hash(record)
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	h2, err := Hash(record)
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	if h1 != h2 {
		t.Errorf("expected repeated hashing of the same record to match, got %q and %q", h1, h2)
	}
	if len(h1) != 16 {
		t.Errorf("expected a 16-hex-char hash, got %q (%d chars)", h1, len(h1))
	}
}

func TestHash_KeyOrderIndependent(t *testing.T) {
	a := map[string]interface{}{"billing_code": "01925", "billing_code_type": "CPT"}
	b := map[string]interface{}{"billing_code_type": "CPT", "billing_code": "01925"}

	ha, err := Hash(a)
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	hb, err := Hash(b)
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	if ha != hb {
		t.Errorf("expected map iteration order to not affect the hash, got %q and %q", ha, hb)
	}
}

func TestHash_DifferentRecordsDiffer(t *testing.T) {
	a := map[string]interface{}{"billing_code": "01925"}
	b := map[string]interface{}{"billing_code": "01926"}

	ha, err := Hash(a)
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	hb, err := Hash(b)
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	if ha == hb {
		t.Errorf("expected distinct records to hash differently, both got %q", ha)
	}
}

func TestHash_EmptyRecordErrors(t *testing.T) {
	if _, err := Hash(map[string]interface{}{}); err == nil {
		t.Error("expected an error hashing an empty record")
	}
}
