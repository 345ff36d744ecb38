package mrf

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

type collectingWriter struct {
	rows []Row
}

func (w *collectingWriter) Write(rows []Row) error {
	w.rows = append(w.rows, rows...)
	return nil
}

func (w *collectingWriter) byKind(kind string) []Row {
	var out []Row
	for _, r := range w.rows {
		if r.Kind == kind {
			out = append(out, r)
		}
	}
	return out
}

func writeTempMRF(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "mrf.json")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("writing temp MRF: %v", err)
	}
	return path
}

func TestExtract_InlineOnlyNoFilter(t *testing.T) {
	body := `{
		"reporting_entity_name": "Test Health Plan",
		"reporting_entity_type": "Group Health",
		"plan_name": "Gold Plan",
		"plan_id": "P1",
		"plan_id_type": "HIOS",
		"plan_market_type": "group",
		"last_updated_on": "2025-01-01",
		"version": "1.0.0",
		"in_network": [
			{
				"negotiation_arrangement": "ffs",
				"name": "Office visit",
				"billing_code_type": "CPT",
				"billing_code_type_version": "2020",
				"billing_code": "01925",
				"description": "desc",
				"negotiated_rates": [
					{
						"provider_groups": [{"npi": [1467915983], "tin": {"type": "ein", "value": "12-3456789"}}],
						"negotiated_prices": [{
							"billing_class": "professional", "negotiated_type": "negotiated",
							"negotiated_rate": 100.0, "expiration_date": "9999-12-31",
							"service_code": ["11"]
						}]
					}
				]
			}
		]
	}`

	path := writeTempMRF(t, body)
	out := &collectingWriter{}

	n, err := Extract(context.Background(), Options{Source: path}, out)
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 item emitted, got %d", n)
	}

	if got := len(out.byKind(RowKindRoot)); got != 1 {
		t.Errorf("expected 1 root row, got %d", got)
	}
	if got := len(out.byKind(RowKindInNetwork)); got != 1 {
		t.Errorf("expected 1 in_network row, got %d", got)
	}
	groups := out.byKind(RowKindProviderGroups)
	if got := len(groups); got != 1 {
		t.Fatalf("expected 1 provider_groups row, got %d", got)
	}
	prices := out.byKind(RowKindNegotiatedPrices)
	if got := len(prices); got != 1 {
		t.Fatalf("expected 1 negotiated_prices row, got %d", got)
	}
	if got := prices[0].Fields["service_code"]; got != "[11]" {
		t.Errorf("expected service_code cell [11], got %q", got)
	}
}

func TestExtract_CodeFilterMiss(t *testing.T) {
	body := `{
		"reporting_entity_name": "Test Health Plan",
		"in_network": [
			{
				"negotiation_arrangement": "ffs",
				"name": "Office visit",
				"billing_code_type": "CPT",
				"billing_code": "01925",
				"negotiated_rates": [
					{
						"provider_groups": [{"npi": [1467915983], "tin": {"type": "ein", "value": "12-3456789"}}],
						"negotiated_prices": [{"billing_class": "professional", "negotiated_type": "negotiated", "negotiated_rate": 100.0, "expiration_date": "9999-12-31"}]
					}
				]
			}
		]
	}`

	path := writeTempMRF(t, body)
	out := &collectingWriter{}

	codeSet := CodeSet{CodeKey{Type: "CPT", Code: "99999"}: {}}
	n, err := Extract(context.Background(), Options{Source: path, CodeSet: codeSet}, out)
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if n != 0 {
		t.Errorf("expected 0 items emitted, got %d", n)
	}
	if len(out.rows) != 0 {
		t.Errorf("expected no rows of any kind (root only emitted with an item), got %d", len(out.rows))
	}
}

func TestExtract_ProviderReferenceResolution(t *testing.T) {
	body := `{
		"reporting_entity_name": "Test Health Plan",
		"provider_references": [
			{"provider_group_id": 1, "provider_groups": [{"npi": [1467915983], "tin": {"type": "ein", "value": "12-3456789"}}]}
		],
		"in_network": [
			{
				"negotiation_arrangement": "ffs",
				"name": "Office visit",
				"billing_code_type": "CPT",
				"billing_code": "01925",
				"negotiated_rates": [
					{
						"provider_references": [1],
						"negotiated_prices": [{"billing_class": "professional", "negotiated_type": "negotiated", "negotiated_rate": 100.0, "expiration_date": "9999-12-31"}]
					}
				]
			}
		]
	}`

	path := writeTempMRF(t, body)
	out := &collectingWriter{}

	n, err := Extract(context.Background(), Options{Source: path}, out)
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 item emitted, got %d", n)
	}
	groups := out.byKind(RowKindProviderGroups)
	if len(groups) != 1 {
		t.Fatalf("expected 1 provider_groups row, got %d", len(groups))
	}
	if got := groups[0].Fields["npi_numbers"]; got != "[1467915983]" {
		t.Errorf("expected npi [1467915983], got %q", got)
	}
}

func TestExtract_NPIFilterDropsRate(t *testing.T) {
	body := `{
		"reporting_entity_name": "Test Health Plan",
		"provider_references": [
			{"provider_group_id": 1, "provider_groups": [{"npi": [1467915983], "tin": {"type": "ein", "value": "12-3456789"}}]}
		],
		"in_network": [
			{
				"negotiation_arrangement": "ffs",
				"name": "Office visit",
				"billing_code_type": "CPT",
				"billing_code": "01925",
				"negotiated_rates": [
					{
						"provider_references": [1],
						"negotiated_prices": [{"billing_class": "professional", "negotiated_type": "negotiated", "negotiated_rate": 100.0, "expiration_date": "9999-12-31"}]
					}
				]
			}
		]
	}`

	path := writeTempMRF(t, body)
	out := &collectingWriter{}

	npiSet := map[int64]struct{}{9999999999: {}}
	n, err := Extract(context.Background(), Options{Source: path, NPISet: npiSet}, out)
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if n != 0 {
		t.Errorf("expected 0 items emitted, got %d", n)
	}
	if len(out.rows) != 0 {
		t.Errorf("expected no rows at all, got %d", len(out.rows))
	}
}

func TestExtract_RemoteReferenceFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	body := `{
		"reporting_entity_name": "Test Health Plan",
		"provider_references": [
			{"provider_group_id": 1, "location": "` + srv.URL + `/broken.json"}
		],
		"in_network": [
			{
				"negotiation_arrangement": "ffs",
				"name": "Broken ref item",
				"billing_code_type": "CPT",
				"billing_code": "01925",
				"negotiated_rates": [{
					"provider_references": [1],
					"negotiated_prices": [{"billing_class": "professional", "negotiated_type": "negotiated", "negotiated_rate": 100.0, "expiration_date": "9999-12-31"}]
				}]
			},
			{
				"negotiation_arrangement": "ffs",
				"name": "Inline item",
				"billing_code_type": "CPT",
				"billing_code": "01926",
				"negotiated_rates": [{
					"provider_groups": [{"npi": [1467915983], "tin": {"type": "ein", "value": "12-3456789"}}],
					"negotiated_prices": [{"billing_class": "professional", "negotiated_type": "negotiated", "negotiated_rate": 50.0, "expiration_date": "9999-12-31"}]
				}]
			}
		]
	}`

	path := writeTempMRF(t, body)
	out := &collectingWriter{}

	var warnings []string
	n, err := Extract(context.Background(), Options{
		Source: path,
		Callbacks: Callbacks{
			OnWarning: func(msg string) { warnings = append(warnings, msg) },
		},
	}, out)
	if err != nil {
		t.Fatalf("Extract should succeed despite the broken remote reference: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 item emitted (the inline one), got %d", n)
	}

	inNetworkRows := out.byKind(RowKindInNetwork)
	if len(inNetworkRows) != 1 || inNetworkRows[0].Fields["name"] != "Inline item" {
		t.Fatalf("expected only the inline item's row, got %+v", inNetworkRows)
	}

	found := false
	for _, w := range warnings {
		if strings.Contains(w, "broken.json") {
			found = true
		}
	}
	if !found {
		t.Errorf("expected a warning naming the broken reference, got %v", warnings)
	}
}

func TestExtract_MixedInlineAndByReference(t *testing.T) {
	body := `{
		"reporting_entity_name": "Test Health Plan",
		"provider_references": [
			{"provider_group_id": 1, "provider_groups": [{"npi": [1111111111], "tin": {"type": "ein", "value": "11-1111111"}}]}
		],
		"in_network": [
			{
				"negotiation_arrangement": "ffs",
				"name": "Mixed item",
				"billing_code_type": "CPT",
				"billing_code": "01925",
				"negotiated_rates": [{
					"provider_references": [1],
					"provider_groups": [{"npi": [2222222222], "tin": {"type": "ein", "value": "22-2222222"}}],
					"negotiated_prices": [{"billing_class": "professional", "negotiated_type": "negotiated", "negotiated_rate": 100.0, "expiration_date": "9999-12-31"}]
				}]
			}
		]
	}`

	path := writeTempMRF(t, body)
	out := &collectingWriter{}

	n, err := Extract(context.Background(), Options{Source: path}, out)
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 item emitted, got %d", n)
	}

	groups := out.byKind(RowKindProviderGroups)
	if len(groups) != 2 {
		t.Fatalf("expected 2 provider_groups rows (one by reference, one inline), got %d", len(groups))
	}
	if groups[0].Fields["negotiated_rates_hash_key"] != groups[1].Fields["negotiated_rates_hash_key"] {
		t.Errorf("expected both groups to share one negotiated_rates_hash_key, got %q and %q",
			groups[0].Fields["negotiated_rates_hash_key"], groups[1].Fields["negotiated_rates_hash_key"])
	}
}
