package mrf

import (
	"io"
	"strconv"
)

// CodeSet is the caller-supplied billing-code filter; empty means accept-all.
type CodeSet map[CodeKey]struct{}

// StreamInNetwork implements C6: walks the in_network array (the caller has
// already fast-forwarded to its start_array) and calls emit for each
// canonical item that survives the code and NPI filters, in source order.
// codeSet and npiSet empty mean accept-all, per §4.6.
func StreamInNetwork(p *Parser, codeSet CodeSet, npiSet map[int64]struct{}, providerRefs ProviderRefMap, emit func(InNetworkItem) error) error {
	for p.More() {
		item, keep, err := readInNetworkItem(p, codeSet, npiSet, providerRefs)
		if err != nil {
			return err
		}
		if !keep {
			continue
		}
		if err := emit(item); err != nil {
			return err
		}
	}
	// consume end_array
	if _, err := p.Next(); err != nil && err != io.EOF {
		return &ErrInvalidMRF{Reason: "unterminated in_network array: " + err.Error()}
	}
	return nil
}

// readInNetworkItem reads one in_network.item, applying the code-set gate
// at negotiated_rates start_array (an item that fails the gate has its rates
// array skipped without being materialized, its remaining fields read, and
// is then dropped, per §4.6) and the NPI/provider-reference
// substitution while the rates array is built.
func readInNetworkItem(p *Parser, codeSet CodeSet, npiSet map[int64]struct{}, providerRefs ProviderRefMap) (InNetworkItem, bool, error) {
	var item InNetworkItem
	var gated bool
	var gateDecided bool
	var rawRates []interface{}
	var rawBundled []interface{}

	startEv, err := p.Next()
	if err != nil {
		return item, false, &ErrInvalidMRF{Reason: "reading in_network element: " + err.Error()}
	}
	if startEv.Kind != StartMap {
		return item, false, &ErrInvalidMRF{Reason: "in_network element is not an object"}
	}

	for {
		ev, err := p.Next()
		if err != nil {
			return item, false, &ErrInvalidMRF{Reason: "unterminated in_network element: " + err.Error()}
		}
		if ev.Kind == EndMap {
			break
		}
		if ev.Kind != MapKey {
			return item, false, &ErrInvalidMRF{Reason: "expected in_network field"}
		}
		key, _ := ev.Value.(string)

		if key == "negotiated_rates" {
			arrEv, err := p.Next()
			if err != nil {
				return item, false, &ErrInvalidMRF{Reason: "unterminated negotiated_rates"}
			}
			if len(codeSet) > 0 {
				gated = !codeMatches(codeSet, item.BillingCodeType, item.BillingCode)
				gateDecided = true
			}
			if gated {
				if err := p.SkipValue(arrEv.Kind); err != nil {
					return item, false, err
				}
				continue
			}
			v, err := buildValue(p, arrEv)
			if err != nil {
				return item, false, err
			}
			rawRates, _ = v.([]interface{})
			continue
		}

		if key == "bundled_codes" {
			valEv, err := p.Next()
			if err != nil {
				return item, false, err
			}
			v, err := buildValue(p, valEv)
			if err != nil {
				return item, false, err
			}
			rawBundled, _ = v.([]interface{})
			continue
		}

		valEv, err := p.Next()
		if err != nil {
			return item, false, err
		}
		v, err := buildValue(p, valEv)
		if err != nil {
			return item, false, err
		}
		s, _ := v.(string)
		switch key {
		case "negotiation_arrangement":
			item.NegotiationArrangement = s
		case "name":
			item.Name = s
		case "billing_code_type":
			item.BillingCodeType = s
		case "billing_code_type_version":
			item.BillingCodeTypeVersion = s
		case "billing_code":
			item.BillingCode = s
		case "description":
			item.Description = s
		}
	}

	if gateDecided && gated {
		return item, false, nil
	}
	if len(codeSet) > 0 && !codeMatches(codeSet, item.BillingCodeType, item.BillingCode) {
		return item, false, nil
	}

	rates, err := normalizeRates(rawRates, npiSet, providerRefs)
	if err != nil {
		return item, false, err
	}
	if len(rates) == 0 {
		return item, false, nil
	}
	item.NegotiatedRates = rates
	item.BundledCodes = toBundledCodes(rawBundled)

	return item, true, nil
}

func codeMatches(codeSet CodeSet, billingCodeType, billingCode string) bool {
	_, ok := codeSet[CodeKey{Type: billingCodeType, Code: billingCode}]
	return ok
}

// normalizeRates substitutes provider_references with resolved groups,
// merges them with inline provider_groups, applies NPI filtering, and drops
// any rate or provider group left empty — per §4.6.
func normalizeRates(rawRates []interface{}, npiSet map[int64]struct{}, providerRefs ProviderRefMap) ([]NegotiatedRate, error) {
	var out []NegotiatedRate
	for _, rv := range rawRates {
		rm, ok := rv.(map[string]interface{})
		if !ok {
			continue
		}

		var groups []ProviderGroup

		if refsRaw, ok := rm["provider_references"].([]interface{}); ok {
			for _, r := range refsRaw {
				id, ok := asInt64(r)
				if !ok {
					continue
				}
				if resolved, ok := providerRefs[id]; ok {
					groups = append(groups, resolved...)
				}
			}
		}
		if inlineRaw, ok := rm["provider_groups"].([]interface{}); ok {
			for _, g := range inlineRaw {
				gm, ok := g.(map[string]interface{})
				if !ok {
					continue
				}
				pg := parseProviderGroupMap(gm)
				filtered := filterNPIs(pg.NPI, npiSet)
				if len(filtered) == 0 {
					continue
				}
				groups = append(groups, ProviderGroup{NPI: filtered, TIN: pg.TIN})
			}
		}
		if npiSet != nil && len(npiSet) > 0 {
			groups = filterGroupsByNPI(groups, npiSet)
		}
		if len(groups) == 0 {
			continue
		}

		var prices []NegotiatedPrice
		if pricesRaw, ok := rm["negotiated_prices"].([]interface{}); ok {
			for _, pv := range pricesRaw {
				pm, ok := pv.(map[string]interface{})
				if !ok {
					continue
				}
				prices = append(prices, parseNegotiatedPriceMap(pm))
			}
		}

		out = append(out, NegotiatedRate{ProviderGroups: groups, NegotiatedPrices: prices})
	}
	return out, nil
}

// filterGroupsByNPI re-applies the NPI filter to groups already resolved
// from provider_references (Phase A already filtered local/remote groups,
// but the filter must also apply uniformly to inline groups reached here).
func filterGroupsByNPI(groups []ProviderGroup, npiSet map[int64]struct{}) []ProviderGroup {
	var out []ProviderGroup
	for _, g := range groups {
		filtered := filterNPIs(g.NPI, npiSet)
		if len(filtered) == 0 {
			continue
		}
		out = append(out, ProviderGroup{NPI: filtered, TIN: g.TIN})
	}
	return out
}

func parseProviderGroupMap(gm map[string]interface{}) rawProviderGroup {
	var pg rawProviderGroup
	if npiRaw, ok := gm["npi"].([]interface{}); ok {
		for _, n := range npiRaw {
			if i, ok := asInt64(n); ok {
				pg.NPI = append(pg.NPI, i)
			}
		}
	}
	if tinRaw, ok := gm["tin"].(map[string]interface{}); ok {
		if s, ok := tinRaw["type"].(string); ok {
			pg.TIN.Type = s
		}
		if s, ok := tinRaw["value"].(string); ok {
			pg.TIN.Value = s
		}
	}
	return pg
}

func parseNegotiatedPriceMap(pm map[string]interface{}) NegotiatedPrice {
	var price NegotiatedPrice
	if s, ok := pm["billing_class"].(string); ok {
		price.BillingClass = s
	}
	if s, ok := pm["negotiated_type"].(string); ok {
		price.NegotiatedType = s
	}
	if s, ok := pm["expiration_date"].(string); ok {
		price.ExpirationDate = s
	}
	if f, ok := asFloat64(pm["negotiated_rate"]); ok {
		price.NegotiatedRate = f
	}
	price.ServiceCode = parseCodeValue(pm["service_code"], true)
	price.AdditionalInformation = parseCodeValue(pm["additional_information"], false)
	price.BillingCodeModifier = parseCodeValue(pm["billing_code_modifier"], false)
	return price
}

// parseCodeValue builds the tagged union described in §9 for
// service_code/billing_code_modifier/additional_information. When
// coerceInt is set (service_code) and every element is a number or a string
// that parses as a valid decimal, the list becomes integers; if any element
// does not, every element is kept as a string.
func parseCodeValue(v interface{}, coerceInt bool) CodeValue {
	if v == nil {
		return CodeValue{Absent: true}
	}
	switch vv := v.(type) {
	case string:
		return CodeValue{Scalar: vv}
	case []interface{}:
		if len(vv) == 0 {
			return CodeValue{Absent: true}
		}
		allInt := true
		ints := make([]int64, 0, len(vv))
		strs := make([]string, 0, len(vv))
		for _, e := range vv {
			switch ev := e.(type) {
			case int64:
				ints = append(ints, ev)
				strs = append(strs, formatInt(ev))
			case float64:
				ints = append(ints, int64(ev))
				strs = append(strs, formatInt(int64(ev)))
			case string:
				if coerceInt {
					if i, ok := parseIntLoose(ev); ok {
						ints = append(ints, i)
						strs = append(strs, ev)
						continue
					}
				}
				allInt = false
				strs = append(strs, ev)
			default:
				allInt = false
			}
		}
		if allInt && coerceInt {
			return CodeValue{Ints: ints}
		}
		return CodeValue{Strs: strs}
	}
	return CodeValue{Absent: true}
}

func toBundledCodes(raw []interface{}) []BundledCode {
	var out []BundledCode
	for _, rv := range raw {
		rm, ok := rv.(map[string]interface{})
		if !ok {
			continue
		}
		var bc BundledCode
		if s, ok := rm["billing_code_type"].(string); ok {
			bc.BillingCodeType = s
		}
		if s, ok := rm["billing_code_type_version"].(string); ok {
			bc.BillingCodeTypeVersion = s
		}
		if s, ok := rm["billing_code"].(string); ok {
			bc.BillingCode = s
		}
		if s, ok := rm["description"].(string); ok {
			bc.Description = s
		}
		out = append(out, bc)
	}
	return out
}

func asInt64(v interface{}) (int64, bool) {
	switch vv := v.(type) {
	case int64:
		return vv, true
	case float64:
		return int64(vv), true
	}
	return 0, false
}

func asFloat64(v interface{}) (float64, bool) {
	switch vv := v.(type) {
	case int64:
		return float64(vv), true
	case float64:
		return vv, true
	}
	return 0, false
}

func formatInt(i int64) string {
	return strconv.FormatInt(i, 10)
}
