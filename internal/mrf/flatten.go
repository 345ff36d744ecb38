package mrf

import (
	"encoding/json"
	"strconv"
)

// Encode renders a list CodeValue as the compact JSON array §6 mandates, a
// bare string (Scalar) unchanged, or an empty string when the field is absent.
func (c CodeValue) Encode() string {
	if c.Absent {
		return ""
	}
	if c.Scalar != "" {
		return c.Scalar
	}
	if c.Ints != nil {
		b, _ := json.Marshal(c.Ints)
		return string(b)
	}
	if c.Strs != nil {
		b, _ := json.Marshal(c.Strs)
		return string(b)
	}
	return ""
}

func encodeNPIs(npi []int64) string {
	if len(npi) == 0 {
		return "[]"
	}
	b, _ := json.Marshal(npi)
	return string(b)
}

func rootRecord(root RootInfo) map[string]interface{} {
	return map[string]interface{}{
		"reporting_entity_name": root.ReportingEntityName,
		"reporting_entity_type": root.ReportingEntityType,
		"plan_name":             root.PlanName,
		"plan_id":               root.PlanID,
		"plan_id_type":          root.PlanIDType,
		"plan_market_type":      root.PlanMarketType,
		"last_updated_on":       root.LastUpdatedOn,
		"version":               root.Version,
		"url":                   root.URL,
	}
}

func inNetworkRecord(item InNetworkItem, rootHashKey string) map[string]interface{} {
	return map[string]interface{}{
		"root_hash_key":             rootHashKey,
		"negotiation_arrangement":   item.NegotiationArrangement,
		"name":                      item.Name,
		"billing_code_type_version": item.BillingCodeTypeVersion,
		"description":               item.Description,
		"billing_code":              item.BillingCode,
		"billing_code_type":         item.BillingCodeType,
	}
}

func negotiatedRateRecord(rate NegotiatedRate) map[string]interface{} {
	groups := make([]interface{}, 0, len(rate.ProviderGroups))
	for _, g := range rate.ProviderGroups {
		groups = append(groups, map[string]interface{}{"npi": g.NPI, "tin": map[string]interface{}{"type": g.TIN.Type, "value": g.TIN.Value}})
	}
	prices := make([]interface{}, 0, len(rate.NegotiatedPrices))
	for _, pr := range rate.NegotiatedPrices {
		prices = append(prices, map[string]interface{}{
			"billing_class":          pr.BillingClass,
			"negotiated_type":        pr.NegotiatedType,
			"expiration_date":        pr.ExpirationDate,
			"negotiated_rate":        pr.NegotiatedRate,
			"service_code":           pr.ServiceCode.Encode(),
			"additional_information": pr.AdditionalInformation.Encode(),
			"billing_code_modifier":  pr.BillingCodeModifier.Encode(),
		})
	}
	return map[string]interface{}{
		"provider_groups":   groups,
		"negotiated_prices": prices,
	}
}

// Flatten implements C7's flatten(item, root_hash) -> []Row, producing rows
// in the exact order specified by §4.7: one in_network row, then per rate
// one provider_groups row per group and one negotiated_prices row per
// price, all keyed by the computed hashes.
func Flatten(item InNetworkItem, rootHashKey string) ([]Row, error) {
	inRecord := inNetworkRecord(item, rootHashKey)
	inHashKey, err := Hash(inRecord)
	if err != nil {
		return nil, err
	}

	rows := []Row{{
		Kind: RowKindInNetwork,
		Fields: map[string]string{
			"root_hash_key":             rootHashKey,
			"in_network_hash_key":       inHashKey,
			"negotiation_arrangement":   item.NegotiationArrangement,
			"name":                      item.Name,
			"billing_code_type_version": item.BillingCodeTypeVersion,
			"description":               item.Description,
			"billing_code":              item.BillingCode,
			"billing_code_type":         item.BillingCodeType,
		},
	}}

	for _, rate := range item.NegotiatedRates {
		rateHashKey, err := Hash(negotiatedRateRecord(rate))
		if err != nil {
			return nil, err
		}

		for _, g := range rate.ProviderGroups {
			rows = append(rows, Row{
				Kind: RowKindProviderGroups,
				Fields: map[string]string{
					"root_hash_key":              rootHashKey,
					"in_network_hash_key":        inHashKey,
					"negotiated_rates_hash_key":  rateHashKey,
					"tin_type":                   g.TIN.Type,
					"tin_value":                  g.TIN.Value,
					"npi_numbers":                encodeNPIs(g.NPI),
				},
			})
		}

		for _, pr := range rate.NegotiatedPrices {
			rows = append(rows, Row{
				Kind: RowKindNegotiatedPrices,
				Fields: map[string]string{
					"root_hash_key":             rootHashKey,
					"in_network_hash_key":       inHashKey,
					"negotiated_rates_hash_key": rateHashKey,
					"billing_class":             pr.BillingClass,
					"negotiated_type":           pr.NegotiatedType,
					"service_code":              pr.ServiceCode.Encode(),
					"expiration_date":           pr.ExpirationDate,
					"additional_information":    pr.AdditionalInformation.Encode(),
					"billing_code_modifier":     pr.BillingCodeModifier.Encode(),
					"negotiated_rate":           strconv.FormatFloat(pr.NegotiatedRate, 'f', -1, 64),
				},
			})
		}
	}

	for _, bc := range item.BundledCodes {
		rows = append(rows, Row{
			Kind: RowKindBundledCodes,
			Fields: map[string]string{
				"root_hash_key":             rootHashKey,
				"in_network_hash_key":       inHashKey,
				"billing_code_type_version": bc.BillingCodeTypeVersion,
				"description":               bc.Description,
				"billing_code":              bc.BillingCode,
				"billing_code_type":         bc.BillingCodeType,
			},
		})
	}

	return rows, nil
}

// RootRow builds the root row for a resolved RootInfo, emitted exactly once
// per run on the first call to a Sink's write per §4.8.
func RootRow(root RootInfo) (Row, string, error) {
	record := rootRecord(root)
	hashKey, err := Hash(record)
	if err != nil {
		return Row{}, "", err
	}
	return Row{
		Kind: RowKindRoot,
		Fields: map[string]string{
			"root_hash_key":         hashKey,
			"reporting_entity_name": root.ReportingEntityName,
			"reporting_entity_type": root.ReportingEntityType,
			"plan_name":             root.PlanName,
			"plan_id":               root.PlanID,
			"plan_id_type":          root.PlanIDType,
			"plan_market_type":      root.PlanMarketType,
			"last_updated_on":       root.LastUpdatedOn,
			"version":               root.Version,
			"url":                   root.URL,
		},
	}, hashKey, nil
}
