package mrf

// BuildRoot consumes events until the next top-level map key is either
// "provider_references" or "in_network", returning the accumulated scalar
// fields and which structural array comes next. Fails with ErrInvalidMRF if
// the stream ends before a terminator is seen, per §4.4.
func BuildRoot(p *Parser) (RootInfo, string, error) {
	var root RootInfo
	fields := map[string]*string{
		"reporting_entity_name": &root.ReportingEntityName,
		"reporting_entity_type": &root.ReportingEntityType,
		"plan_name":              &root.PlanName,
		"plan_id":                &root.PlanID,
		"plan_id_type":           &root.PlanIDType,
		"plan_market_type":       &root.PlanMarketType,
		"last_updated_on":        &root.LastUpdatedOn,
		"version":                &root.Version,
		"url":                    &root.URL,
	}

	ev, err := p.Next()
	if err != nil {
		return root, "", &ErrInvalidMRF{Reason: "empty stream: " + err.Error()}
	}
	if ev.Kind != StartMap {
		return root, "", &ErrInvalidMRF{Reason: "document root is not an object"}
	}

	for {
		ev, err := p.Next()
		if err != nil {
			return root, "", &ErrInvalidMRF{Reason: "stream ended before provider_references or in_network: " + err.Error()}
		}
		if ev.Kind != MapKey {
			return root, "", &ErrInvalidMRF{Reason: "expected a top-level field"}
		}
		key, _ := ev.Value.(string)
		if key == "provider_references" || key == "in_network" {
			return root, key, nil
		}

		dst, known := fields[key]
		valEv, err := p.Next()
		if err != nil {
			return root, "", &ErrInvalidMRF{Reason: "unterminated field " + key}
		}
		if known {
			if s, ok := valEv.Value.(string); ok {
				*dst = s
			}
			continue
		}
		// Unknown scalar field: already consumed by Next above if it was a
		// scalar. If it was a container, skip its body.
		if valEv.Kind == StartMap || valEv.Kind == StartArray {
			if err := p.SkipValue(valEv.Kind); err != nil {
				return root, "", &ErrInvalidMRF{Reason: "skipping unknown field " + key + ": " + err.Error()}
			}
		}
	}
}
