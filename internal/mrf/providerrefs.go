package mrf

import (
	"context"
	"encoding/json"

	simdjson "github.com/minio/simdjson-go"
)

// useSimd is true if the CPU supports AVX2+CLMUL for simdjson acceleration.
var useSimd = simdjson.SupportedCPU()

// DisableSimd forces the stdlib JSON parser even on CPUs that support simdjson.
func DisableSimd() {
	useSimd = false
}

// ParserName returns which JSON parser is active for remote provider references.
func ParserName() string {
	if useSimd {
		return "simdjson (SIMD-accelerated)"
	}
	return "encoding/json (standard)"
}

// rawProviderGroup mirrors ProviderGroup for stdlib JSON decoding.
type rawProviderGroup struct {
	NPI []int64 `json:"npi"`
	TIN TIN     `json:"tin"`
}

type rawProviderReference struct {
	ProviderGroupID int64              `json:"provider_group_id"`
	ProviderGroups  []rawProviderGroup `json:"provider_groups"`
	Location        string             `json:"location"`
}

// ProviderRefMap is the frozen result of C5: provider_group_id -> groups.
type ProviderRefMap map[int64][]ProviderGroup

// RefWarning records a non-fatal per-reference failure for logging, per §7.
type RefWarning struct {
	Location string
	Err      error
}

// ResolveProviderReferences implements C5 in full: Phase A walks the
// buffered provider_references array applying the NPI filter; Phase B
// fetches and filters each remote reference. Errors fetching or parsing a
// remote reference are collected as warnings and never abort the run.
func ResolveProviderReferences(ctx context.Context, p *Parser, npiSet map[int64]struct{}, useStdGzip bool, onWarning func(RefWarning)) (ProviderRefMap, error) {
	local, remoteLocations, err := phaseALocalPass(p, npiSet)
	if err != nil {
		return nil, err
	}

	result := make(ProviderRefMap, len(local))
	for id, groups := range local {
		result[id] = groups
	}

	for id, loc := range remoteLocations {
		groups, err := phaseBRemoteFetch(ctx, loc, npiSet, useStdGzip)
		if err != nil {
			if onWarning != nil {
				onWarning(RefWarning{Location: loc, Err: err})
			}
			continue
		}
		if len(groups) == 0 {
			continue
		}
		result[id] = groups
	}

	return result, nil
}

// phaseALocalPass walks provider_references, dropping NPIs outside npiSet,
// dropping provider groups left with no NPI, and splitting references into
// locally-resolved groups vs. remote locations to resolve in Phase B.
func phaseALocalPass(p *Parser, npiSet map[int64]struct{}) (ProviderRefMap, map[int64]string, error) {
	local := make(ProviderRefMap)
	remote := make(map[int64]string)

	ev, err := p.Next()
	if err != nil {
		return nil, nil, &ErrInvalidMRF{Reason: "missing provider_references array: " + err.Error()}
	}
	if ev.Kind != StartArray {
		return nil, nil, &ErrInvalidMRF{Reason: "provider_references is not an array"}
	}

	for p.More() {
		raw, err := decodeRawValue(p)
		if err != nil {
			return nil, nil, &ErrInvalidMRF{Reason: "decoding provider_references element: " + err.Error()}
		}

		var ref rawProviderReference
		if err := json.Unmarshal(raw, &ref); err != nil {
			continue
		}

		if ref.Location != "" {
			remote[ref.ProviderGroupID] = ref.Location
			continue
		}

		var groups []ProviderGroup
		for _, g := range ref.ProviderGroups {
			filtered := filterNPIs(g.NPI, npiSet)
			if len(filtered) == 0 {
				continue
			}
			groups = append(groups, ProviderGroup{NPI: filtered, TIN: g.TIN})
		}
		if len(groups) == 0 {
			continue
		}
		local[ref.ProviderGroupID] = groups
	}

	// consume end_array
	if _, err := p.Next(); err != nil {
		return nil, nil, &ErrInvalidMRF{Reason: "unterminated provider_references array"}
	}

	return local, remote, nil
}

// phaseBRemoteFetch opens a remote ProviderReference-shaped file via C1,
// then parses its top-level object with a SIMD-accelerated extraction when
// the CPU supports it, falling back to stdlib encoding/json otherwise —
// mirrors extractProviderRef's simdjson path with a stdlib fallback.
func phaseBRemoteFetch(ctx context.Context, location string, npiSet map[int64]struct{}, useStdGzip bool) ([]ProviderGroup, error) {
	stream, closeFn, err := OpenSource(ctx, location, useStdGzip)
	if err != nil {
		return nil, err
	}
	defer closeFn()

	data, err := readAllBounded(stream)
	if err != nil {
		return nil, err
	}

	var ref rawProviderReference
	if useSimd {
		groups, ok := extractProviderGroupsSIMD(data, npiSet)
		if ok {
			return groups, nil
		}
		// fall through to stdlib on SIMD parse failure
	}
	if err := json.Unmarshal(data, &ref); err != nil {
		return nil, err
	}
	var groups []ProviderGroup
	for _, g := range ref.ProviderGroups {
		filtered := filterNPIs(g.NPI, npiSet)
		if len(filtered) == 0 {
			continue
		}
		groups = append(groups, ProviderGroup{NPI: filtered, TIN: g.TIN})
	}
	return groups, nil
}

func extractProviderGroupsSIMD(data []byte, npiSet map[int64]struct{}) ([]ProviderGroup, bool) {
	pj, err := simdjson.Parse(data, nil)
	if err != nil {
		return nil, false
	}
	var groups []ProviderGroup
	ok := true
	walkErr := pj.ForEach(func(i simdjson.Iter) error {
		pgElem, err := i.FindElement(nil, "provider_groups")
		if err != nil {
			ok = false
			return nil
		}
		pgArr, err := pgElem.Iter.Array(nil)
		if err != nil {
			ok = false
			return nil
		}
		pgArr.ForEach(func(pgIter simdjson.Iter) {
			npiElem, err := pgIter.FindElement(nil, "npi")
			if err != nil {
				return
			}
			npiArr, err := npiElem.Iter.Array(nil)
			if err != nil {
				return
			}
			npis, err := npiArr.AsInteger()
			if err != nil {
				return
			}
			filtered := filterNPIs(npis, npiSet)
			if len(filtered) == 0 {
				return
			}
			var tin TIN
			if e, err := pgIter.FindElement(nil, "tin", "type"); err == nil {
				tin.Type, _ = e.Iter.String()
			}
			if e, err := pgIter.FindElement(nil, "tin", "value"); err == nil {
				tin.Value, _ = e.Iter.String()
			}
			groups = append(groups, ProviderGroup{NPI: filtered, TIN: tin})
		})
		return nil
	})
	if walkErr != nil {
		return nil, false
	}
	return groups, ok
}

func filterNPIs(npis []int64, npiSet map[int64]struct{}) []int64 {
	if len(npiSet) == 0 {
		return npis
	}
	var out []int64
	for _, n := range npis {
		if _, ok := npiSet[n]; ok {
			out = append(out, n)
		}
	}
	return out
}
