// Package sink implements C8 Row Sink: appending flattened rows to named
// tabular outputs, creating headers (or their columnar equivalent) on first
// write. Any implementation satisfying this interface may substitute for
// another, per spec §1.
package sink

import "github.com/gyeh/mrf-extractor/internal/mrf"

// Sink appends rows to storage, keyed by row kind. Write must be safe to
// call repeatedly across many rows of possibly different kinds; the root
// row is written exactly once per run regardless of how many times it is
// passed to Write.
type Sink interface {
	Write(rows []mrf.Row) error
	Close() error
}

// Schema gives the authoritative column order for each row kind per §6.
var Schema = map[string][]string{
	mrf.RowKindRoot: {
		"root_hash_key", "reporting_entity_name", "reporting_entity_type",
		"plan_name", "plan_id", "plan_id_type", "plan_market_type",
		"last_updated_on", "version", "url",
	},
	mrf.RowKindInNetwork: {
		"root_hash_key", "in_network_hash_key", "negotiation_arrangement",
		"name", "billing_code_type_version", "description", "billing_code",
		"billing_code_type",
	},
	mrf.RowKindNegotiatedPrices: {
		"root_hash_key", "in_network_hash_key", "negotiated_rates_hash_key",
		"billing_class", "negotiated_type", "service_code", "expiration_date",
		"additional_information", "billing_code_modifier", "negotiated_rate",
	},
	mrf.RowKindProviderGroups: {
		"root_hash_key", "in_network_hash_key", "negotiated_rates_hash_key",
		"tin_type", "tin_value", "npi_numbers",
	},
	mrf.RowKindBundledCodes: {
		"root_hash_key", "in_network_hash_key", "billing_code_type_version",
		"description", "billing_code", "billing_code_type",
	},
}
