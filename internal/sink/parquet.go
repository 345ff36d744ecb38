package sink

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/parquet-go/parquet-go"

	"github.com/gyeh/mrf-extractor/internal/mrf"
)

const parquetFlushInterval = 100_000

// rootParquetRow, inNetworkParquetRow, etc. mirror the CSV schema's column
// set so the two sinks are interchangeable per spec §1's "any row sink
// satisfying §6 may substitute". Grounded on gyeh-pricetool/in_network/parquet.go's
// RateParquetWriter/ProviderParquetWriter pattern: one parquet.GenericWriter[T]
// per row kind, periodically flushed rather than flushed every row.
type rootParquetRow struct {
	RootHashKey         string `parquet:"root_hash_key"`
	ReportingEntityName string `parquet:"reporting_entity_name"`
	ReportingEntityType string `parquet:"reporting_entity_type"`
	PlanName            string `parquet:"plan_name"`
	PlanID              string `parquet:"plan_id"`
	PlanIDType          string `parquet:"plan_id_type"`
	PlanMarketType      string `parquet:"plan_market_type"`
	LastUpdatedOn       string `parquet:"last_updated_on"`
	Version             string `parquet:"version"`
	URL                 string `parquet:"url"`
}

type inNetworkParquetRow struct {
	RootHashKey            string `parquet:"root_hash_key"`
	InNetworkHashKey       string `parquet:"in_network_hash_key"`
	NegotiationArrangement string `parquet:"negotiation_arrangement"`
	Name                   string `parquet:"name"`
	BillingCodeTypeVersion string `parquet:"billing_code_type_version"`
	Description            string `parquet:"description"`
	BillingCode            string `parquet:"billing_code"`
	BillingCodeType        string `parquet:"billing_code_type"`
}

type negotiatedPriceParquetRow struct {
	RootHashKey            string  `parquet:"root_hash_key"`
	InNetworkHashKey       string  `parquet:"in_network_hash_key"`
	NegotiatedRatesHashKey string  `parquet:"negotiated_rates_hash_key"`
	BillingClass           string  `parquet:"billing_class"`
	NegotiatedType         string  `parquet:"negotiated_type"`
	ServiceCode            string  `parquet:"service_code"`
	ExpirationDate         string  `parquet:"expiration_date"`
	AdditionalInformation  string  `parquet:"additional_information"`
	BillingCodeModifier    string  `parquet:"billing_code_modifier"`
	NegotiatedRate         string  `parquet:"negotiated_rate"`
}

type providerGroupParquetRow struct {
	RootHashKey            string `parquet:"root_hash_key"`
	InNetworkHashKey       string `parquet:"in_network_hash_key"`
	NegotiatedRatesHashKey string `parquet:"negotiated_rates_hash_key"`
	TinType                string `parquet:"tin_type"`
	TinValue               string `parquet:"tin_value"`
	NpiNumbers             string `parquet:"npi_numbers"`
}

type bundledCodeParquetRow struct {
	RootHashKey            string `parquet:"root_hash_key"`
	InNetworkHashKey       string `parquet:"in_network_hash_key"`
	BillingCodeTypeVersion string `parquet:"billing_code_type_version"`
	Description            string `parquet:"description"`
	BillingCode            string `parquet:"billing_code"`
	BillingCodeType        string `parquet:"billing_code_type"`
}

// parquetKindWriter hides the generic writer type behind a uniform
// append/flush/close surface so ParquetSink can keep one map of them.
type parquetKindWriter interface {
	appendRow(fields map[string]string) error
	flush() error
	close() error
}

type genericParquetWriter[T any] struct {
	file    *os.File
	w       *parquet.GenericWriter[T]
	buf     []T
	toRow   func(map[string]string) T
	written int
}

func (g *genericParquetWriter[T]) appendRow(fields map[string]string) error {
	g.buf = append(g.buf, g.toRow(fields))
	g.written++
	if g.written%parquetFlushInterval == 0 {
		return g.flush()
	}
	return nil
}

func (g *genericParquetWriter[T]) flush() error {
	if len(g.buf) == 0 {
		return nil
	}
	if _, err := g.w.Write(g.buf); err != nil {
		return err
	}
	g.buf = g.buf[:0]
	return g.w.Flush()
}

func (g *genericParquetWriter[T]) close() error {
	if err := g.flush(); err != nil {
		return err
	}
	if err := g.w.Close(); err != nil {
		return err
	}
	return g.file.Close()
}

// ParquetSink is an alternate columnar C8 implementation, one
// parquet.GenericWriter[T] per row kind, grounded on gyeh-pricetool's
// in_network/parquet.go.
type ParquetSink struct {
	outDir      string
	writers     map[string]parquetKindWriter
	rootWritten bool
}

// NewParquetSink creates outDir if needed and returns a sink ready for Write.
func NewParquetSink(outDir string) (*ParquetSink, error) {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating output directory: %w", err)
	}
	return &ParquetSink{outDir: outDir, writers: make(map[string]parquetKindWriter)}, nil
}

func openParquetWriter[T any](path string, toRow func(map[string]string) T) (parquetKindWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	w := parquet.NewGenericWriter[T](f, parquet.Compression(&parquet.Snappy))
	return &genericParquetWriter[T]{file: f, w: w, toRow: toRow}, nil
}

func (s *ParquetSink) writerFor(kind string) (parquetKindWriter, error) {
	if w, ok := s.writers[kind]; ok {
		return w, nil
	}
	path := filepath.Join(s.outDir, kind+".parquet")

	var w parquetKindWriter
	var err error
	switch kind {
	case mrf.RowKindRoot:
		w, err = openParquetWriter(path, func(f map[string]string) rootParquetRow {
			return rootParquetRow{
				RootHashKey: f["root_hash_key"], ReportingEntityName: f["reporting_entity_name"],
				ReportingEntityType: f["reporting_entity_type"], PlanName: f["plan_name"],
				PlanID: f["plan_id"], PlanIDType: f["plan_id_type"], PlanMarketType: f["plan_market_type"],
				LastUpdatedOn: f["last_updated_on"], Version: f["version"], URL: f["url"],
			}
		})
	case mrf.RowKindInNetwork:
		w, err = openParquetWriter(path, func(f map[string]string) inNetworkParquetRow {
			return inNetworkParquetRow{
				RootHashKey: f["root_hash_key"], InNetworkHashKey: f["in_network_hash_key"],
				NegotiationArrangement: f["negotiation_arrangement"], Name: f["name"],
				BillingCodeTypeVersion: f["billing_code_type_version"], Description: f["description"],
				BillingCode: f["billing_code"], BillingCodeType: f["billing_code_type"],
			}
		})
	case mrf.RowKindNegotiatedPrices:
		w, err = openParquetWriter(path, func(f map[string]string) negotiatedPriceParquetRow {
			return negotiatedPriceParquetRow{
				RootHashKey: f["root_hash_key"], InNetworkHashKey: f["in_network_hash_key"],
				NegotiatedRatesHashKey: f["negotiated_rates_hash_key"], BillingClass: f["billing_class"],
				NegotiatedType: f["negotiated_type"], ServiceCode: f["service_code"],
				ExpirationDate: f["expiration_date"], AdditionalInformation: f["additional_information"],
				BillingCodeModifier: f["billing_code_modifier"], NegotiatedRate: f["negotiated_rate"],
			}
		})
	case mrf.RowKindProviderGroups:
		w, err = openParquetWriter(path, func(f map[string]string) providerGroupParquetRow {
			return providerGroupParquetRow{
				RootHashKey: f["root_hash_key"], InNetworkHashKey: f["in_network_hash_key"],
				NegotiatedRatesHashKey: f["negotiated_rates_hash_key"], TinType: f["tin_type"],
				TinValue: f["tin_value"], NpiNumbers: f["npi_numbers"],
			}
		})
	case mrf.RowKindBundledCodes:
		w, err = openParquetWriter(path, func(f map[string]string) bundledCodeParquetRow {
			return bundledCodeParquetRow{
				RootHashKey: f["root_hash_key"], InNetworkHashKey: f["in_network_hash_key"],
				BillingCodeTypeVersion: f["billing_code_type_version"], Description: f["description"],
				BillingCode: f["billing_code"], BillingCodeType: f["billing_code_type"],
			}
		})
	default:
		return nil, fmt.Errorf("unknown row kind %q", kind)
	}
	if err != nil {
		return nil, err
	}
	s.writers[kind] = w
	return w, nil
}

// Write appends rows, routing the root row through the once-per-run latch.
func (s *ParquetSink) Write(rows []mrf.Row) error {
	for _, row := range rows {
		if row.Kind == mrf.RowKindRoot {
			if s.rootWritten {
				continue
			}
			s.rootWritten = true
		}
		w, err := s.writerFor(row.Kind)
		if err != nil {
			return &mrf.ErrSink{Kind: row.Kind, Err: err}
		}
		if err := w.appendRow(row.Fields); err != nil {
			return &mrf.ErrSink{Kind: row.Kind, Err: err}
		}
	}
	return nil
}

// Close flushes and closes every writer this sink opened.
func (s *ParquetSink) Close() error {
	var first error
	for _, w := range s.writers {
		if err := w.close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
