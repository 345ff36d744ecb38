package mrf

import (
	"context"
	"fmt"
)

// Stage names the extractor's state machine positions, surfaced to callers
// (e.g. a progress tracker) via Callbacks.OnStageChange.
const (
	StageRootBuilding      = "RootBuilding"
	StageProviderRefs      = "ProviderRefs"
	StageInNetworkStream   = "InNetworkStreaming"
	StageDone              = "Done"
)

// Callbacks routes non-fatal, per-item signals out of the extractor without
// a logging dependency, mirroring the teacher's StreamCallbacks.
type Callbacks struct {
	OnStageChange func(stage string)
	OnWarning     func(msg string)
	OnItemEmitted func()
}

// Options configures one extractor run.
type Options struct {
	Source            string
	NPISet            map[int64]struct{}
	CodeSet           CodeSet
	UseStdGzip        bool
	EmitBundledCodes  bool
	Callbacks         Callbacks
}

func (c Callbacks) stage(s string) {
	if c.OnStageChange != nil {
		c.OnStageChange(s)
	}
}

func (c Callbacks) warn(msg string) {
	if c.OnWarning != nil {
		c.OnWarning(msg)
	}
}

// RowWriter is the minimal surface the extractor needs from C8, satisfied
// by sink.Sink without importing it (avoiding an import cycle, since the
// sink package imports mrf's types).
type RowWriter interface {
	Write(rows []Row) error
}

// Extract runs the full C1-C8 pipeline over one MRF document per the state
// machine in §4's "State machine" subsection: Idle -> RootBuilding ->
// ProvRefs? -> InNetworkStreaming -> Done. Returns the count of in_network
// items emitted.
func Extract(ctx context.Context, opts Options, out RowWriter) (int, error) {
	cb := opts.Callbacks

	stream, closeSource, err := OpenSource(ctx, opts.Source, opts.UseStdGzip)
	if err != nil {
		return 0, err
	}
	defer closeSource()

	cb.stage(StageRootBuilding)
	p := NewParser(stream)

	root, terminator, err := BuildRoot(p)
	if err != nil {
		return 0, err
	}

	var providerRefs ProviderRefMap
	if terminator == "provider_references" {
		cb.stage(StageProviderRefs)
		providerRefs, err = ResolveProviderReferences(ctx, p, opts.NPISet, opts.UseStdGzip, func(w RefWarning) {
			cb.warn(fmt.Sprintf("remote provider reference failed: %s: %v", w.Location, w.Err))
		})
		if err != nil {
			return 0, err
		}

		// §4's state machine: ProvRefs? yielding an empty map while the NPI
		// filter is non-empty short-circuits straight to Done with no
		// output — there is no point filtering in-network rates that can't
		// match any provider.
		if len(providerRefs) == 0 && len(opts.NPISet) > 0 {
			cb.stage(StageDone)
			return 0, nil
		}

		if err := p.FastForwardTo("in_network", StartArray, nil); err != nil {
			return 0, &ErrInvalidMRF{Reason: "stream ended before in_network: " + err.Error()}
		}
	} else {
		// terminator == "in_network": provider_references either is absent
		// or appears later in the document. Only inline provider_groups
		// can match in that case, since resolving a later
		// provider_references array would require a second pass.
		if _, err := p.Next(); err != nil {
			return 0, &ErrInvalidMRF{Reason: "in_network is not an array: " + err.Error()}
		}
		providerRefs = ProviderRefMap{}
		cb.warn("no provider_references before in_network; only inline provider_groups will resolve")
	}

	cb.stage(StageInNetworkStream)

	var rootHashKey string
	var rootEmitted bool
	count := 0

	err = StreamInNetwork(p, opts.CodeSet, opts.NPISet, providerRefs, func(item InNetworkItem) error {
		if !opts.EmitBundledCodes {
			item.BundledCodes = nil
		}

		if !rootEmitted {
			rootRow, hashKey, err := RootRow(root)
			if err != nil {
				return err
			}
			rootHashKey = hashKey
			if err := out.Write([]Row{rootRow}); err != nil {
				return err
			}
			rootEmitted = true
		}

		rows, err := Flatten(item, rootHashKey)
		if err != nil {
			return err
		}
		if err := out.Write(rows); err != nil {
			return &ErrSink{Kind: RowKindInNetwork, Err: err}
		}
		count++
		if cb.OnItemEmitted != nil {
			cb.OnItemEmitted()
		}
		return nil
	})
	if err != nil {
		return count, err
	}

	cb.stage(StageDone)
	return count, nil
}
