package main

import (
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"text/tabwriter"
	"time"

	synchmgr "github.com/joeycumines/go-synchmgr"
)

type report struct {
	Elapsed   time.Duration            `json:"elapsed"`
	Ops       map[string]uint64        `json:"ops"`
	Exhausted uint64                   `json:"exhausted"`
	Callbacks uint64                   `json:"callbacks"`
	Metrics   synchmgr.MetricsSnapshot `json:"metrics"`
}

func (x *report) write(w io.Writer, format string) error {
	if format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(x)
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	row := func(name string, value any) { fmt.Fprintf(tw, "%s\t%v\n", name, value) }

	row("elapsed", x.Elapsed.Round(time.Millisecond))
	ops := make([]string, 0, len(x.Ops))
	for op := range x.Ops {
		ops = append(ops, op)
	}
	slices.Sort(ops)
	for _, op := range ops {
		row("op."+op, x.Ops[op])
	}
	row("exhausted", x.Exhausted)
	row("callbacks", x.Callbacks)

	s := x.Metrics
	row("waits", s.Waits)
	row("fast_path", s.FastPath)
	row("satisfied", s.Satisfied)
	row("abandoned", s.Abandoned)
	row("timed_out", s.TimedOut)
	row("interrupted", s.Interrupted)
	row("destroyed", s.Destroyed)
	row("failed", s.Failed)
	row("signals", s.Signals)
	row("wakes.direct", s.DirectWakes)
	row("wakes.deferred", s.DeferredWakes)
	row("wakes.overflow", s.OverflowWakes)
	row("wakes.drained", s.DrainedWakes)
	row("wakes.discarded", s.DiscardedWakes)
	row("worker_passes", s.WorkerPasses)
	row("callbacks_run", s.Callbacks)
	row("latency.p50", s.LatencyP50)
	row("latency.p90", s.LatencyP90)
	row("latency.p99", s.LatencyP99)
	row("latency.max", s.LatencyMax)
	row("blocked", s.Blocked)
	return tw.Flush()
}
