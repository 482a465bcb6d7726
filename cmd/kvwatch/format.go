package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/kvwatch/kvwatch-go/pkg/watch"
	"github.com/kvwatch/kvwatch-go/pkg/wire"
)

// printResponse writes one notification, one line per event.
func printResponse(w io.Writer, resp watch.Response) {
	if resp.Canceled {
		var b strings.Builder
		fmt.Fprintf(&b, "[%d] watch ended", resp.Handle)
		if resp.CancelReason != "" {
			fmt.Fprintf(&b, ": %s", resp.CancelReason)
		}
		if resp.CompactRevision != 0 {
			fmt.Fprintf(&b, " (compacted at %d)", resp.CompactRevision)
		}
		fmt.Fprintln(w, b.String())
		return
	}

	for _, ev := range resp.Events {
		switch ev.Type {
		case wire.EventPut:
			fmt.Fprintf(w, "[%d] PUT %s = %s (rev %d)", resp.Handle, ev.KV.Key, ev.KV.Value, ev.KV.ModRevision)
		case wire.EventDelete:
			fmt.Fprintf(w, "[%d] DELETE %s (rev %d)", resp.Handle, ev.KV.Key, ev.KV.ModRevision)
		}
		if ev.PrevKV != nil {
			fmt.Fprintf(w, " prev=%s", ev.PrevKV.Value)
		}
		fmt.Fprintln(w)
	}
}

// printInfo writes one subscription summary line.
func printInfo(w io.Writer, info watch.Info) {
	id := "-"
	if info.State == watch.StateActive {
		id = fmt.Sprint(info.WatchID)
	}
	fmt.Fprintf(w, "  %4d  %-9s  watch=%-4s  rev=%-6d  %s\n", info.Handle, info.State, id, info.Revision, info.Range)
}
