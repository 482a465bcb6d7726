package commands

import (
	"fmt"
	"io"

	"github.com/kvwatch/kvwatch-go/pkg/log"
)

// RunFilter copies the events of path that match filter into output. It
// returns how many were written and how many were read in total.
func RunFilter(path, output string, filter log.Filter) (kept, scanned int, err error) {
	reader, err := log.NewFilteredReader(path, filter)
	if err != nil {
		return 0, 0, err
	}
	defer reader.Close()

	out, err := log.NewFileLogger(output)
	if err != nil {
		return 0, 0, fmt.Errorf("create output: %w", err)
	}
	defer out.Close()

	for {
		event, err := reader.Next()
		if err == io.EOF {
			return kept, reader.Scanned(), nil
		}
		if err != nil {
			return kept, reader.Scanned(), fmt.Errorf("read event: %w", err)
		}
		out.Log(event)
		kept++
	}
}
