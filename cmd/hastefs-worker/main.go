// hastefs-worker is the extractor subprocess spawned by the worker pool. It
// reads extraction requests as JSON lines on stdin and answers each one with
// a JSON line on stdout. Errors are reported in-band so the pool can drop the
// offending file and keep going.
package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"io"
	"os"

	"github.com/ZanzyTHEbar/hastefs/hastefs/extract"
	"github.com/ZanzyTHEbar/hastefs/hastefs/worker"
)

func main() {
	dec := json.NewDecoder(bufio.NewReader(os.Stdin))
	out := bufio.NewWriter(os.Stdout)
	enc := json.NewEncoder(out)

	for {
		var req worker.Request
		if err := dec.Decode(&req); err != nil {
			if errors.Is(err, io.EOF) {
				return
			}
			os.Exit(1)
		}

		resp := worker.Response{}
		result, err := extract.Metadata(req.FilePath)
		if err != nil {
			resp.Error = err.Error()
		} else {
			resp.ID = result.ID
			resp.Module = result.Module
			resp.Dependencies = result.Dependencies
		}

		if err := enc.Encode(resp); err != nil {
			os.Exit(1)
		}
		if err := out.Flush(); err != nil {
			os.Exit(1)
		}
	}
}
