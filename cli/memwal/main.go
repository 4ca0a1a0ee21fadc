package main

import (
	"errors"
	"fmt"
	"os"

	memwalcmder "github.com/papercomputeco/memwal/cmd/memwal"
	"github.com/papercomputeco/memwal/pkg/consolidate"
)

// exitDrained tells a supervisor the worker stopped under memory pressure
// and should be restarted.
const exitDrained = 3

func main() {
	cmd := memwalcmder.NewMemwalCmd()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		if errors.Is(err, consolidate.ErrDrained) {
			os.Exit(exitDrained)
		}
		os.Exit(1)
	}
}
