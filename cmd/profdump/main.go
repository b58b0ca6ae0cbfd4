// Command profdump summarizes a captured CPU profile of the storage and
// memory core's hot paths (spec §9's profile-analysis tool): given a
// pprof-format profile, it prints the top N sample-weighted functions,
// so an operator can see at a glance whether time is going into cache
// eviction, inode growth, or somewhere unexpected without opening a
// flame graph.
package main

import (
	"fmt"
	"os"
	"sort"

	"github.com/google/pprof/profile"
	"github.com/spf13/pflag"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "profdump:", err)
		os.Exit(1)
	}
}

func run() error {
	path := pflag.StringP("profile", "p", "cpu.pprof", "path to a pprof CPU profile")
	top := pflag.IntP("top", "n", 10, "number of hottest functions to print")
	pflag.Parse()

	f, err := os.Open(*path)
	if err != nil {
		return err
	}
	defer f.Close()

	prof, err := profile.Parse(f)
	if err != nil {
		return fmt.Errorf("parsing profile: %w", err)
	}

	rows := sampleWeights(prof)
	sort.Slice(rows, func(i, j int) bool { return rows[i].value > rows[j].value })
	if *top < len(rows) {
		rows = rows[:*top]
	}

	for _, r := range rows {
		fmt.Printf("%10d  %s\n", r.value, r.function)
	}
	return nil
}

type weightedFunc struct {
	function string
	value    int64
}

// sampleWeights attributes each sample's value (conventionally the
// first sample type, e.g. cpu nanoseconds) to the leaf function of its
// call stack, summed across all samples that share a leaf.
func sampleWeights(prof *profile.Profile) []weightedFunc {
	byFunc := map[string]int64{}
	for _, s := range prof.Sample {
		if len(s.Location) == 0 || len(s.Value) == 0 {
			continue
		}
		loc := s.Location[0]
		name := "?"
		if len(loc.Line) > 0 && loc.Line[0].Function != nil {
			name = loc.Line[0].Function.Name
		}
		byFunc[name] += s.Value[0]
	}

	rows := make([]weightedFunc, 0, len(byFunc))
	for fn, v := range byFunc {
		rows = append(rows, weightedFunc{function: fn, value: v})
	}
	return rows
}
