package main

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/docker/go-units"
	"github.com/ethpandaops/reportoor/pkg/ingest"
	"github.com/ethpandaops/reportoor/pkg/plugin"
	"github.com/ethpandaops/reportoor/pkg/qualitygate"
	"github.com/fatih/color"
)

// printer renders human readable command output.
type printer struct {
	w      io.Writer
	header *color.Color
	ok     *color.Color
	fail   *color.Color
	dim    *color.Color
}

func newPrinter(w io.Writer, noColor bool) *printer {
	p := &printer{
		w:      w,
		header: color.New(color.Bold),
		ok:     color.New(color.FgGreen, color.Bold),
		fail:   color.New(color.FgRed, color.Bold),
		dim:    color.New(color.Faint),
	}

	if noColor {
		for _, c := range []*color.Color{p.header, p.ok, p.fail, p.dim} {
			c.DisableColor()
		}
	}

	return p
}

func (p *printer) ingest(stats *ingest.Stats) {
	if stats == nil {
		return
	}

	p.header.Fprintln(p.w, "Results")
	fmt.Fprintf(p.w, "  artifacts: %d accepted, %d declined, %d duplicate (%s)\n",
		stats.Accepted, stats.Declined, stats.Duplicates, units.HumanDuration(stats.Duration))

	readers := make([]string, 0, len(stats.ByReader))
	for id := range stats.ByReader {
		readers = append(readers, id)
	}

	sort.Strings(readers)

	for _, id := range readers {
		p.dim.Fprintf(p.w, "  %-12s %d\n", id, stats.ByReader[id])
	}
}

func (p *printer) summaries(summaries []plugin.Summary) {
	for _, s := range summaries {
		if s.Plugin != plugin.SummaryPluginID {
			continue
		}

		st := s.Statistic

		p.header.Fprintf(p.w, "Report %q\n", s.Name)
		fmt.Fprintf(p.w, "  tests: %d total, %s passed, %s failed, %s broken, %d skipped, %d unknown\n",
			st.Total,
			p.ok.Sprint(st.Passed),
			p.fail.Sprint(st.Failed),
			p.fail.Sprint(st.Broken),
			st.Skipped,
			st.Unknown,
		)

		if s.Duration > 0 {
			fmt.Fprintf(p.w, "  duration: %dms\n", s.Duration)
		}

		if transitions, ok := s.Data["transitions"].(map[string]int); ok && len(transitions) > 0 {
			parts := make([]string, 0, len(transitions))
			for name, n := range transitions {
				parts = append(parts, fmt.Sprintf("%s=%d", name, n))
			}

			sort.Strings(parts)
			p.dim.Fprintf(p.w, "  transitions: %s\n", strings.Join(parts, " "))
		}
	}
}

func (p *printer) gate(report qualitygate.Report) {
	if len(report.Results) == 0 {
		return
	}

	p.header.Fprintln(p.w, "Quality gate")

	for _, r := range report.Results {
		name := r.Rule
		if r.ID != "" {
			name = r.Rule + " (" + r.ID + ")"
		}

		if r.Success {
			fmt.Fprintf(p.w, "  %s %s\n", p.ok.Sprint("PASS"), name)

			continue
		}

		fmt.Fprintf(p.w, "  %s %s: %s\n", p.fail.Sprint("FAIL"), name, r.Message)
	}

	switch {
	case report.Success:
		p.ok.Fprintln(p.w, "Quality gate passed")
	case report.Stopped:
		p.fail.Fprintln(p.w, "Quality gate failed (stopped at first failure)")
	default:
		p.fail.Fprintf(p.w, "Quality gate failed: %d of %d rules\n",
			len(report.Failures()), len(report.Results))
	}
}
