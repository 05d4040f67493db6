// Package report renders a verification run for operators. None of the formats is a stable contract.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"gopkg.in/yaml.v3"

	"bcryptcheck/internal/config"
	"bcryptcheck/internal/gate"
	"bcryptcheck/internal/verify"
)

// Document is the structured form written by the json and yaml formats.
type Document struct {
	Verdict string         `json:"verdict" yaml:"verdict"`
	Result  *verify.Result `json:"result" yaml:"result"`
	Gate    *gate.Decision `json:"gate,omitempty" yaml:"gate,omitempty"`
	Counts  verify.Counts  `json:"counts" yaml:"counts"`
}

// Verdict is PASS when the run succeeded and the gate (if any) allowed it.
func Verdict(res *verify.Result, d *gate.Decision) string {
	if res == nil || !res.Success {
		return "FAIL"
	}
	if d != nil && !d.Allow {
		return "FAIL"
	}
	return "PASS"
}

// Render writes res and the gate decision d (may be nil) to w in format (text, json or yaml).
func Render(w io.Writer, res *verify.Result, d *gate.Decision, format string) error {
	switch strings.ToLower(format) {
	case "", config.FormatText:
		return renderText(w, res, d)
	case config.FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(document(res, d))
	case config.FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(document(res, d)); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("report: unknown format %q", format)
	}
}

func document(res *verify.Result, d *gate.Decision) Document {
	return Document{Verdict: Verdict(res, d), Result: res, Gate: d, Counts: res.Counts()}
}

type styles struct {
	pass, fail, skip, title, muted lipgloss.Style
}

func newStyles(w io.Writer) styles {
	r := lipgloss.NewRenderer(w)
	return styles{
		pass:  r.NewStyle().Foreground(lipgloss.Color("#8BC34A")).Bold(true),
		fail:  r.NewStyle().Foreground(lipgloss.Color("#e53935")).Bold(true),
		skip:  r.NewStyle().Foreground(lipgloss.Color("#FFC107")).Bold(true),
		title: r.NewStyle().Bold(true),
		muted: r.NewStyle().Faint(true),
	}
}

func (s styles) badge(status string) string {
	label := "[" + status + "]"
	switch status {
	case "PASS", "ALLOW":
		return s.pass.Render(label)
	case "SKIP":
		return s.skip.Render(label)
	default:
		return s.fail.Render(label)
	}
}

func renderText(w io.Writer, res *verify.Result, d *gate.Decision) error {
	if res == nil {
		return fmt.Errorf("report: no result")
	}
	s := newStyles(w)
	var b strings.Builder

	fmt.Fprintf(&b, "%s %s\n", s.title.Render("bcryptcheck verification"), s.muted.Render(fmt.Sprintf("run %s, driver %s", res.RunID, driverLabel(res.Driver))))

	width := 0
	for _, c := range res.Cases {
		width = max(width, len(c.Name))
	}
	for _, c := range res.Cases {
		fmt.Fprintf(&b, "%s %-*s  %-5s %8s  %s\n",
			s.badge(c.Status()), width, c.Name, c.Path, formatDuration(c.Duration), c.Detail)
	}

	if res.Diagnosis != nil {
		fmt.Fprintf(&b, "\ndiagnosis: %s: %s\n", res.Diagnosis.Kind, res.Diagnosis.Summary)
		if res.Diagnosis.Remedy != "" {
			fmt.Fprintf(&b, "remedy:    %s\n", res.Diagnosis.Remedy)
		}
	}
	if res.Latency != nil {
		fmt.Fprintf(&b, "\nlatency: %d hashes at cost %d, %s per hash\n",
			res.Latency.Samples, res.Latency.Cost, formatDuration(res.Latency.PerHash))
	}

	counts := res.Counts()
	verdict := "FAIL"
	if res.Success {
		verdict = "PASS"
	}
	fmt.Fprintf(&b, "\n%s %d passed, %d failed, %d skipped in %s\n",
		s.badge(verdict), counts.Passed, counts.Failed, counts.Skipped, formatDuration(res.Elapsed))

	if d != nil {
		gateStatus := "DENY"
		if d.Allow {
			gateStatus = "ALLOW"
		}
		fmt.Fprintf(&b, "%s gate policy %s\n", s.badge(gateStatus), d.Policy)
		for _, r := range d.Reasons {
			fmt.Fprintf(&b, "  - %s\n", r)
		}
	}

	_, err := io.WriteString(w, b.String())
	return err
}

func driverLabel(driver string) string {
	if driver == "" {
		return "unknown"
	}
	return driver
}

func formatDuration(d time.Duration) string {
	switch {
	case d <= 0:
		return "0s"
	case d < time.Millisecond:
		return d.Round(time.Microsecond).String()
	case d < time.Second:
		return d.Round(100 * time.Microsecond).String()
	default:
		return d.Round(time.Millisecond).String()
	}
}
