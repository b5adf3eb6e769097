package ui

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"tiktokads/pkg/scraper"
)

type accountProgress struct {
	pages  int
	ads    int
	stored int
	done   bool
	failed bool
}

// ProgressDisplay renders one status line for a running scrape job. It is
// fed by the scraper's OnProgress and OnStateChange hooks.
type ProgressDisplay struct {
	mu        sync.Mutex
	out       io.Writer
	total     int
	accounts  map[string]*accountProgress
	state     scraper.State
	current   string
	startTime time.Time
	isDebug   bool
}

// NewProgressDisplay creates a display for a job over totalAccounts
// advertisers. In debug mode every page is printed on its own line.
func NewProgressDisplay(out io.Writer, totalAccounts int, debug bool) *ProgressDisplay {
	return &ProgressDisplay{
		out:       out,
		total:     totalAccounts,
		accounts:  make(map[string]*accountProgress),
		startTime: time.Now(),
		isDebug:   debug,
	}
}

// Update records a progress event
func (p *ProgressDisplay) Update(ev scraper.Progress) {
	p.mu.Lock()
	defer p.mu.Unlock()

	acct, ok := p.accounts[ev.AdvertiserID]
	if !ok {
		acct = &accountProgress{}
		p.accounts[ev.AdvertiserID] = acct
	}
	acct.pages = ev.Pages
	acct.ads = ev.Ads
	acct.stored = ev.Stored
	acct.done = ev.Done
	acct.failed = ev.Err != nil
	p.current = ev.AdvertiserID

	if p.isDebug {
		p.printDebug(ev)
		return
	}
	p.printProgress()
}

// StateChanged records a job state transition
func (p *ProgressDisplay) StateChanged(from, to scraper.State) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.state = to
	if p.isDebug {
		fmt.Fprintf(p.out, "%s %s -> %s\n", Magenta("→"), from, to)
		return
	}
	p.printProgress()
}

// Line returns the current status line without colors or carriage returns
func (p *ProgressDisplay) Line() string {
	p.mu.Lock()
	defer p.mu.Unlock()

	prev := colorEnabled
	colorEnabled = false
	defer func() { colorEnabled = prev }()
	return p.line()
}

func (p *ProgressDisplay) line() string {
	var done, failed, pages, stored int
	for _, a := range p.accounts {
		pages += a.pages
		stored += a.stored
		if a.done {
			done++
		}
		if a.failed {
			failed++
		}
	}

	const barWidth = 20
	filled := 0
	if p.total > 0 {
		filled = min(done*barWidth/p.total, barWidth)
	}
	bar := strings.Repeat("━", filled) + strings.Repeat("─", barWidth-filled)

	line := fmt.Sprintf("%s [%s] %d/%d accounts • %d pages • %d ads • %s",
		Cyan(p.state.String()),
		bar,
		done,
		p.total,
		pages,
		stored,
		formatDuration(time.Since(p.startTime)),
	)
	if p.current != "" && p.state == scraper.StateFetching {
		line += fmt.Sprintf(" • %s", p.current)
	}
	if failed > 0 {
		line += fmt.Sprintf(" • %s", Red(fmt.Sprintf("%d failed", failed)))
	}
	return line
}

// printProgress rewrites the status line in place
func (p *ProgressDisplay) printProgress() {
	fmt.Fprintf(p.out, "\r%s\r%s", strings.Repeat(" ", 120), p.line())
}

func (p *ProgressDisplay) printDebug(ev scraper.Progress) {
	switch {
	case ev.Err != nil:
		fmt.Fprintf(p.out, "%s %s • %v\n", Red("✗"), ev.AdvertiserID, ev.Err)
	case ev.Done:
		fmt.Fprintf(p.out, "%s %s • %d pages • %d ads\n", Green("✓"), ev.AdvertiserID, ev.Pages, ev.Ads)
	default:
		fmt.Fprintf(p.out, "%s %s • page %d • %d ads\n", Dim("·"), ev.AdvertiserID, ev.Pages, ev.Ads)
	}
}

// Complete prints the job summary
func (p *ProgressDisplay) Complete(report *scraper.Report) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.isDebug {
		fmt.Fprintln(p.out)
	}
	PrintReport(p.out, report)
}

// PrintReport writes a human readable summary of a finished job
func PrintReport(w io.Writer, report *scraper.Report) {
	mark := Green("✓")
	switch report.ExitCode() {
	case scraper.ExitPartial:
		mark = Yellow("!")
	case scraper.ExitFailure:
		mark = Red("✗")
	}

	fmt.Fprintf(w, "\n%s Exported %d ads to %s\n", mark, report.Records, report.OutputPath)
	fmt.Fprintf(w, "  %s %d new • %d updated • %s\n",
		Dim("•"), report.Inserted, report.Updated, formatDuration(report.Duration))
	if report.Resumed {
		fmt.Fprintf(w, "  %s resumed from checkpoint\n", Dim("•"))
	}
	if report.Cancelled {
		fmt.Fprintf(w, "  %s %s\n", Dim("•"), Yellow("cancelled, partial result"))
	}
	if report.SinkErrors > 0 {
		fmt.Fprintf(w, "  %s %d sink writes failed\n", Dim("•"), report.SinkErrors)
	}
	for _, a := range report.Incomplete() {
		reason := string(a.Status)
		if a.Err != nil {
			reason = a.Err.Error()
		}
		fmt.Fprintf(w, "  %s %s: %s\n", Red("✗"), a.AdvertiserID, reason)
	}
	if report.ExportErr != nil {
		fmt.Fprintf(w, "  %s %v\n", Red("✗"), report.ExportErr)
	}
}

// formatDuration formats a duration in a human-readable way
func formatDuration(d time.Duration) string {
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
	default:
		return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
	}
}
