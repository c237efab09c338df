package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/crawlkit/crawld/internal/controller"
	"github.com/crawlkit/crawld/internal/crawler"
)

// console is the interactive operator loop: one command per line on stdin
// while the crawl runs in the background.
type console struct {
	ctrl *controller.Controller
	in   io.Reader
	out  io.Writer
	stop func()
}

func newConsole(ctrl *controller.Controller, in io.Reader, out io.Writer, stop func()) *console {
	return &console{ctrl: ctrl, in: in, out: out, stop: stop}
}

const consoleHelp = `commands:
  seed <url>                      register and queue a url
  pause <url> [reason]            pause a single url
  resume <url>                    resume a paused or errored url
  pause-prefix <prefix> [reason]  pause every pending url under a prefix
  resume-prefix <prefix>          resume every paused url under a prefix
  resume-all                      resume every paused url
  pending <prefix>                list pending urls under a prefix
  status                          frontier counts per status
  stats                           full crawl report
  help                            this text
  stop                            stop the crawl and exit`

// run reads commands until stop, EOF or context cancellation. Command errors
// are printed, never fatal.
func (c *console) run(ctx context.Context) {
	fmt.Fprintln(c.out, `crawld console ready; type "help" for commands`)
	scanner := bufio.NewScanner(c.in)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if !c.dispatch(ctx, line) {
			return
		}
	}
	// EOF on stdin ends the run as well.
	c.stop()
}

// dispatch executes one command line, returning false when the loop should
// exit.
func (c *console) dispatch(ctx context.Context, line string) bool {
	fields := strings.Fields(line)
	cmd, args := fields[0], fields[1:]

	switch cmd {
	case "stop", "quit", "exit":
		fmt.Fprintln(c.out, "stopping crawl")
		c.stop()
		return false
	case "help":
		fmt.Fprintln(c.out, consoleHelp)
	case "seed":
		c.seed(ctx, args)
	case "pause":
		c.pause(ctx, args)
	case "resume":
		c.resume(ctx, args)
	case "pause-prefix":
		c.pausePrefix(ctx, args)
	case "resume-prefix":
		c.resumePrefix(ctx, args)
	case "resume-all":
		c.resumeAll(ctx)
	case "pending":
		c.pending(ctx, args)
	case "status":
		c.status(ctx)
	case "stats":
		c.stats(ctx)
	default:
		fmt.Fprintf(c.out, "unknown command %q; type \"help\"\n", cmd)
	}
	return true
}

func (c *console) seed(ctx context.Context, args []string) {
	if len(args) != 1 {
		fmt.Fprintln(c.out, "usage: seed <url>")
		return
	}
	url, isNew, err := c.ctrl.Seed(ctx, args[0])
	if err != nil {
		fmt.Fprintln(c.out, "error:", err)
		return
	}
	if isNew {
		fmt.Fprintln(c.out, "seeded", url)
	} else {
		fmt.Fprintln(c.out, url, "already known")
	}
}

func (c *console) pause(ctx context.Context, args []string) {
	if len(args) < 1 {
		fmt.Fprintln(c.out, "usage: pause <url> [reason]")
		return
	}
	if err := c.ctrl.Pause(ctx, args[0], strings.Join(args[1:], " ")); err != nil {
		fmt.Fprintln(c.out, "error:", err)
		return
	}
	fmt.Fprintln(c.out, "paused", args[0])
}

func (c *console) resume(ctx context.Context, args []string) {
	if len(args) != 1 {
		fmt.Fprintln(c.out, "usage: resume <url>")
		return
	}
	if err := c.ctrl.Resume(ctx, args[0]); err != nil {
		fmt.Fprintln(c.out, "error:", err)
		return
	}
	fmt.Fprintln(c.out, "resumed", args[0])
}

func (c *console) pausePrefix(ctx context.Context, args []string) {
	if len(args) < 1 {
		fmt.Fprintln(c.out, "usage: pause-prefix <prefix> [reason]")
		return
	}
	n, err := c.ctrl.PausePrefix(ctx, args[0], strings.Join(args[1:], " "))
	if err != nil {
		fmt.Fprintln(c.out, "error:", err)
		return
	}
	fmt.Fprintf(c.out, "paused %d urls under %s\n", n, args[0])
}

func (c *console) resumePrefix(ctx context.Context, args []string) {
	if len(args) != 1 {
		fmt.Fprintln(c.out, "usage: resume-prefix <prefix>")
		return
	}
	n, err := c.ctrl.ResumePrefix(ctx, args[0])
	if err != nil {
		fmt.Fprintln(c.out, "error:", err)
		return
	}
	fmt.Fprintf(c.out, "resumed %d urls under %s\n", n, args[0])
}

func (c *console) resumeAll(ctx context.Context) {
	n, err := c.ctrl.ResumeAllPaused(ctx)
	if err != nil {
		fmt.Fprintln(c.out, "error:", err)
		return
	}
	fmt.Fprintf(c.out, "resumed %d urls\n", n)
}

func (c *console) pending(ctx context.Context, args []string) {
	if len(args) != 1 {
		fmt.Fprintln(c.out, "usage: pending <prefix>")
		return
	}
	rows, err := c.ctrl.ListPendingByPrefix(ctx, args[0])
	if err != nil {
		fmt.Fprintln(c.out, "error:", err)
		return
	}
	for _, rec := range rows {
		fmt.Fprintf(c.out, "  %s (retries=%d)\n", rec.URL, rec.RetryCount)
	}
	fmt.Fprintf(c.out, "%d pending under %s\n", len(rows), args[0])
}

func (c *console) status(ctx context.Context) {
	counts, err := c.ctrl.StatusCounts(ctx)
	if err != nil {
		fmt.Fprintln(c.out, "error:", err)
		return
	}
	for _, s := range []crawler.Status{
		crawler.StatusPending, crawler.StatusVisited,
		crawler.StatusPaused, crawler.StatusError,
	} {
		fmt.Fprintf(c.out, "  %-8s %d\n", s, counts[s])
	}
}

func (c *console) stats(ctx context.Context) {
	stats, err := c.ctrl.Stats(ctx, 10)
	if err != nil {
		fmt.Fprintln(c.out, "error:", err)
		return
	}
	fmt.Fprintf(c.out, "run %s (running=%v)\n", stats.RunID, stats.Running)
	fmt.Fprintf(c.out, "  total urls:   %d\n", stats.Total)
	fmt.Fprintf(c.out, "  queue depth:  %d\n", stats.QueueDepth)
	if stats.EarliestSeed != "" {
		fmt.Fprintf(c.out, "  first seed:   %s\n", stats.EarliestSeed)
	}
	for _, s := range []crawler.Status{
		crawler.StatusPending, crawler.StatusVisited,
		crawler.StatusPaused, crawler.StatusError,
	} {
		fmt.Fprintf(c.out, "  %-8s      %d\n", s, stats.Counts[s])
	}
	if len(stats.TopDomains) > 0 {
		fmt.Fprintln(c.out, "  top domains:")
		for _, d := range stats.TopDomains {
			fmt.Fprintf(c.out, "    %-30s %d\n", d.Domain, d.Count)
		}
	}
	if len(stats.PausedDomains) > 0 {
		fmt.Fprintln(c.out, "  paused domains:")
		for _, d := range stats.PausedDomains {
			fmt.Fprintf(c.out, "    %-30s %d\n", d.Domain, d.Count)
		}
	}
	if len(stats.PausedPrefixes) > 0 {
		fmt.Fprintln(c.out, "  paused prefixes:")
		for _, d := range stats.PausedPrefixes {
			fmt.Fprintf(c.out, "    %-30s %d\n", d.Domain, d.Count)
		}
	}
}
