package cmd

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/crawlkit/crawld/internal/controller"
	"github.com/crawlkit/crawld/internal/crawler"
	"github.com/crawlkit/crawld/internal/frontier"
	"github.com/crawlkit/crawld/internal/queue"
)

type consoleSink struct{}

func (consoleSink) Append(context.Context, crawler.PageSummary) error { return nil }
func (consoleSink) Close() error                                      { return nil }

func newConsoleHarness(t *testing.T, script string) (*frontier.Memory, *bytes.Buffer, bool) {
	t.Helper()
	store := frontier.NewMemory(3)
	ctrl := controller.New(controller.Deps{
		Store: store,
		Queue: queue.NewMemory(),
		Sink:  consoleSink{},
		RunID: "run-console",
	})
	t.Cleanup(func() { _ = ctrl.Stop() })

	var out bytes.Buffer
	stopped := false
	c := newConsole(ctrl, strings.NewReader(script), &out, func() { stopped = true })
	c.run(context.Background())
	return store, &out, stopped
}

func TestConsole_SeedPauseResumeStatus(t *testing.T) {
	t.Parallel()

	store, out, stopped := newConsoleHarness(t, strings.Join([]string{
		"seed https://a.com/blog/1",
		"seed https://a.com/blog/2",
		"seed https://a.com/shop/1",
		"pause https://a.com/shop/1 manual hold",
		"pause-prefix https://a.com/blog/ section freeze",
		"resume https://a.com/shop/1",
		"status",
		"stop",
	}, "\n"))

	require.True(t, stopped)
	text := out.String()
	require.Contains(t, text, "seeded https://a.com/blog/1")
	require.Contains(t, text, "paused https://a.com/shop/1")
	require.Contains(t, text, "paused 2 urls under https://a.com/blog/")
	require.Contains(t, text, "resumed https://a.com/shop/1")
	require.Contains(t, text, "stopping crawl")

	rec, err := store.Get(context.Background(), "https://a.com/blog/1")
	require.NoError(t, err)
	require.Equal(t, crawler.StatusPaused, rec.Status)
	require.Equal(t, "section freeze", rec.PauseReason)

	rec, err = store.Get(context.Background(), "https://a.com/shop/1")
	require.NoError(t, err)
	require.Equal(t, crawler.StatusPending, rec.Status)
}

func TestConsole_PendingAndStats(t *testing.T) {
	t.Parallel()

	_, out, _ := newConsoleHarness(t, strings.Join([]string{
		"seed https://a.com/1",
		"seed https://a.com/2",
		"pending https://a.com/",
		"stats",
		"stop",
	}, "\n"))

	text := out.String()
	require.Contains(t, text, "2 pending under https://a.com/")
	require.Contains(t, text, "run run-console")
	require.Contains(t, text, "total urls:   2")
}

func TestConsole_BadInput(t *testing.T) {
	t.Parallel()

	_, out, stopped := newConsoleHarness(t, strings.Join([]string{
		"bogus",
		"seed",
		"seed not-a-url",
		"resume https://unknown.com/",
		"",
	}, "\n"))

	require.True(t, stopped, "EOF stops the crawl")
	text := out.String()
	require.Contains(t, text, `unknown command "bogus"`)
	require.Contains(t, text, "usage: seed <url>")
	require.Contains(t, text, "error:")
}
