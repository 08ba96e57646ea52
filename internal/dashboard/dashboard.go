// Package dashboard renders a live terminal view of a running benchmark.
package dashboard

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	ui "github.com/gizak/termui/v3"
	"github.com/gizak/termui/v3/widgets"

	"github.com/torosent/pipebench/internal/clientmetrics"
	"github.com/torosent/pipebench/internal/metrics"
)

const (
	refreshInterval = 500 * time.Millisecond
	historySize     = 100
)

// Source is a run that can be sampled while it executes.
type Source interface {
	Issued() int64
	Recorder() *metrics.Recorder
}

// RunConfig holds the run parameters shown in the header.
type RunConfig struct {
	SQL        string
	Client     string
	Topology   string
	Count      int
	Pipelining int
	Timeout    time.Duration
	Embedded   bool
}

// Dashboard renders a live terminal UI for one benchmark run.
type Dashboard struct {
	source       Source
	conn         *clientmetrics.ClientMetrics
	cfg          RunConfig
	ctx          context.Context
	cancel       context.CancelFunc
	shutdownFunc func()
	wg           sync.WaitGroup
	mu           sync.Mutex

	grid            *ui.Grid
	summaryPara     *widgets.Paragraph
	progressGauge   *widgets.Gauge
	throughputGroup *widgets.SparklineGroup
	latencyPara     *widgets.Paragraph
	connectionPara  *widgets.Paragraph

	throughputHistory []float64
	lastCompleted     int64
	lastUpdateTime    time.Time
	startTime         time.Time
}

// New initializes the terminal and creates a Dashboard. conn may be nil.
// shutdownFunc is called when the user presses q or Ctrl-C.
func New(source Source, conn *clientmetrics.ClientMetrics, cfg RunConfig, shutdownFunc func()) (*Dashboard, error) {
	if err := ui.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize termui: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	now := time.Now()
	d := &Dashboard{
		source:            source,
		conn:              conn,
		cfg:               cfg,
		ctx:               ctx,
		cancel:            cancel,
		shutdownFunc:      shutdownFunc,
		throughputHistory: make([]float64, 0, historySize),
		startTime:         now,
		lastUpdateTime:    now,
	}

	d.initWidgets()
	d.setupGrid()
	return d, nil
}

func (d *Dashboard) initWidgets() {
	d.summaryPara = widgets.NewParagraph()
	d.summaryPara.Title = "Run"
	d.summaryPara.Text = formatRunParams(d.cfg)
	d.summaryPara.BorderStyle.Fg = ui.ColorCyan

	d.progressGauge = widgets.NewGauge()
	d.progressGauge.Title = "Succeeded"
	d.progressGauge.BarColor = ui.ColorBlue
	d.progressGauge.BorderStyle.Fg = ui.ColorCyan
	d.progressGauge.LabelStyle = ui.NewStyle(ui.ColorWhite)

	sparkline := widgets.NewSparkline()
	sparkline.Title = "executions/s"
	sparkline.LineColor = ui.ColorGreen
	sparkline.Data = []float64{0}
	d.throughputGroup = widgets.NewSparklineGroup(sparkline)
	d.throughputGroup.Title = "Throughput"
	d.throughputGroup.BorderStyle.Fg = ui.ColorCyan

	d.latencyPara = widgets.NewParagraph()
	d.latencyPara.Title = "Latency"
	d.latencyPara.Text = "Waiting for data..."
	d.latencyPara.BorderStyle.Fg = ui.ColorCyan

	d.connectionPara = widgets.NewParagraph()
	d.connectionPara.Title = "Connection"
	d.connectionPara.Text = "Waiting for data..."
	d.connectionPara.BorderStyle.Fg = ui.ColorCyan
}

func (d *Dashboard) setupGrid() {
	termWidth, termHeight := ui.TerminalDimensions()

	d.grid = ui.NewGrid()
	d.grid.SetRect(0, 0, termWidth, termHeight)
	d.grid.Set(
		ui.NewRow(0.2,
			ui.NewCol(1.0, d.summaryPara),
		),
		ui.NewRow(0.15,
			ui.NewCol(1.0, d.progressGauge),
		),
		ui.NewRow(0.3,
			ui.NewCol(1.0, d.throughputGroup),
		),
		ui.NewRow(0.35,
			ui.NewCol(0.5, d.latencyPara),
			ui.NewCol(0.5, d.connectionPara),
		),
	)
}

// Start begins the dashboard update loop.
func (d *Dashboard) Start() {
	d.wg.Add(1)
	go d.run()
}

// Stop stops the dashboard and restores the terminal.
func (d *Dashboard) Stop() {
	d.cancel()
	d.wg.Wait()
	ui.Close()
}

func (d *Dashboard) run() {
	defer d.wg.Done()

	ticker := time.NewTicker(refreshInterval)
	defer ticker.Stop()

	uiEvents := ui.PollEvents()
	d.render()

	for {
		select {
		case <-d.ctx.Done():
			return
		case e := <-uiEvents:
			switch e.ID {
			case "q", "<C-c>":
				if d.shutdownFunc != nil {
					d.shutdownFunc()
				}
			case "<Resize>":
				payload := e.Payload.(ui.Resize)
				d.mu.Lock()
				d.grid.SetRect(0, 0, payload.Width, payload.Height)
				d.mu.Unlock()
				ui.Clear()
				d.render()
			}
		case <-ticker.C:
			d.update(time.Now())
			d.render()
		}
	}
}

func (d *Dashboard) update(now time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()

	rec := d.source.Recorder()
	completed := rec.Count()

	if interval := now.Sub(d.lastUpdateTime); interval > 0 {
		rate := float64(completed-d.lastCompleted) / interval.Seconds()
		d.throughputHistory = appendHistory(d.throughputHistory, rate, historySize)
		d.throughputGroup.Sparklines[0].Data = d.throughputHistory
		d.throughputGroup.Title = fmt.Sprintf("Throughput | Current: %.0f/s", rate)
	}
	d.lastCompleted = completed
	d.lastUpdateTime = now

	d.progressGauge.Percent = progressPercent(completed, d.cfg.Count)
	d.progressGauge.Label = fmt.Sprintf("%d / %d (issued %d)", completed, d.cfg.Count, d.source.Issued())

	d.summaryPara.Text = formatRunParams(d.cfg) + fmt.Sprintf("\nElapsed: %s", now.Sub(d.startTime).Round(time.Second))
	d.latencyPara.Text = formatLatency(rec.Stats(now.Sub(d.startTime)))
	if d.conn != nil {
		d.connectionPara.Text = formatConnection(d.conn.Snapshot())
	}
}

func (d *Dashboard) render() {
	d.mu.Lock()
	defer d.mu.Unlock()
	ui.Render(d.grid)
}

func appendHistory(history []float64, v float64, limit int) []float64 {
	history = append(history, v)
	if len(history) > limit {
		history = history[len(history)-limit:]
	}
	return history
}

func progressPercent(completed int64, total int) int {
	if total <= 0 {
		return 100
	}
	pct := int(completed * 100 / int64(total))
	return min(max(pct, 0), 100)
}

func formatLatency(s metrics.Stats) string {
	if s.Count == 0 {
		return "Waiting for data..."
	}
	ms := func(d time.Duration) float64 { return float64(d) / float64(time.Millisecond) }
	return fmt.Sprintf(
		"Min:    %.2fms\nMean:   %.2fms\nP50:    %.2fms\nP90:    %.2fms\nP99:    %.2fms\nP99.9:  %.2fms\nMax:    %.2fms",
		ms(s.MinLatency), ms(s.MeanLatency), ms(s.P50Latency), ms(s.P90Latency),
		ms(s.P99Latency), ms(s.P999Latency), ms(s.MaxLatency),
	)
}

func formatConnection(s clientmetrics.Snapshot) string {
	inFlight := s.Issued - s.Completed
	errors := fmt.Sprintf("%d", s.Errors)
	if s.Errors > 0 {
		errors = fmt.Sprintf("[%d](fg:red)", s.Errors)
	}
	return fmt.Sprintf(
		"Issued:         %d\nCompleted:      %d\nIn flight:      %d\nMax in flight:  %d\nRows:           %d\nBytes received: %d\nErrors:         %s",
		s.Issued, s.Completed, inFlight, s.MaxInFlight, s.Rows, s.BytesReceived, errors,
	)
}

func formatRunParams(cfg RunConfig) string {
	parts := []string{
		fmt.Sprintf("Client: %s", cfg.Client),
		fmt.Sprintf("Topology: %s", cfg.Topology),
		fmt.Sprintf("Count: %d", cfg.Count),
		fmt.Sprintf("Pipelining: %d", cfg.Pipelining),
	}
	if cfg.Timeout > 0 {
		parts = append(parts, fmt.Sprintf("Timeout: %s", cfg.Timeout))
	}
	if cfg.Embedded {
		parts = append(parts, "Backend: embedded")
	}
	sql := strings.Join(strings.Fields(cfg.SQL), " ")
	if len(sql) > 80 {
		sql = sql[:77] + "..."
	}
	return fmt.Sprintf("SQL: %s\n%s", sql, strings.Join(parts, " | "))
}
