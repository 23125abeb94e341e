package main

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"

	"github.com/daviddao/traceviz/internal/layout"
	"github.com/daviddao/traceviz/internal/playback"
	"github.com/daviddao/traceviz/internal/trace"
	"github.com/daviddao/traceviz/internal/viewport"
	"github.com/daviddao/traceviz/internal/visualizer"
)

const (
	sidePanelWidth = 34
	// panStep is how far one pan key moves the camera, in cells.
	panStep  = 4
	zoomStep = 1.25
	minZoom  = 0.25
	maxZoom  = 4
)

// --- Messages ---

type sourceChangedMsg struct{}

type runDoneMsg struct {
	ticket visualizer.Ticket
	events []trace.Event
	diags  []trace.Diagnostic
	err    error
}

// frameMsg advances the camera transition of request gen.
type frameMsg struct {
	gen uint64
}

// --- Key bindings ---

type keyMap struct {
	First    key.Binding
	Prev     key.Binding
	Next     key.Binding
	Last     key.Binding
	Seek     key.Binding
	PanUp    key.Binding
	PanLeft  key.Binding
	PanDown  key.Binding
	PanRight key.Binding
	ZoomIn   key.Binding
	ZoomOut  key.Binding
	Center   key.Binding
	Layout   key.Binding
	Rerun    key.Binding
	Esc      key.Binding
	Help     key.Binding
	Quit     key.Binding
}

var keys = keyMap{
	First:    key.NewBinding(key.WithKeys("g", "home"), key.WithHelp("g", "first step")),
	Prev:     key.NewBinding(key.WithKeys("left", "p"), key.WithHelp("←/p", "previous")),
	Next:     key.NewBinding(key.WithKeys("right", "n", " "), key.WithHelp("→/n", "next")),
	Last:     key.NewBinding(key.WithKeys("G", "end"), key.WithHelp("G", "last step")),
	Seek:     key.NewBinding(key.WithKeys("enter"), key.WithHelp("0-9 enter", "go to step")),
	PanUp:    key.NewBinding(key.WithKeys("w", "up"), key.WithHelp("w", "pan up")),
	PanLeft:  key.NewBinding(key.WithKeys("a"), key.WithHelp("a", "pan left")),
	PanDown:  key.NewBinding(key.WithKeys("s", "down"), key.WithHelp("s", "pan down")),
	PanRight: key.NewBinding(key.WithKeys("d"), key.WithHelp("d", "pan right")),
	ZoomIn:   key.NewBinding(key.WithKeys("+", "="), key.WithHelp("+", "zoom in")),
	ZoomOut:  key.NewBinding(key.WithKeys("-", "_"), key.WithHelp("-", "zoom out")),
	Center:   key.NewBinding(key.WithKeys("c"), key.WithHelp("c", "centre on step")),
	Layout:   key.NewBinding(key.WithKeys("l"), key.WithHelp("l", "flip layout")),
	Rerun:    key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "re-run")),
	Esc:      key.NewBinding(key.WithKeys("esc"), key.WithHelp("esc", "clear input")),
	Help:     key.NewBinding(key.WithKeys("?"), key.WithHelp("?", "help")),
	Quit:     key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
}

func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Prev, k.Next, k.Rerun, k.Help, k.Quit}
}

func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.First, k.Prev, k.Next, k.Last, k.Seek},
		{k.PanUp, k.PanLeft, k.PanDown, k.PanRight},
		{k.ZoomIn, k.ZoomOut, k.Center, k.Layout},
		{k.Rerun, k.Esc, k.Help, k.Quit},
	}
}

// --- Model ---

type uiModel struct {
	vis    *visualizer.TraceVisualizer
	source runSource
	log    *slog.Logger
	fps    int

	width  int
	height int

	cam  viewport.Camera
	anim *viewport.Transition

	spinner  spinner.Model
	help     help.Model
	showHelp bool
	seek     string // digits typed so far

	decodeDiags int
	lastRun     time.Time
}

func newModel(vis *visualizer.TraceVisualizer, src runSource, logger *slog.Logger) uiModel {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("#7C3AED"))
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return uiModel{
		vis:     vis,
		source:  src,
		log:     logger,
		fps:     viewport.DefaultFPS,
		cam:     viewport.Camera{Zoom: viewport.DefaultZoom},
		spinner: sp,
		help:    help.New(),
	}
}

func (m uiModel) Init() tea.Cmd {
	return m.startRun()
}

// startRun begins a run and loads it off the update loop.
func (m uiModel) startRun() tea.Cmd {
	if m.source == nil {
		return nil
	}
	t := m.vis.Begin()
	src := m.source
	load := func() tea.Msg {
		events, diags, err := src.Load(context.Background())
		return runDoneMsg{ticket: t, events: events, diags: diags, err: err}
	}
	return tea.Batch(load, m.spinner.Tick)
}

func (m uiModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.help.Width = msg.Width

	case sourceChangedMsg:
		if m.source == nil {
			return m, nil
		}
		m.log.Debug("source changed", "source", m.source.Name())
		return m, m.startRun()

	case runDoneMsg:
		if msg.err != nil {
			m.vis.Fail(msg.ticket, msg.err)
			return m, nil
		}
		c, ok := m.vis.Complete(msg.ticket, msg.events)
		if !ok {
			return m, nil
		}
		logDecodeDiagnostics(m.log, msg.diags)
		m.decodeDiags = len(msg.diags)
		m.lastRun = time.Now()
		return m.follow(c)

	case frameMsg:
		if m.anim == nil || m.anim.Request().Generation != msg.gen || !m.vis.CameraCurrent(m.anim.Request()) {
			return m, nil
		}
		m.cam = m.anim.Step()
		if m.anim.Done() {
			m.anim = nil
			return m, nil
		}
		return m, m.frameTick(msg.gen)

	case spinner.TickMsg:
		if m.vis.Status() != visualizer.StatusLoading {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

func (m uiModel) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if s := msg.String(); len(s) == 1 && s[0] >= '0' && s[0] <= '9' {
		m.seek += s
		return m, nil
	}

	switch {
	case key.Matches(msg, keys.Quit):
		return m, tea.Quit

	case key.Matches(msg, keys.Seek):
		if m.seek == "" {
			return m, nil
		}
		n, err := strconv.Atoi(m.seek)
		m.seek = ""
		if err != nil {
			return m, nil
		}
		return m.apply(playback.Seek(n))

	case key.Matches(msg, keys.Esc):
		m.seek = ""

	case key.Matches(msg, keys.First):
		return m.apply(playback.First)
	case key.Matches(msg, keys.Prev):
		return m.apply(playback.Prev)
	case key.Matches(msg, keys.Next):
		return m.apply(playback.Next)
	case key.Matches(msg, keys.Last):
		return m.apply(playback.Last)

	case key.Matches(msg, keys.PanUp):
		m.pan(0, -1)
	case key.Matches(msg, keys.PanDown):
		m.pan(0, 1)
	case key.Matches(msg, keys.PanLeft):
		m.pan(-1, 0)
	case key.Matches(msg, keys.PanRight):
		m.pan(1, 0)

	case key.Matches(msg, keys.ZoomIn):
		m.zoom(zoomStep)
	case key.Matches(msg, keys.ZoomOut):
		m.zoom(1 / zoomStep)

	case key.Matches(msg, keys.Center):
		c, ok := m.vis.Recenter()
		if !ok {
			return m, nil
		}
		return m.follow(c)

	case key.Matches(msg, keys.Layout):
		opts := m.vis.LayoutOptions()
		if opts.Direction == layout.TopBottom {
			opts.Direction = layout.LeftRight
		} else {
			opts.Direction = layout.TopBottom
		}
		c, ok := m.vis.Relayout(opts)
		if !ok {
			return m, nil
		}
		return m.follow(c)

	case key.Matches(msg, keys.Rerun):
		return m, m.startRun()

	case key.Matches(msg, keys.Help):
		m.showHelp = !m.showHelp
	}
	return m, nil
}

// apply runs a playback command and follows the camera to the new step.
func (m uiModel) apply(cmd playback.Command) (tea.Model, tea.Cmd) {
	c, ok := m.vis.Do(cmd)
	if !ok {
		return m, nil
	}
	return m.follow(c)
}

// follow starts the camera transition of c, replacing any running one.
func (m uiModel) follow(c visualizer.Change) (tea.Model, tea.Cmd) {
	if !c.HasCamera {
		return m, nil
	}
	m.anim = m.vis.NewTransition(m.cam, c.Camera)
	if m.anim.Done() {
		m.cam = m.anim.Camera()
		m.anim = nil
		return m, nil
	}
	return m, m.frameTick(c.Camera.Generation)
}

func (m uiModel) frameTick(gen uint64) tea.Cmd {
	fps := max(m.fps, 1)
	return tea.Tick(time.Second/time.Duration(fps), func(time.Time) tea.Msg {
		return frameMsg{gen: gen}
	})
}

// pan moves the camera by whole cells. It stops the running transition.
func (m *uiModel) pan(dx, dy float64) {
	m.vis.Manual()
	m.anim = nil
	z := m.zoomLevel()
	m.cam.X += dx * panStep * cellWidth / z
	m.cam.Y += dy * panStep * cellHeight / z
}

func (m *uiModel) zoom(f float64) {
	m.vis.Manual()
	m.anim = nil
	m.cam.Zoom = min(max(m.zoomLevel()*f, minZoom), maxZoom)
}

func (m uiModel) zoomLevel() float64 {
	if m.cam.Zoom <= 0 {
		return 1
	}
	return m.cam.Zoom
}

// --- Styles ---

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#7C3AED")).
			Background(lipgloss.Color("#1E1E2E")).
			Padding(0, 1)

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#89B4FA"))

	callStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#A6E3A1"))

	returnStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FAB387"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#F38BA8")).
			Bold(true)

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#6C7086"))

	statusBarStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#CDD6F4")).
			Background(lipgloss.Color("#1E1E2E"))
)

// --- View rendering ---

func (m uiModel) View() string {
	if m.width == 0 {
		return "Loading..."
	}

	var b strings.Builder
	b.WriteString(m.renderTitleBar())
	b.WriteRune('\n')

	contentHeight := m.height - 2 // title + status
	if m.showHelp {
		contentHeight -= 3
	}
	contentHeight = max(contentHeight, 1)

	var content string
	if m.vis.Snapshot() == nil {
		content = m.renderPlaceholder()
	} else if m.width >= 80 {
		rightWidth := sidePanelWidth
		leftWidth := m.width - rightWidth - 3 // 3 for separator
		left := renderScene(m.vis.Scene(), m.cam, leftWidth, contentHeight)
		content = renderSplitPane(left, m.renderStepPanel(rightWidth), leftWidth, contentHeight)
	} else {
		content = renderScene(m.vis.Scene(), m.cam, m.width, contentHeight)
	}

	content = truncateLines(content, m.width)
	b.WriteString(content)

	// Pad to fill screen.
	rendered := strings.Count(b.String(), "\n")
	for rendered < m.height-1 {
		b.WriteRune('\n')
		rendered++
	}

	if m.showHelp {
		b.WriteString(m.help.View(keys))
	} else {
		b.WriteString(m.renderStatusBar())
	}
	return b.String()
}

func (m uiModel) renderTitleBar() string {
	name := "traceviz"
	if m.source != nil {
		name += " " + m.source.Name()
	}
	title := titleStyle.Render(name)

	st := m.vis.State()
	var stats string
	if snap := m.vis.Snapshot(); snap != nil {
		stats = fmt.Sprintf("%d nodes | %d edges | step %s | %s %s",
			snap.TotalNodes, snap.TotalEdges, stepCounter(st), st.Layout, st.Direction)
	}
	stats = dimStyle.Render(stats)
	gap := strings.Repeat(" ", max(0, m.width-lipgloss.Width(title)-lipgloss.Width(stats)-2))
	return title + gap + stats
}

func stepCounter(st visualizer.State) string {
	if st.Len == 0 {
		return "-/0"
	}
	return fmt.Sprintf("%d/%d", st.Step+1, st.Len)
}

func (m uiModel) renderPlaceholder() string {
	switch m.vis.Status() {
	case visualizer.StatusLoading:
		return m.spinner.View() + " running..."
	case visualizer.StatusError:
		return errorStyle.Render("run failed: ") + m.vis.Err().Error()
	default:
		return dimStyle.Render("no trace loaded")
	}
}

func (m uiModel) renderStepPanel(width int) string {
	var b strings.Builder
	sv, ok := m.vis.Step()
	if !ok {
		b.WriteString(dimStyle.Render("nothing to play"))
		b.WriteRune('\n')
		return b.String()
	}

	b.WriteString(headerStyle.Render(fmt.Sprintf("Step %d of %d", sv.Step+1, m.vis.State().Len)))
	b.WriteString("\n\n")

	kind := callStyle.Render(sv.Kind)
	if sv.Kind == trace.KindReturn.String() {
		kind = returnStyle.Render(sv.Kind)
	}
	fmt.Fprintf(&b, "%s %s\n", dimStyle.Render("type    "), kind)
	fmt.Fprintf(&b, "%s %s\n", dimStyle.Render("function"), orDash(sv.Func))
	if len(sv.Args) == 0 {
		fmt.Fprintf(&b, "%s %s\n", dimStyle.Render("args    "), "-")
	} else {
		b.WriteString(dimStyle.Render("args"))
		b.WriteRune('\n')
		for _, a := range sv.Args {
			for _, line := range wrapText(fmt.Sprintf("%s = %s", a.Name, trace.FormatValue(a.Value)), width-2) {
				fmt.Fprintf(&b, "  %s\n", line)
			}
		}
	}
	if sv.Return.Set {
		fmt.Fprintf(&b, "%s %s\n", dimStyle.Render("returns "), trace.FormatValue(sv.Return.Value))
	}
	if sv.Line > 0 {
		fmt.Fprintf(&b, "%s %d\n", dimStyle.Render("line    "), sv.Line)
	}
	if sv.Note != "" {
		b.WriteRune('\n')
		for _, line := range wrapText(sv.Note, width) {
			b.WriteString(line)
			b.WriteRune('\n')
		}
	}

	if snap := m.vis.Snapshot(); snap != nil && len(snap.Diagnostics)+m.decodeDiags > 0 {
		b.WriteRune('\n')
		b.WriteString(errorStyle.Render(fmt.Sprintf("%d diagnostics", len(snap.Diagnostics)+m.decodeDiags)))
		b.WriteRune('\n')
		for _, d := range snap.Diagnostics {
			b.WriteString(dimStyle.Render(truncate(d.String(), width)))
			b.WriteRune('\n')
		}
	}
	return b.String()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func (m uiModel) renderStatusBar() string {
	var left string
	switch {
	case m.seek != "":
		left = fmt.Sprintf(" go to step: %s_", m.seek)
	case m.vis.Status() == visualizer.StatusLoading:
		left = " " + m.spinner.View() + " running..."
	case m.vis.Status() == visualizer.StatusError:
		left = " " + errorStyle.Render("error: ") + m.vis.Err().Error()
	default:
		left = " ←/→: step | g/G: first/last | wasd: pan | +/-: zoom | r: re-run | ?: help | q: quit"
	}
	var right string
	if !m.lastRun.IsZero() {
		right = fmt.Sprintf("loaded %s ago ", time.Since(m.lastRun).Truncate(time.Second))
	}
	gap := strings.Repeat(" ", max(0, m.width-lipgloss.Width(left)-lipgloss.Width(right)))
	return statusBarStyle.Render(truncateLines(left+gap+right, m.width))
}

// --- Split-pane rendering ---

// renderSplitPane places the diagram and the side panel next to each other
// with a vertical separator.
func renderSplitPane(left, right string, leftWidth, maxHeight int) string {
	leftLines := strings.Split(left, "\n")
	rightLines := strings.Split(right, "\n")

	maxLines := min(max(len(leftLines), len(rightLines)), maxHeight)
	for len(leftLines) < maxLines {
		leftLines = append(leftLines, "")
	}
	for len(rightLines) < maxLines {
		rightLines = append(rightLines, "")
	}

	sep := dimStyle.Render("│")
	var b strings.Builder
	for i := 0; i < maxLines; i++ {
		if i > 0 {
			b.WriteRune('\n')
		}
		b.WriteString(padOrTruncate(leftLines[i], leftWidth))
		b.WriteString(" ")
		b.WriteString(sep)
		b.WriteString(" ")
		b.WriteString(rightLines[i])
	}
	return b.String()
}

// padOrTruncate fits a styled line to exactly width visible cells.
func padOrTruncate(s string, width int) string {
	w := lipgloss.Width(s)
	if w > width {
		return ansi.Truncate(s, width, "")
	}
	return s + strings.Repeat(" ", width-w)
}

// --- Helpers ---

// truncateLines truncates each line in content to at most width visible
// characters, preserving ANSI escape codes. This prevents terminal line
// wrapping when the window is resized narrower.
func truncateLines(content string, width int) string {
	if width <= 0 {
		return content
	}
	lines := strings.Split(content, "\n")
	for i, line := range lines {
		if lipgloss.Width(line) > width {
			lines[i] = ansi.Truncate(line, width, "")
		}
	}
	return strings.Join(lines, "\n")
}

// wrapText breaks s into lines of at most width characters, splitting on word
// boundaries where possible. If a single word exceeds width it is hard-split.
func wrapText(s string, width int) []string {
	if width <= 0 {
		width = 80
	}
	var lines []string
	for _, para := range strings.Split(s, "\n") {
		lines = append(lines, wrapParagraph(para, width)...)
	}
	return lines
}

func wrapParagraph(s string, width int) []string {
	r := []rune(s)
	if len(r) <= width {
		return []string{s}
	}
	var lines []string
	for len(r) > width {
		cut := -1
		for i := width; i > 0; i-- {
			if r[i] == ' ' {
				cut = i
				break
			}
		}
		if cut <= 0 {
			lines = append(lines, string(r[:width]))
			r = r[width:]
		} else {
			lines = append(lines, string(r[:cut]))
			r = r[cut+1:]
		}
	}
	return append(lines, string(r))
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 3 {
		return string(r[:n])
	}
	return string(r[:n-3]) + "..."
}
