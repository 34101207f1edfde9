// Package tui is the full-screen terminal chat over a conversation controller.
package tui

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"nanograph/internal/auth"
	"nanograph/internal/chat"
	"nanograph/internal/gemini"
	"nanograph/internal/media"
	"nanograph/internal/render"
)

const helpText = "/attach <path>  /detach  /ratio <r>  /size <s>  /search [on|off]  /save [dir]  /key [key]  /quit  ctrl+y copy"

type (
	replyMsg struct {
		reply chat.Message
		err   error
	}
	gateMsg struct {
		state auth.State
	}
	eventMsg struct {
		event chat.Event
		ok    bool
	}
)

type KeyStager interface {
	Use(key string)
}

type Options struct {
	Conversation   *chat.Controller
	Gate           *auth.Gate
	Stager         KeyStager
	Keyring        *auth.Keyring
	Model          string
	SaveDir        string
	RequestTimeout time.Duration

	// Capabilities; nil means the real file system and clipboard.
	ReadFile  func(path string) (media.Image, error)
	SaveImage func(dir, name string, img media.Image) (string, error)
	Copy      func(text string) error
}

type Model struct {
	conv      *chat.Controller
	gate      *auth.Gate
	stager    KeyStager
	keyring   *auth.Keyring
	modelName string
	saveDir   string
	timeout   time.Duration

	readFile  func(path string) (media.Image, error)
	saveImage func(dir, name string, img media.Image) (string, error)
	copyText  func(text string) error

	events <-chan chat.Event

	viewport viewport.Model
	textarea textarea.Model
	spinner  spinner.Model

	sending   bool
	checking  bool
	ready     bool
	rendered  int
	attached  *media.Image
	attachTag string
	notice    string
	err       error

	width  int
	height int
}

func New(opts Options) Model {
	ta := textarea.New()
	ta.Placeholder = "Describe the image you want to generate..."
	ta.CharLimit = 4000
	ta.ShowLineNumbers = false
	ta.SetHeight(2)
	ta.Focus()

	ta.FocusedStyle.CursorLine = lipgloss.NewStyle()
	ta.FocusedStyle.Base = lipgloss.NewStyle().Foreground(colorText)
	ta.FocusedStyle.Placeholder = lipgloss.NewStyle().Foreground(colorTextDim)
	ta.BlurredStyle = ta.FocusedStyle

	s := spinner.New()
	s.Spinner = spinner.Points
	s.Style = loadingStyle

	timeout := opts.RequestTimeout
	if timeout <= 0 {
		timeout = 240 * time.Second
	}

	m := Model{
		conv:      opts.Conversation,
		gate:      opts.Gate,
		stager:    opts.Stager,
		keyring:   opts.Keyring,
		modelName: opts.Model,
		saveDir:   opts.SaveDir,
		timeout:   timeout,
		readFile:  opts.ReadFile,
		saveImage: opts.SaveImage,
		copyText:  opts.Copy,
		textarea:  ta,
		spinner:   s,
		checking:  opts.Gate != nil,
	}
	if m.readFile == nil {
		m.readFile = media.ReadFile
	}
	if m.saveImage == nil {
		m.saveImage = media.Save
	}
	if m.copyText == nil {
		m.copyText = clipboard.WriteAll
	}
	if m.saveDir == "" {
		m.saveDir = "."
	}
	return m
}

// Subscribe attaches the model to the conversation feed; call the returned
// func once the program exits.
func (m *Model) Subscribe() func() {
	ch, cancel := m.conv.Subscribe()
	m.events = ch
	return cancel
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		textarea.Blink,
		m.checkGate(),
		m.waitForEvent(),
	)
}

func (m Model) checkGate() tea.Cmd {
	gate := m.gate
	if gate == nil {
		return nil
	}
	return func() tea.Msg {
		return gateMsg{state: gate.Check(context.Background())}
	}
}

func (m Model) waitForEvent() tea.Cmd {
	events := m.events
	if events == nil {
		return nil
	}
	return func() tea.Msg {
		ev, ok := <-events
		return eventMsg{event: ev, ok: ok}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.layout()

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc":
			return m, tea.Quit
		case "ctrl+y":
			m.copyLast()
			return m, nil
		case "enter":
			input := m.textarea.Value()
			m.textarea.Reset()
			return m.submit(input)
		}

	case gateMsg:
		m.checking = false
		if msg.state.Authenticated {
			m.notice = "API key: " + m.maskedKey()
		}

	case eventMsg:
		if !msg.ok {
			return m, nil
		}
		m.refresh()
		cmds = append(cmds, m.waitForEvent())

	case replyMsg:
		m.sending = false
		switch {
		case errors.Is(msg.err, chat.ErrBusy):
			m.notice = "Still generating, please wait."
		case msg.err != nil:
			m.err = msg.err
		}
		m.refresh()

	case spinner.TickMsg:
		if m.sending {
			m.spinner, cmd = m.spinner.Update(msg)
			cmds = append(cmds, cmd)
		}
	}

	if !m.sending {
		if _, ok := msg.(tea.KeyMsg); ok {
			m.textarea, cmd = m.textarea.Update(msg)
			cmds = append(cmds, cmd)
		}
	}

	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)

	return m, tea.Batch(cmds...)
}

// submit handles one line of input: a slash command or a send.
func (m Model) submit(input string) (Model, tea.Cmd) {
	input = strings.TrimSpace(input)
	m.err = nil
	m.notice = ""

	if strings.HasPrefix(input, "/") {
		return m.command(input)
	}

	if !m.gateOpen() {
		if input == "" {
			return m.selectKey("")
		}
		m.notice = "Select an API key first: /key <api key>, or press Enter to re-read GEMINI_API_KEY."
		return m, nil
	}

	if m.sending || m.conv.Busy() {
		return m, nil
	}
	if input == "" && m.attached == nil {
		return m, nil
	}

	ref := m.attached
	m.attached = nil
	m.attachTag = ""
	m.sending = true

	return m, tea.Batch(m.send(input, ref), m.spinner.Tick)
}

func (m Model) send(text string, ref *media.Image) tea.Cmd {
	conv := m.conv
	timeout := m.timeout
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		reply, err := conv.Send(ctx, text, ref)
		return replyMsg{reply: reply, err: err}
	}
}

func (m Model) command(input string) (Model, tea.Cmd) {
	name, arg, _ := strings.Cut(input, " ")
	arg = strings.TrimSpace(arg)

	switch strings.ToLower(name) {
	case "/quit", "/exit":
		return m, tea.Quit
	case "/help":
		m.notice = helpText
	case "/key":
		return m.selectKey(arg)
	case "/attach":
		m.attach(arg)
	case "/detach":
		m.attached = nil
		m.attachTag = ""
		m.notice = "Reference image removed."
	case "/ratio":
		m.setRatio(arg)
	case "/size":
		m.setSize(arg)
	case "/search":
		m.setSearch(arg)
	case "/save":
		m.save(arg)
	default:
		m.err = fmt.Errorf("unknown command %s", name)
	}
	return m, nil
}

func (m Model) selectKey(key string) (Model, tea.Cmd) {
	if m.gate == nil {
		m.err = errors.New("key selection is not available")
		return m, nil
	}
	if key != "" && m.stager != nil {
		m.stager.Use(key)
	}
	m.checking = true
	gate := m.gate
	return m, func() tea.Msg {
		return gateMsg{state: gate.Select(context.Background())}
	}
}

func (m *Model) attach(path string) {
	if path == "" {
		m.err = errors.New("usage: /attach <path>")
		return
	}
	img, err := m.readFile(path)
	if err != nil {
		m.err = err
		return
	}
	m.attached = &img
	m.attachTag = fmt.Sprintf("%s (%s, %s)", filepath.Base(path), img.MimeType, humanSize(img.Size()))
	m.notice = "Attached " + m.attachTag
}

func (m *Model) setRatio(arg string) {
	r, err := gemini.ParseAspectRatio(arg)
	if err != nil {
		m.err = err
		return
	}
	if _, err := m.conv.UpdateConfig(func(c *gemini.GenerationConfig) { c.AspectRatio = r }); err != nil {
		m.err = err
		return
	}
	m.notice = "Aspect ratio set to " + string(r)
}

func (m *Model) setSize(arg string) {
	s, err := gemini.ParseImageSize(arg)
	if err != nil {
		m.err = err
		return
	}
	if _, err := m.conv.UpdateConfig(func(c *gemini.GenerationConfig) { c.ImageSize = s }); err != nil {
		m.err = err
		return
	}
	m.notice = "Resolution set to " + string(s)
	if s != gemini.Size1K {
		m.notice += ". Higher resolutions may take longer to generate."
	}
}

func (m *Model) setSearch(arg string) {
	on := !m.conv.Config().GoogleSearch
	switch strings.ToLower(arg) {
	case "":
	case "on", "true", "yes", "1":
		on = true
	case "off", "false", "no", "0":
		on = false
	default:
		m.err = errors.New("usage: /search [on|off]")
		return
	}
	cfg, err := m.conv.UpdateConfig(func(c *gemini.GenerationConfig) { c.GoogleSearch = on })
	if err != nil {
		m.err = err
		return
	}
	m.notice = "Google Search grounding " + onOff(cfg.GoogleSearch)
}

// save writes the images of the latest model turn that has any.
func (m *Model) save(dir string) {
	if dir == "" {
		dir = m.saveDir
	}

	msgs := m.conv.Messages()
	for i := len(msgs) - 1; i >= 0; i-- {
		msg := msgs[i]
		if msg.Role != chat.RoleModel || len(msg.Images) == 0 {
			continue
		}
		var paths []string
		for n, img := range msg.Images {
			path, err := m.saveImage(dir, media.DownloadName(msg.ID, n, img), img)
			if err != nil {
				m.err = err
				return
			}
			paths = append(paths, path)
		}
		m.notice = "Saved " + strings.Join(paths, ", ")
		return
	}
	m.err = errors.New("no generated images to save")
}

func (m *Model) copyLast() {
	msgs := m.conv.Messages()
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == chat.RoleModel && msgs[i].Text != "" {
			if err := m.copyText(msgs[i].Text); err != nil {
				m.err = fmt.Errorf("copy: %w", err)
				return
			}
			m.notice = "Copied the last reply."
			return
		}
	}
}

func (m Model) gateOpen() bool {
	return m.gate != nil && m.gate.Authenticated()
}

func (m Model) maskedKey() string {
	if m.keyring == nil {
		return "Not Connected"
	}
	return m.keyring.Mask()
}

func (m *Model) layout() {
	headerHeight := 3
	inputHeight := 5
	footerHeight := 3

	vpHeight := m.height - headerHeight - inputHeight - footerHeight
	if vpHeight < 5 {
		vpHeight = 5
	}
	contentWidth := m.width - 4
	if contentWidth < 20 {
		contentWidth = 20
	}

	if !m.ready {
		m.viewport = viewport.New(contentWidth, vpHeight)
		m.ready = true
	} else {
		m.viewport.Width = contentWidth
		m.viewport.Height = vpHeight
	}
	m.textarea.SetWidth(contentWidth - 4)
	m.rendered = -1
	m.refresh()
}

// refresh re-renders the transcript when it changed and follows the bottom.
func (m *Model) refresh() {
	if !m.ready {
		return
	}
	msgs := m.conv.Messages()
	if len(msgs) == m.rendered {
		return
	}
	m.rendered = len(msgs)
	m.viewport.SetContent(renderTranscript(msgs, m.viewport.Width-4))
	m.viewport.GotoBottom()
}

func renderTranscript(msgs []chat.Message, width int) string {
	if width < 10 {
		width = 10
	}

	var b strings.Builder
	for i, msg := range msgs {
		if i > 0 {
			b.WriteString("\n")
		}

		var body string
		if msg.Role == chat.RoleUser {
			body = msg.Text
		} else {
			body = render.MarkdownOrPlain(msg.Text, width-4)
		}
		for n, img := range msg.Images {
			line := fmt.Sprintf("[image %d] %s, %s", n+1, img.MimeType, humanSize(img.Size()))
			if msg.Role == chat.RoleModel {
				line += "  /save -> " + media.DownloadName(msg.ID, n, img)
			}
			if body != "" {
				body += "\n"
			}
			body += imageLineStyle.Render(line)
		}

		switch {
		case msg.Role == chat.RoleUser:
			b.WriteString(userLabelStyle.Render("You") + "\n")
			b.WriteString(userBubbleStyle.Width(width).Render(body))
		case msg.IsError:
			b.WriteString(modelLabelStyle.Render("NanoGraph") + "\n")
			b.WriteString(errorBubbleStyle.Width(width).Render(body))
		default:
			b.WriteString(modelLabelStyle.Render("NanoGraph") + "\n")
			b.WriteString(modelBubbleStyle.Width(width).Render(body))
		}
		b.WriteString("\n")
	}
	return b.String()
}

func (m Model) View() string {
	if !m.ready {
		return loadingStyle.Render("  Initializing...")
	}
	if !m.gateOpen() {
		return m.gateView()
	}

	contentWidth := m.viewport.Width
	cfg := m.conv.Config()

	header := headerStyle.Width(contentWidth).Render(lipgloss.JoinHorizontal(lipgloss.Center,
		titleStyle.Render("NanoGraph Pro"),
		subtitleStyle.Render("  •  "+m.modelName+"  •  "),
		configValueStyle.Render(fmt.Sprintf("%s  %s  search %s", cfg.AspectRatio, cfg.ImageSize, onOff(cfg.GoogleSearch))),
	))

	messages := messagesAreaStyle.Width(contentWidth).Render(m.viewport.View())

	var input string
	if m.sending {
		input = m.spinner.View() + loadingStyle.Render(" Generating...")
	} else {
		label := inputLabelStyle.Render("You")
		if m.attachTag != "" {
			label += "  " + attachmentStyle.Render("+ "+m.attachTag)
		}
		input = lipgloss.JoinVertical(lipgloss.Left, label, m.textarea.View())
	}
	inputPanel := inputPanelStyle.Width(contentWidth).Render(input)

	sections := []string{header, messages, inputPanel, m.footer()}
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (m Model) footer() string {
	status := statusKeyStyle.Render("Enter") + statusBarStyle.Render(" send  ") +
		statusKeyStyle.Render("ctrl+y") + statusBarStyle.Render(" copy  ") +
		statusKeyStyle.Render("/help") + statusBarStyle.Render(" commands  ") +
		statusKeyStyle.Render("Esc") + statusBarStyle.Render(" quit  ") +
		statusBarStyle.Render("key "+m.maskedKey())

	switch {
	case m.err != nil:
		return status + "\n" + errorStyle.Render("Error: "+m.err.Error())
	case m.notice != "":
		return status + "\n" + noticeStyle.Render(m.notice)
	}
	return status
}

func (m Model) gateView() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Access Required") + "\n\n")
	b.WriteString("To use the Gemini 3 Pro image model you must select a valid paid-project API key.\n\n")

	switch {
	case m.checking:
		b.WriteString(loadingStyle.Render("Checking...") + "\n\n")
	case m.gate != nil && m.gate.State().Error != "":
		b.WriteString(errorStyle.Render(m.gate.State().Error) + "\n\n")
	}
	if m.notice != "" {
		b.WriteString(noticeStyle.Render(m.notice) + "\n\n")
	}
	if m.err != nil {
		b.WriteString(errorStyle.Render(m.err.Error()) + "\n\n")
	}

	b.WriteString(hintStyle.Render("Type /key <api key>, or press Enter to re-read GEMINI_API_KEY from .env. /quit exits.") + "\n")
	b.WriteString(hintStyle.Render("Billing: https://ai.google.dev/gemini-api/docs/billing") + "\n\n")
	b.WriteString(m.textarea.View())

	card := gateCardStyle.Render(b.String())
	return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center, card)
}

func humanSize(n int) string {
	switch {
	case n >= 1<<20:
		return fmt.Sprintf("%.1f MB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%d KB", n>>10)
	}
	return fmt.Sprintf("%d B", n)
}

func onOff(v bool) string {
	if v {
		return "on"
	}
	return "off"
}

// Run starts the full-screen program and blocks until the user quits.
func Run(opts Options) error {
	m := New(opts)
	unsubscribe := m.Subscribe()
	defer unsubscribe()

	_, err := tea.NewProgram(m, tea.WithAltScreen()).Run()
	return err
}
