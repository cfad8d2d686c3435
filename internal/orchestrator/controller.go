package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/normanking/converse/internal/chat"
	"github.com/normanking/converse/internal/llm"
	"github.com/normanking/converse/internal/memory"
	"github.com/normanking/converse/internal/planner"
	"github.com/normanking/converse/internal/snippets"
	"github.com/normanking/converse/internal/summary"
	"github.com/normanking/converse/internal/tools"
)

// State is the controller's position in the turn lifecycle.
type State int

const (
	StateIdle State = iota
	StatePlanning
	StateToolExecuting
	StateStreaming
	StateSettling
	StateCancelled
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePlanning:
		return "planning"
	case StateToolExecuting:
		return "tool_executing"
	case StateStreaming:
		return "streaming"
	case StateSettling:
		return "settling"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

const (
	// Timer cadences and the long-tool-use watchdog threshold.
	elapsedTickInterval  = 50 * time.Millisecond
	thinkingTickInterval = 100 * time.Millisecond
	longToolUseThreshold = 20 * time.Second

	defaultPersona = "You are Converse, a helpful, concise assistant. Answer directly and format code in fenced blocks."

	titleDirective = "\n\nThis is the first message of a new conversation. Begin your response with a single line \"TITLE: <3-5 word title>\" summarizing the topic, then continue your answer on the next line."
)

// Config wires a Controller's collaborators. Provider, Planner and Router
// are required; the background writers and matcher are optional.
type Config struct {
	Provider llm.StreamingProvider
	Planner  *planner.Planner
	Router   *tools.Router

	// Model is the default generation model; a turn may override it.
	Model string

	// Persona is the base system instruction; empty uses a default.
	Persona string

	MemoryStore *memory.Store
	Memory      *memory.Updater
	Summarizer  *summary.Summarizer
	Extractor   *snippets.Extractor
	Matcher     *snippets.Matcher

	// Watchdog overrides longToolUseThreshold when positive. Tests use it.
	Watchdog time.Duration
}

// SendOptions modify one turn.
type SendOptions struct {
	// Tool is the manual tool override; ToolAuto defers to the planner.
	Tool chat.Tool

	// Model overrides the default generation model.
	Model string

	// IsRetry suppresses appending a new user message.
	IsRetry bool
}

// Status is the scalar signal snapshot consumed by the presentation layer.
type Status struct {
	State          State
	IsLoading      bool
	IsThinking     bool
	IsSearchingWeb bool
	IsLongToolUse  bool
	ElapsedMS      int64
	LastError      error
}

// Controller runs one turn at a time against a single conversation. The
// Idle entry guard is the core correctness invariant: no two streams may
// mutate the same in-flight message concurrently.
type Controller struct {
	conv     *chat.Conversation
	provider llm.StreamingProvider
	planner  *planner.Planner
	router   *tools.Router
	consumer *StreamConsumer

	model    string
	persona  string
	watchdog time.Duration

	memStore   *memory.Store
	memUpdater *memory.Updater
	summarizer *summary.Summarizer
	extractor  *snippets.Extractor
	matcher    *snippets.Matcher

	mu         sync.Mutex
	state      State
	lastErr    error
	cancelTurn context.CancelFunc

	cancelled atomic.Bool
	elapsedMS atomic.Int64
	thinking  atomic.Bool
	searching atomic.Bool
	longTool  atomic.Bool

	bg sync.WaitGroup
}

// New creates a Controller bound to one conversation.
func New(conv *chat.Conversation, cfg Config) *Controller {
	persona := cfg.Persona
	if persona == "" {
		persona = defaultPersona
	}
	watchdog := cfg.Watchdog
	if watchdog <= 0 {
		watchdog = longToolUseThreshold
	}
	return &Controller{
		conv:       conv,
		provider:   cfg.Provider,
		planner:    cfg.Planner,
		router:     cfg.Router,
		consumer:   NewStreamConsumer(cfg.Provider),
		model:      cfg.Model,
		persona:    persona,
		watchdog:   watchdog,
		memStore:   cfg.MemoryStore,
		memUpdater: cfg.Memory,
		summarizer: cfg.Summarizer,
		extractor:  cfg.Extractor,
		matcher:    cfg.Matcher,
	}
}

// Conversation returns the conversation this controller drives.
func (c *Controller) Conversation() *chat.Conversation { return c.conv }

// Status returns the current scalar signals.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Status{
		State:          c.state,
		IsLoading:      c.state != StateIdle,
		IsThinking:     c.thinking.Load(),
		IsSearchingWeb: c.searching.Load(),
		IsLongToolUse:  c.longTool.Load(),
		ElapsedMS:      c.elapsedMS.Load(),
		LastError:      c.lastErr,
	}
}

// Cancel requests cooperative cancellation of the in-flight turn. A no-op
// when idle. Text already streamed is not retracted.
func (c *Controller) Cancel() {
	c.mu.Lock()
	if c.state == StateIdle {
		c.mu.Unlock()
		return
	}
	c.state = StateCancelled
	c.cancelled.Store(true)
	cancel := c.cancelTurn
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// Send runs one full turn. It blocks until the turn settles, fails, or is
// cancelled; background writers are dispatched without being awaited.
func (c *Controller) Send(ctx context.Context, prompt string, atts chat.Attachments, opts SendOptions) error {
	if strings.TrimSpace(prompt) == "" && !atts.HasAny() {
		return ErrEmptyPrompt
	}
	if c.provider == nil || !c.provider.Available() {
		return ErrNoCredential
	}

	c.mu.Lock()
	if c.state != StateIdle {
		c.mu.Unlock()
		return ErrBusy
	}
	c.state = StatePlanning
	c.lastErr = nil
	// Reset before the state leaves Idle so a Cancel landing after the
	// guard is never wiped by the new turn.
	c.cancelled.Store(false)
	c.mu.Unlock()

	return c.run(ctx, prompt, atts, opts)
}

// Retry truncates back past the most recent model message and re-sends the
// preceding user message with its exact content and attachments.
func (c *Controller) Retry(ctx context.Context) error {
	c.mu.Lock()
	busy := c.state != StateIdle
	c.mu.Unlock()
	if busy {
		return ErrBusy
	}

	prior, ok := c.conv.TruncateFromLastModel()
	if !ok {
		return ErrNothingToRetry
	}
	return c.Send(ctx, prior.Content, prior.Attachments, SendOptions{IsRetry: true})
}

// WaitBackground blocks until all dispatched background writers finish.
// Intended for shutdown and tests, never called on the turn path.
func (c *Controller) WaitBackground() {
	c.bg.Wait()
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	// Cancelled is absorbing: only the end-of-turn reset leaves it.
	if c.state != StateCancelled || s == StateIdle {
		c.state = s
	}
	c.mu.Unlock()
}

func (c *Controller) run(ctx context.Context, prompt string, atts chat.Attachments, opts SendOptions) error {
	turnStart := time.Now()
	c.thinking.Store(false)
	c.searching.Store(false)
	c.longTool.Store(false)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	c.mu.Lock()
	c.cancelTurn = cancel
	c.mu.Unlock()

	firstTurn := c.conv.Len() == 0

	if !opts.IsRetry {
		userMsg := chat.NewMessage(chat.RoleUser, prompt)
		userMsg.Attachments = atts
		c.conv.Append(userMsg)
	}
	stub := chat.NewMessage(chat.RoleModel, "")
	stub.IsPlanning = true
	msgID := c.conv.Append(stub)

	timers := c.startTimers(turnStart, msgID)
	defer timers.stop()
	defer func() {
		c.thinking.Store(false)
		c.searching.Store(false)
		c.longTool.Store(false)
		c.setState(StateIdle)
	}()

	// Planning
	plan := c.planner.Plan(ctx, prompt, atts)
	if c.checkCancelled(msgID, timers) {
		return nil
	}

	// Tool routing
	c.setState(StateToolExecuting)
	exec, err := c.router.Execute(ctx, plan, prompt, opts.Tool, atts)
	if err != nil {
		if c.checkCancelled(msgID, timers) {
			return nil
		}
		c.failTurn(msgID, err, timers)
		return err
	}
	if c.checkCancelled(msgID, timers) {
		return nil
	}

	c.searching.Store(exec.Plan.NeedsWebSearch)
	c.conv.UpdateByID(msgID, func(m *chat.Message) {
		m.IsPlanning = false
		if exec.ToolInUse != chat.ToolAuto {
			m.ToolInUse = exec.ToolInUse
		}
		m.Thoughts = exec.Plan.Thoughts
		m.SearchPlan = exec.Plan.SearchPlan
		m.IsAnalyzingImage = exec.AnalyzingImage
		m.IsAnalyzingFile = exec.AnalyzingFile
		m.Molecule = exec.Molecule
	})

	if exec.Plan.NeedsThinking && len(exec.Plan.Thoughts) > 0 {
		c.thinking.Store(true)
		timers.startThinking(c, msgID)
	}

	req := c.buildRequest(ctx, prompt, exec, atts, opts.Model, firstTurn)

	// Streaming
	c.setState(StateStreaming)
	result, err := c.consumer.Run(ctx, req, c.conv, msgID, firstTurn, &c.cancelled)
	if err != nil {
		if c.checkCancelled(msgID, timers) {
			return nil
		}
		c.failTurn(msgID, err, timers)
		return err
	}
	if result.Cancelled || c.cancelled.Load() {
		c.settleCancelled(msgID, timers)
		return nil
	}

	// Settling
	c.setState(StateSettling)
	timers.stop()

	toolWasUsed := exec.ToolInUse != chat.ToolAuto || atts.HasAny() || exec.Plan.NeedsWebSearch
	counts := AccountTokens(result.Usage, prompt, toolWasUsed)
	generationTime := time.Since(turnStart)

	c.conv.UpdateByID(msgID, func(m *chat.Message) {
		m.ClearTransient()
		m.Content = result.Text
		m.InputTokens = counts.Input
		m.OutputTokens = counts.Output
		m.SystemTokens = counts.System
		m.GenerationTime = generationTime
		m.Sources = result.Sources
	})

	log.Info().
		Str("state", "settled").
		Int("input_tokens", counts.Input).
		Int("output_tokens", counts.Output).
		Dur("generation_time", generationTime).
		Msg("turn complete")

	c.dispatchWriters(prompt, result.Text, msgID)
	return nil
}

// checkCancelled is the suspension-point cancellation check.
func (c *Controller) checkCancelled(msgID string, timers *turnTimers) bool {
	if !c.cancelled.Load() {
		return false
	}
	c.settleCancelled(msgID, timers)
	return true
}

// settleCancelled gives the in-flight message its terminal content: a stop
// notice appended to whatever already streamed, or alone when nothing did.
// No background writers run for a cancelled turn.
func (c *Controller) settleCancelled(msgID string, timers *turnTimers) {
	timers.stop()
	c.thinking.Store(false)
	c.searching.Store(false)

	c.conv.UpdateByID(msgID, func(m *chat.Message) {
		m.ClearTransient()
		if strings.TrimSpace(m.Content) != "" {
			m.Content += "\n\n" + StopNotice
		} else {
			m.Content = StopNotice
		}
	})
	log.Info().Msg("turn cancelled")
}

// failTurn surfaces err exactly once as an apologetic settled message.
func (c *Controller) failTurn(msgID string, err error, timers *turnTimers) {
	timers.stop()
	c.thinking.Store(false)
	c.searching.Store(false)

	c.mu.Lock()
	c.lastErr = err
	c.mu.Unlock()

	text := humanMessage(err)
	c.conv.UpdateByID(msgID, func(m *chat.Message) {
		m.ClearTransient()
		m.Content = text
	})
	log.Error().Err(err).Msg("turn failed")
}

// buildRequest assembles the generation request: system instructions
// (persona, memory, summaries, code context, first-turn title directive),
// reconstructed history, and the effective prompt with attachments.
func (c *Controller) buildRequest(ctx context.Context, prompt string, exec *tools.Execution, atts chat.Attachments, modelOverride string, firstTurn bool) *llm.Request {
	var system strings.Builder
	system.WriteString(c.persona)

	if c.memStore != nil {
		if mem, err := c.memStore.Load(); err == nil {
			if mc := mem.PromptContext(); mc != "" {
				system.WriteString("\n\n")
				system.WriteString(mc)
			}
		}
	}

	if sums := c.conv.Summaries(); len(sums) > 0 {
		system.WriteString("\n\nEarlier conversation summaries:\n")
		for _, s := range sums {
			fmt.Fprintf(&system, "%d. %s\n", s.Serial, s.Content)
		}
	}

	if exec.Plan.NeedsCodeContext && c.matcher != nil {
		if cc := c.matcher.PromptContext(ctx, prompt); cc != "" {
			system.WriteString("\n\n")
			system.WriteString(cc)
		}
	}

	if firstTurn {
		system.WriteString(titleDirective)
	}

	// History excludes the in-flight stub and the current user message,
	// which is re-sent as the effective prompt.
	msgs := c.conv.Messages()
	end := len(msgs) - 2
	if end < 0 {
		end = 0
	}
	history := make([]llm.Message, 0, end+1)
	for _, m := range msgs[:end] {
		if m.Content == "" {
			continue
		}
		history = append(history, llm.TextMessage(string(m.Role), m.Content))
	}

	final := llm.Message{Role: string(chat.RoleUser)}
	text := exec.EffectivePrompt
	if atts.File != nil {
		text = fmt.Sprintf("%s\n\n[ATTACHED FILE: %s]\n%s", text, atts.File.Name, atts.File.Content)
	}
	final.Parts = append(final.Parts, llm.Part{Text: text})
	for _, img := range atts.Images {
		final.Parts = append(final.Parts, llm.Part{
			InlineData: &llm.Blob{MIMEType: img.MIMEType, Data: img.Data},
		})
	}
	history = append(history, final)

	model := modelOverride
	if model == "" {
		model = c.model
	}

	return &llm.Request{
		Model:             model,
		SystemInstruction: system.String(),
		Messages:          history,
		EnableSearch:      exec.Plan.NeedsWebSearch,
		EnableThinking:    exec.Plan.NeedsThinking,
	}
}

// dispatchWriters fires the three post-settlement background tasks. They
// never block the caller, never surface failures, and read conversation
// state as of settlement; last-writer-wins races with an immediately
// following turn are accepted.
func (c *Controller) dispatchWriters(prompt, response, msgID string) {
	if c.memUpdater != nil {
		c.bg.Add(1)
		go func() {
			defer c.bg.Done()
			changed, err := c.memUpdater.Update(context.Background(), memory.Exchange{
				UserPrompt:    prompt,
				ModelResponse: response,
			})
			if err != nil {
				log.Warn().Err(err).Msg("memory update failed")
				return
			}
			if changed {
				c.conv.UpdateByID(msgID, func(m *chat.Message) {
					m.MemoryUpdated = true
				})
			}
		}()
	}

	if c.summarizer != nil {
		c.bg.Add(1)
		go func() {
			defer c.bg.Done()
			if _, err := c.summarizer.Run(context.Background(), c.conv); err != nil {
				log.Warn().Err(err).Msg("summarization failed")
			}
		}()
	}

	if c.extractor != nil {
		contextMsgs := c.precedingContext(msgID)
		c.bg.Add(1)
		go func() {
			defer c.bg.Done()
			if _, err := c.extractor.Run(context.Background(), response, contextMsgs); err != nil {
				log.Warn().Err(err).Msg("code extraction failed")
			}
		}()
	}
}

// precedingContext returns up to two messages of context before the
// settled message, formatted for the code describer.
func (c *Controller) precedingContext(msgID string) []string {
	msgs := c.conv.Messages()
	idx := -1
	for i := range msgs {
		if msgs[i].ID == msgID {
			idx = i
			break
		}
	}
	if idx <= 0 {
		return nil
	}
	start := idx - 2
	if start < 0 {
		start = 0
	}
	var out []string
	for _, m := range msgs[start:idx] {
		out = append(out, fmt.Sprintf("%s: %s", m.Role, m.Content))
	}
	return out
}

// turnTimers owns the per-turn tickers and the long-tool-use watchdog.
// Every exit path must call stop; a leaked timer would keep mutating a
// settled message.
type turnTimers struct {
	done chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

func (c *Controller) startTimers(start time.Time, msgID string) *turnTimers {
	t := &turnTimers{done: make(chan struct{})}
	c.elapsedMS.Store(0)

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		ticker := time.NewTicker(elapsedTickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.elapsedMS.Store(time.Since(start).Milliseconds())
			case <-t.done:
				return
			}
		}
	}()

	// The watchdog fires once per turn regardless of which tool (if any)
	// is running. It only flips a display flag, never errors the turn.
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		timer := time.NewTimer(c.watchdog)
		defer timer.Stop()
		select {
		case <-timer.C:
			c.longTool.Store(true)
			c.conv.UpdateByID(msgID, func(m *chat.Message) {
				m.IsLongToolUse = true
			})
		case <-t.done:
		}
	}()

	return t
}

// startThinking begins the 100 ms thinking ticker updating the in-flight
// message's thinking duration.
func (t *turnTimers) startThinking(c *Controller, msgID string) {
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		ticker := time.NewTicker(thinkingTickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.conv.UpdateByID(msgID, func(m *chat.Message) {
					m.ThinkingDuration += thinkingTickInterval
				})
			case <-t.done:
				return
			}
		}
	}()
}

// stop tears down all timers and waits for their goroutines to exit.
// Idempotent; called on every exit path.
func (t *turnTimers) stop() {
	t.once.Do(func() {
		close(t.done)
	})
	t.wg.Wait()
}
