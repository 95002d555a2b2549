package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatd/internal/engine/enginetest"
	"chatd/internal/errs"
	"chatd/internal/events"
	"chatd/internal/model"
	"chatd/internal/sampler"
	"chatd/internal/tools"
)

func newSession(t *testing.T, opts enginetest.Options, mutate func(*Config)) (*Session, *enginetest.Model) {
	t.Helper()
	m := enginetest.NewModel(opts)
	h := model.Wrap(m, "test.gguf", false)
	cfg := DefaultConfig()
	cfg.Sampler = sampler.GreedyPreset()
	cfg.NCtx = 2048
	if mutate != nil {
		mutate(&cfg)
	}
	s, err := New(h, cfg)
	require.NoError(t, err)
	require.NoError(t, h.Release())
	t.Cleanup(func() { _ = s.Close() })
	return s, m
}

func constant(reply string) enginetest.Script {
	return func(string) string { return reply }
}

type collected struct {
	tokens []string
	calls  []tools.Call
	final  Event
}

func (c collected) text() string { return strings.Join(c.tokens, "") }

func drain(t *testing.T, st *Stream) collected {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var c collected
	for {
		ev, ok := st.Next(ctx)
		if !ok {
			break
		}
		switch ev.Kind {
		case EventToken:
			c.tokens = append(c.tokens, ev.Token)
		case EventToolCall:
			c.calls = append(c.calls, *ev.ToolCall)
		}
		if ev.Terminal() {
			c.final = ev
		}
	}
	require.NoError(t, ctx.Err(), "stream did not finish")
	require.True(t, st.Finished())
	return c
}

func say(t *testing.T, s *Session, text string) collected {
	t.Helper()
	st, err := s.Say(context.Background(), text)
	require.NoError(t, err)
	return drain(t, st)
}

func history(t *testing.T, s *Session) []Message {
	t.Helper()
	h, err := s.ChatHistory(context.Background())
	require.NoError(t, err)
	return h
}

func temperatureTool(calls *atomic.Int32) tools.Descriptor {
	return tools.Descriptor{
		Name:        "current_temperature",
		Description: "Gets the current temperature in a city.",
		Parameters:  json.RawMessage(`{"type":"object","properties":{"location":{"type":"string"}},"required":["location"]}`),
		Func: func(ctx context.Context, args json.RawMessage) (string, error) {
			calls.Add(1)
			var a struct{ Location string }
			if err := json.Unmarshal(args, &a); err != nil {
				return "", err
			}
			if a.Location == "Copenhagen" {
				return "12.34", nil
			}
			return "unknown", nil
		},
	}
}

const copenhagenCall = `<tool_call>{"name":"current_temperature","arguments":{"location":"Copenhagen"}}</tool_call>`

func weatherScript(prompt string) string {
	if strings.Contains(prompt, "<tool_response>") {
		return "It is 12.34 degrees in Copenhagen."
	}
	return copenhagenCall
}

func TestSayStreamsReplyAndRecordsHistory(t *testing.T) {
	s, _ := newSession(t, enginetest.Options{}, nil)
	c := say(t, s, "hello there")
	assert.Equal(t, EventDone, c.final.Kind)
	assert.Equal(t, FinishStop, c.final.FinishReason)
	assert.Equal(t, "hello there", c.final.Text)
	assert.Equal(t, "hello there", c.text())
	assert.Equal(t, []Message{
		{Role: RoleUser, Content: "hello there"},
		{Role: RoleAssistant, Content: "hello there"},
	}, history(t, s))
	assert.Equal(t, StateIdle, s.State())
	assert.Equal(t, 2, s.HistoryLen())
}

func TestCompletedReturnsFinalText(t *testing.T) {
	s, _ := newSession(t, enginetest.Options{Script: constant("forty-two")}, nil)
	st, err := s.Say(context.Background(), "question")
	require.NoError(t, err)
	out, err := st.Completed(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "forty-two", out)
}

func TestPollNeverBlocks(t *testing.T) {
	s, _ := newSession(t, enginetest.Options{Script: constant("abc")}, nil)
	st, err := s.Say(context.Background(), "x")
	require.NoError(t, err)
	var got strings.Builder
	deadline := time.Now().Add(5 * time.Second)
	for !st.Finished() {
		require.True(t, time.Now().Before(deadline), "stream did not finish")
		ev, ok := st.Poll()
		if !ok {
			time.Sleep(time.Millisecond)
			continue
		}
		if ev.Kind == EventToken {
			got.WriteString(ev.Token)
		}
	}
	assert.Equal(t, "abc", got.String())
	final, ok := st.Final()
	require.True(t, ok)
	assert.Equal(t, "abc", final.Text)
}

func TestHistoryRoundTrip(t *testing.T) {
	s, _ := newSession(t, enginetest.Options{}, nil)
	msgs := []Message{
		{Role: RoleSystem, Content: "You are terse."},
		{Role: RoleUser, Content: "hi"},
		{Role: RoleAssistant, Content: "hello"},
		{Role: RoleTool, Name: "clock", Content: "12:00"},
	}
	require.NoError(t, s.SetChatHistory(context.Background(), msgs))
	assert.Equal(t, msgs, history(t, s))

	msgs[1].Content = "mutated"
	assert.Equal(t, "hi", history(t, s)[1].Content)

	err := s.SetChatHistory(context.Background(), []Message{{Role: RoleUser}, {Role: RoleSystem}})
	assert.True(t, errs.Is(err, errs.KindInvalidArgument))
	err = s.SetChatHistory(context.Background(), []Message{{Role: "bot"}})
	assert.True(t, errs.Is(err, errs.KindInvalidArgument))
}

func TestSystemMessageOverridesSessionPrompt(t *testing.T) {
	var seen string
	s, _ := newSession(t, enginetest.Options{Script: func(p string) string { seen = p; return "ok" }}, func(c *Config) {
		c.SystemPrompt = "session prompt"
	})
	say(t, s, "first")
	assert.Contains(t, seen, "<|im_start|>system\nsession prompt<|im_end|>")

	require.NoError(t, s.SetChatHistory(context.Background(), []Message{{Role: RoleSystem, Content: "override"}}))
	say(t, s, "second")
	assert.Contains(t, seen, "<|im_start|>system\noverride<|im_end|>")
	assert.NotContains(t, seen, "session prompt")

	require.NoError(t, s.ResetHistory(context.Background()))
	require.NoError(t, s.SetSystemPrompt("new prompt"))
	say(t, s, "third")
	assert.Contains(t, seen, "<|im_start|>system\nnew prompt<|im_end|>")
}

func TestGreedyIsDeterministic(t *testing.T) {
	run := func() string {
		s, _ := newSession(t, enginetest.Options{Script: constant("the quick brown fox")}, nil)
		return say(t, s, "go").final.Text
	}
	assert.Equal(t, run(), run())
}

func TestStopEndsGenerationWithCancelled(t *testing.T) {
	s, _ := newSession(t, enginetest.Options{Script: constant("0, 1, 2, 3, 4, 5, 6, 7, 8, 9")}, nil)
	st, err := s.Say(context.Background(), "count")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var response strings.Builder
	var final Event
	for {
		ev, ok := st.Next(ctx)
		if !ok {
			break
		}
		switch ev.Kind {
		case EventToken:
			response.WriteString(ev.Token)
			if strings.Contains(ev.Token, "5") {
				s.Stop()
			}
		case EventDone, EventError:
			final = ev
		}
	}
	require.NoError(t, ctx.Err())
	assert.Contains(t, response.String(), "5")
	assert.NotContains(t, response.String(), "6")
	assert.Equal(t, EventDone, final.Kind)
	assert.Equal(t, FinishCancelled, final.FinishReason)
	assert.Equal(t, response.String(), final.Text)

	h := history(t, s)
	require.Len(t, h, 2)
	assert.Equal(t, final.Text, h[1].Content)

	// the session is reusable and the stop flag was cleared
	c := say(t, s, "again")
	assert.Equal(t, FinishStop, c.final.FinishReason)
}

func TestSayWhileBusy(t *testing.T) {
	s, _ := newSession(t, enginetest.Options{Script: constant("a fairly long answer")}, nil)
	st, err := s.Say(context.Background(), "one")
	require.NoError(t, err)
	_, err = s.Say(context.Background(), "two")
	assert.True(t, errs.IsSessionBusy(err), "got %v", err)
	drain(t, st)

	c := say(t, s, "three")
	assert.Equal(t, "a fairly long answer", c.final.Text)
}

func TestToolRoundTrip(t *testing.T) {
	var calls atomic.Int32
	s, _ := newSession(t, enginetest.Options{Script: weatherScript}, func(c *Config) {
		c.Tools = []tools.Descriptor{temperatureTool(&calls)}
	})
	c := say(t, s, "What is the temperature in Copenhagen?")
	require.Equal(t, EventDone, c.final.Kind, "err: %v", c.final.Err)
	assert.Contains(t, c.final.Text, "12.34")
	require.Len(t, c.calls, 1)
	assert.Equal(t, "current_temperature", c.calls[0].Name)
	assert.JSONEq(t, `{"location":"Copenhagen"}`, string(c.calls[0].Arguments))
	assert.Equal(t, int32(1), calls.Load())
	assert.NotContains(t, c.text(), "<tool_call>")

	h := history(t, s)
	roles := make([]Role, len(h))
	for i, m := range h {
		roles[i] = m.Role
	}
	assert.Equal(t, []Role{RoleUser, RoleAssistant, RoleTool, RoleAssistant}, roles)
	assert.Equal(t, "12.34", h[2].Content)
	assert.Equal(t, "current_temperature", h[2].Name)
}

func TestTextBeforeToolCallIsStreamed(t *testing.T) {
	var calls atomic.Int32
	s, _ := newSession(t, enginetest.Options{Script: func(p string) string {
		if strings.Contains(p, "<tool_response>") {
			return "Done."
		}
		return "Checking." + copenhagenCall
	}}, func(c *Config) {
		c.Tools = []tools.Descriptor{temperatureTool(&calls)}
	})
	c := say(t, s, "weather?")
	assert.Equal(t, "Checking.Done.", c.text())
	assert.Equal(t, "Done.", c.final.Text)
}

func TestUnknownToolFailsAndRestoresHistory(t *testing.T) {
	var calls atomic.Int32
	s, _ := newSession(t, enginetest.Options{Script: constant(`<tool_call>{"name":"nope","arguments":{}}</tool_call>`)}, func(c *Config) {
		c.Tools = []tools.Descriptor{temperatureTool(&calls)}
	})
	c := say(t, s, "call something")
	require.Equal(t, EventError, c.final.Kind)
	assert.True(t, errs.Is(c.final.Err, errs.KindToolNotFound), "got %v", c.final.Err)
	assert.Empty(t, history(t, s))
	assert.Equal(t, StateIdle, s.State())
	assert.Zero(t, calls.Load())
}

func TestToolCallbackErrorSurfaces(t *testing.T) {
	s, _ := newSession(t, enginetest.Options{Script: constant(copenhagenCall)}, func(c *Config) {
		c.Tools = []tools.Descriptor{{
			Name: "current_temperature",
			Func: func(context.Context, json.RawMessage) (string, error) { panic("sensor offline") },
		}}
	})
	st, err := s.Say(context.Background(), "temp?")
	require.NoError(t, err)
	_, err = st.Completed(context.Background())
	assert.True(t, errs.Is(err, errs.KindToolExecution), "got %v", err)
	assert.Contains(t, err.Error(), "sensor offline")
}

func TestToolRoundLimit(t *testing.T) {
	var calls atomic.Int32
	s, _ := newSession(t, enginetest.Options{Script: constant(copenhagenCall)}, func(c *Config) {
		c.Tools = []tools.Descriptor{temperatureTool(&calls)}
		c.MaxToolRounds = 2
	})
	c := say(t, s, "loop forever")
	require.Equal(t, EventDone, c.final.Kind, "err: %v", c.final.Err)
	assert.Equal(t, FinishToolLimit, c.final.FinishReason)
	assert.Equal(t, int32(2), calls.Load())
	assert.Len(t, c.calls, 2)
}

func TestToolTimeout(t *testing.T) {
	s, _ := newSession(t, enginetest.Options{Script: constant(copenhagenCall)}, func(c *Config) {
		c.ToolTimeout = 20 * time.Millisecond
		c.Tools = []tools.Descriptor{{
			Name: "current_temperature",
			Func: func(ctx context.Context, _ json.RawMessage) (string, error) {
				<-ctx.Done()
				return "", ctx.Err()
			},
		}}
	})
	c := say(t, s, "temp?")
	require.Equal(t, EventError, c.final.Kind)
	assert.True(t, errs.Is(c.final.Err, errs.KindToolExecution), "got %v", c.final.Err)
}

func TestStopWhileToolPending(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	s, _ := newSession(t, enginetest.Options{Script: constant("Let me see." + copenhagenCall)}, func(c *Config) {
		c.Tools = []tools.Descriptor{{
			Name: "current_temperature",
			Func: func(ctx context.Context, _ json.RawMessage) (string, error) {
				select {
				case <-release:
				case <-ctx.Done():
				}
				return "late", nil
			},
		}}
	})
	st, err := s.Say(context.Background(), "temp?")
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var final Event
	for {
		ev, ok := st.Next(ctx)
		if !ok {
			break
		}
		if ev.Kind == EventToolCall {
			s.Stop()
		}
		if ev.Terminal() {
			final = ev
		}
	}
	require.NoError(t, ctx.Err())
	assert.Equal(t, FinishCancelled, final.FinishReason)
	assert.Equal(t, "Let me see.", final.Text)
	h := history(t, s)
	require.Len(t, h, 2)
	assert.Equal(t, RoleAssistant, h[1].Role)
}

func TestMaxTokensEndsWithLength(t *testing.T) {
	s, _ := newSession(t, enginetest.Options{Script: constant("abcdef")}, func(c *Config) { c.MaxTokens = 3 })
	c := say(t, s, "x")
	assert.Equal(t, FinishLength, c.final.FinishReason)
	assert.Equal(t, "abc", c.final.Text)
}

func TestPromptPrefixIsReused(t *testing.T) {
	s, m := newSession(t, enginetest.Options{}, nil)
	say(t, s, "first message")
	cached1, decoded1 := s.CachedTokens(), m.DecodedTokens()
	require.Positive(t, cached1)

	say(t, s, "second message")
	cached2, decoded2 := s.CachedTokens(), m.DecodedTokens()
	assert.Equal(t, int64(cached2-cached1), decoded2-decoded1, "only the new suffix should be decoded")
}

func TestResetHistoryClearsCache(t *testing.T) {
	s, _ := newSession(t, enginetest.Options{}, nil)
	say(t, s, "hi")
	require.NoError(t, s.ResetHistory(context.Background()))
	assert.Empty(t, history(t, s))
	assert.Zero(t, s.CachedTokens())
	assert.Equal(t, "again", say(t, s, "again").final.Text)
}

func TestThinkingToggle(t *testing.T) {
	var seen string
	s, _ := newSession(t, enginetest.Options{
		Template: enginetest.DefaultTemplate + "{# <think> #}",
		Script:   func(p string) string { seen = p; return "ok" },
	}, func(c *Config) { c.AllowThinking = false })
	say(t, s, "think?")
	assert.True(t, strings.HasSuffix(seen, enginetest.ThinkBlock), "prompt %q", seen)

	require.NoError(t, s.SetAllowThinking(true))
	say(t, s, "think now")
	assert.False(t, strings.HasSuffix(seen, enginetest.ThinkBlock))
}

func TestSplitCharactersAreReassembled(t *testing.T) {
	const reply = "héllo wörld 🌍"
	s, _ := newSession(t, enginetest.Options{Script: constant(reply)}, nil)
	c := say(t, s, "unicode")
	for _, tok := range c.tokens {
		assert.True(t, utf8.ValidString(tok), "token %q", tok)
	}
	assert.Equal(t, reply, c.text())
	assert.Equal(t, reply, c.final.Text)
}

func TestLongConversationShiftsContext(t *testing.T) {
	s, _ := newSession(t, enginetest.Options{}, func(c *Config) { c.NCtx = 256 })
	first := "remember this first line"
	say(t, s, first)
	for i := range 8 {
		msg := strings.Repeat(string(rune('a'+i)), 20)
		c := say(t, s, msg)
		require.Equal(t, EventDone, c.final.Kind, "turn %d: %v", i, c.final.Err)
		assert.Equal(t, msg, c.final.Text)
	}
	h := history(t, s)
	assert.Equal(t, first, h[0].Content)
	assert.Less(t, len(h), 18)
	assert.LessOrEqual(t, s.CachedTokens(), 256)
}

func TestOversizedMessageOverflows(t *testing.T) {
	s, _ := newSession(t, enginetest.Options{}, func(c *Config) { c.NCtx = 64 })
	c := say(t, s, strings.Repeat("x", 200))
	require.Equal(t, EventError, c.final.Kind)
	assert.True(t, errs.Is(c.final.Err, errs.KindContextOverflow), "got %v", c.final.Err)
	assert.Empty(t, history(t, s))
}

func TestSetSamplerAndToolsValidate(t *testing.T) {
	s, _ := newSession(t, enginetest.Options{}, nil)
	err := s.SetSamplerConfig(sampler.Config{})
	assert.True(t, errs.Is(err, errs.KindSamplerConfigInvalid), "got %v", err)
	require.NoError(t, s.SetSamplerConfig(sampler.TopKPreset(1)))

	var calls atomic.Int32
	err = s.SetTools(temperatureTool(&calls), temperatureTool(&calls))
	assert.True(t, errs.Is(err, errs.KindInvalidArgument))
	require.NoError(t, s.SetTools(temperatureTool(&calls)))
	assert.Equal(t, "hi", say(t, s, "hi").final.Text)
}

func TestCloseReleasesModel(t *testing.T) {
	pub := events.NewMemory()
	s, m := newSession(t, enginetest.Options{}, func(c *Config) {
		c.Publisher = pub
		c.ModelID = "tiny"
	})
	say(t, s, "bye")
	require.NoError(t, s.Close())
	assert.True(t, m.Closed())
	_, err := s.Say(context.Background(), "hello?")
	assert.True(t, errs.IsSessionNotFound(err), "got %v", err)
	_, err = s.ChatHistory(context.Background())
	assert.True(t, errs.IsSessionNotFound(err))

	names := pub.Names()
	assert.Equal(t, "session_created", names[0])
	assert.Contains(t, names, "say_started")
	assert.Contains(t, names, "say_done")
	assert.Equal(t, "session_closed", names[len(names)-1])
	assert.Equal(t, "tiny", pub.Events()[0].ModelID)
}

func TestCloseDuringGeneration(t *testing.T) {
	s, _ := newSession(t, enginetest.Options{Script: constant(strings.Repeat("z", 500))}, nil)
	st, err := s.Say(context.Background(), "go")
	require.NoError(t, err)
	ev, ok := st.Next(context.Background())
	require.True(t, ok)
	assert.Equal(t, EventToken, ev.Kind)
	require.NoError(t, s.Close())
	for range st.Events() {
	}
}

func TestGreedyRepeatsAfterReset(t *testing.T) {
	s, _ := newSession(t, enginetest.Options{Script: func(p string) string {
		return fmt.Sprintf("turn %d: %s", strings.Count(p, "<|im_start|>user"), enginetest.Echo(p))
	}}, nil)
	first := say(t, s, "the same prompt")
	require.NoError(t, s.ResetHistory(context.Background()))
	second := say(t, s, "the same prompt")
	assert.Equal(t, "turn 1: the same prompt", first.final.Text)
	assert.Equal(t, first.final.Text, second.final.Text)
	assert.Equal(t, first.tokens, second.tokens)
}

func TestMalformedToolMarkupIsNotRecorded(t *testing.T) {
	s, _ := newSession(t, enginetest.Options{Script: constant("Sure.<tool_call>not json</tool_call>")}, nil)
	c := say(t, s, "x")
	require.Equal(t, EventDone, c.final.Kind, "%v", c.final.Err)
	assert.Equal(t, "Sure.", c.text())
	assert.Equal(t, c.text(), c.final.Text)
	h := history(t, s)
	require.Len(t, h, 2)
	assert.Equal(t, "Sure.", h[1].Content)
}

// A history that renders to exactly n_ctx tokens must be shifted before
// generation, since decoding needs at least one free slot.
func TestHistoryAtExactWindowIsShifted(t *testing.T) {
	hist := []Message{
		{Role: RoleUser, Content: "first"},
		{Role: RoleAssistant, Content: "ok"},
		{Role: RoleUser, Content: strings.Repeat("x", 120)},
		{Role: RoleAssistant, Content: strings.Repeat("y", 120)},
	}
	sizer, _ := newSession(t, enginetest.Options{}, nil)
	n, err := sizer.countTokens(append(cloneMessages(hist), Message{Role: RoleUser, Content: "next"}))
	require.NoError(t, err)

	s, _ := newSession(t, enginetest.Options{}, func(c *Config) { c.NCtx = n })
	require.NoError(t, s.SetChatHistory(context.Background(), hist))
	c := say(t, s, "next")
	require.Equal(t, EventDone, c.final.Kind, "%v", c.final.Err)
	assert.Equal(t, "next", c.final.Text)

	h := history(t, s)
	require.Len(t, h, 4)
	assert.Equal(t, "first", h[0].Content)
	assert.Equal(t, "next", h[2].Content)
	assert.Less(t, s.CachedTokens(), n)
}

func TestManyTurnsInSmallWindow(t *testing.T) {
	s, _ := newSession(t, enginetest.Options{}, func(c *Config) {
		c.NCtx = 128
		c.SystemPrompt = "SYS"
	})
	for i := range 40 {
		msg := strings.Repeat(string(rune('a'+i%26)), 15+i%7)
		c := say(t, s, msg)
		require.Equal(t, EventDone, c.final.Kind, "turn %d: %v", i, c.final.Err)
		assert.Equal(t, msg, c.final.Text)
	}
}

func blockingTool(release <-chan struct{}) tools.Descriptor {
	return tools.Descriptor{
		Name: "current_temperature",
		Func: func(ctx context.Context, _ json.RawMessage) (string, error) {
			select {
			case <-release:
			case <-ctx.Done():
				return "", ctx.Err()
			}
			return "12.34", nil
		},
	}
}

func nextToolCall(t *testing.T, st *Stream) tools.Call {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		ev, ok := st.Next(ctx)
		require.True(t, ok, "stream ended before a tool call")
		if ev.Kind == EventToolCall {
			return *ev.ToolCall
		}
	}
}

func TestHistoryOpsWaitForTurnInFlight(t *testing.T) {
	reset := func(s *Session) error { return s.ResetHistory(context.Background()) }
	set := func(s *Session) error {
		return s.SetChatHistory(context.Background(), []Message{{Role: RoleUser, Content: "replaced"}})
	}
	ops := map[string]func(*Session) error{
		"reset": reset,
		"set":   set,
	}
	for name, op := range ops {
		t.Run(name, func(t *testing.T) {
			release := make(chan struct{})
			s, _ := newSession(t, enginetest.Options{Script: weatherScript}, func(c *Config) {
				c.Tools = []tools.Descriptor{blockingTool(release)}
			})
			st, err := s.Say(context.Background(), "temp?")
			require.NoError(t, err)
			nextToolCall(t, st)

			done := make(chan error, 1)
			go func() { done <- op(s) }()
			select {
			case err := <-done:
				t.Fatalf("%s returned during the turn: %v", name, err)
			case <-time.After(50 * time.Millisecond):
			}

			close(release)
			c := drain(t, st)
			require.Equal(t, EventDone, c.final.Kind, "%v", c.final.Err)
			assert.Equal(t, "It is 12.34 degrees in Copenhagen.", c.final.Text)

			select {
			case err := <-done:
				require.NoError(t, err)
			case <-time.After(5 * time.Second):
				t.Fatalf("%s never returned", name)
			}
			h := history(t, s)
			if name == "reset" {
				assert.Empty(t, h)
			} else {
				require.Len(t, h, 1)
				assert.Equal(t, "replaced", h[0].Content)
			}
		})
	}
}

func TestSlowToolDoesNotBlockOtherSessions(t *testing.T) {
	script := func(p string) string {
		if strings.Contains(p, "temp?") {
			return weatherScript(p)
		}
		return enginetest.Echo(p)
	}
	m := enginetest.NewModel(enginetest.Options{Script: script})
	h := model.Wrap(m, "test.gguf", false)
	release := make(chan struct{})

	cfg := DefaultConfig()
	cfg.Sampler = sampler.GreedyPreset()
	cfg.NCtx = 2048
	slowCfg := cfg
	slowCfg.Tools = []tools.Descriptor{blockingTool(release)}

	slow, err := New(h, slowCfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = slow.Close() })
	fast, err := New(h, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = fast.Close() })
	require.NoError(t, h.Release())

	st, err := slow.Say(context.Background(), "temp?")
	require.NoError(t, err)
	nextToolCall(t, st)

	c := say(t, fast, "hello")
	assert.Equal(t, "hello", c.final.Text)
	assert.True(t, slow.Busy())
	assert.Equal(t, StateToolPending, slow.State())

	close(release)
	c = drain(t, st)
	assert.Equal(t, "It is 12.34 degrees in Copenhagen.", c.final.Text)
}
