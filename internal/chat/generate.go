package chat

import (
	"strings"
	"unicode/utf8"

	"chatd/internal/engine"
	"chatd/internal/errs"
	"chatd/internal/sampler"
)

// thinkBlock is appended after the generation prompt when thinking is off.
const thinkBlock = "<think>\n\n</think>\n\n"

// templateMessages maps the history to template input. A leading system
// message overrides the session prompt; tool definitions are appended to
// the system prompt; tool results take the format's role and wrapping.
func (s *Session) templateMessages(history []Message) []engine.ChatMessage {
	sys, rest := s.systemPrompt, history
	if len(history) > 0 && history[0].Role == RoleSystem {
		sys, rest = history[0].Content, history[1:]
	}
	if s.registry.Len() > 0 {
		sys = s.format.SystemPrompt(sys, s.registry.List())
	}
	out := make([]engine.ChatMessage, 0, len(rest)+1)
	if sys != "" {
		out = append(out, engine.ChatMessage{Role: string(RoleSystem), Content: sys})
	}
	for _, m := range rest {
		if m.Role == RoleTool {
			role, content := s.format.ToolResult(m.Name, m.Content)
			out = append(out, engine.ChatMessage{Role: role, Content: content})
			continue
		}
		out = append(out, engine.ChatMessage{Role: string(m.Role), Content: m.Content})
	}
	return out
}

// renderPrompt renders history followed by the assistant generation prompt.
func (s *Session) renderPrompt(history []Message) (string, error) {
	text, err := s.mdl.ApplyChatTemplate(s.templateMessages(history), true)
	if err != nil {
		return "", errs.Wrap(errs.KindInvalidModel, err, "apply chat template")
	}
	if !s.allowThinking && s.thinkTags {
		text += thinkBlock
	}
	return text, nil
}

func (s *Session) promptTokens(history []Message) ([]engine.Token, error) {
	text, err := s.renderPrompt(history)
	if err != nil {
		return nil, err
	}
	return s.mdl.Tokenize(text, true)
}

func (s *Session) countTokens(history []Message) (int, error) {
	toks, err := s.promptTokens(history)
	return len(toks), err
}

func (s *Session) resolveBreaker(b string) []int32 {
	toks, err := s.mdl.Tokenize(b, false)
	if err != nil {
		return nil
	}
	out := make([]int32, len(toks))
	for i, t := range toks {
		out[i] = int32(t)
	}
	return out
}

// sync makes the KV cache hold exactly target and returns the logits after
// its last token. Only the part after the longest common prefix with the
// cache is decoded; when the cache already matches, the last token is
// decoded again to get fresh logits.
func (s *Session) sync(target []engine.Token) ([]float32, error) {
	if len(target) == 0 {
		return nil, errs.New(errs.KindInvalidArgument, "empty prompt")
	}
	p := 0
	for p < len(s.kv) && p < len(target) && s.kv[p] == target[p] {
		p++
	}
	if p == len(target) {
		p--
	}
	if p < len(s.kv) {
		if err := s.ectx.Truncate(p); err != nil {
			s.dropCache()
			p = 0
		} else {
			s.kv = s.kv[:p]
		}
	}
	logits, err := s.ectx.Decode(target[p:])
	if err != nil {
		// a failed batch leaves the cache in an unknown state
		s.dropCache()
		return nil, err
	}
	s.kv = append(s.kv, target[p:]...)
	s.kvLen.Store(int64(len(s.kv)))
	return logits, nil
}

type roundResult struct {
	text    string // everything generated
	visible string // text before any tool-call marker
	reason  FinishReason
}

// generate runs one assistant round over the current history and streams
// the visible tokens.
func (t *turn) generate(pipe *sampler.Pipeline) (roundResult, error) {
	s := t.s
	pipe.Reset()
	if t.stopped() {
		return roundResult{reason: FinishCancelled}, nil
	}
	prompt, err := s.promptTokens(s.history)
	if err != nil {
		return roundResult{}, err
	}
	if len(prompt) >= s.cm.NCtx() {
		return roundResult{}, errs.New(errs.KindContextOverflow, "prompt of %d tokens leaves no room in n_ctx %d", len(prompt), s.cm.NCtx())
	}
	logits, err := s.sync(prompt)
	if err != nil {
		return roundResult{}, err
	}

	marker := s.format.BeginMarker()
	var (
		gen      []engine.Token
		raw      strings.Builder
		buf      utf8Buffer
		sent     int  // bytes of raw already streamed
		withheld bool // a tool-call marker was seen
		reason   = FinishStop
	)
	flush := func(upto int) bool {
		if upto <= sent {
			return true
		}
		piece := raw.String()[sent:upto]
		sent = upto
		return t.emit(Event{Kind: EventToken, Token: piece})
	}
	stream := func(final bool) bool {
		if withheld {
			return true
		}
		text := raw.String()
		if i := strings.Index(text, marker); i >= 0 {
			withheld = true
			return flush(i)
		}
		if final {
			return flush(len(text))
		}
		return flush(len(text) - partialSuffix(text, marker))
	}

	for {
		if t.stopped() {
			reason = FinishCancelled
			break
		}
		if s.maxTokens > 0 && len(gen) >= s.maxTokens {
			reason = FinishLength
			break
		}
		id, err := pipe.Sample(logits)
		if err != nil {
			return roundResult{}, err
		}
		tok := engine.Token(id)
		if s.mdl.IsEOG(tok) {
			break
		}
		pipe.Accept(id)
		gen = append(gen, tok)
		t.tokens++
		piece, err := s.mdl.Detokenize([]engine.Token{tok})
		if err != nil {
			return roundResult{}, err
		}
		raw.WriteString(buf.push(piece))
		if !stream(false) {
			reason = FinishCancelled
			break
		}

		target := append(prompt[:len(prompt):len(prompt)], gen...)
		if len(target) > s.cm.NCtx() {
			if prompt, err = t.shift(len(gen)); err != nil {
				return roundResult{}, err
			}
			target = append(prompt[:len(prompt):len(prompt)], gen...)
		}
		if logits, err = s.sync(target); err != nil {
			return roundResult{}, err
		}
	}

	raw.WriteString(buf.flush())
	if reason != FinishCancelled {
		stream(true)
	}
	text := raw.String()
	visible := text
	if i := strings.Index(text, marker); i >= 0 {
		visible = text[:i]
	}
	if reason == FinishCancelled {
		// only what the consumer actually saw
		visible = text[:sent]
	}
	return roundResult{text: text, visible: visible, reason: reason}, nil
}

// shift evicts old turns while a response is being generated. The current
// turn is protected and the generated tokens are kept in reserve.
func (t *turn) shift(generated int) ([]engine.Token, error) {
	s := t.s
	fitted, removed, err := s.cm.EnsureFits(s.history, lastUser(s.history), generated+1)
	if err != nil {
		return nil, err
	}
	s.setHistory(fitted)
	if removed > 0 {
		s.publish("context_shift", map[string]any{"removed": removed, "during_generation": true})
	}
	return s.promptTokens(fitted)
}

// partialSuffix is the length of the longest suffix of text that is a proper
// prefix of marker.
func partialSuffix(text, marker string) int {
	n := min(len(marker)-1, len(text))
	for ; n > 0; n-- {
		if strings.HasSuffix(text, marker[:n]) {
			return n
		}
	}
	return 0
}

// utf8Buffer joins token pieces that split multi-byte characters. Incomplete
// sequences are held back until they complete; invalid bytes become U+FFFD.
type utf8Buffer struct {
	pending []byte
}

func (b *utf8Buffer) push(piece string) string {
	b.pending = append(b.pending, piece...)
	var out strings.Builder
	i := 0
	for i < len(b.pending) {
		r, size := utf8.DecodeRune(b.pending[i:])
		if r == utf8.RuneError && size <= 1 {
			if !utf8.FullRune(b.pending[i:]) {
				break
			}
			out.WriteRune(utf8.RuneError)
			i++
			continue
		}
		out.Write(b.pending[i : i+size])
		i += size
	}
	b.pending = append(b.pending[:0], b.pending[i:]...)
	return out.String()
}

func (b *utf8Buffer) flush() string {
	if len(b.pending) == 0 {
		return ""
	}
	b.pending = b.pending[:0]
	return string(utf8.RuneError)
}
