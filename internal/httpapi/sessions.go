package httpapi

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"chatd/internal/chat"
	"chatd/internal/errs"
	"chatd/internal/manager"
	"chatd/internal/sampler"
	"chatd/internal/tools"
	"chatd/pkg/types"
)

func (s *server) session(w http.ResponseWriter, r *http.Request) (*chat.Session, bool) {
	sess, err := s.svc.Session(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return nil, false
	}
	return sess, true
}

func (s *server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req types.CreateSessionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	opts := manager.SessionOptions{
		Model:         req.Model,
		SystemPrompt:  req.SystemPrompt,
		NCtx:          req.NCtx,
		AllowThinking: req.AllowThinking,
		MaxTokens:     req.MaxTokens,
		History:       toChatMessages(req.History),
	}
	if len(bytes.TrimSpace(req.Sampler)) > 0 && string(bytes.TrimSpace(req.Sampler)) != "null" {
		cfg, err := parseSampler(req.Sampler)
		if err != nil {
			writeError(w, err)
			return
		}
		opts.Sampler = &cfg
	}
	descs, err := webhookTools(req.Tools)
	if err != nil {
		writeError(w, err)
		return
	}
	opts.Tools = descs

	start := time.Now()
	sess, err := s.svc.CreateSession(r.Context(), opts)
	if err != nil {
		status := writeError(w, err)
		logRequestEnd(r, requestLogLevel(r), "create session", status, start, err)
		return
	}
	w.Header().Set("X-Session-Id", sess.ID())
	writeJSON(w, http.StatusCreated, types.CreateSessionResponse{ID: sess.ID(), Model: sess.ModelID(), NCtx: sess.NCtx()})
	logRequestEnd(r, requestLogLevel(r), "create session", http.StatusCreated, start, nil)
}

func (s *server) handleDestroySession(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.DestroySession(chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleSay streams one turn as NDJSON. Disconnecting the client cancels
// the turn; the history keeps what was streamed.
func (s *server) handleSay(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	var req types.SayRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeJSONError(w, http.StatusBadRequest, "text is required")
		return
	}

	lvl := requestLogLevel(r)
	start := time.Now()
	ctx, cancel := requestContext(r.Context(), sayTimeout)
	defer cancel()
	stream, err := sess.Say(ctx, req.Text)
	if err != nil {
		status := writeError(w, err)
		logRequestEnd(r, lvl, "say", status, start, err)
		return
	}
	if lvl >= LevelInfo && zlog != nil {
		zlog.Info().Str("session", sess.ID()).Str("model", sess.ModelID()).Msg("say start")
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	var flush func()
	if f, ok := w.(http.Flusher); ok {
		flush = f.Flush
	}
	writer := io.Writer(w)
	if lvl >= LevelDebug {
		writer = io.MultiWriter(w, &loggingLineWriter{session: sess.ID()})
	}
	enc := json.NewEncoder(writer)

	var final *chat.Event
	for {
		ev, ok := stream.Next(ctx)
		if !ok {
			break
		}
		if err := enc.Encode(streamChunk(ev)); err != nil {
			// client went away; cancelling ctx stops the turn
			cancel()
			break
		}
		if flush != nil {
			flush()
		}
		if ev.Terminal() {
			e := ev
			final = &e
		}
	}
	var endErr error
	switch {
	case final == nil:
		endErr = ctx.Err()
		if endErr == nil {
			endErr = errs.New(errs.KindGenerationCancelled, "stream ended without result")
		}
		// a timeout still owes the client a terminal line
		if r.Context().Err() == nil {
			_ = enc.Encode(types.StreamChunk{Error: endErr.Error(), Kind: string(errs.KindGenerationCancelled)})
			if flush != nil {
				flush()
			}
		}
	case final.Kind == chat.EventError:
		endErr = final.Err
	}
	logRequestEnd(r, lvl, "say", http.StatusOK, start, endErr)
}

func streamChunk(ev chat.Event) types.StreamChunk {
	switch ev.Kind {
	case chat.EventToken:
		return types.StreamChunk{Token: ev.Token}
	case chat.EventToolCall:
		c := ev.ToolCall
		return types.StreamChunk{ToolCall: &types.ToolCall{ID: c.ID, Name: c.Name, Arguments: c.Arguments}}
	case chat.EventDone:
		return types.StreamChunk{Done: true, Content: ev.Text, FinishReason: string(ev.FinishReason)}
	default:
		msg := "unknown error"
		if ev.Err != nil {
			msg = ev.Err.Error()
		}
		return types.StreamChunk{Error: msg, Kind: string(errs.KindOf(ev.Err))}
	}
}

func (s *server) handleStop(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	sess.Stop()
	w.WriteHeader(http.StatusAccepted)
}

func (s *server) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	h, err := sess.ChatHistory(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, types.HistoryBody{Messages: fromChatMessages(h)})
}

func (s *server) handlePutHistory(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	var body types.HistoryBody
	if !decodeJSON(w, r, &body) {
		return
	}
	if err := sess.SetChatHistory(r.Context(), toChatMessages(body.Messages)); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) handleResetHistory(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	if err := sess.ResetHistory(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) handleSetSampler(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	var spec sampler.Spec
	if !decodeJSON(w, r, &spec) {
		return
	}
	cfg, err := spec.Config()
	if err != nil {
		writeError(w, err)
		return
	}
	if err := sess.SetSamplerConfig(cfg); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) handleSetTools(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	var req types.ToolsRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	descs, err := webhookTools(req.Tools)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := sess.SetTools(descs...); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) handleSetThinking(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	var req types.ThinkingRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := sess.SetAllowThinking(req.Allow); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) handleSetSystemPrompt(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	var req types.SystemPromptRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := sess.SetSystemPrompt(req.Prompt); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func parseSampler(raw json.RawMessage) (sampler.Config, error) {
	var spec sampler.Spec
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&spec); err != nil {
		return sampler.Config{}, errs.Wrap(errs.KindSamplerConfigInvalid, err, "sampler")
	}
	return spec.Config()
}

// webhookTools turns tool specs into descriptors backed by HTTP webhooks.
func webhookTools(specs []types.ToolSpec) ([]tools.Descriptor, error) {
	logger := zerolog.Nop()
	if zlog != nil {
		logger = *zlog
	}
	out := make([]tools.Descriptor, 0, len(specs))
	for _, spec := range specs {
		var params json.RawMessage
		if spec.Parameters != nil {
			b, err := json.Marshal(spec.Parameters)
			if err != nil {
				return nil, errs.Wrap(errs.KindInvalidArgument, err, "tool %q parameters", spec.Name)
			}
			params = b
		}
		timeout := toolTimeout
		if spec.TimeoutSeconds > 0 {
			timeout = time.Duration(spec.TimeoutSeconds) * time.Second
		}
		d, err := tools.NewWebhook(tools.WebhookConfig{
			Name:        spec.Name,
			Description: spec.Description,
			Parameters:  params,
			URL:         spec.URL,
			Timeout:     timeout,
			RateLimit:   spec.RateLimit,
			Logger:      logger,
		})
		if err != nil {
			return nil, errs.Wrap(errs.KindInvalidArgument, err, "tool %q", spec.Name)
		}
		out = append(out, d)
	}
	return out, nil
}

func toChatMessages(in []types.Message) []chat.Message {
	if len(in) == 0 {
		return nil
	}
	out := make([]chat.Message, len(in))
	for i, m := range in {
		out[i] = chat.Message{Role: chat.Role(m.Role), Content: m.Content, Name: m.Name}
	}
	return out
}

func fromChatMessages(in []chat.Message) []types.Message {
	out := make([]types.Message, len(in))
	for i, m := range in {
		out[i] = types.Message{Role: string(m.Role), Content: m.Content, Name: m.Name}
	}
	return out
}
