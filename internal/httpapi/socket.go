package httpapi

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"chatd/internal/errs"
	"chatd/pkg/types"
)

const socketWriteTimeout = 5 * time.Second

// socketOriginPatterns turns the CORS origins into host patterns. Without
// CORS only same-origin upgrades are accepted.
func socketOriginPatterns() []string {
	if !corsEnabled {
		return nil
	}
	var out []string
	for _, o := range corsAllowedOrigins {
		if o == "*" {
			return []string{"*"}
		}
		if u, err := url.Parse(o); err == nil && u.Host != "" {
			out = append(out, u.Host)
			continue
		}
		out = append(out, o)
	}
	return out
}

// handleSessionSocket drives a session over a websocket. Each say frame
// starts a turn whose events come back as StreamChunk frames; a stop frame
// stops the running turn. Closing the socket cancels any turn in flight.
func (s *server) handleSessionSocket(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: socketOriginPatterns()})
	if err != nil {
		if zlog != nil {
			zlog.Warn().Err(err).Str("session", sess.ID()).Msg("websocket accept failed")
		}
		return
	}

	ctx, cancel := joinContexts(r.Context(), serverBaseCtx)
	defer cancel()
	var wmu sync.Mutex
	send := func(v types.StreamChunk) error {
		wmu.Lock()
		defer wmu.Unlock()
		wctx, wcancel := context.WithTimeout(ctx, socketWriteTimeout)
		defer wcancel()
		return wsjson.Write(wctx, conn, v)
	}
	sendErr := func(err error) error {
		return send(types.StreamChunk{Error: err.Error(), Kind: string(errs.KindOf(err))})
	}

	var turns sync.WaitGroup
	for {
		var req types.SocketRequest
		if err := wsjson.Read(ctx, conn, &req); err != nil {
			break
		}
		switch req.Type {
		case "say":
			if strings.TrimSpace(req.Text) == "" {
				_ = sendErr(errs.New(errs.KindInvalidArgument, "text is required"))
				continue
			}
			stream, err := sess.Say(ctx, req.Text)
			if err != nil {
				_ = sendErr(err)
				continue
			}
			turns.Add(1)
			go func() {
				defer turns.Done()
				for {
					ev, ok := stream.Next(ctx)
					if !ok {
						return
					}
					if err := send(streamChunk(ev)); err != nil {
						cancel()
						return
					}
				}
			}()
		case "stop":
			sess.Stop()
		default:
			_ = sendErr(errs.New(errs.KindInvalidArgument, "unknown frame type %q", req.Type))
		}
	}
	cancel()
	turns.Wait()
	conn.Close(websocket.StatusNormalClosure, "")
}
