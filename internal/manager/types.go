package manager

import (
	"sync"
	"time"

	"chatd/internal/chat"
	"chatd/internal/embed"
	"chatd/internal/model"
)

// State represents lifecycle state of the manager/instances.
type State string

const (
	StateReady   State = "ready"
	StateLoading State = "loading"
	StateError   State = "error"
)

// Instance is one loaded model. The manager holds the base handle; every
// session and encoder works on its own clone.
type Instance struct {
	ID       string
	State    State
	Handle   *model.Handle
	LoadedAt time.Time
	LastUsed time.Time

	// users counts sessions plus in-flight embed/rank calls. Unload refuses
	// while it is non-zero.
	users    int
	sessions int

	encMu    sync.Mutex
	embedder *embed.EmbeddingSession
	ranker   *embed.CrossEncoderSession
}

type sessionEntry struct {
	session   *chat.Session
	inst      *Instance
	createdAt time.Time
}
