package writer

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	gatewayerrors "github.com/panoptigo/gateway/internal/errors"
)

// HealthTickInterval is how often the supervisor verifies every live actor
// can still reach its backing files, per spec.md §4.2.
const HealthTickInterval = 5 * time.Minute

// MaxCallAttempts bounds the client retry protocol: a failed send/reply is
// retried once more before giving up, respawning the supervisor's actor on
// the second attempt per spec.md §4.2's "writer retry on stale supervisor"
// scenario.
const MaxCallAttempts = 2

type key struct {
	indexPath    string
	userDataPath string
}

// Supervisor is the process-wide registry of writer actors, one per
// (index_db, user_data_db) pair. It is the single piece of global mutable
// state in the writer package (see DESIGN.md's "Global mutable state"
// note) — every other component receives a *Supervisor explicitly instead
// of reaching for a package-level singleton.
type Supervisor struct {
	mu     sync.Mutex
	actors map[key]*Actor

	tickCtx    context.Context
	tickCancel context.CancelFunc
	tickOnce   sync.Once
	tickDone   chan struct{}
}

// NewSupervisor constructs an empty supervisor and starts its background
// health-tick loop, stopped by Close.
func NewSupervisor() *Supervisor {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Supervisor{
		actors:     make(map[key]*Actor),
		tickCtx:    ctx,
		tickCancel: cancel,
		tickDone:   make(chan struct{}),
	}
	go s.healthLoop()
	return s
}

func (s *Supervisor) healthLoop() {
	defer close(s.tickDone)
	ticker := time.NewTicker(HealthTickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.tickCtx.Done():
			return
		case <-ticker.C:
			s.runHealthTick()
		}
	}
}

// runHealthTick pings every live actor concurrently via errgroup, removing
// any whose backing files are gone or unreachable so the next Call
// transparently respawns a fresh one.
func (s *Supervisor) runHealthTick() {
	s.mu.Lock()
	snapshot := make(map[key]*Actor, len(s.actors))
	for k, a := range s.actors {
		snapshot[k] = a
	}
	s.mu.Unlock()

	var g errgroup.Group
	var mu sync.Mutex
	var unhealthy []key

	for k, a := range snapshot {
		k, a := k, a
		g.Go(func() error {
			ctx, cancel := context.WithTimeout(s.tickCtx, 5*time.Second)
			defer cancel()
			if !a.alive() || a.healthCheck(ctx) != nil {
				mu.Lock()
				unhealthy = append(unhealthy, k)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	if len(unhealthy) == 0 {
		return
	}
	s.mu.Lock()
	for _, k := range unhealthy {
		delete(s.actors, k)
	}
	s.mu.Unlock()
}

// actorFor returns the live actor for (indexPath, userDataPath), spawning
// one under lock if none exists yet or the existing one has exited.
func (s *Supervisor) actorFor(indexPath, userDataPath string) *Actor {
	k := key{indexPath, userDataPath}
	s.mu.Lock()
	defer s.mu.Unlock()

	if a, ok := s.actors[k]; ok && a.alive() {
		return a
	}
	a := newActor(indexPath, userDataPath)
	s.actors[k] = a
	return a
}

// respawn forcibly replaces the actor for (indexPath, userDataPath),
// regardless of whether the existing one still reports alive — used after
// a Call attempt fails, since a stuck-but-technically-alive actor is
// exactly the "stale supervisor" scenario spec.md's writer retry property
// describes.
func (s *Supervisor) respawn(indexPath, userDataPath string) *Actor {
	k := key{indexPath, userDataPath}
	s.mu.Lock()
	defer s.mu.Unlock()
	a := newActor(indexPath, userDataPath)
	s.actors[k] = a
	return a
}

// Call routes fn to the writer actor for (indexPath, userDataPath),
// retrying once (per MaxCallAttempts) with a freshly respawned actor if
// the first attempt fails to deliver a reply (ErrCodeWriterUnavailable).
// Any other error, including the mutation's own failure, is returned
// without a retry.
func (s *Supervisor) Call(ctx context.Context, indexPath, userDataPath string, fn Mutation) (any, error) {
	var lastErr error
	for attempt := 1; attempt <= MaxCallAttempts; attempt++ {
		var a *Actor
		if attempt == 1 {
			a = s.actorFor(indexPath, userDataPath)
		} else {
			a = s.respawn(indexPath, userDataPath)
		}

		result, err := a.call(ctx, fn)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if gatewayerrors.GetCode(err) != gatewayerrors.ErrCodeWriterUnavailable {
			return nil, err
		}
	}
	return nil, gatewayerrors.Wrap(gatewayerrors.ErrCodeWriterUnavailable, lastErr)
}

// Close stops the health-tick loop and every managed actor. It does not
// wait for in-flight Call invocations to finish; callers should drain
// those first.
func (s *Supervisor) Close() {
	s.tickCancel()
	<-s.tickDone

	s.mu.Lock()
	defer s.mu.Unlock()
	for k, a := range s.actors {
		close(a.mailbox)
		delete(s.actors, k)
	}
}
