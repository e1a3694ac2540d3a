// Package writer implements the single-writer actor for a tenant's
// (index_db, user_data_db) pair, per spec.md §4.2. Exactly one goroutine
// ever holds the write connection; every mutation is serialized through its
// mailbox and wrapped in BEGIN IMMEDIATE / COMMIT / ROLLBACK. Grounded on
// the teacher's internal/daemon/server.go connection-handling loop (one
// goroutine owns state, replies flow back over a channel instead of a
// socket) and internal/daemon/client.go's request/response pairing.
package writer

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	gatewayerrors "github.com/panoptigo/gateway/internal/errors"
	"github.com/panoptigo/gateway/internal/storage"
)

// IdleTimeout is how long an actor waits with an empty mailbox before
// closing its connection and exiting, per spec.md §4.2's "idle-close".
const IdleTimeout = 5 * time.Minute

// Mutation is a caller-supplied unit of work run inside one BEGIN
// IMMEDIATE transaction. It receives the writer's sole *sql.DB connection
// and returns whatever the caller wants handed back through Call.
// build_msg-style closures may run more than once if the actor is
// respawned mid-retry, so Mutation values (and anything they close over)
// must be safe to invoke repeatedly.
type Mutation func(ctx context.Context, conn *sql.DB) (any, error)

type writerMsg struct {
	ctx    context.Context
	fn     Mutation
	replyC chan writerReply
}

type writerReply struct {
	result any
	err    error
}

// Actor owns the sole writable connection for one tenant database pair.
type Actor struct {
	indexPath    string
	userDataPath string

	mailbox chan writerMsg
	done    chan struct{}

	mu     sync.Mutex
	closed bool
}

// newActor starts the actor goroutine and returns immediately; the
// connection itself is opened lazily on first message, so a supervisor can
// construct actors cheaply before knowing whether they'll ever be used.
func newActor(indexPath, userDataPath string) *Actor {
	a := &Actor{
		indexPath:    indexPath,
		userDataPath: userDataPath,
		mailbox:      make(chan writerMsg),
		done:         make(chan struct{}),
	}
	go a.run()
	return a
}

func (a *Actor) run() {
	defer close(a.done)

	var db *storage.DB
	defer func() {
		if db != nil {
			db.Close()
		}
	}()

	idle := time.NewTimer(IdleTimeout)
	defer idle.Stop()

	for {
		select {
		case msg, ok := <-a.mailbox:
			if !ok {
				return
			}
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}

			if db == nil {
				opened, err := storage.Open(msg.ctx, a.indexPath, a.userDataPath)
				if err != nil {
					msg.replyC <- writerReply{err: gatewayerrors.Wrap(gatewayerrors.ErrCodeWriterUnavailable, err)}
					idle.Reset(IdleTimeout)
					continue
				}
				db = opened
			}

			result, err := a.runTx(msg.ctx, db, msg.fn)
			if err != nil {
				// Drop the connection on any failure: the next message
				// reopens a fresh one rather than risk reusing a
				// connection left in an inconsistent state.
				db.Close()
				db = nil
			}
			msg.replyC <- writerReply{result: result, err: err}
			idle.Reset(IdleTimeout)

		case <-idle.C:
			slog.Info("writer actor idle-close", slog.String("index_db", a.indexPath))
			a.mu.Lock()
			a.closed = true
			a.mu.Unlock()
			return
		}
	}
}

// runTx wraps fn in BEGIN IMMEDIATE / COMMIT / ROLLBACK. database/sql's
// BeginTx has no "immediate" lock mode, and db.Conn is capped at a single
// open connection (see storage.Open), so the transaction is driven with
// raw statements against that one connection instead of *sql.Tx — every
// statement fn issues is guaranteed to land on the same underlying
// connection since the pool never hands out a second one.
func (a *Actor) runTx(ctx context.Context, db *storage.DB, fn Mutation) (any, error) {
	if _, err := db.Conn.ExecContext(ctx, "BEGIN IMMEDIATE"); err != nil {
		return nil, gatewayerrors.Wrap(gatewayerrors.ErrCodeTxFailed, err)
	}

	result, err := fn(ctx, db.Conn)
	if err != nil {
		_, _ = db.Conn.ExecContext(ctx, "ROLLBACK")
		return nil, gatewayerrors.Wrap(gatewayerrors.ErrCodeTxFailed, err)
	}
	if _, err := db.Conn.ExecContext(ctx, "COMMIT"); err != nil {
		_, _ = db.Conn.ExecContext(ctx, "ROLLBACK")
		return nil, gatewayerrors.Wrap(gatewayerrors.ErrCodeTxFailed, err)
	}
	return result, nil
}

// call sends fn to the actor and blocks for its reply, failing fast if the
// actor has already exited.
func (a *Actor) call(ctx context.Context, fn Mutation) (any, error) {
	replyC := make(chan writerReply, 1)
	select {
	case a.mailbox <- writerMsg{ctx: ctx, fn: fn, replyC: replyC}:
	case <-a.done:
		return nil, gatewayerrors.New(gatewayerrors.ErrCodeWriterUnavailable, "writer actor is no longer running", nil)
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case reply := <-replyC:
		return reply.result, reply.err
	case <-a.done:
		return nil, gatewayerrors.New(gatewayerrors.ErrCodeWriterUnavailable, "writer actor exited before replying", nil)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// alive reports whether the actor's goroutine is still running.
func (a *Actor) alive() bool {
	select {
	case <-a.done:
		return false
	default:
		return true
	}
}

// healthCheck opens a short-lived read-only connection and pings it,
// without going through the mailbox — used by the supervisor's periodic
// tick so a stuck actor doesn't block health checks for every tenant.
func (a *Actor) healthCheck(ctx context.Context) error {
	db, err := storage.OpenReadOnly(ctx, a.indexPath, a.userDataPath)
	if err != nil {
		return fmt.Errorf("health check open: %w", err)
	}
	defer db.Close()
	return db.PingContext(ctx)
}
