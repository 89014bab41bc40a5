package imap

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/mayhemheroes/meli/internal/backend"
	"github.com/mayhemheroes/meli/internal/merrors"
	"github.com/mayhemheroes/meli/internal/model"
)

// idleRestartInterval bounds how long a single IDLE command is held
// open before it is cycled (RFC 3501 §7.2.4 advises re-issuing IDLE
// every 29 minutes to stay ahead of server-side idle timeouts).
const idleRestartInterval = 29 * time.Minute

// idleLoop owns the dedicated IDLE connection armed by Client.Watch,
// translating the untagged EXISTS/EXPUNGE/FETCH pushes a server sends
// during IDLE into backend.Events. Grounded on the teacher's UpdateHub
// fan-out in the deleted updates.go (one goroutine reading a socket,
// pushing typed events to a sink) and on
// original_source/melib/src/backends/imap/connection.rs's separation
// of the IDLE socket from the command socket.
type idleLoop struct {
	conn   *Conn
	sink   backend.Sink
	folder model.FolderHash

	stopCh chan struct{}
	done   chan struct{}
}

func newIdleLoop(conn *Conn, sink backend.Sink, folder model.FolderHash) *idleLoop {
	return &idleLoop{conn: conn, sink: sink, folder: folder, stopCh: make(chan struct{}), done: make(chan struct{})}
}

// run cycles IDLE commands until ctx is cancelled or stop is called,
// each cycle ending either at idleRestartInterval or when a stop is
// requested, surfacing any pushed update to the sink as it arrives.
func (l *idleLoop) run(ctx context.Context) {
	defer close(l.done)
	defer l.conn.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case <-l.stopCh:
			return
		default:
		}
		if err := l.cycle(ctx); err != nil {
			if merr, ok := merrors.As(err); ok && merr.Kind == merrors.KindDisconnected {
				return
			}
			select {
			case <-ctx.Done():
				return
			case <-l.stopCh:
				return
			case <-time.After(time.Second):
			}
		}
	}
}

// cycle issues one IDLE command, consumes untagged pushes until either
// idleRestartInterval elapses, ctx is cancelled, or stop is requested,
// then sends DONE and waits for the tagged completion before
// returning control to run for the next cycle.
func (l *idleLoop) cycle(ctx context.Context) error {
	l.conn.mu.Lock()
	tag := l.conn.nextTag()
	if _, err := fmt.Fprintf(l.conn.w, "%s IDLE\r\n", tag); err != nil {
		l.conn.mu.Unlock()
		return merrors.IO(err)
	}
	if err := l.conn.w.Flush(); err != nil {
		l.conn.mu.Unlock()
		return merrors.IO(err)
	}
	l.conn.mu.Unlock()

	cont, err := l.conn.readLine(ctx)
	if err != nil {
		return merrors.Disconn(err)
	}
	if parseResponseLine(cont).kind != respContinuation {
		return merrors.Protocol("imap", "server refused IDLE: "+cont, nil)
	}

	lineCh := make(chan string, 1)
	errCh := make(chan error, 1)
	go func() {
		for {
			line, rerr := l.conn.readLine(context.Background())
			if rerr != nil {
				errCh <- rerr
				return
			}
			lineCh <- line
			if parseResponseLine(line).kind == respTagged {
				return
			}
		}
	}()

	timer := time.NewTimer(idleRestartInterval)
	defer timer.Stop()
	doneSent := false

	for {
		select {
		case <-ctx.Done():
			l.sendDoneOnce(&doneSent)
		case <-l.stopCh:
			l.sendDoneOnce(&doneSent)
		case <-timer.C:
			l.sendDoneOnce(&doneSent)
		case line := <-lineCh:
			resp := parseResponseLine(line)
			if resp.kind == respTagged {
				return nil
			}
			if err := l.handleUntagged(resp); err != nil {
				return err
			}
		case rerr := <-errCh:
			return merrors.Disconn(rerr)
		}
	}
}

func (l *idleLoop) sendDoneOnce(sent *bool) {
	if *sent {
		return
	}
	*sent = true
	l.conn.mu.Lock()
	fmt.Fprintf(l.conn.w, "DONE\r\n")
	l.conn.w.Flush()
	l.conn.mu.Unlock()
}

// handleUntagged maps one untagged IDLE push to a backend.Event.
// EXISTS/EXPUNGE are sequence-number scoped per RFC 3501 §7.3.1/7.4.1,
// not UID scoped, so the affected message's hash can't be resolved
// without an extra round trip on the command connection; callers get
// a zero-hash event for the folder and are expected to reconcile via
// Load, the same "reload the folder" signal a Maildir EventCreate with
// an unresolvable hash would imply. A BYE push ends the IDLE cycle
// with a disconnect error instead of a backend.Event: the server is
// closing the connection, not reporting a mailbox change.
func (l *idleLoop) handleUntagged(resp response) error {
	// "* 12 EXISTS": the keyword is the sequence number; the verb follows it.
	verb := resp.keyword
	if _, err := strconv.Atoi(verb); err == nil {
		verb = strings.ToUpper(firstWord(resp.text[len(resp.keyword):]))
	}
	switch verb {
	case "BYE":
		return merrors.Disconn(fmt.Errorf("unsolicited BYE during IDLE: %s", resp.text))
	case "EXISTS":
		l.sink.Notify(backend.Event{Kind: backend.EventCreate, Folder: l.folder})
	case "EXPUNGE":
		l.sink.Notify(backend.Event{Kind: backend.EventRemove, Folder: l.folder})
	case "FETCH":
		l.sink.Notify(backend.Event{
			Kind:   backend.EventFlagsChanged,
			Folder: l.folder,
			Flags:  parseFetchFlags(resp.text),
		})
	}
	return nil
}

// stop tears down the IDLE loop, sending DONE if a command is
// in-flight, and waits for the connection to close.
func (l *idleLoop) stop() {
	select {
	case <-l.stopCh:
	default:
		close(l.stopCh)
	}
	<-l.done
}
