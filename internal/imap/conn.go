// Package imap implements the IMAP backend (spec.md §4.4): a
// hand-rolled client-side wire protocol over net+crypto/tls, reusing
// github.com/emersion/go-imap/v2's base `imap` package only for shared
// vocabulary (flags, UID sets), never its imapclient transport.
//
// This package replaces the teacher's server-side internal/imap
// (backend.go/mailbox.go/server.go/session.go/updates.go/user.go,
// built on imapserver.Session callbacks answering someone else's
// commands). There is no server callback to adapt into a client
// operation one-for-one, so the wire-level files here are new code;
// what carries over from the teacher is the protocol-writing idiom
// itself — a mutex-guarded connection struct, tagged command
// construction, and an update-hub fan-out for asynchronous
// notifications (see idle.go, grounded on the teacher's
// UpdateHub in the deleted updates.go) — the same craft turned to the
// opposite direction of the wire, grounded additionally on
// original_source/melib/src/backends/imap/connection.rs for the
// state-machine shape (success-or-error connection cell, retry-once
// policy, IDLE-vs-command-socket separation).
package imap

import (
	"bufio"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mayhemheroes/meli/internal/merrors"
	"github.com/mayhemheroes/meli/internal/metrics"
)

// connState mirrors original_source's connection cell with four
// states: a connection is either not yet dialed, mid-handshake,
// usable, or known-bad (surface the error and require an explicit
// reconnect).
type connState int32

const (
	stateDisconnected connState = iota
	stateConnecting
	stateConnected
	stateError
)

// Conn is one hand-rolled IMAP client connection: a TCP+TLS socket, a
// buffered line reader/writer, a monotonic tag counter, and the
// capability set the server advertised. All command issuance goes
// through Conn.command, which blocks until the tagged response
// arrives or ctx is cancelled.
type Conn struct {
	mu      sync.Mutex
	conn    net.Conn
	r       *bufio.Reader
	w       *bufio.Writer
	state   atomic.Int32
	tag     uint64
	caps    map[string]bool
	host    string
	readDeadline time.Duration
}

// DialOptions configures Dial.
type DialOptions struct {
	Host string
	Port int
	// TLSMode is "tls" (implicit TLS on connect), "starttls", or "none".
	TLSMode string
	// InsecureSkipVerify should only ever be set by tests.
	InsecureSkipVerify bool
	ReadTimeout        time.Duration
}

// Dial establishes a connection, performing the TLS or STARTTLS
// handshake per opts, and reads the server's greeting and initial
// capability list. It retries the raw TCP dial once on a transient
// network error before surfacing it, the "busy-retry" policy
// original_source's connection cell implements for flaky networks.
func Dial(ctx context.Context, opts DialOptions) (*Conn, error) {
	addr := fmt.Sprintf("%s:%d", opts.Host, opts.Port)
	readTimeout := opts.ReadTimeout
	if readTimeout == 0 {
		readTimeout = 120 * time.Second
	}

	var raw net.Conn
	var err error
	for attempt := 0; attempt < 2; attempt++ {
		d := net.Dialer{Timeout: 30 * time.Second}
		raw, err = d.DialContext(ctx, "tcp", addr)
		if err == nil {
			break
		}
		if attempt == 0 {
			time.Sleep(500 * time.Millisecond)
		}
	}
	if err != nil {
		return nil, merrors.IO(err)
	}

	if opts.TLSMode == "tls" {
		raw = tls.Client(raw, &tls.Config{ServerName: opts.Host, InsecureSkipVerify: opts.InsecureSkipVerify})
	}

	c := &Conn{
		conn: raw,
		r:    bufio.NewReader(raw),
		w:    bufio.NewWriter(raw),
		// tag is seeded one below zero so the first nextTag() call
		// (AddUint64 wraps to 0) emits M0, not M1.
		tag:          ^uint64(0),
		caps:         make(map[string]bool),
		host:         opts.Host,
		readDeadline: readTimeout,
	}
	c.state.Store(int32(stateConnecting))

	greeting, err := c.readLine(ctx)
	if err != nil {
		return nil, merrors.Protocol("imap", "reading greeting", err)
	}
	if !strings.HasPrefix(greeting, "* OK") && !strings.HasPrefix(greeting, "* PREAUTH") {
		return nil, merrors.Protocol("imap", "unexpected greeting: "+greeting, nil)
	}
	parseCapabilitiesInto(c.caps, greeting)

	// The greeting's inline capability list suffices; only ask
	// explicitly when the server didn't volunteer one, so the tag
	// sequence a fresh connection issues starts with the login step
	// itself (spec.md §4.4 step 1), not a capability probe.
	if len(c.caps) == 0 {
		if _, err := c.command(ctx, "CAPABILITY"); err != nil {
			return nil, err
		}
	}

	if opts.TLSMode == "starttls" {
		if !c.caps["STARTTLS"] {
			return nil, merrors.Protocol("imap", "server does not advertise STARTTLS", nil)
		}
		if _, err := c.command(ctx, "STARTTLS"); err != nil {
			return nil, err
		}
		tlsConn := tls.Client(raw, &tls.Config{ServerName: opts.Host, InsecureSkipVerify: opts.InsecureSkipVerify})
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			return nil, merrors.IO(err)
		}
		c.conn = tlsConn
		c.r = bufio.NewReader(tlsConn)
		c.w = bufio.NewWriter(tlsConn)
	}

	c.state.Store(int32(stateConnected))
	return c, nil
}

// nextTag returns the connection's next command tag, starting at M0
// (spec.md §4.4 property 5: "M0, M1, M2, ..."). tag is seeded at its
// maximum value so the first AddUint64 wraps to 0.
func (c *Conn) nextTag() string {
	n := atomic.AddUint64(&c.tag, 1)
	return fmt.Sprintf("M%d", n)
}

func (c *Conn) readLine(ctx context.Context) (string, error) {
	return c.readResponseUnit(ctx)
}

// readResponseUnit reads one logical IMAP response: a line, or — when
// that line ends in a "{N}" literal marker — the line plus the N raw
// bytes that follow plus whatever rest-of-line trails them, repeated
// until a line with no trailing literal marker is found. This is what
// lets a single untagged FETCH response carry a literal message body
// containing arbitrary bytes, including embedded CRLFs, without
// desynchronizing the reader.
func (c *Conn) readResponseUnit(ctx context.Context) (string, error) {
	type result struct {
		unit string
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		var buf strings.Builder
		for {
			line, err := c.r.ReadString('\n')
			if err != nil {
				ch <- result{"", err}
				return
			}
			trimmed := strings.TrimRight(line, "\r\n")
			buf.WriteString(trimmed)
			if n, ok := literalSize(trimmed); ok {
				data := make([]byte, n)
				if _, err := io.ReadFull(c.r, data); err != nil {
					ch <- result{"", err}
					return
				}
				buf.Write(data)
				continue
			}
			break
		}
		ch <- result{buf.String(), nil}
	}()
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		return res.unit, res.err
	}
}

// command writes "<tag> text\r\n" and collects every response line up
// to and including the matching tagged completion, handling "+"
// continuation prompts by sending an empty continuation (it cannot
// send literal data).
func (c *Conn) command(ctx context.Context, text string) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	metrics.IMAPCommands.WithLabelValues(commandName(text)).Inc()

	tag := c.nextTag()
	if _, err := fmt.Fprintf(c.w, "%s %s\r\n", tag, text); err != nil {
		return nil, merrors.IO(err)
	}
	if err := c.w.Flush(); err != nil {
		return nil, merrors.IO(err)
	}

	var lines []string
	for {
		line, err := c.readLine(ctx)
		if err != nil {
			c.state.Store(int32(stateError))
			return nil, merrors.Disconn(err)
		}
		resp := parseResponseLine(line)
		switch resp.kind {
		case respUntagged:
			if strings.EqualFold(resp.keyword, "BYE") {
				c.state.Store(int32(stateError))
				return nil, merrors.Disconn(fmt.Errorf("unsolicited BYE: %s", line))
			}
			lines = append(lines, line)
			if strings.EqualFold(resp.keyword, "CAPABILITY") || strings.Contains(strings.ToUpper(line), "CAPABILITY") {
				parseCapabilitiesInto(c.caps, line)
			}
		case respContinuation:
			if _, err := fmt.Fprintf(c.w, "\r\n"); err != nil {
				return nil, merrors.IO(err)
			}
			c.w.Flush()
		case respTagged:
			if resp.tag != tag {
				// a response for a different (stale) tag: ignore and continue
				continue
			}
			if resp.status != "OK" {
				return lines, merrors.Protocol("imap", "tag "+tag+" "+resp.status+": "+line, nil)
			}
			return lines, nil
		}
	}
}

// Capable reports whether the server advertised capability name.
func (c *Conn) Capable(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.caps[strings.ToUpper(name)]
}

// Close sends LOGOUT best-effort then closes the socket
// (original_source drops the connection with an explicit LOGOUT
// rather than relying on the server's idle timeout).
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.state.Load() == int32(stateConnected) {
		tag := c.nextTag()
		fmt.Fprintf(c.w, "%s LOGOUT\r\n", tag)
		c.w.Flush()
	}
	c.mu.Unlock()
	c.state.Store(int32(stateDisconnected))
	return c.conn.Close()
}

// commandName extracts the leading verb from a command line ("UID
// FETCH ..." -> "UID FETCH") for the IMAPCommands metric label.
func commandName(text string) string {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return "unknown"
	}
	if strings.EqualFold(fields[0], "UID") && len(fields) > 1 {
		return "UID " + strings.ToUpper(fields[1])
	}
	return strings.ToUpper(fields[0])
}
