package imap

import (
	"context"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"sync"

	goimap "github.com/emersion/go-imap/v2"
	"github.com/emersion/go-sasl"

	"github.com/mayhemheroes/meli/internal/backend"
	"github.com/mayhemheroes/meli/internal/merrors"
	"github.com/mayhemheroes/meli/internal/metrics"
	"github.com/mayhemheroes/meli/internal/mime"
	"github.com/mayhemheroes/meli/internal/model"
)

func base64Encode(b []byte) string { return base64.StdEncoding.EncodeToString(b) }

// Account configures one IMAP backend instance (spec.md §4.4, §6).
type Account struct {
	Host     string
	Port     int
	TLSMode  string // "tls", "starttls", "none"
	Username string
	Password string
}

// Client is a backend.Backend over one IMAP account. It holds a
// single command connection (the "success-or-error cell" from
// original_source/melib/src/backends/imap/connection.rs: callers never
// see a half-broken Conn, only a freshly redialed one or an error) and
// a separate IDLE connection armed by Watch.
type Client struct {
	account Account

	mu   sync.Mutex
	conn *Conn

	idle *idleLoop
}

var _ backend.Backend = (*Client)(nil)

// NewClient dials and authenticates account's command connection.
func NewClient(ctx context.Context, account Account) (*Client, error) {
	c := &Client{account: account}
	if err := c.reconnect(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Client) reconnect(ctx context.Context) error {
	conn, err := Dial(ctx, DialOptions{
		Host:    c.account.Host,
		Port:    c.account.Port,
		TLSMode: c.account.TLSMode,
	})
	if err != nil {
		metrics.SetIMAPConnected(c.account.Host, false)
		return err
	}
	if err := authenticate(ctx, conn, c.account); err != nil {
		conn.Close()
		metrics.SetIMAPConnected(c.account.Host, false)
		return err
	}
	c.mu.Lock()
	if c.conn != nil {
		c.conn.Close()
	}
	c.conn = conn
	c.mu.Unlock()
	metrics.SetIMAPConnected(c.account.Host, true)
	return nil
}

// withConn runs fn against the live connection, reconnecting once and
// retrying if the connection is in an error state — original_source's
// "retry-once-then-surface" policy.
func (c *Client) withConn(ctx context.Context, fn func(*Conn) error) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn == nil || connState(conn.state.Load()) == stateError {
		if err := c.reconnect(ctx); err != nil {
			metrics.RecordIMAPReconnect(false)
			return err
		}
		metrics.RecordIMAPReconnect(true)
		c.mu.Lock()
		conn = c.conn
		c.mu.Unlock()
	}

	err := fn(conn)
	if merr, ok := merrors.As(err); ok && merr.Kind == merrors.KindDisconnected {
		if rerr := c.reconnect(ctx); rerr != nil {
			metrics.RecordIMAPReconnect(false)
			return rerr
		}
		metrics.RecordIMAPReconnect(true)
		c.mu.Lock()
		conn = c.conn
		c.mu.Unlock()
		return fn(conn)
	}
	return err
}

// authenticate picks AUTHENTICATE PLAIN whenever the server
// advertises AUTH=PLAIN, else falls back to LOGIN unless the server
// advertises LOGINDISABLED (original_source's capability-gated
// authentication choice).
func authenticate(ctx context.Context, conn *Conn, acct Account) error {
	if conn.Capable("AUTH=PLAIN") {
		client := sasl.NewPlainClient("", acct.Username, acct.Password)
		mech, initial, err := client.Start()
		if err != nil {
			return merrors.Auth(err)
		}
		_ = mech
		encoded := saslEncode(initial)
		if _, err := conn.command(ctx, "AUTHENTICATE PLAIN "+encoded); err != nil {
			return merrors.Auth(err)
		}
		return nil
	}
	if conn.Capable("LOGINDISABLED") {
		return merrors.Auth(fmt.Errorf("server disabled plaintext LOGIN and does not advertise AUTH=PLAIN"))
	}
	_, err := conn.command(ctx, fmt.Sprintf("LOGIN %s %s", quoteIMAP(acct.Username), quoteIMAP(acct.Password)))
	if err != nil {
		return merrors.Auth(err)
	}
	return nil
}

func quoteIMAP(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	return `"` + s + `"`
}

// saslEncode renders a SASL initial-response per RFC 4616/3501: base64,
// or "=" for an empty response.
func saslEncode(b []byte) string {
	if len(b) == 0 {
		return "="
	}
	return base64Encode(b)
}

func (c *Client) Kind() backend.Kind { return backend.KindIMAP }

// Folders lists mailboxes via LIST "" "*" (spec.md §4.4).
func (c *Client) Folders(ctx context.Context) (*model.Tree, error) {
	var folders []*model.Folder
	err := c.withConn(ctx, func(conn *Conn) error {
		lines, err := conn.command(ctx, `LIST "" "*"`)
		if err != nil {
			return err
		}
		folders = parseListResponses(lines)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return model.NewTree(folders), nil
}

func parseListResponses(lines []string) []*model.Folder {
	var folders []*model.Folder
	for _, line := range lines {
		resp := parseResponseLine(line)
		if resp.keyword != "LIST" {
			continue
		}
		name, noSelect := parseListLine(resp.text)
		if name == "" {
			continue
		}
		folders = append(folders, &model.Folder{
			Hash:      model.HashFolderName(name),
			Name:      leafName(name),
			FullPath:  name,
			HasParent: strings.ContainsAny(name, "/."),
			NoSelect:  noSelect,
		})
	}
	return folders
}

func leafName(path string) string {
	path = strings.TrimRight(path, "/.")
	for _, sep := range []string{"/", "."} {
		if i := strings.LastIndex(path, sep); i >= 0 {
			return path[i+1:]
		}
	}
	return path
}

// parseListLine parses a LIST response's flags+delimiter+mailbox text
// (the part after "LIST "), returning the mailbox name and whether
// \Noselect was among the flags.
func parseListLine(text string) (name string, noSelect bool) {
	open := strings.IndexByte(text, '(')
	close := strings.IndexByte(text, ')')
	if open < 0 || close < 0 || close < open {
		return "", false
	}
	flags := text[open+1 : close]
	noSelect = strings.Contains(strings.ToUpper(flags), `\NOSELECT`)
	rest := strings.TrimSpace(text[close+1:])
	parts := strings.SplitN(rest, " ", 2)
	if len(parts) < 2 {
		return "", noSelect
	}
	name = strings.Trim(strings.TrimSpace(parts[1]), `"`)
	return name, noSelect
}

// Load selects folder read-only then fetches every message's
// envelope/flags/size with a single UID FETCH 1:*, and afterwards
// reports progress in steps of 100 messages (spec.md §4.3/§4.4 shared
// progress contract).
func (c *Client) Load(ctx context.Context, folder model.FolderHash) (*backend.LoadHandle, error) {
	progressCh := make(chan backend.Progress, 8)
	resultCh := make(chan backend.LoadResult, 1)

	go func() {
		defer close(progressCh)
		defer close(resultCh)

		var mailbox string
		err := c.withConn(ctx, func(conn *Conn) error {
			// Folder lookup by hash requires the tree; callers are
			// expected to resolve folder to a mailbox name via Folders
			// first. Here we re-list to find it (cheap: one round trip).
			lines, err := conn.command(ctx, `LIST "" "*"`)
			if err != nil {
				return err
			}
			for _, f := range parseListResponses(lines) {
				if f.Hash == folder {
					mailbox = f.FullPath
					return nil
				}
			}
			return merrors.NotFound("imap mailbox")
		})
		if err != nil {
			resultCh <- backend.LoadResult{Err: err}
			return
		}

		var envelopes []*model.Envelope
		err = c.withConn(ctx, func(conn *Conn) error {
			if _, err := conn.command(ctx, fmt.Sprintf("EXAMINE %s", quoteIMAP(mailbox))); err != nil {
				return err
			}
			lines, err := conn.command(ctx, "UID FETCH 1:* (UID FLAGS RFC822.SIZE BODY.PEEK[HEADER])")
			if err != nil {
				return err
			}
			envelopes = parseFetchEnvelopes(lines, folder)
			return nil
		})
		if err != nil {
			resultCh <- backend.LoadResult{Err: err}
			return
		}

		for i := 0; i < len(envelopes); i += progressBatchIMAP {
			n := i + progressBatchIMAP
			if n > len(envelopes) {
				n = len(envelopes)
			}
			progressCh <- backend.Progress{Loaded: n}
		}
		progressCh <- backend.Progress{Loaded: len(envelopes), Done: true}
		resultCh <- backend.LoadResult{Envelopes: envelopes}
	}()

	return &backend.LoadHandle{Progress: progressCh, Envelopes: resultCh}, nil
}

const progressBatchIMAP = 100

func parseFetchEnvelopes(lines []string, folder model.FolderHash) []*model.Envelope {
	var envelopes []*model.Envelope
	for _, line := range lines {
		resp := parseResponseLine(line)
		if resp.keyword == "" {
			continue
		}
		if !strings.HasSuffix(resp.keyword, "FETCH") && !strings.Contains(resp.text, "FETCH") {
			continue
		}
		uid := parseFetchUID(resp.text)
		if uid < 0 {
			continue
		}
		header, ok := extractLiteralBody(resp.text)
		if !ok {
			continue
		}
		headers, _, err := mime.ParseHeaders(header)
		if err != nil {
			continue
		}
		e := envelopeFromHeaders(headers, parseFetchFlags(resp.text))
		e.Hash = model.HashMessageID(fmt.Sprintf("imap:%d:%s", folder, e.MessageID), uid)
		e.OperationToken = encodeIMAPToken(folder, uid)
		envelopes = append(envelopes, e)
	}
	return envelopes
}

func envelopeFromHeaders(h *mime.Headers, flags model.Flag) *model.Envelope {
	e := &model.Envelope{
		Subject:    h.Get("Subject"),
		MessageID:  strings.Trim(h.Get("Message-Id"), "<>"),
		InReplyTo:  strings.Trim(h.Get("In-Reply-To"), "<>"),
		References: splitRefs(h.Get("References")),
		Flags:      flags,
	}
	return e
}

func splitRefs(raw string) []string {
	if raw == "" {
		return nil
	}
	fields := strings.Fields(raw)
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		out = append(out, strings.Trim(f, "<>"))
	}
	return out
}

// imapFlagTable pairs each go-imap/v2 vocabulary flag with its
// model.Flag bit, used both to parse FETCH FLAGS responses and to
// render STORE flag lists (encodeFlagsIMAP below).
var imapFlagTable = []struct {
	imap goimap.Flag
	bit  model.Flag
}{
	{goimap.FlagSeen, model.FlagSeen},
	{goimap.FlagAnswered, model.FlagAnswered},
	{goimap.FlagFlagged, model.FlagFlagged},
	{goimap.FlagDraft, model.FlagDraft},
	{goimap.FlagDeleted, model.FlagTrashed},
}

// recentFlagToken is \Recent: a standard RFC 3501 flag but one
// go-imap/v2's vocabulary table deliberately omits since it is
// server-assigned and never appears in a STORE command.
const recentFlagToken = `\Recent`

func parseFetchFlags(text string) model.Flag {
	upper := strings.ToUpper(text)
	idx := strings.Index(upper, "FLAGS (")
	if idx < 0 {
		return 0
	}
	end := strings.IndexByte(upper[idx:], ')')
	if end < 0 {
		return 0
	}
	list := text[idx+7 : idx+end]
	var flags model.Flag
	for _, tok := range strings.Fields(list) {
		if strings.EqualFold(tok, recentFlagToken) {
			flags |= model.FlagRecent
			continue
		}
		for _, e := range imapFlagTable {
			if strings.EqualFold(tok, string(e.imap)) {
				flags |= e.bit
			}
		}
	}
	return flags
}

// encodeFlagsIMAP renders flags as a parenthesized IMAP flag list
// suitable for STORE, e.g. "(\Seen \Flagged)". \Recent is never
// included: it is server-assigned and rejected by STORE.
func encodeFlagsIMAP(flags model.Flag) string {
	var toks []string
	for _, e := range imapFlagTable {
		if flags.Has(e.bit) {
			toks = append(toks, string(e.imap))
		}
	}
	return "(" + strings.Join(toks, " ") + ")"
}

// Watch arms an IDLE loop (idle.go) on a dedicated second connection,
// since RFC 3501 IDLE occupies the connection until a DONE is sent —
// original_source's "IDLE-vs-command-socket separation". IDLE is
// mailbox-scoped, so the dedicated connection SELECTs INBOX; watching
// any other folder concurrently would need its own connection, which
// spec.md's single-account Watch contract doesn't ask for.
func (c *Client) Watch(ctx context.Context, sink backend.Sink) error {
	conn, err := Dial(ctx, DialOptions{Host: c.account.Host, Port: c.account.Port, TLSMode: c.account.TLSMode})
	if err != nil {
		return err
	}
	if err := authenticate(ctx, conn, c.account); err != nil {
		conn.Close()
		return err
	}
	if !conn.Capable("IDLE") {
		conn.Close()
		return merrors.Protocol("imap", "server does not advertise IDLE", nil)
	}
	if _, err := conn.command(ctx, "SELECT INBOX"); err != nil {
		conn.Close()
		return err
	}
	loop := newIdleLoop(conn, sink, model.HashFolderName("INBOX"))
	c.idle = loop
	go loop.run(ctx)
	return nil
}

func (c *Client) Operation(ctx context.Context, token string) (backend.BodyOp, error) {
	folder, uid, err := decodeIMAPToken(token)
	if err != nil {
		return nil, err
	}
	return &imapOp{client: c, folder: folder, uid: uid}, nil
}

func (c *Client) SetFlags(ctx context.Context, bodyOp backend.BodyOp, flags model.Flag, toggle bool) error {
	return bodyOp.SetFlags(ctx, flags, toggle)
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.idle != nil {
		c.idle.stop()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

func encodeIMAPToken(folder model.FolderHash, uid int64) string {
	return fmt.Sprintf("%d:%d", folder, uid)
}

func decodeIMAPToken(token string) (model.FolderHash, int64, error) {
	parts := strings.SplitN(token, ":", 2)
	if len(parts) != 2 {
		return 0, 0, merrors.Invalid("malformed imap operation token")
	}
	f, err1 := strconv.ParseUint(parts[0], 10, 64)
	u, err2 := strconv.ParseInt(parts[1], 10, 64)
	if err1 != nil || err2 != nil {
		return 0, 0, merrors.Invalid("malformed imap operation token")
	}
	return model.FolderHash(f), u, nil
}
