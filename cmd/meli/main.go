// Command meli is the terminal mail user agent core's CLI entry
// point: a thin cobra wrapper exposing the host-API (internal/host)
// as subcommands, the way the teacher's cmd/mailserver/main.go wires
// its server loop together.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/spf13/cobra"

	"github.com/mayhemheroes/meli/internal/backend"
	"github.com/mayhemheroes/meli/internal/config"
	"github.com/mayhemheroes/meli/internal/host"
	imapbackend "github.com/mayhemheroes/meli/internal/imap"
	"github.com/mayhemheroes/meli/internal/logging"
	"github.com/mayhemheroes/meli/internal/maildir"
	"github.com/mayhemheroes/meli/internal/mime"
	"github.com/mayhemheroes/meli/internal/model"
	"github.com/mayhemheroes/meli/internal/sieve"
	"github.com/mayhemheroes/meli/internal/thread"
)

var (
	cfgFile string
	cfg     *config.Config
	log     *logging.Logger
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "meli",
	Short: "Terminal mail user agent core: Maildir/IMAP backends, threading, and sieve filtering",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "help" || cmd.Name() == "version" {
			return nil
		}

		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
		if err := cfg.EnsureMaildirDirectories(); err != nil {
			return fmt.Errorf("failed to create maildir directories: %w", err)
		}

		logger, err := logging.New(logging.Config{
			Level:  cfg.Logging.Level,
			Format: cfg.Logging.Format,
			Output: cfg.Logging.Output,
		})
		if err != nil {
			return fmt.Errorf("failed to configure logging: %w", err)
		}
		log = logger

		return nil
	},
}

// openBackend dials the backend.Backend behind acct, maildir or IMAP
// depending on its configured kind.
func openBackend(ctx context.Context, acct config.AccountConfig) (backend.Backend, error) {
	switch acct.Kind {
	case config.KindMaildir:
		return maildir.NewStore(acct.MaildirPath)
	case config.KindIMAP:
		tlsMode := "none"
		if acct.IMAP.UseTLS {
			tlsMode = "tls"
		}
		return imapbackend.NewClient(ctx, imapbackend.Account{
			Host:     acct.IMAP.Host,
			Port:     acct.IMAP.Port,
			TLSMode:  tlsMode,
			Username: acct.IMAP.Username,
			Password: acct.IMAP.Password,
		})
	default:
		return nil, fmt.Errorf("account %q: unknown kind %q", acct.Name, acct.Kind)
	}
}

// openExecutor wires the sqlite-backed sieve.Executor for accountID
// when filtering is enabled, bootstrapping its schema on first use.
func openExecutor(ctx context.Context, accountID int64) (*sieve.Executor, *sql.DB, error) {
	if !cfg.Sieve.Enabled {
		return nil, nil, nil
	}
	db, err := sql.Open("sqlite3", cfg.Sieve.DBPath)
	if err != nil {
		return nil, nil, fmt.Errorf("open sieve database: %w", err)
	}
	if err := sieve.EnsureSchema(ctx, db); err != nil {
		db.Close()
		return nil, nil, err
	}
	return sieve.NewExecutor(db), db, nil
}

// accountHost resolves name against the configured accounts, dials
// its backend, and wires a Host around it. accountID is the account's
// 1-based position in cfg.Accounts, the stable integer key sieve
// scripts and vacation responses are stored under.
func accountHost(ctx context.Context, name string) (*host.Host, func(), error) {
	acct := cfg.GetAccount(name)
	if acct == nil {
		return nil, nil, fmt.Errorf("no account named %q in config", name)
	}
	accountID := int64(indexOf(name) + 1)

	b, err := openBackend(ctx, *acct)
	if err != nil {
		return nil, nil, fmt.Errorf("connect account %q: %w", name, err)
	}

	executor, db, err := openExecutor(ctx, accountID)
	if err != nil {
		b.Close()
		return nil, nil, err
	}

	h := host.New(accountID, b, executor, log)
	cleanup := func() {
		h.Close()
		if db != nil {
			db.Close()
		}
	}
	return h, cleanup, nil
}

func indexOf(name string) int {
	for i, a := range cfg.Accounts {
		if a.Name == name {
			return i
		}
	}
	return -1
}

var mailboxCmd = &cobra.Command{
	Use:   "mailbox",
	Short: "Inspect and sync mail accounts",
}

var mailboxListCmd = &cobra.Command{
	Use:   "list",
	Short: "List an account's folders",
	RunE: func(cmd *cobra.Command, args []string) error {
		account, _ := cmd.Flags().GetString("account")
		if account == "" {
			return fmt.Errorf("--account is required")
		}

		ctx := traced(cmd.Context())
		h, cleanup, err := accountHost(ctx, account)
		if err != nil {
			return err
		}
		defer cleanup()

		tree, err := h.ListFolders(ctx)
		if err != nil {
			return fmt.Errorf("list folders: %w", err)
		}
		printFolderTree(tree)
		return nil
	},
}

// traced stamps ctx with a fresh trace ID so every log line a command
// invocation produces can be correlated, the way a long-running server
// would tag one request's whole call chain.
func traced(ctx context.Context) context.Context {
	return logging.WithTraceID(ctx, uuid.New().String())
}

func printFolderTree(tree *model.Tree) {
	var walk func(hash model.FolderHash, depth int)
	walk = func(hash model.FolderHash, depth int) {
		f, ok := tree.Get(hash)
		if !ok {
			return
		}
		marker := ""
		if f.NoSelect {
			marker = " (no-select)"
		}
		fmt.Printf("%s%s%s\n", strings.Repeat("  ", depth), f.Name, marker)
		for _, c := range f.Children {
			walk(c, depth+1)
		}
	}
	for _, r := range tree.Roots() {
		walk(r, 0)
	}
}

var mailboxSyncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Load a folder, print its threaded listing, then watch for changes until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		account, _ := cmd.Flags().GetString("account")
		folderName, _ := cmd.Flags().GetString("folder")
		if account == "" || folderName == "" {
			return fmt.Errorf("--account and --folder are required")
		}

		ctx, stop := signal.NotifyContext(traced(cmd.Context()), os.Interrupt, syscall.SIGTERM)
		defer stop()

		h, cleanup, err := accountHost(ctx, account)
		if err != nil {
			return err
		}
		defer cleanup()

		folderHash := model.HashFolderName(folderName)
		out, errc := h.LoadFolder(ctx, folderHash)
		for range out {
			// envelopes stream in; Host caches them as they arrive, so
			// printing happens once after BuildThreads below instead of
			// per-message here.
		}
		if err := <-errc; err != nil {
			return fmt.Errorf("load folder %q: %w", folderName, err)
		}

		threads := h.BuildThreads(folderHash)
		envelopes := h.Envelopes(folderHash)
		roots := threads.GroupInnerSortBy(threads.Roots(), sortKeyFromConfig(), envelopes)
		printThreads(threads, roots, envelopes)

		if cfg.Sieve.Enabled {
			applySieve(ctx, h, envelopes)
		}

		sink := backend.SinkFunc(func(ev backend.Event) {
			log.Host().InfoContext(ctx, "refresh event", "kind", ev.Kind, "folder", ev.Folder)
		})
		if err := h.SubscribeRefresh(ctx, sink); err != nil {
			return fmt.Errorf("subscribe refresh: %w", err)
		}

		<-ctx.Done()
		return nil
	},
}

func sortKeyFromConfig() thread.SortKey {
	key := thread.SortKey{Field: thread.SortDate, Order: thread.Desc}
	if cfg.Threading.SortField == "subject" {
		key.Field = thread.SortSubject
	}
	if cfg.Threading.SortOrder == "asc" {
		key.Order = thread.Asc
	}
	return key
}

func printThreads(threads *thread.Threads, roots []thread.NodeID, envelopes map[model.EnvelopeHash]*model.Envelope) {
	for _, entry := range threads.ThreadsGroupIter(roots) {
		node := threads.Node(entry.Node)
		indent := strings.Repeat("  ", entry.Indentation)
		hash, hasMsg := node.Envelope()
		if !hasMsg {
			fmt.Printf("%s(missing message)\n", indent)
			continue
		}
		e := envelopes[hash]
		if e == nil {
			continue
		}
		from := "unknown"
		if len(e.From) > 0 {
			from = e.From[0].String()
		}
		fmt.Printf("%s%s — %s (%s)\n", indent, e.Subject, from, e.Date.Format("2006-01-02 15:04"))
	}
}

// applySieve runs the account's stored script against every loaded
// envelope and logs the resulting disposition; meli has no folder-move
// or SMTP-submission primitive of its own (spec.md's non-goals), so
// fileinto/redirect/vacation actions are reported, not enacted.
func applySieve(ctx context.Context, h *host.Host, envelopes map[model.EnvelopeHash]*model.Envelope) {
	for hash, e := range envelopes {
		headerBytes, err := h.FetchHeaders(ctx, hash)
		if err != nil {
			continue
		}
		headers, _, err := mime.ParseHeaders(headerBytes)
		if err != nil {
			continue
		}
		msg := &sieve.Message{Headers: headers, Size: int64(len(headerBytes)), Date: e.Date}
		disposition, err := h.Execute(ctx, msg)
		if err != nil {
			log.Sieve().ErrorContext(ctx, "sieve execution failed", err, "message_id", e.MessageID)
			continue
		}
		log.Sieve().InfoContext(ctx, "sieve evaluated", "message_id", e.MessageID, "disposition", dispositionSummary(disposition))
	}
}

func dispositionSummary(d *sieve.Disposition) string {
	switch {
	case d.Discard:
		return "discard"
	case d.Reject != "":
		return "reject"
	case d.Vacation != nil:
		return "vacation"
	case d.FileInto != "":
		return "fileinto:" + d.FileInto
	default:
		return "keep"
	}
}

var sieveCmd = &cobra.Command{
	Use:   "sieve",
	Short: "Parse and evaluate sieve filter scripts",
}

var sieveCheckCmd = &cobra.Command{
	Use:   "check <script-file>",
	Short: "Parse a sieve script and report any error",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		content, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("read %s: %w", args[0], err)
		}
		if cfg.Sieve.MaxScriptSize > 0 && len(content) > cfg.Sieve.MaxScriptSize {
			return fmt.Errorf("%s exceeds sieve.max_script_size (%d bytes)", args[0], cfg.Sieve.MaxScriptSize)
		}
		if _, err := host.ParseSieve(string(content)); err != nil {
			return fmt.Errorf("parse error: %w", err)
		}
		fmt.Println("ok")
		return nil
	},
}

var sieveRunCmd = &cobra.Command{
	Use:   "run <script-file>",
	Short: "Evaluate a sieve script against a message file and print its disposition",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		messagePath, _ := cmd.Flags().GetString("message")
		if messagePath == "" {
			return fmt.Errorf("--message is required")
		}

		content, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("read %s: %w", args[0], err)
		}
		script, err := host.ParseSieve(string(content))
		if err != nil {
			return fmt.Errorf("parse error: %w", err)
		}

		raw, err := os.ReadFile(messagePath)
		if err != nil {
			return fmt.Errorf("read %s: %w", messagePath, err)
		}
		headers, _, err := mime.ParseHeaders(raw)
		if err != nil {
			return fmt.Errorf("parse message headers: %w", err)
		}

		account, _ := cmd.Flags().GetString("account")
		accountID := int64(0)
		if account != "" {
			accountID = int64(indexOf(account) + 1)
		}
		h := host.New(accountID, nil, nil, log)

		msg := &sieve.Message{Headers: headers, Size: int64(len(raw))}
		disposition := h.EvaluateSieve(traced(cmd.Context()), script, msg)
		fmt.Println(dispositionSummary(disposition))
		return nil
	},
}

// openStore opens the sieve script store directly, bootstrapping its
// schema, for the management subcommands below. Unlike openExecutor
// this never returns a nil store: install/list/delete open it whether
// or not sieve.enabled is set.
func openStore(ctx context.Context) (*sieve.Store, *sql.DB, error) {
	db, err := sql.Open("sqlite3", cfg.Sieve.DBPath)
	if err != nil {
		return nil, nil, fmt.Errorf("open sieve database: %w", err)
	}
	if err := sieve.EnsureSchema(ctx, db); err != nil {
		db.Close()
		return nil, nil, err
	}
	return sieve.NewStore(db), db, nil
}

var sieveInstallCmd = &cobra.Command{
	Use:   "install <script-file>",
	Short: "Store a sieve script for an account and make it the active one",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		account, _ := cmd.Flags().GetString("account")
		name, _ := cmd.Flags().GetString("name")
		if account == "" {
			return fmt.Errorf("--account is required")
		}
		pos := indexOf(account)
		if pos < 0 {
			return fmt.Errorf("no account named %q in config", account)
		}
		accountID := int64(pos + 1)

		content, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("read %s: %w", args[0], err)
		}
		if cfg.Sieve.MaxScriptSize > 0 && len(content) > cfg.Sieve.MaxScriptSize {
			return fmt.Errorf("%s exceeds sieve.max_script_size (%d bytes)", args[0], cfg.Sieve.MaxScriptSize)
		}

		ctx := traced(cmd.Context())
		store, db, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer db.Close()

		if exists, err := store.ScriptExists(ctx, accountID, name); err != nil {
			return fmt.Errorf("check existing script: %w", err)
		} else if exists {
			if err := store.UpdateScript(ctx, accountID, name, string(content)); err != nil {
				return fmt.Errorf("update script: %w", err)
			}
		} else if _, err := store.CreateScript(ctx, accountID, name, string(content)); err != nil {
			return fmt.Errorf("create script: %w", err)
		}
		if err := store.SetActiveScript(ctx, accountID, name); err != nil {
			return fmt.Errorf("activate script: %w", err)
		}
		fmt.Printf("installed %q as the active script for %q\n", name, account)
		return nil
	},
}

var sieveListCmd = &cobra.Command{
	Use:   "list",
	Short: "List an account's stored sieve scripts",
	RunE: func(cmd *cobra.Command, args []string) error {
		account, _ := cmd.Flags().GetString("account")
		if account == "" {
			return fmt.Errorf("--account is required")
		}
		accountID := int64(indexOf(account) + 1)

		ctx := traced(cmd.Context())
		store, db, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer db.Close()

		scripts, err := store.ListScripts(ctx, accountID)
		if err != nil {
			return fmt.Errorf("list scripts: %w", err)
		}
		for _, s := range scripts {
			marker := ""
			if s.IsActive {
				marker = " (active)"
			}
			fmt.Printf("%s%s\n", s.Name, marker)
		}
		count, err := store.CountScripts(ctx, accountID)
		if err != nil {
			return fmt.Errorf("count scripts: %w", err)
		}
		fmt.Printf("%d script(s)\n", count)
		return nil
	},
}

var sieveShowCmd = &cobra.Command{
	Use:   "show <name>",
	Short: "Print a stored sieve script's content",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		account, _ := cmd.Flags().GetString("account")
		if account == "" {
			return fmt.Errorf("--account is required")
		}
		accountID := int64(indexOf(account) + 1)

		ctx := traced(cmd.Context())
		store, db, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer db.Close()

		script, err := store.GetScript(ctx, accountID, args[0])
		if err != nil {
			return fmt.Errorf("get script: %w", err)
		}
		if script == nil {
			return fmt.Errorf("no script named %q for %q", args[0], account)
		}
		fmt.Print(script.Content)
		return nil
	},
}

var sieveRenameCmd = &cobra.Command{
	Use:   "rename <old-name> <new-name>",
	Short: "Rename a stored sieve script",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		account, _ := cmd.Flags().GetString("account")
		if account == "" {
			return fmt.Errorf("--account is required")
		}
		accountID := int64(indexOf(account) + 1)

		ctx := traced(cmd.Context())
		store, db, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer db.Close()

		if err := store.RenameScript(ctx, accountID, args[0], args[1]); err != nil {
			return fmt.Errorf("rename script: %w", err)
		}
		fmt.Printf("renamed %q to %q for %q\n", args[0], args[1], account)
		return nil
	},
}

var sieveDeleteCmd = &cobra.Command{
	Use:   "delete <name>",
	Short: "Delete a stored sieve script",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		account, _ := cmd.Flags().GetString("account")
		if account == "" {
			return fmt.Errorf("--account is required")
		}
		accountID := int64(indexOf(account) + 1)

		ctx := traced(cmd.Context())
		store, db, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer db.Close()

		if err := store.DeleteScript(ctx, accountID, args[0]); err != nil {
			return fmt.Errorf("delete script: %w", err)
		}
		fmt.Printf("deleted %q for %q\n", args[0], account)
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("meli v0.1.0")
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "meli.yaml", "config file path")

	mailboxListCmd.Flags().String("account", "", "account name (required)")
	mailboxSyncCmd.Flags().String("account", "", "account name (required)")
	mailboxSyncCmd.Flags().String("folder", "", "folder name (required)")
	mailboxCmd.AddCommand(mailboxListCmd)
	mailboxCmd.AddCommand(mailboxSyncCmd)
	rootCmd.AddCommand(mailboxCmd)

	sieveRunCmd.Flags().String("message", "", "path to a raw message file (required)")
	sieveRunCmd.Flags().String("account", "", "account name, used to key stored vacation state")
	sieveInstallCmd.Flags().String("account", "", "account name (required)")
	sieveInstallCmd.Flags().String("name", "default", "stored script name")
	sieveListCmd.Flags().String("account", "", "account name (required)")
	sieveShowCmd.Flags().String("account", "", "account name (required)")
	sieveRenameCmd.Flags().String("account", "", "account name (required)")
	sieveDeleteCmd.Flags().String("account", "", "account name (required)")
	sieveCmd.AddCommand(sieveCheckCmd)
	sieveCmd.AddCommand(sieveRunCmd)
	sieveCmd.AddCommand(sieveInstallCmd)
	sieveCmd.AddCommand(sieveListCmd)
	sieveCmd.AddCommand(sieveShowCmd)
	sieveCmd.AddCommand(sieveRenameCmd)
	sieveCmd.AddCommand(sieveDeleteCmd)
	rootCmd.AddCommand(sieveCmd)

	rootCmd.AddCommand(versionCmd)
}
