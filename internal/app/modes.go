package app

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	s3blob "github.com/alanyoungcy/wagerwars/internal/blob/s3"
	"github.com/alanyoungcy/wagerwars/internal/command"
	"github.com/alanyoungcy/wagerwars/internal/crypto"
	"github.com/alanyoungcy/wagerwars/internal/domain"
	"github.com/alanyoungcy/wagerwars/internal/ledger"
	"github.com/alanyoungcy/wagerwars/internal/metrics"
)

// ErrCommandFailed is returned once a failed command has been printed.
var ErrCommandFailed = errors.New("command failed")

// statsInterval is how often ledger mode refreshes state gauges.
const statsInterval = 15 * time.Second

// submitted is printed by `submit`.
type submitted struct {
	EnvelopeID string `json:"envelopeId"`
	Signer     string `json:"signer"`
	Stream     string `json:"stream"`
}

func (a *App) keyConfig() crypto.KeyConfig {
	return crypto.KeyConfig{
		RawPrivateKey:    a.cfg.Wallet.PrivateKey,
		EncryptedKeyPath: a.cfg.Wallet.EncryptedKeyPath,
		KeyPassword:      a.cfg.Wallet.KeyPassword,
	}
}

// caller resolves the configured wallet address. Without a key the caller
// is empty, which is enough for read commands.
func (a *App) caller() (string, error) {
	signer, err := crypto.LoadSigner(a.keyConfig(), a.cfg.Chain.ChainID)
	if errors.Is(err, crypto.ErrNoKey) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("app: load wallet: %w", err)
	}
	return signer.Address(), nil
}

// CommandMode executes one command against the ledger as the configured
// wallet, or with `submit` signs it and queues it for the ledger processor.
func (a *App) CommandMode(ctx context.Context, deps *Dependencies) error {
	if len(a.args) == 0 || a.args[0] == "help" {
		command.Usage(a.out)
		fmt.Fprintln(a.out, "local:")
		fmt.Fprintf(a.out, "  %-28s %s\n", "submit <command> [flags]", "sign a command and queue it for the ledger processor")
		fmt.Fprintf(a.out, "  %-28s %s\n", "encrypt-key --out <file>", "seal wallet.private_key (or --generate) with wallet.key_password")
		return nil
	}
	switch a.args[0] {
	case "submit":
		return a.submit(ctx, deps, a.args[1:])
	case "encrypt-key":
		return a.encryptKey(ctx, a.args[1:])
	}

	cmd, err := command.Parse(a.args)
	if err != nil {
		return err
	}
	caller, err := a.caller()
	if err != nil {
		return err
	}

	v, err := deps.Dispatcher.Execute(ctx, caller, cmd)
	deps.Notifier.Flush(ctx)
	if err != nil {
		if wErr := command.WriteError(a.out, err); wErr != nil {
			return wErr
		}
		return fmt.Errorf("%w: %s: %w", ErrCommandFailed, cmd.Name, err)
	}
	return command.Write(a.out, v)
}

func (a *App) submit(ctx context.Context, deps *Dependencies, argv []string) error {
	if a.cfg.Redis.Addr == "" {
		return fmt.Errorf("app: submit: redis.addr must be set to reach the ledger processor")
	}
	cmd, err := command.Parse(argv)
	if err != nil {
		return err
	}
	signer, err := crypto.LoadSigner(a.keyConfig(), a.cfg.Chain.ChainID)
	if err != nil {
		return fmt.Errorf("app: submit: load wallet: %w", err)
	}

	env := domain.Envelope{
		ID:      uuid.NewString(),
		Command: cmd,
		Nonce:   uint64(time.Now().UnixNano()),
	}
	if err := signer.SignEnvelope(&env); err != nil {
		return fmt.Errorf("app: submit: %w", err)
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("app: submit: marshal envelope: %w", err)
	}

	stream := a.cfg.Ledger.CommandStream
	if err := deps.Bus.StreamAppend(ctx, stream, payload); err != nil {
		return fmt.Errorf("app: submit %s: %w", cmd.Name, err)
	}
	a.logger.InfoContext(ctx, "command submitted",
		slog.String("envelope_id", env.ID),
		slog.String("command", cmd.Name),
		slog.String("signer", env.Signer),
	)
	return command.Write(a.out, submitted{EnvelopeID: env.ID, Signer: env.Signer, Stream: stream})
}

// walletWritten is printed by `encrypt-key`.
type walletWritten struct {
	Path    string `json:"path"`
	Address string `json:"address"`
}

// encryptKey seals the configured private key, or a freshly generated one,
// into a wallet file protected by wallet.key_password.
func (a *App) encryptKey(ctx context.Context, argv []string) error {
	fs := flag.NewFlagSet("encrypt-key", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	out := fs.String("out", "", "wallet file to create")
	generate := fs.Bool("generate", false, "seal a new random key instead of wallet.private_key")
	if err := fs.Parse(argv); err != nil {
		return fmt.Errorf("%w: encrypt-key: %v", command.ErrUsage, err)
	}
	if *out == "" {
		return fmt.Errorf("%w: encrypt-key: missing --out", command.ErrUsage)
	}
	if a.cfg.Wallet.KeyPassword == "" {
		return fmt.Errorf("app: encrypt-key: wallet.key_password must be set")
	}

	key := a.cfg.Wallet.PrivateKey
	if *generate {
		var err error
		if key, err = crypto.GenerateKey(); err != nil {
			return fmt.Errorf("app: encrypt-key: %w", err)
		}
	}
	if key == "" {
		return fmt.Errorf("app: encrypt-key: %w (set wallet.private_key or pass --generate)", crypto.ErrNoKey)
	}

	addr, err := crypto.WriteKeyFile(*out, key, a.cfg.Wallet.KeyPassword)
	if err != nil {
		return fmt.Errorf("app: encrypt-key: %w", err)
	}
	a.logger.InfoContext(ctx, "wallet file written",
		slog.String("path", *out),
		slog.String("address", addr),
	)
	return command.Write(a.out, walletWritten{Path: *out, Address: addr})
}

// LedgerMode runs the command processor together with the metrics listener,
// notification delivery, gauge refresh and the periodic snapshot.
func (a *App) LedgerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting ledger mode",
		slog.String("command_stream", a.cfg.Ledger.CommandStream),
		slog.Int64("chain_id", a.cfg.Chain.ChainID),
	)

	proc := ledger.NewProcessor(ledger.Deps{
		Bus:      deps.Bus,
		Locks:    deps.Locks,
		Limiter:  deps.Limiter,
		Executor: deps.Dispatcher,
		Verifier: crypto.NewVerifier(a.cfg.Chain.ChainID),
		Chain:    deps.Engine.Chain,
		Observer: deps.Metrics,
		Logger:   a.logger,
	}, ledger.Config{
		CommandStream: a.cfg.Ledger.CommandStream,
		ResultStream:  a.cfg.Ledger.ResultStream,
		LeaderKey:     a.cfg.Ledger.LeaderKey,
		BatchSize:     a.cfg.Ledger.BatchSize,
		PollInterval:  a.cfg.Ledger.PollInterval.Duration,
		DedupTTL:      a.cfg.Ledger.DedupTTL.Duration,
		LeaderTTL:     a.cfg.Ledger.LeaderTTL.Duration,
		RateLimit:     a.cfg.Ledger.RateLimit,
		RateWindow:    a.cfg.Ledger.RateWindow.Duration,
		BlockInterval: a.cfg.Chain.BlockInterval.Duration,
	})

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return proc.Run(ctx) })
	g.Go(func() error { return a.refreshGauges(ctx, deps) })

	if a.cfg.Metrics.Enabled {
		g.Go(func() error { return a.serveMetrics(ctx) })
	}
	if deps.Notifier.Enabled() {
		g.Go(func() error { return deps.Notifier.Run(ctx) })
	}
	if deps.Blob != nil && a.cfg.Ledger.SnapshotInterval.Duration > 0 {
		g.Go(func() error { return a.snapshotLoop(ctx, deps) })
	}

	return g.Wait()
}

func (a *App) serveMetrics(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	srv := &http.Server{
		Addr:              a.cfg.Metrics.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	a.logger.InfoContext(ctx, "metrics listener started", slog.String("addr", a.cfg.Metrics.Addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("app: metrics listener: %w", err)
	}
	return nil
}

func (a *App) refreshGauges(ctx context.Context, deps *Dependencies) error {
	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()
	for {
		stats, err := deps.Engine.Vault.GetVaultStats(ctx)
		if err != nil {
			a.logger.WarnContext(ctx, "vault stats failed", slog.String("error", err.Error()))
		} else {
			deps.Metrics.SetVaultLocked(stats.TotalLocked)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (a *App) snapshotLoop(ctx context.Context, deps *Dependencies) error {
	ticker := time.NewTicker(a.cfg.Ledger.SnapshotInterval.Duration)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := deps.Engine.Snapshots.Export(ctx); err != nil {
				a.logger.WarnContext(ctx, "periodic snapshot failed", slog.String("error", err.Error()))
			}
		}
	}
}

// SnapshotMode runs one snapshot action: export (default), latest,
// restore <key|latest> or archive <marketId>.
func (a *App) SnapshotMode(ctx context.Context, deps *Dependencies) error {
	if deps.Blob == nil {
		return fmt.Errorf("app: snapshot mode needs s3.bucket")
	}
	action := "export"
	if len(a.args) > 0 {
		action = a.args[0]
	}
	snaps := deps.Engine.Snapshots

	switch action {
	case "export":
		key, err := snaps.Export(ctx)
		if err != nil {
			return err
		}
		return command.Write(a.out, map[string]string{"key": key})

	case "latest":
		key, ok, err := snaps.Latest(ctx)
		if err != nil {
			return err
		}
		return command.Write(a.out, map[string]any{"key": key, "found": ok})

	case "restore":
		if len(a.args) != 2 {
			return fmt.Errorf("%w: snapshot restore <key|latest>", command.ErrUsage)
		}
		key := a.args[1]
		if key == "latest" {
			latest, ok, err := snaps.Latest(ctx)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("app: snapshot restore: no snapshots stored")
			}
			key = latest
		}
		snap, err := snaps.Load(ctx, key)
		if err != nil {
			return err
		}
		return command.Write(a.out, map[string]any{"key": key, "height": snap.Height, "markets": len(snap.Markets)})

	case "archive":
		if len(a.args) != 2 {
			return fmt.Errorf("%w: snapshot archive <marketId>", command.ErrUsage)
		}
		id, err := strconv.ParseUint(a.args[1], 10, 64)
		if err != nil {
			return fmt.Errorf("%w: market id %q: %v", command.ErrUsage, a.args[1], err)
		}
		archiver := s3blob.NewArchiver(deps.Blob, deps.Engine.Orders, deps.Audit, a.logger)
		path, n, err := archiver.ArchiveMarket(ctx, id)
		if err != nil {
			return err
		}
		return command.Write(a.out, map[string]any{"path": path, "trades": n})

	default:
		return fmt.Errorf("%w: unknown snapshot action %q (export, latest, restore, archive)", command.ErrUsage, action)
	}
}
