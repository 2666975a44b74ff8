package main

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"math/big"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"AAFuel/internal/account"
	"AAFuel/internal/chain/ethereum"
	"AAFuel/internal/chain/provider"
	"AAFuel/internal/config"
	"AAFuel/internal/fees"
	"AAFuel/internal/funding"
	"AAFuel/internal/journal"
	"AAFuel/pkg/logger"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/params"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatalf("aafueld failed: %v", err)
	}
}

func usage() string {
	return strings.TrimSpace(`
usage: aafueld [-config path] <command> [args]

commands:
  balances              print owner and account balances
  fund                  top up the account to the configured minimum
  send <address> <wei>  submit an operation transferring wei to address
  self <wei>            submit a self-transfer of wei
  journal [status]      list recent journal entries, optionally by status
  stats                 print journal entry counts
`)
}

func run(ctx context.Context) error {
	configPath := flag.String("config", "", "path to the JSON configuration file")
	flag.Parse()

	path := *configPath
	if path == "" {
		path = os.Getenv("AAFUEL_CONFIG")
	}
	if path == "" {
		path = filepath.Join("configs", "aafuel.json")
	}

	cfg, err := config.Load(path)
	if err != nil {
		return err
	}

	if err := logger.Init(logger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		OutputPaths: cfg.Logging.OutputPaths,
		Rotation: logger.RotationConfig{
			Enabled:    cfg.Logging.Rotation.Enabled,
			MaxSizeMB:  cfg.Logging.Rotation.MaxSizeMB,
			MaxBackups: cfg.Logging.Rotation.MaxBackups,
			MaxAgeDays: cfg.Logging.Rotation.MaxAgeDays,
		},
	}); err != nil {
		return err
	}
	defer logger.Sync()

	ownerKey, err := parseKey(cfg.Wallet.OwnerKeyHex)
	if err != nil {
		return fmt.Errorf("wallet owner key: %w", err)
	}
	sourceKey, err := parseKey(cfg.Funding.SourceKeyHex)
	if err != nil {
		return fmt.Errorf("funding source key: %w", err)
	}

	registry, err := provider.NewRegistry(ctx, cfg.Network.DefinitionsPath, sourceKey)
	if err != nil {
		return err
	}
	defer registry.Close()

	endpoint, err := registry.Endpoint(cfg.Network.Active)
	if err != nil {
		return err
	}

	store, err := openStore(cfg.Journal.Store)
	if err != nil {
		return err
	}
	defer store.Close()

	queue, err := openQueue(cfg.Journal.Queue)
	if err != nil {
		return err
	}
	defer func() {
		if err := queue.Close(); err != nil {
			log.Printf("close confirmation queue: %v", err)
		}
	}()

	recorder := journal.NewRecorder(store, queue, endpoint.Name)
	checker := ethereum.NewConfirmationChecker(endpoint.Client, endpoint.Bundler)
	poller := journal.NewPoller(store, queue, checker,
		journal.WithWorkers(cfg.Journal.Poller.Workers),
		journal.WithRecheckDelay(time.Duration(cfg.Journal.Poller.RecheckSeconds)*time.Second),
	)

	pollerCtx, pollerCancel := context.WithCancel(ctx)
	defer pollerCancel()
	go func() {
		if err := poller.Start(pollerCtx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("confirmation poller exited: %v", err)
		}
	}()

	estimator := fees.New(endpoint.Client, endpoint.Client, endpoint.Client, endpoint.Client.SignerAddress(),
		fees.WithDefaultOptions(fees.Options{
			FeeBumpGwei:         cfg.Fees.FeeBumpGwei,
			PriorityBumpPercent: cfg.Fees.PriorityBumpPercent,
			Timeout:             time.Duration(cfg.Fees.TimeoutSeconds) * time.Second,
		}))

	fundingOpts := []funding.Option{
		funding.WithTimeout(time.Duration(cfg.Funding.TimeoutSeconds) * time.Second),
	}
	if buffer, err := parseWei(cfg.Funding.BufferWei); err != nil {
		return fmt.Errorf("funding buffer: %w", err)
	} else if buffer != nil {
		fundingOpts = append(fundingOpts, funding.WithBuffer(buffer))
	}
	assurer := funding.New(endpoint.Client, estimator, endpoint.Client.SignerAddress(), fundingOpts...)

	deriver, err := account.NewDeriver(cfg.Wallet.Derivation)
	if err != nil {
		return err
	}
	minBalance, err := parseWei(cfg.Funding.MinBalanceWei)
	if err != nil {
		return fmt.Errorf("funding minimum: %w", err)
	}
	initCode, err := parseHexBytes(cfg.Wallet.InitCodeHex)
	if err != nil {
		return fmt.Errorf("wallet init code: %w", err)
	}

	orchestrator, err := account.New(account.Config{
		OwnerKey: ownerKey,
		Deriver:  deriver,
		Derivation: account.DeriveParams{
			Factory:  endpoint.Factory,
			Salt:     new(big.Int).SetUint64(cfg.Wallet.Salt),
			InitCode: initCode,
		},
		MinBalance:       minBalance,
		OperationTimeout: time.Duration(cfg.Fees.TimeoutSeconds) * time.Second,
	}, endpoint.Client, assurer, endpoint.Bundler, endpoint.Bundler, recorder)
	if err != nil {
		return err
	}
	if err := orchestrator.Initialize(ctx); err != nil {
		return err
	}

	return dispatch(ctx, orchestrator, assurer, store, minBalance, flag.Args())
}

func dispatch(ctx context.Context, orchestrator *account.Orchestrator, assurer *funding.Assurance, store journal.Store, minBalance *big.Int, args []string) error {
	if len(args) == 0 {
		return errors.New(usage())
	}

	switch args[0] {
	case "balances":
		snapshot, err := orchestrator.Balances(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("owner   %s  %s ether (%s wei)\n", snapshot.Owner.Address.Hex(), snapshot.Owner.Ether, snapshot.Owner.Wei)
		fmt.Printf("account %s  %s ether (%s wei)\n", snapshot.Account.Address.Hex(), snapshot.Account.Ether, snapshot.Account.Wei)
		return nil

	case "fund":
		address, err := orchestrator.Address()
		if err != nil {
			return err
		}
		min := minBalance
		if min == nil {
			min = defaultMinBalance()
		}
		decision, err := assurer.EnsureMinimum(ctx, address, min)
		if err != nil {
			return err
		}
		if decision.Outcome == funding.OutcomeSufficient {
			fmt.Printf("account %s already holds the minimum\n", address.Hex())
			return nil
		}
		fmt.Printf("transferred %s wei to %s (tx %s)\n", decision.Transferred, address.Hex(), decision.TxHash.Hex())
		return nil

	case "send":
		if len(args) != 3 {
			return errors.New(usage())
		}
		if !common.IsHexAddress(args[1]) {
			return fmt.Errorf("invalid destination address: %s", args[1])
		}
		amount, ok := new(big.Int).SetString(args[2], 10)
		if !ok {
			return fmt.Errorf("invalid wei amount: %s", args[2])
		}
		submission, err := orchestrator.SendTo(ctx, common.HexToAddress(args[1]), amount)
		if err != nil {
			return err
		}
		printSubmission(submission)
		return nil

	case "self":
		if len(args) != 2 {
			return errors.New(usage())
		}
		amount, ok := new(big.Int).SetString(args[1], 10)
		if !ok {
			return fmt.Errorf("invalid wei amount: %s", args[1])
		}
		submission, err := orchestrator.SendToSelf(ctx, amount)
		if err != nil {
			return err
		}
		printSubmission(submission)
		return nil

	case "journal":
		var statuses []journal.Status
		if len(args) > 1 {
			status := journal.Status(args[1])
			if !journal.IsValidStatus(status) {
				return fmt.Errorf("unknown journal status %q (want pending, confirmed or failed)", args[1])
			}
			statuses = []journal.Status{status}
		}
		return writeJournal(ctx, os.Stdout, store, statuses)

	case "stats":
		return writeStats(ctx, os.Stdout, store)

	default:
		return fmt.Errorf("unknown command %q\n%s", args[0], usage())
	}
}

func writeJournal(ctx context.Context, w io.Writer, store journal.Store, statuses []journal.Status) error {
	entries, err := store.List(ctx, journal.ListOptions{Statuses: statuses, Limit: 20})
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Fprintln(w, "journal is empty")
		return nil
	}
	for _, entry := range entries {
		fmt.Fprintf(w, "%s  %-9s %-9s %s", time.Unix(entry.UpdatedAt, 0).UTC().Format(time.RFC3339), entry.Kind, entry.Status, entry.Hash)
		if entry.ValueWei != "" {
			fmt.Fprintf(w, "  %s wei -> %s", entry.ValueWei, entry.Recipient)
		}
		if entry.Status == journal.StatusFailed && entry.LastError != "" {
			fmt.Fprintf(w, "  %s", entry.LastError)
		}
		fmt.Fprintln(w)
	}
	return nil
}

func writeStats(ctx context.Context, w io.Writer, store journal.Store) error {
	stats, err := store.Stats(ctx, journal.ListOptions{})
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "total %d  pending %d  confirmed %d  failed %d\n", stats.Total, stats.Pending, stats.Confirmed, stats.Failed)
	return nil
}

func printSubmission(s *account.Submission) {
	fmt.Printf("operation %s submitted as %s\n", s.Operation.ID, s.Handle.Hex())
	if s.Funding != nil && s.Funding.Outcome == funding.OutcomeTransferred {
		fmt.Printf("funded account with %s wei (tx %s)\n", s.Funding.Transferred, s.Funding.TxHash.Hex())
	}
	if s.Receipt != nil {
		status := "reverted"
		if s.Receipt.Success {
			status = "confirmed"
		}
		fmt.Printf("%s in block %d, gas used %d\n", status, s.Receipt.BlockNumber, s.Receipt.GasUsed)
	}
}

func defaultMinBalance() *big.Int {
	return new(big.Int).Div(big.NewInt(params.Ether), big.NewInt(100))
}

func openStore(cfg config.StoreConfig) (journal.Store, error) {
	switch cfg.Driver {
	case "", "memory":
		return journal.NewMemoryStore(), nil
	case "mysql":
		return journal.NewMySQLStore(cfg.DSN)
	default:
		return nil, fmt.Errorf("unknown journal store driver: %s", cfg.Driver)
	}
}

func openQueue(cfg config.QueueConfig) (journal.Queue, error) {
	switch cfg.Driver {
	case "", "memory":
		return journal.NewMemoryQueue(1024), nil
	case "redis":
		return journal.NewRedisQueue(journal.RedisQueueConfig{
			Address:   cfg.Redis.Address,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			Queue:     cfg.Redis.Queue,
			BlockWait: time.Duration(cfg.Redis.BlockWaitSeconds) * time.Second,
		})
	case "rabbitmq":
		return journal.NewRabbitMQQueue(journal.RabbitMQConfig{
			URL:        cfg.RabbitMQ.URL,
			Queue:      cfg.RabbitMQ.Queue,
			Prefetch:   cfg.RabbitMQ.Prefetch,
			Durable:    cfg.RabbitMQ.Durable,
			AutoDelete: cfg.RabbitMQ.AutoDelete,
		})
	default:
		return nil, fmt.Errorf("unknown confirmation queue driver: %s", cfg.Driver)
	}
}

func parseKey(hexKey string) (*ecdsa.PrivateKey, error) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(hexKey), "0x")
	if trimmed == "" {
		return nil, errors.New("private key must not be empty")
	}
	return crypto.HexToECDSA(trimmed)
}

func parseWei(value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, nil
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok || amount.Sign() < 0 {
		return nil, fmt.Errorf("invalid wei amount: %s", value)
	}
	return amount, nil
}

func parseHexBytes(value string) ([]byte, error) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(value), "0x")
	if trimmed == "" {
		return nil, nil
	}
	return hexutil.Decode("0x" + trimmed)
}
