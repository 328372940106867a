package main

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/speedrun-hq/speedrun-relayer/pkg/circuitbreaker"
	"github.com/speedrun-hq/speedrun-relayer/pkg/config"
	"github.com/speedrun-hq/speedrun-relayer/pkg/history"
	"github.com/speedrun-hq/speedrun-relayer/pkg/intent"
	"github.com/speedrun-hq/speedrun-relayer/pkg/ledger"
	"github.com/speedrun-hq/speedrun-relayer/pkg/logger"
	"github.com/speedrun-hq/speedrun-relayer/pkg/relay"
	"github.com/speedrun-hq/speedrun-relayer/pkg/replay"
	"github.com/speedrun-hq/speedrun-relayer/pkg/server"
	"github.com/speedrun-hq/speedrun-relayer/pkg/signature"
	"github.com/speedrun-hq/speedrun-relayer/pkg/translator"
)

const dialTimeout = 30 * time.Second

var rootCmd = &cobra.Command{
	Use:   "relayer",
	Short: "Gasless intent relayer",
	Long: `Relays user-signed intents to the relay contract, paying fees from the relayer account.
Users sign a canonical encoding of the intent with an Ed25519 key; the relayer checks
expiry, nonce reuse and the signature before submitting the matching contract call.`,
	SilenceUsage: true,
	RunE:         runServe,
}

func main() {
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func registerCommands() {
	rootCmd.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the relayer API",
		RunE:  runServe,
	})
	rootCmd.AddCommand(keygenCmd())
	rootCmd.AddCommand(signCmd())
}

func runServe(cmd *cobra.Command, _ []string) error {
	// Load configuration from environment variables
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	appLogger := logger.NewStdLogger(cfg.LoggerConfig.Coloring, cfg.LoggerConfig.Level)

	// Set up context with cancellation on SIGINT/SIGTERM
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(signalCh)
	go func() {
		select {
		case <-signalCh:
			log.Println("Received termination signal, shutting down gracefully...")
			cancel()
		case <-ctx.Done():
		}
	}()

	dialCtx, dialCancel := context.WithTimeout(ctx, dialTimeout)
	client, err := ledger.Dial(dialCtx, cfg.Network.RPCURL, ledger.EVMConfig{
		PrivateKey:      cfg.PrivateKey,
		ContractAddress: cfg.ContractAddress,
		ModuleName:      cfg.ModuleName,
		GasMultiplier:   cfg.GasMultiplier,
	}, appLogger.Named("ledger"))
	dialCancel()
	if err != nil {
		return fmt.Errorf("failed to create ledger client: %w", err)
	}
	appLogger.Info("Relayer account %s on %s (contract %s)", client.Address(), cfg.Network.Name, cfg.ContractAddress)

	guard := replay.NewMemoryGuard(appLogger.Named("replay"))
	go guard.StartSweeper(ctx, cfg.ReplaySweep)

	var breaker *circuitbreaker.Breaker
	if cfg.CircuitBreaker.Enabled {
		breaker = circuitbreaker.New(circuitbreaker.Config{
			Enabled:      true,
			Threshold:    cfg.CircuitBreaker.Threshold,
			Window:       cfg.CircuitBreaker.WindowDuration,
			ResetTimeout: cfg.CircuitBreaker.ResetTimeout,
		}, appLogger.Named("breaker"))
	}

	tr := translator.New(translator.DefaultTable(), client)
	orchestrator := relay.New(relay.Deps{
		Validator:  intent.NewValidator(tr.Actions(), cfg.MaxIntentLifetime),
		Guard:      guard,
		Translator: tr,
		Ledger:     client,
		History:    history.NewRecorder(cfg.HistoryCapacity),
		Breaker:    breaker,
		Logger:     appLogger.Named("relay"),
	}, relay.Options{
		RequireKeyBinding: cfg.RequireKeyBinding,
		SettlementTimeout: cfg.SettlementTimeout,
		ExplorerURL:       cfg.Network.ExplorerURL,
	})
	if !cfg.RequireKeyBinding {
		appLogger.Notice("Key binding disabled: any key may sign for any user")
	}

	srv := server.New(server.Config{
		Port:           cfg.ServerPort,
		MetricsAPIKey:  cfg.MetricsAPIKey,
		NativeSymbol:   cfg.Network.NativeSymbol,
		NativeDecimals: cfg.Network.NativeDecimals,
	}, orchestrator, client, breaker, appLogger.Named("server"))

	return srv.Start(ctx)
}

func keygenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Generate an Ed25519 user keypair and its address",
		RunE: func(cmd *cobra.Command, _ []string) error {
			pub, priv, err := ed25519.GenerateKey(nil)
			if err != nil {
				return fmt.Errorf("failed to generate key: %w", err)
			}
			return printJSON(cmd, map[string]string{
				"privateKey": signature.EncodeHex(priv.Seed()),
				"publicKey":  signature.EncodeHex(pub),
				"address":    signature.DeriveAddress(pub),
			})
		},
	}
}

func signCmd() *cobra.Command {
	var (
		keyHex     string
		action     string
		user       string
		paramsJSON string
		nonce      string
		ttl        time.Duration
	)

	cmd := &cobra.Command{
		Use:   "sign",
		Short: "Build and sign an intent, printing the request body for /api/relay-intent",
		RunE: func(cmd *cobra.Command, _ []string) error {
			priv, err := parseUserKey(keyHex)
			if err != nil {
				return err
			}

			params := map[string]any{}
			if paramsJSON != "" {
				dec := json.NewDecoder(strings.NewReader(paramsJSON))
				dec.UseNumber()
				if err := dec.Decode(&params); err != nil {
					return fmt.Errorf("invalid --params: %w", err)
				}
			}
			if user == "" {
				user = signature.DeriveAddress(priv.Public().(ed25519.PublicKey))
			}

			p := intent.NewPayload(intent.Action(action), params, user)
			if nonce != "" {
				p.Nonce = nonce
			}
			if ttl > 0 {
				p.Expiry = time.Now().Add(ttl).Unix()
			}

			si, err := intent.Sign(p, priv)
			if err != nil {
				return err
			}
			return printJSON(cmd, si)
		},
	}

	cmd.Flags().StringVar(&keyHex, "key", os.Getenv("USER_PRIVATE_KEY"), "hex Ed25519 private key or seed (default $USER_PRIVATE_KEY)")
	cmd.Flags().StringVar(&action, "action", string(intent.ActionMintBadge), "action to authorize")
	cmd.Flags().StringVar(&user, "user", "", "user address (default derived from the key)")
	cmd.Flags().StringVar(&paramsJSON, "params", "", `action params as JSON, e.g. '{"poll_id":1,"choice":2}'`)
	cmd.Flags().StringVar(&nonce, "nonce", "", "intent nonce (default random)")
	cmd.Flags().DurationVar(&ttl, "ttl", intent.DefaultLifetime, "intent lifetime")
	return cmd
}

// parseUserKey accepts a 32-byte seed or a 64-byte private key
func parseUserKey(keyHex string) (ed25519.PrivateKey, error) {
	if keyHex == "" {
		return nil, errors.New("a user key is required (--key or USER_PRIVATE_KEY)")
	}
	raw, err := signature.DecodeHex(keyHex)
	if err != nil {
		return nil, errors.New("user key is not valid hex")
	}
	switch len(raw) {
	case ed25519.SeedSize:
		return ed25519.NewKeyFromSeed(raw), nil
	case ed25519.PrivateKeySize:
		return ed25519.PrivateKey(raw), nil
	default:
		return nil, fmt.Errorf("user key must be %d or %d bytes, got %d", ed25519.SeedSize, ed25519.PrivateKeySize, len(raw))
	}
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
