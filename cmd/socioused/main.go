package main

import (
	"encoding/hex"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/socious-io/socious-smart-contracts/config"
	"github.com/socious-io/socious-smart-contracts/core/events"
	"github.com/socious-io/socious-smart-contracts/core/genesis"
	"github.com/socious-io/socious-smart-contracts/core/state"
	"github.com/socious-io/socious-smart-contracts/crypto"
	"github.com/socious-io/socious-smart-contracts/native/common"
	"github.com/socious-io/socious-smart-contracts/native/donation"
	"github.com/socious-io/socious-smart-contracts/native/escrow"
	"github.com/socious-io/socious-smart-contracts/native/income"
	"github.com/socious-io/socious-smart-contracts/native/lending"
	"github.com/socious-io/socious-smart-contracts/native/token"
	"github.com/socious-io/socious-smart-contracts/observability/logging"
	"github.com/socious-io/socious-smart-contracts/observability/metrics"
	"github.com/socious-io/socious-smart-contracts/rpc"
	"github.com/socious-io/socious-smart-contracts/storage"
)

const rpcTokenEnv = "SOCIOUS_RPC_TOKEN"

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	genesisFlag := flag.String("genesis", "", "Path to the genesis YAML file (overrides config GenesisFile)")
	memoryFlag := flag.Bool("memory", false, "DEV ONLY: keep all state in memory instead of the data directory")
	genAccountFlag := flag.Bool("genaccount", false, "Generate a new account keypair, print it and exit")
	addressOfFlag := flag.String("address-of", "", "Print the address for a hex-encoded private key and exit")
	flag.Parse()

	if *genAccountFlag {
		if err := printNewAccount(); err != nil {
			fmt.Fprintf(os.Stderr, "failed to generate account: %v\n", err)
			os.Exit(1)
		}
		return
	}
	if *addressOfFlag != "" {
		if err := printAddressOf(*addressOfFlag); err != nil {
			fmt.Fprintf(os.Stderr, "failed to derive address: %v\n", err)
			os.Exit(1)
		}
		return
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.Setup("socioused", logging.Options{
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
	})

	genesisPath := strings.TrimSpace(*genesisFlag)
	if genesisPath == "" {
		genesisPath = strings.TrimSpace(cfg.GenesisFile)
	}
	if genesisPath == "" {
		logger.Error("no genesis file configured")
		os.Exit(1)
	}
	spec, err := genesis.LoadSpec(genesisPath)
	if err != nil {
		logger.Error("failed to load genesis", "error", err)
		os.Exit(1)
	}

	var db storage.Database
	if *memoryFlag {
		db = storage.NewMemDB()
	} else {
		db, err = storage.NewLevelDB(filepath.Join(cfg.DataDir, "state"))
		if err != nil {
			logger.Error("failed to open state database", "error", err)
			os.Exit(1)
		}
	}
	defer db.Close()

	owner := spec.OwnerAddress()
	vault := spec.VaultAddress()

	registry := token.NewRegistry(owner)
	book := token.NewBook()
	if err := genesis.Apply(spec, registry, book); err != nil {
		logger.Error("failed to apply genesis", "error", err)
		os.Exit(1)
	}

	sink := income.New(owner, vault, book)
	if spec.BeneficiaryAddress() != owner {
		if err := sink.SetBeneficiary(owner, spec.BeneficiaryAddress()); err != nil {
			logger.Error("failed to set income beneficiary", "error", err)
			os.Exit(1)
		}
	}

	manager := state.NewManager(db)
	pauses := common.NewPauses(owner)
	emitter := events.Tee{metrics.NewEmitter(metrics.Engine())}

	escrowEngine := escrow.NewEngine(owner, vault, registry, book, sink)
	escrowEngine.SetState(manager)
	escrowEngine.SetPauses(pauses)
	escrowEngine.SetEmitter(emitter)

	lendingEngine := lending.NewEngine(owner, vault, registry, book)
	lendingEngine.SetState(manager)
	lendingEngine.SetPauses(pauses)
	lendingEngine.SetEmitter(emitter)
	lendingEngine.SetSchedule(cfg.Lending.Rounds, cfg.Lending.InterestBps)

	donationEngine := donation.NewEngine(owner, vault, registry, book, sink)
	donationEngine.SetState(manager)
	donationEngine.SetPauses(pauses)
	donationEngine.SetEmitter(emitter)
	if cfg.Donation.FeeBps != donationEngine.Fee() {
		if err := donationEngine.SetFee(owner, cfg.Donation.FeeBps); err != nil {
			logger.Error("failed to configure donation fee", "error", err)
			os.Exit(1)
		}
	}

	authToken := strings.TrimSpace(os.Getenv(rpcTokenEnv))
	if authToken == "" {
		authToken = strings.TrimSpace(cfg.RPCAuthToken)
	}
	if authToken == "" {
		logger.Warn("no RPC auth token configured; privileged methods are disabled")
	}

	server := rpc.NewServer(rpc.Engines{
		Escrow:   escrowEngine,
		Lending:  lendingEngine,
		Donation: donationEngine,
		Sink:     sink,
		Registry: registry,
		Pauses:   pauses,
	}, authToken, logger)

	logger.Info("node ready",
		"tokens", registry.Len(),
		"rpc", cfg.RPCAddress,
		logging.MaskField("authToken", authToken),
	)
	if err := server.Start(cfg.RPCAddress); err != nil {
		logger.Error("RPC server stopped", "error", err)
		os.Exit(1)
	}
}

// printNewAccount generates a fresh secp256k1 keypair for local genesis and
// testing setups.
func printNewAccount() error {
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return err
	}
	fmt.Printf("address:     %s\n", key.PubKey().Address().String())
	fmt.Printf("private key: %x\n", key.Bytes())
	return nil
}

func printAddressOf(hexKey string) error {
	raw, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
	if err != nil {
		return err
	}
	key, err := crypto.PrivateKeyFromBytes(raw)
	if err != nil {
		return err
	}
	fmt.Printf("address: %s\n", key.PubKey().Address().String())
	return nil
}
