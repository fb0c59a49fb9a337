// Copyright 2025-2026, Tessera Labs, Inc.
// For license information, see https://github.com/tesseralabs/arbiter/blob/master/LICENSE.md

package main

import (
	"context"
	"fmt"
	"math/big"
	"os"
	"os/signal"
	"path"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/rawdb"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/ethdb"
	"github.com/ethereum/go-ethereum/log"
	"github.com/redis/go-redis/v9"
	flag "github.com/spf13/pflag"

	"github.com/tesseralabs/arbiter/bindings"
	"github.com/tesseralabs/arbiter/cmd/conf"
	"github.com/tesseralabs/arbiter/cmd/genericconf"
	cmdutil "github.com/tesseralabs/arbiter/cmd/util"
	"github.com/tesseralabs/arbiter/cmd/util/confighelpers"
	"github.com/tesseralabs/arbiter/ledger"
	"github.com/tesseralabs/arbiter/oracle"
	"github.com/tesseralabs/arbiter/proposer"
	"github.com/tesseralabs/arbiter/protocol"
	"github.com/tesseralabs/arbiter/proving"
	"github.com/tesseralabs/arbiter/submitter"
	"github.com/tesseralabs/arbiter/util/headerreader"
	"github.com/tesseralabs/arbiter/util/redisutil"
	"github.com/tesseralabs/arbiter/util/rpcclient"
	"github.com/tesseralabs/arbiter/validator"
)

func printSampleUsage(name string) {
	fmt.Printf("Sample usage: %s --parent-chain.url=<L1 RPC url> --parent-chain.factory=<address> --rollup.connection.url=<rollup RPC url> --persistent.chain=<dir> \n", name)
}

func main() {
	os.Exit(mainImpl())
}

// Returns the exit code
func mainImpl() int {
	ctx, cancelFunc := context.WithCancel(context.Background())
	defer cancelFunc()

	args := os.Args[1:]
	nodeConfig, l1Wallet, err := ParseNode(ctx, args)
	if err != nil {
		confighelpers.PrintErrorAndExit(err, printSampleUsage)
	}
	err = nodeConfig.ResolveDirectoryNames()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error resolving directory names: %v\n", err)
		return 1
	}

	pathResolver := genericconf.DefaultPathResolver(nodeConfig.Persistent.LogDir)
	err = genericconf.InitLog(nodeConfig.LogType, nodeConfig.LogLevel, &nodeConfig.FileLogging, pathResolver)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing logging: %v\n", err)
		return 1
	}

	vcsRevision, vcsTime := confighelpers.GetVersion()
	log.Info("Running Tessera arbiter node", "revision", vcsRevision, "vcs.time", vcsTime)

	err = cmdutil.StartMetricsAndPProf(&cmdutil.MetricsPProfOpts{
		Metrics:       nodeConfig.Metrics,
		MetricsServer: nodeConfig.MetricsServer,
		PProf:         nodeConfig.PProf,
		PprofCfg:      nodeConfig.PprofCfg,
	})
	if err != nil {
		log.Error("Error starting metrics", "error", err)
		return 1
	}

	liveNodeConfig := cmdutil.NewLiveConfig[*ArbiterConfig](args, nodeConfig, func(ctx context.Context, args []string) (*ArbiterConfig, error) {
		nodeConfig, _, err := ParseNode(ctx, args)
		return nodeConfig, err
	})
	liveNodeConfig.SetOnReloadHook(func(oldCfg *ArbiterConfig, newCfg *ArbiterConfig) error {
		return genericconf.InitLog(newCfg.LogType, newCfg.LogLevel, &newCfg.FileLogging, pathResolver)
	})

	fatalErrChan := make(chan error, 10)

	l1Client, l1ChainId, err := dialParentChain(ctx, &nodeConfig.ParentChain)
	if err != nil {
		log.Error("error connecting to parent chain", "url", nodeConfig.ParentChain.URL, "err", err)
		return 1
	}
	if nodeConfig.ParentChain.ID != 0 && l1ChainId.Uint64() != nodeConfig.ParentChain.ID {
		log.Crit("parent chain chainID doesn't fit config", "found", l1ChainId, "expected", nodeConfig.ParentChain.ID)
	}
	log.Info("connected to parent chain", "url", nodeConfig.ParentChain.URL, "chainid", l1ChainId)

	validatorNeedsKey := nodeConfig.Validator.Enable && !strings.EqualFold(nodeConfig.Validator.Mode, "watchtower")
	needsKey := nodeConfig.Proposer.Enable || validatorNeedsKey

	l1Wallet.ResolveDirectoryNames(nodeConfig.Persistent.Chain)
	var l1TransactionOpts *bind.TransactOpts
	if needsKey || l1Wallet.OnlyCreateKey {
		l1TransactionOpts, err = cmdutil.OpenWallet("parent-chain", l1Wallet, l1ChainId)
		if err != nil {
			flag.Usage()
			log.Crit("error opening parent chain wallet", "path", l1Wallet.Pathname, "account", l1Wallet.Account, "err", err)
		}
	}

	var txSubmitter *submitter.Submitter[protocol.TxMeta]
	if l1TransactionOpts != nil {
		var queueDb ethdb.Database
		var redisClient redis.UniversalClient
		switch nodeConfig.Submitter.Storage {
		case submitter.LevelDBStorage:
			queueDb, err = rawdb.NewLevelDBDatabase(path.Join(nodeConfig.Persistent.Chain, "submitter-queue"), 0, 0, "arbiter/db/submitterqueue/", false)
			if err != nil {
				log.Error("error opening submitter queue database", "err", err)
				return 1
			}
			defer queueDb.Close()
		case submitter.RedisStorage:
			redisClient, err = redisutil.RedisClientFromURL(nodeConfig.Submitter.RedisUrl)
			if err != nil {
				log.Error("error connecting to submitter queue redis", "err", err)
				return 1
			}
		}
		txSubmitter, err = submitter.NewSubmitter[protocol.TxMeta](l1Client, l1TransactionOpts, queueDb, redisClient, &nodeConfig.Submitter)
		if err != nil {
			log.Error("error creating transaction submitter", "err", err)
			return 1
		}
		if err := txSubmitter.Initialize(ctx); err != nil {
			log.Error("error initializing transaction submitter", "err", err)
			return 1
		}
		txSubmitter.Start(ctx)
		defer txSubmitter.StopAndWait()
		log.Info("transaction submitter running", "from", txSubmitter.From(), "storage", nodeConfig.Submitter.Storage)
	}

	l1Reader, err := headerreader.New(l1Client, func() *headerreader.Config { return &liveNodeConfig.Get().L1Reader })
	if err != nil {
		log.Error("error creating parent chain header reader", "err", err)
		return 1
	}
	l1Reader.Start(ctx)
	defer l1Reader.StopAndWait()

	factoryAddress := common.HexToAddress(nodeConfig.ParentChain.Factory)
	gameFilterer := bindings.NewFilterer(factoryAddress, l1Client)
	gameFactory := bindings.NewFactory(factoryAddress, l1Client, bind.CallOpts{})

	gameLedger := ledger.New()
	ledgerWatcher := ledger.NewWatcher(gameLedger, gameFilterer, l1Reader, func() *ledger.WatcherConfig { return &liveNodeConfig.Get().Watcher })
	ledgerWatcher.SetFatalErrChan(fatalErrChan)
	if nodeConfig.Watcher.Enable {
		ledgerWatcher.Start(ctx)
		defer ledgerWatcher.StopAndWait()
		log.Info("syncing game ledger from factory logs", "factory", factoryAddress)
		if err := ledgerWatcher.WaitCaughtUp(ctx); err != nil {
			log.Error("error syncing game ledger", "err", err)
			return 1
		}
		log.Info("game ledger caught up", "games", gameLedger.GameCount())
	}

	var outputProvider oracle.OutputProvider
	if nodeConfig.Proposer.Enable || nodeConfig.Validator.Enable {
		rollupClient := oracle.NewRollupClient(func() *rpcclient.ClientConfig { return &liveNodeConfig.Get().Rollup.Connection }, nil)
		if err := rollupClient.Start(ctx); err != nil {
			log.Error("error connecting to rollup node", "url", nodeConfig.Rollup.Connection.URL, "err", err)
			return 1
		}
		defer rollupClient.StopAndWait()
		outputProvider = rollupClient
		if nodeConfig.Rollup.Cache.Enable {
			cachedProvider, err := oracle.NewCachedProvider(rollupClient, nodeConfig.Rollup.Cache)
			if err != nil {
				log.Error("error creating output root cache", "err", err)
				return 1
			}
			defer func() { _ = cachedProvider.Close() }()
			outputProvider = cachedProvider
		}
	}

	var proofBackend proving.Backend
	var artifacts *proving.ArtifactStore
	if nodeConfig.validatorNeedsProofs() {
		proofBackend, err = proving.CreateBackend(ctx, &nodeConfig.Proving)
		if err != nil {
			log.Error("error creating proof backend", "backend", nodeConfig.Proving.Backend, "err", err)
			return 1
		}
		if stoppable, ok := proofBackend.(interface{ StopAndWait() }); ok {
			defer stoppable.StopAndWait()
		}
		artifacts, err = proving.NewArtifactStore(ctx, nodeConfig.Proving.ArtifactDir, nodeConfig.Proving.S3Mirror)
		if err != nil {
			log.Error("error opening proof artifact store", "dir", nodeConfig.Proving.ArtifactDir, "err", err)
			return 1
		}
	}

	if nodeConfig.Proposer.Enable {
		gameProposer, err := proposer.New(gameLedger, outputProvider, gameFactory, txSubmitter, func() *proposer.Config { return &liveNodeConfig.Get().Proposer })
		if err != nil {
			log.Error("error creating proposer", "err", err)
			return 1
		}
		gameProposer.Start(ctx)
		defer gameProposer.StopAndWait()
		log.Info("proposer running", "interval", nodeConfig.Proposer.Interval)
	}

	if nodeConfig.Validator.Enable {
		var valSubmitter validator.TxSubmitter
		if txSubmitter != nil {
			valSubmitter = txSubmitter
		}
		gameValidator, err := validator.New(gameLedger, outputProvider, gameFactory, valSubmitter, proofBackend, artifacts, func() *validator.Config { return &liveNodeConfig.Get().Validator })
		if err != nil {
			log.Error("error creating validator", "err", err)
			return 1
		}
		gameValidator.Start(ctx)
		defer gameValidator.StopAndWait()
		log.Info("validator running", "mode", nodeConfig.Validator.Mode)
	}

	liveNodeConfig.Start(ctx)
	defer liveNodeConfig.StopAndWait()

	sigint := make(chan os.Signal, 1)
	signal.Notify(sigint, os.Interrupt, syscall.SIGTERM)

	exitCode := 0
	select {
	case err := <-fatalErrChan:
		log.Error("shutting down due to fatal error", "err", err)
		defer log.Error("shut down due to fatal error", "err", err)
		exitCode = 1
	case <-sigint:
		log.Info("shutting down because of sigint")
	}

	// cause future ctrl+c's to panic
	close(sigint)

	return exitCode
}

// dialParentChain connects to the parent chain RPC, retrying once per second
// until the configured number of attempts is exhausted.
func dialParentChain(ctx context.Context, config *conf.ParentChainConfig) (*ethclient.Client, *big.Int, error) {
	var lastErr error
	for attempt := 0; config.ConnectionAttempts <= 0 || attempt < config.ConnectionAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, nil, ctx.Err()
			case <-time.After(time.Second):
			}
		}
		client, err := ethclient.DialContext(ctx, config.URL)
		if err == nil {
			chainId, err := client.ChainID(ctx)
			if err == nil {
				return client, chainId, nil
			}
			client.Close()
			lastErr = err
		} else {
			lastErr = err
		}
		log.Warn("failed to connect to parent chain, retrying", "attempt", attempt+1, "err", lastErr)
	}
	return nil, nil, lastErr
}
