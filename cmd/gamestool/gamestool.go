// Copyright 2025-2026, Tessera Labs, Inc.
// For license information, see https://github.com/tesseralabs/arbiter/blob/master/LICENSE.md

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/rawdb"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/log"
	flag "github.com/spf13/pflag"

	"github.com/tesseralabs/arbiter/bindings"
	"github.com/tesseralabs/arbiter/cmd/genericconf"
	"github.com/tesseralabs/arbiter/cmd/util/confighelpers"
	"github.com/tesseralabs/arbiter/ledger"
	"github.com/tesseralabs/arbiter/protocol"
	"github.com/tesseralabs/arbiter/proving"
	"github.com/tesseralabs/arbiter/submitter"
	"github.com/tesseralabs/arbiter/submitter/leveldb"
	redisstorage "github.com/tesseralabs/arbiter/submitter/redis"
	"github.com/tesseralabs/arbiter/submitter/storage"
	"github.com/tesseralabs/arbiter/util"
	"github.com/tesseralabs/arbiter/util/chk"
	"github.com/tesseralabs/arbiter/util/ethutil"
	"github.com/tesseralabs/arbiter/util/gzip"
	chainifaces "github.com/tesseralabs/arbiter/util/interfaces"
	"github.com/tesseralabs/arbiter/util/jsonapi"
	"github.com/tesseralabs/arbiter/util/pretty"
	"github.com/tesseralabs/arbiter/util/redisutil"
	"github.com/tesseralabs/arbiter/util/retry"
	"github.com/tesseralabs/arbiter/util/s3syncer"
	"github.com/tesseralabs/arbiter/util/signature"
)

func main() {
	args := os.Args
	if len(args) < 2 {
		panic("Usage: gamestool [dump|export|fetch|artifact|anchor] ...")
	}

	fileLogging := genericconf.DefaultFileLoggingConfig
	fileLogging.Enable = false
	if err := genericconf.InitLog("plaintext", "INFO", &fileLogging, nil); err != nil {
		panic(err)
	}

	var err error
	switch strings.ToLower(args[1]) {
	case "dump":
		err = startDump(args[2:])
	case "export":
		err = startExport(args[2:])
	case "fetch":
		err = startFetch(args[2:])
	case "artifact":
		err = startArtifact(args[2:])
	case "anchor":
		err = startAnchor(args[2:])
	case "queue":
		err = startQueue(args[2:])
	default:
		panic(fmt.Sprintf("Unknown tool '%s' specified, valid tools are 'dump', 'export', 'fetch', 'artifact', 'anchor', 'queue'", args[1]))
	}
	if err != nil {
		panic(err)
	}
}

// gamestool dump

type ScanConfig struct {
	L1URL     string `koanf:"l1-url"`
	Factory   string `koanf:"factory"`
	FromBlock uint64 `koanf:"from-block"`
	ToBlock   uint64 `koanf:"to-block"`
	Chunk     uint64 `koanf:"chunk"`
}

func addScanOptions(f *flag.FlagSet) {
	f.String("l1-url", "", "URL of the parent chain RPC.")
	f.String("factory", "", "Address of the dispute-game factory contract.")
	f.Uint64("from-block", 0, "First parent chain block to scan factory logs from.")
	f.Uint64("to-block", 0, "Last parent chain block to scan (0 means the latest).")
	f.Uint64("chunk", 10000, "Number of blocks per get-logs query.")
}

func (c *ScanConfig) Validate() error {
	if c.L1URL == "" {
		return fmt.Errorf("--l1-url is required")
	}
	if c.Factory == "" {
		return fmt.Errorf("--factory is required")
	}
	if _, err := chk.NewPos64(c.Chunk); err != nil {
		return fmt.Errorf("--chunk: %w", err)
	}
	return nil
}

func parseScanConfig(args []string) (*ScanConfig, error) {
	f := flag.NewFlagSet("scan", flag.ContinueOnError)
	addScanOptions(f)

	k, err := confighelpers.BeginCommonParse(f, args)
	if err != nil {
		return nil, err
	}

	var config ScanConfig
	if err := confighelpers.EndCommonParse(k, &config); err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// scanLedger rebuilds a game ledger from factory logs, the same ingestion
// the node's watcher performs, minus the reorg tracking a one-shot scan of
// finalized history does not need.
func scanLedger(ctx context.Context, client chainifaces.EthereumReader, config *ScanConfig) (*ledger.Ledger, error) {
	toBlock := config.ToBlock
	if toBlock == 0 {
		latest, err := client.BlockNumber(ctx)
		if err != nil {
			return nil, err
		}
		toBlock = latest
	}

	filterer := bindings.NewFilterer(common.HexToAddress(config.Factory), client)
	gameLedger := ledger.New()
	chunk := chk.MustPos64(config.Chunk).Val()
	for from := config.FromBlock; from <= toBlock; from += chunk {
		to := from + chunk - 1
		if to > toBlock {
			to = toBlock
		}
		// Historical scans are long enough that a transient RPC failure
		// should not throw away the chunks already ingested.
		evs, err := retry.UntilSucceeds(ctx, func() ([]protocol.GameEvent, error) {
			return filterer.FilterGameEvents(ctx, from, to)
		}, retry.WithInterval(time.Second))
		if err != nil {
			return nil, err
		}
		for start := 0; start < len(evs); {
			block := evs[start].Header().Block
			end := start + 1
			for end < len(evs) && evs[end].Header().Block.Hash == block.Hash {
				end++
			}
			parent := common.Hash{}
			if last, ok := gameLedger.LastIngested(); ok {
				parent = last.Hash
			}
			if err := gameLedger.IngestBlock(block, parent, evs[start:end]); err != nil {
				return nil, err
			}
			start = end
		}
	}
	return gameLedger, nil
}

func startDump(args []string) error {
	config, err := parseScanConfig(args)
	if err != nil {
		return err
	}
	ctx := context.Background()
	var client chainifaces.EthereumReader
	client, err = ethclient.DialContext(ctx, config.L1URL)
	if err != nil {
		return err
	}
	defer client.Close()

	gameLedger, err := scanLedger(ctx, client, config)
	if err != nil {
		return err
	}

	view := gameLedger.CanonicalView()
	canonicalIDs := make([]protocol.GameID, 0, len(view.Canonical))
	for _, g := range view.Canonical {
		canonicalIDs = append(canonicalIDs, g.ID)
	}
	canonical := util.ArrayToSet(canonicalIDs)

	fmt.Printf("games: %d, ledger version: %d\n", gameLedger.GameCount(), view.Version)
	for id := protocol.GameID(0); id < protocol.GameID(gameLedger.GameCount()); id++ {
		game := gameLedger.Game(id)
		if game == nil {
			continue
		}
		marker := " "
		if _, ok := canonical[game.ID]; ok {
			marker = "*"
		}
		parent := "none"
		if game.HasParent() {
			parent = game.ParentID.String()
		}
		fmt.Printf("%s game %v parent=%s l2Block=%d status=%v proposer=%v root=%v bond=%v deadline=%d\n",
			marker, game.ID, parent, game.L2BlockNumber, game.Status, game.Proposer, game.OutputRoot, game.Bond, game.Deadline)
	}
	if tip := view.Tip(); tip != nil {
		fmt.Printf("canonical tip: game %v at l2 block %d\n", tip.ID, tip.L2BlockNumber)
	}
	return nil
}

// gamestool export

// exportedGame is the snapshot wire format. Numbers ride as strings so the
// snapshot survives JSON tooling that mangles large integers.
type exportedGame struct {
	ID            jsonapi.Uint64String  `json:"id"`
	ParentID      *jsonapi.Uint64String `json:"parentId,omitempty"`
	OutputRoot    common.Hash           `json:"outputRoot"`
	L2BlockNumber jsonapi.Uint64String  `json:"l2BlockNumber"`
	Proposer      common.Address        `json:"proposer"`
	Status        string                `json:"status"`
	Bond          string                `json:"bond"`
	Deadline      jsonapi.Uint64String  `json:"deadline"`
	Canonical     bool                  `json:"canonical"`
}

type exportedSnapshot struct {
	Factory   common.Address       `json:"factory"`
	ScannedTo jsonapi.Uint64String `json:"scannedTo"`
	Games     []exportedGame       `json:"games"`
}

func startExport(args []string) error {
	f := flag.NewFlagSet("export", flag.ContinueOnError)
	addScanOptions(f)
	f.String("out", "games.json.gz", "File to write the gzipped snapshot to.")

	k, err := confighelpers.BeginCommonParse(f, args)
	if err != nil {
		return err
	}
	var config struct {
		ScanConfig `koanf:",squash"`
		Out        string `koanf:"out"`
	}
	if err := confighelpers.EndCommonParse(k, &config); err != nil {
		return err
	}
	if err := config.ScanConfig.Validate(); err != nil {
		return err
	}

	ctx := context.Background()
	var client chainifaces.EthereumReader
	client, err = ethclient.DialContext(ctx, config.L1URL)
	if err != nil {
		return err
	}
	defer client.Close()

	gameLedger, err := scanLedger(ctx, client, &config.ScanConfig)
	if err != nil {
		return err
	}

	view := gameLedger.CanonicalView()
	canonicalIDs := make([]protocol.GameID, 0, len(view.Canonical))
	for _, g := range view.Canonical {
		canonicalIDs = append(canonicalIDs, g.ID)
	}
	canonical := util.ArrayToSet(canonicalIDs)

	snapshot := exportedSnapshot{Factory: common.HexToAddress(config.Factory)}
	if last, ok := gameLedger.LastIngested(); ok {
		snapshot.ScannedTo = jsonapi.Uint64String(last.Number)
	}
	for id := protocol.GameID(0); id < protocol.GameID(gameLedger.GameCount()); id++ {
		game := gameLedger.Game(id)
		if game == nil {
			continue
		}
		_, isCanonical := canonical[game.ID]
		exported := exportedGame{
			ID:            jsonapi.Uint64String(game.ID),
			OutputRoot:    game.OutputRoot,
			L2BlockNumber: jsonapi.Uint64String(game.L2BlockNumber),
			Proposer:      game.Proposer,
			Status:        game.Status.String(),
			Bond:          game.Bond.String(),
			Deadline:      jsonapi.Uint64String(game.Deadline),
			Canonical:     isCanonical,
		}
		if game.HasParent() {
			parent := jsonapi.Uint64String(game.ParentID)
			exported.ParentID = &parent
		}
		snapshot.Games = append(snapshot.Games, exported)
	}

	encoded, err := json.Marshal(&snapshot)
	if err != nil {
		return err
	}
	compressed, err := gzip.CompressGzip(encoded)
	if err != nil {
		return err
	}
	if err := os.WriteFile(config.Out, compressed, 0600); err != nil {
		return err
	}
	fmt.Printf("wrote %d games (%d bytes compressed) to %s\n", len(snapshot.Games), len(compressed), config.Out)
	return nil
}

// gamestool fetch

// startFetch downloads a snapshot previously written by 'gamestool export'
// and uploaded to S3, and prints its summary.
func startFetch(args []string) error {
	f := flag.NewFlagSet("fetch", flag.ContinueOnError)
	f.String("access-key", "", "S3 access key.")
	f.String("secret-key", "", "S3 secret key.")
	f.String("region", "", "S3 region.")
	f.String("bucket", "", "S3 bucket holding the snapshot.")
	f.String("object-key", "", "S3 object key of the snapshot.")
	f.String("out", "", "File to write the fetched snapshot to (empty prints a summary only).")

	k, err := confighelpers.BeginCommonParse(f, args)
	if err != nil {
		return err
	}
	var config struct {
		s3syncer.Config `koanf:",squash"`
		Out             string `koanf:"out"`
	}
	if err := confighelpers.EndCommonParse(k, &config); err != nil {
		return err
	}
	if config.Bucket == "" || config.ObjectKey == "" {
		return fmt.Errorf("--bucket and --object-key are required")
	}

	ctx := context.Background()
	var compressed []byte
	syncer, err := s3syncer.NewSyncer(ctx, &config.Config, func(data []byte, digest string) error {
		log.Info("fetched snapshot", "etag", digest, "size", len(data))
		compressed = data
		return nil
	})
	if err != nil {
		return err
	}
	if err := syncer.DownloadAndLoad(ctx); err != nil {
		return err
	}

	encoded, err := gzip.DecompressGzip(compressed)
	if err != nil {
		return err
	}
	var snapshot exportedSnapshot
	if err := json.Unmarshal(encoded, &snapshot); err != nil {
		return err
	}
	fmt.Printf("factory %v, scanned to block %d, %d games\n", snapshot.Factory, uint64(snapshot.ScannedTo), len(snapshot.Games))
	if config.Out != "" {
		if err := os.WriteFile(config.Out, compressed, 0600); err != nil {
			return err
		}
		fmt.Printf("wrote snapshot to %s\n", config.Out)
	}
	return nil
}

// gamestool artifact

func startArtifact(args []string) error {
	f := flag.NewFlagSet("artifact", flag.ContinueOnError)
	f.String("dir", "proof-artifacts", "Artifact directory of the validator.")
	f.Uint64("game", 0, "Game the proof targets.")
	f.String("claim", "", "Claimed output root of the proven game.")

	k, err := confighelpers.BeginCommonParse(f, args)
	if err != nil {
		return err
	}
	var config struct {
		Dir   string `koanf:"dir"`
		Game  uint64 `koanf:"game"`
		Claim string `koanf:"claim"`
	}
	if err := confighelpers.EndCommonParse(k, &config); err != nil {
		return err
	}
	if config.Claim == "" {
		return fmt.Errorf("--claim is required")
	}

	ctx := context.Background()
	store, err := proving.NewArtifactStore(ctx, config.Dir, proving.S3MirrorConfig{})
	if err != nil {
		return err
	}
	artifact, err := store.Load(ctx, protocol.GameID(config.Game), common.HexToHash(config.Claim))
	if err != nil {
		return err
	}
	fmt.Printf("artifact for game %v claim %s: %d bytes, %s\n",
		protocol.GameID(config.Game), config.Claim, len(artifact), pretty.FirstFewBytes(artifact))
	return nil
}

// gamestool anchor

// startAnchor bootstraps a freshly deployed factory by creating its anchor
// game: a claim with no parent that every later proposal extends.
func startAnchor(args []string) error {
	f := flag.NewFlagSet("anchor", flag.ContinueOnError)
	f.String("l1-url", "", "URL of the parent chain RPC.")
	f.String("factory", "", "Address of the dispute-game factory contract.")
	f.String("keystore", "", "Path of the keystore directory holding the funding account.")
	f.String("account", "", "Address of the keystore account (empty picks the first).")
	f.String("passphrase", "", "Passphrase of the keystore account.")
	f.String("output-root", "", "Output root the anchor commits to.")
	f.Uint64("l2-block", 0, "L2 block number the anchor commits to.")
	f.Uint64("gas-limit", 1_000_000, "Gas limit of the creation transaction.")
	f.Duration("poll-interval", time.Second, "Receipt polling interval while awaiting inclusion.")

	k, err := confighelpers.BeginCommonParse(f, args)
	if err != nil {
		return err
	}
	var config struct {
		L1URL        string        `koanf:"l1-url"`
		Factory      string        `koanf:"factory"`
		Keystore     string        `koanf:"keystore"`
		Account      string        `koanf:"account"`
		Passphrase   string        `koanf:"passphrase"`
		OutputRoot   string        `koanf:"output-root"`
		L2Block      uint64        `koanf:"l2-block"`
		GasLimit     uint64        `koanf:"gas-limit"`
		PollInterval time.Duration `koanf:"poll-interval"`
	}
	if err := confighelpers.EndCommonParse(k, &config); err != nil {
		return err
	}
	if config.L1URL == "" || config.Factory == "" || config.Keystore == "" || config.OutputRoot == "" {
		return fmt.Errorf("--l1-url, --factory, --keystore and --output-root are required")
	}

	ctx := context.Background()
	client, err := ethclient.DialContext(ctx, config.L1URL)
	if err != nil {
		return err
	}
	defer client.Close()
	chainId, err := client.ChainID(ctx)
	if err != nil {
		return err
	}
	txOpts, err := util.GetTransactOptsFromKeystore(config.Keystore, config.Account, config.Passphrase, chainId)
	if err != nil {
		return err
	}

	factoryAddress := common.HexToAddress(config.Factory)
	factory := bindings.NewFactory(factoryAddress, client, bind.CallOpts{})
	bond, err := factory.RequiredBond(ctx)
	if err != nil {
		return err
	}
	calldata, err := bindings.PackCreateGame(protocol.NoParent, common.HexToHash(config.OutputRoot), config.L2Block)
	if err != nil {
		return err
	}

	nonce, err := client.PendingNonceAt(ctx, txOpts.From)
	if err != nil {
		return err
	}
	gasPrice, err := client.SuggestGasPrice(ctx)
	if err != nil {
		return err
	}
	tx := types.NewTransaction(nonce, factoryAddress, bond, config.GasLimit, gasPrice, calldata)
	signed, err := txOpts.Signer(txOpts.From, tx)
	if err != nil {
		return err
	}
	if err := client.SendTransaction(ctx, signed); err != nil {
		return err
	}
	log.Info("anchor creation submitted", "tx", signed.Hash(), "bond", bond)

	receipt, err := ethutil.WaitForTx(ctx, client, signed, config.PollInterval)
	if err != nil {
		return err
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return fmt.Errorf("anchor creation reverted in tx %v", signed.Hash())
	}
	fmt.Printf("anchor game created at block %d in tx %v\n", receipt.BlockNumber, signed.Hash())
	return nil
}

// gamestool queue

// startQueue inspects a submitter queue, and optionally drains entries below
// a nonce. The node must be stopped first when inspecting its leveldb queue.
func startQueue(args []string) error {
	f := flag.NewFlagSet("queue", flag.ContinueOnError)
	f.String("data-dir", "", "Data directory of the node owning the leveldb queue.")
	f.String("redis-url", "", "URL of the redis server backing a redis queue (instead of --data-dir).")
	f.Uint64("start", 0, "First nonce to show.")
	f.Uint64("count", 100, "Maximum number of entries to show.")
	f.Uint64("drain-before", 0, "Drop all queued entries below this nonce (0 drains nothing).")
	signature.SimpleHmacConfigAddOptions("redis-signer", f)

	k, err := confighelpers.BeginCommonParse(f, args)
	if err != nil {
		return err
	}
	var config struct {
		DataDir     string                     `koanf:"data-dir"`
		RedisURL    string                     `koanf:"redis-url"`
		Start       uint64                     `koanf:"start"`
		Count       uint64                     `koanf:"count"`
		DrainBefore uint64                     `koanf:"drain-before"`
		RedisSigner signature.SimpleHmacConfig `koanf:"redis-signer"`
	}
	if err := confighelpers.EndCommonParse(k, &config); err != nil {
		return err
	}
	if (config.DataDir == "") == (config.RedisURL == "") {
		return fmt.Errorf("exactly one of --data-dir and --redis-url is required")
	}

	ctx := context.Background()
	var queue submitter.QueueStorage[storage.QueuedTransaction[protocol.TxMeta]]
	if config.RedisURL != "" {
		redisClient, err := redisutil.RedisClientFromURL(config.RedisURL)
		if err != nil {
			return err
		}
		queue, err = redisstorage.NewStorage[storage.QueuedTransaction[protocol.TxMeta]](redisClient, "", &config.RedisSigner)
		if err != nil {
			return err
		}
	} else {
		db, err := rawdb.NewLevelDBDatabase(path.Join(config.DataDir, "submitter-queue"), 0, 0, "arbiter/db/submitterqueue/", config.DrainBefore == 0)
		if err != nil {
			return err
		}
		defer db.Close()
		queue = leveldb.New[storage.QueuedTransaction[protocol.TxMeta]](db)
	}

	length, err := queue.Length(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("queued transactions: %d\n", length)

	entries, err := queue.GetContents(ctx, config.Start, config.Count)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		hash := "unsigned"
		nonce := entry.Data.Nonce
		if entry.FullTx != nil {
			hash = entry.FullTx.Hash().Hex()
			nonce = entry.FullTx.Nonce()
		}
		fmt.Printf("nonce %d kind=%v game=%v sent=%v created=%v tx=%s\n",
			nonce, entry.Meta.Kind, entry.Meta.GameID, entry.Sent, time.Time(entry.Created).UTC().Format(time.RFC3339), hash)
	}

	if config.DrainBefore > 0 {
		if err := queue.Prune(ctx, config.DrainBefore); err != nil {
			return err
		}
		remaining, err := queue.Length(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("drained entries below nonce %d, %d remain\n", config.DrainBefore, remaining)
	}
	return nil
}
