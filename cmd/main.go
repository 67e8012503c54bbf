// Command bot runs the arbitrage detector/executor against a single
// configured network. Pick the network with -n (default "bsc"); the
// matching config lives at configs/networks/<name>.yml.
package main

import (
	"context"
	"crypto/ecdsa"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/joho/godotenv"

	"github.com/MedTrebor/uniswapv2-arbitrage-bot/configs"
	"github.com/MedTrebor/uniswapv2-arbitrage-bot/internal/db"
	"github.com/MedTrebor/uniswapv2-arbitrage-bot/internal/driver"
	"github.com/MedTrebor/uniswapv2-arbitrage-bot/internal/secret"
	"github.com/MedTrebor/uniswapv2-arbitrage-bot/internal/util"
	"github.com/MedTrebor/uniswapv2-arbitrage-bot/pkg/contractclient"
	"github.com/MedTrebor/uniswapv2-arbitrage-bot/pkg/priceposter"
	"github.com/MedTrebor/uniswapv2-arbitrage-bot/pkg/profitability"
	"github.com/MedTrebor/uniswapv2-arbitrage-bot/pkg/registry"
	"github.com/MedTrebor/uniswapv2-arbitrage-bot/pkg/rpcfabric"
	"github.com/MedTrebor/uniswapv2-arbitrage-bot/pkg/submission"
	"github.com/MedTrebor/uniswapv2-arbitrage-bot/pkg/txlistener"
	"github.com/MedTrebor/uniswapv2-arbitrage-bot/pkg/types"
)

func main() {
	network := flag.String("n", "bsc", "network config name under configs/networks/")
	flag.Parse()

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("main: load .env: %v", err)
	}

	pk, err := loadPrivateKey()
	if err != nil {
		log.Fatalf("main: load private key: %v", err)
	}
	sender := crypto.PubkeyToAddress(pk.PublicKey)

	conf, err := configs.LoadConfig(fmt.Sprintf("configs/networks/%s.yml", *network))
	if err != nil {
		log.Fatalf("main: load config: %v", err)
	}

	fabric, syncNode, err := dialFabric(conf.RPC.Nodes, conf.RPC.SyncNodeIdx)
	if err != nil {
		log.Fatalf("main: dial rpc fabric: %v", err)
	}
	fabric.SetRateLimits(
		time.Duration(conf.Driver.PollIntervalMs)*time.Millisecond,
		time.Duration(conf.Driver.SyncPollIntervalMs)*time.Millisecond,
	)

	if err := fabric.SyncTest(context.Background(), 3, 2); err != nil {
		log.Fatalf("main: rpc nodes out of sync: %v", err)
	}

	client, err := buildContractClient(syncNode.Client, conf.ContractClient)
	if err != nil {
		log.Fatalf("main: build contract client: %v", err)
	}

	driverConf, err := conf.ToDriverConfig()
	if err != nil {
		log.Fatalf("main: build driver config: %v", err)
	}

	poolSource, err := registry.NewEthPoolSource(syncNode.RPC)
	if err != nil {
		log.Fatalf("main: build pool source: %v", err)
	}

	d, err := driver.New(driverConf, fabric, client, poolSource, nil, nil)
	if err != nil {
		log.Fatalf("main: init driver: %v", err)
	}
	d.Submit.Sender = sender
	d.Submit.Key = pk
	listenerOpts := []txlistener.Option{}
	if driverConf.ReceiptTimeout > 0 {
		listenerOpts = append(listenerOpts, txlistener.WithTimeout(driverConf.ReceiptTimeout))
	}
	d.Listener = txlistener.NewTxListener(syncNode.Client, listenerOpts...)
	d.OnError = func(err error) { log.Printf("main: %v", err) }
	d.OnSubmit = func(c *types.ArbitrageCandidate, tier profitability.GasPriceTier) {
		log.Printf("main: submitting path=%s tier=%d", c.Path.Key(), tier)
	}

	if conf.Driver.BurnersEnabled {
		if err := d.VerifyBurners(context.Background()); err != nil {
			log.Printf("main: %v, continuing without burners", err)
		}
	}

	tokens := make([]common.Address, 0, d.Registry.Len())
	for _, p := range d.Registry.Snapshot() {
		tokens = append(tokens, p.Token0, p.Token1)
	}
	d.Prices = priceposter.New(d.PriceFetcher(), tokens, driverConf.RefreshInterval)

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("main: received %s, shutting down", sig)
		cancel()
	}()

	if err := d.Prices.Start(ctx); err != nil {
		log.Printf("main: price poller initial refresh: %v", err)
	}
	defer d.Prices.Stop()

	if driverConf.UptimeInterval > 0 {
		go func() {
			if err := d.Uptime.Run(ctx, driverConf.UptimeInterval, time.Now); err != nil {
				log.Printf("main: uptime tracker stopped: %v", err)
			}
		}()
	}

	if driverConf.PersistInterval > 0 {
		go func() {
			if err := d.RunPersistence(ctx, driverConf.PersistInterval); err != nil {
				log.Printf("main: persistence loop stopped: %v", err)
			}
		}()
	}

	// Optional MySQL history sink: set MYSQL_DSN to get a queryable time
	// series of tx/balance stats alongside the JSON state files.
	var recorder *db.MySQLRecorder
	if dsn := os.Getenv("MYSQL_DSN"); dsn != "" {
		recorder, err = db.NewMySQLRecorder(dsn)
		if err != nil {
			log.Fatalf("main: mysql recorder: %v", err)
		}
		defer recorder.Close()
	}

	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				balance, err := d.SnapshotBalance(ctx, sender)
				if err != nil {
					log.Printf("main: %v", err)
				}
				if recorder == nil {
					continue
				}
				if err := recorder.RecordTxStats(time.Now(), d.TxStatsSnapshot()); err != nil {
					log.Printf("main: record tx stats: %v", err)
				}
				if err == nil {
					if err := recorder.RecordBalanceStats(balance, "{}"); err != nil {
						log.Printf("main: record balance stats: %v", err)
					}
				}
			}
		}
	}()

	runErr := d.Run(ctx, func(candidate *types.ArbitrageCandidate, env *submission.Envelope) {
		net := candidate.NetProfit()
		log.Printf("main: candidate path=%s amountIn=%s netProfit=%s burners=%d gasPrice=%s",
			candidate.Path.Key(), candidate.AmountIn, net, env.BurnerCount, env.GasPrice)
	})
	if runErr != nil {
		if persistErr := d.PersistState(); persistErr != nil {
			log.Printf("main: persist on fatal exit: %v", persistErr)
		}
		log.Fatalf("main: fatal: %v", runErr)
	}

	log.Println("main: shutdown complete")
}

// loadPrivateKey recovers the bot's signing key from the ENC_PK/KEY
// environment pair: ENC_PK is the AES-256-GCM ciphertext, KEY is the
// symmetric key it was sealed with.
func loadPrivateKey() (*ecdsa.PrivateKey, error) {
	encPK := os.Getenv("ENC_PK")
	if encPK == "" {
		return nil, fmt.Errorf("ENC_PK not set")
	}
	key := os.Getenv("KEY")
	if key == "" {
		return nil, fmt.Errorf("KEY not set")
	}

	revealed, err := secret.Decrypt([]byte(key), encPK)
	if err != nil {
		return nil, fmt.Errorf("decrypt private key: %w", err)
	}

	pk, err := crypto.HexToECDSA(revealed.Reveal())
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return pk, nil
}

// dialFabric dials every configured RPC endpoint and wraps them into an
// rpcfabric.Fabric, returning the sync-index node too (its raw *rpc.Client
// backs both the pool source's batched eth_call and the contract client).
func dialFabric(urls []string, syncIdx int) (*rpcfabric.Fabric, *rpcfabric.Node, error) {
	if len(urls) == 0 {
		return nil, nil, fmt.Errorf("no rpc nodes configured")
	}

	nodes := make([]*rpcfabric.Node, len(urls))
	for i, url := range urls {
		rpcClient, err := rpc.Dial(url)
		if err != nil {
			return nil, nil, fmt.Errorf("dial %s: %w", url, err)
		}
		nodes[i] = &rpcfabric.Node{
			URL:    url,
			Client: ethclient.NewClient(rpcClient),
			RPC:    rpcClient,
		}
	}

	if syncIdx < 0 || syncIdx >= len(nodes) {
		syncIdx = 0
	}

	return rpcfabric.New(nodes, nodes[syncIdx]), nodes[syncIdx], nil
}

// buildContractClient loads the "executor" contract's ABI and binds it
// to primary, the sync-reference node.
func buildContractClient(primary *ethclient.Client, contracts map[string]configs.ContractClientYAMLData) (contractclient.ContractClient, error) {
	executor, ok := contracts["executor"]
	if !ok {
		return nil, fmt.Errorf(`no "executor" entry in contract_client config`)
	}

	abi, err := util.LoadABIFromHardhatArtifact(executor.ABI)
	if err != nil {
		return nil, fmt.Errorf("load executor abi: %w", err)
	}

	return contractclient.NewContractClient(primary, common.HexToAddress(executor.Address), abi), nil
}
