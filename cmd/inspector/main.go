// Inspector is a small operator CLI for poking the gateway with the same
// client the engine uses: list accounts, resolve contracts, dump open
// positions and working orders.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/ZeusMX2125/topstep-engine/internal/config"
	"github.com/ZeusMX2125/topstep-engine/internal/gateway"
	"github.com/ZeusMX2125/topstep-engine/internal/pkg/logger"
)

func main() {
	var (
		cmd     = flag.String("cmd", "accounts", "accounts | contracts | positions | orders | bars")
		symbol  = flag.String("symbol", "MES", "symbol for contracts/bars")
		account = flag.Int("account", 0, "account id (0 resolves the default)")
		tf      = flag.String("tf", "5m", "bar timeframe")
	)
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger.Init("warn", "text")

	auth := gateway.NewCredentialAuthority(cfg.Gateway)
	client := gateway.NewClient(cfg.Gateway, auth)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	switch *cmd {
	case "accounts":
		accounts, err := client.SearchAccounts(ctx, true)
		exitOn(err)
		dump(accounts)
	case "contracts":
		contracts, err := client.SearchContracts(ctx, *symbol, true)
		exitOn(err)
		dump(contracts)
	case "positions":
		positions, err := client.SearchOpenPositions(ctx, *account)
		exitOn(err)
		dump(positions)
	case "orders":
		orders, err := client.SearchOpenOrders(ctx, *account)
		exitOn(err)
		dump(orders)
	case "bars":
		end := time.Now().UTC()
		bars, err := client.RetrieveBars(ctx, *symbol, *tf, end.Add(-24*time.Hour), end, 100)
		exitOn(err)
		dump(bars)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", *cmd)
		os.Exit(2)
	}
}

func exitOn(err error) {
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func dump(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(v)
}
