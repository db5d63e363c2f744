package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/liquidtools/walletd/internal/config"
	chainsync "github.com/liquidtools/walletd/internal/sync"
	"github.com/liquidtools/walletd/internal/wallet"
	"github.com/liquidtools/walletd/pkg/electrum"
	"github.com/liquidtools/walletd/pkg/keyring"
	"github.com/liquidtools/walletd/pkg/securestore"
)

func main() {
	app := cli.NewApp()

	app.Version = "0.1.0"
	app.Name = "walletd"
	app.Usage = "confidential wallet for liquid networks"
	app.Before = func(_ *cli.Context) error {
		if err := config.InitConfig(); err != nil {
			return err
		}
		log.SetLevel(log.Level(config.GetInt(config.LogLevelKey)))
		return nil
	}
	app.Commands = append(
		app.Commands,
		&genseed,
		&initwallet,
		&newaddress,
		&balance,
		&transactions,
		&changepassword,
	)

	if err := app.Run(os.Args); err != nil {
		fatal(err)
	}
}

var genseed = cli.Command{
	Name:  "genseed",
	Usage: "generate a new mnemonic",
	Flags: []cli.Flag{
		&cli.IntFlag{
			Name:  "entropy",
			Usage: "entropy size in bits",
			Value: 256,
		},
	},
	Action: func(ctx *cli.Context) error {
		mnemonic, err := keyring.NewMnemonic(ctx.Int("entropy"))
		if err != nil {
			return err
		}
		fmt.Println(mnemonic)
		return nil
	},
}

var initwallet = cli.Command{
	Name:  "init",
	Usage: "initialize a new wallet from a mnemonic",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:     "mnemonic",
			Usage:    "the mnemonic of the wallet to create",
			Required: true,
		},
		&cli.StringFlag{
			Name:     "password",
			Usage:    "the password sealing the wallet on disk",
			Required: true,
		},
	},
	Action: func(ctx *cli.Context) error {
		store, err := newStore()
		if err != nil {
			return err
		}
		w, err := wallet.Initialize(
			store,
			electrum.NewOfflineClient(),
			ctx.String("mnemonic"),
			[]byte(ctx.String("password")),
			walletOptions(),
		)
		if err != nil {
			return err
		}
		defer w.Close()

		fmt.Println("wallet initialized")
		return nil
	},
}

var newaddress = cli.Command{
	Name:  "address",
	Usage: "derive a fresh receiving address",
	Flags: []cli.Flag{passwordFlag()},
	Action: func(ctx *cli.Context) error {
		w, err := openWallet(ctx)
		if err != nil {
			return err
		}
		defer w.Close()

		addr, err := w.NewAddress()
		if err != nil {
			return err
		}
		fmt.Println(addr)
		return nil
	},
}

var balance = cli.Command{
	Name:  "balance",
	Usage: "show the balance per asset as of the last sync",
	Flags: []cli.Flag{passwordFlag()},
	Action: func(ctx *cli.Context) error {
		w, err := openWallet(ctx)
		if err != nil {
			return err
		}
		defer w.Close()

		printJSON(w.Balance())
		return nil
	},
}

var transactions = cli.Command{
	Name:  "transactions",
	Usage: "list the wallet transactions as of the last sync",
	Flags: []cli.Flag{passwordFlag()},
	Action: func(ctx *cli.Context) error {
		w, err := openWallet(ctx)
		if err != nil {
			return err
		}
		defer w.Close()

		printJSON(w.ListTransactions())
		return nil
	},
}

var changepassword = cli.Command{
	Name:  "changepassword",
	Usage: "re-seal the wallet under a new password",
	Flags: []cli.Flag{
		passwordFlag(),
		&cli.StringFlag{
			Name:     "new-password",
			Usage:    "the new password sealing the wallet on disk",
			Required: true,
		},
	},
	Action: func(ctx *cli.Context) error {
		w, err := openWallet(ctx)
		if err != nil {
			return err
		}
		defer w.Close()

		return w.ChangePassphrase(
			[]byte(ctx.String("password")),
			[]byte(ctx.String("new-password")),
		)
	},
}

func passwordFlag() cli.Flag {
	return &cli.StringFlag{
		Name:     "password",
		Usage:    "the password unsealing the wallet",
		Required: true,
	}
}

func walletOptions() wallet.Options {
	return wallet.Options{
		Network:          config.GetNetwork(),
		GapLimit:         config.GetInt(config.GapLimitKey),
		MillisatsPerByte: config.GetInt(config.MillisatsPerByteKey),
		Sync: chainsync.Options{
			MaxParallel:       config.GetInt(config.MaxParallelKey),
			CallTimeout:       time.Duration(config.GetInt(config.CallTimeoutKey)) * time.Second,
			RequestsPerSecond: config.GetInt(config.RequestsPerSecondKey),
		},
	}
}

func newStore() (*securestore.Store, error) {
	return securestore.NewStore(
		filepath.Join(config.GetDatadir(), config.WalletLocation),
		config.WalletFilename,
		config.GetScryptParams(),
	)
}

func openWallet(ctx *cli.Context) (*wallet.Wallet, error) {
	store, err := newStore()
	if err != nil {
		return nil, err
	}
	return wallet.Open(
		store,
		electrum.NewOfflineClient(),
		[]byte(ctx.String("password")),
		walletOptions(),
	)
}

func printJSON(v interface{}) {
	buf, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fatal(err)
	}
	fmt.Println(string(buf))
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "[walletd] %v\n", err)
	os.Exit(1)
}
