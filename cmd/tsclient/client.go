// tsclient is the customer-side channel CLI: it opens channels against
// a merchant, sends payments and periodically syncs them against the
// chain.
package main

import (
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/rs/zerolog"

	"github.com/turnstilepay/turnstile/blockchain"
	"github.com/turnstilepay/turnstile/channels"
	"github.com/turnstilepay/turnstile/client"
	"github.com/turnstilepay/turnstile/resolver"
	"github.com/turnstilepay/turnstile/sender"
	"github.com/turnstilepay/turnstile/storage/filesystem"
	"github.com/turnstilepay/turnstile/wallet"
)

var (
	testnet    = flag.Bool("testnet", true, "Use testnet")
	stateDir   = flag.String("state_dir", ".", "State file directory")
	insightURL = flag.String("insight_url",
		"https://test-insight.bitpay.com/api", "Blockchain explorer API")
	verbose = flag.Bool("v", false, "Verbose logging")
)

func getNet() *chaincfg.Params {
	if *testnet {
		return &chaincfg.TestNet3Params
	}
	return &chaincfg.MainNetParams
}

func netName() string {
	if *testnet {
		return channels.NetTestnet3
	}
	return channels.NetMain
}

func getLogger() zerolog.Logger {
	if *verbose {
		return zerolog.New(zerolog.NewConsoleWriter()).With().Timestamp().Logger()
	}
	return zerolog.Nop()
}

func getClient(ws *walletState) (*sender.Client, *wallet.KeyWallet, error) {
	net := getNet()

	w, err := wallet.FromExtendedKey(ws.XPrivKey, 0, net)
	if err != nil {
		return nil, nil, err
	}
	for _, u := range ws.UTXOs {
		w.AddUTXO(u)
	}

	bc, err := blockchain.NewInsight(nil, *insightURL)
	if err != nil {
		return nil, nil, err
	}

	db := filesystem.NewChannelStore(channelsPath(net))

	c := sender.NewClient(w, bc, db, &client.Dialer{}, netName(), getLogger())
	return c, w, nil
}

func address(ws *walletState, args []string) error {
	_, w, err := getClient(ws)
	if err != nil {
		return err
	}
	addr, err := w.PayoutAddress()
	if err != nil {
		return err
	}
	fmt.Println(addr)
	return nil
}

func addUTXO(ws *walletState, args []string) error {
	if len(args) < 4 {
		return errors.New("usage: utxo <txid> <vout> <value> <pkscript_hex>")
	}
	vout, err := strconv.Atoi(args[1])
	if err != nil {
		return errors.New("invalid vout")
	}
	value, err := strconv.ParseInt(args[2], 10, 64)
	if err != nil {
		return errors.New("invalid value")
	}
	pkScript, err := hex.DecodeString(args[3])
	if err != nil {
		return errors.New("invalid pkscript")
	}
	ws.UTXOs = append(ws.UTXOs, wallet.UTXO{
		TxID:      args[0],
		Vout:      uint32(vout),
		Value:     value,
		PkScript:  pkScript,
		Confirmed: true,
	})
	return nil
}

func open(ws *walletState, args []string) error {
	if len(args) < 3 {
		return errors.New("usage: open <url> <deposit> <fee> [hours]")
	}
	deposit, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil {
		return errors.New("invalid deposit")
	}
	fee, err := strconv.ParseInt(args[2], 10, 64)
	if err != nil {
		return errors.New("invalid fee")
	}
	hours := int64(24)
	if len(args) > 3 {
		hours, err = strconv.ParseInt(args[3], 10, 64)
		if err != nil {
			return errors.New("invalid hours")
		}
	}

	target, err := resolver.NewResolver().Resolve(args[0])
	if err != nil {
		return err
	}

	c, w, err := getClient(ws)
	if err != nil {
		return err
	}
	url, err := c.Open(target.String(), deposit,
		time.Duration(hours)*time.Hour, fee, false, false)
	if err != nil {
		return err
	}
	// Funding consumed wallet outputs; persist the updated set.
	ws.UTXOs = w.UTXOs()
	fmt.Println(url)
	return nil
}

func pay(ws *walletState, args []string) error {
	if len(args) < 2 {
		return errors.New("usage: pay <channel_url> <amount>")
	}
	amount, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil {
		return errors.New("invalid amount")
	}
	c, _, err := getClient(ws)
	if err != nil {
		return err
	}
	return c.Pay(args[0], amount)
}

func syncCmd(ws *walletState, args []string) error {
	c, _, err := getClient(ws)
	if err != nil {
		return err
	}
	if len(args) > 0 {
		return c.Sync(args[0])
	}
	return c.SyncAll()
}

func closeCmd(ws *walletState, args []string) error {
	if len(args) < 1 {
		return errors.New("usage: close <channel_url>")
	}
	c, _, err := getClient(ws)
	if err != nil {
		return err
	}
	return c.Close(args[0])
}

func list(ws *walletState, args []string) error {
	c, _, err := getClient(ws)
	if err != nil {
		return err
	}
	urls, err := c.List()
	if err != nil {
		return err
	}
	fmt.Printf("URL\tStatus\tBalance\tDeposit\n")
	for _, u := range urls {
		st, err := c.Status(u, false)
		if err != nil {
			return err
		}
		fmt.Printf("%s\t%s\t%d\t%d\n", u, st.Status, st.Balance, st.Deposit)
	}
	return nil
}

func status(ws *walletState, args []string) error {
	if len(args) < 1 {
		return errors.New("usage: status <channel_url>")
	}
	c, _, err := getClient(ws)
	if err != nil {
		return err
	}
	st, err := c.Status(args[0], true)
	if err != nil {
		return err
	}
	fmt.Printf("status:          %s\n", st.Status)
	fmt.Printf("balance:         %d\n", st.Balance)
	fmt.Printf("deposit:         %d\n", st.Deposit)
	fmt.Printf("fee:             %d\n", st.Fee)
	fmt.Printf("created:         %s\n", time.Unix(st.CreationTime, 0))
	fmt.Printf("expires:         %s\n", time.Unix(st.ExpirationTime, 0))
	fmt.Printf("deposit txid:    %s\n", st.DepositTxID)
	if st.SpendTxID != "" {
		fmt.Printf("spend txid:      %s\n", st.SpendTxID)
	}
	return nil
}

var commands = map[string]func(*walletState, []string) error{
	"address": address,
	"utxo":    addUTXO,
	"open":    open,
	"pay":     pay,
	"sync":    syncCmd,
	"close":   closeCmd,
	"list":    list,
	"status":  status,
}

var helps = map[string]string{
	"address": "Show the wallet funding address",
	"utxo":    "Register a funding output paying the wallet address",
	"open":    "Open a channel to a merchant",
	"pay":     "Send a payment over a channel",
	"sync":    "Sync channels against the blockchain",
	"close":   "Cooperatively close a channel",
	"list":    "List channels",
	"status":  "Show channel details",
	"help":    "Show help",
}

func help(ws *walletState, args []string) error {
	fmt.Printf("Available commands:\n")
	for action, h := range helps {
		fmt.Printf("%10s %s\n", action, h)
	}
	return nil
}

func main() {
	flag.Parse()
	args := flag.Args()

	action := "help"
	if len(args) > 0 {
		action = args[0]
		args = args[1:]
	}

	commands["help"] = help

	f, ok := commands[action]
	if !ok {
		fmt.Fprintln(os.Stderr, "unknown command")
		os.Exit(1)
	}

	ws, err := loadWalletState(getNet())
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	err = f(ws, args)
	if err == nil {
		err = saveWalletState(getNet(), ws)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
