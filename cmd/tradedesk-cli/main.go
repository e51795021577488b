// Command tradedesk-cli is a thin terminal client for the tradedesk-server
// API.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"

	"tradedesk/pkg/tradedesk"
)

const version = "0.1.0"

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: tradedesk-cli <command> [options]\n\n")
		fmt.Fprintf(os.Stderr, "Commands:\n")
		fmt.Fprintf(os.Stderr, "  version                    Print the CLI version\n")
		fmt.Fprintf(os.Stderr, "  accounts                   List accounts\n")
		fmt.Fprintf(os.Stderr, "  create-account <name>      Open a new account\n")
		fmt.Fprintf(os.Stderr, "  portfolio <account>        Show account valuation\n")
		fmt.Fprintf(os.Stderr, "  orders <account>           List orders\n")
		fmt.Fprintf(os.Stderr, "  buy|sell <account> <sym> <qty> [limit]   Place an order\n")
		fmt.Fprintf(os.Stderr, "  cancel <account> <order>   Cancel a pending order\n")
		fmt.Fprintf(os.Stderr, "  quote <symbol>             Show the current quote\n")
		fmt.Fprintf(os.Stderr, "  watchlist                  Show the watchlist\n")
		fmt.Fprintf(os.Stderr, "  watch|unwatch <symbol>     Edit the watchlist\n")
		fmt.Fprintf(os.Stderr, "  backtest <strategy> <syms> <start> <end> <capital>\n")
		fmt.Fprintf(os.Stderr, "\nEnvironment:\n")
		fmt.Fprintf(os.Stderr, "  TRADEDESK_URL   server base URL (default http://localhost:8080)\n")
		fmt.Fprintf(os.Stderr, "  TRADEDESK_USER  user identity (default $USER)\n\n")
	}

	if len(os.Args) < 2 {
		flag.Usage()
		os.Exit(1)
	}

	baseURL := os.Getenv("TRADEDESK_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	user := os.Getenv("TRADEDESK_USER")
	if user == "" {
		user = os.Getenv("USER")
	}

	client := tradedesk.NewClient(baseURL, user)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	cmd, args := os.Args[1], os.Args[2:]
	if err := run(ctx, client, cmd, args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, c *tradedesk.Client, cmd string, args []string) error {
	switch cmd {
	case "version":
		fmt.Printf("tradedesk-cli %s\n", version)
		return nil

	case "accounts":
		accounts, err := c.ListAccounts(ctx)
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tNAME\tCASH\tCREATED")
		for _, a := range accounts {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", a.ID, a.Name, a.CashBalance, a.CreatedAt.Format("2006-01-02"))
		}
		return tw.Flush()

	case "create-account":
		if len(args) < 1 {
			return fmt.Errorf("usage: create-account <name> [balance]")
		}
		var bal *decimal.Decimal
		if len(args) > 1 {
			d, err := decimal.NewFromString(args[1])
			if err != nil {
				return fmt.Errorf("invalid balance %q", args[1])
			}
			bal = &d
		}
		a, err := c.CreateAccount(ctx, args[0], bal)
		if err != nil {
			return err
		}
		fmt.Printf("created %s (%s) with %s\n", a.ID, a.Name, a.CashBalance)
		return nil

	case "portfolio":
		if len(args) != 1 {
			return fmt.Errorf("usage: portfolio <account>")
		}
		s, err := c.Portfolio(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Printf("cash:        %s\n", s.Cash)
		fmt.Printf("equity:      %s\n", s.Equity)
		fmt.Printf("unrealized:  %s\n", s.Unrealized)
		fmt.Printf("realized:    %s\n", s.Realized)
		fmt.Printf("return:      %s\n", s.TotalReturn)

		positions, err := c.ListPositions(ctx, args[0])
		if err != nil {
			return err
		}
		if len(positions) > 0 {
			tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "\nSYMBOL\tQTY\tAVG COST\tLAST")
			for _, p := range positions {
				fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n", p.Symbol, p.Quantity, p.AverageCost, p.LastPrice)
			}
			return tw.Flush()
		}
		return nil

	case "orders":
		if len(args) != 1 {
			return fmt.Errorf("usage: orders <account>")
		}
		orders, err := c.ListOrders(ctx, args[0])
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tSYMBOL\tSIDE\tTYPE\tQTY\tSTATUS\tFILL\tREASON")
		for _, o := range orders {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\t%s\t%s\n",
				o.ID, o.Symbol, o.Side, o.Type, o.Quantity, o.Status, o.AverageFillPrice, o.Reason)
		}
		return tw.Flush()

	case "buy", "sell":
		if len(args) < 3 {
			return fmt.Errorf("usage: %s <account> <symbol> <qty> [limit]", cmd)
		}
		var qty int64
		if _, err := fmt.Sscanf(args[2], "%d", &qty); err != nil {
			return fmt.Errorf("invalid quantity %q", args[2])
		}
		params := tradedesk.OrderParams{
			Symbol:   strings.ToUpper(args[1]),
			Type:     "market",
			Side:     cmd,
			Quantity: qty,
		}
		if len(args) > 3 {
			limit, err := decimal.NewFromString(args[3])
			if err != nil {
				return fmt.Errorf("invalid limit price %q", args[3])
			}
			params.Type = "limit"
			params.LimitPrice = &limit
		}
		o, err := c.PlaceOrder(ctx, args[0], params)
		if err != nil {
			return err
		}
		fmt.Printf("%s %s: %d %s @ %s\n", o.Status, o.ID, o.FilledQuantity, o.Symbol, o.AverageFillPrice)
		return nil

	case "cancel":
		if len(args) != 2 {
			return fmt.Errorf("usage: cancel <account> <order>")
		}
		o, err := c.CancelOrder(ctx, args[0], args[1])
		if err != nil {
			return err
		}
		fmt.Printf("%s %s\n", o.Status, o.ID)
		return nil

	case "quote":
		if len(args) != 1 {
			return fmt.Errorf("usage: quote <symbol>")
		}
		q, err := c.GetQuote(ctx, strings.ToUpper(args[0]))
		if err != nil {
			return err
		}
		state := "closed"
		if q.MarketOpen {
			state = "open"
		}
		fmt.Printf("%s %s (market %s, as of %s)\n", q.Symbol, q.Price, state, q.AsOf.Format(time.RFC3339))
		return nil

	case "watchlist":
		symbols, err := c.Watchlist(ctx)
		if err != nil {
			return err
		}
		for _, s := range symbols {
			fmt.Println(s)
		}
		return nil

	case "watch":
		if len(args) != 1 {
			return fmt.Errorf("usage: watch <symbol>")
		}
		return c.WatchSymbol(ctx, strings.ToUpper(args[0]))

	case "unwatch":
		if len(args) != 1 {
			return fmt.Errorf("usage: unwatch <symbol>")
		}
		return c.UnwatchSymbol(ctx, strings.ToUpper(args[0]))

	case "strategies":
		names, err := c.Strategies(ctx)
		if err != nil {
			return err
		}
		for _, n := range names {
			fmt.Println(n)
		}
		return nil

	case "backtest":
		if len(args) != 5 {
			return fmt.Errorf("usage: backtest <strategy> <symbols,comma-separated> <start> <end> <capital>")
		}
		var capital float64
		if _, err := fmt.Sscanf(args[4], "%g", &capital); err != nil {
			return fmt.Errorf("invalid capital %q", args[4])
		}
		res, err := c.RunBacktest(ctx, tradedesk.BacktestParams{
			Strategy:       args[0],
			Symbols:        strings.Split(strings.ToUpper(args[1]), ","),
			Start:          args[2],
			End:            args[3],
			InitialCapital: capital,
		})
		if err != nil {
			return err
		}
		fmt.Printf("final equity:  %.2f\n", res.FinalEquity)
		fmt.Printf("total return:  %.2f%%\n", res.TotalReturn*100)
		fmt.Printf("max drawdown:  %.2f%%\n", res.MaxDrawdown*100)
		fmt.Printf("sharpe:        %.2f\n", res.SharpeRatio)
		fmt.Printf("trades:        %d\n", res.TotalTrades)
		fmt.Printf("win rate:      %.2f%%\n", res.WinRate*100)
		return nil

	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", cmd)
		flag.Usage()
		os.Exit(1)
		return nil
	}
}
