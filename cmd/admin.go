package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"satsledger/config"
	"satsledger/models"
	"satsledger/service"

	log "github.com/sirupsen/logrus"
)

// Command is an operator subcommand acting as an external caller of the ledger
type Command struct {
	Handler     func(ctx context.Context, ledger service.LedgerService, out io.Writer, args []string) error
	Description string
	Usage       string
}

var operatorCommands map[string]Command

// Populated in init because handlers refer back to the table for usage text
func init() {
	operatorCommands = map[string]Command{
		"wallet": {
			Handler:     handleWallet,
			Description: "Open (or show) the wallet owned by a user",
			Usage:       "wallet <user_id>",
		},
		"deposit": {
			Handler:     handleDeposit,
			Description: "Credit a wallet with a confirmed deposit",
			Usage:       "deposit <wallet_id> <btc> [payment_ref]",
		},
		"wager": {
			Handler:     handleWager,
			Description: "Record settled wager volume for a wallet",
			Usage:       "wager <wallet_id> <btc>",
		},
		"withdraw": {
			Handler:     handleWithdraw,
			Description: "Request a withdrawal, reserving the amount until a decision",
			Usage:       "withdraw <wallet_id> <btc> [address] [fee_btc]",
		},
		"approve": {
			Handler:     handleApprove,
			Description: "Approve a pending withdrawal",
			Usage:       "approve <transaction_id> <admin_id>",
		},
		"reject": {
			Handler:     handleReject,
			Description: "Reject a pending withdrawal and refund it",
			Usage:       "reject <transaction_id> <admin_id> <reason...>",
		},
		"pending": {
			Handler:     handlePending,
			Description: "List pending withdrawals, oldest first",
			Usage:       "pending [limit] [offset]",
		},
	}
}

// IsOperatorCommand reports whether name is an operator subcommand
func IsOperatorCommand(name string) bool {
	_, ok := operatorCommands[name]
	return ok
}

// OperatorUsage lists the operator subcommands
func OperatorUsage() string {
	names := make([]string, 0, len(operatorCommands))
	for name := range operatorCommands {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	for _, name := range names {
		c := operatorCommands[name]
		fmt.Fprintf(&b, "  %-52s %s\n", c.Usage, c.Description)
	}
	return b.String()
}

// RunOperatorCommand bootstraps the ledger and runs a single operator subcommand
func RunOperatorCommand(ctx context.Context, name string, args []string) error {
	command, ok := operatorCommands[name]
	if !ok {
		return fmt.Errorf("unknown command: %s", name)
	}

	cfg := config.Get()
	ConfigureLogging(cfg)

	app, err := bootstrap(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		app.drainEvents(ctx)
		app.close(ctx)
	}()

	return command.Handler(ctx, app.ledger, os.Stdout, args)
}

func handleWallet(ctx context.Context, ledger service.LedgerService, out io.Writer, args []string) error {
	if len(args) < 1 {
		return usageError("wallet")
	}

	wallet, err := ledger.OpenWallet(ctx, args[0])
	if err != nil {
		return describe(err)
	}

	printWallet(out, wallet)
	return nil
}

func handleDeposit(ctx context.Context, ledger service.LedgerService, out io.Writer, args []string) error {
	if len(args) < 2 {
		return usageError("deposit")
	}

	amount, err := models.ParseBTC(args[1])
	if err != nil {
		return err
	}

	req := service.DepositRequest{WalletID: args[0], AmountSats: amount}
	if len(args) > 2 {
		req.PaymentRef = &args[2]
	}

	result, err := ledger.Deposit(ctx, req)
	if err != nil {
		return describe(err)
	}

	fmt.Fprintf(out, "Deposit %s: +%s BTC, balance %s BTC\n",
		result.Transaction.ID, amount.FormatBTC(), result.NewBalanceSats.FormatBTC())
	return nil
}

func handleWager(ctx context.Context, ledger service.LedgerService, out io.Writer, args []string) error {
	if len(args) < 2 {
		return usageError("wager")
	}

	amount, err := models.ParseBTC(args[1])
	if err != nil {
		return err
	}

	wallet, err := ledger.RecordWager(ctx, args[0], amount)
	if err != nil {
		return describe(err)
	}

	printWallet(out, wallet)
	return nil
}

func handleWithdraw(ctx context.Context, ledger service.LedgerService, out io.Writer, args []string) error {
	if len(args) < 2 {
		return usageError("withdraw")
	}

	amount, err := models.ParseBTC(args[1])
	if err != nil {
		return err
	}

	req := service.WithdrawalRequest{WalletID: args[0], AmountSats: amount}
	if len(args) > 2 && args[2] != "" {
		req.ToAddress = &args[2]
	}
	if len(args) > 3 {
		fee, err := models.ParseBTC(args[3])
		if err != nil {
			return fmt.Errorf("invalid fee: %w", err)
		}
		req.FeeSats = fee
	}

	result, err := ledger.RequestWithdrawal(ctx, req)
	if err != nil {
		return describe(err)
	}

	fmt.Fprintf(out, "Withdrawal %s pending: -%s BTC, balance %s BTC\n",
		result.TransactionID, amount.FormatBTC(), result.NewBalanceSats.FormatBTC())
	return nil
}

func handleApprove(ctx context.Context, ledger service.LedgerService, out io.Writer, args []string) error {
	if len(args) < 2 {
		return usageError("approve")
	}

	if err := ledger.ApproveWithdrawal(ctx, args[0], args[1]); err != nil {
		return describe(err)
	}

	fmt.Fprintf(out, "Withdrawal %s approved by %s\n", args[0], args[1])
	return nil
}

func handleReject(ctx context.Context, ledger service.LedgerService, out io.Writer, args []string) error {
	if len(args) < 3 {
		return usageError("reject")
	}

	reason := strings.Join(args[2:], " ")
	if err := ledger.RejectWithdrawal(ctx, args[0], args[1], reason); err != nil {
		return describe(err)
	}

	fmt.Fprintf(out, "Withdrawal %s rejected by %s: %s\n", args[0], args[1], reason)
	return nil
}

func handlePending(ctx context.Context, ledger service.LedgerService, out io.Writer, args []string) error {
	limit, offset := 50, 0
	var err error
	if len(args) > 0 {
		if limit, err = strconv.Atoi(args[0]); err != nil {
			return fmt.Errorf("invalid limit: %w", err)
		}
	}
	if len(args) > 1 {
		if offset, err = strconv.Atoi(args[1]); err != nil {
			return fmt.Errorf("invalid offset: %w", err)
		}
	}

	pending, err := ledger.ListPendingWithdrawals(ctx, limit, offset)
	if err != nil {
		return describe(err)
	}

	if len(pending) == 0 {
		fmt.Fprintln(out, "No pending withdrawals")
		return nil
	}

	for _, tx := range pending {
		flag := ""
		if tx.IsFlagged {
			flag = " FLAGGED"
			if tx.FlagReason != nil {
				flag += " (" + *tx.FlagReason + ")"
			}
		}
		to := "-"
		if tx.ToAddress != nil {
			to = *tx.ToAddress
		}
		fmt.Fprintf(out, "%s  wallet=%s  %s BTC  to=%s  requested=%s%s\n",
			tx.ID, tx.WalletID, tx.AmountSats.FormatBTC(), to,
			tx.CreatedAt.UTC().Format(time.RFC3339), flag)
	}
	return nil
}

func printWallet(out io.Writer, wallet *models.Wallet) {
	fmt.Fprintf(out, "Wallet %s (user %s)\n", wallet.ID, wallet.UserID)
	fmt.Fprintf(out, "   Balance:   %s BTC\n", wallet.BalanceSats.FormatBTC())
	fmt.Fprintf(out, "   Deposited: %s BTC\n", wallet.TotalDepositedSats.FormatBTC())
	fmt.Fprintf(out, "   Wagered:   %s BTC\n", wallet.TotalWageredSats.FormatBTC())
	if shortfall := wallet.WagerShortfall(); shortfall > 0 {
		fmt.Fprintf(out, "   Wager %s BTC more to unlock withdrawals\n", shortfall.FormatBTC())
	}
}

// describe turns ledger failures into operator-facing messages
func describe(err error) error {
	if shortfall, ok := service.ShortfallOf(err); ok {
		return fmt.Errorf("withdrawal blocked: wager %s BTC more first", shortfall.FormatBTC())
	}
	if errors.Is(err, service.ErrInsufficientFunds) {
		return fmt.Errorf("withdrawal blocked: insufficient balance")
	}
	log.WithField("kind", service.KindOf(err)).Debug("Operator command failed")
	return err
}

func usageError(name string) error {
	return fmt.Errorf("usage: satsledger %s", operatorCommands[name].Usage)
}
