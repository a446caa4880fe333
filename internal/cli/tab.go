package cli

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/tally/internal/app"
	"github.com/Additional-Code/tally/internal/cache"
	"github.com/Additional-Code/tally/internal/config"
	"github.com/Additional-Code/tally/internal/dto"
	"github.com/Additional-Code/tally/internal/entity"
	"github.com/Additional-Code/tally/internal/repository/ledger"
	"github.com/Additional-Code/tally/internal/seeder"
	service "github.com/Additional-Code/tally/internal/service/settlement"
	core "github.com/Additional-Code/tally/internal/settlement"
)

// withService runs fn against a settlement service wired from configuration.
func withService(cmd *cobra.Command, fn func(ctx context.Context, svc *service.Service) error) error {
	var svc *service.Service
	opts := fx.Options(app.Core, fx.Populate(&svc))
	return runWithApp(cmd.Context(), opts, func(ctx context.Context) error {
		return fn(ctx, svc)
	})
}

func tableArg(arg string) (int, error) {
	table, err := strconv.Atoi(arg)
	if err != nil || table <= 0 {
		return 0, fmt.Errorf("invalid table number %q", arg)
	}
	return table, nil
}

func newTabCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tab [table]",
		Short: "Show a table's balance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			table, err := tableArg(args[0])
			if err != nil {
				return err
			}
			return withService(cmd, func(ctx context.Context, svc *service.Service) error {
				tab, err := svc.Tab(ctx, table)
				if err != nil {
					renderError(cmd.ErrOrStderr(), err)
					return err
				}
				renderTab(cmd.OutOrStdout(), tab)
				return nil
			})
		},
	}
}

func newSettleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settle [table]",
		Short: "Record a payment against a table",
		Example: "  tally settle 4 --mode full --method cash\n" +
			"  tally settle 4 --mode by_items --items 12,13 --method card\n" +
			"  tally settle 4 --mode by_people --people 3 --method qr_transfer\n" +
			"  tally settle 4 --mode by_value --amount 25.00 --method cash",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			table, err := tableArg(args[0])
			if err != nil {
				return err
			}
			payload, err := paymentFromFlags(cmd)
			if err != nil {
				return err
			}
			req, err := payload.ToSettlement()
			if err != nil {
				renderError(cmd.ErrOrStderr(), err)
				return err
			}
			return withService(cmd, func(ctx context.Context, svc *service.Service) error {
				receipt, err := svc.Settle(ctx, table, req, entity.PaymentMethod(payload.Method))
				if err != nil {
					renderError(cmd.ErrOrStderr(), err)
					return err
				}
				renderReceipt(cmd.OutOrStdout(), receipt)
				return nil
			})
		},
	}
	cmd.Flags().String("mode", string(entity.ModeFull), "full, by_items, by_people or by_value")
	cmd.Flags().String("method", string(entity.PaymentMethodCash), "cash, card or qr_transfer")
	cmd.Flags().Int64Slice("items", nil, "Item ids for by_items")
	cmd.Flags().Int("people", 0, "Head count for by_people")
	cmd.Flags().String("amount", "", "Amount for by_value")
	return cmd
}

// paymentFromFlags sets only the flags given explicitly, so a flag that does
// not belong to the mode is rejected like a foreign JSON field.
func paymentFromFlags(cmd *cobra.Command) (dto.PaymentRequest, error) {
	flags := cmd.Flags()
	var p dto.PaymentRequest
	p.Mode, _ = flags.GetString("mode")
	p.Method, _ = flags.GetString("method")

	if flags.Changed("items") {
		ids, err := flags.GetInt64Slice("items")
		if err != nil {
			return p, err
		}
		p.ItemIDs = ids
	}
	if flags.Changed("people") {
		people, err := flags.GetInt("people")
		if err != nil {
			return p, err
		}
		p.People = &people
	}
	if flags.Changed("amount") {
		raw, _ := flags.GetString("amount")
		amount, err := core.ParseAmount(raw)
		if err != nil {
			return p, fmt.Errorf("invalid amount %q: %w", raw, err)
		}
		p.Amount = &amount
	}
	return p, nil
}

func newReconcileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile [table]",
		Short: "Compare a table's payments with its ledger balance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			table, err := tableArg(args[0])
			if err != nil {
				return err
			}
			return withService(cmd, func(ctx context.Context, svc *service.Service) error {
				rec, err := svc.Reconcile(ctx, table)
				if err != nil {
					renderError(cmd.ErrOrStderr(), err)
					return err
				}
				renderReconciliation(cmd.OutOrStdout(), rec)
				if !rec.Balanced {
					return fmt.Errorf("table %d is off by %s", table, core.Format(rec.Difference))
				}
				return nil
			})
		},
	}
}

func newRemoveItemCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove-item [item]",
		Short: "Remove an unpaid item from its order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil || id <= 0 {
				return fmt.Errorf("invalid item id %q", args[0])
			}
			return withService(cmd, func(ctx context.Context, svc *service.Service) error {
				tab, err := svc.RemoveItem(ctx, id)
				if err != nil {
					renderError(cmd.ErrOrStderr(), err)
					return err
				}
				renderTab(cmd.OutOrStdout(), tab)
				return nil
			})
		},
	}
}

func newDemoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "demo",
		Short: "Settle the demo tables against an in-memory ledger",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDemo(cmd.Context(), cmd.OutOrStdout())
		},
	}
}

type demoStep struct {
	title  string
	table  int
	req    core.Request
	method entity.PaymentMethod
}

// runDemo seeds the sample tables in memory and walks through every mode.
func runDemo(ctx context.Context, w io.Writer) error {
	store := ledger.NewMemory()
	if _, err := seeder.New(store, zap.NewNop()).Tables(ctx); err != nil {
		return err
	}

	var cfg config.Config
	cfg.Settlement = config.Settlement{StoreTimeout: 5 * time.Second, SplitSessionTTL: time.Hour}
	svc := service.NewService(service.Params{
		Store:  store,
		Cache:  cache.NewMemoryStore(time.Hour),
		Config: cfg,
		Logger: zap.NewNop(),
	})

	first, err := svc.Tab(ctx, 3)
	if err != nil {
		return err
	}
	if len(first.Balance.UnpaidItems) == 0 {
		return fmt.Errorf("demo table 3 has no items")
	}

	steps := []demoStep{
		{"three guests split table 2", 2, core.ByPeople{People: 3}, entity.PaymentMethodCard},
		{"second guest", 2, core.ByPeople{People: 3}, entity.PaymentMethodCash},
		{"last guest absorbs the rounding", 2, core.ByPeople{People: 3}, entity.PaymentMethodQRTransfer},
		{"table 3 pays one dish", 3, core.ByItems{ItemIDs: []int64{first.Balance.UnpaidItems[0].ItemID}}, entity.PaymentMethodCard},
		{"table 3 leaves a deposit", 3, core.ByValue{Amount: decimal.RequireFromString("10.00")}, entity.PaymentMethodCash},
		{"table 3 settles up", 3, core.Full{}, entity.PaymentMethodCard},
		{"table 1 pays both checks at once", 1, core.Full{}, entity.PaymentMethodCash},
	}

	for _, step := range steps {
		emphasis.Fprintf(w, "\n> %s\n", step.title)
		receipt, err := svc.Settle(ctx, step.table, step.req, step.method)
		if err != nil {
			renderError(w, err)
			return err
		}
		renderReceipt(w, receipt)
	}

	collected := decimal.Zero
	payments := store.Payments()
	for _, p := range payments {
		collected = collected.Add(p.Amount)
	}
	heading.Fprintf(w, "\n%d payments collected %s\n", len(payments), core.Format(collected))
	return nil
}
