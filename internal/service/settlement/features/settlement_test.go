package features

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/cucumber/godog"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Additional-Code/tally/internal/cache"
	"github.com/Additional-Code/tally/internal/config"
	"github.com/Additional-Code/tally/internal/entity"
	"github.com/Additional-Code/tally/internal/repository/ledger"
	service "github.com/Additional-Code/tally/internal/service/settlement"
	core "github.com/Additional-Code/tally/internal/settlement"
	"github.com/Additional-Code/tally/pkg/errorbank"
)

type settlementTestContext struct {
	store   *ledger.Memory
	svc     *service.Service
	items   map[string]int64
	receipt *service.Receipt
	err     error
}

func (c *settlementTestContext) reset() {
	c.store = ledger.NewMemory()
	var cfg config.Config
	cfg.Settlement = config.Settlement{StoreTimeout: 5 * time.Second, SplitSessionTTL: time.Hour}
	c.svc = service.NewService(service.Params{
		Store:  c.store,
		Cache:  cache.NewMemoryStore(time.Hour),
		Config: cfg,
		Logger: zap.NewNop(),
	})
	c.items = make(map[string]int64)
	c.receipt = nil
	c.err = nil
}

// tableHasAnOrderOf parses lines such as "2x12.50, 1x5.00".
func (c *settlementTestContext) tableHasAnOrderOf(table int, lines string) error {
	var items []entity.OrderItem
	for i, line := range strings.Split(lines, ",") {
		qty, price, ok := strings.Cut(strings.TrimSpace(line), "x")
		if !ok {
			return fmt.Errorf("malformed line %q", line)
		}
		quantity, err := strconv.Atoi(qty)
		if err != nil {
			return err
		}
		unit, err := decimal.NewFromString(price)
		if err != nil {
			return err
		}
		items = append(items, entity.OrderItem{ProductID: int64(100 + i), Quantity: quantity, UnitPrice: unit})
	}

	order := &entity.Order{TableNumber: &table, Status: entity.OrderStatusPending}
	if err := c.store.CreateOrder(context.Background(), order, items); err != nil {
		return err
	}
	for _, it := range items {
		key := core.Format(it.UnitPrice)
		if _, seen := c.items[key]; !seen {
			c.items[key] = it.ID
		}
	}
	return nil
}

func (c *settlementTestContext) settle(table int, req core.Request, method string) {
	c.receipt, c.err = c.svc.Settle(context.Background(), table, req, entity.PaymentMethod(method))
}

func (c *settlementTestContext) tablePaysInFullWith(table int, method string) error {
	c.settle(table, core.Full{}, method)
	return nil
}

func (c *settlementTestContext) tablePaysForTheItemPricedWith(table int, price, method string) error {
	id, ok := c.items[price]
	if !ok {
		return fmt.Errorf("no item priced %s", price)
	}
	c.settle(table, core.ByItems{ItemIDs: []int64{id}}, method)
	return nil
}

func (c *settlementTestContext) tableSplitsTheBillBetweenPeopleWith(table, people int, method string) error {
	c.settle(table, core.ByPeople{People: people}, method)
	return nil
}

func (c *settlementTestContext) tablePaysWith(table int, amount, method string) error {
	value, err := decimal.NewFromString(amount)
	if err != nil {
		return err
	}
	c.settle(table, core.ByValue{Amount: value}, method)
	return nil
}

func (c *settlementTestContext) thePaymentCollected(amount string) error {
	if c.err != nil {
		return fmt.Errorf("expected a payment but got error: %v", c.err)
	}
	if got := core.Format(c.receipt.Payment.Amount); got != amount {
		return fmt.Errorf("expected payment %s, got %s", amount, got)
	}
	return nil
}

func (c *settlementTestContext) theTabIsClosed() error {
	if c.err != nil {
		return fmt.Errorf("expected a payment but got error: %v", c.err)
	}
	if !c.receipt.Closed {
		return errors.New("expected the tab to close")
	}
	return nil
}

func (c *settlementTestContext) theTabIsStillOpen() error {
	if c.err != nil {
		return fmt.Errorf("expected a payment but got error: %v", c.err)
	}
	if c.receipt.Closed {
		return errors.New("expected the tab to stay open")
	}
	return nil
}

func (c *settlementTestContext) tableHasRemaining(table int, amount string) error {
	tab, err := c.svc.Tab(context.Background(), table)
	if err != nil {
		return err
	}
	if got := core.Format(tab.Balance.TotalRemaining); got != amount {
		return fmt.Errorf("expected %s remaining, got %s", amount, got)
	}
	return nil
}

func (c *settlementTestContext) theOrderTotallingHasPaid(total, paid string) error {
	if c.err != nil {
		return fmt.Errorf("expected a payment but got error: %v", c.err)
	}
	for _, o := range c.receipt.After.Orders {
		if core.Format(o.Total) != total {
			continue
		}
		if got := core.Format(o.PaidAmount); got != paid {
			return fmt.Errorf("expected order %d to have paid %s, got %s", o.OrderID, paid, got)
		}
		return nil
	}
	return fmt.Errorf("no order totalling %s", total)
}

func (c *settlementTestContext) theSettlementFailsWith(code string) error {
	if c.err == nil {
		return errors.New("expected the settlement to fail but it succeeded")
	}
	if got := errorbank.From(c.err).Code(); got != code {
		return fmt.Errorf("expected code %s, got %s (%v)", code, got, c.err)
	}
	return nil
}

func InitializeScenario(ctx *godog.ScenarioContext) {
	tc := &settlementTestContext{}

	ctx.Before(func(ctx context.Context, sc *godog.Scenario) (context.Context, error) {
		tc.reset()
		return ctx, nil
	})

	// Given steps
	ctx.Step(`^table (\d+) has an order of "([^"]*)"$`, tc.tableHasAnOrderOf)

	// When steps
	ctx.Step(`^table (\d+) pays in full with "([^"]*)"$`, tc.tablePaysInFullWith)
	ctx.Step(`^table (\d+) pays for the item priced "([^"]*)" with "([^"]*)"$`, tc.tablePaysForTheItemPricedWith)
	ctx.Step(`^table (\d+) splits the bill between (\d+) people with "([^"]*)"$`, tc.tableSplitsTheBillBetweenPeopleWith)
	ctx.Step(`^table (\d+) pays "([^"]*)" with "([^"]*)"$`, tc.tablePaysWith)

	// Then steps
	ctx.Step(`^the payment collected "([^"]*)"$`, tc.thePaymentCollected)
	ctx.Step(`^the tab is closed$`, tc.theTabIsClosed)
	ctx.Step(`^the tab is still open$`, tc.theTabIsStillOpen)
	ctx.Step(`^table (\d+) has "([^"]*)" remaining$`, tc.tableHasRemaining)
	ctx.Step(`^the order totalling "([^"]*)" has paid "([^"]*)"$`, tc.theOrderTotallingHasPaid)
	ctx.Step(`^the settlement fails with "([^"]*)"$`, tc.theSettlementFailsWith)
}

func TestFeatures(t *testing.T) {
	suite := godog.TestSuite{
		ScenarioInitializer: InitializeScenario,
		Options: &godog.Options{
			Format:   "pretty",
			Paths:    []string{"settlement.feature"},
			TestingT: t,
		},
	}

	if suite.Run() != 0 {
		t.Fatal("non-zero status returned, failed to run feature tests")
	}
}
