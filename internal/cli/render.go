package cli

import (
	"fmt"
	"io"

	"github.com/fatih/color"

	service "github.com/Additional-Code/tally/internal/service/settlement"
	core "github.com/Additional-Code/tally/internal/settlement"
	"github.com/Additional-Code/tally/pkg/errorbank"
)

var (
	heading  = color.New(color.Bold, color.FgCyan)
	emphasis = color.New(color.Bold)
	success  = color.New(color.FgGreen)
	warning  = color.New(color.FgYellow)
	failure  = color.New(color.FgRed, color.Bold)
	muted    = color.New(color.FgHiBlack)
)

func renderTab(w io.Writer, tab *service.Tab) {
	b := tab.Balance
	heading.Fprintf(w, "Table %d\n", tab.TableNumber)
	fmt.Fprintf(w, "  original   %10s\n", core.Format(b.TotalOriginal))
	fmt.Fprintf(w, "  paid       %10s  %s\n", core.Format(b.TotalPaid),
		muted.Sprintf("(items %s, orders %s)", core.Format(b.PaidViaItems), core.Format(b.PaidViaOrders)))
	if b.Settled() {
		success.Fprintf(w, "  remaining  %10s  settled\n", core.Format(b.TotalRemaining))
	} else {
		warning.Fprintf(w, "  remaining  %10s\n", core.Format(b.TotalRemaining))
	}

	if len(b.Orders) > 0 {
		emphasis.Fprintln(w, "  orders")
		for _, o := range b.Orders {
			fmt.Fprintf(w, "    #%-6d %-9s total %9s  paid %9s\n", o.OrderID, o.Status, core.Format(o.Total), core.Format(o.PaidAmount))
		}
	}

	if len(b.UnpaidItems) > 0 {
		emphasis.Fprintln(w, "  unpaid items")
		for _, it := range b.UnpaidItems {
			fmt.Fprintf(w, "    item %-6d order %-6d %2d x %8s = %9s\n",
				it.ItemID, it.OrderID, it.Quantity, core.Format(it.UnitPrice), core.Format(it.Subtotal))
		}
	}

	if s := tab.Split; s != nil {
		fmt.Fprintf(w, "  split      %d people x %s, %d paid\n", s.People, core.Format(s.Share), s.PaidPeople)
	}

	if len(tab.Payments) > 0 {
		emphasis.Fprintln(w, "  payments")
		for _, p := range tab.Payments {
			fmt.Fprintf(w, "    #%-6d %-9s %-11s %9s  %s\n", p.ID, p.Mode, p.Method, core.Format(p.Amount),
				muted.Sprint(p.CreatedAt.Format("2006-01-02 15:04:05")))
		}
	}
}

func renderReceipt(w io.Writer, r *service.Receipt) {
	success.Fprintf(w, "collected %s via %s (%s)\n", core.Format(r.Payment.Amount), r.Payment.Method, r.Payment.Mode)
	fmt.Fprintf(w, "  remaining %s -> %s\n", core.Format(r.Before.TotalRemaining), core.Format(r.After.TotalRemaining))
	if s := r.Split; s != nil {
		fmt.Fprintf(w, "  split     %d of %d shares paid (%s each)\n", s.PaidPeople, s.People, core.Format(s.Share))
	}
	if r.Closed {
		heading.Fprintf(w, "  tab closed, orders %v\n", r.ClosedOrderIDs)
	}
}

func renderReconciliation(w io.Writer, rec *service.Reconciliation) {
	heading.Fprintf(w, "Table %d reconciliation\n", rec.TableNumber)
	fmt.Fprintf(w, "  payments   %d totalling %s\n", rec.PaymentsCount, core.Format(rec.PaymentsTotal))
	fmt.Fprintf(w, "  ledger     %s\n", core.Format(rec.TotalPaid))
	if rec.Balanced {
		success.Fprintln(w, "  balanced")
		return
	}
	failure.Fprintf(w, "  difference %s\n", core.Format(rec.Difference))
}

func renderError(w io.Writer, err error) {
	appErr := errorbank.From(err)
	failure.Fprintf(w, "%s", appErr.Message())
	if code := appErr.Code(); code != "" {
		muted.Fprintf(w, " [%s]", code)
	}
	if appErr.Retryable() {
		warning.Fprint(w, " (retryable)")
	}
	fmt.Fprintln(w)
}
