package tab

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/Additional-Code/tally/internal/dto"
	"github.com/Additional-Code/tally/internal/entity"
	"github.com/Additional-Code/tally/internal/presentation/http/response"
	service "github.com/Additional-Code/tally/internal/service/settlement"
	core "github.com/Additional-Code/tally/internal/settlement"
	"github.com/Additional-Code/tally/pkg/errorbank"
)

var httpTracer = otel.Tracer("github.com/Additional-Code/tally/transport/http/tab")

// Handler exposes tab settlement endpoints over HTTP.
type Handler struct {
	svc *service.Service
}

// NewHandler constructs a tab Handler.
func NewHandler(svc *service.Service) *Handler {
	return &Handler{svc: svc}
}

// Register routes with provided Echo instance.
func Register(e *echo.Echo, h *Handler) {
	g := e.Group("/tables")
	g.GET("/:table", h.getTab)
	g.POST("/:table/payments", h.settle)
	g.GET("/:table/payments", h.listPayments)
	g.GET("/:table/reconciliation", h.reconcile)

	e.DELETE("/items/:id", h.removeItem)
}

func (h *Handler) getTab(c echo.Context) error {
	b := response.New(c)

	table, err := tableParam(c)
	if err != nil {
		return b.WithError(err).Build()
	}

	ctx, span := httpTracer.Start(c.Request().Context(), "tables.get", trace.WithAttributes(attribute.Int("table.number", table)))
	defer span.End()

	tab, err := h.svc.Tab(ctx, table)
	if err != nil {
		return b.WithError(err).Build()
	}
	return b.WithData(toTabDTO(tab)).Build()
}

func (h *Handler) settle(c echo.Context) error {
	b := response.New(c)

	table, err := tableParam(c)
	if err != nil {
		return b.WithError(err).Build()
	}

	var payload dto.PaymentRequest
	if err := c.Bind(&payload); err != nil {
		return b.WithError(errorbank.BadRequest("invalid payload", errorbank.WithCause(err))).Build()
	}
	req, err := payload.ToSettlement()
	if err != nil {
		return b.WithError(err).Build()
	}

	ctx, span := httpTracer.Start(c.Request().Context(), "tables.settle", trace.WithAttributes(
		attribute.Int("table.number", table),
		attribute.String("settlement.mode", payload.Mode),
	))
	defer span.End()

	receipt, err := h.svc.Settle(ctx, table, req, entity.PaymentMethod(payload.Method))
	if err != nil {
		return b.WithError(err).Build()
	}

	out := dto.ReceiptResponse{
		Payment:        toPaymentDTO(receipt.Payment),
		TotalPaid:      core.Format(receipt.After.TotalPaid),
		TotalRemaining: core.Format(receipt.After.TotalRemaining),
		Closed:         receipt.Closed,
		ClosedOrderIDs: receipt.ClosedOrderIDs,
		Split:          toSplitDTO(receipt.Split),
	}
	return b.WithStatus(http.StatusCreated).WithData(out).Build()
}

func (h *Handler) listPayments(c echo.Context) error {
	b := response.New(c)

	table, err := tableParam(c)
	if err != nil {
		return b.WithError(err).Build()
	}

	ctx, span := httpTracer.Start(c.Request().Context(), "tables.payments", trace.WithAttributes(attribute.Int("table.number", table)))
	defer span.End()

	payments, err := h.svc.Payments(ctx, table)
	if err != nil {
		return b.WithError(err).Build()
	}
	out := make([]dto.PaymentResponse, 0, len(payments))
	for _, p := range payments {
		out = append(out, toPaymentDTO(p))
	}
	return b.WithData(out).WithMeta("count", len(out)).Build()
}

func (h *Handler) reconcile(c echo.Context) error {
	b := response.New(c)

	table, err := tableParam(c)
	if err != nil {
		return b.WithError(err).Build()
	}

	ctx, span := httpTracer.Start(c.Request().Context(), "tables.reconcile", trace.WithAttributes(attribute.Int("table.number", table)))
	defer span.End()

	report, err := h.svc.Reconcile(ctx, table)
	if err != nil {
		return b.WithError(err).Build()
	}
	return b.WithData(dto.ReconciliationResponse{
		TableNumber:   report.TableNumber,
		PaymentsCount: report.PaymentsCount,
		PaymentsTotal: core.Format(report.PaymentsTotal),
		TotalPaid:     core.Format(report.TotalPaid),
		Difference:    core.Format(report.Difference),
		Balanced:      report.Balanced,
	}).Build()
}

func (h *Handler) removeItem(c echo.Context) error {
	b := response.New(c)

	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return b.WithError(errorbank.BadRequest("invalid id", errorbank.WithCause(err))).Build()
	}

	ctx, span := httpTracer.Start(c.Request().Context(), "items.remove", trace.WithAttributes(attribute.Int64("item.id", id)))
	defer span.End()

	tab, err := h.svc.RemoveItem(ctx, id)
	if err != nil {
		return b.WithError(err).Build()
	}
	return b.WithData(toTabDTO(tab)).Build()
}

func tableParam(c echo.Context) (int, error) {
	table, err := strconv.Atoi(c.Param("table"))
	if err != nil || table <= 0 {
		return 0, errorbank.BadRequest("invalid table number", errorbank.WithCause(err), errorbank.WithCode(service.CodeInvalidSelection))
	}
	return table, nil
}

func toTabDTO(tab *service.Tab) dto.TabResponse {
	bal := tab.Balance
	out := dto.TabResponse{
		TableNumber:    tab.TableNumber,
		TotalOriginal:  core.Format(bal.TotalOriginal),
		PaidViaItems:   core.Format(bal.PaidViaItems),
		PaidViaOrders:  core.Format(bal.PaidViaOrders),
		TotalPaid:      core.Format(bal.TotalPaid),
		TotalRemaining: core.Format(bal.TotalRemaining),
		Settled:        bal.Settled(),
		Orders:         make([]dto.OrderBalanceResponse, 0, len(bal.Orders)),
		UnpaidItems:    make([]dto.ItemResponse, 0, len(bal.UnpaidItems)),
		Split:          toSplitDTO(tab.Split),
	}
	for _, o := range bal.Orders {
		out.Orders = append(out.Orders, dto.OrderBalanceResponse{
			ID:         o.OrderID,
			Status:     string(o.Status),
			Total:      core.Format(o.Total),
			PaidAmount: core.Format(o.PaidAmount),
			PaidItems:  core.Format(o.PaidItems),
		})
	}
	for _, it := range bal.UnpaidItems {
		out.UnpaidItems = append(out.UnpaidItems, dto.ItemResponse{
			ID:        it.ItemID,
			OrderID:   it.OrderID,
			ProductID: it.ProductID,
			Quantity:  it.Quantity,
			UnitPrice: core.Format(it.UnitPrice),
			Subtotal:  core.Format(it.Subtotal),
			CreatedAt: it.CreatedAt,
		})
	}
	for _, p := range tab.Payments {
		out.Payments = append(out.Payments, toPaymentDTO(p))
	}
	return out
}

func toSplitDTO(split *service.SplitProgress) *dto.SplitResponse {
	if split == nil {
		return nil
	}
	return &dto.SplitResponse{
		People:         split.People,
		PerPersonShare: core.Format(split.Share),
		PaidPeople:     split.PaidPeople,
	}
}

func toPaymentDTO(p entity.Payment) dto.PaymentResponse {
	return dto.PaymentResponse{
		ID:          p.ID,
		TableNumber: p.TableNumber,
		OrderID:     p.OrderID,
		Amount:      core.Format(p.Amount),
		Method:      string(p.Method),
		Mode:        string(p.Mode),
		ItemsCount:  p.ItemsCount,
		CreatedAt:   p.CreatedAt,
	}
}
