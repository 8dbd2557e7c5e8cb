package handler

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/rl1809/stock-allocation/internal/core/service"
	"github.com/rl1809/stock-allocation/internal/metrics"
)

const serviceName = "allocation.v1.AllocationService"

// SaleRef names a sale.
type SaleRef struct {
	SaleID string `json:"sale_id"`
}

type AllocationServiceServer interface {
	CreateSale(context.Context, *SaleRequest) (*SaleView, error)
	UpdateSale(context.Context, *SaleRequest) (*SaleView, error)
	DeleteSale(context.Context, *SaleRef) (*Response, error)
	GetSale(context.Context, *SaleRef) (*SaleView, error)
	ListAvailableBatches(context.Context, *BatchListRequest) (*BatchList, error)
	Verify(context.Context, *VerifyRequest) (*ReportView, error)
}

var AllocationServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*AllocationServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "CreateSale", Handler: unary("CreateSale", AllocationServiceServer.CreateSale)},
		{MethodName: "UpdateSale", Handler: unary("UpdateSale", AllocationServiceServer.UpdateSale)},
		{MethodName: "DeleteSale", Handler: unary("DeleteSale", AllocationServiceServer.DeleteSale)},
		{MethodName: "GetSale", Handler: unary("GetSale", AllocationServiceServer.GetSale)},
		{MethodName: "ListAvailableBatches", Handler: unary("ListAvailableBatches", AllocationServiceServer.ListAvailableBatches)},
		{MethodName: "Verify", Handler: unary("Verify", AllocationServiceServer.Verify)},
	},
	Streams: []grpc.StreamDesc{},
}

func RegisterAllocationServiceServer(s grpc.ServiceRegistrar, srv AllocationServiceServer) {
	s.RegisterService(&AllocationServiceDesc, srv)
}

func unary[Req, Resp any](method string, call func(AllocationServiceServer, context.Context, *Req) (*Resp, error)) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(AllocationServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(method)}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(AllocationServiceServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

func fullMethod(method string) string {
	return "/" + serviceName + "/" + method
}

var _ AllocationServiceServer = (*GRPCHandler)(nil)

type GRPCHandler struct {
	allocations *service.AllocationService
	metrics     *metrics.Metrics
}

func NewGRPCHandler(allocations *service.AllocationService, m *metrics.Metrics) *GRPCHandler {
	return &GRPCHandler{allocations: allocations, metrics: m}
}

func (h *GRPCHandler) CreateSale(ctx context.Context, req *SaleRequest) (*SaleView, error) {
	start := time.Now()
	create, err := req.toCreate()
	if err != nil {
		return nil, statusError(err)
	}

	result, err := h.allocations.CreateSaleAllocation(ctx, create)
	h.metrics.ObserveSaleOperation("grpc", "create", outcomeOf(err), time.Since(start))
	if err != nil {
		return nil, statusError(err)
	}
	view := newSaleView(result)
	return &view, nil
}

func (h *GRPCHandler) UpdateSale(ctx context.Context, req *SaleRequest) (*SaleView, error) {
	start := time.Now()
	if req.SaleID == "" {
		return nil, status.Error(codes.InvalidArgument, "sale_id is required")
	}
	update, err := req.toUpdate(req.SaleID)
	if err != nil {
		return nil, statusError(err)
	}

	result, err := h.allocations.UpdateSaleAllocation(ctx, update)
	h.metrics.ObserveSaleOperation("grpc", "update", outcomeOf(err), time.Since(start))
	if err != nil {
		return nil, statusError(err)
	}
	view := newSaleView(result)
	return &view, nil
}

func (h *GRPCHandler) DeleteSale(ctx context.Context, req *SaleRef) (*Response, error) {
	start := time.Now()
	err := h.allocations.DeleteSaleAllocation(ctx, req.SaleID)
	h.metrics.ObserveSaleOperation("grpc", "delete", outcomeOf(err), time.Since(start))
	if err != nil {
		return nil, statusError(err)
	}
	return &Response{Success: true, Message: "sale deleted"}, nil
}

func (h *GRPCHandler) GetSale(ctx context.Context, req *SaleRef) (*SaleView, error) {
	result, err := h.allocations.GetSale(ctx, req.SaleID)
	if err != nil {
		return nil, statusError(err)
	}
	view := newSaleView(result)
	return &view, nil
}

func (h *GRPCHandler) ListAvailableBatches(ctx context.Context, req *BatchListRequest) (*BatchList, error) {
	if req.ItemID <= 0 {
		return nil, status.Error(codes.InvalidArgument, "item_id is required")
	}
	q, err := req.query()
	if err != nil {
		return nil, statusError(err)
	}
	batches, err := h.allocations.ListAvailableBatches(ctx, req.ItemID, q)
	if err != nil {
		return nil, statusError(err)
	}
	list := newBatchList(batches)
	return &list, nil
}

func (h *GRPCHandler) Verify(ctx context.Context, req *VerifyRequest) (*ReportView, error) {
	if req.ItemID <= 0 {
		return nil, status.Error(codes.InvalidArgument, "item_id is required")
	}
	report, err := h.allocations.Verify(ctx, req.ItemID)
	if err != nil {
		return nil, statusError(err)
	}
	h.metrics.ObserveDrift(strconv.FormatInt(req.ItemID, 10), report.Drift.InexactFloat64(), report.Healthy())
	view := newReportView(report)
	return &view, nil
}

func statusError(err error) error {
	f := classify(err)
	return status.Error(f.code, f.message)
}

// UnaryLoggingInterceptor logs every call with its status code and latency.
func UnaryLoggingInterceptor(log *slog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		code := status.Code(err)
		level := slog.LevelInfo
		if code == codes.Internal || code == codes.Unknown {
			level = slog.LevelError
		}
		log.Log(ctx, level, "grpc call",
			"method", info.FullMethod,
			"code", code.String(),
			"took", time.Since(start),
		)
		return resp, err
	}
}

// AllocationServiceClient calls the allocation service over the JSON codec.
type AllocationServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewAllocationServiceClient(cc grpc.ClientConnInterface) *AllocationServiceClient {
	return &AllocationServiceClient{cc: cc}
}

func invoke[Resp any](ctx context.Context, cc grpc.ClientConnInterface, method string, in any, opts []grpc.CallOption) (*Resp, error) {
	out := new(Resp)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(codecName)}, opts...)
	if err := cc.Invoke(ctx, fullMethod(method), in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *AllocationServiceClient) CreateSale(ctx context.Context, in *SaleRequest, opts ...grpc.CallOption) (*SaleView, error) {
	return invoke[SaleView](ctx, c.cc, "CreateSale", in, opts)
}

func (c *AllocationServiceClient) UpdateSale(ctx context.Context, in *SaleRequest, opts ...grpc.CallOption) (*SaleView, error) {
	return invoke[SaleView](ctx, c.cc, "UpdateSale", in, opts)
}

func (c *AllocationServiceClient) DeleteSale(ctx context.Context, in *SaleRef, opts ...grpc.CallOption) (*Response, error) {
	return invoke[Response](ctx, c.cc, "DeleteSale", in, opts)
}

func (c *AllocationServiceClient) GetSale(ctx context.Context, in *SaleRef, opts ...grpc.CallOption) (*SaleView, error) {
	return invoke[SaleView](ctx, c.cc, "GetSale", in, opts)
}

func (c *AllocationServiceClient) ListAvailableBatches(ctx context.Context, in *BatchListRequest, opts ...grpc.CallOption) (*BatchList, error) {
	return invoke[BatchList](ctx, c.cc, "ListAvailableBatches", in, opts)
}

func (c *AllocationServiceClient) Verify(ctx context.Context, in *VerifyRequest, opts ...grpc.CallOption) (*ReportView, error) {
	return invoke[ReportView](ctx, c.cc, "Verify", in, opts)
}
