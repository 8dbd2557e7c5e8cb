package handler

import (
	"context"
	"io"
	"log/slog"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/rl1809/stock-allocation/internal/core/domain"
)

func (e *testEnv) grpcClient(t *testing.T) *AllocationServiceClient {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv := grpc.NewServer(grpc.ChainUnaryInterceptor(UnaryLoggingInterceptor(log)))
	RegisterAllocationServiceServer(srv, NewGRPCHandler(e.svc, e.metrics))
	go srv.Serve(lis)
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return NewAllocationServiceClient(conn)
}

func TestGRPC_SaleLifecycle(t *testing.T) {
	env := newTestEnv(t)
	client := env.grpcClient(t)
	ctx := context.Background()

	created, err := client.CreateSale(ctx, &SaleRequest{ItemID: env.item.ID, Quantity: domain.Qty("100")})
	require.NoError(t, err)
	assert.Equal(t, "allocated", created.Status)
	assert.True(t, created.Quantity.Equal(domain.Qty("100")))

	updated, err := client.UpdateSale(ctx, &SaleRequest{SaleID: created.ID, Quantity: domain.Qty("150")})
	require.NoError(t, err)
	assert.True(t, updated.Quantity.Equal(domain.Qty("150")))

	got, err := client.GetSale(ctx, &SaleRef{SaleID: created.ID})
	require.NoError(t, err)
	require.Len(t, got.Allocations, 1)
	assert.True(t, got.Allocations[0].Quantity.Equal(domain.Qty("150")))

	list, err := client.ListAvailableBatches(ctx, &BatchListRequest{ItemID: env.item.ID})
	require.NoError(t, err)
	require.Len(t, list.Batches, 2)
	assert.True(t, list.Batches[0].Remaining.Equal(domain.Qty("259.5")))

	report, err := client.Verify(ctx, &VerifyRequest{ItemID: env.item.ID})
	require.NoError(t, err)
	assert.True(t, report.Healthy)

	resp, err := client.DeleteSale(ctx, &SaleRef{SaleID: created.ID})
	require.NoError(t, err)
	assert.True(t, resp.Success)

	_, err = client.GetSale(ctx, &SaleRef{SaleID: created.ID})
	assert.Equal(t, codes.NotFound, status.Code(err))
}

func TestGRPC_ErrorCodes(t *testing.T) {
	env := newTestEnv(t)
	client := env.grpcClient(t)
	ctx := context.Background()

	_, err := client.CreateSale(ctx, &SaleRequest{ItemID: env.item.ID, Quantity: domain.Qty("1000")})
	assert.Equal(t, codes.FailedPrecondition, status.Code(err))

	_, err = client.CreateSale(ctx, &SaleRequest{ItemID: env.item.ID, Quantity: domain.Qty("-1")})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = client.UpdateSale(ctx, &SaleRequest{Quantity: domain.Qty("1")})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = client.DeleteSale(ctx, &SaleRef{SaleID: "missing"})
	assert.Equal(t, codes.NotFound, status.Code(err))

	_, err = client.Verify(ctx, &VerifyRequest{})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = client.CreateSale(ctx, &SaleRequest{SaleID: "dup", ItemID: env.item.ID, Quantity: domain.Qty("1")})
	require.NoError(t, err)
	_, err = client.CreateSale(ctx, &SaleRequest{SaleID: "dup", ItemID: env.item.ID, Quantity: domain.Qty("1")})
	assert.Equal(t, codes.AlreadyExists, status.Code(err))
}

func TestClassify_ConcurrencyAndInternal(t *testing.T) {
	assert.Equal(t, codes.Aborted, classify(domain.ErrConcurrentModification).code)
	assert.Equal(t, 503, classify(domain.ErrConcurrentModification).status)

	over := classify(domain.ErrOverAllocation)
	assert.Equal(t, codes.Internal, over.code)
	assert.Equal(t, 500, over.status)
	assert.Equal(t, "internal error", over.message)
}
