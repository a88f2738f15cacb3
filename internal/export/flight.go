// Package export ships extracted matrices to a longbow store over
// Arrow Flight. Rank-2 tensors (similarity maps, collapsed token
// matrices) travel as records of fixed-size float32 list rows.
package export

import (
	"context"
	"fmt"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/flight"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/23skdu/longbow-spyglass/internal/device"
	"github.com/23skdu/longbow-spyglass/internal/metrics"
)

// Default Flight data port of a longbow store.
const PortData = 3000

// Client publishes matrices to a Flight endpoint.
type Client interface {
	Connect(ctx context.Context) error
	Close() error
	PublishMatrix(ctx context.Context, name string, m *device.Tensor, metadata map[string]string) error
}

// FlightClient is the gRPC-backed Client.
type FlightClient struct {
	client  flight.Client
	addr    string
	timeout time.Duration
}

func NewFlightClient(host string, port int) *FlightClient {
	if port <= 0 {
		port = PortData
	}
	return &FlightClient{
		addr:    fmt.Sprintf("%s:%d", host, port),
		timeout: 30 * time.Second,
	}
}

func (fc *FlightClient) Connect(ctx context.Context) error {
	client, err := flight.NewClientWithMiddleware(fc.addr, nil, nil,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return fmt.Errorf("failed to create Flight client: %w", err)
	}
	fc.client = client
	return nil
}

func (fc *FlightClient) Close() error {
	if fc.client != nil {
		return fc.client.Close()
	}
	return nil
}

// PublishMatrix sends a rank-2 tensor as one record batch under the
// given descriptor path.
func (fc *FlightClient) PublishMatrix(ctx context.Context, name string, m *device.Tensor, md map[string]string) error {
	if fc.client == nil {
		metrics.RecordFlightExport(false)
		return fmt.Errorf("client not connected, call Connect() first")
	}
	if m.Rank() != 2 {
		metrics.RecordFlightExport(false)
		return fmt.Errorf("publish %s: rank-2 tensor required, got dims %v", name, m.Dims())
	}

	rows := m.Dim(0)
	cols := m.Dim(1)

	meta := arrow.MetadataFrom(md)
	schema := arrow.NewSchema([]arrow.Field{
		{Name: "row", Type: arrow.FixedSizeListOf(int32(cols), arrow.PrimitiveTypes.Float32)},
		{Name: "index", Type: arrow.PrimitiveTypes.Int32},
	}, &meta)

	bld := array.NewRecordBuilder(memory.DefaultAllocator, schema)
	defer bld.Release()

	rowBld := bld.Field(0).(*array.FixedSizeListBuilder)
	valBld := rowBld.ValueBuilder().(*array.Float32Builder)
	idxBld := bld.Field(1).(*array.Int32Builder)

	for i := 0; i < rows; i++ {
		rowBld.Append(true)
		valBld.AppendValues(m.Row(i), nil)
		idxBld.Append(int32(i))
	}

	rec := bld.NewRecord()
	defer rec.Release()

	ctx, cancel := context.WithTimeout(ctx, fc.timeout)
	defer cancel()

	stream, err := fc.client.DoPut(ctx)
	if err != nil {
		metrics.RecordFlightExport(false)
		return fmt.Errorf("failed to open DoPut stream: %w", err)
	}

	wr := flight.NewRecordWriter(stream, ipc.WithSchema(schema))
	wr.SetFlightDescriptor(&flight.FlightDescriptor{
		Type: flight.DescriptorPATH,
		Path: []string{name},
	})

	if err := wr.Write(rec); err != nil {
		wr.Close()
		metrics.RecordFlightExport(false)
		return fmt.Errorf("failed to write record: %w", err)
	}
	if err := wr.Close(); err != nil {
		metrics.RecordFlightExport(false)
		return fmt.Errorf("failed to close writer: %w", err)
	}
	if err := stream.CloseSend(); err != nil {
		metrics.RecordFlightExport(false)
		return fmt.Errorf("failed to close stream: %w", err)
	}

	metrics.RecordFlightExport(true)
	return nil
}
