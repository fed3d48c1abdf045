package otel

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestInitWithoutExporters(t *testing.T) {
	shutdown, err := Init(context.Background(), Config{ServiceName: "bankd"})
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))

	_, err = Init(context.Background(), Config{})
	require.Error(t, err)
}

func TestLedgerResourceCarriesAttributes(t *testing.T) {
	res, err := ledgerResource(Config{ServiceName: "bankd", Environment: "test", Attributes: map[string]string{"bank.chain_id": "187001"}})
	require.NoError(t, err)
	found := false
	for _, kv := range res.Attributes() {
		if string(kv.Key) == "bank.chain_id" {
			found = kv.Value.AsString() == "187001"
		}
	}
	require.True(t, found)
}

func TestRegisterGaugesObservesReaders(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	previous := otel.GetMeterProvider()
	otel.SetMeterProvider(provider)
	t.Cleanup(func() { otel.SetMeterProvider(previous) })

	require.NoError(t, RegisterGauges("test", Gauge{
		Name: "bank.total_deposited",
		Read: func() (float64, error) { return 42, nil },
	}))

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	require.Len(t, rm.ScopeMetrics, 1)
	gauge, ok := rm.ScopeMetrics[0].Metrics[0].Data.(metricdata.Gauge[float64])
	require.True(t, ok)
	require.Equal(t, float64(42), gauge.DataPoints[0].Value)
}

func TestParseHeaders(t *testing.T) {
	headers := ParseHeaders("authorization=Bearer x, ,broken,=empty,team = ledger")
	require.Equal(t, map[string]string{"authorization": "Bearer x", "team": "ledger"}, headers)
}
