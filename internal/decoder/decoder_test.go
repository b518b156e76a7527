package decoder

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abdigaliarsen/deriverse-insights/internal/domain"
)

type stubDecoder struct {
	events []domain.LogEvent
	err    error
	panic  bool
	calls  int
}

func (s *stubDecoder) Decode(context.Context, []string) ([]domain.LogEvent, error) {
	s.calls++
	if s.panic {
		panic("boom")
	}
	return s.events, s.err
}

func TestHTTPDecoder_MapsTags(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req decodeRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, []string{"Program data: x"}, req.Logs)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		_, _ = w.Write([]byte(`{"events":[
			{"tag":18,"side":1,"orderType":1,"instrId":7,"ioc":0,"leverage":5},
			{"tag":19,"side":0,"price":101.5,"perps":2,"rebates":0.01},
			{"tag":23,"fees":-0.2},
			{"tag":42},
			{"tag":10,"side":0,"instrId":3,"ioc":1},
			{"tag":11,"side":1,"instrId":3,"price":20,"qty":4},
			{"tag":15,"fees":0.05}
		]}`))
	}))
	defer srv.Close()

	dec := NewHTTPDecoder(srv.URL, " secret ", 0)
	events, err := dec.Decode(context.Background(), []string{"Program data: x"})
	require.NoError(t, err)
	require.Len(t, events, 6)

	assert.Equal(t, domain.PlaceOrderEvent{
		Market: domain.MarketPerp, InstrumentID: 7, Side: domain.SideSell, OrderType: 1, Leverage: 5,
	}, events[0])
	assert.Equal(t, domain.FillEvent{
		Market: domain.MarketPerp, Side: domain.SideBuy, Price: 101.5, Quantity: 2, Rebate: 0.01,
	}, events[1])
	assert.Equal(t, domain.FeeEvent{Market: domain.MarketPerp, Amount: 0.2}, events[2])
	assert.Equal(t, domain.PlaceOrderEvent{
		Market: domain.MarketSpot, InstrumentID: 3, Side: domain.SideBuy, IOC: true, Leverage: 1,
	}, events[3])
	assert.Equal(t, domain.FillEvent{
		Market: domain.MarketSpot, InstrumentID: 3, Side: domain.SideSell, Price: 20, Quantity: 4,
	}, events[4])
	assert.Equal(t, domain.FeeEvent{Market: domain.MarketSpot, Amount: 0.05}, events[5])
}

func TestHTTPDecoder_Errors(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusUnprocessableEntity)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(int(status.Load()))
		_, _ = w.Write([]byte("nope"))
	}))
	defer srv.Close()

	dec := NewHTTPDecoder(srv.URL, "", 0)

	_, err := dec.Decode(context.Background(), []string{"line"})
	require.Error(t, err)
	assert.False(t, errors.Is(err, domain.ErrDecoderUnavailable))

	status.Store(http.StatusBadGateway)
	_, err = dec.Decode(context.Background(), []string{"line"})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrDecoderUnavailable)

	events, err := dec.Decode(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestHandle_LazyAndReset(t *testing.T) {
	builds := 0
	stub := &stubDecoder{events: []domain.LogEvent{domain.FeeEvent{Amount: 1}}}
	h := NewHandle(func(context.Context) (domain.EventDecoder, error) {
		builds++
		return stub, nil
	})
	assert.Equal(t, 0, builds)

	ctx := context.Background()
	_, err := h.Decode(ctx, []string{"a"})
	require.NoError(t, err)
	_, err = h.Decode(ctx, []string{"b"})
	require.NoError(t, err)
	assert.Equal(t, 1, builds)

	h.Reset()
	_, err = h.Decode(ctx, []string{"c"})
	require.NoError(t, err)
	assert.Equal(t, 2, builds)

	stub.err = domain.ErrDecoderUnavailable
	_, err = h.Decode(ctx, []string{"d"})
	assert.ErrorIs(t, err, domain.ErrDecoderUnavailable)
	stub.err = nil
	_, err = h.Decode(ctx, []string{"e"})
	require.NoError(t, err)
	assert.Equal(t, 3, builds)
}

func TestHandle_FactoryFailure(t *testing.T) {
	h := NewHandle(func(context.Context) (domain.EventDecoder, error) {
		return nil, errors.New("sidecar down")
	})
	_, err := h.Decode(context.Background(), []string{"a"})
	assert.ErrorIs(t, err, domain.ErrDecoderUnavailable)
}

func TestSafe_SwallowsErrorsAndPanics(t *testing.T) {
	ctx := context.Background()

	failing := NewSafe(&stubDecoder{err: errors.New("bad log")}, nil)
	events, err := failing.Decode(ctx, []string{"x"})
	assert.NoError(t, err)
	assert.Empty(t, events)

	panicking := NewSafe(&stubDecoder{panic: true}, nil)
	events, err = panicking.Decode(ctx, []string{"x"})
	assert.NoError(t, err)
	assert.Empty(t, events)

	ok := NewSafe(Static(&stubDecoder{events: []domain.LogEvent{domain.FeeEvent{Amount: 2}}}), nil)
	events, err = ok.Decode(ctx, []string{"x"})
	assert.NoError(t, err)
	assert.Len(t, events, 1)
}
