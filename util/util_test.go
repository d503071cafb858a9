package util

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestResolveTemplate(t *testing.T) {
	data := map[string]any{
		"params": map[string]any{
			"customer": "Acme",
			"amount":   42,
		},
	}
	out := ResolveTemplate(data, "Draft an invoice for {$.params.customer} of {$.params.amount} USD {$.params.missing} {literal}")
	require.Equal(t, "Draft an invoice for Acme of 42 USD {$.params.missing} {literal}", out)
}

func TestJsonEncDec(t *testing.T) {
	type rec struct {
		Name string `json:"name"`
	}
	encDec := NewJsonEncoderDecoder[rec]()
	data, err := encDec.Encode(rec{Name: "x"})
	require.NoError(t, err)
	out, err := encDec.Decode(data)
	require.NoError(t, err)
	require.Equal(t, "x", out.Name)

	all, err := DecodeAll(encDec, [][]byte{data, []byte(`{"name":"y"}`)})
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.Equal(t, "y", all[1].Name)

	_, err = DecodeAll(encDec, [][]byte{data, []byte("{")})
	require.ErrorContains(t, err, "decode")
}

func TestWorkerStopsAndPolls(t *testing.T) {
	var wg sync.WaitGroup
	var calls int32
	stop := make(chan struct{})
	w := NewWorker("test", 5*time.Millisecond, stop, func() bool {
		return atomic.AddInt32(&calls, 1) < 3
	}, &wg)
	w.Start()
	require.Eventually(t, func() bool { return atomic.LoadInt32(&calls) >= 4 }, time.Second, time.Millisecond)
	w.Stop()
	wg.Wait()
	require.False(t, w.IsRunning())
}

func TestTickWorker(t *testing.T) {
	var wg sync.WaitGroup
	var ticks int32
	tw := NewTickWorker("tick", 2*time.Millisecond, make(chan struct{}), func() {
		atomic.AddInt32(&ticks, 1)
	}, &wg)
	tw.Start()
	require.True(t, tw.IsRunning())
	require.Eventually(t, func() bool { return atomic.LoadInt32(&ticks) >= 2 }, time.Second, time.Millisecond)
	tw.Stop()
	wg.Wait()
	require.False(t, tw.IsRunning())
}

func TestStripedLock(t *testing.T) {
	lock := NewStripedLock(4)
	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			lock.Lock("run-1")
			counter++
			lock.Unlock("run-1")
		}()
	}
	wg.Wait()
	require.Equal(t, 50, counter)
	require.Same(t, lock.stripe("run-1"), lock.stripe("run-1"))
}
