// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package adapter_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/admesh/mediation/internal/testing/fakes"
	"github.com/admesh/mediation/pkg/adapter"
)

func descriptor(name string) adapter.Descriptor {
	return adapter.Descriptor{
		Name:          name,
		Version:       "1.4.0",
		MinSDKVersion: "3.0.0",
		AdTypes:       []adapter.AdType{adapter.AdTypeInterstitial},
	}
}

func TestRegistry_RejectsDuplicateName(t *testing.T) {
	reg := adapter.NewRegistry(nil)

	require.NoError(t, reg.Register(descriptor("admob"), &fakes.Adapter{AdapterName: "admob"}))
	err := reg.Register(descriptor("admob"), &fakes.Adapter{AdapterName: "admob"})
	require.ErrorIs(t, err, adapter.ErrDuplicateAdapter)
}

func TestRegistry_InitializeIsIdempotent(t *testing.T) {
	reg := adapter.NewRegistry(nil)
	fake := &fakes.Adapter{AdapterName: "admob"}
	require.NoError(t, reg.Register(descriptor("admob"), fake))

	ctx := context.Background()
	require.NoError(t, reg.Initialize(ctx, "admob", nil))
	require.NoError(t, reg.Initialize(ctx, "admob", nil))

	require.Equal(t, int32(1), fake.InitCalls.Load(),
		"second call must not re-invoke the underlying network")

	status, err := reg.Status("admob")
	require.NoError(t, err)
	require.Equal(t, adapter.StatusInitialized, status)
}

func TestRegistry_ConcurrentInitializeRunsVendorInitOnce(t *testing.T) {
	reg := adapter.NewRegistry(nil)
	fake := &fakes.Adapter{AdapterName: "vungle", InitDelay: 20 * time.Millisecond}
	require.NoError(t, reg.Register(descriptor("vungle"), fake))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = reg.Initialize(context.Background(), "vungle", nil)
		}()
	}
	wg.Wait()

	require.Equal(t, int32(1), fake.InitCalls.Load())
}

func TestRegistry_FailedInitIsRecordedAndRetryable(t *testing.T) {
	reg := adapter.NewRegistry(nil)
	fake := &fakes.Adapter{AdapterName: "meta", InitErr: errors.New("sdk unavailable")}
	require.NoError(t, reg.Register(descriptor("meta"), fake))

	ctx := context.Background()
	require.Error(t, reg.Initialize(ctx, "meta", nil))

	status, err := reg.Status("meta")
	require.NoError(t, err)
	require.Equal(t, adapter.StatusFailed, status)

	_, err = reg.Get("meta")
	require.ErrorIs(t, err, adapter.ErrNotInitialized)

	// failed -> initializing -> initialized on retry
	fake.SetInitErr(nil)
	require.NoError(t, reg.Initialize(ctx, "meta", nil))
	require.Equal(t, int32(2), fake.InitCalls.Load())

	got, err := reg.Get("meta")
	require.NoError(t, err)
	require.Equal(t, "meta", got.Name())
}

func TestRegistry_InitializeAllIsolatesFailures(t *testing.T) {
	reg := adapter.NewRegistry(nil)
	good := &fakes.Adapter{AdapterName: "admob"}
	bad := &fakes.Adapter{AdapterName: "meta", InitErr: errors.New("boom")}
	require.NoError(t, reg.Register(descriptor("meta"), bad))
	require.NoError(t, reg.Register(descriptor("admob"), good))

	reg.InitializeAll(context.Background(), nil)

	status, _ := reg.Status("admob")
	require.Equal(t, adapter.StatusInitialized, status)
	status, _ = reg.Status("meta")
	require.Equal(t, adapter.StatusFailed, status)
}

func TestRegistry_ListAvailableIsOrderStable(t *testing.T) {
	reg := adapter.NewRegistry(nil)
	for _, name := range []string{"zeta", "admob", "meta"} {
		require.NoError(t, reg.Register(descriptor(name), &fakes.Adapter{AdapterName: name}))
	}
	require.Equal(t, []string{"zeta", "admob", "meta"}, reg.ListAvailable())
	require.Equal(t, []string{"zeta", "admob", "meta"}, reg.ListAvailable())
}

func TestRegistry_InitializationReport(t *testing.T) {
	reg := adapter.NewRegistry(nil)
	require.NoError(t, reg.Register(descriptor("admob"), &fakes.Adapter{AdapterName: "admob"}))
	require.NoError(t, reg.Register(descriptor("meta"), &fakes.Adapter{AdapterName: "meta", InitErr: errors.New("boom")}))

	reg.InitializeAll(context.Background(), nil)

	report := reg.InitializationReport()
	require.Len(t, report, 2)

	require.Equal(t, "admob", report[0].Name)
	require.True(t, report[0].Registered)
	require.True(t, report[0].Initialized)
	require.Equal(t, adapter.StatusInitialized, report[0].Status)
	require.Equal(t, "1.4.0", report[0].Version)

	require.Equal(t, "meta", report[1].Name)
	require.True(t, report[1].Registered)
	require.False(t, report[1].Initialized)
	require.Equal(t, adapter.StatusFailed, report[1].Status)
	require.Contains(t, report[1].Error, "boom")
}

func TestRegistry_ReportEntryWireShape(t *testing.T) {
	reg := adapter.NewRegistry(nil)
	require.NoError(t, reg.Register(descriptor("admob"), &fakes.Adapter{AdapterName: "admob"}))
	reg.InitializeAll(context.Background(), nil)

	raw, err := json.Marshal(reg.InitializationReport())
	require.NoError(t, err)

	var decoded []map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	require.Len(t, decoded, 1)
	require.Equal(t, "initialized", decoded[0]["status"])
	require.Equal(t, "admob", decoded[0]["name"])
}

func TestRegistry_CloseDestroysInitialized(t *testing.T) {
	reg := adapter.NewRegistry(nil)
	fake := &fakes.Adapter{AdapterName: "admob"}
	require.NoError(t, reg.Register(descriptor("admob"), fake))
	require.NoError(t, reg.Initialize(context.Background(), "admob", nil))

	require.NoError(t, reg.Close())
	require.Equal(t, int32(1), fake.DestroyCalls.Load())
	require.Empty(t, reg.ListAvailable())
}
