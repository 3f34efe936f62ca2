// Copyright 2026 The pfex Authors
// SPDX-License-Identifier: Apache-2.0

package observe

import (
	"context"
	"errors"
	"io"
	"reflect"
	"testing"
	"time"

	"github.com/spcs-instruments/pfex/lib/clock"
	"github.com/spcs-instruments/pfex/lib/ingest"
	"github.com/spcs-instruments/pfex/lib/runstate"
	"github.com/spcs-instruments/pfex/lib/testutil"
)

const testTimeout = 5 * time.Second

var testEpoch = time.Date(2025, time.June, 2, 9, 30, 0, 0, time.UTC)

// frames reads frames on a goroutine so the test can use RequireReceive.
func frames(t *testing.T, client *Client) <-chan Frame {
	t.Helper()
	out := make(chan Frame, 16)
	go func() {
		defer close(out)
		for {
			frame, err := client.Next()
			if err != nil {
				if !errors.Is(err, io.EOF) {
					t.Logf("Next: %v", err)
				}
				return
			}
			out <- frame
		}
	}()
	return out
}

func next[T Frame](t *testing.T, stream <-chan Frame) T {
	t.Helper()
	frame := testutil.RequireReceive(t, stream, testTimeout, "next frame")
	typed, ok := frame.(T)
	if !ok {
		t.Fatalf("frame = %T %+v, want %T", frame, frame, *new(T))
	}
	return typed
}

func TestServerStream(t *testing.T) {
	fake := clock.Fake(testEpoch)
	state := runstate.New(fake, nil)
	if err := state.Update("DAQ1", &runstate.Device{
		Name:         "DAQ1",
		Config:       map[string]any{},
		Measurements: map[string]runstate.Series{"counts": runstate.Single{1, 2, 3, 4}},
	}); err != nil {
		t.Fatal(err)
	}
	hub := ingest.NewHub(nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	server, err := Listen(ctx, ServerConfig{
		Address:   "127.0.0.1:0",
		RunID:     "run-1",
		Iteration: 1,
		State:     state,
		Hub:       hub,
		MaxPoints: 2,
		Clock:     fake,
	})
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	served := make(chan error, 1)
	go func() { served <- server.Serve(ctx) }()

	client, err := Dial(ctx, server.Addr().String())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer client.Close()
	stream := frames(t, client)

	hello := next[*Hello](t, stream)
	if hello.RunID != "run-1" || hello.MaxPoints != 2 || hello.StartedMillis != testEpoch.UnixMilli() {
		t.Errorf("hello = %+v", hello)
	}

	first := next[*Snapshot](t, stream)
	if first.Sequence != 1 {
		t.Errorf("first snapshot sequence = %d", first.Sequence)
	}
	wantLatest := runstate.Projection{"DAQ1": {"counts": {3, 4}}}
	if !reflect.DeepEqual(first.Latest, wantLatest) {
		t.Errorf("latest = %v, want %v", first.Latest, wantLatest)
	}
	if len(first.Devices) != 1 || first.Devices[0].Points != 4 || first.Devices[0].LatestValue != 4 {
		t.Errorf("devices = %+v", first.Devices)
	}

	hub.Publish(ingest.Line{Kind: runstate.KindDevice, Name: "DAQ1", Raw: []byte(`{}`), Received: testEpoch})
	line := next[*LineEvent](t, stream)
	if line.Name != "DAQ1" || line.Kind != "device" || line.Size != 2 {
		t.Errorf("line event = %+v", line)
	}

	fake.WaitForTimers(1)
	fake.Advance(DefaultInterval)
	if second := next[*Snapshot](t, stream); second.Sequence != 2 {
		t.Errorf("ticked snapshot sequence = %d, want 2", second.Sequence)
	}

	cancel()
	if final := next[*Snapshot](t, stream); final.Sequence != 3 {
		t.Errorf("final snapshot sequence = %d, want 3", final.Sequence)
	}
	if end := next[*End](t, stream); end.Reason != EndRunFinished {
		t.Errorf("end reason = %q", end.Reason)
	}
	testutil.RequireClosed(t, stream, testTimeout, "stream after End")
	if err := testutil.RequireReceive(t, served, testTimeout, "Serve after cancel"); err != nil {
		t.Errorf("Serve returned %v", err)
	}
	if hub.Subscribers() != 0 {
		t.Errorf("hub still has %d subscribers", hub.Subscribers())
	}
}

func TestListenRequiresState(t *testing.T) {
	if _, err := Listen(context.Background(), ServerConfig{Address: "127.0.0.1:0"}); err == nil {
		t.Fatal("Listen without State succeeded")
	}
}
