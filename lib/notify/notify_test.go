// Copyright 2026 The pfex Authors
// SPDX-License-Identifier: Apache-2.0

package notify

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/wneessen/go-mail"

	"github.com/spcs-instruments/pfex/lib/config"
	"github.com/spcs-instruments/pfex/lib/testutil"
)

func testNotifier(t *testing.T) (*SMTP, *[]*mail.Msg, *testutil.LogCapture) {
	t.Helper()
	logger, capture := testutil.NewLogCapture()
	notifier := NewSMTP(config.Default().Notify, logger)
	var sent []*mail.Msg
	notifier.send = func(_ context.Context, message *mail.Msg) error {
		sent = append(sent, message)
		return nil
	}
	return notifier, &sent, capture
}

func writeSnapshot(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scan_02_06_2025_09_30_00_250.toml")
	if err := os.WriteFile(path, []byte("[experiment]\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestMessageCarriesSnapshot(t *testing.T) {
	notifier, _, _ := testNotifier(t)
	path := writeSnapshot(t)

	message, err := notifier.Message("alice@lab.example", Report{RunID: "r1", Path: path})
	if err != nil {
		t.Fatalf("Message: %v", err)
	}
	var buffer bytes.Buffer
	if _, err := message.WriteTo(&buffer); err != nil {
		t.Fatalf("WriteTo: %v", err)
	}
	rendered := buffer.String()
	for _, want := range []string{
		"Subject: " + Subject,
		Body,
		"alice@lab.example",
		filepath.Base(path),
	} {
		if !strings.Contains(rendered, want) {
			t.Errorf("message lacks %q:\n%s", want, rendered)
		}
	}
}

func TestNotifySends(t *testing.T) {
	notifier, sent, capture := testNotifier(t)
	err := notifier.Notify(context.Background(), "alice@lab.example", Report{RunID: "r1", Path: writeSnapshot(t)})
	if err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if len(*sent) != 1 {
		t.Fatalf("sent %d messages, want 1", len(*sent))
	}
	if len(capture.Find(slog.LevelInfo, "notification sent")) != 1 {
		t.Error("send not logged")
	}
}

func TestNotifySkips(t *testing.T) {
	notifier, sent, capture := testNotifier(t)

	if err := notifier.Notify(context.Background(), "", Report{Path: writeSnapshot(t)}); err != nil {
		t.Errorf("empty recipient: %v", err)
	}
	if err := notifier.Notify(context.Background(), "alice@lab.example", Report{Err: errors.New("disk full")}); err != nil {
		t.Errorf("failed run: %v", err)
	}
	if len(*sent) != 0 {
		t.Errorf("sent %d messages, want none", len(*sent))
	}
	records := capture.Find(slog.LevelWarn, "not sending notification")
	if len(records) != 1 || records[0].Attrs["error"] != "disk full" {
		t.Errorf("failed-run log = %+v", records)
	}
}

func TestNotifyReportsSendFailure(t *testing.T) {
	notifier, _, _ := testNotifier(t)
	notifier.send = func(context.Context, *mail.Msg) error { return errors.New("connection refused") }

	err := notifier.Notify(context.Background(), "alice@lab.example", Report{Path: writeSnapshot(t)})
	if err == nil || !strings.Contains(err.Error(), "connection refused") {
		t.Errorf("Notify error = %v", err)
	}
}

func TestInvalidRecipient(t *testing.T) {
	notifier, _, _ := testNotifier(t)
	if _, err := notifier.Message("not an address", Report{Path: writeSnapshot(t)}); err == nil {
		t.Error("Message accepted an invalid recipient")
	}
}
