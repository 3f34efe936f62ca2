// Copyright 2026 The pfex Authors
// SPDX-License-Identifier: Apache-2.0

// Package notify tells the experimenter that a run has finished.
//
// The SMTP notifier mails the final snapshot as an attachment. It is
// deliberately quiet about failure: a run whose persistence failed
// produces a log line instead of an e-mail, and a send failure is
// returned for logging but never changes the run's outcome.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/wneessen/go-mail"

	"github.com/spcs-instruments/pfex/lib/config"
)

const (
	Subject = "Experiment Notification"
	Body    = "Experimental Results Attached!"
)

// Report describes a finished run.
type Report struct {
	RunID string

	// Path is the final snapshot. Empty when the run failed.
	Path string

	// Err is why the run failed, nil on success.
	Err error
}

// Notifier delivers a Report to recipient. An empty recipient is a
// no-op.
type Notifier interface {
	Notify(ctx context.Context, recipient string, report Report) error
}

// Nop discards every report.
type Nop struct{}

func (Nop) Notify(context.Context, string, Report) error { return nil }

// SMTP mails reports through an SMTP relay.
type SMTP struct {
	cfg    config.NotifyConfig
	logger *slog.Logger

	// send delivers a built message; replaced in tests.
	send func(ctx context.Context, message *mail.Msg) error
}

// NewSMTP returns a notifier using cfg.
func NewSMTP(cfg config.NotifyConfig, logger *slog.Logger) *SMTP {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	notifier := &SMTP{cfg: cfg, logger: logger}
	notifier.send = notifier.dialAndSend
	return notifier
}

// Notify mails report to recipient with the snapshot attached. A failed
// run is logged and not mailed.
func (s *SMTP) Notify(ctx context.Context, recipient string, report Report) error {
	if recipient == "" {
		return nil
	}
	if report.Err != nil || report.Path == "" {
		s.logger.Warn("not sending notification for failed run",
			"run_id", report.RunID,
			"recipient", recipient,
			"error", report.Err,
		)
		return nil
	}

	message, err := s.Message(recipient, report)
	if err != nil {
		return err
	}
	if err := s.send(ctx, message); err != nil {
		return fmt.Errorf("sending notification to %s: %w", recipient, err)
	}
	s.logger.Info("notification sent", "run_id", report.RunID, "recipient", recipient)
	return nil
}

// Message builds the e-mail for report.
func (s *SMTP) Message(recipient string, report Report) (*mail.Msg, error) {
	if report.Path == "" {
		return nil, errors.New("notify: report has no snapshot path")
	}
	message := mail.NewMsg()
	if err := message.From(s.cfg.From); err != nil {
		return nil, fmt.Errorf("sender %q: %w", s.cfg.From, err)
	}
	if err := message.ReplyTo(s.cfg.From); err != nil {
		return nil, fmt.Errorf("reply-to %q: %w", s.cfg.From, err)
	}
	if err := message.To(recipient); err != nil {
		return nil, fmt.Errorf("recipient %q: %w", recipient, err)
	}
	message.Subject(Subject)
	message.SetDate()
	message.SetBodyString(mail.TypeTextPlain, Body)
	message.AttachFile(report.Path, mail.WithFileName(filepath.Base(report.Path)))
	return message, nil
}

func (s *SMTP) dialAndSend(ctx context.Context, message *mail.Msg) error {
	options := []mail.Option{mail.WithPort(s.cfg.SMTPPort)}
	switch s.cfg.TLS {
	case "tls":
		options = append(options, mail.WithSSL())
	case "none":
		options = append(options, mail.WithTLSPolicy(mail.NoTLS))
	default:
		options = append(options, mail.WithTLSPolicy(mail.TLSMandatory))
	}
	if s.cfg.Username != "" {
		options = append(options,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(s.cfg.Username),
			mail.WithPassword(s.cfg.Password),
		)
	}

	client, err := mail.NewClient(s.cfg.SMTPHost, options...)
	if err != nil {
		return fmt.Errorf("configuring SMTP client for %s: %w", s.cfg.SMTPHost, err)
	}
	return client.DialAndSendWithContext(ctx, message)
}
