package mail

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	gomail "github.com/wneessen/go-mail"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"colegio.org/internal/config"
)

type captured struct {
	to  []string
	msg string
}

func newCapturingSMTP(t *testing.T) (*SMTP, *[]captured) {
	t.Helper()
	var sent []captured
	s, err := NewSMTP(config.SMTPConfig{Host: "smtp.example.org", Port: 587, User: "u", Password: "p", From: "no-reply@example.org"})
	if err != nil {
		t.Fatalf("NewSMTP: %v", err)
	}
	s.send = func(_ context.Context, msg *gomail.Msg) error {
		var buf bytes.Buffer
		if _, err := msg.WriteTo(&buf); err != nil {
			return err
		}
		to, err := msg.GetRecipients()
		if err != nil {
			return err
		}
		sent = append(sent, captured{to: to, msg: buf.String()})
		return nil
	}
	return s, &sent
}

func TestNewReturnsDisabledWithoutSettings(t *testing.T) {
	m, err := New(config.SMTPConfig{Host: "smtp.example.org"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, ok := m.(Disabled); !ok {
		t.Fatalf("expected Disabled mailer for partial settings")
	}
	full := config.SMTPConfig{Host: "smtp.example.org", Port: 465, User: "u", Password: "p", From: "f@example.org"}
	m, err = New(full)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, ok := m.(*SMTP); !ok {
		t.Fatalf("expected SMTP mailer for full settings")
	}
}

func TestDeliverRejectsMalformedRecipient(t *testing.T) {
	s, sent := newCapturingSMTP(t)
	err := s.SendAccountStatusChange(context.Background(), AccountStatusChangeMail{To: "not an address"})
	if err == nil {
		t.Fatalf("expected an address error")
	}
	if len(*sent) != 0 {
		t.Fatalf("nothing should be sent")
	}
}

func TestPasswordResetMessage(t *testing.T) {
	s, sent := newCapturingSMTP(t)
	err := s.SendPasswordReset(context.Background(), PasswordResetMail{
		To:       "ana@example.org",
		FullName: "Ana Torres",
		ResetURL: "https://app.example.org/reset?token=abc",
	})
	if err != nil {
		t.Fatalf("SendPasswordReset: %v", err)
	}
	if len(*sent) != 1 {
		t.Fatalf("expected one message, got %d", len(*sent))
	}
	msg := (*sent)[0]
	if len(msg.to) != 1 || !strings.Contains(msg.to[0], "ana@example.org") {
		t.Fatalf("unexpected envelope: %+v", msg)
	}
	if !strings.Contains(msg.msg, "no-reply@example.org") {
		t.Fatalf("missing sender header: %s", msg.msg)
	}
	if !strings.Contains(msg.msg, "https://app.example.org/reset?token=abc") || !strings.Contains(msg.msg, "Hola Ana Torres") {
		t.Fatalf("unexpected body: %s", msg.msg)
	}
}

func TestAccountStatusMessages(t *testing.T) {
	s, sent := newCapturingSMTP(t)
	ctx := context.Background()
	if err := s.SendAccountStatus(ctx, AccountStatusMail{To: "a@example.org", DNI: "12345678", TempPassword: "000111222333", IsActive: true}); err != nil {
		t.Fatalf("SendAccountStatus: %v", err)
	}
	if err := s.SendAccountStatusChange(ctx, AccountStatusChangeMail{To: "a@example.org", IsActive: false}); err != nil {
		t.Fatalf("SendAccountStatusChange: %v", err)
	}
	if err := s.SendAccountStatusChange(ctx, AccountStatusChangeMail{To: "  "}); err != nil {
		t.Fatalf("blank recipient should be skipped: %v", err)
	}
	if len(*sent) != 2 {
		t.Fatalf("expected two messages, got %d", len(*sent))
	}
	if !strings.Contains((*sent)[0].msg, "Clave temporal: 000111222333") || !strings.Contains((*sent)[0].msg, "Hola Colegiado") {
		t.Fatalf("unexpected status body: %s", (*sent)[0].msg)
	}
	if !strings.Contains((*sent)[1].msg, "desactivado") {
		t.Fatalf("unexpected status change body: %s", (*sent)[1].msg)
	}
}

type failingMailer struct {
	mu    sync.Mutex
	calls int
}

func (f *failingMailer) SendPasswordReset(context.Context, PasswordResetMail) error {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return errors.New("relay refused")
}
func (f *failingMailer) SendAccountStatus(context.Context, AccountStatusMail) error { return nil }
func (f *failingMailer) SendAccountStatusChange(context.Context, AccountStatusChangeMail) error {
	return nil
}

func TestAsyncSwallowsAndLogsFailures(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	next := &failingMailer{}
	a := NewAsync(next, zap.New(core))

	ctx, cancel := context.WithCancel(context.Background())
	if err := a.SendPasswordReset(ctx, PasswordResetMail{To: "x@example.org"}); err != nil {
		t.Fatalf("expected nil error from async send, got %v", err)
	}
	cancel()
	a.Wait()

	if next.calls != 1 {
		t.Fatalf("expected one delivery attempt, got %d", next.calls)
	}
	if logs.FilterMessage("mail delivery failed").Len() != 1 {
		t.Fatalf("expected failure to be logged")
	}
}
