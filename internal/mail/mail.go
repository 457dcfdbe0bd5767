// Package mail delivers member notifications. Delivery is best effort: callers
// never fail their primary operation because a message could not be sent.
package mail

import (
	"context"
	"fmt"
	"strings"
	"time"

	gomail "github.com/wneessen/go-mail"

	"colegio.org/internal/config"
)

type PasswordResetMail struct {
	To       string
	FullName string
	ResetURL string
}

type AccountStatusMail struct {
	To           string
	FullName     string
	DNI          string
	IsActive     bool
	TempPassword string
}

type AccountStatusChangeMail struct {
	To       string
	FullName string
	IsActive bool
}

// Mailer sends the notification emails of the membership system.
type Mailer interface {
	SendPasswordReset(ctx context.Context, m PasswordResetMail) error
	SendAccountStatus(ctx context.Context, m AccountStatusMail) error
	SendAccountStatusChange(ctx context.Context, m AccountStatusChangeMail) error
}

// Disabled drops every message. Used when SMTP is not configured.
type Disabled struct{}

func (Disabled) SendPasswordReset(context.Context, PasswordResetMail) error             { return nil }
func (Disabled) SendAccountStatus(context.Context, AccountStatusMail) error             { return nil }
func (Disabled) SendAccountStatusChange(context.Context, AccountStatusChangeMail) error { return nil }

// New returns an SMTP mailer when every setting is present, otherwise Disabled.
func New(cfg config.SMTPConfig) (Mailer, error) {
	if !cfg.Enabled() {
		return Disabled{}, nil
	}
	s, err := NewSMTP(cfg)
	if err != nil {
		return nil, err
	}
	return s, nil
}

type sendFunc func(ctx context.Context, msg *gomail.Msg) error

// SMTP sends plain-text messages through an authenticated relay. Port 465
// uses implicit TLS; any other port upgrades with STARTTLS when offered.
type SMTP struct {
	from string
	send sendFunc
}

func NewSMTP(cfg config.SMTPConfig) (*SMTP, error) {
	opts := []gomail.Option{
		gomail.WithPort(cfg.Port),
		gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
		gomail.WithUsername(cfg.User),
		gomail.WithPassword(cfg.Password),
		gomail.WithTLSPolicy(gomail.TLSOpportunistic),
		gomail.WithTimeout(15 * time.Second),
	}
	if cfg.Port == 465 {
		opts = append(opts, gomail.WithSSL())
	}
	client, err := gomail.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("smtp client: %w", err)
	}
	return &SMTP{
		from: cfg.From,
		send: func(ctx context.Context, msg *gomail.Msg) error {
			return client.DialAndSendWithContext(ctx, msg)
		},
	}, nil
}

func (s *SMTP) SendPasswordReset(ctx context.Context, m PasswordResetMail) error {
	body := fmt.Sprintf("Hola %s,\n\n"+
		"Recibimos una solicitud para restablecer tu contraseña.\n"+
		"Puedes crear una nueva contraseña en el siguiente enlace:\n%s\n\n"+
		"Si no solicitaste este cambio, ignora este mensaje.\n\nGracias.",
		displayName(m.FullName), m.ResetURL)
	return s.deliver(ctx, m.To, "Restablecimiento de contraseña", body)
}

func (s *SMTP) SendAccountStatus(ctx context.Context, m AccountStatusMail) error {
	status := "Actualiza tus pagos y comunícate con el administrador de padrón de tu capítulo para que puedas ingresar al sistema con las credenciales brindadas."
	if m.IsActive {
		status = "Puedes ingresar desde este instante en el sistema con las credenciales brindadas."
	}
	body := fmt.Sprintf("Hola %s,\n\n"+
		"Tu usuario ha sido creado o actualizado en el sistema.\n"+
		"Usuario: %s\nClave temporal: %s\n\n%s\n\n"+
		"Por favor, inicia sesión y cambia tu contraseña.\n\nGracias.",
		displayName(m.FullName), m.DNI, m.TempPassword, status)
	return s.deliver(ctx, m.To, "Estado de tu cuenta en el sistema", body)
}

func (s *SMTP) SendAccountStatusChange(ctx context.Context, m AccountStatusChangeMail) error {
	status := "Tu cuenta se ha desactivado por falta de pago. Actualiza tu situación y contacta al administrador de padrón."
	if m.IsActive {
		status = "Tu cuenta se ha activado. Ya puedes ingresar al sistema."
	}
	body := fmt.Sprintf("Hola %s,\n\n%s\n\n"+
		"Si necesitas ayuda, contacta al administrador de padrón.\n\nGracias.",
		displayName(m.FullName), status)
	return s.deliver(ctx, m.To, "Actualización de estado de cuenta", body)
}

func (s *SMTP) deliver(ctx context.Context, to, subject, body string) error {
	to = strings.TrimSpace(to)
	if to == "" {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := gomail.NewMsg(gomail.WithEncoding(gomail.NoEncoding))
	if err := msg.From(s.from); err != nil {
		return fmt.Errorf("sender %q: %w", s.from, err)
	}
	if err := msg.To(to); err != nil {
		return fmt.Errorf("recipient %q: %w", to, err)
	}
	msg.Subject(subject)
	msg.SetBodyString(gomail.TypeTextPlain, body)
	if err := s.send(ctx, msg); err != nil {
		return fmt.Errorf("smtp send to %s: %w", to, err)
	}
	return nil
}

func displayName(name string) string {
	if name = strings.TrimSpace(name); name != "" {
		return name
	}
	return "Colegiado"
}
