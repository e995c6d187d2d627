// Package email envía los códigos OTP por correo. El envío es best-effort:
// el challenge ya quedó persistido antes de llegar acá y un fallo de SMTP
// jamás revierte la operación que lo disparó.
package email

import "errors"

var ErrSendFailed = errors.New("email: send failed")

// Sender es el colaborador de salida. Puede estar globalmente deshabilitado
// por un flag de deployment (modo "sin entrega externa" para compliance).
type Sender interface {
	Send(to, subject, htmlBody, textBody string) error
}

// Nop descarta todo. Se usa cuando la entrega está deshabilitada.
type Nop struct{}

func (Nop) Send(_, _, _, _ string) error { return nil }
