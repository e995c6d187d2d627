package email

import (
	"bytes"
	"fmt"
	htemplate "html/template"
	"time"
)

const otpSubject = "Your verification code"

var otpHTML = htemplate.Must(htemplate.New("otp").Parse(`<!DOCTYPE html>
<html>
  <body style="font-family: sans-serif; color: #1a1a1a;">
    <p>Hello{{if .Name}} {{.Name}}{{end}},</p>
    <p>Your verification code is:</p>
    <p style="font-size: 28px; letter-spacing: 6px; font-weight: bold;">{{.Code}}</p>
    <p>The code expires in {{.ExpiresMin}} minutes. If you did not request it, you can ignore this email.</p>
  </body>
</html>`))

// RenderOTP arma el asunto y los cuerpos (html + texto) del mail de OTP.
func RenderOTP(name, code string, ttl time.Duration) (subject, htmlBody, textBody string, err error) {
	mins := int(ttl.Minutes())
	if mins < 1 {
		mins = 1
	}

	var buf bytes.Buffer
	data := struct {
		Name       string
		Code       string
		ExpiresMin int
	}{name, code, mins}
	if err := otpHTML.Execute(&buf, data); err != nil {
		return "", "", "", err
	}

	text := fmt.Sprintf("Your verification code is: %s\nIt expires in %d minutes.", code, mins)
	return otpSubject, buf.String(), text, nil
}
