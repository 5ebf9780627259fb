// Copyright (c) 2012-2014 Jeremy Latt
// Copyright (c) 2014-2015 Edmund Huber
// Copyright (c) 2016-2017 Daniel Oaks <daniel@danieloaks.net>
// released under the MIT license

package services

import (
	"bytes"
	"context"
	"fmt"
	"net/smtp"
	"time"

	dkim "github.com/toorop/go-dkim"
)

// DKIMMailer signs outbound NickServ verification emails with DKIM before
// relaying them through a local or configured smarthost, the way a
// registration-callback email sender needs to in order not to be spam-boxed.
type DKIMMailer struct {
	Smarthost  string // host:port
	From       string
	Domain     string
	Selector   string
	PrivateKey []byte
}

var _ Mailer = (*DKIMMailer)(nil)

func (m *DKIMMailer) SendVerification(ctx context.Context, to, account, code string) error {
	subject := fmt.Sprintf("Verify your %s account", account)
	body := fmt.Sprintf("Hello %s,\r\n\r\nYour verification code is: %s\r\n", account, code)

	raw := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\nDate: %s\r\n\r\n%s",
		m.From, to, subject, time.Now().UTC().Format(time.RFC1123Z), body)

	signed, err := m.sign([]byte(raw))
	if err != nil {
		return err
	}

	return smtp.SendMail(m.Smarthost, nil, m.From, []string{to}, signed)
}

func (m *DKIMMailer) sign(raw []byte) ([]byte, error) {
	options := dkim.NewSigOptions()
	options.PrivateKey = m.PrivateKey
	options.Domain = m.Domain
	options.Selector = m.Selector
	options.SignatureExpireIn = 3600
	options.Headers = []string{"from", "to", "subject", "date"}
	options.AddSignatureTimestamp = true
	options.Canonicalization = "relaxed/relaxed"

	buf := bytes.NewBuffer(raw)
	msg := buf.Bytes()
	if err := dkim.Sign(&msg, options); err != nil {
		return nil, err
	}
	return msg, nil
}
