package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Message is a single outbound HTML e-mail
type Message struct {
	From    string
	To      string
	Subject string
	HTML    string
}

// Mailer delivers messages and returns a provider message ID
type Mailer interface {
	Send(ctx context.Context, msg Message) (string, error)
}

// ErrSendFailed describes a rejected or undeliverable message
type ErrSendFailed struct {
	Provider string
	To       string
	Reason   string
}

func (e *ErrSendFailed) Error() string {
	return fmt.Sprintf("%s: failed to send to %s: %s", e.Provider, e.To, e.Reason)
}

// Config selects the mail transport
type Config struct {
	Provider     string // resend | smtp | log
	From         string
	ResendAPIKey string
	ResendURL    string
	SMTPAddr     string
	SMTPUsername string
	SMTPPassword string
}

// NewMailer builds the mailer selected by cfg.Provider
func NewMailer(cfg Config) (Mailer, error) {
	switch strings.ToLower(cfg.Provider) {
	case "resend":
		return NewResendMailer(cfg.ResendURL, cfg.ResendAPIKey, 15*time.Second), nil
	case "smtp":
		return NewSMTPMailer(cfg.SMTPAddr, cfg.SMTPUsername, cfg.SMTPPassword), nil
	case "", "log":
		return LogMailer{}, nil
	default:
		return nil, fmt.Errorf("unsupported mail provider: %s", cfg.Provider)
	}
}

// ResendMailer sends through the Resend HTTP API
type ResendMailer struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func NewResendMailer(baseURL, apiKey string, timeout time.Duration) *ResendMailer {
	if baseURL == "" {
		baseURL = "https://api.resend.com"
	}
	return &ResendMailer{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type resendRequest struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	HTML    string   `json:"html"`
}

type resendResponse struct {
	ID      string `json:"id"`
	Message string `json:"message"`
	Name    string `json:"name"`
}

func (m *ResendMailer) Send(ctx context.Context, msg Message) (string, error) {
	body, err := json.Marshal(resendRequest{From: msg.From, To: []string{msg.To}, Subject: msg.Subject, HTML: msg.HTML})
	if err != nil {
		return "", fmt.Errorf("failed to encode message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+"/emails", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+m.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return "", &ErrSendFailed{Provider: "resend", To: msg.To, Reason: err.Error()}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	var out resendResponse
	_ = json.Unmarshal(data, &out)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		reason := out.Message
		if reason == "" {
			reason = fmt.Sprintf("status %d", resp.StatusCode)
		}
		return "", &ErrSendFailed{Provider: "resend", To: msg.To, Reason: reason}
	}
	return out.ID, nil
}

// SMTPMailer relays through an SMTP submission server
type SMTPMailer struct {
	addr     string
	username string
	password string
}

func NewSMTPMailer(addr, username, password string) *SMTPMailer {
	return &SMTPMailer{addr: addr, username: username, password: password}
}

func (m *SMTPMailer) Send(ctx context.Context, msg Message) (string, error) {
	id := uuid.NewString()
	data, err := buildMIME(id, msg)
	if err != nil {
		return "", &ErrSendFailed{Provider: "smtp", To: msg.To, Reason: err.Error()}
	}

	var auth sasl.Client
	if m.username != "" {
		auth = sasl.NewPlainClient("", m.username, m.password)
	}

	done := make(chan error, 1)
	go func() {
		done <- smtp.SendMail(m.addr, auth, envelopeAddress(msg.From), []string{msg.To}, bytes.NewReader(data))
	}()

	select {
	case err := <-done:
		if err != nil {
			return "", &ErrSendFailed{Provider: "smtp", To: msg.To, Reason: err.Error()}
		}
		return id, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func buildMIME(id string, msg Message) ([]byte, error) {
	for _, v := range []string{msg.From, msg.To, msg.Subject} {
		if strings.ContainsAny(v, "\r\n") {
			return nil, errors.New("header value contains a line break")
		}
	}

	var b bytes.Buffer
	fmt.Fprintf(&b, "From: %s\r\n", msg.From)
	fmt.Fprintf(&b, "To: %s\r\n", msg.To)
	fmt.Fprintf(&b, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", msg.Subject))
	fmt.Fprintf(&b, "Message-ID: <%s@saferoute>\r\n", id)
	fmt.Fprintf(&b, "Date: %s\r\n", time.Now().Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/html; charset=UTF-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(msg.HTML, "\n", "\r\n"))
	return b.Bytes(), nil
}

// envelopeAddress extracts addr from "Name <addr>"
func envelopeAddress(from string) string {
	if i := strings.LastIndex(from, "<"); i >= 0 {
		if j := strings.LastIndex(from, ">"); j > i {
			return from[i+1 : j]
		}
	}
	return strings.TrimSpace(from)
}

// LogMailer only logs messages; used in development
type LogMailer struct{}

func (LogMailer) Send(ctx context.Context, msg Message) (string, error) {
	id := uuid.NewString()
	zap.S().Infof("[MAIL] Message not delivered (log provider): to=%s subject=%q id=%s", msg.To, msg.Subject, id)
	return id, nil
}
