package notifier

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"strings"
	"time"
)

// subject は通知メールの件名。
const subject = "Summary and Links"

// defaultSendTimeout は1通の送信にかけられる最大時間。
const defaultSendTimeout = 30 * time.Second

// Mailer はメールを1通送信する。
type Mailer interface {
	Send(ctx context.Context, to, subject, body string) error
}

// SMTPConfig はSMTPMailerの設定。
type SMTPConfig struct {
	// Host はSMTPサーバーのホスト名。
	Host string
	// Port はSMTPサーバーのポート。
	Port string
	// From は送信元アドレス。PLAIN認証のユーザー名を兼ねる。
	From string
	// Password はPLAIN認証のパスワード。
	Password string
}

// SMTPMailer はSMTPサーバー経由でメールを送信する。
// サーバーがSTARTTLSに対応している場合は暗号化してから認証する。
type SMTPMailer struct {
	cfg SMTPConfig
}

// NewSMTPMailer は新しいSMTPMailerを生成する。
func NewSMTPMailer(cfg SMTPConfig) *SMTPMailer {
	return &SMTPMailer{cfg: cfg}
}

// Send はtoに1通のテキストメールを送信する。
func (m *SMTPMailer) Send(ctx context.Context, to, subject, body string) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultSendTimeout)
		defer cancel()
	}

	addr := net.JoinHostPort(m.cfg.Host, m.cfg.Port)
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("SMTPサーバーへの接続に失敗: %w", err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	client, err := smtp.NewClient(conn, m.cfg.Host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("SMTPセッションの開始に失敗: %w", err)
	}
	defer client.Close()

	if ok, _ := client.Extension("STARTTLS"); ok {
		if err := client.StartTLS(&tls.Config{ServerName: m.cfg.Host, MinVersion: tls.VersionTLS12}); err != nil {
			return fmt.Errorf("STARTTLSに失敗: %w", err)
		}
	}
	if ok, _ := client.Extension("AUTH"); ok && m.cfg.Password != "" {
		if err := client.Auth(smtp.PlainAuth("", m.cfg.From, m.cfg.Password, m.cfg.Host)); err != nil {
			return fmt.Errorf("SMTP認証に失敗: %w", err)
		}
	}

	if err := client.Mail(m.cfg.From); err != nil {
		return fmt.Errorf("送信元の指定に失敗: %w", err)
	}
	if err := client.Rcpt(to); err != nil {
		return fmt.Errorf("宛先の指定に失敗: %w", err)
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("本文の送信開始に失敗: %w", err)
	}
	if _, err := w.Write(buildMessage(m.cfg.From, to, subject, body)); err != nil {
		w.Close()
		return fmt.Errorf("本文の送信に失敗: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("本文の送信に失敗: %w", err)
	}
	return client.Quit()
}

// composeBody は要約とリンクからメール本文を組み立てる。
func composeBody(summary string, links []string) string {
	var b strings.Builder
	b.WriteString("Hello,\n\nHere is your summary:\n\n")
	b.WriteString(summary)
	b.WriteString("\n\nLinks:\n")
	for _, link := range links {
		b.WriteString(link)
		b.WriteString("\n")
	}
	b.WriteString("\nBest regards.")
	return b.String()
}

// buildMessage はヘッダーと本文からRFC 5322形式のメッセージを組み立てる。
// 改行はCRLFに揃える。
func buildMessage(from, to, subject, body string) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=\"utf-8\"\r\n")
	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(strings.ReplaceAll(body, "\r\n", "\n"), "\n", "\r\n"))
	return []byte(b.String())
}
