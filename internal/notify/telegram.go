// Package notify delivers match alerts to Telegram.
package notify

import (
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/MikeTolmachev/porsche-monitor/internal/filter"
	"github.com/MikeTolmachev/porsche-monitor/internal/models"
)

const telegramAPI = "https://api.telegram.org/bot%s/sendMessage"

// Notifier sends listing alerts to a single Telegram chat. The bot
// token is read from the TELEGRAM_BOT_TOKEN environment variable so
// it never lands in config files.
type Notifier struct {
	chatID  string
	client  *resty.Client
	apiBase string
}

func NewNotifier(chatID string) *Notifier {
	client := resty.New()
	client.SetTimeout(20 * time.Second)

	return &Notifier{
		chatID:  chatID,
		client:  client,
		apiBase: telegramAPI,
	}
}

// ShouldNotify reports whether a listing warrants an alert: matches
// only, and only when something actually happened to them.
func ShouldNotify(result models.FilterResult, change models.ChangeInfo) bool {
	if !result.IsMatch {
		return false
	}
	return change.IsNew || change.IsChanged
}

// Send posts the alert for one listing. Delivery failures are logged
// and swallowed; a monitoring run must never die on a notification.
func (n *Notifier) Send(result models.FilterResult, change models.ChangeInfo) {
	token := os.Getenv("TELEGRAM_BOT_TOKEN")
	if token == "" {
		log.Printf("TELEGRAM_BOT_TOKEN not set, skipping notification")
		return
	}

	body := map[string]any{
		"chat_id":                  n.chatID,
		"text":                     BuildMessage(result, change),
		"disable_web_page_preview": false,
	}

	resp, err := n.client.R().
		SetBody(body).
		Post(fmt.Sprintf(n.apiBase, token))
	if err != nil {
		log.Printf("Failed to send Telegram notification for %q: %v", result.Listing.Title, err)
		return
	}
	if resp.IsError() {
		log.Printf("Telegram API returned %d for %q: %s", resp.StatusCode(), result.Listing.Title, resp.Body())
		return
	}
	log.Printf("Telegram notification sent for: %s", result.Listing.Title)
}

// BuildMessage renders the plain-text alert body.
func BuildMessage(result models.FilterResult, change models.ChangeInfo) string {
	l := result.Listing
	var b strings.Builder

	switch {
	case change.IsNew:
		b.WriteString("NEW MATCH FOUND\n")
	case change.IsChanged:
		b.WriteString("LISTING CHANGED\n")
	default:
		b.WriteString("Porsche Match\n")
	}
	b.WriteString("\n")

	b.WriteString(l.Title + "\n")
	b.WriteString("Price: " + FormatPrice(l.PriceEUR) + "\n")
	if l.MileageKM != nil {
		b.WriteString(fmt.Sprintf("Mileage: %s km\n", GroupThousands(*l.MileageKM)))
	} else {
		b.WriteString("Mileage: N/A\n")
	}
	b.WriteString("Registration: " + orNA(l.FirstRegistration) + "\n")
	b.WriteString("Location: " + orNA(l.Location) + "\n")
	if l.DealerName != "" {
		b.WriteString("Dealer: " + l.DealerName + "\n")
	}
	b.WriteString("Source: " + l.Source + "\n")
	b.WriteString("\n")

	if change.IsChanged && len(change.Changes) > 0 {
		b.WriteString("Changes:\n")
		if price, ok := change.Changes["price_eur"]; ok {
			b.WriteString(fmt.Sprintf("  Price: %s -> %s\n", formatPriceValue(price.Old), formatPriceValue(price.New)))
		}
		if status, ok := change.Changes["status"]; ok {
			b.WriteString(fmt.Sprintf("  Status: %v -> %v\n", status.Old, status.New))
		}
		b.WriteString("\n")
	}

	switch {
	case l.AccidentFree == nil:
		b.WriteString("Accident-free: N/A\n")
	case *l.AccidentFree:
		b.WriteString("Accident-free: Yes\n")
	default:
		b.WriteString("Accident-free: No\n")
	}
	if l.ApprovedMonths != nil {
		b.WriteString(fmt.Sprintf("Porsche Approved: %d months\n", *l.ApprovedMonths))
	} else {
		b.WriteString("Porsche Approved: N/A months\n")
	}
	if l.Owners != nil {
		b.WriteString(fmt.Sprintf("Owners: %d\n", *l.Owners))
	}
	b.WriteString("\n")

	b.WriteString("Must-have options:\n")
	for _, label := range filter.MustHaveLabels() {
		mark := "[-]"
		if result.Detected[label] {
			mark = "[+]"
		}
		b.WriteString("  " + mark + " " + label + "\n")
	}
	b.WriteString("\n")

	if len(result.NiceToHavePresent) > 0 {
		b.WriteString("Nice-to-have: " + strings.Join(result.NiceToHavePresent, ", ") + "\n")
		b.WriteString("\n")
	}

	b.WriteString(fmt.Sprintf("Score: %d\n", result.Score))
	b.WriteString("Link: " + l.URL)

	return b.String()
}

// GroupThousands renders an integer with dots as thousands separators,
// the way German listings print prices and mileage.
func GroupThousands(n int) string {
	s := fmt.Sprintf("%d", n)
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}
	var parts []string
	for len(s) > 3 {
		parts = append([]string{s[len(s)-3:]}, parts...)
		s = s[:len(s)-3]
	}
	parts = append([]string{s}, parts...)
	out := strings.Join(parts, ".")
	if neg {
		out = "-" + out
	}
	return out
}

// FormatPrice renders an optional price as "142.900 EUR" or "N/A".
func FormatPrice(price *int) string {
	if price == nil {
		return "N/A"
	}
	return GroupThousands(*price) + " EUR"
}

func formatPriceValue(v any) string {
	switch n := v.(type) {
	case int:
		return GroupThousands(n) + " EUR"
	case int64:
		return GroupThousands(int(n)) + " EUR"
	case float64:
		return GroupThousands(int(n)) + " EUR"
	case nil:
		return "N/A"
	default:
		return fmt.Sprintf("%v", v)
	}
}

func orNA(s string) string {
	if s == "" {
		return "N/A"
	}
	return s
}
