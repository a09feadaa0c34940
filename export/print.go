package export

import (
	"fmt"
	"html/template"
	"io"
	"net/url"

	"github.com/superlink/voucher-engine/voucher"
)

// PrintConfig controls the redemption links printed on each card.
type PrintConfig struct {
	Title      string // card heading, e.g. the hotspot brand
	RedeemURL  string // fmt pattern with one %s for the code
	QRImageURL string // fmt pattern with one %s for the escaped redeem URL
}

// DefaultPrintConfig returns the stock hotspot branding.
func DefaultPrintConfig() PrintConfig {
	return PrintConfig{
		Title:      "SuperLink Hotspot",
		RedeemURL:  "https://superlink-hotspot.login/redeem?voucher=%s",
		QRImageURL: "https://api.qrserver.com/v1/create-qr-code/?size=150x150&data=%s",
	}
}

// Card is one printable voucher.
type Card struct {
	Code       string
	RedeemURL  string
	QRImageURL string
	Speed      string
	Devices    int
	Validity   string
	ExpiresAt  string
}

// RedeemLinks returns the redemption URL and QR image URL for a code.
func (c PrintConfig) RedeemLinks(code string) (redeem, qr string) {
	redeem = fmt.Sprintf(c.RedeemURL, url.QueryEscape(code))
	qr = fmt.Sprintf(c.QRImageURL, url.QueryEscape(redeem))
	return redeem, qr
}

// Cards converts vouchers to printable cards.
func Cards(vouchers []voucher.Voucher, cfg PrintConfig) []Card {
	cards := make([]Card, 0, len(vouchers))
	for _, v := range vouchers {
		redeem, qr := cfg.RedeemLinks(v.Code)
		cards = append(cards, Card{
			Code:       v.Code,
			RedeemURL:  redeem,
			QRImageURL: qr,
			Speed:      v.SpeedLimit.String(),
			Devices:    v.DeviceLimit,
			Validity:   v.Validity.String(),
			ExpiresAt:  formatTimestamp(v.ExpiresAt),
		})
	}
	return cards
}

var printTemplate = template.Must(template.New("print").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>Print Vouchers ({{len .Cards}})</title>
<style>
  body { font-family: system-ui, sans-serif; margin: 0; padding: 16px; }
  .grid { display: grid; grid-template-columns: repeat(4, 1fr); gap: 12px; }
  .card { width: 180px; height: 260px; border: 1px solid #d1d5db; border-radius: 8px; padding: 12px;
          display: flex; flex-direction: column; align-items: center; text-align: center; break-inside: avoid; }
  .card h4 { margin: 0 0 6px; font-size: 15px; }
  .code { font-family: monospace; font-size: 18px; font-weight: 600; letter-spacing: 3px; margin: 6px 0; }
  .meta { font-size: 11px; color: #4b5563; }
  @media print { body { padding: 0; } }
</style>
</head>
<body>
<div class="grid">
{{- range .Cards}}
  <div class="card">
    <h4>{{$.Title}}</h4>
    <img src="{{.QRImageURL}}" alt="QR Code for {{.Code}}" width="150" height="150">
    <div class="code">{{.Code}}</div>
    <div class="meta">Speed: {{.Speed}} | Devices: {{.Devices}}</div>
    <div class="meta">Validity: {{.Validity}}</div>
    <div class="meta">Expires: {{.ExpiresAt}}</div>
    <a class="meta" href="{{.RedeemURL}}">Redeem online</a>
  </div>
{{- end}}
</div>
</body>
</html>
`))

// WritePrintSheet renders an HTML sheet of cards for the selected vouchers.
func WritePrintSheet(w io.Writer, vouchers []voucher.Voucher, cfg PrintConfig) error {
	if len(vouchers) == 0 {
		return ErrNothingToPrint
	}
	data := struct {
		Title string
		Cards []Card
	}{Title: cfg.Title, Cards: Cards(vouchers, cfg)}

	if err := printTemplate.Execute(w, data); err != nil {
		return fmt.Errorf("failed to render print sheet: %w", err)
	}
	return nil
}
