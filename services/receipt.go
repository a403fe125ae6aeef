package services

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
	"gorm.io/gorm"

	"github.com/diocesedigital/portal-api/models"
)

const receiptTemplate = `<!DOCTYPE html>
<html lang="pt-BR">
<head>
<meta charset="utf-8">
<title>Comprovante de Doação</title>
<style>
body { font-family: Georgia, serif; max-width: 600px; margin: 40px auto; color: #222; }
h1 { font-size: 20px; border-bottom: 2px solid #8b6f2f; padding-bottom: 8px; }
table { width: 100%; border-collapse: collapse; margin-top: 16px; }
td { padding: 6px 0; border-bottom: 1px solid #eee; }
td:first-child { color: #666; width: 40%; }
.code { font-family: monospace; font-size: 12px; }
</style>
</head>
<body>
<h1>Comprovante de Doação</h1>
<table>
<tr><td>Campanha</td><td>{{ .CampaignTitle }}</td></tr>
<tr><td>Doador</td><td>{{ .DonorName }}</td></tr>
<tr><td>E-mail</td><td>{{ .DonorEmail }}</td></tr>
<tr><td>Telefone</td><td>{{ .DonorPhone }}</td></tr>
<tr><td>Valor</td><td>R$ {{ .Amount }}</td></tr>
<tr><td>Data</td><td>{{ .Date }}</td></tr>
<tr><td>Situação</td><td>{{ .Status }}</td></tr>
<tr><td>Código</td><td class="code">{{ .Code }}</td></tr>
</table>
</body>
</html>
`

type receiptParams struct {
	CampaignTitle string
	DonorName     string
	DonorEmail    string
	DonorPhone    string
	Amount        string
	Date          string
	Status        string
	Code          string
}

// ReceiptArtifact is the downloadable proof of a donation. PDF when the
// external converter succeeds, raw HTML otherwise, so the donor always
// receives something.
type ReceiptArtifact struct {
	Data        []byte
	ContentType string
	Ext         string
}

// ReceiptService renders donation receipts and converts them to PDF through
// an external HTML-to-PDF endpoint.
type ReceiptService struct {
	db           *gorm.DB
	converterURL string
	httpClient   *http.Client
	tpl          *template.Template
}

func NewReceiptService(db *gorm.DB, converterURL string) *ReceiptService {
	httpClient := &http.Client{
		Transport: &http.Transport{
			MaxIdleConns:        20,
			MaxIdleConnsPerHost: 5,
			IdleConnTimeout:     90 * time.Second,
		},
		Timeout: 30 * time.Second,
	}
	return &ReceiptService{
		db:           db,
		converterURL: converterURL,
		httpClient:   httpClient,
		tpl:          template.Must(template.New("receipt").Parse(receiptTemplate)),
	}
}

// Generate loads the donation with its campaign and produces the artifact.
// Conversion failures fall back to the rendered HTML.
func (s *ReceiptService) Generate(ctx context.Context, donationID string) (*ReceiptArtifact, error) {
	var donation models.Donation
	if err := s.db.Preload("Campaign").Where("id = ?", donationID).First(&donation).Error; err != nil {
		return nil, ErrDonationNotFound
	}

	htmlDoc, err := s.renderHTML(&donation)
	if err != nil {
		return nil, err
	}

	if s.converterURL != "" {
		pdf, err := s.convertToPDF(ctx, htmlDoc)
		if err == nil {
			return &ReceiptArtifact{Data: pdf, ContentType: "application/pdf", Ext: "pdf"}, nil
		}
		log.Printf("PDF conversion failed for donation %s, falling back to HTML: %v", donationID, err)
	}

	return &ReceiptArtifact{Data: htmlDoc, ContentType: "text/html; charset=utf-8", Ext: "html"}, nil
}

func (s *ReceiptService) renderHTML(donation *models.Donation) ([]byte, error) {
	params := receiptParams{
		CampaignTitle: donation.Campaign.Title,
		DonorName:     donation.DonorName,
		DonorEmail:    donation.DonorEmail,
		DonorPhone:    donation.DonorPhone,
		Amount:        donation.Amount.StringFixed(2),
		Date:          donation.CreatedAt.Format("02/01/2006 15:04"),
		Status:        donation.Status,
		Code:          donation.ID,
	}
	var buf bytes.Buffer
	if err := s.tpl.Execute(&buf, params); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (s *ReceiptService) convertToPDF(ctx context.Context, htmlDoc []byte) ([]byte, error) {
	operation := func() ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.converterURL, bytes.NewReader(htmlDoc))
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "text/html; charset=utf-8")
		req.Header.Set("Accept", "application/pdf")

		resp, err := s.httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return nil, backoff.Permanent(fmt.Errorf("converter rejected request: %s", resp.Status))
		}
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("converter returned %s", resp.Status)
		}
		return io.ReadAll(resp.Body)
	}

	return backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(3))
}
