package invoice

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// ErrNumberApproved means the proxy already approved a different document
// under the submitted number; the coordinator must retry with a fresh one.
var ErrNumberApproved = errors.New("document number already approved")

// retryCodes are the proxy rejection codes that mean "number taken".
var retryCodes = map[string]bool{
	"NUMDOC_APROBADO": true,
	"RETRY_NUMBER":    true,
}

// Receptor is the client block of a fiscal document. Taxpayer receptors
// carry TaxID/CheckDigit; non-taxpayers carry DocumentID instead.
type Receptor struct {
	Taxpayer    bool   `json:"taxpayer"`
	LegalEntity bool   `json:"legal_entity"`
	TaxID       string `json:"tax_id,omitempty"`
	CheckDigit  string `json:"check_digit,omitempty"`
	DocumentID  string `json:"document_id,omitempty"`
	Name        string `json:"name"`
	Address     string `json:"address,omitempty"`
	Email       string `json:"email,omitempty"`
}

// LineItem is the single service line of an exchange invoice. The exchange
// service is VAT-exempt, so the tax fields are fixed at exempt values.
type LineItem struct {
	Code        string `json:"code"`
	Description string `json:"description"`
	Quantity    string `json:"quantity"`
	UnitPrice   string `json:"unit_price"`
	VATKind     string `json:"vat_kind"`  // 3 = exempt
	VATShare    string `json:"vat_share"` // 0 for exempt
	VATRate     string `json:"vat_rate"`  // 0 for exempt
}

// Submission is the full document sent to the fiscal proxy, always in the
// base currency.
type Submission struct {
	DocNumber      string   `json:"doc_number"`
	Establishment  string   `json:"establishment"`
	IssuingPoint   string   `json:"issuing_point"`
	StampNumber    string   `json:"stamp_number"`
	StampValidFrom string   `json:"stamp_valid_from"`
	IssueDate      string   `json:"issue_date"`
	Currency       string   `json:"currency"`
	IssuerTaxID    string   `json:"issuer_tax_id"`
	IssuerDV       string   `json:"issuer_dv"`
	IssuerName     string   `json:"issuer_name"`
	IssuerAddress  string   `json:"issuer_address"`
	IssuerEmail    string   `json:"issuer_email"`
	IssuerPhone    string   `json:"issuer_phone"`
	Receptor       Receptor `json:"receptor"`
	Item           LineItem `json:"item"`
	Total          string   `json:"total"`
}

// FiscalProxy submits fiscal documents. Submit returns the proxy-assigned
// document id, ErrNumberApproved for a numbering conflict, or any other
// error for a plain rejection or transport fault. Status reports the
// proxy-side state of a previously submitted document.
type FiscalProxy interface {
	Submit(ctx context.Context, sub *Submission) (string, error)
	Status(ctx context.Context, externalID string) (string, error)
}

// HTTPProxy talks to the fiscal proxy over HTTP behind a circuit breaker so
// a flapping proxy does not stall every invoicing job on timeouts.
type HTTPProxy struct {
	logger  *zap.Logger
	baseURL string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
}

// NewHTTPProxy creates the production proxy client.
func NewHTTPProxy(logger *zap.Logger, baseURL string, timeout time.Duration) *HTTPProxy {
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "fiscal-proxy",
		MaxRequests: 3,
		Interval:    30 * time.Second,
		Timeout:     10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 5 && failureRatio >= 0.6
		},
	})
	return &HTTPProxy{
		logger:  logger,
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		breaker: breaker,
	}
}

type proxyResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Code   string `json:"code"`
	Detail string `json:"detail"`
}

// Submit posts the document and confirms it.
func (p *HTTPProxy) Submit(ctx context.Context, sub *Submission) (string, error) {
	result, err := p.breaker.Execute(func() (interface{}, error) {
		return p.submit(ctx, sub)
	})
	if err != nil {
		return "", err
	}
	return result.(string), nil
}

// Status queries the proxy for the current state of a submitted document.
func (p *HTTPProxy) Status(ctx context.Context, externalID string) (string, error) {
	result, err := p.breaker.Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/documents/"+externalID, nil)
		if err != nil {
			return "", fmt.Errorf("failed to build request: %w", err)
		}

		resp, err := p.client.Do(req)
		if err != nil {
			return "", fmt.Errorf("fiscal proxy unreachable: %w", err)
		}
		defer resp.Body.Close()

		var body proxyResponse
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			return "", fmt.Errorf("invalid fiscal proxy response: %w", err)
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return "", fmt.Errorf("fiscal proxy status lookup failed: %s %s", body.Code, body.Detail)
		}
		return body.Status, nil
	})
	if err != nil {
		return "", err
	}
	return result.(string), nil
}

func (p *HTTPProxy) submit(ctx context.Context, sub *Submission) (string, error) {
	payload, err := json.Marshal(sub)
	if err != nil {
		return "", fmt.Errorf("failed to marshal submission: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/documents", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fiscal proxy unreachable: %w", err)
	}
	defer resp.Body.Close()

	var body proxyResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("invalid fiscal proxy response: %w", err)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return body.ID, nil
	case retryCodes[body.Code]:
		return "", ErrNumberApproved
	default:
		p.logger.Warn("fiscal proxy rejected document",
			zap.String("doc_number", sub.DocNumber),
			zap.String("code", body.Code),
			zap.String("detail", body.Detail))
		return "", fmt.Errorf("fiscal proxy rejected document: %s %s", body.Code, body.Detail)
	}
}
