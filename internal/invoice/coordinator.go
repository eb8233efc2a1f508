package invoice

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/globalexchange/cambios/internal/config"
	"github.com/globalexchange/cambios/internal/sequence"
	"github.com/globalexchange/cambios/pkg/metrics"
	"github.com/globalexchange/cambios/pkg/models"
)

// ErrNoReceptorIdentity is returned when a non-taxpayer client has no
// identity document to put on the invoice.
var ErrNoReceptorIdentity = errors.New("client has neither tax id nor identity document")

// Coordinator builds and submits the fiscal document for a paid transaction.
// Issue is idempotent per transaction and retries numbering conflicts with a
// freshly issued number.
type Coordinator struct {
	logger *zap.Logger
	db     *gorm.DB
	seq    sequence.Sequencer
	proxy  FiscalProxy
	cfg    config.InvoicingConfig
}

// NewCoordinator creates the invoice coordinator.
func NewCoordinator(logger *zap.Logger, db *gorm.DB, seq sequence.Sequencer, proxy FiscalProxy, cfg config.InvoicingConfig) *Coordinator {
	return &Coordinator{logger: logger, db: db, seq: seq, proxy: proxy, cfg: cfg}
}

// Issue creates, submits and persists the invoice for a transaction. If the
// transaction already has one, the existing invoice is returned untouched. A
// proxy rejection persists the invoice as REJECTED and surfaces the error;
// the transaction itself is never affected.
func (c *Coordinator) Issue(ctx context.Context, transactionID uuid.UUID) (*models.Invoice, error) {
	var tx models.Transaction
	if err := c.db.WithContext(ctx).First(&tx, "id = ?", transactionID).Error; err != nil {
		return nil, fmt.Errorf("failed to load transaction: %w", err)
	}

	var existing models.Invoice
	err := c.db.WithContext(ctx).First(&existing, "transaction_id = ?", tx.ID).Error
	if err == nil {
		return &existing, nil
	}
	if err != gorm.ErrRecordNotFound {
		return nil, fmt.Errorf("failed to look up invoice: %w", err)
	}

	var client models.Client
	if err := c.db.WithContext(ctx).First(&client, "id = ?", tx.ClientID).Error; err != nil {
		return nil, fmt.Errorf("failed to load client: %w", err)
	}

	receptor, err := buildReceptor(&client)
	if err != nil {
		return nil, err
	}

	return c.submitWithFreshNumbers(ctx, &tx, receptor, nil)
}

// Retry resubmits a rejected invoice under a newly issued document number.
// Used by the manual/scheduled retry path after a proxy-side failure.
func (c *Coordinator) Retry(ctx context.Context, invoiceID uuid.UUID) (*models.Invoice, error) {
	var inv models.Invoice
	if err := c.db.WithContext(ctx).First(&inv, "id = ?", invoiceID).Error; err != nil {
		return nil, fmt.Errorf("failed to load invoice: %w", err)
	}
	if inv.Status == models.InvoiceApproved {
		return &inv, nil
	}

	var tx models.Transaction
	if err := c.db.WithContext(ctx).First(&tx, "id = ?", inv.TransactionID).Error; err != nil {
		return nil, fmt.Errorf("failed to load transaction: %w", err)
	}
	var client models.Client
	if err := c.db.WithContext(ctx).First(&client, "id = ?", tx.ClientID).Error; err != nil {
		return nil, fmt.Errorf("failed to load client: %w", err)
	}
	receptor, err := buildReceptor(&client)
	if err != nil {
		return nil, err
	}

	return c.submitWithFreshNumbers(ctx, &tx, receptor, &inv)
}

// Refresh re-reads the proxy-side status of a submitted invoice and folds it
// into the local row. Invoices without an external id are returned as-is.
func (c *Coordinator) Refresh(ctx context.Context, invoiceID uuid.UUID) (*models.Invoice, error) {
	var inv models.Invoice
	if err := c.db.WithContext(ctx).First(&inv, "id = ?", invoiceID).Error; err != nil {
		return nil, fmt.Errorf("failed to load invoice: %w", err)
	}
	if inv.ExternalID == "" {
		return &inv, nil
	}

	status, err := c.proxy.Status(ctx, inv.ExternalID)
	if err != nil {
		return nil, fmt.Errorf("failed to query document status: %w", err)
	}

	var next models.InvoiceStatus
	switch status {
	case "approved":
		next = models.InvoiceApproved
	case "rejected":
		next = models.InvoiceRejected
	default:
		next = models.InvoiceSubmitted
	}
	if next != inv.Status {
		inv.Status = next
		inv.UpdatedAt = time.Now()
		if err := c.db.WithContext(ctx).Save(&inv).Error; err != nil {
			return nil, fmt.Errorf("failed to update invoice status: %w", err)
		}
	}
	return &inv, nil
}

// submitWithFreshNumbers drives the issue-number/submit loop. It keeps
// requesting numbers while the proxy reports the number already approved,
// stopping only at range exhaustion. When reuse is non-nil the existing
// invoice row is updated instead of creating a new one.
func (c *Coordinator) submitWithFreshNumbers(ctx context.Context, tx *models.Transaction, receptor *Receptor, reuse *models.Invoice) (*models.Invoice, error) {
	total := tx.BaseAmount().Round(0).String()

	for {
		number, err := c.seq.Next(ctx, c.cfg.Establishment, c.cfg.IssuingPoint)
		if err != nil {
			return nil, err
		}

		sub := &Submission{
			DocNumber:      number,
			Establishment:  c.cfg.Establishment,
			IssuingPoint:   c.cfg.IssuingPoint,
			StampNumber:    c.cfg.StampNumber,
			StampValidFrom: c.cfg.StampValidFrom,
			IssueDate:      time.Now().Format("2006-01-02"),
			Currency:       models.BaseCurrency,
			IssuerTaxID:    c.cfg.IssuerTaxID,
			IssuerDV:       c.cfg.IssuerCheckDigit,
			IssuerName:     c.cfg.IssuerName,
			IssuerAddress:  c.cfg.IssuerAddress,
			IssuerEmail:    c.cfg.IssuerEmail,
			IssuerPhone:    c.cfg.IssuerPhone,
			Receptor:       *receptor,
			Item: LineItem{
				Code:        "CAM/DIV",
				Description: fmt.Sprintf("Currency exchange service (%s %s/%s)", tx.Direction, tx.SourceCurrency, tx.TargetCurrency),
				Quantity:    "1",
				UnitPrice:   total,
				VATKind:     "3",
				VATShare:    "0",
				VATRate:     "0",
			},
			Total: total,
		}

		externalID, err := c.proxy.Submit(ctx, sub)
		if errors.Is(err, ErrNumberApproved) {
			c.logger.Warn("document number already approved, reissuing",
				zap.String("transaction_id", tx.ID.String()),
				zap.String("doc_number", number))
			continue
		}

		status := models.InvoiceApproved
		if err != nil {
			status = models.InvoiceRejected
		}

		inv, persistErr := c.persist(ctx, tx, reuse, number, externalID, status)
		if persistErr != nil {
			return nil, persistErr
		}
		if err != nil {
			return inv, err
		}

		c.logger.Info("invoice issued",
			zap.String("transaction_id", tx.ID.String()),
			zap.String("number", inv.Number()),
			zap.String("external_id", externalID))
		return inv, nil
	}
}

func (c *Coordinator) persist(ctx context.Context, tx *models.Transaction, reuse *models.Invoice, number, externalID string, status models.InvoiceStatus) (*models.Invoice, error) {
	now := time.Now()
	metrics.InvoicesTotal.WithLabelValues(string(status)).Inc()

	if reuse != nil {
		reuse.DocNumber = number
		reuse.ExternalID = externalID
		reuse.Status = status
		reuse.UpdatedAt = now
		if err := c.db.WithContext(ctx).Save(reuse).Error; err != nil {
			return nil, fmt.Errorf("failed to update invoice: %w", err)
		}
		return reuse, nil
	}

	inv := &models.Invoice{
		ID:            uuid.New(),
		TransactionID: tx.ID,
		DocNumber:     number,
		Establishment: c.cfg.Establishment,
		IssuingPoint:  c.cfg.IssuingPoint,
		StampNumber:   c.cfg.StampNumber,
		ExternalID:    externalID,
		Status:        status,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := c.db.WithContext(ctx).Create(inv).Error; err != nil {
		return nil, fmt.Errorf("failed to create invoice: %w", err)
	}
	if err := c.db.WithContext(ctx).Model(&models.Transaction{}).
		Where("id = ?", tx.ID).
		Updates(map[string]interface{}{"invoice_id": inv.ID, "updated_at": now}).Error; err != nil {
		return nil, fmt.Errorf("failed to link invoice: %w", err)
	}
	return inv, nil
}

// buildReceptor derives the fiscal receptor block from the client. Taxpayers
// (any client with a parseable tax id) are identified by RUC and verifier
// digit; everyone else falls back to their identity document.
func buildReceptor(client *models.Client) (*Receptor, error) {
	name := client.Name
	legal := client.Kind == models.ClientLegalEntity
	if legal && client.LegalName != "" {
		name = client.LegalName
	}

	base, dv := ParseTaxID(client.TaxID)
	if base != "" {
		return &Receptor{
			Taxpayer:    true,
			LegalEntity: legal,
			TaxID:       base,
			CheckDigit:  dv,
			Name:        name,
			Address:     client.Address,
			Email:       client.Email,
		}, nil
	}

	if client.DocumentID == "" {
		return nil, ErrNoReceptorIdentity
	}
	return &Receptor{
		Taxpayer:    false,
		LegalEntity: legal,
		DocumentID:  client.DocumentID,
		Name:        name,
		Address:     client.Address,
		Email:       client.Email,
	}, nil
}
