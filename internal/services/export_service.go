package services

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	domain "github.com/mixmall/api/internal/domain"
	"github.com/mixmall/api/internal/platform/storage"
	"github.com/mixmall/api/internal/repositories"
)

const (
	exportPageSize    = 500
	exportMaxPages    = 40
	exportContentType = "text/csv"
	exportLinkExpiry  = 15 * time.Minute
)

var (
	// ErrExportInvalidInput signals the caller provided invalid export filters.
	ErrExportInvalidInput = errors.New("export: invalid input")
	// ErrExportTooLarge indicates the filter matched more orders than one export allows.
	ErrExportTooLarge = errors.New("export: result set too large")
)

// exportUploader abstracts storage.Uploader for easier testing.
type exportUploader interface {
	Upload(ctx context.Context, bucket, object, contentType string, data []byte) error
}

// exportSigner abstracts storage.Client for easier testing.
type exportSigner interface {
	SignedURL(ctx context.Context, bucket, object string, opts storage.SignedURLOptions) (storage.SignedURLResult, error)
}

// ExportServiceDeps bundles collaborators required to construct the export service.
type ExportServiceDeps struct {
	Orders      repositories.OrderRepository
	Uploader    exportUploader
	Signer      exportSigner
	Bucket      string
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type exportService struct {
	orders   repositories.OrderRepository
	uploader exportUploader
	signer   exportSigner
	bucket   string
	clock    func() time.Time
	newID    func() string
	logger   func(context.Context, string, map[string]any)
	printer  *message.Printer
}

// NewExportService wires dependencies into a concrete ExportService implementation.
func NewExportService(deps ExportServiceDeps) (ExportService, error) {
	if deps.Orders == nil {
		return nil, errors.New("export service: order repository is required")
	}
	if deps.Uploader == nil {
		return nil, errors.New("export service: uploader is required")
	}
	if deps.Signer == nil {
		return nil, errors.New("export service: url signer is required")
	}
	if strings.TrimSpace(deps.Bucket) == "" {
		return nil, errors.New("export service: bucket is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &exportService{
		orders:   deps.Orders,
		uploader: deps.Uploader,
		signer:   deps.Signer,
		bucket:   strings.TrimSpace(deps.Bucket),
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:   idGen,
		logger:  logger,
		printer: message.NewPrinter(language.English),
	}, nil
}

var exportHeader = []string{
	"order_number", "created_at", "status", "consignee", "mobile", "address",
	"items", "goods_amount", "full_reduction", "coupon_discount", "paid_amount",
	"pay_type", "shipper", "tracking_number",
}

// ExportOrders renders the filtered back-office listing to CSV, uploads it and
// returns a short-lived signed download link.
func (s *exportService) ExportOrders(ctx context.Context, cmd ExportOrdersCommand) (OrderExport, error) {
	filter := repositories.AdminOrderFilter{
		OrderNumber:   strings.TrimSpace(cmd.OrderNumber),
		Username:      strings.TrimSpace(cmd.Username),
		ConsigneeName: strings.TrimSpace(cmd.ConsigneeName),
		Status:        cmd.Status,
		Pagination:    domain.Pagination{PageSize: exportPageSize},
	}

	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)
	if err := writer.Write(exportHeader); err != nil {
		return OrderExport{}, fmt.Errorf("export: write header: %w", err)
	}

	rows := 0
	for page := 0; ; page++ {
		if page >= exportMaxPages {
			return OrderExport{}, fmt.Errorf("%w: more than %d orders", ErrExportTooLarge, exportPageSize*exportMaxPages)
		}
		result, err := s.orders.ListAdmin(ctx, filter)
		if err != nil {
			return OrderExport{}, s.mapRepositoryError(err)
		}
		for _, order := range result.Items {
			if err := writer.Write(s.exportRow(order)); err != nil {
				return OrderExport{}, fmt.Errorf("export: write row: %w", err)
			}
			rows++
		}
		if result.NextPageToken == "" {
			break
		}
		filter.Pagination.PageToken = result.NextPageToken
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return OrderExport{}, fmt.Errorf("export: flush csv: %w", err)
	}

	now := s.clock()
	exportID := s.newID()
	fileName := fmt.Sprintf("orders-%s.csv", now.Format("20060102-150405"))
	object, err := storage.BuildObjectPath(storage.PurposeOrderExport, storage.PathParams{
		ExportID: exportID,
		FileName: fileName,
	})
	if err != nil {
		return OrderExport{}, fmt.Errorf("%w: %v", ErrExportInvalidInput, err)
	}

	if err := s.uploader.Upload(ctx, s.bucket, object, exportContentType, buf.Bytes()); err != nil {
		return OrderExport{}, fmt.Errorf("export: upload: %w", err)
	}

	signed, err := s.signer.SignedURL(ctx, s.bucket, object, storage.SignedURLOptions{
		Download: &storage.DownloadOptions{
			ExpiresIn:      exportLinkExpiry,
			Disposition:    fmt.Sprintf("attachment; filename=%q", fileName),
			ResponseType:   exportContentType,
			AllowAnonymous: true,
		},
	})
	if err != nil {
		return OrderExport{}, fmt.Errorf("export: sign url: %w", err)
	}

	s.logger(ctx, "export.orders.rendered", map[string]any{
		"actor":  cmd.ActorID,
		"object": object,
		"rows":   rows,
	})

	return OrderExport{
		ObjectName: object,
		URL:        signed.URL,
		ExpiresAt:  signed.ExpiresAt,
		Rows:       rows,
	}, nil
}

func (s *exportService) exportRow(order Order) []string {
	address := strings.TrimSpace(strings.Join([]string{
		order.Address.Province, order.Address.City,
		order.Address.District, order.Address.Detail,
	}, " "))

	items := make([]string, 0, len(order.Lines))
	for _, line := range order.Lines {
		items = append(items, fmt.Sprintf("%s x%d", line.Title, line.Quantity))
	}

	return []string{
		order.OrderNumber,
		order.CreatedAt.UTC().Format(time.RFC3339),
		order.Status.Label(),
		order.Address.Name,
		order.Address.Mobile,
		address,
		strings.Join(items, "; "),
		s.formatAmount(order.Price.GoodsPrice),
		s.formatAmount(order.Price.FullReduction),
		s.formatAmount(order.Price.CouponDiscount),
		s.formatAmount(order.Price.PayPrice),
		string(order.PayType),
		order.ShipperCode,
		order.TrackingNumber,
	}
}

// formatAmount renders minor units as a grouped decimal, e.g. 123456 -> "1,234.56".
func (s *exportService) formatAmount(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return s.printer.Sprintf("%s%d.%02d", sign, cents/100, cents%100)
}

func (s *exportService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) && repoErr.IsUnavailable() {
		return fmt.Errorf("export: repository unavailable: %w", err)
	}
	return err
}
