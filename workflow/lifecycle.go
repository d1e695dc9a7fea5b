package workflow

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"bitbucket.org/mmdatafocus/invoice_bridge/config"
	"bitbucket.org/mmdatafocus/invoice_bridge/metastore"
	"bitbucket.org/mmdatafocus/invoice_bridge/models"
	"bitbucket.org/mmdatafocus/invoice_bridge/utils"
)

var moduleName string = "workflow"

// activation is the explicit in-memory form of the nullable
// activation_date column. The column view is re-derived only at the
// storage boundary.
type activation struct {
	Activated bool
	At        time.Time
}

func activationFromColumn(ts *time.Time) activation {
	if ts == nil {
		return activation{}
	}
	return activation{Activated: true, At: *ts}
}

func (a activation) column() *time.Time {
	if !a.Activated {
		return nil
	}
	at := a.At
	return &at
}

// ActivationChange says what an update must do to the date pair.
// SetDates mutates both created_at and activation_date to At; Clear drops
// activation_date and leaves created_at alone. Both false means hands off.
type ActivationChange struct {
	SetDates bool
	Clear    bool
	At       time.Time
}

// ResolveActivation applies the latch rules to a kind transition.
// Only a fictive-to-standard transition on a never-activated invoice sets
// the dates; re-saving an activated invoice never moves them again, and a
// reversion to fictive clears the latch without restoring created_at.
func ResolveActivation(prevKind models.InvoiceKind, newKind models.InvoiceKind, current *time.Time, payments []models.InvoicePayment, now time.Time) ActivationChange {
	state := activationFromColumn(current)

	if prevKind == models.InvoiceKindFictive && newKind == models.InvoiceKindStandard && !state.Activated {
		return ActivationChange{SetDates: true, At: realizationTimestamp(payments, now)}
	}
	if prevKind == models.InvoiceKindStandard && newKind == models.InvoiceKindFictive && state.Activated {
		return ActivationChange{Clear: true}
	}
	return ActivationChange{}
}

// realizationTimestamp picks the earliest payment's calendar date combined
// with the current time of day, falling back to now when no payment
// carries a usable date.
func realizationTimestamp(payments []models.InvoicePayment, now time.Time) time.Time {
	var earliest time.Time
	for _, p := range payments {
		if p.PaymentDate.IsZero() {
			continue
		}
		if earliest.IsZero() || p.PaymentDate.Before(earliest) {
			earliest = p.PaymentDate
		}
	}
	if earliest.IsZero() {
		return now
	}
	return utils.CombineDateWithClock(earliest, now)
}

// LifecycleService is the write path for invoices. It owns the activation
// latch, the optional customer link and the legacy mirror; plain reads go
// straight to the models package.
type LifecycleService struct {
	meta    metastore.Store
	matcher models.CustomerMatcher
	logger  *logrus.Logger
	now     func() time.Time
}

func NewLifecycleService(meta metastore.Store, matcher models.CustomerMatcher, logger *logrus.Logger) *LifecycleService {
	if matcher == nil {
		matcher = models.NoopMatcher{}
	}
	return &LifecycleService{meta: meta, matcher: matcher, logger: logger, now: time.Now}
}

// CreateInvoice persists a new invoice. An invoice born standard is never
// latched, so activation_date always starts NULL here.
func (s *LifecycleService) CreateInvoice(ctx context.Context, invoice *models.Invoice) error {
	funcName := "CreateInvoice"

	invoice.ActivationDate = nil
	if invoice.CreatedBy == 0 {
		if userId, ok := utils.GetUserIdFromContext(ctx); ok {
			invoice.CreatedBy = userId
		}
	}
	invoice.Normalize()
	if err := s.linkCustomer(ctx, invoice); err != nil {
		return err
	}

	if config.LegacyMirrorEnabled() && invoice.OldPostId == 0 {
		createdAt := invoice.CreatedAt
		if createdAt.IsZero() {
			createdAt = s.now()
			invoice.CreatedAt = createdAt
		}
		hostId, err := s.meta.CreateEntity(ctx, metastore.NewEntity{
			RecordType: models.HostRecordTypeInvoice,
			Title:      invoice.InvoiceNumber,
			Status:     "publish",
			CreatedAt:  createdAt,
			Fields:     models.EncodeInvoice(invoice),
		})
		if err != nil {
			config.LogError(s.logger, moduleName, funcName, "creating host record", invoice.InvoiceNumber, err)
			return &utils.TransportError{Op: "create host record", Err: err}
		}
		invoice.OldPostId = hostId
	}

	if err := models.CreateInvoice(ctx, invoice); err != nil {
		return err
	}
	return s.mirror(ctx, invoice)
}

// UpdateInvoice revalidates, applies the activation latch against the
// previously stored kind, persists, syncs the host record timestamp when
// the latch fired, and mirrors to the legacy store.
func (s *LifecycleService) UpdateInvoice(ctx context.Context, invoice *models.Invoice) error {
	funcName := "UpdateInvoice"

	previous, err := models.GetInvoice(ctx, invoice.ID)
	if err != nil {
		return err
	}

	invoice.Normalize()
	if err := s.linkCustomer(ctx, invoice); err != nil {
		return err
	}

	// dates are owned by the latch, never by the caller
	invoice.CreatedAt = previous.CreatedAt
	invoice.ActivationDate = previous.ActivationDate

	change := ResolveActivation(previous.Kind, invoice.Kind, previous.ActivationDate, invoice.Payments, s.now())
	switch {
	case change.SetDates:
		invoice.CreatedAt = change.At
		invoice.ActivationDate = activation{Activated: true, At: change.At}.column()
	case change.Clear:
		invoice.ActivationDate = activation{}.column()
	}

	if err := models.UpdateInvoice(ctx, invoice); err != nil {
		return err
	}

	if change.SetDates && invoice.OldPostId > 0 {
		if err := s.meta.SetEntityCreatedAt(ctx, invoice.OldPostId, change.At); err != nil {
			config.LogError(s.logger, moduleName, funcName, "syncing host record created_at", invoice.OldPostId, err)
			return &utils.TransportError{Op: "sync host record created_at", Err: err}
		}
	}
	return s.mirror(ctx, invoice)
}

// DeleteInvoice removes the relational invoice with its children. The host
// record is externally owned and stays.
func (s *LifecycleService) DeleteInvoice(ctx context.Context, id int) error {
	return models.DeleteInvoice(ctx, id)
}

func (s *LifecycleService) linkCustomer(ctx context.Context, invoice *models.Invoice) error {
	if invoice.CustomerId != nil {
		return nil
	}
	customer, err := s.matcher.Match(ctx, invoice.Buyer())
	if err != nil {
		config.LogError(s.logger, moduleName, "linkCustomer", "matching buyer to customer", invoice.InvoiceNumber, err)
		return &utils.TransportError{Op: "match customer", Err: err}
	}
	if customer != nil {
		invoice.CustomerId = &customer.ID
	}
	return nil
}

// mirror writes the invoice's fields back to the key-value store so legacy
// readers keep seeing current data while the cutover runs. The activation
// marker follows the latch: written when a non-null activation_date is
// persisted, deleted when the invoice is fictive, otherwise untouched.
func (s *LifecycleService) mirror(ctx context.Context, invoice *models.Invoice) error {
	funcName := "mirror"
	if !config.LegacyMirrorEnabled() || invoice.OldPostId == 0 {
		return nil
	}

	for key, value := range models.EncodeInvoice(invoice) {
		if err := s.meta.SetField(ctx, invoice.OldPostId, key, value); err != nil {
			config.LogError(s.logger, moduleName, funcName, "mirroring field "+key, invoice.OldPostId, err)
			return &utils.TransportError{Op: "mirror invoice field", Err: err}
		}
	}

	switch {
	case invoice.ActivationDate != nil:
		stamp := invoice.ActivationDate.Format("2006-01-02 15:04:05")
		if err := s.meta.SetField(ctx, invoice.OldPostId, models.FieldActivationDate, stamp); err != nil {
			config.LogError(s.logger, moduleName, funcName, "mirroring activation marker", invoice.OldPostId, err)
			return &utils.TransportError{Op: "mirror activation marker", Err: err}
		}
	case invoice.Kind == models.InvoiceKindFictive:
		if err := s.meta.DeleteField(ctx, invoice.OldPostId, models.FieldActivationDate); err != nil {
			config.LogError(s.logger, moduleName, funcName, "removing activation marker", invoice.OldPostId, err)
			return &utils.TransportError{Op: "remove activation marker", Err: err}
		}
	}
	return nil
}
