package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/allocation-engine/generic"
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// queries implements generic.Store over a querier.
type queries struct {
	q querier
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

// where accumulates AND-ed conditions.
type where struct {
	conds []string
	args  []any
}

func (w *where) add(cond string, args ...any) {
	w.conds = append(w.conds, cond)
	w.args = append(w.args, args...)
}

func (w *where) in(column string, values []string) {
	if len(values) == 0 {
		return
	}
	marks := strings.TrimSuffix(strings.Repeat("?,", len(values)), ",")
	w.conds = append(w.conds, column+" IN ("+marks+")")
	for _, v := range values {
		w.args = append(w.args, v)
	}
}

func (w *where) String() string {
	if len(w.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.conds, " AND ")
}

// insertID runs an INSERT and returns the new row id.
func (s *queries) insertID(ctx context.Context, query string, args ...any) (int64, error) {
	res, err := s.q.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// =============================================================================
// USERS
// =============================================================================

func (s *queries) SaveUser(ctx context.Context, u *generic.User) error {
	if u.ID == 0 {
		id, err := s.insertID(ctx,
			`INSERT INTO users (name, role, email, phone, created_at) VALUES (?, ?, ?, ?, ?)`,
			u.Name, string(u.Role), nullString(u.Email), nullString(u.Phone), formatTime(u.CreatedAt))
		if err != nil {
			return fmt.Errorf("failed to insert user: %w", err)
		}
		u.ID = generic.UserID(id)
		return nil
	}
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO users (id, name, role, email, phone, created_at) VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET name = excluded.name, role = excluded.role,
		   email = excluded.email, phone = excluded.phone`,
		int64(u.ID), u.Name, string(u.Role), nullString(u.Email), nullString(u.Phone), formatTime(u.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to save user: %w", err)
	}
	return nil
}

const userColumns = `id, name, role, email, phone, created_at`

func scanUser(sc scanner) (generic.User, error) {
	var (
		u            generic.User
		role         string
		email, phone sql.NullString
		createdAt    string
	)
	if err := sc.Scan(&u.ID, &u.Name, &role, &email, &phone, &createdAt); err != nil {
		return u, err
	}
	u.Role = generic.Role(role)
	u.Email = email.String
	u.Phone = phone.String
	u.CreatedAt = parseTime(createdAt)
	return u, nil
}

func (s *queries) GetUser(ctx context.Context, id generic.UserID) (*generic.User, error) {
	u, err := scanUser(s.q.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, int64(id)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &u, nil
}

func (s *queries) ListUsers(ctx context.Context) ([]generic.User, error) {
	return queryAll(ctx, s.q, scanUser, `SELECT `+userColumns+` FROM users ORDER BY id`)
}

// =============================================================================
// REGISTRY
// =============================================================================

func (s *queries) SaveGroup(ctx context.Context, g *generic.ResourceGroup) error {
	if g.ID != 0 {
		_, err := s.q.ExecContext(ctx, `UPDATE resource_groups SET label = ? WHERE id = ?`, g.Label, int64(g.ID))
		return err
	}
	id, err := s.insertID(ctx,
		`INSERT INTO resource_groups (kind, label, created_at) VALUES (?, ?, ?)`,
		g.Kind, g.Label, formatTime(g.CreatedAt))
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("%s group %q: %w", g.Kind, g.Label, generic.ErrConflict)
		}
		return fmt.Errorf("failed to insert group: %w", err)
	}
	g.ID = generic.GroupID(id)
	return nil
}

func scanGroup(sc scanner) (generic.ResourceGroup, error) {
	var (
		g         generic.ResourceGroup
		createdAt string
	)
	if err := sc.Scan(&g.ID, &g.Kind, &g.Label, &createdAt); err != nil {
		return g, err
	}
	g.CreatedAt = parseTime(createdAt)
	return g, nil
}

func (s *queries) ListGroups(ctx context.Context, kind string) ([]generic.ResourceGroup, error) {
	w := &where{}
	if kind != "" {
		w.add("kind = ?", kind)
	}
	return queryAll(ctx, s.q, scanGroup,
		`SELECT id, kind, label, created_at FROM resource_groups`+w.String()+` ORDER BY id`, w.args...)
}

func (s *queries) SaveResource(ctx context.Context, r *generic.Resource) error {
	if r.ID == 0 {
		id, err := s.insertID(ctx,
			`INSERT INTO resources (kind, group_id, label, is_booked, created_at) VALUES (?, ?, ?, ?, ?)`,
			r.Kind, nullID(r.Group), r.Label, r.IsBooked, formatTime(r.CreatedAt))
		if err != nil {
			return fmt.Errorf("failed to insert resource: %w", err)
		}
		r.ID = generic.ResourceID(id)
		return nil
	}
	_, err := s.q.ExecContext(ctx,
		`UPDATE resources SET group_id = ?, label = ?, is_booked = ? WHERE id = ?`,
		nullID(r.Group), r.Label, r.IsBooked, int64(r.ID))
	if err != nil {
		return fmt.Errorf("failed to update resource: %w", err)
	}
	return nil
}

const resourceColumns = `id, kind, group_id, label, is_booked, created_at`

func scanResource(sc scanner) (generic.Resource, error) {
	var (
		r         generic.Resource
		group     sql.NullInt64
		createdAt string
	)
	if err := sc.Scan(&r.ID, &r.Kind, &group, &r.Label, &r.IsBooked, &createdAt); err != nil {
		return r, err
	}
	r.Group = idPtr[generic.GroupID](group)
	r.CreatedAt = parseTime(createdAt)
	return r, nil
}

func (s *queries) GetResource(ctx context.Context, id generic.ResourceID) (*generic.Resource, error) {
	r, err := scanResource(s.q.QueryRowContext(ctx, `SELECT `+resourceColumns+` FROM resources WHERE id = ?`, int64(id)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get resource: %w", err)
	}
	return &r, nil
}

func (s *queries) ListResources(ctx context.Context, kind string) ([]generic.Resource, error) {
	w := &where{}
	if kind != "" {
		w.add("kind = ?", kind)
	}
	return queryAll(ctx, s.q, scanResource, `SELECT `+resourceColumns+` FROM resources`+w.String()+` ORDER BY id`, w.args...)
}

func (s *queries) DeleteResource(ctx context.Context, id generic.ResourceID) error {
	if _, err := s.q.ExecContext(ctx, `DELETE FROM resources WHERE id = ?`, int64(id)); err != nil {
		return fmt.Errorf("failed to delete resource: %w", err)
	}
	return nil
}

// =============================================================================
// BOOKINGS
// =============================================================================

func (s *queries) SaveBooking(ctx context.Context, b *generic.Booking) error {
	args := []any{
		b.Kind, int64(b.Student), int64(b.Resource), b.StartDate.String(), nullDate(b.EndDate),
		string(b.Status), nullID(b.ApprovedBy), nullTime(b.ApprovedAt),
		b.MonthlyFee.String(), b.Deposit.String(),
		nullString(b.IDDocFront), nullString(b.IDDocBack), nullString(b.Purpose), nullString(b.Remarks),
		formatTime(b.CreatedAt), formatTime(b.UpdatedAt),
	}
	if b.ID == 0 {
		id, err := s.insertID(ctx, `
			INSERT INTO bookings
			(kind, student_id, resource_id, start_date, end_date, status, approved_by, approved_at,
			 monthly_fee, deposit, id_doc_front, id_doc_back, purpose, remarks, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, args...)
		if err != nil {
			return fmt.Errorf("failed to insert booking: %w", err)
		}
		b.ID = generic.BookingID(id)
		return nil
	}
	_, err := s.q.ExecContext(ctx, `
		UPDATE bookings SET
		  kind = ?, student_id = ?, resource_id = ?, start_date = ?, end_date = ?, status = ?,
		  approved_by = ?, approved_at = ?, monthly_fee = ?, deposit = ?,
		  id_doc_front = ?, id_doc_back = ?, purpose = ?, remarks = ?, created_at = ?, updated_at = ?
		WHERE id = ?`, append(args, int64(b.ID))...)
	if err != nil {
		return fmt.Errorf("failed to update booking: %w", err)
	}
	return nil
}

const bookingColumns = `id, kind, student_id, resource_id, start_date, end_date, status, approved_by, approved_at,
	monthly_fee, deposit, id_doc_front, id_doc_back, purpose, remarks, created_at, updated_at`

func scanBooking(sc scanner) (generic.Booking, error) {
	var (
		b                             generic.Booking
		startDate, status             string
		endDate, approvedAt           sql.NullString
		approvedBy                    sql.NullInt64
		monthlyFee, deposit           string
		front, back, purpose, remarks sql.NullString
		createdAt, updatedAt          string
	)
	err := sc.Scan(&b.ID, &b.Kind, &b.Student, &b.Resource, &startDate, &endDate, &status,
		&approvedBy, &approvedAt, &monthlyFee, &deposit, &front, &back, &purpose, &remarks,
		&createdAt, &updatedAt)
	if err != nil {
		return b, err
	}
	if b.StartDate, err = generic.ParseDate(startDate); err != nil {
		return b, err
	}
	if b.EndDate, err = parseNullDate(endDate); err != nil {
		return b, err
	}
	b.Status = generic.BookingStatus(status)
	b.ApprovedBy = idPtr[generic.UserID](approvedBy)
	b.ApprovedAt = parseNullTime(approvedAt)
	if b.MonthlyFee, err = decimal.NewFromString(monthlyFee); err != nil {
		return b, err
	}
	if b.Deposit, err = decimal.NewFromString(deposit); err != nil {
		return b, err
	}
	b.IDDocFront = front.String
	b.IDDocBack = back.String
	b.Purpose = purpose.String
	b.Remarks = remarks.String
	b.CreatedAt = parseTime(createdAt)
	b.UpdatedAt = parseTime(updatedAt)
	return b, nil
}

func (s *queries) GetBooking(ctx context.Context, id generic.BookingID) (*generic.Booking, error) {
	b, err := scanBooking(s.q.QueryRowContext(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = ?`, int64(id)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get booking: %w", err)
	}
	return &b, nil
}

func (s *queries) DeleteBooking(ctx context.Context, id generic.BookingID) error {
	if _, err := s.q.ExecContext(ctx, `DELETE FROM bookings WHERE id = ?`, int64(id)); err != nil {
		return fmt.Errorf("failed to delete booking: %w", err)
	}
	return nil
}

func (s *queries) FindBookings(ctx context.Context, f generic.BookingFilter) ([]generic.Booking, error) {
	w := &where{}
	if f.Kind != "" {
		w.add("kind = ?", f.Kind)
	}
	if f.Student != nil {
		w.add("student_id = ?", int64(*f.Student))
	}
	if f.Resource != nil {
		w.add("resource_id = ?", int64(*f.Resource))
	}
	statuses := make([]string, len(f.Statuses))
	for i, st := range f.Statuses {
		statuses[i] = string(st)
	}
	w.in("status", statuses)
	if f.EndBefore != nil {
		w.add("end_date IS NOT NULL AND end_date < ?", f.EndBefore.String())
	}
	return queryAll(ctx, s.q, scanBooking, `SELECT `+bookingColumns+` FROM bookings`+w.String()+` ORDER BY id`, w.args...)
}

// =============================================================================
// INVOICES
// =============================================================================

func (s *queries) SaveInvoice(ctx context.Context, inv *generic.Invoice) error {
	args := []any{
		int64(inv.Booking), inv.Kind, int64(inv.Student), inv.Number, inv.Month.String(),
		inv.Amount.String(), inv.Deposit.String(), inv.Total.String(),
		inv.IsPaid, nullTime(inv.PaidAt), inv.Expired, inv.GeneratedOn.String(),
	}
	var err error
	if inv.ID == 0 {
		var id int64
		id, err = s.insertID(ctx, `
			INSERT INTO invoices
			(booking_id, kind, student_id, number, month, amount, deposit, total, is_paid, paid_at, expired, generated_on)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, args...)
		if err == nil {
			inv.ID = generic.InvoiceID(id)
		}
	} else {
		_, err = s.q.ExecContext(ctx, `
			UPDATE invoices SET
			  booking_id = ?, kind = ?, student_id = ?, number = ?, month = ?, amount = ?, deposit = ?,
			  total = ?, is_paid = ?, paid_at = ?, expired = ?, generated_on = ?
			WHERE id = ?`, append(args, int64(inv.ID))...)
	}
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("invoice %s: %w", inv.Number, generic.ErrDuplicateInvoice)
		}
		return fmt.Errorf("failed to save invoice: %w", err)
	}
	return nil
}

const invoiceColumns = `id, booking_id, kind, student_id, number, month, amount, deposit, total,
	is_paid, paid_at, expired, generated_on`

func scanInvoice(sc scanner) (generic.Invoice, error) {
	var (
		inv                    generic.Invoice
		month, generatedOn     string
		amount, deposit, total string
		paidAt                 sql.NullString
	)
	err := sc.Scan(&inv.ID, &inv.Booking, &inv.Kind, &inv.Student, &inv.Number, &month,
		&amount, &deposit, &total, &inv.IsPaid, &paidAt, &inv.Expired, &generatedOn)
	if err != nil {
		return inv, err
	}
	if inv.Month, err = generic.ParseDate(month); err != nil {
		return inv, err
	}
	if inv.GeneratedOn, err = generic.ParseDate(generatedOn); err != nil {
		return inv, err
	}
	if inv.Amount, err = decimal.NewFromString(amount); err != nil {
		return inv, err
	}
	if inv.Deposit, err = decimal.NewFromString(deposit); err != nil {
		return inv, err
	}
	if inv.Total, err = decimal.NewFromString(total); err != nil {
		return inv, err
	}
	inv.PaidAt = parseNullTime(paidAt)
	return inv, nil
}

func (s *queries) GetInvoice(ctx context.Context, id generic.InvoiceID) (*generic.Invoice, error) {
	inv, err := scanInvoice(s.q.QueryRowContext(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE id = ?`, int64(id)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get invoice: %w", err)
	}
	return &inv, nil
}

func (s *queries) FindInvoices(ctx context.Context, f generic.InvoiceFilter) ([]generic.Invoice, error) {
	w := &where{}
	if f.Kind != "" {
		w.add("kind = ?", f.Kind)
	}
	if f.Booking != nil {
		w.add("booking_id = ?", int64(*f.Booking))
	}
	if f.Student != nil {
		w.add("student_id = ?", int64(*f.Student))
	}
	if f.Month != nil {
		w.add("month = ?", f.Month.String())
	}
	if f.GeneratedFrom != nil {
		w.add("generated_on >= ?", f.GeneratedFrom.String())
	}
	if f.GeneratedTo != nil {
		w.add("generated_on <= ?", f.GeneratedTo.String())
	}
	return queryAll(ctx, s.q, scanInvoice, `SELECT `+invoiceColumns+` FROM invoices`+w.String()+` ORDER BY month, id`, w.args...)
}

// =============================================================================
// SWITCH REQUESTS
// =============================================================================

func switchWhere(f generic.SwitchFilter) *where {
	w := &where{}
	if f.Kind != "" {
		w.add("kind = ?", f.Kind)
	}
	if f.Student != nil {
		w.add("student_id = ?", int64(*f.Student))
	}
	statuses := make([]string, len(f.Statuses))
	for i, st := range f.Statuses {
		statuses[i] = string(st)
	}
	w.in("status", statuses)
	return w
}

func (s *queries) SaveAvailableSwitch(ctx context.Context, r *generic.AvailableSwitchRequest) error {
	args := []any{
		r.Kind, int64(r.Booking), int64(r.Student), int64(r.Target), string(r.Status),
		nullString(r.Remarks), nullID(r.ApprovedBy), nullTime(r.ApprovedAt), formatTime(r.CreatedAt),
	}
	if r.ID == 0 {
		id, err := s.insertID(ctx, `
			INSERT INTO available_switches
			(kind, booking_id, student_id, target_id, status, remarks, approved_by, approved_at, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`, args...)
		if err != nil {
			return fmt.Errorf("failed to insert switch request: %w", err)
		}
		r.ID = generic.RequestID(id)
		return nil
	}
	_, err := s.q.ExecContext(ctx, `
		UPDATE available_switches SET
		  kind = ?, booking_id = ?, student_id = ?, target_id = ?, status = ?, remarks = ?,
		  approved_by = ?, approved_at = ?, created_at = ?
		WHERE id = ?`, append(args, int64(r.ID))...)
	if err != nil {
		return fmt.Errorf("failed to update switch request: %w", err)
	}
	return nil
}

const availableColumns = `id, kind, booking_id, student_id, target_id, status, remarks, approved_by, approved_at, created_at`

func scanAvailable(sc scanner) (generic.AvailableSwitchRequest, error) {
	var (
		r                   generic.AvailableSwitchRequest
		status, createdAt   string
		remarks, approvedAt sql.NullString
		approvedBy          sql.NullInt64
	)
	err := sc.Scan(&r.ID, &r.Kind, &r.Booking, &r.Student, &r.Target, &status, &remarks,
		&approvedBy, &approvedAt, &createdAt)
	if err != nil {
		return r, err
	}
	r.Status = generic.RequestStatus(status)
	r.Remarks = remarks.String
	r.ApprovedBy = idPtr[generic.UserID](approvedBy)
	r.ApprovedAt = parseNullTime(approvedAt)
	r.CreatedAt = parseTime(createdAt)
	return r, nil
}

func (s *queries) GetAvailableSwitch(ctx context.Context, id generic.RequestID) (*generic.AvailableSwitchRequest, error) {
	r, err := scanAvailable(s.q.QueryRowContext(ctx, `SELECT `+availableColumns+` FROM available_switches WHERE id = ?`, int64(id)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get switch request: %w", err)
	}
	return &r, nil
}

func (s *queries) FindAvailableSwitches(ctx context.Context, f generic.SwitchFilter) ([]generic.AvailableSwitchRequest, error) {
	w := switchWhere(f)
	return queryAll(ctx, s.q, scanAvailable, `SELECT `+availableColumns+` FROM available_switches`+w.String()+` ORDER BY id`, w.args...)
}

func (s *queries) SaveMutualSwitch(ctx context.Context, r *generic.MutualSwitchRequest) error {
	args := []any{
		r.Kind, int64(r.Booking), int64(r.Student), nullID(r.Partner), string(r.Status),
		nullString(r.Remarks), nullID(r.ApprovedBy), nullTime(r.ApprovedAt), formatTime(r.CreatedAt),
	}
	if r.ID == 0 {
		id, err := s.insertID(ctx, `
			INSERT INTO mutual_switches
			(kind, booking_id, student_id, partner_booking_id, status, remarks, approved_by, approved_at, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`, args...)
		if err != nil {
			return fmt.Errorf("failed to insert mutual switch request: %w", err)
		}
		r.ID = generic.RequestID(id)
		return nil
	}
	_, err := s.q.ExecContext(ctx, `
		UPDATE mutual_switches SET
		  kind = ?, booking_id = ?, student_id = ?, partner_booking_id = ?, status = ?, remarks = ?,
		  approved_by = ?, approved_at = ?, created_at = ?
		WHERE id = ?`, append(args, int64(r.ID))...)
	if err != nil {
		return fmt.Errorf("failed to update mutual switch request: %w", err)
	}
	return nil
}

const mutualColumns = `id, kind, booking_id, student_id, partner_booking_id, status, remarks, approved_by, approved_at, created_at`

func scanMutual(sc scanner) (generic.MutualSwitchRequest, error) {
	var (
		r                   generic.MutualSwitchRequest
		status, createdAt   string
		remarks, approvedAt sql.NullString
		partner, approvedBy sql.NullInt64
	)
	err := sc.Scan(&r.ID, &r.Kind, &r.Booking, &r.Student, &partner, &status, &remarks,
		&approvedBy, &approvedAt, &createdAt)
	if err != nil {
		return r, err
	}
	r.Partner = idPtr[generic.BookingID](partner)
	r.Status = generic.RequestStatus(status)
	r.Remarks = remarks.String
	r.ApprovedBy = idPtr[generic.UserID](approvedBy)
	r.ApprovedAt = parseNullTime(approvedAt)
	r.CreatedAt = parseTime(createdAt)
	return r, nil
}

func (s *queries) GetMutualSwitch(ctx context.Context, id generic.RequestID) (*generic.MutualSwitchRequest, error) {
	r, err := scanMutual(s.q.QueryRowContext(ctx, `SELECT `+mutualColumns+` FROM mutual_switches WHERE id = ?`, int64(id)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get mutual switch request: %w", err)
	}
	return &r, nil
}

func (s *queries) FindMutualSwitches(ctx context.Context, f generic.SwitchFilter) ([]generic.MutualSwitchRequest, error) {
	w := switchWhere(f)
	return queryAll(ctx, s.q, scanMutual, `SELECT `+mutualColumns+` FROM mutual_switches`+w.String()+` ORDER BY id`, w.args...)
}

// =============================================================================
// SWITCH HISTORY (append-only)
// =============================================================================

func (s *queries) AppendAvailableHistory(ctx context.Context, h *generic.AvailableSwitchHistory) error {
	id, err := s.insertID(ctx, `
		INSERT INTO available_switch_history
		(kind, request_id, booking_id, student_id, from_resource, to_resource, action, actor_id, remarks, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		h.Kind, int64(h.Request), int64(h.Booking), int64(h.Student), int64(h.From), int64(h.To),
		string(h.Action), int64(h.Actor), nullString(h.Remarks), formatTime(h.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to append switch history: %w", err)
	}
	h.ID = id
	return nil
}

func (s *queries) AppendMutualHistory(ctx context.Context, h *generic.MutualSwitchHistory) error {
	id, err := s.insertID(ctx, `
		INSERT INTO mutual_switch_history
		(kind, request_a, request_b, booking_a, booking_b, student_a, student_b,
		 from_a, to_a, from_b, to_b, action, actor_id, remarks, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		h.Kind, int64(h.RequestA), nullID(h.RequestB), int64(h.BookingA), nullID(h.BookingB),
		int64(h.StudentA), nullID(h.StudentB), int64(h.FromA), int64(h.ToA), nullID(h.FromB), nullID(h.ToB),
		string(h.Action), int64(h.Actor), nullString(h.Remarks), formatTime(h.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to append mutual switch history: %w", err)
	}
	h.ID = id
	return nil
}

func (s *queries) ListAvailableHistory(ctx context.Context, f generic.HistoryFilter) ([]generic.AvailableSwitchHistory, error) {
	w := &where{}
	if f.Kind != "" {
		w.add("kind = ?", f.Kind)
	}
	if f.Student != nil {
		w.add("student_id = ?", int64(*f.Student))
	}
	scan := func(sc scanner) (generic.AvailableSwitchHistory, error) {
		var (
			h                 generic.AvailableSwitchHistory
			action, createdAt string
			remarks           sql.NullString
		)
		err := sc.Scan(&h.ID, &h.Kind, &h.Request, &h.Booking, &h.Student, &h.From, &h.To,
			&action, &h.Actor, &remarks, &createdAt)
		h.Action = generic.HistoryAction(action)
		h.Remarks = remarks.String
		h.CreatedAt = parseTime(createdAt)
		return h, err
	}
	return queryAll(ctx, s.q, scan, `
		SELECT id, kind, request_id, booking_id, student_id, from_resource, to_resource,
		       action, actor_id, remarks, created_at
		FROM available_switch_history`+w.String()+` ORDER BY id`, w.args...)
}

func (s *queries) ListMutualHistory(ctx context.Context, f generic.HistoryFilter) ([]generic.MutualSwitchHistory, error) {
	w := &where{}
	if f.Kind != "" {
		w.add("kind = ?", f.Kind)
	}
	if f.Student != nil {
		w.add("(student_a = ? OR student_b = ?)", int64(*f.Student), int64(*f.Student))
	}
	scan := func(sc scanner) (generic.MutualSwitchHistory, error) {
		var (
			h                            generic.MutualSwitchHistory
			requestB, bookingB, studentB sql.NullInt64
			fromB, toB                   sql.NullInt64
			action, createdAt            string
			remarks                      sql.NullString
		)
		err := sc.Scan(&h.ID, &h.Kind, &h.RequestA, &requestB, &h.BookingA, &bookingB,
			&h.StudentA, &studentB, &h.FromA, &h.ToA, &fromB, &toB,
			&action, &h.Actor, &remarks, &createdAt)
		h.RequestB = idPtr[generic.RequestID](requestB)
		h.BookingB = idPtr[generic.BookingID](bookingB)
		h.StudentB = idPtr[generic.UserID](studentB)
		h.FromB = idPtr[generic.ResourceID](fromB)
		h.ToB = idPtr[generic.ResourceID](toB)
		h.Action = generic.HistoryAction(action)
		h.Remarks = remarks.String
		h.CreatedAt = parseTime(createdAt)
		return h, err
	}
	return queryAll(ctx, s.q, scan, `
		SELECT id, kind, request_a, request_b, booking_a, booking_b, student_a, student_b,
		       from_a, to_a, from_b, to_b, action, actor_id, remarks, created_at
		FROM mutual_switch_history`+w.String()+` ORDER BY id`, w.args...)
}

// =============================================================================
// FEE VERSIONS
// =============================================================================

func (s *queries) SaveFeeVersion(ctx context.Context, v *generic.FeeVersion) error {
	tiers, err := json.Marshal(v.Tiers)
	if err != nil {
		return fmt.Errorf("failed to encode fee tiers: %w", err)
	}
	if v.ID == 0 {
		id, err := s.insertID(ctx, `
			INSERT INTO fee_versions (kind, effective_from, monthly_fee, deposit, tiers_json, created_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			v.Kind, v.EffectiveFrom.String(), v.MonthlyFee.String(), v.Deposit.String(), string(tiers), formatTime(v.CreatedAt))
		if err != nil {
			if isUniqueConstraintError(err) {
				return fmt.Errorf("%s fee version effective %s: %w", v.Kind, v.EffectiveFrom, generic.ErrConflict)
			}
			return fmt.Errorf("failed to insert fee version: %w", err)
		}
		v.ID = id
		return nil
	}
	_, err = s.q.ExecContext(ctx, `
		UPDATE fee_versions SET effective_from = ?, monthly_fee = ?, deposit = ?, tiers_json = ? WHERE id = ?`,
		v.EffectiveFrom.String(), v.MonthlyFee.String(), v.Deposit.String(), string(tiers), v.ID)
	if err != nil {
		return fmt.Errorf("failed to update fee version: %w", err)
	}
	return nil
}

func scanFeeVersion(sc scanner) (generic.FeeVersion, error) {
	var (
		v                             generic.FeeVersion
		from, monthly, deposit, tiers string
		createdAt                     string
	)
	err := sc.Scan(&v.ID, &v.Kind, &from, &monthly, &deposit, &tiers, &createdAt)
	if err != nil {
		return v, err
	}
	if v.EffectiveFrom, err = generic.ParseDate(from); err != nil {
		return v, err
	}
	if v.MonthlyFee, err = decimal.NewFromString(monthly); err != nil {
		return v, err
	}
	if v.Deposit, err = decimal.NewFromString(deposit); err != nil {
		return v, err
	}
	if err := json.Unmarshal([]byte(tiers), &v.Tiers); err != nil {
		return v, fmt.Errorf("failed to decode fee tiers: %w", err)
	}
	v.CreatedAt = parseTime(createdAt)
	return v, nil
}

func (s *queries) ListFeeVersions(ctx context.Context, kind string) ([]generic.FeeVersion, error) {
	w := &where{}
	if kind != "" {
		w.add("kind = ?", kind)
	}
	return queryAll(ctx, s.q, scanFeeVersion, `
		SELECT id, kind, effective_from, monthly_fee, deposit, tiers_json, created_at
		FROM fee_versions`+w.String()+` ORDER BY effective_from`, w.args...)
}

// =============================================================================
// OUTBOX (append side)
// =============================================================================

func (s *queries) AppendOutbox(ctx context.Context, e generic.Event) error {
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return fmt.Errorf("failed to encode event payload: %w", err)
	}
	_, err = s.q.ExecContext(ctx, `
		INSERT INTO outbox (id, topic, type, kind, payload_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		e.ID, e.Topic, e.Type, e.Kind, string(payload), formatTime(e.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to append outbox event: %w", err)
	}
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

func queryAll[T any](ctx context.Context, q querier, scan func(scanner) (T, error), query string, args ...any) ([]T, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query: %w", err)
	}
	defer rows.Close()

	var out []T
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseNullTime(s sql.NullString) *time.Time {
	if !s.Valid {
		return nil
	}
	t := parseTime(s.String)
	return &t
}

func nullDate(d *generic.Date) sql.NullString {
	if d == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: d.String(), Valid: true}
}

func parseNullDate(s sql.NullString) (*generic.Date, error) {
	if !s.Valid {
		return nil, nil
	}
	d, err := generic.ParseDate(s.String)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func nullID[T ~int64](p *T) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*p), Valid: true}
}

func idPtr[T ~int64](n sql.NullInt64) *T {
	if !n.Valid {
		return nil
	}
	v := T(n.Int64)
	return &v
}
