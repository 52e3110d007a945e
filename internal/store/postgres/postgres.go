package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"konsinyasi/backend/internal/domain"
	"konsinyasi/backend/internal/store"
	"konsinyasi/backend/internal/xid"
)

//go:embed schema.sql
var schema string

type Store struct {
	db *sql.DB
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate creates missing tables. It is safe to run on every start.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (s *Store) CreateConsignment(ctx context.Context, c domain.Consignment) (*domain.Consignment, error) {
	if err := validateConsignment(c); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	// Ids are count+1, so concurrent creators must not read the same count.
	if _, err := tx.ExecContext(ctx, `LOCK TABLE consignments IN SHARE ROW EXCLUSIVE MODE`); err != nil {
		return nil, err
	}
	if c.ID == "" {
		var count int
		if err := tx.QueryRowContext(ctx, `SELECT count(*) FROM consignments`).Scan(&count); err != nil {
			return nil, err
		}
		c.ID = store.ConsignmentID(count + 1)
	}
	c.Version = 1

	_, err = tx.ExecContext(ctx, `
		INSERT INTO consignments (
			id, client_id, client_name, advance_amount, total_value,
			status, issued_date, settled_date, notes, version, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,now())
	`, c.ID, c.ClientID, c.ClientName, c.AdvanceAmount, c.TotalValue,
		string(c.Status), c.IssuedDate, nullDate(c.SettledDate), c.Notes, c.Version)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrInvalidRecord
		}
		return nil, err
	}

	for i, item := range c.Items {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO consignment_items (
				consignment_id, id, position, product_id, product_name,
				quantity, price_per_unit, sold_quantity, returned_quantity
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		`, c.ID, item.ID, i, item.ProductID, item.ProductName,
			item.Quantity, item.PricePerUnit, item.SoldQuantity, item.ReturnedQuantity)
		if err != nil {
			if isUniqueViolation(err) {
				return nil, store.ErrInvalidRecord
			}
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	created := c.Clone()
	return &created, nil
}

func (s *Store) GetConsignment(ctx context.Context, id string) (*domain.Consignment, error) {
	return getConsignment(ctx, s.db, id)
}

func (s *Store) ListConsignments(ctx context.Context) ([]domain.Consignment, error) {
	rows, err := s.db.QueryContext(ctx, consignmentColumns+` ORDER BY id`)
	if err != nil {
		return nil, err
	}

	consignments := make([]domain.Consignment, 0, 64)
	index := make(map[string]int)
	for rows.Next() {
		c, err := scanConsignment(rows)
		if err != nil {
			_ = rows.Close()
			return nil, err
		}
		index[c.ID] = len(consignments)
		consignments = append(consignments, c)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()

	itemRows, err := s.db.QueryContext(ctx, itemColumns+` ORDER BY consignment_id, position`)
	if err != nil {
		return nil, err
	}
	defer itemRows.Close()

	for itemRows.Next() {
		consignmentID, item, err := scanItem(itemRows)
		if err != nil {
			return nil, err
		}
		if i, ok := index[consignmentID]; ok {
			consignments[i].Items = append(consignments[i].Items, item)
		}
	}
	if err := itemRows.Err(); err != nil {
		return nil, err
	}

	return consignments, nil
}

// UpdateConsignment writes item quantities, status and settled date. The
// stored version must match c.Version.
func (s *Store) UpdateConsignment(ctx context.Context, c domain.Consignment) (*domain.Consignment, error) {
	if err := validateConsignment(c); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var version int
	err = tx.QueryRowContext(ctx, `SELECT version FROM consignments WHERE id = $1 FOR UPDATE`, c.ID).Scan(&version)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if version != c.Version {
		return nil, store.ErrVersionConflict
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE consignments
		SET status = $2, settled_date = $3, notes = $4, version = version + 1
		WHERE id = $1
	`, c.ID, string(c.Status), nullDate(c.SettledDate), c.Notes); err != nil {
		return nil, err
	}

	for _, item := range c.Items {
		res, err := tx.ExecContext(ctx, `
			UPDATE consignment_items
			SET sold_quantity = $3, returned_quantity = $4
			WHERE consignment_id = $1 AND id = $2
		`, c.ID, item.ID, item.SoldQuantity, item.ReturnedQuantity)
		if err != nil {
			return nil, err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return nil, err
		}
		if affected == 0 {
			return nil, store.ErrInvalidRecord
		}
	}

	updated, err := getConsignment(ctx, tx, c.ID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *Store) GetClient(ctx context.Context, id string) (*domain.Client, error) {
	var client domain.Client
	err := s.db.QueryRowContext(ctx, `SELECT id, name FROM clients WHERE id = $1`, id).Scan(&client.ID, &client.Name)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &client, nil
}

func (s *Store) ListClients(ctx context.Context) ([]domain.Client, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name FROM clients ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	clients := make([]domain.Client, 0, 32)
	for rows.Next() {
		var c domain.Client
		if err := rows.Scan(&c.ID, &c.Name); err != nil {
			return nil, err
		}
		clients = append(clients, c)
	}
	return clients, rows.Err()
}

func (s *Store) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	var p domain.Product
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, price, available_stock, consigned_stock
		FROM products
		WHERE id = $1
	`, id).Scan(&p.ID, &p.Name, &p.Price, &p.AvailableStock, &p.ConsignedStock)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (s *Store) ListProducts(ctx context.Context) ([]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, price, available_stock, consigned_stock
		FROM products
		ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 64)
	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.Price, &p.AvailableStock, &p.ConsignedStock); err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

// ConsignStock moves units from available to consigned stock in one
// transaction. Any shortfall aborts every movement.
func (s *Store) ConsignStock(ctx context.Context, movements []domain.StockMovement) error {
	totals, ids, err := movementTotals(movements)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	available, err := lockStock(ctx, tx, ids)
	if err != nil {
		return err
	}
	for productID, qty := range totals {
		stock, ok := available[productID]
		if !ok {
			return store.ErrNotFound
		}
		if stock < qty {
			return store.ErrInsufficientStock
		}
	}

	for productID, qty := range totals {
		if _, err := tx.ExecContext(ctx, `
			UPDATE products
			SET available_stock = available_stock - $2, consigned_stock = consigned_stock + $2
			WHERE id = $1
		`, productID, qty); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *Store) ReleaseStock(ctx context.Context, movements []domain.StockMovement) error {
	totals, ids, err := movementTotals(movements)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	available, err := lockStock(ctx, tx, ids)
	if err != nil {
		return err
	}
	for productID, qty := range totals {
		if _, ok := available[productID]; !ok {
			return store.ErrNotFound
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE products
			SET available_stock = available_stock + $2, consigned_stock = GREATEST(consigned_stock - $2, 0)
			WHERE id = $1
		`, productID, qty); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *Store) CreateSettlement(ctx context.Context, settlement domain.Settlement) (*domain.Settlement, error) {
	if settlement.ConsignmentID == "" {
		return nil, store.ErrInvalidRecord
	}
	if settlement.ID == "" {
		settlement.ID = xid.New("stl")
	}
	if settlement.CreatedAt.IsZero() {
		settlement.CreatedAt = time.Now().UTC()
	}

	soldJSON, err := json.Marshal(nonNilLines(settlement.SoldItems))
	if err != nil {
		return nil, err
	}
	returnedJSON, err := json.Marshal(nonNilLines(settlement.ReturnedItems))
	if err != nil {
		return nil, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO settlements (
			id, consignment_id, client_id, kind, sold_items, returned_items,
			additional_payment, total_sold_value, balance_due, refund_due,
			resulting_status, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	`, settlement.ID, settlement.ConsignmentID, settlement.ClientID, settlement.Kind, soldJSON, returnedJSON,
		settlement.AdditionalPayment, settlement.TotalSoldValue, settlement.BalanceDue, settlement.RefundDue,
		string(settlement.ResultingStatus), settlement.CreatedAt)
	if err != nil {
		if isForeignKeyViolation(err) {
			return nil, store.ErrNotFound
		}
		if isUniqueViolation(err) {
			return nil, store.ErrInvalidRecord
		}
		return nil, err
	}

	created := settlement
	return &created, nil
}

func (s *Store) ListSettlements(ctx context.Context, consignmentID string) ([]domain.Settlement, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, consignment_id, client_id, kind, sold_items, returned_items,
			additional_payment, total_sold_value, balance_due, refund_due,
			resulting_status, created_at
		FROM settlements
		WHERE consignment_id = $1
		ORDER BY created_at, id
	`, consignmentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	history := make([]domain.Settlement, 0, 8)
	for rows.Next() {
		var st domain.Settlement
		var status string
		var soldJSON, returnedJSON []byte
		if err := rows.Scan(&st.ID, &st.ConsignmentID, &st.ClientID, &st.Kind, &soldJSON, &returnedJSON,
			&st.AdditionalPayment, &st.TotalSoldValue, &st.BalanceDue, &st.RefundDue,
			&status, &st.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(soldJSON, &st.SoldItems); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(returnedJSON, &st.ReturnedItems); err != nil {
			return nil, err
		}
		st.ResultingStatus = domain.ConsignmentStatus(status)
		st.CreatedAt = st.CreatedAt.UTC()
		history = append(history, st)
	}
	return history, rows.Err()
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, actor_username, action, entity_type, entity_id, detail, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, entry.ID, entry.ActorUsername, entry.Action, entry.EntityType, entry.EntityID, entry.Detail, entry.CreatedAt)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, actor_username, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		ORDER BY created_at DESC, id DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]domain.AuditLog, 0, limit)
	for rows.Next() {
		var entry domain.AuditLog
		if err := rows.Scan(&entry.ID, &entry.ActorUsername, &entry.Action, &entry.EntityType, &entry.EntityID, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		logs = append(logs, entry)
	}
	return logs, rows.Err()
}

const consignmentColumns = `
	SELECT id, client_id, client_name, advance_amount, total_value,
		status, issued_date, settled_date, notes, version
	FROM consignments`

const itemColumns = `
	SELECT consignment_id, id, product_id, product_name, quantity,
		price_per_unit, sold_quantity, returned_quantity
	FROM consignment_items`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConsignment(row rowScanner) (domain.Consignment, error) {
	var c domain.Consignment
	var status string
	var settled sql.NullTime
	if err := row.Scan(&c.ID, &c.ClientID, &c.ClientName, &c.AdvanceAmount, &c.TotalValue,
		&status, &c.IssuedDate, &settled, &c.Notes, &c.Version); err != nil {
		return domain.Consignment{}, err
	}
	c.Status = domain.ConsignmentStatus(status)
	c.IssuedDate = dateUTC(c.IssuedDate)
	if settled.Valid {
		d := dateUTC(settled.Time)
		c.SettledDate = &d
	}
	return c, nil
}

func scanItem(row rowScanner) (string, domain.ConsignmentItem, error) {
	var consignmentID string
	var item domain.ConsignmentItem
	err := row.Scan(&consignmentID, &item.ID, &item.ProductID, &item.ProductName, &item.Quantity,
		&item.PricePerUnit, &item.SoldQuantity, &item.ReturnedQuantity)
	return consignmentID, item, err
}

func getConsignment(ctx context.Context, q queryer, id string) (*domain.Consignment, error) {
	c, err := scanConsignment(q.QueryRowContext(ctx, consignmentColumns+` WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	rows, err := q.QueryContext(ctx, itemColumns+` WHERE consignment_id = $1 ORDER BY position`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		_, item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		c.Items = append(c.Items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &c, nil
}

func lockStock(ctx context.Context, tx *sql.Tx, ids []string) (map[string]int, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT id, available_stock
		FROM products
		WHERE id = ANY($1)
		ORDER BY id
		FOR UPDATE
	`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	available := make(map[string]int, len(ids))
	for rows.Next() {
		var id string
		var qty int
		if err := rows.Scan(&id, &qty); err != nil {
			return nil, err
		}
		available[id] = qty
	}
	return available, rows.Err()
}

func movementTotals(movements []domain.StockMovement) (map[string]int, []string, error) {
	totals := make(map[string]int, len(movements))
	ids := make([]string, 0, len(movements))
	for _, m := range movements {
		if m.Qty < 0 || m.ProductID == "" {
			return nil, nil, store.ErrInvalidRecord
		}
		if _, seen := totals[m.ProductID]; !seen {
			ids = append(ids, m.ProductID)
		}
		totals[m.ProductID] += m.Qty
	}
	return totals, ids, nil
}

func validateConsignment(c domain.Consignment) error {
	if c.ClientID == "" || len(c.Items) == 0 {
		return store.ErrInvalidRecord
	}
	for _, item := range c.Items {
		if item.ID == "" || item.Quantity < 1 || item.SoldQuantity < 0 || item.ReturnedQuantity < 0 {
			return store.ErrInvalidRecord
		}
		if item.SoldQuantity+item.ReturnedQuantity > item.Quantity {
			return store.ErrInvalidRecord
		}
	}
	return nil
}

func nonNilLines(lines []domain.ItemQuantity) []domain.ItemQuantity {
	if lines == nil {
		return []domain.ItemQuantity{}
	}
	return lines
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23503"
	}
	return false
}

func dateUTC(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func nullDate(val *time.Time) any {
	if val == nil {
		return nil
	}
	return dateUTC(val.UTC())
}
