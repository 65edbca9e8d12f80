// Package store is the Postgres order/menu collaborator: it supplies raw
// order rows to the pipeline and backs the menu CRUD surface of the admin
// API. Errors from the database are propagated to callers with operation
// context only, never swallowed or replaced.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"salesflow/config"
	"salesflow/logger"
	"salesflow/models"
)

// ValidationError reports a rejected menu item payload. The API layer maps
// it to a client error; anything else from the store is a server fault.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return e.Reason }

// NotFoundError reports an operation against a menu item that does not exist.
type NotFoundError struct {
	ID int
}

func (e *NotFoundError) Error() string { return fmt.Sprintf("menu item %d not found", e.ID) }

type Store struct {
	db  *sql.DB
	log *logger.Log
}

// Open connects to Postgres and verifies the connection with a ping.
func Open(cfg config.DatabaseConfig, log *logger.Log) (*Store, error) {
	db, err := sql.Open("postgres", cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.WithComponent("store").WithFields(logger.Fields{
		"host":   cfg.Host,
		"dbname": cfg.DBName,
	}).Info("connected to order store")

	return &Store{db: db, log: log}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// HealthCheck pings the database, used by the health endpoint.
func (s *Store) HealthCheck(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// OrderFilter narrows a FetchOrders call. Zero values mean "no filter".
type OrderFilter struct {
	From       *time.Time
	To         *time.Time
	Categories []string
	Items      []string
	SearchTerm string
}

const orderColumns = `o.order_id, o.item_id, o.item_name, o.item_price, o.quantity,
       o.total_price, o.time_at, o.phone_number, o.type, m.category`

// buildOrdersQuery assembles the orders query and its arguments. Split out
// so filter construction is testable without a database.
func buildOrdersQuery(f OrderFilter) (string, []interface{}) {
	var sb strings.Builder
	sb.WriteString("SELECT ")
	sb.WriteString(orderColumns)
	sb.WriteString("\nFROM orders o\nJOIN menu m ON o.item_id = m.id")

	var clauses []string
	var args []interface{}

	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if f.From != nil {
		clauses = append(clauses, fmt.Sprintf("o.time_at >= %s", arg(*f.From)))
	}
	if f.To != nil {
		clauses = append(clauses, fmt.Sprintf("o.time_at <= %s", arg(*f.To)))
	}
	if len(f.Categories) > 0 {
		clauses = append(clauses, fmt.Sprintf("m.category = ANY(%s)", arg(pq.Array(f.Categories))))
	}
	if len(f.Items) > 0 {
		clauses = append(clauses, fmt.Sprintf("o.item_name = ANY(%s)", arg(pq.Array(f.Items))))
	}
	if f.SearchTerm != "" {
		clauses = append(clauses, fmt.Sprintf("o.item_name ILIKE %s", arg("%"+f.SearchTerm+"%")))
	}

	if len(clauses) > 0 {
		sb.WriteString("\nWHERE ")
		sb.WriteString(strings.Join(clauses, " AND "))
	}
	sb.WriteString("\nORDER BY o.time_at")

	return sb.String(), args
}

// FetchOrders returns raw order rows joined with the menu table for their
// category, optionally narrowed by filter.
func (s *Store) FetchOrders(ctx context.Context, f OrderFilter) ([]models.RawOrderRecord, error) {
	query, args := buildOrdersQuery(f)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch orders: %w", err)
	}
	defer rows.Close()

	var records []models.RawOrderRecord
	for rows.Next() {
		var r models.RawOrderRecord
		var phone, orderType sql.NullString
		if err := rows.Scan(
			&r.OrderID, &r.ItemID, &r.ItemName, &r.UnitPrice, &r.Quantity,
			&r.TotalPrice, &r.Timestamp, &phone, &orderType, &r.Category,
		); err != nil {
			return nil, fmt.Errorf("failed to scan order row: %w", err)
		}
		r.Phone = phone.String
		r.OrderType = orderType.String
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read order rows: %w", err)
	}

	s.log.WithComponent("store").WithFields(logger.Fields{
		"record_count": len(records),
	}).Debug("fetched order data")

	return records, nil
}

// ListMenu returns all menu items ordered by id.
func (s *Store) ListMenu(ctx context.Context) ([]models.MenuItem, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, item_name, category, item_price FROM menu ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("failed to fetch menu: %w", err)
	}
	defer rows.Close()

	var items []models.MenuItem
	for rows.Next() {
		var item models.MenuItem
		if err := rows.Scan(&item.ID, &item.ItemName, &item.Category, &item.ItemPrice); err != nil {
			return nil, fmt.Errorf("failed to scan menu row: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read menu rows: %w", err)
	}
	return items, nil
}

// AddMenuItem inserts a new catalog entry and returns its id.
func (s *Store) AddMenuItem(ctx context.Context, item models.MenuItem) (int, error) {
	if err := validateMenuItem(item); err != nil {
		return 0, err
	}

	var id int
	err := s.db.QueryRowContext(ctx,
		"INSERT INTO menu (item_name, category, item_price) VALUES ($1, $2, $3) RETURNING id",
		strings.TrimSpace(item.ItemName), strings.TrimSpace(item.Category), item.ItemPrice,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to add menu item: %w", err)
	}

	s.log.WithComponent("store").WithFields(logger.Fields{
		"item_name": item.ItemName,
		"id":        id,
	}).Info("added menu item")

	return id, nil
}

// UpdateMenuItem replaces the name, category and price of an existing item.
func (s *Store) UpdateMenuItem(ctx context.Context, item models.MenuItem) error {
	if err := validateMenuItem(item); err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx,
		"UPDATE menu SET item_name = $1, category = $2, item_price = $3 WHERE id = $4",
		strings.TrimSpace(item.ItemName), strings.TrimSpace(item.Category), item.ItemPrice, item.ID)
	if err != nil {
		return fmt.Errorf("failed to update menu item %d: %w", item.ID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return &NotFoundError{ID: item.ID}
	}

	s.log.WithComponent("store").WithFields(logger.Fields{"id": item.ID}).Info("updated menu item")
	return nil
}

// DeleteMenuItem removes a catalog entry.
func (s *Store) DeleteMenuItem(ctx context.Context, id int) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM menu WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to delete menu item %d: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return &NotFoundError{ID: id}
	}

	s.log.WithComponent("store").WithFields(logger.Fields{"id": id}).Info("deleted menu item")
	return nil
}

// Categories returns the distinct menu categories, sorted.
func (s *Store) Categories(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT DISTINCT category FROM menu ORDER BY category")
	if err != nil {
		return nil, fmt.Errorf("failed to fetch categories: %w", err)
	}
	defer rows.Close()

	var categories []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, fmt.Errorf("failed to scan category: %w", err)
		}
		categories = append(categories, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read categories: %w", err)
	}
	return categories, nil
}

func validateMenuItem(item models.MenuItem) error {
	if strings.TrimSpace(item.ItemName) == "" {
		return &ValidationError{Reason: "item name cannot be empty"}
	}
	if strings.TrimSpace(item.Category) == "" {
		return &ValidationError{Reason: "category cannot be empty"}
	}
	if item.ItemPrice.Cmp(decimal.Zero) < 0 {
		return &ValidationError{Reason: "price cannot be negative"}
	}
	return nil
}
