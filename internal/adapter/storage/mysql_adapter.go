package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/rl1809/rack-inventory/internal/core/domain"
	"github.com/rl1809/rack-inventory/internal/port"
)

const (
	mysqlDuplicateEntry = 1062
	productNameKey      = "uq_products_name"
)

var mysqlSchema = []string{
	`CREATE TABLE IF NOT EXISTS racks (
		label VARCHAR(32) NOT NULL PRIMARY KEY,
		capacity INT NOT NULL,
		occupied INT NOT NULL DEFAULT 0,
		product VARCHAR(255) NOT NULL DEFAULT ''
	)`,
	`CREATE TABLE IF NOT EXISTS products (
		code BIGINT NOT NULL PRIMARY KEY,
		name VARCHAR(255) NOT NULL,
		stock INT NOT NULL DEFAULT 0,
		rack_position VARCHAR(32) NOT NULL,
		attributes JSON NULL,
		created_at VARCHAR(40) NOT NULL,
		updated_at VARCHAR(40) NOT NULL,
		UNIQUE KEY uq_products_name (name)
	)`,
	`CREATE TABLE IF NOT EXISTS inbound_stock (
		id CHAR(36) NOT NULL PRIMARY KEY,
		product_code BIGINT NOT NULL,
		product_name VARCHAR(255) NOT NULL,
		quantity INT NOT NULL,
		received_at VARCHAR(40) NOT NULL,
		KEY idx_inbound_product (product_code, received_at)
	)`,
	`CREATE TABLE IF NOT EXISTS transactions (
		id VARCHAR(64) NOT NULL PRIMARY KEY,
		status INT NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS transaction_items (
		transaction_id VARCHAR(64) NOT NULL,
		product_code BIGINT NOT NULL,
		quantity INT NOT NULL,
		KEY idx_items_transaction (transaction_id)
	)`,
}

// OpenMySQL opens and pings a pooled connection.
func OpenMySQL(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("open mysql: %w", err)
	}
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping mysql: %w", err)
	}
	return db, nil
}

type txKey struct{}

type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// MySQLStore implements port.Store on a relational schema. WithTx opens a
// real transaction that repository calls pick up from the context.
type MySQLStore struct {
	db *sql.DB
}

func NewMySQLStore(db *sql.DB) *MySQLStore {
	return &MySQLStore{db: db}
}

var _ port.Store = (*MySQLStore)(nil)

func (s *MySQLStore) Products() port.ProductRepository         { return mysqlProducts{s} }
func (s *MySQLStore) Racks() port.RackRepository               { return mysqlRacks{s} }
func (s *MySQLStore) Ledger() port.LedgerRepository            { return mysqlLedger{s} }
func (s *MySQLStore) Transactions() port.TransactionRepository { return mysqlTransactions{s} }

func (s *MySQLStore) conn(ctx context.Context) queryer {
	if tx, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return tx
	}
	return s.db
}

func (s *MySQLStore) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, nested := ctx.Value(txKey{}).(*sql.Tx); nested {
		return fn(ctx)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// Migrate creates the tables when they do not exist yet.
func (s *MySQLStore) Migrate(ctx context.Context) error {
	for _, stmt := range mysqlSchema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func (s *MySQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *MySQLStore) Close(context.Context) error {
	return s.db.Close()
}

func isDuplicateEntry(err error) bool {
	var me *mysql.MySQLError
	return errors.As(err, &me) && me.Number == mysqlDuplicateEntry
}

// mysqlDuplicateProduct maps a 1062 on products to the violated key: the
// name index is a conflict, the primary key a code collision.
func mysqlDuplicateProduct(err error) error {
	var me *mysql.MySQLError
	if errors.As(err, &me) && strings.Contains(me.Message, productNameKey) {
		return domain.ErrProductNameExists
	}
	return fmt.Errorf("insert product: %w", domain.ErrProductCodeExists)
}

type mysqlProducts struct{ s *MySQLStore }

const productColumns = `code, name, stock, rack_position, attributes, created_at, updated_at`

func scanProduct(scan func(dest ...any) error) (domain.Product, error) {
	var (
		p     domain.Product
		attrs []byte
	)
	if err := scan(&p.Code, &p.Name, &p.Stock, &p.RackPosition, &attrs, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return p, err
	}
	if len(attrs) > 0 {
		if err := json.Unmarshal(attrs, &p.Attributes); err != nil {
			return p, fmt.Errorf("decode attributes: %w", err)
		}
	}
	return p, nil
}

func encodeAttributes(attrs map[string]any) (any, error) {
	if len(attrs) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(attrs)
	if err != nil {
		return nil, fmt.Errorf("encode attributes: %w", err)
	}
	return string(b), nil
}

func (r mysqlProducts) List(ctx context.Context) ([]domain.Product, error) {
	rows, err := r.s.conn(ctx).QueryContext(ctx, `SELECT `+productColumns+` FROM products ORDER BY name ASC`)
	if err != nil {
		return nil, fmt.Errorf("query products: %w", err)
	}
	defer rows.Close()

	products := []domain.Product{}
	for rows.Next() {
		p, err := scanProduct(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

func (r mysqlProducts) findOne(ctx context.Context, where string, arg any) (*domain.Product, error) {
	row := r.s.conn(ctx).QueryRowContext(ctx, `SELECT `+productColumns+` FROM products WHERE `+where, arg)
	p, err := scanProduct(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query product: %w", err)
	}
	return &p, nil
}

func (r mysqlProducts) FindByCode(ctx context.Context, code int64) (*domain.Product, error) {
	return r.findOne(ctx, `code = ?`, code)
}

func (r mysqlProducts) FindByName(ctx context.Context, name string) (*domain.Product, error) {
	return r.findOne(ctx, `name = ?`, name)
}

func (r mysqlProducts) Create(ctx context.Context, p domain.Product) error {
	attrs, err := encodeAttributes(p.Attributes)
	if err != nil {
		return err
	}

	_, err = r.s.conn(ctx).ExecContext(ctx, `
		INSERT INTO products (`+productColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		p.Code, p.Name, p.Stock, p.RackPosition, attrs, p.CreatedAt, p.UpdatedAt,
	)
	if isDuplicateEntry(err) {
		return mysqlDuplicateProduct(err)
	}
	if err != nil {
		return fmt.Errorf("insert product: %w", err)
	}
	return nil
}

func (r mysqlProducts) Update(ctx context.Context, code int64, patch domain.ProductPatch) error {
	var (
		sets []string
		args []any
	)
	if patch.Name != nil {
		sets, args = append(sets, "name = ?"), append(args, *patch.Name)
	}
	if patch.Stock != nil {
		sets, args = append(sets, "stock = ?"), append(args, *patch.Stock)
	}
	if patch.RackPosition != nil {
		sets, args = append(sets, "rack_position = ?"), append(args, *patch.RackPosition)
	}
	if len(patch.Attributes) > 0 {
		attrs, err := encodeAttributes(patch.Attributes)
		if err != nil {
			return err
		}
		sets = append(sets, "attributes = JSON_MERGE_PATCH(COALESCE(attributes, JSON_OBJECT()), ?)")
		args = append(args, attrs)
	}
	if patch.UpdatedAt != "" {
		sets, args = append(sets, "updated_at = ?"), append(args, patch.UpdatedAt)
	}
	if len(sets) == 0 {
		return nil
	}

	args = append(args, code)
	_, err := r.s.conn(ctx).ExecContext(ctx,
		`UPDATE products SET `+strings.Join(sets, ", ")+` WHERE code = ?`, args...)
	if isDuplicateEntry(err) {
		return domain.ErrProductNameExists
	}
	if err != nil {
		return fmt.Errorf("update product: %w", err)
	}
	return nil
}

func (r mysqlProducts) Delete(ctx context.Context, code int64) error {
	if _, err := r.s.conn(ctx).ExecContext(ctx, `DELETE FROM products WHERE code = ?`, code); err != nil {
		return fmt.Errorf("delete product: %w", err)
	}
	return nil
}

type mysqlRacks struct{ s *MySQLStore }

func (r mysqlRacks) List(ctx context.Context) ([]domain.Rack, error) {
	rows, err := r.s.conn(ctx).QueryContext(ctx,
		`SELECT label, capacity, occupied, product FROM racks ORDER BY label ASC`)
	if err != nil {
		return nil, fmt.Errorf("query racks: %w", err)
	}
	defer rows.Close()

	racks := []domain.Rack{}
	for rows.Next() {
		var rack domain.Rack
		if err := rows.Scan(&rack.Label, &rack.Capacity, &rack.Occupied, &rack.Product); err != nil {
			return nil, fmt.Errorf("scan rack: %w", err)
		}
		racks = append(racks, rack)
	}
	return racks, rows.Err()
}

func (r mysqlRacks) FindByLabel(ctx context.Context, label string) (*domain.Rack, error) {
	var rack domain.Rack
	err := r.s.conn(ctx).QueryRowContext(ctx, `
		SELECT label, capacity, occupied, product
		FROM racks WHERE label = ?`, label,
	).Scan(&rack.Label, &rack.Capacity, &rack.Occupied, &rack.Product)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query rack: %w", err)
	}
	return &rack, nil
}

func (r mysqlRacks) Claim(ctx context.Context, label, product string, occupied int) error {
	result, err := r.s.conn(ctx).ExecContext(ctx, `
		UPDATE racks
		SET product = ?, occupied = ?
		WHERE label = ? AND occupied = 0`,
		product, occupied, label,
	)
	if err != nil {
		return fmt.Errorf("claim rack: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows > 0 {
		return nil
	}

	// zero affected rows also covers a no-op write onto an empty rack
	rack, err := r.FindByLabel(ctx, label)
	if err != nil {
		return err
	}
	if rack == nil || rack.Occupied != 0 {
		return domain.ErrRackOccupied
	}
	return nil
}

func (r mysqlRacks) Sync(ctx context.Context, label, product string, occupied int) error {
	_, err := r.s.conn(ctx).ExecContext(ctx,
		`UPDATE racks SET product = ?, occupied = ? WHERE label = ?`, product, occupied, label)
	if err != nil {
		return fmt.Errorf("sync rack: %w", err)
	}
	return nil
}

func (r mysqlRacks) Release(ctx context.Context, label string) error {
	_, err := r.s.conn(ctx).ExecContext(ctx,
		`UPDATE racks SET product = '', occupied = 0 WHERE label = ?`, label)
	if err != nil {
		return fmt.Errorf("release rack: %w", err)
	}
	return nil
}

func (r mysqlRacks) Upsert(ctx context.Context, rack domain.Rack) error {
	_, err := r.s.conn(ctx).ExecContext(ctx, `
		INSERT INTO racks (label, capacity, occupied, product) VALUES (?, ?, 0, '')
		ON DUPLICATE KEY UPDATE capacity = VALUES(capacity)`,
		rack.Label, rack.Capacity,
	)
	if err != nil {
		return fmt.Errorf("upsert rack: %w", err)
	}
	return nil
}

type mysqlLedger struct{ s *MySQLStore }

func (r mysqlLedger) Append(ctx context.Context, rec domain.InboundRecord) error {
	_, err := r.s.conn(ctx).ExecContext(ctx, `
		INSERT INTO inbound_stock (id, product_code, product_name, quantity, received_at)
		VALUES (?, ?, ?, ?, ?)`,
		rec.ID, rec.ProductCode, rec.ProductName, rec.Quantity, rec.ReceivedAt,
	)
	if err != nil {
		return fmt.Errorf("insert inbound record: %w", err)
	}
	return nil
}

func (r mysqlLedger) ListByProduct(ctx context.Context, code int64) ([]domain.InboundRecord, error) {
	rows, err := r.s.conn(ctx).QueryContext(ctx, `
		SELECT id, product_code, product_name, quantity, received_at
		FROM inbound_stock WHERE product_code = ?
		ORDER BY received_at ASC, id ASC`, code)
	if err != nil {
		return nil, fmt.Errorf("query inbound records: %w", err)
	}
	defer rows.Close()

	records := []domain.InboundRecord{}
	for rows.Next() {
		var rec domain.InboundRecord
		if err := rows.Scan(&rec.ID, &rec.ProductCode, &rec.ProductName, &rec.Quantity, &rec.ReceivedAt); err != nil {
			return nil, fmt.Errorf("scan inbound record: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

type mysqlTransactions struct{ s *MySQLStore }

func (r mysqlTransactions) ListOpen(ctx context.Context) ([]domain.Transaction, error) {
	rows, err := r.s.conn(ctx).QueryContext(ctx, `
		SELECT t.id, t.status, i.product_code, i.quantity
		FROM transactions t
		LEFT JOIN transaction_items i ON i.transaction_id = t.id
		WHERE t.status = ?
		ORDER BY t.id`, domain.TransactionStatusOpen)
	if err != nil {
		return nil, fmt.Errorf("query open transactions: %w", err)
	}
	defer rows.Close()

	var txs []domain.Transaction
	for rows.Next() {
		var (
			id       string
			status   int
			code     sql.NullInt64
			quantity sql.NullInt64
		)
		if err := rows.Scan(&id, &status, &code, &quantity); err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		if len(txs) == 0 || txs[len(txs)-1].ID != id {
			txs = append(txs, domain.Transaction{ID: id, Status: status})
		}
		if code.Valid {
			last := &txs[len(txs)-1]
			last.Items = append(last.Items, domain.TransactionItem{
				ProductCode: code.Int64,
				Quantity:    int(quantity.Int64),
			})
		}
	}
	return txs, rows.Err()
}
