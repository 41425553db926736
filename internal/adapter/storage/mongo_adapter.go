package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/rl1809/rack-inventory/internal/core/domain"
	"github.com/rl1809/rack-inventory/internal/port"
)

const (
	productsCollection     = "products"
	racksCollection        = "racks"
	inboundCollection      = "inbound_stock"
	transactionsCollection = "transactions"

	// default name of the unique index on products.name
	productNameIndex = "name_1"
)

// reservedFields are the product fields stored by name; attributes using
// them are dropped so they cannot shadow the record.
var reservedFields = map[string]bool{
	"_id": true, "code": true, "name": true, "stock": true,
	"rack_position": true, "created_at": true, "updated_at": true,
}

type productDocument struct {
	Code         int64  `bson:"code"`
	Name         string `bson:"name"`
	Stock        int    `bson:"stock"`
	RackPosition string `bson:"rack_position"`
	CreatedAt    string `bson:"created_at"`
	UpdatedAt    string `bson:"updated_at"`
	Extra        bson.M `bson:",inline"`
}

func toProductDocument(p domain.Product) productDocument {
	doc := productDocument{
		Code:         p.Code,
		Name:         p.Name,
		Stock:        p.Stock,
		RackPosition: p.RackPosition,
		CreatedAt:    p.CreatedAt,
		UpdatedAt:    p.UpdatedAt,
		Extra:        bson.M{},
	}
	for k, v := range p.Attributes {
		if !reservedFields[k] {
			doc.Extra[k] = v
		}
	}
	return doc
}

func (d productDocument) toDomain() domain.Product {
	delete(d.Extra, "_id")
	p := domain.Product{
		Code:         d.Code,
		Name:         d.Name,
		Stock:        d.Stock,
		RackPosition: d.RackPosition,
		CreatedAt:    d.CreatedAt,
		UpdatedAt:    d.UpdatedAt,
	}
	if len(d.Extra) > 0 {
		p.Attributes = make(map[string]any, len(d.Extra))
		for k, v := range d.Extra {
			p.Attributes[k] = v
		}
	}
	return p
}

type rackDocument struct {
	Label    string `bson:"label"`
	Capacity int    `bson:"capacity"`
	Occupied int    `bson:"occupied"`
	Product  string `bson:"product"`
}

type inboundDocument struct {
	ID          string `bson:"id"`
	ProductCode int64  `bson:"product_code"`
	ProductName string `bson:"product_name"`
	Quantity    int    `bson:"quantity"`
	ReceivedAt  string `bson:"received_at"`
}

type transactionDocument struct {
	ID     any `bson:"_id"`
	Status int `bson:"status"`
	Items  []struct {
		ProductCode int64 `bson:"product_code"`
		Quantity    int   `bson:"quantity"`
	} `bson:"items"`
}

// OpenMongo connects and pings. Embedded documents decode as maps so
// product attributes round-trip to JSON objects.
func OpenMongo(ctx context.Context, uri string) (*mongo.Client, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	clientOpts := options.Client().ApplyURI(uri).
		SetConnectTimeout(5 * time.Second).
		SetServerSelectionTimeout(5 * time.Second).
		SetBSONOptions(&options.BSONOptions{DefaultDocumentM: true})

	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	return client, nil
}

// MongoStore implements port.Store on MongoDB. Multi-document writes run in
// a session transaction only when transactions are enabled, which needs a
// replica set; otherwise they are applied one after another.
type MongoStore struct {
	client       *mongo.Client
	db           *mongo.Database
	transactions bool
}

func NewMongoStore(client *mongo.Client, database string, transactions bool) *MongoStore {
	return &MongoStore{
		client:       client,
		db:           client.Database(database),
		transactions: transactions,
	}
}

var _ port.Store = (*MongoStore)(nil)

func (s *MongoStore) Products() port.ProductRepository {
	return mongoProducts{s.db.Collection(productsCollection)}
}

func (s *MongoStore) Racks() port.RackRepository {
	return mongoRacks{s.db.Collection(racksCollection)}
}

func (s *MongoStore) Ledger() port.LedgerRepository {
	return mongoLedger{s.db.Collection(inboundCollection)}
}

func (s *MongoStore) Transactions() port.TransactionRepository {
	return mongoTransactions{s.db.Collection(transactionsCollection)}
}

func (s *MongoStore) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if !s.transactions || mongo.SessionFromContext(ctx) != nil {
		return fn(ctx)
	}

	sess, err := s.client.StartSession()
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	defer sess.EndSession(context.WithoutCancel(ctx))

	_, err = sess.WithTransaction(ctx, func(sc mongo.SessionContext) (any, error) {
		return nil, fn(sc)
	})
	return err
}

// Migrate creates the unique and lookup indexes.
func (s *MongoStore) Migrate(ctx context.Context) error {
	indexes := map[string][]mongo.IndexModel{
		productsCollection: {
			{Keys: bson.D{{Key: "code", Value: 1}}, Options: options.Index().SetUnique(true)},
			{Keys: bson.D{{Key: "name", Value: 1}}, Options: options.Index().SetUnique(true)},
		},
		racksCollection: {
			{Keys: bson.D{{Key: "label", Value: 1}}, Options: options.Index().SetUnique(true)},
		},
		inboundCollection: {
			{Keys: bson.D{{Key: "product_code", Value: 1}, {Key: "received_at", Value: 1}}},
		},
		transactionsCollection: {
			{Keys: bson.D{{Key: "status", Value: 1}}},
		},
	}
	for name, models := range indexes {
		if _, err := s.db.Collection(name).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("create %s indexes: %w", name, err)
		}
	}
	return nil
}

func (s *MongoStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

type mongoProducts struct{ col *mongo.Collection }

func (r mongoProducts) List(ctx context.Context) ([]domain.Product, error) {
	cursor, err := r.col.Find(ctx, bson.M{},
		options.Find().SetProjection(bson.M{"_id": 0}).SetSort(bson.D{{Key: "name", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("find products: %w", err)
	}

	var docs []productDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode products: %w", err)
	}

	products := make([]domain.Product, 0, len(docs))
	for _, d := range docs {
		products = append(products, d.toDomain())
	}
	return products, nil
}

func (r mongoProducts) findOne(ctx context.Context, filter bson.M) (*domain.Product, error) {
	var doc productDocument
	err := r.col.FindOne(ctx, filter, options.FindOne().SetProjection(bson.M{"_id": 0})).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find product: %w", err)
	}
	p := doc.toDomain()
	return &p, nil
}

func (r mongoProducts) FindByCode(ctx context.Context, code int64) (*domain.Product, error) {
	return r.findOne(ctx, bson.M{"code": code})
}

func (r mongoProducts) FindByName(ctx context.Context, name string) (*domain.Product, error) {
	return r.findOne(ctx, bson.M{"name": name})
}

func (r mongoProducts) Create(ctx context.Context, p domain.Product) error {
	_, err := r.col.InsertOne(ctx, toProductDocument(p))
	if mongo.IsDuplicateKeyError(err) {
		return mongoDuplicateProduct(err)
	}
	if err != nil {
		return fmt.Errorf("insert product: %w", err)
	}
	return nil
}

func (r mongoProducts) Update(ctx context.Context, code int64, patch domain.ProductPatch) error {
	set := bson.M{}
	for k, v := range patch.Attributes {
		if !reservedFields[k] {
			set[k] = v
		}
	}
	if patch.Name != nil {
		set["name"] = *patch.Name
	}
	if patch.Stock != nil {
		set["stock"] = *patch.Stock
	}
	if patch.RackPosition != nil {
		set["rack_position"] = *patch.RackPosition
	}
	if patch.UpdatedAt != "" {
		set["updated_at"] = patch.UpdatedAt
	}
	if len(set) == 0 {
		return nil
	}

	_, err := r.col.UpdateOne(ctx, bson.M{"code": code}, bson.M{"$set": set})
	if mongo.IsDuplicateKeyError(err) {
		return domain.ErrProductNameExists
	}
	if err != nil {
		return fmt.Errorf("update product: %w", err)
	}
	return nil
}

func (r mongoProducts) Delete(ctx context.Context, code int64) error {
	if _, err := r.col.DeleteOne(ctx, bson.M{"code": code}); err != nil {
		return fmt.Errorf("delete product: %w", err)
	}
	return nil
}

type mongoRacks struct{ col *mongo.Collection }

func (r mongoRacks) List(ctx context.Context) ([]domain.Rack, error) {
	cursor, err := r.col.Find(ctx, bson.M{},
		options.Find().SetProjection(bson.M{"_id": 0}).SetSort(bson.D{{Key: "label", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("find racks: %w", err)
	}

	var docs []rackDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode racks: %w", err)
	}

	racks := make([]domain.Rack, 0, len(docs))
	for _, d := range docs {
		racks = append(racks, domain.Rack(d))
	}
	return racks, nil
}

func (r mongoRacks) FindByLabel(ctx context.Context, label string) (*domain.Rack, error) {
	var doc rackDocument
	err := r.col.FindOne(ctx, bson.M{"label": label}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find rack: %w", err)
	}
	rack := domain.Rack(doc)
	return &rack, nil
}

func (r mongoRacks) Claim(ctx context.Context, label, product string, occupied int) error {
	res, err := r.col.UpdateOne(ctx,
		bson.M{"label": label, "occupied": 0},
		bson.M{"$set": bson.M{"product": product, "occupied": occupied}},
	)
	if err != nil {
		return fmt.Errorf("claim rack: %w", err)
	}
	if res.MatchedCount == 0 {
		return domain.ErrRackOccupied
	}
	return nil
}

func (r mongoRacks) Sync(ctx context.Context, label, product string, occupied int) error {
	_, err := r.col.UpdateOne(ctx,
		bson.M{"label": label},
		bson.M{"$set": bson.M{"product": product, "occupied": occupied}},
	)
	if err != nil {
		return fmt.Errorf("sync rack: %w", err)
	}
	return nil
}

func (r mongoRacks) Release(ctx context.Context, label string) error {
	_, err := r.col.UpdateOne(ctx,
		bson.M{"label": label},
		bson.M{"$set": bson.M{"product": "", "occupied": 0}},
	)
	if err != nil {
		return fmt.Errorf("release rack: %w", err)
	}
	return nil
}

func (r mongoRacks) Upsert(ctx context.Context, rack domain.Rack) error {
	_, err := r.col.UpdateOne(ctx,
		bson.M{"label": rack.Label},
		bson.M{
			"$set":         bson.M{"capacity": rack.Capacity},
			"$setOnInsert": bson.M{"occupied": 0, "product": ""},
		},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("upsert rack: %w", err)
	}
	return nil
}

type mongoLedger struct{ col *mongo.Collection }

func (r mongoLedger) Append(ctx context.Context, rec domain.InboundRecord) error {
	if _, err := r.col.InsertOne(ctx, inboundDocument(rec)); err != nil {
		return fmt.Errorf("insert inbound record: %w", err)
	}
	return nil
}

func (r mongoLedger) ListByProduct(ctx context.Context, code int64) ([]domain.InboundRecord, error) {
	cursor, err := r.col.Find(ctx, bson.M{"product_code": code},
		options.Find().SetProjection(bson.M{"_id": 0}).SetSort(bson.D{{Key: "received_at", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("find inbound records: %w", err)
	}

	var docs []inboundDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode inbound records: %w", err)
	}

	records := make([]domain.InboundRecord, 0, len(docs))
	for _, d := range docs {
		records = append(records, domain.InboundRecord(d))
	}
	return records, nil
}

type mongoTransactions struct{ col *mongo.Collection }

func (r mongoTransactions) ListOpen(ctx context.Context) ([]domain.Transaction, error) {
	cursor, err := r.col.Find(ctx, bson.M{"status": domain.TransactionStatusOpen})
	if err != nil {
		return nil, fmt.Errorf("find open transactions: %w", err)
	}

	var docs []transactionDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode transactions: %w", err)
	}

	txs := make([]domain.Transaction, 0, len(docs))
	for _, d := range docs {
		tx := domain.Transaction{ID: documentID(d.ID), Status: d.Status}
		for _, item := range d.Items {
			tx.Items = append(tx.Items, domain.TransactionItem{
				ProductCode: item.ProductCode,
				Quantity:    item.Quantity,
			})
		}
		txs = append(txs, tx)
	}
	return txs, nil
}

// mongoDuplicateProduct tells a name collision from a code collision by the
// index named in the E11000 message.
func mongoDuplicateProduct(err error) error {
	if strings.Contains(err.Error(), "index: "+productNameIndex+" ") {
		return domain.ErrProductNameExists
	}
	return fmt.Errorf("insert product: %w", domain.ErrProductCodeExists)
}

func documentID(id any) string {
	if oid, ok := id.(primitive.ObjectID); ok {
		return oid.Hex()
	}
	return fmt.Sprint(id)
}
