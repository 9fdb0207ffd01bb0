// Package mongo stores users, bank links, transactions and categories in
// MongoDB, one collection each. Transactions use the reconciliation key as
// _id so the database enforces one document per key.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"expensetracker/internal/core"
)

const (
	usersCollection        = "users"
	linksCollection        = "bank_links"
	transactionsCollection = "transactions"
	categoriesCollection   = "categories"
)

type Store struct {
	client *mongo.Client
	db     *mongo.Database
}

type (
	userDoc struct {
		ID    string `bson:"_id"`
		Name  string `bson:"name"`
		Email string `bson:"email"`
	}

	linkDoc struct {
		UserID             string    `bson:"_id"`
		AgreementID        string    `bson:"agreementId"`
		RequisitionID      string    `bson:"requisitionId"`
		InstitutionID      string    `bson:"institutionId"`
		AccessScope        []string  `bson:"accessScope"`
		MaxHistoricalDays  int       `bson:"maxHistoricalDays"`
		AccessValidForDays int       `bson:"accessValidForDays"`
		LinkedAccountIDs   []string  `bson:"linkedAccountIds"`
		Status             string    `bson:"status"`
		ConsentURL         string    `bson:"consentUrl"`
		AgreementStart     time.Time `bson:"agreementStart,omitempty"`
		CreatedAt          time.Time `bson:"createdAt"`
		UpdatedAt          time.Time `bson:"updatedAt"`
	}

	// txDoc keeps amount raw: older documents store it as a double or a
	// string rather than a Decimal128.
	txDoc struct {
		Key                   string             `bson:"_id"`
		UserID                string             `bson:"userId"`
		Type                  string             `bson:"transactionType"`
		Amount                bson.RawValue      `bson:"amount"`
		Currency              string             `bson:"currency"`
		BookingDate           string             `bson:"bookingDate,omitempty"`
		CounterpartName       string             `bson:"counterpartName,omitempty"`
		CounterpartIBAN       string             `bson:"counterpartIban,omitempty"`
		Description           string             `bson:"description"`
		Category              string             `bson:"category"`
		SubCategory           string             `bson:"subCategory"`
		TransactionID         string             `bson:"transactionId,omitempty"`
		EndToEndID            string             `bson:"endToEndId,omitempty"`
		InternalTransactionID string             `bson:"internalTransactionId,omitempty"`
		BankCode              string             `bson:"bankCode,omitempty"`
		Source                string             `bson:"source"`
		Group                 string             `bson:"group,omitempty"`
		PaidBy                string             `bson:"paidBy,omitempty"`
		Split                 map[string]float64 `bson:"split,omitempty"`
		CreatedAt             time.Time          `bson:"createdAt"`
		UpdatedAt             time.Time          `bson:"updatedAt"`
	}

	categoryDoc struct {
		Name          string   `bson:"_id"`
		SubCategories []string `bson:"subCategories"`
	}
)

// New connects, pings and makes sure the secondary indexes exist.
func New(ctx context.Context, uri, database string) (*Store, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongodb: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongodb: %w", err)
	}

	s := &Store{client: client, db: client.Database(database)}
	if err := s.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureIndexes(ctx context.Context) error {
	_, err := s.db.Collection(linksCollection).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "requisitionId", Value: 1}},
	})
	if err != nil {
		return fmt.Errorf("create bank link index: %w", err)
	}
	_, err = s.db.Collection(transactionsCollection).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "userId", Value: 1}, {Key: "bookingDate", Value: -1}},
	})
	if err != nil {
		return fmt.Errorf("create transaction index: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

// DropDatabase removes everything; used by tests.
func (s *Store) DropDatabase(ctx context.Context) error {
	return s.db.Drop(ctx)
}

func (s *Store) GetUser(ctx context.Context, id string) (*core.User, error) {
	var doc userDoc
	err := s.db.Collection(usersCollection).FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, core.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &core.User{ID: doc.ID, Name: doc.Name, Email: doc.Email}, nil
}

func (s *Store) SaveUser(ctx context.Context, u core.User) error {
	_, err := s.db.Collection(usersCollection).UpdateOne(ctx,
		bson.M{"_id": u.ID},
		bson.M{"$set": bson.M{"name": u.Name, "email": u.Email}},
		options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("save user: %w", err)
	}
	return nil
}

func (s *Store) GetLink(ctx context.Context, userID string) (*core.BankLink, error) {
	return s.findLink(ctx, bson.M{"_id": userID})
}

func (s *Store) FindLinkByRequisition(ctx context.Context, requisitionID string) (*core.BankLink, error) {
	if requisitionID == "" {
		return nil, core.ErrLinkNotFound
	}
	return s.findLink(ctx, bson.M{"requisitionId": requisitionID})
}

func (s *Store) findLink(ctx context.Context, filter bson.M) (*core.BankLink, error) {
	var doc linkDoc
	err := s.db.Collection(linksCollection).FindOne(ctx, filter).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, core.ErrLinkNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find bank link: %w", err)
	}
	l := core.BankLink{
		UserID:             doc.UserID,
		AgreementID:        doc.AgreementID,
		RequisitionID:      doc.RequisitionID,
		InstitutionID:      doc.InstitutionID,
		AccessScope:        doc.AccessScope,
		MaxHistoricalDays:  doc.MaxHistoricalDays,
		AccessValidForDays: doc.AccessValidForDays,
		LinkedAccountIDs:   doc.LinkedAccountIDs,
		Status:             core.LinkStatus(doc.Status),
		ConsentURL:         doc.ConsentURL,
		AgreementStart:     doc.AgreementStart,
		CreatedAt:          doc.CreatedAt,
		UpdatedAt:          doc.UpdatedAt,
	}
	if len(l.LinkedAccountIDs) == 0 {
		l.LinkedAccountIDs = nil
	}
	return &l, nil
}

func (s *Store) SaveLink(ctx context.Context, l core.BankLink) error {
	set := bson.M{
		"agreementId":        l.AgreementID,
		"requisitionId":      l.RequisitionID,
		"institutionId":      l.InstitutionID,
		"accessScope":        nonNil(l.AccessScope),
		"maxHistoricalDays":  l.MaxHistoricalDays,
		"accessValidForDays": l.AccessValidForDays,
		"linkedAccountIds":   nonNil(l.LinkedAccountIDs),
		"status":             string(l.Status),
		"consentUrl":         l.ConsentURL,
		"agreementStart":     l.AgreementStart,
		"updatedAt":          l.UpdatedAt,
	}
	_, err := s.db.Collection(linksCollection).UpdateOne(ctx,
		bson.M{"_id": l.UserID},
		bson.M{"$set": set, "$setOnInsert": bson.M{"createdAt": l.CreatedAt}},
		options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("save bank link: %w", err)
	}
	slog.InfoContext(ctx, "Bank link saved to MongoDB",
		"user_id", l.UserID,
		"status", l.Status,
		"requisition_id", l.RequisitionID)
	return nil
}

// upsertAttempts bounds how often a duplicate key collision is re-resolved
// when the colliding document keeps disappearing.
const upsertAttempts = 3

// UpsertTransaction filters on key and owner. When the filter misses but the
// insert collides on _id, either another owner holds the key
// (core.ErrUnauthorized) or a concurrent upsert of the same owner won the
// insert, in which case the write is applied as an update.
func (s *Store) UpsertTransaction(ctx context.Context, tx core.Transaction) (bool, error) {
	set, err := txFields(tx)
	if err != nil {
		return false, err
	}
	coll := s.db.Collection(transactionsCollection)
	filter := bson.M{"_id": tx.Key, "userId": tx.UserID}
	update := bson.M{"$set": set, "$setOnInsert": bson.M{"createdAt": tx.CreatedAt}}

	for range upsertAttempts {
		res, err := coll.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
		if err == nil {
			return res.UpsertedCount == 1, nil
		}
		if !mongo.IsDuplicateKeyError(err) {
			return false, fmt.Errorf("upsert transaction: %w", err)
		}

		owner, err := s.owner(ctx, tx.Key)
		if errors.Is(err, core.ErrTransactionNotFound) {
			continue
		}
		if err != nil {
			return false, err
		}
		if owner != tx.UserID {
			return false, fmt.Errorf("upsert transaction %s: %w", tx.Key, core.ErrUnauthorized)
		}
		res, err = coll.UpdateOne(ctx, filter, bson.M{"$set": set})
		if err != nil {
			return false, fmt.Errorf("upsert transaction: %w", err)
		}
		if res.MatchedCount > 0 {
			return false, nil
		}
	}
	return false, fmt.Errorf("upsert transaction %s: key kept changing owner", tx.Key)
}

// owner returns the userId stored under key.
func (s *Store) owner(ctx context.Context, key string) (string, error) {
	var doc struct {
		UserID string `bson:"userId"`
	}
	err := s.db.Collection(transactionsCollection).FindOne(ctx, bson.M{"_id": key},
		options.FindOne().SetProjection(bson.M{"userId": 1})).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return "", core.ErrTransactionNotFound
	}
	if err != nil {
		return "", fmt.Errorf("check transaction owner: %w", err)
	}
	return doc.UserID, nil
}

func (s *Store) GetTransaction(ctx context.Context, key string) (*core.Transaction, error) {
	var doc txDoc
	err := s.db.Collection(transactionsCollection).FindOne(ctx, bson.M{"_id": key}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, core.ErrTransactionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get transaction: %w", err)
	}
	tx := fromTxDoc(doc)
	return &tx, nil
}

func (s *Store) UpdateTransaction(ctx context.Context, tx core.Transaction) error {
	set, err := txFields(tx)
	if err != nil {
		return err
	}
	res, err := s.db.Collection(transactionsCollection).UpdateOne(ctx,
		bson.M{"_id": tx.Key, "userId": tx.UserID},
		bson.M{"$set": set})
	if err != nil {
		return fmt.Errorf("update transaction: %w", err)
	}
	if res.MatchedCount > 0 {
		return nil
	}
	return s.missOrForeign(ctx, tx.Key)
}

func (s *Store) DeleteTransaction(ctx context.Context, userID, key string) error {
	res, err := s.db.Collection(transactionsCollection).DeleteOne(ctx, bson.M{"_id": key, "userId": userID})
	if err != nil {
		return fmt.Errorf("delete transaction: %w", err)
	}
	if res.DeletedCount > 0 {
		return nil
	}
	return s.missOrForeign(ctx, key)
}

func (s *Store) missOrForeign(ctx context.Context, key string) error {
	n, err := s.db.Collection(transactionsCollection).CountDocuments(ctx, bson.M{"_id": key})
	if err != nil {
		return fmt.Errorf("check transaction: %w", err)
	}
	if n == 0 {
		return core.ErrTransactionNotFound
	}
	return core.ErrUnauthorized
}

func (s *Store) ListTransactions(ctx context.Context, userID string) ([]core.Transaction, error) {
	cur, err := s.db.Collection(transactionsCollection).Find(ctx,
		bson.M{"userId": userID},
		options.Find().SetSort(bson.D{{Key: "bookingDate", Value: -1}, {Key: "createdAt", Value: -1}}))
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer cur.Close(ctx)

	var out []core.Transaction
	for cur.Next(ctx) {
		var doc txDoc
		if err := cur.Decode(&doc); err != nil {
			slog.WarnContext(ctx, "Skipping undecodable transaction document",
				"user_id", userID,
				"error", err)
			continue
		}
		out = append(out, fromTxDoc(doc))
	}
	if err := cur.Err(); err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}

	// Pending (no booking date) first, as the other backends do.
	pending := out[:0:0]
	booked := out[:0:0]
	for _, tx := range out {
		if tx.IsPending() {
			pending = append(pending, tx)
		} else {
			booked = append(booked, tx)
		}
	}
	return append(pending, booked...), nil
}

func txFields(tx core.Transaction) (bson.M, error) {
	amount, err := primitive.ParseDecimal128(tx.Amount.String())
	if err != nil {
		return nil, fmt.Errorf("encode amount: %w", err)
	}
	set := bson.M{
		"userId":                tx.UserID,
		"transactionType":       string(tx.Type),
		"amount":                amount,
		"currency":              tx.Currency,
		"counterpartName":       tx.CounterpartName,
		"counterpartIban":       tx.CounterpartIBAN,
		"description":           tx.Description,
		"category":              tx.Category,
		"subCategory":           tx.SubCategory,
		"transactionId":         tx.TransactionID,
		"endToEndId":            tx.EndToEndID,
		"internalTransactionId": tx.InternalTransactionID,
		"bankCode":              tx.BankCode,
		"source":                string(tx.Source),
		"group":                 tx.Group,
		"paidBy":                tx.PaidBy,
		"split":                 tx.Split,
		"updatedAt":             tx.UpdatedAt,
		"bookingDate":           nil,
	}
	if tx.BookingDate != nil {
		set["bookingDate"] = tx.BookingDate.String()
	}
	return set, nil
}

func fromTxDoc(doc txDoc) core.Transaction {
	tx := core.Transaction{
		Key:                   doc.Key,
		UserID:                doc.UserID,
		Type:                  core.TransactionType(doc.Type),
		Amount:                rawAmount(doc.Amount),
		Currency:              doc.Currency,
		CounterpartName:       doc.CounterpartName,
		CounterpartIBAN:       doc.CounterpartIBAN,
		Description:           doc.Description,
		Category:              doc.Category,
		SubCategory:           doc.SubCategory,
		TransactionID:         doc.TransactionID,
		EndToEndID:            doc.EndToEndID,
		InternalTransactionID: doc.InternalTransactionID,
		BankCode:              doc.BankCode,
		Source:                core.TransactionSource(doc.Source),
		Group:                 doc.Group,
		PaidBy:                doc.PaidBy,
		Split:                 doc.Split,
		CreatedAt:             doc.CreatedAt,
		UpdatedAt:             doc.UpdatedAt,
	}
	if doc.BookingDate != "" {
		d, err := core.ParseDate(doc.BookingDate)
		if err != nil {
			d = core.Date{}
		}
		tx.BookingDate = &d
	}
	return tx
}

// rawAmount reads Decimal128, double, integer or string amounts; anything
// else yields zero.
func rawAmount(v bson.RawValue) decimal.Decimal {
	if d, ok := v.Decimal128OK(); ok {
		if out, err := decimal.NewFromString(d.String()); err == nil {
			return out
		}
		return decimal.Zero
	}
	if f, ok := v.DoubleOK(); ok {
		return decimal.NewFromFloat(f)
	}
	if i, ok := v.Int32OK(); ok {
		return decimal.NewFromInt32(i)
	}
	if i, ok := v.Int64OK(); ok {
		return decimal.NewFromInt(i)
	}
	if s, ok := v.StringValueOK(); ok {
		if out, err := core.ParseAmount(s); err == nil {
			return out
		}
	}
	return decimal.Zero
}

func (s *Store) CountCategories(ctx context.Context) (int, error) {
	n, err := s.db.Collection(categoriesCollection).CountDocuments(ctx, bson.M{})
	if err != nil {
		return 0, fmt.Errorf("count categories: %w", err)
	}
	return int(n), nil
}

func (s *Store) InsertCategories(ctx context.Context, cats []core.Category) error {
	if len(cats) == 0 {
		return nil
	}
	docs := make([]any, 0, len(cats))
	for _, c := range cats {
		docs = append(docs, categoryDoc{Name: c.Name, SubCategories: nonNil(c.SubCategories)})
	}
	_, err := s.db.Collection(categoriesCollection).InsertMany(ctx, docs, options.InsertMany().SetOrdered(false))
	if err != nil && !mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("insert categories: %w", err)
	}
	return nil
}

func (s *Store) ListCategories(ctx context.Context) ([]core.Category, error) {
	cur, err := s.db.Collection(categoriesCollection).Find(ctx, bson.M{},
		options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	var docs []categoryDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode categories: %w", err)
	}
	out := make([]core.Category, 0, len(docs))
	for _, d := range docs {
		out = append(out, core.Category{Name: d.Name, SubCategories: d.SubCategories})
	}
	return out, nil
}

func (s *Store) GetCategory(ctx context.Context, name string) (*core.Category, error) {
	var doc categoryDoc
	err := s.db.Collection(categoriesCollection).FindOne(ctx, bson.M{"_id": name}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, core.ErrCategoryNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get category: %w", err)
	}
	return &core.Category{Name: doc.Name, SubCategories: doc.SubCategories}, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
