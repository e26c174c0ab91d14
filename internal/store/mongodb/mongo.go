package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/samber/lo"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/vovakirdan/courier/internal/store"
	"github.com/vovakirdan/courier/internal/utils"
)

const (
	defaultWriteTimeout = 5 * time.Second
	defaultReadTimeout  = 10 * time.Second

	usersCollection         = "users"
	conversationsCollection = "conversations"
	messagesCollection      = "messages"
)

// MongoStore implements store.Store on a MongoDB database.
// BSON dates carry millisecond precision, so the clock ticks in milliseconds.
type MongoStore struct {
	client        *mongo.Client
	users         *mongo.Collection
	conversations *mongo.Collection
	messages      *mongo.Collection
	clock         *store.MonotonicClock
	log           *zerolog.Logger
}

var _ store.Store = (*MongoStore)(nil)

// Open connects to uri, pings the server and ensures indexes on database.
func Open(ctx context.Context, uri, database string, logger *zerolog.Logger) (*MongoStore, error) {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	db := client.Database(database)
	s := &MongoStore{
		client:        client,
		users:         db.Collection(usersCollection),
		conversations: db.Collection(conversationsCollection),
		messages:      db.Collection(messagesCollection),
		clock:         store.NewMonotonicClock(time.Millisecond),
		log:           logger,
	}
	if err := s.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return s, nil
}

func (s *MongoStore) ensureIndexes(ctx context.Context) error {
	if _, err := s.users.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "username", Value: 1}},
		Options: options.Index().SetUnique(true),
	}); err != nil {
		return fmt.Errorf("users index: %w", err)
	}
	if _, err := s.conversations.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "participants", Value: 1}, {Key: "updated_at", Value: -1}},
	}); err != nil {
		return fmt.Errorf("conversations index: %w", err)
	}
	if _, err := s.messages.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "conversation_id", Value: 1}, {Key: "created_at", Value: -1}},
	}); err != nil {
		return fmt.Errorf("messages index: %w", err)
	}
	return nil
}

// Close disconnects the client.
func (s *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), defaultWriteTimeout)
	defer cancel()
	return s.client.Disconnect(ctx)
}

// ensureTimeout bounds ctx unless the caller already set a deadline.
func ensureTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, d)
}

func notFound(err error, what string) error {
	if errors.Is(err, mongo.ErrNoDocuments) {
		return fmt.Errorf("%s: %w", what, store.ErrNotFound)
	}
	return fmt.Errorf("find %s: %w", what, err)
}

// ==== UserStore implementation ====

func (s *MongoStore) CreateUser(ctx context.Context, u *store.User) error {
	ctx, cancel := ensureTimeout(ctx, defaultWriteTimeout)
	defer cancel()

	if u.ID == "" {
		u.ID = utils.NewID()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = s.clock.Now()
	}
	if u.Role == "" {
		u.Role = store.RoleUser
	}
	if u.DisplayName == "" {
		u.DisplayName = u.Username
	}

	_, err := s.users.InsertOne(ctx, userDoc{
		ID:           u.ID,
		Username:     u.Username,
		DisplayName:  u.DisplayName,
		Role:         string(u.Role),
		PasswordHash: u.PasswordHash,
		CreatedAt:    u.CreatedAt,
	})
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("insert user %q: %w", u.Username, store.ErrConflict)
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *MongoStore) GetUserByID(ctx context.Context, id string) (*store.User, error) {
	return s.findUser(ctx, bson.M{"_id": id}, "user "+id)
}

func (s *MongoStore) GetUserByUsername(ctx context.Context, username string) (*store.User, error) {
	return s.findUser(ctx, bson.M{"username": username}, "user "+username)
}

func (s *MongoStore) findUser(ctx context.Context, filter bson.M, what string) (*store.User, error) {
	ctx, cancel := ensureTimeout(ctx, defaultReadTimeout)
	defer cancel()

	var doc userDoc
	if err := s.users.FindOne(ctx, filter).Decode(&doc); err != nil {
		return nil, notFound(err, what)
	}
	return doc.toUser(), nil
}

func (s *MongoStore) GetUsersByIDs(ctx context.Context, ids []string) ([]*store.User, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	return s.findUsers(ctx, bson.M{"_id": bson.M{"$in": ids}}, options.Find())
}

func (s *MongoStore) ListUsers(ctx context.Context) ([]*store.User, error) {
	return s.findUsers(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "username", Value: 1}}))
}

func (s *MongoStore) findUsers(ctx context.Context, filter bson.M, opts *options.FindOptions) ([]*store.User, error) {
	ctx, cancel := ensureTimeout(ctx, defaultReadTimeout)
	defer cancel()

	cursor, err := s.users.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("find users: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []userDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode users: %w", err)
	}
	users := make([]*store.User, 0, len(docs))
	for _, d := range docs {
		users = append(users, d.toUser())
	}
	return users, nil
}

// ==== ConversationStore implementation ====

func (s *MongoStore) CreateConversation(ctx context.Context, c *store.Conversation) error {
	ctx, cancel := ensureTimeout(ctx, defaultWriteTimeout)
	defer cancel()

	if c.ID == "" {
		c.ID = utils.NewID()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = s.clock.Now()
	}
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = c.CreatedAt
	}
	c.Participants = lo.Uniq(c.Participants)

	_, err := s.conversations.InsertOne(ctx, conversationDoc{
		ID:           c.ID,
		Participants: c.Participants,
		Title:        c.Title,
		Type:         string(c.Type),
		CreatedBy:    c.CreatedBy,
		CreatedAt:    c.CreatedAt,
		UpdatedAt:    c.UpdatedAt,
	})
	if err != nil {
		return fmt.Errorf("insert conversation: %w", err)
	}
	return nil
}

func (s *MongoStore) GetConversation(ctx context.Context, id string) (*store.Conversation, error) {
	ctx, cancel := ensureTimeout(ctx, defaultReadTimeout)
	defer cancel()

	var doc conversationDoc
	if err := s.conversations.FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		return nil, notFound(err, "conversation "+id)
	}
	return doc.toConversation(), nil
}

func (s *MongoStore) ListConversations(ctx context.Context, userID string, limit, offset int) ([]*store.Conversation, error) {
	ctx, cancel := ensureTimeout(ctx, defaultReadTimeout)
	defer cancel()

	opts := options.Find().
		SetSort(bson.D{{Key: "updated_at", Value: -1}, {Key: "_id", Value: -1}}).
		SetSkip(int64(offset)).
		SetLimit(int64(limit))

	cursor, err := s.conversations.Find(ctx, bson.M{"participants": userID}, opts)
	if err != nil {
		return nil, fmt.Errorf("find conversations: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []conversationDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode conversations: %w", err)
	}
	convs := make([]*store.Conversation, 0, len(docs))
	for _, d := range docs {
		convs = append(convs, d.toConversation())
	}
	return convs, nil
}

// AddParticipant uses $addToSet so concurrent adds of the same user stay deduplicated.
func (s *MongoStore) AddParticipant(ctx context.Context, conversationID, userID string) (bool, error) {
	ctx, cancel := ensureTimeout(ctx, defaultWriteTimeout)
	defer cancel()

	res, err := s.conversations.UpdateOne(ctx,
		bson.M{"_id": conversationID},
		bson.M{"$addToSet": bson.M{"participants": userID}},
	)
	if err != nil {
		return false, fmt.Errorf("add participant: %w", err)
	}
	if res.MatchedCount == 0 {
		return false, fmt.Errorf("conversation %s: %w", conversationID, store.ErrNotFound)
	}
	return res.ModifiedCount > 0, nil
}

func (s *MongoStore) IsParticipant(ctx context.Context, conversationID, userID string) (bool, error) {
	ctx, cancel := ensureTimeout(ctx, defaultReadTimeout)
	defer cancel()

	n, err := s.conversations.CountDocuments(ctx,
		bson.M{"_id": conversationID, "participants": userID},
		options.Count().SetLimit(1))
	if err != nil {
		return false, fmt.Errorf("count participant: %w", err)
	}
	return n > 0, nil
}

// ==== MessageStore implementation ====

// AppendMessage inserts the message and then advances the projection with a
// filtered update, so a slower writer holding an older message cannot regress it.
// A failed projection update is logged, not returned: the message is already stored.
func (s *MongoStore) AppendMessage(ctx context.Context, m *store.Message) error {
	ctx, cancel := ensureTimeout(ctx, defaultWriteTimeout)
	defer cancel()

	if _, err := s.GetConversation(ctx, m.ConversationID); err != nil {
		return err
	}

	if m.ID == "" {
		m.ID = utils.NewID()
	}
	if m.Type == "" {
		m.Type = store.MessageText
	}
	m.CreatedAt = s.clock.Now()
	m.ReadBy = []string{m.SenderID}

	_, err := s.messages.InsertOne(ctx, messageDoc{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		Content:        m.Content,
		Type:           string(m.Type),
		ReadBy:         m.ReadBy,
		CreatedAt:      m.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}

	res, err := s.conversations.UpdateOne(ctx,
		bson.M{
			"_id": m.ConversationID,
			"$or": bson.A{
				bson.M{"last_message_at": nil},
				bson.M{"last_message_at": bson.M{"$lt": m.CreatedAt}},
			},
		},
		bson.M{
			"$set": bson.M{"last_message_id": m.ID, "last_message_at": m.CreatedAt},
			"$max": bson.M{"updated_at": m.CreatedAt},
		},
	)
	if err != nil {
		s.logProjectionFailure(m, err)
		return nil
	}
	if res.MatchedCount == 0 {
		// A newer message already owns the projection; only make sure updated_at never regresses.
		if _, err := s.conversations.UpdateOne(ctx,
			bson.M{"_id": m.ConversationID},
			bson.M{"$max": bson.M{"updated_at": m.CreatedAt}},
		); err != nil {
			s.logProjectionFailure(m, err)
		}
	}
	return nil
}

// The insert and the projection update are separate writes. Once the message is
// stored the append succeeds; a lagging projection is repaired by the next append.
func (s *MongoStore) logProjectionFailure(m *store.Message, err error) {
	s.log.Error().Err(err).
		Str("conversation_id", m.ConversationID).
		Str("message_id", m.ID).
		Msg("message stored but conversation projection not updated")
}

func (s *MongoStore) GetMessage(ctx context.Context, id string) (*store.Message, error) {
	ctx, cancel := ensureTimeout(ctx, defaultReadTimeout)
	defer cancel()

	var doc messageDoc
	if err := s.messages.FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		return nil, notFound(err, "message "+id)
	}
	return doc.toMessage(), nil
}

func (s *MongoStore) GetMessagesByIDs(ctx context.Context, ids []string) ([]*store.Message, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	return s.findMessages(ctx, bson.M{"_id": bson.M{"$in": ids}}, options.Find())
}

func (s *MongoStore) ListMessages(ctx context.Context, conversationID string, q store.MessageQuery) ([]*store.Message, error) {
	filter := bson.M{"conversation_id": conversationID}
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetLimit(int64(q.Limit))

	if q.Before != nil {
		filter["created_at"] = bson.M{"$lt": *q.Before}
	} else {
		opts.SetSkip(int64(q.Offset))
	}
	return s.findMessages(ctx, filter, opts)
}

func (s *MongoStore) findMessages(ctx context.Context, filter bson.M, opts *options.FindOptions) ([]*store.Message, error) {
	ctx, cancel := ensureTimeout(ctx, defaultReadTimeout)
	defer cancel()

	cursor, err := s.messages.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("find messages: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []messageDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode messages: %w", err)
	}
	msgs := make([]*store.Message, 0, len(docs))
	for _, d := range docs {
		msgs = append(msgs, d.toMessage())
	}
	return msgs, nil
}

func (s *MongoStore) MarkRead(ctx context.Context, conversationID, userID string, messageIDs []string) (int, error) {
	ctx, cancel := ensureTimeout(ctx, defaultWriteTimeout)
	defer cancel()

	filter := bson.M{
		"conversation_id": conversationID,
		"read_by":         bson.M{"$ne": userID},
	}
	if len(messageIDs) > 0 {
		filter["_id"] = bson.M{"$in": messageIDs}
	}

	res, err := s.messages.UpdateMany(ctx, filter, bson.M{"$addToSet": bson.M{"read_by": userID}})
	if err != nil {
		return 0, fmt.Errorf("mark read: %w", err)
	}
	return int(res.ModifiedCount), nil
}
