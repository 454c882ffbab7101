package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
	"livre2main/pkg/domain"
)

const migrateLockID int64 = 52105210

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

type GormStoreOptions struct {
	Driver   string
	LogLevel gormlogger.LogLevel
}

type GormStoreOption func(*GormStoreOptions)

// WithDriver selects the SQL dialect ("postgres" or "sqlite").
func WithDriver(driver string) GormStoreOption {
	return func(opts *GormStoreOptions) {
		opts.Driver = driver
	}
}

// WithLogLevel sets the gorm logger level.
func WithLogLevel(level gormlogger.LogLevel) GormStoreOption {
	return func(opts *GormStoreOptions) {
		opts.LogLevel = level
	}
}

// GormStore implements Store using GORM on Postgres (production) or SQLite (local/tests).
type GormStore struct {
	db   *gorm.DB
	inTx bool
}

// NewGormStore opens the DB and runs auto-migrations.
func NewGormStore(dsn string, options ...GormStoreOption) (*GormStore, error) {
	opts := GormStoreOptions{Driver: DriverPostgres, LogLevel: gormlogger.Warn}
	for _, option := range options {
		if option != nil {
			option(&opts)
		}
	}
	dialector, err := openDialector(opts.Driver, dsn)
	if err != nil {
		return nil, err
	}

	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  opts.LogLevel,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(dialector, &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if db.Dialector.Name() == DriverSQLite {
		// SQLite has a single writer; one connection also keeps :memory: databases alive.
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("get sql db: %w", err)
		}
		sqlDB.SetMaxOpenConns(1)
	}
	if err := migrate(db); err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

func openDialector(driver, dsn string) (gorm.Dialector, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("database dsn required")
	}
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", DriverPostgres, "postgresql":
		return postgres.Open(dsn), nil
	case DriverSQLite:
		return sqlite.Open(dsn), nil
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", driver)
	}
}

func migrate(db *gorm.DB) error {
	run := func(tx *gorm.DB) error {
		if err := tx.AutoMigrate(&UserModel{}, &BookModel{}, &PersonalBookModel{}, &EmpruntModel{}, &MessageModel{}, &ProposalModel{}); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		if tx.Dialector.Name() != DriverPostgres {
			return nil
		}
		if err := tx.Exec(`
			DO $$
			BEGIN
				IF NOT EXISTS (
					SELECT 1 FROM information_schema.table_constraints
					WHERE table_schema = 'public'
					AND table_name = 'message_models'
					AND constraint_name = 'message_models_emprunt_id_fkey'
				) THEN
					ALTER TABLE message_models
					ADD CONSTRAINT message_models_emprunt_id_fkey
					FOREIGN KEY (emprunt_id) REFERENCES emprunt_models(id) ON DELETE CASCADE;
				END IF;
				IF NOT EXISTS (
					SELECT 1 FROM information_schema.table_constraints
					WHERE table_schema = 'public'
					AND table_name = 'emprunt_models'
					AND constraint_name = 'emprunt_models_book_id_fkey'
				) THEN
					ALTER TABLE emprunt_models
					ADD CONSTRAINT emprunt_models_book_id_fkey
					FOREIGN KEY (book_id) REFERENCES book_models(id);
				END IF;
				IF NOT EXISTS (
					SELECT 1 FROM information_schema.table_constraints
					WHERE table_schema = 'public'
					AND table_name = 'emprunt_models'
					AND constraint_name = 'emprunt_models_distinct_users'
				) THEN
					ALTER TABLE emprunt_models
					ADD CONSTRAINT emprunt_models_distinct_users CHECK (user_id1 <> user_id2);
				END IF;
			END $$;
		`).Error; err != nil {
			return fmt.Errorf("ensure emprunt constraints: %w", err)
		}
		return nil
	}
	if db.Dialector.Name() != DriverPostgres {
		return run(db)
	}
	return withMigrationLock(db, run)
}

func withMigrationLock(db *gorm.DB, fn func(*gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if err := execAdvisory(ctx, conn, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = execAdvisory(ctx, conn, "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(db)
}

func execAdvisory(ctx context.Context, conn *sql.Conn, query string, lockID int64) error {
	_, err := conn.ExecContext(ctx, query, lockID)
	return err
}

// Ping checks the database connection.
func (s *GormStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close releases the underlying connection pool.
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// WithTx runs fn in a transaction. Nested calls reuse the outer transaction.
func (s *GormStore) WithTx(ctx context.Context, fn func(Store) error) error {
	if s.inTx {
		return fn(s)
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&GormStore{db: tx, inTx: true})
	})
}

// LockKeys takes transaction-scoped advisory locks on Postgres, in sorted order
// so that two transactions locking the same pair cannot deadlock.
// SQLite serializes writers on its single connection, so nothing is needed there.
func (s *GormStore) LockKeys(ctx context.Context, keys ...string) error {
	if !s.inTx || s.db.Dialector.Name() != DriverPostgres {
		return nil
	}
	uniq := make(map[string]struct{}, len(keys))
	sorted := make([]string, 0, len(keys))
	for _, key := range keys {
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		if _, ok := uniq[key]; ok {
			continue
		}
		uniq[key] = struct{}{}
		sorted = append(sorted, key)
	}
	sort.Strings(sorted)
	for _, key := range sorted {
		if err := s.db.WithContext(ctx).Exec("SELECT pg_advisory_xact_lock(hashtext(?))", key).Error; err != nil {
			return fmt.Errorf("advisory lock %q: %w", key, err)
		}
	}
	return nil
}

// SaveUser registers or updates a user.
func (s *GormStore) SaveUser(ctx context.Context, u domain.User) error {
	model := userToModel(u)
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "surname", "email", "city", "age", "password_hash", "role", "updated_at"}),
	}).Create(&model).Error
}

// CreateUserIfAbsent inserts u unless its email is taken, then returns the stored row.
func (s *GormStore) CreateUserIfAbsent(ctx context.Context, u domain.User) (domain.User, error) {
	model := userToModel(u)
	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "email"}},
		DoNothing: true,
	}).Create(&model).Error; err != nil {
		return domain.User{}, err
	}
	stored, ok, err := s.GetUserByEmail(ctx, u.Email)
	if err != nil {
		return domain.User{}, err
	}
	if !ok {
		return domain.User{}, fmt.Errorf("user %s missing after insert", u.Email)
	}
	return stored, nil
}

// GetUserByID returns a user by ID.
func (s *GormStore) GetUserByID(ctx context.Context, id string) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// GetUserByEmail looks up a user by email.
func (s *GormStore) GetUserByEmail(ctx context.Context, email string) (domain.User, bool, error) {
	var model UserModel
	email = strings.TrimSpace(strings.ToLower(email))
	if err := s.db.WithContext(ctx).Where("email = ?", email).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// SetUserRole updates the role of a user.
func (s *GormStore) SetUserRole(ctx context.Context, id string, role domain.UserRole) error {
	res := s.db.WithContext(ctx).Model(&UserModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"role":       string(role),
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// SaveBook stores or updates a catalog entry.
func (s *GormStore) SaveBook(ctx context.Context, b domain.Book) error {
	model := bookToModel(b)
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"title", "author", "genre"}),
	}).Create(&model).Error
}

// GetBook retrieves a catalog entry.
func (s *GormStore) GetBook(ctx context.Context, id string) (domain.Book, bool, error) {
	var model BookModel
	if err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Book{}, false, nil
		}
		return domain.Book{}, false, err
	}
	return bookFromModel(model), true, nil
}

// FindBookByTitle returns the first catalog entry with an exact title match.
func (s *GormStore) FindBookByTitle(ctx context.Context, title string) (domain.Book, bool, error) {
	var model BookModel
	if err := s.db.WithContext(ctx).Where("title = ?", title).Order("id ASC").First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Book{}, false, nil
		}
		return domain.Book{}, false, err
	}
	return bookFromModel(model), true, nil
}

// SavePersonalBook stores or updates a personal library entry.
func (s *GormStore) SavePersonalBook(ctx context.Context, b domain.PersonalBook) error {
	model := personalBookToModel(b)
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"title", "authors", "cover_url", "info_link", "description", "source", "source_id"}),
	}).Create(&model).Error
}

// GetPersonalBook retrieves a personal library entry.
func (s *GormStore) GetPersonalBook(ctx context.Context, id string) (domain.PersonalBook, bool, error) {
	var model PersonalBookModel
	if err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.PersonalBook{}, false, nil
		}
		return domain.PersonalBook{}, false, err
	}
	return personalBookFromModel(model), true, nil
}

// CreateEmprunt inserts a new loan record.
func (s *GormStore) CreateEmprunt(ctx context.Context, e domain.Emprunt) error {
	model := empruntToModel(e)
	return s.db.WithContext(ctx).Create(&model).Error
}

// CreateThreadIfAbsent inserts e unless a thread with the same key exists.
func (s *GormStore) CreateThreadIfAbsent(ctx context.Context, e domain.Emprunt) error {
	if strings.TrimSpace(e.ThreadKey) == "" {
		return errors.New("thread key required")
	}
	model := empruntToModel(e)
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "thread_key"}},
		DoNothing: true,
	}).Create(&model).Error
}

// GetEmprunt returns one loan/conversation by ID.
func (s *GormStore) GetEmprunt(ctx context.Context, id string) (domain.Emprunt, bool, error) {
	var model EmpruntModel
	if err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Emprunt{}, false, nil
		}
		return domain.Emprunt{}, false, err
	}
	return empruntFromModel(model), true, nil
}

// FindEmprunt matches the pair in either order together with the book.
func (s *GormStore) FindEmprunt(ctx context.Context, userA, userB, bookID string) (domain.Emprunt, bool, error) {
	var model EmpruntModel
	err := s.db.WithContext(ctx).
		Where("((user_id1 = ? AND user_id2 = ?) OR (user_id1 = ? AND user_id2 = ?)) AND book_id = ?", userA, userB, userB, userA, bookID).
		Order("created_at ASC").
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Emprunt{}, false, nil
		}
		return domain.Emprunt{}, false, err
	}
	return empruntFromModel(model), true, nil
}

// ListEmpruntsByUser returns every loan/conversation the user takes part in.
func (s *GormStore) ListEmpruntsByUser(ctx context.Context, userID string) ([]domain.Emprunt, error) {
	var models []EmpruntModel
	if err := s.db.WithContext(ctx).
		Where("user_id1 = ? OR user_id2 = ?", userID, userID).
		Order("created_at ASC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	items := make([]domain.Emprunt, 0, len(models))
	for _, m := range models {
		items = append(items, empruntFromModel(m))
	}
	return items, nil
}

// CountRealEmprunts counts loans of userID where neither side is the system actor.
func (s *GormStore) CountRealEmprunts(ctx context.Context, userID, systemActorID string) (int, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&EmpruntModel{}).
		Where("(user_id1 = ? OR user_id2 = ?) AND user_id1 <> ? AND user_id2 <> ?", userID, userID, systemActorID, systemActorID).
		Count(&count).Error; err != nil {
		return 0, err
	}
	return int(count), nil
}

// AppendMessage records a message.
func (s *GormStore) AppendMessage(ctx context.Context, msg domain.Message) error {
	model, err := messageToModel(msg)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Create(&model).Error
}

// GetMessage returns one message by ID.
func (s *GormStore) GetMessage(ctx context.Context, id string) (domain.Message, bool, error) {
	var model MessageModel
	if err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Message{}, false, nil
		}
		return domain.Message{}, false, err
	}
	msg, err := messageFromModel(model)
	if err != nil {
		return domain.Message{}, false, err
	}
	return msg, true, nil
}

// ListMessages returns the messages of a conversation in chronological order.
func (s *GormStore) ListMessages(ctx context.Context, empruntID string) ([]domain.Message, error) {
	var models []MessageModel
	if err := s.db.WithContext(ctx).
		Where("emprunt_id = ?", empruntID).
		Order("created_at ASC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	msgs := make([]domain.Message, 0, len(models))
	for _, m := range models {
		msg, err := messageFromModel(m)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

// LastMessage returns the most recent message of a conversation.
func (s *GormStore) LastMessage(ctx context.Context, empruntID string) (domain.Message, bool, error) {
	var model MessageModel
	if err := s.db.WithContext(ctx).
		Where("emprunt_id = ?", empruntID).
		Order("created_at DESC").
		First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Message{}, false, nil
		}
		return domain.Message{}, false, err
	}
	msg, err := messageFromModel(model)
	if err != nil {
		return domain.Message{}, false, err
	}
	return msg, true, nil
}

// CountUnread counts unread messages not sent by readerID across the conversations.
func (s *GormStore) CountUnread(ctx context.Context, empruntIDs []string, readerID string) (int, error) {
	if len(empruntIDs) == 0 {
		return 0, nil
	}
	var count int64
	if err := s.db.WithContext(ctx).Model(&MessageModel{}).
		Where("emprunt_id IN ? AND sender_id <> ? AND is_read = ?", empruntIDs, readerID, false).
		Count(&count).Error; err != nil {
		return 0, err
	}
	return int(count), nil
}

// MarkMessageRead flags one message as read.
func (s *GormStore) MarkMessageRead(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Model(&MessageModel{}).Where("id = ?", id).Update("is_read", true).Error
}

// MarkThreadRead flags every message received by readerID in the conversation as read.
func (s *GormStore) MarkThreadRead(ctx context.Context, empruntID, readerID string) error {
	return s.db.WithContext(ctx).Model(&MessageModel{}).
		Where("emprunt_id = ? AND sender_id <> ? AND is_read = ?", empruntID, readerID, false).
		Update("is_read", true).Error
}

// CreateProposal inserts a proposal state record.
func (s *GormStore) CreateProposal(ctx context.Context, p domain.Proposal) error {
	model, err := proposalToModel(p)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Create(&model).Error
}

// GetProposal returns a proposal without locking it.
func (s *GormStore) GetProposal(ctx context.Context, id string) (domain.Proposal, bool, error) {
	return s.getProposal(s.db.WithContext(ctx), id)
}

// LockProposal reads a proposal with SELECT ... FOR UPDATE.
// The lock is dropped by SQLite, whose single writer already serializes.
func (s *GormStore) LockProposal(ctx context.Context, id string) (domain.Proposal, bool, error) {
	return s.getProposal(s.db.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}), id)
}

func (s *GormStore) getProposal(db *gorm.DB, id string) (domain.Proposal, bool, error) {
	var model ProposalModel
	if err := db.First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Proposal{}, false, nil
		}
		return domain.Proposal{}, false, err
	}
	return proposalFromModel(model), true, nil
}

// UpdateProposal writes the lifecycle fields of p if the stored row is still at
// expectedVersion; otherwise it returns ErrVersionConflict and writes nothing.
func (s *GormStore) UpdateProposal(ctx context.Context, p domain.Proposal, expectedVersion int64) error {
	res := s.db.WithContext(ctx).Model(&ProposalModel{}).
		Where("id = ? AND version = ?", p.ID, expectedVersion).
		Updates(map[string]any{
			"status":       string(p.Status),
			"responder_id": p.ResponderID,
			"responded_at": p.RespondedAt,
			"version":      p.Version,
			"updated_at":   time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrVersionConflict
	}
	return nil
}

// ListPendingProposalsBetween returns pending proposals exchanged by the pair in
// either direction, locked for update.
func (s *GormStore) ListPendingProposalsBetween(ctx context.Context, userA, userB string) ([]domain.Proposal, error) {
	var models []ProposalModel
	if err := s.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("status = ? AND ((proposer_id = ? AND recipient_id = ?) OR (proposer_id = ? AND recipient_id = ?))",
			string(domain.ProposalPending), userA, userB, userB, userA).
		Order("created_at ASC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	items := make([]domain.Proposal, 0, len(models))
	for _, m := range models {
		items = append(items, proposalFromModel(m))
	}
	return items, nil
}

func userToModel(u domain.User) UserModel {
	return UserModel{
		ID:           u.ID,
		Name:         u.Name,
		Surname:      u.Surname,
		Email:        strings.TrimSpace(strings.ToLower(u.Email)),
		City:         u.City,
		Age:          u.Age,
		PasswordHash: u.PasswordHash,
		Role:         string(u.Role),
		CreatedAt:    u.CreatedAt,
		UpdatedAt:    time.Now().UTC(),
	}
}

func userFromModel(m UserModel) domain.User {
	return domain.User{
		ID:           m.ID,
		Name:         m.Name,
		Surname:      m.Surname,
		Email:        m.Email,
		City:         m.City,
		Age:          m.Age,
		PasswordHash: m.PasswordHash,
		Role:         domain.ParseUserRole(m.Role),
		CreatedAt:    m.CreatedAt,
	}
}

func bookToModel(b domain.Book) BookModel {
	return BookModel{
		ID:     b.ID,
		Title:  strings.TrimSpace(b.Title),
		Author: b.Author,
		Genre:  b.Genre,
	}
}

func bookFromModel(m BookModel) domain.Book {
	return domain.Book{
		ID:     m.ID,
		Title:  m.Title,
		Author: m.Author,
		Genre:  m.Genre,
	}
}

func personalBookToModel(b domain.PersonalBook) PersonalBookModel {
	var authors []byte
	if len(b.Authors) > 0 {
		authors, _ = json.Marshal(b.Authors)
	}
	source := strings.TrimSpace(b.Source)
	if source == "" {
		source = "manual"
	}
	return PersonalBookModel{
		ID:          b.ID,
		UserID:      b.UserID,
		Title:       strings.TrimSpace(b.Title),
		Authors:     authors,
		CoverURL:    b.CoverURL,
		InfoLink:    b.InfoLink,
		Description: b.Description,
		Source:      source,
		SourceID:    b.SourceID,
		CreatedAt:   b.CreatedAt,
	}
}

func personalBookFromModel(m PersonalBookModel) domain.PersonalBook {
	var authors []string
	if len(m.Authors) > 0 {
		_ = json.Unmarshal(m.Authors, &authors)
	}
	return domain.PersonalBook{
		ID:          m.ID,
		UserID:      m.UserID,
		Title:       m.Title,
		Authors:     authors,
		CoverURL:    m.CoverURL,
		InfoLink:    m.InfoLink,
		Description: m.Description,
		Source:      m.Source,
		SourceID:    m.SourceID,
		CreatedAt:   m.CreatedAt,
	}
}

func empruntToModel(e domain.Emprunt) EmpruntModel {
	var threadKey *string
	if strings.TrimSpace(e.ThreadKey) != "" {
		value := strings.TrimSpace(e.ThreadKey)
		threadKey = &value
	}
	return EmpruntModel{
		ID:        e.ID,
		UserID1:   e.UserID1,
		UserID2:   e.UserID2,
		BookID:    e.BookID,
		ThreadKey: threadKey,
		CreatedAt: e.CreatedAt,
	}
}

func empruntFromModel(m EmpruntModel) domain.Emprunt {
	threadKey := ""
	if m.ThreadKey != nil {
		threadKey = *m.ThreadKey
	}
	return domain.Emprunt{
		ID:        m.ID,
		UserID1:   m.UserID1,
		UserID2:   m.UserID2,
		BookID:    m.BookID,
		ThreadKey: threadKey,
		CreatedAt: m.CreatedAt,
	}
}

func messageToModel(msg domain.Message) (MessageModel, error) {
	var proposalID *string
	if strings.TrimSpace(msg.ProposalID) != "" {
		value := strings.TrimSpace(msg.ProposalID)
		proposalID = &value
	}
	var meta []byte
	if msg.Metadata != nil {
		raw, err := json.Marshal(msg.Metadata)
		if err != nil {
			return MessageModel{}, fmt.Errorf("encode message metadata: %w", err)
		}
		meta = raw
	}
	return MessageModel{
		ID:         msg.ID,
		EmpruntID:  msg.EmpruntID,
		SenderID:   msg.SenderID,
		Text:       msg.Text,
		IsRead:     msg.IsRead,
		Metadata:   meta,
		ProposalID: proposalID,
		CreatedAt:  msg.CreatedAt,
	}, nil
}

func messageFromModel(m MessageModel) (domain.Message, error) {
	proposalID := ""
	if m.ProposalID != nil {
		proposalID = *m.ProposalID
	}
	var meta *domain.MessageMetadata
	if len(m.Metadata) > 0 && string(m.Metadata) != "null" {
		var decoded domain.MessageMetadata
		if err := json.Unmarshal(m.Metadata, &decoded); err != nil {
			return domain.Message{}, fmt.Errorf("decode metadata of message %s: %w", m.ID, err)
		}
		meta = &decoded
	}
	return domain.Message{
		ID:         m.ID,
		EmpruntID:  m.EmpruntID,
		SenderID:   m.SenderID,
		Text:       m.Text,
		IsRead:     m.IsRead,
		Metadata:   meta,
		ProposalID: proposalID,
		CreatedAt:  m.CreatedAt,
	}, nil
}

func proposalToModel(p domain.Proposal) (ProposalModel, error) {
	actions, err := json.Marshal(p.Actions)
	if err != nil {
		return ProposalModel{}, fmt.Errorf("encode proposal actions: %w", err)
	}
	version := p.Version
	if version <= 0 {
		version = 1
	}
	return ProposalModel{
		ID:            p.ID,
		Kind:          string(p.Kind),
		ProposerID:    p.ProposerID,
		ProposerName:  p.ProposerName,
		ProposerEmail: p.ProposerEmail,
		RecipientID:   p.RecipientID,
		BookID:        p.BookID,
		BookTitle:     p.BookTitle,
		Actions:       actions,
		Status:        string(p.Status),
		ResponderID:   p.ResponderID,
		RespondedAt:   p.RespondedAt,
		Version:       version,
		CreatedAt:     p.CreatedAt,
		UpdatedAt:     p.CreatedAt,
	}, nil
}

func proposalFromModel(m ProposalModel) domain.Proposal {
	var actions []string
	if len(m.Actions) > 0 {
		_ = json.Unmarshal(m.Actions, &actions)
	}
	return domain.Proposal{
		ID:            m.ID,
		Kind:          domain.ProposalKind(m.Kind),
		ProposerID:    m.ProposerID,
		ProposerName:  m.ProposerName,
		ProposerEmail: m.ProposerEmail,
		RecipientID:   m.RecipientID,
		BookID:        m.BookID,
		BookTitle:     m.BookTitle,
		Actions:       actions,
		Status:        domain.ProposalStatus(m.Status),
		ResponderID:   m.ResponderID,
		RespondedAt:   m.RespondedAt,
		Version:       m.Version,
		CreatedAt:     m.CreatedAt,
	}
}
