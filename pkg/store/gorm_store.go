package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
	"taletinker/pkg/domain"
)

const migrateLockID int64 = 51835183

// GormStore implements Store using GORM + Postgres.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB and runs auto-migrations.
func NewGormStore(dsn string) (*GormStore, error) {
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := withMigrationLock(db, migrate); err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

func migrate(tx *gorm.DB) error {
	if err := tx.AutoMigrate(
		&UserModel{},
		&LineModel{},
		&LineLikeModel{},
		&StoryModel{},
		&StoryLikeModel{},
		&StoryTextModel{},
		&StoryImageModel{},
		&StoryAudioModel{},
		&PlaylistModel{},
	); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	if err := tx.Exec(`
		DO $$
		BEGIN
			IF NOT EXISTS (
				SELECT 1 FROM information_schema.table_constraints
				WHERE table_schema = 'public'
				AND table_name = 'line_models'
				AND constraint_name = 'line_models_previous_id_fkey'
			) THEN
				ALTER TABLE line_models
				ADD CONSTRAINT line_models_previous_id_fkey
				FOREIGN KEY (previous_id) REFERENCES line_models(id) ON DELETE RESTRICT;
			END IF;
			IF NOT EXISTS (
				SELECT 1 FROM information_schema.table_constraints
				WHERE table_schema = 'public'
				AND table_name = 'story_models'
				AND constraint_name = 'story_models_last_line_id_fkey'
			) THEN
				ALTER TABLE story_models
				ADD CONSTRAINT story_models_last_line_id_fkey
				FOREIGN KEY (last_line_id) REFERENCES line_models(id) ON DELETE RESTRICT;
			END IF;
			IF NOT EXISTS (
				SELECT 1 FROM information_schema.table_constraints
				WHERE table_schema = 'public'
				AND table_name = 'story_text_models'
				AND constraint_name = 'story_text_models_story_id_fkey'
			) THEN
				ALTER TABLE story_text_models
				ADD CONSTRAINT story_text_models_story_id_fkey
				FOREIGN KEY (story_id) REFERENCES story_models(id) ON DELETE CASCADE;
			END IF;
			IF NOT EXISTS (
				SELECT 1 FROM information_schema.table_constraints
				WHERE table_schema = 'public'
				AND table_name = 'story_image_models'
				AND constraint_name = 'story_image_models_story_id_fkey'
			) THEN
				ALTER TABLE story_image_models
				ADD CONSTRAINT story_image_models_story_id_fkey
				FOREIGN KEY (story_id) REFERENCES story_models(id) ON DELETE CASCADE;
			END IF;
			IF NOT EXISTS (
				SELECT 1 FROM information_schema.table_constraints
				WHERE table_schema = 'public'
				AND table_name = 'story_audio_models'
				AND constraint_name = 'story_audio_models_story_id_fkey'
			) THEN
				ALTER TABLE story_audio_models
				ADD CONSTRAINT story_audio_models_story_id_fkey
				FOREIGN KEY (story_id) REFERENCES story_models(id) ON DELETE CASCADE;
			END IF;
		END $$;
	`).Error; err != nil {
		return fmt.Errorf("ensure foreign keys: %w", err)
	}
	return nil
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

func (s *GormStore) conn(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx)
}

// WithTx runs fn inside a database transaction. Nested calls use savepoints.
func (s *GormStore) WithTx(ctx context.Context, fn func(tx Store) error) error {
	return s.conn(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&GormStore{db: tx})
	})
}

// SaveUser registers or refreshes a user profile.
func (s *GormStore) SaveUser(ctx context.Context, u domain.User) error {
	model := userToModel(u)
	return s.conn(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"email", "display_name", "updated_at"}),
	}).Create(&model).Error
}

// GetUsers returns the known users among ids.
func (s *GormStore) GetUsers(ctx context.Context, ids []string) (map[string]domain.User, error) {
	out := make(map[string]domain.User, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var models []UserModel
	if err := s.conn(ctx).Where("id IN ?", ids).Find(&models).Error; err != nil {
		return nil, err
	}
	for _, m := range models {
		out[m.ID] = userFromModel(m)
	}
	return out, nil
}

// FindLine looks a line up by its identity.
func (s *GormStore) FindLine(ctx context.Context, text, previousID string) (domain.Line, bool, error) {
	var model LineModel
	err := s.conn(ctx).
		Where("previous_key = ? AND text_hash = ?", previousID, lineTextHash(text)).
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Line{}, false, nil
		}
		return domain.Line{}, false, err
	}
	return lineFromModel(model), true, nil
}

// CreateLine inserts a line, returning ErrDuplicate if its identity is taken.
func (s *GormStore) CreateLine(ctx context.Context, line domain.Line) error {
	model := lineToModel(line)
	res := s.conn(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "previous_key"}, {Name: "text_hash"}},
		DoNothing: true,
	}).Create(&model)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrDuplicate
	}
	return nil
}

// GetLine returns a line by ID.
func (s *GormStore) GetLine(ctx context.Context, id string) (domain.Line, bool, error) {
	var model LineModel
	if err := s.conn(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Line{}, false, nil
		}
		return domain.Line{}, false, err
	}
	return lineFromModel(model), true, nil
}

// GetLines returns the lines with the given IDs. Missing IDs are absent from the map.
func (s *GormStore) GetLines(ctx context.Context, ids []string) (map[string]domain.Line, error) {
	out := make(map[string]domain.Line, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var models []LineModel
	if err := s.conn(ctx).Where("id IN ?", ids).Find(&models).Error; err != nil {
		return nil, err
	}
	for _, m := range models {
		out[m.ID] = lineFromModel(m)
	}
	return out, nil
}

// CountLines returns the number of lines in the forest.
func (s *GormStore) CountLines(ctx context.Context) (int, error) {
	var count int64
	if err := s.conn(ctx).Model(&LineModel{}).Count(&count).Error; err != nil {
		return 0, err
	}
	return int(count), nil
}

// CountLineChildren returns how many lines point at id.
func (s *GormStore) CountLineChildren(ctx context.Context, id string) (int, error) {
	var count int64
	if err := s.conn(ctx).Model(&LineModel{}).Where("previous_id = ?", id).Count(&count).Error; err != nil {
		return 0, err
	}
	return int(count), nil
}

// ToggleLineLike flips a user's like on a line and returns the new state.
func (s *GormStore) ToggleLineLike(ctx context.Context, lineID, userID string) (bool, int, error) {
	return toggleLike(s.conn(ctx), &LineLikeModel{}, "line_id", lineID, userID, func() any {
		return &LineLikeModel{LineID: lineID, UserID: userID, CreatedAt: time.Now().UTC()}
	})
}

// LineLikes returns like counts for lineIDs and whether userID liked each.
func (s *GormStore) LineLikes(ctx context.Context, lineIDs []string, userID string) (map[string]domain.LikeState, error) {
	out := make(map[string]domain.LikeState, len(lineIDs))
	if len(lineIDs) == 0 {
		return out, nil
	}
	var counts []struct {
		LineID string
		N      int
	}
	db := s.conn(ctx)
	if err := db.Model(&LineLikeModel{}).
		Select("line_id, COUNT(*) AS n").
		Where("line_id IN ?", lineIDs).
		Group("line_id").
		Scan(&counts).Error; err != nil {
		return nil, err
	}
	for _, c := range counts {
		out[c.LineID] = domain.LikeState{LikeCount: c.N}
	}
	if userID == "" {
		return out, nil
	}
	var liked []string
	if err := db.Model(&LineLikeModel{}).
		Where("line_id IN ? AND user_id = ?", lineIDs, userID).
		Pluck("line_id", &liked).Error; err != nil {
		return nil, err
	}
	for _, id := range liked {
		state := out[id]
		state.IsLiked = true
		out[id] = state
	}
	return out, nil
}

// CreateStory inserts a story and assigns its numeric ID.
func (s *GormStore) CreateStory(ctx context.Context, story *domain.Story) error {
	model, err := storyToModel(*story)
	if err != nil {
		return err
	}
	if err := s.conn(ctx).Create(&model).Error; err != nil {
		return err
	}
	story.ID = model.ID
	return nil
}

// GetStoryByUUID returns a story by its public identifier.
func (s *GormStore) GetStoryByUUID(ctx context.Context, uuid string) (domain.Story, bool, error) {
	return s.getStory(ctx, "uuid = ?", uuid)
}

// GetStoryByID returns a story by its numeric ID.
func (s *GormStore) GetStoryByID(ctx context.Context, id int64) (domain.Story, bool, error) {
	return s.getStory(ctx, "id = ?", id)
}

func (s *GormStore) getStory(ctx context.Context, cond string, arg any) (domain.Story, bool, error) {
	var model StoryModel
	if err := s.conn(ctx).First(&model, cond, arg).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Story{}, false, nil
		}
		return domain.Story{}, false, err
	}
	story, err := storyFromModel(model)
	if err != nil {
		return domain.Story{}, false, err
	}
	return story, true, nil
}

// GetStoriesByID returns the stories that still exist among ids.
func (s *GormStore) GetStoriesByID(ctx context.Context, ids []int64) (map[int64]domain.Story, error) {
	out := make(map[int64]domain.Story, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var models []StoryModel
	if err := s.conn(ctx).Where("id IN ?", ids).Find(&models).Error; err != nil {
		return nil, err
	}
	for _, m := range models {
		story, err := storyFromModel(m)
		if err != nil {
			return nil, err
		}
		out[story.ID] = story
	}
	return out, nil
}

// UpdateStoryMeta sets title and/or tagline. Nil fields are left unchanged.
func (s *GormStore) UpdateStoryMeta(ctx context.Context, id int64, title, tagline *string) error {
	updates := map[string]any{"updated_at": time.Now().UTC()}
	if title != nil {
		updates["title"] = *title
	}
	if tagline != nil {
		updates["tagline"] = *tagline
	}
	return s.conn(ctx).Model(&StoryModel{}).Where("id = ?", id).Updates(updates).Error
}

// SetStoryPublished toggles visibility of a story.
func (s *GormStore) SetStoryPublished(ctx context.Context, id int64, published bool) error {
	return s.conn(ctx).Model(&StoryModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"is_published": published,
			"updated_at":   time.Now().UTC(),
		}).Error
}

// DeleteStory removes a story with its likes and assets. Lines stay, since
// other stories may share them.
func (s *GormStore) DeleteStory(ctx context.Context, id int64) error {
	return s.conn(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&StoryLikeModel{}, "story_id = ?", id).Error; err != nil {
			return err
		}
		if err := tx.Delete(&StoryTextModel{}, "story_id = ?", id).Error; err != nil {
			return err
		}
		if err := tx.Delete(&StoryImageModel{}, "story_id = ?", id).Error; err != nil {
			return err
		}
		if err := tx.Delete(&StoryAudioModel{}, "story_id = ?", id).Error; err != nil {
			return err
		}
		return tx.Delete(&StoryModel{}, "id = ?", id).Error
	})
}

// ListStories returns stories matching q, newest first unless sorted by likes.
func (s *GormStore) ListStories(ctx context.Context, q StoryQuery) ([]domain.Story, error) {
	tx := s.conn(ctx).Model(&StoryModel{}).Select("story_models.*")
	if q.PublishedOnly {
		tx = tx.Where("story_models.is_published = ?", true)
	}
	if q.AuthorID != "" {
		tx = tx.Joins("LEFT JOIN line_models tip ON tip.id = story_models.last_line_id").
			Where("(story_models.variant = ? AND tip.author_id = ?) OR (story_models.variant <> ? AND story_models.author_id = ?)",
				string(domain.VariantTree), q.AuthorID, string(domain.VariantTree), q.AuthorID)
	}
	if q.LikedBy != "" {
		tx = tx.Where("EXISTS (SELECT 1 FROM story_like_models sl WHERE sl.story_id = story_models.id AND sl.user_id = ?)", q.LikedBy)
	}
	if q.Age > 0 {
		tx = tx.Where(datatypes.JSONQuery("story_models.parameters").Equals(q.Age, "age"))
	}
	if q.Language != "" {
		tx = tx.Where("EXISTS (SELECT 1 FROM story_text_models st WHERE st.story_id = story_models.id AND st.language = ?)", string(q.Language))
	}
	if search := strings.TrimSpace(q.Search); search != "" {
		tx = tx.Where("story_models.title ILIKE ?", "%"+escapeLike(search)+"%")
	}
	if q.Sort == SortLikes {
		tx = tx.Joins("LEFT JOIN (SELECT story_id, COUNT(*) AS like_count FROM story_like_models GROUP BY story_id) lc ON lc.story_id = story_models.id").
			Order("COALESCE(lc.like_count, 0) DESC")
	}
	tx = tx.Order("story_models.created_at DESC").Order("story_models.id DESC")
	if q.Limit > 0 {
		tx = tx.Limit(q.Limit)
	}
	if q.Offset > 0 {
		tx = tx.Offset(q.Offset)
	}
	var models []StoryModel
	if err := tx.Find(&models).Error; err != nil {
		return nil, err
	}
	items := make([]domain.Story, 0, len(models))
	for _, m := range models {
		story, err := storyFromModel(m)
		if err != nil {
			return nil, err
		}
		items = append(items, story)
	}
	return items, nil
}

// ToggleStoryLike flips a user's like on a story and returns the new state.
func (s *GormStore) ToggleStoryLike(ctx context.Context, storyID int64, userID string) (bool, int, error) {
	return toggleLike(s.conn(ctx), &StoryLikeModel{}, "story_id", storyID, userID, func() any {
		return &StoryLikeModel{StoryID: storyID, UserID: userID, CreatedAt: time.Now().UTC()}
	})
}

// StoryLikes returns like counts for storyIDs and whether userID liked each.
func (s *GormStore) StoryLikes(ctx context.Context, storyIDs []int64, userID string) (map[int64]domain.LikeState, error) {
	out := make(map[int64]domain.LikeState, len(storyIDs))
	if len(storyIDs) == 0 {
		return out, nil
	}
	var counts []struct {
		StoryID int64
		N       int
	}
	db := s.conn(ctx)
	if err := db.Model(&StoryLikeModel{}).
		Select("story_id, COUNT(*) AS n").
		Where("story_id IN ?", storyIDs).
		Group("story_id").
		Scan(&counts).Error; err != nil {
		return nil, err
	}
	for _, c := range counts {
		out[c.StoryID] = domain.LikeState{LikeCount: c.N}
	}
	if userID == "" {
		return out, nil
	}
	var liked []int64
	if err := db.Model(&StoryLikeModel{}).
		Where("story_id IN ? AND user_id = ?", storyIDs, userID).
		Pluck("story_id", &liked).Error; err != nil {
		return nil, err
	}
	for _, id := range liked {
		state := out[id]
		state.IsLiked = true
		out[id] = state
	}
	return out, nil
}

func toggleLike(db *gorm.DB, model any, column string, key any, userID string, newRow func() any) (bool, int, error) {
	var (
		liked bool
		count int64
	)
	err := db.Transaction(func(tx *gorm.DB) error {
		res := tx.Where(column+" = ? AND user_id = ?", key, userID).Delete(model)
		if res.Error != nil {
			return res.Error
		}
		liked = res.RowsAffected == 0
		if liked {
			if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(newRow()).Error; err != nil {
				return err
			}
		}
		return tx.Model(model).Where(column+" = ?", key).Count(&count).Error
	})
	if err != nil {
		return false, 0, err
	}
	return liked, int(count), nil
}

// ListTexts returns texts per story in creation order.
func (s *GormStore) ListTexts(ctx context.Context, storyIDs []int64) (map[int64][]domain.StoryText, error) {
	out := make(map[int64][]domain.StoryText, len(storyIDs))
	if len(storyIDs) == 0 {
		return out, nil
	}
	var models []StoryTextModel
	if err := s.conn(ctx).Where("story_id IN ?", storyIDs).Order("id ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	for _, m := range models {
		out[m.StoryID] = append(out[m.StoryID], textFromModel(m))
	}
	return out, nil
}

// GetText returns the text of a story in one language.
func (s *GormStore) GetText(ctx context.Context, storyID int64, lang domain.Language) (domain.StoryText, bool, error) {
	var model StoryTextModel
	if err := s.conn(ctx).First(&model, "story_id = ? AND language = ?", storyID, string(lang)).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.StoryText{}, false, nil
		}
		return domain.StoryText{}, false, err
	}
	return textFromModel(model), true, nil
}

// CreateText inserts a text, returning ErrDuplicate when the language exists.
func (s *GormStore) CreateText(ctx context.Context, text *domain.StoryText) error {
	model := textToModel(*text)
	res := s.conn(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "story_id"}, {Name: "language"}},
		DoNothing: true,
	}).Create(&model)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrDuplicate
	}
	text.ID = model.ID
	return nil
}

// ListImages returns images per story in creation order.
func (s *GormStore) ListImages(ctx context.Context, storyIDs []int64) (map[int64][]domain.StoryImage, error) {
	out := make(map[int64][]domain.StoryImage, len(storyIDs))
	if len(storyIDs) == 0 {
		return out, nil
	}
	var models []StoryImageModel
	if err := s.conn(ctx).Where("story_id IN ?", storyIDs).Order("id ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	for _, m := range models {
		out[m.StoryID] = append(out[m.StoryID], imageFromModel(m))
	}
	return out, nil
}

// CreateImage records a generated image.
func (s *GormStore) CreateImage(ctx context.Context, image *domain.StoryImage) error {
	model := imageToModel(*image)
	if err := s.conn(ctx).Create(&model).Error; err != nil {
		return err
	}
	image.ID = model.ID
	return nil
}

// ListAudio returns audio per story in creation order.
func (s *GormStore) ListAudio(ctx context.Context, storyIDs []int64) (map[int64][]domain.StoryAudio, error) {
	out := make(map[int64][]domain.StoryAudio, len(storyIDs))
	if len(storyIDs) == 0 {
		return out, nil
	}
	var models []StoryAudioModel
	if err := s.conn(ctx).Where("story_id IN ?", storyIDs).Order("id ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	for _, m := range models {
		out[m.StoryID] = append(out[m.StoryID], audioFromModel(m))
	}
	return out, nil
}

// GetAudio returns the narration of a story in one language.
func (s *GormStore) GetAudio(ctx context.Context, storyID int64, lang domain.Language) (domain.StoryAudio, bool, error) {
	var model StoryAudioModel
	if err := s.conn(ctx).First(&model, "story_id = ? AND language = ?", storyID, string(lang)).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.StoryAudio{}, false, nil
		}
		return domain.StoryAudio{}, false, err
	}
	return audioFromModel(model), true, nil
}

// CreateAudio inserts a narration, returning ErrDuplicate when the language exists.
func (s *GormStore) CreateAudio(ctx context.Context, audio *domain.StoryAudio) error {
	model := audioToModel(*audio)
	res := s.conn(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "story_id"}, {Name: "language"}},
		DoNothing: true,
	}).Create(&model)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrDuplicate
	}
	audio.ID = model.ID
	return nil
}

// GetPlaylist returns a user's playlist.
func (s *GormStore) GetPlaylist(ctx context.Context, userID string) (domain.Playlist, bool, error) {
	var model PlaylistModel
	if err := s.conn(ctx).First(&model, "user_id = ?", userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Playlist{}, false, nil
		}
		return domain.Playlist{}, false, err
	}
	p, err := playlistFromModel(model)
	if err != nil {
		return domain.Playlist{}, false, err
	}
	return p, true, nil
}

// SavePlaylist stores or replaces a user's playlist.
func (s *GormStore) SavePlaylist(ctx context.Context, p domain.Playlist) error {
	model, err := playlistToModel(p)
	if err != nil {
		return err
	}
	return s.conn(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"entries", "order_ids", "updated_at"}),
	}).Create(&model).Error
}

func lineTextHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

func optionalString(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

func derefString(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

func userToModel(u domain.User) UserModel {
	return UserModel{
		ID:          u.ID,
		Email:       u.Email,
		DisplayName: u.DisplayName,
		CreatedAt:   u.CreatedAt,
		UpdatedAt:   u.UpdatedAt,
	}
}

func userFromModel(m UserModel) domain.User {
	return domain.User{
		ID:          m.ID,
		Email:       m.Email,
		DisplayName: m.DisplayName,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
}

func lineToModel(l domain.Line) LineModel {
	return LineModel{
		ID:          l.ID,
		Text:        l.Text,
		TextHash:    lineTextHash(l.Text),
		PreviousKey: l.PreviousID,
		PreviousID:  optionalString(l.PreviousID),
		AuthorID:    optionalString(l.AuthorID),
		IsManual:    l.IsManual,
		CreatedAt:   l.CreatedAt,
	}
}

func lineFromModel(m LineModel) domain.Line {
	return domain.Line{
		ID:         m.ID,
		Text:       m.Text,
		PreviousID: derefString(m.PreviousID),
		AuthorID:   derefString(m.AuthorID),
		IsManual:   m.IsManual,
		CreatedAt:  m.CreatedAt,
	}
}

func storyToModel(s domain.Story) (StoryModel, error) {
	var params datatypes.JSON
	if s.Parameters != nil {
		raw, err := json.Marshal(s.Parameters)
		if err != nil {
			return StoryModel{}, fmt.Errorf("encode story parameters: %w", err)
		}
		params = datatypes.JSON(raw)
	}
	return StoryModel{
		ID:               s.ID,
		UUID:             s.UUID,
		Title:            s.Title,
		Tagline:          s.Tagline,
		LastLineID:       optionalString(s.LastLineID),
		AuthorID:         optionalString(s.AuthorID),
		Variant:          string(s.Variant),
		Parameters:       params,
		Prompt:           s.Prompt,
		OriginalLanguage: string(s.OriginalLanguage),
		IsPublished:      s.IsPublished,
		CreatedAt:        s.CreatedAt,
		UpdatedAt:        s.UpdatedAt,
	}, nil
}

func storyFromModel(m StoryModel) (domain.Story, error) {
	story := domain.Story{
		ID:               m.ID,
		UUID:             m.UUID,
		Title:            m.Title,
		Tagline:          m.Tagline,
		LastLineID:       derefString(m.LastLineID),
		AuthorID:         derefString(m.AuthorID),
		Variant:          domain.StoryVariant(m.Variant),
		Prompt:           m.Prompt,
		OriginalLanguage: domain.Language(m.OriginalLanguage),
		IsPublished:      m.IsPublished,
		CreatedAt:        m.CreatedAt,
		UpdatedAt:        m.UpdatedAt,
	}
	if len(m.Parameters) > 0 && string(m.Parameters) != "null" {
		var params domain.StoryParams
		if err := json.Unmarshal(m.Parameters, &params); err != nil {
			return domain.Story{}, fmt.Errorf("decode parameters of story %d: %w", m.ID, err)
		}
		story.Parameters = &params
	}
	return story, nil
}

func textToModel(t domain.StoryText) StoryTextModel {
	return StoryTextModel{
		ID:        t.ID,
		StoryID:   t.StoryID,
		Language:  string(t.Language),
		Title:     t.Title,
		Text:      t.Text,
		CreatedAt: t.CreatedAt,
	}
}

func textFromModel(m StoryTextModel) domain.StoryText {
	return domain.StoryText{
		ID:        m.ID,
		StoryID:   m.StoryID,
		Language:  domain.Language(m.Language),
		Title:     m.Title,
		Text:      m.Text,
		CreatedAt: m.CreatedAt,
	}
}

func imageToModel(i domain.StoryImage) StoryImageModel {
	return StoryImageModel{
		ID:              i.ID,
		StoryID:         i.StoryID,
		ImageKey:        i.ImageKey,
		ThumbnailKey:    i.ThumbnailKey,
		Width:           i.Width,
		Height:          i.Height,
		ThumbnailWidth:  i.ThumbnailWidth,
		ThumbnailHeight: i.ThumbnailHeight,
		CreatedAt:       i.CreatedAt,
	}
}

func imageFromModel(m StoryImageModel) domain.StoryImage {
	return domain.StoryImage{
		ID:              m.ID,
		StoryID:         m.StoryID,
		ImageKey:        m.ImageKey,
		ThumbnailKey:    m.ThumbnailKey,
		Width:           m.Width,
		Height:          m.Height,
		ThumbnailWidth:  m.ThumbnailWidth,
		ThumbnailHeight: m.ThumbnailHeight,
		CreatedAt:       m.CreatedAt,
	}
}

func audioToModel(a domain.StoryAudio) StoryAudioModel {
	return StoryAudioModel{
		ID:        a.ID,
		StoryID:   a.StoryID,
		Language:  string(a.Language),
		Voice:     a.Voice,
		AudioKey:  a.AudioKey,
		CreatedAt: a.CreatedAt,
	}
}

func audioFromModel(m StoryAudioModel) domain.StoryAudio {
	return domain.StoryAudio{
		ID:        m.ID,
		StoryID:   m.StoryID,
		Language:  domain.Language(m.Language),
		Voice:     m.Voice,
		AudioKey:  m.AudioKey,
		CreatedAt: m.CreatedAt,
	}
}

func playlistToModel(p domain.Playlist) (PlaylistModel, error) {
	entries, err := json.Marshal(p.Entries)
	if err != nil {
		return PlaylistModel{}, fmt.Errorf("encode playlist entries: %w", err)
	}
	order, err := json.Marshal(p.Order)
	if err != nil {
		return PlaylistModel{}, fmt.Errorf("encode playlist order: %w", err)
	}
	return PlaylistModel{
		UserID:    p.UserID,
		Entries:   datatypes.JSON(entries),
		OrderIDs:  datatypes.JSON(order),
		UpdatedAt: p.UpdatedAt,
	}, nil
}

func playlistFromModel(m PlaylistModel) (domain.Playlist, error) {
	p := domain.Playlist{UserID: m.UserID, UpdatedAt: m.UpdatedAt}
	if len(m.Entries) > 0 {
		if err := json.Unmarshal(m.Entries, &p.Entries); err != nil {
			return domain.Playlist{}, fmt.Errorf("decode playlist entries: %w", err)
		}
	}
	if len(m.OrderIDs) > 0 {
		if err := json.Unmarshal(m.OrderIDs, &p.Order); err != nil {
			return domain.Playlist{}, fmt.Errorf("decode playlist order: %w", err)
		}
	}
	return p, nil
}
