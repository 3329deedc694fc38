package entry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

const dateFormat = "2006-01-02"

// ErrDuplicateChildDate is returned by Store when a child already exists for
// the same (parent, date) pair. The partial unique index on
// (parent_id, entry_date) is the last line of defense against two concurrent
// catch-up runs generating the same occurrence.
var ErrDuplicateChildDate = errors.New("child entry already exists for this date")

// RecurrenceStateUpdate is a scoped update of recurrence bookkeeping fields.
// Nil fields are left untouched; domain fields are never modified this way.
type RecurrenceStateUpdate struct {
	LastGeneratedAt *time.Time
	Active          *bool
}

type Repo interface {
	// Store persists a new entry and returns its id. Storing a child for an
	// occurrence date that already exists fails with ErrDuplicateChildDate.
	Store(ctx context.Context, e Entry) (int64, error)
	FindByID(ctx context.Context, userID int, id int64) (*Entry, error)
	FindAll(ctx context.Context, userID int, kind Kind) ([]Entry, error)
	FindChildren(ctx context.Context, parentID int64) ([]Entry, error)
	// FindActiveRecurringParents returns every entry with a recurrence that
	// is still active, across all users. Used by the periodic sweep.
	FindActiveRecurringParents(ctx context.Context) ([]Entry, error)
	UpdateRecurrenceState(ctx context.Context, id int64, update RecurrenceStateUpdate) (bool, error)
	Update(ctx context.Context, userID int, e Entry) (bool, error)
	Delete(ctx context.Context, userID int, id int64) (bool, error)
}

type RepoImpl struct {
	db *sql.DB
}

func NewRepo(db *sql.DB) *RepoImpl {
	return &RepoImpl{db: db}
}

const entryColumns = `id, uid, user_id, kind, entry_date, item, amount_cents, category_id, source,
		description, is_recurring, recurring_frequency, recurring_end_date, parent_id,
		is_recurring_active, last_generated_at`

func (r RepoImpl) Store(ctx context.Context, e Entry) (int64, error) {
	query := `INSERT INTO entries (
					uid,
					user_id,
					kind,
					entry_date,
					item,
					amount_cents,
					category_id,
					source,
					description,
					is_recurring,
					recurring_frequency,
					recurring_end_date,
					parent_id,
					is_recurring_active,
					last_generated_at
				) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	stmt, err := r.db.PrepareContext(ctx, query)
	if err != nil {
		err := fmt.Errorf("could not prepare query: %w", err)
		log.Error(err)
		return 0, err
	}
	defer stmt.Close()

	var (
		isRecurring     bool
		frequency       interface{}
		endDate         interface{}
		active          bool
		lastGeneratedAt interface{}
	)
	if e.Recurrence != nil {
		isRecurring = true
		frequency = string(e.Recurrence.Frequency)
		active = e.Recurrence.Active
		if !e.Recurrence.EndDate.IsZero() {
			endDate = e.Recurrence.EndDate.Format(dateFormat)
		}
		if !e.Recurrence.LastGeneratedAt.IsZero() {
			lastGeneratedAt = e.Recurrence.LastGeneratedAt.Format(dateFormat)
		}
	}
	var parentID interface{}
	if e.ParentID != nil {
		parentID = *e.ParentID
	}
	var categoryID interface{}
	if e.CategoryID != nil {
		categoryID = *e.CategoryID
	}

	result, err := stmt.ExecContext(ctx,
		e.UID,
		e.UserID,
		string(e.Kind),
		e.Date.Format(dateFormat),
		e.Item,
		e.AmountCents,
		categoryID,
		e.Source,
		e.Description,
		isRecurring,
		frequency,
		endDate,
		parentID,
		active,
		lastGeneratedAt,
	)
	if err != nil {
		if isUniqueViolation(err) && e.ParentID != nil {
			return 0, ErrDuplicateChildDate
		}
		err := fmt.Errorf("could not execute query: %w", err)
		log.Error(err)
		return 0, err
	}

	lastInsertID, err := result.LastInsertId()
	if err != nil {
		err := fmt.Errorf("could not retrieve last insert id: %w", err)
		log.Error(err)
		return 0, err
	}

	return lastInsertID, nil
}

func (r RepoImpl) FindByID(ctx context.Context, userID int, id int64) (*Entry, error) {
	query := fmt.Sprintf("SELECT %s FROM entries WHERE id = ? AND user_id = ?", entryColumns)
	row := r.db.QueryRowContext(ctx, query, id, userID)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		err := fmt.Errorf("could not scan entry: %w", err)
		log.Error(err)
		return nil, err
	}
	return &e, nil
}

func (r RepoImpl) FindAll(ctx context.Context, userID int, kind Kind) ([]Entry, error) {
	query := fmt.Sprintf("SELECT %s FROM entries WHERE user_id = ? AND kind = ? ORDER BY entry_date DESC, id DESC", entryColumns)
	rows, err := r.db.QueryContext(ctx, query, userID, string(kind))
	if err != nil {
		err := fmt.Errorf("could not query entries: %w", err)
		log.Error(err)
		return nil, err
	}
	defer rows.Close()
	return collectEntries(rows)
}

func (r RepoImpl) FindChildren(ctx context.Context, parentID int64) ([]Entry, error) {
	query := fmt.Sprintf("SELECT %s FROM entries WHERE parent_id = ? ORDER BY entry_date", entryColumns)
	rows, err := r.db.QueryContext(ctx, query, parentID)
	if err != nil {
		err := fmt.Errorf("could not query child entries: %w", err)
		log.Error(err)
		return nil, err
	}
	defer rows.Close()
	return collectEntries(rows)
}

func (r RepoImpl) FindActiveRecurringParents(ctx context.Context) ([]Entry, error) {
	query := fmt.Sprintf(`SELECT %s FROM entries
		WHERE is_recurring = TRUE AND is_recurring_active = TRUE AND parent_id IS NULL
		ORDER BY id`, entryColumns)
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		err := fmt.Errorf("could not query recurring parents: %w", err)
		log.Error(err)
		return nil, err
	}
	defer rows.Close()
	return collectEntries(rows)
}

// UpdateRecurrenceState touches only the recurrence bookkeeping columns.
// The watermark update is monotonic: a stale writer can never move
// last_generated_at backwards.
func (r RepoImpl) UpdateRecurrenceState(ctx context.Context, id int64, update RecurrenceStateUpdate) (bool, error) {
	query := "UPDATE entries SET "
	args := make([]interface{}, 0, 3)
	if update.LastGeneratedAt != nil {
		watermark := update.LastGeneratedAt.Format(dateFormat)
		query += `last_generated_at = CASE
			WHEN last_generated_at IS NULL OR last_generated_at < ? THEN ?
			ELSE last_generated_at END`
		args = append(args, watermark, watermark)
	}
	if update.Active != nil {
		if update.LastGeneratedAt != nil {
			query += ", "
		}
		query += "is_recurring_active = ?"
		args = append(args, *update.Active)
	}
	if len(args) == 0 {
		return false, nil
	}
	query += " WHERE id = ? AND is_recurring = TRUE AND parent_id IS NULL"
	args = append(args, id)

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		err := fmt.Errorf("could not update recurrence state: %w", err)
		log.Error(err)
		return false, err
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		err := fmt.Errorf("could not get rows affected: %w", err)
		log.Error(err)
		return false, err
	}
	return rowsAffected == 1, nil
}

func (r RepoImpl) Update(ctx context.Context, userID int, e Entry) (bool, error) {
	query := `UPDATE entries SET
				entry_date = ?,
				item = ?,
				amount_cents = ?,
				category_id = ?,
				source = ?,
				description = ?,
				is_recurring = ?,
				recurring_frequency = ?,
				recurring_end_date = ?,
				is_recurring_active = ?,
				last_generated_at = ?
			WHERE id = ? AND user_id = ?`
	stmt, err := r.db.PrepareContext(ctx, query)
	if err != nil {
		err := fmt.Errorf("could not prepare query: %w", err)
		log.Error(err)
		return false, err
	}
	defer stmt.Close()

	var (
		isRecurring     bool
		frequency       interface{}
		endDate         interface{}
		active          bool
		lastGeneratedAt interface{}
	)
	if e.Recurrence != nil {
		isRecurring = true
		frequency = string(e.Recurrence.Frequency)
		active = e.Recurrence.Active
		if !e.Recurrence.EndDate.IsZero() {
			endDate = e.Recurrence.EndDate.Format(dateFormat)
		}
		if !e.Recurrence.LastGeneratedAt.IsZero() {
			lastGeneratedAt = e.Recurrence.LastGeneratedAt.Format(dateFormat)
		}
	}
	var categoryID interface{}
	if e.CategoryID != nil {
		categoryID = *e.CategoryID
	}

	result, err := stmt.ExecContext(ctx,
		e.Date.Format(dateFormat),
		e.Item,
		e.AmountCents,
		categoryID,
		e.Source,
		e.Description,
		isRecurring,
		frequency,
		endDate,
		active,
		lastGeneratedAt,
		e.ID,
		userID,
	)
	if err != nil {
		err := fmt.Errorf("could not execute query: %w", err)
		log.Error(err)
		return false, err
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		err := fmt.Errorf("could not get rows affected: %w", err)
		log.Error(err)
		return false, err
	}
	return rowsAffected == 1, nil
}

func (r RepoImpl) Delete(ctx context.Context, userID int, id int64) (bool, error) {
	query := "DELETE FROM entries WHERE id = ? AND user_id = ?"
	result, err := r.db.ExecContext(ctx, query, id, userID)
	if err != nil {
		err := fmt.Errorf("could not execute query: %w", err)
		log.Error(err)
		return false, err
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		err := fmt.Errorf("could not get rows affected: %w", err)
		log.Error(err)
		return false, err
	}
	return rowsAffected == 1, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanEntry maps one flat row back into the discriminated domain shape:
// a parent gets its Recurrence populated, a child gets its ParentID.
func scanEntry(row rowScanner) (Entry, error) {
	var (
		e               Entry
		dateString      string
		categoryID      sql.NullInt64
		source          sql.NullString
		description     sql.NullString
		isRecurring     bool
		frequency       sql.NullString
		endDate         sql.NullString
		parentID        sql.NullInt64
		active          bool
		lastGeneratedAt sql.NullString
	)
	if err := row.Scan(
		&e.ID,
		&e.UID,
		&e.UserID,
		&e.Kind,
		&dateString,
		&e.Item,
		&e.AmountCents,
		&categoryID,
		&source,
		&description,
		&isRecurring,
		&frequency,
		&endDate,
		&parentID,
		&active,
		&lastGeneratedAt,
	); err != nil {
		return Entry{}, err
	}

	date, err := time.Parse(dateFormat, dateString)
	if err != nil {
		return Entry{}, fmt.Errorf("could not parse entry date: %w", err)
	}
	e.Date = date
	if categoryID.Valid {
		id := categoryID.Int64
		e.CategoryID = &id
	}
	e.Source = source.String
	e.Description = description.String
	if parentID.Valid {
		id := parentID.Int64
		e.ParentID = &id
	}
	if isRecurring {
		rec := &Recurrence{
			Frequency: Frequency(frequency.String),
			Active:    active,
		}
		if endDate.Valid {
			d, err := time.Parse(dateFormat, endDate.String)
			if err != nil {
				return Entry{}, fmt.Errorf("could not parse recurring end date: %w", err)
			}
			rec.EndDate = d
		}
		if lastGeneratedAt.Valid {
			d, err := time.Parse(dateFormat, lastGeneratedAt.String)
			if err != nil {
				return Entry{}, fmt.Errorf("could not parse last generated date: %w", err)
			}
			rec.LastGeneratedAt = d
		}
		e.Recurrence = rec
	}
	return e, nil
}

func collectEntries(rows *sql.Rows) ([]Entry, error) {
	var entries []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			err := fmt.Errorf("could not scan entry: %w", err)
			log.Error(err)
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		err := fmt.Errorf("error iterating over rows: %w", err)
		log.Error(err)
		return nil, err
	}
	return entries, nil
}

// isUniqueViolation reports whether err is a sqlite unique-index failure.
// During generation the only unique index a child insert can hit is the
// (parent_id, entry_date) guard.
func isUniqueViolation(err error) bool {
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE ||
			sqliteErr.Code() == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
	}
	return false
}
