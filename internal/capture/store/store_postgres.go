package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"idproof/internal/capture/models"
	"idproof/internal/docauth"
	id "idproof/pkg/domain"
	"idproof/pkg/platform/sentinel"
	txcontext "idproof/pkg/platform/tx"
)

const uniqueViolation = "23505"

// PostgresStore persists sessions in the capture_sessions table.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *PostgresStore) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

const columns = `id, user_id, flow_id, id_type, selfie_required, vendor, token,
	capture_app_url, capture_app_url_at, requested_at, received_at, completed_at,
	result, reasons, vendor_codes, fields, processed_events, transport_error,
	superseded, version`

// Create supersedes the flow's active sessions and inserts s in one
// transaction, joining an ambient one when present.
func (s *PostgresStore) Create(ctx context.Context, session *models.CaptureSession) error {
	return s.inTx(ctx, func(ctx context.Context) error {
		_, err := s.execer(ctx).ExecContext(ctx, `
			UPDATE capture_sessions SET superseded = TRUE, version = version + 1
			WHERE user_id = $1 AND flow_id = $2 AND NOT superseded`,
			uuid.UUID(session.UserID), uuid.UUID(session.FlowID))
		if err != nil {
			return fmt.Errorf("supersede capture sessions: %w", err)
		}

		row, err := toRow(session)
		if err != nil {
			return err
		}
		_, err = s.execer(ctx).ExecContext(ctx, `
			INSERT INTO capture_sessions (`+columns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, 1)`,
			row.args()...)
		if err != nil {
			return translate(err, "insert capture session")
		}
		session.Version = 1
		return nil
	})
}

func (s *PostgresStore) Get(ctx context.Context, sessionID id.CaptureSessionID) (*models.CaptureSession, error) {
	return s.scanOne(ctx, `SELECT `+columns+` FROM capture_sessions WHERE id = $1`, uuid.UUID(sessionID))
}

func (s *PostgresStore) FindByToken(ctx context.Context, vendor, token string) (*models.CaptureSession, error) {
	if token == "" {
		return nil, sentinel.ErrNotFound
	}
	return s.scanOne(ctx, `SELECT `+columns+` FROM capture_sessions WHERE vendor = $1 AND token = $2`, vendor, token)
}

func (s *PostgresStore) ActiveForFlow(ctx context.Context, userID id.UserID, flowID id.FlowID) (*models.CaptureSession, error) {
	return s.scanOne(ctx, `
		SELECT `+columns+` FROM capture_sessions
		WHERE user_id = $1 AND flow_id = $2 AND NOT superseded
		ORDER BY requested_at DESC LIMIT 1`,
		uuid.UUID(userID), uuid.UUID(flowID))
}

// Save is a version compare-and-swap. Zero affected rows means either the
// row is gone or another writer won.
func (s *PostgresStore) Save(ctx context.Context, session *models.CaptureSession) error {
	row, err := toRow(session)
	if err != nil {
		return err
	}
	res, err := s.execer(ctx).ExecContext(ctx, `
		UPDATE capture_sessions SET
			token = $3, capture_app_url = $4, capture_app_url_at = $5,
			received_at = $6, completed_at = $7, result = $8, reasons = $9,
			vendor_codes = $10, fields = $11, processed_events = $12,
			transport_error = $13, superseded = $14, version = version + 1
		WHERE id = $1 AND version = $2`,
		row.id, session.Version,
		row.token, row.url, row.urlAt,
		row.receivedAt, row.completedAt, row.result, string(row.reasons),
		string(row.codes), row.fieldsArg(), string(row.processed),
		row.transport, row.superseded,
	)
	if err != nil {
		return translate(err, "update capture session")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update capture session: %w", err)
	}
	if n == 0 {
		var exists bool
		if err := s.execer(ctx).QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM capture_sessions WHERE id = $1)`, uuid.UUID(session.ID)).Scan(&exists); err != nil {
			return fmt.Errorf("check capture session: %w", err)
		}
		if !exists {
			return sentinel.ErrNotFound
		}
		return sentinel.ErrStale
	}
	session.Version++
	return nil
}

func (s *PostgresStore) inTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := txcontext.From(ctx); ok {
		return fn(ctx)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin capture tx: %w", err)
	}
	if err := fn(txcontext.WithTx(ctx, tx)); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit capture tx: %w", err)
	}
	return nil
}

func (s *PostgresStore) scanOne(ctx context.Context, query string, args ...any) (*models.CaptureSession, error) {
	var (
		r          row
		sessionID  uuid.UUID
		userID     uuid.UUID
		flowID     uuid.UUID
		token      sql.NullString
		urlAt      sql.NullTime
		receivedAt sql.NullTime
		completed  sql.NullTime
		fields     []byte
	)
	err := s.execer(ctx).QueryRowContext(ctx, query, args...).Scan(
		&sessionID, &userID, &flowID, &r.idType, &r.selfie, &r.vendor, &token,
		&r.url, &urlAt, &r.requestedAt, &receivedAt, &completed,
		&r.result, &r.reasons, &r.codes, &fields, &r.processed, &r.transport,
		&r.superseded, &r.version,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select capture session: %w", err)
	}

	session := &models.CaptureSession{
		ID:              id.CaptureSessionID(sessionID),
		UserID:          id.UserID(userID),
		FlowID:          id.FlowID(flowID),
		IDType:          docauth.IDType(r.idType),
		SelfieRequired:  r.selfie,
		Vendor:          r.vendor,
		Token:           token.String,
		CaptureAppURL:   r.url,
		CaptureAppURLAt: nullTime(urlAt),
		RequestedAt:     r.requestedAt,
		ReceivedAt:      nullTime(receivedAt),
		CompletedAt:     nullTime(completed),
		Result:          docauth.Result(r.result),
		TransportError:  r.transport,
		Superseded:      r.superseded,
		Version:         r.version,
	}
	var reasons []string
	if err := json.Unmarshal(r.reasons, &reasons); err != nil {
		return nil, fmt.Errorf("decode reasons: %w", err)
	}
	session.Reasons = docauth.ParseReasons(reasons)
	if err := json.Unmarshal(r.codes, &session.VendorCodes); err != nil {
		return nil, fmt.Errorf("decode vendor codes: %w", err)
	}
	if err := json.Unmarshal(r.processed, &session.ProcessedEvents); err != nil {
		return nil, fmt.Errorf("decode processed events: %w", err)
	}
	if len(fields) > 0 {
		session.Fields = &docauth.Fields{}
		if err := json.Unmarshal(fields, session.Fields); err != nil {
			return nil, fmt.Errorf("decode fields: %w", err)
		}
	}
	return session, nil
}

// row is the column encoding of a session, in column order.
type row struct {
	id             uuid.UUID
	userID, flowID uuid.UUID
	idType         string
	selfie         bool
	vendor         string
	token          sql.NullString
	url            string
	urlAt          sql.NullTime
	requestedAt    time.Time
	receivedAt     sql.NullTime
	completedAt    sql.NullTime
	result         string
	reasons        []byte
	codes          []byte
	fields         []byte
	processed      []byte
	transport      bool
	superseded     bool
	version        int64
}

func toRow(s *models.CaptureSession) (row, error) {
	r := row{
		id:          uuid.UUID(s.ID),
		userID:      uuid.UUID(s.UserID),
		flowID:      uuid.UUID(s.FlowID),
		idType:      s.IDType.String(),
		selfie:      s.SelfieRequired,
		vendor:      s.Vendor,
		token:       sql.NullString{String: s.Token, Valid: s.Token != ""},
		url:         s.CaptureAppURL,
		urlAt:       toNullTime(s.CaptureAppURLAt),
		requestedAt: s.RequestedAt,
		receivedAt:  toNullTime(s.ReceivedAt),
		completedAt: toNullTime(s.CompletedAt),
		result:      string(s.Result),
		transport:   s.TransportError,
		superseded:  s.Superseded,
	}
	var err error
	if r.reasons, err = jsonArray(docauth.ReasonStrings(s.Reasons)); err != nil {
		return row{}, err
	}
	if r.codes, err = jsonArray(s.VendorCodes); err != nil {
		return row{}, err
	}
	if r.processed, err = jsonArray(s.ProcessedEvents); err != nil {
		return row{}, err
	}
	if s.Fields != nil {
		if r.fields, err = json.Marshal(s.Fields); err != nil {
			return row{}, fmt.Errorf("encode fields: %w", err)
		}
	}
	return r, nil
}

// args returns insert parameters. JSONB values are sent as text since lib/pq
// encodes []byte as bytea.
func (r row) args() []any {
	return []any{
		r.id, r.userID, r.flowID, r.idType, r.selfie, r.vendor, r.token,
		r.url, r.urlAt, r.requestedAt, r.receivedAt, r.completedAt,
		r.result, string(r.reasons), string(r.codes), r.fieldsArg(), string(r.processed), r.transport,
		r.superseded,
	}
}

func (r row) fieldsArg() any {
	if r.fields == nil {
		return nil
	}
	return string(r.fields)
}

func jsonArray(values []string) ([]byte, error) {
	if values == nil {
		values = []string{}
	}
	b, err := json.Marshal(values)
	if err != nil {
		return nil, fmt.Errorf("encode json array: %w", err)
	}
	return b, nil
}

func toNullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func nullTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func translate(err error, op string) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return fmt.Errorf("%s: %w", op, sentinel.ErrConflict)
	}
	return fmt.Errorf("%s: %w", op, err)
}
