package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/docchat/backend/internal/ragerr"
	"github.com/docchat/backend/internal/storage/models"
	"github.com/docchat/backend/pkg/logger"
)

// RawFiles resolves a stored file URL to its bytes.
type RawFiles interface {
	Load(ctx context.Context, URL string) ([]byte, error)
}

type Client struct {
	db  *sql.DB
	raw RawFiles
}

func NewClient(dbPath string, raw RawFiles) (*Client, error) {
	dsn := dbPath + "?_foreign_keys=on&_busy_timeout=5000&_txlock=immediate"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if strings.HasPrefix(dbPath, ":memory:") {
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	logger.Info("SQLite client initialized", zap.String("path", dbPath))

	return &Client{db: db, raw: raw}, nil
}

func (c *Client) Close() error {
	return c.db.Close()
}

func (c *Client) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

func (c *Client) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS documents (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL DEFAULT '',
		filename TEXT NOT NULL,
		mime_type TEXT NOT NULL,
		size_bytes INTEGER NOT NULL,
		file_url TEXT NOT NULL,
		page_count INTEGER NOT NULL,
		chunk_count INTEGER NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_documents_user ON documents(user_id);
	CREATE INDEX IF NOT EXISTS idx_documents_created ON documents(created_at);

	CREATE TABLE IF NOT EXISTS document_chunks (
		id TEXT PRIMARY KEY,
		doc_id TEXT NOT NULL,
		chunk_index INTEGER NOT NULL,
		page_number INTEGER NOT NULL,
		source_id TEXT NOT NULL DEFAULT '',
		text TEXT NOT NULL,
		FOREIGN KEY (doc_id) REFERENCES documents(id) ON DELETE CASCADE
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_chunks_doc ON document_chunks(doc_id, chunk_index);

	CREATE TABLE IF NOT EXISTS chat_turns (
		id TEXT PRIMARY KEY,
		doc_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		source_pages TEXT,
		sources TEXT,
		created_at INTEGER NOT NULL,
		FOREIGN KEY (doc_id) REFERENCES documents(id) ON DELETE CASCADE
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_turns_doc_seq ON chat_turns(doc_id, seq);
	`

	if _, err := c.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info("SQLite schema initialized")
	return nil
}

// InsertDocument stores the document row and its chunks atomically.
func (c *Client) InsertDocument(ctx context.Context, doc *models.Document, chunks []models.DocumentChunk) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO documents (id, user_id, filename, mime_type, size_bytes, file_url, page_count, chunk_count, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		doc.ID,
		doc.UserID,
		doc.Filename,
		doc.MIMEType,
		doc.SizeBytes,
		doc.FileURL,
		doc.PageCount,
		doc.ChunkCount,
		doc.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert document: %w", err)
	}

	if err := insertChunks(ctx, tx, doc.ID, chunks); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit document: %w", err)
	}

	logger.Debug("Document inserted", zap.String("doc_id", doc.ID), zap.Int("chunks", len(chunks)))
	return nil
}

func insertChunks(ctx context.Context, tx *sql.Tx, docID string, chunks []models.DocumentChunk) error {
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO document_chunks (id, doc_id, chunk_index, page_number, source_id, text)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare chunk insert: %w", err)
	}
	defer stmt.Close()

	for _, chunk := range chunks {
		if _, err := stmt.ExecContext(ctx, chunk.ID, docID, chunk.ChunkIndex, chunk.PageNumber, chunk.SourceID, chunk.Text); err != nil {
			return fmt.Errorf("failed to insert chunk %d: %w", chunk.ChunkIndex, err)
		}
	}
	return nil
}

const documentColumns = `id, user_id, filename, mime_type, size_bytes, file_url, page_count, chunk_count, created_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanDocument(row scanner) (*models.Document, error) {
	var doc models.Document
	var createdAt int64
	err := row.Scan(
		&doc.ID,
		&doc.UserID,
		&doc.Filename,
		&doc.MIMEType,
		&doc.SizeBytes,
		&doc.FileURL,
		&doc.PageCount,
		&doc.ChunkCount,
		&createdAt,
	)
	if err != nil {
		return nil, err
	}
	doc.CreatedAt = time.UnixMilli(createdAt).UTC()
	return &doc, nil
}

func (c *Client) GetDocument(ctx context.Context, id string) (*models.Document, error) {
	row := c.db.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE id = ?`, id)
	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ragerr.New(ragerr.ErrNotFound, "document %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get document: %w", err)
	}
	return doc, nil
}

// ListDocuments returns newest first. An empty userID lists every document.
func (c *Client) ListDocuments(ctx context.Context, userID string, limit int) ([]models.Document, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT ` + documentColumns + ` FROM documents`
	args := []any{}
	if userID != "" {
		query += ` WHERE user_id = ?`
		args = append(args, userID)
	}
	query += ` ORDER BY created_at DESC, id LIMIT ?`
	args = append(args, limit)

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	defer rows.Close()

	docs := []models.Document{}
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		docs = append(docs, *doc)
	}
	return docs, rows.Err()
}

// DeleteDocument removes the document with its chunks and chat turns and
// returns the removed row.
func (c *Client) DeleteDocument(ctx context.Context, id string) (*models.Document, error) {
	doc, err := c.GetDocument(ctx, id)
	if err != nil {
		return nil, err
	}

	res, err := c.db.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to delete document: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ragerr.New(ragerr.ErrNotFound, "document %s", id)
	}

	logger.Info("Document deleted", zap.String("doc_id", id))
	return doc, nil
}

// LoadChunks returns the document's chunks in reading order.
func (c *Client) LoadChunks(ctx context.Context, docID string) ([]models.DocumentChunk, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT id, doc_id, chunk_index, page_number, source_id, text
		FROM document_chunks
		WHERE doc_id = ?
		ORDER BY chunk_index`, docID)
	if err != nil {
		return nil, fmt.Errorf("failed to load chunks: %w", err)
	}
	defer rows.Close()

	var chunks []models.DocumentChunk
	for rows.Next() {
		var ch models.DocumentChunk
		if err := rows.Scan(&ch.ID, &ch.DocID, &ch.ChunkIndex, &ch.PageNumber, &ch.SourceID, &ch.Text); err != nil {
			return nil, fmt.Errorf("failed to scan chunk: %w", err)
		}
		chunks = append(chunks, ch)
	}
	return chunks, rows.Err()
}

// ReplaceChunks swaps the document's chunk rows and updates its chunk count.
func (c *Client) ReplaceChunks(ctx context.Context, docID string, chunks []models.DocumentChunk) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM document_chunks WHERE doc_id = ?`, docID); err != nil {
		return fmt.Errorf("failed to clear chunks: %w", err)
	}
	if err := insertChunks(ctx, tx, docID, chunks); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `UPDATE documents SET chunk_count = ? WHERE id = ?`, len(chunks), docID)
	if err != nil {
		return fmt.Errorf("failed to update chunk count: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ragerr.New(ragerr.ErrNotFound, "document %s", docID)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit chunks: %w", err)
	}
	return nil
}

// LoadRawFile returns the uploaded bytes and the original filename.
func (c *Client) LoadRawFile(ctx context.Context, docID string) ([]byte, string, error) {
	doc, err := c.GetDocument(ctx, docID)
	if err != nil {
		return nil, "", err
	}
	if c.raw == nil {
		return nil, "", ragerr.New(ragerr.ErrNotFound, "no raw file storage configured")
	}
	data, err := c.raw.Load(ctx, doc.FileURL)
	if err != nil {
		return nil, "", err
	}
	return data, doc.Filename, nil
}

// AppendChatTurns assigns consecutive sequence numbers to turns, stores them
// in one transaction and returns the document's full history.
func (c *Client) AppendChatTurns(ctx context.Context, docID string, turns []models.ChatTurn) ([]models.ChatTurn, error) {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var next int
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) FROM chat_turns WHERE doc_id = ?`, docID).Scan(&next); err != nil {
		return nil, fmt.Errorf("failed to read chat sequence: %w", err)
	}

	for i := range turns {
		next++
		turn := &turns[i]
		if turn.ID == "" {
			turn.ID = uuid.New().String()
		}
		if turn.CreatedAt.IsZero() {
			turn.CreatedAt = time.Now().UTC()
		}
		turn.DocID = docID
		turn.Seq = next

		pages, sources, err := encodeTurnSources(turn)
		if err != nil {
			return nil, err
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO chat_turns (id, doc_id, seq, role, content, source_pages, sources, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			turn.ID,
			docID,
			turn.Seq,
			string(turn.Role),
			turn.Content,
			pages,
			sources,
			turn.CreatedAt.UnixMilli(),
		)
		if err != nil {
			if strings.Contains(err.Error(), "FOREIGN KEY") {
				return nil, ragerr.New(ragerr.ErrNotFound, "document %s", docID)
			}
			return nil, fmt.Errorf("failed to insert chat turn: %w", err)
		}
	}

	history, err := queryChatHistory(ctx, tx, docID)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit chat turns: %w", err)
	}
	return history, nil
}

func (c *Client) GetChatHistory(ctx context.Context, docID string) ([]models.ChatTurn, error) {
	return queryChatHistory(ctx, c.db, docID)
}

func (c *Client) CountChatTurns(ctx context.Context, docID string) (int, error) {
	var n int
	if err := c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chat_turns WHERE doc_id = ?`, docID).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count chat turns: %w", err)
	}
	return n, nil
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func queryChatHistory(ctx context.Context, q querier, docID string) ([]models.ChatTurn, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, doc_id, seq, role, content, source_pages, sources, created_at
		FROM chat_turns
		WHERE doc_id = ?
		ORDER BY seq`, docID)
	if err != nil {
		return nil, fmt.Errorf("failed to get chat history: %w", err)
	}
	defer rows.Close()

	history := []models.ChatTurn{}
	for rows.Next() {
		var turn models.ChatTurn
		var role string
		var pages, sources sql.NullString
		var createdAt int64

		if err := rows.Scan(&turn.ID, &turn.DocID, &turn.Seq, &role, &turn.Content, &pages, &sources, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		turn.Role = models.Role(role)
		turn.CreatedAt = time.UnixMilli(createdAt).UTC()

		if pages.Valid {
			if err := json.Unmarshal([]byte(pages.String), &turn.SourcePages); err != nil {
				return nil, fmt.Errorf("failed to decode source pages: %w", err)
			}
		}
		if sources.Valid {
			if err := json.Unmarshal([]byte(sources.String), &turn.Sources); err != nil {
				return nil, fmt.Errorf("failed to decode sources: %w", err)
			}
		}
		history = append(history, turn)
	}
	return history, rows.Err()
}

// encodeTurnSources leaves both columns NULL for user turns.
func encodeTurnSources(turn *models.ChatTurn) (sql.NullString, sql.NullString, error) {
	if turn.Role != models.RoleAssistant {
		return sql.NullString{}, sql.NullString{}, nil
	}
	pages := turn.SourcePages
	if pages == nil {
		pages = []int{}
	}
	sources := turn.Sources
	if sources == nil {
		sources = []models.Source{}
	}
	pagesJSON, err := json.Marshal(pages)
	if err != nil {
		return sql.NullString{}, sql.NullString{}, fmt.Errorf("failed to encode source pages: %w", err)
	}
	sourcesJSON, err := json.Marshal(sources)
	if err != nil {
		return sql.NullString{}, sql.NullString{}, fmt.Errorf("failed to encode sources: %w", err)
	}
	return sql.NullString{String: string(pagesJSON), Valid: true}, sql.NullString{String: string(sourcesJSON), Valid: true}, nil
}
