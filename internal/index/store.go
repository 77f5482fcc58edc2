package index

import (
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"

	_ "modernc.org/sqlite"
)

// chunkStore persists chunk rows in a sqlite database. The in-memory mirror
// in Index is rebuilt from here at startup; writes go through per-resource
// transactions so a partial failure never leaves half a resource indexed.
type chunkStore struct {
	db *sql.DB
}

const chunkSchema = `
CREATE TABLE IF NOT EXISTS chunks (
	resource_id TEXT NOT NULL,
	chunk_index INTEGER NOT NULL,
	chunk_text  TEXT NOT NULL,
	vector      BLOB NOT NULL,
	metadata    TEXT,
	PRIMARY KEY (resource_id, chunk_index)
);
CREATE INDEX IF NOT EXISTS idx_chunks_resource ON chunks(resource_id);
`

func openChunkStore(path string) (*chunkStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open chunk store: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(chunkSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init chunk schema: %w", err)
	}
	return &chunkStore{db: db}, nil
}

func (s *chunkStore) Close() error { return s.db.Close() }

// replaceResource swaps all chunks of one resource in a single transaction.
func (s *chunkStore) replaceResource(resourceID string, chunks []chunkRow) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM chunks WHERE resource_id = $1`, resourceID); err != nil {
		return fmt.Errorf("delete chunks: %w", err)
	}
	for _, c := range chunks {
		meta, _ := json.Marshal(c.Metadata)
		if _, err := tx.Exec(
			`INSERT INTO chunks (resource_id, chunk_index, chunk_text, vector, metadata)
			 VALUES ($1, $2, $3, $4, $5)`,
			c.ResourceID, c.ChunkIndex, c.Text, encodeVector(c.Vector), string(meta),
		); err != nil {
			return fmt.Errorf("insert chunk %d: %w", c.ChunkIndex, err)
		}
	}
	return tx.Commit()
}

func (s *chunkStore) deleteResource(resourceID string) error {
	_, err := s.db.Exec(`DELETE FROM chunks WHERE resource_id = $1`, resourceID)
	if err != nil {
		return fmt.Errorf("delete chunks: %w", err)
	}
	return nil
}

func (s *chunkStore) reset() error {
	_, err := s.db.Exec(`DELETE FROM chunks`)
	if err != nil {
		return fmt.Errorf("reset chunks: %w", err)
	}
	return nil
}

func (s *chunkStore) loadAll() ([]chunkRow, error) {
	rows, err := s.db.Query(
		`SELECT resource_id, chunk_index, chunk_text, vector, metadata
		 FROM chunks ORDER BY resource_id, chunk_index`)
	if err != nil {
		return nil, fmt.Errorf("load chunks: %w", err)
	}
	defer rows.Close()

	var out []chunkRow
	for rows.Next() {
		var c chunkRow
		var blob []byte
		var meta sql.NullString
		if err := rows.Scan(&c.ResourceID, &c.ChunkIndex, &c.Text, &blob, &meta); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		c.Vector = decodeVector(blob)
		if meta.Valid && meta.String != "" {
			_ = json.Unmarshal([]byte(meta.String), &c.Metadata)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Vectors are stored as little-endian float32 sequences.

func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(b []byte) []float32 {
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v
}
